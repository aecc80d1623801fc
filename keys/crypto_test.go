package keys

import (
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestGenerateRSAKeyPair(t *testing.T) {
	privateKey, err := GenerateRSAKeyPair()
	assert.NoError(t, err)
	assert.Equal(t, 2048, privateKey.N.BitLen())
}

func TestHybridRoundTrip(t *testing.T) {
	privateKey, err := GenerateRSAKeyPair()
	assert.NoError(t, err)

	plaintexts := map[string][]byte{
		"amount json": []byte(`{"amount":"12.5"}`),
		"empty":       []byte(""),
		"large":       make([]byte, 8192),
	}

	for _, hashAlg := range []HashAlgorithm{HashAlgorithmSHA256, HashAlgorithmSHA1, ""} {
		for name, plaintext := range plaintexts {
			t.Run(string(hashAlg)+"/"+name, func(t *testing.T) {
				ct, err := EncryptHybrid(plaintext, &privateKey.PublicKey, hashAlg)
				assert.NoError(t, err)

				decrypted, err := DecryptHybrid(*ct, privateKey, hashAlg)
				assert.NoError(t, err)
				check.Equal(t, string(plaintext), string(decrypted))
			})
		}
	}
}

func TestDecryptHybrid_Failures(t *testing.T) {
	privateKey, err := GenerateRSAKeyPair()
	assert.NoError(t, err)
	otherKey, err := GenerateRSAKeyPair()
	assert.NoError(t, err)

	good, err := EncryptHybrid([]byte(`{"amount":"1"}`), &privateKey.PublicKey, HashAlgorithmSHA256)
	assert.NoError(t, err)
	forOther, err := EncryptHybrid([]byte(`{"amount":"1"}`), &otherKey.PublicKey, HashAlgorithmSHA256)
	assert.NoError(t, err)

	tests := []struct {
		name    string
		ct      HybridCiphertext
		hashAlg HashAlgorithm
	}{
		{"invalid base64 key", HybridCiphertext{"!!", good.Payload, good.Nonce}, ""},
		{"invalid base64 payload", HybridCiphertext{good.WrappedKey, "!!", good.Nonce}, ""},
		{"invalid base64 nonce", HybridCiphertext{good.WrappedKey, good.Payload, "!!"}, ""},
		{"short nonce", HybridCiphertext{good.WrappedKey, good.Payload, "AAAA"}, ""},
		{"wrong recipient", *forOther, ""},
		{"hash mismatch", *good, HashAlgorithmSHA1},
		{"tampered payload", HybridCiphertext{good.WrappedKey, forOther.Payload, good.Nonce}, ""},
		{"unknown hash", *good, "MD5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecryptHybrid(tt.ct, privateKey, tt.hashAlg)
			check.Error(t, err)
		})
	}
}
