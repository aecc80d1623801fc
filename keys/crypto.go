package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"hash"
)

// HashAlgorithm selects the RSA-OAEP hash.
type HashAlgorithm string

const (
	HashAlgorithmSHA256 HashAlgorithm = "SHA-256"
	// HashAlgorithmSHA1 exists for browser clients whose WebCrypto setup only offers SHA-1 OAEP.
	HashAlgorithmSHA1 HashAlgorithm = "SHA-1"
)

const (
	rsaKeyBits = 2048
	aesKeySize = 32
)

func GenerateRSAKeyPair() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate RSA key: %w", err)
	}
	return key, nil
}

// oaepHash maps a HashAlgorithm to a hash. The empty value means SHA-256.
func oaepHash(alg HashAlgorithm) (hash.Hash, error) {
	switch alg {
	case "", HashAlgorithmSHA256:
		return sha256.New(), nil
	case HashAlgorithmSHA1:
		return sha1.New(), nil
	}
	return nil, fmt.Errorf("unsupported hash algorithm %q", alg)
}

func aesGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// HybridCiphertext is an AES-256-GCM sealed payload whose key is wrapped with
// RSA-OAEP. Every field is standard base64.
type HybridCiphertext struct {
	WrappedKey string
	Payload    string
	Nonce      string
}

// EncryptHybrid seals plaintext for the holder of publicKey.
func EncryptHybrid(plaintext []byte, publicKey *rsa.PublicKey, alg HashAlgorithm) (*HybridCiphertext, error) {
	h, err := oaepHash(alg)
	if err != nil {
		return nil, err
	}

	key := make([]byte, aesKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate AES key: %w", err)
	}
	gcm, err := aesGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	wrapped, err := rsa.EncryptOAEP(h, rand.Reader, publicKey, key, nil)
	if err != nil {
		return nil, fmt.Errorf("wrap AES key: %w", err)
	}

	enc := base64.StdEncoding
	return &HybridCiphertext{
		WrappedKey: enc.EncodeToString(wrapped),
		Payload:    enc.EncodeToString(gcm.Seal(nil, nonce, plaintext, nil)),
		Nonce:      enc.EncodeToString(nonce),
	}, nil
}

// DecryptHybrid opens ct with privateKey. alg must match the one used to wrap the key.
func DecryptHybrid(ct HybridCiphertext, privateKey *rsa.PrivateKey, alg HashAlgorithm) ([]byte, error) {
	var wrapped, sealed, nonce []byte
	for _, field := range []struct {
		name string
		in   string
		out  *[]byte
	}{
		{"wrapped key", ct.WrappedKey, &wrapped},
		{"payload", ct.Payload, &sealed},
		{"nonce", ct.Nonce, &nonce},
	} {
		b, err := base64.StdEncoding.DecodeString(field.in)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", field.name, err)
		}
		*field.out = b
	}

	h, err := oaepHash(alg)
	if err != nil {
		return nil, err
	}
	key, err := rsa.DecryptOAEP(h, rand.Reader, privateKey, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("unwrap AES key: %w", err)
	}
	if len(key) != aesKeySize {
		return nil, fmt.Errorf("unwrapped key is %d bytes, want %d", len(key), aesKeySize)
	}

	gcm, err := aesGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("nonce is %d bytes, want %d", len(nonce), gcm.NonceSize())
	}
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("open payload: %w", err)
	}
	return plaintext, nil
}
