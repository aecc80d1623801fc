// Package keys holds the daemon's key material: an ECDSA P-256 key that signs
// receipts and an RSA key that bidders use to encrypt amounts. Both are bound
// to the enclave measurement by a Nitro attestation.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/escrowauction/auctionapi"
	"github.com/cloudx-io/escrowauction/core"
)

const (
	SigningAlgorithm    = "ES256"
	EncryptionAlgorithm = "RSA-2048"
)

// ErrDecryptAmount is returned when an encrypted amount cannot be opened.
var ErrDecryptAmount = errors.New("cannot decrypt bid amount")

// KeyManager owns the daemon's private keys. Private halves never leave it.
type KeyManager struct {
	signingKey    *ecdsa.PrivateKey
	encryptionKey *rsa.PrivateKey
}

// NewKeyManager generates fresh signing and encryption keys.
func NewKeyManager() (*KeyManager, error) {
	signingKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	encryptionKey, err := GenerateRSAKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}
	return &KeyManager{signingKey: signingKey, encryptionKey: encryptionKey}, nil
}

// SigningPublicKey returns the receipt verification key.
func (km *KeyManager) SigningPublicKey() *ecdsa.PublicKey {
	return &km.signingKey.PublicKey
}

// EncryptionPublicKey returns the key bidders encrypt amounts to.
func (km *KeyManager) EncryptionPublicKey() *rsa.PublicKey {
	return &km.encryptionKey.PublicKey
}

// SigningKeyPEM returns the receipt verification key in PEM format.
func (km *KeyManager) SigningKeyPEM() (string, error) {
	return PublicKeyToPEM(km.SigningPublicKey())
}

// EncryptionKeyPEM returns the bid encryption key in PEM format.
func (km *KeyManager) EncryptionKeyPEM() (string, error) {
	return PublicKeyToPEM(km.EncryptionPublicKey())
}

// Signer returns a COSE ES256 signer over the signing key.
func (km *KeyManager) Signer() (cose.Signer, error) {
	return cose.NewSigner(cose.AlgorithmES256, km.signingKey)
}

// amountPayload is the plaintext of an encrypted amount.
type amountPayload struct {
	Amount string `json:"amount"`
}

// DecryptAmount opens an encrypted bid amount.
func (km *KeyManager) DecryptAmount(enc auctionapi.EncryptedAmount) (decimal.Decimal, error) {
	plaintext, err := DecryptHybrid(HybridCiphertext{
		WrappedKey: enc.AESKeyEncrypted,
		Payload:    enc.EncryptedPayload,
		Nonce:      enc.Nonce,
	}, km.encryptionKey, HashAlgorithm(enc.HashAlgorithm))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrDecryptAmount, err)
	}

	var payload amountPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return decimal.Zero, fmt.Errorf("%w: parse payload: %v", ErrDecryptAmount, err)
	}
	amount, err := core.ParseAmount(payload.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrDecryptAmount, err)
	}
	return amount, nil
}

// EncryptAmount builds an encrypted amount for the given encryption key.
// Clients use it; the daemon only decrypts.
func EncryptAmount(amount decimal.Decimal, publicKey *rsa.PublicKey, hashAlg HashAlgorithm) (*auctionapi.EncryptedAmount, error) {
	plaintext, err := json.Marshal(amountPayload{Amount: amount.String()})
	if err != nil {
		return nil, err
	}
	ct, err := EncryptHybrid(plaintext, publicKey, hashAlg)
	if err != nil {
		return nil, err
	}
	return &auctionapi.EncryptedAmount{
		AESKeyEncrypted:  ct.WrappedKey,
		EncryptedPayload: ct.Payload,
		Nonce:            ct.Nonce,
		HashAlgorithm:    string(hashAlg),
	}, nil
}

// PublicKeyToPEM encodes a public key as a PKIX PEM block.
func PublicKeyToPEM(publicKey crypto.PublicKey) (string, error) {
	derBytes, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	pemBlock := &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: derBytes,
	}
	return string(pem.EncodeToMemory(pemBlock)), nil
}

// ParseECDSAPublicKeyPEM decodes a PKIX PEM block holding an ECDSA key.
func ParseECDSAPublicKeyPEM(data []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, not ECDSA", parsed)
	}
	return key, nil
}

// ParseRSAPublicKeyPEM decodes a PKIX PEM block holding an RSA key.
func ParseRSAPublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, not RSA", parsed)
	}
	return key, nil
}
