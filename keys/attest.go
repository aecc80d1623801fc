package keys

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"

	"github.com/cloudx-io/escrowauction/auctionapi"
)

// EnclaveAttester interface for dependency injection and testing
type EnclaveAttester interface {
	Attest(options enclave.AttestationOptions) ([]byte, error)
}

// GetEnclaveAttester returns the NSM handle, or an error outside a Nitro enclave.
func GetEnclaveAttester() (EnclaveAttester, error) {
	handle, err := enclave.GetOrInitializeHandle()
	if err != nil {
		return nil, fmt.Errorf("NSM not available: %w", err)
	}
	return handle, nil
}

// GenerateNonce returns 32 random bytes, hex-encoded.
func GenerateNonce() (string, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("entropy generation failed: %w", err)
	}
	return hex.EncodeToString(randomBytes), nil
}

// KeyUserData describes the keys of km for embedding in an attestation.
func KeyUserData(km *KeyManager, auctionID string) (*auctionapi.KeyAttestationUserData, error) {
	signingPEM, err := km.SigningKeyPEM()
	if err != nil {
		return nil, err
	}
	encryptionPEM, err := km.EncryptionKeyPEM()
	if err != nil {
		return nil, err
	}
	return &auctionapi.KeyAttestationUserData{
		AuctionID:           auctionID,
		SigningAlgorithm:    SigningAlgorithm,
		SigningKey:          signingPEM,
		EncryptionAlgorithm: EncryptionAlgorithm,
		EncryptionKey:       encryptionPEM,
	}, nil
}

// GenerateKeyAttestation asks the attester for a document binding both public keys.
func GenerateKeyAttestation(attester EnclaveAttester, km *KeyManager, auctionID string) (auctionapi.COSE, error) {
	if attester == nil {
		return nil, fmt.Errorf("enclave attester is nil")
	}

	userData, err := KeyUserData(km, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to describe keys: %w", err)
	}
	userDataBytes, err := json.Marshal(userData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key user data: %w", err)
	}

	nonce, err := GenerateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate attestation nonce: %w", err)
	}

	attestationCBOR, err := attester.Attest(enclave.AttestationOptions{
		UserData: userDataBytes,
		Nonce:    []byte(nonce),
	})
	if err != nil {
		return nil, fmt.Errorf("NSM key attestation failed: %w", err)
	}
	return auctionapi.COSE(attestationCBOR), nil
}

// HandleKeyRequest builds the key response. Without an attester the keys are
// returned unattested, which is how the daemon runs outside an enclave.
func HandleKeyRequest(attester EnclaveAttester, km *KeyManager, auctionID string) (*auctionapi.KeyResponse, error) {
	userData, err := KeyUserData(km, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to export public keys: %w", err)
	}

	resp := &auctionapi.KeyResponse{
		Type:          auctionapi.TypeKeyResponse,
		AuctionID:     auctionID,
		SigningKey:    userData.SigningKey,
		EncryptionKey: userData.EncryptionKey,
	}
	if attester == nil {
		return resp, nil
	}

	attestation, err := GenerateKeyAttestation(attester, km, auctionID)
	if err != nil {
		return nil, err
	}
	doc, err := attestation.ParseKeyAttestation()
	if err != nil {
		return nil, fmt.Errorf("failed to parse own attestation: %w", err)
	}

	resp.KeyAttestation = doc
	resp.AttestationCOSEBase64 = attestation.EncodeBase64()
	return resp, nil
}
