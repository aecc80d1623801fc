package validation

import (
	"fmt"
	"strings"

	"github.com/cloudx-io/escrowauction/auctionapi"
)

// ValidateKeyResponse validates the attestation carried by a key response and
// checks that it binds the keys and auction id the response advertises.
//
// The returned error is reserved for inputs that cannot be checked at all, such
// as a missing or malformed attestation. Failed checks are reported in the
// result; call result.IsValid() for the overall verdict.
func (v *Validator) ValidateKeyResponse(resp *auctionapi.KeyResponse) (*KeyValidationResult, error) {
	if resp == nil {
		return nil, fmt.Errorf("key response is nil")
	}
	attestation, err := decodeAttestation(resp.AttestationCOSEBase64)
	if err != nil {
		return nil, err
	}

	keyAttestation, err := attestation.ParseKeyAttestation()
	if err != nil {
		return nil, fmt.Errorf("failed to parse attestation from attestation_cose_base64: %w", err)
	}

	result := &KeyValidationResult{
		BaseValidationResult: *v.validateCommon(attestation, keyAttestation.AttestationDoc),
	}

	attested := keyAttestation.UserData
	if attested == nil || attested.SigningKey == "" {
		result.note("Signing key missing from attestation")
	} else {
		result.SigningKeyMatch = samePEM(resp.SigningKey, attested.SigningKey)
		result.note("Signing key matches attestation: %v", result.SigningKeyMatch)
	}

	if attested == nil || attested.EncryptionKey == "" {
		result.note("Encryption key missing from attestation")
	} else {
		result.EncryptionKeyMatch = samePEM(resp.EncryptionKey, attested.EncryptionKey)
		result.note("Encryption key matches attestation: %v", result.EncryptionKeyMatch)
	}

	if attested != nil && attested.AuctionID == resp.AuctionID {
		result.AuctionIDMatch = true
		result.note("Auction id %q matches attestation", resp.AuctionID)
	} else {
		result.note("Auction id %q does not match attestation", resp.AuctionID)
	}

	return result, nil
}

// ValidateKeyResponse validates resp with the released measurements and the
// AWS Nitro root.
func ValidateKeyResponse(resp *auctionapi.KeyResponse) (*KeyValidationResult, error) {
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	return v.ValidateKeyResponse(resp)
}

// PEM encoders differ in trailing newlines.
func samePEM(a, b string) bool {
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}
