package validation

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/escrowauction/auctionapi"
	"github.com/cloudx-io/escrowauction/auctionapi/parsing"
)

// VerifyAttestationSignature checks the ES384 signature of a Nitro attestation
// against the public key of its embedded leaf certificate.
//
// Nitro emits an untagged COSE_Sign1 array, so the Sig_structure is rebuilt by
// hand instead of going through cose.Sign1Message.
func VerifyAttestationSignature(attestation auctionapi.COSE, certB64 string) error {
	cert, err := parseCertificateB64(certB64)
	if err != nil {
		return fmt.Errorf("certificate: %w", err)
	}
	ecdsaKey, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("certificate public key is not ECDSA")
	}

	parts, err := parsing.SplitCOSESign1(attestation)
	if err != nil {
		return err
	}

	// Sig_structure for COSE_Sign1: ["Signature1", protected, external_aad, payload]
	sigStructure, err := cbor.Marshal([]any{
		"Signature1",
		parts.Protected,
		[]byte{},
		parts.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal Sig_structure: %w", err)
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES384, ecdsaKey)
	if err != nil {
		return fmt.Errorf("create verifier: %w", err)
	}
	if err := verifier.Verify(sigStructure, parts.Signature); err != nil {
		return fmt.Errorf("COSE signature verification failed: %w", err)
	}
	return nil
}
