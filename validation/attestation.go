package validation

import (
	"crypto/x509"
	"fmt"

	"github.com/cloudx-io/escrowauction/auctionapi"
)

// Validator checks attestations against a set of trusted measurements and
// certificate roots.
type Validator struct {
	KnownPCRs []PCRSet
	Roots     *x509.CertPool
}

// NewValidator trusts the released image measurements and the AWS Nitro root.
func NewValidator() (*Validator, error) {
	known, err := DefaultPCRSets()
	if err != nil {
		return nil, err
	}
	roots, err := NitroRoots()
	if err != nil {
		return nil, err
	}
	return &Validator{KnownPCRs: known, Roots: roots}, nil
}

// validateCommon checks measurement, certificate chain and signature of a
// decoded attestation.
func (v *Validator) validateCommon(attestation auctionapi.COSE, doc auctionapi.AttestationDoc) *BaseValidationResult {
	result := &BaseValidationResult{ValidationDetails: []string{}}

	matched := MatchPCRs(doc.PCRs, v.KnownPCRs)
	result.PCRsValid = matched >= 0
	if result.PCRsValid {
		result.note("PCR measurements valid")
		result.note("Matched PCR set: #%d (build: %s)", matched, v.KnownPCRs[matched].BuildRef)
	} else {
		result.note("PCR0: %s (no match)", doc.PCRs.ImageFileHash)
		result.note("PCR1: %s (no match)", doc.PCRs.KernelHash)
		result.note("PCR2: %s (no match)", doc.PCRs.ApplicationHash)
	}

	switch {
	case doc.Certificate == "":
		result.note("Missing certificate")
	case len(doc.CABundle) == 0:
		result.note("Missing CA bundle")
	default:
		if err := ValidateCertificateChain(doc.Certificate, doc.CABundle, v.Roots, doc.Timestamp); err != nil {
			result.note("Certificate chain validation failed: %v", err)
		} else {
			result.CertificateValid = true
			result.note("Certificate chain verified")
		}
	}

	if err := VerifyAttestationSignature(attestation, doc.Certificate); err != nil {
		result.note("COSE signature verification failed: %v", err)
	} else {
		result.SignatureValid = true
		result.note("COSE signature verified")
	}

	return result
}

func decodeAttestation(attestationB64 auctionapi.COSEBase64) (auctionapi.COSE, error) {
	if attestationB64 == "" {
		return nil, fmt.Errorf("attestation is empty")
	}
	attestation, err := attestationB64.Decode()
	if err != nil {
		return nil, fmt.Errorf("decode COSE bytes: %w", err)
	}
	return attestation, nil
}
