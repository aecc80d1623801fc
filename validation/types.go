package validation

import "fmt"

// BaseValidationResult holds the checks shared by every attestation:
// measurement, certificate chain and document signature.
type BaseValidationResult struct {
	PCRsValid         bool
	CertificateValid  bool
	SignatureValid    bool
	ValidationDetails []string
}

func (r *BaseValidationResult) note(format string, args ...any) {
	r.ValidationDetails = append(r.ValidationDetails, fmt.Sprintf(format, args...))
}

// KeyValidationResult adds the checks that bind the daemon's public keys to
// the attested enclave.
type KeyValidationResult struct {
	BaseValidationResult
	SigningKeyMatch    bool
	EncryptionKeyMatch bool
	AuctionIDMatch     bool
}

// IsValid returns true if all key validation checks passed
func (r *KeyValidationResult) IsValid() bool {
	return r.PCRsValid && r.CertificateValid && r.SignatureValid &&
		r.SigningKeyMatch && r.EncryptionKeyMatch && r.AuctionIDMatch
}

// ReceiptChainResult reports on a sequence of auction receipts.
type ReceiptChainResult struct {
	Receipts int

	SignaturesValid  bool
	SequenceValid    bool
	LinksValid       bool
	HashesValid      bool
	BidsAscending    bool
	RefundsValid     bool
	SettlementValid  bool
	ConservationHeld bool

	// Derived auction state after the last receipt.
	AuctionID string
	Leader    string
	HeldFunds string
	Settled   bool

	ValidationDetails []string
}

func (r *ReceiptChainResult) note(format string, args ...any) {
	r.ValidationDetails = append(r.ValidationDetails, fmt.Sprintf(format, args...))
}

// IsValid returns true if every receipt verified and the chain is consistent.
func (r *ReceiptChainResult) IsValid() bool {
	return r.Receipts > 0 && r.SignaturesValid && r.SequenceValid && r.LinksValid &&
		r.HashesValid && r.BidsAscending && r.RefundsValid && r.SettlementValid && r.ConservationHeld
}

// PCRSet represents a known-good set of PCR measurements
type PCRSet struct {
	PCR0     string `json:"pcr0"`
	PCR1     string `json:"pcr1"`
	PCR2     string `json:"pcr2"`
	BuildRef string `json:"build_ref"` // source revision the enclave image was built from
}

// PCRConfig represents the PCR configuration file structure
type PCRConfig struct {
	PCRSets []PCRSet `json:"pcr_sets"`
}
