// Package auctionapi defines the wire types shared by the auction daemon, its
// clients and the offline validators.
package auctionapi

import (
	"time"

	"github.com/cloudx-io/escrowauction/core"
)

// Request and response type tags used on the socket API.
const (
	TypePing         = "ping"
	TypePong         = "pong"
	TypeStatus       = "status"
	TypeBid          = "bid"
	TypeSettle       = "settle"
	TypeKeyRequest   = "key_request"
	TypeKeyResponse  = "key_response"
	TypeReceipts     = "receipts"
	TypeError        = "error"
	TypeBidResult    = "bid_result"
	TypeSettleResult = "settle_result"
)

// EncryptedAmount carries a bid amount encrypted with RSA-OAEP/AES-256-GCM to the
// daemon's encryption key, so the amount is only ever decrypted inside the daemon.
type EncryptedAmount struct {
	AESKeyEncrypted  string `json:"aes_key_encrypted"`        // base64-encoded RSA-OAEP encrypted AES key
	EncryptedPayload string `json:"encrypted_payload"`        // base64-encoded AES-GCM encrypted {"amount": "X"}
	Nonce            string `json:"nonce"`                    // base64-encoded GCM nonce (12 bytes)
	HashAlgorithm    string `json:"hash_algorithm,omitempty"` // Optional: "SHA-256" (default) or "SHA-1" for RSA-OAEP
}

// BidRequest places a bid. Exactly one of Amount and EncryptedAmount is set.
type BidRequest struct {
	Amount          string           `json:"amount,omitempty"`
	EncryptedAmount *EncryptedAmount `json:"encrypted_amount,omitempty"`
}

// Request is the envelope for the socket API. Caller is taken as given; the
// parent process must authenticate it before forwarding the request.
type Request struct {
	Type   string `json:"type"`
	Caller string `json:"caller,omitempty"`
	BidRequest
}

// AuctionStatus is the externally visible auction state.
type AuctionStatus struct {
	Type        string      `json:"type,omitempty"`
	AuctionID   string      `json:"auction_id"`
	Beneficiary string      `json:"beneficiary"`
	MinimumBid  string      `json:"minimum_bid"`
	MaxBidder   string      `json:"max_bidder"`
	HeldFunds   string      `json:"held_funds"`
	Ended       bool        `json:"ended"`
	Asset       *core.Asset `json:"asset,omitempty"`
}

// BidResponse is returned for an accepted bid.
type BidResponse struct {
	Type    string        `json:"type"`
	Status  AuctionStatus `json:"status"`
	Receipt *Receipt      `json:"receipt,omitempty"`
}

// SettleResponse is returned for a successful settlement.
type SettleResponse struct {
	Type    string        `json:"type"`
	Status  AuctionStatus `json:"status"`
	Receipt *Receipt      `json:"receipt,omitempty"`
}

// ErrorResponse reports a rejected request. Code is a stable machine-readable reason.
type ErrorResponse struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BalanceResponse reports a custody balance.
type BalanceResponse struct {
	Identity string `json:"identity"`
	Balance  string `json:"balance"`
}

// ReceiptsResponse lists the signed receipts in sequence order.
type ReceiptsResponse struct {
	Type     string    `json:"type"`
	Receipts []Receipt `json:"receipts"`
}

// PCRs represents the Platform Configuration Registers from AWS Nitro Enclaves
type PCRs struct {
	// PCR0: Hash of the Enclave Image File (EIF)
	ImageFileHash string `json:"0"`

	// PCR1: Hash of the Linux kernel and initial RAM data (initramfs)
	KernelHash string `json:"1"`

	// PCR2: Hash of user applications, excluding the boot ramfs
	ApplicationHash string `json:"2"`

	// PCR3: Hash of the IAM role assigned to the parent instance
	IAMRoleHash string `json:"3"`

	// PCR4: Hash of the parent instance's ID
	InstanceIDHash string `json:"4"`

	// PCR8: Hash of the enclave image file's signing certificate
	SigningCertHash string `json:"8,omitempty"`
}

// AttestationDoc represents the structured attestation data from AWS Nitro Enclaves.
type AttestationDoc struct {
	ModuleID        string    `json:"module_id"`
	Timestamp       time.Time `json:"timestamp"`
	DigestAlgorithm string    `json:"digest"`
	PCRs            PCRs      `json:"pcrs"`

	// Certificate is the base64 DER leaf certificate that signed the document.
	Certificate string `json:"certificate"`

	// CABundle holds the base64 DER intermediates, root first.
	CABundle []string `json:"cabundle"`

	PublicKey string `json:"public_key"`
	Nonce     string `json:"nonce"`
}

// KeyAttestationUserData is embedded in the key attestation. It binds both
// daemon keys to the enclave measurement and to the auction they serve.
type KeyAttestationUserData struct {
	AuctionID           string `json:"auction_id"`
	SigningAlgorithm    string `json:"signing_algorithm"`    // "ES256"
	SigningKey          string `json:"signing_key"`          // PEM-encoded receipt verification key
	EncryptionAlgorithm string `json:"encryption_algorithm"` // "RSA-2048"
	EncryptionKey       string `json:"encryption_key"`       // PEM-encoded bid encryption key
}

// KeyAttestationDoc represents attestation specifically for key distribution
type KeyAttestationDoc struct {
	AttestationDoc
	UserData *KeyAttestationUserData `json:"user_data"`
}

// KeyResponse is returned by GET /key and the key_request socket call.
type KeyResponse struct {
	Type                  string             `json:"type"`
	AuctionID             string             `json:"auction_id"`
	SigningKey            string             `json:"signing_key"`    // PEM format
	EncryptionKey         string             `json:"encryption_key"` // PEM format
	KeyAttestation        *KeyAttestationDoc `json:"key_attestation,omitempty"`
	AttestationCOSEBase64 COSEBase64         `json:"attestation_cose_base64,omitempty"`
}
