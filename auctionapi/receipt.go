package auctionapi

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/cloudx-io/escrowauction/auctionapi/parsing"
	"github.com/cloudx-io/escrowauction/core"
)

// ReceiptKind distinguishes the two committed operations.
type ReceiptKind string

const (
	ReceiptBid        ReceiptKind = "bid"
	ReceiptSettlement ReceiptKind = "settlement"
)

// ReceiptPayload is the CBOR body signed into every receipt. Amounts are decimal
// strings with eight fractional digits so hashes and signatures are stable.
type ReceiptPayload struct {
	Seq       uint64      `cbor:"1,keyasint" json:"seq"`
	ID        string      `cbor:"2,keyasint" json:"id"`
	AuctionID string      `cbor:"3,keyasint" json:"auction_id"`
	Kind      ReceiptKind `cbor:"4,keyasint" json:"kind"`

	// Bid receipts.
	Bidder         string `cbor:"5,keyasint,omitempty" json:"bidder,omitempty"`
	Amount         string `cbor:"6,keyasint,omitempty" json:"amount,omitempty"`
	PreviousBidder string `cbor:"7,keyasint,omitempty" json:"previous_bidder,omitempty"`
	Refund         string `cbor:"8,keyasint,omitempty" json:"refund,omitempty"`

	// Settlement receipts.
	Beneficiary string      `cbor:"9,keyasint,omitempty" json:"beneficiary,omitempty"`
	Winner      string      `cbor:"10,keyasint,omitempty" json:"winner,omitempty"`
	Payout      string      `cbor:"11,keyasint,omitempty" json:"payout,omitempty"`
	Asset       *core.Asset `cbor:"12,keyasint,omitempty" json:"asset,omitempty"`

	// Hash commits to the receipt's economic content under Nonce.
	Hash  string `cbor:"13,keyasint" json:"hash"`
	Nonce string `cbor:"14,keyasint" json:"nonce"`

	// PrevHash is ReceiptDigest of the previous receipt, empty for the first.
	PrevHash string `cbor:"15,keyasint,omitempty" json:"prev_hash,omitempty"`

	// IssuedAt is Unix milliseconds.
	IssuedAt int64 `cbor:"16,keyasint" json:"issued_at"`
}

// Receipt is a signed receipt as served to clients: the decoded payload for
// convenience and the COSE_Sign1 message that is the actual evidence.
type Receipt struct {
	ReceiptPayload
	COSEBase64 COSEBase64 `json:"cose_base64"`
}

// receiptEncMode produces canonical CBOR so a payload always encodes to the same bytes.
var receiptEncMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("receipt cbor mode: %v", err))
	}
	return em
}()

// MarshalPayload encodes p as canonical CBOR.
func MarshalPayload(p ReceiptPayload) ([]byte, error) {
	return receiptEncMode.Marshal(p)
}

// UnmarshalPayload decodes a CBOR receipt body.
func UnmarshalPayload(data []byte) (ReceiptPayload, error) {
	var p ReceiptPayload
	if err := cbor.Unmarshal(data, &p); err != nil {
		return ReceiptPayload{}, fmt.Errorf("decode receipt payload: %w", err)
	}
	return p, nil
}

// ParseReceipt extracts the payload from a receipt without checking its signature.
func (c COSE) ParseReceipt() (ReceiptPayload, error) {
	payload, err := parsing.ExtractCOSEPayload(c)
	if err != nil {
		return ReceiptPayload{}, err
	}
	return UnmarshalPayload(payload)
}

// ReceiptDigest is the hex SHA-256 of the raw COSE bytes of a receipt.
// The next receipt carries it as PrevHash.
func ReceiptDigest(c COSE) string {
	sum := sha256.Sum256(c)
	return hex.EncodeToString(sum[:])
}
