// Package receipts turns committed auction operations into a hash-linked
// sequence of COSE_Sign1 receipts signed by the daemon's receipt key.
package receipts

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/veraison/go-cose"
	"go.uber.org/zap"

	"github.com/cloudx-io/escrowauction/auctionapi"
	"github.com/cloudx-io/escrowauction/core"
	"github.com/cloudx-io/escrowauction/keys"
)

// Journal records a signed receipt for every accepted bid and for settlement.
// It implements core.Notifier.
type Journal struct {
	logger *zap.Logger
	signer cose.Signer
	now    func() time.Time

	mu       sync.RWMutex
	receipts []auctionapi.Receipt
	failures int
}

// Option configures a Journal.
type Option func(*Journal)

// WithClock overrides the receipt timestamp source.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) { j.now = now }
}

// NewJournal creates an empty journal signing with signer.
func NewJournal(logger *zap.Logger, signer cose.Signer, opts ...Option) (*Journal, error) {
	if signer == nil {
		return nil, fmt.Errorf("receipt signer is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	j := &Journal{
		logger: logger,
		signer: signer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// BidAccepted records a bid receipt.
func (j *Journal) BidAccepted(ev core.BidEvent) {
	nonce, err := keys.GenerateNonce()
	if err != nil {
		j.fail("bid", err)
		return
	}

	payload := auctionapi.ReceiptPayload{
		AuctionID: ev.AuctionID,
		Kind:      auctionapi.ReceiptBid,
		Bidder:    string(ev.Bidder),
		Amount:    ev.Amount.StringFixed(core.MonetaryPrecision),
		Hash:      core.ComputeBidHash(ev.AuctionID, ev.Bidder, ev.Amount, nonce),
		Nonce:     nonce,
	}
	if ev.PreviousBidder != "" {
		payload.PreviousBidder = string(ev.PreviousBidder)
		payload.Refund = ev.Refund.StringFixed(core.MonetaryPrecision)
	}
	j.append("bid", payload)
}

// Settled records the settlement receipt.
func (j *Journal) Settled(ev core.SettleEvent) {
	nonce, err := keys.GenerateNonce()
	if err != nil {
		j.fail("settlement", err)
		return
	}

	payload := auctionapi.ReceiptPayload{
		AuctionID:   ev.AuctionID,
		Kind:        auctionapi.ReceiptSettlement,
		Beneficiary: string(ev.Beneficiary),
		Winner:      string(ev.Winner),
		Payout:      ev.Payout.StringFixed(core.MonetaryPrecision),
		Asset:       ev.Asset,
		Hash:        core.ComputeSettlementHash(ev.AuctionID, ev.Beneficiary, ev.Winner, ev.Payout, nonce),
		Nonce:       nonce,
	}
	j.append("settlement", payload)
}

func (j *Journal) append(kind string, payload auctionapi.ReceiptPayload) {
	j.mu.Lock()
	defer j.mu.Unlock()

	payload.Seq = uint64(len(j.receipts)) + 1
	payload.ID = uuid.NewString()
	payload.IssuedAt = j.now().UnixMilli()
	if n := len(j.receipts); n > 0 {
		prev, err := j.receipts[n-1].COSEBase64.Decode()
		if err != nil {
			j.failLocked(kind, fmt.Errorf("decode previous receipt: %w", err))
			return
		}
		payload.PrevHash = auctionapi.ReceiptDigest(prev)
	}

	msg, err := Sign(j.signer, payload)
	if err != nil {
		j.failLocked(kind, err)
		return
	}

	j.receipts = append(j.receipts, auctionapi.Receipt{
		ReceiptPayload: payload,
		COSEBase64:     msg.EncodeBase64(),
	})
	j.logger.Info("receipt issued",
		zap.String("kind", kind),
		zap.Uint64("seq", payload.Seq),
		zap.String("auction_id", payload.AuctionID),
		zap.String("hash", payload.Hash))
}

func (j *Journal) fail(kind string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.failLocked(kind, err)
}

func (j *Journal) failLocked(kind string, err error) {
	j.failures++
	j.logger.Error("receipt not issued", zap.String("kind", kind), zap.Error(err))
}

// Receipts returns a copy of all receipts in issue order.
func (j *Journal) Receipts() []auctionapi.Receipt {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]auctionapi.Receipt, len(j.receipts))
	copy(out, j.receipts)
	return out
}

// Last returns the most recent receipt.
func (j *Journal) Last() (auctionapi.Receipt, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if len(j.receipts) == 0 {
		return auctionapi.Receipt{}, false
	}
	return j.receipts[len(j.receipts)-1], true
}

func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.receipts)
}

// Failures counts operations that committed without a receipt.
func (j *Journal) Failures() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.failures
}

// Sign encodes payload canonically and wraps it in a COSE_Sign1 message.
func Sign(signer cose.Signer, payload auctionapi.ReceiptPayload) (auctionapi.COSE, error) {
	body, err := auctionapi.MarshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encode receipt: %w", err)
	}
	headers := cose.Headers{
		Protected: cose.ProtectedHeader{
			cose.HeaderLabelAlgorithm: signer.Algorithm(),
		},
	}
	msg, err := cose.Sign1(rand.Reader, signer, headers, body, nil)
	if err != nil {
		return nil, fmt.Errorf("sign receipt: %w", err)
	}
	return auctionapi.COSE(msg), nil
}
