package validation

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/escrowauction/auctionapi"
	"github.com/cloudx-io/escrowauction/core"
)

// VerifyReceipt checks the ES256 signature of a receipt and returns its payload.
func VerifyReceipt(receipt auctionapi.COSE, key *ecdsa.PublicKey) (auctionapi.ReceiptPayload, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(receipt); err != nil {
		return auctionapi.ReceiptPayload{}, fmt.Errorf("decode receipt: %w", err)
	}
	verifier, err := cose.NewVerifier(cose.AlgorithmES256, key)
	if err != nil {
		return auctionapi.ReceiptPayload{}, fmt.Errorf("create verifier: %w", err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return auctionapi.ReceiptPayload{}, fmt.Errorf("receipt signature verification failed: %w", err)
	}
	return auctionapi.UnmarshalPayload(msg.Payload)
}

// chainReplay is the auction state rebuilt from receipts.
type chainReplay struct {
	result *ReceiptChainResult

	leader    string
	leaderAmt decimal.Decimal
	hasLeader bool

	accepted decimal.Decimal
	refunded decimal.Decimal
	paidOut  decimal.Decimal
}

// ValidateReceiptChain verifies every receipt of one auction, in issue order,
// and replays them to check the auction rules held: receipts are contiguous and
// hash-linked, each bid beats the last and refunds the previous leader in full,
// settlement comes last and pays the final bid to the beneficiary.
//
// The error is reserved for chains that cannot be decoded at all.
func ValidateReceiptChain(chain []auctionapi.COSE, key *ecdsa.PublicKey) (*ReceiptChainResult, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("no receipts to validate")
	}
	if key == nil {
		return nil, fmt.Errorf("receipt verification key is nil")
	}

	r := &chainReplay{
		result: &ReceiptChainResult{
			Receipts:         len(chain),
			SignaturesValid:  true,
			SequenceValid:    true,
			LinksValid:       true,
			HashesValid:      true,
			BidsAscending:    true,
			RefundsValid:     true,
			SettlementValid:  true,
			ConservationHeld: true,
		},
		leaderAmt: decimal.Zero,
		accepted:  decimal.Zero,
		refunded:  decimal.Zero,
		paidOut:   decimal.Zero,
	}
	res := r.result

	prevDigest := ""
	for i, raw := range chain {
		payload, err := VerifyReceipt(raw, key)
		if err != nil {
			res.SignaturesValid = false
			res.note("Receipt %d: %v", i+1, err)
			// Keep replaying the unverified body so later checks still report.
			payload, err = raw.ParseReceipt()
			if err != nil {
				return nil, fmt.Errorf("receipt %d: %w", i+1, err)
			}
		}

		if payload.Seq != uint64(i+1) {
			res.SequenceValid = false
			res.note("Receipt %d: sequence number %d out of order", i+1, payload.Seq)
		}
		if i == 0 {
			res.AuctionID = payload.AuctionID
		} else if payload.AuctionID != res.AuctionID {
			res.SequenceValid = false
			res.note("Receipt %d: belongs to auction %q, not %q", i+1, payload.AuctionID, res.AuctionID)
		}
		if payload.PrevHash != prevDigest {
			res.LinksValid = false
			res.note("Receipt %d: previous hash %q does not match %q", i+1, payload.PrevHash, prevDigest)
		}
		if res.Settled {
			res.SettlementValid = false
			res.note("Receipt %d: issued after settlement", i+1)
		}

		switch payload.Kind {
		case auctionapi.ReceiptBid:
			r.replayBid(i+1, payload)
		case auctionapi.ReceiptSettlement:
			r.replaySettlement(i+1, payload)
		default:
			res.SequenceValid = false
			res.note("Receipt %d: unknown kind %q", i+1, payload.Kind)
		}

		r.checkConservation(i + 1)
		prevDigest = auctionapi.ReceiptDigest(raw)
	}

	res.Leader = r.leader
	res.HeldFunds = r.held().StringFixed(core.MonetaryPrecision)
	if res.IsValid() {
		res.note("Receipt chain verified: %d receipts", len(chain))
	}
	return res, nil
}

func (r *chainReplay) replayBid(n int, p auctionapi.ReceiptPayload) {
	res := r.result
	amount, err := decimal.NewFromString(p.Amount)
	if err != nil {
		res.BidsAscending = false
		res.note("Receipt %d: malformed amount %q", n, p.Amount)
		return
	}

	if core.ComputeBidHash(p.AuctionID, core.Identity(p.Bidder), amount, p.Nonce) != p.Hash {
		res.HashesValid = false
		res.note("Receipt %d: bid hash does not match contents", n)
	}

	if r.hasLeader {
		if !amount.GreaterThan(r.leaderAmt) {
			res.BidsAscending = false
			res.note("Receipt %d: bid %s does not exceed %s", n, p.Amount, r.leaderAmt.StringFixed(core.MonetaryPrecision))
		}
		if p.Bidder == r.leader {
			res.BidsAscending = false
			res.note("Receipt %d: leader %s outbid themselves", n, p.Bidder)
		}
		refund, err := decimal.NewFromString(p.Refund)
		if err != nil || p.PreviousBidder != r.leader || !refund.Equal(r.leaderAmt) {
			res.RefundsValid = false
			res.note("Receipt %d: expected refund of %s to %s, got %q to %q",
				n, r.leaderAmt.StringFixed(core.MonetaryPrecision), r.leader, p.Refund, p.PreviousBidder)
		} else {
			r.refunded = r.refunded.Add(refund)
		}
	} else if p.PreviousBidder != "" {
		res.RefundsValid = false
		res.note("Receipt %d: first bid refunds %q", n, p.PreviousBidder)
	}

	r.accepted = r.accepted.Add(amount)
	r.leader = p.Bidder
	r.leaderAmt = amount
	r.hasLeader = true
}

func (r *chainReplay) replaySettlement(n int, p auctionapi.ReceiptPayload) {
	res := r.result
	payout, err := decimal.NewFromString(p.Payout)
	if err != nil {
		res.SettlementValid = false
		res.note("Receipt %d: malformed payout %q", n, p.Payout)
		return
	}

	if core.ComputeSettlementHash(p.AuctionID, core.Identity(p.Beneficiary), core.Identity(p.Winner), payout, p.Nonce) != p.Hash {
		res.HashesValid = false
		res.note("Receipt %d: settlement hash does not match contents", n)
	}

	switch {
	case r.hasLeader && (p.Winner != r.leader || !payout.Equal(r.leaderAmt)):
		res.SettlementValid = false
		res.note("Receipt %d: expected %s to win paying %s, got %q paying %s",
			n, r.leader, r.leaderAmt.StringFixed(core.MonetaryPrecision), p.Winner, p.Payout)
	case !r.hasLeader && (p.Winner != "" || !payout.IsZero()):
		res.SettlementValid = false
		res.note("Receipt %d: settlement without bids names winner %q paying %s", n, p.Winner, p.Payout)
	case !r.hasLeader && p.Asset != nil:
		res.SettlementValid = false
		res.note("Receipt %d: settlement without bids hands over asset %s/%s", n, p.Asset.Registry, p.Asset.TokenID)
	default:
		res.note("Settlement: %s paid %s", p.Beneficiary, payout.StringFixed(core.MonetaryPrecision))
	}

	r.paidOut = r.paidOut.Add(payout)
	res.Settled = true
}

// held is the balance the auction should still hold.
func (r *chainReplay) held() decimal.Decimal {
	if !r.hasLeader || r.result.Settled {
		return decimal.Zero
	}
	return r.leaderAmt
}

func (r *chainReplay) checkConservation(n int) {
	inCustody := r.accepted.Sub(r.refunded).Sub(r.paidOut)
	if !inCustody.Equal(r.held()) {
		r.result.ConservationHeld = false
		r.result.note("Receipt %d: custody holds %s but auction accounts for %s",
			n, inCustody.StringFixed(core.MonetaryPrecision), r.held().StringFixed(core.MonetaryPrecision))
	}
}
