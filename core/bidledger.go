package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// previousLead is the lead displaced by an accepted bid.
type previousLead struct {
	bidder Identity
	amount decimal.Decimal
	exists bool
}

// BidLedger validates bids and records the leading bid. It never moves funds.
type BidLedger struct {
	state *State
}

// NewBidLedger returns a ledger operating on state.
func NewBidLedger(state *State) *BidLedger {
	return &BidLedger{state: state}
}

// Validate checks a bid against the current state without changing it.
func (l *BidLedger) Validate(bidder Identity, amount decimal.Decimal) error {
	s := l.state
	if s.Ended {
		return ErrAuctionClosed
	}
	if bidder == "" {
		return fmt.Errorf("%w: empty bidder", ErrInvalidBid)
	}
	if bidder == s.Beneficiary {
		// With no bids the beneficiary is the reported max bidder, so this is
		// also a duplicate bid.
		if !s.HasLeader {
			return fmt.Errorf("%w: %w", ErrBeneficiaryBid, ErrDuplicateBidder)
		}
		return ErrBeneficiaryBid
	}
	if !BidExceedsMinimum(amount, s.MinimumBid) {
		return fmt.Errorf("%w: %s does not exceed %s", ErrInvalidBid, amount, s.MinimumBid)
	}
	if s.HasLeader && s.Leader == bidder {
		return ErrDuplicateBidder
	}
	return nil
}

// PlaceBid validates the bid and commits the new leader, minimum bid and held funds.
// It returns the displaced lead so the escrow can refund it.
func (l *BidLedger) PlaceBid(bidder Identity, amount decimal.Decimal) (previousLead, error) {
	if err := l.Validate(bidder, amount); err != nil {
		return previousLead{}, err
	}

	s := l.state
	prev := previousLead{
		bidder: s.Leader,
		amount: s.HeldFunds,
		exists: s.HasLeader,
	}

	amount = NormalizeAmount(amount)
	s.Leader = bidder
	s.HasLeader = true
	s.MinimumBid = amount
	s.HeldFunds = amount

	return prev, nil
}
