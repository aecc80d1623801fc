package core

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// EscrowVault holds the leader's funds. On every accepted bid it refunds the
// displaced leader and takes custody of the new leader's funds.
//
// Ledger state is committed before any transfer is issued, so a call made from
// inside a transfer observes the post-bid state. If any transfer fails the ledger
// is restored and the custody batch is rolled back.
type EscrowVault struct {
	state   *State
	ledger  *BidLedger
	custody Custody
}

// NewEscrowVault returns a vault over state backed by custody.
func NewEscrowVault(state *State, ledger *BidLedger, custody Custody) *EscrowVault {
	return &EscrowVault{
		state:   state,
		ledger:  ledger,
		custody: custody,
	}
}

// AcceptBid validates and records the bid, refunds the previous leader and collects
// amount from bidder. It returns the displaced lead for notifications.
func (v *EscrowVault) AcceptBid(ctx context.Context, bidder Identity, amount decimal.Decimal) (previousLead, error) {
	if err := v.ledger.Validate(bidder, amount); err != nil {
		return previousLead{}, err
	}

	tx, err := v.custody.Begin(ctx)
	if err != nil {
		return previousLead{}, fmt.Errorf("%w: open custody batch: %v", ErrTransferFailure, err)
	}
	defer func() { _ = tx.Rollback() }()

	snapshot := *v.state
	prev, err := v.ledger.PlaceBid(bidder, amount)
	if err != nil {
		return previousLead{}, err
	}

	restore := func(cause error) (previousLead, error) {
		*v.state = snapshot
		_ = tx.Rollback()
		return previousLead{}, cause
	}

	if prev.exists {
		if err := tx.Transfer(ctx, prev.bidder, prev.amount); err != nil {
			return restore(fmt.Errorf("%w: refund %s to %s: %v", ErrTransferFailure, prev.amount, prev.bidder, err))
		}
	}

	if err := tx.Collect(ctx, bidder, v.state.HeldFunds); err != nil {
		return restore(fmt.Errorf("%w: collect %s from %s: %v", ErrTransferFailure, v.state.HeldFunds, bidder, err))
	}

	if err := tx.Commit(); err != nil {
		return restore(fmt.Errorf("%w: commit bid: %v", ErrTransferFailure, err))
	}

	return prev, nil
}
