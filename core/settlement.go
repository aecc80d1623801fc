package core

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// authorize is the capability check for settlement.
func authorize(caller, beneficiary Identity) error {
	if caller == "" || caller != beneficiary {
		return ErrUnauthorized
	}
	return nil
}

// SettlementEngine closes the auction exactly once on behalf of the beneficiary.
type SettlementEngine struct {
	state   *State
	custody Custody
	assets  AssetTransfer
}

// NewSettlementEngine returns an engine over state. assets may be nil when the
// auction holds no asset.
func NewSettlementEngine(state *State, custody Custody, assets AssetTransfer) *SettlementEngine {
	return &SettlementEngine{
		state:   state,
		custody: custody,
		assets:  assets,
	}
}

// Settle ends the auction, pays the held funds to the beneficiary and hands the
// asset to the winner. With no bids it only ends the auction.
func (e *SettlementEngine) Settle(ctx context.Context, caller Identity) (SettleEvent, error) {
	s := e.state
	if err := authorize(caller, s.Beneficiary); err != nil {
		return SettleEvent{}, err
	}
	if s.Ended {
		return SettleEvent{}, ErrAlreadySettled
	}
	if s.HasLeader && s.Asset != nil && e.assets == nil {
		return SettleEvent{}, fmt.Errorf("%w: no asset transfer configured for %s/%s", ErrTransferFailure, s.Asset.Registry, s.Asset.TokenID)
	}

	snapshot := *s
	s.Ended = true

	event := SettleEvent{
		Beneficiary: s.Beneficiary,
		Payout:      decimal.Zero,
	}
	if !s.HasLeader {
		return event, nil
	}
	event.Asset = s.Asset

	winner := s.Leader
	payout := s.HeldFunds
	s.HeldFunds = decimal.Zero

	tx, err := e.custody.Begin(ctx)
	if err != nil {
		*s = snapshot
		return SettleEvent{}, fmt.Errorf("%w: open custody batch: %v", ErrTransferFailure, err)
	}
	defer func() { _ = tx.Rollback() }()

	restore := func(cause error) (SettleEvent, error) {
		*s = snapshot
		_ = tx.Rollback()
		return SettleEvent{}, cause
	}

	if payout.IsPositive() {
		if err := tx.Transfer(ctx, s.Beneficiary, payout); err != nil {
			return restore(fmt.Errorf("%w: pay %s to %s: %v", ErrTransferFailure, payout, s.Beneficiary, err))
		}
	}

	assetMoved := false
	if s.Asset != nil {
		if err := e.assets.TransferAsset(ctx, *s.Asset, winner); err != nil {
			return restore(fmt.Errorf("%w: hand %s/%s to %s: %v", ErrTransferFailure, s.Asset.Registry, s.Asset.TokenID, winner, err))
		}
		assetMoved = true
	}

	if err := tx.Commit(); err != nil {
		cause := fmt.Errorf("%w: commit payout: %v", ErrTransferFailure, err)
		if assetMoved {
			if undoErr := e.assets.UndoTransfer(ctx, *s.Asset, winner); undoErr != nil {
				cause = fmt.Errorf("%w (asset return failed: %v)", cause, undoErr)
			}
		}
		return restore(cause)
	}

	event.Winner = winner
	event.Payout = payout
	return event, nil
}
