package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// Identity names a participant: a bidder, the beneficiary, or a custody account.
type Identity string

// Asset identifies a non-fungible token held in escrow for the winner.
type Asset struct {
	Registry string `json:"registry"`
	TokenID  string `json:"token_id"`
}

// State is the complete mutable state of one auction.
// Leader is meaningful only when HasLeader is true.
type State struct {
	MinimumBid  decimal.Decimal `json:"minimum_bid"`
	Beneficiary Identity        `json:"beneficiary"`
	Leader      Identity        `json:"leader,omitempty"`
	HasLeader   bool            `json:"has_leader"`
	HeldFunds   decimal.Decimal `json:"held_funds"`
	Ended       bool            `json:"ended"`
	Asset       *Asset          `json:"asset,omitempty"`
}

// MaxBidder reports the current leader, or the beneficiary when nobody has bid yet.
func (s State) MaxBidder() Identity {
	if !s.HasLeader {
		return s.Beneficiary
	}
	return s.Leader
}

// ResourceTransfer moves funds out of and into the auction's custody account.
type ResourceTransfer interface {
	// Transfer pays amount from custody to the recipient.
	Transfer(ctx context.Context, to Identity, amount decimal.Decimal) error
	// Collect takes amount from the sender into custody.
	Collect(ctx context.Context, from Identity, amount decimal.Decimal) error
}

// CustodyTx is a batch of transfers that takes effect on Commit and never on Rollback.
// Rollback after Commit is a no-op.
type CustodyTx interface {
	ResourceTransfer
	Commit() error
	Rollback() error
}

// Custody opens transfer batches against the backend holding escrowed funds.
type Custody interface {
	Begin(ctx context.Context) (CustodyTx, error)
}

// AssetTransfer hands an escrowed asset to the winner.
type AssetTransfer interface {
	TransferAsset(ctx context.Context, asset Asset, to Identity) error
	// UndoTransfer returns an asset moved by TransferAsset back into escrow.
	// It is only called when settlement fails after the asset has moved.
	UndoTransfer(ctx context.Context, asset Asset, from Identity) error
}

// BidEvent describes an accepted bid.
type BidEvent struct {
	AuctionID      string          `json:"auction_id"`
	Bidder         Identity        `json:"bidder"`
	Amount         decimal.Decimal `json:"amount"`
	PreviousBidder Identity        `json:"previous_bidder,omitempty"`
	Refund         decimal.Decimal `json:"refund"`
}

// SettleEvent describes a successful settlement.
// Winner is empty when the auction closed without bids.
type SettleEvent struct {
	AuctionID   string          `json:"auction_id"`
	Beneficiary Identity        `json:"beneficiary"`
	Winner      Identity        `json:"winner,omitempty"`
	Payout      decimal.Decimal `json:"payout"`
	Asset       *Asset          `json:"asset,omitempty"`
}

// Notifier observes committed auction operations.
type Notifier interface {
	BidAccepted(BidEvent)
	Settled(SettleEvent)
}
