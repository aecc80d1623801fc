package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Auction is a single-item ascending-price auction with escrowed funds.
//
// Auction is not safe for concurrent use: the host must apply operations one at a
// time. Calls made from inside a transfer (for example by a recipient's hook) may
// read state, but Bid and Settle return ErrReentrantCall until the outer operation
// has finished.
type Auction struct {
	id       string
	state    State
	ledger   *BidLedger
	vault    *EscrowVault
	settler  *SettlementEngine
	notifier Notifier
	entered  bool
}

// Option configures an Auction at construction.
type Option func(*auctionOptions)

type auctionOptions struct {
	id       string
	asset    *Asset
	assets   AssetTransfer
	notifier Notifier
}

// WithID sets the auction id reported in events. A random uuid is used otherwise.
func WithID(id string) Option {
	return func(o *auctionOptions) { o.id = id }
}

// WithAsset configures the asset handed to the winner on settlement, and the
// adapter used to move it.
func WithAsset(asset Asset, assets AssetTransfer) Option {
	return func(o *auctionOptions) {
		o.asset = &asset
		o.assets = assets
	}
}

// WithNotifier registers an observer of accepted bids and settlement.
func WithNotifier(n Notifier) Option {
	return func(o *auctionOptions) { o.notifier = n }
}

// New creates an auction with the given floor and beneficiary.
// The first bid must strictly exceed minimumBid.
func New(minimumBid decimal.Decimal, beneficiary Identity, custody Custody, opts ...Option) (*Auction, error) {
	if minimumBid.IsNegative() {
		return nil, fmt.Errorf("%w: negative minimum bid %s", ErrInvalidConfig, minimumBid)
	}
	if beneficiary == "" {
		return nil, fmt.Errorf("%w: empty beneficiary", ErrInvalidConfig)
	}
	if custody == nil {
		return nil, fmt.Errorf("%w: nil custody", ErrInvalidConfig)
	}

	o := auctionOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.asset != nil && (o.asset.Registry == "" || o.asset.TokenID == "") {
		return nil, fmt.Errorf("%w: incomplete asset reference", ErrInvalidConfig)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}

	a := &Auction{
		id:       o.id,
		notifier: o.notifier,
		state: State{
			MinimumBid:  NormalizeAmount(minimumBid),
			Beneficiary: beneficiary,
			HeldFunds:   decimal.Zero,
			Asset:       o.asset,
		},
	}
	a.ledger = NewBidLedger(&a.state)
	a.vault = NewEscrowVault(&a.state, a.ledger, custody)
	a.settler = NewSettlementEngine(&a.state, custody, o.assets)
	return a, nil
}

// Bid places a bid of amount on behalf of caller.
func (a *Auction) Bid(ctx context.Context, caller Identity, amount decimal.Decimal) error {
	if a.entered {
		return ErrReentrantCall
	}
	a.entered = true
	defer func() { a.entered = false }()

	prev, err := a.vault.AcceptBid(ctx, caller, amount)
	if err != nil {
		return err
	}

	if a.notifier != nil {
		event := BidEvent{
			AuctionID: a.id,
			Bidder:    caller,
			Amount:    a.state.MinimumBid,
			Refund:    decimal.Zero,
		}
		if prev.exists {
			event.PreviousBidder = prev.bidder
			event.Refund = prev.amount
		}
		a.notifier.BidAccepted(event)
	}
	return nil
}

// Settle ends the auction on behalf of caller, who must be the beneficiary.
func (a *Auction) Settle(ctx context.Context, caller Identity) error {
	if a.entered {
		return ErrReentrantCall
	}
	a.entered = true
	defer func() { a.entered = false }()

	event, err := a.settler.Settle(ctx, caller)
	if err != nil {
		return err
	}

	if a.notifier != nil {
		event.AuctionID = a.id
		a.notifier.Settled(event)
	}
	return nil
}

// ID returns the auction id.
func (a *Auction) ID() string { return a.id }

// Beneficiary returns the identity entitled to the proceeds.
func (a *Auction) Beneficiary() Identity { return a.state.Beneficiary }

// MinimumBid returns the amount the next bid must exceed.
func (a *Auction) MinimumBid() decimal.Decimal { return a.state.MinimumBid }

// MaxBidder returns the leader, or the beneficiary if no bid has been placed.
func (a *Auction) MaxBidder() Identity { return a.state.MaxBidder() }

// AuctionEnded reports whether the auction has been settled.
func (a *Auction) AuctionEnded() bool { return a.state.Ended }

// HeldFunds returns the escrowed amount attributable to the leader.
func (a *Auction) HeldFunds() decimal.Decimal { return a.state.HeldFunds }

// Asset returns the escrowed asset, if any.
func (a *Auction) Asset() *Asset {
	if a.state.Asset == nil {
		return nil
	}
	asset := *a.state.Asset
	return &asset
}

// Snapshot returns a copy of the auction state.
func (a *Auction) Snapshot() State {
	s := a.state
	if s.Asset != nil {
		asset := *s.Asset
		s.Asset = &asset
	}
	return s
}
