package core

import (
	"context"
	"errors"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func standardBalances() map[Identity]int64 {
	return map[Identity]int64{"alice": 100, "carol": 100, "bob": 0}
}

func TestNew_InitialState(t *testing.T) {
	custody := newMockCustody(standardBalances())
	a := newTestAuction(t, custody)

	check.Equal(t, "auction-test", a.ID())
	check.Equal(t, Identity("bob"), a.Beneficiary())
	check.Equal(t, Identity("bob"), a.MaxBidder())
	checkAmount(t, "3", a.MinimumBid())
	checkAmount(t, "0", a.HeldFunds())
	check.False(t, a.AuctionEnded())
	check.Nil(t, a.Asset())
}

func TestNew_RejectsBadConfig(t *testing.T) {
	custody := newMockCustody(nil)

	tests := []struct {
		name        string
		minimum     decimal.Decimal
		beneficiary Identity
		custody     Custody
		opts        []Option
	}{
		{name: "negative floor", minimum: amt("-1"), beneficiary: "bob", custody: custody},
		{name: "empty beneficiary", minimum: amt("3"), beneficiary: "", custody: custody},
		{name: "nil custody", minimum: amt("3"), beneficiary: "bob", custody: nil},
		{
			name:        "incomplete asset",
			minimum:     amt("3"),
			beneficiary: "bob",
			custody:     custody,
			opts:        []Option{WithAsset(Asset{Registry: "punks"}, newMockAssets(Asset{}))},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.minimum, tt.beneficiary, tt.custody, tt.opts...)
			check.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestNew_GeneratesID(t *testing.T) {
	a, err := New(amt("1"), "bob", newMockCustody(nil))
	assert.NoError(t, err)
	check.NotEqual(t, "", a.ID())

	b, err := New(amt("1"), "bob", newMockCustody(nil))
	assert.NoError(t, err)
	check.NotEqual(t, a.ID(), b.ID())
}

func TestBid_FirstBidEscrowsFunds(t *testing.T) {
	ctx := context.Background()
	custody := newMockCustody(standardBalances())
	a := newTestAuction(t, custody)

	assert.NoError(t, a.Bid(ctx, "alice", amt("10")))

	check.Equal(t, Identity("alice"), a.MaxBidder())
	checkAmount(t, "10", a.MinimumBid())
	checkAmount(t, "10", a.HeldFunds())
	checkAmount(t, "10", custody.balance(escrowAccount))
	checkAmount(t, "90", custody.balance("alice"))
	checkAmount(t, "100", custody.balance("carol"))
	checkAmount(t, "0", custody.balance("bob"))
}

func TestBid_OutbidRefundsPreviousLeader(t *testing.T) {
	ctx := context.Background()
	custody := newMockCustody(standardBalances())
	a := newTestAuction(t, custody)

	assert.NoError(t, a.Bid(ctx, "alice", amt("10")))
	assert.NoError(t, a.Bid(ctx, "carol", amt("11")))

	check.Equal(t, Identity("carol"), a.MaxBidder())
	checkAmount(t, "11", a.MinimumBid())
	checkAmount(t, "11", a.HeldFunds())
	checkAmount(t, "100", custody.balance("alice"))
	checkAmount(t, "89", custody.balance("carol"))
	checkAmount(t, "11", custody.balance(escrowAccount))
}

func TestBid_LeaderCannotRaiseOwnBid(t *testing.T) {
	ctx := context.Background()
	custody := newMockCustody(standardBalances())
	a := newTestAuction(t, custody)

	assert.NoError(t, a.Bid(ctx, "alice", amt("10")))
	before := a.Snapshot()

	err := a.Bid(ctx, "alice", amt("11"))
	check.True(t, errors.Is(err, ErrDuplicateBidder))

	checkState(t, before, a.Snapshot())
	checkAmount(t, "90", custody.balance("alice"))
	checkAmount(t, "10", custody.balance(escrowAccount))
}

func TestBid_RejectsAmountAtOrBelowMinimum(t *testing.T) {
	ctx := context.Background()
	custody := newMockCustody(standardBalances())
	a := newTestAuction(t, custody)

	for _, amount := range []string{"2", "3", "3.000000001", "0", "-5"} {
		err := a.Bid(ctx, "alice", amt(amount))
		check.True(t, errors.Is(err, ErrInvalidBid))
	}

	check.Equal(t, Identity("bob"), a.MaxBidder())
	checkAmount(t, "3", a.MinimumBid())
	checkAmount(t, "100", custody.balance("alice"))
	check.Equal(t, 0, custody.commits)
}

func TestBid_EqualToCurrentLeadRejected(t *testing.T) {
	ctx := context.Background()
	custody := newMockCustody(standardBalances())
	a := newTestAuction(t, custody)

	assert.NoError(t, a.Bid(ctx, "alice", amt("10")))
	err := a.Bid(ctx, "carol", amt("10"))
	check.True(t, errors.Is(err, ErrInvalidBid))
	check.Equal(t, Identity("alice"), a.MaxBidder())
}

func TestBid_BeneficiaryRejected(t *testing.T) {
	ctx := context.Background()
	custody := newMockCustody(map[Identity]int64{"bob": 100})
	a := newTestAuction(t, custody)

	// Before any bid the beneficiary is the reported max bidder.
	err := a.Bid(ctx, "bob", amt("10"))
	check.True(t, errors.Is(err, ErrBeneficiaryBid))
	check.True(t, errors.Is(err, ErrDuplicateBidder))
	check.False(t, a.Snapshot().HasLeader)
	checkAmount(t, "100", custody.balance("bob"))
}

func TestBid_BeneficiaryRejectedBehindLeader(t *testing.T) {
	ctx := context.Background()
	custody := newMockCustody(map[Identity]int64{"alice": 100, "bob": 100})
	a := newTestAuction(t, custody)
	assert.NoError(t, a.Bid(ctx, "alice", amt("10")))

	err := a.Bid(ctx, "bob", amt("20"))
	check.True(t, errors.Is(err, ErrBeneficiaryBid))
	check.False(t, errors.Is(err, ErrDuplicateBidder))
	check.Equal(t, Identity("alice"), a.MaxBidder())
}

func TestBid_EmptyCallerRejected(t *testing.T) {
	a := newTestAuction(t, newMockCustody(nil))
	err := a.Bid(context.Background(), "", amt("10"))
	check.True(t, errors.Is(err, ErrInvalidBid))
}

func TestBid_AfterSettlementRejected(t *testing.T) {
	ctx := context.Background()
	custody := newMockCustody(standardBalances())
	a := newTestAuction(t, custody)

	assert.NoError(t, a.Settle(ctx, "bob"))
	err := a.Bid(ctx, "alice", amt("10"))
	check.True(t, errors.Is(err, ErrAuctionClosed))
	checkAmount(t, "100", custody.balance("alice"))
}

func TestSettle_NonBeneficiaryRejected(t *testing.T) {
	ctx := context.Background()
	custody := newMockCustody(standardBalances())
	a := newTestAuction(t, custody)

	assert.NoError(t, a.Bid(ctx, "alice", amt("10")))

	for _, caller := range []Identity{"alice", "carol", ""} {
		err := a.Settle(ctx, caller)
		check.True(t, errors.Is(err, ErrUnauthorized))
	}
	check.False(t, a.AuctionEnded())
	checkAmount(t, "10", a.HeldFunds())
}

func TestSettle_WithoutBids(t *testing.T) {
	ctx := context.Background()
	custody := newMockCustody(standardBalances())
	a := newTestAuction(t, custody)

	assert.NoError(t, a.Settle(ctx, "bob"))

	check.True(t, a.AuctionEnded())
	check.Equal(t, Identity("bob"), a.MaxBidder())
	checkAmount(t, "0", custody.balance("bob"))
	checkAmount(t, "100", custody.balance("alice"))
	check.Equal(t, 0, custody.commits)
}

func TestSettle_PaysBeneficiary(t *testing.T) {
	ctx := context.Background()
	custody := newMockCustody(standardBalances())
	a := newTestAuction(t, custody)

	assert.NoError(t, a.Bid(ctx, "alice", amt("10")))
	assert.NoError(t, a.Settle(ctx, "bob"))

	check.True(t, a.AuctionEnded())
	check.Equal(t, Identity("alice"), a.MaxBidder())
	checkAmount(t, "0", a.HeldFunds())
	checkAmount(t, "10", custody.balance("bob"))
	checkAmount(t, "90", custody.balance("alice"))
	checkAmount(t, "0", custody.balance(escrowAccount))

	err := a.Settle(ctx, "bob")
	check.True(t, errors.Is(err, ErrAlreadySettled))
	checkAmount(t, "10", custody.balance("bob"))
}

func TestNotifier_ReceivesEventsAfterSuccess(t *testing.T) {
	ctx := context.Background()
	custody := newMockCustody(standardBalances())
	notifier := &recordingNotifier{}
	a := newTestAuction(t, custody, WithNotifier(notifier))

	assert.NoError(t, a.Bid(ctx, "alice", amt("10")))
	assert.NoError(t, a.Bid(ctx, "carol", amt("12.5")))
	check.Error(t, a.Bid(ctx, "alice", amt("12")))
	assert.NoError(t, a.Settle(ctx, "bob"))

	assert.Equal(t, 2, len(notifier.bids))
	first := notifier.bids[0]
	check.Equal(t, "auction-test", first.AuctionID)
	check.Equal(t, Identity("alice"), first.Bidder)
	check.Equal(t, Identity(""), first.PreviousBidder)
	checkAmount(t, "10", first.Amount)
	checkAmount(t, "0", first.Refund)

	second := notifier.bids[1]
	check.Equal(t, Identity("carol"), second.Bidder)
	check.Equal(t, Identity("alice"), second.PreviousBidder)
	checkAmount(t, "12.5", second.Amount)
	checkAmount(t, "10", second.Refund)

	assert.Equal(t, 1, len(notifier.settlements))
	settled := notifier.settlements[0]
	check.Equal(t, "auction-test", settled.AuctionID)
	check.Equal(t, Identity("bob"), settled.Beneficiary)
	check.Equal(t, Identity("carol"), settled.Winner)
	checkAmount(t, "12.5", settled.Payout)
}

func TestBid_AmountNormalizedToPrecision(t *testing.T) {
	ctx := context.Background()
	custody := newMockCustody(standardBalances())
	a := newTestAuction(t, custody)

	assert.NoError(t, a.Bid(ctx, "alice", amt("10.123456789")))
	checkAmount(t, "10.12345679", a.MinimumBid())
	checkAmount(t, "10.12345679", custody.balance(escrowAccount))
}

func TestSnapshot_IsACopy(t *testing.T) {
	asset := Asset{Registry: "punks", TokenID: "7"}
	a := newTestAuction(t, newMockCustody(nil), WithAsset(asset, newMockAssets(asset)))

	s := a.Snapshot()
	s.Asset.TokenID = "8"
	s.Ended = true

	check.Equal(t, "7", a.Asset().TokenID)
	check.False(t, a.AuctionEnded())
}
