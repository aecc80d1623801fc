package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

const escrowAccount Identity = "escrow"

type stagedOp struct {
	from   Identity
	to     Identity
	amount decimal.Decimal
}

// mockCustody is an in-memory balance sheet with failure injection.
// Transfers are staged on the batch and applied on Commit.
type mockCustody struct {
	balances map[Identity]decimal.Decimal

	beginErr    error
	commitErr   error
	rejectTo    map[Identity]error
	rejectFrom  map[Identity]error
	onTransfer  func(to Identity, amount decimal.Decimal)
	commits     int
	transferLog []stagedOp
}

func newMockCustody(balances map[Identity]int64) *mockCustody {
	m := &mockCustody{
		balances:   make(map[Identity]decimal.Decimal),
		rejectTo:   make(map[Identity]error),
		rejectFrom: make(map[Identity]error),
	}
	for id, amount := range balances {
		m.balances[id] = decimal.NewFromInt(amount)
	}
	return m
}

func (m *mockCustody) balance(id Identity) decimal.Decimal {
	return m.balances[id]
}

func (m *mockCustody) Begin(context.Context) (CustodyTx, error) {
	if m.beginErr != nil {
		return nil, m.beginErr
	}
	return &mockTx{custody: m}, nil
}

type mockTx struct {
	custody *mockCustody
	ops     []stagedOp
	done    bool
}

func (tx *mockTx) Transfer(_ context.Context, to Identity, amount decimal.Decimal) error {
	if err := tx.custody.rejectTo[to]; err != nil {
		return err
	}
	if tx.custody.onTransfer != nil {
		tx.custody.onTransfer(to, amount)
	}
	tx.ops = append(tx.ops, stagedOp{from: escrowAccount, to: to, amount: amount})
	return nil
}

func (tx *mockTx) Collect(_ context.Context, from Identity, amount decimal.Decimal) error {
	if err := tx.custody.rejectFrom[from]; err != nil {
		return err
	}
	if tx.custody.balances[from].LessThan(amount) {
		return fmt.Errorf("insufficient funds: %s has %s, needs %s", from, tx.custody.balances[from], amount)
	}
	tx.ops = append(tx.ops, stagedOp{from: from, to: escrowAccount, amount: amount})
	return nil
}

func (tx *mockTx) Commit() error {
	if tx.done {
		return errors.New("batch already finished")
	}
	if tx.custody.commitErr != nil {
		return tx.custody.commitErr
	}
	tx.done = true
	for _, op := range tx.ops {
		tx.custody.balances[op.from] = tx.custody.balances[op.from].Sub(op.amount)
		tx.custody.balances[op.to] = tx.custody.balances[op.to].Add(op.amount)
		tx.custody.transferLog = append(tx.custody.transferLog, op)
	}
	tx.custody.commits++
	return nil
}

func (tx *mockTx) Rollback() error {
	tx.done = true
	tx.ops = nil
	return nil
}

// mockAssets tracks asset ownership for the NFT-bearing variant.
type mockAssets struct {
	owners      map[Asset]Identity
	transferErr error
	undoErr     error
	undone      int
}

func newMockAssets(asset Asset) *mockAssets {
	return &mockAssets{owners: map[Asset]Identity{asset: escrowAccount}}
}

func (m *mockAssets) TransferAsset(_ context.Context, asset Asset, to Identity) error {
	if m.transferErr != nil {
		return m.transferErr
	}
	if m.owners[asset] != escrowAccount {
		return fmt.Errorf("asset %s/%s not in escrow", asset.Registry, asset.TokenID)
	}
	m.owners[asset] = to
	return nil
}

func (m *mockAssets) UndoTransfer(_ context.Context, asset Asset, from Identity) error {
	if m.undoErr != nil {
		return m.undoErr
	}
	if m.owners[asset] != from {
		return fmt.Errorf("asset %s/%s not owned by %s", asset.Registry, asset.TokenID, from)
	}
	m.owners[asset] = escrowAccount
	m.undone++
	return nil
}

type recordingNotifier struct {
	bids        []BidEvent
	settlements []SettleEvent
}

func (n *recordingNotifier) BidAccepted(e BidEvent) { n.bids = append(n.bids, e) }
func (n *recordingNotifier) Settled(e SettleEvent)  { n.settlements = append(n.settlements, e) }

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// checkAmount compares amounts by value so exponent differences do not matter.
func checkAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	check.Equal(t, amt(want).String(), got.String())
}

func checkState(t *testing.T, want, got State) {
	t.Helper()
	checkAmount(t, want.MinimumBid.String(), got.MinimumBid)
	checkAmount(t, want.HeldFunds.String(), got.HeldFunds)
	check.Equal(t, want.Beneficiary, got.Beneficiary)
	check.Equal(t, want.Leader, got.Leader)
	check.Equal(t, want.HasLeader, got.HasLeader)
	check.Equal(t, want.Ended, got.Ended)
}

func newTestAuction(t *testing.T, custody Custody, opts ...Option) *Auction {
	t.Helper()
	a, err := New(amt("3"), "bob", custody, append([]Option{WithID("auction-test")}, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}
