// Package custody provides the backends that hold escrowed funds for an auction.
package custody

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/escrowauction/core"
)

var (
	// ErrInsufficientFunds is returned when a debit would take a balance below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrRecipientRejected is returned when a recipient refuses an incoming transfer.
	ErrRecipientRejected = errors.New("recipient rejected transfer")
	// ErrBatchClosed is returned when a batch is used after Commit or Rollback.
	ErrBatchClosed = errors.New("custody batch already closed")
)

// Receiver is invoked when a batch paying its identity commits, after the batch
// has been checked and before any balance changes. Returning an error aborts the
// whole batch. Receivers run without the book lock held, so they may call back
// into the auction or read balances; they see the balances before the batch.
type Receiver func(ctx context.Context, amount decimal.Decimal) error

// Entry is one committed movement of funds.
type Entry struct {
	ID     string          `json:"id"`
	From   core.Identity   `json:"from"`
	To     core.Identity   `json:"to"`
	Amount decimal.Decimal `json:"amount"`
	At     time.Time       `json:"at"`
}

// Book is an in-memory balance sheet. The escrow identity is the account that
// holds funds on behalf of the auction.
type Book struct {
	mu        sync.Mutex
	escrow    core.Identity
	balances  map[core.Identity]decimal.Decimal
	receivers map[core.Identity]Receiver
	history   []Entry
}

// NewBook creates a book seeded with the given balances.
func NewBook(escrow core.Identity, balances map[core.Identity]decimal.Decimal) *Book {
	b := &Book{
		escrow:    escrow,
		balances:  make(map[core.Identity]decimal.Decimal, len(balances)),
		receivers: make(map[core.Identity]Receiver),
	}
	for id, amount := range balances {
		b.balances[id] = core.NormalizeAmount(amount)
	}
	return b
}

// Escrow returns the identity of the escrow account.
func (b *Book) Escrow() core.Identity {
	return b.escrow
}

// Balance returns the committed balance of id. Unknown identities hold zero.
func (b *Book) Balance(_ context.Context, id core.Identity) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balanceLocked(id), nil
}

func (b *Book) balanceLocked(id core.Identity) decimal.Decimal {
	if bal, ok := b.balances[id]; ok {
		return bal
	}
	return decimal.Zero
}

// Deposit credits id outside of any batch.
func (b *Book) Deposit(id core.Identity, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("deposit %s to %s: negative amount", amount, id)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[id] = b.balanceLocked(id).Add(core.NormalizeAmount(amount))
	return nil
}

// SetReceiver installs r as the hook for transfers to id. A nil r removes it.
func (b *Book) SetReceiver(id core.Identity, r Receiver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r == nil {
		delete(b.receivers, id)
		return
	}
	b.receivers[id] = r
}

// History returns a copy of all committed entries, oldest first.
func (b *Book) History() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, len(b.history))
	copy(out, b.history)
	return out
}

// Begin opens a batch. Nothing is applied until Commit.
func (b *Book) Begin(ctx context.Context) (core.CustodyTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &bookTx{ctx: ctx, book: b}, nil
}

type bookTx struct {
	ctx    context.Context
	book   *Book
	staged []Entry
	// payouts are the staged transfers out of escrow, in order.
	payouts []Entry
	closed  bool
}

// Transfer stages a payment out of escrow. Receivers are not consulted until Commit.
func (tx *bookTx) Transfer(_ context.Context, to core.Identity, amount decimal.Decimal) error {
	if tx.closed {
		return ErrBatchClosed
	}
	if amount.IsNegative() {
		return fmt.Errorf("transfer %s to %s: negative amount", amount, to)
	}

	e := Entry{From: tx.book.escrow, To: to, Amount: core.NormalizeAmount(amount)}
	tx.staged = append(tx.staged, e)
	tx.payouts = append(tx.payouts, e)
	return nil
}

func (tx *bookTx) Collect(_ context.Context, from core.Identity, amount decimal.Decimal) error {
	if tx.closed {
		return ErrBatchClosed
	}
	if amount.IsNegative() {
		return fmt.Errorf("collect %s from %s: negative amount", amount, from)
	}
	amount = core.NormalizeAmount(amount)

	tx.book.mu.Lock()
	available := tx.book.balanceLocked(from)
	tx.book.mu.Unlock()

	for _, e := range tx.staged {
		if e.From == from {
			available = available.Sub(e.Amount)
		}
		if e.To == from {
			available = available.Add(e.Amount)
		}
	}
	if available.LessThan(amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientFunds, from, available, amount)
	}

	tx.staged = append(tx.staged, Entry{From: from, To: tx.book.escrow, Amount: amount})
	return nil
}

// Commit applies every staged entry or none of them. The batch is checked,
// then every payee's receiver is called, then the balances move.
func (tx *bookTx) Commit() error {
	if tx.closed {
		return ErrBatchClosed
	}
	tx.closed = true

	b := tx.book
	b.mu.Lock()
	_, err := b.planLocked(tx.staged)
	receivers := make([]Receiver, len(tx.payouts))
	for i, e := range tx.payouts {
		receivers[i] = b.receivers[e.To]
	}
	b.mu.Unlock()
	if err != nil {
		return err
	}

	for i, e := range tx.payouts {
		if receivers[i] == nil {
			continue
		}
		if err := receivers[i](tx.ctx, e.Amount); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrRecipientRejected, e.To, err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// A receiver may have moved funds through the book; check again.
	next, err := b.planLocked(tx.staged)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for id, bal := range next {
		b.balances[id] = bal
	}
	for _, e := range tx.staged {
		e.ID = uuid.NewString()
		e.At = now
		b.history = append(b.history, e)
	}
	return nil
}

// planLocked returns the balances entries would leave behind, or an error if
// any would go negative.
func (b *Book) planLocked(entries []Entry) (map[core.Identity]decimal.Decimal, error) {
	next := make(map[core.Identity]decimal.Decimal)
	get := func(id core.Identity) decimal.Decimal {
		if bal, ok := next[id]; ok {
			return bal
		}
		return b.balanceLocked(id)
	}
	for _, e := range entries {
		next[e.From] = get(e.From).Sub(e.Amount)
		next[e.To] = get(e.To).Add(e.Amount)
	}
	for id, bal := range next {
		if bal.IsNegative() {
			return nil, fmt.Errorf("%w: %s would hold %s", ErrInsufficientFunds, id, bal)
		}
	}
	return next, nil
}

func (tx *bookTx) Rollback() error {
	tx.closed = true
	tx.staged = nil
	tx.payouts = nil
	return nil
}
