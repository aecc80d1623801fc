package custody

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/escrowauction/core"
)

// PostgresBook keeps balances in PostgreSQL. Each custody batch is a
// serializable transaction, so a batch either lands entirely or not at all.
type PostgresBook struct {
	db     *sql.DB
	escrow core.Identity
}

// NewPostgresBook connects to dsn, runs migrations and makes sure the escrow
// account exists.
func NewPostgresBook(dsn string, escrow core.Identity) (*PostgresBook, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	book := &PostgresBook{db: db, escrow: escrow}
	if err := book.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	if err := book.Seed(ctx, map[core.Identity]decimal.Decimal{escrow: decimal.Zero}); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating escrow account: %w", err)
	}

	return book, nil
}

func (p *PostgresBook) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS custody_balances (
		identity VARCHAR(256) PRIMARY KEY,
		amount NUMERIC(38, 8) NOT NULL CHECK (amount >= 0),
		frozen BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS custody_transfers (
		id UUID PRIMARY KEY,
		from_identity VARCHAR(256) NOT NULL,
		to_identity VARCHAR(256) NOT NULL,
		amount NUMERIC(38, 8) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_transfers_created ON custody_transfers(created_at);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := p.db.ExecContext(ctx, schema)
	return err
}

// Escrow returns the identity of the escrow account.
func (p *PostgresBook) Escrow() core.Identity {
	return p.escrow
}

// Seed creates accounts that do not exist yet. Existing balances are left alone.
func (p *PostgresBook) Seed(ctx context.Context, balances map[core.Identity]decimal.Decimal) error {
	for id, amount := range balances {
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO custody_balances (identity, amount)
			VALUES ($1, $2)
			ON CONFLICT (identity) DO NOTHING
		`, string(id), core.NormalizeAmount(amount))
		if err != nil {
			return fmt.Errorf("seeding %s: %w", id, err)
		}
	}
	return nil
}

// SetFrozen marks an account as refusing incoming transfers.
func (p *PostgresBook) SetFrozen(ctx context.Context, id core.Identity, frozen bool) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO custody_balances (identity, amount, frozen)
		VALUES ($1, 0, $2)
		ON CONFLICT (identity) DO UPDATE SET frozen = EXCLUDED.frozen, updated_at = NOW()
	`, string(id), frozen)
	return err
}

// Balance returns the committed balance of id. Unknown identities hold zero.
func (p *PostgresBook) Balance(ctx context.Context, id core.Identity) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := p.db.QueryRowContext(ctx, "SELECT amount FROM custody_balances WHERE identity = $1", string(id)).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("reading balance of %s: %w", id, err)
	}
	return amount, nil
}

// Begin opens a serializable transaction.
func (p *PostgresBook) Begin(ctx context.Context) (core.CustodyTx, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return &pgTx{tx: tx, escrow: p.escrow}, nil
}

// Close closes the database connection.
func (p *PostgresBook) Close() error {
	return p.db.Close()
}

type pgTx struct {
	tx     *sql.Tx
	escrow core.Identity
}

func (t *pgTx) Transfer(ctx context.Context, to core.Identity, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("transfer %s to %s: negative amount", amount, to)
	}
	amount = core.NormalizeAmount(amount)

	var frozen bool
	err := t.tx.QueryRowContext(ctx, "SELECT frozen FROM custody_balances WHERE identity = $1", string(to)).Scan(&frozen)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("checking recipient %s: %w", to, err)
	}
	if frozen {
		return fmt.Errorf("%w: %s is frozen", ErrRecipientRejected, to)
	}

	if err := t.debit(ctx, t.escrow, amount); err != nil {
		return err
	}
	if err := t.credit(ctx, to, amount); err != nil {
		return err
	}
	return t.record(ctx, t.escrow, to, amount)
}

func (t *pgTx) Collect(ctx context.Context, from core.Identity, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("collect %s from %s: negative amount", amount, from)
	}
	amount = core.NormalizeAmount(amount)

	if err := t.debit(ctx, from, amount); err != nil {
		return err
	}
	if err := t.credit(ctx, t.escrow, amount); err != nil {
		return err
	}
	return t.record(ctx, from, t.escrow, amount)
}

func (t *pgTx) debit(ctx context.Context, id core.Identity, amount decimal.Decimal) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE custody_balances
		SET amount = amount - $2, updated_at = NOW()
		WHERE identity = $1 AND amount >= $2
	`, string(id), amount)
	if err != nil {
		return fmt.Errorf("failed to debit %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s cannot cover %s", ErrInsufficientFunds, id, amount)
	}
	return nil
}

func (t *pgTx) credit(ctx context.Context, id core.Identity, amount decimal.Decimal) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO custody_balances (identity, amount)
		VALUES ($1, $2)
		ON CONFLICT (identity) DO UPDATE SET
			amount = custody_balances.amount + EXCLUDED.amount,
			updated_at = NOW()
	`, string(id), amount)
	if err != nil {
		return fmt.Errorf("failed to credit %s: %w", id, err)
	}
	return nil
}

func (t *pgTx) record(ctx context.Context, from, to core.Identity, amount decimal.Decimal) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO custody_transfers (id, from_identity, to_identity, amount)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), string(from), string(to), amount)
	if err != nil {
		return fmt.Errorf("failed to record transfer: %w", err)
	}
	return nil
}

func (t *pgTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *pgTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
