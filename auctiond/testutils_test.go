package main

import (
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cloudx-io/escrowauction/core"
	"github.com/cloudx-io/escrowauction/custody"
	"github.com/cloudx-io/escrowauction/keys"
	"github.com/cloudx-io/escrowauction/receipts"
)

type testEnv struct {
	service *Service
	keys    *keys.KeyManager
	book    *custody.Book
	journal *receipts.Journal
}

// newTestService hosts an auction with floor 3 and beneficiary bob. alice and
// carol hold 100 and 20 in custody.
func newTestService(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	km, err := keys.NewKeyManager()
	assert.NoError(t, err)
	signer, err := km.Signer()
	assert.NoError(t, err)
	journal, err := receipts.NewJournal(logger, signer)
	assert.NoError(t, err)

	book := custody.NewBook("escrow", map[core.Identity]decimal.Decimal{
		"alice": decimal.NewFromInt(100),
		"carol": decimal.NewFromInt(20),
	})
	auction, err := core.New(decimal.NewFromInt(3), "bob", book,
		core.WithID("auction-http"), core.WithNotifier(journal))
	assert.NoError(t, err)

	return &testEnv{
		service: NewService(auction, journal, km, nil, book, logger),
		keys:    km,
		book:    book,
		journal: journal,
	}
}
