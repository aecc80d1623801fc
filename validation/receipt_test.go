package validation

import (
	"context"
	"strings"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cloudx-io/escrowauction/auctionapi"
	"github.com/cloudx-io/escrowauction/core"
	"github.com/cloudx-io/escrowauction/custody"
	"github.com/cloudx-io/escrowauction/keys"
	"github.com/cloudx-io/escrowauction/receipts"
)

// issuedChain runs a three-bid auction to settlement and returns its receipts.
func issuedChain(t *testing.T, km *keys.KeyManager) []auctionapi.COSE {
	t.Helper()
	signer, err := km.Signer()
	assert.NoError(t, err)
	journal, err := receipts.NewJournal(zap.NewNop(), signer)
	assert.NoError(t, err)

	book := custody.NewBook("escrow", map[core.Identity]decimal.Decimal{
		"alice": decimal.NewFromInt(50),
		"carol": decimal.NewFromInt(50),
	})
	auction, err := core.New(decimal.NewFromInt(3), "bob", book, core.WithID("auction-v"), core.WithNotifier(journal))
	assert.NoError(t, err)

	ctx := context.Background()
	assert.NoError(t, auction.Bid(ctx, "alice", decimal.NewFromInt(5)))
	assert.NoError(t, auction.Bid(ctx, "carol", decimal.NewFromInt(8)))
	assert.NoError(t, auction.Bid(ctx, "alice", decimal.RequireFromString("9.25")))
	assert.NoError(t, auction.Settle(ctx, "bob"))

	var chain []auctionapi.COSE
	for _, r := range journal.Receipts() {
		raw, err := r.COSEBase64.Decode()
		assert.NoError(t, err)
		chain = append(chain, raw)
	}
	return chain
}

func hasDetail(details []string, fragment string) bool {
	for _, d := range details {
		if strings.Contains(d, fragment) {
			return true
		}
	}
	return false
}

func TestVerifyReceipt(t *testing.T) {
	km, err := keys.NewKeyManager()
	assert.NoError(t, err)
	chain := issuedChain(t, km)

	payload, err := VerifyReceipt(chain[0], km.SigningPublicKey())
	assert.NoError(t, err)
	check.Equal(t, "alice", payload.Bidder)
	check.Equal(t, "5.00000000", payload.Amount)

	other, err := keys.NewKeyManager()
	assert.NoError(t, err)
	_, err = VerifyReceipt(chain[0], other.SigningPublicKey())
	check.Error(t, err)

	_, err = VerifyReceipt(auctionapi.COSE{0xd2, 0x80}, km.SigningPublicKey())
	check.Error(t, err)
}

func TestValidateReceiptChain_Valid(t *testing.T) {
	km, err := keys.NewKeyManager()
	assert.NoError(t, err)
	chain := issuedChain(t, km)

	result, err := ValidateReceiptChain(chain, km.SigningPublicKey())
	assert.NoError(t, err)
	check.True(t, result.IsValid())
	check.Equal(t, 4, result.Receipts)
	check.Equal(t, "auction-v", result.AuctionID)
	check.Equal(t, "alice", result.Leader)
	check.True(t, result.Settled)
	check.Equal(t, "0.00000000", result.HeldFunds)
}

func TestValidateReceiptChain_OpenAuction(t *testing.T) {
	km, err := keys.NewKeyManager()
	assert.NoError(t, err)
	chain := issuedChain(t, km)

	result, err := ValidateReceiptChain(chain[:3], km.SigningPublicKey())
	assert.NoError(t, err)
	check.True(t, result.IsValid())
	check.False(t, result.Settled)
	check.Equal(t, "alice", result.Leader)
	check.Equal(t, "9.25000000", result.HeldFunds)
}

func TestValidateReceiptChain_Tampering(t *testing.T) {
	km, err := keys.NewKeyManager()
	assert.NoError(t, err)
	chain := issuedChain(t, km)

	t.Run("dropped receipt", func(t *testing.T) {
		broken := []auctionapi.COSE{chain[0], chain[2], chain[3]}
		result, err := ValidateReceiptChain(broken, km.SigningPublicKey())
		assert.NoError(t, err)
		check.False(t, result.SequenceValid)
		check.False(t, result.LinksValid)
		check.False(t, result.RefundsValid)
		check.False(t, result.IsValid())
	})

	t.Run("reordered", func(t *testing.T) {
		broken := []auctionapi.COSE{chain[1], chain[0], chain[2], chain[3]}
		result, err := ValidateReceiptChain(broken, km.SigningPublicKey())
		assert.NoError(t, err)
		check.False(t, result.SequenceValid)
		check.False(t, result.LinksValid)
		check.False(t, result.BidsAscending)
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := keys.NewKeyManager()
		assert.NoError(t, err)
		result, err := ValidateReceiptChain(chain, other.SigningPublicKey())
		assert.NoError(t, err)
		check.False(t, result.SignaturesValid)
		check.True(t, result.LinksValid)
		check.False(t, result.IsValid())
	})

	t.Run("receipt after settlement", func(t *testing.T) {
		broken := append(append([]auctionapi.COSE{}, chain...), chain[3])
		result, err := ValidateReceiptChain(broken, km.SigningPublicKey())
		assert.NoError(t, err)
		check.False(t, result.SettlementValid)
		check.True(t, hasDetail(result.ValidationDetails, "issued after settlement"))
	})

	t.Run("undecodable", func(t *testing.T) {
		_, err := ValidateReceiptChain([]auctionapi.COSE{{0x01}}, km.SigningPublicKey())
		check.Error(t, err)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := ValidateReceiptChain(nil, km.SigningPublicKey())
		check.Error(t, err)
	})
}

// A correctly signed receipt can still describe an impossible auction. The
// replay catches it.
func TestValidateReceiptChain_SignedButInconsistent(t *testing.T) {
	km, err := keys.NewKeyManager()
	assert.NoError(t, err)
	signer, err := km.Signer()
	assert.NoError(t, err)
	chain := issuedChain(t, km)

	first, err := chain[0].ParseReceipt()
	assert.NoError(t, err)

	forge := func(p auctionapi.ReceiptPayload) auctionapi.COSE {
		p.Seq = 2
		p.PrevHash = auctionapi.ReceiptDigest(chain[0])
		raw, err := receipts.Sign(signer, p)
		assert.NoError(t, err)
		return raw
	}

	t.Run("lower bid", func(t *testing.T) {
		amount := decimal.NewFromInt(4)
		lower := forge(auctionapi.ReceiptPayload{
			AuctionID:      first.AuctionID,
			Kind:           auctionapi.ReceiptBid,
			Bidder:         "carol",
			Amount:         amount.StringFixed(8),
			PreviousBidder: "alice",
			Refund:         "5.00000000",
			Hash:           core.ComputeBidHash(first.AuctionID, "carol", amount, "n"),
			Nonce:          "n",
		})
		result, err := ValidateReceiptChain([]auctionapi.COSE{chain[0], lower}, km.SigningPublicKey())
		assert.NoError(t, err)
		check.True(t, result.SignaturesValid)
		check.True(t, result.LinksValid)
		check.False(t, result.BidsAscending)
		check.False(t, result.IsValid())
	})

	t.Run("short refund", func(t *testing.T) {
		amount := decimal.NewFromInt(6)
		short := forge(auctionapi.ReceiptPayload{
			AuctionID:      first.AuctionID,
			Kind:           auctionapi.ReceiptBid,
			Bidder:         "carol",
			Amount:         amount.StringFixed(8),
			PreviousBidder: "alice",
			Refund:         "1.00000000",
			Hash:           core.ComputeBidHash(first.AuctionID, "carol", amount, "n"),
			Nonce:          "n",
		})
		result, err := ValidateReceiptChain([]auctionapi.COSE{chain[0], short}, km.SigningPublicKey())
		assert.NoError(t, err)
		check.False(t, result.RefundsValid)
		check.True(t, result.BidsAscending)
	})

	t.Run("hash over other amount", func(t *testing.T) {
		mismatched := forge(auctionapi.ReceiptPayload{
			AuctionID:      first.AuctionID,
			Kind:           auctionapi.ReceiptBid,
			Bidder:         "carol",
			Amount:         "6.00000000",
			PreviousBidder: "alice",
			Refund:         "5.00000000",
			Hash:           core.ComputeBidHash(first.AuctionID, "carol", decimal.NewFromInt(7), "n"),
			Nonce:          "n",
		})
		result, err := ValidateReceiptChain([]auctionapi.COSE{chain[0], mismatched}, km.SigningPublicKey())
		assert.NoError(t, err)
		check.False(t, result.HashesValid)
	})

	t.Run("settlement to wrong winner", func(t *testing.T) {
		payout := decimal.NewFromInt(5)
		wrong := forge(auctionapi.ReceiptPayload{
			AuctionID:   first.AuctionID,
			Kind:        auctionapi.ReceiptSettlement,
			Beneficiary: "bob",
			Winner:      "mallory",
			Payout:      payout.StringFixed(8),
			Hash:        core.ComputeSettlementHash(first.AuctionID, "bob", "mallory", payout, "n"),
			Nonce:       "n",
		})
		result, err := ValidateReceiptChain([]auctionapi.COSE{chain[0], wrong}, km.SigningPublicKey())
		assert.NoError(t, err)
		check.False(t, result.SettlementValid)
		check.True(t, result.ConservationHeld)
	})

	t.Run("underpaid settlement", func(t *testing.T) {
		payout := decimal.NewFromInt(2)
		under := forge(auctionapi.ReceiptPayload{
			AuctionID:   first.AuctionID,
			Kind:        auctionapi.ReceiptSettlement,
			Beneficiary: "bob",
			Winner:      "alice",
			Payout:      payout.StringFixed(8),
			Hash:        core.ComputeSettlementHash(first.AuctionID, "bob", "alice", payout, "n"),
			Nonce:       "n",
		})
		result, err := ValidateReceiptChain([]auctionapi.COSE{chain[0], under}, km.SigningPublicKey())
		assert.NoError(t, err)
		check.False(t, result.SettlementValid)
		check.False(t, result.ConservationHeld)
	})

	t.Run("asset handed over without bids", func(t *testing.T) {
		payout := decimal.Zero
		raw, err := receipts.Sign(signer, auctionapi.ReceiptPayload{
			Seq:         1,
			AuctionID:   first.AuctionID,
			Kind:        auctionapi.ReceiptSettlement,
			Beneficiary: "bob",
			Payout:      payout.StringFixed(8),
			Asset:       &core.Asset{Registry: "artworks", TokenID: "7"},
			Hash:        core.ComputeSettlementHash(first.AuctionID, "bob", "", payout, "n"),
			Nonce:       "n",
		})
		assert.NoError(t, err)
		result, err := ValidateReceiptChain([]auctionapi.COSE{raw}, km.SigningPublicKey())
		assert.NoError(t, err)
		check.True(t, result.SignaturesValid)
		check.True(t, result.HashesValid)
		check.False(t, result.SettlementValid)
		check.True(t, hasDetail(result.ValidationDetails, "hands over asset"))
	})
}
