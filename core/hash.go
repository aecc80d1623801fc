package core

import (
	"crypto/sha256"
	"fmt"

	"github.com/shopspring/decimal"
)

// ComputeBidHash computes the commitment recorded in a bid receipt.
//
// Formula: SHA256(auction_id + "|" + bidder + "|" + amount + "|" + nonce)
//
// The amount is formatted with exactly MonetaryPrecision decimal places so the hash
// does not depend on how the decimal was constructed.
func ComputeBidHash(auctionID string, bidder Identity, amount decimal.Decimal, nonce string) string {
	data := fmt.Sprintf("%s|%s|%s|%s", auctionID, bidder, amount.StringFixed(MonetaryPrecision), nonce)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ComputeSettlementHash computes the commitment recorded in a settlement receipt.
//
// Formula: SHA256(auction_id + "|" + beneficiary + "|" + winner + "|" + payout + "|" + nonce)
//
// winner is empty when the auction closed without bids.
func ComputeSettlementHash(auctionID string, beneficiary, winner Identity, payout decimal.Decimal, nonce string) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%s", auctionID, beneficiary, winner, payout.StringFixed(MonetaryPrecision), nonce)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
