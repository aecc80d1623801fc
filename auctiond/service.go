package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cloudx-io/escrowauction/auctionapi"
	"github.com/cloudx-io/escrowauction/core"
	"github.com/cloudx-io/escrowauction/keys"
	"github.com/cloudx-io/escrowauction/receipts"
)

// ErrBadRequest marks requests rejected before they reach the auction.
var ErrBadRequest = errors.New("bad request")

// BalanceReader reports custody balances.
type BalanceReader interface {
	Balance(ctx context.Context, id core.Identity) (decimal.Decimal, error)
}

// Service hosts the one auction of this process. core.Auction is not safe for
// concurrent use, so every call goes through mu.
type Service struct {
	mu       sync.Mutex
	auction  *core.Auction
	journal  *receipts.Journal
	keys     *keys.KeyManager
	attester keys.EnclaveAttester
	balances BalanceReader
	logger   *zap.Logger
}

// NewService wraps auction. attester may be nil when keys are served unattested.
func NewService(auction *core.Auction, journal *receipts.Journal, km *keys.KeyManager, attester keys.EnclaveAttester, balances BalanceReader, logger *zap.Logger) *Service {
	s := &Service{
		auction:  auction,
		journal:  journal,
		keys:     km,
		attester: attester,
		balances: balances,
		logger:   logger,
	}
	heldFundsGauge.Set(auction.HeldFunds().InexactFloat64())
	return s
}

// resolveAmount returns the plaintext amount of a bid request.
func (s *Service) resolveAmount(req auctionapi.BidRequest) (decimal.Decimal, error) {
	switch {
	case req.EncryptedAmount != nil && req.Amount != "":
		return decimal.Zero, fmt.Errorf("%w: set either amount or encrypted_amount", ErrBadRequest)
	case req.EncryptedAmount != nil:
		amount, err := s.keys.DecryptAmount(*req.EncryptedAmount)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		return amount, nil
	case req.Amount != "":
		amount, err := core.ParseAmount(req.Amount)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		return amount, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: amount is required", ErrBadRequest)
	}
}

// Bid places a bid for caller and returns the receipt it produced.
func (s *Service) Bid(ctx context.Context, caller core.Identity, req auctionapi.BidRequest) (*auctionapi.BidResponse, error) {
	if caller == "" {
		return nil, fmt.Errorf("%w: caller identity is required", ErrBadRequest)
	}
	amount, err := s.resolveAmount(req)
	if err != nil {
		bidsTotal.WithLabelValues("malformed").Inc()
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	issued := s.journal.Len()
	if err := s.auction.Bid(ctx, caller, amount); err != nil {
		bidsTotal.WithLabelValues(outcome(err)).Inc()
		s.logger.Info("bid rejected",
			zap.String("bidder", string(caller)),
			zap.String("amount", amount.String()),
			zap.Error(err))
		return nil, err
	}

	bidsTotal.WithLabelValues("accepted").Inc()
	heldFundsGauge.Set(s.auction.HeldFunds().InexactFloat64())
	receiptsIssued.Set(float64(s.journal.Len()))
	s.logger.Info("bid accepted",
		zap.String("bidder", string(caller)),
		zap.String("amount", amount.String()))

	return &auctionapi.BidResponse{
		Type:    auctionapi.TypeBidResult,
		Status:  s.statusLocked(),
		Receipt: s.receiptSince(issued),
	}, nil
}

// Settle ends the auction on behalf of caller.
func (s *Service) Settle(ctx context.Context, caller core.Identity) (*auctionapi.SettleResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	winner := s.auction.MaxBidder()
	issued := s.journal.Len()
	if err := s.auction.Settle(ctx, caller); err != nil {
		settlementsTotal.WithLabelValues(outcome(err)).Inc()
		s.logger.Warn("settlement rejected", zap.String("caller", string(caller)), zap.Error(err))
		return nil, err
	}

	settlementsTotal.WithLabelValues("settled").Inc()
	heldFundsGauge.Set(0)
	receiptsIssued.Set(float64(s.journal.Len()))
	s.logger.Info("auction settled",
		zap.String("auction_id", s.auction.ID()),
		zap.String("winner", string(winner)))

	return &auctionapi.SettleResponse{
		Type:    auctionapi.TypeSettleResult,
		Status:  s.statusLocked(),
		Receipt: s.receiptSince(issued),
	}, nil
}

// receiptSince returns the receipt of the operation that just committed, or nil
// if the journal could not issue one.
func (s *Service) receiptSince(issued int) *auctionapi.Receipt {
	if s.journal.Len() <= issued {
		s.logger.Error("operation committed without a receipt", zap.Int("failures", s.journal.Failures()))
		return nil
	}
	r, _ := s.journal.Last()
	return &r
}

// Status returns the current auction state.
func (s *Service) Status() auctionapi.AuctionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Service) statusLocked() auctionapi.AuctionStatus {
	st := s.auction.Snapshot()
	return auctionapi.AuctionStatus{
		Type:        auctionapi.TypeStatus,
		AuctionID:   s.auction.ID(),
		Beneficiary: string(st.Beneficiary),
		MinimumBid:  st.MinimumBid.StringFixed(core.MonetaryPrecision),
		MaxBidder:   string(st.MaxBidder()),
		HeldFunds:   st.HeldFunds.StringFixed(core.MonetaryPrecision),
		Ended:       st.Ended,
		Asset:       st.Asset,
	}
}

// Receipts lists every receipt issued so far.
func (s *Service) Receipts() auctionapi.ReceiptsResponse {
	return auctionapi.ReceiptsResponse{
		Type:     auctionapi.TypeReceipts,
		Receipts: s.journal.Receipts(),
	}
}

// Key returns the daemon's public keys, attested when an NSM is available.
func (s *Service) Key() (*auctionapi.KeyResponse, error) {
	return keys.HandleKeyRequest(s.attester, s.keys, s.auction.ID())
}

// Balance reports the custody balance of id.
func (s *Service) Balance(ctx context.Context, id core.Identity) (*auctionapi.BalanceResponse, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: identity is required", ErrBadRequest)
	}
	bal, err := s.balances.Balance(ctx, id)
	if err != nil {
		return nil, err
	}
	return &auctionapi.BalanceResponse{
		Identity: string(id),
		Balance:  bal.StringFixed(core.MonetaryPrecision),
	}, nil
}

// outcome labels a rejected operation for metrics.
func outcome(err error) string {
	switch {
	case errors.Is(err, core.ErrInvalidBid):
		return "too_low"
	case errors.Is(err, core.ErrBeneficiaryBid):
		return "beneficiary"
	case errors.Is(err, core.ErrDuplicateBidder):
		return "duplicate"
	case errors.Is(err, core.ErrAuctionClosed), errors.Is(err, core.ErrAlreadySettled):
		return "closed"
	case errors.Is(err, core.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, core.ErrTransferFailure):
		return "transfer_failed"
	default:
		return "error"
	}
}
