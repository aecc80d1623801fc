package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cloudx-io/escrowauction/auctionapi"
	"github.com/cloudx-io/escrowauction/core"
)

// CallerHeader carries the caller identity. It is trusted as sent; the
// fronting proxy must authenticate callers and overwrite it.
const CallerHeader = "X-Auction-Caller"

// maxBodyBytes bounds request bodies; an encrypted bid is well under this.
const maxBodyBytes = 64 << 10

// HTTPHandler serves the auction over HTTP.
type HTTPHandler struct {
	service *Service
	logger  *zap.Logger
}

// NewHTTPHandler returns a handler for service.
func NewHTTPHandler(service *Service, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{service: service, logger: logger}
}

// Router returns the daemon's HTTP routes.
func (h *HTTPHandler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	r.Get("/auction", h.handleStatus)
	r.Post("/bid", h.handleBid)
	r.Post("/settle", h.handleSettle)
	r.Get("/receipts", h.handleReceipts)
	r.Get("/key", h.handleKey)
	r.Get("/balances/{id}", h.handleBalance)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.service.Status())
}

func (h *HTTPHandler) handleBid(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req auctionapi.BidRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("%w: failed to parse bid: %v", ErrBadRequest, err))
		return
	}

	resp, err := h.service.Bid(r.Context(), core.Identity(r.Header.Get(CallerHeader)), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) handleSettle(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Settle(r.Context(), core.Identity(r.Header.Get(CallerHeader)))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) handleReceipts(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.service.Receipts())
}

func (h *HTTPHandler) handleKey(w http.ResponseWriter, _ *http.Request) {
	resp, err := h.service.Key()
	if err != nil {
		h.logger.Error("key request failed", zap.Error(err))
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) handleBalance(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Balance(r.Context(), core.Identity(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status, _ := classify(err)
	h.writeJSON(w, status, errorResponse(err))
}

// classify maps an error to an HTTP status and a stable error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, core.ErrInvalidBid):
		return http.StatusBadRequest, "invalid_bid"
	case errors.Is(err, core.ErrBeneficiaryBid):
		return http.StatusBadRequest, "beneficiary_bid"
	case errors.Is(err, core.ErrDuplicateBidder):
		return http.StatusBadRequest, "duplicate_bidder"
	case errors.Is(err, core.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, core.ErrAuctionClosed):
		return http.StatusConflict, "auction_closed"
	case errors.Is(err, core.ErrAlreadySettled):
		return http.StatusConflict, "already_settled"
	case errors.Is(err, core.ErrReentrantCall):
		return http.StatusConflict, "reentrant_call"
	case errors.Is(err, core.ErrTransferFailure):
		return http.StatusBadGateway, "transfer_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
