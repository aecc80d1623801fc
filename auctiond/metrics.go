package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bidsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_bids_total",
			Help: "Bids by outcome.",
		},
		[]string{"outcome"},
	)
	settlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_settlements_total",
			Help: "Settlement attempts by outcome.",
		},
		[]string{"outcome"},
	)
	heldFundsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auction_held_funds",
		Help: "Funds currently held in escrow for the leader.",
	})
	receiptsIssued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auction_receipts_issued",
		Help: "Signed receipts in the journal.",
	})
	socketRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_socket_requests_total",
			Help: "Socket requests by type.",
		},
		[]string{"type"},
	)
	socketRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auction_socket_rejected_total",
		Help: "Socket connections rejected because the worker pool was full.",
	})
)
