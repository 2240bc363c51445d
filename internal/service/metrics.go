package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bidsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_bids_total",
		Help: "Bids submitted to the ledger, labeled by result",
	}, []string{"result"})

	withdrawalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_withdrawals_total",
		Help: "Withdrawal attempts, labeled by result",
	}, []string{"result"})

	highBid = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auction_high_bid",
		Help: "Current high bid in the smallest currency unit",
	})
)
