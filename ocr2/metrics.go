package ocr2

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	promTransmitCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ocr2",
		Subsystem: "aggregator",
		Name:      "transmit_count",
		Help:      "Number of transmissions processed, by result",
	},
		[]string{"aggregator", "result"},
	)
	promLatestRoundID = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ocr2",
		Subsystem: "aggregator",
		Name:      "latest_round_id",
		Help:      "Latest committed aggregator round id",
	},
		[]string{"aggregator"},
	)
	promReimbursementGjuels = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ocr2",
		Subsystem: "aggregator",
		Name:      "reimbursement_gjuels_total",
		Help:      "Transmission reimbursements accrued to oracles",
	},
		[]string{"aggregator"},
	)
	promPaidOutGjuels = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ocr2",
		Subsystem: "aggregator",
		Name:      "paid_out_gjuels_total",
		Help:      "Tokens transferred out of the vault, by kind of payout",
	},
		[]string{"aggregator", "kind"},
	)
)
