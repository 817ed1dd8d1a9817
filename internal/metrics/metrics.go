package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsInProgress = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "arbiterd",
		Name:      "jobs_in_progress",
		Help:      "Number of unresolved arbitration jobs.",
	})

	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "arbiterd",
		Name:      "mining_queue_depth",
		Help:      "Number of arbiters currently in the mining queue.",
	})

	DisputesOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "arbiterd",
		Name:      "disputes_opened_total",
		Help:      "Total disputes opened by whitelisted escrow callers.",
	})

	Advances = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbiterd",
		Name:      "advances_total",
		Help:      "Successful advance calls by transition.",
	}, []string{"transition"})

	VotesCast = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "arbiterd",
		Name:      "votes_cast_total",
		Help:      "Total successful vote casts, including re-votes.",
	})

	AppealsRequested = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "arbiterd",
		Name:      "appeals_requested_total",
		Help:      "Total appeals funded against awaiting-appeal jobs.",
	})

	ArbitersSlashed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "arbiterd",
		Name:      "arbiters_slashed_total",
		Help:      "Total arbiters slashed for not voting before the deadline.",
	})

	TriggerPayouts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "arbiterd",
		Name:      "trigger_payouts_total",
		Help:      "Total triggerman payments made from job fee pools.",
	})

	// CustodyBalance is a float approximation; exact accounting lives in the
	// token ledger, this is for dashboards only.
	CustodyBalance = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "arbiterd",
		Name:      "custody_balance",
		Help:      "Approximate token balance held in engine custody.",
	})
)

func init() {
	prometheus.MustRegister(
		JobsInProgress,
		QueueDepth,
		DisputesOpened,
		Advances,
		VotesCast,
		AppealsRequested,
		ArbitersSlashed,
		TriggerPayouts,
		CustodyBalance,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
