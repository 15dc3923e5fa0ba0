// Package metrics exposes wallet activity as Prometheus metrics.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

var (
	prometheusSyncDuration     *prometheus.HistogramVec
	prometheusSyncedOutputs    *prometheus.CounterVec
	prometheusSubmittedTx      *prometheus.CounterVec
	prometheusConsolidations   prometheus.Counter
	prometheusPendingTx        *prometheus.GaugeVec
	prometheusInclusionRetries prometheus.Counter

	// only init the metrics once
	prometheusMetricsInitOnce sync.Once
)

// Init registers the wallet metrics with the default registry. It is safe to
// call more than once.
func Init() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusSyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tanglewallet",
			Name:      "sync_duration_seconds",
			Help:      "Duration of account syncs",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"result"},
	)
	prometheusSyncedOutputs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tanglewallet",
			Name:      "synced_outputs_total",
			Help:      "Outputs found or marked spent by sync",
		},
		[]string{
			"change", // new or spent
		},
	)
	prometheusSubmittedTx = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tanglewallet",
			Name:      "submitted_transactions_total",
			Help:      "Transactions handed to the node",
		},
		[]string{"result"},
	)
	prometheusConsolidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tanglewallet",
			Name:      "consolidations_total",
			Help:      "Consolidation transactions issued",
		},
	)
	prometheusPendingTx = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tanglewallet",
			Name:      "pending_transactions",
			Help:      "Transactions waiting for inclusion per account",
		},
		[]string{"account"},
	)
	prometheusInclusionRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tanglewallet",
			Name:      "inclusion_retries_total",
			Help:      "Promotions and reattachments issued while waiting for inclusion",
		},
	)
}

// ObserveSync records a sync that started at start.
func ObserveSync(start time.Time, result string) {
	Init()
	prometheusSyncDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
}

// AddSyncedOutputs counts outputs a sync discovered and outputs it found spent.
func AddSyncedOutputs(found, spent int) {
	Init()
	prometheusSyncedOutputs.WithLabelValues("new").Add(float64(found))
	prometheusSyncedOutputs.WithLabelValues("spent").Add(float64(spent))
}

// IncSubmitted counts a block submission.
func IncSubmitted(result string) {
	Init()
	prometheusSubmittedTx.WithLabelValues(result).Inc()
}

// IncConsolidations counts an issued consolidation.
func IncConsolidations() {
	Init()
	prometheusConsolidations.Inc()
}

// SetPending sets the number of pending transactions of account.
func SetPending(account string, n int) {
	Init()
	prometheusPendingTx.WithLabelValues(account).Set(float64(n))
}

// IncInclusionRetries counts a promotion or reattachment.
func IncInclusionRetries() {
	Init()
	prometheusInclusionRetries.Inc()
}
