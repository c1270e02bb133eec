package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type LendingMetrics struct {
	rpcRequests  *prometheus.CounterVec
	rpcDuration  *prometheus.HistogramVec
	liquidations *prometheus.CounterVec
	utilisation  *prometheus.GaugeVec
	throttles    *prometheus.CounterVec
}

var (
	lendingOnce     sync.Once
	lendingRegistry *LendingMetrics
)

// Lending returns the process wide lending collectors, registering them on
// first use.
func Lending() *LendingMetrics {
	lendingOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lendhub_rpc_requests_total",
				Help: "Count of lending RPC requests by method and outcome.",
			}, []string{"method", "outcome"}),
			rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "lendhub_rpc_request_duration_seconds",
				Help:    "Latency of lending RPC requests by method.",
				Buckets: prometheus.DefBuckets,
			}, []string{"method"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lendhub_liquidations_total",
				Help: "Count of successful liquidations by loan type.",
			}, []string{"loan_type"}),
			utilisation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lendhub_pool_utilisation",
				Help: "Debt over deposits ratio of each pool after the last committed operation.",
			}, []string{"loan_type", "pool"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lendhub_rpc_throttles_total",
				Help: "Count of RPC requests rejected before dispatch, by reason.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			lendingRegistry.rpcRequests,
			lendingRegistry.rpcDuration,
			lendingRegistry.liquidations,
			lendingRegistry.utilisation,
			lendingRegistry.throttles,
		)
	})
	return lendingRegistry
}

func (m *LendingMetrics) ObserveRPC(method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	m.rpcRequests.WithLabelValues(method, outcome).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *LendingMetrics) ObserveLiquidation(loanType uint16) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(strconv.FormatUint(uint64(loanType), 10)).Inc()
}

func (m *LendingMetrics) SetPoolUtilisation(loanType uint16, pool uint8, ratio float64) {
	if m == nil {
		return
	}
	m.utilisation.WithLabelValues(strconv.FormatUint(uint64(loanType), 10), strconv.FormatUint(uint64(pool), 10)).Set(ratio)
}

// RecordThrottle counts a request refused by the rate limiter or the
// authenticator. Reasons should be stable strings such as "rate_limit".
func (m *LendingMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}
