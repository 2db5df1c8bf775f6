// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the betting service counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	operations  *prometheus.CounterVec
	stakeTotal  *prometheus.CounterVec
	feesTotal   prometheus.Counter
	payoutTotal prometheus.Counter
	sweptTotal  prometheus.Counter
	archived    prometheus.Counter
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parimutuel",
			Name:      "operations_total",
			Help:      "Betting operations by name and result.",
		}, []string{"op", "result"}),
		stakeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parimutuel",
			Name:      "stake_base_units_total",
			Help:      "Value staked, in base units, by side.",
		}, []string{"side"}),
		feesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parimutuel",
			Name:      "fees_base_units_total",
			Help:      "Protocol fees collected at resolution.",
		}),
		payoutTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parimutuel",
			Name:      "payouts_base_units_total",
			Help:      "Value paid out to winning bets.",
		}),
		sweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parimutuel",
			Name:      "markets_swept_total",
			Help:      "Markets whose betting flag was cleared by the sweeper.",
		}),
		archived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parimutuel",
			Name:      "settlements_archived_total",
			Help:      "Settlement reports written to object storage.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.operations, m.stakeTotal, m.feesTotal, m.payoutTotal, m.sweptTotal, m.archived,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Op counts one operation outcome. result is "ok" or an error class.
func (m *Metrics) Op(op, result string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, result).Inc()
}

// Stake records value moved into a side pool.
func (m *Metrics) Stake(side string, amount uint64) {
	if m == nil {
		return
	}
	m.stakeTotal.WithLabelValues(side).Add(float64(amount))
}

// Fee records a fee extracted at resolution.
func (m *Metrics) Fee(amount uint64) {
	if m == nil {
		return
	}
	m.feesTotal.Add(float64(amount))
}

// Payout records a claim payout.
func (m *Metrics) Payout(amount uint64) {
	if m == nil {
		return
	}
	m.payoutTotal.Add(float64(amount))
}

// Swept records markets closed by the sweeper.
func (m *Metrics) Swept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweptTotal.Add(float64(n))
}

// Archived records settlement reports uploaded.
func (m *Metrics) Archived(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.archived.Add(float64(n))
}
