// Package telemetry is a thin abstraction over Prometheus so tricache can be
// used with or without metrics: pass a *prometheus.Registry via
// Config.Registry and labeled collectors are registered; otherwise a no-op
// sink is used and the hot path pays nothing for metric updates.
package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Tier identifies which cache level a metric event originated from.
type Tier uint8

const (
	TierDirect Tier = iota
	TierPrivate
	TierShared
)

func (t Tier) String() string {
	switch t {
	case TierDirect:
		return "direct"
	case TierPrivate:
		return "private"
	case TierShared:
		return "shared"
	default:
		return "unknown"
	}
}

// Sink is the abstraction Cache/shard/client code reports events through.
// Concrete implementations are a no-op and a Prometheus-backed one; callers
// only ever see this interface.
type Sink interface {
	IncHit(tier Tier, shard int)
	IncMiss(tier Tier, shard int)
	IncEvict(tier Tier, shard int)
	IncOOM(shard int)
	ObserveBackendLatencySeconds(shard int, seconds float64)
}

type noopSink struct{}

func (noopSink) IncHit(Tier, int)                           {}
func (noopSink) IncMiss(Tier, int)                          {}
func (noopSink) IncEvict(Tier, int)                         {}
func (noopSink) IncOOM(int)                                 {}
func (noopSink) ObserveBackendLatencySeconds(int, float64)   {}

// Noop is a Sink that discards every event; the default when no registry is
// configured.
var Noop Sink = noopSink{}

type promSink struct {
	hits      *prometheus.CounterVec
	misses    *prometheus.CounterVec
	evictions *prometheus.CounterVec
	ooms      *prometheus.CounterVec
	backendLatency *prometheus.HistogramVec
}

// NewPrometheus registers tricache's collectors against reg and returns a
// Sink backed by them. reg must be non-nil.
func NewPrometheus(reg *prometheus.Registry) Sink {
	labels := []string{"tier", "shard"}
	ps := &promSink{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tricache",
			Name:      "hits_total",
			Help:      "Number of cache hits, by tier and shard.",
		}, labels),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tricache",
			Name:      "misses_total",
			Help:      "Number of cache misses, by tier and shard.",
		}, labels),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tricache",
			Name:      "evictions_total",
			Help:      "Number of pages evicted, by tier and shard.",
		}, labels),
		ooms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tricache",
			Name:      "out_of_memory_total",
			Help:      "Number of Pin attempts that failed with out-of-memory, by shard.",
		}, []string{"shard"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tricache",
			Name:      "backend_io_seconds",
			Help:      "Observed latency of backend Read/Write completion, by shard.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"shard"}),
	}
	reg.MustRegister(ps.hits, ps.misses, ps.evictions, ps.ooms, ps.backendLatency)
	return ps
}

func (p *promSink) IncHit(tier Tier, shard int) {
	p.hits.WithLabelValues(tier.String(), strconv.Itoa(shard)).Inc()
}

func (p *promSink) IncMiss(tier Tier, shard int) {
	p.misses.WithLabelValues(tier.String(), strconv.Itoa(shard)).Inc()
}

func (p *promSink) IncEvict(tier Tier, shard int) {
	p.evictions.WithLabelValues(tier.String(), strconv.Itoa(shard)).Inc()
}

func (p *promSink) IncOOM(shard int) {
	p.ooms.WithLabelValues(strconv.Itoa(shard)).Inc()
}

func (p *promSink) ObserveBackendLatencySeconds(shard int, seconds float64) {
	p.backendLatency.WithLabelValues(strconv.Itoa(shard)).Observe(seconds)
}

var _ Sink = (*promSink)(nil)
