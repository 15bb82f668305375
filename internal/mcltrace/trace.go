// Package mcltrace holds the ambient observability wiring shared across
// the module: a nil-safe Prometheus metrics bundle and the default
// logrus logger construction. None of it affects interpreter semantics
// — every call site here is an optional side channel, modeled on the
// metrics-bundle-threaded-through-the-daemon pattern in moby/moby, one
// of the pack's other examples, which is where prometheus/client_golang
// and sirupsen/logrus are both drawn from.
package mcltrace

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Metrics bundles the gauges and counters a Context optionally reports
// through. A nil *Metrics is valid everywhere a *Metrics is accepted:
// every method below checks for nil first, so the hot allocation path
// pays nothing when metrics are not configured — the same no-cost-when-
// unused posture the teacher applies to its own optional
// experimental/logging hooks.
type Metrics struct {
	heapBytesInUse prometheus.Gauge
	stackDepth     prometheus.Gauge
	relocations    prometheus.Counter
	outOfMemory    prometheus.Counter
}

// NewMetrics constructs a Metrics bundle and registers it with reg. The
// caller supplies instanceID (see mcl.Context.ID) as a constant label so
// metrics from multiple concurrently-embedded contexts in one process
// don't collide.
func NewMetrics(reg prometheus.Registerer, instanceID string) *Metrics {
	labels := prometheus.Labels{"context_id": instanceID}
	m := &Metrics{
		heapBytesInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "mcl",
			Subsystem:   "arena",
			Name:        "heap_bytes_in_use",
			Help:        "Bytes currently occupied by live heap objects.",
			ConstLabels: labels,
		}),
		stackDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "mcl",
			Subsystem:   "arena",
			Name:        "stack_depth",
			Help:        "Number of occupied operand-stack slots.",
			ConstLabels: labels,
		}),
		relocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "mcl",
			Subsystem:   "heap",
			Name:        "relocations_total",
			Help:        "String grow/shrink operations that changed a string's length.",
			ConstLabels: labels,
		}),
		outOfMemory: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "mcl",
			Subsystem:   "arena",
			Name:        "out_of_memory_total",
			Help:        "Number of OutOfMemory throws.",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.heapBytesInUse, m.stackDepth, m.relocations, m.outOfMemory)
	}
	return m
}

// ObserveHeap records the current heap occupancy in bytes.
func (m *Metrics) ObserveHeap(bytesInUse uint32) {
	if m == nil {
		return
	}
	m.heapBytesInUse.Set(float64(bytesInUse))
}

// ObserveStack records the current stack depth in slots.
func (m *Metrics) ObserveStack(depth uint32) {
	if m == nil {
		return
	}
	m.stackDepth.Set(float64(depth))
}

// IncRelocation records one length-changing string grow or shrink.
func (m *Metrics) IncRelocation() {
	if m == nil {
		return
	}
	m.relocations.Inc()
}

// IncOutOfMemory records one OutOfMemory throw.
func (m *Metrics) IncOutOfMemory() {
	if m == nil {
		return
	}
	m.outOfMemory.Inc()
}

// DefaultLogger returns the package-wide logrus logger used when a
// Context is not configured with one explicitly.
func DefaultLogger() logrus.FieldLogger {
	return logrus.StandardLogger()
}
