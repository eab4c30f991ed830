// Package metrics exposes Prometheus instrumentation for aggregate loading,
// saving and snapshot maintenance.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "escqrs"

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeConflict = "conflict"
	OutcomeHit      = "hit"
	OutcomeMiss     = "miss"
)

// Metrics groups the repository collectors. A nil *Metrics records nothing.
type Metrics struct {
	loads          *prometheus.CounterVec
	loadDuration   *prometheus.HistogramVec
	saves          *prometheus.CounterVec
	appendedEvents *prometheus.CounterVec
	snapshotReads  *prometheus.CounterVec
	snapshotWrites *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		loads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregate_loads_total",
			Help:      "Aggregate loads by aggregate type and outcome",
		}, []string{"aggregate_type", "outcome"}),
		loadDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregate_load_duration_seconds",
			Help:      "Time spent reading and replaying one aggregate",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"aggregate_type"}),
		saves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "save_batches_total",
			Help:      "Repository save batches by outcome",
		}, []string{"outcome"}),
		appendedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appended_events_total",
			Help:      "Events committed by aggregate type",
		}, []string{"aggregate_type"}),
		snapshotReads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_reads_total",
			Help:      "Snapshot lookups by outcome (hit, miss, error)",
		}, []string{"outcome"}),
		snapshotWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_writes_total",
			Help:      "Snapshot refreshes by outcome (ok, error)",
		}, []string{"outcome"}),
	}
}

// ObserveLoad records one aggregate load.
func (m *Metrics) ObserveLoad(aggregateType string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	aggregateType = normalizeTypeLabel(aggregateType)
	m.loads.WithLabelValues(aggregateType, outcome(err)).Inc()
	m.loadDuration.WithLabelValues(aggregateType).Observe(elapsed.Seconds())
}

// ObserveSave records one save batch. conflict marks failures caused by an
// expected-version mismatch.
func (m *Metrics) ObserveSave(err error, conflict bool) {
	if m == nil {
		return
	}
	switch {
	case err == nil:
		m.saves.WithLabelValues(OutcomeOK).Inc()
	case conflict:
		m.saves.WithLabelValues(OutcomeConflict).Inc()
	default:
		m.saves.WithLabelValues(OutcomeError).Inc()
	}
}

// AddAppendedEvents counts committed events for an aggregate type.
func (m *Metrics) AddAppendedEvents(aggregateType string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.appendedEvents.WithLabelValues(normalizeTypeLabel(aggregateType)).Add(float64(n))
}

// ObserveSnapshotRead records a snapshot lookup outcome.
func (m *Metrics) ObserveSnapshotRead(result string) {
	if m == nil {
		return
	}
	switch result {
	case OutcomeHit, OutcomeMiss, OutcomeError:
	default:
		result = OutcomeError
	}
	m.snapshotReads.WithLabelValues(result).Inc()
}

// ObserveSnapshotWrite records a snapshot refresh.
func (m *Metrics) ObserveSnapshotWrite(err error) {
	if m == nil {
		return
	}
	m.snapshotWrites.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}

func normalizeTypeLabel(aggregateType string) string {
	aggregateType = strings.TrimSpace(aggregateType)
	if aggregateType == "" {
		return "unknown"
	}
	return aggregateType
}
