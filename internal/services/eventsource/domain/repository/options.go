package repository

import (
	"time"

	"github.com/gtriggiano/es-cqrs-utils/internal/platform/timeouts"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/observability/metrics"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/storage"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// DefaultSnapshotTimeout bounds a detached snapshot refresh.
const DefaultSnapshotTimeout = timeouts.SnapshotRefresh

// Option customizes a Repository.
type Option func(*Repository)

// WithSnapshotStore enables snapshot lookups and refreshes.
func WithSnapshotStore(store storage.SnapshotStore) Option {
	return func(r *Repository) { r.snapshots = store }
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Repository) { r.logger = logger }
}

// WithMetrics records loads, saves and snapshot activity.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Repository) { r.metrics = m }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Repository) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// WithSnapshotTimeout bounds each detached snapshot refresh.
func WithSnapshotTimeout(timeout time.Duration) Option {
	return func(r *Repository) {
		if timeout > 0 {
			r.snapshotTimeout = timeout
		}
	}
}
