package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/gtriggiano/es-cqrs-utils/internal/platform/errors"
	"github.com/gtriggiano/es-cqrs-utils/internal/platform/log"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/aggregate"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/consistency"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/event"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/observability/metrics"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/storage"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/repository"

// ErrEventStoreRequired indicates a repository built without an event store.
var ErrEventStoreRequired = errors.New("event store is required")

// Repository coordinates aggregate loads and saves.
type Repository struct {
	events          storage.EventStore
	snapshots       storage.SnapshotStore
	logger          zerolog.Logger
	metrics         *metrics.Metrics
	tracer          trace.Tracer
	snapshotTimeout time.Duration

	refreshes sync.WaitGroup
}

// New builds a repository over events.
func New(events storage.EventStore, opts ...Option) (*Repository, error) {
	if events == nil {
		return nil, ErrEventStoreRequired
	}
	r := &Repository{
		events:          events,
		logger:          log.WithComponent("repository"),
		tracer:          otel.Tracer(tracerName),
		snapshotTimeout: DefaultSnapshotTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Wait blocks until every in-flight snapshot refresh has finished.
func (r *Repository) Wait() {
	r.refreshes.Wait()
}

// Load hydrates every root concurrently. The batch fails with the first
// error; results keep the input order.
func (r *Repository) Load(ctx context.Context, roots []aggregate.Root) ([]aggregate.Root, error) {
	ctx, span := r.tracer.Start(ctx, "eventsource.repository.Load",
		trace.WithAttributes(attribute.Int("eventsource.aggregates", len(roots))))
	defer span.End()

	loaded, err := r.load(ctx, roots)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return nil, err
	}
	return loaded, nil
}

func (r *Repository) load(ctx context.Context, roots []aggregate.Root) ([]aggregate.Root, error) {
	if err := checkNotNil(roots); err != nil {
		return nil, err
	}
	results := make([]aggregate.Root, len(roots))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, root := range roots {
		group.Go(func() error {
			loaded, err := r.loadOne(groupCtx, root)
			if err != nil {
				return err
			}
			results[i] = loaded
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Repository) loadOne(ctx context.Context, root aggregate.Root) (loaded aggregate.Root, err error) {
	start := time.Now()
	defer func() { r.metrics.ObserveLoad(root.TypeName(), time.Since(start), err) }()

	logger := r.logger.With().
		Str("aggregate_type", root.TypeName()).
		Str("stream", root.Stream()).
		Logger()

	snapshot := r.lookupSnapshot(ctx, root, logger)
	var from uint64
	if snapshot != nil {
		from = snapshot.Version
	}

	records, err := r.events.GetEventsOfStream(ctx, root.Stream(), from)
	if err != nil {
		return nil, aggregate.LoadingError(root.TypeName(), root.Stream(), root.ID(), "", err)
	}

	loaded, err = root.Rebuild(snapshot, records)
	if err != nil && snapshot != nil && errors.Is(err, apperrors.ErrStateSerialization) {
		logger.Warn().Err(err).Str("snapshot_key", root.SnapshotKey()).Msg("discarding unreadable snapshot")
		snapshot = nil
		records, err = r.events.GetEventsOfStream(ctx, root.Stream(), 0)
		if err != nil {
			return nil, aggregate.LoadingError(root.TypeName(), root.Stream(), root.ID(), "", err)
		}
		loaded, err = root.Rebuild(nil, records)
	}
	if err != nil {
		if errors.Is(err, apperrors.ErrAggregateLoading) {
			return nil, err
		}
		return nil, aggregate.LoadingError(root.TypeName(), root.Stream(), root.ID(), "", err)
	}

	if loaded.NeedsSnapshot() && r.snapshots != nil {
		r.refreshSnapshot(ctx, loaded, logger)
	}
	return loaded, nil
}

func (r *Repository) lookupSnapshot(ctx context.Context, root aggregate.Root, logger zerolog.Logger) *aggregate.Snapshot {
	if r.snapshots == nil {
		return nil
	}
	key := root.SnapshotKey()
	snapshot, err := r.snapshots.LoadSnapshot(ctx, key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		r.metrics.ObserveSnapshotRead(metrics.OutcomeMiss)
		logger.Debug().Str("snapshot_key", key).Msg("snapshot miss")
		return nil
	case err != nil:
		r.metrics.ObserveSnapshotRead(metrics.OutcomeError)
		logger.Warn().Err(err).Str("snapshot_key", key).Msg("snapshot lookup failed, replaying full stream")
		return nil
	}
	if err := snapshot.Validate(); err != nil {
		r.metrics.ObserveSnapshotRead(metrics.OutcomeError)
		logger.Warn().Err(err).Str("snapshot_key", key).Msg("ignoring malformed snapshot")
		return nil
	}
	r.metrics.ObserveSnapshotRead(metrics.OutcomeHit)
	return &snapshot
}

// refreshSnapshot stores the loaded state in the background. The write is
// detached from ctx cancellation and bounded by the snapshot timeout.
func (r *Repository) refreshSnapshot(ctx context.Context, loaded aggregate.Root, logger zerolog.Logger) {
	key := loaded.SnapshotKey()
	snapshot, err := loaded.Snapshot()
	if err != nil {
		r.metrics.ObserveSnapshotWrite(err)
		logger.Warn().Err(err).Str("snapshot_key", key).Msg("snapshot refresh skipped")
		return
	}

	detached := context.WithoutCancel(ctx)
	r.refreshes.Add(1)
	go func() {
		defer r.refreshes.Done()
		saveCtx, cancel := context.WithTimeout(detached, r.snapshotTimeout)
		defer cancel()

		err := r.snapshots.SaveSnapshot(saveCtx, key, snapshot)
		r.metrics.ObserveSnapshotWrite(err)
		if err != nil {
			logger.Warn().Err(err).Str("snapshot_key", key).Uint64("version", snapshot.Version).Msg("snapshot refresh failed")
			return
		}
		logger.Debug().Str("snapshot_key", key).Uint64("version", snapshot.Version).Msg("snapshot refreshed")
	}()
}

// Save commits the staged events of every dirty root in one multi-stream
// append, then reloads the whole batch. On failure the inputs are left as
// they were.
func (r *Repository) Save(ctx context.Context, roots []aggregate.Root) ([]aggregate.Root, error) {
	ctx, span := r.tracer.Start(ctx, "eventsource.repository.Save",
		trace.WithAttributes(attribute.Int("eventsource.aggregates", len(roots))))
	defer span.End()

	saved, err := r.save(ctx, roots, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		return nil, err
	}
	return saved, nil
}

func (r *Repository) save(ctx context.Context, roots []aggregate.Root, span trace.Span) ([]aggregate.Root, error) {
	if err := checkDistinctStreams(roots); err != nil {
		return nil, err
	}

	appends, counts, err := buildAppends(roots)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("eventsource.dirty_streams", len(appends)))

	if len(appends) > 0 {
		if err := r.events.AppendEventsToStreams(ctx, appends); err != nil {
			conflict := errors.Is(err, storage.ErrVersionConflict)
			r.metrics.ObserveSave(err, conflict)
			if conflict {
				r.logger.Info().Err(err).Strs("streams", streamsOf(appends)).Msg("commit rejected by version check")
			} else {
				r.logger.Error().Err(err).Strs("streams", streamsOf(appends)).Msg("commit failed")
			}
			return nil, SavingError(appends, err)
		}
		r.metrics.ObserveSave(nil, false)
		for typeName, n := range counts {
			r.metrics.AddAppendedEvents(typeName, n)
		}
	}

	return r.load(ctx, roots)
}

func checkDistinctStreams(roots []aggregate.Root) error {
	if err := checkNotNil(roots); err != nil {
		return err
	}
	seen := make(map[string]int, len(roots))
	for i, root := range roots {
		if first, dup := seen[root.Stream()]; dup {
			return apperrors.WithMetadata(apperrors.CodeConfiguration,
				fmt.Sprintf("aggregates at positions %d and %d share stream %s", first, i, root.Stream()),
				map[string]string{"stream": root.Stream()})
		}
		seen[root.Stream()] = i
	}
	return nil
}

func checkNotNil(roots []aggregate.Root) error {
	for i, root := range roots {
		if root == nil {
			return apperrors.New(apperrors.CodeConfiguration, fmt.Sprintf("aggregate at position %d is nil", i))
		}
	}
	return nil
}

func buildAppends(roots []aggregate.Root) ([]storage.StreamAppend, map[string]int, error) {
	var appends []storage.StreamAppend
	counts := make(map[string]int)
	for _, root := range roots {
		if !root.Dirty() {
			continue
		}
		expected, err := ExpectedVersion(root.Consistency(), root.Version())
		if err != nil {
			return nil, nil, err
		}
		staged := root.Staged()
		records := make([]event.Record, len(staged))
		for i, s := range staged {
			records[i] = s.Record()
		}
		appends = append(appends, storage.StreamAppend{
			Stream:          root.Stream(),
			Events:          records,
			ExpectedVersion: expected,
		})
		counts[root.TypeName()] += len(records)
	}
	return appends, counts, nil
}

// ExpectedVersion maps a consistency requirement to the append
// precondition for an aggregate loaded at version.
func ExpectedVersion(requirement consistency.Requirement, version uint64) (storage.ExpectedVersion, error) {
	switch requirement {
	case consistency.None:
		return storage.ExpectAny, nil
	case consistency.MustExist:
		return storage.ExpectExists, nil
	case consistency.MustMatchVersion:
		return storage.ExpectedVersion(version), nil
	default:
		return 0, fmt.Errorf("invalid consistency requirement %d", requirement)
	}
}

// SavingError wraps a failed commit.
func SavingError(appends []storage.StreamAppend, cause error) error {
	streams := streamsOf(appends)
	return apperrors.WrapWithMetadata(apperrors.CodeAggregateSaving,
		fmt.Sprintf("save %d streams", len(streams)),
		map[string]string{"streams": strings.Join(streams, ",")}, cause)
}

func streamsOf(appends []storage.StreamAppend) []string {
	streams := make([]string, len(appends))
	for i, a := range appends {
		streams[i] = a.Stream
	}
	return streams
}
