package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	apperrors "github.com/gtriggiano/es-cqrs-utils/internal/platform/errors"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/aggregate"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/event"
)

var (
	// ErrNotFound indicates a missing snapshot.
	ErrNotFound = apperrors.ErrNotFound
	// ErrVersionConflict indicates an expected-version precondition failed.
	ErrVersionConflict = apperrors.ErrVersionConflict
	// ErrEmptyStream indicates an append entry without a stream name.
	ErrEmptyStream = errors.New("stream is required")
)

// ExpectedVersion is the precondition an append places on a stream. Values
// at or above zero require that exact version.
type ExpectedVersion int64

const (
	// ExpectAny appends regardless of the stream's current version.
	ExpectAny ExpectedVersion = -1
	// ExpectExists requires the stream to hold at least one event.
	ExpectExists ExpectedVersion = -2
)

// Satisfied reports whether a stream at version current meets e.
func (e ExpectedVersion) Satisfied(current uint64) bool {
	switch {
	case e == ExpectAny:
		return true
	case e == ExpectExists:
		return current > 0
	case e >= 0:
		return uint64(e) == current
	default:
		return false
	}
}

func (e ExpectedVersion) String() string {
	switch e {
	case ExpectAny:
		return "any"
	case ExpectExists:
		return "exists"
	default:
		return strconv.FormatInt(int64(e), 10)
	}
}

// StreamAppend lists the events to add to one stream.
type StreamAppend struct {
	Stream          string
	Events          []event.Record
	ExpectedVersion ExpectedVersion
}

// EventStore reads and appends stream events.
type EventStore interface {
	// GetEventsOfStream returns the events recorded after fromVersion, in
	// stream order.
	GetEventsOfStream(ctx context.Context, stream string, fromVersion uint64) ([]event.Record, error)
	// AppendEventsToStreams appends every entry or none of them.
	AppendEventsToStreams(ctx context.Context, appends []StreamAppend) error
}

// SnapshotStore persists aggregate snapshots by key.
type SnapshotStore interface {
	// LoadSnapshot returns ErrNotFound when no snapshot is stored.
	LoadSnapshot(ctx context.Context, key string) (aggregate.Snapshot, error)
	SaveSnapshot(ctx context.Context, key string, snapshot aggregate.Snapshot) error
}

// ConflictError reports a failed expected-version precondition.
type ConflictError struct {
	Stream   string
	Expected ExpectedVersion
	Actual   uint64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("stream %s: expected version %s, actual %d", e.Stream, e.Expected, e.Actual)
}

// Is matches ErrVersionConflict.
func (e *ConflictError) Is(target error) bool {
	return errors.Is(ErrVersionConflict, target)
}

// ValidateAppends checks the shape of an append batch. Streams may appear at
// most once.
func ValidateAppends(appends []StreamAppend) error {
	seen := make(map[string]struct{}, len(appends))
	for _, a := range appends {
		if a.Stream == "" {
			return ErrEmptyStream
		}
		if _, dup := seen[a.Stream]; dup {
			return fmt.Errorf("stream %s appears more than once", a.Stream)
		}
		seen[a.Stream] = struct{}{}
		if a.ExpectedVersion < ExpectExists {
			return fmt.Errorf("stream %s: invalid expected version %d", a.Stream, a.ExpectedVersion)
		}
		for i, record := range a.Events {
			if record.Kind == "" {
				return fmt.Errorf("stream %s: event %d has no kind", a.Stream, i)
			}
		}
	}
	return nil
}
