// Package memory provides in-process event and snapshot stores.
package memory

import (
	"context"
	"sync"

	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/aggregate"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/event"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/storage"
)

// Store keeps streams and snapshots in memory. It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	streams   map[string][]event.Record
	snapshots map[string]aggregate.Snapshot
}

var (
	_ storage.EventStore    = (*Store)(nil)
	_ storage.SnapshotStore = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		streams:   make(map[string][]event.Record),
		snapshots: make(map[string]aggregate.Snapshot),
	}
}

// GetEventsOfStream returns copies of the events after fromVersion.
func (s *Store) GetEventsOfStream(ctx context.Context, stream string, fromVersion uint64) ([]event.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.streams[stream]
	if fromVersion >= uint64(len(records)) {
		return []event.Record{}, nil
	}
	out := make([]event.Record, 0, len(records)-int(fromVersion))
	for _, record := range records[fromVersion:] {
		out = append(out, copyRecord(record))
	}
	return out, nil
}

// AppendEventsToStreams checks every precondition before appending anything.
func (s *Store) AppendEventsToStreams(ctx context.Context, appends []storage.StreamAppend) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidateAppends(appends); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range appends {
		current := uint64(len(s.streams[a.Stream]))
		if !a.ExpectedVersion.Satisfied(current) {
			return &storage.ConflictError{Stream: a.Stream, Expected: a.ExpectedVersion, Actual: current}
		}
	}
	for _, a := range appends {
		for _, record := range a.Events {
			s.streams[a.Stream] = append(s.streams[a.Stream], copyRecord(record))
		}
	}
	return nil
}

// StreamVersion returns the number of events in stream.
func (s *Store) StreamVersion(stream string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.streams[stream]))
}

// LoadSnapshot returns storage.ErrNotFound when key has no snapshot.
func (s *Store) LoadSnapshot(ctx context.Context, key string) (aggregate.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return aggregate.Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.snapshots[key]
	if !ok {
		return aggregate.Snapshot{}, storage.ErrNotFound
	}
	return aggregate.Snapshot{Version: snapshot.Version, State: append([]byte(nil), snapshot.State...)}, nil
}

// SaveSnapshot replaces the snapshot stored under key.
func (s *Store) SaveSnapshot(ctx context.Context, key string, snapshot aggregate.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := snapshot.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[key] = aggregate.Snapshot{Version: snapshot.Version, State: append([]byte(nil), snapshot.State...)}
	return nil
}

func copyRecord(record event.Record) event.Record {
	return event.Record{Kind: record.Kind, Data: append([]byte(nil), record.Data...)}
}
