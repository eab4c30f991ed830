// Package sqlstore implements the event and snapshot stores on database/sql.
// Dialect packages supply placeholders, locking and error classification.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gtriggiano/es-cqrs-utils/internal/platform/storage/sqlmigrate"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/aggregate"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/event"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/storage"
)

// Dialect captures what differs between SQL backends.
type Dialect struct {
	Name        string
	Placeholder sqlmigrate.Placeholder
	// LockStream, when set, is executed inside the append transaction before
	// the stream version is read. It receives the stream as its only
	// parameter.
	LockStream string
	// IsUniqueViolation reports primary key or unique constraint failures.
	IsUniqueViolation func(error) bool
}

// Store persists events in es_events and snapshots in es_snapshots.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
	newID   func() string
}

var (
	_ storage.EventStore    = (*Store)(nil)
	_ storage.SnapshotStore = (*Store)(nil)
)

// New wraps an open, migrated database.
func New(db *sql.DB, dialect Dialect) *Store {
	if dialect.Placeholder == nil {
		dialect.Placeholder = sqlmigrate.QuestionPlaceholder
	}
	if dialect.IsUniqueViolation == nil {
		dialect.IsUniqueViolation = func(error) bool { return false }
	}
	return &Store{
		db:      db,
		dialect: dialect,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) p(n int) string {
	return s.dialect.Placeholder(n)
}

// GetEventsOfStream returns the events after fromVersion in version order.
func (s *Store) GetEventsOfStream(ctx context.Context, stream string, fromVersion uint64) ([]event.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	query := fmt.Sprintf(
		"SELECT kind, data FROM es_events WHERE stream = %s AND version > %s ORDER BY version",
		s.p(1), s.p(2),
	)
	rows, err := s.db.QueryContext(ctx, query, stream, int64(fromVersion))
	if err != nil {
		return nil, fmt.Errorf("query events of %s: %w", stream, err)
	}
	defer rows.Close()

	records := []event.Record{}
	for rows.Next() {
		var kind string
		var data []byte
		if err := rows.Scan(&kind, &data); err != nil {
			return nil, fmt.Errorf("scan event of %s: %w", stream, err)
		}
		records = append(records, event.Record{Kind: event.Kind(kind), Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events of %s: %w", stream, err)
	}
	return records, nil
}

// AppendEventsToStreams writes every entry in one transaction.
func (s *Store) AppendEventsToStreams(ctx context.Context, appends []storage.StreamAppend) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if err := storage.ValidateAppends(appends); err != nil {
		return err
	}
	if len(appends) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Streams are locked in name order so concurrent batches cannot deadlock.
	ordered := slices.Clone(appends)
	slices.SortFunc(ordered, func(a, b storage.StreamAppend) int { return strings.Compare(a.Stream, b.Stream) })

	recordedAt := s.now().UTC().UnixMilli()
	for _, a := range ordered {
		if err := s.appendStream(ctx, tx, a, recordedAt); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return batchConflict(ordered, err)
		}
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// batchConflict reports a unique violation raised at commit, where the
// driver no longer says which stream lost the race.
func batchConflict(ordered []storage.StreamAppend, cause error) error {
	streams := make([]string, len(ordered))
	for i, a := range ordered {
		streams[i] = a.Stream
	}
	return fmt.Errorf("commit append to [%s]: %w: %w", strings.Join(streams, ", "), storage.ErrVersionConflict, cause)
}

func (s *Store) appendStream(ctx context.Context, tx *sql.Tx, a storage.StreamAppend, recordedAt int64) error {
	if s.dialect.LockStream != "" {
		if _, err := tx.ExecContext(ctx, s.dialect.LockStream, a.Stream); err != nil {
			return fmt.Errorf("lock stream %s: %w", a.Stream, err)
		}
	}

	var current int64
	versionQuery := fmt.Sprintf("SELECT COALESCE(MAX(version), 0) FROM es_events WHERE stream = %s", s.p(1))
	if err := tx.QueryRowContext(ctx, versionQuery, a.Stream).Scan(&current); err != nil {
		return fmt.Errorf("read version of %s: %w", a.Stream, err)
	}
	if !a.ExpectedVersion.Satisfied(uint64(current)) {
		return &storage.ConflictError{Stream: a.Stream, Expected: a.ExpectedVersion, Actual: uint64(current)}
	}

	insert := fmt.Sprintf(
		"INSERT INTO es_events (stream, version, event_id, kind, data, recorded_at) VALUES (%s, %s, %s, %s, %s, %s)",
		s.p(1), s.p(2), s.p(3), s.p(4), s.p(5), s.p(6),
	)
	for i, record := range a.Events {
		data := record.Data
		if data == nil {
			data = []byte{}
		}
		version := current + int64(i) + 1
		if _, err := tx.ExecContext(ctx, insert, a.Stream, version, s.newID(), string(record.Kind), data, recordedAt); err != nil {
			if s.dialect.IsUniqueViolation(err) {
				return &storage.ConflictError{Stream: a.Stream, Expected: a.ExpectedVersion, Actual: uint64(current)}
			}
			return fmt.Errorf("insert event %d of %s: %w", version, a.Stream, err)
		}
	}
	return nil
}

// LoadSnapshot returns storage.ErrNotFound when key has no snapshot.
func (s *Store) LoadSnapshot(ctx context.Context, key string) (aggregate.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return aggregate.Snapshot{}, err
	}
	if s == nil || s.db == nil {
		return aggregate.Snapshot{}, fmt.Errorf("storage is not configured")
	}
	query := fmt.Sprintf("SELECT version, state FROM es_snapshots WHERE snapshot_key = %s", s.p(1))
	var version int64
	var state []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&version, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return aggregate.Snapshot{}, storage.ErrNotFound
	}
	if err != nil {
		return aggregate.Snapshot{}, fmt.Errorf("load snapshot %s: %w", key, err)
	}
	if state == nil {
		state = []byte{}
	}
	return aggregate.Snapshot{Version: uint64(version), State: state}, nil
}

// SaveSnapshot upserts the snapshot under key. An older version never
// replaces a newer one.
func (s *Store) SaveSnapshot(ctx context.Context, key string, snapshot aggregate.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if err := snapshot.Validate(); err != nil {
		return err
	}
	upsert := fmt.Sprintf(
		`INSERT INTO es_snapshots (snapshot_key, version, state, updated_at) VALUES (%s, %s, %s, %s)
		 ON CONFLICT (snapshot_key) DO UPDATE SET
		   version = excluded.version,
		   state = excluded.state,
		   updated_at = excluded.updated_at
		 WHERE es_snapshots.version <= excluded.version`,
		s.p(1), s.p(2), s.p(3), s.p(4),
	)
	if _, err := s.db.ExecContext(ctx, upsert, key, int64(snapshot.Version), snapshot.State, s.now().UTC().UnixMilli()); err != nil {
		return fmt.Errorf("save snapshot %s: %w", key, err)
	}
	return nil
}
