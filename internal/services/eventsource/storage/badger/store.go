// Package badger provides an embedded snapshot store on Badger.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/aggregate"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/storage"
)

const keyPrefix = "snap:"

// versionSize is the width of the big-endian version header on each value.
const versionSize = 8

// Store implements storage.SnapshotStore on a Badger database.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) a Badger database at path.
func Open(path string) (*Store, error) {
	return open(badger.DefaultOptions(path))
}

// OpenInMemory opens a Badger database that lives only in memory.
func OpenInMemory() (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true))
}

func open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LoadSnapshot returns storage.ErrNotFound when key holds no snapshot.
func (s *Store) LoadSnapshot(ctx context.Context, key string) (aggregate.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return aggregate.Snapshot{}, err
	}
	var out aggregate.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			snapshot, err := decodeValue(val)
			if err != nil {
				return err
			}
			out = snapshot
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return aggregate.Snapshot{}, storage.ErrNotFound
	}
	if err != nil {
		return aggregate.Snapshot{}, fmt.Errorf("load snapshot %q: %w", key, err)
	}
	return out, nil
}

// SaveSnapshot stores snapshot under key unless a newer one is already there.
func (s *Store) SaveSnapshot(ctx context.Context, key string, snapshot aggregate.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := snapshot.Validate(); err != nil {
		return err
	}
	dbKey := []byte(keyPrefix + key)
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(dbKey)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			var current uint64
			if err := item.Value(func(val []byte) error {
				if len(val) < versionSize {
					return nil
				}
				current = binary.BigEndian.Uint64(val[:versionSize])
				return nil
			}); err != nil {
				return err
			}
			if current > snapshot.Version {
				return nil
			}
		}
		return txn.Set(dbKey, encodeValue(snapshot))
	})
	if err != nil {
		return fmt.Errorf("save snapshot %q: %w", key, err)
	}
	return nil
}

func encodeValue(snapshot aggregate.Snapshot) []byte {
	buf := make([]byte, versionSize+len(snapshot.State))
	binary.BigEndian.PutUint64(buf, snapshot.Version)
	copy(buf[versionSize:], snapshot.State)
	return buf
}

func decodeValue(val []byte) (aggregate.Snapshot, error) {
	if len(val) < versionSize {
		return aggregate.Snapshot{}, fmt.Errorf("snapshot value too short: %d bytes", len(val))
	}
	return aggregate.Snapshot{
		Version: binary.BigEndian.Uint64(val[:versionSize]),
		State:   append([]byte(nil), val[versionSize:]...),
	}, nil
}
