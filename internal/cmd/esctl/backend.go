package esctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gtriggiano/es-cqrs-utils/internal/platform/log"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/storage"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/storage/badger"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/storage/postgres"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/storage/redis"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/storage/sqlite"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/storage/sqlstore"
)

// backend bundles the stores a run talks to.
type backend struct {
	events    storage.EventStore
	snapshots storage.SnapshotStore
	closers   []io.Closer
}

// Close releases stores in reverse opening order.
func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func openBackend(ctx context.Context, cfg Config) (*backend, error) {
	b := &backend{}
	events, err := openEvents(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b.events = events
	b.closers = append(b.closers, events)

	switch cfg.SnapshotsDriver {
	case SnapshotsDriverNone:
	case SnapshotsDriverEvents:
		b.snapshots = events
	case SnapshotsDriverRedis:
		store, err := redis.Connect(ctx, redis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, log.WithComponent("redis"))
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.snapshots = store
		b.closers = append(b.closers, store)
	case SnapshotsDriverBadger:
		store, err := badger.Open(cfg.BadgerPath)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.snapshots = store
		b.closers = append(b.closers, store)
	default:
		_ = b.Close()
		return nil, fmt.Errorf("unknown snapshots driver %q", cfg.SnapshotsDriver)
	}
	return b, nil
}

func openEvents(ctx context.Context, cfg Config) (*sqlstore.Store, error) {
	switch cfg.EventsDriver {
	case EventsDriverSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create storage dir: %w", err)
			}
		}
		return sqlite.Open(ctx, cfg.SQLitePath)
	case EventsDriverPostgres:
		return postgres.Open(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown events driver %q", cfg.EventsDriver)
	}
}
