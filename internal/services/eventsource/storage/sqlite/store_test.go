package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/aggregate"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/event"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/storage"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/storage/sqlstore"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTempStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), " ")
	require.Error(t, err)
}

func TestEventStore(t *testing.T) {
	storagetest.RunEventStore(t, func(t *testing.T) storage.EventStore { return openTempStore(t) })
}

func TestSnapshotStore(t *testing.T) {
	storagetest.RunSnapshotStore(t, func(t *testing.T) storage.SnapshotStore { return openTempStore(t) })
}

func TestReopenKeepsData(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "events.db")
	ctx := context.Background()

	store, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.AppendEventsToStreams(ctx, []storage.StreamAppend{
		{Stream: "Counter::a", Events: []event.Record{{Kind: "Incremented", Data: []byte(`{"by":1}`)}}, ExpectedVersion: storage.ExpectAny},
	}))
	require.NoError(t, store.SaveSnapshot(ctx, "Counter::a", aggregate.Snapshot{Version: 1, State: []byte(`{"n":1}`)}))
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	records, err := reopened.GetEventsOfStream(ctx, "Counter::a", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.JSONEq(t, `{"by":1}`, string(records[0].Data))

	snapshot, err := reopened.LoadSnapshot(ctx, "Counter::a")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snapshot.Version)
}

func TestSnapshotNeverMovesBackwards(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveSnapshot(ctx, "Counter::a", aggregate.Snapshot{Version: 8, State: []byte(`{"n":8}`)}))
	require.NoError(t, store.SaveSnapshot(ctx, "Counter::a", aggregate.Snapshot{Version: 3, State: []byte(`{"n":3}`)}))

	snapshot, err := store.LoadSnapshot(ctx, "Counter::a")
	require.NoError(t, err)
	assert.Equal(t, uint64(8), snapshot.Version)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, isUniqueViolation(nil))
	assert.False(t, isUniqueViolation(errors.New("disk I/O error")))
	assert.True(t, isUniqueViolation(errors.New("UNIQUE constraint failed: es_events.stream, es_events.version")))
}
