// Package storagetest holds behaviour checks shared by every event and
// snapshot store implementation.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/aggregate"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/event"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func records(kinds ...string) []event.Record {
	out := make([]event.Record, len(kinds))
	for i, kind := range kinds {
		out[i] = event.Record{Kind: event.Kind(kind), Data: []byte(fmt.Sprintf(`{"i":%d}`, i))}
	}
	return out
}

// RunEventStore checks the EventStore contract. newStore must return an
// empty store.
func RunEventStore(t *testing.T, newStore func(t *testing.T) storage.EventStore) {
	t.Helper()

	t.Run("empty stream", func(t *testing.T) {
		store := newStore(t)
		got, err := store.GetEventsOfStream(context.Background(), "Counter::missing", 0)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("append and read in order", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.AppendEventsToStreams(ctx, []storage.StreamAppend{
			{Stream: "Counter::a", Events: records("Incremented", "Incremented"), ExpectedVersion: storage.ExpectAny},
		}))
		require.NoError(t, store.AppendEventsToStreams(ctx, []storage.StreamAppend{
			{Stream: "Counter::a", Events: records("Reset"), ExpectedVersion: 2},
		}))

		got, err := store.GetEventsOfStream(ctx, "Counter::a", 0)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, event.Kind("Incremented"), got[0].Kind)
		assert.Equal(t, event.Kind("Reset"), got[2].Kind)
		assert.JSONEq(t, `{"i":0}`, string(got[0].Data))
		assert.JSONEq(t, `{"i":1}`, string(got[1].Data))

		tail, err := store.GetEventsOfStream(ctx, "Counter::a", 2)
		require.NoError(t, err)
		require.Len(t, tail, 1)
		assert.Equal(t, event.Kind("Reset"), tail[0].Kind)

		beyond, err := store.GetEventsOfStream(ctx, "Counter::a", 10)
		require.NoError(t, err)
		assert.Empty(t, beyond)
	})

	t.Run("expected version checks", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		err := store.AppendEventsToStreams(ctx, []storage.StreamAppend{
			{Stream: "Counter::b", Events: records("Incremented"), ExpectedVersion: storage.ExpectExists},
		})
		requireConflict(t, err)

		require.NoError(t, store.AppendEventsToStreams(ctx, []storage.StreamAppend{
			{Stream: "Counter::b", Events: records("Incremented"), ExpectedVersion: 0},
		}))
		require.NoError(t, store.AppendEventsToStreams(ctx, []storage.StreamAppend{
			{Stream: "Counter::b", Events: records("Incremented"), ExpectedVersion: storage.ExpectExists},
		}))

		err = store.AppendEventsToStreams(ctx, []storage.StreamAppend{
			{Stream: "Counter::b", Events: records("Incremented"), ExpectedVersion: 1},
		})
		requireConflict(t, err)
		var conflict *storage.ConflictError
		if errors.As(err, &conflict) {
			assert.Equal(t, "Counter::b", conflict.Stream)
			assert.Equal(t, uint64(2), conflict.Actual)
		}
	})

	t.Run("multi stream append is atomic", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.AppendEventsToStreams(ctx, []storage.StreamAppend{
			{Stream: "Counter::c", Events: records("Incremented"), ExpectedVersion: storage.ExpectAny},
		}))

		err := store.AppendEventsToStreams(ctx, []storage.StreamAppend{
			{Stream: "Counter::d", Events: records("Incremented"), ExpectedVersion: storage.ExpectAny},
			{Stream: "Counter::c", Events: records("Incremented"), ExpectedVersion: 0},
		})
		requireConflict(t, err)

		d, err := store.GetEventsOfStream(ctx, "Counter::d", 0)
		require.NoError(t, err)
		assert.Empty(t, d, "no stream may be written when one precondition fails")
		c, err := store.GetEventsOfStream(ctx, "Counter::c", 0)
		require.NoError(t, err)
		assert.Len(t, c, 1)
	})

	t.Run("rejects malformed batches", func(t *testing.T) {
		store := newStore(t)
		err := store.AppendEventsToStreams(context.Background(), []storage.StreamAppend{
			{Stream: "Counter::e", Events: records("Incremented")},
			{Stream: "Counter::e", Events: records("Incremented")},
		})
		require.Error(t, err)
	})

	t.Run("concurrent appends keep versions dense", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		const writers = 8
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, store.AppendEventsToStreams(ctx, []storage.StreamAppend{
					{Stream: "Counter::f", Events: records("Incremented"), ExpectedVersion: storage.ExpectAny},
				}))
			}()
		}
		wg.Wait()
		got, err := store.GetEventsOfStream(ctx, "Counter::f", 0)
		require.NoError(t, err)
		assert.Len(t, got, writers)
	})
}

// RunSnapshotStore checks the SnapshotStore contract.
func RunSnapshotStore(t *testing.T, newStore func(t *testing.T) storage.SnapshotStore) {
	t.Helper()

	t.Run("missing key", func(t *testing.T) {
		store := newStore(t)
		_, err := store.LoadSnapshot(context.Background(), "Counter::missing")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("save replaces", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.SaveSnapshot(ctx, "v1::Counter::a", aggregate.Snapshot{Version: 4, State: []byte(`{"n":4}`)}))
		require.NoError(t, store.SaveSnapshot(ctx, "v1::Counter::a", aggregate.Snapshot{Version: 9, State: []byte(`{"n":9}`)}))

		got, err := store.LoadSnapshot(ctx, "v1::Counter::a")
		require.NoError(t, err)
		assert.Equal(t, uint64(9), got.Version)
		assert.JSONEq(t, `{"n":9}`, string(got.State))
	})

	t.Run("rejects malformed snapshot", func(t *testing.T) {
		store := newStore(t)
		err := store.SaveSnapshot(context.Background(), "Counter::b", aggregate.Snapshot{Version: 0, State: []byte(`{}`)})
		require.Error(t, err)
	})
}

func requireConflict(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, storage.ErrVersionConflict)
}
