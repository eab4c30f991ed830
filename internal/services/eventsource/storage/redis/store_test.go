package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/aggregate"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/storage"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/storage/storagetest"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupMiniRedis starts a throwaway server and a store bound to it.
func setupMiniRedis(t *testing.T, opts ...Option) (*miniredis.Miniredis, *Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := New(client, opts...)
	t.Cleanup(func() { _ = store.Close() })
	return mr, store
}

func TestSnapshotStoreContract(t *testing.T) {
	storagetest.RunSnapshotStore(t, func(t *testing.T) storage.SnapshotStore {
		_, store := setupMiniRedis(t)
		return store
	})
}

func TestSaveSnapshotKeepsNewestVersion(t *testing.T) {
	_, store := setupMiniRedis(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSnapshot(ctx, "Counter::a", aggregate.Snapshot{Version: 7, State: []byte(`{"n":7}`)}))
	require.NoError(t, store.SaveSnapshot(ctx, "Counter::a", aggregate.Snapshot{Version: 3, State: []byte(`{"n":3}`)}))

	got, err := store.LoadSnapshot(ctx, "Counter::a")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.Version)
	assert.JSONEq(t, `{"n":7}`, string(got.State))
}

func TestKeyPrefixAndTTL(t *testing.T) {
	mr, store := setupMiniRedis(t, WithKeyPrefix("test:"), WithTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, store.SaveSnapshot(ctx, "Counter::a", aggregate.Snapshot{Version: 1, State: []byte(`{"n":1}`)}))
	require.True(t, mr.Exists("test:Counter::a"))
	assert.Equal(t, "1", mr.HGet("test:Counter::a", fieldVersion))
	assert.Equal(t, time.Minute, mr.TTL("test:Counter::a"))

	mr.FastForward(2 * time.Minute)
	_, err := store.LoadSnapshot(ctx, "Counter::a")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLoadSnapshotRejectsCorruptVersion(t *testing.T) {
	mr, store := setupMiniRedis(t)
	mr.HSet(DefaultKeyPrefix+"Counter::a", fieldVersion, "nope", fieldState, "{}")

	_, err := store.LoadSnapshot(context.Background(), "Counter::a")
	require.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrNotFound)
}

func TestConnectFailsWithoutServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Connect(ctx, Config{Addr: addr}, zerolog.Nop())
	require.Error(t, err)
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := Connect(context.Background(), Config{Addr: mr.Addr()}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.SaveSnapshot(context.Background(), "Counter::a", aggregate.Snapshot{Version: 2, State: []byte(`{"n":2}`)}))
	got, err := store.LoadSnapshot(context.Background(), "Counter::a")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Version)
}
