package progress

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/catalogimport/internal/rows"
)

// backend is a Store plus a way to move its clock forward.
type backend struct {
	store   Store
	advance func(time.Duration)
}

func backends(t *testing.T) map[string]func(t *testing.T) backend {
	return map[string]func(t *testing.T) backend{
		"redis": func(t *testing.T) backend {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			return backend{store: NewRedisStoreFromClient(client), advance: mr.FastForward}
		},
		"pebble": func(t *testing.T) backend {
			s, err := OpenPebble("", &pebble.Options{FS: vfs.NewMem()})
			require.NoError(t, err)
			clock := time.Now()
			s.now = func() time.Time { return clock }
			return backend{store: s, advance: func(d time.Duration) { clock = clock.Add(d) }}
		},
		"memory": func(t *testing.T) backend {
			s := NewMemoryStore()
			clock := time.Now()
			s.now = func() time.Time { return clock }
			return backend{store: s, advance: func(d time.Duration) { clock = clock.Add(d) }}
		},
	}
}

func TestStores_SetGetExpire(t *testing.T) {
	ctx := context.Background()
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			b := mk(t)
			defer b.store.Close()

			_, err := b.store.Get(ctx, "import_progress:missing")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, b.store.Set(ctx, "import_progress:a", []byte(`{"x":1}`), time.Hour))
			got, err := b.store.Get(ctx, "import_progress:a")
			require.NoError(t, err)
			require.JSONEq(t, `{"x":1}`, string(got))

			b.advance(59 * time.Minute)
			_, err = b.store.Get(ctx, "import_progress:a")
			require.NoError(t, err)

			// A write refreshes the lease.
			require.NoError(t, b.store.Set(ctx, "import_progress:a", []byte(`{"x":2}`), time.Hour))
			b.advance(30 * time.Minute)
			got, err = b.store.Get(ctx, "import_progress:a")
			require.NoError(t, err)
			require.JSONEq(t, `{"x":2}`, string(got))

			b.advance(31 * time.Minute)
			_, err = b.store.Get(ctx, "import_progress:a")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestReporter_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := NewReporter(store, 0)
	require.Equal(t, DefaultTTL, r.ttl)

	err := r.Set(ctx, Snapshot{
		JobID:     "job-1",
		Stage:     StageImporting,
		Processed: 5000,
		Total:     12000,
		Message:   "Imported 5000/12000",
		Errors:    []rows.RowError{{Line: 3, Reason: rows.ReasonMissingIdentifier}},
	})
	require.NoError(t, err)

	raw, err := store.Get(ctx, "import_progress:job-1")
	require.NoError(t, err)
	require.Contains(t, string(raw), `"stage":"importing"`)

	snap, err := r.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, StageImporting, snap.Stage)
	require.Equal(t, 5000, snap.Processed)
	require.Equal(t, 12000, snap.Total)
	require.Len(t, snap.Errors, 1)
	require.False(t, snap.UpdatedAt.IsZero())

	_, err = r.Get(ctx, "job-2")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReporter_EmptyErrorsEncodeAsArray(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := NewReporter(store, time.Hour)

	require.NoError(t, r.Set(ctx, Snapshot{JobID: "j", Stage: StageStarting}))
	raw, err := store.Get(ctx, Key("j"))
	require.NoError(t, err)
	require.Contains(t, string(raw), `"errors":[]`)
}

func TestPebbleStore_Sweep(t *testing.T) {
	ctx := context.Background()
	s, err := OpenPebble("", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	defer s.Close()

	clock := time.Now()
	s.now = func() time.Time { return clock }

	require.NoError(t, s.Set(ctx, Key("old"), []byte("{}"), time.Minute))
	require.NoError(t, s.Set(ctx, Key("new"), []byte("{}"), time.Hour))
	require.NoError(t, s.db.Set([]byte("other:key"), []byte("x"), pebble.Sync))

	clock = clock.Add(2 * time.Minute)
	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = s.Get(ctx, Key("new"))
	require.NoError(t, err)

	_, closer, err := s.db.Get([]byte("other:key"))
	require.NoError(t, err)
	closer.Close()
}

func TestStageRank(t *testing.T) {
	require.Less(t, StageStarting.Rank(), StageImporting.Rank())
	require.Less(t, StageImporting.Rank(), StageComplete.Rank())
	require.Equal(t, StageComplete.Rank(), StageFailed.Rank())
	require.True(t, StageFailed.Terminal())
	require.False(t, StageImporting.Terminal())
}
