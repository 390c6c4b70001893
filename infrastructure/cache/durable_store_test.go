package cache

import (
	"context"
	"strings"
	"testing"

	"canvassync/infrastructure/storage"
	"canvassync/pkg/observability"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type note struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func TestDurableCacheStore_SurvivesReload(t *testing.T) {
	for name, codec := range map[string]*Codec{"json": NewJSONCodec(), "zstd": NewZstdCodec()} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			backing := storage.NewMemoryStorage(0)

			first := NewDurableCacheStore[note]("notes", backing, "notes-cache", codec, zaptest.NewLogger(t))
			first.Set("a", note{Title: "A", Body: "alpha"})
			first.Set("b", note{Title: "B", Body: "beta"})
			first.Delete("b")

			second := NewDurableCacheStore[note]("notes", backing, "notes-cache", codec, zaptest.NewLogger(t))
			n, err := second.Hydrate(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			got, ok := second.Get("a")
			require.True(t, ok)
			assert.Equal(t, note{Title: "A", Body: "alpha"}, got)
			_, ok = second.Get("b")
			assert.False(t, ok)

			firstEntry, _ := first.Entry("a")
			secondEntry, _ := second.Entry("a")
			assert.True(t, firstEntry.Timestamp.Equal(secondEntry.Timestamp), "timestamps survive")
		})
	}
}

func TestDurableCacheStore_ZstdPayloadIsCompressed(t *testing.T) {
	backing := storage.NewMemoryStorage(0)
	store := NewDurableCacheStore[note]("notes", backing, "k", NewZstdCodec(), zaptest.NewLogger(t))
	store.Set("a", note{Body: strings.Repeat("canvas ", 500)})

	raw, ok, err := backing.Get(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(raw, "z:"))
	assert.Less(t, len(raw), 500)
}

func TestDurableCacheStore_ClearRemovesStorageKey(t *testing.T) {
	backing := storage.NewMemoryStorage(0)
	store := NewDurableCacheStore[note]("notes", backing, "k", nil, zaptest.NewLogger(t))
	store.Set("a", note{Title: "A"})
	require.Equal(t, 1, backing.Len())

	store.Clear()
	assert.Zero(t, backing.Len())
}

func TestDurableCacheStore_QuotaKeepsOnlyTriggeringEntry(t *testing.T) {
	clock := newFakeClock()
	metrics := observability.NewCollector("test")
	backing := storage.NewMemoryStorage(300)
	store := NewDurableCacheStore[note]("notes", backing, "k", NewJSONCodec(), zaptest.NewLogger(t),
		WithClock(clock.Now), WithMetrics(metrics))

	store.Set("a", note{Body: strings.Repeat("a", 100)})
	require.Equal(t, 1, store.Len())

	store.Set("b", note{Body: strings.Repeat("b", 100)})

	assert.Equal(t, []string{"b"}, store.Keys())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.QuotaResets.WithLabelValues("notes")))

	reloaded := NewDurableCacheStore[note]("notes", backing, "k", NewJSONCodec(), zaptest.NewLogger(t))
	n, err := reloaded.Hydrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok := reloaded.Get("b")
	assert.True(t, ok)
}

func TestDurableCacheStore_OversizedEntryNeverPanics(t *testing.T) {
	backing := storage.NewMemoryStorage(50)
	store := NewDurableCacheStore[note]("notes", backing, "k", nil, zaptest.NewLogger(t))

	assert.NotPanics(t, func() {
		store.Set("huge", note{Body: strings.Repeat("x", 1000)})
	})
	got, ok := store.Get("huge")
	assert.True(t, ok, "the in-memory entry is still served")
	assert.Len(t, got.Body, 1000)
	assert.Zero(t, backing.Len())
}

func TestDurableCacheStore_CorruptDataDiscarded(t *testing.T) {
	ctx := context.Background()
	backing := storage.NewMemoryStorage(0)
	require.NoError(t, backing.Set(ctx, "k", "{not json"))

	store := NewDurableCacheStore[note]("notes", backing, "k", nil, zaptest.NewLogger(t))
	n, err := store.Hydrate(ctx)

	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, backing.Len())
}
