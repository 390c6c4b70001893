package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"canvassync/application/ports"
	"canvassync/domain/core/aggregates"
	"canvassync/domain/core/entities"
	"canvassync/domain/core/valueobjects"
	"canvassync/infrastructure/storage"
	pkgerrors "canvassync/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeReader struct {
	mu      sync.Mutex
	data    map[string]*ports.WorkspaceData
	gates   map[string]chan struct{}
	calls   map[string]int
	started chan string
	err     error
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		data:    make(map[string]*ports.WorkspaceData),
		gates:   make(map[string]chan struct{}),
		calls:   make(map[string]int),
		started: make(chan string, 16),
	}
}

func (f *fakeReader) FetchWorkspaceData(ctx context.Context, workspaceID string) (*ports.WorkspaceData, error) {
	f.mu.Lock()
	f.calls[workspaceID]++
	gate := f.gates[workspaceID]
	f.mu.Unlock()

	f.started <- workspaceID
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.data[workspaceID], nil
}

func (f *fakeReader) block(workspaceID string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gates[workspaceID] = gate
	return gate
}

func (f *fakeReader) callCount(workspaceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[workspaceID]
}

type applyRecorder struct {
	mu    sync.Mutex
	cache *WorkspaceGraphCache
	revs  []Revision
}

func (r *applyRecorder) apply(rev Revision) bool {
	if !r.cache.IsCurrent(rev.WorkspaceID, rev.Version) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revs = append(r.revs, rev)
	return true
}

func (r *applyRecorder) applied() []Revision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Revision(nil), r.revs...)
}

func graphWithNodes(ids ...string) aggregates.Snapshot {
	snap := aggregates.Snapshot{Nodes: []entities.Node{}, Edges: []entities.Edge{}, Viewport: valueobjects.DefaultViewport()}
	for _, id := range ids {
		snap.Nodes = append(snap.Nodes, entities.NewChatNode(valueobjects.MustNodeID(id), valueobjects.Position{}, entities.ChatContent{}))
	}
	return snap
}

func dataWithNodes(ids ...string) *ports.WorkspaceData {
	snap := graphWithNodes(ids...)
	return &ports.WorkspaceData{Nodes: snap.Nodes, Edges: snap.Edges}
}

func newTestWorkspaceCache(t *testing.T, reader ports.WorkspaceReader) (*WorkspaceGraphCache, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	store := NewDurableCacheStore[aggregates.Snapshot]("workspaces", storage.NewMemoryStorage(0), "workspace-cache", nil, zap.NewNop(), WithClock(clock.Now))
	c := NewWorkspaceGraphCache(store, reader, nil, zap.NewNop(), nil)
	t.Cleanup(c.Close)
	return c, clock
}

func TestWorkspaceGraphCache_AbsentVersusCachedEmpty(t *testing.T) {
	reader := newFakeReader()
	reader.data["ws"] = dataWithNodes("n1")
	c, _ := newTestWorkspaceCache(t, reader)

	_, ok := c.Get("ws")
	assert.False(t, ok, "uncached workspace is absent")

	c.Set("ws", graphWithNodes())
	empty, ok := c.Get("ws")
	require.True(t, ok, "cached empty workspace is present")
	assert.Empty(t, empty.Nodes)

	rec := &applyRecorder{cache: c}
	res, err := c.Load(context.Background(), "ws", rec.apply)
	require.NoError(t, err)

	assert.False(t, res.FromCache, "empty cache entry triggers a synchronous fetch")
	assert.Equal(t, 1, reader.callCount("ws"))
	require.Len(t, rec.applied(), 1)
	assert.Len(t, rec.applied()[0].Snapshot.Nodes, 1)

	cached, _ := c.Get("ws")
	assert.Len(t, cached.Nodes, 1)
}

func TestWorkspaceGraphCache_StaleWhileRevalidate(t *testing.T) {
	reader := newFakeReader()
	reader.data["ws"] = dataWithNodes("n1", "n2")
	c, _ := newTestWorkspaceCache(t, reader)
	c.Set("ws", graphWithNodes("n1"))

	rec := &applyRecorder{cache: c}
	res, err := c.Load(context.Background(), "ws", rec.apply)
	require.NoError(t, err)
	assert.True(t, res.FromCache)

	<-res.Done

	revs := rec.applied()
	require.Len(t, revs, 2)
	assert.False(t, revs[0].Revalidated)
	assert.Len(t, revs[0].Snapshot.Nodes, 1)
	assert.True(t, revs[1].Revalidated)
	assert.Len(t, revs[1].Snapshot.Nodes, 2)

	cached, _ := c.Get("ws")
	assert.Len(t, cached.Nodes, 2)
}

func TestWorkspaceGraphCache_RevalidationDiscardedAfterLocalWrite(t *testing.T) {
	reader := newFakeReader()
	reader.data["ws"] = dataWithNodes("n1")
	gate := reader.block("ws")
	c, _ := newTestWorkspaceCache(t, reader)
	c.Set("ws", graphWithNodes("n1"))

	rec := &applyRecorder{cache: c}
	res, err := c.Load(context.Background(), "ws", rec.apply)
	require.NoError(t, err)
	<-reader.started

	local := graphWithNodes("n1", "temp-local")
	c.NoteLocalWrite("ws", local)
	close(gate)
	<-res.Done

	assert.Len(t, rec.applied(), 1, "only the cached graph was applied")
	cached, _ := c.Get("ws")
	assert.Equal(t, local, cached, "local write survives the stale response")
}

func TestWorkspaceGraphCache_RevalidationDiscardedAfterSwitch(t *testing.T) {
	reader := newFakeReader()
	reader.data["a"] = dataWithNodes("a1", "a2")
	reader.data["b"] = dataWithNodes("b1")
	gate := reader.block("a")
	c, _ := newTestWorkspaceCache(t, reader)
	c.Set("a", graphWithNodes("a1"))

	rec := &applyRecorder{cache: c}
	resA, err := c.Load(context.Background(), "a", rec.apply)
	require.NoError(t, err)
	<-reader.started

	_, err = c.Load(context.Background(), "b", rec.apply)
	require.NoError(t, err)
	assert.Equal(t, "b", c.Active())

	close(gate)
	<-resA.Done

	revs := rec.applied()
	require.Len(t, revs, 2)
	assert.Equal(t, "a", revs[0].WorkspaceID)
	assert.Equal(t, "b", revs[1].WorkspaceID)
}

func TestWorkspaceGraphCache_QuietPeriodSkipsRevalidation(t *testing.T) {
	reader := newFakeReader()
	reader.data["ws"] = dataWithNodes("n1")
	c, clock := newTestWorkspaceCache(t, reader)
	c.NoteLocalWrite("ws", graphWithNodes("n1"))

	rec := &applyRecorder{cache: c}
	res, err := c.Load(context.Background(), "ws", rec.apply)
	require.NoError(t, err)
	<-res.Done
	assert.Zero(t, reader.callCount("ws"))

	clock.Advance(3 * time.Second)
	res, err = c.Load(context.Background(), "ws", rec.apply)
	require.NoError(t, err)
	<-res.Done
	assert.Equal(t, 1, reader.callCount("ws"))

	res, err = c.Load(context.Background(), "ws", rec.apply)
	require.NoError(t, err)
	<-res.Done
	assert.Equal(t, 1, reader.callCount("ws"), "throttled")
}

func TestWorkspaceGraphCache_FailedRevalidationKeepsCache(t *testing.T) {
	reader := newFakeReader()
	reader.err = errors.New("offline")
	c, _ := newTestWorkspaceCache(t, reader)
	c.Set("ws", graphWithNodes("n1"))

	rec := &applyRecorder{cache: c}
	res, err := c.Load(context.Background(), "ws", rec.apply)
	require.NoError(t, err)
	<-res.Done

	assert.Len(t, rec.applied(), 1)
	cached, ok := c.Get("ws")
	require.True(t, ok)
	assert.Len(t, cached.Nodes, 1)
}

func TestWorkspaceGraphCache_LoadErrors(t *testing.T) {
	reader := newFakeReader()
	c, _ := newTestWorkspaceCache(t, reader)
	rec := &applyRecorder{cache: c}

	_, err := c.Load(context.Background(), "missing", rec.apply)
	assert.True(t, pkgerrors.IsNotFound(err))

	reader.err = errors.New("boom")
	_, err = c.Load(context.Background(), "other", rec.apply)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeFetchFailed))
	assert.Empty(t, rec.applied())
}

func TestWorkspaceGraphCache_Prefetch(t *testing.T) {
	reader := newFakeReader()
	reader.data["ws"] = dataWithNodes("n1")
	c, clock := newTestWorkspaceCache(t, reader)

	snap, err := c.Prefetch(context.Background(), "ws")
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 1)

	_, err = c.Prefetch(context.Background(), "ws")
	require.NoError(t, err)
	assert.Equal(t, 1, reader.callCount("ws"))

	clock.Advance(16 * time.Second)
	_, err = c.Prefetch(context.Background(), "ws")
	require.NoError(t, err)
	assert.Equal(t, 2, reader.callCount("ws"))
}

func TestWorkspaceGraphCache_StoreLocalRejectsOlderVersion(t *testing.T) {
	c, _ := newTestWorkspaceCache(t, newFakeReader())

	first := c.MarkLocalWrite("ws")
	second := c.MarkLocalWrite("ws")

	assert.True(t, c.StoreLocal("ws", graphWithNodes("new"), second))
	assert.False(t, c.StoreLocal("ws", graphWithNodes("old"), first))

	cached, _ := c.Get("ws")
	assert.Equal(t, "new", cached.Nodes[0].ID.String())
}
