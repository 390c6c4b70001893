package cache

import (
	"context"
	"sync"
	"time"

	"canvassync/application/ports"
	"canvassync/domain/config"
	"canvassync/domain/core/aggregates"
	"canvassync/pkg/errors"
	"canvassync/pkg/observability"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const defaultRevalidateTimeout = 30 * time.Second

// Revision is a workspace graph handed to an ApplyFunc
type Revision = ports.Revision

// ApplyFunc installs a revision into local state
type ApplyFunc = ports.ApplyFunc

// LoadResult describes how Load served a workspace
type LoadResult struct {
	// FromCache is set when cached data was applied without waiting for the backend
	FromCache bool
	// Discarded is set when the apply callback rejected the data or the workspace stopped being active
	Discarded bool
	// Done is closed once any background revalidation has finished
	Done <-chan struct{}
}

// WorkspaceGraphCache serves workspace graphs stale-while-revalidate.
// Cached graphs with at least one node are applied at once and refreshed in the
// background; absent or empty entries are fetched synchronously. Responses are
// dropped when the workspace is no longer active or a local write happened after
// the fetch started.
type WorkspaceGraphCache struct {
	store   *DurableCacheStore[aggregates.Snapshot]
	reader  ports.WorkspaceReader
	rules   *config.DomainConfig
	logger  *zap.Logger
	metrics *observability.Collector
	clock   func() time.Time
	timeout time.Duration

	group singleflight.Group

	mu             sync.Mutex
	active         string
	generation     uint64
	writes         map[string]uint64
	lastWrite      map[string]time.Time
	lastRevalidate map[string]time.Time

	// writeMu orders cache writes so an older snapshot never lands after a newer one
	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorkspaceGraphCache creates the workspace cache over a durable store
func NewWorkspaceGraphCache(
	store *DurableCacheStore[aggregates.Snapshot],
	reader ports.WorkspaceReader,
	rules *config.DomainConfig,
	logger *zap.Logger,
	metrics *observability.Collector,
) *WorkspaceGraphCache {
	if rules == nil {
		rules = config.DefaultDomainConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkspaceGraphCache{
		store:          store,
		reader:         reader,
		rules:          rules,
		logger:         logger,
		metrics:        metrics,
		clock:          store.opts.clock,
		timeout:        defaultRevalidateTimeout,
		writes:         make(map[string]uint64),
		lastWrite:      make(map[string]time.Time),
		lastRevalidate: make(map[string]time.Time),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Get returns the cached graph regardless of staleness. A workspace cached with
// zero nodes is present; only a workspace never cached is absent.
func (c *WorkspaceGraphCache) Get(workspaceID string) (aggregates.Snapshot, bool) {
	snap, ok := c.store.Get(workspaceID)
	if !ok {
		return aggregates.Snapshot{}, false
	}
	return snap.Clone(), true
}

// Set stores a graph without touching the local write counter
func (c *WorkspaceGraphCache) Set(workspaceID string, snap aggregates.Snapshot) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.store.Set(workspaceID, snap.Clone())
}

// Invalidate drops the cached graph
func (c *WorkspaceGraphCache) Invalidate(workspaceID string) {
	c.store.Delete(workspaceID)
}

// MarkLocalWrite bumps the write counter of a workspace and returns the new version.
// Call it while the local state change is still being applied, before storing the snapshot.
func (c *WorkspaceGraphCache) MarkLocalWrite(workspaceID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes[workspaceID]++
	c.lastWrite[workspaceID] = c.clock()
	return c.writes[workspaceID]
}

// StoreLocal writes a snapshot taken at version. It is skipped when a newer local
// write has already been marked, since that write stores its own snapshot.
func (c *WorkspaceGraphCache) StoreLocal(workspaceID string, snap aggregates.Snapshot, version uint64) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.Version(workspaceID) != version {
		return false
	}
	c.store.Set(workspaceID, snap.Clone())
	return true
}

// NoteLocalWrite records a local mutation and writes its snapshot through to the cache
func (c *WorkspaceGraphCache) NoteLocalWrite(workspaceID string, snap aggregates.Snapshot) uint64 {
	version := c.MarkLocalWrite(workspaceID)
	c.StoreLocal(workspaceID, snap, version)
	return version
}

// Version returns the local write counter of a workspace
func (c *WorkspaceGraphCache) Version(workspaceID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes[workspaceID]
}

// IsCurrent reports whether a revision read at version may still be applied:
// the workspace is active and no local write happened since.
func (c *WorkspaceGraphCache) IsCurrent(workspaceID string, version uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active == workspaceID && c.writes[workspaceID] == version
}

// Active returns the workspace most recently passed to Load
func (c *WorkspaceGraphCache) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Load makes workspaceID the active workspace and hands its graph to apply.
func (c *WorkspaceGraphCache) Load(ctx context.Context, workspaceID string, apply ApplyFunc) (LoadResult, error) {
	gen := c.activate(workspaceID)

	if snap, ok := c.store.Get(workspaceID); ok && !snap.IsEmpty() {
		c.metrics.CacheLookup(c.store.Name(), "hit")
		rev := Revision{WorkspaceID: workspaceID, Snapshot: snap.Clone(), Version: c.Version(workspaceID)}
		applied := apply(rev)
		return LoadResult{
			FromCache: true,
			Discarded: !applied,
			Done:      c.revalidate(workspaceID, gen, apply),
		}, nil
	}
	c.metrics.CacheLookup(c.store.Name(), "miss")

	rev, err := c.fetch(ctx, workspaceID)
	if err != nil {
		return LoadResult{}, err
	}
	if !c.isActive(workspaceID, gen) {
		c.logger.Debug("Discarding workspace load for inactive workspace", zap.String("workspace_id", workspaceID))
		return LoadResult{Discarded: true, Done: closedChan()}, nil
	}
	return LoadResult{Discarded: !apply(rev), Done: closedChan()}, nil
}

// Prefetch warms the cache, fetching only when the entry is older than the workspace freshness window
func (c *WorkspaceGraphCache) Prefetch(ctx context.Context, workspaceID string) (aggregates.Snapshot, error) {
	if e, ok := c.store.Entry(workspaceID); ok && e.Fresh(c.clock(), c.rules.WorkspaceFreshness) {
		c.metrics.CacheLookup(c.store.Name(), "hit")
		return e.Value.Clone(), nil
	}
	rev, err := c.fetch(ctx, workspaceID)
	if err != nil {
		return aggregates.Snapshot{}, err
	}
	return rev.Snapshot, nil
}

// Close stops background revalidation and waits for it to finish
func (c *WorkspaceGraphCache) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *WorkspaceGraphCache) activate(workspaceID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = workspaceID
	c.generation++
	return c.generation
}

func (c *WorkspaceGraphCache) isActive(workspaceID string, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active == workspaceID && c.generation == gen
}

// shouldRevalidate applies the quiet period after local writes and the per-workspace throttle
func (c *WorkspaceGraphCache) shouldRevalidate(workspaceID string) (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	if last, ok := c.lastWrite[workspaceID]; ok && now.Sub(last) < c.rules.RevalidateQuietPeriod {
		return false, "skipped_recent_write"
	}
	if last, ok := c.lastRevalidate[workspaceID]; ok && now.Sub(last) < c.rules.RevalidateInterval {
		return false, "skipped_throttled"
	}
	c.lastRevalidate[workspaceID] = now
	return true, ""
}

func (c *WorkspaceGraphCache) revalidate(workspaceID string, gen uint64, apply ApplyFunc) <-chan struct{} {
	ok, reason := c.shouldRevalidate(workspaceID)
	if !ok {
		c.metrics.Revalidation(reason)
		return closedChan()
	}

	done := make(chan struct{})
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(done)

		ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
		defer cancel()

		rev, err := c.fetch(ctx, workspaceID)
		switch {
		case err != nil:
			c.logger.Warn("Background revalidation failed",
				zap.String("workspace_id", workspaceID),
				zap.Error(err))
			c.metrics.Revalidation("failed")
			return
		case !c.isActive(workspaceID, gen):
			c.metrics.Revalidation("discarded_inactive")
			return
		case !c.IsCurrent(workspaceID, rev.Version):
			c.logger.Debug("Discarding revalidation older than a local write",
				zap.String("workspace_id", workspaceID),
				zap.Uint64("version", rev.Version))
			c.metrics.Revalidation("discarded_local_write")
			return
		}

		rev.Revalidated = true
		if apply(rev) {
			c.metrics.Revalidation("applied")
		} else {
			c.metrics.Revalidation("rejected")
		}
	}()
	return done
}

// fetch reads a workspace from the backend, sharing one request per workspace.
// The result is cached only when no local write happened while it was in flight.
func (c *WorkspaceGraphCache) fetch(ctx context.Context, workspaceID string) (Revision, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(workspaceID, func() (interface{}, error) {
		version := c.Version(workspaceID)

		data, err := c.reader.FetchWorkspaceData(detached, workspaceID)
		c.metrics.CacheFetch(c.store.Name(), err)
		if err != nil {
			return nil, err
		}
		if data == nil {
			return nil, errors.NewNotFoundError("workspace " + workspaceID)
		}

		snap := data.ToSnapshot()
		if !c.StoreLocal(workspaceID, snap, version) {
			c.logger.Debug("Fetched workspace superseded by a local write",
				zap.String("workspace_id", workspaceID))
		}
		return Revision{WorkspaceID: workspaceID, Snapshot: snap, Version: version}, nil
	})

	select {
	case <-ctx.Done():
		return Revision{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if errors.IsAppError(res.Err) {
				return Revision{}, res.Err
			}
			return Revision{}, errors.NewFetchFailedError(workspaceID, res.Err)
		}
		rev := res.Val.(Revision)
		rev.Snapshot = rev.Snapshot.Clone()
		return rev, nil
	}
}

func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
