package services

import (
	"context"
	"sync"
	"time"

	"canvassync/application/ports"
	"canvassync/domain/config"
	"canvassync/domain/core/aggregates"
	"canvassync/domain/core/entities"
	"canvassync/domain/core/validators"
	"canvassync/domain/core/valueobjects"
	"canvassync/domain/events"
	"canvassync/domain/versioning"
	"canvassync/pkg/errors"
	"canvassync/pkg/observability"
	"canvassync/pkg/utils"

	"go.uber.org/zap"
)

const defaultMutationTimeout = 30 * time.Second

type writeMode int

const (
	// writeNone is used for server state the cache already holds
	writeNone writeMode = iota
	// writeMark blocks revalidation without a durable write, for transient changes
	writeMark
	// writeStore writes the local state through to the cache
	writeStore
)

// change is what a locked mutation leaves to do once the lock is released
type change struct {
	events  []events.DomainEvent
	snap    aggregates.Snapshot
	version uint64
	store   bool
}

// MutationController applies graph mutations to local state first, then to the
// backend, reconciling temporary ids and rolling back failed creates.
// It serves one workspace. All methods are safe for concurrent use; backend calls
// run on background goroutines tracked until Close.
type MutationController struct {
	workspaceID string
	backend     ports.GraphWriter
	cache       ports.WorkspaceCache
	publisher   ports.EventPublisher
	history     *versioning.HistoryStack
	validator   *validators.NodeValidator
	rules       *config.DomainConfig
	logger      *zap.Logger
	metrics     *observability.Collector
	timeout     time.Duration

	mu            sync.Mutex
	graph         *aggregates.WorkspaceGraph
	shape         [2]int
	creating      map[string]*Pending
	deletedEarly  map[string]bool
	queuedPatches map[string]ports.NodePatch
	deferredEdges map[string]*Pending
	edgesInFlight map[string]bool
	deletedEdges  map[string]bool
	nodeAliases   map[string]string
	edgeAliases   map[string]string
	movedNodes    map[string]bool

	positions *utils.Debouncer
	viewport  *utils.Debouncer
	wg        sync.WaitGroup
}

// NewMutationController creates a controller for one workspace.
// cache and publisher may be nil.
func NewMutationController(
	workspaceID string,
	backend ports.GraphWriter,
	cache ports.WorkspaceCache,
	publisher ports.EventPublisher,
	rules *config.DomainConfig,
	logger *zap.Logger,
	metrics *observability.Collector,
) *MutationController {
	if rules == nil {
		rules = config.DefaultDomainConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MutationController{
		workspaceID:   workspaceID,
		backend:       backend,
		cache:         cache,
		publisher:     publisher,
		history:       versioning.NewHistoryStack(rules.MaxHistoryEntries),
		validator:     validators.NewNodeValidator(),
		rules:         rules,
		logger:        logger.With(zap.String("workspace_id", workspaceID)),
		metrics:       metrics,
		timeout:       defaultMutationTimeout,
		graph:         aggregates.NewWorkspaceGraph(workspaceID, rules),
		creating:      make(map[string]*Pending),
		deletedEarly:  make(map[string]bool),
		queuedPatches: make(map[string]ports.NodePatch),
		deferredEdges: make(map[string]*Pending),
		edgesInFlight: make(map[string]bool),
		deletedEdges:  make(map[string]bool),
		nodeAliases:   make(map[string]string),
		edgeAliases:   make(map[string]string),
		movedNodes:    make(map[string]bool),
		positions:     utils.NewDebouncer(rules.PositionCommitDelay),
		viewport:      utils.NewDebouncer(rules.ViewportSaveDelay),
	}
}

// WorkspaceID returns the workspace this controller edits
func (c *MutationController) WorkspaceID() string {
	return c.workspaceID
}

// Snapshot returns a deep copy of the local graph
func (c *MutationController) Snapshot() aggregates.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graph.Snapshot()
}

// Nodes returns the local nodes in insertion order
func (c *MutationController) Nodes() []entities.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graph.Nodes()
}

// Edges returns the local edges in insertion order
func (c *MutationController) Edges() []entities.Edge {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graph.Edges()
}

// Node returns a node by id. Temporary ids that were reconciled still resolve.
func (c *MutationController) Node(id valueobjects.NodeID) (entities.Node, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graph.Node(c.resolveNodeLocked(id))
}

// ResolveNodeID maps a reconciled temporary id to its server id
func (c *MutationController) ResolveNodeID(id valueobjects.NodeID) valueobjects.NodeID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolveNodeLocked(id)
}

// CanUndo reports whether Undo would restore anything
func (c *MutationController) CanUndo() bool {
	return c.history.CanUndo()
}

// CanRedo reports whether Redo would restore anything
func (c *MutationController) CanRedo() bool {
	return c.history.CanRedo()
}

// Apply installs a workspace revision from the cache or the backend. It is the
// ApplyFunc handed to the workspace cache. Revisions the cache no longer considers
// current are rejected, as are revalidations while creates are still in flight.
func (c *MutationController) Apply(rev ports.Revision) bool {
	c.mu.Lock()
	if rev.WorkspaceID != c.workspaceID {
		c.mu.Unlock()
		return false
	}
	if c.cache != nil && !c.cache.IsCurrent(rev.WorkspaceID, rev.Version) {
		c.mu.Unlock()
		return false
	}
	if rev.Revalidated && (len(c.creating) > 0 || len(c.edgesInFlight) > 0) {
		c.mu.Unlock()
		c.logger.Debug("Skipping revalidation while creates are in flight")
		return false
	}

	reason := "load"
	if rev.Revalidated {
		reason = "revalidate"
	}
	if dropped := c.graph.Replace(rev.Snapshot, reason); dropped > 0 {
		c.logger.Warn("Dropped edges with missing endpoints", zap.Int("dropped", dropped))
	}
	if !rev.Revalidated {
		c.history.Clear()
	}
	ch := c.commitLocked(writeNone, !rev.Revalidated)
	c.mu.Unlock()

	c.finish(context.Background(), ch)
	return true
}

// Undo restores the previous history snapshot. Undo is local only.
func (c *MutationController) Undo(ctx context.Context) bool {
	return c.restore(ctx, c.history.Undo, "undo")
}

// Redo restores the next history snapshot. Redo is local only.
func (c *MutationController) Redo(ctx context.Context) bool {
	return c.restore(ctx, c.history.Redo, "redo")
}

func (c *MutationController) restore(ctx context.Context, step func() (aggregates.Snapshot, bool), reason string) bool {
	c.mu.Lock()
	snap, ok := step()
	if !ok {
		c.mu.Unlock()
		return false
	}

	snap = snap.RewriteIDs(c.nodeAliases, c.edgeAliases)
	snap.Viewport = c.graph.Viewport()
	snap = c.dropAbandonedLocked(snap)
	c.graph.Replace(snap, reason)
	ready := c.takeReadyEdgesLocked()

	// the forced save consumes the suppression flag set by Undo and Redo
	ch := c.commitLocked(writeStore, true)
	c.mu.Unlock()

	c.finish(ctx, ch)
	for _, pe := range ready {
		c.spawn(ctx, func(ctx context.Context) {
			c.persistEdge(ctx, pe.edge, pe.pending)
		})
	}
	return true
}

// dropAbandonedLocked removes temporary nodes and edges that no create is working on,
// such as entities whose create failed and was rolled back
func (c *MutationController) dropAbandonedLocked(snap aggregates.Snapshot) aggregates.Snapshot {
	nodes := snap.Nodes[:0:0]
	for _, n := range snap.Nodes {
		if n.ID.IsTemporary() {
			if _, ok := c.creating[n.ID.String()]; !ok {
				continue
			}
		}
		nodes = append(nodes, n)
	}
	edges := snap.Edges[:0:0]
	for _, e := range snap.Edges {
		if e.ID.IsTemporary() {
			_, deferred := c.deferredEdges[e.ID.String()]
			if !deferred && !c.edgesInFlight[e.ID.String()] {
				continue
			}
		}
		edges = append(edges, e)
	}
	snap.Nodes = nodes
	snap.Edges = edges
	return snap
}

// SetViewport changes the pan and zoom locally; saving it is debounced
func (c *MutationController) SetViewport(v valueobjects.Viewport) {
	c.mu.Lock()
	c.graph.SetViewport(v)
	ch := c.commitLocked(writeMark, false)
	c.mu.Unlock()

	c.finish(context.Background(), ch)
	c.viewport.Trigger(func() { c.saveViewport(context.Background()) })
}

func (c *MutationController) saveViewport(ctx context.Context) {
	c.mu.Lock()
	v := c.graph.Viewport()
	ch := c.commitLocked(writeStore, false)
	c.mu.Unlock()
	c.finish(ctx, ch)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	err := c.backend.UpdateWorkspaceSettings(ctx, c.workspaceID, ports.WorkspaceSettings{Viewport: v})
	c.metrics.Mutation("update_settings", err)
	if err != nil {
		c.logger.Warn("Failed to save viewport", zap.Error(err))
	}
}

// Flush runs debounced position and viewport saves now
func (c *MutationController) Flush() {
	c.positions.Flush()
	c.viewport.Flush()
}

// Close flushes debounced saves and waits for background backend calls
func (c *MutationController) Close() {
	c.Flush()
	c.wg.Wait()
}

// Wait blocks until every background backend call started so far has finished
func (c *MutationController) Wait() {
	c.wg.Wait()
}

// commitLocked drains graph events, records history when the node or edge count
// changed (or always when forceHistory is set) and marks the cache write.
// Caller holds mu.
func (c *MutationController) commitLocked(mode writeMode, forceHistory bool) change {
	ch := change{events: c.graph.GetUncommittedEvents()}
	c.graph.MarkEventsAsCommitted()

	shape := [2]int{c.graph.NodeCount(), c.graph.EdgeCount()}
	structural := shape != c.shape
	if structural || forceHistory || mode == writeStore {
		ch.snap = c.graph.Snapshot()
	}
	if structural || forceHistory {
		c.history.SaveState(ch.snap)
		c.shape = shape
	}

	if c.cache != nil && mode != writeNone {
		ch.version = c.cache.MarkLocalWrite(c.workspaceID)
		ch.store = mode == writeStore
	}
	return ch
}

// finish performs the parts of a change that must not run under mu
func (c *MutationController) finish(ctx context.Context, ch change, extra ...events.DomainEvent) {
	if ch.store {
		c.cache.StoreLocal(c.workspaceID, ch.snap, ch.version)
	}
	for _, evt := range ch.events {
		c.publish(ctx, evt)
	}
	for _, evt := range extra {
		c.publish(ctx, evt)
	}
}

func (c *MutationController) publish(ctx context.Context, evt events.DomainEvent) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish(ctx, evt); err != nil {
		c.logger.Warn("Event handler failed",
			zap.String("event_type", evt.GetEventType()),
			zap.Error(err))
	}
}

// spawn runs fn on a background goroutine detached from the caller's cancellation
func (c *MutationController) spawn(ctx context.Context, fn func(ctx context.Context)) {
	ctx = context.WithoutCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		fn(ctx)
	}()
}

// announce publishes an event built on the controller's current event metadata
func (c *MutationController) announce(ctx context.Context, eventType string, build func(events.BaseEvent) events.DomainEvent) {
	c.mu.Lock()
	evt := build(c.baseLocked(eventType))
	c.mu.Unlock()
	c.publish(ctx, evt)
}

// baseLocked builds event metadata for events raised by the controller itself
func (c *MutationController) baseLocked(eventType string) events.BaseEvent {
	return events.NewBase(c.workspaceID, eventType, c.graph.Version(), time.Now())
}

// failureLocked builds a MutationFailed event. Caller holds mu.
func (c *MutationController) failureLocked(err *errors.AppError, entityID string, userVisible bool) events.MutationFailed {
	return events.MutationFailed{
		BaseEvent:   c.baseLocked(events.TypeMutationFailed),
		Kind:        err.Code,
		EntityID:    entityID,
		Message:     err.Message,
		UserVisible: userVisible,
		Err:         err,
	}
}

func (c *MutationController) resolveNodeLocked(id valueobjects.NodeID) valueobjects.NodeID {
	if to, ok := c.nodeAliases[id.String()]; ok {
		return valueobjects.MustNodeID(to)
	}
	return id
}

func (c *MutationController) resolveEdgeLocked(id valueobjects.EdgeID) valueobjects.EdgeID {
	if to, ok := c.edgeAliases[id.String()]; ok {
		return valueobjects.MustEdgeID(to)
	}
	return id
}
