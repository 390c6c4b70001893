package aggregates

import (
	"errors"
	"time"

	"canvassync/domain/config"
	"canvassync/domain/core/entities"
	"canvassync/domain/core/valueobjects"
	"canvassync/domain/events"
)

var (
	ErrNodeExists      = errors.New("node already exists in graph")
	ErrNodeNotFound    = errors.New("node not found")
	ErrEdgeExists      = errors.New("edge id already exists in graph")
	ErrEdgeNotFound    = errors.New("edge not found")
	ErrDuplicateEdge   = errors.New("edge already exists")
	ErrMissingEndpoint = errors.New("both nodes must exist in graph")
	ErrSelfConnection  = errors.New("cannot connect node to itself")
	ErrMaxNodes        = errors.New("maximum nodes reached")
	ErrMaxEdges        = errors.New("maximum edges reached")
)

// handle is the stable arena slot of a node or edge.
// Ids may change on reconciliation; handles never do.
type handle uint64

type edgeRecord struct {
	id           valueobjects.EdgeID
	source       handle
	target       handle
	sourceHandle string
	targetHandle string
}

// WorkspaceGraph is the aggregate root for the local state of one workspace canvas.
// Nodes and edges live in an arena keyed by handle; edges reference node handles,
// so replacing a temporary id with a server id is a single index update.
// WorkspaceGraph is not safe for concurrent use.
type WorkspaceGraph struct {
	workspaceID string
	rules       *config.DomainConfig

	nodes     map[handle]*entities.Node
	edges     map[handle]*edgeRecord
	nodeOrder []handle
	edgeOrder []handle
	nodeIndex map[string]handle
	edgeIndex map[string]handle
	next      handle

	viewport valueobjects.Viewport
	version  int
	events   []events.DomainEvent
	clock    func() time.Time
}

// NewWorkspaceGraph creates an empty graph
func NewWorkspaceGraph(workspaceID string, rules *config.DomainConfig) *WorkspaceGraph {
	if rules == nil {
		rules = config.DefaultDomainConfig()
	}
	g := &WorkspaceGraph{
		workspaceID: workspaceID,
		rules:       rules,
		viewport:    valueobjects.DefaultViewport(),
		clock:       time.Now,
	}
	g.reset()
	return g
}

// FromSnapshot builds a graph from a snapshot.
// Edges whose endpoints are missing are dropped; the count of dropped edges is returned.
func FromSnapshot(workspaceID string, snap Snapshot, rules *config.DomainConfig) (*WorkspaceGraph, int) {
	g := NewWorkspaceGraph(workspaceID, rules)
	dropped := g.load(snap)
	return g, dropped
}

// WorkspaceID returns the workspace this graph belongs to
func (g *WorkspaceGraph) WorkspaceID() string {
	return g.workspaceID
}

// Version returns the local revision, bumped on every change
func (g *WorkspaceGraph) Version() int {
	return g.version
}

// Viewport returns the current canvas viewport
func (g *WorkspaceGraph) Viewport() valueobjects.Viewport {
	return g.viewport
}

// SetViewport changes the canvas viewport
func (g *WorkspaceGraph) SetViewport(v valueobjects.Viewport) {
	if v == g.viewport {
		return
	}
	g.viewport = v
	g.touch()
	g.addEvent(events.ViewportChanged{
		BaseEvent: g.base(events.TypeViewportChanged),
		Viewport:  v,
	})
}

// NodeCount returns the number of nodes
func (g *WorkspaceGraph) NodeCount() int {
	return len(g.nodeOrder)
}

// EdgeCount returns the number of edges
func (g *WorkspaceGraph) EdgeCount() int {
	return len(g.edgeOrder)
}

// AddNode inserts a node at the end of the node order
func (g *WorkspaceGraph) AddNode(node entities.Node) error {
	if node.ID.IsZero() {
		return errors.New("node id required")
	}
	if _, exists := g.nodeIndex[node.ID.String()]; exists {
		return ErrNodeExists
	}
	if len(g.nodeOrder) >= g.rules.MaxNodesPerGraph {
		return ErrMaxNodes
	}

	h := g.alloc()
	stored := node.Clone()
	g.nodes[h] = &stored
	g.nodeOrder = append(g.nodeOrder, h)
	g.nodeIndex[node.ID.String()] = h
	g.touch()

	g.addEvent(events.NodeAdded{
		BaseEvent: g.base(events.TypeNodeAdded),
		Node:      stored.Clone(),
	})
	return nil
}

// Node returns a copy of the node with the given id
func (g *WorkspaceGraph) Node(id valueobjects.NodeID) (entities.Node, bool) {
	h, ok := g.nodeIndex[id.String()]
	if !ok {
		return entities.Node{}, false
	}
	return g.nodes[h].Clone(), true
}

// HasNode checks if a node exists in the graph
func (g *WorkspaceGraph) HasNode(id valueobjects.NodeID) bool {
	_, ok := g.nodeIndex[id.String()]
	return ok
}

// UpdateNode applies fn to the stored node. The id cannot be changed this way.
func (g *WorkspaceGraph) UpdateNode(id valueobjects.NodeID, fn func(*entities.Node)) (entities.Node, error) {
	h, ok := g.nodeIndex[id.String()]
	if !ok {
		return entities.Node{}, ErrNodeNotFound
	}
	node := g.nodes[h]
	fn(node)
	node.ID = id
	g.touch()

	updated := node.Clone()
	g.addEvent(events.NodeUpdated{
		BaseEvent: g.base(events.TypeNodeUpdated),
		Node:      updated,
	})
	return updated, nil
}

// RemoveNodes removes the nodes and every edge incident to any of them.
// Unknown ids are ignored.
func (g *WorkspaceGraph) RemoveNodes(ids ...valueobjects.NodeID) ([]entities.Node, []entities.Edge) {
	doomed := make(map[handle]bool, len(ids))
	for _, id := range ids {
		if h, ok := g.nodeIndex[id.String()]; ok {
			doomed[h] = true
		}
	}
	if len(doomed) == 0 {
		return nil, nil
	}

	var removedEdges []entities.Edge
	keptEdges := g.edgeOrder[:0:0]
	for _, eh := range g.edgeOrder {
		rec := g.edges[eh]
		if doomed[rec.source] || doomed[rec.target] {
			removedEdges = append(removedEdges, g.materialize(rec))
			delete(g.edgeIndex, rec.id.String())
			delete(g.edges, eh)
			continue
		}
		keptEdges = append(keptEdges, eh)
	}
	g.edgeOrder = keptEdges

	var removedNodes []entities.Node
	keptNodes := g.nodeOrder[:0:0]
	for _, nh := range g.nodeOrder {
		if doomed[nh] {
			node := g.nodes[nh]
			removedNodes = append(removedNodes, node.Clone())
			delete(g.nodeIndex, node.ID.String())
			delete(g.nodes, nh)
			continue
		}
		keptNodes = append(keptNodes, nh)
	}
	g.nodeOrder = keptNodes
	g.touch()

	evt := events.NodesRemoved{BaseEvent: g.base(events.TypeNodesRemoved)}
	for _, n := range removedNodes {
		evt.NodeIDs = append(evt.NodeIDs, n.ID)
	}
	for _, e := range removedEdges {
		evt.EdgeIDs = append(evt.EdgeIDs, e.ID)
	}
	g.addEvent(evt)

	return removedNodes, removedEdges
}

// AddEdge connects two existing nodes.
// A connection matching an existing edge on endpoints and handles returns ErrDuplicateEdge.
func (g *WorkspaceGraph) AddEdge(edge entities.Edge) (entities.Edge, error) {
	if edge.ID.IsZero() {
		return entities.Edge{}, errors.New("edge id required")
	}
	if _, exists := g.edgeIndex[edge.ID.String()]; exists {
		return entities.Edge{}, ErrEdgeExists
	}
	source, sourceOK := g.nodeIndex[edge.SourceNodeID.String()]
	target, targetOK := g.nodeIndex[edge.TargetNodeID.String()]
	if !sourceOK || !targetOK {
		return entities.Edge{}, ErrMissingEndpoint
	}
	if source == target && !g.rules.AllowSelfConnections {
		return entities.Edge{}, ErrSelfConnection
	}
	if existing, found := g.FindConnection(edge); found {
		return existing, ErrDuplicateEdge
	}
	if len(g.edgeOrder) >= g.rules.MaxEdgesPerGraph {
		return entities.Edge{}, ErrMaxEdges
	}

	h := g.alloc()
	rec := &edgeRecord{
		id:           edge.ID,
		source:       source,
		target:       target,
		sourceHandle: edge.SourceHandle,
		targetHandle: edge.TargetHandle,
	}
	g.edges[h] = rec
	g.edgeOrder = append(g.edgeOrder, h)
	g.edgeIndex[edge.ID.String()] = h
	g.touch()

	stored := g.materialize(rec)
	g.addEvent(events.EdgeAdded{
		BaseEvent: g.base(events.TypeEdgeAdded),
		Edge:      stored,
	})
	return stored, nil
}

// FindConnection returns an existing edge joining the same endpoints through the same handles
func (g *WorkspaceGraph) FindConnection(edge entities.Edge) (entities.Edge, bool) {
	for _, eh := range g.edgeOrder {
		existing := g.materialize(g.edges[eh])
		if existing.SameConnection(edge) {
			return existing, true
		}
	}
	return entities.Edge{}, false
}

// Edge returns the edge with the given id
func (g *WorkspaceGraph) Edge(id valueobjects.EdgeID) (entities.Edge, bool) {
	h, ok := g.edgeIndex[id.String()]
	if !ok {
		return entities.Edge{}, false
	}
	return g.materialize(g.edges[h]), true
}

// RemoveEdge removes a single edge
func (g *WorkspaceGraph) RemoveEdge(id valueobjects.EdgeID) (entities.Edge, bool) {
	h, ok := g.edgeIndex[id.String()]
	if !ok {
		return entities.Edge{}, false
	}
	removed := g.materialize(g.edges[h])
	delete(g.edgeIndex, id.String())
	delete(g.edges, h)
	g.edgeOrder = without(g.edgeOrder, h)
	g.touch()

	g.addEvent(events.EdgesRemoved{
		BaseEvent: g.base(events.TypeEdgesRemoved),
		EdgeIDs:   []valueobjects.EdgeID{id},
	})
	return removed, true
}

// EdgesOf returns the edges incident to a node
func (g *WorkspaceGraph) EdgesOf(id valueobjects.NodeID) []entities.Edge {
	h, ok := g.nodeIndex[id.String()]
	if !ok {
		return nil
	}
	var out []entities.Edge
	for _, eh := range g.edgeOrder {
		rec := g.edges[eh]
		if rec.source == h || rec.target == h {
			out = append(out, g.materialize(rec))
		}
	}
	return out
}

// RekeyNode replaces a node id. Edges follow through their handles.
func (g *WorkspaceGraph) RekeyNode(from, to valueobjects.NodeID) error {
	h, ok := g.nodeIndex[from.String()]
	if !ok {
		return ErrNodeNotFound
	}
	if from.Equals(to) {
		return nil
	}
	if _, taken := g.nodeIndex[to.String()]; taken {
		return ErrNodeExists
	}
	delete(g.nodeIndex, from.String())
	g.nodeIndex[to.String()] = h
	g.nodes[h].ID = to
	g.touch()

	g.addEvent(events.NodeReconciled{
		BaseEvent:   g.base(events.TypeNodeReconciled),
		TemporaryID: from,
		ServerID:    to,
	})
	return nil
}

// RekeyEdge replaces an edge id
func (g *WorkspaceGraph) RekeyEdge(from, to valueobjects.EdgeID) error {
	h, ok := g.edgeIndex[from.String()]
	if !ok {
		return ErrEdgeNotFound
	}
	if from.Equals(to) {
		return nil
	}
	if _, taken := g.edgeIndex[to.String()]; taken {
		return ErrEdgeExists
	}
	delete(g.edgeIndex, from.String())
	g.edgeIndex[to.String()] = h
	g.edges[h].id = to
	g.touch()

	g.addEvent(events.EdgeReconciled{
		BaseEvent:   g.base(events.TypeEdgeReconciled),
		TemporaryID: from,
		ServerID:    to,
	})
	return nil
}

// Nodes returns copies of all nodes in insertion order
func (g *WorkspaceGraph) Nodes() []entities.Node {
	out := make([]entities.Node, 0, len(g.nodeOrder))
	for _, h := range g.nodeOrder {
		out = append(out, g.nodes[h].Clone())
	}
	return out
}

// Edges returns all edges in insertion order
func (g *WorkspaceGraph) Edges() []entities.Edge {
	out := make([]entities.Edge, 0, len(g.edgeOrder))
	for _, h := range g.edgeOrder {
		out = append(out, g.materialize(g.edges[h]))
	}
	return out
}

// FindNode returns the first node matching the predicate
func (g *WorkspaceGraph) FindNode(match func(entities.Node) bool) (entities.Node, bool) {
	for _, h := range g.nodeOrder {
		if match(*g.nodes[h]) {
			return g.nodes[h].Clone(), true
		}
	}
	return entities.Node{}, false
}

// LastNode returns the most recently inserted node of the given kind
func (g *WorkspaceGraph) LastNode(kind entities.NodeKind) (entities.Node, bool) {
	for i := len(g.nodeOrder) - 1; i >= 0; i-- {
		if n := g.nodes[g.nodeOrder[i]]; n.Kind == kind {
			return n.Clone(), true
		}
	}
	return entities.Node{}, false
}

// Snapshot returns a deep copy of the current state
func (g *WorkspaceGraph) Snapshot() Snapshot {
	return Snapshot{
		Nodes:    g.Nodes(),
		Edges:    g.Edges(),
		Viewport: g.viewport,
	}
}

// Replace swaps the whole state for the snapshot.
// Edges with missing endpoints are dropped; the count of dropped edges is returned.
func (g *WorkspaceGraph) Replace(snap Snapshot, reason string) int {
	dropped := g.load(snap)
	g.touch()
	g.addEvent(events.GraphReplaced{
		BaseEvent: g.base(events.TypeGraphReplaced),
		Reason:    reason,
		NodeCount: len(g.nodeOrder),
		EdgeCount: len(g.edgeOrder),
	})
	return dropped
}

// Validate ensures graph invariants
func (g *WorkspaceGraph) Validate() error {
	if len(g.nodes) != len(g.nodeOrder) || len(g.nodeIndex) != len(g.nodeOrder) {
		return errors.New("node count mismatch")
	}
	if len(g.edges) != len(g.edgeOrder) || len(g.edgeIndex) != len(g.edgeOrder) {
		return errors.New("edge count mismatch")
	}
	for _, rec := range g.edges {
		if _, ok := g.nodes[rec.source]; !ok {
			return errors.New("edge references non-existent source node")
		}
		if _, ok := g.nodes[rec.target]; !ok {
			return errors.New("edge references non-existent target node")
		}
	}
	return nil
}

// GetUncommittedEvents returns all uncommitted domain events
func (g *WorkspaceGraph) GetUncommittedEvents() []events.DomainEvent {
	out := make([]events.DomainEvent, len(g.events))
	copy(out, g.events)
	return out
}

// MarkEventsAsCommitted clears all uncommitted events
func (g *WorkspaceGraph) MarkEventsAsCommitted() {
	g.events = nil
}

// Private helper methods

func (g *WorkspaceGraph) reset() {
	g.nodes = make(map[handle]*entities.Node)
	g.edges = make(map[handle]*edgeRecord)
	g.nodeOrder = nil
	g.edgeOrder = nil
	g.nodeIndex = make(map[string]handle)
	g.edgeIndex = make(map[string]handle)
}

func (g *WorkspaceGraph) load(snap Snapshot) int {
	g.reset()
	for _, n := range snap.Nodes {
		if n.ID.IsZero() {
			continue
		}
		if _, dup := g.nodeIndex[n.ID.String()]; dup {
			continue
		}
		h := g.alloc()
		stored := n.Clone()
		g.nodes[h] = &stored
		g.nodeOrder = append(g.nodeOrder, h)
		g.nodeIndex[n.ID.String()] = h
	}

	dropped := 0
	for _, e := range snap.Edges {
		source, sourceOK := g.nodeIndex[e.SourceNodeID.String()]
		target, targetOK := g.nodeIndex[e.TargetNodeID.String()]
		_, dup := g.edgeIndex[e.ID.String()]
		if !sourceOK || !targetOK || dup || e.ID.IsZero() {
			dropped++
			continue
		}
		h := g.alloc()
		g.edges[h] = &edgeRecord{
			id:           e.ID,
			source:       source,
			target:       target,
			sourceHandle: e.SourceHandle,
			targetHandle: e.TargetHandle,
		}
		g.edgeOrder = append(g.edgeOrder, h)
		g.edgeIndex[e.ID.String()] = h
	}

	g.viewport = snap.Viewport
	if g.viewport.IsZero() {
		g.viewport = valueobjects.DefaultViewport()
	}
	return dropped
}

func (g *WorkspaceGraph) materialize(rec *edgeRecord) entities.Edge {
	return entities.Edge{
		ID:           rec.id,
		SourceNodeID: g.nodes[rec.source].ID,
		TargetNodeID: g.nodes[rec.target].ID,
		SourceHandle: rec.sourceHandle,
		TargetHandle: rec.targetHandle,
	}
}

func (g *WorkspaceGraph) alloc() handle {
	g.next++
	return g.next
}

func (g *WorkspaceGraph) touch() {
	g.version++
}

func (g *WorkspaceGraph) base(eventType string) events.BaseEvent {
	return events.NewBase(g.workspaceID, eventType, g.version, g.clock())
}

func (g *WorkspaceGraph) addEvent(event events.DomainEvent) {
	g.events = append(g.events, event)
}

func without(order []handle, h handle) []handle {
	out := order[:0:0]
	for _, x := range order {
		if x != h {
			out = append(out, x)
		}
	}
	return out
}
