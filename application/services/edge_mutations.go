package services

import (
	"context"
	stderrors "errors"

	"canvassync/application/ports"
	"canvassync/domain/core/aggregates"
	"canvassync/domain/core/entities"
	"canvassync/domain/core/valueobjects"
	"canvassync/domain/events"
	"canvassync/pkg/errors"

	"go.uber.org/zap"
)

// EdgeRequest describes a connection drawn between two nodes
type EdgeRequest struct {
	Source       valueobjects.NodeID
	Target       valueobjects.NodeID
	SourceHandle string
	TargetHandle string
}

type pendingEdge struct {
	edge    entities.Edge
	pending *Pending
}

// Connect adds an edge locally and creates it on the backend. A connection that
// already exists is not added again; a Notice is published and the existing edge
// returned. Edges touching a node still being created wait for its server id.
func (c *MutationController) Connect(ctx context.Context, req EdgeRequest) (entities.Edge, *Pending, error) {
	c.mu.Lock()
	edge := entities.Edge{
		ID:           valueobjects.NewTemporaryEdgeID(),
		SourceNodeID: c.resolveNodeLocked(req.Source),
		TargetNodeID: c.resolveNodeLocked(req.Target),
		SourceHandle: req.SourceHandle,
		TargetHandle: req.TargetHandle,
	}

	stored, err := c.graph.AddEdge(edge)
	switch {
	case stderrors.Is(err, aggregates.ErrDuplicateEdge):
		notice := events.Notice{
			BaseEvent: c.baseLocked(events.TypeNotice),
			Code:      events.NoticeDuplicateEdge,
			Message:   "These nodes are already connected",
		}
		c.mu.Unlock()
		c.publish(ctx, notice)
		return stored, duplicatePending(stored.ID.String()), nil
	case stderrors.Is(err, aggregates.ErrMissingEndpoint):
		c.mu.Unlock()
		return entities.Edge{}, nil, errors.NewNotFoundError("edge endpoint")
	case err != nil:
		c.mu.Unlock()
		return entities.Edge{}, nil, errors.NewValidationError(err.Error())
	}

	p := newPending()
	key := stored.ID.String()
	deferred := stored.HasTemporaryEndpoint()
	if deferred {
		c.deferredEdges[key] = p
	} else {
		c.edgesInFlight[key] = true
	}
	ch := c.commitLocked(writeStore, false)
	c.mu.Unlock()

	c.finish(ctx, ch)

	if deferred {
		c.logger.Debug("Deferring edge until its endpoints are confirmed", zap.String("edge_id", key))
		return stored, p, nil
	}
	c.spawn(ctx, func(ctx context.Context) {
		c.persistEdge(ctx, stored, p)
	})
	return stored, p, nil
}

// persistEdge creates a local edge on the backend and swaps in the server id
func (c *MutationController) persistEdge(ctx context.Context, edge entities.Edge, p *Pending) {
	created, err := c.backend.CreateEdge(ctx, ports.EdgeSpec{
		WorkspaceID:  c.workspaceID,
		SourceNodeID: edge.SourceNodeID,
		TargetNodeID: edge.TargetNodeID,
		SourceHandle: edge.SourceHandle,
		TargetHandle: edge.TargetHandle,
	})
	c.metrics.Mutation("create_edge", err)
	if err == nil && created.ID.IsZero() {
		err = errors.NewExternalError("backend", stderrors.New("created edge has no id"))
	}
	if err != nil {
		p.resolve("", c.rollbackEdge(ctx, edge.ID, err))
		return
	}

	key := edge.ID.String()
	c.mu.Lock()
	delete(c.edgesInFlight, key)
	removed := c.deletedEdges[key]
	delete(c.deletedEdges, key)

	if _, present := c.graph.Edge(edge.ID); !present {
		if !removed {
			c.edgeAliases[key] = created.ID.String()
		}
		c.mu.Unlock()
		if removed {
			c.deleteRemoteEdge(ctx, created.ID)
			p.resolve("", ErrRemovedWhilePending)
			return
		}
		p.resolve(created.ID.String(), nil)
		return
	}

	c.edgeAliases[key] = created.ID.String()
	if err := c.graph.RekeyEdge(edge.ID, created.ID); stderrors.Is(err, aggregates.ErrEdgeExists) {
		// the backend answered with an edge already held locally
		c.graph.RemoveEdge(edge.ID)
	}
	ch := c.commitLocked(writeStore, false)
	c.mu.Unlock()

	c.finish(ctx, ch)
	p.resolve(created.ID.String(), nil)
}

func (c *MutationController) rollbackEdge(ctx context.Context, id valueobjects.EdgeID, cause error) error {
	key := id.String()
	appErr := errors.NewMutationFailedError(errors.CreateFailed, key, cause)

	c.mu.Lock()
	delete(c.edgesInFlight, key)
	delete(c.deletedEdges, key)
	var extra []events.DomainEvent
	if _, ok := c.graph.RemoveEdge(id); ok {
		extra = append(extra, c.failureLocked(appErr, key, true))
	}
	ch := c.commitLocked(writeStore, false)
	c.mu.Unlock()

	c.metrics.Rollback("edge")
	c.logger.Warn("Edge create failed, rolled back", zap.String("edge_id", key), zap.Error(cause))
	c.finish(ctx, ch, extra...)
	return appErr
}

// DeleteEdge removes an edge locally and, when it was confirmed, on the backend.
// Backend failures are logged only.
func (c *MutationController) DeleteEdge(ctx context.Context, id valueobjects.EdgeID) (*Pending, error) {
	c.mu.Lock()
	id = c.resolveEdgeLocked(id)
	if _, ok := c.graph.RemoveEdge(id); !ok {
		c.mu.Unlock()
		return nil, errors.NewNotFoundError("edge " + id.String())
	}
	if id.IsTemporary() {
		c.forgetEdgeLocked(id)
	}
	ch := c.commitLocked(writeStore, false)
	c.mu.Unlock()

	c.finish(ctx, ch)

	if id.IsTemporary() {
		return resolvedPending("", nil), nil
	}
	p := newPending()
	c.spawn(ctx, func(ctx context.Context) {
		p.resolve(id.String(), c.deleteRemoteEdge(ctx, id))
	})
	return p, nil
}

func (c *MutationController) deleteRemoteEdge(ctx context.Context, id valueobjects.EdgeID) error {
	err := c.backend.DeleteEdge(ctx, id)
	c.metrics.Mutation("delete_edge", err)
	if err != nil {
		c.logger.Warn("Edge delete failed on the backend", zap.String("edge_id", id.String()), zap.Error(err))
	}
	return err
}

// takeReadyEdgesLocked moves deferred edges whose endpoints are all confirmed to
// in-flight, in graph order. Caller holds mu and persists the returned edges.
func (c *MutationController) takeReadyEdgesLocked() []pendingEdge {
	if len(c.deferredEdges) == 0 {
		return nil
	}
	var ready []pendingEdge
	for _, e := range c.graph.Edges() {
		key := e.ID.String()
		p, ok := c.deferredEdges[key]
		if !ok || e.HasTemporaryEndpoint() {
			continue
		}
		delete(c.deferredEdges, key)
		c.edgesInFlight[key] = true
		ready = append(ready, pendingEdge{edge: e, pending: p})
	}
	return ready
}

// forgetEdgeLocked handles the local removal of an unconfirmed edge. A deferred
// edge is dropped; an edge whose create is in flight is deleted once it lands.
func (c *MutationController) forgetEdgeLocked(id valueobjects.EdgeID) {
	key := id.String()
	if p, ok := c.deferredEdges[key]; ok {
		delete(c.deferredEdges, key)
		p.resolve("", ErrRemovedWhilePending)
	}
	if c.edgesInFlight[key] {
		c.deletedEdges[key] = true
	}
}
