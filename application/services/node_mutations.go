package services

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"canvassync/application/ports"
	"canvassync/application/sagas"
	"canvassync/application/streaming"
	"canvassync/domain/core/entities"
	"canvassync/domain/core/valueobjects"
	"canvassync/domain/events"
	"canvassync/pkg/errors"
	"canvassync/pkg/utils"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// ChildPlaceholder is the answer shown on a child node until its answer streams in
	ChildPlaceholder = "Analyzing linked context..."
	// DistillingPlaceholder is shown on a promoted node whose answer is not known yet
	DistillingPlaceholder = "Distilling..."

	positionCommitConcurrency = 8
	edgeCleanupAttempts       = 2
	edgeCleanupDelay          = 200 * time.Millisecond
)

type createNodeState struct {
	tempID  valueobjects.NodeID
	spec    ports.NodeSpec
	created entities.Node
	patch   ports.NodePatch
	ready   []pendingEdge
}

type deleteNodeState struct {
	id valueobjects.NodeID
}

// Promotion is a chat answer promoted onto the canvas as a node
type Promotion struct {
	Question string
	Answer   string
	// Summary is used as-is when set; otherwise one is derived from the answer
	Summary *streaming.Summary
	ChatID  string
}

// CreateChatNode inserts a chat node locally and creates it on the backend.
// The returned node carries a temporary id; Pending resolves with the server id.
func (c *MutationController) CreateChatNode(ctx context.Context, pos valueobjects.Position, content entities.ChatContent) (entities.Node, *Pending, error) {
	return c.createNode(ctx, entities.NewChatNode(valueobjects.NewTemporaryNodeID(), pos, content))
}

// CreateTextNode inserts a text node locally and creates it on the backend
func (c *MutationController) CreateTextNode(ctx context.Context, pos valueobjects.Position, content entities.TextContent) (entities.Node, *Pending, error) {
	return c.createNode(ctx, entities.NewTextNode(valueobjects.NewTemporaryNodeID(), pos, content))
}

func (c *MutationController) createNode(ctx context.Context, node entities.Node) (entities.Node, *Pending, error) {
	if err := c.validator.Validate(node); err != nil {
		return entities.Node{}, nil, err
	}

	c.mu.Lock()
	if err := c.graph.AddNode(node); err != nil {
		c.mu.Unlock()
		return entities.Node{}, nil, errors.NewConflictError("cannot add node").WithCause(err)
	}
	p := newPending()
	c.creating[node.ID.String()] = p
	ch := c.commitLocked(writeStore, false)
	c.mu.Unlock()

	c.finish(ctx, ch)

	spec := ports.SpecFromNode(c.workspaceID, node)
	c.spawn(ctx, func(ctx context.Context) {
		c.runCreateNode(ctx, node.ID, spec, p)
	})
	return node.Clone(), p, nil
}

func (c *MutationController) runCreateNode(ctx context.Context, tempID valueobjects.NodeID, spec ports.NodeSpec, p *Pending) {
	state := &createNodeState{tempID: tempID, spec: spec}
	saga := sagas.NewBuilder[createNodeState]("create_node", c.logger).
		WithCompensableStep("create_remote", c.createRemoteNode, c.deleteRemoteNode).
		WithStep("reconcile_local", c.reconcileNode).
		Build()

	err := saga.Execute(ctx, state)
	c.metrics.Mutation("create_node", err)
	if err != nil {
		if stderrors.Is(err, ErrRemovedWhilePending) {
			c.logger.Debug("Node deleted before its create was confirmed",
				zap.String("temp_id", tempID.String()))
			p.resolve("", ErrRemovedWhilePending)
			return
		}
		p.resolve("", c.rollbackNode(ctx, tempID, err))
		return
	}

	serverID := state.created.ID
	if !state.patch.IsEmpty() {
		c.sendUpdate(ctx, serverID, state.patch, nil)
	}
	for _, pe := range state.ready {
		c.persistEdge(ctx, pe.edge, pe.pending)
	}
	p.resolve(serverID.String(), nil)
}

func (c *MutationController) createRemoteNode(ctx context.Context, s *createNodeState) error {
	created, err := c.backend.CreateNode(ctx, s.spec)
	if err != nil {
		return err
	}
	if created.ID.IsZero() {
		return errors.NewExternalError("backend", stderrors.New("created node has no id"))
	}
	s.created = created
	return nil
}

func (c *MutationController) deleteRemoteNode(ctx context.Context, s *createNodeState) error {
	err := c.backend.DeleteNode(ctx, s.created.ID)
	c.metrics.Mutation("delete_node", err)
	return err
}

// reconcileNode swaps the temporary id for the server id and releases work
// that waited on it. A node already deleted locally fails the step so the
// backend copy is removed again.
func (c *MutationController) reconcileNode(ctx context.Context, s *createNodeState) error {
	key := s.tempID.String()
	serverID := s.created.ID

	c.mu.Lock()
	delete(c.creating, key)

	if !c.graph.HasNode(s.tempID) {
		early := c.deletedEarly[key]
		delete(c.deletedEarly, key)
		delete(c.queuedPatches, key)
		if !early {
			// removed by undo; a redo brings it back under the server id
			c.nodeAliases[key] = serverID.String()
		}
		c.mu.Unlock()
		if early {
			return ErrRemovedWhilePending
		}
		return nil
	}

	if err := c.graph.RekeyNode(s.tempID, serverID); err != nil {
		c.mu.Unlock()
		return err
	}
	c.nodeAliases[key] = serverID.String()
	if moved := c.movedNodes[key]; moved {
		delete(c.movedNodes, key)
		c.movedNodes[serverID.String()] = true
	}
	s.patch = c.queuedPatches[key]
	delete(c.queuedPatches, key)
	s.ready = c.takeReadyEdgesLocked()
	ch := c.commitLocked(writeStore, false)
	c.mu.Unlock()

	c.finish(ctx, ch)
	return nil
}

// rollbackNode removes a node whose create failed, along with its edges
func (c *MutationController) rollbackNode(ctx context.Context, tempID valueobjects.NodeID, cause error) error {
	key := tempID.String()
	appErr := errors.NewMutationFailedError(errors.CreateFailed, key, cause)

	c.mu.Lock()
	delete(c.creating, key)
	delete(c.deletedEarly, key)
	delete(c.queuedPatches, key)
	delete(c.movedNodes, key)

	removed, removedEdges := c.graph.RemoveNodes(tempID)
	for _, e := range removedEdges {
		c.forgetEdgeLocked(e.ID)
	}
	var extra []events.DomainEvent
	if len(removed) > 0 {
		extra = append(extra, c.failureLocked(appErr, key, true))
	}
	ch := c.commitLocked(writeStore, false)
	c.mu.Unlock()

	c.metrics.Rollback("node")
	c.logger.Warn("Node create failed, rolled back",
		zap.String("temp_id", key),
		zap.Int("edges_removed", len(removedEdges)),
		zap.Error(cause))
	c.finish(ctx, ch, extra...)
	return appErr
}

// UpdateNode applies a patch locally and sends it to the backend.
// Patches on nodes still being created are sent once the server id is known.
func (c *MutationController) UpdateNode(ctx context.Context, id valueobjects.NodeID, patch ports.NodePatch) (entities.Node, *Pending, error) {
	return c.updateNode(ctx, id, func(entities.Node) (ports.NodePatch, bool) {
		return patch, !patch.IsEmpty()
	})
}

// updateNode builds the patch from the current node under the lock
func (c *MutationController) updateNode(
	ctx context.Context,
	id valueobjects.NodeID,
	build func(current entities.Node) (ports.NodePatch, bool),
) (entities.Node, *Pending, error) {
	c.mu.Lock()
	id = c.resolveNodeLocked(id)
	current, ok := c.graph.Node(id)
	if !ok {
		c.mu.Unlock()
		return entities.Node{}, nil, errors.NewNotFoundError("node " + id.String())
	}
	patch, changed := build(current)
	if !changed {
		c.mu.Unlock()
		return current, resolvedPending(id.String(), nil), nil
	}

	candidate := current.Clone()
	patch.Apply(&candidate)
	if err := c.validator.Validate(candidate); err != nil {
		c.mu.Unlock()
		return entities.Node{}, nil, err
	}

	updated, err := c.graph.UpdateNode(id, patch.Apply)
	if err != nil {
		c.mu.Unlock()
		return entities.Node{}, nil, errors.NewNotFoundError("node " + id.String())
	}

	var p *Pending
	if id.IsTemporary() {
		key := id.String()
		c.queuedPatches[key] = c.queuedPatches[key].Merge(patch)
		p = c.creating[key]
	}
	ch := c.commitLocked(writeStore, false)
	c.mu.Unlock()

	c.finish(ctx, ch)

	if p != nil {
		return updated, p, nil
	}
	if id.IsTemporary() {
		return updated, resolvedPending("", nil), nil
	}
	p = newPending()
	c.spawn(ctx, func(ctx context.Context) {
		c.sendUpdate(ctx, id, patch, p)
	})
	return updated, p, nil
}

// sendUpdate persists a patch. Failures are reported but never rolled back.
func (c *MutationController) sendUpdate(ctx context.Context, id valueobjects.NodeID, patch ports.NodePatch, p *Pending) {
	node, err := c.backend.UpdateNode(ctx, id, patch)
	c.metrics.Mutation("update_node", err)
	if err != nil {
		appErr := errors.NewMutationFailedError(errors.UpdateFailed, id.String(), err)
		c.logger.Warn("Node update failed",
			zap.String("node_id", id.String()),
			zap.Error(err))

		c.mu.Lock()
		failure := c.failureLocked(appErr, id.String(), false)
		c.mu.Unlock()
		c.publish(ctx, failure)

		if p != nil {
			p.resolve(id.String(), appErr)
		}
		return
	}
	if node == nil {
		c.logger.Debug("Updated node no longer exists on the backend", zap.String("node_id", id.String()))
	}
	if p != nil {
		p.resolve(id.String(), nil)
	}
}

// PatchLocal changes a node without calling the backend. Streaming answers use it
// for live updates and persist the final state with UpdateNode.
func (c *MutationController) PatchLocal(id valueobjects.NodeID, patch ports.NodePatch) (entities.Node, error) {
	c.mu.Lock()
	id = c.resolveNodeLocked(id)
	updated, err := c.graph.UpdateNode(id, patch.Apply)
	if err != nil {
		c.mu.Unlock()
		return entities.Node{}, errors.NewNotFoundError("node " + id.String())
	}
	ch := c.commitLocked(writeMark, false)
	c.mu.Unlock()

	c.finish(context.Background(), ch)
	return updated, nil
}

// AddHighlight records a highlighted passage on a chat node
func (c *MutationController) AddHighlight(ctx context.Context, id valueobjects.NodeID, text string) (entities.Node, *Pending, error) {
	return c.updateNode(ctx, id, func(current entities.Node) (ports.NodePatch, bool) {
		if current.Chat == nil {
			return ports.NodePatch{}, false
		}
		content := current.Chat.Clone()
		if !content.AddHighlight(strings.TrimSpace(text)) {
			return ports.NodePatch{}, false
		}
		return ports.NodePatch{Highlights: content.Highlights}, true
	})
}

// SetLocked locks or unlocks a node
func (c *MutationController) SetLocked(ctx context.Context, id valueobjects.NodeID, locked bool) (entities.Node, *Pending, error) {
	return c.UpdateNode(ctx, id, ports.NodePatch{Locked: &locked})
}

// SetCollapsed collapses or expands a node
func (c *MutationController) SetCollapsed(ctx context.Context, id valueobjects.NodeID, collapsed bool) (entities.Node, *Pending, error) {
	return c.UpdateNode(ctx, id, ports.NodePatch{Collapsed: &collapsed})
}

// UpdateText replaces the text of a text node
func (c *MutationController) UpdateText(ctx context.Context, id valueobjects.NodeID, text string) (entities.Node, *Pending, error) {
	return c.UpdateNode(ctx, id, ports.NodePatch{Text: &text})
}

// MoveNode repositions a node locally. Positions reach the backend through
// CommitPositions, which is also scheduled after a short quiet period.
func (c *MutationController) MoveNode(id valueobjects.NodeID, pos valueobjects.Position) error {
	c.mu.Lock()
	id = c.resolveNodeLocked(id)
	if _, err := c.graph.UpdateNode(id, ports.PositionPatch(pos).Apply); err != nil {
		c.mu.Unlock()
		return errors.NewNotFoundError("node " + id.String())
	}
	c.movedNodes[id.String()] = true
	ch := c.commitLocked(writeMark, false)
	c.mu.Unlock()

	c.finish(context.Background(), ch)
	c.positions.Trigger(func() {
		if err := c.CommitPositions(context.Background()); err != nil {
			c.logger.Debug("Debounced position commit incomplete", zap.Error(err))
		}
	})
	return nil
}

// CommitPositions persists the positions of every node moved since the last commit.
// Failures are logged and returned; local positions are kept either way.
func (c *MutationController) CommitPositions(ctx context.Context) error {
	c.positions.Stop()

	type move struct {
		id  valueobjects.NodeID
		pos valueobjects.Position
	}

	c.mu.Lock()
	var confirmed []move
	for _, n := range c.graph.Nodes() {
		key := n.ID.String()
		if !c.movedNodes[key] {
			continue
		}
		if n.ID.IsTemporary() {
			c.queuedPatches[key] = c.queuedPatches[key].Merge(ports.PositionPatch(n.Position))
			continue
		}
		confirmed = append(confirmed, move{id: n.ID, pos: n.Position})
	}
	c.movedNodes = make(map[string]bool)
	ch := c.commitLocked(writeStore, false)
	c.mu.Unlock()

	c.finish(ctx, ch)

	g := new(errgroup.Group)
	g.SetLimit(positionCommitConcurrency)
	for _, m := range confirmed {
		g.Go(func() error {
			_, err := c.backend.UpdateNode(ctx, m.id, ports.PositionPatch(m.pos))
			c.metrics.Mutation("update_position", err)
			if err != nil {
				c.logger.Warn("Failed to persist node position",
					zap.String("node_id", m.id.String()),
					zap.Error(err))
				return errors.NewMutationFailedError(errors.UpdateFailed, m.id.String(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// DeleteNodes removes nodes and their edges locally, then on the backend.
// Nodes that were never confirmed are not sent. A failed backend delete is
// reported but the nodes stay removed locally.
func (c *MutationController) DeleteNodes(ctx context.Context, ids ...valueobjects.NodeID) *Pending {
	c.mu.Lock()
	resolved := make([]valueobjects.NodeID, 0, len(ids))
	for _, id := range ids {
		resolved = append(resolved, c.resolveNodeLocked(id))
	}
	removed, removedEdges := c.graph.RemoveNodes(resolved...)
	if len(removed) == 0 {
		c.mu.Unlock()
		return resolvedPending("", nil)
	}

	var confirmed []valueobjects.NodeID
	for _, n := range removed {
		key := n.ID.String()
		delete(c.movedNodes, key)
		delete(c.queuedPatches, key)
		if n.ID.IsTemporary() {
			if _, inFlight := c.creating[key]; inFlight {
				c.deletedEarly[key] = true
			}
			continue
		}
		confirmed = append(confirmed, n.ID)
	}
	for _, e := range removedEdges {
		c.forgetEdgeLocked(e.ID)
	}
	ch := c.commitLocked(writeStore, false)
	c.mu.Unlock()

	c.finish(ctx, ch)

	if len(confirmed) == 0 {
		return resolvedPending("", nil)
	}
	p := newPending()
	c.spawn(ctx, func(ctx context.Context) {
		c.runDeleteNodes(ctx, confirmed, p)
	})
	return p
}

func (c *MutationController) runDeleteNodes(ctx context.Context, ids []valueobjects.NodeID, p *Pending) {
	var firstErr error
	for _, id := range ids {
		saga := sagas.NewBuilder[deleteNodeState]("delete_node", c.logger).
			WithRetryableStep("delete_edges", func(ctx context.Context, s *deleteNodeState) error {
				return c.backend.DeleteEdgesByNode(ctx, s.id)
			}, edgeCleanupAttempts, edgeCleanupDelay).
			WithStep("delete_node", func(ctx context.Context, s *deleteNodeState) error {
				return c.backend.DeleteNode(ctx, s.id)
			}).
			Build()

		err := saga.Execute(ctx, &deleteNodeState{id: id})
		c.metrics.Mutation("delete_node", err)
		if err == nil {
			continue
		}

		appErr := errors.NewMutationFailedError(errors.DeleteFailed, id.String(), err)
		c.logger.Warn("Node delete failed on the backend",
			zap.String("node_id", id.String()),
			zap.Error(err))

		c.mu.Lock()
		failure := c.failureLocked(appErr, id.String(), true)
		c.mu.Unlock()
		c.publish(ctx, failure)

		if firstErr == nil {
			firstErr = appErr
		}
	}
	p.resolve("", firstErr)
}

// CreateChildNode branches a new chat node off a passage selected in parentID.
// The child is placed beside the parent, linked from its right handle, and the
// passage is highlighted on the parent.
func (c *MutationController) CreateChildNode(ctx context.Context, parentID valueobjects.NodeID, selection string) (entities.Node, *Pending, error) {
	question := strings.TrimSpace(selection)
	if question == "" {
		return entities.Node{}, nil, errors.NewValidationError("selection is required")
	}

	c.mu.Lock()
	parentID = c.resolveNodeLocked(parentID)
	parent, ok := c.graph.Node(parentID)
	c.mu.Unlock()
	if !ok {
		return entities.Node{}, nil, errors.NewNotFoundError("node " + parentID.String())
	}
	if !parent.IsChat() {
		return entities.Node{}, nil, errors.NewValidationError("only chat nodes can branch")
	}

	pos := parent.Position.Offset(c.rules.ChildNodeOffsetX, c.rules.ChildNodeOffsetY)
	child, p, err := c.CreateChatNode(ctx, pos, entities.ChatContent{
		SummaryQuestion: utils.TruncateRunes(question, c.rules.PromotedQuestionRunes, "..."),
		SummaryAnswer:   ChildPlaceholder,
		FullQuestion:    question,
	})
	if err != nil {
		return entities.Node{}, nil, err
	}

	if _, _, err := c.Connect(ctx, EdgeRequest{Source: parentID, Target: child.ID, SourceHandle: "right"}); err != nil {
		c.logger.Warn("Failed to link child node", zap.String("parent_id", parentID.String()), zap.Error(err))
	}
	if _, _, err := c.AddHighlight(ctx, parentID, question); err != nil {
		c.logger.Warn("Failed to highlight parent node", zap.String("parent_id", parentID.String()), zap.Error(err))
	}
	return child, p, nil
}

// PromoteMessage places a chat answer on the canvas below the existing nodes and
// links it from the most recent chat node. An answer that is already on the
// canvas is focused instead of duplicated.
func (c *MutationController) PromoteMessage(ctx context.Context, pr Promotion) (entities.Node, *Pending, error) {
	answer := strings.TrimSpace(pr.Answer)
	question := strings.TrimSpace(pr.Question)

	c.mu.Lock()
	if answer != "" {
		existing, found := c.graph.FindNode(func(n entities.Node) bool {
			return n.IsChat() && strings.TrimSpace(n.Chat.FullAnswer) == answer
		})
		if found {
			focus := events.NodeFocused{BaseEvent: c.baseLocked(events.TypeNodeFocused), NodeID: existing.ID.String()}
			notice := events.Notice{
				BaseEvent: c.baseLocked(events.TypeNotice),
				Code:      events.NoticeDuplicateAnswer,
				Message:   "This answer is already on the canvas",
			}
			c.mu.Unlock()
			c.publish(ctx, focus)
			c.publish(ctx, notice)
			return existing, duplicatePending(existing.ID.String()), nil
		}
	}

	var pos valueobjects.Position
	nodes := c.graph.Nodes()
	if len(nodes) > 0 {
		maxY := nodes[0].Position.Y
		for _, n := range nodes[1:] {
			if n.Position.Y > maxY {
				maxY = n.Position.Y
			}
		}
		pos = valueobjects.NewPosition(nodes[len(nodes)-1].Position.X, maxY+c.rules.FollowUpOffsetY)
	}
	prev, hasPrev := c.graph.LastNode(entities.KindChat)
	c.mu.Unlock()

	content := entities.ChatContent{
		SummaryQuestion:      utils.TruncateRunes(question, c.rules.PromotedQuestionRunes, "..."),
		SummaryAnswer:        utils.TruncateRunes(streaming.StripFiller(answer), c.rules.PromotedAnswerRunes, "..."),
		FullQuestion:         question,
		FullAnswer:           answer,
		LinkedConversationID: pr.ChatID,
	}
	if answer == "" {
		content.SummaryAnswer = DistillingPlaceholder
	}
	if pr.Summary != nil {
		if s := strings.TrimSpace(pr.Summary.SummaryQuestion); s != "" {
			content.SummaryQuestion = s
		}
		if s := strings.TrimSpace(pr.Summary.SummaryAnswer); s != "" {
			content.SummaryAnswer = s
		}
	}

	node, p, err := c.CreateChatNode(ctx, pos, content)
	if err != nil {
		return entities.Node{}, nil, err
	}
	if hasPrev {
		req := EdgeRequest{Source: prev.ID, Target: node.ID, SourceHandle: "bottom", TargetHandle: "top"}
		if _, _, err := c.Connect(ctx, req); err != nil {
			c.logger.Warn("Failed to link promoted node", zap.String("previous_id", prev.ID.String()), zap.Error(err))
		}
	}
	return node, p, nil
}
