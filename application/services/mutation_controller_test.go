package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"canvassync/application/ports"
	"canvassync/application/streaming"
	"canvassync/domain/config"
	"canvassync/domain/core/aggregates"
	"canvassync/domain/core/entities"
	"canvassync/domain/core/valueobjects"
	"canvassync/domain/events"
	"canvassync/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testWorkspace = "ws-1"

type recordedUpdate struct {
	id    string
	patch ports.NodePatch
}

// fakeBackend is an in-memory GraphWriter. Node creates block on gate while it is set.
type fakeBackend struct {
	mu        sync.Mutex
	nodeSeq   int
	edgeSeq   int
	gate      chan struct{}
	createErr func(spec ports.NodeSpec) error
	edgeErr   error
	updateErr error
	deleteErr error

	createdNodes []ports.NodeSpec
	createdEdges []ports.EdgeSpec
	updates      []recordedUpdate
	deletedNodes []string
	deletedEdges []string
	edgesByNode  []string
	settings     []ports.WorkspaceSettings
}

func (f *fakeBackend) hold() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	return f.gate
}

func (f *fakeBackend) CreateNode(ctx context.Context, spec ports.NodeSpec) (entities.Node, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdNodes = append(f.createdNodes, spec)
	if f.createErr != nil {
		if err := f.createErr(spec); err != nil {
			return entities.Node{}, err
		}
	}
	f.nodeSeq++
	return entities.Node{
		ID:       valueobjects.MustNodeID(fmt.Sprintf("node-%d", f.nodeSeq)),
		Kind:     spec.Kind,
		Position: spec.Position,
		Chat:     spec.Chat.Clone(),
		Text:     spec.Text,
	}, nil
}

func (f *fakeBackend) UpdateNode(ctx context.Context, id valueobjects.NodeID, patch ports.NodePatch) (*entities.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.updates = append(f.updates, recordedUpdate{id: id.String(), patch: patch})
	return &entities.Node{ID: id}, nil
}

func (f *fakeBackend) DeleteNode(ctx context.Context, id valueobjects.NodeID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletedNodes = append(f.deletedNodes, id.String())
	return nil
}

func (f *fakeBackend) CreateEdge(ctx context.Context, spec ports.EdgeSpec) (entities.Edge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.edgeErr != nil {
		return entities.Edge{}, f.edgeErr
	}
	f.createdEdges = append(f.createdEdges, spec)
	f.edgeSeq++
	return entities.Edge{
		ID:           valueobjects.MustEdgeID(fmt.Sprintf("edge-%d", f.edgeSeq)),
		SourceNodeID: spec.SourceNodeID,
		TargetNodeID: spec.TargetNodeID,
		SourceHandle: spec.SourceHandle,
		TargetHandle: spec.TargetHandle,
	}, nil
}

func (f *fakeBackend) DeleteEdge(ctx context.Context, id valueobjects.EdgeID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedEdges = append(f.deletedEdges, id.String())
	return nil
}

func (f *fakeBackend) DeleteEdgesByNode(ctx context.Context, nodeID valueobjects.NodeID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edgesByNode = append(f.edgesByNode, nodeID.String())
	return nil
}

func (f *fakeBackend) UpdateWorkspaceSettings(ctx context.Context, workspaceID string, settings ports.WorkspaceSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings = append(f.settings, settings)
	return nil
}

// backendCalls is a copy of what the fake backend received
type backendCalls struct {
	createdNodes []ports.NodeSpec
	createdEdges []ports.EdgeSpec
	updates      []recordedUpdate
	deletedNodes []string
	deletedEdges []string
	edgesByNode  []string
	settings     []ports.WorkspaceSettings
}

func (f *fakeBackend) snapshot() backendCalls {
	f.mu.Lock()
	defer f.mu.Unlock()
	return backendCalls{
		createdNodes: append([]ports.NodeSpec(nil), f.createdNodes...),
		createdEdges: append([]ports.EdgeSpec(nil), f.createdEdges...),
		updates:      append([]recordedUpdate(nil), f.updates...),
		deletedNodes: append([]string(nil), f.deletedNodes...),
		deletedEdges: append([]string(nil), f.deletedEdges...),
		edgesByNode:  append([]string(nil), f.edgesByNode...),
		settings:     append([]ports.WorkspaceSettings(nil), f.settings...),
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (r *eventRecorder) Publish(ctx context.Context, event events.DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func recorded[T events.DomainEvent](r *eventRecorder) []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []T
	for _, e := range r.events {
		if typed, ok := e.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}

func testRules() *config.DomainConfig {
	rules := config.DefaultDomainConfig()
	rules.PositionCommitDelay = time.Hour
	rules.ViewportSaveDelay = time.Hour
	return rules
}

func newTestController(t *testing.T, backend *fakeBackend) (*MutationController, *eventRecorder) {
	t.Helper()
	rec := &eventRecorder{}
	ctrl := NewMutationController(testWorkspace, backend, nil, rec, testRules(), zaptest.NewLogger(t), nil)
	t.Cleanup(ctrl.Close)
	return ctrl, rec
}

func wait(t *testing.T, p *Pending) (string, error) {
	t.Helper()
	require.NotNil(t, p)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	id, err := p.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "pending mutation never settled")
	return id, err
}

func chatContent(q, a string) entities.ChatContent {
	return entities.ChatContent{SummaryQuestion: q, SummaryAnswer: a, FullQuestion: q, FullAnswer: a}
}

func createConfirmedNode(t *testing.T, ctrl *MutationController, text string) valueobjects.NodeID {
	t.Helper()
	_, p, err := ctrl.CreateTextNode(context.Background(), valueobjects.Position{}, entities.TextContent{Text: text})
	require.NoError(t, err)
	id, err := wait(t, p)
	require.NoError(t, err)
	return valueobjects.MustNodeID(id)
}

func TestCreateNode_ReconcilesTemporaryID(t *testing.T) {
	backend := &fakeBackend{}
	ctrl, rec := newTestController(t, backend)

	node, p, err := ctrl.CreateChatNode(context.Background(), valueobjects.NewPosition(10, 20), chatContent("q", "a"))
	require.NoError(t, err)
	assert.True(t, node.ID.IsTemporary())

	serverID, err := wait(t, p)
	require.NoError(t, err)
	assert.Equal(t, "node-1", serverID)

	nodes := ctrl.Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, "node-1", nodes[0].ID.String())
	assert.Equal(t, "node-1", ctrl.ResolveNodeID(node.ID).String())

	byTemp, ok := ctrl.Node(node.ID)
	require.True(t, ok, "temporary ids keep resolving after reconciliation")
	assert.Equal(t, "a", byTemp.Chat.FullAnswer)

	reconciled := recorded[events.NodeReconciled](rec)
	require.Len(t, reconciled, 1)
	assert.Equal(t, node.ID, reconciled[0].TemporaryID)
	assert.Len(t, recorded[events.NodeAdded](rec), 1)
}

func TestCreateNode_InvalidNodeIsRejected(t *testing.T) {
	ctrl, _ := newTestController(t, &fakeBackend{})

	_, _, err := ctrl.CreateTextNode(context.Background(), valueobjects.NewPosition(0, 0), entities.TextContent{Text: "x", FontSize: 1000})
	assert.True(t, errors.IsValidation(err))
	assert.Empty(t, ctrl.Nodes())
}

func TestConnect_DeferredUntilEndpointsConfirmed(t *testing.T) {
	backend := &fakeBackend{}
	gate := backend.hold()
	ctrl, _ := newTestController(t, backend)
	ctx := context.Background()

	a, _, err := ctrl.CreateTextNode(ctx, valueobjects.Position{}, entities.TextContent{Text: "a"})
	require.NoError(t, err)
	b, pb, err := ctrl.CreateTextNode(ctx, valueobjects.Position{}, entities.TextContent{Text: "b"})
	require.NoError(t, err)

	edge, pe, err := ctrl.Connect(ctx, EdgeRequest{Source: a.ID, Target: b.ID})
	require.NoError(t, err)
	assert.True(t, edge.ID.IsTemporary())
	assert.Empty(t, backend.snapshot().createdEdges, "edge waits for both endpoints")

	close(gate)
	_, err = wait(t, pb)
	require.NoError(t, err)
	edgeID, err := wait(t, pe)
	require.NoError(t, err)
	ctrl.Wait()

	sent := backend.snapshot().createdEdges
	require.Len(t, sent, 1)
	assert.False(t, sent[0].SourceNodeID.IsTemporary())
	assert.False(t, sent[0].TargetNodeID.IsTemporary())

	edges := ctrl.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, edgeID, edges[0].ID.String())
	assert.Equal(t, ctrl.ResolveNodeID(a.ID), edges[0].SourceNodeID)
	assert.Equal(t, ctrl.ResolveNodeID(b.ID), edges[0].TargetNodeID)
}

func TestConnect_DuplicatePublishesNotice(t *testing.T) {
	backend := &fakeBackend{}
	ctrl, rec := newTestController(t, backend)
	ctx := context.Background()
	a := createConfirmedNode(t, ctrl, "a")
	b := createConfirmedNode(t, ctrl, "b")

	req := EdgeRequest{Source: a, Target: b, SourceHandle: "right", TargetHandle: "left"}
	first, p, err := ctrl.Connect(ctx, req)
	require.NoError(t, err)
	_, err = wait(t, p)
	require.NoError(t, err)

	second, dup, err := ctrl.Connect(ctx, req)
	require.NoError(t, err)
	assert.True(t, dup.Duplicate())
	assert.Equal(t, ctrl.Edges()[0].ID, second.ID)
	assert.NotEqual(t, first.ID, second.ID, "the returned edge carries the reconciled id")

	ctrl.Wait()
	assert.Len(t, ctrl.Edges(), 1)
	assert.Len(t, backend.snapshot().createdEdges, 1)

	notices := recorded[events.Notice](rec)
	require.Len(t, notices, 1)
	assert.Equal(t, events.NoticeDuplicateEdge, notices[0].Code)

	other := EdgeRequest{Source: a, Target: b, SourceHandle: "bottom", TargetHandle: "top"}
	_, p, err = ctrl.Connect(ctx, other)
	require.NoError(t, err)
	assert.False(t, p.Duplicate(), "different handles make a different connection")
}

func TestCreateNode_FailureRollsBackNodeAndEdges(t *testing.T) {
	backend := &fakeBackend{createErr: func(spec ports.NodeSpec) error {
		if spec.Text != nil && spec.Text.Text == "doomed" {
			return fmt.Errorf("backend down")
		}
		return nil
	}}
	ctrl, rec := newTestController(t, backend)
	ctx := context.Background()
	anchor := createConfirmedNode(t, ctrl, "anchor")

	gate := backend.hold()
	doomed, p, err := ctrl.CreateTextNode(ctx, valueobjects.Position{}, entities.TextContent{Text: "doomed"})
	require.NoError(t, err)
	_, pe, err := ctrl.Connect(ctx, EdgeRequest{Source: anchor, Target: doomed.ID})
	require.NoError(t, err)
	assert.Len(t, ctrl.Edges(), 1)

	close(gate)
	_, err = wait(t, p)
	assert.True(t, errors.IsMutationFailed(err, errors.CreateFailed))
	_, err = wait(t, pe)
	assert.ErrorIs(t, err, ErrRemovedWhilePending)

	assert.Len(t, ctrl.Nodes(), 1)
	assert.Empty(t, ctrl.Edges(), "no edge may reference the rolled back node")
	assert.Empty(t, backend.snapshot().createdEdges)

	failures := recorded[events.MutationFailed](rec)
	require.Len(t, failures, 1)
	assert.True(t, failures[0].UserVisible)
	assert.Equal(t, string(errors.CreateFailed), failures[0].Kind)
	assert.Equal(t, doomed.ID.String(), failures[0].EntityID)
}

func TestConnect_FailureRollsBackEdge(t *testing.T) {
	backend := &fakeBackend{}
	ctrl, rec := newTestController(t, backend)
	a := createConfirmedNode(t, ctrl, "a")
	b := createConfirmedNode(t, ctrl, "b")

	backend.mu.Lock()
	backend.edgeErr = fmt.Errorf("rejected")
	backend.mu.Unlock()

	_, p, err := ctrl.Connect(context.Background(), EdgeRequest{Source: a, Target: b})
	require.NoError(t, err)
	_, err = wait(t, p)
	assert.True(t, errors.IsMutationFailed(err, errors.CreateFailed))
	assert.Empty(t, ctrl.Edges())

	failures := recorded[events.MutationFailed](rec)
	require.Len(t, failures, 1)
	assert.True(t, failures[0].UserVisible)
}

func TestDeleteNodes_CascadesEdges(t *testing.T) {
	backend := &fakeBackend{}
	ctrl, rec := newTestController(t, backend)
	ctx := context.Background()
	a := createConfirmedNode(t, ctrl, "a")
	b := createConfirmedNode(t, ctrl, "b")
	c := createConfirmedNode(t, ctrl, "c")
	for _, req := range []EdgeRequest{{Source: a, Target: b}, {Source: b, Target: c}} {
		_, p, err := ctrl.Connect(ctx, req)
		require.NoError(t, err)
		_, err = wait(t, p)
		require.NoError(t, err)
	}

	_, err := wait(t, ctrl.DeleteNodes(ctx, b))
	require.NoError(t, err)

	assert.Len(t, ctrl.Nodes(), 2)
	assert.Empty(t, ctrl.Edges())

	sent := backend.snapshot()
	assert.Equal(t, []string{b.String()}, sent.edgesByNode)
	assert.Equal(t, []string{b.String()}, sent.deletedNodes)

	removed := recorded[events.NodesRemoved](rec)
	require.Len(t, removed, 1)
	assert.Len(t, removed[0].EdgeIDs, 2)
}

func TestDeleteNodes_TemporaryNodeNeverSent(t *testing.T) {
	backend := &fakeBackend{}
	gate := backend.hold()
	ctrl, _ := newTestController(t, backend)
	ctx := context.Background()

	node, p, err := ctrl.CreateTextNode(ctx, valueobjects.Position{}, entities.TextContent{Text: "short lived"})
	require.NoError(t, err)

	_, err = wait(t, ctrl.DeleteNodes(ctx, node.ID))
	require.NoError(t, err)
	assert.Empty(t, ctrl.Nodes())
	assert.Empty(t, backend.snapshot().deletedNodes)

	close(gate)
	_, err = wait(t, p)
	assert.ErrorIs(t, err, ErrRemovedWhilePending)
	ctrl.Wait()

	sent := backend.snapshot()
	assert.Equal(t, []string{"node-1"}, sent.deletedNodes, "the server copy is removed once its id is known")
	assert.Empty(t, sent.edgesByNode, "only confirmed deletes go through the cascade")
	assert.Empty(t, ctrl.Nodes())
}

func TestDeleteNodes_FailureKeepsRemoval(t *testing.T) {
	backend := &fakeBackend{}
	ctrl, rec := newTestController(t, backend)
	a := createConfirmedNode(t, ctrl, "a")

	backend.mu.Lock()
	backend.deleteErr = fmt.Errorf("forbidden")
	backend.mu.Unlock()

	_, err := wait(t, ctrl.DeleteNodes(context.Background(), a))
	assert.True(t, errors.IsMutationFailed(err, errors.DeleteFailed))
	assert.Empty(t, ctrl.Nodes())

	failures := recorded[events.MutationFailed](rec)
	require.Len(t, failures, 1)
	assert.True(t, failures[0].UserVisible)
	assert.Equal(t, string(errors.DeleteFailed), failures[0].Kind)
}

func TestUpdateNode_QueuedUntilReconciled(t *testing.T) {
	backend := &fakeBackend{}
	gate := backend.hold()
	ctrl, _ := newTestController(t, backend)
	ctx := context.Background()

	node, p, err := ctrl.CreateTextNode(ctx, valueobjects.Position{}, entities.TextContent{Text: "draft"})
	require.NoError(t, err)
	updated, _, err := ctrl.UpdateText(ctx, node.ID, "final")
	require.NoError(t, err)
	assert.Equal(t, "final", updated.Text.Text)
	_, _, err = ctrl.SetLocked(ctx, node.ID, true)
	require.NoError(t, err)
	assert.Empty(t, backend.snapshot().updates)

	close(gate)
	serverID, err := wait(t, p)
	require.NoError(t, err)
	ctrl.Wait()

	updates := backend.snapshot().updates
	require.Len(t, updates, 1, "queued patches are merged")
	assert.Equal(t, serverID, updates[0].id)
	assert.Equal(t, "final", *updates[0].patch.Text)
	assert.True(t, *updates[0].patch.Locked)
}

func TestUpdateNode_FailureIsNotRolledBack(t *testing.T) {
	backend := &fakeBackend{}
	ctrl, rec := newTestController(t, backend)
	id := createConfirmedNode(t, ctrl, "before")

	backend.mu.Lock()
	backend.updateErr = fmt.Errorf("timeout")
	backend.mu.Unlock()

	_, p, err := ctrl.UpdateText(context.Background(), id, "after")
	require.NoError(t, err)
	_, err = wait(t, p)
	assert.True(t, errors.IsMutationFailed(err, errors.UpdateFailed))

	node, ok := ctrl.Node(id)
	require.True(t, ok)
	assert.Equal(t, "after", node.Text.Text)

	failures := recorded[events.MutationFailed](rec)
	require.Len(t, failures, 1)
	assert.False(t, failures[0].UserVisible)
}

func TestAddHighlight_IgnoresDuplicates(t *testing.T) {
	backend := &fakeBackend{}
	ctrl, _ := newTestController(t, backend)
	ctx := context.Background()
	node, p, err := ctrl.CreateChatNode(ctx, valueobjects.Position{}, chatContent("q", "a long answer"))
	require.NoError(t, err)
	_, err = wait(t, p)
	require.NoError(t, err)

	_, p, err = ctrl.AddHighlight(ctx, node.ID, "long")
	require.NoError(t, err)
	_, err = wait(t, p)
	require.NoError(t, err)
	_, _, err = ctrl.AddHighlight(ctx, node.ID, "long")
	require.NoError(t, err)
	ctrl.Wait()

	current, _ := ctrl.Node(node.ID)
	assert.Equal(t, []string{"long"}, current.Chat.Highlights)
	assert.Len(t, backend.snapshot().updates, 1)
}

func TestUndoRedo_AfterReconcile(t *testing.T) {
	backend := &fakeBackend{}
	ctrl, _ := newTestController(t, backend)
	ctx := context.Background()
	require.True(t, ctrl.Apply(ports.Revision{WorkspaceID: testWorkspace, Snapshot: aggregates.Snapshot{}}))

	a := createConfirmedNode(t, ctrl, "a")
	b := createConfirmedNode(t, ctrl, "b")
	require.True(t, ctrl.CanUndo())

	require.True(t, ctrl.Undo(ctx))
	nodes := ctrl.Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, a, nodes[0].ID, "snapshots taken before reconciliation come back with server ids")
	assert.True(t, ctrl.CanRedo())

	require.True(t, ctrl.Redo(ctx))
	nodes = ctrl.Nodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, b, nodes[1].ID)
	assert.False(t, ctrl.CanRedo())

	ctrl.Wait()
	sent := backend.snapshot()
	assert.Len(t, sent.createdNodes, 2)
	assert.Empty(t, sent.deletedNodes, "undo and redo stay local")
}

func TestUndo_AfterNewChangeDropsRedo(t *testing.T) {
	ctrl, _ := newTestController(t, &fakeBackend{})
	ctx := context.Background()
	require.True(t, ctrl.Apply(ports.Revision{WorkspaceID: testWorkspace}))

	createConfirmedNode(t, ctrl, "a")
	createConfirmedNode(t, ctrl, "b")
	require.True(t, ctrl.Undo(ctx))

	createConfirmedNode(t, ctrl, "c")
	assert.False(t, ctrl.CanRedo())
	assert.Len(t, ctrl.Nodes(), 2)
}

func TestApply_RejectsRevalidationWhileCreating(t *testing.T) {
	backend := &fakeBackend{}
	gate := backend.hold()
	ctrl, _ := newTestController(t, backend)

	_, p, err := ctrl.CreateTextNode(context.Background(), valueobjects.Position{}, entities.TextContent{Text: "pending"})
	require.NoError(t, err)

	stale := ports.Revision{WorkspaceID: testWorkspace, Snapshot: aggregates.Snapshot{}, Revalidated: true}
	assert.False(t, ctrl.Apply(stale))
	assert.Len(t, ctrl.Nodes(), 1)
	assert.False(t, ctrl.Apply(ports.Revision{WorkspaceID: "other"}))

	close(gate)
	_, err = wait(t, p)
	require.NoError(t, err)
	assert.True(t, ctrl.Apply(stale))
	assert.Empty(t, ctrl.Nodes())
}

func TestCommitPositions_PersistsFinalPositions(t *testing.T) {
	backend := &fakeBackend{}
	ctrl, _ := newTestController(t, backend)
	id := createConfirmedNode(t, ctrl, "a")

	require.NoError(t, ctrl.MoveNode(id, valueobjects.NewPosition(5, 5)))
	require.NoError(t, ctrl.MoveNode(id, valueobjects.NewPosition(40, 80)))
	assert.Empty(t, backend.snapshot().updates, "moves are local until committed")

	require.NoError(t, ctrl.CommitPositions(context.Background()))

	updates := backend.snapshot().updates
	require.Len(t, updates, 1)
	assert.Equal(t, valueobjects.NewPosition(40, 80), *updates[0].patch.Position)

	require.NoError(t, ctrl.CommitPositions(context.Background()))
	assert.Len(t, backend.snapshot().updates, 1, "nothing moved since the last commit")
}

func TestCommitPositions_FailureKeepsLocalPosition(t *testing.T) {
	backend := &fakeBackend{}
	ctrl, _ := newTestController(t, backend)
	id := createConfirmedNode(t, ctrl, "a")
	backend.mu.Lock()
	backend.updateErr = fmt.Errorf("offline")
	backend.mu.Unlock()

	require.NoError(t, ctrl.MoveNode(id, valueobjects.NewPosition(7, 7)))
	err := ctrl.CommitPositions(context.Background())
	assert.True(t, errors.IsMutationFailed(err, errors.UpdateFailed))

	node, _ := ctrl.Node(id)
	assert.Equal(t, valueobjects.NewPosition(7, 7), node.Position)
}

func TestSetViewport_SavedOnFlush(t *testing.T) {
	backend := &fakeBackend{}
	ctrl, rec := newTestController(t, backend)
	v := valueobjects.Viewport{X: 10, Y: -5, Zoom: 1.5}

	ctrl.SetViewport(v)
	ctrl.SetViewport(v)
	assert.Empty(t, backend.snapshot().settings)

	ctrl.Flush()
	settings := backend.snapshot().settings
	require.Len(t, settings, 1)
	assert.Equal(t, v, settings[0].Viewport)
	assert.Len(t, recorded[events.ViewportChanged](rec), 1)
}

func TestPromoteMessage_PlacementAndAutoLink(t *testing.T) {
	backend := &fakeBackend{}
	ctrl, _ := newTestController(t, backend)
	ctx := context.Background()

	first, p1, err := ctrl.PromoteMessage(ctx, Promotion{Question: "What is Go?", Answer: "Sure! Go is a language."})
	require.NoError(t, err)
	assert.Equal(t, valueobjects.Position{}, first.Position)
	assert.Equal(t, "Go is a language.", first.Chat.SummaryAnswer)

	second, p2, err := ctrl.PromoteMessage(ctx, Promotion{Question: "Who made it?", Answer: "Google.", ChatID: "chat-9"})
	require.NoError(t, err)
	assert.Equal(t, valueobjects.NewPosition(0, 350), second.Position)
	assert.Equal(t, "chat-9", second.Chat.LinkedConversationID)

	_, err = wait(t, p1)
	require.NoError(t, err)
	_, err = wait(t, p2)
	require.NoError(t, err)
	ctrl.Wait()

	edges := ctrl.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, ctrl.ResolveNodeID(first.ID), edges[0].SourceNodeID)
	assert.Equal(t, ctrl.ResolveNodeID(second.ID), edges[0].TargetNodeID)
	assert.Equal(t, "bottom", edges[0].SourceHandle)
	assert.Equal(t, "top", edges[0].TargetHandle)
}

func TestPromoteMessage_DuplicateAnswerFocusesExisting(t *testing.T) {
	backend := &fakeBackend{}
	ctrl, rec := newTestController(t, backend)
	ctx := context.Background()

	first, p, err := ctrl.PromoteMessage(ctx, Promotion{Question: "q", Answer: "same answer"})
	require.NoError(t, err)
	serverID, err := wait(t, p)
	require.NoError(t, err)

	again, dup, err := ctrl.PromoteMessage(ctx, Promotion{Question: "q again", Answer: "  same answer "})
	require.NoError(t, err)
	assert.True(t, dup.Duplicate())
	assert.Equal(t, serverID, again.ID.String())
	assert.Len(t, ctrl.Nodes(), 1)
	assert.NotEqual(t, first.ID, again.ID)

	focused := recorded[events.NodeFocused](rec)
	require.Len(t, focused, 1)
	assert.Equal(t, serverID, focused[0].NodeID)
	notices := recorded[events.Notice](rec)
	require.Len(t, notices, 1)
	assert.Equal(t, events.NoticeDuplicateAnswer, notices[0].Code)
}

func TestPromoteMessage_Summaries(t *testing.T) {
	ctrl, _ := newTestController(t, &fakeBackend{})
	ctx := context.Background()

	pending, _, err := ctrl.PromoteMessage(ctx, Promotion{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, DistillingPlaceholder, pending.Chat.SummaryAnswer)

	given, _, err := ctrl.PromoteMessage(ctx, Promotion{
		Question: "a very long question that goes on and on and on and will need cutting",
		Answer:   "full answer",
		Summary:  &streaming.Summary{SummaryQuestion: "short q", SummaryAnswer: ""},
	})
	require.NoError(t, err)
	assert.Equal(t, "short q", given.Chat.SummaryQuestion)
	assert.Equal(t, "full answer", given.Chat.SummaryAnswer, "blank summary fields fall back")
}

func TestCreateChildNode(t *testing.T) {
	backend := &fakeBackend{}
	ctrl, _ := newTestController(t, backend)
	ctx := context.Background()

	parent, p, err := ctrl.CreateChatNode(ctx, valueobjects.NewPosition(100, 100), chatContent("q", "Goroutines are cheap threads."))
	require.NoError(t, err)
	parentID, err := wait(t, p)
	require.NoError(t, err)

	child, pc, err := ctrl.CreateChildNode(ctx, parent.ID, "  cheap threads ")
	require.NoError(t, err)
	assert.Equal(t, valueobjects.NewPosition(500, 150), child.Position)
	assert.Equal(t, "cheap threads", child.Chat.FullQuestion)
	assert.Equal(t, ChildPlaceholder, child.Chat.SummaryAnswer)

	_, err = wait(t, pc)
	require.NoError(t, err)
	ctrl.Wait()

	edges := ctrl.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, parentID, edges[0].SourceNodeID.String())
	assert.Equal(t, "right", edges[0].SourceHandle)

	updatedParent, _ := ctrl.Node(parent.ID)
	assert.Equal(t, []string{"cheap threads"}, updatedParent.Chat.Highlights)

	_, _, err = ctrl.CreateChildNode(ctx, parent.ID, "   ")
	assert.True(t, errors.IsValidation(err))
}
