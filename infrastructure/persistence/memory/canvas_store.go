// Package memory holds the in-process reference backend used by the dev server
// and by integration tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"canvassync/application/ports"
	"canvassync/domain/core/entities"
	"canvassync/domain/core/valueobjects"
	"canvassync/pkg/errors"
	"canvassync/pkg/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type workspace struct {
	nodes     map[string]entities.Node
	nodeOrder []string
	edges     map[string]entities.Edge
	edgeOrder []string
	settings  *ports.WorkspaceSettings
}

func newWorkspace() *workspace {
	return &workspace{
		nodes: make(map[string]entities.Node),
		edges: make(map[string]entities.Edge),
	}
}

// CanvasStore implements ports.Backend in memory. Workspaces come into existence
// with their first write; reading one that was never written returns nil data.
type CanvasStore struct {
	answers *ScriptedAnswers
	logger  *zap.Logger
	clock   func() time.Time

	mu         sync.RWMutex
	workspaces map[string]*workspace
	nodeOwner  map[string]string
	edgeOwner  map[string]string
	chats      map[string]entities.Chat
	messages   map[string][]entities.Message
}

var _ ports.Backend = (*CanvasStore)(nil)

// NewCanvasStore creates an empty store. answers may be nil for a store that never streams.
func NewCanvasStore(answers *ScriptedAnswers, logger *zap.Logger) *CanvasStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CanvasStore{
		answers:    answers,
		logger:     logger,
		clock:      time.Now,
		workspaces: make(map[string]*workspace),
		nodeOwner:  make(map[string]string),
		edgeOwner:  make(map[string]string),
		chats:      make(map[string]entities.Chat),
		messages:   make(map[string][]entities.Message),
	}
}

// EnsureWorkspace creates an empty workspace if it does not exist yet
func (s *CanvasStore) EnsureWorkspace(workspaceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspaceLocked(workspaceID)
}

func (s *CanvasStore) workspaceLocked(workspaceID string) *workspace {
	ws, ok := s.workspaces[workspaceID]
	if !ok {
		ws = newWorkspace()
		s.workspaces[workspaceID] = ws
	}
	return ws
}

// FetchWorkspaceData returns the workspace graph, or nil when the workspace was never written
func (s *CanvasStore) FetchWorkspaceData(ctx context.Context, workspaceID string) (*ports.WorkspaceData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ws, ok := s.workspaces[workspaceID]
	if !ok {
		return nil, nil
	}
	data := &ports.WorkspaceData{
		Nodes: make([]entities.Node, 0, len(ws.nodeOrder)),
		Edges: make([]entities.Edge, 0, len(ws.edgeOrder)),
	}
	for _, id := range ws.nodeOrder {
		data.Nodes = append(data.Nodes, ws.nodes[id].Clone())
	}
	for _, id := range ws.edgeOrder {
		data.Edges = append(data.Edges, ws.edges[id])
	}
	if ws.settings != nil {
		settings := *ws.settings
		data.Settings = &settings
	}
	return data, nil
}

// CreateNode stores a node under a new server id
func (s *CanvasStore) CreateNode(ctx context.Context, spec ports.NodeSpec) (entities.Node, error) {
	if err := ctx.Err(); err != nil {
		return entities.Node{}, err
	}
	if err := utils.ValidateStruct(spec); err != nil {
		return entities.Node{}, errors.NewValidationError(err.Error())
	}

	id := valueobjects.MustNodeID(uuid.NewString())
	var node entities.Node
	if spec.Kind == entities.KindChat {
		node = entities.NewChatNode(id, spec.Position, *spec.Chat)
	} else {
		node = entities.NewTextNode(id, spec.Position, *spec.Text)
	}
	node = node.Clone()

	s.mu.Lock()
	ws := s.workspaceLocked(spec.WorkspaceID)
	ws.nodes[id.String()] = node
	ws.nodeOrder = append(ws.nodeOrder, id.String())
	s.nodeOwner[id.String()] = spec.WorkspaceID
	s.mu.Unlock()

	s.logger.Debug("Node created",
		zap.String("workspace_id", spec.WorkspaceID),
		zap.String("node_id", id.String()))
	return node.Clone(), nil
}

// UpdateNode applies patch and returns the stored node, or nil when it does not exist
func (s *CanvasStore) UpdateNode(ctx context.Context, id valueobjects.NodeID, patch ports.NodePatch) (*entities.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ws, ok := s.workspaces[s.nodeOwner[id.String()]]
	if !ok {
		return nil, nil
	}
	node, ok := ws.nodes[id.String()]
	if !ok {
		return nil, nil
	}
	patch.Apply(&node)
	ws.nodes[id.String()] = node
	out := node.Clone()
	return &out, nil
}

// DeleteNode removes a node and every edge touching it. Deleting a missing node succeeds.
func (s *CanvasStore) DeleteNode(ctx context.Context, id valueobjects.NodeID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := id.String()
	wsID, ok := s.nodeOwner[key]
	if !ok {
		return nil
	}
	ws := s.workspaces[wsID]
	s.removeEdgesLocked(ws, func(e entities.Edge) bool { return e.Touches(id) })
	delete(ws.nodes, key)
	ws.nodeOrder = without(ws.nodeOrder, key)
	delete(s.nodeOwner, key)
	return nil
}

// CreateEdge stores an edge. Creating a connection that already exists returns the existing edge.
func (s *CanvasStore) CreateEdge(ctx context.Context, spec ports.EdgeSpec) (entities.Edge, error) {
	if err := ctx.Err(); err != nil {
		return entities.Edge{}, err
	}
	if err := utils.ValidateStruct(spec); err != nil {
		return entities.Edge{}, errors.NewValidationError(err.Error())
	}
	if spec.SourceNodeID.IsTemporary() || spec.TargetNodeID.IsTemporary() {
		return entities.Edge{}, errors.NewValidationError("edge endpoints must be confirmed nodes")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ws := s.workspaceLocked(spec.WorkspaceID)
	for _, n := range []valueobjects.NodeID{spec.SourceNodeID, spec.TargetNodeID} {
		if _, ok := ws.nodes[n.String()]; !ok {
			return entities.Edge{}, errors.NewNotFoundError("node " + n.String())
		}
	}

	edge := entities.Edge{
		SourceNodeID: spec.SourceNodeID,
		TargetNodeID: spec.TargetNodeID,
		SourceHandle: spec.SourceHandle,
		TargetHandle: spec.TargetHandle,
	}
	for _, id := range ws.edgeOrder {
		if existing := ws.edges[id]; existing.SameConnection(edge) {
			return existing, nil
		}
	}

	edge.ID = valueobjects.MustEdgeID(uuid.NewString())
	ws.edges[edge.ID.String()] = edge
	ws.edgeOrder = append(ws.edgeOrder, edge.ID.String())
	s.edgeOwner[edge.ID.String()] = spec.WorkspaceID
	return edge, nil
}

// DeleteEdge removes one edge. Deleting a missing edge succeeds.
func (s *CanvasStore) DeleteEdge(ctx context.Context, id valueobjects.EdgeID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ws, ok := s.workspaces[s.edgeOwner[id.String()]]
	if !ok {
		return nil
	}
	s.removeEdgesLocked(ws, func(e entities.Edge) bool { return e.ID.Equals(id) })
	return nil
}

// DeleteEdgesByNode removes every edge touching the node
func (s *CanvasStore) DeleteEdgesByNode(ctx context.Context, nodeID valueobjects.NodeID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ws, ok := s.workspaces[s.nodeOwner[nodeID.String()]]
	if !ok {
		return nil
	}
	s.removeEdgesLocked(ws, func(e entities.Edge) bool { return e.Touches(nodeID) })
	return nil
}

func (s *CanvasStore) removeEdgesLocked(ws *workspace, match func(entities.Edge) bool) {
	kept := ws.edgeOrder[:0]
	for _, id := range ws.edgeOrder {
		if match(ws.edges[id]) {
			delete(ws.edges, id)
			delete(s.edgeOwner, id)
			continue
		}
		kept = append(kept, id)
	}
	ws.edgeOrder = kept
}

// UpdateWorkspaceSettings replaces the workspace settings
func (s *CanvasStore) UpdateWorkspaceSettings(ctx context.Context, workspaceID string, settings ports.WorkspaceSettings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspaceLocked(workspaceID).settings = &settings
	return nil
}

// AddChat records a conversation with its transcript and returns its header
func (s *CanvasStore) AddChat(userID, title string, transcript ...entities.Message) entities.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()

	// strictly increasing creation times keep list order stable
	created := s.clock().UTC()
	for _, c := range s.chats {
		if !created.After(c.CreatedAt) {
			created = c.CreatedAt.Add(time.Millisecond)
		}
	}
	chat := entities.Chat{
		ID:         uuid.NewString(),
		UserID:     userID,
		Title:      title,
		Visibility: "private",
		CreatedAt:  created,
	}
	s.chats[chat.ID] = chat

	msgs := make([]entities.Message, 0, len(transcript))
	for i, m := range transcript {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		m.ChatID = chat.ID
		if m.CreatedAt.IsZero() {
			m.CreatedAt = created.Add(time.Duration(i) * time.Second)
		}
		msgs = append(msgs, m)
	}
	s.messages[chat.ID] = msgs
	return chat
}

// AppendMessages adds messages to an existing chat
func (s *CanvasStore) AppendMessages(chatID string, msgs ...entities.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[chatID]; !ok {
		return errors.NewNotFoundError("chat " + chatID)
	}
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		m.ChatID = chatID
		if m.CreatedAt.IsZero() {
			m.CreatedAt = s.clock().UTC()
		}
		s.messages[chatID] = append(s.messages[chatID], m)
	}
	return nil
}

// GetMessages returns the transcript of a chat in order
func (s *CanvasStore) GetMessages(ctx context.Context, chatID string) ([]entities.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.chats[chatID]; !ok {
		return nil, errors.NewNotFoundError("chat " + chatID)
	}
	return append([]entities.Message{}, s.messages[chatID]...), nil
}

// ListChats pages through a user's chats, newest first. StartingAfter returns the
// page following that chat; EndingBefore the page preceding it.
func (s *CanvasStore) ListChats(ctx context.Context, query ports.ListChatsQuery) (entities.ChatPage, error) {
	if err := ctx.Err(); err != nil {
		return entities.ChatPage{}, err
	}
	if err := utils.ValidateStruct(query); err != nil {
		return entities.ChatPage{}, errors.NewValidationError(err.Error())
	}

	s.mu.RLock()
	var chats []entities.Chat
	for _, c := range s.chats {
		if c.UserID == query.UserID {
			chats = append(chats, c)
		}
	}
	s.mu.RUnlock()

	sort.Slice(chats, func(i, j int) bool {
		return chats[i].CreatedAt.After(chats[j].CreatedAt)
	})

	start, end := 0, len(chats)
	switch {
	case query.StartingAfter != "":
		idx := indexOfChat(chats, query.StartingAfter)
		if idx < 0 {
			return entities.ChatPage{}, errors.NewNotFoundError("chat " + query.StartingAfter)
		}
		start = idx + 1
		end = min(start+query.Limit, len(chats))
		return entities.ChatPage{Chats: chats[start:end], HasMore: end < len(chats)}, nil
	case query.EndingBefore != "":
		idx := indexOfChat(chats, query.EndingBefore)
		if idx < 0 {
			return entities.ChatPage{}, errors.NewNotFoundError("chat " + query.EndingBefore)
		}
		end = idx
		start = max(0, end-query.Limit)
		return entities.ChatPage{Chats: chats[start:end], HasMore: start > 0}, nil
	}

	end = min(query.Limit, len(chats))
	page := entities.ChatPage{Chats: chats[start:end], HasMore: end < len(chats)}
	if page.Chats == nil {
		page.Chats = []entities.Chat{}
	}
	return page, nil
}

// StreamAnswer streams a scripted answer for the question
func (s *CanvasStore) StreamAnswer(ctx context.Context, req ports.AnswerRequest) (ports.ChunkStream, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, errors.NewValidationError(err.Error())
	}
	if s.answers == nil {
		return nil, errors.NewUnavailableError("answers")
	}
	return s.answers.Stream(ctx, req.Question, req.Context), nil
}

func indexOfChat(chats []entities.Chat, id string) int {
	for i, c := range chats {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
