package ports

import (
	"context"
	"fmt"

	"canvassync/domain/core/aggregates"
	"canvassync/domain/core/entities"
	"canvassync/domain/core/valueobjects"
)

// WorkspaceReader loads the persisted graph of a workspace.
// A nil result with a nil error means the workspace does not exist.
type WorkspaceReader interface {
	FetchWorkspaceData(ctx context.Context, workspaceID string) (*WorkspaceData, error)
}

// NodeWriter persists nodes on the backend
type NodeWriter interface {
	// CreateNode stores a new node and returns it with its server-issued id
	CreateNode(ctx context.Context, spec NodeSpec) (entities.Node, error)

	// UpdateNode applies a partial update; a nil node means it no longer exists
	UpdateNode(ctx context.Context, id valueobjects.NodeID, patch NodePatch) (*entities.Node, error)

	// DeleteNode removes a node
	DeleteNode(ctx context.Context, id valueobjects.NodeID) error
}

// EdgeWriter persists edges on the backend
type EdgeWriter interface {
	// CreateEdge is idempotent: a duplicate connection returns the existing edge
	CreateEdge(ctx context.Context, spec EdgeSpec) (entities.Edge, error)

	// DeleteEdge removes a single edge
	DeleteEdge(ctx context.Context, id valueobjects.EdgeID) error

	// DeleteEdgesByNode removes every edge touching the node
	DeleteEdgesByNode(ctx context.Context, nodeID valueobjects.NodeID) error
}

// SettingsWriter persists per-workspace canvas settings
type SettingsWriter interface {
	UpdateWorkspaceSettings(ctx context.Context, workspaceID string, settings WorkspaceSettings) error
}

// ConversationReader reads chat transcripts and chat lists
type ConversationReader interface {
	GetMessages(ctx context.Context, chatID string) ([]entities.Message, error)
	ListChats(ctx context.Context, query ListChatsQuery) (entities.ChatPage, error)
}

// ChunkStream yields answer text in arbitrary chunks.
// Recv returns io.EOF once the answer is complete.
type ChunkStream interface {
	Recv() (string, error)
	Close() error
}

// AnswerStreamer starts a streamed AI answer
type AnswerStreamer interface {
	StreamAnswer(ctx context.Context, req AnswerRequest) (ChunkStream, error)
}

// Backend bundles every collaborator the sync engine talks to
type Backend interface {
	WorkspaceReader
	NodeWriter
	EdgeWriter
	SettingsWriter
	ConversationReader
	AnswerStreamer
}

// NodeSpec describes a node to create
type NodeSpec struct {
	WorkspaceID string                `json:"workspaceId" validate:"required"`
	Kind        entities.NodeKind     `json:"type" validate:"required,oneof=chatNode textNode"`
	Position    valueobjects.Position `json:"position"`
	Chat        *entities.ChatContent `json:"chat,omitempty" validate:"required_if=Kind chatNode"`
	Text        *entities.TextContent `json:"text,omitempty" validate:"required_if=Kind textNode"`
}

// SpecFromNode derives the create request for a locally inserted node
func SpecFromNode(workspaceID string, node entities.Node) NodeSpec {
	clone := node.Clone()
	return NodeSpec{
		WorkspaceID: workspaceID,
		Kind:        clone.Kind,
		Position:    clone.Position,
		Chat:        clone.Chat,
		Text:        clone.Text,
	}
}

// EdgeSpec describes an edge to create
type EdgeSpec struct {
	WorkspaceID  string              `json:"workspaceId" validate:"required"`
	SourceNodeID valueobjects.NodeID `json:"source"`
	TargetNodeID valueobjects.NodeID `json:"target"`
	SourceHandle string              `json:"sourceHandle,omitempty"`
	TargetHandle string              `json:"targetHandle,omitempty"`
}

// WorkspaceSettings holds per-workspace canvas preferences
type WorkspaceSettings struct {
	Viewport valueobjects.Viewport `json:"viewport"`
}

// WorkspaceData is the persisted state of a workspace as returned by the backend
type WorkspaceData struct {
	Nodes    []entities.Node    `json:"nodes"`
	Edges    []entities.Edge    `json:"edges"`
	Settings *WorkspaceSettings `json:"workspaceSettings,omitempty"`
}

// ToSnapshot converts backend data into a graph snapshot
func (d WorkspaceData) ToSnapshot() aggregates.Snapshot {
	snap := aggregates.Snapshot{
		Nodes:    d.Nodes,
		Edges:    d.Edges,
		Viewport: valueobjects.DefaultViewport(),
	}
	if snap.Nodes == nil {
		snap.Nodes = []entities.Node{}
	}
	if snap.Edges == nil {
		snap.Edges = []entities.Edge{}
	}
	if d.Settings != nil && !d.Settings.Viewport.IsZero() {
		snap.Viewport = d.Settings.Viewport
	}
	return snap.Clone()
}

// AnswerRequest asks for a streamed answer
type AnswerRequest struct {
	Question string `json:"question" validate:"required"`
	Context  string `json:"context,omitempty"`
}

// ListChatsQuery selects one page of a user's chats.
// At most one of StartingAfter and EndingBefore is set.
type ListChatsQuery struct {
	UserID        string `json:"userId" validate:"required"`
	Limit         int    `json:"limit" validate:"gt=0,lte=100"`
	StartingAfter string `json:"startingAfter,omitempty" validate:"excluded_with=EndingBefore"`
	EndingBefore  string `json:"endingBefore,omitempty"`
}

// CacheKey identifies the page in a list cache
func (q ListChatsQuery) CacheKey() string {
	key := fmt.Sprintf("%s-%d", q.UserID, q.Limit)
	switch {
	case q.StartingAfter != "":
		key += "-after-" + q.StartingAfter
	case q.EndingBefore != "":
		key += "-before-" + q.EndingBefore
	}
	return key
}
