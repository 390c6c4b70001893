package events

import (
	"time"
)

// DomainEvent is the base interface for all domain events
// Events represent something that has happened in the past
type DomainEvent interface {
	GetAggregateID() string
	GetEventType() string
	GetTimestamp() time.Time
	GetVersion() int
}

// BaseEvent provides common event fields.
// AggregateID is the workspace id; Version is the local graph revision.
type BaseEvent struct {
	AggregateID string    `json:"aggregate_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	Version     int       `json:"version"`
}

func (e BaseEvent) GetAggregateID() string  { return e.AggregateID }
func (e BaseEvent) GetEventType() string    { return e.EventType }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e BaseEvent) GetVersion() int         { return e.Version }

// Event type names
const (
	TypeNodeAdded       = "graph.node_added"
	TypeNodeUpdated     = "graph.node_updated"
	TypeNodeReconciled  = "graph.node_reconciled"
	TypeNodesRemoved    = "graph.nodes_removed"
	TypeEdgeAdded       = "graph.edge_added"
	TypeEdgeReconciled  = "graph.edge_reconciled"
	TypeEdgesRemoved    = "graph.edges_removed"
	TypeGraphReplaced   = "graph.replaced"
	TypeViewportChanged = "graph.viewport_changed"

	TypeMutationFailed  = "sync.mutation_failed"
	TypeNotice          = "sync.notice"
	TypeNodeFocused     = "sync.node_focused"
	TypeAnswerProgress  = "answer.progress"
	TypeAnswerCompleted = "answer.completed"
)

// NewBase builds the common event fields
func NewBase(workspaceID, eventType string, version int, timestamp time.Time) BaseEvent {
	return BaseEvent{
		AggregateID: workspaceID,
		EventType:   eventType,
		Timestamp:   timestamp,
		Version:     version,
	}
}
