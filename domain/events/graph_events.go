package events

import (
	"canvassync/domain/core/entities"
	"canvassync/domain/core/valueobjects"
)

// NodeAdded is raised when a node enters the local graph
type NodeAdded struct {
	BaseEvent
	Node entities.Node `json:"node"`
}

// NodeUpdated is raised when a node changes locally
type NodeUpdated struct {
	BaseEvent
	Node entities.Node `json:"node"`
}

// NodeReconciled is raised when a temporary node id is replaced by the server id
type NodeReconciled struct {
	BaseEvent
	TemporaryID valueobjects.NodeID `json:"temporary_id"`
	ServerID    valueobjects.NodeID `json:"server_id"`
}

// NodesRemoved is raised when nodes leave the graph, together with their incident edges
type NodesRemoved struct {
	BaseEvent
	NodeIDs []valueobjects.NodeID `json:"node_ids"`
	EdgeIDs []valueobjects.EdgeID `json:"edge_ids,omitempty"`
}

// EdgeAdded is raised when an edge enters the local graph
type EdgeAdded struct {
	BaseEvent
	Edge entities.Edge `json:"edge"`
}

// EdgeReconciled is raised when a temporary edge id is replaced by the server id
type EdgeReconciled struct {
	BaseEvent
	TemporaryID valueobjects.EdgeID `json:"temporary_id"`
	ServerID    valueobjects.EdgeID `json:"server_id"`
}

// EdgesRemoved is raised when edges are removed on their own
type EdgesRemoved struct {
	BaseEvent
	EdgeIDs []valueobjects.EdgeID `json:"edge_ids"`
}

// GraphReplaced is raised when the whole local state is swapped (load, revalidation, undo, redo)
type GraphReplaced struct {
	BaseEvent
	Reason    string `json:"reason"`
	NodeCount int    `json:"node_count"`
	EdgeCount int    `json:"edge_count"`
}

// ViewportChanged is raised when the canvas pan or zoom changes
type ViewportChanged struct {
	BaseEvent
	Viewport valueobjects.Viewport `json:"viewport"`
}
