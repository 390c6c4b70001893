package entities

import (
	"canvassync/domain/core/valueobjects"
)

// Edge connects two nodes of the same workspace
type Edge struct {
	ID           valueobjects.EdgeID `json:"id"`
	SourceNodeID valueobjects.NodeID `json:"source"`
	TargetNodeID valueobjects.NodeID `json:"target"`
	SourceHandle string              `json:"sourceHandle,omitempty"`
	TargetHandle string              `json:"targetHandle,omitempty"`
}

// SameConnection reports whether both edges join the same endpoints through the same handles
func (e Edge) SameConnection(other Edge) bool {
	return e.SourceNodeID.Equals(other.SourceNodeID) &&
		e.TargetNodeID.Equals(other.TargetNodeID) &&
		e.SourceHandle == other.SourceHandle &&
		e.TargetHandle == other.TargetHandle
}

// Touches reports whether the node is an endpoint of the edge
func (e Edge) Touches(nodeID valueobjects.NodeID) bool {
	return e.SourceNodeID.Equals(nodeID) || e.TargetNodeID.Equals(nodeID)
}

// HasTemporaryEndpoint reports whether either endpoint is still unconfirmed
func (e Edge) HasTemporaryEndpoint() bool {
	return e.SourceNodeID.IsTemporary() || e.TargetNodeID.IsTemporary()
}
