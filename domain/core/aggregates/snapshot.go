package aggregates

import (
	"canvassync/domain/core/entities"
	"canvassync/domain/core/valueobjects"
)

// Snapshot is a serialisable deep copy of a workspace graph
type Snapshot struct {
	Nodes    []entities.Node       `json:"nodes"`
	Edges    []entities.Edge       `json:"edges"`
	Viewport valueobjects.Viewport `json:"viewport"`
}

// Clone returns a deep copy
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Viewport: s.Viewport}
	if s.Nodes != nil {
		out.Nodes = make([]entities.Node, len(s.Nodes))
		for i, n := range s.Nodes {
			out.Nodes[i] = n.Clone()
		}
	}
	if s.Edges != nil {
		out.Edges = append([]entities.Edge{}, s.Edges...)
	}
	return out
}

// IsEmpty reports whether the snapshot holds no nodes
func (s Snapshot) IsEmpty() bool {
	return len(s.Nodes) == 0
}

// StructurallyDiffers reports whether the node or edge count changed
func (s Snapshot) StructurallyDiffers(other Snapshot) bool {
	return len(s.Nodes) != len(other.Nodes) || len(s.Edges) != len(other.Edges)
}

// RewriteIDs returns a copy with every id found in the alias maps replaced.
// It is used to bring snapshots taken before a reconciliation up to date.
func (s Snapshot) RewriteIDs(nodeAliases, edgeAliases map[string]string) Snapshot {
	out := s.Clone()
	if len(nodeAliases) == 0 && len(edgeAliases) == 0 {
		return out
	}
	for i := range out.Nodes {
		if to, ok := nodeAliases[out.Nodes[i].ID.String()]; ok {
			out.Nodes[i].ID = valueobjects.MustNodeID(to)
		}
	}
	for i := range out.Edges {
		e := &out.Edges[i]
		if to, ok := edgeAliases[e.ID.String()]; ok {
			e.ID = valueobjects.MustEdgeID(to)
		}
		if to, ok := nodeAliases[e.SourceNodeID.String()]; ok {
			e.SourceNodeID = valueobjects.MustNodeID(to)
		}
		if to, ok := nodeAliases[e.TargetNodeID.String()]; ok {
			e.TargetNodeID = valueobjects.MustNodeID(to)
		}
	}
	return out
}
