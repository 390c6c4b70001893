package valueobjects

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// TempIDPrefix marks identifiers minted locally before the backend acknowledged the entity
const TempIDPrefix = "temp-"

// NodeID is a value object representing a node identifier.
// It is either temporary (locally minted) or issued by the server.
type NodeID struct {
	value string
}

// NewTemporaryNodeID mints a new temporary NodeID
func NewTemporaryNodeID() NodeID {
	return NodeID{value: TempIDPrefix + uuid.New().String()}
}

// NewNodeIDFromString creates a NodeID from an existing string
func NewNodeIDFromString(id string) (NodeID, error) {
	if strings.TrimSpace(id) == "" {
		return NodeID{}, errors.New("node ID cannot be empty")
	}
	return NodeID{value: id}, nil
}

// MustNodeID is like NewNodeIDFromString but panics on an empty id
func MustNodeID(id string) NodeID {
	nodeID, err := NewNodeIDFromString(id)
	if err != nil {
		panic(err)
	}
	return nodeID
}

// String returns the string representation of the NodeID
func (id NodeID) String() string {
	return id.value
}

// Equals checks if two NodeIDs are equal
func (id NodeID) Equals(other NodeID) bool {
	return id.value == other.value
}

// IsZero checks if the NodeID is the zero value
func (id NodeID) IsZero() bool {
	return id.value == ""
}

// IsTemporary reports whether the backend has not yet issued this id
func (id NodeID) IsTemporary() bool {
	return IsTemporaryID(id.value)
}

// MarshalJSON implements json.Marshaler
func (id NodeID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler
func (id *NodeID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.New("NodeID must be a string")
	}
	id.value = s
	return nil
}

// IsTemporaryID reports whether a raw identifier carries the temporary prefix
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}
