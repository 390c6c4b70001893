package valueobjects

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// EdgeID identifies an edge. Like NodeID it may be temporary.
type EdgeID struct {
	value string
}

// NewTemporaryEdgeID mints a new temporary EdgeID
func NewTemporaryEdgeID() EdgeID {
	return EdgeID{value: TempIDPrefix + uuid.New().String()}
}

// NewEdgeIDFromString creates an EdgeID from an existing string
func NewEdgeIDFromString(id string) (EdgeID, error) {
	if strings.TrimSpace(id) == "" {
		return EdgeID{}, errors.New("edge ID cannot be empty")
	}
	return EdgeID{value: id}, nil
}

// MustEdgeID is like NewEdgeIDFromString but panics on an empty id
func MustEdgeID(id string) EdgeID {
	edgeID, err := NewEdgeIDFromString(id)
	if err != nil {
		panic(err)
	}
	return edgeID
}

func (id EdgeID) String() string           { return id.value }
func (id EdgeID) Equals(other EdgeID) bool { return id.value == other.value }
func (id EdgeID) IsZero() bool             { return id.value == "" }
func (id EdgeID) IsTemporary() bool        { return IsTemporaryID(id.value) }

// MarshalJSON implements json.Marshaler
func (id EdgeID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler
func (id *EdgeID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.New("EdgeID must be a string")
	}
	id.value = s
	return nil
}
