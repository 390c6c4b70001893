package valueobjects

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTemporaryNodeID(t *testing.T) {
	a := NewTemporaryNodeID()
	b := NewTemporaryNodeID()

	assert.True(t, strings.HasPrefix(a.String(), TempIDPrefix))
	assert.True(t, a.IsTemporary())
	assert.False(t, a.Equals(b))
}

func TestNewNodeIDFromString(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantErr   bool
		temporary bool
	}{
		{name: "server id", input: "7f0c2c1e-4d7b-4a6f-9a5e-1f0b9e0c2d11"},
		{name: "non uuid server id", input: "node_42"},
		{name: "temporary id", input: "temp-abc", temporary: true},
		{name: "empty", input: "", wantErr: true},
		{name: "blank", input: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := NewNodeIDFromString(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.input, id.String())
			assert.Equal(t, tt.temporary, id.IsTemporary())
		})
	}
}

func TestNodeIDJSON(t *testing.T) {
	type wrapper struct {
		ID NodeID `json:"id"`
	}

	data, err := json.Marshal(wrapper{ID: MustNodeID(`odd"id`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"odd\"id"}`, string(data))

	var decoded wrapper
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, `odd"id`, decoded.ID.String())

	assert.Error(t, json.Unmarshal([]byte(`{"id":12}`), &decoded))
}

func TestEdgeIDTemporary(t *testing.T) {
	assert.True(t, NewTemporaryEdgeID().IsTemporary())
	assert.False(t, MustEdgeID("e1").IsTemporary())

	_, err := NewEdgeIDFromString("")
	assert.Error(t, err)
}
