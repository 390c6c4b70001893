package validators

import (
	"math"
	"testing"

	"canvassync/domain/core/entities"
	"canvassync/domain/core/valueobjects"
	"canvassync/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeValidator_Validate(t *testing.T) {
	id := valueobjects.MustNodeID("n1")
	v := NewNodeValidator()

	tests := []struct {
		name      string
		node      entities.Node
		wantField string
	}{
		{
			name: "valid chat node",
			node: entities.NewChatNode(id, valueobjects.NewPosition(0, 0), entities.ChatContent{FullQuestion: "q"}),
		},
		{
			name: "valid text node",
			node: entities.NewTextNode(id, valueobjects.NewPosition(0, 0), entities.TextContent{Text: "hi", FontSize: 14}),
		},
		{
			name:      "chat kind without content",
			node:      entities.Node{ID: id, Kind: entities.KindChat},
			wantField: "chat",
		},
		{
			name:      "unknown kind",
			node:      entities.Node{ID: id, Kind: "imageNode"},
			wantField: "type",
		},
		{
			name:      "font size out of range",
			node:      entities.NewTextNode(id, valueobjects.NewPosition(0, 0), entities.TextContent{FontSize: 2}),
			wantField: "fontSize",
		},
		{
			name:      "non finite position",
			node:      entities.NewTextNode(id, valueobjects.NewPosition(math.NaN(), 0), entities.TextContent{}),
			wantField: "position",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.node)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err))
			assert.Contains(t, errors.GetAppError(err).Details, tt.wantField)
		})
	}
}
