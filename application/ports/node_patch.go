package ports

import (
	"canvassync/domain/core/entities"
	"canvassync/domain/core/valueobjects"
)

// NodePatch is a partial node update. Nil fields are left unchanged.
type NodePatch struct {
	Position             *valueobjects.Position `json:"position,omitempty"`
	Locked               *bool                  `json:"locked,omitempty"`
	Collapsed            *bool                  `json:"collapsed,omitempty"`
	SummaryQuestion      *string                `json:"summaryQuestion,omitempty"`
	SummaryAnswer        *string                `json:"summaryAnswer,omitempty"`
	FullQuestion         *string                `json:"fullQuestion,omitempty"`
	FullAnswer           *string                `json:"fullAnswer,omitempty"`
	Highlights           []string               `json:"highlights,omitempty"`
	LinkedConversationID *string                `json:"linkedConversationId,omitempty"`
	Text                 *string                `json:"text,omitempty"`
	FontSize             *int                   `json:"fontSize,omitempty"`
}

// IsEmpty reports whether the patch changes nothing
func (p NodePatch) IsEmpty() bool {
	return p.Position == nil && p.Locked == nil && p.Collapsed == nil &&
		p.SummaryQuestion == nil && p.SummaryAnswer == nil &&
		p.FullQuestion == nil && p.FullAnswer == nil && p.Highlights == nil &&
		p.LinkedConversationID == nil && p.Text == nil && p.FontSize == nil
}

// Merge returns p overlaid with later; fields set in later win
func (p NodePatch) Merge(later NodePatch) NodePatch {
	out := p
	if later.Position != nil {
		out.Position = later.Position
	}
	if later.Locked != nil {
		out.Locked = later.Locked
	}
	if later.Collapsed != nil {
		out.Collapsed = later.Collapsed
	}
	if later.SummaryQuestion != nil {
		out.SummaryQuestion = later.SummaryQuestion
	}
	if later.SummaryAnswer != nil {
		out.SummaryAnswer = later.SummaryAnswer
	}
	if later.FullQuestion != nil {
		out.FullQuestion = later.FullQuestion
	}
	if later.FullAnswer != nil {
		out.FullAnswer = later.FullAnswer
	}
	if later.Highlights != nil {
		out.Highlights = append([]string{}, later.Highlights...)
	}
	if later.LinkedConversationID != nil {
		out.LinkedConversationID = later.LinkedConversationID
	}
	if later.Text != nil {
		out.Text = later.Text
	}
	if later.FontSize != nil {
		out.FontSize = later.FontSize
	}
	return out
}

// Apply writes the patch onto a node. Content fields only apply to the matching kind.
func (p NodePatch) Apply(n *entities.Node) {
	if p.Position != nil {
		n.Position = *p.Position
	}
	if p.Locked != nil {
		n.Locked = *p.Locked
	}
	if p.Collapsed != nil {
		n.Collapsed = *p.Collapsed
	}
	if n.Chat != nil {
		c := n.Chat
		if p.SummaryQuestion != nil {
			c.SummaryQuestion = *p.SummaryQuestion
		}
		if p.SummaryAnswer != nil {
			c.SummaryAnswer = *p.SummaryAnswer
		}
		if p.FullQuestion != nil {
			c.FullQuestion = *p.FullQuestion
		}
		if p.FullAnswer != nil {
			c.FullAnswer = *p.FullAnswer
		}
		if p.Highlights != nil {
			c.Highlights = append([]string{}, p.Highlights...)
		}
		if p.LinkedConversationID != nil {
			c.LinkedConversationID = *p.LinkedConversationID
		}
	}
	if n.Text != nil {
		if p.Text != nil {
			n.Text.Text = *p.Text
		}
		if p.FontSize != nil {
			n.Text.FontSize = *p.FontSize
		}
	}
}

// PositionPatch builds a patch that only moves a node
func PositionPatch(pos valueobjects.Position) NodePatch {
	return NodePatch{Position: &pos}
}
