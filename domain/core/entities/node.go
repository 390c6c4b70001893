package entities

import (
	"canvassync/domain/core/valueobjects"
)

// NodeKind tags the node variant
type NodeKind string

const (
	KindChat NodeKind = "chatNode"
	KindText NodeKind = "textNode"
)

// IsValid reports whether the kind is one of the known variants
func (k NodeKind) IsValid() bool {
	return k == KindChat || k == KindText
}

// ChatContent is the payload of a chat-derived node
type ChatContent struct {
	SummaryQuestion      string   `json:"summaryQuestion"`
	SummaryAnswer        string   `json:"summaryAnswer"`
	FullQuestion         string   `json:"fullQuestion"`
	FullAnswer           string   `json:"fullAnswer"`
	Highlights           []string `json:"highlights,omitempty"`
	LinkedConversationID string   `json:"linkedConversationId,omitempty"`
}

// Clone returns a deep copy
func (c *ChatContent) Clone() *ChatContent {
	if c == nil {
		return nil
	}
	out := *c
	if c.Highlights != nil {
		out.Highlights = make([]string, len(c.Highlights))
		copy(out.Highlights, c.Highlights)
	}
	return &out
}

// AddHighlight appends a highlight unless it is already present
func (c *ChatContent) AddHighlight(text string) bool {
	if text == "" {
		return false
	}
	for _, h := range c.Highlights {
		if h == text {
			return false
		}
	}
	c.Highlights = append(c.Highlights, text)
	return true
}

// TextContent is the payload of a free text node
type TextContent struct {
	Text     string `json:"text"`
	FontSize int    `json:"fontSize,omitempty"`
}

// Node is a positioned unit on the canvas.
// Exactly one of Chat or Text is set, matching Kind.
type Node struct {
	ID        valueobjects.NodeID   `json:"id"`
	Kind      NodeKind              `json:"type"`
	Position  valueobjects.Position `json:"position"`
	Locked    bool                  `json:"locked,omitempty"`
	Collapsed bool                  `json:"collapsed,omitempty"`
	Chat      *ChatContent          `json:"chat,omitempty"`
	Text      *TextContent          `json:"text,omitempty"`
}

// NewChatNode creates a chat node
func NewChatNode(id valueobjects.NodeID, pos valueobjects.Position, content ChatContent) Node {
	return Node{ID: id, Kind: KindChat, Position: pos, Chat: content.Clone()}
}

// NewTextNode creates a text node
func NewTextNode(id valueobjects.NodeID, pos valueobjects.Position, content TextContent) Node {
	c := content
	return Node{ID: id, Kind: KindText, Position: pos, Text: &c}
}

// Clone returns a deep copy of the node
func (n Node) Clone() Node {
	out := n
	out.Chat = n.Chat.Clone()
	if n.Text != nil {
		t := *n.Text
		out.Text = &t
	}
	return out
}

// IsChat reports whether the node is a chat node
func (n Node) IsChat() bool {
	return n.Kind == KindChat
}

// FullAnswer returns the chat answer, or empty for other kinds
func (n Node) FullAnswer() string {
	if n.Chat == nil {
		return ""
	}
	return n.Chat.FullAnswer
}
