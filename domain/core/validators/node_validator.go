package validators

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"canvassync/domain/core/entities"
	"canvassync/pkg/errors"
)

// NodeValidator validates node-related domain rules
type NodeValidator struct {
	maxQuestionLength int
	maxAnswerLength   int
	maxTextLength     int
	maxHighlights     int
	minFontSize       int
	maxFontSize       int
}

// NewNodeValidator creates a new node validator with default rules
func NewNodeValidator() *NodeValidator {
	return &NodeValidator{
		maxQuestionLength: 10000,
		maxAnswerLength:   200000,
		maxTextLength:     50000,
		maxHighlights:     200,
		minFontSize:       8,
		maxFontSize:       128,
	}
}

// Validate checks that the node is well formed.
// Every violation is reported in the error details keyed by field.
func (v *NodeValidator) Validate(node entities.Node) error {
	problems := map[string]interface{}{}

	if node.ID.IsZero() {
		problems["id"] = "id is required"
	}
	if math.IsNaN(node.Position.X) || math.IsNaN(node.Position.Y) ||
		math.IsInf(node.Position.X, 0) || math.IsInf(node.Position.Y, 0) {
		problems["position"] = "position must be finite"
	}

	switch node.Kind {
	case entities.KindChat:
		if node.Chat == nil {
			problems["chat"] = "chat node requires chat content"
			break
		}
		if node.Text != nil {
			problems["text"] = "chat node cannot carry text content"
		}
		v.validateChat(node.Chat, problems)
	case entities.KindText:
		if node.Text == nil {
			problems["text"] = "text node requires text content"
			break
		}
		if node.Chat != nil {
			problems["chat"] = "text node cannot carry chat content"
		}
		v.validateText(node.Text, problems)
	default:
		problems["type"] = fmt.Sprintf("unknown node type %q", node.Kind)
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.NewValidationError("invalid node " + node.ID.String()).WithDetails(problems)
}

func (v *NodeValidator) validateChat(c *entities.ChatContent, problems map[string]interface{}) {
	if utf8.RuneCountInString(c.FullQuestion) > v.maxQuestionLength {
		problems["fullQuestion"] = fmt.Sprintf("must be at most %d characters", v.maxQuestionLength)
	}
	if utf8.RuneCountInString(c.FullAnswer) > v.maxAnswerLength {
		problems["fullAnswer"] = fmt.Sprintf("must be at most %d characters", v.maxAnswerLength)
	}
	if len(c.Highlights) > v.maxHighlights {
		problems["highlights"] = fmt.Sprintf("at most %d highlights allowed", v.maxHighlights)
	}
	for _, h := range c.Highlights {
		if strings.TrimSpace(h) == "" {
			problems["highlights"] = "highlights cannot be blank"
			break
		}
	}
}

func (v *NodeValidator) validateText(t *entities.TextContent, problems map[string]interface{}) {
	if utf8.RuneCountInString(t.Text) > v.maxTextLength {
		problems["text"] = fmt.Sprintf("must be at most %d characters", v.maxTextLength)
	}
	if t.FontSize != 0 && (t.FontSize < v.minFontSize || t.FontSize > v.maxFontSize) {
		problems["fontSize"] = fmt.Sprintf("must be between %d and %d", v.minFontSize, v.maxFontSize)
	}
}
