package events

// MutationFailed reports a backend failure for an optimistic mutation.
// UserVisible is set for create and delete failures only.
type MutationFailed struct {
	BaseEvent
	Kind        string `json:"kind"`
	EntityID    string `json:"entity_id"`
	Message     string `json:"message"`
	UserVisible bool   `json:"user_visible"`
	Err         error  `json:"-"`
}

// Notice is a non-error message for the user, such as a rejected duplicate connection
type Notice struct {
	BaseEvent
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Notice codes
const (
	NoticeDuplicateEdge   = "duplicate_edge"
	NoticeDuplicateAnswer = "duplicate_answer"
)

// NodeFocused asks observers to bring an existing node into view
type NodeFocused struct {
	BaseEvent
	NodeID string `json:"node_id"`
}

// AnswerProgress carries the live state of a streaming answer
type AnswerProgress struct {
	BaseEvent
	NodeID  string `json:"node_id"`
	Prose   string `json:"prose"`
	Preview string `json:"preview"`
}

// AnswerCompleted carries the distilled result of a finished answer
type AnswerCompleted struct {
	BaseEvent
	NodeID          string `json:"node_id"`
	SummaryQuestion string `json:"summary_question"`
	SummaryAnswer   string `json:"summary_answer"`
	Parsed          bool   `json:"parsed"`
	Failed          bool   `json:"failed"`
}
