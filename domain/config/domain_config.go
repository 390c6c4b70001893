package config

import "time"

// DomainConfig holds all configurable synchronization rules and limits
type DomainConfig struct {
	// Graph constraints
	MaxNodesPerGraph int
	MaxEdgesPerGraph int

	// History
	MaxHistoryEntries int

	// Distillation
	PreviewMaxRunes         int
	SummaryQuestionMaxRunes int
	SummaryAnswerMaxRunes   int
	PromotedQuestionRunes   int
	PromotedAnswerRunes     int

	// Canvas placement
	ChildNodeOffsetX float64
	ChildNodeOffsetY float64
	FollowUpOffsetY  float64

	// Time constraints
	WorkspaceFreshness    time.Duration
	ConversationFreshness time.Duration
	ListFreshness         time.Duration
	RevalidateQuietPeriod time.Duration
	RevalidateInterval    time.Duration
	ViewportSaveDelay     time.Duration
	PositionCommitDelay   time.Duration

	// Validation settings
	AllowSelfConnections bool
}

// DefaultDomainConfig returns the default domain configuration
func DefaultDomainConfig() *DomainConfig {
	return &DomainConfig{
		MaxNodesPerGraph: 10000,
		MaxEdgesPerGraph: 50000,

		MaxHistoryEntries: 50,

		PreviewMaxRunes:         60,
		SummaryQuestionMaxRunes: 30,
		SummaryAnswerMaxRunes:   100,
		PromotedQuestionRunes:   50,
		PromotedAnswerRunes:     100,

		ChildNodeOffsetX: 400,
		ChildNodeOffsetY: 50,
		FollowUpOffsetY:  350,

		WorkspaceFreshness:    15 * time.Second,
		ConversationFreshness: 0,
		ListFreshness:         10 * time.Second,
		RevalidateQuietPeriod: 2 * time.Second,
		RevalidateInterval:    500 * time.Millisecond,
		ViewportSaveDelay:     time.Second,
		PositionCommitDelay:   300 * time.Millisecond,

		AllowSelfConnections: true,
	}
}
