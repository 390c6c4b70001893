package streaming

import (
	"encoding/json"
	"strings"

	"canvassync/domain/config"
	"canvassync/pkg/errors"
	"canvassync/pkg/utils"
)

// SummarySeparator divides the prose of an answer from its trailing JSON summary
const SummarySeparator = "__JSON_SUMMARY__"

// PreviewPlaceholder is shown while an answer has no displayable prose yet
const PreviewPlaceholder = "analyzing..."

const ellipsis = "..."

// State is the parse state of a streamed answer
type State int

const (
	// StateProse means every byte seen so far is prose
	StateProse State = iota
	// StateAwaitingSeparator means the buffer ends with a prefix of the separator
	StateAwaitingSeparator
	// StateSummaryBuffering means the separator was seen; further text belongs to the summary
	StateSummaryBuffering
)

func (s State) String() string {
	switch s {
	case StateProse:
		return "prose"
	case StateAwaitingSeparator:
		return "awaiting_separator"
	case StateSummaryBuffering:
		return "summary_buffering"
	default:
		return "unknown"
	}
}

// Update is the live view of the answer after a chunk
type Update struct {
	Prose   string
	Preview string
	State   State
}

// Summary is the distilled question and answer pair
type Summary struct {
	SummaryQuestion string `json:"summaryQuestion"`
	SummaryAnswer   string `json:"summaryAnswer"`
}

// Result is the final outcome of a stream. Parsed is false when the summary
// was synthesised from the prose; Err then says why, if a summary was present.
type Result struct {
	Prose   string
	Summary Summary
	Parsed  bool
	Err     error
}

// Distiller splits one streamed answer into prose and a structured summary.
// It is not safe for concurrent use; one Distiller serves one stream.
type Distiller struct {
	rules   *config.DomainConfig
	buf     strings.Builder
	summary strings.Builder
	prose   string
	state   State
}

// NewDistiller creates a distiller for one answer
func NewDistiller(rules *config.DomainConfig) *Distiller {
	if rules == nil {
		rules = config.DefaultDomainConfig()
	}
	return &Distiller{rules: rules}
}

// State returns the current parse state
func (d *Distiller) State() State {
	return d.state
}

// Write feeds the next chunk and returns the live prose and preview
func (d *Distiller) Write(chunk string) Update {
	if d.state == StateSummaryBuffering {
		d.summary.WriteString(chunk)
		return d.update(d.prose)
	}

	d.buf.WriteString(chunk)
	text := d.buf.String()

	if idx := strings.Index(text, SummarySeparator); idx >= 0 {
		d.prose = strings.TrimSpace(text[:idx])
		d.summary.WriteString(text[idx+len(SummarySeparator):])
		d.buf.Reset()
		d.state = StateSummaryBuffering
		return d.update(d.prose)
	}

	if n := partialSeparator(text); n > 0 {
		d.state = StateAwaitingSeparator
		return d.update(strings.TrimSpace(text[:len(text)-n]))
	}
	d.state = StateProse
	return d.update(strings.TrimSpace(text))
}

// Finish parses the summary and returns the final result. It never fails:
// a missing or unparseable summary is replaced by one derived from the prose.
func (d *Distiller) Finish(question string) Result {
	prose := d.prose
	if d.state != StateSummaryBuffering {
		prose = strings.TrimSpace(d.buf.String())
	}
	fallback := d.fallback(question, prose)

	if d.state != StateSummaryBuffering {
		return Result{Prose: prose, Summary: fallback}
	}

	raw := d.summary.String()
	parsed, err := parseSummary(raw)
	if err != nil {
		return Result{Prose: prose, Summary: fallback, Err: errors.NewSummaryParseError(raw, err)}
	}
	if strings.TrimSpace(parsed.SummaryQuestion) == "" {
		parsed.SummaryQuestion = fallback.SummaryQuestion
	}
	if strings.TrimSpace(parsed.SummaryAnswer) == "" {
		parsed.SummaryAnswer = fallback.SummaryAnswer
	}
	return Result{Prose: prose, Summary: parsed, Parsed: true}
}

// Preview returns the compact card text for some prose
func (d *Distiller) Preview(prose string) string {
	stripped := StripFiller(prose)
	if stripped == "" {
		return PreviewPlaceholder
	}
	return utils.TruncateRunes(stripped, d.rules.PreviewMaxRunes, ellipsis)
}

func (d *Distiller) update(prose string) Update {
	return Update{Prose: prose, Preview: d.Preview(prose), State: d.state}
}

func (d *Distiller) fallback(question, prose string) Summary {
	q := strings.TrimSpace(question)
	if q == "" {
		q = StripFiller(prose)
	}
	return Summary{
		SummaryQuestion: utils.TruncateRunes(q, d.rules.SummaryQuestionMaxRunes, ellipsis),
		SummaryAnswer:   utils.TruncateRunes(StripFiller(prose), d.rules.SummaryAnswerMaxRunes, ellipsis),
	}
}

// Distill runs a complete text through a fresh Distiller
func Distill(text, question string, rules *config.DomainConfig) Result {
	d := NewDistiller(rules)
	d.Write(text)
	return d.Finish(question)
}

// partialSeparator returns the length of the longest proper prefix of the
// separator that text ends with
func partialSeparator(text string) int {
	limit := len(SummarySeparator) - 1
	if len(text) < limit {
		limit = len(text)
	}
	for n := limit; n > 0; n-- {
		if strings.HasSuffix(text, SummarySeparator[:n]) {
			return n
		}
	}
	return 0
}

// parseSummary decodes the JSON object between the first '{' and the last '}'
func parseSummary(raw string) (Summary, error) {
	var s Summary
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return s, errors.NewValidationError("no JSON object in summary")
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &s); err != nil {
		return s, err
	}
	return s, nil
}
