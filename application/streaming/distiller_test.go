package streaming

import (
	"strings"
	"testing"

	pkgerrors "canvassync/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistiller_SeparatorSplitAcrossChunks(t *testing.T) {
	d := NewDistiller(nil)
	chunks := []string{"Hello ", "world__JSON_SUM", "MARY__{\"summaryQuestion\":\"Q\",", "\"summaryAnswer\":\"A\"}"}

	var updates []Update
	for _, c := range chunks {
		updates = append(updates, d.Write(c))
	}

	assert.Equal(t, StateProse, updates[0].State)
	assert.Equal(t, "Hello", updates[0].Prose)
	assert.Equal(t, StateAwaitingSeparator, updates[1].State)
	assert.Equal(t, "Hello world", updates[1].Prose, "partial separator is withheld")
	assert.Equal(t, StateSummaryBuffering, updates[2].State)
	assert.Equal(t, "Hello world", updates[3].Prose, "prose frozen after the separator")

	res := d.Finish("ignored question")
	assert.True(t, res.Parsed)
	assert.NoError(t, res.Err)
	assert.Equal(t, "Hello world", res.Prose)
	assert.Equal(t, Summary{SummaryQuestion: "Q", SummaryAnswer: "A"}, res.Summary)
}

func TestDistiller_EveryChunkBoundary(t *testing.T) {
	full := "Prose body here." + SummarySeparator + `noise {"summaryQuestion":"Topic","summaryAnswer":"Insight"} trailing`

	for i := 1; i < len(full); i++ {
		d := NewDistiller(nil)
		d.Write(full[:i])
		d.Write(full[i:])
		res := d.Finish("q")

		require.True(t, res.Parsed, "split at %d", i)
		assert.Equal(t, "Prose body here.", res.Prose, "split at %d", i)
		assert.Equal(t, "Topic", res.Summary.SummaryQuestion)
		assert.Equal(t, "Insight", res.Summary.SummaryAnswer)
	}
}

func TestDistiller_NoSeparatorFallsBack(t *testing.T) {
	prose := strings.Repeat("word ", 40)
	d := NewDistiller(nil)
	for _, chunk := range strings.SplitAfter(prose, " ") {
		d.Write(chunk)
	}

	res := d.Finish("What is the meaning of all these repeated words?")

	assert.False(t, res.Parsed)
	assert.NoError(t, res.Err)
	assert.Equal(t, strings.TrimSpace(prose), res.Prose)
	assert.Equal(t, "What is the meaning of all the...", res.Summary.SummaryQuestion)
	assert.Equal(t, []rune(strings.TrimSpace(prose))[:100], []rune(strings.TrimSuffix(res.Summary.SummaryAnswer, "...")))
}

func TestDistiller_TrailingPartialSeparatorIsProseAtEnd(t *testing.T) {
	d := NewDistiller(nil)
	u := d.Write("snake__JSON")
	assert.Equal(t, StateAwaitingSeparator, u.State)
	assert.Equal(t, "snake", u.Prose)

	res := d.Finish("")
	assert.Equal(t, "snake__JSON", res.Prose)
	assert.Equal(t, "snake__JSON", res.Summary.SummaryQuestion)
}

func TestDistiller_InvalidSummaryFallsBack(t *testing.T) {
	tests := []struct {
		name    string
		summary string
	}{
		{"no object", "not json at all"},
		{"broken object", `{"summaryQuestion": "Q", `},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDistiller(nil)
			d.Write("The answer." + SummarySeparator + tt.summary)
			res := d.Finish("Question?")

			assert.False(t, res.Parsed)
			assert.True(t, pkgerrors.IsType(res.Err, pkgerrors.ErrorTypeSummaryParseFailed))
			assert.Equal(t, "The answer.", res.Prose)
			assert.Equal(t, Summary{SummaryQuestion: "Question?", SummaryAnswer: "The answer."}, res.Summary)
		})
	}
}

func TestDistiller_EmptyFieldsFilledFromProse(t *testing.T) {
	res := Distill("Long prose."+SummarySeparator+`{"summaryQuestion":"Q"}`, "question", nil)

	assert.True(t, res.Parsed)
	assert.Equal(t, "Q", res.Summary.SummaryQuestion)
	assert.Equal(t, "Long prose.", res.Summary.SummaryAnswer)
}

func TestDistiller_Preview(t *testing.T) {
	d := NewDistiller(nil)

	assert.Equal(t, PreviewPlaceholder, d.Write("").Preview)
	assert.Equal(t, "The core idea.", d.Write("Sure! The core idea.").Preview)

	long := strings.Repeat("界", 80)
	preview := NewDistiller(nil).Write(long).Preview
	assert.Equal(t, strings.Repeat("界", 60)+"...", preview)
}

func TestStripFiller(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"好的，这是答案", "这是答案"},
		{"这是一个很好的问题！核心在于缓存。", "核心在于缓存。"},
		{"总结如下：三点", "三点"},
		{"Sure! Caching matters.", "Caching matters."},
		{"Great question. Here is the summary: it depends.", "Great question. Here is the summary: it depends."},
		{"That's a great question! It depends.", "It depends."},
		{"  plain text  ", "plain text"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripFiller(tt.in), tt.in)
	}
}
