package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math/rand/v2"
	"strings"
	"time"

	"canvassync/application/streaming"
	"canvassync/pkg/utils"
)

const (
	minChunk = 3
	maxChunk = 17
)

// ScriptedAnswers produces deterministic streamed answers: a short prose reply,
// the summary separator and a JSON summary, cut into irregular chunks so the
// separator and the JSON regularly straddle chunk boundaries.
type ScriptedAnswers struct {
	delay time.Duration
}

// NewScriptedAnswers creates a generator that pauses delay between chunks
func NewScriptedAnswers(delay time.Duration) *ScriptedAnswers {
	return &ScriptedAnswers{delay: delay}
}

// Compose returns the complete text the stream for req yields
func (a *ScriptedAnswers) Compose(question, contextText string) string {
	question = strings.TrimSpace(question)

	var prose strings.Builder
	prose.WriteString("Here is what I found about \"")
	prose.WriteString(question)
	prose.WriteString("\". ")
	if contextText != "" {
		prose.WriteString("Building on the earlier answer (")
		prose.WriteString(utils.TruncateRunes(contextText, 60, "..."))
		prose.WriteString("), ")
	}
	prose.WriteString("the short version is that it depends on the details, ")
	prose.WriteString("but the core idea fits in a sentence or two.")

	summary, _ := json.Marshal(streaming.Summary{
		SummaryQuestion: utils.TruncateRunes(question, 30, "..."),
		SummaryAnswer:   fmt.Sprintf("Core idea of %s", utils.TruncateRunes(question, 60, "...")),
	})
	return prose.String() + "\n" + streaming.SummarySeparator + string(summary)
}

// Chunks splits text the way the stream does. The split depends only on the text.
func (a *ScriptedAnswers) Chunks(text string) []string {
	h := fnv.New64a()
	h.Write([]byte(text))
	rng := rand.New(rand.NewPCG(h.Sum64(), uint64(len(text))))

	runes := []rune(text)
	var chunks []string
	for len(runes) > 0 {
		n := min(minChunk+rng.IntN(maxChunk-minChunk+1), len(runes))
		chunks = append(chunks, string(runes[:n]))
		runes = runes[n:]
	}
	return chunks
}

// Stream starts streaming the answer to question
func (a *ScriptedAnswers) Stream(ctx context.Context, question, contextText string) *ScriptStream {
	return &ScriptStream{
		ctx:    ctx,
		chunks: a.Chunks(a.Compose(question, contextText)),
		delay:  a.delay,
	}
}

// ScriptStream yields the chunks of one scripted answer
type ScriptStream struct {
	ctx    context.Context
	chunks []string
	next   int
	delay  time.Duration
	closed bool
}

// Recv returns the next chunk, or io.EOF once the answer is complete
func (s *ScriptStream) Recv() (string, error) {
	if s.closed {
		return "", io.ErrClosedPipe
	}
	if s.next >= len(s.chunks) {
		return "", io.EOF
	}
	if s.delay > 0 && s.next > 0 {
		t := time.NewTimer(s.delay)
		select {
		case <-s.ctx.Done():
			t.Stop()
			return "", s.ctx.Err()
		case <-t.C:
		}
	} else if err := s.ctx.Err(); err != nil {
		return "", err
	}
	chunk := s.chunks[s.next]
	s.next++
	return chunk, nil
}

// Close stops the stream
func (s *ScriptStream) Close() error {
	s.closed = true
	return nil
}
