package backend

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"canvassync/application/ports"
	"canvassync/pkg/common"
	"canvassync/pkg/errors"

	"go.uber.org/zap"
)

const readBufferSize = 4 << 10

// StreamAnswer starts a streamed answer. Only opening the stream goes through the
// circuit breaker and the call timeout; reading is bounded by ctx alone.
func (c *Client) StreamAnswer(ctx context.Context, req ports.AnswerRequest) (ports.ChunkStream, error) {
	start := time.Now()
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.send(ctx, http.MethodPost, "/answers", req)
	})
	err = c.translate("stream_answer", err)
	c.metrics.RecordBackend("stream_answer", err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return &answerStream{
		resp:   res.(*http.Response),
		buf:    make([]byte, readBufferSize),
		logger: c.logger,
	}, nil
}

// answerStream turns a chunked response body into text chunks. Bytes of a
// multi-byte character split across reads are held back until complete.
type answerStream struct {
	resp    *http.Response
	buf     []byte
	pending []byte
	done    bool
	logger  *zap.Logger
}

func (s *answerStream) Recv() (string, error) {
	for !s.done {
		n, err := s.resp.Body.Read(s.buf)
		if n > 0 {
			data := append(s.pending, s.buf[:n]...)
			cut := completePrefix(data)
			s.pending = append([]byte(nil), data[cut:]...)
			if cut > 0 {
				if stderrors.Is(err, io.EOF) {
					s.done = true
				}
				return string(data[:cut]), nil
			}
		}
		if stderrors.Is(err, io.EOF) {
			s.done = true
			break
		}
		if err != nil {
			return "", errors.NewNetworkError("answer stream interrupted", err)
		}
	}

	if len(s.pending) > 0 {
		rest := string(s.pending)
		s.pending = nil
		return rest, nil
	}
	if status := s.resp.Trailer.Get(common.StreamStatusTrailer); status != common.StreamComplete {
		s.logger.Debug("Answer stream ended without completing", zap.String("status", status))
		return "", errors.NewExternalError("answer stream", stderrors.New("stream ended before the answer was complete"))
	}
	return "", io.EOF
}

func (s *answerStream) Close() error {
	return s.resp.Body.Close()
}

// completePrefix returns the length of the longest prefix of data that does not
// end inside a multi-byte character
func completePrefix(data []byte) int {
	for i := len(data) - 1; i >= 0 && i >= len(data)-utf8.UTFMax; i-- {
		if utf8.RuneStart(data[i]) {
			if utf8.FullRune(data[i:]) {
				return len(data)
			}
			return i
		}
	}
	return len(data)
}
