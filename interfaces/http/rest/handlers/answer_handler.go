package handlers

import (
	stderrors "errors"
	"io"
	"net/http"

	"canvassync/application/ports"
	"canvassync/pkg/common"
	"canvassync/pkg/errors"
	"canvassync/pkg/utils"

	"go.uber.org/zap"
)

const streamFailed = "failed"

// AnswerHandler streams AI answers as chunked plain text
type AnswerHandler struct {
	streamer ports.AnswerStreamer
	errors   *errors.ErrorHandler
	logger   *zap.Logger
}

// NewAnswerHandler creates a new answer handler
func NewAnswerHandler(streamer ports.AnswerStreamer, errs *errors.ErrorHandler, logger *zap.Logger) *AnswerHandler {
	return &AnswerHandler{
		streamer: streamer,
		errors:   errs,
		logger:   logger,
	}
}

// StreamAnswer handles POST /answers. Each chunk is flushed as it is produced;
// failures after the headers went out are reported through the stream status trailer.
func (h *AnswerHandler) StreamAnswer(w http.ResponseWriter, r *http.Request) {
	var req ports.AnswerRequest
	if err := common.ParseJSONBody(r, &req, maxBodyBytes); err != nil {
		h.errors.Handle(w, r, errors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		h.errors.Handle(w, r, errors.NewValidationError(err.Error()))
		return
	}

	stream, err := h.streamer.StreamAnswer(r.Context(), req)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	defer stream.Close()

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Trailer", common.StreamStatusTrailer)
	w.WriteHeader(http.StatusOK)

	var chunks int
	for {
		chunk, err := stream.Recv()
		if stderrors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			h.logger.Warn("Answer stream aborted",
				zap.Int("chunks_sent", chunks),
				zap.Error(err))
			w.Header().Set(common.StreamStatusTrailer, streamFailed)
			return
		}
		if _, err := io.WriteString(w, chunk); err != nil {
			h.logger.Debug("Client went away during answer stream", zap.Error(err))
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		chunks++
	}
	w.Header().Set(common.StreamStatusTrailer, common.StreamComplete)
	h.logger.Debug("Answer streamed", zap.Int("chunks", chunks))
}
