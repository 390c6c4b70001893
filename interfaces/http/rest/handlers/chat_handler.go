package handlers

import (
	"net/http"

	"canvassync/application/ports"
	"canvassync/pkg/common"
	"canvassync/pkg/errors"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ChatHandler serves chat lists and transcripts
type ChatHandler struct {
	chats  ports.ConversationReader
	errors *errors.ErrorHandler
	logger *zap.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chats ports.ConversationReader, errs *errors.ErrorHandler, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		chats:  chats,
		errors: errs,
		logger: logger,
	}
}

// ListChats handles GET /users/{userID}/chats?limit=&starting_after=&ending_before=
func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	params, err := common.ExtractCursorParams(r)
	if err != nil {
		h.errors.Handle(w, r, errors.NewValidationError(err.Error()))
		return
	}

	page, err := h.chats.ListChats(r.Context(), ports.ListChatsQuery{
		UserID:        chi.URLParam(r, "userID"),
		Limit:         params.Limit,
		StartingAfter: params.StartingAfter,
		EndingBefore:  params.EndingBefore,
	})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, page)
}

// GetMessages handles GET /chats/{chatID}/messages
func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.chats.GetMessages(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, msgs)
}
