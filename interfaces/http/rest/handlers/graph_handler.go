package handlers

import (
	"net/http"

	"canvassync/application/ports"
	"canvassync/pkg/common"
	"canvassync/pkg/errors"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// WorkspaceStore is the backend surface behind the workspace endpoints
type WorkspaceStore interface {
	ports.WorkspaceReader
	ports.SettingsWriter
}

// GraphHandler serves workspace graphs and settings
type GraphHandler struct {
	store  WorkspaceStore
	errors *errors.ErrorHandler
	logger *zap.Logger
}

// NewGraphHandler creates a new graph handler
func NewGraphHandler(store WorkspaceStore, errs *errors.ErrorHandler, logger *zap.Logger) *GraphHandler {
	return &GraphHandler{
		store:  store,
		errors: errs,
		logger: logger,
	}
}

// GetGraph handles GET /workspaces/{workspaceID}/graph
func (h *GraphHandler) GetGraph(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")

	data, err := h.store.FetchWorkspaceData(r.Context(), workspaceID)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	if data == nil {
		h.errors.Handle(w, r, errors.NewNotFoundError("workspace "+workspaceID).WithCode(common.WorkspaceNotFoundCode))
		return
	}

	h.logger.Debug("Workspace graph served",
		zap.String("workspace_id", workspaceID),
		zap.Int("nodes", len(data.Nodes)),
		zap.Int("edges", len(data.Edges)))
	common.RespondWithMeta(w, r, http.StatusOK, data)
}

// UpdateSettings handles PUT /workspaces/{workspaceID}/settings
func (h *GraphHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var settings ports.WorkspaceSettings
	if err := common.ParseJSONBody(r, &settings, maxBodyBytes); err != nil {
		h.errors.Handle(w, r, errors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if err := h.store.UpdateWorkspaceSettings(r.Context(), chi.URLParam(r, "workspaceID"), settings); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondNoContent(w)
}
