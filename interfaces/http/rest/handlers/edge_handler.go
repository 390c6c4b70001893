package handlers

import (
	"net/http"

	"canvassync/application/ports"
	"canvassync/domain/core/valueobjects"
	"canvassync/pkg/common"
	"canvassync/pkg/errors"
	"canvassync/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// EdgeHandler handles edge-related HTTP requests
type EdgeHandler struct {
	edges  ports.EdgeWriter
	errors *errors.ErrorHandler
	logger *zap.Logger
}

// NewEdgeHandler creates a new edge handler
func NewEdgeHandler(edges ports.EdgeWriter, errs *errors.ErrorHandler, logger *zap.Logger) *EdgeHandler {
	return &EdgeHandler{
		edges:  edges,
		errors: errs,
		logger: logger,
	}
}

// CreateEdge handles POST /edges. Repeating a connection returns the existing edge.
func (h *EdgeHandler) CreateEdge(w http.ResponseWriter, r *http.Request) {
	var spec ports.EdgeSpec
	if err := common.ParseJSONBody(r, &spec, maxBodyBytes); err != nil {
		h.errors.Handle(w, r, errors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if err := utils.ValidateStruct(spec); err != nil {
		h.errors.Handle(w, r, errors.NewValidationError(err.Error()))
		return
	}

	edge, err := h.edges.CreateEdge(r.Context(), spec)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusCreated, edge)
}

// DeleteEdge handles DELETE /edges/{edgeID}
func (h *EdgeHandler) DeleteEdge(w http.ResponseWriter, r *http.Request) {
	id, err := valueobjects.NewEdgeIDFromString(chi.URLParam(r, "edgeID"))
	if err != nil {
		h.errors.Handle(w, r, errors.NewValidationError(err.Error()))
		return
	}
	if err := h.edges.DeleteEdge(r.Context(), id); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondNoContent(w)
}

// DeleteNodeEdges handles DELETE /nodes/{nodeID}/edges
func (h *EdgeHandler) DeleteNodeEdges(w http.ResponseWriter, r *http.Request) {
	id, err := valueobjects.NewNodeIDFromString(chi.URLParam(r, "nodeID"))
	if err != nil {
		h.errors.Handle(w, r, errors.NewValidationError(err.Error()))
		return
	}
	if err := h.edges.DeleteEdgesByNode(r.Context(), id); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	h.logger.Debug("Edges deleted for node", zap.String("node_id", id.String()))
	common.RespondNoContent(w)
}
