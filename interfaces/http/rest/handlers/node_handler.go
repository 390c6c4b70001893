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

const maxBodyBytes = 1 << 20

// NodeHandler handles node-related HTTP requests
type NodeHandler struct {
	nodes  ports.NodeWriter
	errors *errors.ErrorHandler
	logger *zap.Logger
}

// NewNodeHandler creates a new node handler
func NewNodeHandler(nodes ports.NodeWriter, errs *errors.ErrorHandler, logger *zap.Logger) *NodeHandler {
	return &NodeHandler{
		nodes:  nodes,
		errors: errs,
		logger: logger,
	}
}

// CreateNode handles POST /nodes
func (h *NodeHandler) CreateNode(w http.ResponseWriter, r *http.Request) {
	var spec ports.NodeSpec
	if err := common.ParseJSONBody(r, &spec, maxBodyBytes); err != nil {
		h.errors.Handle(w, r, errors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if err := utils.ValidateStruct(spec); err != nil {
		h.errors.Handle(w, r, errors.NewValidationError(err.Error()))
		return
	}

	node, err := h.nodes.CreateNode(r.Context(), spec)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	h.logger.Debug("Node created via API",
		zap.String("node_id", node.ID.String()),
		zap.String("workspace_id", spec.WorkspaceID))
	common.RespondJSON(w, http.StatusCreated, node)
}

// UpdateNode handles PATCH /nodes/{nodeID}
func (h *NodeHandler) UpdateNode(w http.ResponseWriter, r *http.Request) {
	id, ok := h.nodeID(w, r)
	if !ok {
		return
	}

	var patch ports.NodePatch
	if err := common.ParseJSONBody(r, &patch, maxBodyBytes); err != nil {
		h.errors.Handle(w, r, errors.NewValidationError("invalid request body: "+err.Error()))
		return
	}

	node, err := h.nodes.UpdateNode(r.Context(), id, patch)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	if node == nil {
		h.errors.Handle(w, r, errors.NewNotFoundError("node "+id.String()))
		return
	}
	common.RespondJSON(w, http.StatusOK, node)
}

// DeleteNode handles DELETE /nodes/{nodeID}
func (h *NodeHandler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	id, ok := h.nodeID(w, r)
	if !ok {
		return
	}
	if err := h.nodes.DeleteNode(r.Context(), id); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondNoContent(w)
}

func (h *NodeHandler) nodeID(w http.ResponseWriter, r *http.Request) (valueobjects.NodeID, bool) {
	id, err := valueobjects.NewNodeIDFromString(chi.URLParam(r, "nodeID"))
	if err != nil {
		h.errors.Handle(w, r, errors.NewValidationError(err.Error()))
		return valueobjects.NodeID{}, false
	}
	if id.IsTemporary() {
		h.errors.Handle(w, r, errors.NewValidationError("temporary ids are never stored"))
		return valueobjects.NodeID{}, false
	}
	return id, true
}
