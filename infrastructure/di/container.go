package di

import (
	"context"

	"canvassync/application/ports"
	"canvassync/application/services"
	domainconfig "canvassync/domain/config"
	"canvassync/infrastructure/cache"
	"canvassync/infrastructure/config"
	"canvassync/infrastructure/messaging"
	"canvassync/infrastructure/persistence/memory"
	"canvassync/interfaces/http/rest"
	"canvassync/pkg/errors"
	"canvassync/pkg/observability"

	"go.uber.org/zap"
)

// Container holds the client-side sync engine
type Container struct {
	Config        *config.Config
	Logger        *zap.Logger
	Level         zap.AtomicLevel
	Metrics       *observability.Collector
	Rules         *domainconfig.DomainConfig
	Backend       ports.Backend
	Storage       ports.Storage
	Workspaces    *cache.WorkspaceGraphCache
	Conversations *cache.ConversationCache
	Lists         *cache.ListQueryCache
	EventBus      *messaging.EventBus
	Answers       *services.AnswerService
	NewController ControllerFactory
}

// OpenWorkspace creates the controller of a workspace and loads its graph into it.
// A cached graph is applied immediately; the returned LoadResult reports when the
// background revalidation has finished. A workspace the backend does not know
// yet opens empty.
func (c *Container) OpenWorkspace(ctx context.Context, workspaceID string) (*services.MutationController, cache.LoadResult, error) {
	ctrl := c.NewController(workspaceID)
	res, err := c.Workspaces.Load(ctx, workspaceID, ctrl.Apply)
	if errors.IsNotFound(err) {
		c.Logger.Debug("Opening new workspace", zap.String("workspace_id", workspaceID))
		// the empty graph is the first undo state
		ctrl.Apply(ports.Revision{WorkspaceID: workspaceID, Version: c.Workspaces.Version(workspaceID)})
		done := make(chan struct{})
		close(done)
		return ctrl, cache.LoadResult{Done: done}, nil
	}
	if err != nil {
		ctrl.Close()
		return nil, cache.LoadResult{}, err
	}
	return ctrl, res, nil
}

// Server holds the reference backend served by cmd/devserver
type Server struct {
	Config  *config.Config
	Logger  *zap.Logger
	Level   zap.AtomicLevel
	Metrics *observability.Collector
	Store   *memory.CanvasStore
	Router  *rest.Router
}
