//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"canvassync/application/ports"
	"canvassync/infrastructure/backend"
	"canvassync/infrastructure/config"

	"github.com/google/wire"
)

// CoreSet provides what both the client engine and the dev server need
var CoreSet = wire.NewSet(
	ProvideLogLevel,
	ProvideLogger,
	ProvideMetrics,
	ProvideDomainRules,
)

// ClientSet is the provider set of the sync engine
var ClientSet = wire.NewSet(
	CoreSet,
	ProvideStorage,
	ProvideCodec,
	ProvideBackendClient,
	wire.Bind(new(ports.Backend), new(*backend.Client)),
	ProvideWorkspaceStore,
	ProvideWorkspaceCache,
	ProvideConversationCache,
	ProvideListCache,
	ProvideEventBus,
	ProvideAnswerService,
	ProvideControllerFactory,
	wire.Struct(new(Container), "*"),
)

// ServerSet is the provider set of the reference backend
var ServerSet = wire.NewSet(
	CoreSet,
	ProvideCanvasStore,
	ProvideRouter,
	wire.Struct(new(Server), "*"),
)

// InitializeContainer creates a fully wired sync engine
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	wire.Build(ClientSet)
	return nil, nil, nil // Wire will replace this
}

// InitializeServer creates the reference backend
func InitializeServer(cfg *config.Config) (*Server, error) {
	wire.Build(ServerSet)
	return nil, nil // Wire will replace this
}
