package di

import (
	"context"
	"fmt"
	"os"

	"canvassync/application/ports"
	"canvassync/application/services"
	domainconfig "canvassync/domain/config"
	"canvassync/domain/core/aggregates"
	"canvassync/infrastructure/backend"
	"canvassync/infrastructure/cache"
	"canvassync/infrastructure/config"
	"canvassync/infrastructure/messaging"
	"canvassync/infrastructure/persistence/memory"
	"canvassync/infrastructure/storage"
	"canvassync/interfaces/http/rest"
	"canvassync/pkg/observability"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"
)

const (
	metricsNamespace    = "canvassync"
	workspaceStorageKey = "canvassync.workspaces"
)

// ControllerFactory builds the mutation controller of one workspace
type ControllerFactory func(workspaceID string) *services.MutationController

// ProvideLogLevel creates the level shared by the logger and the config watcher
func ProvideLogLevel(cfg *config.Config) (zap.AtomicLevel, error) {
	l, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zap.AtomicLevel{}, err
	}
	return zap.NewAtomicLevelAt(l), nil
}

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config, level zap.AtomicLevel) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger, nil
}

// ProvideMetrics creates the metrics collector, or nil when metrics are disabled
func ProvideMetrics(cfg *config.Config) *observability.Collector {
	if !cfg.EnableMetrics {
		return nil
	}
	return observability.NewCollector(metricsNamespace)
}

// ProvideDomainRules returns the synchronization rules for this configuration
func ProvideDomainRules(cfg *config.Config) *domainconfig.DomainConfig {
	return cfg.DomainRules()
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Storage.AWSRegion),
	)
}

// ProvideStorage opens the durable medium selected by the configuration.
// The cleanup function closes it.
func ProvideStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ports.Storage, func(), error) {
	sc := cfg.Storage
	noop := func() {}

	switch sc.Backend {
	case "memory":
		return storage.NewMemoryStorage(sc.QuotaBytes), noop, nil

	case "sqlite":
		s, err := storage.OpenSQLite(sc.SQLitePath, int64(sc.QuotaBytes))
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite cache: %w", err)
		}
		return s, closer(s.Close, "sqlite", logger), nil

	case "redis":
		s, err := storage.NewRedisStorage(sc.RedisURL, sc.RedisPrefix, sc.QuotaBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis cache: %w", err)
		}
		if err := s.Ping(ctx); err != nil {
			s.Close()
			return nil, nil, fmt.Errorf("ping redis cache: %w", err)
		}
		return s, closer(s.Close, "redis", logger), nil

	case "dynamodb":
		awsCfg, err := ProvideAWSConfig(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		return storage.NewDynamoDBStorage(awsdynamodb.NewFromConfig(awsCfg), sc.DynamoDBTable, storageOwner(cfg), logger), noop, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
}

func storageOwner(cfg *config.Config) string {
	if cfg.Storage.Owner != "" {
		return cfg.Storage.Owner
	}
	if cfg.UserID != "" {
		return cfg.UserID
	}
	host, _ := os.Hostname()
	return host
}

func closer(fn func() error, name string, logger *zap.Logger) func() {
	return func() {
		if err := fn(); err != nil {
			logger.Warn("Failed to close storage", zap.String("storage", name), zap.Error(err))
		}
	}
}

// ProvideCodec selects the encoding of persisted cache entries
func ProvideCodec(cfg *config.Config) *cache.Codec {
	if cfg.Storage.Compress {
		return cache.NewZstdCodec()
	}
	return cache.NewJSONCodec()
}

// ProvideBackendClient creates the REST backend client
func ProvideBackendClient(cfg *config.Config, logger *zap.Logger, metrics *observability.Collector) *backend.Client {
	return backend.NewClient(cfg.BackendURL,
		backend.WithTimeout(cfg.BackendTimeout),
		backend.WithLogger(logger.Named("backend")),
		backend.WithMetrics(metrics),
	)
}

// ProvideWorkspaceStore creates the durable workspace store and restores the
// entries saved by the previous run
func ProvideWorkspaceStore(
	ctx context.Context,
	st ports.Storage,
	codec *cache.Codec,
	logger *zap.Logger,
	metrics *observability.Collector,
) *cache.DurableCacheStore[aggregates.Snapshot] {
	store := cache.NewDurableCacheStore[aggregates.Snapshot]("workspaces", st, workspaceStorageKey, codec, logger, cache.WithMetrics(metrics))
	n, err := store.Hydrate(ctx)
	if err != nil {
		// a cold cache is still usable
		logger.Warn("Could not restore cached workspaces", zap.Error(err))
		return store
	}
	logger.Debug("Restored cached workspaces", zap.Int("count", n))
	return store
}

// ProvideWorkspaceCache creates the stale-while-revalidate workspace cache
func ProvideWorkspaceCache(
	store *cache.DurableCacheStore[aggregates.Snapshot],
	b ports.Backend,
	rules *domainconfig.DomainConfig,
	logger *zap.Logger,
	metrics *observability.Collector,
) (*cache.WorkspaceGraphCache, func()) {
	c := cache.NewWorkspaceGraphCache(store, b, rules, logger, metrics)
	return c, c.Close
}

// ProvideConversationCache creates the transcript cache
func ProvideConversationCache(b ports.Backend, rules *domainconfig.DomainConfig, metrics *observability.Collector) *cache.ConversationCache {
	return cache.NewConversationCache(b, rules.ConversationFreshness, cache.WithMetrics(metrics))
}

// ProvideListCache creates the chat list cache
func ProvideListCache(b ports.Backend, rules *domainconfig.DomainConfig, metrics *observability.Collector) *cache.ListQueryCache {
	return cache.NewListQueryCache(b, rules.ListFreshness, cache.WithMetrics(metrics))
}

// ProvideEventBus creates the in-process event bus
func ProvideEventBus(logger *zap.Logger) *messaging.EventBus {
	return messaging.NewEventBus(logger)
}

// ProvideAnswerService creates the answer streaming service
func ProvideAnswerService(
	b ports.Backend,
	rules *domainconfig.DomainConfig,
	logger *zap.Logger,
	metrics *observability.Collector,
) *services.AnswerService {
	return services.NewAnswerService(b, rules, logger, metrics)
}

// ProvideControllerFactory binds mutation controllers to the shared backend, cache and bus
func ProvideControllerFactory(
	b ports.Backend,
	workspaces *cache.WorkspaceGraphCache,
	bus *messaging.EventBus,
	rules *domainconfig.DomainConfig,
	logger *zap.Logger,
	metrics *observability.Collector,
) ControllerFactory {
	return func(workspaceID string) *services.MutationController {
		return services.NewMutationController(workspaceID, b, workspaces, bus, rules, logger, metrics)
	}
}

// ProvideCanvasStore creates the reference backend served by the dev server
func ProvideCanvasStore(cfg *config.Config, logger *zap.Logger) *memory.CanvasStore {
	return memory.NewCanvasStore(memory.NewScriptedAnswers(cfg.AnswerDelay), logger.Named("store"))
}

// ProvideRouter creates the dev server router
func ProvideRouter(cfg *config.Config, store *memory.CanvasStore, metrics *observability.Collector, logger *zap.Logger) *rest.Router {
	opts := rest.Options{
		Debug:           cfg.IsDevelopment(),
		AnswerRateLimit: cfg.AnswerRateLimit,
	}
	if cfg.EnableCORS {
		opts.AllowedOrigins = cfg.AllowedOrigins
	}
	return rest.NewRouter(store, metrics, logger, opts)
}
