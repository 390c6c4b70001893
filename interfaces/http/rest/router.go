package rest

import (
	"net/http"
	"time"

	"canvassync/application/ports"
	"canvassync/interfaces/http/rest/handlers"
	"canvassync/interfaces/http/rest/middleware"
	"canvassync/pkg/common"
	"canvassync/pkg/errors"
	"canvassync/pkg/observability"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Options configures the optional parts of the router
type Options struct {
	// AllowedOrigins enables CORS for these origins when non-empty
	AllowedOrigins []string
	// Debug includes error causes and stack traces in error responses
	Debug bool
	// AnswerRateLimit caps answer streams per client per minute; 0 disables it
	AnswerRateLimit int
}

// Router creates and configures the HTTP router
type Router struct {
	backend ports.Backend
	metrics *observability.Collector
	logger  *zap.Logger
	opts    Options
}

// NewRouter creates a new router instance. metrics may be nil.
func NewRouter(
	backend ports.Backend,
	metrics *observability.Collector,
	logger *zap.Logger,
	opts Options,
) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		backend: backend,
		metrics: metrics,
		logger:  logger,
		opts:    opts,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()
	errs := errors.NewErrorHandler(rt.logger, rt.opts.Debug)

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(errs.Middleware)
	router.Use(middleware.Logger(rt.logger))
	if rt.metrics != nil {
		router.Use(middleware.Metrics(rt.metrics))
	}
	router.Use(versionMiddleware)

	if len(rt.opts.AllowedOrigins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   rt.opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID", common.StreamStatusTrailer},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		errs.HandleStatus(w, r, http.StatusNotFound, "route not found")
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		errs.HandleStatus(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	// Health check
	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)
	if rt.metrics != nil {
		router.Handle("/metrics", promhttp.HandlerFor(rt.metrics.GetRegistry(), promhttp.HandlerOpts{}))
	}

	router.Route("/api/"+common.APIVersion, func(r chi.Router) {
		graphHandler := handlers.NewGraphHandler(rt.backend, errs, rt.logger)
		nodeHandler := handlers.NewNodeHandler(rt.backend, errs, rt.logger)
		edgeHandler := handlers.NewEdgeHandler(rt.backend, errs, rt.logger)
		chatHandler := handlers.NewChatHandler(rt.backend, errs, rt.logger)
		answerHandler := handlers.NewAnswerHandler(rt.backend, errs, rt.logger)

		r.Route("/workspaces/{workspaceID}", func(r chi.Router) {
			r.Get("/graph", graphHandler.GetGraph)
			r.Put("/settings", graphHandler.UpdateSettings)
		})

		r.Route("/nodes", func(r chi.Router) {
			r.Post("/", nodeHandler.CreateNode)
			r.Patch("/{nodeID}", nodeHandler.UpdateNode)
			r.Delete("/{nodeID}", nodeHandler.DeleteNode)
			r.Delete("/{nodeID}/edges", edgeHandler.DeleteNodeEdges)
		})

		r.Route("/edges", func(r chi.Router) {
			r.Post("/", edgeHandler.CreateEdge)
			r.Delete("/{edgeID}", edgeHandler.DeleteEdge)
		})

		r.Get("/users/{userID}/chats", chatHandler.ListChats)
		r.Get("/chats/{chatID}/messages", chatHandler.GetMessages)

		if rt.opts.AnswerRateLimit > 0 {
			limiter := middleware.NewSlidingWindowLimiter(rt.opts.AnswerRateLimit, time.Minute)
			r.With(middleware.RateLimit(limiter, errs)).Post("/answers", answerHandler.StreamAnswer)
		} else {
			r.Post("/answers", answerHandler.StreamAnswer)
		}
	})

	return router
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

// readinessCheck handles readiness check requests
func (rt *Router) readinessCheck(w http.ResponseWriter, req *http.Request) {
	if rt.backend == nil {
		http.Error(w, `{"status":"not ready"}`, http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

// versionMiddleware adds API version headers to all responses
func versionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-API-Version", common.APIVersion)
		next.ServeHTTP(w, r)
	})
}
