package transport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/copydesk/internal/config"
	"github.com/pitabwire/copydesk/internal/idempotency"
	"github.com/pitabwire/copydesk/internal/observability"
	"github.com/pitabwire/copydesk/internal/openapi"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Engine       WorkflowService
	Schema       *openapi.Index
	Authenticate func(http.Handler) http.Handler

	// Optional.
	Idempotency idempotency.Store
	Metrics     *observability.Metrics
	Gatherer    prometheus.Gatherer
	Readiness   observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, metrics and the API document
// bypass authentication.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(Recovery(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	// Public routes.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if deps.Gatherer != nil && deps.Config.Observability.Metrics.Enabled {
		r.Handle(deps.Config.Observability.Metrics.Path, observability.Handler(deps.Gatherer))
	}
	r.Get("/openapi.yaml", handleOpenAPIDocument(deps.Schema))

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	var replay *replayer
	if deps.Idempotency != nil && deps.Config.Idempotency.Enabled {
		ttl := deps.Config.Idempotency.Store.DefaultTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		replay = &replayer{
			store:   deps.Idempotency,
			ttl:     ttl,
			metrics: deps.Metrics,
			logger:  logger,
		}
	}

	engine, schema := deps.Engine, deps.Schema
	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContextMiddleware(deps.Config.Identity.ClaimPaths, logger))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(MaxBodySize(deps.Config.Server.MaxBodyBytes))
		r.Use(RequestLogging(logger))

		r.Route("/workflows", func(r chi.Router) {
			r.Post("/", handleCreateWorkflows(engine, schema, replay))
			r.Post("/search", handleSearchWorkflows(engine, schema))
			r.Patch("/assign", handleBulkAssign(engine, schema))
			r.Get("/counts", handleCountWorkflows(engine))

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", handleGetWorkflow(engine))
				r.Patch("/", handleUpdateWorkflow(engine, schema, replay))
				r.Delete("/", handleDeleteWorkflow(engine))
				r.Get("/history", handleListHistory(engine, schema))
				r.Get("/history/{historyId}", handleGetHistoryEntry(engine))
			})
		})
	})

	return r
}
