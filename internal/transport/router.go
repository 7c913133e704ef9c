package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/storefront/internal/catalog"
	"github.com/pitabwire/storefront/internal/config"
	"github.com/pitabwire/storefront/internal/observability"
	"github.com/pitabwire/storefront/internal/schema"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Catalog      *catalog.Service
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	MetricsPage  http.Handler
	Readiness    observability.ReadinessChecks
	Authenticate func(http.Handler) http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	if deps.Config.Observability.Tracing.Enabled {
		r.Use(observability.TracingMiddleware)
	}
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	// Public routes bypass authentication.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		metrics := deps.MetricsPage
		if metrics == nil {
			metrics = observability.Handler()
		}
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path, metrics)
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(MaxBody(deps.Config.Server.MaxBodyBytes))
		r.Use(RequestLogging(logger))

		svc := deps.Catalog

		r.Route("/stores", func(r chi.Router) {
			r.Get("/", handleList(svc, schema.ResourceStores))

			// Projection lists are registered before /{storeId}.
			r.Get("/days", handleList(svc, schema.ResourceDays))
			r.Get("/hours", handleList(svc, schema.ResourceHours))
			r.Get("/managers", handleList(svc, schema.ResourceManagers))

			r.Route("/{storeId}", func(r chi.Router) {
				r.Get("/", handleGet(svc, schema.ResourceStores))
				r.Get("/days", handleGet(svc, schema.ResourceDays))
				r.Get("/hours", handleGet(svc, schema.ResourceHours))
				r.Get("/managers", handleGet(svc, schema.ResourceManagers))
				r.Put("/managers", handleUpdateManagers(svc, true))
				r.Patch("/managers", handleUpdateManagers(svc, false))
			})
		})

		r.Get("/users", handleList(svc, schema.ResourceUsers))
	})

	return r
}
