package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/backoffice/internal/config"
	"github.com/pitabwire/backoffice/internal/metadata"
	"github.com/pitabwire/backoffice/internal/observability"
	"github.com/pitabwire/backoffice/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config             *config.Config
	Logger             *zap.Logger
	Authenticate       func(http.Handler) http.Handler
	CapabilityResolver model.CapabilityResolver
	Menu               *metadata.MenuProvider
	Screens            Screens
	LookupDefinitions  LookupDefinitions
	Lookups            LookupResolver
	Metrics            *observability.Metrics
	Readiness          observability.ReadinessChecks
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

	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	r.Get("/ui/health", observability.HandleHealth())
	r.Get("/ui/ready", observability.HandleReady(deps.Readiness))
	metricsPath := deps.Config.Observability.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.Handle(metricsPath, observability.Handler())

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	screens := &screenHandlers{
		screens:        deps.Screens,
		maxUploadBytes: deps.Config.Server.MaxUploadBytes,
	}

	r.Group(func(r chi.Router) {
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}
		r.Use(observability.TracingMiddleware)
		r.Use(auth)
		r.Use(BuildSession(deps.Config.Identity.ClaimPaths))
		r.Use(ResolveCapabilities(deps.CapabilityResolver, logger))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Get("/ui/navigation", handleNavigation(deps.Menu))

		r.Route("/ui/screens/{screenId}", func(r chi.Router) {
			r.Post("/", screens.mount)
			r.Get("/", screens.get)
			r.Delete("/", screens.unmount)
			r.Put("/search", screens.search)
			r.Put("/filters/{key}", screens.filter)
			r.Put("/page", screens.page)
			r.Post("/refetch", screens.refetch)
			r.Post("/items", screens.create)
			r.Put("/items/{id}", screens.update)
			r.Delete("/items/{id}", screens.remove)
			r.Post("/items/{id}/status", screens.status)
		})

		r.Get("/ui/lookups/{lookupId}", handleLookup(deps.LookupDefinitions, deps.Lookups))
	})

	return r
}
