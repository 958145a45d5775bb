/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack and the route table.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request, echoed in logs
  2. RequestLogger: zap access log plus latency histogram
  3. Recoverer:     Panic recovery (500 instead of crash)
  4. CORS:          Origins from config
  5. ResolveActor:  Bearer JWT or X-Actor-ID (api routes only)

ROUTE GROUPS:
  /healthz              Database ping
  /metrics              Prometheus exposition (when a recorder is set)
  /api/planillas/*      Lifecycle and version operations
  /api/holidays/*       Holiday calendar
  /api/surcharge-types  Catalog
  /api/calculate        Stateless preview
  /api/scenarios/*      Demo scenarios (development only)

  Every POST/PUT/DELETE under /api requires an actor.

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Actor resolution
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/recargo-engine/metrics"
	"go.uber.org/zap"
)

// RouterConfig carries the cross-cutting dependencies of the router.
type RouterConfig struct {
	Auth             *Authenticator
	Metrics          *metrics.Recorder // nil disables /metrics
	Logger           *zap.Logger
	CORSAllowOrigins []string
	// Scenarios mounts the demo scenario routes.
	Scenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	if cfg.Auth == nil {
		cfg.Auth = NewAuthenticator("", "")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	origins := cfg.CORSAllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(cfg.Logger.Named("http"), cfg.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(cfg.Auth.ResolveActor)

		r.Route("/planillas", func(r chi.Router) {
			r.Get("/", h.ListPlanillas)
			r.Get("/{id}", h.GetPlanilla)
			r.Get("/{id}/versions", h.ListVersions)
			r.Get("/{id}/versions/{version}", h.GetVersion)
			r.Get("/{id}/diff", h.DiffVersions)
			r.Get("/{id}/snapshots", h.ListSnapshots)

			r.Group(func(r chi.Router) {
				r.Use(RequireActor)
				r.Post("/", h.CreatePlanilla)
				r.Put("/{id}", h.UpdatePlanilla)
				r.Post("/delete", h.DeletePlanillas)
				r.Post("/settle", h.SettlePlanillas)
				r.Post("/invoice", h.InvoicePlanillas)
				r.Post("/reject", h.RejectPlanillas)
				r.Post("/{id}/versions/{version}/restore", h.RestoreVersion)
				r.Post("/{id}/snapshots", h.CreateSnapshot)
			})
		})

		r.Route("/holidays", func(r chi.Router) {
			r.Get("/", h.ListHolidays)
			r.With(RequireActor).Post("/", h.CreateHoliday)
			r.With(RequireActor).Delete("/{id}", h.DeleteHoliday)
		})

		r.Get("/surcharge-types", h.ListSurchargeTypes)
		r.Post("/calculate", h.Calculate)

		if cfg.Scenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.With(RequireActor).Post("/load", h.LoadScenario)
				r.With(RequireActor).Post("/reset", h.ResetDatabase)
			})
		}
	})

	return r
}

// requestLogger logs one line per request and feeds the latency histogram
// keyed by the matched route pattern.
func requestLogger(log *zap.Logger, rec *metrics.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			route := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}
			if rec != nil {
				rec.ObserveRequest(r.Method, route, status, elapsed)
			}

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Duration("duration", elapsed),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}
			switch {
			case status >= 500:
				log.Error("request", fields...)
			case status >= 400:
				log.Warn("request", fields...)
			default:
				log.Info("request", fields...)
			}
		})
	}
}
