/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RealIP:        Client address behind proxies
  3. RequestLogger: zap access log (method, path, status, duration)
  4. Recoverer:     Panic recovery (500 instead of crash)
  5. CORS:          Cross-origin requests for frontends
  6. Authenticate:  Bearer token to leave.Actor (all /api routes)
  7. Idempotency:   Redis-backed replay for POST /api/requests (optional)

ROUTE GROUPS:
  /healthz              Liveness, unauthenticated
  /api/requests/*       Submit and decide on requests
  /api/employees/*      Balances and directory records
  /api/leave-types/*    Leave type catalog
  /api/holidays/*       Holiday calendar
  /api/audit            Audit history
  /api/admin/*          Balance initialization and rollover (HR/Admin)

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Token verification
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
)

// RouterConfig carries the edge concerns the router needs.
type RouterConfig struct {
	JWTSecret      []byte
	CORSOrigins    []string
	Redis          redis.Cmdable // nil disables idempotency
	IdempotencyTTL time.Duration
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", IdempotencyHeader},
		ExposedHeaders:   []string{"Location", "Retry-After", ReplayHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)

	idempotent := func(next http.Handler) http.Handler { return next }
	if cfg.Redis != nil {
		ttl := cfg.IdempotencyTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		idempotent = Idempotency(cfg.Redis, ttl, h.Logger.Named("idempotency"))
	}
	privileged := RequireRole(leave.RoleHR, leave.RoleAdmin)

	r.Route("/api", func(r chi.Router) {
		r.Use(Authenticate(cfg.JWTSecret))

		// Request routes
		r.Route("/requests", func(r chi.Router) {
			r.With(idempotent).Post("/", h.SubmitRequest)
			r.Get("/", h.ListRequests)
			r.Get("/{id}", h.GetRequest)
			r.Post("/{id}/approve", h.ApproveRequest)
			r.Post("/{id}/reject", h.RejectRequest)
			r.Post("/{id}/cancel", h.CancelRequest)
		})

		// Employee routes
		r.Route("/employees/{id}", func(r chi.Router) {
			r.Get("/balances/{type}", h.GetAvailability)
			r.With(privileged).Put("/", h.SaveEmployee)
		})

		// Leave type routes
		r.Route("/leave-types", func(r chi.Router) {
			r.Get("/", h.ListLeaveTypes)
			r.With(privileged).Put("/{id}", h.SaveLeaveType)
			r.With(privileged).Delete("/{id}", h.DeactivateLeaveType)
		})

		// Holiday routes
		r.Route("/holidays", func(r chi.Router) {
			r.Get("/", h.ListHolidays)
			r.With(privileged).Post("/", h.CreateHoliday)
			r.With(privileged).Delete("/{id}", h.DeleteHoliday)
		})

		r.Get("/audit", h.ListAudit)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(privileged)
			r.Post("/balances", h.InitializeBalance)
			r.Post("/rollover", h.TriggerRollover)
		})
	})

	return r
}

// RequestLogger writes one zap entry per request.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				fields := []zap.Field{
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
				}
				switch {
				case ww.Status() >= http.StatusInternalServerError:
					logger.Error("http request", fields...)
				case ww.Status() >= http.StatusBadRequest:
					logger.Warn("http request", fields...)
				default:
					logger.Info("http request", fields...)
				}
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
