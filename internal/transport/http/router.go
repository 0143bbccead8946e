// Package httptransport composes the module handlers behind the shared
// middleware chain. It holds no business logic.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"aegis/internal/platform/metrics"
	"aegis/pkg/platform/httputil"
	"aegis/pkg/platform/middleware/admin"
	"aegis/pkg/platform/middleware/auth"
	"aegis/pkg/platform/middleware/metadata"
	"aegis/pkg/platform/middleware/provider"
	"aegis/pkg/platform/middleware/request"
	"aegis/pkg/platform/middleware/requesttime"
)

// Registrar mounts a module's routes.
type Registrar interface {
	Register(r chi.Router)
}

// AdminRegistrar mounts operator routes.
type AdminRegistrar interface {
	RegisterAdmin(r chi.Router)
}

// SubjectRegistrar mounts routes a subject reaches with their own token.
type SubjectRegistrar interface {
	RegisterSubject(r chi.Router)
}

// ProviderRegistrar mounts routes external check providers report on.
type ProviderRegistrar interface {
	RegisterProvider(r chi.Router)
}

// HealthCheck reports a dependency's readiness.
type HealthCheck func(ctx context.Context) error

type Config struct {
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	TrustProxy     bool
	RequestTimeout time.Duration

	// Public routes take no credentials: opening a verification and relying
	// party credential checks.
	Public []Registrar
	// Subject routes require the bearer token issued with the request.
	Subject              []SubjectRegistrar
	SubjectAuthenticator auth.SubjectAuthenticator
	// Provider routes require a check provider token.
	Provider       []ProviderRegistrar
	ProviderVerify func(token string) error
	// Reviewer routes require a reviewer bearer token.
	Reviewer      []Registrar
	Authenticator auth.Authenticator
	// Admin routes live under /admin and require the operator token.
	Admin       []AdminRegistrar
	AdminVerify func(token string) error

	Checks map[string]HealthCheck
}

func NewRouter(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(logger))
	r.Use(request.Logger(logger))
	r.Use(metadata.ClientMetadata(cfg.TrustProxy))
	r.Use(requesttime.Middleware)
	r.Use(instrument(cfg.Metrics))

	r.Get("/healthz", healthHandler(cfg.Checks, logger))
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(chiMiddleware.Timeout(timeout))
		r.Use(chiMiddleware.AllowContentType("application/json"))

		for _, h := range cfg.Public {
			h.Register(r)
		}
		if cfg.SubjectAuthenticator != nil {
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireSubject(cfg.SubjectAuthenticator, logger))
				for _, h := range cfg.Subject {
					h.RegisterSubject(r)
				}
			})
		}
		r.Group(func(r chi.Router) {
			r.Use(provider.RequireProviderToken(cfg.ProviderVerify, logger))
			for _, h := range cfg.Provider {
				h.RegisterProvider(r)
			}
		})
		if cfg.Authenticator != nil {
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireReviewer(cfg.Authenticator, logger))
				for _, h := range cfg.Reviewer {
					h.Register(r)
				}
			})
		}
		r.Route("/admin", func(r chi.Router) {
			r.Use(admin.RequireAdminToken(cfg.AdminVerify, logger))
			for _, h := range cfg.Admin {
				h.RegisterAdmin(r)
			}
		})
	})
	return r
}

// instrument records latency per route pattern, so IDs in paths do not
// explode label cardinality.
func instrument(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.ObserveHTTP(route, strconv.Itoa(status), time.Since(start).Seconds())
		})
	}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.WarnContext(ctx, "health check failed", "check", name, "error", err)
				resp.Checks[name] = "unavailable"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
