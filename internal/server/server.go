// Package server assembles the HTTP API: middleware chain, public account
// routes and the bearer-protected book and loan routes.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"booknet/internal/auth"
	"booknet/internal/catalog"
	"booknet/internal/circulation"
	"booknet/internal/httpio"
	"booknet/internal/membership"
)

const requestTimeout = 30 * time.Second

// Handlers groups the domain handlers mounted by NewRouter.
type Handlers struct {
	Membership  *membership.Handler
	Catalog     *catalog.Handler
	Circulation *circulation.Handler
}

// NewRouter constructs the API handler.
//
// Routes:
//
//	GET  /healthz
//	/api/v1/auth/*   public
//	/api/v1/books/*  bearer token required
//	/api/v1/loans/*  bearer token required
func NewRouter(h Handlers, tokens auth.TokenParser, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(WithRequestLogging(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(requestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpio.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		h.Membership.Routes(r)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireBearer(tokens, httpio.Unauthorized))
			h.Catalog.Routes(r)
			h.Circulation.Routes(r)
		})
	})

	return r
}

// WithRequestLogging logs one line per request with its outcome.
func WithRequestLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chiMiddleware.GetReqID(r.Context())),
			}
			if status >= http.StatusInternalServerError {
				logger.Error("request", fields...)
				return
			}
			logger.Info("request", fields...)
		})
	}
}
