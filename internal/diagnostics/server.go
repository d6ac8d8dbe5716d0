// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package diagnostics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/helixinit/internal/health"
	"github.com/ManuGH/helixinit/internal/log"
)

// RouterConfig wires the read-only diagnostics endpoints.
type RouterConfig struct {
	// Snapshot produces the current state table on every request.
	Snapshot func() Snapshot
	Health   *health.Manager
	// Metrics defaults to promhttp.Handler().
	Metrics http.Handler
	// RateLimit is requests per minute per client IP; zero disables limiting.
	RateLimit int
	// TracerName enables request spans when set and names the operation.
	TracerName string
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// NewRouter serves GET /subsystems, /subsystems/{id}, /phases, /healthz,
// /readyz and /metrics. Nothing mutates state.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	if cfg.TracerName != "" {
		r.Use(tracing(cfg.TracerName, cfg.TracerProvider))
	}
	r.Use(accessLog)
	if cfg.RateLimit > 0 {
		r.Use(rateLimit(cfg.RateLimit, time.Minute))
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	hm := cfg.Health
	if hm == nil {
		hm = health.NewManager("")
	}

	r.Get("/subsystems", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, req, http.StatusOK, cfg.Snapshot())
	})
	r.Get("/subsystems/{id}", func(w http.ResponseWriter, req *http.Request) {
		key := chi.URLParam(req, "id")
		row, ok := cfg.Snapshot().Row(key)
		if !ok {
			writeJSON(w, req, http.StatusNotFound, map[string]string{
				"error":  "not_found",
				"detail": fmt.Sprintf("no subsystem %q", key),
			})
			return
		}
		writeJSON(w, req, http.StatusOK, row)
	})
	r.Get("/phases", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, req, http.StatusOK, cfg.Snapshot().Phases)
	})
	r.Get("/healthz", hm.ServeHealth)
	r.Get("/readyz", hm.ServeReady)
	r.Method(http.MethodGet, "/metrics", metrics)
	return r
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := log.WithComponentFromContext(r.Context(), "diagnostics")
		logger.Error().Err(err).Str(log.FieldEvent, "diagnostics.encode_error").Msg("failed to encode response")
	}
}

func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded","detail":"Too many requests. Please try again later."}`))
		}),
	)
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger := log.WithComponentFromContext(r.Context(), "diagnostics")
		logger.Debug().
			Str(log.FieldEvent, "http.request").
			Str("method", r.Method).
			Str(log.FieldPath, r.URL.Path).
			Int("status", ww.Status()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Dur(log.FieldDuration, time.Since(start)).
			Msg("diagnostics request")
	})
}

// tracing starts a server span per request, continuing any W3C trace context
// through the globally installed propagator.
func tracing(operation string, tp trace.TracerProvider) func(http.Handler) http.Handler {
	opts := []otelhttp.Option{
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	}
	if tp != nil {
		opts = append(opts, otelhttp.WithTracerProvider(tp))
	}
	return otelhttp.NewMiddleware(operation, opts...)
}
