package main

import (
	"net/http"

	"sitegate/internal/circuitbreaker"
	"sitegate/internal/config"
	"sitegate/internal/gate"
	"sitegate/internal/httputil"
	"sitegate/internal/proxy"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// newPublicHandler gates every path on the public listener, including ones
// that collide with operational endpoint names.
func newPublicHandler(cfg *config.Config, g *gate.Gate) http.Handler {
	return Chain(
		httputil.RequestIDMiddleware(log.Logger, cfg.Server.TrustedProxyCIDRs),
	)(g)
}

// newOpsHandler serves health and metrics for the operational listener.
func newOpsHandler(cfg *config.Config, g *gate.Gate, ph *proxy.Handler) http.Handler {
	return Chain(
		httputil.RequestIDMiddleware(log.Logger, cfg.Server.TrustedProxyCIDRs),
		withCommonHeaders,
	)(newOpsMux(cfg, g, ph))
}

func newOpsMux(cfg *config.Config, g *gate.Gate, ph *proxy.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleHealth(w, r, cfg, g, ph, false)
	}))
	mux.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleHealth(w, r, cfg, g, ph, true)
	}))
	mux.Handle("/metrics", noStore(promhttp.Handler()))
	return mux
}

type healthStatus struct {
	Status      string                `json:"status"` // "ok" | "degraded"
	Mode        string                `json:"mode"`
	GateEnabled bool                  `json:"gate_enabled"`
	Origin      string                `json:"origin"`
	Circuit     *circuitbreaker.Stats `json:"circuit,omitempty"`
}

// handleHealth reports process and origin state. Readiness fails while the
// origin circuit is open; liveness never does.
func handleHealth(w http.ResponseWriter, r *http.Request, cfg *config.Config, g *gate.Gate, ph *proxy.Handler, readiness bool) {
	status := healthStatus{
		Status:      "ok",
		Mode:        g.Mode().String(),
		GateEnabled: cfg.GateEnabled(),
		Origin:      ph.Origin(),
	}
	code := http.StatusOK
	if cb := ph.Breaker(); cb != nil && cb.Enabled() {
		stats := cb.Stats()
		status.Circuit = &stats
		if cb.State() == circuitbreaker.StateOpen {
			status.Status = "degraded"
			if readiness {
				code = http.StatusServiceUnavailable
			}
		}
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, code, status)
}

// ---- Helpers ----

// Middleware wraps an http.Handler and returns a new handler
type Middleware func(http.Handler) http.Handler

// Chain composes multiple middlewares into a single middleware
// Middlewares are applied in the order they are provided:
// Chain(mw1, mw2, mw3)(handler) => mw1(mw2(mw3(handler)))
func Chain(middlewares ...Middleware) Middleware {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// withCommonHeaders sets security headers on operational responses. The gate
// sets its own on the responses it generates.
func withCommonHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "same-origin")

		// Only set HSTS if TLS is enabled
		if r.TLS != nil {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
