package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"strings"
	"time"

	"sitegate/internal/circuitbreaker"
	"sitegate/internal/config"
	internalhttp "sitegate/internal/httputil"
	"sitegate/internal/metrics"

	"github.com/rs/zerolog/log"
)

const staticOriginLabel = "static"

// Handler forwards allowed requests to the protected origin: either a
// reverse-proxied upstream server or a directory of static files. It owns
// transport timeouts and origin failure isolation; the gate never retries.
type Handler struct {
	origin    string // metrics/log label
	next      http.Handler
	transport *http.Transport
	breaker   *circuitbreaker.CircuitBreaker
}

// NewHandler builds the forwarder described by cfg.Origin.
func NewHandler(cfg *config.Config) (*Handler, error) {
	if cfg.Origin.StaticDir != "" {
		fi, err := os.Stat(cfg.Origin.StaticDir)
		if err != nil {
			return nil, fmt.Errorf("static origin: %w", err)
		}
		if !fi.IsDir() {
			return nil, fmt.Errorf("static origin %s is not a directory", cfg.Origin.StaticDir)
		}
		return &Handler{
			origin: staticOriginLabel,
			next:   http.FileServer(http.Dir(cfg.Origin.StaticDir)),
		}, nil
	}

	target, err := url.Parse(cfg.Origin.URL)
	if err != nil || target.Host == "" {
		return nil, fmt.Errorf("invalid origin url %q", cfg.Origin.URL)
	}

	h := &Handler{
		origin: target.String(),
		breaker: circuitbreaker.New(target.Host, circuitbreaker.Config{
			FailureThreshold: cfg.Origin.Breaker.FailureThreshold,
			SuccessThreshold: cfg.Origin.Breaker.SuccessThreshold,
			Cooldown:         time.Duration(cfg.Origin.Breaker.CooldownMs) * time.Millisecond,
		}),
	}

	timeout := time.Duration(cfg.Origin.TimeoutMs) * time.Millisecond
	h.transport = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.Origin.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.Origin.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.Origin.MaxConnsPerHost,
		IdleConnTimeout:       time.Duration(cfg.Origin.IdleTimeoutMs) * time.Millisecond,
		ResponseHeaderTimeout: timeout,
		TLSHandshakeTimeout:   timeout / 3,
		ExpectContinueTimeout: 1 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2: true,
	}

	rp := httputil.NewSingleHostReverseProxy(target)
	rp.Transport = h.transport

	originalDirector := rp.Director
	rp.Director = func(req *http.Request) {
		originalDirector(req)

		// Propagate request ID for tracing
		if requestID := internalhttp.GetRequestID(req.Context()); requestID != "" {
			req.Header.Set("X-Request-ID", requestID)
		}
		// ReverseProxy appends the peer to X-Forwarded-For itself. Keep only
		// a client address vouched for by a trusted proxy.
		clientIP := internalhttp.ClientIP(req)
		req.Header.Del("X-Forwarded-For")
		if peer, _, err := net.SplitHostPort(req.RemoteAddr); err == nil && clientIP != "" && clientIP != peer {
			req.Header.Set("X-Forwarded-For", clientIP)
		}
		req.Header.Set("X-Forwarded-Proto", getScheme(req))
		req.Header.Set("X-Forwarded-Host", req.Host)
	}

	rp.ModifyResponse = func(resp *http.Response) error {
		if resp.StatusCode >= 502 && resp.StatusCode <= 504 {
			h.breaker.RecordFailure()
		} else {
			h.breaker.RecordSuccess()
		}
		return nil
	}
	rp.ErrorHandler = h.handleError

	h.next = rp
	return h, nil
}

// ServeHTTP forwards r to the origin.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.breaker != nil {
		if err := h.breaker.Allow(); err != nil {
			internalhttp.GetLogger(r.Context()).Warn().
				Str("origin", h.origin).
				Err(err).
				Msg("origin unavailable, failing fast")
			metrics.ProxyErrors.WithLabelValues(h.origin, "circuit_open").Inc()
			w.Header().Set("Retry-After", "5")
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	// Smuggling guard: Transfer-Encoding wins per RFC 7230
	if r.Header.Get("Content-Length") != "" && r.Header.Get("Transfer-Encoding") != "" {
		internalhttp.GetLogger(r.Context()).Warn().
			Str("remote_addr", r.RemoteAddr).
			Msg("both Content-Length and Transfer-Encoding present")
		r.Header.Del("Content-Length")
	}

	start := time.Now()
	h.next.ServeHTTP(w, r)
	metrics.ProxyLatency.WithLabelValues(h.origin).Observe(time.Since(start).Seconds())
}

// Origin returns the label used for this origin in logs and metrics.
func (h *Handler) Origin() string {
	return h.origin
}

// Breaker returns the origin circuit breaker, nil for static origins.
func (h *Handler) Breaker() *circuitbreaker.CircuitBreaker {
	return h.breaker
}

// Shutdown closes idle upstream connections
func (h *Handler) Shutdown(ctx context.Context) error {
	if h.transport != nil {
		h.transport.CloseIdleConnections()
		log.Info().Str("origin", h.origin).Msg("closed idle connections for origin")
	}
	return nil
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	logger := internalhttp.GetLogger(r.Context())

	// Client disconnected - not the origin's fault
	if errors.Is(err, context.Canceled) {
		h.breaker.Release()
		logger.Debug().
			Str("origin", h.origin).
			Str("error_type", "context").
			Msg("proxy request canceled")
		metrics.ProxyErrors.WithLabelValues(h.origin, "context").Inc()
		return
	}

	h.breaker.RecordFailure()

	var netErr net.Error
	if (errors.As(err, &netErr) && netErr.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
		logger.Warn().
			Str("origin", h.origin).
			Str("error_type", "timeout").
			Err(err).
			Msg("proxy timeout")
		metrics.ProxyErrors.WithLabelValues(h.origin, "timeout").Inc()
		http.Error(w, "gateway timeout", http.StatusGatewayTimeout)
		return
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		logger.Error().
			Str("origin", h.origin).
			Str("error_type", "dns").
			Err(dnsErr).
			Msg("DNS resolution failed")
		metrics.ProxyErrors.WithLabelValues(h.origin, "dns").Inc()
		http.Error(w, "service unavailable: DNS error", http.StatusServiceUnavailable)
		return
	}

	if strings.Contains(err.Error(), "connection refused") {
		logger.Error().
			Str("origin", h.origin).
			Str("error_type", "connection").
			Err(err).
			Msg("connection refused")
		metrics.ProxyErrors.WithLabelValues(h.origin, "connection").Inc()
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	logger.Error().
		Str("origin", h.origin).
		Str("error_type", "other").
		Err(err).
		Msg("proxy error")
	metrics.ProxyErrors.WithLabelValues(h.origin, "other").Inc()
	http.Error(w, "bad gateway", http.StatusBadGateway)
}

// getScheme returns the scheme (http or https) for the request
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := strings.ToLower(r.Header.Get("X-Forwarded-Proto")); scheme == "http" || scheme == "https" {
		return scheme
	}
	return "http"
}
