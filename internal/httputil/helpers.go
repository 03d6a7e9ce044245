package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"

	"sitegate/internal/config"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Context keys for request metadata
type contextKey int

const (
	requestIDKey contextKey = iota
	loggerKey
	trustedProxiesKey
)

// Buffer pool for JSON encoding
var bufferPool = sync.Pool{
	New: func() interface{} {
		return &bytes.Buffer{}
	},
}

// GenerateRequestID creates a new random request ID
func GenerateRequestID() string {
	return uuid.NewString()
}

// WithRequestID adds request ID to context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey).(string); ok {
		return reqID
	}
	return ""
}

// WithLogger adds logger to context
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// GetLogger retrieves logger from context
func GetLogger(ctx context.Context) *zerolog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zerolog.Logger); ok {
		return logger
	}
	nopLogger := zerolog.Nop()
	return &nopLogger
}

// WithTrustedProxies adds trusted proxy CIDRs to context
func WithTrustedProxies(ctx context.Context, trustedProxies []*net.IPNet) context.Context {
	return context.WithValue(ctx, trustedProxiesKey, trustedProxies)
}

// GetTrustedProxies retrieves trusted proxy CIDRs from context
func GetTrustedProxies(ctx context.Context) []*net.IPNet {
	if proxies, ok := ctx.Value(trustedProxiesKey).([]*net.IPNet); ok {
		return proxies
	}
	return nil
}

// RequestIDMiddleware extracts or generates request ID and adds it to context and headers
func RequestIDMiddleware(logger zerolog.Logger, trustedProxies []*net.IPNet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" || len(requestID) > 128 {
				requestID = GenerateRequestID()
			}
			w.Header().Set("X-Request-ID", requestID)

			reqLogger := logger.With().
				Str("request_id", requestID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Logger()

			ctx := WithRequestID(r.Context(), requestID)
			ctx = WithLogger(ctx, &reqLogger)
			ctx = WithTrustedProxies(ctx, trustedProxies)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP extracts the client IP for the request, believing X-Forwarded-For
// only when the immediate peer is one of the trusted proxies in context.
func ClientIP(r *http.Request) string {
	return ClientIPWithTrustedProxies(r, GetTrustedProxies(r.Context()))
}

// ClientIPWithTrustedProxies is ClientIP with an explicit proxy list.
// With no trusted proxies only RemoteAddr is used.
func ClientIPWithTrustedProxies(r *http.Request, trustedProxies []*net.IPNet) string {
	remoteHost, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remoteHost = r.RemoteAddr
	}
	remoteIP := net.ParseIP(remoteHost)
	if remoteIP == nil {
		return ""
	}

	isTrusted := false
	for _, ipNet := range trustedProxies {
		if ipNet.Contains(remoteIP) {
			isTrusted = true
			break
		}
	}

	// Left-most XFF entry is the original client
	if isTrusted {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			cand, _, _ := strings.Cut(xff, ",")
			if ip := net.ParseIP(strings.TrimSpace(cand)); ip != nil {
				return ip.String()
			}
		}
	}

	return remoteIP.String()
}

// WriteJSON writes a JSON response with proper headers and error handling.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	buf := bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		bufferPool.Put(buf)
	}()

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(true)
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("JSON encode failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	w.Write(buf.Bytes())
}

// BuildCookie creates the session cookie with the configured security settings.
func BuildCookie(cfg *config.Config, value string) *http.Cookie {
	c := &http.Cookie{
		Name:     cfg.Cookie.Name,
		Value:    value,
		Path:     cfg.Cookie.Path,
		MaxAge:   cfg.Cookie.MaxAgeSec,
		Secure:   cfg.Cookie.Secure,
		HttpOnly: cfg.Cookie.HTTPOnly,
		SameSite: sameSite(cfg.Cookie.SameSite),
	}
	if cfg.Cookie.Domain != "" {
		c.Domain = cfg.Cookie.Domain
	}
	return c
}

// ClearCookie returns a cookie that expires the session cookie immediately
// (rendered as Max-Age=0).
func ClearCookie(cfg *config.Config) *http.Cookie {
	c := BuildCookie(cfg, "")
	c.MaxAge = -1
	return c
}

func sameSite(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "none":
		return http.SameSiteNoneMode
	case "strict":
		return http.SameSiteStrictMode
	default:
		return http.SameSiteLaxMode
	}
}
