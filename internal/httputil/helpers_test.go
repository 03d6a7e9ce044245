package httputil

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sitegate/internal/config"

	"github.com/rs/zerolog"
)

func TestBuildCookie_Defaults(t *testing.T) {
	cfg := config.Default()
	c := BuildCookie(cfg, "abc123")

	got := c.String()
	for _, want := range []string{"__aiva_auth=abc123", "Path=/", "Max-Age=86400", "HttpOnly", "Secure", "SameSite=Lax"} {
		if !strings.Contains(got, want) {
			t.Errorf("cookie %q missing %q", got, want)
		}
	}
	if strings.Contains(got, "Domain=") {
		t.Errorf("unexpected domain in %q", got)
	}
}

func TestClearCookie(t *testing.T) {
	cfg := config.Default()
	got := ClearCookie(cfg).String()
	for _, want := range []string{"__aiva_auth=", "Path=/", "Max-Age=0", "HttpOnly", "Secure", "SameSite=Lax"} {
		if !strings.Contains(got, want) {
			t.Errorf("clear cookie %q missing %q", got, want)
		}
	}
}

func TestBuildCookie_SameSiteAndDomain(t *testing.T) {
	cfg := config.Default()
	cfg.Cookie.SameSite = "Strict"
	cfg.Cookie.Domain = "docs.example.com"
	c := BuildCookie(cfg, "v")
	if c.SameSite != http.SameSiteStrictMode {
		t.Errorf("expected strict, got %v", c.SameSite)
	}
	if c.Domain != "docs.example.com" {
		t.Errorf("expected domain, got %q", c.Domain)
	}
}

func TestClientIP(t *testing.T) {
	_, trusted, _ := net.ParseCIDR("10.0.0.0/8")

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.1.2.3")

	if got := ClientIPWithTrustedProxies(req, nil); got != "10.1.2.3" {
		t.Errorf("untrusted: expected remote addr, got %q", got)
	}
	if got := ClientIPWithTrustedProxies(req, []*net.IPNet{trusted}); got != "203.0.113.9" {
		t.Errorf("trusted: expected XFF client, got %q", got)
	}

	req.RemoteAddr = "192.0.2.1:1234"
	if got := ClientIPWithTrustedProxies(req, []*net.IPNet{trusted}); got != "192.0.2.1" {
		t.Errorf("peer outside trusted range must not use XFF, got %q", got)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seenID string
	var seenLogger *zerolog.Logger
	h := RequestIDMiddleware(zerolog.Nop(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = GetRequestID(r.Context())
		seenLogger = GetLogger(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if seenID != "req-42" {
		t.Errorf("expected propagated id, got %q", seenID)
	}
	if w.Header().Get("X-Request-ID") != "req-42" {
		t.Error("request id not echoed")
	}
	if seenLogger == nil {
		t.Fatal("logger missing from context")
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if len(seenID) != 36 {
		t.Errorf("expected generated uuid, got %q", seenID)
	}
}

func TestGetLogger_Fallback(t *testing.T) {
	if GetLogger(context.Background()) == nil {
		t.Fatal("expected nop logger")
	}
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		t.Errorf("unexpected content type %q", w.Header().Get("Content-Type"))
	}
	if strings.TrimSpace(w.Body.String()) != `{"status":"ok"}` {
		t.Errorf("unexpected body %q", w.Body.String())
	}
}
