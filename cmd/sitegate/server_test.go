package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sitegate/internal/config"
	"sitegate/internal/gate"
	"sitegate/internal/proxy"
)

// testServer holds the public and operational handlers built from one config.
type testServer struct {
	public http.Handler
	ops    http.Handler
	proxy  *proxy.Handler
}

func newTestServer(t *testing.T, cfg *config.Config) testServer {
	t.Helper()
	ph, err := proxy.NewHandler(cfg)
	if err != nil {
		t.Fatalf("proxy.NewHandler failed: %v", err)
	}
	g, err := gate.New(cfg, ph)
	if err != nil {
		t.Fatalf("gate.New failed: %v", err)
	}
	return testServer{
		public: newPublicHandler(cfg, g),
		ops:    newOpsHandler(cfg, g, ph),
		proxy:  ph,
	}
}

func staticConfig(t *testing.T, password string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	for name, body := range map[string]string{"index.html": "<h1>docs</h1>", "healthz": "origin healthz page"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	cfg := config.Default()
	cfg.Auth.Password = password
	cfg.Origin.StaticDir = dir
	return cfg
}

func TestHealthOnOpsListener(t *testing.T) {
	h := newTestServer(t, staticConfig(t, "secret")).ops

	for _, path := range []string{"/healthz", "/readyz"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
		var status healthStatus
		if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
			t.Fatalf("%s: invalid JSON: %v", path, err)
		}
		if status.Status != "ok" || status.Mode != "form" || !status.GateEnabled || status.Origin != "static" {
			t.Errorf("%s: unexpected status %+v", path, status)
		}
		if status.Circuit != nil {
			t.Errorf("%s: static origin has no circuit", path)
		}
	}
}

func TestReadinessFailsWhileCircuitOpen(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.Password = "secret"
	cfg.Origin.URL = "http://127.0.0.1:1"
	cfg.Origin.Breaker.FailureThreshold = 1
	srv := newTestServer(t, cfg)
	h := srv.ops

	srv.proxy.Breaker().RecordFailure()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz: expected 503, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("healthz: expected 200, got %d", w.Code)
	}
	var status healthStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Status != "degraded" || status.Circuit == nil || status.Circuit.State != "open" {
		t.Errorf("unexpected status %+v", status)
	}
}

func TestPublicListenerGatesOpsPaths(t *testing.T) {
	for _, mode := range []string{"form", "basic"} {
		t.Run(mode, func(t *testing.T) {
			cfg := staticConfig(t, "secret")
			cfg.Auth.Mode = mode
			h := newTestServer(t, cfg).public

			for _, path := range []string{"/metrics", "/healthz", "/readyz"} {
				w := httptest.NewRecorder()
				h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

				body := w.Body.String()
				if strings.Contains(body, "# HELP") || strings.Contains(body, `"gate_enabled"`) || strings.Contains(body, "origin healthz page") {
					t.Errorf("%s: unauthenticated request was answered: %d %q", path, w.Code, body)
				}
				switch mode {
				case "form":
					if w.Code != http.StatusOK || !strings.Contains(body, "Sign In") {
						t.Errorf("%s: expected login page, got %d", path, w.Code)
					}
				case "basic":
					if w.Code != http.StatusUnauthorized || w.Header().Get("WWW-Authenticate") == "" {
						t.Errorf("%s: expected challenge, got %d", path, w.Code)
					}
				}
			}
		})
	}
}

func TestPublicListenerServesOriginAtOpsPaths(t *testing.T) {
	h := newTestServer(t, staticConfig(t, "secret")).public

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.SetBasicAuth("admin", "secret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "origin healthz page" {
		t.Errorf("expected origin content at /healthz, got %d %q", w.Code, w.Body.String())
	}
}

func TestGatedRootServesLoginPage(t *testing.T) {
	h := newTestServer(t, staticConfig(t, "secret")).public

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Sign In") {
		t.Fatalf("expected login page, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "<h1>docs</h1>") {
		t.Error("origin content leaked")
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing security headers")
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing request id")
	}
}

func TestOpenAccessKeepsOriginHeaders(t *testing.T) {
	h := newTestServer(t, staticConfig(t, "")).public

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<h1>docs</h1>") {
		t.Fatalf("expected origin content, got %d %q", w.Code, w.Body.String())
	}
	if cc := w.Header().Get("Cache-Control"); cc != "" {
		t.Errorf("forwarded content should not get Cache-Control, got %q", cc)
	}
	if w.Header().Get("Set-Cookie") != "" {
		t.Error("open access must not set cookies")
	}
	for _, k := range []string{"X-Frame-Options", "Referrer-Policy"} {
		if v := w.Header().Get(k); v != "" {
			t.Errorf("forwarded content should keep the origin's %s, got %q", k, v)
		}
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(mw("a"), mw("b"), mw("c"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if got := strings.Join(order, ","); got != "a,b,c,handler" {
		t.Errorf("unexpected order %s", got)
	}
}
