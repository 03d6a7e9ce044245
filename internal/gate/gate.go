// Package gate decides, per request, whether a client may reach the origin
// and renders the challenge, login or redirect response when it may not.
//
// The only session state is the cookie itself: its value must equal the
// token derived from the configured password, recomputed on every request.
// A Gate holds no mutable state and is safe for concurrent use.
package gate

import (
	"mime"
	"net/http"
	"time"

	"sitegate/internal/challenge"
	"sitegate/internal/config"
	internalhttp "sitegate/internal/httputil"
	"sitegate/internal/loginpage"
	"sitegate/internal/metrics"
	"sitegate/internal/token"
	"sitegate/internal/util"
)

// maxFormBytes caps the login form body.
const maxFormBytes = 4 * 1024

// Gate is the authentication filter in front of the origin.
type Gate struct {
	cfg     *config.Config
	mode    Mode
	forward http.Handler
	fp      *util.Fingerprinter
}

// Option configures a Gate.
type Option func(*Gate)

// WithFingerprinter sets the client fingerprinter used in failure logs.
func WithFingerprinter(fp *util.Fingerprinter) Option {
	return func(g *Gate) {
		g.fp = fp
	}
}

// New builds a gate that hands allowed requests to forward. cfg must not be
// modified afterwards.
func New(cfg *config.Config, forward http.Handler, opts ...Option) (*Gate, error) {
	mode, err := ParseMode(cfg.Auth.Mode)
	if err != nil {
		return nil, err
	}
	g := &Gate{
		cfg:     cfg,
		mode:    mode,
		forward: forward,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.fp == nil {
		g.fp = util.NewFingerprinter(cfg.Logging.IPHashKey)
	}
	return g, nil
}

// Mode returns the presentation mode in use.
func (g *Gate) Mode() Mode {
	return g.mode
}

// Decide evaluates r against the configuration. The only effect is reading
// the login form body on a login submission.
func (g *Gate) Decide(r *http.Request) Outcome {
	// 1. No password: open access, cookies neither read nor written.
	if !g.cfg.GateEnabled() {
		return Outcome{Decision: Allowed, Channel: ChannelBypass}
	}

	path := r.URL.Path

	// 2. Logout works in any state.
	if path == g.cfg.Auth.LogoutPath {
		return Outcome{Decision: RedirectAfterLogout}
	}

	// 3. Login form submission.
	if path == g.cfg.Auth.LoginPath && r.Method == http.MethodPost && g.mode.hostsForm() {
		username, password := readLoginForm(r)
		if g.credentialsMatch(username, password) {
			return Outcome{Decision: RedirectAfterLogin, Channel: ChannelForm}
		}
		return Outcome{Decision: LoginFailed, Channel: ChannelForm, CredentialsRejected: true}
	}

	// 4. Session cookie.
	if c, err := r.Cookie(g.cfg.Cookie.Name); err == nil && token.Matches(c.Value, g.cfg.Auth.Password) {
		return Outcome{Decision: Allowed, Channel: ChannelCookie}
	}

	// 5. Basic credentials. Malformed headers count as absent.
	rejected := false
	if header := r.Header.Get("Authorization"); header != "" {
		if creds, err := challenge.ParseBasic(header); err == nil {
			if g.credentialsMatch(creds.Username, creds.Password) {
				return Outcome{
					Decision:     Allowed,
					Channel:      ChannelBasic,
					IssueSession: g.mode == Combined,
				}
			}
			rejected = true
		}
	}

	// 6. Deny, presented per mode.
	out := Outcome{CredentialsRejected: rejected}
	if rejected {
		out.Channel = ChannelBasic
	}
	switch {
	case g.mode == FormOnly:
		out.Decision = LoginFormRequired
	case g.mode == Combined && path == g.cfg.Auth.LoginPath && r.Method != http.MethodPost:
		out.Decision = LoginFormRequired
	default:
		out.Decision = ChallengeRequired
	}
	return out
}

// credentialsMatch compares both fields without short-circuiting so the
// result does not reveal which one was wrong.
func (g *Gate) credentialsMatch(username, password string) bool {
	userOK := token.Equal(username, g.cfg.Auth.Username)
	passOK := token.Equal(password, g.cfg.Auth.Password)
	return userOK && passOK
}

// readLoginForm returns the submitted fields. Missing fields, oversized or
// unparsable bodies all yield empty strings.
func readLoginForm(r *http.Request) (username, password string) {
	if r.Body != nil {
		r.Body = http.MaxBytesReader(nil, r.Body, maxFormBytes)
	}
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil && mt == "multipart/form-data" {
		// ParseMultipartForm also fills PostForm with the non-file fields.
		if err := r.ParseMultipartForm(maxFormBytes); err != nil {
			return "", ""
		}
		defer r.MultipartForm.RemoveAll()
	} else if err := r.ParseForm(); err != nil {
		return "", ""
	}
	return r.PostForm.Get("username"), r.PostForm.Get("password")
}

// ServeHTTP decides and then either forwards or answers itself.
func (g *Gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	out := g.Decide(r)
	metrics.DecisionDuration.Observe(time.Since(start).Seconds())
	metrics.Decision.WithLabelValues(out.Decision.String()).Inc()
	g.logOutcome(r, out)

	// Forwarded responses keep the origin's own header policy.
	if out.Decision != Allowed {
		setSecurityHeaders(w.Header(), r)
	}

	switch out.Decision {
	case Allowed:
		if !out.IssueSession {
			g.forward.ServeHTTP(w, r)
			return
		}
		metrics.SessionIssued.WithLabelValues(string(ChannelBasic)).Inc()
		sw := newSessionWriter(w, internalhttp.BuildCookie(g.cfg, token.Derive(g.cfg.Auth.Password)))
		g.forward.ServeHTTP(sw, r)
		// An origin that wrote nothing still gets the cookie on the implicit 200.
		sw.augment()

	case RedirectAfterLogout:
		http.SetCookie(w, internalhttp.ClearCookie(g.cfg))
		redirectHome(w)

	case RedirectAfterLogin:
		metrics.SessionIssued.WithLabelValues(string(ChannelForm)).Inc()
		http.SetCookie(w, internalhttp.BuildCookie(g.cfg, token.Derive(g.cfg.Auth.Password)))
		redirectHome(w)

	case LoginFailed:
		g.writeLoginPage(w, r, http.StatusOK, loginpage.InvalidCredentials)

	case LoginFormRequired:
		g.writeLoginPage(w, r, http.StatusOK, "")

	case ChallengeRequired:
		w.Header().Set("WWW-Authenticate", challenge.WWWAuthenticate(g.cfg.Site.Name))
		if g.mode == Combined {
			g.writeLoginPage(w, r, http.StatusUnauthorized, "")
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)

	default:
		w.Header().Set("Cache-Control", "no-store")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func setSecurityHeaders(h http.Header, r *http.Request) {
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "same-origin")
	if r.TLS != nil {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}

func (g *Gate) writeLoginPage(w http.ResponseWriter, r *http.Request, status int, notice string) {
	page := loginpage.Page{
		SiteName: g.cfg.Site.Name,
		Action:   g.cfg.Auth.LoginPath,
		Error:    notice,
	}
	if err := loginpage.Write(w, status, page); err != nil {
		internalhttp.GetLogger(r.Context()).Error().Err(err).Msg("failed to render login page")
	}
}

func (g *Gate) logOutcome(r *http.Request, out Outcome) {
	logger := internalhttp.GetLogger(r.Context())
	if out.CredentialsRejected {
		metrics.CredentialFailures.WithLabelValues(string(out.Channel)).Inc()
		logger.Debug().
			Str("decision", out.Decision.String()).
			Str("channel", string(out.Channel)).
			Str("client", g.fp.Fingerprint(internalhttp.ClientIP(r))).
			Msg("credentials rejected")
		return
	}
	logger.Debug().
		Str("decision", out.Decision.String()).
		Str("channel", string(out.Channel)).
		Bool("issue_session", out.IssueSession).
		Msg("gate decision")
}

// redirectHome sends the client to the site root. The response carries
// session state, so intermediaries must not store it.
func redirectHome(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Location", "/")
	w.WriteHeader(http.StatusFound)
}
