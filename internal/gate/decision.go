package gate

import (
	"fmt"

	"sitegate/internal/config"
)

// Decision is the per-request outcome of the gate.
type Decision int

const (
	Allowed Decision = iota
	ChallengeRequired
	LoginFormRequired
	LoginFailed
	RedirectAfterLogin
	RedirectAfterLogout
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case ChallengeRequired:
		return "challenge_required"
	case LoginFormRequired:
		return "login_form_required"
	case LoginFailed:
		return "login_failed"
	case RedirectAfterLogin:
		return "redirect_after_login"
	case RedirectAfterLogout:
		return "redirect_after_logout"
	default:
		return "unknown"
	}
}

// Mode selects how a denied request is asked for credentials. The decision
// logic is shared; only the presentation differs.
type Mode int

const (
	// FormOnly serves the hosted login page.
	FormOnly Mode = iota
	// ChallengeOnly answers 401 with a Basic challenge.
	ChallengeOnly
	// Combined answers 401 with a Basic challenge whose body is the login
	// page; a successful Basic exchange also starts a cookie session.
	Combined
)

func (m Mode) String() string {
	switch m {
	case FormOnly:
		return config.ModeForm
	case ChallengeOnly:
		return config.ModeBasic
	case Combined:
		return config.ModeCombined
	default:
		return "unknown"
	}
}

// ParseMode maps the configured mode name to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case config.ModeForm:
		return FormOnly, nil
	case config.ModeBasic:
		return ChallengeOnly, nil
	case config.ModeCombined:
		return Combined, nil
	default:
		return 0, fmt.Errorf("%w (got %q)", config.ErrInvalidMode, s)
	}
}

// hostsForm reports whether the login form endpoints are served.
func (m Mode) hostsForm() bool {
	return m == FormOnly || m == Combined
}

// Channel names which credential path produced an outcome.
type Channel string

const (
	ChannelBypass Channel = "bypass"
	ChannelCookie Channel = "cookie"
	ChannelBasic  Channel = "basic"
	ChannelForm   Channel = "form"
)

// Outcome is a decision plus what the response must carry with it.
type Outcome struct {
	Decision Decision
	Channel  Channel
	// IssueSession asks for a session cookie on the forwarded response.
	// Only set for Allowed via Basic credentials in Combined mode.
	IssueSession bool
	// CredentialsRejected is true when credentials were presented and did
	// not match.
	CredentialsRejected bool
}
