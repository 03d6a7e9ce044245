package challenge

import (
	"encoding/base64"
	"errors"
	"strings"
)

// Basic is the only challenge-response scheme the gate understands.
const Basic = "Basic"

var (
	ErrNoCredentials     = errors.New("no credentials")
	ErrUnsupportedScheme = errors.New("unsupported authorization scheme")
	ErrMalformed         = errors.New("malformed basic credentials")
)

// Credentials is a decoded username/password pair.
type Credentials struct {
	Username string
	Password string
}

// ParseBasic decodes an Authorization header value of the form
// "Basic base64(user:pass)". The decoded payload is split on the first colon
// only, so passwords may contain colons. The scheme is matched
// case-insensitively.
func ParseBasic(header string) (Credentials, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Credentials{}, ErrNoCredentials
	}
	scheme, payload, ok := strings.Cut(header, " ")
	if !ok {
		if strings.EqualFold(header, Basic) {
			return Credentials{}, ErrMalformed
		}
		return Credentials{}, ErrUnsupportedScheme
	}
	if !strings.EqualFold(scheme, Basic) {
		return Credentials{}, ErrUnsupportedScheme
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return Credentials{}, ErrMalformed
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Credentials{}, ErrMalformed
	}
	user, pass, ok := strings.Cut(string(raw), ":")
	if !ok {
		return Credentials{}, ErrMalformed
	}
	return Credentials{Username: user, Password: pass}, nil
}

// WWWAuthenticate returns the challenge header value for realm.
func WWWAuthenticate(realm string) string {
	return Basic + ` realm="` + quote(realm) + `", charset="UTF-8"`
}

// quote escapes a value for use inside an RFC 7230 quoted-string.
func quote(s string) string {
	if !strings.ContainsAny(s, `"\`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
