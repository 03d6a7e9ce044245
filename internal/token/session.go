package token

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// ---- Session tokens ----
//
// A session token is the hex SHA-256 digest of the shared password. Every
// valid session carries the same value; a presented cookie is checked by
// recomputing the digest, so nothing is stored server-side.

// Size is the length of a derived token in characters.
const Size = sha256.Size * 2

// Derive returns the session token for password. Pure and deterministic.
func Derive(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Matches reports whether presented equals the token derived from password.
// Empty values and values of the wrong length never match.
func Matches(presented, password string) bool {
	if len(presented) != Size || password == "" {
		return false
	}
	return Equal(presented, Derive(password))
}

// Equal compares two secrets in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
