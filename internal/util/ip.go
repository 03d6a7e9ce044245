package util

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net"
)

// Fingerprinter turns client IPs into short, non-reversible log tokens so
// failed sign-in attempts can be correlated without recording addresses.
type Fingerprinter struct {
	key []byte
}

// NewFingerprinter uses key when set, otherwise a random per-process key
// (fingerprints then do not survive a restart).
func NewFingerprinter(key string) *Fingerprinter {
	if key != "" {
		return &Fingerprinter{key: []byte(key)}
	}
	k := make([]byte, 32)
	rand.Read(k)
	return &Fingerprinter{key: k}
}

func (f *Fingerprinter) Fingerprint(ipStr string) string {
	return HMACIP(ipStr, f.key)
}

// Anonymize IPv4 to /24 (IPv6 to /48), then HMAC for logs.
func HMACIP(ipStr string, key []byte) string {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return "unknown"
	}
	var cidr string
	if v4 := ip.To4(); v4 != nil {
		cidr = v4.Mask(net.CIDRMask(24, 32)).String()
	} else {
		cidr = ip.Mask(net.CIDRMask(48, 128)).String()
	}
	m := hmac.New(sha256.New, key)
	m.Write([]byte(cidr))
	return hex.EncodeToString(m.Sum(nil))[:16]
}
