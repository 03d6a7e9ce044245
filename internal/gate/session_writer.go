package gate

import (
	"bufio"
	"net"
	"net/http"
)

// sessionWriter adds a session cookie and Cache-Control: no-store to the
// origin's response once the origin has produced its headers. Origin headers
// are kept except Cache-Control, which is replaced.
type sessionWriter struct {
	http.ResponseWriter
	cookie      *http.Cookie
	wroteHeader bool
}

func newSessionWriter(w http.ResponseWriter, cookie *http.Cookie) *sessionWriter {
	return &sessionWriter{ResponseWriter: w, cookie: cookie}
}

func (s *sessionWriter) augment() {
	if s.wroteHeader {
		return
	}
	s.wroteHeader = true
	h := s.ResponseWriter.Header()
	h.Set("Cache-Control", "no-store")
	h.Del("Expires")
	if v := s.cookie.String(); v != "" {
		h.Add("Set-Cookie", v)
	}
}

func (s *sessionWriter) WriteHeader(code int) {
	// 1xx responses other than 101 are not final; augment on the real status.
	if code >= 100 && code < 200 && code != http.StatusSwitchingProtocols {
		s.ResponseWriter.WriteHeader(code)
		return
	}
	s.augment()
	s.ResponseWriter.WriteHeader(code)
}

func (s *sessionWriter) Write(b []byte) (int, error) {
	s.augment()
	return s.ResponseWriter.Write(b)
}

func (s *sessionWriter) Flush() {
	s.augment()
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack adds the cookie before handing over the connection. ReverseProxy
// writes the 101 response itself from Header() after hijacking.
func (s *sessionWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	s.augment()
	return http.NewResponseController(s.ResponseWriter).Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *sessionWriter) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
