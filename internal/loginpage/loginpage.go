// Package loginpage renders the hosted sign-in form.
package loginpage

import (
	"bytes"
	_ "embed"
	"html/template"
	"net/http"
	"strconv"
)

// InvalidCredentials is the only failure notice ever shown. It never says
// which field was wrong.
const InvalidCredentials = "Invalid username or password"

const defaultFooter = "Protected documentation portal"

//go:embed login.html.tmpl
var rawTemplate string

var tmpl = template.Must(template.New("login").Parse(rawTemplate))

// Page is the data rendered into the form.
type Page struct {
	SiteName string
	Action   string // form POST target
	Error    string // optional notice above the form
	Footer   string
}

// Render writes the page to a buffer so template errors never produce a
// half-written response.
func Render(p Page) ([]byte, error) {
	if p.Footer == "" {
		p.Footer = defaultFooter
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write renders p and sends it with status. Headers already set on w (e.g.
// WWW-Authenticate) are preserved.
func Write(w http.ResponseWriter, status int, p Page) error {
	body, err := Render(p)
	if err != nil {
		return err
	}
	h := w.Header()
	h.Set("Content-Type", "text/html;charset=UTF-8")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, err = w.Write(body)
	return err
}
