package demoapp

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
)

//go:embed templates/*.html
var templateFS embed.FS

// Page names.
const (
	pageLogin     = "login"
	pageSignup    = "signup"
	pageDashboard = "dashboard"
)

type pageData struct {
	Flashes []Flash
	User    User
}

type pages map[string]*template.Template

func loadPages() (pages, error) {
	p := make(pages)
	for _, name := range []string{pageLogin, pageSignup, pageDashboard} {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		p[name] = t
	}
	return p, nil
}

// render writes a page. Output is buffered so a template error becomes a
// clean 500.
func (p pages) render(w http.ResponseWriter, name string, data pageData) error {
	var buf bytes.Buffer
	if err := p[name].ExecuteTemplate(&buf, "layout", data); err != nil {
		http.Error(w, "template error", http.StatusInternalServerError)
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err := buf.WriteTo(w)
	return err
}
