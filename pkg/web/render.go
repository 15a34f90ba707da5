package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"

	"github.com/vitalwatch/platform/pkg/common/logger"
)

//go:embed templates
var templateFS embed.FS

// renderer holds one template set per page, each sharing the layout and
// the live fragments.
type renderer struct {
	base  *template.Template
	pages map[string]*template.Template
}

func newRenderer() (*renderer, error) {
	funcs := template.FuncMap{
		"initials": initials,
	}
	base, err := template.New("base").Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/fragments.html")
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	names, err := fs.Glob(templateFS, "templates/pages/*.html")
	if err != nil {
		return nil, err
	}
	pages := make(map[string]*template.Template, len(names))
	for _, name := range names {
		t, err := base.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := t.ParseFS(templateFS, name); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		pages[path.Base(name)] = t
	}
	return &renderer{base: base, pages: pages}, nil
}

func (rd *renderer) page(w http.ResponseWriter, status int, name string, data interface{}) {
	t, ok := rd.pages[name]
	if !ok {
		logger.Log.WithField("template", name).Error("Unknown page template")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		logger.Log.WithError(err).WithField("template", name).Error("Failed to render page")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		logger.Log.WithError(err).WithField("template", name).Debug("Page write interrupted")
	}
}

// fragment renders one of the live sections on its own.
func (rd *renderer) fragment(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := rd.base.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
