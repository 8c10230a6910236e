package handlers

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gorilla/csrf"

	"timesheet/auth"
	"timesheet/i18n"
	"timesheet/models"
)

//go:embed templates/*.html
var templatesFS embed.FS

var pageNames = []string{
	"login.html",
	"register.html",
	"dashboard.html",
	"create_project.html",
	"archives.html",
}

const timeLayout = "2006-01-02 15:04"

// parseTemplates builds one template set per page on top of the shared
// layout. "T" is a placeholder rebound to the request language at render
// time.
func (s *Server) parseTemplates() (map[string]*template.Template, error) {
	funcs := template.FuncMap{
		"T":        func(key string) string { return key },
		"fmtTime":  func(t time.Time) string { return t.Format(timeLayout) },
		"duration": func(ts models.TimeSheet) string { return formatDuration(ts.Duration(s.svc.Now())) },
	}

	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.New(name).Funcs(funcs).ParseFS(templatesFS, "templates/layout.html", "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		pages[name] = tmpl
	}
	return pages, nil
}

// renderTemplate pops pending flashes, adds the values every page needs and
// executes the page into a buffer so a template error never leaves a half
// written response.
func (s *Server) renderTemplate(w http.ResponseWriter, r *http.Request, name string, data map[string]any) {
	lang := i18n.DetectLanguage(r)

	base, ok := s.pages[name]
	if !ok {
		s.serverError(w, r, fmt.Errorf("unknown template %s", name))
		return
	}
	tmpl, err := base.Clone()
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	tmpl.Funcs(template.FuncMap{
		"T": func(key string) string { return i18n.T(lang, key) },
	})

	if data == nil {
		data = map[string]any{}
	}
	data["AppName"] = s.cfg.AppName
	data["Lang"] = lang
	data["csrfField"] = csrf.TemplateField(r)
	data["Flashes"] = s.sessions.Flashes(w, r)
	if user, ok := auth.UserFromContext(r.Context()); ok {
		data["User"] = user
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		s.serverError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Minute)
	return fmt.Sprintf("%dh %02dm", int(d.Hours()), int(d.Minutes())%60)
}
