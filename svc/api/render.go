package api

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/YanivGeorgePerez/dapim/svc/util"
)

//go:embed tmpl
var tmplFS embed.FS

//go:embed static
var staticFS embed.FS

// Group colors come from the seeded groups table, never from user input, so
// they can pass through the CSS context untouched.
var tmplFuncs = template.FuncMap{
	"safeCSS": func(s string) template.CSS { return template.CSS(s) },
}

var pages = parsePages("index", "paste", "create", "login", "register", "profile", "tos", "error")

func parsePages(names ...string) map[string]*template.Template {
	m := make(map[string]*template.Template, len(names))
	for _, name := range names {
		m[name] = template.Must(template.New("layout.html").
			Funcs(tmplFuncs).
			ParseFS(tmplFS, "tmpl/layout.html", "tmpl/"+name+".html"))
	}
	return m
}

// Page carries the fields every template's layout needs.
type Page struct {
	Title     string
	Principal string
	SiteKey   string
}

func render(w http.ResponseWriter, status int, page string, data any) {
	t, ok := pages[page]
	if !ok {
		util.Error().Str("page", page).Msg("unknown template")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := t.Execute(w, data); err != nil {
		util.Error().Err(err).Str("page", page).Msg("template execution failed")
	}
}
