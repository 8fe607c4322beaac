package api

import (
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/YanivGeorgePerez/dapim/cfg"
	"github.com/YanivGeorgePerez/dapim/metrics"
	"github.com/YanivGeorgePerez/dapim/pkg/domain"
	"github.com/YanivGeorgePerez/dapim/svc/captcha"
	"github.com/YanivGeorgePerez/dapim/svc/lim"
	"github.com/YanivGeorgePerez/dapim/svc/session"
	"github.com/YanivGeorgePerez/dapim/svc/svc"
	"github.com/YanivGeorgePerez/dapim/svc/util"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/text/unicode/norm"
)

const maxFormSize = 64 * 1024

type Hdl struct {
	paste    *svc.Paste
	home     *svc.Home
	auth     *svc.Auth
	perm     *svc.Perm
	sessions session.Store
	captcha  captcha.Verifier
	cfg      *cfg.Cfg
}

type indexData struct {
	Page
	Query    string
	Listings []domain.PasteListing
}

type pasteData struct {
	Page
	Paste     *domain.Paste
	ViewCount int
}

type createData struct {
	Page
	Error        string
	TitleValue   string
	ContentValue string
}

type authFormData struct {
	Page
	Error         string
	UsernameValue string
}

type profileData struct {
	Page
	Username string
	Color    string
	Group    *domain.Group
	Joined   time.Time
	Pastes   []domain.Paste
}

type errData struct {
	Page
	Status  int
	Message string
}

func errorData(status int, message, principal string) errData {
	return errData{
		Page:    Page{Title: http.StatusText(status), Principal: principal},
		Status:  status,
		Message: message,
	}
}

func (h *Hdl) page(r *http.Request, title string) Page {
	return Page{
		Title:     title,
		Principal: PrincipalFrom(r.Context()),
		SiteKey:   h.cfg.CaptchaSiteKey,
	}
}

// errPage converts a service error into an HTML error response. Causes of
// 5xx errors are logged, never rendered.
func (h *Hdl) errPage(w http.ResponseWriter, r *http.Request, err error) {
	status := domain.Status(err)
	msg := domain.Message(err)
	if status >= 500 {
		msg = domain.ErrInternalServer.Msg
		util.Error().
			Err(err).
			Str("request_id", util.GetRequestID(r.Context())).
			Msg("request failed")
	}
	render(w, status, "error", errorData(status, msg, PrincipalFrom(r.Context())))
}

func (h *Hdl) checkCaptcha(r *http.Request) bool {
	return h.captcha.Verify(r.Context(), r.FormValue("g-recaptcha-response"))
}

func (h *Hdl) Index(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	listings, err := h.home.Listings(r.Context(), query)
	if err != nil {
		h.errPage(w, r, err)
		return
	}
	render(w, http.StatusOK, "index", indexData{
		Page:     h.page(r, "recent pastes"),
		Query:    strings.TrimSpace(query),
		Listings: listings,
	})
}

func (h *Hdl) ShowPaste(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	paste, err := h.paste.Get(r.Context(), id)
	if err != nil {
		h.errPage(w, r, err)
		return
	}
	h.paste.RecordView(id, lim.GetRealIP(r, h.cfg.TrustedProxies))
	render(w, http.StatusOK, "paste", pasteData{
		Page:      h.page(r, paste.Title),
		Paste:     paste,
		ViewCount: len(paste.Views),
	})
}

func (h *Hdl) CreateForm(w http.ResponseWriter, r *http.Request) {
	if h.cfg.CreateRequiresLogin && PrincipalFrom(r.Context()) == "" {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	render(w, http.StatusOK, "create", createData{Page: h.page(r, "new paste")})
}

func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	principal := PrincipalFrom(r.Context())
	if h.cfg.CreateRequiresLogin && principal == "" {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseForm(); err != nil {
		h.errPage(w, r, errors.WithMessage(domain.ErrContentTooLong, "form too large"))
		return
	}
	title := sanitizeText(r.FormValue("title"))
	content := sanitizeText(r.FormValue("content"))
	if !h.checkCaptcha(r) {
		render(w, http.StatusBadRequest, "create", createData{
			Page:         h.page(r, "new paste"),
			Error:        domain.ErrCaptchaFailed.Msg,
			TitleValue:   title,
			ContentValue: content,
		})
		return
	}
	paste, err := h.paste.Create(r.Context(), domain.CreateParams{
		Title:  title,
		Body:   content,
		Author: principal,
	})
	if err != nil {
		status := domain.Status(err)
		if status >= 500 {
			h.errPage(w, r, err)
			return
		}
		render(w, status, "create", createData{
			Page:         h.page(r, "new paste"),
			Error:        domain.Message(err),
			TitleValue:   title,
			ContentValue: content,
		})
		return
	}
	log.Info().
		Str("paste_id", paste.ID).
		Str("author", paste.Author).
		Msg("paste created")
	http.Redirect(w, r, "/paste/"+paste.ID, http.StatusFound)
}

func (h *Hdl) AddComment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseForm(); err != nil {
		h.errPage(w, r, errors.WithMessage(domain.ErrCommentTooLong, "form too large"))
		return
	}
	content := sanitizeText(r.FormValue("content"))
	_, err := h.paste.AddComment(r.Context(), id, PrincipalFrom(r.Context()), content)
	if err != nil {
		h.errPage(w, r, err)
		return
	}
	http.Redirect(w, r, "/paste/"+id, http.StatusFound)
}

func (h *Hdl) LoginForm(w http.ResponseWriter, r *http.Request) {
	if PrincipalFrom(r.Context()) != "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	render(w, http.StatusOK, "login", authFormData{Page: h.page(r, "login")})
}

func (h *Hdl) Login(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseForm(); err != nil {
		h.errPage(w, r, errors.WithMessage(domain.ErrInvalidCredentials, "form too large"))
		return
	}
	username := strings.TrimSpace(r.FormValue("username"))
	if !h.checkCaptcha(r) {
		render(w, http.StatusBadRequest, "login", authFormData{
			Page:          h.page(r, "login"),
			Error:         domain.ErrCaptchaFailed.Msg,
			UsernameValue: username,
		})
		return
	}
	user, err := h.auth.Login(r.Context(), username, r.FormValue("password"))
	if err != nil {
		status := domain.Status(err)
		if status >= 500 {
			h.errPage(w, r, err)
			return
		}
		log.Warn().
			Str("username", username).
			Str("ip", util.RedactIP(r.RemoteAddr)).
			Msg("failed login attempt")
		render(w, status, "login", authFormData{
			Page:          h.page(r, "login"),
			Error:         domain.Message(err),
			UsernameValue: username,
		})
		return
	}
	sessionID, err := h.sessions.Create(r.Context(), user.Username)
	if err != nil {
		h.errPage(w, r, err)
		return
	}
	h.setSessionCookie(w, sessionID)
	metrics.SessionCreated.Inc()
	log.Info().Str("username", user.Username).Msg("user logged in")
	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *Hdl) RegisterForm(w http.ResponseWriter, r *http.Request) {
	if PrincipalFrom(r.Context()) != "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	render(w, http.StatusOK, "register", authFormData{Page: h.page(r, "register")})
}

func (h *Hdl) Register(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseForm(); err != nil {
		h.errPage(w, r, errors.WithMessage(domain.ErrUsernameRequired, "form too large"))
		return
	}
	username := strings.TrimSpace(r.FormValue("username"))
	if !h.checkCaptcha(r) {
		render(w, http.StatusBadRequest, "register", authFormData{
			Page:          h.page(r, "register"),
			Error:         domain.ErrCaptchaFailed.Msg,
			UsernameValue: username,
		})
		return
	}
	user, err := h.auth.Register(r.Context(), username, r.FormValue("password"))
	if err != nil {
		status := domain.Status(err)
		if status >= 500 {
			h.errPage(w, r, err)
			return
		}
		render(w, status, "register", authFormData{
			Page:          h.page(r, "register"),
			Error:         domain.Message(err),
			UsernameValue: username,
		})
		return
	}
	log.Info().Str("username", user.Username).Msg("account created")
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (h *Hdl) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		if _, err := h.sessions.Destroy(r.Context(), c.Value); err != nil {
			util.Warn().Err(err).Msg("session destroy failed")
		}
	}
	h.clearSessionCookie(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *Hdl) OwnProfile(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFrom(r.Context())
	if principal == "" {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	h.renderProfile(w, r, principal)
}

func (h *Hdl) Profile(w http.ResponseWriter, r *http.Request) {
	h.renderProfile(w, r, chi.URLParam(r, "name"))
}

func (h *Hdl) renderProfile(w http.ResponseWriter, r *http.Request, name string) {
	user, err := h.auth.User(r.Context(), name)
	if err != nil {
		h.errPage(w, r, err)
		return
	}
	group, err := h.perm.Group(r.Context(), user.Group)
	if err != nil {
		h.errPage(w, r, err)
		return
	}
	pastes, err := h.paste.ListByAuthor(r.Context(), user.Username)
	if err != nil {
		h.errPage(w, r, err)
		return
	}
	color := h.cfg.NeutralColor
	if group != nil && group.Color != "" {
		color = group.Color
	}
	render(w, http.StatusOK, "profile", profileData{
		Page:     h.page(r, user.Username),
		Username: user.Username,
		Color:    color,
		Group:    group,
		Joined:   user.CreatedAt,
		Pastes:   pastes,
	})
}

func (h *Hdl) TOS(w http.ResponseWriter, r *http.Request) {
	render(w, http.StatusOK, "tos", struct{ Page }{h.page(r, "terms of service")})
}

func (h *Hdl) NotFound(w http.ResponseWriter, r *http.Request) {
	render(w, http.StatusNotFound, "error",
		errorData(http.StatusNotFound, "page not found", PrincipalFrom(r.Context())))
}

func (h *Hdl) setSessionCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(h.cfg.SessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.Environment == "production",
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Hdl) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

// sanitizeText normalizes form input to NFC and strips control characters
// except line and tab whitespace. HTML escaping happens at render time.
func sanitizeText(s string) string {
	s = norm.NFC.String(s)
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for _, r := range s {
			if r != utf8.RuneError {
				v = append(v, r)
			}
		}
		s = string(v)
	}
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
}
