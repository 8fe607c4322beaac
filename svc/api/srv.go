package api

import (
	"context"
	"net/http"
	"time"

	"github.com/YanivGeorgePerez/dapim/cfg"
	"github.com/YanivGeorgePerez/dapim/svc/captcha"
	"github.com/YanivGeorgePerez/dapim/svc/db"
	"github.com/YanivGeorgePerez/dapim/svc/lim"
	"github.com/YanivGeorgePerez/dapim/svc/session"
	"github.com/YanivGeorgePerez/dapim/svc/svc"
	"github.com/YanivGeorgePerez/dapim/svc/util"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
)

// Deps carries everything the router needs; NewServer panics on missing
// required pieces so wiring mistakes fail at startup.
type Deps struct {
	Paste    *svc.Paste
	Home     *svc.Home
	Auth     *svc.Auth
	Perm     *svc.Perm
	Sessions session.Store
	Captcha  captcha.Verifier
	Lim      *lim.Limiter
	DB       *db.SQLite
	RDB      *db.Redis
}

type Server struct {
	router     *chi.Mux
	cfg        *cfg.Cfg
	db         *db.SQLite
	rdb        *db.Redis
	watchdog   *lim.Watchdog
	httpServer *http.Server
}

func NewServer(c *cfg.Cfg, d Deps) *Server {
	if d.Paste == nil || d.Home == nil || d.Auth == nil || d.Perm == nil ||
		d.Sessions == nil || d.Captcha == nil || d.Lim == nil || d.DB == nil {
		panic("api server: nil dependency")
	}
	r := chi.NewRouter()
	wd := lim.NewWatchdog(func() { d.Lim.Tighten(5 * time.Minute) })
	wd.Start()
	mw := NewMw(d.Lim, d.Sessions, wd, c)
	s := &Server{
		router:   r,
		cfg:      c,
		db:       d.DB,
		rdb:      d.RDB,
		watchdog: wd,
		httpServer: &http.Server{
			Addr:           ":" + c.Port,
			Handler:        r,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 256 * 1024,
		},
	}

	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Get("/health", s.Health)
		r.Get("/ready", s.Ready)
	})
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Handle("/metrics", mw.BasicAuthMetrics(promhttp.Handler()))
	})
	r.Handle("/static/*", http.FileServer(http.FS(staticFS)))

	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Use(mw.RequestID)
		r.Use(hlog.NewHandler(util.GetLogger()))
		r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(req).Info().
				Str("method", req.Method).
				Str("url", req.URL.String()).
				Int("status", status).
				Int("size", size).
				Dur("duration", dur).
				Str("request_id", util.GetRequestID(req.Context())).
				Msg("http request")
		}))
		if len(c.TrustedProxies) > 0 {
			r.Use(middleware.RealIP)
		}
		r.Use(mw.ContextTimeout)
		r.Use(mw.SecurityHeaders)
		r.Use(mw.Metrics)
		r.Use(mw.Principal)

		hdl := &Hdl{
			paste:    d.Paste,
			home:     d.Home,
			auth:     d.Auth,
			perm:     d.Perm,
			sessions: d.Sessions,
			captcha:  d.Captcha,
			cfg:      c,
		}
		r.Get("/", hdl.Index)
		r.With(mw.RateLimit("view")).Get("/paste/{id}", hdl.ShowPaste)
		r.With(mw.RateLimit("comment")).Post("/paste/{id}/comment", hdl.AddComment)
		r.Get("/create", hdl.CreateForm)
		r.With(mw.RateLimit("create")).Post("/create", hdl.CreatePaste)
		r.Get("/login", hdl.LoginForm)
		r.With(mw.RateLimit("auth")).Post("/login", hdl.Login)
		r.Get("/register", hdl.RegisterForm)
		r.With(mw.RateLimit("auth")).Post("/register", hdl.Register)
		r.Get("/logout", hdl.Logout)
		r.Get("/profile", hdl.OwnProfile)
		r.Get("/profile/{name}", hdl.Profile)
		r.Get("/tos", hdl.TOS)
		r.NotFound(hdl.NotFound)
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Start() error {
	util.Info().Str("port", s.cfg.Port).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("port", s.cfg.Port).Msg("server failed to start")
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.watchdog.Stop()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
