package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/YanivGeorgePerez/dapim/cfg"
	"github.com/YanivGeorgePerez/dapim/pkg/domain"
	"github.com/YanivGeorgePerez/dapim/svc/auth"
	"github.com/YanivGeorgePerez/dapim/svc/cache"
	"github.com/YanivGeorgePerez/dapim/svc/captcha"
	"github.com/YanivGeorgePerez/dapim/svc/db"
	"github.com/YanivGeorgePerez/dapim/svc/lim"
	"github.com/YanivGeorgePerez/dapim/svc/session"
	"github.com/YanivGeorgePerez/dapim/svc/svc"
)

type failCaptcha struct{}

func (failCaptcha) Verify(ctx context.Context, token string) bool { return false }

func testCfg() *cfg.Cfg {
	return &cfg.Cfg{
		Port:           "0",
		Environment:    "test",
		MaxTitleLen:    100,
		MaxBodyLen:     10000,
		MaxCommentLen:  1000,
		MaxUsernameLen: 50,
		MinPasswordLen: 6,
		DefaultGroup:   "Member",
		NeutralColor:   "var(--accent)",
		HomeCacheTTL:   10 * time.Second,
		HomePageSize:   20,
		LRUCacheSize:   100,
		GroupCacheTTL:  time.Minute,
		SessionMaxAge:  time.Hour,
		ContextTimeout: 10 * time.Second,
		ViewWorkers:    2,
		RateLimit:      cfg.RateLimitCfg{RPM: 600000, Burst: 100000},
	}
}

func newTestServer(t *testing.T, c *cfg.Cfg, verifier captcha.Verifier) (*Server, *db.SQLite) {
	t.Helper()
	dsn := fmt.Sprintf("file:apidb%d?mode=memory&cache=shared", time.Now().UnixNano())
	sqlDB, err := db.NewSQLiteWithConfig(dsn, 10, 5, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	if err := sqlDB.SeedGroups(context.Background(), []domain.Group{
		{Name: "Admin", Color: "#FF0000", Permissions: []string{domain.WildcardPermission}},
		{Name: "Member", Color: "#CCCCCC", Permissions: []string{}},
	}); err != nil {
		t.Fatal(err)
	}
	lruCache, err := cache.NewLRU(c.LRUCacheSize)
	if err != nil {
		t.Fatal(err)
	}
	homeSlot := cache.NewHomeSlot(c.HomeCacheTTL)
	hasher, err := auth.NewHasher(1, 8*1024, 1, []byte("test-pepper-0123456789abcdef0123"))
	if err != nil {
		t.Fatal(err)
	}
	pasteSvc := svc.NewPaste(sqlDB, lruCache, homeSlot, c)
	t.Cleanup(pasteSvc.Shutdown)
	limiter := lim.New(c.RateLimit.RPM, c.RateLimit.Burst, c.TrustedProxies)
	t.Cleanup(limiter.Stop)

	srv := NewServer(c, Deps{
		Paste:    pasteSvc,
		Home:     svc.NewHome(sqlDB, homeSlot, c),
		Auth:     svc.NewAuth(sqlDB, hasher, c),
		Perm:     svc.NewPerm(sqlDB, c.GroupCacheTTL),
		Sessions: session.NewMemory(),
		Captcha:  verifier,
		Lim:      limiter,
		DB:       sqlDB,
	})
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return srv, sqlDB
}

func doForm(t *testing.T, srv *Server, method, path string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func sessionCookieFrom(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie && c.Value != "" {
			return c
		}
	}
	t.Fatal("no session cookie in response")
	return nil
}

func TestRegisterLoginCreateViewCommentFlow(t *testing.T) {
	srv, sqlDB := newTestServer(t, testCfg(), captcha.Disabled{})

	// Register redirects to the login page.
	rec := doForm(t, srv, http.MethodPost, "/register",
		url.Values{"username": {"alice"}, "password": {"secret1"}}, nil)
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/login" {
		t.Fatalf("register: code=%d location=%q", rec.Code, rec.Header().Get("Location"))
	}

	// Login sets the session cookie.
	rec = doForm(t, srv, http.MethodPost, "/login",
		url.Values{"username": {"alice"}, "password": {"secret1"}}, nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("login: code=%d body=%s", rec.Code, rec.Body.String())
	}
	cookie := sessionCookieFrom(t, rec)
	if !cookie.HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}

	// Create a paste; redirected to its page.
	rec = doForm(t, srv, http.MethodPost, "/create",
		url.Values{"title": {"My Test Paste"}, "content": {"hello world body"}}, cookie)
	if rec.Code != http.StatusFound {
		t.Fatalf("create: code=%d body=%s", rec.Code, rec.Body.String())
	}
	loc := rec.Header().Get("Location")
	if !strings.HasPrefix(loc, "/paste/") {
		t.Fatalf("create redirect %q", loc)
	}
	pasteID := strings.TrimPrefix(loc, "/paste/")

	// Viewing renders title and body.
	rec = doForm(t, srv, http.MethodGet, loc, nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("view: code=%d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "My Test Paste") || !strings.Contains(body, "hello world body") {
		t.Errorf("paste page missing content:\n%s", body)
	}

	// The view lands asynchronously and dedups by IP.
	waitForViews(t, sqlDB, pasteID, 1)
	doForm(t, srv, http.MethodGet, loc, nil, cookie)
	time.Sleep(100 * time.Millisecond)
	p, err := sqlDB.GetPaste(context.Background(), pasteID)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Views) != 1 {
		t.Errorf("repeat view from same ip counted: %d", len(p.Views))
	}

	// Comment as the logged-in user, then see it on the page.
	rec = doForm(t, srv, http.MethodPost, loc+"/comment",
		url.Values{"content": {"nice"}}, cookie)
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != loc {
		t.Fatalf("comment: code=%d location=%q", rec.Code, rec.Header().Get("Location"))
	}
	rec = doForm(t, srv, http.MethodGet, loc, nil, cookie)
	body = rec.Body.String()
	if !strings.Contains(body, "nice") || !strings.Contains(body, "alice") {
		t.Errorf("comment not rendered:\n%s", body)
	}
}

func waitForViews(t *testing.T, sqlDB *db.SQLite, id string, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		p, err := sqlDB.GetPaste(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if len(p.Views) == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d views, got %d", want, len(p.Views))
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestAnonymousCreateAndComment(t *testing.T) {
	srv, _ := newTestServer(t, testCfg(), captcha.Disabled{})

	rec := doForm(t, srv, http.MethodPost, "/create",
		url.Values{"title": {"anon paste"}, "content": {"no login needed"}}, nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("create: code=%d", rec.Code)
	}
	loc := rec.Header().Get("Location")

	rec = doForm(t, srv, http.MethodPost, loc+"/comment", url.Values{"content": {"drive-by"}}, nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("comment: code=%d", rec.Code)
	}

	rec = doForm(t, srv, http.MethodGet, loc, nil, nil)
	body := rec.Body.String()
	if !strings.Contains(body, domain.AnonymousAuthor) {
		t.Errorf("anonymous author not shown:\n%s", body)
	}
}

func TestCreateRequiresLoginPolicy(t *testing.T) {
	c := testCfg()
	c.CreateRequiresLogin = true
	srv, _ := newTestServer(t, c, captcha.Disabled{})

	rec := doForm(t, srv, http.MethodPost, "/create",
		url.Values{"title": {"t"}, "content": {"b"}}, nil)
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/login" {
		t.Errorf("anonymous create should bounce to login: code=%d location=%q",
			rec.Code, rec.Header().Get("Location"))
	}
	rec = doForm(t, srv, http.MethodGet, "/create", nil, nil)
	if rec.Code != http.StatusFound {
		t.Errorf("create form should bounce too: code=%d", rec.Code)
	}
}

func TestCreateValidationErrors(t *testing.T) {
	srv, _ := newTestServer(t, testCfg(), captcha.Disabled{})

	rec := doForm(t, srv, http.MethodPost, "/create",
		url.Values{"title": {"   "}, "content": {"body"}}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank title: code=%d", rec.Code)
	}
	rec = doForm(t, srv, http.MethodPost, "/create",
		url.Values{"title": {strings.Repeat("x", 101)}, "content": {"body"}}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("overlong title: code=%d", rec.Code)
	}
}

func TestEmptyCommentRejected(t *testing.T) {
	srv, _ := newTestServer(t, testCfg(), captcha.Disabled{})
	rec := doForm(t, srv, http.MethodPost, "/create",
		url.Values{"title": {"t"}, "content": {"b"}}, nil)
	loc := rec.Header().Get("Location")

	rec = doForm(t, srv, http.MethodPost, loc+"/comment", url.Values{"content": {"  "}}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty comment: code=%d", rec.Code)
	}
}

func TestCommentOnMissingPaste(t *testing.T) {
	srv, _ := newTestServer(t, testCfg(), captcha.Disabled{})
	rec := doForm(t, srv, http.MethodPost, "/paste/ghost11AAAAA/comment",
		url.Values{"content": {"hello"}}, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("code=%d", rec.Code)
	}
}

func TestMissingPasteAndUnknownRoute(t *testing.T) {
	srv, _ := newTestServer(t, testCfg(), captcha.Disabled{})

	rec := doForm(t, srv, http.MethodGet, "/paste/doesnotexist", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing paste: code=%d", rec.Code)
	}
	rec = doForm(t, srv, http.MethodGet, "/definitely/not/a/route", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown route: code=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "page not found") {
		t.Errorf("404 body:\n%s", rec.Body.String())
	}
}

func TestCaptchaFailureBlocksMutations(t *testing.T) {
	srv, _ := newTestServer(t, testCfg(), failCaptcha{})

	rec := doForm(t, srv, http.MethodPost, "/register",
		url.Values{"username": {"alice"}, "password": {"secret1"}}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("register: code=%d", rec.Code)
	}
	rec = doForm(t, srv, http.MethodPost, "/login",
		url.Values{"username": {"alice"}, "password": {"secret1"}}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("login: code=%d", rec.Code)
	}
	rec = doForm(t, srv, http.MethodPost, "/create",
		url.Values{"title": {"t"}, "content": {"b"}}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("create: code=%d", rec.Code)
	}
}

func TestBadCredentials(t *testing.T) {
	srv, _ := newTestServer(t, testCfg(), captcha.Disabled{})
	doForm(t, srv, http.MethodPost, "/register",
		url.Values{"username": {"alice"}, "password": {"secret1"}}, nil)

	rec := doForm(t, srv, http.MethodPost, "/login",
		url.Values{"username": {"alice"}, "password": {"wrong-pass"}}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("code=%d", rec.Code)
	}
	rec = doForm(t, srv, http.MethodPost, "/register",
		url.Values{"username": {"alice"}, "password": {"secret1"}}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("duplicate register: code=%d", rec.Code)
	}
}

func TestLogout(t *testing.T) {
	srv, _ := newTestServer(t, testCfg(), captcha.Disabled{})
	doForm(t, srv, http.MethodPost, "/register",
		url.Values{"username": {"alice"}, "password": {"secret1"}}, nil)
	rec := doForm(t, srv, http.MethodPost, "/login",
		url.Values{"username": {"alice"}, "password": {"secret1"}}, nil)
	cookie := sessionCookieFrom(t, rec)

	rec = doForm(t, srv, http.MethodGet, "/logout", nil, cookie)
	if rec.Code != http.StatusFound {
		t.Fatalf("logout: code=%d", rec.Code)
	}
	cleared := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("logout did not clear the cookie")
	}

	// The old cookie no longer grants access to /profile.
	rec = doForm(t, srv, http.MethodGet, "/profile", nil, cookie)
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/login" {
		t.Errorf("stale session: code=%d location=%q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestProfilePages(t *testing.T) {
	srv, _ := newTestServer(t, testCfg(), captcha.Disabled{})
	doForm(t, srv, http.MethodPost, "/register",
		url.Values{"username": {"alice"}, "password": {"secret1"}}, nil)
	rec := doForm(t, srv, http.MethodPost, "/login",
		url.Values{"username": {"alice"}, "password": {"secret1"}}, nil)
	cookie := sessionCookieFrom(t, rec)

	doForm(t, srv, http.MethodPost, "/create",
		url.Values{"title": {"alice paste"}, "content": {"body"}}, cookie)

	rec = doForm(t, srv, http.MethodGet, "/profile", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("own profile: code=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "alice paste") {
		t.Errorf("own pastes missing:\n%s", rec.Body.String())
	}

	rec = doForm(t, srv, http.MethodGet, "/profile/alice", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("public profile: code=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Member") {
		t.Errorf("group name missing:\n%s", rec.Body.String())
	}

	rec = doForm(t, srv, http.MethodGet, "/profile/nobody", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown profile: code=%d", rec.Code)
	}

	rec = doForm(t, srv, http.MethodGet, "/profile", nil, nil)
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/login" {
		t.Errorf("anonymous /profile: code=%d", rec.Code)
	}
}

func TestHomepageListingAndSearch(t *testing.T) {
	c := testCfg()
	c.HomeCacheTTL = 10 * time.Millisecond
	srv, _ := newTestServer(t, c, captcha.Disabled{})

	doForm(t, srv, http.MethodPost, "/create",
		url.Values{"title": {"needle in haystack"}, "content": {"alpha"}}, nil)
	doForm(t, srv, http.MethodPost, "/create",
		url.Values{"title": {"other paste"}, "content": {"beta"}}, nil)

	rec := doForm(t, srv, http.MethodGet, "/", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("home: code=%d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "needle in haystack") || !strings.Contains(body, "other paste") {
		t.Errorf("home listing incomplete:\n%s", body)
	}

	rec = doForm(t, srv, http.MethodGet, "/?q=needle", nil, nil)
	body = rec.Body.String()
	if !strings.Contains(body, "needle in haystack") {
		t.Errorf("search miss:\n%s", body)
	}
	if strings.Contains(body, "other paste") {
		t.Errorf("search returned unmatched paste:\n%s", body)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	c := testCfg()
	c.MetricsUser = "metrics"
	c.MetricsPass = cfg.NewSecret("metrics-pass")
	srv, _ := newTestServer(t, c, captcha.Disabled{})

	rec := doForm(t, srv, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health: code=%d", rec.Code)
	}
	rec = doForm(t, srv, http.MethodGet, "/ready", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("ready: code=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = doForm(t, srv, http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated metrics: code=%d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("metrics", "metrics-pass")
	authed := httptest.NewRecorder()
	srv.ServeHTTP(authed, req)
	if authed.Code != http.StatusOK {
		t.Errorf("authenticated metrics: code=%d", authed.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv, _ := newTestServer(t, testCfg(), captcha.Disabled{})
	rec := doForm(t, srv, http.MethodGet, "/", nil, nil)
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("nosniff header missing")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("frame options header missing")
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("request id header missing")
	}
}

func TestRateLimitKicksIn(t *testing.T) {
	c := testCfg()
	c.RateLimit = cfg.RateLimitCfg{RPM: 60, Burst: 2}
	srv, _ := newTestServer(t, c, captcha.Disabled{})

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = doForm(t, srv, http.MethodPost, "/create",
			url.Values{"title": {"t"}, "content": {"b"}}, nil)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Errorf("third create within burst 2: code=%d", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
}

func TestRenderedHTMLEscapesUserContent(t *testing.T) {
	srv, _ := newTestServer(t, testCfg(), captcha.Disabled{})
	rec := doForm(t, srv, http.MethodPost, "/create",
		url.Values{"title": {"<script>alert(1)</script>"}, "content": {"safe"}}, nil)
	loc := rec.Header().Get("Location")

	rec = doForm(t, srv, http.MethodGet, loc, nil, nil)
	body := rec.Body.String()
	if strings.Contains(body, "<script>alert(1)</script>") {
		t.Error("user content rendered unescaped")
	}
	if !strings.Contains(body, "&lt;script&gt;") {
		t.Errorf("escaped title missing:\n%s", body)
	}
}
