// ABOUTME: End-to-end tests for the server-rendered pages against a real store
// ABOUTME: Drives login, the route guard, invite acceptance and logout through the mux

package webadmin

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agentdash/internal/auth"
	"github.com/2389/agentdash/internal/console"
	"github.com/2389/agentdash/internal/grants"
	"github.com/2389/agentdash/internal/guard"
	"github.com/2389/agentdash/internal/session"
	"github.com/2389/agentdash/internal/store"
)

const pagePassword = "correct horse battery"

type pageFixture struct {
	store   *store.SQLiteStore
	sync    *session.Synchronizer
	console *console.Service
	handler http.Handler
}

func newPageFixture(t *testing.T) *pageFixture {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "pages.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	hash, err := auth.HashPassword(pagePassword)
	require.NoError(t, err)
	ctx := context.Background()
	for _, p := range []*store.Profile{
		{ID: "owner", Email: "owner@example.com", Role: store.RoleOwner, PasswordHash: hash},
		{ID: "alice", Email: "alice@example.com", Role: store.RoleMember, PasswordHash: hash, DisplayName: "Alice"},
	} {
		require.NoError(t, s.CreateProfile(ctx, p))
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sy := session.New(s, session.Options{
		SessionTTL:     time.Hour,
		ProfileTTL:     time.Minute,
		ResolveTimeout: 2 * time.Second,
		Logger:         logger,
	})
	t.Cleanup(sy.Close)

	svc := console.New(s, console.Options{Sessions: sy, BaseURL: "https://dash.example.com", Logger: logger})
	gs := grants.New(s, sy, nil, grants.Config{MaxTTL: 4 * time.Hour, BreakGlassTTL: 30 * time.Minute}, logger)

	pages := New(Config{
		Store:    s,
		Sessions: sy,
		Console:  svc,
		Grants:   gs,
		Guard:    guard.New(guard.DefaultRules(), logger),
		CSRF:     auth.NewCSRF([]byte("webadmin-test-secret-32-bytes-ok")),
		BaseURL:  "https://dash.example.com",
		Logger:   logger,
	})
	t.Cleanup(pages.Close)

	mux := http.NewServeMux()
	pages.RegisterRoutes(mux)
	creds := &session.Credentials{Sync: sy}

	return &pageFixture{store: s, sync: sy, console: svc, handler: creds.Middleware(mux)}
}

// browser keeps cookies between requests the way a user agent would.
type browser struct {
	t       *testing.T
	f       *pageFixture
	cookies map[string]string
}

func (f *pageFixture) browser(t *testing.T) *browser {
	return &browser{t: t, f: f, cookies: map[string]string{}}
}

func (b *browser) do(req *http.Request) *httptest.ResponseRecorder {
	b.t.Helper()
	for name, value := range b.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	rec := httptest.NewRecorder()
	b.f.handler.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 || c.Value == "" {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c.Value
	}
	return rec
}

func (b *browser) get(path string) *httptest.ResponseRecorder {
	b.t.Helper()
	return b.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (b *browser) post(path string, form url.Values) *httptest.ResponseRecorder {
	b.t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

// login signs in through the login form.
func (b *browser) login(email string) {
	b.t.Helper()
	b.get("/login")
	rec := b.post("/login", url.Values{
		"csrf_token": {b.cookies[LoginCSRFCookie]},
		"email":      {email},
		"password":   {pagePassword},
	})
	require.Equal(b.t, http.StatusSeeOther, rec.Code, rec.Body.String())
	require.NotEmpty(b.t, b.cookies[session.CookieName])
}

// sessionCSRF mints a form token for the browser's current session.
func (b *browser) sessionCSRF() string {
	return auth.NewCSRF([]byte("webadmin-test-secret-32-bytes-ok")).Token(b.cookies[session.CookieName])
}

func TestLoginPage(t *testing.T) {
	f := newPageFixture(t)
	b := f.browser(t)

	rec := b.get("/login?next=/dashboard/team")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), `name="csrf_token"`)
	assert.Contains(t, rec.Body.String(), `value="/dashboard/team"`)
	assert.NotEmpty(t, b.cookies[LoginCSRFCookie])
	assert.Contains(t, rec.Body.String(), "data-passkey-login")
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
		csrf     bool
		wantCode int
		wantText string
		wantLoc  string
	}{
		{"success", "alice@example.com", pagePassword, true, http.StatusSeeOther, "", "/dashboard/team"},
		{"wrong password", "alice@example.com", "not the password", true, http.StatusOK, "Invalid email or password", ""},
		{"unknown account", "nobody@example.com", pagePassword, true, http.StatusOK, "Invalid email or password", ""},
		{"missing csrf", "alice@example.com", pagePassword, false, http.StatusOK, "Invalid request", ""},
		{"missing fields", "", "", true, http.StatusOK, "Email and password required", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPageFixture(t)
			b := f.browser(t)
			b.get("/login")

			form := url.Values{"email": {tt.email}, "password": {tt.password}, "next": {"/dashboard/team"}}
			if tt.csrf {
				form.Set("csrf_token", b.cookies[LoginCSRFCookie])
			}
			rec := b.post("/login", form)

			require.Equal(t, tt.wantCode, rec.Code)
			if tt.wantLoc != "" {
				assert.Equal(t, tt.wantLoc, rec.Header().Get("Location"))
				assert.NotEmpty(t, b.cookies[session.CookieName])
			}
			if tt.wantText != "" {
				assert.Contains(t, rec.Body.String(), tt.wantText)
				assert.Empty(t, b.cookies[session.CookieName])
			}
		})
	}
}

func TestLogin_OffsiteNextIsIgnored(t *testing.T) {
	f := newPageFixture(t)
	b := f.browser(t)
	b.get("/login")

	rec := b.post("/login", url.Values{
		"csrf_token": {b.cookies[LoginCSRFCookie]},
		"email":      {"alice@example.com"},
		"password":   {pagePassword},
		"next":       {"//evil.example.com/"},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, guard.DashboardPath, rec.Header().Get("Location"))
}

func TestLogin_Suspended(t *testing.T) {
	f := newPageFixture(t)
	require.NoError(t, f.store.UpdateProfileStatus(context.Background(), "alice", store.ProfileSuspended))

	b := f.browser(t)
	b.get("/login")
	rec := b.post("/login", url.Values{
		"csrf_token": {b.cookies[LoginCSRFCookie]},
		"email":      {"alice@example.com"},
		"password":   {pagePassword},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "This account is suspended")
}

func TestLoginPage_SignedInRedirects(t *testing.T) {
	f := newPageFixture(t)
	b := f.browser(t)
	b.login("alice@example.com")

	rec := b.get("/login?next=/dashboard/keys")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/dashboard/keys", rec.Header().Get("Location"))
}

func TestGuard_RedirectsAnonymousToLogin(t *testing.T) {
	f := newPageFixture(t)
	b := f.browser(t)

	rec := b.get("/dashboard/team")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login?next=%2Fdashboard%2Fteam", rec.Header().Get("Location"))

	rec = b.get("/")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, guard.DashboardPath, rec.Header().Get("Location"))
}

func TestGuard_AdminPagesNeedAdmin(t *testing.T) {
	f := newPageFixture(t)

	alice := f.browser(t)
	alice.login("alice@example.com")
	rec := alice.get("/admin/users")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, guard.DashboardPath, rec.Header().Get("Location"))

	rec = alice.get("/dashboard")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), guard.AdminNotice)

	owner := f.browser(t)
	owner.login("owner@example.com")
	rec = owner.get("/admin")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Healthy")

	rec = owner.get("/admin/users")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alice@example.com")
}

func TestDashboard(t *testing.T) {
	f := newPageFixture(t)
	b := f.browser(t)
	b.login("alice@example.com")

	for _, section := range []string{"", "/instances", "/analytics", "/team", "/keys", "/plans"} {
		rec := b.get("/dashboard" + section)
		require.Equal(t, http.StatusOK, rec.Code, section)
		assert.Contains(t, rec.Body.String(), "Alice", section)
		assert.Contains(t, rec.Body.String(), `name="csrf-token"`, section)
		assert.NotContains(t, rec.Body.String(), `href="/admin"`, section)
	}

	rec := b.get("/dashboard/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogout(t *testing.T) {
	f := newPageFixture(t)
	b := f.browser(t)
	b.login("alice@example.com")
	sessionID := b.cookies[session.CookieName]

	rec := b.post("/logout", url.Values{"csrf_token": {b.sessionCSRF()}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, guard.LoginPath, rec.Header().Get("Location"))
	assert.Empty(t, b.cookies[session.CookieName])

	rec = b.get("/login")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "You have been signed out")

	// The old cookie no longer works.
	b.cookies[session.CookieName] = sessionID
	rec = b.get("/dashboard")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
}

func (f *pageFixture) invite(t *testing.T, email string) string {
	t.Helper()
	actor := session.AuthContextFor(f.sync.StateForUser(context.Background(), "owner"))
	require.NotNil(t, actor)
	inv, err := f.console.InviteMember(context.Background(), actor, console.InviteInput{Email: email, Role: "viewer"})
	require.NoError(t, err)
	return inv.Invite.ID
}

func TestInvite_SignUp(t *testing.T) {
	f := newPageFixture(t)
	token := f.invite(t, "new@example.com")
	b := f.browser(t)

	rec := b.get("/invite/" + token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "new@example.com")
	assert.Contains(t, rec.Body.String(), "Create account and join")

	rec = b.post("/invite/"+token, url.Values{
		"csrf_token":       {b.cookies[LoginCSRFCookie]},
		"password":         {"long enough pw"},
		"confirm_password": {"different pw!!"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Passwords do not match")

	rec = b.post("/invite/"+token, url.Values{
		"csrf_token":       {b.cookies[LoginCSRFCookie]},
		"password":         {"short"},
		"confirm_password": {"short"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, b.cookies[session.CookieName])

	rec = b.post("/invite/"+token, url.Values{
		"csrf_token":       {b.cookies[LoginCSRFCookie]},
		"display_name":     {"Newcomer"},
		"password":         {"long enough pw"},
		"confirm_password": {"long enough pw"},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	assert.Equal(t, guard.DashboardPath, rec.Header().Get("Location"))
	assert.NotEmpty(t, b.cookies[session.CookieName])

	profile, err := f.store.GetProfileByEmail(context.Background(), "new@example.com")
	require.NoError(t, err)
	assert.NoError(t, auth.CheckPassword(profile.PasswordHash, "long enough pw"))

	rec = b.get("/dashboard")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "You joined the team")

	rec = f.browser(t).get("/invite/" + token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "This invite has already been used")
}

func TestInvite_ExistingAccount(t *testing.T) {
	f := newPageFixture(t)
	token := f.invite(t, "alice@example.com")

	anon := f.browser(t)
	rec := anon.get("/invite/" + token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "to accept this invite")
	assert.NotContains(t, rec.Body.String(), "Create account and join")

	rec = anon.post("/invite/"+token, url.Values{
		"csrf_token":       {anon.cookies[LoginCSRFCookie]},
		"password":         {"long enough pw"},
		"confirm_password": {"long enough pw"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "An account already exists")

	alice := f.browser(t)
	alice.login("alice@example.com")
	rec = alice.get("/invite/" + token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Accept invite")

	rec = alice.post("/invite/"+token, url.Values{"csrf_token": {alice.sessionCSRF()}})
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	assert.Equal(t, guard.DashboardPath, rec.Header().Get("Location"))
}

func TestInvite_WrongAccount(t *testing.T) {
	f := newPageFixture(t)
	token := f.invite(t, "someone@example.com")

	alice := f.browser(t)
	alice.login("alice@example.com")

	rec := alice.get("/invite/" + token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "You are signed in as alice@example.com")

	rec = alice.post("/invite/"+token, url.Values{"csrf_token": {alice.sessionCSRF()}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "This invite was sent to a different address")
}

func TestInvite_Unknown(t *testing.T) {
	f := newPageFixture(t)

	rec := f.browser(t).get("/invite/does-not-exist")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid invite link")
}

func TestStaticAssets(t *testing.T) {
	f := newPageFixture(t)
	b := f.browser(t)

	rec := b.get("/static/app.js")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/session/events")

	rec = b.get("/static/app.css")
	assert.Equal(t, http.StatusOK, rec.Code)
}
