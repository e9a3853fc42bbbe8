// ABOUTME: Server-rendered dashboard pages for agentdash
// ABOUTME: Provides login, invite acceptance, dashboard and admin pages behind the route guard

package webadmin

import (
	"context"
	"crypto/subtle"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/2389/agentdash/internal/auth"
	"github.com/2389/agentdash/internal/console"
	"github.com/2389/agentdash/internal/grants"
	"github.com/2389/agentdash/internal/guard"
	"github.com/2389/agentdash/internal/session"
	"github.com/2389/agentdash/internal/store"
)

// LoginCSRFCookie carries the double-submit token for forms shown before a
// session exists (login and invite sign-up).
const LoginCSRFCookie = "agentdash_login_csrf"

// Store is the persistence the pages need beyond the services.
type Store interface {
	GetProfile(ctx context.Context, id string) (*store.Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (*store.Profile, error)
	UpdateProfilePassword(ctx context.Context, id, passwordHash string) error

	CreateWebAuthnCredential(ctx context.Context, cred *store.WebAuthnCredential) error
	GetWebAuthnCredentialsByUser(ctx context.Context, userID string) ([]*store.WebAuthnCredential, error)
	GetWebAuthnCredentialByCredentialID(ctx context.Context, credentialID []byte) (*store.WebAuthnCredential, error)
	UpdateWebAuthnCredentialSignCount(ctx context.Context, id string, signCount uint32) error

	GetOAuthIdentity(ctx context.Context, provider, subject string) (*store.OAuthIdentity, error)
	LinkOAuthIdentity(ctx context.Context, ident *store.OAuthIdentity) error
}

// Config wires the pages to the rest of the server.
type Config struct {
	Store    Store
	Sessions *session.Synchronizer
	Console  *console.Service
	Grants   *grants.Service
	Guard    *guard.Guard
	CSRF     *auth.CSRF
	OAuth    *auth.OAuthProvider // nil disables OAuth sign-in

	// BaseURL is the external URL, used as the passkey relying party.
	BaseURL string
	Logger  *slog.Logger
}

// Pages serves the HTML side of the dashboard.
type Pages struct {
	store    Store
	sessions *session.Synchronizer
	console  *console.Service
	grants   *grants.Service
	guard    *guard.Guard
	csrf     *auth.CSRF
	oauth    *auth.OAuthProvider
	config   Config
	logger   *slog.Logger

	webauthn         *webauthn.WebAuthn
	webauthnSessions *webAuthnSessionStore
}

// New creates the page handlers.
func New(cfg Config) *Pages {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pages{
		store:    cfg.Store,
		sessions: cfg.Sessions,
		console:  cfg.Console,
		grants:   cfg.Grants,
		guard:    cfg.Guard,
		csrf:     cfg.CSRF,
		oauth:    cfg.OAuth,
		config:   cfg,
		logger:   logger.With("component", "webadmin"),
	}

	// Passkeys are optional; a bad relying-party config only disables them.
	if err := p.initWebAuthn(); err != nil {
		p.logger.Warn("failed to initialize WebAuthn, passkey login disabled", "error", err)
	}
	return p
}

// Close stops background work.
func (p *Pages) Close() {
	if p.webauthnSessions != nil {
		p.webauthnSessions.Close()
	}
}

// RegisterRoutes registers the pages on mux. Every route goes through the
// guard, which expects session.Credentials.Middleware further out.
func (p *Pages) RegisterRoutes(mux *http.ServeMux) {
	static, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))

	mux.Handle("GET /{$}", p.page(p.handleRoot))
	mux.Handle("GET /login", p.page(p.handleLoginPage))
	mux.Handle("POST /login", p.page(p.handleLogin))
	mux.Handle("POST /logout", p.page(p.handleLogout))
	mux.Handle("GET /invite/{token}", p.page(p.handleInvitePage))
	mux.Handle("POST /invite/{token}", p.page(p.handleInviteAccept))

	mux.Handle("GET /dashboard", p.page(p.handleDashboard))
	mux.Handle("GET /dashboard/{section}", p.page(p.handleDashboard))
	mux.Handle("GET /admin", p.page(p.handleAdmin))
	mux.Handle("GET /admin/{section}", p.page(p.handleAdmin))

	// Passkeys
	mux.Handle("POST /dashboard/passkeys/begin", p.page(p.handleWebAuthnRegisterBegin))
	mux.Handle("POST /dashboard/passkeys/finish", p.page(p.handleWebAuthnRegisterFinish))
	mux.Handle("POST /auth/passkey/begin", p.page(p.handleWebAuthnLoginBegin))
	mux.Handle("POST /auth/passkey/finish", p.page(p.handleWebAuthnLoginFinish))

	// OAuth
	mux.Handle("GET /auth/oauth/start", p.page(p.handleOAuthStart))
	mux.Handle("GET /auth/oauth/callback", p.page(p.handleOAuthCallback))

	p.logger.Info("page routes registered")
}

func (p *Pages) page(h http.HandlerFunc) http.Handler {
	return p.guard.Middleware(h)
}

func (p *Pages) handleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, guard.DashboardPath, http.StatusSeeOther)
}

// ensureLoginCSRF returns the double-submit token for pre-session forms,
// setting the cookie when it is missing.
func (p *Pages) ensureLoginCSRF(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(LoginCSRFCookie); err == nil && c.Value != "" {
		return c.Value
	}

	token, err := auth.GenerateSecureToken(32)
	if err != nil {
		p.logger.Error("failed to generate CSRF token", "error", err)
		return ""
	}
	http.SetCookie(w, &http.Cookie{
		Name:     LoginCSRFCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
	return token
}

// validLoginCSRF checks the form token against the cookie.
func validLoginCSRF(r *http.Request) bool {
	c, err := r.Cookie(LoginCSRFCookie)
	if err != nil || c.Value == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(r.FormValue(auth.CSRFFormField)), []byte(c.Value)) == 1
}

// validSessionCSRF checks a form or header token minted for the caller's session.
func (p *Pages) validSessionCSRF(r *http.Request, st session.State) bool {
	return st.SessionID != "" && p.csrf.ValidRequest(r, st.SessionID)
}

// signIn starts a session for ident and sets the cookie.
func (p *Pages) signIn(w http.ResponseWriter, r *http.Request, ident session.Identity) (session.State, error) {
	ident.UserAgent = r.UserAgent()
	sess, st, err := p.sessions.SignIn(r.Context(), ident)
	if err != nil {
		return st, err
	}
	session.SetCookie(w, r, sess)
	return st, nil
}

func (p *Pages) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	next := r.URL.Query().Get("next")
	if st := session.FromContext(r.Context()); st.Authenticated() {
		http.Redirect(w, r, guard.SafeNext(next), http.StatusSeeOther)
		return
	}
	p.renderLogin(w, r, next, "")
}

func (p *Pages) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		p.renderLogin(w, r, "", "Invalid form data")
		return
	}
	next := r.FormValue("next")

	if !validLoginCSRF(r) {
		p.renderLogin(w, r, next, "Invalid request, please try again")
		return
	}

	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")
	if email == "" || password == "" {
		p.renderLogin(w, r, next, "Email and password required")
		return
	}

	profile, err := p.store.GetProfileByEmail(r.Context(), email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		p.logger.Error("failed to look up profile", "error", err)
		p.renderLogin(w, r, next, "An error occurred")
		return
	}
	hash := ""
	if profile != nil {
		hash = profile.PasswordHash
	}
	// Unknown accounts still pay for a bcrypt compare.
	if err := auth.CheckPassword(hash, password); err != nil || profile == nil {
		p.renderLogin(w, r, next, "Invalid email or password")
		return
	}

	if _, err := p.signIn(w, r, session.Identity{UserID: profile.ID, Email: profile.Email}); err != nil {
		if errors.Is(err, session.ErrSuspended) {
			p.renderLogin(w, r, next, "This account is suspended")
			return
		}
		p.logger.Error("failed to sign in", "error", err)
		p.renderLogin(w, r, next, "An error occurred")
		return
	}

	p.logger.Info("password login successful", "user_id", profile.ID)
	http.Redirect(w, r, guard.SafeNext(next), http.StatusSeeOther)
}

func (p *Pages) handleLogout(w http.ResponseWriter, r *http.Request) {
	st := session.FromContext(r.Context())
	if err := r.ParseForm(); err == nil && !p.validSessionCSRF(r, st) {
		// Signing out is never refused.
		p.logger.Warn("logout request with invalid CSRF token")
	}

	if err := p.sessions.SignOut(r.Context(), session.CookieValue(r)); err != nil {
		p.logger.Error("failed to sign out", "error", err)
	}
	session.ClearCookie(w, r)
	guard.SetFlash(w, r, "You have been signed out")
	http.Redirect(w, r, guard.LoginPath, http.StatusSeeOther)
}

// inviteError turns an invite lookup failure into a message for the page.
func (p *Pages) inviteError(err error) string {
	switch {
	case errors.Is(err, store.ErrInviteUsed):
		return "This invite has already been used"
	case errors.Is(err, store.ErrInviteExpired):
		return "This invite has expired"
	case errors.Is(err, store.ErrNotFound):
		return "Invalid invite link"
	}
	p.logger.Error("failed to look up invite", "error", err)
	return "An error occurred"
}

func (p *Pages) handleInvitePage(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	inv, err := p.console.LookupInvite(r.Context(), token)
	if err != nil {
		p.renderInvite(w, r, inviteData{Token: token, Error: p.inviteError(err)})
		return
	}
	p.renderInvite(w, r, p.inviteView(r, inv))
}

// inviteView decides which form the invite page shows.
func (p *Pages) inviteView(r *http.Request, inv *store.Invite) inviteData {
	data := inviteData{
		Token:    inv.ID,
		Email:    inv.Email,
		Role:     inv.Role,
		LoginURL: guard.LoginURL("/invite/" + inv.ID),
	}
	if st := session.FromContext(r.Context()); st.Authenticated() {
		data.SignedIn = true
		data.SignedInAs = st.Profile.Email
		data.EmailMatches = st.Profile.Email == inv.Email
		return data
	}

	existing, err := p.store.GetProfileByEmail(r.Context(), inv.Email)
	data.HasAccount = err == nil && existing.PasswordHash != ""
	return data
}

// handleInviteAccept accepts for a signed-in user, or creates the account
// (with a password) for a visitor and then accepts.
func (p *Pages) handleInviteAccept(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if err := r.ParseForm(); err != nil {
		p.renderInvite(w, r, inviteData{Token: token, Error: "Invalid form data"})
		return
	}

	inv, err := p.console.LookupInvite(r.Context(), token)
	if err != nil {
		p.renderInvite(w, r, inviteData{Token: token, Error: p.inviteError(err)})
		return
	}

	st := session.FromContext(r.Context())
	if st.Authenticated() {
		if !p.validSessionCSRF(r, st) {
			data := p.inviteView(r, inv)
			data.Error = "Invalid request, please try again"
			p.renderInvite(w, r, data)
			return
		}
		p.acceptInvite(w, r, inv, session.AuthContextFor(st))
		return
	}

	fail := func(msg string) {
		data := p.inviteView(r, inv)
		data.Error = msg
		p.renderInvite(w, r, data)
	}

	if !validLoginCSRF(r) {
		fail("Invalid request, please try again")
		return
	}

	if existing, err := p.store.GetProfileByEmail(r.Context(), inv.Email); err == nil && existing.PasswordHash != "" {
		fail("An account already exists for this address. Sign in to accept.")
		return
	}

	password := r.FormValue("password")
	if password != r.FormValue("confirm_password") {
		fail("Passwords do not match")
		return
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooShort) {
			fail(err.Error())
			return
		}
		p.logger.Error("failed to hash password", "error", err)
		fail("An error occurred")
		return
	}

	newState, err := p.signIn(w, r, session.Identity{
		Email:       inv.Email,
		DisplayName: strings.TrimSpace(r.FormValue("display_name")),
	})
	if err != nil {
		if errors.Is(err, session.ErrSuspended) {
			fail("This account is suspended")
			return
		}
		p.logger.Error("failed to create account from invite", "error", err)
		fail("An error occurred")
		return
	}
	if err := p.store.UpdateProfilePassword(r.Context(), newState.Profile.ID, hash); err != nil {
		p.logger.Error("failed to set password", "user_id", newState.Profile.ID, "error", err)
	}
	p.sessions.InvalidateProfile(newState.Profile.ID)

	p.logger.Info("account created from invite", "user_id", newState.Profile.ID)
	p.acceptInvite(w, r, inv, session.AuthContextFor(newState))
}

func (p *Pages) acceptInvite(w http.ResponseWriter, r *http.Request, inv *store.Invite, ac *auth.AuthContext) {
	if _, err := p.console.AcceptInvite(r.Context(), ac, inv.ID); err != nil {
		data := p.inviteView(r, inv)
		switch {
		case errors.Is(err, console.ErrForbidden):
			data.Error = "This invite was sent to a different address"
		default:
			data.Error = p.inviteError(err)
		}
		p.renderInvite(w, r, data)
		return
	}
	guard.SetFlash(w, r, "You joined the team")
	http.Redirect(w, r, guard.DashboardPath, http.StatusSeeOther)
}

// Dashboard sections and the admin sections.
var (
	dashboardSections = []string{"", "instances", "analytics", "team", "keys", "plans"}
	adminSections     = []string{"", "users", "grants", "audit"}
)

func knownSection(sections []string, s string) bool {
	for _, v := range sections {
		if v == s {
			return true
		}
	}
	return false
}

func (p *Pages) handleDashboard(w http.ResponseWriter, r *http.Request) {
	section := r.PathValue("section")
	if !knownSection(dashboardSections, section) {
		http.NotFound(w, r)
		return
	}

	st := session.FromContext(r.Context())
	ac := auth.FromContext(r.Context())
	ctx := r.Context()

	data := dashboardData{
		pageData:   p.pageData(w, r, st, "Dashboard"),
		Section:    section,
		BreakGlass: p.grants != nil && p.grants.BreakGlassEnabled(st.Profile.ID),
	}

	var err error
	switch section {
	case "", "instances":
		data.Instances, err = p.console.ListInstances(ctx, ac)
		if err == nil && section == "" {
			data.Summary, err = p.console.Summary(ctx, ac, console.SummaryRequest{})
		}
	case "analytics":
		data.Summary, err = p.console.Summary(ctx, ac, console.SummaryRequest{})
	case "team":
		data.Team, err = p.console.ListTeam(ctx, ac)
	case "keys":
		data.Keys, err = p.console.ListAPIKeys(ctx, ac)
	case "plans":
		data.Plans, err = p.console.ListPlans(ctx, ac, false)
	}
	if err != nil {
		p.logger.Error("failed to load dashboard", "section", section, "user_id", st.Profile.ID, "error", err)
		data.Error = "Some of this page could not be loaded"
	}

	p.render(w, "dashboard.html", data)
}

func (p *Pages) handleAdmin(w http.ResponseWriter, r *http.Request) {
	section := r.PathValue("section")
	if !knownSection(adminSections, section) {
		http.NotFound(w, r)
		return
	}

	st := session.FromContext(r.Context())
	ac := auth.FromContext(r.Context())
	ctx := r.Context()

	data := adminData{
		pageData: p.pageData(w, r, st, "Admin"),
		Section:  section,
	}

	var err error
	switch section {
	case "":
		data.Diagnostics, err = p.console.Diagnostics(ctx, ac)
		if err == nil {
			data.Grants, err = p.grants.List(ctx, store.GrantFilter{ActiveOnly: true})
		}
	case "users":
		data.Users, err = p.console.ListUsers(ctx, ac, store.ProfileFilter{Query: r.URL.Query().Get("q"), Limit: 100})
	case "grants":
		data.Grants, err = p.grants.List(ctx, store.GrantFilter{Limit: 100})
	case "audit":
		data.Audit, err = p.console.AuditLog(ctx, ac, store.AuditFilter{Limit: 100})
	}
	if err != nil {
		p.logger.Error("failed to load admin page", "section", section, "user_id", st.Profile.ID, "error", err)
		data.Error = "Some of this page could not be loaded"
	}

	p.render(w, "admin.html", data)
}

// pageData fills the fields every signed-in page shares.
func (p *Pages) pageData(w http.ResponseWriter, r *http.Request, st session.State, title string) pageData {
	d := pageData{
		Title:   title,
		Profile: st.Profile,
		IsAdmin: st.IsAdmin,
		Grant:   st.Grant,
		Flash:   guard.TakeFlash(w, r),
		Now:     time.Now(),
	}
	if st.SessionID != "" {
		d.CSRFToken = p.csrf.Token(st.SessionID)
	}
	return d
}
