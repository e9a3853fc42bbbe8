// ABOUTME: Template rendering functions for the dashboard pages
// ABOUTME: Loads templates from the embedded filesystem and renders them

package webadmin

import (
	"html/template"
	"net/http"
	"time"

	"github.com/2389/agentdash/internal/console"
	"github.com/2389/agentdash/internal/guard"
	"github.com/2389/agentdash/internal/session"
	"github.com/2389/agentdash/internal/store"
)

var funcs = template.FuncMap{
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Local().Format("2006-01-02 15:04")
	},
}

// Template data types
type loginData struct {
	Title     string
	Error     string
	Flash     string
	Next      string
	CSRFToken string
	OAuthName string
	Passkeys  bool
}

type inviteData struct {
	Title        string
	Token        string
	Email        string
	Role         string
	Error        string
	CSRFToken    string
	LoginURL     string
	SignedIn     bool
	SignedInAs   string
	EmailMatches bool
	HasAccount   bool
}

// pageData is shared by every signed-in page.
type pageData struct {
	Title     string
	Profile   *store.Profile
	IsAdmin   bool
	Grant     *store.AdminGrant
	Flash     string
	Error     string
	CSRFToken string
	Now       time.Time
}

type dashboardData struct {
	pageData
	Section    string
	BreakGlass bool
	Instances  []*store.Instance
	Summary    *store.AnalyticsSummary
	Team       []*store.TeamMember
	Keys       []*store.APIKey
	Plans      []*store.Plan
}

type adminData struct {
	pageData
	Section     string
	Diagnostics *console.Diagnostics
	Users       []*store.Profile
	Grants      []*store.AdminGrant
	Audit       []store.AuditEntry
}

// render executes base.html with the named page template.
func (p *Pages) render(w http.ResponseWriter, page string, data any) {
	tmpl, err := template.New("base.html").Funcs(funcs).ParseFS(templateFS, "templates/base.html", "templates/"+page)
	if err != nil {
		p.logger.Error("failed to parse template", "page", page, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		p.logger.Error("failed to render page", "page", page, "error", err)
	}
}

// renderLogin renders the login page
func (p *Pages) renderLogin(w http.ResponseWriter, r *http.Request, next, errorMsg string) {
	data := loginData{
		Title:     "Sign in",
		Error:     errorMsg,
		Flash:     guard.TakeFlash(w, r),
		Next:      next,
		CSRFToken: p.ensureLoginCSRF(w, r),
		Passkeys:  p.webauthn != nil,
	}
	if p.oauth != nil {
		data.OAuthName = p.oauth.Name()
	}
	p.render(w, "login.html", data)
}

// renderInvite renders the invite page. Signed-in visitors get a token bound
// to their session, everyone else the double-submit token.
func (p *Pages) renderInvite(w http.ResponseWriter, r *http.Request, data inviteData) {
	data.Title = "Join team"
	if st := session.FromContext(r.Context()); st.Authenticated() {
		data.CSRFToken = p.csrf.Token(st.SessionID)
	} else {
		data.CSRFToken = p.ensureLoginCSRF(w, r)
	}
	p.render(w, "invite.html", data)
}
