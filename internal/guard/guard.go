// ABOUTME: Route guard deciding which pages and API routes a session may reach
// ABOUTME: Longest-prefix rules; no decision is made while the session is still loading

package guard

import (
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/2389/agentdash/internal/session"
)

// Access is the level a path requires.
type Access string

const (
	Public        Access = "public"
	Authenticated Access = "authenticated"
	Admin         Access = "admin"
)

// Action is what the guard wants done with a request.
type Action string

const (
	ActionAllow             Action = "allow"
	ActionRedirectLogin     Action = "redirect_login"
	ActionRedirectDashboard Action = "redirect_dashboard"
	ActionPending           Action = "pending"
)

// Entry pages and the notice shown when admin access is refused.
const (
	LoginPath     = "/login"
	DashboardPath = "/dashboard"
	AdminNotice   = "You need administrator access to view that page"
	ErrorNotice   = "We couldn't load your account. Please sign in again."
)

// Rule assigns an access level to every path under Prefix.
type Rule struct {
	Prefix string
	Access Access
}

// Decision is the outcome for one request.
type Decision struct {
	Action   Action `json:"action"`
	Location string `json:"location,omitempty"`
	Notice   string `json:"notice,omitempty"`
}

// DefaultRules guard the pages and API routes agentdash serves.
func DefaultRules() []Rule {
	return []Rule{
		{Prefix: "/login", Access: Public},
		{Prefix: "/logout", Access: Public},
		{Prefix: "/invite/", Access: Public},
		{Prefix: "/auth/", Access: Public},
		{Prefix: "/static/", Access: Public},
		{Prefix: "/healthz", Access: Public},
		{Prefix: "/dashboard", Access: Authenticated},
		{Prefix: "/admin", Access: Admin},
		{Prefix: "/api/session", Access: Public},
		{Prefix: "/api/session/events", Access: Authenticated},
		{Prefix: "/api/admin", Access: Admin},
	}
}

// Guard matches paths against rules and decides what a session may do.
type Guard struct {
	rules    []Rule
	fallback Access
	logger   *slog.Logger
}

// New creates a guard. Paths matching no rule require authentication.
func New(rules []Rule, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	return &Guard{
		rules:    sorted,
		fallback: Authenticated,
		logger:   logger.With("component", "guard"),
	}
}

// AccessFor returns the level required for path. A prefix matches whole
// path segments, so "/admin" covers "/admin/users" but not "/administrator".
func (g *Guard) AccessFor(path string) Access {
	path, _, _ = strings.Cut(path, "?")
	for _, r := range g.rules {
		if matches(r.Prefix, path) {
			return r.Access
		}
	}
	return g.fallback
}

func matches(prefix, path string) bool {
	base := strings.TrimSuffix(prefix, "/")
	if base == "" {
		return true
	}
	return path == base || strings.HasPrefix(path, base+"/")
}

// Decide returns what to do with a request for target (a path, optionally
// with a query) made by a session in state st.
func (g *Guard) Decide(target string, st session.State) Decision {
	access := g.AccessFor(target)
	if access == Public {
		return Decision{Action: ActionAllow}
	}

	switch st.Kind {
	case session.KindLoading:
		return Decision{Action: ActionPending}
	case session.KindError:
		return Decision{Action: ActionRedirectLogin, Location: LoginURL(target), Notice: ErrorNotice}
	case session.KindAuthenticated:
	default:
		return Decision{Action: ActionRedirectLogin, Location: LoginURL(target)}
	}

	if access == Admin && !st.IsAdmin {
		return Decision{Action: ActionRedirectDashboard, Location: DashboardPath, Notice: AdminNotice}
	}
	return Decision{Action: ActionAllow}
}

// LoginURL returns the login page that sends the user back to target.
func LoginURL(target string) string {
	if !IsLocal(target) || target == "/" {
		return LoginPath
	}
	return LoginPath + "?next=" + url.QueryEscape(target)
}

// IsLocal reports whether target is a path on this site, safe to redirect to.
func IsLocal(target string) bool {
	if target == "" || target[0] != '/' {
		return false
	}
	if strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return false
	}
	return !strings.ContainsAny(target, "\r\n")
}

// SafeNext returns next when it is local, otherwise the dashboard.
func SafeNext(next string) string {
	if IsLocal(next) && !strings.HasPrefix(next, LoginPath) {
		return next
	}
	return DashboardPath
}
