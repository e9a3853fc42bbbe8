// ABOUTME: HTTP middleware applying guard decisions to pages and API routes
// ABOUTME: Pages redirect with a one-shot flash notice; API routes answer with JSON status codes

package guard

import (
	"encoding/base64"
	"html/template"
	"net/http"

	"github.com/2389/agentdash/internal/auth"
	"github.com/2389/agentdash/internal/session"
)

// FlashCookie carries a one-shot notice across a redirect.
const FlashCookie = "agentdash_flash"

// retryAfter is how long, in seconds, a client should wait for a loading session.
const retryAfter = "1"

var pendingPage = template.Must(template.New("pending").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="1">
<title>Loading</title>
</head>
<body><p>Loading your account&hellip;</p></body>
</html>
`))

// Middleware guards HTML pages. It expects session.Credentials.Middleware to
// have attached the session state.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := session.FromContext(r.Context())
		d := g.Decide(r.URL.RequestURI(), st)

		switch d.Action {
		case ActionAllow:
			next.ServeHTTP(w, r)
		case ActionPending:
			w.Header().Set("Retry-After", retryAfter)
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = pendingPage.Execute(w, nil)
		default:
			if d.Notice != "" {
				SetFlash(w, r, d.Notice)
			}
			g.logger.Debug("redirecting",
				"path", r.URL.Path,
				"action", d.Action,
				"state", st.Kind)
			http.Redirect(w, r, d.Location, http.StatusSeeOther)
		}
	})
}

// APIMiddleware guards JSON routes: 401 when signed out, 403 when admin
// access is missing and 503 with Retry-After while the session loads.
// Admin routes also require the AuthContext to carry admin rights, so an API
// key without the admin scope is refused.
func (g *Guard) APIMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := session.FromContext(r.Context())
		d := g.Decide(r.URL.Path, st)

		switch d.Action {
		case ActionPending:
			w.Header().Set("Retry-After", retryAfter)
			auth.WriteError(w, http.StatusServiceUnavailable, "session is loading, retry shortly")
			return
		case ActionRedirectLogin:
			auth.WriteError(w, http.StatusUnauthorized, "not authenticated")
			return
		case ActionRedirectDashboard:
			auth.WriteError(w, http.StatusForbidden, d.Notice)
			return
		}

		if g.AccessFor(r.URL.Path) == Admin {
			if ac := auth.FromContext(r.Context()); ac == nil || !ac.IsAdmin() {
				auth.WriteError(w, http.StatusForbidden, AdminNotice)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// SetFlash stores a notice to show on the next page.
func SetFlash(w http.ResponseWriter, r *http.Request, msg string) {
	http.SetCookie(w, &http.Cookie{
		Name:     FlashCookie,
		Value:    base64.RawURLEncoding.EncodeToString([]byte(msg)),
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

// TakeFlash returns the pending notice, if any, and clears it.
func TakeFlash(w http.ResponseWriter, r *http.Request) string {
	c, err := r.Cookie(FlashCookie)
	if err != nil || c.Value == "" {
		return ""
	}
	http.SetCookie(w, &http.Cookie{
		Name:     FlashCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	msg, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return ""
	}
	return string(msg)
}
