// ABOUTME: HTTP glue for sessions: cookie handling, credential resolution and claims
// ABOUTME: Attaches the resolved State and AuthContext to every request

package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/2389/agentdash/internal/auth"
	"github.com/2389/agentdash/internal/store"
)

// CookieName is the session cookie.
const CookieName = "agentdash_session"

// ErrInactiveAccount is returned for a valid credential whose account can no
// longer sign in.
var ErrInactiveAccount = errors.New("account is not active")

// ErrSessionEnded is returned for a claim whose session was signed out or
// has expired.
var ErrSessionEnded = errors.New("claim session has ended")

// KeyResolver validates API key secrets.
type KeyResolver interface {
	AuthenticateKey(ctx context.Context, secret string) (*store.APIKey, error)
}

// SetCookie writes the session cookie for sess.
func SetCookie(w http.ResponseWriter, r *http.Request, sess *store.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   isSecure(r),
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie removes the session cookie.
func ClearCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   isSecure(r),
		SameSite: http.SameSiteLaxMode,
	})
}

// CookieValue returns the session ID carried by r, or "".
func CookieValue(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func isSecure(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// Credentials resolves the three credential kinds agentdash accepts: the
// session cookie, a Bearer claim token and a Bearer API key.
type Credentials struct {
	Sync   *Synchronizer
	Claims auth.TokenVerifier // nil disables claim tokens
	Keys   KeyResolver        // nil disables API keys
}

// Resolve returns the state for r and, when it is authenticated, the
// matching AuthContext. A Bearer header takes precedence over the cookie.
// An error means a credential was presented but is invalid.
func (c *Credentials) Resolve(r *http.Request) (State, *auth.AuthContext, error) {
	if token, ok := auth.BearerToken(r); ok {
		if strings.HasPrefix(token, auth.APIKeyPrefix) {
			return c.resolveKey(r.Context(), token)
		}
		return c.resolveClaim(r.Context(), token)
	}

	sessionID := CookieValue(r)
	if sessionID == "" {
		return Anonymous(""), nil, nil
	}
	st := c.Sync.Resolve(r.Context(), sessionID)
	if !st.Authenticated() {
		return st, nil, nil
	}
	return st, authContext(st, auth.MethodSession), nil
}

func (c *Credentials) resolveClaim(ctx context.Context, token string) (State, *auth.AuthContext, error) {
	if c.Claims == nil {
		return Anonymous("claim tokens disabled"), nil, auth.ErrInvalidToken
	}
	claims, err := c.Claims.Verify(token)
	if err != nil {
		return Anonymous(err.Error()), nil, err
	}

	if claims.SessionID == "" {
		return Anonymous("claim has no session"), nil, ErrSessionEnded
	}

	// The claim only names a session; rights are re-derived from it here.
	st := c.Sync.Resolve(ctx, claims.SessionID)
	switch {
	case st.Kind == KindLoading:
		return st, nil, nil
	case st.Kind == KindError:
		return st, nil, fmt.Errorf("resolving claim session: %s", st.Reason)
	case !st.Authenticated():
		return st, nil, ErrSessionEnded
	case st.Profile.ID != claims.UserID:
		return Anonymous("claim does not match session"), nil, auth.ErrInvalidToken
	}
	return st, authContext(st, auth.MethodClaim), nil
}

func (c *Credentials) resolveKey(ctx context.Context, secret string) (State, *auth.AuthContext, error) {
	if c.Keys == nil {
		return Anonymous("api keys disabled"), nil, auth.ErrInvalidToken
	}
	key, err := c.Keys.AuthenticateKey(ctx, secret)
	if err != nil {
		return Anonymous("invalid api key"), nil, err
	}

	st := c.Sync.StateForUser(ctx, key.UserID)
	switch {
	case st.Kind == KindLoading:
		return st, nil, nil
	case !st.Authenticated():
		return st, nil, ErrInactiveAccount
	}

	ac := authContext(st, auth.MethodAPIKey)
	ac.KeyID = key.ID
	ac.Scopes = append([]string{}, key.Scopes...)
	return st, ac, nil
}

// AuthContextFor returns the AuthContext a cookie-authenticated request in
// state st carries, or nil when st is not authenticated.
func AuthContextFor(st State) *auth.AuthContext {
	if !st.Authenticated() {
		return nil
	}
	return authContext(st, auth.MethodSession)
}

func authContext(st State, m auth.Method) *auth.AuthContext {
	ac := &auth.AuthContext{
		UserID:    st.Profile.ID,
		Email:     st.Profile.Email,
		Role:      string(st.Profile.Role),
		Admin:     st.IsAdmin,
		Method:    m,
		SessionID: st.SessionID,
	}
	if st.Grant != nil {
		ac.GrantID = st.Grant.ID
	}
	return ac
}

// Middleware attaches the resolved State (and AuthContext when authenticated)
// to every request. It never rejects; access decisions belong to the guard.
func (c *Credentials) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, ac, err := c.Resolve(r)
		if err != nil {
			c.Sync.logger.Debug("rejected credential", "path", r.URL.Path, "error", err)
			st = Anonymous(err.Error())
			ac = nil
		}
		ctx := WithState(r.Context(), st)
		if ac != nil {
			ctx = auth.WithAuth(ctx, ac)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// APIKeyAuthenticator accepts only API keys, for machine-to-machine routes.
func (c *Credentials) APIKeyAuthenticator() auth.Authenticator {
	return auth.AuthenticatorFunc(func(r *http.Request) (*auth.AuthContext, error) {
		token, ok := auth.BearerToken(r)
		if !ok || !strings.HasPrefix(token, auth.APIKeyPrefix) {
			return nil, nil
		}
		_, ac, err := c.resolveKey(r.Context(), token)
		if err == nil && ac == nil {
			return nil, errors.New("account is still loading, retry shortly")
		}
		return ac, err
	})
}

// Authenticator accepts any credential kind.
func (c *Credentials) Authenticator() auth.Authenticator {
	return auth.AuthenticatorFunc(func(r *http.Request) (*auth.AuthContext, error) {
		_, ac, err := c.Resolve(r)
		return ac, err
	})
}

// IssueClaim signs a claim token describing st. The browser may read it to
// decide what to render; every request re-derives rights regardless. Only
// session-backed states get a claim, and the claim dies with the session.
func IssueClaim(v *auth.JWTVerifier, st State, ttl time.Duration) (string, *auth.Claims, error) {
	if !st.Authenticated() || st.SessionID == "" {
		return "", nil, fmt.Errorf("issuing claim: %w", ErrNoSession)
	}
	c := &auth.Claims{
		UserID:    st.Profile.ID,
		Email:     st.Profile.Email,
		Role:      string(st.Profile.Role),
		Admin:     st.IsAdmin,
		SessionID: st.SessionID,
	}
	if st.Grant != nil {
		c.GrantID = st.Grant.ID
		// A grant-derived claim never outlives the grant.
		if remaining := time.Until(st.Grant.ExpiresAt); remaining < ttl {
			ttl = remaining
		}
	}
	if !st.ExpiresAt.IsZero() {
		if remaining := time.Until(st.ExpiresAt); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl <= 0 {
		return "", nil, fmt.Errorf("issuing claim: %w", ErrNoSession)
	}

	token, err := v.Issue(c, ttl)
	if err != nil {
		return "", nil, fmt.Errorf("issuing claim: %w", err)
	}
	return token, c, nil
}
