// ABOUTME: OAuth sign-in pages: redirect to the provider and handle its callback
// ABOUTME: State, PKCE verifier and the return path travel in a short-lived HttpOnly cookie

package webadmin

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/2389/agentdash/internal/auth"
	"github.com/2389/agentdash/internal/guard"
	"github.com/2389/agentdash/internal/session"
	"github.com/2389/agentdash/internal/store"
)

// OAuthCookie holds the in-flight authorization request.
const OAuthCookie = "agentdash_oauth"

// oauthFlowSeconds bounds how long the user may spend at the provider.
const oauthFlowSeconds = 600

type oauthFlow struct {
	state    string
	verifier string
	next     string
}

func (f oauthFlow) encode() string {
	return f.state + "." + f.verifier + "." + base64.RawURLEncoding.EncodeToString([]byte(f.next))
}

func decodeOAuthFlow(v string) (oauthFlow, bool) {
	parts := strings.Split(v, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return oauthFlow{}, false
	}
	next, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return oauthFlow{}, false
	}
	return oauthFlow{state: parts[0], verifier: parts[1], next: string(next)}, true
}

func setOAuthCookie(w http.ResponseWriter, r *http.Request, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     OAuthCookie,
		Value:    value,
		Path:     "/auth/oauth",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func (p *Pages) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	if p.oauth == nil {
		http.NotFound(w, r)
		return
	}

	state, err := auth.GenerateSecureToken(16)
	if err != nil {
		p.logger.Error("failed to generate oauth state", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	authURL, verifier := p.oauth.Begin(state)

	flow := oauthFlow{state: state, verifier: verifier, next: guard.SafeNext(r.URL.Query().Get("next"))}
	setOAuthCookie(w, r, flow.encode(), oauthFlowSeconds)
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (p *Pages) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if p.oauth == nil {
		http.NotFound(w, r)
		return
	}

	fail := func(msg string) {
		guard.SetFlash(w, r, msg)
		http.Redirect(w, r, guard.LoginPath, http.StatusSeeOther)
	}

	c, err := r.Cookie(OAuthCookie)
	if err != nil {
		fail("Your sign-in attempt expired, please try again")
		return
	}
	setOAuthCookie(w, r, "", -1)

	flow, ok := decodeOAuthFlow(c.Value)
	q := r.URL.Query()
	if !ok || subtle.ConstantTimeCompare([]byte(q.Get("state")), []byte(flow.state)) != 1 {
		p.logger.Warn("oauth callback with mismatched state")
		fail("Your sign-in attempt expired, please try again")
		return
	}
	if e := q.Get("error"); e != "" {
		p.logger.Info("oauth provider refused sign-in", "error", e)
		fail("Sign-in was cancelled")
		return
	}

	ident, err := p.oauth.Complete(r.Context(), q.Get("code"), flow.verifier)
	if err != nil {
		p.logger.Error("failed to complete oauth sign-in", "error", err)
		fail("Sign-in with " + p.oauth.Name() + " failed")
		return
	}

	sessIdent := session.Identity{
		Email:       ident.Email,
		DisplayName: ident.Name,
		AvatarURL:   ident.AvatarURL,
	}
	linked, err := p.store.GetOAuthIdentity(r.Context(), ident.Provider, ident.Subject)
	switch {
	case err == nil:
		sessIdent.UserID = linked.UserID
	case !errors.Is(err, store.ErrNotFound):
		p.logger.Error("failed to look up oauth identity", "error", err)
		fail("An error occurred")
		return
	case ident.Email == "":
		fail("Your " + p.oauth.Name() + " account has no email address")
		return
	}

	st, err := p.signIn(w, r, sessIdent)
	if err != nil {
		if errors.Is(err, session.ErrSuspended) {
			fail("This account is suspended")
			return
		}
		p.logger.Error("failed to sign in with oauth", "error", err)
		fail("An error occurred")
		return
	}

	if linked == nil {
		err := p.store.LinkOAuthIdentity(r.Context(), &store.OAuthIdentity{
			Provider: ident.Provider,
			Subject:  ident.Subject,
			UserID:   st.Profile.ID,
			Email:    ident.Email,
		})
		if err != nil {
			p.logger.Warn("failed to link oauth identity", "user_id", st.Profile.ID, "error", err)
		}
	}

	p.logger.Info("oauth login successful", "user_id", st.Profile.ID, "provider", ident.Provider)
	http.Redirect(w, r, guard.SafeNext(flow.next), http.StatusSeeOther)
}
