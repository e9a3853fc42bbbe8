// ABOUTME: Tests for credential resolution, the session middleware and claim issue
// ABOUTME: Claims identify the user only; admin rights come from stored state

package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agentdash/internal/auth"
	"github.com/2389/agentdash/internal/store"
)

var testSecret = []byte("session-test-secret-32-bytes-ok!")

type fakeKeys map[string]*store.APIKey

func (f fakeKeys) AuthenticateKey(_ context.Context, secret string) (*store.APIKey, error) {
	k, ok := f[secret]
	if !ok {
		return nil, store.ErrAPIKeyNotFound
	}
	return k, nil
}

type credFixture struct {
	store    *store.SQLiteStore
	sync     *Synchronizer
	verifier *auth.JWTVerifier
	creds    *Credentials
}

func newCredFixture(t *testing.T) *credFixture {
	t.Helper()
	s := setupTestStore(t)
	createProfile(t, s, "member", "member@example.com", store.RoleMember)
	createProfile(t, s, "admin", "admin@example.com", store.RoleAdmin)

	sy := newSync(s)
	t.Cleanup(sy.Close)

	v, err := auth.NewJWTVerifier(testSecret)
	require.NoError(t, err)

	keys := fakeKeys{
		"ad_admin_read":  {ID: "k1", UserID: "admin", Scopes: []string{auth.ScopeRead}},
		"ad_admin_full":  {ID: "k2", UserID: "admin", Scopes: []string{auth.ScopeRead, auth.ScopeAdmin}},
		"ad_member_full": {ID: "k3", UserID: "member", Scopes: []string{auth.ScopeRead, auth.ScopeAdmin}},
	}

	return &credFixture{
		store:    s,
		sync:     sy,
		verifier: v,
		creds:    &Credentials{Sync: sy, Claims: v, Keys: keys},
	}
}

// newSession stores a live session for userID and returns its ID.
func (f *credFixture) newSession(t *testing.T, userID string) string {
	t.Helper()
	now := time.Now().UTC()
	sess := &store.Session{ID: "sess-" + userID, UserID: userID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, f.store.CreateSession(context.Background(), sess))
	return sess.ID
}

func bearerRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/instances", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func (f *credFixture) serve(r *http.Request) (State, *auth.AuthContext) {
	var st State
	var ac *auth.AuthContext
	h := f.creds.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st = FromContext(r.Context())
		ac = auth.FromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), r)
	return st, ac
}

func TestMiddleware_Anonymous(t *testing.T) {
	f := newCredFixture(t)

	st, ac := f.serve(httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	assert.Equal(t, KindAnonymous, st.Kind)
	assert.Nil(t, ac)
}

func TestMiddleware_Cookie(t *testing.T) {
	f := newCredFixture(t)
	sess, _, err := f.sync.SignIn(context.Background(), Identity{UserID: "admin"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: sess.ID})

	st, ac := f.serve(req)
	require.True(t, st.Authenticated())
	require.NotNil(t, ac)
	assert.Equal(t, auth.MethodSession, ac.Method)
	assert.Equal(t, sess.ID, ac.SessionID)
	assert.True(t, ac.IsAdmin())
}

func TestMiddleware_ClaimRightsAreRederived(t *testing.T) {
	f := newCredFixture(t)

	// A claim that says admin for a member must not make them one.
	sid := f.newSession(t, "member")
	token, err := f.verifier.Issue(&auth.Claims{UserID: "member", SessionID: sid, Admin: true, Role: "owner"}, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	st, ac := f.serve(req)
	require.NotNil(t, ac)
	assert.Equal(t, auth.MethodClaim, ac.Method)
	assert.False(t, st.IsAdmin)
	assert.False(t, ac.IsAdmin())
	assert.Equal(t, "member", ac.Role)
	assert.Equal(t, sid, ac.SessionID)
}

func TestMiddleware_ClaimDiesWithSession(t *testing.T) {
	f := newCredFixture(t)
	ctx := context.Background()

	st := f.sync.Resolve(ctx, f.newSession(t, "member"))
	require.True(t, st.Authenticated())
	token, _, err := IssueClaim(f.verifier, st, 15*time.Minute)
	require.NoError(t, err)

	_, ac := f.serve(bearerRequest(token))
	require.NotNil(t, ac)

	require.NoError(t, f.sync.SignOut(ctx, st.SessionID))

	_, ac = f.serve(bearerRequest(token))
	assert.Nil(t, ac, "a claim must not outlive its session")
	_, _, err = f.creds.Resolve(bearerRequest(token))
	assert.ErrorIs(t, err, ErrSessionEnded)
}

func TestMiddleware_ClaimWithoutSessionRejected(t *testing.T) {
	f := newCredFixture(t)

	token, err := f.verifier.Issue(&auth.Claims{UserID: "member"}, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	_, _, err = f.creds.Resolve(req)
	assert.ErrorIs(t, err, ErrSessionEnded)
}

func TestMiddleware_ClaimForAnotherUsersSession(t *testing.T) {
	f := newCredFixture(t)

	token, err := f.verifier.Issue(&auth.Claims{UserID: "admin", SessionID: f.newSession(t, "member")}, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	_, ac, err := f.creds.Resolve(req)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
	assert.Nil(t, ac)
}

func TestMiddleware_InvalidClaimIsAnonymous(t *testing.T) {
	f := newCredFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")

	st, ac := f.serve(req)
	assert.Equal(t, KindAnonymous, st.Kind)
	assert.NotEmpty(t, st.Reason)
	assert.Nil(t, ac)
}

func TestMiddleware_APIKeyScopes(t *testing.T) {
	f := newCredFixture(t)

	tests := []struct {
		secret    string
		wantAdmin bool
	}{
		{"ad_admin_read", false},  // admin user, key lacks admin scope
		{"ad_admin_full", true},   // admin user, admin scope
		{"ad_member_full", false}, // admin scope cannot elevate a member
	}

	for _, tt := range tests {
		t.Run(tt.secret, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
			req.Header.Set("Authorization", "Bearer "+tt.secret)

			_, ac := f.serve(req)
			require.NotNil(t, ac)
			assert.Equal(t, auth.MethodAPIKey, ac.Method)
			assert.NotEmpty(t, ac.KeyID)
			assert.Equal(t, tt.wantAdmin, ac.IsAdmin())
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/api/plans", nil)
	req.Header.Set("Authorization", "Bearer ad_unknown")
	st, ac := f.serve(req)
	assert.Nil(t, ac)
	assert.Equal(t, KindAnonymous, st.Kind)
}

func TestMiddleware_SuspendedClaimRejected(t *testing.T) {
	f := newCredFixture(t)
	token, err := f.verifier.Issue(&auth.Claims{UserID: "member", SessionID: f.newSession(t, "member")}, time.Minute)
	require.NoError(t, err)

	require.NoError(t, f.store.UpdateProfileStatus(context.Background(), "member", store.ProfileSuspended))
	f.sync.InvalidateProfile("member")

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	_, ac := f.serve(req)
	assert.Nil(t, ac)
}

func TestAPIKeyAuthenticator_IgnoresOtherCredentials(t *testing.T) {
	f := newCredFixture(t)
	a := f.creds.APIKeyAuthenticator()

	token, err := f.verifier.Issue(&auth.Claims{UserID: "member"}, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/ingest/usage", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	ac, err := a.Authenticate(req)
	assert.NoError(t, err)
	assert.Nil(t, ac, "claim tokens are not accepted on key-only routes")

	req.Header.Set("Authorization", "Bearer ad_admin_read")
	ac, err = a.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "k1", ac.KeyID)
}

func TestIssueClaim(t *testing.T) {
	f := newCredFixture(t)

	_, _, err := IssueClaim(f.verifier, Anonymous(""), time.Minute)
	assert.ErrorIs(t, err, ErrNoSession)

	// API keys and claims resolve without a session of their own.
	_, _, err = IssueClaim(f.verifier, f.sync.StateForUser(context.Background(), "admin"), time.Minute)
	assert.ErrorIs(t, err, ErrNoSession)

	sid := f.newSession(t, "admin")
	st := f.sync.Resolve(context.Background(), sid)
	token, c, err := IssueClaim(f.verifier, st, 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, c.Admin)

	got, err := f.verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", got.UserID)
	assert.Equal(t, sid, got.SessionID)
	assert.True(t, got.Admin)
}

func TestIssueClaim_CappedByGrantExpiry(t *testing.T) {
	f := newCredFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, f.store.CreateAdminGrant(ctx, &store.AdminGrant{
		ID: "g1", UserID: "member", Email: "member@example.com", GrantedBy: "admin",
		Reason: "short elevation", CreatedAt: now, ExpiresAt: now.Add(2 * time.Minute),
	}))

	st := f.sync.Resolve(ctx, f.newSession(t, "member"))
	require.True(t, st.IsAdmin)

	_, c, err := IssueClaim(f.verifier, st, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "g1", c.GrantID)
	assert.WithinDuration(t, now.Add(2*time.Minute), c.ExpiresAt, 2*time.Second)
}

func TestCookies(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/session/login", nil)
	req.Header.Set("X-Forwarded-Proto", "https")

	SetCookie(rec, req, &store.Session{ID: "abc", ExpiresAt: time.Now().Add(time.Hour)})
	ClearCookie(rec, req)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 2)
	assert.Equal(t, "abc", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, -1, cookies[1].MaxAge)

	req.AddCookie(&http.Cookie{Name: CookieName, Value: "abc"})
	assert.Equal(t, "abc", CookieValue(req))
}
