// ABOUTME: Tests for the passkey ceremonies and their helpers
// ABOUTME: Covers session store, relying-party derivation, request parsing, and handler edge cases

package webadmin

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/2389/agentdash/internal/auth"
	"github.com/2389/agentdash/internal/session"
	"github.com/2389/agentdash/internal/store"
)

// ============================================================================
// deriveWebAuthnConfig tests
// ============================================================================

func TestDeriveWebAuthnConfig_EmptyURL(t *testing.T) {
	rpID, rpOrigins := deriveWebAuthnConfig("")

	if rpID != "localhost" {
		t.Errorf("rpID = %q, want %q", rpID, "localhost")
	}
	if len(rpOrigins) != 2 {
		t.Errorf("rpOrigins length = %d, want 2", len(rpOrigins))
	}
}

func TestDeriveWebAuthnConfig_InvalidURL(t *testing.T) {
	rpID, rpOrigins := deriveWebAuthnConfig("not-a-valid-url")

	if rpID != "localhost" {
		t.Errorf("rpID = %q, want %q for invalid URL", rpID, "localhost")
	}
	if len(rpOrigins) != 2 {
		t.Errorf("rpOrigins length = %d, want 2 for invalid URL", len(rpOrigins))
	}
}

func TestDeriveWebAuthnConfig_ValidHTTPS(t *testing.T) {
	rpID, rpOrigins := deriveWebAuthnConfig("https://dash.example.com")

	if rpID != "dash.example.com" {
		t.Errorf("rpID = %q, want %q", rpID, "dash.example.com")
	}
	if len(rpOrigins) != 1 || rpOrigins[0] != "https://dash.example.com" {
		t.Errorf("rpOrigins = %v, want [https://dash.example.com]", rpOrigins)
	}
}

func TestDeriveWebAuthnConfig_OnlyConfiguredScheme(t *testing.T) {
	_, rpOrigins := deriveWebAuthnConfig("https://dash.example.com")

	for _, o := range rpOrigins {
		if strings.HasPrefix(o, "http://") {
			t.Errorf("unexpected plain-http origin %q", o)
		}
	}
}

func TestDeriveWebAuthnConfig_WithPort(t *testing.T) {
	rpID, rpOrigins := deriveWebAuthnConfig("http://localhost:8080")

	if rpID != "localhost" {
		t.Errorf("rpID = %q, want %q", rpID, "localhost")
	}
	if len(rpOrigins) != 1 || rpOrigins[0] != "http://localhost:8080" {
		t.Errorf("rpOrigins = %v, want [http://localhost:8080]", rpOrigins)
	}
}

// ============================================================================
// webAuthnUser adapter tests
// ============================================================================

func TestWebAuthnUser_WebAuthnID(t *testing.T) {
	user := &webAuthnUser{user: &store.Profile{ID: "user-123"}}

	if id := user.WebAuthnID(); string(id) != "user-123" {
		t.Errorf("WebAuthnID() = %q, want %q", string(id), "user-123")
	}
}

func TestWebAuthnUser_WebAuthnName(t *testing.T) {
	user := &webAuthnUser{user: &store.Profile{Email: "ada@example.com"}}

	if name := user.WebAuthnName(); name != "ada@example.com" {
		t.Errorf("WebAuthnName() = %q, want %q", name, "ada@example.com")
	}
}

func TestWebAuthnUser_WebAuthnDisplayName_WithDisplayName(t *testing.T) {
	user := &webAuthnUser{
		user: &store.Profile{Email: "ada@example.com", DisplayName: "Ada"},
	}

	if got := user.WebAuthnDisplayName(); got != "Ada" {
		t.Errorf("WebAuthnDisplayName() = %q, want %q", got, "Ada")
	}
}

func TestWebAuthnUser_WebAuthnDisplayName_FallbackToEmail(t *testing.T) {
	user := &webAuthnUser{user: &store.Profile{Email: "ada@example.com"}}

	if got := user.WebAuthnDisplayName(); got != "ada@example.com" {
		t.Errorf("WebAuthnDisplayName() = %q, want %q (fallback to email)", got, "ada@example.com")
	}
}

func TestWebAuthnUser_WebAuthnCredentials_Empty(t *testing.T) {
	user := &webAuthnUser{user: &store.Profile{ID: "user-123"}}

	if creds := user.WebAuthnCredentials(); len(creds) != 0 {
		t.Errorf("WebAuthnCredentials() length = %d, want 0", len(creds))
	}
}

func TestWebAuthnUser_WebAuthnCredentials_WithCredentials(t *testing.T) {
	user := &webAuthnUser{
		user: &store.Profile{ID: "user-123"},
		creds: []*store.WebAuthnCredential{
			{
				ID:              "cred-1",
				CredentialID:    []byte("credential-id-1"),
				PublicKey:       []byte("public-key-1"),
				AttestationType: "none",
				SignCount:       5,
				Transports:      `["usb","nfc"]`,
			},
		},
	}

	creds := user.WebAuthnCredentials()
	if len(creds) != 1 {
		t.Fatalf("WebAuthnCredentials() length = %d, want 1", len(creds))
	}
	if !bytes.Equal(creds[0].ID, []byte("credential-id-1")) {
		t.Errorf("credential ID mismatch")
	}
	if creds[0].Authenticator.SignCount != 5 {
		t.Errorf("SignCount = %d, want 5", creds[0].Authenticator.SignCount)
	}
	if len(creds[0].Transport) != 2 {
		t.Errorf("Transport length = %d, want 2", len(creds[0].Transport))
	}
}

// ============================================================================
// webAuthnSessionStore tests
// ============================================================================

func TestWebAuthnSessionStore_SetGet(t *testing.T) {
	store := newWebAuthnSessionStore()
	defer store.Close()

	session := &webauthn.SessionData{
		Challenge: "test-challenge",
	}

	store.Set("token-1", session, "user-123")

	got, userID, ok := store.Get("token-1")
	if !ok {
		t.Fatal("expected session to be found")
	}
	if got.Challenge != "test-challenge" {
		t.Errorf("Challenge = %q, want %q", got.Challenge, "test-challenge")
	}
	if userID != "user-123" {
		t.Errorf("userID = %q, want %q", userID, "user-123")
	}
}

func TestWebAuthnSessionStore_GetNonExistent(t *testing.T) {
	store := newWebAuthnSessionStore()
	defer store.Close()

	_, _, ok := store.Get("nonexistent")
	if ok {
		t.Error("expected session not to be found")
	}
}

func TestWebAuthnSessionStore_Delete(t *testing.T) {
	store := newWebAuthnSessionStore()
	defer store.Close()

	session := &webauthn.SessionData{Challenge: "test"}
	store.Set("token-1", session, "user-123")

	store.Delete("token-1")

	_, _, ok := store.Get("token-1")
	if ok {
		t.Error("expected session to be deleted")
	}
}

func TestWebAuthnSessionStore_SessionExpiry(t *testing.T) {
	store := newWebAuthnSessionStore()
	defer store.Close()

	// Manually set an expired session
	store.mu.Lock()
	store.sessions["expired"] = &sessionData{
		session:   &webauthn.SessionData{Challenge: "expired"},
		userID:    "user-1",
		expiresAt: time.Now().Add(-time.Hour), // expired 1 hour ago
	}
	store.mu.Unlock()

	_, _, ok := store.Get("expired")
	if ok {
		t.Error("expected expired session not to be returned")
	}
}

// ============================================================================
// Request parsing tests
// ============================================================================

func TestParseWebAuthnRequest_Valid(t *testing.T) {
	body := `{"sessionToken": "abc123", "next": "/dashboard/keys", "response": {"test": "data"}}`
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))

	req, err := parseWebAuthnRequest(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.sessionToken != "abc123" {
		t.Errorf("sessionToken = %q, want %q", req.sessionToken, "abc123")
	}
	if req.next != "/dashboard/keys" {
		t.Errorf("next = %q, want %q", req.next, "/dashboard/keys")
	}
	if req.response == nil {
		t.Error("expected response to be non-nil")
	}
}

func TestParseWebAuthnRequest_InvalidJSON(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{invalid`))

	if _, err := parseWebAuthnRequest(r); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestParseWebAuthnRequest_MissingSessionToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"response": {}}`))

	if _, err := parseWebAuthnRequest(r); err == nil {
		t.Error("expected error for missing sessionToken")
	}
}

// ============================================================================
// makeCredentialFinder tests
// ============================================================================

func TestMakeCredentialFinder_MatchingUserHandle(t *testing.T) {
	waUser := &webAuthnUser{user: &store.Profile{ID: "user-123"}}
	finder := makeCredentialFinder(waUser, "user-123")

	result, err := finder([]byte("raw-id"), []byte("user-123"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != waUser {
		t.Error("expected finder to return waUser")
	}
}

func TestMakeCredentialFinder_EmptyUserHandle(t *testing.T) {
	waUser := &webAuthnUser{user: &store.Profile{ID: "user-123"}}
	finder := makeCredentialFinder(waUser, "user-123")

	result, err := finder([]byte("raw-id"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != waUser {
		t.Error("expected finder to return waUser")
	}
}

func TestMakeCredentialFinder_MismatchedUserHandle(t *testing.T) {
	waUser := &webAuthnUser{user: &store.Profile{ID: "user-123"}}
	finder := makeCredentialFinder(waUser, "user-123")

	if _, err := finder([]byte("raw-id"), []byte("different-user")); err == nil {
		t.Error("expected error for mismatched user handle")
	}
}

// ============================================================================
// Handler edge case tests
// ============================================================================

// mockWebAuthnStore implements the store methods needed for passkey handler tests.
type mockWebAuthnStore struct {
	Store
	profile     *store.Profile
	credentials []*store.WebAuthnCredential
	credByID    *store.WebAuthnCredential
	err         error
}

func (m *mockWebAuthnStore) GetProfile(_ context.Context, _ string) (*store.Profile, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.profile == nil {
		return nil, store.ErrNotFound
	}
	return m.profile, nil
}

func (m *mockWebAuthnStore) GetWebAuthnCredentialsByUser(_ context.Context, _ string) ([]*store.WebAuthnCredential, error) {
	return m.credentials, m.err
}

func (m *mockWebAuthnStore) GetWebAuthnCredentialByCredentialID(_ context.Context, _ []byte) (*store.WebAuthnCredential, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.credByID != nil {
		return m.credByID, nil
	}
	return nil, store.ErrNotFound
}

func (m *mockWebAuthnStore) CreateWebAuthnCredential(_ context.Context, _ *store.WebAuthnCredential) error {
	return m.err
}

func (m *mockWebAuthnStore) UpdateWebAuthnCredentialSignCount(_ context.Context, _ string, _ uint32) error {
	return m.err
}

var testCSRF = auth.NewCSRF([]byte("webadmin-test-secret-32-bytes-ok"))

// newWebAuthnTestPages creates Pages with only what the passkey handlers use.
func newWebAuthnTestPages(t *testing.T, s Store) *Pages {
	t.Helper()
	return &Pages{
		store:  s,
		csrf:   testCSRF,
		logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
		config: Config{BaseURL: "https://test.example.com"},
	}
}

func initTestWebAuthn(t *testing.T, p *Pages) {
	t.Helper()
	if err := p.initWebAuthn(); err != nil {
		t.Fatalf("initWebAuthn: %v", err)
	}
	t.Cleanup(p.webauthnSessions.Close)
}

// signedIn attaches an authenticated state for profile to req and, when
// withCSRF is set, a matching CSRF header.
func signedIn(req *http.Request, profile *store.Profile, withCSRF bool) *http.Request {
	st := session.State{
		Kind:      session.KindAuthenticated,
		SessionID: "sess-1",
		User:      &session.Identity{UserID: profile.ID, Email: profile.Email},
		Profile:   profile,
	}
	if withCSRF {
		req.Header.Set(auth.CSRFHeader, testCSRF.Token(st.SessionID))
	}
	return req.WithContext(session.WithState(req.Context(), st))
}

func TestHandleWebAuthnRegisterBegin_NotConfigured(t *testing.T) {
	p := newWebAuthnTestPages(t, &mockWebAuthnStore{})

	req := httptest.NewRequest(http.MethodPost, "/dashboard/passkeys/begin", nil)
	rec := httptest.NewRecorder()

	p.handleWebAuthnRegisterBegin(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if !strings.Contains(rec.Body.String(), "WebAuthn not configured") {
		t.Errorf("body = %q, want to contain 'WebAuthn not configured'", rec.Body.String())
	}
}

func TestHandleWebAuthnRegisterBegin_NotAuthenticated(t *testing.T) {
	p := newWebAuthnTestPages(t, &mockWebAuthnStore{})
	initTestWebAuthn(t, p)

	req := httptest.NewRequest(http.MethodPost, "/dashboard/passkeys/begin", nil)
	rec := httptest.NewRecorder()

	p.handleWebAuthnRegisterBegin(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestHandleWebAuthnRegisterBegin_MissingCSRF(t *testing.T) {
	profile := &store.Profile{ID: "user-1", Email: "ada@example.com"}
	p := newWebAuthnTestPages(t, &mockWebAuthnStore{profile: profile})
	initTestWebAuthn(t, p)

	req := signedIn(httptest.NewRequest(http.MethodPost, "/dashboard/passkeys/begin", nil), profile, false)
	rec := httptest.NewRecorder()

	p.handleWebAuthnRegisterBegin(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestHandleWebAuthnRegisterBegin_Success(t *testing.T) {
	profile := &store.Profile{ID: "user-1", Email: "ada@example.com"}
	p := newWebAuthnTestPages(t, &mockWebAuthnStore{profile: profile})
	initTestWebAuthn(t, p)

	req := signedIn(httptest.NewRequest(http.MethodPost, "/dashboard/passkeys/begin", nil), profile, true)
	rec := httptest.NewRecorder()

	p.handleWebAuthnRegisterBegin(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp struct {
		Options      json.RawMessage `json:"options"`
		SessionToken string          `json:"sessionToken"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if _, userID, ok := p.webauthnSessions.Get(resp.SessionToken); !ok || userID != "user-1" {
		t.Errorf("ceremony not stored for user-1 (ok=%v, userID=%q)", ok, userID)
	}
}

func TestHandleWebAuthnRegisterFinish_NotConfigured(t *testing.T) {
	p := newWebAuthnTestPages(t, &mockWebAuthnStore{})

	req := httptest.NewRequest(http.MethodPost, "/dashboard/passkeys/finish", nil)
	rec := httptest.NewRecorder()

	p.handleWebAuthnRegisterFinish(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleWebAuthnRegisterFinish_NotAuthenticated(t *testing.T) {
	p := newWebAuthnTestPages(t, &mockWebAuthnStore{})
	initTestWebAuthn(t, p)

	req := httptest.NewRequest(http.MethodPost, "/dashboard/passkeys/finish", nil)
	rec := httptest.NewRecorder()

	p.handleWebAuthnRegisterFinish(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestHandleWebAuthnRegisterFinish_InvalidRequest(t *testing.T) {
	profile := &store.Profile{ID: "user-1", Email: "ada@example.com"}
	p := newWebAuthnTestPages(t, &mockWebAuthnStore{profile: profile})
	initTestWebAuthn(t, p)

	req := httptest.NewRequest(http.MethodPost, "/dashboard/passkeys/finish", strings.NewReader(`invalid json`))
	req = signedIn(req, profile, true)
	rec := httptest.NewRecorder()

	p.handleWebAuthnRegisterFinish(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleWebAuthnRegisterFinish_InvalidSession(t *testing.T) {
	profile := &store.Profile{ID: "user-1", Email: "ada@example.com"}
	p := newWebAuthnTestPages(t, &mockWebAuthnStore{profile: profile})
	initTestWebAuthn(t, p)

	body := `{"sessionToken": "nonexistent", "response": {}}`
	req := signedIn(httptest.NewRequest(http.MethodPost, "/dashboard/passkeys/finish", strings.NewReader(body)), profile, true)
	rec := httptest.NewRecorder()

	p.handleWebAuthnRegisterFinish(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if !strings.Contains(rec.Body.String(), "Invalid or expired session") {
		t.Errorf("body = %q, want to contain 'Invalid or expired session'", rec.Body.String())
	}
}

func TestHandleWebAuthnRegisterFinish_CeremonyOfAnotherUser(t *testing.T) {
	profile := &store.Profile{ID: "user-1", Email: "ada@example.com"}
	p := newWebAuthnTestPages(t, &mockWebAuthnStore{profile: profile})
	initTestWebAuthn(t, p)
	p.webauthnSessions.Set("theirs", &webauthn.SessionData{Challenge: "c"}, "user-2")

	body := `{"sessionToken": "theirs", "response": {}}`
	req := signedIn(httptest.NewRequest(http.MethodPost, "/dashboard/passkeys/finish", strings.NewReader(body)), profile, true)
	rec := httptest.NewRecorder()

	p.handleWebAuthnRegisterFinish(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleWebAuthnLoginBegin_NotConfigured(t *testing.T) {
	p := newWebAuthnTestPages(t, &mockWebAuthnStore{})

	req := httptest.NewRequest(http.MethodPost, "/auth/passkey/begin", nil)
	rec := httptest.NewRecorder()

	p.handleWebAuthnLoginBegin(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleWebAuthnLoginBegin_Success(t *testing.T) {
	p := newWebAuthnTestPages(t, &mockWebAuthnStore{})
	initTestWebAuthn(t, p)

	req := httptest.NewRequest(http.MethodPost, "/auth/passkey/begin", nil)
	rec := httptest.NewRecorder()

	p.handleWebAuthnLoginBegin(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		Options      json.RawMessage `json:"options"`
		SessionToken string          `json:"sessionToken"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.SessionToken == "" {
		t.Error("expected sessionToken in response")
	}
	if resp.Options == nil {
		t.Error("expected options in response")
	}
}

func TestHandleWebAuthnLoginFinish_NotConfigured(t *testing.T) {
	p := newWebAuthnTestPages(t, &mockWebAuthnStore{})

	req := httptest.NewRequest(http.MethodPost, "/auth/passkey/finish", nil)
	rec := httptest.NewRecorder()

	p.handleWebAuthnLoginFinish(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleWebAuthnLoginFinish_InvalidRequest(t *testing.T) {
	p := newWebAuthnTestPages(t, &mockWebAuthnStore{})
	initTestWebAuthn(t, p)

	req := httptest.NewRequest(http.MethodPost, "/auth/passkey/finish", strings.NewReader(`invalid json`))
	rec := httptest.NewRecorder()

	p.handleWebAuthnLoginFinish(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleWebAuthnLoginFinish_InvalidSession(t *testing.T) {
	p := newWebAuthnTestPages(t, &mockWebAuthnStore{})
	initTestWebAuthn(t, p)

	body := `{"sessionToken": "nonexistent", "response": {}}`
	req := httptest.NewRequest(http.MethodPost, "/auth/passkey/finish", strings.NewReader(body))
	rec := httptest.NewRecorder()

	p.handleWebAuthnLoginFinish(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if !strings.Contains(rec.Body.String(), "Invalid or expired session") {
		t.Errorf("body = %q, want to contain 'Invalid or expired session'", rec.Body.String())
	}
}

func TestHandleLookupError_NotFound(t *testing.T) {
	p := newWebAuthnTestPages(t, &mockWebAuthnStore{})

	rec := httptest.NewRecorder()
	p.handleLookupError(rec, store.ErrNotFound)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if !strings.Contains(rec.Body.String(), "Unknown credential") {
		t.Errorf("body = %q, want to contain 'Unknown credential'", rec.Body.String())
	}
}

func TestHandleLookupError_OtherError(t *testing.T) {
	p := newWebAuthnTestPages(t, &mockWebAuthnStore{})

	rec := httptest.NewRecorder()
	p.handleLookupError(rec, context.DeadlineExceeded)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestLookupCredentialUser(t *testing.T) {
	profile := &store.Profile{ID: "user-1", Email: "ada@example.com"}
	cred := &store.WebAuthnCredential{ID: "c1", UserID: "user-1", CredentialID: []byte("raw")}
	p := newWebAuthnTestPages(t, &mockWebAuthnStore{profile: profile, credByID: cred})

	gotCred, gotProfile, err := p.lookupCredentialUser(context.Background(), []byte("raw"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotCred.ID != "c1" || gotProfile.ID != "user-1" {
		t.Errorf("got credential %q for %q, want c1 for user-1", gotCred.ID, gotProfile.ID)
	}
}
