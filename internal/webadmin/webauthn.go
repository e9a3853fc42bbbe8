// ABOUTME: Passkey sign-in and registration for the dashboard
// ABOUTME: Implements the WebAuthn ceremonies using the go-webauthn library

package webadmin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/2389/agentdash/internal/auth"
	"github.com/2389/agentdash/internal/guard"
	"github.com/2389/agentdash/internal/session"
	"github.com/2389/agentdash/internal/store"
)

// webAuthnUser wraps a Profile to implement webauthn.User.
type webAuthnUser struct {
	user  *store.Profile
	creds []*store.WebAuthnCredential
}

func (u *webAuthnUser) WebAuthnID() []byte {
	return []byte(u.user.ID)
}

func (u *webAuthnUser) WebAuthnName() string {
	return u.user.Email
}

func (u *webAuthnUser) WebAuthnDisplayName() string {
	return u.user.Name()
}

func (u *webAuthnUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, len(u.creds))
	for i, c := range u.creds {
		creds[i] = webauthn.Credential{
			ID:              c.CredentialID,
			PublicKey:       c.PublicKey,
			AttestationType: c.AttestationType,
			Authenticator: webauthn.Authenticator{
				SignCount: c.SignCount,
			},
		}
		// Parse transports if available
		if c.Transports != "" {
			var transports []protocol.AuthenticatorTransport
			_ = json.Unmarshal([]byte(c.Transports), &transports)
			creds[i].Transport = transports
		}
	}
	return creds
}

// sessionData stores WebAuthn session data for in-progress registrations/logins.
type sessionData struct {
	session   *webauthn.SessionData
	userID    string
	expiresAt time.Time
}

// webAuthnSessionStore holds in-progress ceremonies for five minutes. It is
// per process, so a ceremony must finish on the instance that began it.
type webAuthnSessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionData // keyed by session token
	cancel   context.CancelFunc
}

func newWebAuthnSessionStore() *webAuthnSessionStore {
	ctx, cancel := context.WithCancel(context.Background())
	s := &webAuthnSessionStore{
		sessions: make(map[string]*sessionData),
		cancel:   cancel,
	}
	go s.cleanupLoop(ctx)
	return s
}

// Close stops the cleanup goroutine.
func (s *webAuthnSessionStore) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *webAuthnSessionStore) Set(token string, data *webauthn.SessionData, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = &sessionData{
		session:   data,
		userID:    userID,
		expiresAt: time.Now().Add(5 * time.Minute),
	}
}

func (s *webAuthnSessionStore) Get(token string) (*webauthn.SessionData, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.sessions[token]
	if !ok || time.Now().After(data.expiresAt) {
		return nil, "", false
	}
	return data.session, data.userID, true
}

func (s *webAuthnSessionStore) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}

func (s *webAuthnSessionStore) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			for k, v := range s.sessions {
				if now.After(v.expiresAt) {
					delete(s.sessions, k)
				}
			}
			s.mu.Unlock()
		}
	}
}

// deriveWebAuthnConfig extracts rpID and rpOrigins from a base URL.
// Returns defaults if URL is empty or invalid.
func deriveWebAuthnConfig(baseURL string) (rpID string, rpOrigins []string) {
	// Defaults for localhost development
	rpID = "localhost"
	rpOrigins = []string{"http://localhost", "https://localhost"}

	if baseURL == "" {
		return rpID, rpOrigins
	}

	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return rpID, rpOrigins
	}

	host := parsed.Hostname()
	if host == "" {
		return rpID, rpOrigins
	}

	rpID = host
	rpOrigins = []string{parsed.Scheme + "://" + parsed.Host}
	return rpID, rpOrigins
}

// initWebAuthn initializes the WebAuthn configuration.
func (p *Pages) initWebAuthn() error {
	rpID, rpOrigins := deriveWebAuthnConfig(p.config.BaseURL)

	wconfig := &webauthn.Config{
		RPDisplayName: "agentdash",
		RPID:          rpID,
		RPOrigins:     rpOrigins,
	}

	w, err := webauthn.New(wconfig)
	if err != nil {
		return err
	}

	p.webauthn = w
	p.webauthnSessions = newWebAuthnSessionStore()
	return nil
}

// writeJSON encodes v as the response body.
func (p *Pages) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		p.logger.Debug("failed to encode response", "error", err)
	}
}

// handleWebAuthnRegisterBegin starts registering a passkey for the signed-in
// user. The request must carry the session's CSRF token.
func (p *Pages) handleWebAuthnRegisterBegin(w http.ResponseWriter, r *http.Request) {
	if p.webauthn == nil {
		http.Error(w, "WebAuthn not configured", http.StatusServiceUnavailable)
		return
	}

	st := session.FromContext(r.Context())
	if !st.Authenticated() {
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
		return
	}
	if !p.validSessionCSRF(r, st) {
		http.Error(w, "Invalid request", http.StatusForbidden)
		return
	}

	existingCreds, err := p.store.GetWebAuthnCredentialsByUser(r.Context(), st.Profile.ID)
	if err != nil {
		p.logger.Error("failed to get existing credentials", "error", err)
		existingCreds = nil
	}

	waUser := &webAuthnUser{user: st.Profile, creds: existingCreds}

	options, ceremony, err := p.webauthn.BeginRegistration(waUser)
	if err != nil {
		p.logger.Error("failed to begin registration", "error", err)
		http.Error(w, "Failed to start registration", http.StatusInternalServerError)
		return
	}

	sessionToken, err := auth.GenerateSecureToken(32)
	if err != nil {
		http.Error(w, "Failed to generate session", http.StatusInternalServerError)
		return
	}
	p.webauthnSessions.Set(sessionToken, ceremony, st.Profile.ID)

	p.writeJSON(w, struct {
		Options      *protocol.CredentialCreation `json:"options"`
		SessionToken string                       `json:"sessionToken"`
	}{
		Options:      options,
		SessionToken: sessionToken,
	})
}

// webAuthnRequest is the body of both finish calls.
type webAuthnRequest struct {
	sessionToken string
	next         string
	response     json.RawMessage
}

// parseWebAuthnRequest parses and validates a finish request.
func parseWebAuthnRequest(r *http.Request) (*webAuthnRequest, error) {
	var req struct {
		SessionToken string          `json:"sessionToken"`
		Next         string          `json:"next"`
		Response     json.RawMessage `json:"response"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}
	if req.SessionToken == "" {
		return nil, errors.New("sessionToken is required")
	}
	return &webAuthnRequest{sessionToken: req.SessionToken, next: req.Next, response: req.Response}, nil
}

// storeWebAuthnCredential creates and stores a WebAuthn credential.
func (p *Pages) storeWebAuthnCredential(ctx context.Context, userID string, cred *webauthn.Credential) (string, error) {
	credID, err := auth.GenerateSecureToken(16)
	if err != nil {
		return "", err
	}

	transportsJSON, err := json.Marshal(cred.Transport)
	if err != nil {
		return "", err
	}

	storeCred := &store.WebAuthnCredential{
		ID:              credID,
		UserID:          userID,
		CredentialID:    cred.ID,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		Transports:      string(transportsJSON),
		SignCount:       cred.Authenticator.SignCount,
		CreatedAt:       time.Now(),
	}

	if err := p.store.CreateWebAuthnCredential(ctx, storeCred); err != nil {
		return "", err
	}
	return credID, nil
}

// handleWebAuthnRegisterFinish completes the passkey registration process.
func (p *Pages) handleWebAuthnRegisterFinish(w http.ResponseWriter, r *http.Request) {
	if p.webauthn == nil {
		http.Error(w, "WebAuthn not configured", http.StatusServiceUnavailable)
		return
	}

	st := session.FromContext(r.Context())
	if !st.Authenticated() {
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
		return
	}
	if !p.validSessionCSRF(r, st) {
		http.Error(w, "Invalid request", http.StatusForbidden)
		return
	}

	req, err := parseWebAuthnRequest(r)
	if err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	ceremony, ceremonyUserID, ok := p.webauthnSessions.Get(req.sessionToken)
	if !ok || ceremonyUserID != st.Profile.ID {
		http.Error(w, "Invalid or expired session", http.StatusBadRequest)
		return
	}
	p.webauthnSessions.Delete(req.sessionToken)

	parsedResponse, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(req.response))
	if err != nil {
		p.logger.Error("failed to parse registration response", "error", err)
		http.Error(w, "Invalid response", http.StatusBadRequest)
		return
	}

	existingCreds, _ := p.store.GetWebAuthnCredentialsByUser(r.Context(), st.Profile.ID)
	waUser := &webAuthnUser{user: st.Profile, creds: existingCreds}

	credential, err := p.webauthn.CreateCredential(waUser, *ceremony, parsedResponse)
	if err != nil {
		p.logger.Error("failed to create credential", "error", err)
		http.Error(w, "Failed to verify credential", http.StatusBadRequest)
		return
	}

	credID, err := p.storeWebAuthnCredential(r.Context(), st.Profile.ID, credential)
	if err != nil {
		p.logger.Error("failed to store credential", "error", err)
		http.Error(w, "Failed to save credential", http.StatusInternalServerError)
		return
	}

	p.logger.Info("passkey registered", "user_id", st.Profile.ID, "credential_id", credID)
	p.writeJSON(w, map[string]string{"status": "ok"})
}

// handleWebAuthnLoginBegin starts a discoverable passkey login.
func (p *Pages) handleWebAuthnLoginBegin(w http.ResponseWriter, r *http.Request) {
	if p.webauthn == nil {
		http.Error(w, "WebAuthn not configured", http.StatusServiceUnavailable)
		return
	}

	options, ceremony, err := p.webauthn.BeginDiscoverableLogin()
	if err != nil {
		p.logger.Error("failed to begin login", "error", err)
		http.Error(w, "Failed to start login", http.StatusInternalServerError)
		return
	}

	// The user is only known once the authenticator answers.
	sessionToken, err := auth.GenerateSecureToken(32)
	if err != nil {
		http.Error(w, "Failed to generate session", http.StatusInternalServerError)
		return
	}
	p.webauthnSessions.Set(sessionToken, ceremony, "")

	p.writeJSON(w, struct {
		Options      *protocol.CredentialAssertion `json:"options"`
		SessionToken string                        `json:"sessionToken"`
	}{
		Options:      options,
		SessionToken: sessionToken,
	})
}

// lookupCredentialUser finds the credential and profile for a login attempt.
func (p *Pages) lookupCredentialUser(ctx context.Context, credentialID []byte) (*store.WebAuthnCredential, *store.Profile, error) {
	storedCred, err := p.store.GetWebAuthnCredentialByCredentialID(ctx, credentialID)
	if err != nil {
		return nil, nil, err
	}
	profile, err := p.store.GetProfile(ctx, storedCred.UserID)
	if err != nil {
		return nil, nil, err
	}
	return storedCred, profile, nil
}

// handleLookupError writes the appropriate HTTP error for a credential lookup failure.
func (p *Pages) handleLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Unknown credential", http.StatusUnauthorized)
	} else {
		p.logger.Error("failed to lookup credential", "error", err)
		http.Error(w, "Failed to verify credential", http.StatusInternalServerError)
	}
}

// makeCredentialFinder creates a credential finder function for WebAuthn validation.
func makeCredentialFinder(waUser *webAuthnUser, userID string) func(rawID, userHandle []byte) (webauthn.User, error) {
	return func(rawID, userHandle []byte) (webauthn.User, error) {
		if len(userHandle) > 0 && string(userHandle) != userID {
			return nil, errors.New("user handle mismatch")
		}
		return waUser, nil
	}
}

// handleWebAuthnLoginFinish verifies the assertion and signs the user in.
func (p *Pages) handleWebAuthnLoginFinish(w http.ResponseWriter, r *http.Request) {
	if p.webauthn == nil {
		http.Error(w, "WebAuthn not configured", http.StatusServiceUnavailable)
		return
	}

	req, err := parseWebAuthnRequest(r)
	if err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	ceremony, _, ok := p.webauthnSessions.Get(req.sessionToken)
	if !ok {
		http.Error(w, "Invalid or expired session", http.StatusBadRequest)
		return
	}
	p.webauthnSessions.Delete(req.sessionToken)

	parsedResponse, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(req.response))
	if err != nil {
		p.logger.Error("failed to parse login response", "error", err)
		http.Error(w, "Invalid response", http.StatusBadRequest)
		return
	}

	storedCred, profile, err := p.lookupCredentialUser(r.Context(), parsedResponse.RawID)
	if err != nil {
		p.handleLookupError(w, err)
		return
	}

	allCreds, _ := p.store.GetWebAuthnCredentialsByUser(r.Context(), profile.ID)
	waUser := &webAuthnUser{user: profile, creds: allCreds}

	credential, err := p.webauthn.ValidateDiscoverableLogin(makeCredentialFinder(waUser, profile.ID), *ceremony, parsedResponse)
	if err != nil {
		p.logger.Error("failed to validate login", "error", err)
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
		return
	}

	if err := p.store.UpdateWebAuthnCredentialSignCount(r.Context(), storedCred.ID, credential.Authenticator.SignCount); err != nil {
		p.logger.Warn("failed to update sign count", "error", err)
	}

	if _, err := p.signIn(w, r, session.Identity{UserID: profile.ID, Email: profile.Email}); err != nil {
		if errors.Is(err, session.ErrSuspended) {
			http.Error(w, "This account is suspended", http.StatusForbidden)
			return
		}
		p.logger.Error("failed to create session", "error", err)
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	p.logger.Info("passkey login successful", "user_id", profile.ID)
	p.writeJSON(w, map[string]string{"status": "ok", "redirect": guard.SafeNext(req.next)})
}
