// ABOUTME: Session endpoints: current state, password login, logout, refresh
// ABOUTME: Plus the per-user session event stream that keeps open tabs in sync

package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/2389/agentdash/internal/auth"
	"github.com/2389/agentdash/internal/session"
	"github.com/2389/agentdash/internal/store"
)

// LoginRequest is the body of POST /api/session/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleGetSession handles GET /api/session. It always answers 200; the
// state field says whether anyone is signed in.
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	st := session.FromContext(r.Context())
	writeJSON(w, http.StatusOK, h.sessionResponse(r, st))
}

// handleLogin handles POST /api/session/login.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		auth.WriteError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	p, err := h.accounts.GetProfileByEmail(r.Context(), req.Email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.writeServiceError(w, r, err)
		return
	}
	hash := ""
	if p != nil {
		hash = p.PasswordHash
	}
	// Unknown accounts still pay for a bcrypt compare.
	if err := auth.CheckPassword(hash, req.Password); err != nil || p == nil {
		h.logger.Info("password login failed", "email", store.NormalizeEmail(req.Email))
		auth.WriteError(w, http.StatusUnauthorized, auth.ErrInvalidCredentials.Error())
		return
	}

	sess, st, err := h.sessions.SignIn(r.Context(), session.Identity{
		UserID:    p.ID,
		Email:     p.Email,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	session.SetCookie(w, r, sess)
	writeJSON(w, http.StatusOK, h.sessionResponse(r, st))
}

// handleLogout handles POST /api/session/logout. Signing out without a
// session is a no-op.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.SignOut(r.Context(), session.CookieValue(r)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	session.ClearCookie(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// handleRefresh handles POST /api/session/refresh. Cookie sessions slide
// their expiry; claim callers receive a fresh claim.
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if id := session.CookieValue(r); id != "" {
		sess, st, err := h.sessions.Refresh(r.Context(), id)
		if errors.Is(err, session.ErrNoSession) {
			session.ClearCookie(w, r)
			auth.WriteError(w, http.StatusUnauthorized, "session expired")
			return
		}
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		session.SetCookie(w, r, sess)
		writeJSON(w, http.StatusOK, h.sessionResponse(r, st))
		return
	}

	st := session.FromContext(r.Context())
	ac := auth.FromContext(r.Context())
	if ac == nil || ac.Method != auth.MethodClaim || !st.Authenticated() {
		auth.WriteError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, h.sessionResponse(r, st))
}

// sessionResponse renders st, adding a claim token, a CSRF token for
// cookie sessions and whether break-glass is available.
func (h *Handler) sessionResponse(r *http.Request, st session.State) *SessionResponse {
	resp := toSession(st)
	if !st.Authenticated() {
		return resp
	}

	if h.claims != nil && st.SessionID != "" {
		token, c, err := session.IssueClaim(h.claims, st, h.claimTTL)
		if err != nil {
			h.logger.Warn("failed to issue claim", "user_id", st.Profile.ID, "error", err)
		} else {
			resp.Claim = token
			exp := c.ExpiresAt
			resp.ClaimExpiresAt = &exp
		}
	}
	if h.csrf != nil && st.SessionID != "" {
		resp.CSRFToken = h.csrf.Token(st.SessionID)
	}
	if h.grants != nil {
		resp.BreakGlass = h.grants.BreakGlassEnabled(st.Profile.ID)
	}
	return resp
}

// SessionEvent is the payload of a session stream event.
type SessionEvent struct {
	Type    string           `json:"type"`
	At      time.Time        `json:"at"`
	Session *SessionResponse `json:"session"`
}

// handleSessionEvents handles GET /api/session/events. The stream opens
// with a "state" event, then forwards every change to the caller's
// session. Events that belong to another of the user's sessions are skipped.
// A sign-out ends the stream.
func (h *Handler) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	st := session.FromContext(r.Context())
	if !st.Authenticated() {
		auth.WriteError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	ctx := r.Context()
	sub := h.sessions.Subscribe(ctx, st.Profile.ID)

	stream, ok := startStream(w)
	if !ok {
		auth.WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	if err := stream.send("state", SessionEvent{Type: "state", At: time.Now().UTC(), Session: toSession(st)}); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-heartbeat.C:
			if err := stream.heartbeat(); err != nil {
				return
			}

		case ev, ok := <-sub:
			if !ok {
				return
			}
			if ev.SessionID != "" && ev.SessionID != st.SessionID {
				continue
			}
			payload := SessionEvent{Type: string(ev.Type), At: ev.At, Session: toSession(ev.State)}
			if err := stream.send(string(ev.Type), payload); err != nil {
				h.logger.Debug("session stream closed", "user_id", st.Profile.ID, "error", err)
				return
			}
			if ev.Type == session.EventSignedOut {
				return
			}
		}
	}
}
