// ABOUTME: JSON API handler: construction, route table and shared middleware
// ABOUTME: Maps service errors to HTTP status codes with a JSON error body

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/agentdash/internal/auth"
	"github.com/2389/agentdash/internal/console"
	"github.com/2389/agentdash/internal/dedupe"
	"github.com/2389/agentdash/internal/events"
	"github.com/2389/agentdash/internal/grants"
	"github.com/2389/agentdash/internal/guard"
	"github.com/2389/agentdash/internal/session"
	"github.com/2389/agentdash/internal/store"
)

// DefaultClaimTTL is the lifetime of claim tokens handed to the browser.
const DefaultClaimTTL = 15 * time.Minute

const maxBodyBytes = 1 << 20

// Accounts looks up profiles for password sign-in.
type Accounts interface {
	GetProfileByEmail(ctx context.Context, email string) (*store.Profile, error)
}

// Config wires a Handler.
type Config struct {
	Console     *console.Service
	Grants      *grants.Service
	Sessions    *session.Synchronizer
	Credentials *session.Credentials
	Guard       *guard.Guard
	Accounts    Accounts
	Changes     *events.Changes
	Claims      *auth.JWTVerifier // nil disables claim issue
	CSRF        *auth.CSRF
	Idempotency *dedupe.Cache // nil disables Idempotency-Key handling
	ClaimTTL    time.Duration
	Heartbeat   time.Duration // SSE keep-alive interval, default 30s
	Logger      *slog.Logger
}

// Handler serves /api/*.
type Handler struct {
	console   *console.Service
	grants    *grants.Service
	sessions  *session.Synchronizer
	creds     *session.Credentials
	guard     *guard.Guard
	accounts  Accounts
	changes   *events.Changes
	claims    *auth.JWTVerifier
	csrf      *auth.CSRF
	dedupe    *dedupe.Cache
	claimTTL  time.Duration
	heartbeat time.Duration
	logger    *slog.Logger
}

// New creates a Handler.
func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	claimTTL := cfg.ClaimTTL
	if claimTTL <= 0 {
		claimTTL = DefaultClaimTTL
	}
	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Handler{
		console:   cfg.Console,
		grants:    cfg.Grants,
		sessions:  cfg.Sessions,
		creds:     cfg.Credentials,
		guard:     cfg.Guard,
		accounts:  cfg.Accounts,
		changes:   cfg.Changes,
		claims:    cfg.Claims,
		csrf:      cfg.CSRF,
		dedupe:    cfg.Idempotency,
		claimTTL:  claimTTL,
		heartbeat: heartbeat,
		logger:    logger.With("component", "api"),
	}
}

// RegisterRoutes registers every API route on mux. The mux must be served
// behind session.Credentials.Middleware.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Session
	mux.Handle("GET /api/session", h.protect(h.handleGetSession))
	mux.Handle("POST /api/session/login", h.protect(h.handleLogin))
	mux.Handle("POST /api/session/logout", h.protect(h.handleLogout))
	mux.Handle("POST /api/session/refresh", h.protect(h.handleRefresh))
	mux.Handle("GET /api/session/events", h.protect(h.handleSessionEvents))

	// Plans
	mux.Handle("GET /api/plans", h.protect(h.handleListPlans))
	mux.Handle("POST /api/plans", h.protect(h.handleCreatePlan))
	mux.Handle("GET /api/plans/{id}", h.protect(h.handleGetPlan))
	mux.Handle("PUT /api/plans/{id}", h.protect(h.handleUpdatePlan))
	mux.Handle("POST /api/plans/{id}/active", h.protect(h.handleSetPlanActive))
	mux.Handle("DELETE /api/plans/{id}", h.protect(h.handleDeletePlan))

	// API keys
	mux.Handle("GET /api/keys", h.protect(h.handleListKeys))
	mux.Handle("POST /api/keys", h.protect(h.handleCreateKey))
	mux.Handle("DELETE /api/keys/{id}", h.protect(h.handleRevokeKey))

	// Instances and channels
	mux.Handle("GET /api/instances", h.protect(h.handleListInstances))
	mux.Handle("POST /api/instances", h.protect(h.handleCreateInstance))
	mux.Handle("GET /api/instances/{id}", h.protect(h.handleGetInstance))
	mux.Handle("PUT /api/instances/{id}", h.protect(h.handleUpdateInstance))
	mux.Handle("POST /api/instances/{id}/status", h.protect(h.handleSetInstanceStatus))
	mux.Handle("DELETE /api/instances/{id}", h.protect(h.handleDeleteInstance))
	mux.Handle("GET /api/instances/{id}/channels", h.protect(h.handleListChannels))
	mux.Handle("POST /api/instances/{id}/channels", h.protect(h.handleCreateChannel))
	mux.Handle("GET /api/channels/{id}", h.protect(h.handleGetChannel))
	mux.Handle("PUT /api/channels/{id}", h.protect(h.handleUpdateChannel))
	mux.Handle("POST /api/channels/{id}/toggle", h.protect(h.handleToggleChannel))
	mux.Handle("DELETE /api/channels/{id}", h.protect(h.handleDeleteChannel))

	// Team
	mux.Handle("GET /api/team", h.protect(h.handleListTeam))
	mux.Handle("POST /api/team", h.protect(h.handleInviteMember))
	mux.Handle("PUT /api/team/{id}", h.protect(h.handleUpdateMember))
	mux.Handle("DELETE /api/team/{id}", h.protect(h.handleRemoveMember))
	mux.Handle("POST /api/invites/{token}/accept", h.protect(h.handleAcceptInvite))

	// Analytics
	mux.Handle("GET /api/analytics/summary", h.protect(h.handleSummary))
	mux.Handle("POST /api/ingest/conversations", h.ingest(h.handleIngestConversation))
	mux.Handle("POST /api/ingest/usage", h.ingest(h.handleIngestUsage))

	// Admin
	mux.Handle("GET /api/admin/users", h.protect(h.handleListUsers))
	mux.Handle("GET /api/admin/users/{id}", h.protect(h.handleGetUser))
	mux.Handle("PUT /api/admin/users/{id}/role", h.protect(h.handleUpdateUserRole))
	mux.Handle("PUT /api/admin/users/{id}/status", h.protect(h.handleUpdateUserStatus))
	mux.Handle("DELETE /api/admin/users/{id}", h.protect(h.handleDeleteUser))
	mux.Handle("GET /api/admin/grants", h.protect(h.handleListGrants))
	mux.Handle("POST /api/admin/grants", h.protect(h.handleIssueGrant))
	mux.Handle("DELETE /api/admin/grants/{id}", h.protect(h.handleRevokeGrant))
	mux.Handle("GET /api/admin/audit", h.protect(h.handleAuditLog))
	mux.Handle("GET /api/admin/diagnostics", h.protect(h.handleDiagnostics))
	mux.Handle("POST /api/admin/sweep", h.protect(h.handleSweep))

	// Break-glass lives outside /api/admin: the caller is not an admin yet.
	mux.Handle("POST /api/grants/break-glass", h.protect(h.handleBreakGlass))
	mux.Handle("DELETE /api/grants/{id}", h.protect(h.handleRevokeGrant))

	mux.Handle("GET /api/changes", h.protect(h.handleChanges))
}

// protect runs the route guard, CSRF check and idempotency cache in front
// of a handler.
func (h *Handler) protect(fn http.HandlerFunc) http.Handler {
	var next http.Handler = fn
	if h.dedupe != nil {
		next = dedupe.Middleware(h.dedupe, idempotencyScope)(next)
	}
	next = h.requireCSRF(next)
	return h.guard.APIMiddleware(next)
}

// ingest accepts only API keys carrying the write scope.
func (h *Handler) ingest(fn http.HandlerFunc) http.Handler {
	var next http.Handler = fn
	if h.dedupe != nil {
		next = dedupe.Middleware(h.dedupe, idempotencyScope)(next)
	}
	next = auth.RequireScopeHTTP(auth.ScopeWrite)(next)
	return auth.HTTPAuthMiddleware(h.creds.APIKeyAuthenticator())(next)
}

func idempotencyScope(r *http.Request) string {
	if ac := auth.FromContext(r.Context()); ac != nil {
		return ac.UserID
	}
	return ""
}

// requireCSRF rejects cookie-authenticated mutations without a valid token.
// Bearer requests are not exposed to cross-site forgery and skip the check.
func (h *Handler) requireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isSafeMethod(r.Method) || r.URL.Path == "/api/session/login" {
			next.ServeHTTP(w, r)
			return
		}
		ac := auth.FromContext(r.Context())
		if ac == nil || ac.Method != auth.MethodSession {
			next.ServeHTTP(w, r)
			return
		}
		if h.csrf == nil || !h.csrf.ValidRequest(r, ac.SessionID) {
			auth.WriteError(w, http.StatusForbidden, "invalid csrf token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isSafeMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a JSON body into v. Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			auth.WriteError(w, http.StatusBadRequest, "request body required")
			return false
		}
		auth.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// validationBody is the 422 response for input errors.
type validationBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// writeServiceError maps a service error to a status code. Unknown errors
// are logged and reported as 500 without detail.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *console.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, validationBody{Error: "validation failed", Fields: verr.Fields})
	case errors.Is(err, grants.ErrInvalidRequest):
		writeJSON(w, http.StatusUnprocessableEntity, validationBody{Error: err.Error()})
	case errors.Is(err, store.ErrNotFound):
		auth.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, console.ErrInvalidTransition),
		errors.Is(err, console.ErrSelfChange),
		errors.Is(err, grants.ErrGrantActive):
		auth.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrInviteUsed), errors.Is(err, store.ErrInviteExpired):
		auth.WriteError(w, http.StatusGone, err.Error())
	case errors.Is(err, console.ErrForbidden),
		errors.Is(err, grants.ErrGrantNotAllowed),
		errors.Is(err, grants.ErrBreakGlassNotAllowed),
		errors.Is(err, session.ErrSuspended):
		auth.WriteError(w, http.StatusForbidden, err.Error())
	default:
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		auth.WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}
