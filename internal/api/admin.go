// ABOUTME: Admin endpoints: users, admin grants, audit log, diagnostics and sweeps
// ABOUTME: The route guard already requires admin rights for /api/admin

package api

import (
	"net/http"
	"time"

	"github.com/2389/agentdash/internal/auth"
	"github.com/2389/agentdash/internal/console"
	"github.com/2389/agentdash/internal/grants"
	"github.com/2389/agentdash/internal/store"
)

// IssueGrantRequest is the body of POST /api/admin/grants. TTL is a Go
// duration string such as "30m".
type IssueGrantRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
	TTL    string `json:"ttl"`
}

// BreakGlassRequest is the body of POST /api/grants/break-glass.
type BreakGlassRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ProfileFilter{Query: q.Get("q")}
	if v := q.Get("role"); v != "" {
		role := store.Role(v)
		filter.Role = &role
	}
	if v := q.Get("status"); v != "" {
		status := store.ProfileStatus(v)
		filter.Status = &status
	}
	var err error
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	users, err := h.console.ListUsers(r.Context(), actor(r), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": toProfiles(users)})
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	p, err := h.console.GetUser(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfile(p))
}

func (h *Handler) handleUpdateUserRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.console.UpdateUserRole(r.Context(), actor(r), r.PathValue("id"), store.Role(req.Role))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfile(p))
}

func (h *Handler) handleUpdateUserStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.console.UpdateUserStatus(r.Context(), actor(r), r.PathValue("id"), store.ProfileStatus(req.Status))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfile(p))
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.console.DeleteUser(r.Context(), actor(r), r.PathValue("id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Grants

func (h *Handler) handleListGrants(w http.ResponseWriter, r *http.Request) {
	filter := store.GrantFilter{ActiveOnly: queryBool(r, "active")}
	if v := r.URL.Query().Get("user_id"); v != "" {
		filter.UserID = &v
	}
	var err error
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	list, err := h.grants.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]*GrantResponse, 0, len(list))
	for _, g := range list {
		out = append(out, toGrant(g))
	}
	writeJSON(w, http.StatusOK, map[string]any{"grants": out})
}

func (h *Handler) handleIssueGrant(w http.ResponseWriter, r *http.Request) {
	var req IssueGrantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ttl, err := time.ParseDuration(req.TTL)
	if err != nil {
		h.writeServiceError(w, r, &console.ValidationError{Fields: map[string]string{"ttl": "must be a duration such as 30m"}})
		return
	}

	g, err := h.grants.Issue(r.Context(), actor(r), grants.IssueRequest{
		UserID: req.UserID,
		Reason: req.Reason,
		TTL:    ttl,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGrant(g))
}

// handleRevokeGrant serves both DELETE /api/admin/grants/{id} and
// DELETE /api/grants/{id}; the service lets users revoke their own grant.
func (h *Handler) handleRevokeGrant(w http.ResponseWriter, r *http.Request) {
	g, err := h.grants.Revoke(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGrant(g))
}

func (h *Handler) handleBreakGlass(w http.ResponseWriter, r *http.Request) {
	var req BreakGlassRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	g, err := h.grants.BreakGlass(r.Context(), actor(r), req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGrant(g))
}

// Audit and diagnostics

func (h *Handler) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter store.AuditFilter
	if v := q.Get("actor_id"); v != "" {
		filter.ActorID = &v
	}
	if v := q.Get("action"); v != "" {
		action := store.AuditAction(v)
		filter.Action = &action
	}
	if v := q.Get("target_type"); v != "" {
		filter.TargetType = &v
	}
	if v := q.Get("target_id"); v != "" {
		filter.TargetID = &v
	}
	var err error
	if filter.Since, err = queryTime(r, "since"); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if filter.Until, err = queryTime(r, "until"); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	entries, err := h.console.AuditLog(r.Context(), actor(r), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toAuditEntry(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (h *Handler) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	d, err := h.console.Diagnostics(r.Context(), actor(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if !d.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, d)
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	ac := actor(r)
	if ac == nil {
		auth.WriteError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	res, err := h.console.Sweep(r.Context(), ac)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
