// ABOUTME: Handlers for the customer-facing resources: plans, API keys, AI instances,
// ABOUTME: channels, team and analytics. Each delegates to the console service

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/2389/agentdash/internal/auth"
	"github.com/2389/agentdash/internal/console"
	"github.com/2389/agentdash/internal/store"
)

type activeRequest struct {
	Active bool `json:"active"`
}

type enabledRequest struct {
	Enabled bool `json:"enabled"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type roleRequest struct {
	Role string `json:"role"`
}

func actor(r *http.Request) *auth.AuthContext {
	return auth.FromContext(r.Context())
}

func queryBool(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

// queryTime parses an RFC3339 query parameter. A missing parameter is nil.
func queryTime(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, &console.ValidationError{Fields: map[string]string{name: "must be an RFC3339 timestamp"}}
	}
	return &t, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &console.ValidationError{Fields: map[string]string{name: "must be a non-negative integer"}}
	}
	return n, nil
}

// Plans

func (h *Handler) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.console.ListPlans(r.Context(), actor(r), queryBool(r, "all"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]*PlanResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, toPlan(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": out})
}

func (h *Handler) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var in console.PlanInput
	if !decodeJSON(w, r, &in) {
		return
	}
	p, err := h.console.CreatePlan(r.Context(), actor(r), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPlan(p))
}

func (h *Handler) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	p, err := h.console.GetPlan(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlan(p))
}

func (h *Handler) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	var in console.PlanInput
	if !decodeJSON(w, r, &in) {
		return
	}
	p, err := h.console.UpdatePlan(r.Context(), actor(r), r.PathValue("id"), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlan(p))
}

func (h *Handler) handleSetPlanActive(w http.ResponseWriter, r *http.Request) {
	var req activeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.console.SetPlanActive(r.Context(), actor(r), r.PathValue("id"), req.Active); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeletePlan(w http.ResponseWriter, r *http.Request) {
	if err := h.console.DeletePlan(r.Context(), actor(r), r.PathValue("id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// API keys

func (h *Handler) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.console.ListAPIKeys(r.Context(), actor(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]*APIKeyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, toAPIKey(k))
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": out})
}

// handleCreateKey returns the secret exactly once.
func (h *Handler) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var in console.APIKeyInput
	if !decodeJSON(w, r, &in) {
		return
	}
	k, err := h.console.CreateAPIKey(r.Context(), actor(r), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	resp := toAPIKey(k.Key)
	resp.Secret = k.Secret
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	if err := h.console.RevokeAPIKey(r.Context(), actor(r), r.PathValue("id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Instances

func (h *Handler) handleListInstances(w http.ResponseWriter, r *http.Request) {
	list, err := h.console.ListInstances(r.Context(), actor(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]*InstanceResponse, 0, len(list))
	for _, i := range list {
		out = append(out, toInstance(i))
	}
	writeJSON(w, http.StatusOK, map[string]any{"instances": out})
}

func (h *Handler) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var in console.InstanceInput
	if !decodeJSON(w, r, &in) {
		return
	}
	inst, err := h.console.CreateInstance(r.Context(), actor(r), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInstance(inst))
}

func (h *Handler) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := h.console.GetInstance(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstance(inst))
}

func (h *Handler) handleUpdateInstance(w http.ResponseWriter, r *http.Request) {
	var in console.InstanceInput
	if !decodeJSON(w, r, &in) {
		return
	}
	inst, err := h.console.UpdateInstance(r.Context(), actor(r), r.PathValue("id"), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstance(inst))
}

func (h *Handler) handleSetInstanceStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	inst, err := h.console.SetInstanceStatus(r.Context(), actor(r), r.PathValue("id"), store.InstanceStatus(req.Status))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstance(inst))
}

func (h *Handler) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	if err := h.console.DeleteInstance(r.Context(), actor(r), r.PathValue("id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Channels

func (h *Handler) handleListChannels(w http.ResponseWriter, r *http.Request) {
	list, err := h.console.ListChannels(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]*ChannelResponse, 0, len(list))
	for _, c := range list {
		out = append(out, toChannel(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": out})
}

func (h *Handler) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var in console.ChannelInput
	if !decodeJSON(w, r, &in) {
		return
	}
	v, err := h.console.CreateChannel(r.Context(), actor(r), r.PathValue("id"), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toChannel(v))
}

func (h *Handler) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	v, err := h.console.GetChannel(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toChannel(v))
}

func (h *Handler) handleUpdateChannel(w http.ResponseWriter, r *http.Request) {
	var in console.ChannelInput
	if !decodeJSON(w, r, &in) {
		return
	}
	v, err := h.console.UpdateChannel(r.Context(), actor(r), r.PathValue("id"), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toChannel(v))
}

func (h *Handler) handleToggleChannel(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	v, err := h.console.ToggleChannel(r.Context(), actor(r), r.PathValue("id"), req.Enabled)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toChannel(v))
}

func (h *Handler) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	if err := h.console.DeleteChannel(r.Context(), actor(r), r.PathValue("id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Team

func (h *Handler) handleListTeam(w http.ResponseWriter, r *http.Request) {
	members, err := h.console.ListTeam(r.Context(), actor(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]*MemberResponse, 0, len(members))
	for _, m := range members {
		out = append(out, toMember(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": out})
}

func (h *Handler) handleInviteMember(w http.ResponseWriter, r *http.Request) {
	var in console.InviteInput
	if !decodeJSON(w, r, &in) {
		return
	}
	inv, err := h.console.InviteMember(r.Context(), actor(r), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, InvitationResponse{
		Member:    toMember(inv.Member),
		InviteURL: inv.URL,
		ExpiresAt: inv.Invite.ExpiresAt,
	})
}

func (h *Handler) handleUpdateMember(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := h.console.UpdateMemberRole(r.Context(), actor(r), r.PathValue("id"), req.Role)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMember(m))
}

func (h *Handler) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	if err := h.console.RemoveMember(r.Context(), actor(r), r.PathValue("id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	m, err := h.console.AcceptInvite(r.Context(), actor(r), r.PathValue("token"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMember(m))
}

// Analytics

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	since, err := queryTime(r, "since")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	until, err := queryTime(r, "until")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	sum, err := h.console.Summary(r.Context(), actor(r), console.SummaryRequest{
		InstanceID: r.URL.Query().Get("instance_id"),
		Since:      since,
		Until:      until,
		AllOwners:  queryBool(r, "all_owners"),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handler) handleIngestConversation(w http.ResponseWriter, r *http.Request) {
	var in console.ConversationInput
	if !decodeJSON(w, r, &in) {
		return
	}
	c, err := h.console.RecordConversation(r.Context(), actor(r), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":            c.ID,
		"message_count": c.MessageCount,
	})
}

func (h *Handler) handleIngestUsage(w http.ResponseWriter, r *http.Request) {
	var in console.UsageInput
	if !decodeJSON(w, r, &in) {
		return
	}
	u, err := h.console.RecordUsage(r.Context(), actor(r), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": u.ID})
}
