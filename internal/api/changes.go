// ABOUTME: List-invalidation stream: pushes a Change whenever a visible list goes stale
// ABOUTME: Non-admins only see changes to their own records and global resources

package api

import (
	"net/http"
	"time"

	"github.com/2389/agentdash/internal/auth"
	"github.com/2389/agentdash/internal/events"
)

// visible reports whether ac may learn about c. Global resources (no owner)
// are visible to everyone; admins see everything.
func visible(ac *auth.AuthContext, c events.Change) bool {
	if c.OwnerID == "" || ac.IsAdmin() {
		return true
	}
	return c.OwnerID == ac.UserID
}

// handleChanges handles GET /api/changes. An optional ?resource= limits
// the stream to one resource name.
func (h *Handler) handleChanges(w http.ResponseWriter, r *http.Request) {
	ac := actor(r)
	if ac == nil || !ac.HasScope(auth.ScopeRead) {
		auth.WriteError(w, http.StatusForbidden, "read scope required")
		return
	}
	if h.changes == nil {
		auth.WriteError(w, http.StatusServiceUnavailable, "change feed disabled")
		return
	}
	resource := r.URL.Query().Get("resource")

	ctx := r.Context()
	sub, _ := h.changes.Subscribe(ctx, events.TopicAll)

	stream, ok := startStream(w)
	if !ok {
		auth.WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	if err := stream.send("ready", map[string]string{"user_id": ac.UserID}); err != nil {
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

		case c, ok := <-sub:
			if !ok {
				return
			}
			if resource != "" && c.Resource != resource {
				continue
			}
			if !visible(ac, c) {
				continue
			}
			if err := stream.send("change", c); err != nil {
				h.logger.Debug("change stream closed", "user_id", ac.UserID, "error", err)
				return
			}
		}
	}
}
