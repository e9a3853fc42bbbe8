// ABOUTME: List-invalidation events published after every dashboard mutation
// ABOUTME: Views subscribe to these instead of polling

package events

import "time"

// Resource names carried by Change.
const (
	ResourcePlans     = "plans"
	ResourceAPIKeys   = "api_keys"
	ResourceInstances = "instances"
	ResourceChannels  = "channels"
	ResourceTeam      = "team"
	ResourceUsers     = "users"
	ResourceGrants    = "grants"
	ResourceAnalytics = "analytics"
)

// Change actions.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// TopicAll is the key every Change is published on.
const TopicAll = "*"

// Change tells subscribers that a list they may be showing is stale.
// It names the record but never carries its contents.
type Change struct {
	Resource string    `json:"resource"`
	Action   string    `json:"action"`
	ID       string    `json:"id"`
	OwnerID  string    `json:"owner_id,omitempty"` // empty for global resources such as plans
	At       time.Time `json:"at"`
}

// Changes is the broadcaster for Change events.
type Changes = Broadcaster[Change]

// NewChanges returns a change feed.
func NewChanges() *Changes {
	return NewBroadcaster[Change](nil, "changes")
}

// Emit publishes c on TopicAll, stamping At when unset.
func Emit(b *Changes, c Change) {
	if b == nil {
		return
	}
	if c.At.IsZero() {
		c.At = time.Now().UTC()
	}
	b.Publish(TopicAll, c, "")
}
