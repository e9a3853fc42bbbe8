// ABOUTME: Session state as a tagged union: anonymous, loading, authenticated or error
// ABOUTME: One value answers who is signed in and whether they are an admin

package session

import (
	"context"
	"time"

	"github.com/2389/agentdash/internal/store"
)

// StateKind discriminates State.
type StateKind string

const (
	KindAnonymous     StateKind = "anonymous"
	KindLoading       StateKind = "loading"
	KindAuthenticated StateKind = "authenticated"
	KindError         StateKind = "error"
)

// Identity is who a session belongs to, as established at sign-in.
type Identity struct {
	UserID      string
	Email       string
	DisplayName string
	AvatarURL   string
	UserAgent   string
}

// State is the resolved session. Only the fields that make sense for Kind
// are set: User for loading and authenticated, Profile/IsAdmin/Grant for
// authenticated, Reason for error (and optionally anonymous).
type State struct {
	Kind      StateKind
	SessionID string
	User      *Identity
	Profile   *store.Profile
	IsAdmin   bool
	Grant     *store.AdminGrant
	Reason    string
	ExpiresAt time.Time // session expiry, zero for claim and key requests
}

// Anonymous returns the signed-out state.
func Anonymous(reason string) State {
	return State{Kind: KindAnonymous, Reason: reason}
}

// Loading returns the state used while the profile is still being fetched.
func Loading(sessionID string, user *Identity) State {
	return State{Kind: KindLoading, SessionID: sessionID, User: user}
}

// Errored returns the error state. The caller treats it as not signed in.
func Errored(reason string) State {
	return State{Kind: KindError, Reason: reason}
}

// Authenticated reports whether the state carries a usable profile.
func (s State) Authenticated() bool {
	return s.Kind == KindAuthenticated && s.Profile != nil
}

// UserID returns the signed-in user's ID, or "".
func (s State) UserID() string {
	if s.User == nil {
		return ""
	}
	return s.User.UserID
}

// EventType names a session event.
type EventType string

const (
	EventSignedIn       EventType = "signed_in"
	EventSignedOut      EventType = "signed_out"
	EventTokenRefreshed EventType = "token_refreshed"
	EventProfileUpdated EventType = "profile_updated"
	EventGrantChanged   EventType = "grant_changed"
)

// Event is pushed to every open tab of a user after their session changes.
// SessionID is set for events that concern one session only (sign-in,
// sign-out, refresh); readers on other sessions ignore those.
type Event struct {
	Type      EventType
	UserID    string
	SessionID string
	State     State
	At        time.Time
}

type stateKey struct{}

// WithState attaches st to ctx.
func WithState(ctx context.Context, st State) context.Context {
	return context.WithValue(ctx, stateKey{}, st)
}

// FromContext returns the State attached by the middleware, or anonymous.
func FromContext(ctx context.Context) State {
	st, ok := ctx.Value(stateKey{}).(State)
	if !ok {
		return Anonymous("")
	}
	return st
}
