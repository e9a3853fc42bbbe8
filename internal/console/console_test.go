// ABOUTME: Shared fixtures for console service tests
// ABOUTME: Real SQLite store, recording session notifier and a change feed

package console

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agentdash/internal/auth"
	"github.com/2389/agentdash/internal/dedupe"
	"github.com/2389/agentdash/internal/events"
	"github.com/2389/agentdash/internal/session"
	"github.com/2389/agentdash/internal/store"
)

type fakeSessions struct {
	mu         sync.Mutex
	updated    []string
	signedOut  []string
	sweepCount int64
}

func (f *fakeSessions) NotifyProfileUpdated(_ context.Context, userID string) session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, userID)
	return session.Anonymous("")
}

func (f *fakeSessions) SignOutEverywhere(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signedOut = append(f.signedOut, userID)
	return 1, nil
}

func (f *fakeSessions) SweepExpired(context.Context) (int64, error) {
	return f.sweepCount, nil
}

func (f *fakeSessions) CacheStats() session.CacheStats {
	return session.CacheStats{Profiles: 3}
}

type fixture struct {
	store    *store.SQLiteStore
	sessions *fakeSessions
	changes  *events.Changes
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	for _, p := range []*store.Profile{
		{ID: "owner", Email: "owner@example.com", Role: store.RoleOwner},
		{ID: "admin", Email: "admin@example.com", Role: store.RoleAdmin},
		{ID: "alice", Email: "alice@example.com", Role: store.RoleMember},
		{ID: "bob", Email: "bob@example.com", Role: store.RoleMember},
	} {
		require.NoError(t, s.CreateProfile(ctx, p))
	}

	sessions := &fakeSessions{}
	changes := events.NewChanges()
	t.Cleanup(changes.Close)

	cache := dedupe.New(time.Minute, 10)
	t.Cleanup(cache.Close)

	svc := New(s, Options{
		Sessions:    sessions,
		Changes:     changes,
		Idempotency: cache,
		BaseURL:     "https://dash.example.com/",
	})
	return &fixture{store: s, sessions: sessions, changes: changes, svc: svc}
}

func member(id string) *auth.AuthContext {
	return &auth.AuthContext{UserID: id, Email: id + "@example.com", Role: string(store.RoleMember), Method: auth.MethodSession}
}

func adminActor() *auth.AuthContext {
	return &auth.AuthContext{UserID: "admin", Email: "admin@example.com", Role: string(store.RoleAdmin), Admin: true, Method: auth.MethodSession}
}

func ownerActor() *auth.AuthContext {
	return &auth.AuthContext{UserID: "owner", Email: "owner@example.com", Role: string(store.RoleOwner), Admin: true, Method: auth.MethodSession}
}

func keyActor(id string, scopes ...string) *auth.AuthContext {
	return &auth.AuthContext{UserID: id, Email: id + "@example.com", Role: string(store.RoleMember), Method: auth.MethodAPIKey, KeyID: "k-" + id, Scopes: scopes}
}

// requireFields asserts err is a *ValidationError naming exactly fields.
func requireFields(t *testing.T, err error, fields ...string) {
	t.Helper()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	for _, f := range fields {
		assert.Contains(t, verr.Fields, f)
	}
	assert.Len(t, verr.Fields, len(fields), "fields: %v", verr.Fields)
}

func auditActions(t *testing.T, s *store.SQLiteStore, targetID string) []store.AuditAction {
	t.Helper()
	entries, err := s.ListAuditLog(context.Background(), store.AuditFilter{TargetID: &targetID})
	require.NoError(t, err)
	out := make([]store.AuditAction, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func nextChange(t *testing.T, ch <-chan events.Change) events.Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(time.Second):
		t.Fatal("no change event")
		return events.Change{}
	}
}

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{
		"name":     "is required",
		"currency": "must be an ISO 4217 currency code",
	}}
	assert.Equal(t, "invalid input: currency must be an ISO 4217 currency code; name is required", err.Error())
}
