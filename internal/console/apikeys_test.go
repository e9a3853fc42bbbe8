package console

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agentdash/internal/auth"
	"github.com/2389/agentdash/internal/store"
)

func TestCreateAPIKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	nk, err := f.svc.CreateAPIKey(ctx, member("alice"), APIKeyInput{
		Name:   " ci deploys ",
		Scopes: []string{auth.ScopeRead, auth.ScopeWrite},
	})
	require.NoError(t, err)
	assert.Equal(t, "ci deploys", nk.Key.Name)
	assert.True(t, strings.HasPrefix(nk.Secret, auth.APIKeyPrefix+nk.Key.Prefix+"_"))
	assert.Len(t, nk.Secret, len(auth.APIKeyPrefix)+keyPrefixLen+1+keySecretLen)
	assert.NotContains(t, nk.Key.Hash, nk.Secret)
	assert.Equal(t, hashKey(nk.Secret), nk.Key.Hash)

	got, err := f.svc.AuthenticateKey(ctx, nk.Secret)
	require.NoError(t, err)
	assert.Equal(t, nk.Key.ID, got.ID)
	assert.Equal(t, "alice", got.UserID)
	require.NotNil(t, got.LastUsedAt)

	stored, err := f.store.GetAPIKey(ctx, nk.Key.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastUsedAt)

	keys, err := f.svc.ListAPIKeys(ctx, member("alice"))
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	keys, err = f.svc.ListAPIKeys(ctx, member("bob"))
	require.NoError(t, err)
	assert.Empty(t, keys)

	assert.Equal(t, []store.AuditAction{store.AuditCreateAPIKey}, auditActions(t, f.store, nk.Key.ID))
}

func TestCreateAPIKey_DefaultsToRead(t *testing.T) {
	f := newFixture(t)
	nk, err := f.svc.CreateAPIKey(context.Background(), member("alice"), APIKeyInput{Name: "reader"})
	require.NoError(t, err)
	assert.Equal(t, []string{auth.ScopeRead}, nk.Key.Scopes)
}

func TestCreateAPIKey_Rules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	tests := []struct {
		name    string
		actor   *auth.AuthContext
		in      APIKeyInput
		wantErr error
		fields  []string
	}{
		{name: "empty name", actor: member("alice"), in: APIKeyInput{Name: "  "}, fields: []string{"name"}},
		{name: "unknown scope", actor: member("alice"), in: APIKeyInput{Name: "k", Scopes: []string{"delete"}}, fields: []string{"scopes[0]"}},
		{name: "duplicate scope", actor: member("alice"), in: APIKeyInput{Name: "k", Scopes: []string{"read", "read"}}, fields: []string{"scopes"}},
		{name: "expired", actor: member("alice"), in: APIKeyInput{Name: "k", ExpiresAt: &past}, fields: []string{"expires_at"}},
		{name: "admin scope needs admin", actor: member("alice"), in: APIKeyInput{Name: "k", Scopes: []string{"admin"}}, wantErr: ErrForbidden},
		{name: "keys cannot mint keys", actor: keyActor("alice", "read", "write"), in: APIKeyInput{Name: "k"}, wantErr: ErrForbidden},
		{name: "anonymous", actor: nil, in: APIKeyInput{Name: "k"}, wantErr: ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateAPIKey(ctx, tt.actor, tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			requireFields(t, err, tt.fields...)
		})
	}

	nk, err := f.svc.CreateAPIKey(ctx, adminActor(), APIKeyInput{Name: "ops", Scopes: []string{"read", "admin"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"read", "admin"}, nk.Key.Scopes)
}

func TestAuthenticateKey_Rejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	nk, err := f.svc.CreateAPIKey(ctx, member("alice"), APIKeyInput{Name: "k"})
	require.NoError(t, err)

	// Same prefix, different body.
	forged := nk.Secret[:len(nk.Secret)-1] + "x"
	if forged == nk.Secret {
		forged = nk.Secret[:len(nk.Secret)-1] + "y"
	}

	for _, secret := range []string{"", "ad_", "not-a-key", forged, nk.Secret + "extra"} {
		_, err := f.svc.AuthenticateKey(ctx, secret)
		assert.ErrorIs(t, err, store.ErrAPIKeyNotFound, secret)
	}

	// Another user cannot revoke it, and sees not found.
	assert.ErrorIs(t, f.svc.RevokeAPIKey(ctx, member("bob"), nk.Key.ID), store.ErrAPIKeyNotFound)

	require.NoError(t, f.svc.RevokeAPIKey(ctx, member("alice"), nk.Key.ID))
	_, err = f.svc.AuthenticateKey(ctx, nk.Secret)
	assert.ErrorIs(t, err, store.ErrAPIKeyNotFound)

	assert.ErrorIs(t, f.svc.RevokeAPIKey(ctx, member("alice"), nk.Key.ID), store.ErrAPIKeyNotFound)
}

func TestAuthenticateKey_Expiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exp := time.Now().Add(time.Hour)
	nk, err := f.svc.CreateAPIKey(ctx, member("alice"), APIKeyInput{Name: "short", ExpiresAt: &exp})
	require.NoError(t, err)

	_, err = f.svc.AuthenticateKey(ctx, nk.Secret)
	require.NoError(t, err)

	f.svc.now = func() time.Time { return exp.Add(time.Second) }
	_, err = f.svc.AuthenticateKey(ctx, nk.Secret)
	assert.ErrorIs(t, err, store.ErrAPIKeyNotFound)
}

func TestRevokeAPIKey_AdminAndScopes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	nk, err := f.svc.CreateAPIKey(ctx, member("alice"), APIKeyInput{Name: "k"})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.RevokeAPIKey(ctx, keyActor("alice", "read"), nk.Key.ID), ErrForbidden)
	require.NoError(t, f.svc.RevokeAPIKey(ctx, adminActor(), nk.Key.ID))
}

func TestParseKey(t *testing.T) {
	prefix, secret, err := generateKey()
	require.NoError(t, err)

	got, ok := parseKey(secret)
	require.True(t, ok)
	assert.Equal(t, prefix, got)

	_, ok = parseKey("ad_abcdefgh-" + strings.Repeat("a", keySecretLen))
	assert.False(t, ok)
}
