package console

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agentdash/internal/auth"
	"github.com/2389/agentdash/internal/store"
)

func TestUpdateUserRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.UpdateUserRole(ctx, adminActor(), "alice", store.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, store.RoleAdmin, p.Role)
	assert.Equal(t, []string{"alice"}, f.sessions.updated)

	stored, err := f.store.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, store.RoleAdmin, stored.Role)

	assert.Equal(t, []store.AuditAction{store.AuditUpdateUserRole}, auditActions(t, f.store, "alice"))
}

func TestUpdateUserRole_Rules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.UpdateUserRole(ctx, member("bob"), "alice", store.RoleAdmin)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.UpdateUserRole(ctx, adminActor(), "admin", store.RoleMember)
	assert.ErrorIs(t, err, ErrSelfChange)

	// Only owners touch the owner role.
	_, err = f.svc.UpdateUserRole(ctx, adminActor(), "alice", store.RoleOwner)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.UpdateUserRole(ctx, adminActor(), "owner", store.RoleMember)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.UpdateUserRole(ctx, adminActor(), "alice", store.Role("god"))
	requireFields(t, err, "role")

	_, err = f.svc.UpdateUserRole(ctx, adminActor(), "nobody", store.RoleAdmin)
	assert.ErrorIs(t, err, store.ErrProfileNotFound)

	p, err := f.svc.UpdateUserRole(ctx, ownerActor(), "alice", store.RoleOwner)
	require.NoError(t, err)
	assert.Equal(t, store.RoleOwner, p.Role)

	assert.Equal(t, []string{"alice"}, f.sessions.updated)
}

func TestUpdateUserStatus_SuspendSignsOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.UpdateUserStatus(ctx, adminActor(), "bob", store.ProfileSuspended)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, f.sessions.signedOut)
	assert.Equal(t, []string{"bob"}, f.sessions.updated)

	_, err = f.svc.UpdateUserStatus(ctx, adminActor(), "bob", store.ProfileActive)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, f.sessions.signedOut)

	_, err = f.svc.UpdateUserStatus(ctx, adminActor(), "bob", store.ProfileStatus("banned"))
	requireFields(t, err, "status")
}

func TestDeleteUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.DeleteUser(ctx, adminActor(), "bob"))
	_, err := f.store.GetProfile(ctx, "bob")
	assert.ErrorIs(t, err, store.ErrProfileNotFound)
	assert.Equal(t, []string{"bob"}, f.sessions.signedOut)

	assert.ErrorIs(t, f.svc.DeleteUser(ctx, adminActor(), "owner"), ErrForbidden)
	assert.ErrorIs(t, f.svc.DeleteUser(ctx, adminActor(), "admin"), ErrSelfChange)
}

func TestListUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ListUsers(ctx, member("alice"), store.ProfileFilter{})
	assert.ErrorIs(t, err, ErrForbidden)

	role := store.RoleMember
	users, err := f.svc.ListUsers(ctx, adminActor(), store.ProfileFilter{Role: &role})
	require.NoError(t, err)
	assert.Len(t, users, 2)

	p, err := f.svc.GetUser(ctx, adminActor(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", p.Email)
}

func grantedActor(id string) *auth.AuthContext {
	ac := member(id)
	ac.Admin = true
	ac.GrantID = "g-" + id
	return ac
}

func TestUserMutations_GrantIsNotEnough(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := grantedActor("bob")

	// A grant lets bob read user data...
	_, err := f.svc.ListUsers(ctx, bob, store.ProfileFilter{})
	require.NoError(t, err)

	// ...but not turn it into a stored role for anyone.
	_, err = f.svc.UpdateUserRole(ctx, bob, "alice", store.RoleAdmin)
	assert.ErrorIs(t, err, ErrGrantedAdmin)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.UpdateUserStatus(ctx, bob, "alice", store.ProfileSuspended)
	assert.ErrorIs(t, err, ErrForbidden)

	err = f.svc.DeleteUser(ctx, bob, "alice")
	assert.ErrorIs(t, err, ErrForbidden)

	stored, err := f.store.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, store.RoleMember, stored.Role)
	assert.Equal(t, store.ProfileActive, stored.Status)
	assert.Empty(t, f.sessions.updated)
	assert.Empty(t, f.sessions.signedOut)
}

func TestUserMutations_DemotedAdminRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The request's AuthContext still says admin, but the stored role changed.
	require.NoError(t, f.store.UpdateProfileRole(ctx, "admin", store.RoleMember))

	_, err := f.svc.UpdateUserRole(ctx, adminActor(), "alice", store.RoleAdmin)
	assert.ErrorIs(t, err, ErrForbidden)
}
