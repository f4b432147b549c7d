package services

import (
	"testing"

	"echoframe/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetPermission_GrantAndRevoke(t *testing.T) {
	f := newFixture(t)
	viewer := f.viewer(t, "viewer")
	f.publisher.reset()

	require.NoError(t, f.permissions.SetPermission(f.ctx, f.roomID, f.adminID, viewer, domain.PermissionVoice, true))
	assert.True(t, f.guest(t, viewer).Permissions.CanVoice)
	assert.NoError(t, f.permissions.Authorize(f.ctx, f.roomID, viewer, domain.PermissionVoice))
	assert.Len(t, f.publisher.ofType(domain.EventGuestUpdated), 1)

	// unchanged value emits nothing
	require.NoError(t, f.permissions.SetPermission(f.ctx, f.roomID, f.adminID, viewer, domain.PermissionVoice, true))
	assert.Len(t, f.publisher.ofType(domain.EventGuestUpdated), 1)

	require.NoError(t, f.permissions.SetPermission(f.ctx, f.roomID, f.adminID, viewer, domain.PermissionVoice, false))
	assert.ErrorIs(t, f.permissions.Authorize(f.ctx, f.roomID, viewer, domain.PermissionVoice), domain.ErrPermissionDenied)
}

func TestSetPermission_Rejections(t *testing.T) {
	f := newFixture(t)
	viewer := f.viewer(t, "viewer")
	other := f.viewer(t, "other")
	mod := f.moderator(t, "mod")
	pending := f.pending(t, "pending")

	err := f.permissions.SetPermission(f.ctx, f.roomID, viewer, other, domain.PermissionChat, false)
	assert.ErrorIs(t, err, domain.ErrNotController)

	err = f.permissions.SetPermission(f.ctx, f.roomID, f.adminID, mod, domain.PermissionChat, false)
	assert.ErrorIs(t, err, domain.ErrTargetIsController)

	err = f.permissions.SetPermission(f.ctx, f.roomID, f.adminID, pending.Guest.ID, domain.PermissionChat, false)
	assert.ErrorIs(t, err, domain.ErrGuestNotApproved)

	err = f.permissions.SetPermission(f.ctx, f.roomID, f.adminID, viewer, domain.PermissionKey("can_fly"), true)
	assert.Error(t, err)

	// a moderator may toggle a viewer
	require.NoError(t, f.permissions.SetPermission(f.ctx, f.roomID, mod, viewer, domain.PermissionChat, false))
	assert.False(t, f.guest(t, viewer).Permissions.CanChat)
}

func TestAuthorize_ControllersAlwaysAllowed(t *testing.T) {
	f := newFixture(t)
	mod := f.moderator(t, "mod")

	assert.NoError(t, f.permissions.Authorize(f.ctx, f.roomID, f.adminID, domain.PermissionVoice))
	assert.NoError(t, f.permissions.Authorize(f.ctx, f.roomID, mod, domain.PermissionVoice))
	assert.Equal(t, domain.ControllerPermissions(), f.permissions.Effective(f.guest(t, mod)))

	pending := f.pending(t, "pending")
	assert.ErrorIs(t, f.permissions.Authorize(f.ctx, f.roomID, pending.Guest.ID, domain.PermissionChat), domain.ErrNotMember)
}
