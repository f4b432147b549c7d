package services

import (
	"encoding/json"
	"testing"
	"time"

	"echoframe/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRoom_AdminOwnsRoom(t *testing.T) {
	f := newFixture(t)

	snap, err := f.rooms.Snapshot(f.ctx, f.roomID)
	require.NoError(t, err)
	assert.True(t, snap.Room.Active)
	assert.Equal(t, f.adminID, snap.Room.AdminID)

	admin := f.guest(t, f.adminID)
	assert.Equal(t, domain.RoleAdmin, admin.Role)
	assert.Equal(t, domain.GuestApproved, admin.Status)
	assert.Equal(t, domain.ControllerPermissions(), admin.Permissions)

	_, _, err = f.rooms.OpenRoom(f.ctx, "x")
	assert.Error(t, err)
}

func TestCloseRoom(t *testing.T) {
	f := newFixture(t)
	mod := f.moderator(t, "mod")

	assert.ErrorIs(t, f.rooms.CloseRoom(f.ctx, f.roomID, mod), domain.ErrNotAdmin)

	f.publisher.reset()
	require.NoError(t, f.rooms.CloseRoom(f.ctx, f.roomID, f.adminID))
	status, err := f.rooms.Status(f.ctx, f.roomID)
	require.NoError(t, err)
	assert.False(t, status.Active)
	require.Len(t, f.publisher.ofType(domain.EventRoomClosed), 1)

	f.publisher.reset()
	require.NoError(t, f.rooms.CloseRoom(f.ctx, f.roomID, f.adminID))
	assert.Empty(t, f.publisher.events)

	_, err = f.playback.SwitchVideo(f.ctx, f.roomID, f.adminID, "v1")
	assert.ErrorIs(t, err, domain.ErrRoomInactive)
}

func TestCloseRoom_PausesPlaybackAndClearsRequests(t *testing.T) {
	f := newFixture(t)
	viewer := f.viewer(t, "viewer")
	f.switchTo(t, "v1")
	_, err := f.playback.ApplyControllerEvent(f.ctx, f.roomID, f.adminID, domain.PlaybackCommand{Kind: domain.PlaybackPlay})
	require.NoError(t, err)
	req, err := f.requests.Submit(f.ctx, f.roomID, viewer, domain.RequestInput{Type: domain.RequestPause})
	require.NoError(t, err)

	f.clock.Advance(3 * time.Second)
	require.NoError(t, f.rooms.CloseRoom(f.ctx, f.roomID, f.adminID))

	snap, err := f.rooms.Snapshot(f.ctx, f.roomID)
	require.NoError(t, err)
	assert.False(t, snap.Playback.IsPlaying)
	assert.InDelta(t, 3.0, snap.Playback.Timestamp, 1e-3)
	assert.Empty(t, snap.Requests)
	assert.NoError(t, f.requests.Approve(f.ctx, f.roomID, f.adminID, req.ID))
}

func TestClosedRoom_DroppedAfterRetention(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.rooms.CloseRoom(f.ctx, f.roomID, f.adminID))

	f.clock.Advance(30 * time.Minute)
	f.registry.CollectGarbage(f.ctx)
	_, err := f.rooms.Status(f.ctx, f.roomID)
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	f.registry.CollectGarbage(f.ctx)
	_, err = f.rooms.Status(f.ctx, f.roomID)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestEndSession(t *testing.T) {
	f := newFixture(t)
	session := f.pending(t, "alice")
	require.NoError(t, f.guests.ResolveJoin(f.ctx, f.roomID, f.adminID, session.Guest.ID, true))
	require.NoError(t, f.guests.MarkOnline(f.ctx, f.roomID, session.Guest.ID))

	require.NoError(t, f.rooms.EndSession(f.ctx, f.roomID, session.Guest.ID))
	alice := f.guest(t, session.Guest.ID)
	assert.False(t, alice.Online)
	assert.Equal(t, domain.GuestApproved, alice.Status)
	_, err := f.sessions.Authenticate(f.ctx, session.Token)
	assert.ErrorIs(t, err, domain.ErrSessionRevoked)

	status, _ := f.rooms.Status(f.ctx, f.roomID)
	assert.True(t, status.Active)

	f.publisher.reset()
	require.NoError(t, f.rooms.EndSession(f.ctx, f.roomID, f.adminID))
	status, _ = f.rooms.Status(f.ctx, f.roomID)
	assert.False(t, status.Active)

	closed := f.publisher.ofType(domain.EventRoomClosed)
	require.Len(t, closed, 1)
	var payload domain.RoomClosedPayload
	require.NoError(t, json.Unmarshal(closed[0].Payload, &payload))
	assert.Equal(t, f.roomID, payload.RoomID)
}

func TestStatus_CountsApprovedGuests(t *testing.T) {
	f := newFixture(t)
	viewer := f.viewer(t, "viewer")
	f.pending(t, "pending")
	require.NoError(t, f.guests.MarkOnline(f.ctx, f.roomID, viewer))

	status, err := f.rooms.Status(f.ctx, f.roomID)
	require.NoError(t, err)
	assert.Equal(t, 2, status.GuestCount)
	assert.Equal(t, 1, status.OnlineCount)

	_, err = f.rooms.Status(f.ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}
