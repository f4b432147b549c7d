package services

import (
	"testing"

	"echoframe/internal/core/domain"
	"echoframe/internal/core/ports"
	apperrors "echoframe/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) domain.Command {
	t.Helper()
	cmd, err := domain.DecodeCommand([]byte(raw))
	require.NoError(t, err)
	return cmd
}

func TestDispatch_JoinFromLobbyIssuesSession(t *testing.T) {
	f := newFixture(t)
	lobby := ports.Actor{RoomID: f.roomID}

	reply, err := f.dispatcher.Dispatch(f.ctx, lobby, decode(t, `{"type":"join:request","payload":{"username":"alice"}}`))
	require.NoError(t, err)
	require.NotNil(t, reply)
	require.NotNil(t, reply.Session)
	assert.Equal(t, domain.EventSessionIssued, reply.Type)
	assert.Equal(t, domain.GuestPending, reply.Session.Guest.Status)

	_, err = f.dispatcher.Dispatch(f.ctx, ports.Actor{RoomID: f.roomID, GuestID: f.adminID}, decode(t, `{"type":"join:request","payload":{"username":"again"}}`))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
}

func TestDispatch_LobbyCannotSendOtherCommands(t *testing.T) {
	f := newFixture(t)
	_, err := f.dispatcher.Dispatch(f.ctx, ports.Actor{RoomID: f.roomID}, decode(t, `{"type":"request:submit","payload":{"type":"pause"}}`))
	assert.ErrorIs(t, err, domain.ErrNotMember)
}

func TestDispatch_SilencesStaleResolutions(t *testing.T) {
	f := newFixture(t)
	admin := ports.Actor{RoomID: f.roomID, GuestID: f.adminID}
	session := f.pending(t, "alice")
	require.NoError(t, f.guests.ResolveJoin(f.ctx, f.roomID, f.adminID, session.Guest.ID, false))

	cases := []string{
		`{"type":"join:resolve","payload":{"guest_id":"` + string(session.Guest.ID) + `","accept":true}}`,
		`{"type":"join:resolve","payload":{"guest_id":"ghost","accept":true}}`,
		`{"type":"request:approve","payload":{"request_id":"ghost"}}`,
		`{"type":"request:dismiss","payload":{"request_id":"ghost"}}`,
		`{"type":"guest:kick","payload":{"target_id":"ghost"}}`,
	}
	for _, raw := range cases {
		reply, err := f.dispatcher.Dispatch(f.ctx, admin, decode(t, raw))
		assert.NoError(t, err, raw)
		assert.Nil(t, reply)
	}
}

func TestDispatch_SurfacesForbiddenAndInvalidInput(t *testing.T) {
	f := newFixture(t)
	viewer := ports.Actor{RoomID: f.roomID, GuestID: f.viewer(t, "viewer")}
	f.switchTo(t, "v1")

	_, err := f.dispatcher.Dispatch(f.ctx, viewer, decode(t, `{"type":"playback:event","payload":{"kind":"play"}}`))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

	_, err = f.dispatcher.Dispatch(f.ctx, viewer, decode(t, `{"type":"request:approve","payload":{"request_id":"ghost"}}`))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

	_, err = f.dispatcher.Dispatch(f.ctx, viewer, decode(t, `{"type":"request:submit","payload":{"type":"rewind","payload":{"seconds":-1}}}`))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
}

func TestDispatch_PlaybackAndRequests(t *testing.T) {
	f := newFixture(t)
	admin := ports.Actor{RoomID: f.roomID, GuestID: f.adminID}
	viewerID := f.viewer(t, "viewer")
	viewer := ports.Actor{RoomID: f.roomID, GuestID: viewerID}

	_, err := f.dispatcher.Dispatch(f.ctx, admin, decode(t, `{"type":"playback:event","payload":{"kind":"switch","payload":{"video_id":"v7"}}}`))
	require.NoError(t, err)
	_, err = f.dispatcher.Dispatch(f.ctx, admin, decode(t, `{"type":"playback:event","payload":{"kind":"seek","payload":{"timestamp":30}}}`))
	require.NoError(t, err)

	state, _ := f.playback.State(f.ctx, f.roomID)
	assert.Equal(t, "v7", state.VideoID)
	assert.Equal(t, 30.0, state.Timestamp)

	_, err = f.dispatcher.Dispatch(f.ctx, viewer, decode(t, `{"type":"request:submit","payload":{"type":"rewind","payload":{"seconds":10}}}`))
	require.NoError(t, err)
	open, err := f.requests.ListOpen(f.ctx, f.roomID, f.adminID)
	require.NoError(t, err)
	require.Len(t, open, 1)

	_, err = f.dispatcher.Dispatch(f.ctx, admin, decode(t, `{"type":"request:approve","payload":{"request_id":"`+string(open[0].ID)+`"}}`))
	require.NoError(t, err)
	state, _ = f.playback.State(f.ctx, f.roomID)
	assert.Equal(t, 20.0, state.Timestamp)

	reply, err := f.dispatcher.Dispatch(f.ctx, viewer, decode(t, `{"type":"sync:report","payload":{"timestamp":0,"is_playing":false}}`))
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, domain.EventSyncInstruction, reply.Type)
	instr, ok := reply.Payload.(domain.SyncInstruction)
	require.True(t, ok)
	assert.True(t, instr.Seek)
	assert.Equal(t, 20.0, instr.Position)
}

func TestDispatch_RoleAndPermissionCommands(t *testing.T) {
	f := newFixture(t)
	admin := ports.Actor{RoomID: f.roomID, GuestID: f.adminID}
	viewerID := f.viewer(t, "viewer")

	_, err := f.dispatcher.Dispatch(f.ctx, admin, decode(t, `{"type":"permission:set","payload":{"target_id":"`+string(viewerID)+`","key":"can_voice","value":true}}`))
	require.NoError(t, err)
	assert.True(t, f.guest(t, viewerID).Permissions.CanVoice)

	_, err = f.dispatcher.Dispatch(f.ctx, admin, decode(t, `{"type":"guest:promote","payload":{"target_id":"`+string(viewerID)+`"}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.RoleModerator, f.guest(t, viewerID).Role)

	_, err = f.dispatcher.Dispatch(f.ctx, admin, decode(t, `{"type":"guest:demote","payload":{"target_id":"`+string(viewerID)+`"}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.ViewerDefaults(), f.guest(t, viewerID).Permissions)
}
