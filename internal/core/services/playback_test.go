package services

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"echoframe/internal/core/domain"
	apperrors "echoframe/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwitchVideo_ResetsState(t *testing.T) {
	f := newFixture(t)
	mod := f.moderator(t, "mod")

	state, err := f.playback.SwitchVideo(f.ctx, f.roomID, mod, "v2")
	require.NoError(t, err)

	assert.Equal(t, "v2", state.VideoID)
	assert.Equal(t, 0.0, state.Timestamp)
	assert.False(t, state.IsPlaying)
	assert.Equal(t, mod, state.ControlledBy)

	status, err := f.rooms.Status(f.ctx, f.roomID)
	require.NoError(t, err)
	assert.Equal(t, "v2", status.CurrentVideoID)
}

func TestSwitchVideo_ThenRewindClampsAtZero(t *testing.T) {
	f := newFixture(t)
	mod := f.moderator(t, "mod")
	viewer := f.viewer(t, "viewer")

	_, err := f.playback.SwitchVideo(f.ctx, f.roomID, mod, "v2")
	require.NoError(t, err)

	req, err := f.requests.Submit(f.ctx, f.roomID, viewer, domain.RequestInput{Type: domain.RequestRewind, Seconds: 10})
	require.NoError(t, err)
	require.NoError(t, f.requests.Approve(f.ctx, f.roomID, mod, req.ID))

	state, err := f.playback.State(f.ctx, f.roomID)
	require.NoError(t, err)
	assert.Equal(t, "v2", state.VideoID)
	assert.Equal(t, 0.0, state.Timestamp)
	assert.False(t, state.IsPlaying)
}

func TestSwitchVideo_Errors(t *testing.T) {
	f := newFixture(t)
	viewer := f.viewer(t, "viewer")

	_, err := f.playback.SwitchVideo(f.ctx, f.roomID, viewer, "v2")
	assert.ErrorIs(t, err, domain.ErrNotController)

	_, err = f.playback.SwitchVideo(f.ctx, f.roomID, f.adminID, "missing")
	assert.ErrorIs(t, err, domain.ErrVideoNotFound)

	_, err = f.playback.SwitchVideo(f.ctx, f.roomID, f.adminID, "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))

	f.catalog.AssertNotCalled(t, "ValidateVideo", f.ctx, "v2")
}

func TestApplyControllerEvent_ViewerIsForbidden(t *testing.T) {
	f := newFixture(t)
	viewer := f.viewer(t, "viewer")
	f.switchTo(t, "v1")

	for _, kind := range []domain.PlaybackKind{domain.PlaybackPlay, domain.PlaybackPause, domain.PlaybackSeek} {
		_, err := f.playback.ApplyControllerEvent(f.ctx, f.roomID, viewer, domain.PlaybackCommand{Kind: kind, Position: ptr(5)})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden), "kind %s", kind)
	}
	_, err := f.playback.ApplyControllerEvent(f.ctx, f.roomID, viewer, domain.PlaybackCommand{Kind: domain.PlaybackSwitch, VideoID: "v9"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
}

func TestApplyControllerEvent_InvalidInput(t *testing.T) {
	f := newFixture(t)
	f.switchTo(t, "v1")

	cases := []domain.PlaybackCommand{
		{Kind: domain.PlaybackSeek},
		{Kind: domain.PlaybackSeek, Position: ptr(-1)},
		{Kind: domain.PlaybackSeek, Position: ptr(math.NaN())},
		{Kind: domain.PlaybackSwitch},
		{Kind: "rewind"},
	}
	for _, cmd := range cases {
		_, err := f.playback.ApplyControllerEvent(f.ctx, f.roomID, f.adminID, cmd)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput), "%+v", cmd)
	}
}

func TestApplyControllerEvent_RequiresVideo(t *testing.T) {
	f := newFixture(t)
	_, err := f.playback.ApplyControllerEvent(f.ctx, f.roomID, f.adminID, domain.PlaybackCommand{Kind: domain.PlaybackPlay})
	assert.ErrorIs(t, err, domain.ErrNoVideo)
}

func TestApplyControllerEvent_PlayPauseProjectsPosition(t *testing.T) {
	f := newFixture(t)
	f.switchTo(t, "v1")

	played, err := f.playback.ApplyControllerEvent(f.ctx, f.roomID, f.adminID, domain.PlaybackCommand{Kind: domain.PlaybackPlay, Position: ptr(100)})
	require.NoError(t, err)
	assert.True(t, played.IsPlaying)

	f.clock.Advance(4 * time.Second)
	paused, err := f.playback.ApplyControllerEvent(f.ctx, f.roomID, f.adminID, domain.PlaybackCommand{Kind: domain.PlaybackPause})
	require.NoError(t, err)
	assert.False(t, paused.IsPlaying)
	assert.InDelta(t, 104.0, paused.Timestamp, 1e-3)
	assert.True(t, paused.LastUpdated.After(played.LastUpdated))
}

func TestApplyControllerEvent_LastUpdatedStrictlyIncreases(t *testing.T) {
	f := newFixture(t)
	f.switchTo(t, "v1")

	var last time.Time
	for i := 0; i < 5; i++ {
		// the clock does not move between writes
		state, err := f.playback.ApplyControllerEvent(f.ctx, f.roomID, f.adminID, domain.PlaybackCommand{Kind: domain.PlaybackSeek, Position: ptr(float64(i))})
		require.NoError(t, err)
		assert.True(t, state.LastUpdated.After(last))
		last = state.LastUpdated
	}
}

func TestApplyControllerEvent_PublishesPlaybackState(t *testing.T) {
	f := newFixture(t)
	f.switchTo(t, "v1")
	f.publisher.reset()

	_, err := f.playback.ApplyControllerEvent(f.ctx, f.roomID, f.adminID, domain.PlaybackCommand{Kind: domain.PlaybackSeek, Position: ptr(42)})
	require.NoError(t, err)

	events := f.publisher.ofType(domain.EventPlaybackState)
	require.Len(t, events, 1)
	assert.Equal(t, domain.AudienceRoom, events[0].Audience)

	var state domain.PlaybackState
	require.NoError(t, json.Unmarshal(events[0].Payload, &state))
	assert.Equal(t, 42.0, state.Timestamp)
	assert.Equal(t, "v1", state.VideoID)
	assert.Equal(t, f.adminID, state.ControlledBy)
}

func TestReconcile_DriftBeyondThresholdSeeks(t *testing.T) {
	f := newFixture(t)
	viewer := f.viewer(t, "viewer")
	f.switchTo(t, "v1")
	_, err := f.playback.ApplyControllerEvent(f.ctx, f.roomID, f.adminID, domain.PlaybackCommand{Kind: domain.PlaybackPlay, Position: ptr(120)})
	require.NoError(t, err)

	f.clock.Advance(3 * time.Second)
	instr, err := f.playback.Reconcile(f.ctx, f.roomID, viewer, domain.FollowerReport{Position: 118, IsPlaying: true})
	require.NoError(t, err)
	assert.True(t, instr.Seek)
	assert.InDelta(t, 123.0, instr.Position, 1e-3)
	assert.InDelta(t, 5.0, instr.Drift, 1e-3)

	instr, err = f.playback.Reconcile(f.ctx, f.roomID, viewer, domain.FollowerReport{Position: 122, IsPlaying: true})
	require.NoError(t, err)
	assert.True(t, instr.InSync())
}

func TestReconcile_Errors(t *testing.T) {
	f := newFixture(t)
	viewer := f.viewer(t, "viewer")

	_, err := f.playback.Reconcile(f.ctx, f.roomID, viewer, domain.FollowerReport{Position: 1})
	assert.ErrorIs(t, err, domain.ErrNoVideo)

	f.switchTo(t, "v1")
	_, err = f.playback.Reconcile(f.ctx, f.roomID, "stranger", domain.FollowerReport{Position: 1})
	assert.ErrorIs(t, err, domain.ErrNotMember)

	_, err = f.playback.Reconcile(f.ctx, f.roomID, viewer, domain.FollowerReport{Position: -3})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
}
