package domain

import (
	"fmt"
	"time"
)

type PlaybackKind string

const (
	PlaybackPlay   PlaybackKind = "play"
	PlaybackPause  PlaybackKind = "pause"
	PlaybackSeek   PlaybackKind = "seek"
	PlaybackSwitch PlaybackKind = "switch"
)

func ParsePlaybackKind(s string) (PlaybackKind, error) {
	switch PlaybackKind(s) {
	case PlaybackPlay, PlaybackPause, PlaybackSeek, PlaybackSwitch:
		return PlaybackKind(s), nil
	}
	return "", fmt.Errorf("unknown playback kind %q", s)
}

// PlaybackState is the room's authoritative playback. Timestamp is a video
// position in seconds; LastUpdated is the authority's wall clock and only
// orders writes and projects a playing position forward.
type PlaybackState struct {
	VideoID      string    `json:"video_id"`
	Timestamp    float64   `json:"timestamp"`
	IsPlaying    bool      `json:"is_playing"`
	LastUpdated  time.Time `json:"last_updated"`
	ControlledBy GuestID   `json:"controlled_by,omitempty"`
}

// PositionAt projects the position to now.
func (s PlaybackState) PositionAt(now time.Time) float64 {
	if !s.IsPlaying || s.LastUpdated.IsZero() {
		return s.Timestamp
	}
	elapsed := now.Sub(s.LastUpdated).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return s.Timestamp + elapsed
}

// Supersedes reports whether s was written after other.
func (s PlaybackState) Supersedes(other PlaybackState) bool {
	return s.LastUpdated.After(other.LastUpdated)
}

// PlaybackCommand is a controller's playback mutation. Position is optional
// for play and pause, where it defaults to the projected position.
type PlaybackCommand struct {
	Kind     PlaybackKind `json:"kind"`
	Position *float64     `json:"timestamp,omitempty"`
	VideoID  string       `json:"video_id,omitempty"`
}

// FollowerReport is a follower's view of its own player.
type FollowerReport struct {
	Position  float64 `json:"timestamp"`
	IsPlaying bool    `json:"is_playing"`
}

// SyncInstruction tells a follower how to converge.
type SyncInstruction struct {
	Seek      bool    `json:"seek"`
	Position  float64 `json:"timestamp"`
	IsPlaying bool    `json:"is_playing"`
	// SetPlaying is true when the follower's play state must change.
	SetPlaying bool    `json:"set_playing"`
	Drift      float64 `json:"drift"`
}

// InSync reports whether the follower needs no correction.
func (i SyncInstruction) InSync() bool {
	return !i.Seek && !i.SetPlaying
}
