// Package playsync holds the follower side of playback synchronization:
// deciding when a follower has drifted far enough to correct, applying the
// correction without echoing it back as user input, and refusing seeks
// past the authoritative position.
package playsync

import (
	"math"
	"sync"
	"time"

	"echoframe/internal/core/domain"
)

type Config struct {
	// DriftThreshold is the tolerated |authoritative - local| before a seek.
	DriftThreshold time.Duration
	// GuardWindow suppresses the player's own events after a correction.
	GuardWindow time.Duration
	// SeekTolerance is how far past the authoritative position a follower
	// may seek.
	SeekTolerance time.Duration
}

// DefaultConfig matches the server's default room policy.
func DefaultConfig() Config {
	return Config{
		DriftThreshold: 1500 * time.Millisecond,
		GuardWindow:    300 * time.Millisecond,
		SeekTolerance:  2 * time.Second,
	}
}

// Decide computes the correction a follower at local needs to converge to
// auth at now. Within the threshold nothing is corrected, play state
// included; the play state is only matched together with a seek.
func Decide(auth domain.PlaybackState, local domain.FollowerReport, now time.Time, threshold time.Duration) domain.SyncInstruction {
	projected := auth.PositionAt(now)
	drift := projected - local.Position
	seek := math.Abs(drift) > threshold.Seconds()
	return domain.SyncInstruction{
		Seek:       seek,
		Position:   projected,
		IsPlaying:  auth.IsPlaying,
		SetPlaying: seek && local.IsPlaying != auth.IsPlaying,
		Drift:      drift,
	}
}

// SeekAllowed reports whether a follower may seek to target given auth.
func SeekAllowed(auth domain.PlaybackState, target float64, now time.Time, tolerance time.Duration) bool {
	return target <= auth.PositionAt(now)+tolerance.Seconds()
}

// Player is the follower's local media element.
type Player interface {
	Position() float64
	Playing() bool
	Seek(seconds float64)
	Play()
	Pause()
}

// Follower keeps one local player converged to the room's authority.
type Follower struct {
	cfg    Config
	player Player
	now    func() time.Time

	mu         sync.Mutex
	last       domain.PlaybackState
	hasLast    bool
	guardUntil time.Time
}

// NewFollower drives player towards the authoritative state.
func NewFollower(cfg Config, player Player) *Follower {
	return &Follower{cfg: cfg, player: player, now: time.Now}
}

// Apply consumes an authoritative state. States older than the last one
// applied are discarded and reported as not applied.
func (f *Follower) Apply(state domain.PlaybackState) (domain.SyncInstruction, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.hasLast && f.last.Supersedes(state) {
		return domain.SyncInstruction{}, false
	}
	if f.hasLast && f.last.VideoID != state.VideoID {
		// a new video always starts from the authoritative position
		f.last = state
		instr := domain.SyncInstruction{
			Seek:       true,
			Position:   state.PositionAt(f.now()),
			IsPlaying:  state.IsPlaying,
			SetPlaying: f.player.Playing() != state.IsPlaying,
		}
		f.correct(instr)
		return instr, true
	}
	f.last = state
	f.hasLast = true
	return f.reconcileLocked(), true
}

// Tick re-runs reconciliation against the last applied state.
func (f *Follower) Tick() domain.SyncInstruction {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasLast {
		return domain.SyncInstruction{}
	}
	return f.reconcileLocked()
}

func (f *Follower) reconcileLocked() domain.SyncInstruction {
	local := domain.FollowerReport{Position: f.player.Position(), IsPlaying: f.player.Playing()}
	instr := Decide(f.last, local, f.now(), f.cfg.DriftThreshold)
	f.correct(instr)
	return instr
}

func (f *Follower) correct(instr domain.SyncInstruction) {
	if instr.InSync() {
		return
	}
	f.guardUntil = f.now().Add(f.cfg.GuardWindow)
	if instr.Seek {
		f.player.Seek(instr.Position)
	}
	if instr.SetPlaying {
		if instr.IsPlaying {
			f.player.Play()
		} else {
			f.player.Pause()
		}
	}
}

// Suppressed reports whether player events right now are echoes of a
// correction and must not be treated as user actions.
func (f *Follower) Suppressed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now().Before(f.guardUntil)
}

// CheckSeek validates a user seek. A seek past the authoritative position
// plus tolerance is undone and false is returned.
func (f *Follower) CheckSeek(target float64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.hasLast || f.now().Before(f.guardUntil) {
		return true
	}
	if SeekAllowed(f.last, target, f.now(), f.cfg.SeekTolerance) {
		return true
	}
	f.guardUntil = f.now().Add(f.cfg.GuardWindow)
	f.player.Seek(f.last.PositionAt(f.now()))
	return false
}

// Last returns the last applied authoritative state.
func (f *Follower) Last() (domain.PlaybackState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, f.hasLast
}
