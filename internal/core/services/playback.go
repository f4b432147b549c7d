package services

import (
	"context"
	"errors"

	"echoframe/internal/core/domain"
	"echoframe/internal/core/playsync"
	"echoframe/internal/core/ports"
	"echoframe/pkg/validation"
)

var errMissingPosition = errors.New("seek requires a timestamp")

type playbackService struct {
	registry *Registry
	catalog  ports.VideoCatalog
}

// NewPlaybackService validates video switches against catalog.
func NewPlaybackService(registry *Registry, catalog ports.VideoCatalog) ports.PlaybackService {
	return &playbackService{registry: registry, catalog: catalog}
}

// ApplyControllerEvent applies a controller's play, pause, seek or switch.
// Every accepted command is broadcast as the new playback:state.
func (s *playbackService) ApplyControllerEvent(ctx context.Context, roomID domain.RoomID, actorID domain.GuestID, cmd domain.PlaybackCommand) (domain.PlaybackState, error) {
	switch cmd.Kind {
	case domain.PlaybackSwitch:
		return s.SwitchVideo(ctx, roomID, actorID, cmd.VideoID)
	case domain.PlaybackSeek:
		if cmd.Position == nil {
			return domain.PlaybackState{}, domain.InvalidInput(errMissingPosition)
		}
	case domain.PlaybackPlay, domain.PlaybackPause:
	default:
		_, err := domain.ParsePlaybackKind(string(cmd.Kind))
		return domain.PlaybackState{}, domain.InvalidInput(err)
	}
	if cmd.Position != nil {
		if err := validation.ValidatePosition(*cmd.Position); err != nil {
			return domain.PlaybackState{}, domain.InvalidInput(err)
		}
	}

	var state domain.PlaybackState
	err := s.registry.mutate(ctx, roomID, "playback_"+string(cmd.Kind), func(tx *roomTx) error {
		actor, err := tx.controller(actorID)
		if err != nil {
			return err
		}
		if err := tx.requireActive(); err != nil {
			return err
		}
		cur := tx.s.playback
		if cur.VideoID == "" {
			return domain.ErrNoVideo
		}

		next := cur
		next.Timestamp = cur.PositionAt(tx.now)
		if cmd.Position != nil {
			next.Timestamp = *cmd.Position
		}
		switch cmd.Kind {
		case domain.PlaybackPlay:
			next.IsPlaying = true
		case domain.PlaybackPause:
			next.IsPlaying = false
		}
		next.LastUpdated = tx.stamp()
		next.ControlledBy = actor.ID
		tx.setPlayback(next)
		state = next
		return nil
	})
	if err != nil {
		return domain.PlaybackState{}, err
	}
	s.registry.metrics.PlaybackCommand(cmd.Kind)
	return state, nil
}

// SwitchVideo loads a new video paused at zero. The catalog is consulted
// before the room is locked.
func (s *playbackService) SwitchVideo(ctx context.Context, roomID domain.RoomID, actorID domain.GuestID, videoID string) (domain.PlaybackState, error) {
	if err := validation.ValidateVideoID(videoID); err != nil {
		return domain.PlaybackState{}, domain.InvalidInput(err)
	}
	// cheap authorization check on the snapshot so viewers cannot test
	// the catalog
	snap, err := s.registry.Snapshot(roomID)
	if err != nil {
		return domain.PlaybackState{}, err
	}
	actor, ok := snap.Guest(actorID)
	if !ok || actor.Status != domain.GuestApproved {
		return domain.PlaybackState{}, domain.ErrNotMember
	}
	if !actor.Role.IsController() {
		return domain.PlaybackState{}, domain.ErrNotController
	}
	if s.catalog != nil {
		if err := s.catalog.ValidateVideo(ctx, videoID); err != nil {
			return domain.PlaybackState{}, err
		}
	}

	var state domain.PlaybackState
	err = s.registry.mutate(ctx, roomID, "playback_switch", func(tx *roomTx) error {
		actor, err := tx.controller(actorID)
		if err != nil {
			return err
		}
		if err := tx.requireActive(); err != nil {
			return err
		}
		tx.s.room.CurrentVideoID = videoID
		state = domain.PlaybackState{
			VideoID:      videoID,
			Timestamp:    0,
			IsPlaying:    false,
			LastUpdated:  tx.stamp(),
			ControlledBy: actor.ID,
		}
		tx.setPlayback(state)
		return nil
	})
	if err != nil {
		return domain.PlaybackState{}, err
	}
	s.registry.metrics.PlaybackCommand(domain.PlaybackSwitch)
	return state, nil
}

func (s *playbackService) State(ctx context.Context, roomID domain.RoomID) (domain.PlaybackState, error) {
	snap, err := s.registry.Snapshot(roomID)
	if err != nil {
		return domain.PlaybackState{}, err
	}
	return snap.Playback, nil
}

// Reconcile answers a follower's position report with the correction it
// should apply.
func (s *playbackService) Reconcile(ctx context.Context, roomID domain.RoomID, guestID domain.GuestID, report domain.FollowerReport) (domain.SyncInstruction, error) {
	if err := validation.ValidatePosition(report.Position); err != nil {
		return domain.SyncInstruction{}, domain.InvalidInput(err)
	}
	snap, err := s.registry.Snapshot(roomID)
	if err != nil {
		return domain.SyncInstruction{}, err
	}
	if g, ok := snap.Guest(guestID); !ok || g.Status != domain.GuestApproved {
		return domain.SyncInstruction{}, domain.ErrNotMember
	}
	if snap.Playback.VideoID == "" {
		return domain.SyncInstruction{}, domain.ErrNoVideo
	}

	instr := playsync.Decide(snap.Playback, report, s.registry.now().UTC(), s.registry.cfg.DriftThreshold)
	s.registry.metrics.DriftObserved(instr.Drift)
	return instr, nil
}
