package services

import (
	"context"
	"errors"
	"math"

	"echoframe/internal/core/domain"
	"echoframe/internal/core/ports"
	"echoframe/pkg/utils"
	"echoframe/pkg/validation"
)

type requestService struct {
	registry *Registry
}

// NewRequestService returns the viewer request service over registry.
func NewRequestService(registry *Registry) ports.RequestService {
	return &requestService{registry: registry}
}

// Submit records a viewer's request for the controllers. Each guest may
// submit once per cooldown, and a new pause or rewind replaces the guest's
// open request of the same type.
func (s *requestService) Submit(ctx context.Context, roomID domain.RoomID, guestID domain.GuestID, input domain.RequestInput) (domain.Request, error) {
	input, err := s.normalize(input)
	if err != nil {
		s.registry.metrics.RequestRejected("invalid")
		return domain.Request{}, err
	}

	var created domain.Request
	err = s.registry.mutate(ctx, roomID, "request_submit", func(tx *roomTx) error {
		if err := tx.requireActive(); err != nil {
			return err
		}
		g, err := tx.member(guestID)
		if err != nil {
			return err
		}
		if g.Role.IsController() {
			return domain.ErrControllerRequest
		}
		if tx.now.Before(g.NextRequestAt) {
			return domain.ErrRateLimited.WithContext("retry_at", g.NextRequestAt)
		}
		if input.Type == domain.RequestQuickMessage && !g.Effective().CanChat {
			return domain.ErrPermissionDenied
		}

		if input.Type.Replaceable() {
			for id, open := range tx.s.requests {
				if open.GuestID == g.ID && open.Type == input.Type {
					tx.resolve(id, domain.OutcomeSuperseded, "")
					s.registry.metrics.RequestResolved(domain.OutcomeSuperseded)
				}
			}
		}

		req := &domain.Request{
			ID:        domain.RequestID(utils.NewRequestID()),
			Type:      input.Type,
			GuestID:   g.ID,
			Username:  g.Username,
			Seconds:   input.Seconds,
			Message:   input.Message,
			CreatedAt: tx.now,
			Status:    domain.RequestOpen,
		}
		tx.s.requests[req.ID] = req
		g.NextRequestAt = tx.now.Add(tx.cfg.RequestCooldown)
		tx.event(domain.EventRequestNotify, domain.AudienceControllers, domain.RequestNotifyPayload{Request: *req})
		created = *req
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrRateLimited) {
			s.registry.metrics.RequestRejected("cooldown")
		}
		return domain.Request{}, err
	}
	s.registry.metrics.RequestSubmitted(created.Type)
	return created, nil
}

func (s *requestService) normalize(input domain.RequestInput) (domain.RequestInput, error) {
	if _, err := domain.ParseRequestType(string(input.Type)); err != nil {
		return input, domain.InvalidInput(err)
	}
	switch input.Type {
	case domain.RequestRewind:
		if err := validation.ValidateRewind(input.Seconds, s.registry.cfg.MaxRewind.Seconds()); err != nil {
			return input, domain.InvalidInput(err)
		}
		input.Message = ""
	case domain.RequestQuickMessage:
		msg, err := validation.NormalizeMessage(input.Message, s.registry.cfg.QuickMessageMaxLen)
		if err != nil {
			return input, domain.InvalidInput(err)
		}
		input.Message = msg
		input.Seconds = 0
	default:
		input.Seconds = 0
		input.Message = ""
	}
	return input, nil
}

// Approve resolves an open request and applies its playback effect.
// Approving an already resolved request is a no-op.
func (s *requestService) Approve(ctx context.Context, roomID domain.RoomID, actorID domain.GuestID, requestID domain.RequestID) error {
	approved := false
	var kind domain.PlaybackKind
	err := s.registry.mutate(ctx, roomID, "request_approve", func(tx *roomTx) error {
		actor, req, done, err := s.lookup(tx, actorID, requestID)
		if err != nil || done {
			return err
		}

		cur := tx.s.playback
		if cur.VideoID != "" {
			next := cur
			switch req.Type {
			case domain.RequestPause:
				next.Timestamp = cur.PositionAt(tx.now)
				next.IsPlaying = false
				kind = domain.PlaybackPause
			case domain.RequestRewind:
				next.Timestamp = math.Max(0, cur.PositionAt(tx.now)-req.Seconds)
				kind = domain.PlaybackSeek
			}
			if kind != "" {
				next.LastUpdated = tx.stamp()
				next.ControlledBy = actor.ID
				tx.setPlayback(next)
			}
		}

		tx.resolve(req.ID, domain.OutcomeApproved, actor.ID)
		approved = true
		return nil
	})
	if approved {
		s.registry.metrics.RequestResolved(domain.OutcomeApproved)
		if kind != "" {
			s.registry.metrics.PlaybackCommand(kind)
		}
	}
	return err
}

// Dismiss resolves an open request without side effects.
func (s *requestService) Dismiss(ctx context.Context, roomID domain.RoomID, actorID domain.GuestID, requestID domain.RequestID) error {
	dismissed := false
	err := s.registry.mutate(ctx, roomID, "request_dismiss", func(tx *roomTx) error {
		actor, req, done, err := s.lookup(tx, actorID, requestID)
		if err != nil || done {
			return err
		}
		tx.resolve(req.ID, domain.OutcomeDismissed, actor.ID)
		dismissed = true
		return nil
	})
	if dismissed {
		s.registry.metrics.RequestResolved(domain.OutcomeDismissed)
	}
	return err
}

// lookup authorizes the actor and finds the open request. done is true
// when the request was already resolved.
func (s *requestService) lookup(tx *roomTx, actorID domain.GuestID, requestID domain.RequestID) (*domain.Guest, *domain.Request, bool, error) {
	actor, err := tx.controller(actorID)
	if err != nil {
		return nil, nil, false, err
	}
	if req, ok := tx.s.requests[requestID]; ok {
		return actor, req, false, nil
	}
	if _, ok := tx.s.resolved[requestID]; ok {
		return actor, nil, true, nil
	}
	return nil, nil, false, domain.ErrRequestNotFound
}

// ListOpen returns open requests, oldest first.
func (s *requestService) ListOpen(ctx context.Context, roomID domain.RoomID, actorID domain.GuestID) ([]domain.Request, error) {
	snap, err := s.registry.Snapshot(roomID)
	if err != nil {
		return nil, err
	}
	actor, ok := snap.Guest(actorID)
	if !ok || actor.Status != domain.GuestApproved {
		return nil, domain.ErrNotMember
	}
	if !actor.Role.IsController() {
		return nil, domain.ErrNotController
	}
	out := make([]domain.Request, len(snap.Requests))
	copy(out, snap.Requests)
	return out, nil
}
