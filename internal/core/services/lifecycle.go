package services

import (
	"context"

	"echoframe/internal/core/domain"
	"echoframe/internal/core/ports"
	"echoframe/pkg/utils"
	"echoframe/pkg/validation"
)

type guestService struct {
	registry *Registry
	sessions ports.SessionService
}

// NewGuestService returns the guest lifecycle service over registry.
func NewGuestService(registry *Registry, sessions ports.SessionService) ports.GuestService {
	return &guestService{registry: registry, sessions: sessions}
}

// RequestJoin creates a pending guest and hands back its session. The
// guest stays pending until a controller resolves the join.
func (s *guestService) RequestJoin(ctx context.Context, roomID domain.RoomID, username string) (ports.Session, error) {
	name, err := validation.NormalizeUsername(username)
	if err != nil {
		return ports.Session{}, domain.InvalidInput(err)
	}

	var guest domain.Guest
	err = s.registry.mutate(ctx, roomID, "join_request", func(tx *roomTx) error {
		if err := tx.requireActive(); err != nil {
			return err
		}
		g := &domain.Guest{
			ID:           domain.GuestID(utils.NewGuestID()),
			RoomID:       roomID,
			Username:     name,
			Role:         domain.RoleViewer,
			Permissions:  domain.ViewerDefaults(),
			Status:       domain.GuestPending,
			CreatedAt:    tx.now,
			SessionNonce: utils.NewNonce(),
		}
		tx.s.addGuest(g)
		tx.event(domain.EventJoinPending, domain.AudienceControllers, domain.GuestPayload{Guest: tx.view(g)})
		tx.touchRoster()
		guest = *g
		return nil
	})
	if err != nil {
		return ports.Session{}, err
	}

	s.registry.metrics.GuestTransition(domain.GuestPending)
	return s.sessions.Issue(guest)
}

// ResolveJoin accepts or rejects a pending guest. Repeating the same
// resolution is a no-op; any other transition out of a resolved state is
// ErrNotPending.
func (s *guestService) ResolveJoin(ctx context.Context, roomID domain.RoomID, actorID, guestID domain.GuestID, accept bool) error {
	var to domain.GuestStatus
	err := s.registry.mutate(ctx, roomID, "join_resolve", func(tx *roomTx) error {
		if _, err := tx.controller(actorID); err != nil {
			return err
		}
		g, err := tx.guest(guestID)
		if err != nil {
			return err
		}

		to = domain.GuestRejected
		if accept {
			to = domain.GuestApproved
		}
		if g.Status != domain.GuestPending {
			if g.Status == to {
				to = ""
				return nil
			}
			return domain.ErrNotPending
		}
		if accept {
			if err := tx.requireActive(); err != nil {
				return err
			}
			g.Permissions = domain.ViewerDefaults()
		}

		g.Status = to
		payload := domain.JoinResolvedPayload{GuestID: g.ID, Accepted: accept}
		ev := domain.NewEvent(domain.EventJoinResolved, roomID, domain.AudienceControllers, payload, tx.now)
		tx.emit(ev)
		tx.emit(ev.To(g.ID))
		if accept {
			tx.touchRoster()
		}
		return nil
	})
	if err == nil && to != "" {
		s.registry.metrics.GuestTransition(to)
	}
	return err
}

// Kick removes an approved guest for good. The actor must be a controller
// that outranks the target.
func (s *guestService) Kick(ctx context.Context, roomID domain.RoomID, actorID, targetID domain.GuestID) error {
	kicked := false
	err := s.registry.mutate(ctx, roomID, "kick", func(tx *roomTx) error {
		actor, err := tx.controller(actorID)
		if err != nil {
			return err
		}
		if actorID == targetID {
			return domain.ErrSelfTarget
		}
		target, err := tx.guest(targetID)
		if err != nil {
			return err
		}
		if target.Status == domain.GuestKicked {
			return nil
		}
		if target.Status != domain.GuestApproved {
			return domain.ErrGuestNotApproved
		}
		if !actor.Role.Outranks(target.Role) {
			return domain.ErrOutranked
		}

		target.Status = domain.GuestKicked
		target.SessionNonce = utils.NewNonce()
		if target.Online {
			since := tx.now
			target.Online = false
			target.OfflineSince = &since
		}
		tx.dropRequestsOf(target.ID, domain.OutcomeDismissed)
		tx.event(domain.EventGuestKicked, domain.AudienceRoom, domain.GuestKickedPayload{
			TargetID: target.ID,
			KickedBy: actor.ID,
		})
		tx.touchRoster()
		kicked = true
		return nil
	})
	if kicked {
		s.registry.metrics.GuestTransition(domain.GuestKicked)
		s.registry.logger.Infow("guest kicked", "room_id", roomID, "guest_id", targetID, "by", actorID)
	}
	return err
}

// Promote makes an approved viewer a moderator.
func (s *guestService) Promote(ctx context.Context, roomID domain.RoomID, actorID, targetID domain.GuestID) error {
	return s.changeRole(ctx, roomID, actorID, targetID, domain.RoleViewer, domain.RoleModerator)
}

// Demote returns a moderator to viewer.
func (s *guestService) Demote(ctx context.Context, roomID domain.RoomID, actorID, targetID domain.GuestID) error {
	return s.changeRole(ctx, roomID, actorID, targetID, domain.RoleModerator, domain.RoleViewer)
}

func (s *guestService) changeRole(ctx context.Context, roomID domain.RoomID, actorID, targetID domain.GuestID, from, to domain.Role) error {
	op := "promote"
	if to < from {
		op = "demote"
	}
	return s.registry.mutate(ctx, roomID, op, func(tx *roomTx) error {
		if _, err := tx.admin(actorID); err != nil {
			return err
		}
		if actorID == targetID {
			return domain.ErrSelfTarget
		}
		target, err := tx.guest(targetID)
		if err != nil {
			return err
		}
		if target.Status != domain.GuestApproved {
			return domain.ErrGuestNotApproved
		}
		if target.Role != from {
			return domain.ErrRoleMismatch
		}

		target.Role = to
		if to.IsController() {
			target.Permissions = domain.ControllerPermissions()
			// controllers act directly, their pending asks are moot
			tx.dropRequestsOf(target.ID, domain.OutcomeDismissed)
		} else {
			target.Permissions = domain.ViewerDefaults()
		}
		tx.event(domain.EventGuestUpdated, domain.AudienceRoom, domain.GuestPayload{Guest: tx.view(target)})
		tx.touchRoster()
		return nil
	})
}

// MarkOnline records a live connection. Presence is informational only.
func (s *guestService) MarkOnline(ctx context.Context, roomID domain.RoomID, guestID domain.GuestID) error {
	return s.registry.mutate(ctx, roomID, "online", func(tx *roomTx) error {
		g, err := tx.guest(guestID)
		if err != nil {
			return err
		}
		if g.Status.Terminal() {
			return domain.ErrSessionRevoked
		}
		if g.Online {
			return nil
		}
		g.Online = true
		g.OfflineSince = nil
		tx.touchRoster()
		return nil
	})
}

// MarkOffline records that the guest's last connection closed.
func (s *guestService) MarkOffline(ctx context.Context, roomID domain.RoomID, guestID domain.GuestID) error {
	return s.registry.mutate(ctx, roomID, "offline", func(tx *roomTx) error {
		g, err := tx.guest(guestID)
		if err != nil {
			return err
		}
		if !g.Online {
			return nil
		}
		since := tx.now
		g.Online = false
		g.OfflineSince = &since
		tx.touchRoster()
		return nil
	})
}

// Roster lists the room's approved guests in join order.
func (s *guestService) Roster(ctx context.Context, roomID domain.RoomID) ([]domain.GuestView, error) {
	snap, err := s.registry.Snapshot(roomID)
	if err != nil {
		return nil, err
	}
	return snap.Roster(s.registry.now().UTC(), s.registry.cfg.PresenceStaleAfter), nil
}

// Pending lists guests awaiting approval. Only controllers may see it.
func (s *guestService) Pending(ctx context.Context, roomID domain.RoomID, actorID domain.GuestID) ([]domain.GuestView, error) {
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

	now := s.registry.now().UTC()
	pending := snap.GuestsWithStatus(domain.GuestPending)
	views := make([]domain.GuestView, 0, len(pending))
	for _, g := range pending {
		views = append(views, g.View(now, s.registry.cfg.PresenceStaleAfter))
	}
	return views, nil
}

// Guest returns one guest of any status.
func (s *guestService) Guest(ctx context.Context, roomID domain.RoomID, guestID domain.GuestID) (domain.GuestView, error) {
	snap, err := s.registry.Snapshot(roomID)
	if err != nil {
		return domain.GuestView{}, err
	}
	g, ok := snap.Guest(guestID)
	if !ok {
		return domain.GuestView{}, domain.ErrGuestNotFound
	}
	return g.View(s.registry.now().UTC(), s.registry.cfg.PresenceStaleAfter), nil
}
