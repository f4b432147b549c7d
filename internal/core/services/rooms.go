package services

import (
	"context"

	"echoframe/internal/core/domain"
	"echoframe/internal/core/ports"
	"echoframe/pkg/utils"
	"echoframe/pkg/validation"
)

type roomService struct {
	registry *Registry
	sessions ports.SessionService
}

// NewRoomService returns the room lifecycle service over registry.
func NewRoomService(registry *Registry, sessions ports.SessionService) ports.RoomService {
	return &roomService{registry: registry, sessions: sessions}
}

// OpenRoom creates an active room owned by a new admin guest and returns
// the admin's session.
func (s *roomService) OpenRoom(ctx context.Context, adminName string) (*domain.RoomSnapshot, ports.Session, error) {
	name, err := validation.NormalizeUsername(adminName)
	if err != nil {
		return nil, ports.Session{}, domain.InvalidInput(err)
	}

	now := s.registry.now().UTC()
	room := domain.Room{
		ID:        domain.RoomID(utils.NewRoomID()),
		Active:    true,
		CreatedAt: now,
	}
	admin := &domain.Guest{
		ID:           domain.GuestID(utils.NewGuestID()),
		RoomID:       room.ID,
		Username:     name,
		Role:         domain.RoleAdmin,
		Permissions:  domain.ControllerPermissions(),
		Status:       domain.GuestApproved,
		CreatedAt:    now,
		SessionNonce: utils.NewNonce(),
	}
	room.AdminID = admin.ID
	if err := s.registry.claim(ctx, room.ID); err != nil {
		return nil, ports.Session{}, err
	}

	rs := newRoomSession(room)
	rs.addGuest(admin)
	snap := s.registry.insert(rs)
	s.registry.metrics.RoomOpened()
	s.registry.logger.Infow("room opened", "room_id", room.ID, "admin_id", admin.ID)

	session, err := s.sessions.Issue(*admin)
	if err != nil {
		return nil, ports.Session{}, err
	}
	return snap, session, nil
}

// CloseRoom deactivates the room. Closing a closed room is a no-op.
func (s *roomService) CloseRoom(ctx context.Context, roomID domain.RoomID, actorID domain.GuestID) error {
	return s.registry.mutate(ctx, roomID, "close_room", func(tx *roomTx) error {
		if _, err := tx.admin(actorID); err != nil {
			return err
		}
		if !tx.s.room.Active {
			return nil
		}
		closeRoom(tx)
		s.registry.metrics.RoomClosed()
		return nil
	})
}

func closeRoom(tx *roomTx) {
	closedAt := tx.now
	tx.s.room.Active = false
	tx.s.room.ClosedAt = &closedAt
	for id := range tx.s.requests {
		delete(tx.s.requests, id)
		tx.s.resolved[id] = tx.now
	}
	if tx.s.playback.IsPlaying {
		state := tx.s.playback
		state.Timestamp = state.PositionAt(tx.now)
		state.IsPlaying = false
		state.LastUpdated = tx.stamp()
		tx.setPlayback(state)
	}
	tx.event(domain.EventRoomClosed, domain.AudienceRoom, domain.RoomClosedPayload{
		RoomID:   tx.s.room.ID,
		ClosedAt: closedAt,
	})
}

// EndSession ends a guest's session explicitly. The admin ending their
// session closes the room; anyone else has their tokens revoked and is
// marked offline.
func (s *roomService) EndSession(ctx context.Context, roomID domain.RoomID, guestID domain.GuestID) error {
	return s.registry.mutate(ctx, roomID, "end_session", func(tx *roomTx) error {
		g, err := tx.guest(guestID)
		if err != nil {
			return err
		}
		if g.Role == domain.RoleAdmin && g.Status == domain.GuestApproved {
			if tx.s.room.Active {
				closeRoom(tx)
				s.registry.metrics.RoomClosed()
			}
			return nil
		}
		g.SessionNonce = utils.NewNonce()
		if g.Online {
			since := tx.now
			g.Online = false
			g.OfflineSince = &since
		}
		tx.touchRoster()
		return nil
	})
}

// Status is the public summary of a room, which stays readable after close.
func (s *roomService) Status(ctx context.Context, roomID domain.RoomID) (domain.RoomStatus, error) {
	snap, err := s.registry.Snapshot(roomID)
	if err != nil {
		return domain.RoomStatus{}, err
	}
	return snap.Status(), nil
}

func (s *roomService) Snapshot(ctx context.Context, roomID domain.RoomID) (*domain.RoomSnapshot, error) {
	return s.registry.Snapshot(roomID)
}
