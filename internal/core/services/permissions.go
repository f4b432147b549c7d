package services

import (
	"context"

	"echoframe/internal/core/domain"
	"echoframe/internal/core/ports"
)

type permissionService struct {
	registry *Registry
}

// NewPermissionService returns the permission service over registry.
func NewPermissionService(registry *Registry) ports.PermissionService {
	return &permissionService{registry: registry}
}

func (s *permissionService) Effective(guest domain.Guest) domain.Permissions {
	return guest.Effective()
}

// SetPermission toggles a viewer capability. Controller permissions follow
// their role and cannot be set individually.
func (s *permissionService) SetPermission(ctx context.Context, roomID domain.RoomID, actorID, targetID domain.GuestID, key domain.PermissionKey, value bool) error {
	if _, err := domain.ParsePermissionKey(string(key)); err != nil {
		return domain.InvalidInput(err)
	}
	return s.registry.mutate(ctx, roomID, "set_permission", func(tx *roomTx) error {
		if _, err := tx.controller(actorID); err != nil {
			return err
		}
		target, err := tx.guest(targetID)
		if err != nil {
			return err
		}
		if target.Status != domain.GuestApproved {
			return domain.ErrGuestNotApproved
		}
		if target.Role.IsController() {
			return domain.ErrTargetIsController
		}
		if target.Permissions.Get(key) == value {
			return nil
		}

		target.Permissions = target.Permissions.With(key, value)
		tx.event(domain.EventGuestUpdated, domain.AudienceRoom, domain.GuestPayload{Guest: tx.view(target)})
		tx.touchRoster()
		return nil
	})
}

// Authorize checks a capability against the guest's permissions as they
// are right now.
func (s *permissionService) Authorize(ctx context.Context, roomID domain.RoomID, guestID domain.GuestID, key domain.PermissionKey) error {
	snap, err := s.registry.Snapshot(roomID)
	if err != nil {
		return err
	}
	if !snap.Room.Active {
		return domain.ErrRoomInactive
	}
	g, ok := snap.Guest(guestID)
	if !ok || g.Status != domain.GuestApproved {
		return domain.ErrNotMember
	}
	if !g.Effective().Get(key) {
		return domain.ErrPermissionDenied
	}
	return nil
}
