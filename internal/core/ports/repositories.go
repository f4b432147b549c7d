package ports

import (
	"context"

	"echoframe/internal/core/domain"
)

// RoomRepository persists room snapshots so active rooms survive a restart.
type RoomRepository interface {
	Save(ctx context.Context, snap *domain.RoomSnapshot) error
	Get(ctx context.Context, id domain.RoomID) (*domain.RoomSnapshot, error)
	Delete(ctx context.Context, id domain.RoomID) error
	ListActive(ctx context.Context) ([]*domain.RoomSnapshot, error)
}

// ChatStore keeps the recent chat of each room, oldest first.
type ChatStore interface {
	// Append stores msg and reports false when a message with the same id
	// was already stored for the room.
	Append(ctx context.Context, msg domain.ChatMessage) (bool, error)
	// Recent returns at most limit of the newest messages, oldest first.
	Recent(ctx context.Context, roomID domain.RoomID, limit int) ([]domain.ChatMessage, error)
}
