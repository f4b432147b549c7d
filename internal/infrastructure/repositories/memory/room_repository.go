package memory

import (
	"context"
	"sort"
	"sync"

	"echoframe/internal/core/domain"
	"echoframe/internal/core/ports"
)

// MemoryRoomRepository keeps snapshots for the life of the process. It is
// the default when Redis is not configured.
type MemoryRoomRepository struct {
	rooms map[domain.RoomID]*domain.RoomSnapshot
	mu    sync.RWMutex
}

func NewMemoryRoomRepository() ports.RoomRepository {
	return &MemoryRoomRepository{
		rooms: make(map[domain.RoomID]*domain.RoomSnapshot),
	}
}

// Save stores snap unless a newer version of the room is already stored.
func (r *MemoryRoomRepository) Save(ctx context.Context, snap *domain.RoomSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, exists := r.rooms[snap.Room.ID]; exists && cur.Version > snap.Version {
		return nil
	}
	r.rooms[snap.Room.ID] = snap
	return nil
}

func (r *MemoryRoomRepository) Get(ctx context.Context, id domain.RoomID) (*domain.RoomSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap, exists := r.rooms[id]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}
	return snap, nil
}

// Delete is idempotent.
func (r *MemoryRoomRepository) Delete(ctx context.Context, id domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.rooms, id)
	return nil
}

func (r *MemoryRoomRepository) ListActive(ctx context.Context) ([]*domain.RoomSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []*domain.RoomSnapshot
	for _, snap := range r.rooms {
		if snap.Room.Active {
			active = append(active, snap)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].Room.CreatedAt.Before(active[j].Room.CreatedAt)
	})
	return active, nil
}
