package distributed

import (
	"context"
	"errors"
	"sync"
	"time"

	"echoframe/internal/core/domain"
	dlock "echoframe/pkg/distributed"

	"github.com/redis/go-redis/v9"
)

const roomLeasePrefix = "echoframe:lease:room:"

// RoomLeases claims rooms for this instance with one Redis lease per room.
// Held leases renew themselves; a lease whose holder dies expires after
// its TTL and the room can be adopted elsewhere.
type RoomLeases struct {
	locks *dlock.LockManager
	ttl   time.Duration

	mu   sync.Mutex
	held map[domain.RoomID]*dlock.Lock
}

// NewRoomLeases claims rooms with leases that expire ttl after their holder
// stops renewing them.
func NewRoomLeases(client *redis.Client, ttl time.Duration) *RoomLeases {
	return &RoomLeases{
		locks: dlock.NewLockManager(client, roomLeasePrefix),
		ttl:   ttl,
		held:  make(map[domain.RoomID]*dlock.Lock),
	}
}

// Claim takes the room's lease, or refreshes it when already held. It
// returns false when another instance holds it.
func (rl *RoomLeases) Claim(ctx context.Context, roomID domain.RoomID) (bool, error) {
	rl.mu.Lock()
	lock, ok := rl.held[roomID]
	rl.mu.Unlock()

	if ok {
		still, err := lock.Refresh(ctx)
		if err != nil {
			return false, err
		}
		if !still {
			rl.forget(roomID, lock)
			lock.Unlock(ctx)
		}
		return still, nil
	}

	lock = rl.locks.NewLock(string(roomID), rl.ttl)
	acquired, err := lock.TryLock(ctx)
	if err != nil || !acquired {
		return false, err
	}
	rl.mu.Lock()
	rl.held[roomID] = lock
	rl.mu.Unlock()
	return true, nil
}

// Release gives the room's lease up. Releasing a room that is not held is
// a no-op.
func (rl *RoomLeases) Release(ctx context.Context, roomID domain.RoomID) error {
	rl.mu.Lock()
	lock, ok := rl.held[roomID]
	delete(rl.held, roomID)
	rl.mu.Unlock()
	if !ok {
		return nil
	}
	if err := lock.Unlock(ctx); err != nil && !errors.Is(err, dlock.ErrNotHeld) {
		return err
	}
	return nil
}

// Held returns how many leases this instance holds.
func (rl *RoomLeases) Held() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.held)
}

func (rl *RoomLeases) forget(roomID domain.RoomID, lock *dlock.Lock) {
	rl.mu.Lock()
	if rl.held[roomID] == lock {
		delete(rl.held, roomID)
	}
	rl.mu.Unlock()
}
