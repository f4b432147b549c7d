package services

import (
	"context"
	"sync"
	"time"

	"echoframe/internal/core/domain"
	"echoframe/internal/core/ports"
	"echoframe/pkg/retry"

	"go.uber.org/zap"
)

// Persister writes room snapshots to the repository in the background.
// Bursts of commits to one room collapse into a single write of the newest
// snapshot, and no write ever happens under a room lock.
type Persister struct {
	repo     ports.RoomRepository
	debounce time.Duration
	retry    retry.Config
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	pending map[domain.RoomID]*domain.RoomSnapshot
	deletes map[domain.RoomID]struct{}

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewPersister writes snapshots to repo at most once per debounce per room.
func NewPersister(repo ports.RoomRepository, debounce time.Duration, logger *zap.Logger) *Persister {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = 3
	return &Persister{
		repo:     repo,
		debounce: debounce,
		retry:    cfg,
		logger:   logger.Sugar().Named("persister"),
		pending:  make(map[domain.RoomID]*domain.RoomSnapshot),
		deletes:  make(map[domain.RoomID]struct{}),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Schedule queues snap unless a newer snapshot of the room is queued.
func (p *Persister) Schedule(snap *domain.RoomSnapshot) {
	p.mu.Lock()
	if cur, ok := p.pending[snap.Room.ID]; !ok || cur.Version < snap.Version {
		p.pending[snap.Room.ID] = snap
	}
	delete(p.deletes, snap.Room.ID)
	p.mu.Unlock()
	p.signal()
}

// Forget queues removal of a room's stored snapshot.
func (p *Persister) Forget(id domain.RoomID) {
	p.mu.Lock()
	delete(p.pending, id)
	p.deletes[id] = struct{}{}
	p.mu.Unlock()
	p.signal()
}

func (p *Persister) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run writes queued snapshots until Stop is called.
func (p *Persister) Run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-p.wake:
		case <-p.stop:
			p.Flush(context.Background())
			return
		case <-ctx.Done():
			p.Flush(context.Background())
			return
		}

		if p.debounce > 0 {
			timer := time.NewTimer(p.debounce)
			select {
			case <-timer.C:
			case <-p.stop:
				timer.Stop()
			case <-ctx.Done():
				timer.Stop()
			}
		}
		p.Flush(ctx)
	}
}

// Flush writes everything queued so far.
func (p *Persister) Flush(ctx context.Context) {
	p.mu.Lock()
	pending, deletes := p.pending, p.deletes
	p.pending = make(map[domain.RoomID]*domain.RoomSnapshot)
	p.deletes = make(map[domain.RoomID]struct{})
	p.mu.Unlock()

	for id, snap := range pending {
		err := retry.Retry(ctx, p.retry, func() error { return p.repo.Save(ctx, snap) })
		if err != nil {
			p.logger.Errorw("failed to persist room snapshot", "room_id", id, "version", snap.Version, "error", err)
		}
	}
	for id := range deletes {
		if err := p.repo.Delete(ctx, id); err != nil {
			p.logger.Warnw("failed to delete room snapshot", "room_id", id, "error", err)
		}
	}
}

// Stop flushes and waits for Run to return.
func (p *Persister) Stop() {
	close(p.stop)
	<-p.done
}
