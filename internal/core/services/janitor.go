package services

import (
	"context"
	"sync"
	"time"

	"echoframe/internal/core/ports"
)

// Janitor drives the registry's periodic work: request and room garbage
// collection, the playback heartbeat and, when rooms are shared between
// instances, ownership upkeep.
type Janitor struct {
	registry     *Registry
	gcInterval   time.Duration
	syncInterval time.Duration

	adoptFrom     ports.RoomRepository
	adoptInterval time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewJanitor returns a janitor for registry. A zero interval disables the
// matching loop.
func NewJanitor(registry *Registry, gcInterval, syncInterval time.Duration) *Janitor {
	return &Janitor{
		registry:     registry,
		gcInterval:   gcInterval,
		syncInterval: syncInterval,
		stop:         make(chan struct{}),
	}
}

// AdoptFrom makes the janitor refresh the registry's room claims every
// interval and load rooms of repo that no instance owns anymore. It must be
// called before Start.
func (j *Janitor) AdoptFrom(repo ports.RoomRepository, every time.Duration) {
	j.adoptFrom = repo
	j.adoptInterval = every
}

// Start launches the loops; they run until Stop or ctx is done.
func (j *Janitor) Start(ctx context.Context) {
	if j.gcInterval > 0 {
		j.wg.Add(1)
		go j.loop(ctx, j.gcInterval, j.registry.CollectGarbage)
	}
	if j.syncInterval > 0 {
		j.wg.Add(1)
		go j.loop(ctx, j.syncInterval, j.registry.Heartbeat)
	}
	if j.adoptFrom != nil && j.adoptInterval > 0 {
		j.wg.Add(1)
		go j.loop(ctx, j.adoptInterval, j.adopt)
	}
}

func (j *Janitor) adopt(ctx context.Context) {
	j.registry.VerifyOwnership(ctx)
	if _, err := j.registry.Restore(ctx, j.adoptFrom); err != nil {
		j.registry.logger.Warnw("room adoption failed", "error", err)
	}
}

func (j *Janitor) loop(ctx context.Context, every time.Duration, fn func(context.Context)) {
	defer j.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn(ctx)
		case <-j.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends every loop and waits for them. It is safe to call twice.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stop) })
	j.wg.Wait()
}
