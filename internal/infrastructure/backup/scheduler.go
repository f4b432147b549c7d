// Package backup archives active room snapshots off the repository and
// loads them back on start.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"echoframe/internal/core/ports"
	"echoframe/pkg/backup"
	"echoframe/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const schedulerLockKey = "echoframe:lock:backup"

type Config struct {
	Interval  time.Duration
	Retention time.Duration
}

// Scheduler periodically writes every active room snapshot to one
// backup. With a Redis client only the instance holding the backup lock
// writes in a given round.
type Scheduler struct {
	backups  *backup.BackupService
	repo     ports.RoomRepository
	lock     *distributed.Lock
	cfg      Config
	logger   *zap.SugaredLogger
	now      func() time.Time
	stopChan chan struct{}
	done     chan struct{}
}

func NewScheduler(backups *backup.BackupService, repo ports.RoomRepository, client *redis.Client, cfg Config, logger *zap.SugaredLogger) *Scheduler {
	s := &Scheduler{
		backups:  backups,
		repo:     repo,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	if client != nil {
		s.lock = distributed.NewLock(client, schedulerLockKey, cfg.Interval)
	}
	return s
}

// Start runs until Stop is called or ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Errorw("scheduled backup failed", "error", err)
			}
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopChan)
	<-s.done
}

// RunOnce writes one backup and prunes old ones. It returns the backup
// name, or "" when another instance holds the lock.
func (s *Scheduler) RunOnce(ctx context.Context) (string, error) {
	if s.lock != nil {
		ok, err := s.lock.TryLock(ctx)
		if err != nil {
			return "", err
		}
		if !ok {
			s.logger.Debug("backup skipped, another instance holds the lock")
			return "", nil
		}
		defer s.lock.Unlock(context.Background())
	}

	data, err := s.collect(ctx)
	if err != nil {
		return "", err
	}
	name, err := s.backups.CreateBackup(ctx, data)
	if err != nil {
		return "", err
	}
	s.logger.Infow("backup created", "backup_name", name, "rooms", len(data.Records))

	if s.cfg.Retention > 0 {
		deleted, err := s.backups.Prune(ctx, s.now().Add(-s.cfg.Retention))
		if err != nil {
			s.logger.Warnw("failed to prune old backups", "error", err)
		} else if deleted > 0 {
			s.logger.Infow("pruned old backups", "count", deleted)
		}
	}
	return name, nil
}

func (s *Scheduler) collect(ctx context.Context) (*backup.BackupData, error) {
	snaps, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}

	data := &backup.BackupData{
		Records:  make(map[string]json.RawMessage, len(snaps)),
		Metadata: map[string]interface{}{"backup_type": "scheduled"},
	}
	guests := 0
	for _, snap := range snaps {
		raw, err := json.Marshal(snap)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal room %s: %w", snap.Room.ID, err)
		}
		data.Records[string(snap.Room.ID)] = raw
		guests += len(snap.Guests)
	}
	data.Metadata["room_count"] = len(snaps)
	data.Metadata["guest_count"] = guests
	return data, nil
}
