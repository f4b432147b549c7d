package backup

import (
	"context"
	"encoding/json"
	"fmt"

	"echoframe/internal/core/domain"
	"echoframe/internal/core/ports"
	"echoframe/pkg/backup"

	"go.uber.org/zap"
)

// RestoreService loads archived snapshots into a repository. The
// repository keeps the higher version of a room, so restoring over newer
// state is harmless.
type RestoreService struct {
	backups *backup.BackupService
	repo    ports.RoomRepository
	logger  *zap.SugaredLogger
}

func NewRestoreService(backups *backup.BackupService, repo ports.RoomRepository, logger *zap.SugaredLogger) *RestoreService {
	return &RestoreService{backups: backups, repo: repo, logger: logger}
}

// RestoreFromBackup loads the named backup and returns how many rooms it
// saved. Closed rooms in the archive are skipped.
func (rs *RestoreService) RestoreFromBackup(ctx context.Context, name string) (int, error) {
	data, err := rs.backups.RestoreBackup(ctx, name)
	if err != nil {
		return 0, err
	}
	if data.Version == "" {
		return 0, fmt.Errorf("invalid backup %s: missing version", name)
	}

	restored := 0
	for id, raw := range data.Records {
		var snap domain.RoomSnapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			rs.logger.Warnw("skipping unreadable room", "backup_name", name, "room_id", id, "error", err)
			continue
		}
		if !snap.Room.Active {
			continue
		}
		if err := rs.repo.Save(ctx, &snap); err != nil {
			return restored, fmt.Errorf("failed to restore room %s: %w", id, err)
		}
		restored++
	}

	rs.logger.Infow("restore completed", "backup_name", name, "rooms", restored)
	return restored, nil
}

// RestoreLatest restores the newest backup when the repository holds no
// active room. It returns 0 when there was nothing to do.
func (rs *RestoreService) RestoreLatest(ctx context.Context) (int, error) {
	active, err := rs.repo.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	if len(active) > 0 {
		return 0, nil
	}
	name, err := rs.backups.Latest(ctx)
	if err != nil || name == "" {
		return 0, err
	}
	return rs.RestoreFromBackup(ctx, name)
}
