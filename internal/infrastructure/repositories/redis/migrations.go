package redis

import (
	"context"
	"fmt"
	"time"

	"echoframe/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey = "echoframe:schema:version"
	migrationLockKey = "echoframe:lock:migrations"
)

// Migration is one forward step of the keyspace layout.
type Migration struct {
	Version int
	Up      func(ctx context.Context, client *redis.Client) error
}

// Migrate runs every migration newer than the stored schema version. Only
// one instance migrates at a time.
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	lock := distributed.NewLock(client, migrationLockKey, 30*time.Second)
	if err := lock.LockWithTimeout(ctx, 10*time.Second); err != nil {
		return fmt.Errorf("failed to take migration lock: %w", err)
	}
	defer lock.Unlock(context.Background())

	return migrate(ctx, client, migrations(), logger)
}

func migrate(ctx context.Context, client *redis.Client, steps []Migration, logger *zap.SugaredLogger) error {
	currentVersion, err := getSchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	target := latestVersion(steps)
	if currentVersion >= target {
		if logger != nil {
			logger.Debugw("schema is up to date", "version", currentVersion)
		}
		return nil
	}

	for _, m := range steps {
		if m.Version <= currentVersion {
			continue
		}
		if logger != nil {
			logger.Infow("running migration", "version", m.Version)
		}
		if err := m.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.Version, err)
		}
		if err := client.Set(ctx, schemaVersionKey, m.Version, 0).Err(); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}

	if logger != nil {
		logger.Infow("all migrations completed", "version", target)
	}
	return nil
}

func getSchemaVersion(ctx context.Context, client *redis.Client) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func latestVersion(steps []Migration) int {
	latest := 0
	for _, m := range steps {
		if m.Version > latest {
			latest = m.Version
		}
	}
	return latest
}

func migrations() []Migration {
	return []Migration{
		{
			// active room index
			Version: 1,
			Up: func(ctx context.Context, client *redis.Client) error {
				return client.SRem(ctx, activeRoomsKey, "").Err()
			},
		},
		{
			// rebuild the active index from stored snapshots, dropping
			// entries whose snapshot no longer exists
			Version: 2,
			Up:      rebuildActiveIndex,
		},
	}
}

func rebuildActiveIndex(ctx context.Context, client *redis.Client) error {
	ids, err := client.SMembers(ctx, activeRoomsKey).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		n, err := client.Exists(ctx, keyPrefix+id).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			if err := client.SRem(ctx, activeRoomsKey, id).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}
