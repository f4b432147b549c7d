package repositories

import (
	"context"

	"echoframe/internal/core/ports"
	"echoframe/internal/infrastructure/repositories/memory"
	redisrepo "echoframe/internal/infrastructure/repositories/redis"
	"echoframe/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories, falling back to memory when
// Redis is disabled or unreachable.
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	cfg         *config.Config
	logger      *zap.SugaredLogger

	memoryChat *memory.MemoryChatStore
}

// NewRepositoryFactory connects to Redis when enabled and falls back to
// memory when it cannot.
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		cfg:      cfg,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}
	return factory
}

// CreateRoomRepository returns the snapshot store for the chosen backend.
func (f *RepositoryFactory) CreateRoomRepository() ports.RoomRepository {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRedisRoomRepository(f.redisClient, f.cfg.Room.ClosedRoomRetention)
	}
	return memory.NewMemoryRoomRepository()
}

// CreateChatStore keeps chat history in Redis when available so it
// follows a room to whichever instance adopts it.
func (f *RepositoryFactory) CreateChatStore() ports.ChatStore {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRedisChatStore(f.redisClient, f.cfg.Chat.HistoryLimit, f.cfg.Chat.Retention)
	}
	if f.memoryChat == nil {
		f.memoryChat = memory.NewMemoryChatStore(f.cfg.Chat.HistoryLimit, f.cfg.Chat.Retention)
	}
	return f.memoryChat
}

// RedisClient returns the shared client, or nil when running on memory.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	if !f.useRedis {
		return nil
	}
	return f.redisClient
}

func (f *RepositoryFactory) Close() error {
	if f.memoryChat != nil {
		f.memoryChat.Close()
	}
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
