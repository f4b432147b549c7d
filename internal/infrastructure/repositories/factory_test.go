package repositories

import (
	"context"
	"testing"

	"echoframe/internal/infrastructure/repositories/memory"
	"echoframe/pkg/config"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestRepositoryFactory_MemoryWhenRedisDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = false

	f := NewRepositoryFactory(cfg, zaptest.NewLogger(t).Sugar())

	assert.IsType(t, &memory.MemoryRoomRepository{}, f.CreateRoomRepository())
	assert.IsType(t, &memory.MemoryChatStore{}, f.CreateChatStore())
	assert.Same(t, f.CreateChatStore(), f.CreateChatStore(), "one chat store per process")
	assert.Nil(t, f.RedisClient())
	assert.NoError(t, f.HealthCheck(context.Background()))
	assert.NoError(t, f.Close())
}

func TestRepositoryFactory_FallsBackWhenRedisUnreachable(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = "127.0.0.1:1"

	f := NewRepositoryFactory(cfg, zaptest.NewLogger(t).Sugar())

	assert.IsType(t, &memory.MemoryRoomRepository{}, f.CreateRoomRepository())
	assert.Nil(t, f.RedisClient())
}
