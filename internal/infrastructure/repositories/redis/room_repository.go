package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"echoframe/internal/core/domain"
	"echoframe/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix      = "echoframe:room:"
	activeRoomsKey = "echoframe:rooms:active"
)

// saveScript writes a snapshot only if it is newer than the stored one and
// keeps the active index in step with it.
//
// KEYS[1] room hash, KEYS[2] active set
// ARGV[1] version, ARGV[2] json, ARGV[3] active flag, ARGV[4] room id,
// ARGV[5] ttl seconds for closed rooms (0 keeps them)
var saveScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'data', ARGV[2])
if ARGV[3] == '1' then
	redis.call('SADD', KEYS[2], ARGV[4])
	redis.call('PERSIST', KEYS[1])
else
	redis.call('SREM', KEYS[2], ARGV[4])
	if tonumber(ARGV[5]) > 0 then
		redis.call('EXPIRE', KEYS[1], ARGV[5])
	end
end
return 1
`)

type RedisRoomRepository struct {
	client        *redis.Client
	closedRoomTTL time.Duration
}

// NewRedisRoomRepository stores snapshots as hashes. Closed rooms expire
// after closedRoomTTL.
func NewRedisRoomRepository(client *redis.Client, closedRoomTTL time.Duration) ports.RoomRepository {
	return &RedisRoomRepository{
		client:        client,
		closedRoomTTL: closedRoomTTL,
	}
}

func roomKey(id domain.RoomID) string {
	return keyPrefix + string(id)
}

func (r *RedisRoomRepository) Save(ctx context.Context, snap *domain.RoomSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal room snapshot: %w", err)
	}

	active := "0"
	if snap.Room.Active {
		active = "1"
	}
	err = saveScript.Run(ctx, r.client,
		[]string{roomKey(snap.Room.ID), activeRoomsKey},
		snap.Version, data, active, string(snap.Room.ID), int64(r.closedRoomTTL.Seconds()),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to save room snapshot: %w", err)
	}
	return nil
}

func (r *RedisRoomRepository) Get(ctx context.Context, id domain.RoomID) (*domain.RoomSnapshot, error) {
	data, err := r.client.HGet(ctx, roomKey(id), "data").Bytes()
	if err == redis.Nil {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room from Redis: %w", err)
	}
	return decodeSnapshot(data)
}

func (r *RedisRoomRepository) Delete(ctx context.Context, id domain.RoomID) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, activeRoomsKey, string(id))
		pipe.Del(ctx, roomKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete room from Redis: %w", err)
	}
	return nil
}

func (r *RedisRoomRepository) ListActive(ctx context.Context) ([]*domain.RoomSnapshot, error) {
	ids, err := r.client.SMembers(ctx, activeRoomsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get active rooms from Redis: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.StringCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGet(ctx, roomKey(domain.RoomID(id)), "data")
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to load active rooms: %w", err)
	}

	var rooms []*domain.RoomSnapshot
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			// index entry without a snapshot, skip it
			continue
		}
		snap, err := decodeSnapshot(data)
		if err != nil {
			return nil, err
		}
		if snap.Room.Active {
			rooms = append(rooms, snap)
		}
	}
	return rooms, nil
}

func decodeSnapshot(data []byte) (*domain.RoomSnapshot, error) {
	var snap domain.RoomSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room snapshot: %w", err)
	}
	return &snap, nil
}
