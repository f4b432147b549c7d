package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"echoframe/internal/core/domain"
	"echoframe/pkg/utils"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRedis connects to ECHOFRAME_TEST_REDIS or localhost:6379 and skips
// the test when no server answers.
func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("ECHOFRAME_TEST_REDIS")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DialTimeout: 300 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// testRoom returns a fresh room id whose keys are removed after the test.
func testRoom(t *testing.T, client *redis.Client) domain.RoomID {
	t.Helper()
	id := domain.RoomID(utils.NewRoomID())
	t.Cleanup(func() {
		ctx := context.Background()
		client.SRem(ctx, activeRoomsKey, string(id))
		client.Del(ctx, roomKey(id), chatListKey(id), chatIDsKey(id))
	})
	return id
}

func snapshot(id domain.RoomID, version uint64, active bool, videoID string) *domain.RoomSnapshot {
	return &domain.RoomSnapshot{
		Version:  version,
		Room:     domain.Room{ID: id, Active: active, AdminID: "g1"},
		Playback: domain.PlaybackState{VideoID: videoID},
	}
}

func TestRoomKey(t *testing.T) {
	assert.Equal(t, "echoframe:room:abc", roomKey("abc"))
}

func TestLatestVersion(t *testing.T) {
	assert.Equal(t, 0, latestVersion(nil))
	assert.Equal(t, 2, latestVersion(migrations()))

	steps := []Migration{{Version: 3}, {Version: 1}}
	assert.Equal(t, 3, latestVersion(steps))
}

func TestDecodeSnapshot(t *testing.T) {
	snap, err := decodeSnapshot([]byte(`{"version":4,"room":{"id":"r1","active":true},"guests":[],"playback":{"video_id":"v1","timestamp":3}}`))
	assert.NoError(t, err)
	assert.Equal(t, uint64(4), snap.Version)
	assert.Equal(t, "v1", snap.Playback.VideoID)

	_, err = decodeSnapshot([]byte(`{`))
	assert.Error(t, err)
}

func TestRedisRoomRepository_StaleVersionIsIgnored(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()
	repo := NewRedisRoomRepository(client, time.Hour)
	id := testRoom(t, client)

	require.NoError(t, repo.Save(ctx, snapshot(id, 5, true, "newer")))
	require.NoError(t, repo.Save(ctx, snapshot(id, 4, true, "older")))

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.Version)
	assert.Equal(t, "newer", got.Playback.VideoID)

	require.NoError(t, repo.Save(ctx, snapshot(id, 5, true, "same version")))
	got, err = repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "same version", got.Playback.VideoID, "an equal version overwrites")
}

func TestRedisRoomRepository_ClosedRoomLeavesIndexAndExpires(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()
	repo := NewRedisRoomRepository(client, time.Hour)
	id := testRoom(t, client)

	require.NoError(t, repo.Save(ctx, snapshot(id, 1, true, "")))
	member, err := client.SIsMember(ctx, activeRoomsKey, string(id)).Result()
	require.NoError(t, err)
	assert.True(t, member)
	ttl, err := client.TTL(ctx, roomKey(id)).Result()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl, "active rooms do not expire")

	require.NoError(t, repo.Save(ctx, snapshot(id, 2, false, "")))
	member, err = client.SIsMember(ctx, activeRoomsKey, string(id)).Result()
	require.NoError(t, err)
	assert.False(t, member)
	ttl, err = client.TTL(ctx, roomKey(id)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Hour)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, got.Room.Active, "closed snapshot stays readable until it expires")
}

func TestRedisRoomRepository_ListActiveAndDelete(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()
	repo := NewRedisRoomRepository(client, time.Hour)
	open := testRoom(t, client)
	closed := testRoom(t, client)

	require.NoError(t, repo.Save(ctx, snapshot(open, 1, true, "")))
	require.NoError(t, repo.Save(ctx, snapshot(closed, 1, true, "")))
	require.NoError(t, repo.Save(ctx, snapshot(closed, 2, false, "")))

	rooms, err := repo.ListActive(ctx)
	require.NoError(t, err)
	ids := make(map[domain.RoomID]bool)
	for _, snap := range rooms {
		ids[snap.Room.ID] = true
	}
	assert.True(t, ids[open])
	assert.False(t, ids[closed])

	require.NoError(t, repo.Delete(ctx, open))
	_, err = repo.Get(ctx, open)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	require.NoError(t, repo.Delete(ctx, open), "delete is idempotent")
}
