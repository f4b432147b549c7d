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

const chatKeyPrefix = "echoframe:chat:"

// appendScript pushes a message unless its id is already known, trims the
// list to the newest ARGV[3] entries and forgets the ids trimmed away.
//
// KEYS[1] message list, KEYS[2] id set
// ARGV[1] message id, ARGV[2] json, ARGV[3] max messages, ARGV[4] ttl ms
var appendScript = redis.NewScript(`
if redis.call('SADD', KEYS[2], ARGV[1]) == 0 then
	return 0
end
redis.call('RPUSH', KEYS[1], ARGV[2])
local over = redis.call('LLEN', KEYS[1]) - tonumber(ARGV[3])
if over > 0 then
	local dropped = redis.call('LRANGE', KEYS[1], 0, over - 1)
	for _, raw in ipairs(dropped) do
		local ok, msg = pcall(cjson.decode, raw)
		if ok and msg['id'] then
			redis.call('SREM', KEYS[2], msg['id'])
		end
	end
	redis.call('LTRIM', KEYS[1], over, -1)
end
if tonumber(ARGV[4]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[4])
	redis.call('PEXPIRE', KEYS[2], ARGV[4])
end
return 1
`)

// RedisChatStore keeps each room's newest messages in a capped list. Both
// keys expire once a room has been quiet for the retention period.
type RedisChatStore struct {
	client      *redis.Client
	maxMessages int
	retention   time.Duration
}

// NewRedisChatStore keeps up to maxMessages per room for retention after
// the last message.
func NewRedisChatStore(client *redis.Client, maxMessages int, retention time.Duration) ports.ChatStore {
	return &RedisChatStore{
		client:      client,
		maxMessages: maxMessages,
		retention:   retention,
	}
}

func chatListKey(id domain.RoomID) string {
	return chatKeyPrefix + string(id) + ":messages"
}

func chatIDsKey(id domain.RoomID) string {
	return chatKeyPrefix + string(id) + ":ids"
}

func (s *RedisChatStore) Append(ctx context.Context, msg domain.ChatMessage) (bool, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("failed to marshal chat message: %w", err)
	}
	n, err := appendScript.Run(ctx, s.client,
		[]string{chatListKey(msg.RoomID), chatIDsKey(msg.RoomID)},
		string(msg.ID), data, s.maxMessages, s.retention.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to append chat message: %w", err)
	}
	return n == 1, nil
}

func (s *RedisChatStore) Recent(ctx context.Context, roomID domain.RoomID, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		return []domain.ChatMessage{}, nil
	}
	raw, err := s.client.LRange(ctx, chatListKey(roomID), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read chat history: %w", err)
	}

	msgs := make([]domain.ChatMessage, 0, len(raw))
	for _, item := range raw {
		var msg domain.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}
