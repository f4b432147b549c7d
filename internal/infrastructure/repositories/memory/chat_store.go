package memory

import (
	"context"
	"sync"
	"time"

	"echoframe/internal/core/domain"
	"echoframe/internal/core/ports"
	"echoframe/pkg/cache"
)

type roomChat struct {
	msgs []domain.ChatMessage
	ids  map[domain.MessageID]struct{}
}

// MemoryChatStore keeps each room's newest messages in process. A room's
// history is dropped once the room has been quiet for the retention period.
type MemoryChatStore struct {
	mu          sync.Mutex
	rooms       *cache.Cache[domain.RoomID, *roomChat]
	maxMessages int
}

var _ ports.ChatStore = (*MemoryChatStore)(nil)

// NewMemoryChatStore keeps up to maxMessages per room.
func NewMemoryChatStore(maxMessages int, retention time.Duration) *MemoryChatStore {
	return &MemoryChatStore{
		rooms:       cache.New[domain.RoomID, *roomChat](retention),
		maxMessages: maxMessages,
	}
}

func (s *MemoryChatStore) Append(ctx context.Context, msg domain.ChatMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rc, ok := s.rooms.Get(msg.RoomID)
	if !ok {
		rc = &roomChat{ids: make(map[domain.MessageID]struct{})}
	}
	if _, dup := rc.ids[msg.ID]; dup {
		return false, nil
	}

	rc.msgs = append(rc.msgs, msg)
	rc.ids[msg.ID] = struct{}{}
	if over := len(rc.msgs) - s.maxMessages; over > 0 {
		for _, old := range rc.msgs[:over] {
			delete(rc.ids, old.ID)
		}
		rc.msgs = append([]domain.ChatMessage(nil), rc.msgs[over:]...)
	}
	s.rooms.Set(msg.RoomID, rc)
	return true, nil
}

func (s *MemoryChatStore) Recent(ctx context.Context, roomID domain.RoomID, limit int) ([]domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rc, ok := s.rooms.Get(roomID)
	if !ok || limit <= 0 {
		return []domain.ChatMessage{}, nil
	}
	msgs := rc.msgs
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]domain.ChatMessage(nil), msgs...), nil
}

// Close stops the expiry sweep.
func (s *MemoryChatStore) Close() {
	s.rooms.Stop()
}
