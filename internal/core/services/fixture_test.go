package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"echoframe/internal/core/domain"
	"echoframe/internal/core/ports"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, events ...domain.Event) {
	p.mu.Lock()
	p.events = append(p.events, events...)
	p.mu.Unlock()
}

func (p *recordingPublisher) ofType(t domain.EventType) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	p.events = nil
	p.mu.Unlock()
}

type MockVideoCatalog struct {
	mock.Mock
}

func (m *MockVideoCatalog) ValidateVideo(ctx context.Context, videoID string) error {
	args := m.Called(ctx, videoID)
	return args.Error(0)
}

type MockRoomRepository struct {
	mock.Mock
}

func (m *MockRoomRepository) Save(ctx context.Context, snap *domain.RoomSnapshot) error {
	args := m.Called(ctx, snap)
	return args.Error(0)
}

func (m *MockRoomRepository) Get(ctx context.Context, id domain.RoomID) (*domain.RoomSnapshot, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RoomSnapshot), args.Error(1)
}

func (m *MockRoomRepository) Delete(ctx context.Context, id domain.RoomID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRoomRepository) ListActive(ctx context.Context) ([]*domain.RoomSnapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.RoomSnapshot), args.Error(1)
}

// chatLog is an unbounded chat store; trimming is the store's concern.
type chatLog struct {
	mu   sync.Mutex
	msgs []domain.ChatMessage
	err  error
}

func (l *chatLog) Append(_ context.Context, msg domain.ChatMessage) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	for _, m := range l.msgs {
		if m.RoomID == msg.RoomID && m.ID == msg.ID {
			return false, nil
		}
	}
	l.msgs = append(l.msgs, msg)
	return true, nil
}

func (l *chatLog) Recent(_ context.Context, roomID domain.RoomID, limit int) ([]domain.ChatMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.ChatMessage
	for _, m := range l.msgs {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// fixture wires every room service around one registry with a fake clock
// and an open room.
type fixture struct {
	ctx       context.Context
	clock     *fakeClock
	publisher *recordingPublisher
	catalog   *MockVideoCatalog
	registry  *Registry

	rooms       ports.RoomService
	guests      ports.GuestService
	permissions ports.PermissionService
	playback    ports.PlaybackService
	requests    ports.RequestService
	sessions    ports.SessionService
	chatStore   *chatLog
	chat        ports.ChatService
	dispatcher  *Dispatcher

	roomID     domain.RoomID
	adminID    domain.GuestID
	adminToken string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	f := &fixture{
		ctx:       context.Background(),
		clock:     newFakeClock(),
		publisher: &recordingPublisher{},
		catalog:   &MockVideoCatalog{},
	}
	f.catalog.On("ValidateVideo", mock.Anything, "missing").Return(domain.ErrVideoNotFound)
	f.catalog.On("ValidateVideo", mock.Anything, mock.Anything).Return(nil)

	f.registry = NewRegistry(DefaultRoomConfig(), f.publisher, logger, WithClock(f.clock.Now))
	f.sessions = NewSessionManager(f.registry, "test-secret", time.Hour)
	f.rooms = NewRoomService(f.registry, f.sessions)
	f.guests = NewGuestService(f.registry, f.sessions)
	f.permissions = NewPermissionService(f.registry)
	f.playback = NewPlaybackService(f.registry, f.catalog)
	f.requests = NewRequestService(f.registry)
	f.chatStore = &chatLog{}
	f.chat = NewChatService(f.registry, f.permissions, f.chatStore, ChatConfig{MaxLength: 100, HistoryLimit: 3})
	f.dispatcher = NewDispatcher(f.guests, f.permissions, f.playback, f.requests, f.chat, logger)

	snap, session, err := f.rooms.OpenRoom(f.ctx, "host")
	require.NoError(t, err)
	f.roomID = snap.Room.ID
	f.adminID = session.Guest.ID
	f.adminToken = session.Token
	return f
}

// pending creates a guest awaiting approval.
func (f *fixture) pending(t *testing.T, name string) ports.Session {
	t.Helper()
	session, err := f.guests.RequestJoin(f.ctx, f.roomID, name)
	require.NoError(t, err)
	return session
}

// viewer creates an approved viewer.
func (f *fixture) viewer(t *testing.T, name string) domain.GuestID {
	t.Helper()
	session := f.pending(t, name)
	require.NoError(t, f.guests.ResolveJoin(f.ctx, f.roomID, f.adminID, session.Guest.ID, true))
	return session.Guest.ID
}

func (f *fixture) moderator(t *testing.T, name string) domain.GuestID {
	t.Helper()
	id := f.viewer(t, name)
	require.NoError(t, f.guests.Promote(f.ctx, f.roomID, f.adminID, id))
	return id
}

func (f *fixture) guest(t *testing.T, id domain.GuestID) domain.Guest {
	t.Helper()
	snap, err := f.registry.Snapshot(f.roomID)
	require.NoError(t, err)
	g, ok := snap.Guest(id)
	require.True(t, ok)
	return g
}

func (f *fixture) switchTo(t *testing.T, videoID string) {
	t.Helper()
	_, err := f.playback.SwitchVideo(f.ctx, f.roomID, f.adminID, videoID)
	require.NoError(t, err)
}

func ptr(v float64) *float64 { return &v }
