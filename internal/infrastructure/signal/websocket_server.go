package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"echoframe/internal/core/domain"
	"echoframe/internal/core/ports"
	apperrors "echoframe/pkg/errors"
	"echoframe/pkg/tracing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Config struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	SendBufferSize int
	MaxMessageSize int64

	// Per connection inbound limit. Zero disables it.
	MessagesPerSecond float64
	Burst             int

	// AllowedOrigins empty accepts any origin.
	AllowedOrigins []string
}

// DefaultConfig returns the gateway timeouts and buffer sizes.
func DefaultConfig() Config {
	return Config{
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		SendBufferSize: 64,
		MaxMessageSize: 16 << 10,
	}
}

// WebSocketServer is the room gateway. A connection opened with a session
// token acts as that guest; one opened without a token is a lobby
// connection that may only send join:request. It is also the EventSink
// that routes committed room events to the connections of their audience.
type WebSocketServer struct {
	cfg      Config
	upgrader websocket.Upgrader

	dispatcher ports.CommandDispatcher
	sessions   ports.SessionService
	rooms      ports.RoomService
	guests     ports.GuestService
	metrics    ports.Metrics

	mu    sync.RWMutex
	conns map[domain.RoomID]map[*client]struct{}

	logger *zap.SugaredLogger
}

// NewWebSocketServer returns a gateway that dispatches client commands and
// delivers room events to connections.
func NewWebSocketServer(
	cfg Config,
	dispatcher ports.CommandDispatcher,
	sessions ports.SessionService,
	rooms ports.RoomService,
	guests ports.GuestService,
	metrics ports.Metrics,
	logger *zap.SugaredLogger,
) *WebSocketServer {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = DefaultConfig().SendBufferSize
	}
	s := &WebSocketServer{
		cfg:        cfg,
		dispatcher: dispatcher,
		sessions:   sessions,
		rooms:      rooms,
		guests:     guests,
		metrics:    metrics,
		conns:      make(map[domain.RoomID]map[*client]struct{}),
		logger:     logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// HandleWebSocket upgrades GET /ws?room_id=...&token=....
func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roomID := domain.RoomID(r.URL.Query().Get("room_id"))
	if roomID == "" {
		writeHTTPError(w, apperrors.NewInvalidInputError("room_id is required"))
		return
	}

	var guest *domain.Guest
	if token := r.URL.Query().Get("token"); token != "" {
		g, err := s.sessions.Authenticate(ctx, token)
		if err != nil {
			writeHTTPError(w, err)
			return
		}
		if g.RoomID != roomID {
			writeHTTPError(w, domain.ErrSessionInvalid)
			return
		}
		guest = &g
	} else {
		status, err := s.rooms.Status(ctx, roomID)
		if err != nil {
			writeHTTPError(w, err)
			return
		}
		if !status.Active {
			writeHTTPError(w, domain.ErrRoomInactive)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "room_id", roomID, "error", err)
		return
	}

	c := newClient(s, conn, roomID)
	if guest != nil {
		c.setGuest(guest.ID)
	}
	s.register(c)
	s.metrics.ConnectionOpened()
	s.logger.Infow("guest connected", "room_id", roomID, "guest_id", c.guest(), "lobby", guest == nil)

	if guest != nil {
		s.onIdentified(context.Background(), c, *guest)
	}

	go c.writePump()
	c.readPump()

	s.unregister(c)
	s.metrics.ConnectionClosed()
	s.logger.Infow("guest disconnected", "room_id", roomID, "guest_id", c.guest())
}

// onIdentified marks the guest online and hands an approved member the
// current room state.
func (s *WebSocketServer) onIdentified(ctx context.Context, c *client, guest domain.Guest) {
	if err := s.guests.MarkOnline(ctx, c.roomID, guest.ID); err != nil {
		s.logger.Warnw("failed to mark guest online", "room_id", c.roomID, "guest_id", guest.ID, "error", err)
	}
	if guest.Status != domain.GuestApproved {
		return
	}
	s.sendRoomState(ctx, c, guest.ID)
}

// sendRoomState hands one member connection the roster and the current
// playback state.
func (s *WebSocketServer) sendRoomState(ctx context.Context, c *client, guestID domain.GuestID) {
	now := time.Now()
	if roster, err := s.guests.Roster(ctx, c.roomID); err == nil {
		c.sendEvent(domain.NewEvent(domain.EventRosterUpdate, c.roomID, domain.AudienceGuest, domain.RosterPayload{Guests: roster}, now).To(guestID))
	}
	if snap, err := s.rooms.Snapshot(ctx, c.roomID); err == nil && snap.Playback.VideoID != "" {
		c.sendEvent(domain.NewEvent(domain.EventPlaybackState, c.roomID, domain.AudienceGuest, snap.Playback, now).To(guestID))
	}
}

func (s *WebSocketServer) handleMessage(ctx context.Context, c *client, data []byte) {
	if c.limiter != nil && !c.limiter.Allow() {
		c.sendError(domain.ErrRateLimited.WithContext("scope", "connection"))
		return
	}

	cmd, err := domain.DecodeCommand(data)
	if err != nil {
		c.sendError(err)
		return
	}

	actor := ports.Actor{RoomID: c.roomID, GuestID: c.guest()}
	ctx, span := tracing.TraceWebSocketMessage(ctx, string(cmd.CommandType()), string(actor.RoomID), string(actor.GuestID))
	defer span.End()

	reply, err := s.dispatcher.Dispatch(ctx, actor, cmd)
	if err != nil {
		tracing.RecordError(ctx, err)
		s.logger.Infow("command rejected",
			"room_id", c.roomID,
			"guest_id", actor.GuestID,
			"command", cmd.CommandType(),
			"error", err,
		)
		c.sendError(err)
		return
	}
	if reply == nil {
		return
	}

	if reply.Session != nil {
		c.setGuest(reply.Session.Guest.ID)
		s.onIdentified(ctx, c, reply.Session.Guest)
	}
	ev := domain.NewEvent(reply.Type, c.roomID, domain.AudienceGuest, reply.Payload, time.Now())
	c.sendEvent(ev.To(c.guest()))
}

func (s *WebSocketServer) Name() string { return "websocket" }

// Deliver routes ev to the local connections of its audience. Connections
// whose guest was kicked, rejected or whose room closed are closed after
// the event is queued.
func (s *WebSocketServer) Deliver(ctx context.Context, ev domain.Event) error {
	targets := s.roomClients(ev.RoomID)
	if len(targets) == 0 {
		return nil
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	var snap *domain.RoomSnapshot
	if ev.Audience != domain.AudienceGuest && ev.Type != domain.EventRoomClosed {
		snap, err = s.rooms.Snapshot(ctx, ev.RoomID)
		if err != nil {
			s.logger.Debugw("dropping event for unknown room", "room_id", ev.RoomID, "type", ev.Type)
			return nil
		}
	}

	closing := closingGuest(ev)
	admitted := admittedGuest(ev)
	for _, c := range targets {
		if !receives(c.guest(), ev, snap) {
			continue
		}
		c.send(data)
		if ev.Type == domain.EventRoomClosed || (closing != "" && c.guest() == closing) {
			c.closeAfterFlush()
			continue
		}
		if admitted != "" && c.guest() == admitted {
			s.sendRoomState(ctx, c, admitted)
		}
	}
	return nil
}

// admittedGuest returns the guest an accepted join:resolved is addressed to.
func admittedGuest(ev domain.Event) domain.GuestID {
	if ev.Type != domain.EventJoinResolved || ev.Audience != domain.AudienceGuest {
		return ""
	}
	var p domain.JoinResolvedPayload
	if json.Unmarshal(ev.Payload, &p) != nil || !p.Accepted {
		return ""
	}
	return p.GuestID
}

// closingGuest returns the guest whose connections must end with ev.
func closingGuest(ev domain.Event) domain.GuestID {
	switch ev.Type {
	case domain.EventGuestKicked:
		var p domain.GuestKickedPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			return p.TargetID
		}
	case domain.EventJoinResolved:
		var p domain.JoinResolvedPayload
		if ev.Audience == domain.AudienceGuest && json.Unmarshal(ev.Payload, &p) == nil && !p.Accepted {
			return p.GuestID
		}
	}
	return ""
}

func receives(guestID domain.GuestID, ev domain.Event, snap *domain.RoomSnapshot) bool {
	if ev.Type == domain.EventRoomClosed {
		return true
	}
	if guestID == "" {
		return false
	}
	switch ev.Audience {
	case domain.AudienceGuest:
		return guestID == ev.TargetID
	case domain.AudienceControllers:
		g, ok := snap.Guest(guestID)
		return ok && g.IsController()
	case domain.AudienceRoom:
		g, ok := snap.Guest(guestID)
		if !ok {
			return false
		}
		if ev.Type == domain.EventGuestKicked && g.Status == domain.GuestKicked {
			return guestID == closingGuest(ev)
		}
		return g.Status == domain.GuestApproved
	}
	return false
}

func (s *WebSocketServer) register(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.conns[c.roomID]
	if !ok {
		set = make(map[*client]struct{})
		s.conns[c.roomID] = set
	}
	set[c] = struct{}{}
}

// unregister drops c and marks its guest offline once no other connection
// of that guest remains.
func (s *WebSocketServer) unregister(c *client) {
	guestID := c.guest()

	s.mu.Lock()
	set := s.conns[c.roomID]
	delete(set, c)
	if len(set) == 0 {
		delete(s.conns, c.roomID)
	}
	remaining := 0
	for other := range set {
		if guestID != "" && other.guest() == guestID {
			remaining++
		}
	}
	s.mu.Unlock()

	c.close()
	if guestID == "" || remaining > 0 {
		return
	}
	err := s.guests.MarkOffline(context.Background(), c.roomID, guestID)
	if err != nil && !apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
		s.logger.Warnw("failed to mark guest offline", "room_id", c.roomID, "guest_id", guestID, "error", err)
	}
}

func (s *WebSocketServer) roomClients(roomID domain.RoomID) []*client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.conns[roomID]
	out := make([]*client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// ConnectionCount returns the number of open connections.
func (s *WebSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, set := range s.conns {
		n += len(set)
	}
	return n
}

// IsGuestConnected reports whether guestID has an open connection.
func (s *WebSocketServer) IsGuestConnected(roomID domain.RoomID, guestID domain.GuestID) bool {
	for _, c := range s.roomClients(roomID) {
		if c.guest() == guestID {
			return true
		}
	}
	return false
}

// Shutdown closes every connection.
func (s *WebSocketServer) Shutdown() {
	s.mu.RLock()
	var all []*client
	for _, set := range s.conns {
		for c := range set {
			all = append(all, c)
		}
	}
	s.mu.RUnlock()
	for _, c := range all {
		c.close()
	}
}

func errorPayload(err error) domain.ErrorPayload {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return domain.ErrorPayload{Code: string(appErr.Code), Message: appErr.Message}
	}
	return domain.ErrorPayload{Code: string(apperrors.ErrCodeInternal), Message: "internal server error"}
}

func writeHTTPError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		status = appErr.HTTPStatus
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorPayload(err))
}

func newLimiter(cfg Config) *rate.Limiter {
	if cfg.MessagesPerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), burst)
}
