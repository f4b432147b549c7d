package signal

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"echoframe/internal/core/domain"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// client is one websocket connection. Only writePump writes to conn.
type client struct {
	server  *WebSocketServer
	conn    *websocket.Conn
	roomID  domain.RoomID
	limiter *rate.Limiter

	mu      sync.RWMutex
	guestID domain.GuestID

	outbound  chan []byte
	done      chan struct{}
	draining  chan struct{}
	closeOnce sync.Once
	drainOnce sync.Once
}

func newClient(s *WebSocketServer, conn *websocket.Conn, roomID domain.RoomID) *client {
	return &client{
		server:   s,
		conn:     conn,
		roomID:   roomID,
		limiter:  newLimiter(s.cfg),
		outbound: make(chan []byte, s.cfg.SendBufferSize),
		done:     make(chan struct{}),
		draining: make(chan struct{}),
	}
}

func (c *client) guest() domain.GuestID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.guestID
}

func (c *client) setGuest(id domain.GuestID) {
	c.mu.Lock()
	c.guestID = id
	c.mu.Unlock()
}

// send queues data. A client too slow to keep up is disconnected.
func (c *client) send(data []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.outbound <- data:
	default:
		c.server.logger.Warnw("send buffer full, dropping connection", "room_id", c.roomID, "guest_id", c.guest())
		c.close()
	}
}

func (c *client) sendEvent(ev domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		c.server.logger.Errorw("failed to marshal event", "type", ev.Type, "error", err)
		return
	}
	c.send(data)
}

func (c *client) sendError(err error) {
	ev := domain.NewEvent(domain.EventError, c.roomID, domain.AudienceGuest, errorPayload(err), time.Now())
	c.sendEvent(ev.To(c.guest()))
}

// closeAfterFlush ends the connection once queued messages are written.
func (c *client) closeAfterFlush() {
	c.drainOnce.Do(func() { close(c.draining) })
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *client) readPump() {
	defer c.close()

	if c.server.cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.server.cfg.MaxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(c.server.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.server.cfg.PongTimeout))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.server.logger.Infow("error reading message", "room_id", c.roomID, "guest_id", c.guest(), "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.server.cfg.PongTimeout))
		c.server.handleMessage(context.Background(), c, data)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.server.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case data := <-c.outbound:
			if !c.write(websocket.TextMessage, data) {
				return
			}

		case <-c.draining:
			for {
				select {
				case data := <-c.outbound:
					if !c.write(websocket.TextMessage, data) {
						return
					}
				default:
					c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session ended"))
					return
				}
			}

		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}

		case <-c.done:
			return
		}
	}
}

func (c *client) write(messageType int, data []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(c.server.cfg.WriteTimeout))
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		c.server.logger.Debugw("write failed", "room_id", c.roomID, "guest_id", c.guest(), "error", err)
		return false
	}
	return true
}
