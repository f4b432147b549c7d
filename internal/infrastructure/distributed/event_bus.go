// Package distributed coordinates server instances that share one Redis:
// room ownership leases and the notices instances send each other when
// rooms change hands.
package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"echoframe/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const clusterChannel = "echoframe:cluster"

type NoticeType string

// NoticeRoomsReleased is sent by an instance that gave up rooms which are
// still active, so peers can adopt them without waiting for a lease to
// expire.
const NoticeRoomsReleased NoticeType = "rooms:released"

// Notice is one message between instances.
type Notice struct {
	Type       NoticeType      `json:"type"`
	InstanceID string          `json:"instance_id"`
	RoomIDs    []domain.RoomID `json:"room_ids,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// EventBus carries notices between instances over Redis pub/sub. Room
// events themselves never cross it: each room is written and served by the
// single instance that owns it.
type EventBus struct {
	client     *redis.Client
	instanceID string
	channel    string
	logger     *zap.SugaredLogger
}

// NewEventBus publishes and receives notices as instanceID.
func NewEventBus(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    clusterChannel,
		logger:     logger,
	}
}

// AnnounceReleased tells the other instances that rooms are up for
// adoption. An empty list sends nothing.
func (eb *EventBus) AnnounceReleased(ctx context.Context, rooms []domain.RoomID) error {
	if len(rooms) == 0 {
		return nil
	}
	data, err := eb.encode(Notice{
		Type:      NoticeRoomsReleased,
		RoomIDs:   rooms,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish notice: %w", err)
	}
	return nil
}

func (eb *EventBus) encode(n Notice) ([]byte, error) {
	n.InstanceID = eb.instanceID
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notice: %w", err)
	}
	return data, nil
}

// decode returns the notice carried by payload, and false for notices this
// instance sent itself.
func (eb *EventBus) decode(payload string) (Notice, bool, error) {
	var n Notice
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return Notice{}, false, err
	}
	if n.InstanceID == eb.instanceID {
		return Notice{}, false, nil
	}
	return n, true, nil
}

// Subscribe hands notices from other instances to handler until ctx is
// done.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(context.Context, Notice)) error {
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", eb.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			n, remote, err := eb.decode(msg.Payload)
			if err != nil {
				eb.logger.Warnw("failed to unmarshal notice", "error", err)
				continue
			}
			if !remote {
				continue
			}
			handler(ctx, n)
		}
	}
}
