package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"echoframe/internal/core/domain"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const DefaultExchange = "echoframe.rooms"

// channel is the slice of *amqp.Channel the publisher uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQ forwards room events to a topic exchange for downstream
// consumers such as audit or analytics. Routing keys have the form
// room.<room id>.<event type>.
type RabbitMQ struct {
	conn     *amqp.Connection
	exchange string
	logger   *zap.SugaredLogger

	mu sync.Mutex
	ch channel
}

// NewRabbitMQ connects and declares the topic exchange room events are
// forwarded to.
func NewRabbitMQ(uri, exchange string, logger *zap.SugaredLogger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	r, err := newRabbitMQ(ch, exchange, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	r.conn = conn
	return r, nil
}

func newRabbitMQ(ch channel, exchange string, logger *zap.SugaredLogger) (*RabbitMQ, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // delete when unused
		false,    // internal
		false,    // no-wait
		nil,
	); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return &RabbitMQ{exchange: exchange, logger: logger, ch: ch}, nil
}

func (r *RabbitMQ) Name() string { return "amqp" }

func (r *RabbitMQ) Deliver(ctx context.Context, ev domain.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	err = r.ch.PublishWithContext(ctx, r.exchange, RoutingKey(ev), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.EmittedAt,
		Type:         string(ev.Type),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.Type, err)
	}
	return nil
}

// RoutingKey maps an event to its topic. Colons in event types become
// dots so consumers can bind patterns like room.*.guest.#.
func RoutingKey(ev domain.Event) string {
	return "room." + string(ev.RoomID) + "." + strings.ReplaceAll(string(ev.Type), ":", ".")
}

func (r *RabbitMQ) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch != nil {
		r.ch.Close()
	}
	if r.conn != nil {
		r.conn.Close()
	}
}
