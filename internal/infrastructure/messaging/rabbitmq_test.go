package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"echoframe/internal/core/domain"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return m.Called(name, kind, durable).Error(0)
}

func (m *MockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return m.Called(exchange, key, msg).Error(0)
}

func (m *MockChannel) Close() error {
	return m.Called().Error(0)
}

func TestRoutingKey(t *testing.T) {
	ev := domain.Event{Type: domain.EventRequestResolved, RoomID: "r1"}
	assert.Equal(t, "room.r1.request.resolved", RoutingKey(ev))
}

func TestRabbitMQ_DeclaresTopicExchangeAndPublishes(t *testing.T) {
	ch := &MockChannel{}
	ch.On("ExchangeDeclare", DefaultExchange, "topic", true).Return(nil)

	ev := domain.NewEvent(domain.EventRoomClosed, "r1", domain.AudienceRoom,
		domain.RoomClosedPayload{RoomID: "r1"}, time.Now().UTC())
	ch.On("PublishWithContext", DefaultExchange, "room.r1.room.closed", mock.MatchedBy(func(msg amqp.Publishing) bool {
		var got domain.Event
		return msg.ContentType == "application/json" &&
			msg.DeliveryMode == amqp.Persistent &&
			json.Unmarshal(msg.Body, &got) == nil &&
			got.Type == domain.EventRoomClosed
	})).Return(nil)

	r, err := newRabbitMQ(ch, "", zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	require.NoError(t, r.Deliver(context.Background(), ev))
	assert.Equal(t, "amqp", r.Name())
	ch.AssertExpectations(t)
}

func TestRabbitMQ_DeclareFailureClosesChannel(t *testing.T) {
	ch := &MockChannel{}
	ch.On("ExchangeDeclare", "custom", "topic", true).Return(errors.New("access refused"))
	ch.On("Close").Return(nil)

	_, err := newRabbitMQ(ch, "custom", zaptest.NewLogger(t).Sugar())
	assert.Error(t, err)
	ch.AssertCalled(t, "Close")
}

func TestRabbitMQ_PublishErrorIsReturned(t *testing.T) {
	ch := &MockChannel{}
	ch.On("ExchangeDeclare", DefaultExchange, "topic", true).Return(nil)
	ch.On("PublishWithContext", mock.Anything, mock.Anything, mock.Anything).Return(amqp.ErrClosed)

	r, err := newRabbitMQ(ch, "", zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	err = r.Deliver(context.Background(), domain.Event{Type: domain.EventRosterUpdate, RoomID: "r1"})
	assert.ErrorIs(t, err, amqp.ErrClosed)
}
