package events

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return m.Called(name, kind, durable).Error(0)
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return m.Called(exchange, key, msg).Error(0)
}

func (m *mockChannel) Close() error {
	return m.Called().Error(0)
}

func TestAMQPPublisher_Forward(t *testing.T) {
	logger := zerolog.Nop()
	ch := new(mockChannel)
	ch.On("ExchangeDeclare", "classbook.events", ExchangeKind, true).Return(nil)

	p, err := newAMQPPublisher(ch, "classbook.events", &logger)
	require.NoError(t, err)

	created := time.Now()
	event := &Event{ID: "evt-1", Type: EventWaitlistSpotAvailable, Payload: []byte(`{"user_id":1}`), CreatedAt: created}

	ch.On("PublishWithContext", "classbook.events", EventWaitlistSpotAvailable, mock.MatchedBy(func(msg amqp.Publishing) bool {
		return msg.MessageId == "evt-1" &&
			msg.ContentType == "application/json" &&
			string(msg.Body) == `{"user_id":1}` &&
			msg.DeliveryMode == amqp.Persistent
	})).Return(nil).Once()

	require.NoError(t, p.Forward(event))

	ch.On("PublishWithContext", "classbook.events", EventBookingCancelled, mock.Anything).Return(errors.New("closed")).Once()
	err = p.Forward(&Event{Type: EventBookingCancelled})
	assert.ErrorContains(t, err, "closed")

	ch.On("Close").Return(nil)
	p.Close()
	ch.AssertExpectations(t)
}

func TestAMQPPublisher_DeclareFails(t *testing.T) {
	logger := zerolog.Nop()
	ch := new(mockChannel)
	ch.On("ExchangeDeclare", "x", ExchangeKind, true).Return(errors.New("access refused"))
	ch.On("Close").Return(nil)

	_, err := newAMQPPublisher(ch, "x", &logger)
	assert.ErrorContains(t, err, "exchange declare")
	ch.AssertExpectations(t)
}

func TestAMQPPublisher_WithBus(t *testing.T) {
	logger := zerolog.Nop()
	ch := new(mockChannel)
	ch.On("ExchangeDeclare", "ex", ExchangeKind, true).Return(nil)
	ch.On("PublishWithContext", "ex", mock.Anything, mock.Anything).Return(nil)

	p, err := newAMQPPublisher(ch, "ex", &logger)
	require.NoError(t, err)

	bus := NewEventBus()
	bus.Subscribe(AllEvents, p.Forward)
	require.NoError(t, bus.PublishJSON(EventRescheduleApproved, ReschedulePayload{RequestID: 1}))
	require.NoError(t, bus.PublishJSON(EventWaitlistJoined, WaitlistEventPayload{ClassID: 1}))

	ch.AssertNumberOfCalls(t, "PublishWithContext", 2)
}
