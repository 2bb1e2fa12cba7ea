package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/HerbHall/pushlink/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewSinkAppliesDefaults(t *testing.T) {
	sink := NewSink(Config{BrokerURL: "tcp://localhost:1883"}, zaptest.NewLogger(t))

	assert.Equal(t, "pushlink", sink.cfg.ClientID)
	assert.Equal(t, "pushlink", sink.cfg.TopicPrefix)
	assert.Equal(t, 10*time.Second, sink.cfg.Timeout)

	// Explicit values are kept.
	sink = NewSink(Config{
		BrokerURL:   "tcp://localhost:1883",
		ClientID:    "basement",
		TopicPrefix: "home/push",
		Timeout:     time.Second,
	}, zaptest.NewLogger(t))
	assert.Equal(t, "basement", sink.cfg.ClientID)
	assert.Equal(t, "home/push", sink.cfg.TopicPrefix)
	assert.Equal(t, time.Second, sink.cfg.Timeout)
}

func TestSinkInertWithoutBroker(t *testing.T) {
	sink := NewSink(Config{}, zaptest.NewLogger(t))

	// No broker configured: Start and Stop are no-ops, Register subscribes
	// nothing, and publishing on the bus must not touch a client.
	require.NoError(t, sink.Start(context.Background()))
	unsubscribe := sink.Register(bus(t))
	unsubscribe()
	require.NoError(t, sink.Stop(context.Background()))
	assert.Nil(t, sink.client)
}

func TestRegisterSubscribesMessageAndStateTopics(t *testing.T) {
	b := bus(t)
	sink := NewSink(Config{BrokerURL: "tcp://localhost:1883"}, zaptest.NewLogger(t))
	unsubscribe := sink.Register(b)

	// The client is nil (Start never called): events are dropped, not
	// panicked on.
	b.Publish(context.Background(), event.New(event.TopicMessageReceived, "basement", map[string]any{"id": "1"}))
	b.Publish(context.Background(), event.New(event.TopicListenerState, "basement", "live"))
	unsubscribe()
}

func bus(t *testing.T) *event.Bus {
	t.Helper()
	return event.NewBus(zaptest.NewLogger(t))
}
