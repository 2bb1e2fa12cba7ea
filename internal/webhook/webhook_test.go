package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/HerbHall/pushlink/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSinkDeliversMessageEvents(t *testing.T) {
	received := make(chan Payload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var p Payload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		received <- p
	}))
	defer srv.Close()

	bus := event.NewBus(zaptest.NewLogger(t))
	sink := NewSink(Config{URL: srv.URL}, zaptest.NewLogger(t))
	sink.Register(bus)

	bus.Publish(context.Background(), event.New(event.TopicMessageReceived, "basement", map[string]any{
		"id":    "123456",
		"title": "Alert",
	}))

	select {
	case p := <-received:
		assert.Equal(t, event.TopicMessageReceived, p.Event)
		assert.Equal(t, "basement", p.DeviceName)
		data, ok := p.Data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "123456", data["id"])
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was never called")
	}
}

func TestSinkDisabledWithoutURL(t *testing.T) {
	bus := event.NewBus(zaptest.NewLogger(t))
	sink := NewSink(Config{}, zaptest.NewLogger(t))
	unsubscribe := sink.Register(bus)

	// No URL: publishing must be a no-op rather than an error.
	bus.Publish(context.Background(), event.New(event.TopicMessageReceived, "basement", nil))
	unsubscribe()
}
