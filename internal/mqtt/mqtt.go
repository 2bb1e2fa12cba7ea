// Package mqtt publishes received messages and connection state to an MQTT
// broker, the usual bridge into home automation systems.
package mqtt

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/HerbHall/pushlink/internal/event"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Sink forwards bus events to an MQTT broker. Messages go to
// <prefix>/message; the connection state goes to <prefix>/state as a
// retained topic so subscribers see availability immediately.
type Sink struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.RWMutex
	client pahomqtt.Client
}

// NewSink creates an MQTT sink. With an empty broker URL the sink stays
// inert.
func NewSink(cfg Config, logger *zap.Logger) *Sink {
	def := DefaultConfig()
	if cfg.ClientID == "" {
		cfg.ClientID = def.ClientID
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = def.TopicPrefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Sink{cfg: cfg, logger: logger}
}

// Start connects to the broker. Connection failures are logged, not fatal:
// paho reconnects in the background.
func (s *Sink) Start(_ context.Context) error {
	if s.cfg.BrokerURL == "" {
		s.logger.Info("mqtt sink disabled (no broker configured)")
		return nil
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(s.cfg.BrokerURL).
		SetClientID(s.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(s.cfg.Timeout)

	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password) //nolint:gosec // G101: config field
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()

	switch {
	case !token.WaitTimeout(s.cfg.Timeout):
		s.logger.Warn("mqtt connection timed out; will reconnect in background")
	case token.Error() != nil:
		s.logger.Warn("mqtt connection failed; will reconnect in background",
			zap.Error(token.Error()),
		)
	default:
		s.logger.Info("mqtt connected to broker",
			zap.String("broker_url", s.cfg.BrokerURL),
		)
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
	return nil
}

// Stop disconnects from the broker.
func (s *Sink) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
		s.logger.Info("mqtt disconnected")
	}
	return nil
}

// Register subscribes the sink to message and state events.
func (s *Sink) Register(bus *event.Bus) func() {
	if s.cfg.BrokerURL == "" {
		return func() {}
	}
	unsubMsg := bus.Subscribe(event.TopicMessageReceived, func(_ context.Context, e event.Event) {
		s.publish(s.cfg.TopicPrefix+"/message", e.Payload, false)
	})
	unsubState := bus.Subscribe(event.TopicListenerState, func(_ context.Context, e event.Event) {
		s.publish(s.cfg.TopicPrefix+"/state", e.Payload, true)
	})
	return func() {
		unsubMsg()
		unsubState()
	}
}

func (s *Sink) publish(topic string, payload any, retain bool) {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()
	if client == nil || !client.IsConnected() {
		s.logger.Debug("mqtt not connected, dropping event", zap.String("topic", topic))
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal mqtt payload",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return
	}

	token := client.Publish(topic, s.cfg.QoS, retain || s.cfg.Retain, body)
	if !token.WaitTimeout(s.cfg.Timeout) || token.Error() != nil {
		s.logger.Warn("mqtt publish failed",
			zap.String("topic", topic),
			zap.Error(token.Error()),
		)
		return
	}

	s.logger.Debug("mqtt event published", zap.String("topic", topic))
}
