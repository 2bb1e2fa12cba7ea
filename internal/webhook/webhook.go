// Package webhook forwards received messages to a configurable HTTP
// endpoint, one POST per message.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/HerbHall/pushlink/internal/event"
	"go.uber.org/zap"
)

// Config holds the webhook sink configuration.
type Config struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Sink delivers message events to a webhook URL.
type Sink struct {
	cfg    Config
	logger *zap.Logger
	client *http.Client
}

// NewSink creates a webhook sink. With an empty URL the sink stays inert.
func NewSink(cfg Config, logger *zap.Logger) *Sink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Sink{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Register subscribes the sink to message events. Delivery runs on the
// async path so a slow endpoint cannot stall acknowledgement ordering.
func (s *Sink) Register(bus *event.Bus) func() {
	if s.cfg.URL == "" {
		s.logger.Info("webhook sink disabled (no URL configured)")
		return func() {}
	}
	return bus.Subscribe(event.TopicMessageReceived, func(ctx context.Context, e event.Event) {
		go s.deliver(context.WithoutCancel(ctx), e)
	})
}

// Payload is the JSON body sent to the webhook URL.
type Payload struct {
	Event      string `json:"event"`
	DeviceName string `json:"device_name"`
	Timestamp  string `json:"timestamp"`
	Data       any    `json:"data"`
}

func (s *Sink) deliver(ctx context.Context, e event.Event) {
	body, err := json.Marshal(Payload{
		Event:      e.Topic,
		DeviceName: e.Source,
		Timestamp:  e.Timestamp.UTC().Format(time.RFC3339),
		Data:       e.Payload,
	})
	if err != nil {
		s.logger.Error("failed to marshal webhook payload", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		s.logger.Error("failed to create webhook request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Pushlink-Webhook/0.1")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("webhook delivery failed",
			zap.String("url", s.cfg.URL),
			zap.Error(err),
		)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		s.logger.Warn("webhook endpoint returned error",
			zap.String("url", s.cfg.URL),
			zap.Int("status_code", resp.StatusCode),
		)
		return
	}

	s.logger.Debug("webhook delivered", zap.Int("status_code", resp.StatusCode))
}
