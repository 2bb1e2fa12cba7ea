package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HerbHall/pushlink/internal/config"
	"github.com/HerbHall/pushlink/internal/event"
	"github.com/HerbHall/pushlink/internal/listener"
	"github.com/HerbHall/pushlink/internal/mqtt"
	"github.com/HerbHall/pushlink/internal/pushover"
	"github.com/HerbHall/pushlink/internal/registry"
	"github.com/HerbHall/pushlink/internal/server"
	"github.com/HerbHall/pushlink/internal/version"
	"github.com/HerbHall/pushlink/internal/webhook"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	resetDevice := flag.Bool("reset-device", false, "clear the persisted device identity and exit (forces re-registration)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration (before logger, so log level/format can be configured).
	v, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("pushlink starting", zap.String("version", version.Short()))

	store, err := openStore(v)
	if err != nil {
		logger.Fatal("failed to open device registry", zap.Error(err))
	}
	defer store.Close()

	deviceName := v.GetString("pushover.device_name")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := event.NewBus(logger.Named("event"))
	api := pushover.NewClient(
		v.GetString("pushover.api_url"),
		v.GetDuration("pushover.timeout"),
		logger.Named("pushover"),
	)

	lst := listener.New(listener.Config{
		DeviceName:    deviceName,
		WebsocketURL:  v.GetString("pushover.websocket_url"),
		Keepalive:     config.Keepalive(v),
		FetchInterval: v.GetDuration("listener.fetch_interval"),
		SkipHistory:   v.GetBool("listener.skip_history"),
		Backoff: listener.BackoffPolicy{
			Initial: v.GetDuration("listener.backoff_initial"),
			Max:     v.GetDuration("listener.backoff_max"),
			Factor:  2,
			Jitter:  0.2,
		},
	}, api, store, bus, logger.Named("listener"))

	if *resetDevice {
		if err := lst.ResetDevice(ctx); err != nil {
			logger.Fatal("failed to reset device identity", zap.Error(err))
		}
		return
	}

	lst.Configure(v.GetString("pushover.email"), v.GetString("pushover.password"))

	// Sinks. The log sink is always on; webhook and mqtt only when
	// configured.
	registerLogSink(bus, logger.Named("sink"))

	webhookSink := webhook.NewSink(webhook.Config{
		URL:     v.GetString("webhook.url"),
		Timeout: v.GetDuration("webhook.timeout"),
	}, logger.Named("webhook"))
	webhookSink.Register(bus)

	mqttSink := mqtt.NewSink(mqtt.Config{
		BrokerURL:   v.GetString("mqtt.broker_url"),
		Username:    v.GetString("mqtt.username"),
		Password:    v.GetString("mqtt.password"),
		ClientID:    v.GetString("mqtt.client_id"),
		TopicPrefix: v.GetString("mqtt.topic_prefix"),
		QoS:         byte(v.GetInt("mqtt.qos")),
		Retain:      v.GetBool("mqtt.retain"),
		Timeout:     v.GetDuration("mqtt.timeout"),
	}, logger.Named("mqtt"))
	if err := mqttSink.Start(ctx); err != nil {
		logger.Fatal("failed to start mqtt sink", zap.Error(err))
	}
	mqttSink.Register(bus)

	if err := lst.Start(ctx); err != nil {
		logger.Fatal("failed to start listener", zap.Error(err))
	}

	var diag *server.Server
	if addr := v.GetString("diagnostics.addr"); addr != "" {
		diag = server.New(addr, lst, logger.Named("server"))
		go func() {
			if err := diag.Start(); err != nil {
				logger.Error("diagnostics server error", zap.Error(err))
			}
		}()
	}

	logger.Info("pushlink ready", zap.String("device_name", deviceName))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	lst.Stop()
	if diag != nil {
		if err := diag.Shutdown(shutdownCtx); err != nil {
			logger.Error("diagnostics server shutdown error", zap.Error(err))
		}
	}
	if err := mqttSink.Stop(shutdownCtx); err != nil {
		logger.Error("mqtt sink shutdown error", zap.Error(err))
	}

	logger.Info("pushlink stopped")
}

// openStore selects the registry backend from configuration.
func openStore(v *viper.Viper) (registry.Store, error) {
	path := v.GetString("storage.path")
	switch backend := v.GetString("storage.backend"); backend {
	case "file", "":
		return registry.NewFileStore(path), nil
	case "bolt":
		return registry.NewBoltStore(path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q: must be \"file\" or \"bolt\"", backend)
	}
}

// registerLogSink logs every received message at info level with the
// reserved fields only; extracted pairs stay out of the log to keep it
// bounded.
func registerLogSink(bus *event.Bus, logger *zap.Logger) {
	bus.Subscribe(event.TopicMessageReceived, func(_ context.Context, e event.Event) {
		fields, _ := e.Payload.(map[string]any)
		logger.Info("message received",
			zap.String("device_name", e.Source),
			zap.Any("id", fields["id"]),
			zap.Any("title", fields["title"]),
			zap.Any("app", fields["app"]),
			zap.Any("priority", fields["priority"]),
		)
	})
	bus.Subscribe(event.TopicListenerError, func(_ context.Context, e event.Event) {
		logger.Error("listener reported fatal error",
			zap.String("device_name", e.Source),
			zap.Any("error", e.Payload),
		)
	})
}
