// Package config loads pushlink configuration from file and environment.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Load reads configuration from the given file path (or the default search
// paths when empty) plus PL_-prefixed environment variables.
func Load(configPath string) (*viper.Viper, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("pushover.api_url", "https://api.pushover.net")
	v.SetDefault("pushover.websocket_url", "wss://client.pushover.net/push")
	v.SetDefault("pushover.device_name", "pushlink")
	v.SetDefault("pushover.timeout", "30s")

	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.path", "./data/devices.json")

	v.SetDefault("listener.keepalive_interval", "60s")
	v.SetDefault("listener.backoff_initial", "10s")
	v.SetDefault("listener.backoff_max", "5m")
	v.SetDefault("listener.fetch_interval", "2s")
	v.SetDefault("listener.skip_history", false)

	v.SetDefault("diagnostics.addr", "")

	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.timeout", "10s")

	v.SetDefault("mqtt.broker_url", "")
	v.SetDefault("mqtt.client_id", "pushlink")
	v.SetDefault("mqtt.topic_prefix", "pushlink")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.timeout", "10s")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("pushlink")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/pushlink")
	}

	// Environment variable support: PL_PUSHOVER_DEVICE_NAME=basement
	v.SetEnvPrefix("PL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- use defaults
	}

	return v, nil
}

// Keepalive returns the configured keepalive interval. Values under one
// second would make the read deadline fire constantly, so they fall back
// to the 60s default.
func Keepalive(v *viper.Viper) time.Duration {
	d := v.GetDuration("listener.keepalive_interval")
	if d < time.Second {
		return 60 * time.Second
	}
	return d
}
