package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	v, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://api.pushover.net", v.GetString("pushover.api_url"))
	assert.Equal(t, "wss://client.pushover.net/push", v.GetString("pushover.websocket_url"))
	assert.Equal(t, "pushlink", v.GetString("pushover.device_name"))
	assert.Equal(t, "file", v.GetString("storage.backend"))
	assert.Equal(t, 60*time.Second, v.GetDuration("listener.keepalive_interval"))
	assert.Equal(t, 10*time.Second, v.GetDuration("listener.backoff_initial"))
	assert.Equal(t, 5*time.Minute, v.GetDuration("listener.backoff_max"))
	assert.False(t, v.GetBool("listener.skip_history"))
	assert.Equal(t, "info", v.GetString("logging.level"))
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pushlink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pushover:
  device_name: basement
listener:
  skip_history: true
`), 0o600))

	v, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "basement", v.GetString("pushover.device_name"))
	assert.True(t, v.GetBool("listener.skip_history"))
	// Untouched keys keep their defaults.
	assert.Equal(t, "file", v.GetString("storage.backend"))
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestKeepaliveFloor(t *testing.T) {
	v, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, Keepalive(v))

	v.Set("listener.keepalive_interval", "30s")
	assert.Equal(t, 30*time.Second, Keepalive(v))

	// Sub-second values would make the read deadline fire constantly.
	v.Set("listener.keepalive_interval", "10ms")
	assert.Equal(t, 60*time.Second, Keepalive(v))
}

func TestNewLogger(t *testing.T) {
	v, err := Load("")
	require.NoError(t, err)

	logger, err := NewLogger(v)
	require.NoError(t, err)
	logger.Sync()

	v.Set("logging.format", "console")
	v.Set("logging.level", "debug")
	logger, err = NewLogger(v)
	require.NoError(t, err)
	logger.Sync()
}

func TestNewLoggerRejectsBadSettings(t *testing.T) {
	v, err := Load("")
	require.NoError(t, err)

	v.Set("logging.level", "verbose")
	_, err = NewLogger(v)
	assert.Error(t, err)

	v.Set("logging.level", "info")
	v.Set("logging.format", "xml")
	_, err = NewLogger(v)
	assert.Error(t, err)
}
