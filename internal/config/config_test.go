package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, "192.168.1.116:80", cfg.GatewayAddr())
	assert.Equal(t, ":80", cfg.LocalAddr())
	assert.Equal(t, 2*time.Second, cfg.Gateway.RequestTimeout)
	assert.Equal(t, 64, cfg.Gateway.MaxResponseSize)
	assert.Equal(t, 60*time.Second, cfg.Sweeper.Interval)
	assert.Equal(t, "msb", cfg.Status.BitOrder)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.False(t, cfg.RedisNeeded())
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	os.Clearenv()
	t.Setenv("GATEWAY_HOST", "10.0.0.7")
	t.Setenv("GATEWAY_LOCAL_PORT", "9080")
	t.Setenv("GATEWAY_REQUEST_TIMEOUT", "750ms")
	t.Setenv("DOORLOCK_ROOMS", "1, 2,12")
	t.Setenv("SWEEPER_INTERVAL", "5m")
	t.Setenv("NOTIFY_STREAM_ENABLED", "true")
	t.Setenv("NOTIFY_WEBHOOK_URLS", "http://a/hook,http://b/hook")
	t.Setenv("DB_NAME", "frontdesk")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.7:80", cfg.GatewayAddr())
	assert.Equal(t, ":9080", cfg.LocalAddr())
	assert.Equal(t, 750*time.Millisecond, cfg.Gateway.RequestTimeout)
	assert.Equal(t, []int{1, 2, 12}, cfg.Rooms.Static)
	assert.Equal(t, 5*time.Minute, cfg.Sweeper.Interval)
	assert.True(t, cfg.RedisNeeded())
	assert.Equal(t, []string{"http://a/hook", "http://b/hook"}, cfg.Notify.Webhook.URLs)
	assert.Equal(t, "frontdesk", cfg.Database.Database)
}

func TestLoad_InvalidRooms(t *testing.T) {
	os.Clearenv()
	t.Setenv("DOORLOCK_ROOMS", "1,x")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("DOORLOCK_ROOMS", "1,120")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	os.Clearenv()
	path := filepath.Join(t.TempDir(), "doorlock.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage: postgres
database:
  host: db.internal
  database: hotel
gateway:
  host: 192.168.1.171
  local_port: 8080
  request_timeout: 1500ms
rooms:
  source: database
sweeper:
  interval: 30s
notify:
  mqtt:
    enabled: true
    topic_prefix: site1/rooms
`), 0o600))
	t.Setenv("GATEWAY_HOST", "192.168.1.200")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, StoragePostgres, cfg.Storage)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "192.168.1.200:80", cfg.GatewayAddr())
	assert.Equal(t, ":8080", cfg.LocalAddr())
	assert.Equal(t, 1500*time.Millisecond, cfg.Gateway.RequestTimeout)
	assert.Equal(t, RoomsDatabase, cfg.Rooms.Source)
	assert.Equal(t, 30*time.Second, cfg.Sweeper.Interval)
	assert.True(t, cfg.Notify.MQTT.Enabled)
	assert.Equal(t, "site1/rooms", cfg.Notify.MQTT.TopicPrefix)
}

func TestLoadFile_Errors(t *testing.T) {
	os.Clearenv()
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rooms:\n  source: database\n"), 0o600))
	_, err = LoadFile(path)
	assert.ErrorContains(t, err, "needs postgres storage")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown storage", func(c *Config) { c.Storage = "sqlite" }},
		{"empty gateway", func(c *Config) { c.Gateway.Host = "" }},
		{"bad port", func(c *Config) { c.Gateway.Port = 70000 }},
		{"zero timeout", func(c *Config) { c.Gateway.RequestTimeout = 0 }},
		{"bad bit order", func(c *Config) { c.Status.BitOrder = "mixed" }},
		{"unknown rooms source", func(c *Config) { c.Rooms.Source = "ldap" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
