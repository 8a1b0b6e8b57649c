package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"wisefido-doorlock/common/config"
	"wisefido-doorlock/internal/models"

	"gopkg.in/yaml.v3"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	RoomsStatic   = "static"
	RoomsDatabase = "database"
)

// Config door-lock service configuration
type Config struct {
	Storage  string                `yaml:"storage"` // memory | postgres
	Database config.DatabaseConfig `yaml:"database"`
	Redis    config.RedisConfig    `yaml:"redis"`
	MQTT     config.MQTTConfig     `yaml:"mqtt"`

	Gateway struct {
		Host            string        `yaml:"host"`
		Port            int           `yaml:"port"`
		LocalPort       int           `yaml:"local_port"`
		RequestTimeout  time.Duration `yaml:"request_timeout"`
		MaxResponseSize int           `yaml:"max_response_size"`
		AnswerPolls     bool          `yaml:"answer_polls"`
	} `yaml:"gateway"`

	Rooms struct {
		Source string `yaml:"source"` // static | database
		Static []int  `yaml:"static"`
	} `yaml:"rooms"`

	Status struct {
		BitOrder        string `yaml:"bit_order"` // msb | lsb
		TelemetryBuffer int    `yaml:"telemetry_buffer"`
	} `yaml:"status"`

	Sweeper struct {
		Enabled  bool          `yaml:"enabled"`
		Interval time.Duration `yaml:"interval"`
	} `yaml:"sweeper"`

	Notify struct {
		Stream struct {
			Enabled bool   `yaml:"enabled"`
			Name    string `yaml:"name"`
			MaxLen  int64  `yaml:"max_len"`
		} `yaml:"stream"`
		Cache struct {
			Enabled bool          `yaml:"enabled"`
			TTL     time.Duration `yaml:"ttl"`
		} `yaml:"cache"`
		MQTT struct {
			Enabled     bool   `yaml:"enabled"`
			TopicPrefix string `yaml:"topic_prefix"`
		} `yaml:"mqtt"`
		Webhook struct {
			URLs    []string      `yaml:"urls"`
			Timeout time.Duration `yaml:"timeout"`
			Retries int           `yaml:"retries"`
		} `yaml:"webhook"`
	} `yaml:"notify"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default configuration with no file and no environment.
func Default() *Config {
	cfg := &Config{Storage: StorageMemory}

	cfg.Database = config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "hotel",
		SSLMode:  "disable",
		MaxConns: 10,
		MaxIdle:  5,
	}
	cfg.Redis = config.RedisConfig{Addr: "localhost:6379"}
	cfg.MQTT = config.MQTTConfig{Broker: "tcp://localhost:1883", ClientID: "wisefido-doorlock", QoS: 1}

	cfg.Gateway.Host = "192.168.1.116"
	cfg.Gateway.Port = 80
	cfg.Gateway.LocalPort = 80
	cfg.Gateway.RequestTimeout = 2 * time.Second
	cfg.Gateway.MaxResponseSize = 64
	cfg.Gateway.AnswerPolls = true

	cfg.Rooms.Source = RoomsStatic

	cfg.Status.BitOrder = "msb"
	cfg.Status.TelemetryBuffer = 64

	cfg.Sweeper.Enabled = true
	cfg.Sweeper.Interval = 60 * time.Second

	cfg.Notify.Stream.Name = "doorlock:status_events"
	cfg.Notify.Stream.MaxLen = 10000
	cfg.Notify.Cache.TTL = 24 * time.Hour
	cfg.Notify.MQTT.TopicPrefix = "hotel/rooms"
	cfg.Notify.Webhook.Timeout = 5 * time.Second
	cfg.Notify.Webhook.Retries = 2

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	return cfg
}

// Load defaults overridden by the environment.
func Load() (*Config, error) {
	cfg := Default()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadFile defaults, then the YAML file at path, then the environment.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	cfg.Database.LoadFromEnv("DB")
	cfg.Redis.LoadFromEnv("REDIS")
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Storage = getEnv("DOORLOCK_STORAGE", cfg.Storage)

	cfg.Gateway.Host = getEnv("GATEWAY_HOST", cfg.Gateway.Host)
	cfg.Gateway.Port = getEnvInt("GATEWAY_PORT", cfg.Gateway.Port)
	cfg.Gateway.LocalPort = getEnvInt("GATEWAY_LOCAL_PORT", cfg.Gateway.LocalPort)
	cfg.Gateway.RequestTimeout = getEnvDuration("GATEWAY_REQUEST_TIMEOUT", cfg.Gateway.RequestTimeout)
	cfg.Gateway.AnswerPolls = getEnvBool("GATEWAY_ANSWER_POLLS", cfg.Gateway.AnswerPolls)

	cfg.Rooms.Source = getEnv("DOORLOCK_ROOMS_SOURCE", cfg.Rooms.Source)
	if v := os.Getenv("DOORLOCK_ROOMS"); v != "" {
		rooms, err := parseRooms(v)
		if err != nil {
			return err
		}
		cfg.Rooms.Static = rooms
	}

	cfg.Status.BitOrder = getEnv("STATUS_BIT_ORDER", cfg.Status.BitOrder)

	cfg.Sweeper.Enabled = getEnvBool("SWEEPER_ENABLED", cfg.Sweeper.Enabled)
	cfg.Sweeper.Interval = getEnvDuration("SWEEPER_INTERVAL", cfg.Sweeper.Interval)

	cfg.Notify.Stream.Enabled = getEnvBool("NOTIFY_STREAM_ENABLED", cfg.Notify.Stream.Enabled)
	cfg.Notify.Stream.Name = getEnv("NOTIFY_STREAM_NAME", cfg.Notify.Stream.Name)
	cfg.Notify.Cache.Enabled = getEnvBool("NOTIFY_CACHE_ENABLED", cfg.Notify.Cache.Enabled)
	cfg.Notify.MQTT.Enabled = getEnvBool("NOTIFY_MQTT_ENABLED", cfg.Notify.MQTT.Enabled)
	cfg.Notify.MQTT.TopicPrefix = getEnv("NOTIFY_MQTT_TOPIC_PREFIX", cfg.Notify.MQTT.TopicPrefix)
	if v := os.Getenv("NOTIFY_WEBHOOK_URLS"); v != "" {
		cfg.Notify.Webhook.URLs = splitList(v)
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
	return nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Storage != StorageMemory && c.Storage != StoragePostgres {
		return fmt.Errorf("config: unknown storage %q", c.Storage)
	}
	if c.Gateway.Host == "" {
		return fmt.Errorf("config: gateway host is required")
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("config: gateway port %d out of range", c.Gateway.Port)
	}
	if c.Gateway.LocalPort < 0 || c.Gateway.LocalPort > 65535 {
		return fmt.Errorf("config: local port %d out of range", c.Gateway.LocalPort)
	}
	if c.Gateway.RequestTimeout <= 0 {
		return fmt.Errorf("config: request timeout must be positive")
	}
	switch c.Rooms.Source {
	case RoomsStatic:
		for _, r := range c.Rooms.Static {
			if !models.ValidRoomNumber(r) {
				return fmt.Errorf("config: room %d out of range", r)
			}
		}
	case RoomsDatabase:
		if c.Storage != StoragePostgres {
			return fmt.Errorf("config: rooms source %q needs postgres storage", c.Rooms.Source)
		}
	default:
		return fmt.Errorf("config: unknown rooms source %q", c.Rooms.Source)
	}
	if c.Status.BitOrder != "msb" && c.Status.BitOrder != "lsb" {
		return fmt.Errorf("config: unknown bit order %q", c.Status.BitOrder)
	}
	if c.Sweeper.Enabled && c.Sweeper.Interval <= 0 {
		return fmt.Errorf("config: sweep interval must be positive")
	}
	return nil
}

// RedisNeeded reports whether any Redis-backed consumer is enabled.
func (c *Config) RedisNeeded() bool {
	return c.Notify.Stream.Enabled || c.Notify.Cache.Enabled
}

// GatewayAddr host:port of the gateway.
func (c *Config) GatewayAddr() string {
	return fmt.Sprintf("%s:%d", c.Gateway.Host, c.Gateway.Port)
}

// LocalAddr bind address of the UDP socket.
func (c *Config) LocalAddr() string {
	return fmt.Sprintf(":%d", c.Gateway.LocalPort)
}

func parseRooms(s string) ([]int, error) {
	var rooms []int
	for _, part := range splitList(s) {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("config: invalid room %q: %w", part, err)
		}
		rooms = append(rooms, n)
	}
	return rooms, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return defaultValue
}
