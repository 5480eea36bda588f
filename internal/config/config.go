// Package config loads livesync settings from defaults, LIVESYNC_*
// environment variables and an optional JSON or TOML file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

type Config struct {
	Server    *ServerConfig    `json:"server"`
	Reconnect *ReconnectConfig `json:"reconnect"`
	Storage   *StorageConfig   `json:"storage"`
	Relay     *RelayConfig     `json:"relay"`
	Log       *LogConfig       `json:"log"`
}

// ServerConfig points at the CRUD API and the channel relay.
type ServerConfig struct {
	APIBaseURL     string        `json:"api_base_url"`
	WSBaseURL      string        `json:"ws_base_url"`
	RequestTimeout time.Duration `json:"request_timeout"`
	Retries        int           `json:"retries"`
}

type ReconnectConfig struct {
	MaxAttempts      int           `json:"max_attempts"`
	BaseDelay        time.Duration `json:"base_delay"`
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
	WriteTimeout     time.Duration `json:"write_timeout"`
}

// StorageConfig selects the shared medium for session snapshots.
type StorageConfig struct {
	Driver        string        `json:"driver"`
	Path          string        `json:"path"`
	Key           string        `json:"key"`
	RedisAddr     string        `json:"redis_addr"`
	RedisPassword string        `json:"redis_password"`
	RedisDB       int           `json:"redis_db"`
	WriteTimeout  time.Duration `json:"write_timeout"`
	PollInterval  time.Duration `json:"poll_interval"`
}

type RelayConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	PingInterval time.Duration `json:"ping_interval"`
	PongWait     time.Duration `json:"pong_wait"`
	WriteTimeout time.Duration `json:"write_timeout"`
	RateLimit    int           `json:"rate_limit"`
	RateWindow   time.Duration `json:"rate_window"`
}

type LogConfig struct {
	Level  string `json:"level" toml:"level"`
	Format string `json:"format" toml:"format"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: &ServerConfig{
			APIBaseURL:     "http://localhost:8000",
			WSBaseURL:      "ws://localhost:8000",
			RequestTimeout: 10 * time.Second,
			Retries:        2,
		},
		Reconnect: &ReconnectConfig{
			MaxAttempts:      5,
			BaseDelay:        time.Second,
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     5 * time.Second,
		},
		Storage: &StorageConfig{
			Driver:       DriverSQLite,
			Path:         "./livesync.db",
			Key:          "livesync_session",
			RedisAddr:    "localhost:6379",
			WriteTimeout: 5 * time.Second,
		},
		Relay: &RelayConfig{
			Host:         "127.0.0.1",
			Port:         8000,
			PingInterval: 30 * time.Second,
			PongWait:     60 * time.Second,
			WriteTimeout: 5 * time.Second,
			RateLimit:    100,
			RateWindow:   time.Minute,
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func (c *Config) Validate() error {
	if c.Server == nil {
		return fmt.Errorf("server configuration is required")
	}
	if c.Server.APIBaseURL == "" {
		return fmt.Errorf("API base URL cannot be empty")
	}
	if !strings.HasPrefix(c.Server.WSBaseURL, "ws://") && !strings.HasPrefix(c.Server.WSBaseURL, "wss://") {
		return fmt.Errorf("WebSocket base URL must start with ws:// or wss://")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.Server.Retries < 0 {
		return fmt.Errorf("retries cannot be negative")
	}

	if c.Reconnect == nil {
		return fmt.Errorf("reconnect configuration is required")
	}
	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("max reconnect attempts cannot be negative")
	}
	if c.Reconnect.BaseDelay <= 0 {
		return fmt.Errorf("reconnect base delay must be positive")
	}
	if c.Reconnect.HandshakeTimeout <= 0 || c.Reconnect.WriteTimeout <= 0 {
		return fmt.Errorf("reconnect timeouts must be positive")
	}

	if c.Storage == nil {
		return fmt.Errorf("storage configuration is required")
	}
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path cannot be empty for the sqlite driver")
		}
	case DriverRedis:
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("redis address cannot be empty for the redis driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Key == "" {
		return fmt.Errorf("storage key cannot be empty")
	}

	if c.Relay == nil {
		return fmt.Errorf("relay configuration is required")
	}
	if c.Relay.Port < 0 || c.Relay.Port > 65535 {
		return fmt.Errorf("relay port must be between 0 and 65535")
	}
	if c.Relay.Host == "" {
		return fmt.Errorf("relay host cannot be empty")
	}
	if c.Relay.PingInterval <= 0 || c.Relay.PongWait <= c.Relay.PingInterval {
		return fmt.Errorf("relay pong wait must exceed a positive ping interval")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("log format must be console or json")
	}
	return nil
}

// LoadFromEnv applies LIVESYNC_* variables on top of the defaults.
// Unparseable values are ignored.
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	setString("LIVESYNC_API_URL", &config.Server.APIBaseURL)
	setString("LIVESYNC_WS_URL", &config.Server.WSBaseURL)
	setDuration("LIVESYNC_REQUEST_TIMEOUT", &config.Server.RequestTimeout)
	setInt("LIVESYNC_REQUEST_RETRIES", &config.Server.Retries)

	setInt("LIVESYNC_RECONNECT_MAX_ATTEMPTS", &config.Reconnect.MaxAttempts)
	setDuration("LIVESYNC_RECONNECT_BASE_DELAY", &config.Reconnect.BaseDelay)

	setString("LIVESYNC_STORAGE_DRIVER", &config.Storage.Driver)
	setString("LIVESYNC_STORAGE_PATH", &config.Storage.Path)
	setString("LIVESYNC_STORAGE_KEY", &config.Storage.Key)
	setString("LIVESYNC_REDIS_ADDR", &config.Storage.RedisAddr)
	setString("LIVESYNC_REDIS_PASSWORD", &config.Storage.RedisPassword)
	setInt("LIVESYNC_REDIS_DB", &config.Storage.RedisDB)

	setString("LIVESYNC_RELAY_HOST", &config.Relay.Host)
	setInt("LIVESYNC_RELAY_PORT", &config.Relay.Port)
	setInt("LIVESYNC_RELAY_RATE_LIMIT", &config.Relay.RateLimit)

	setString("LIVESYNC_LOG_LEVEL", &config.Log.Level)
	setString("LIVESYNC_LOG_FORMAT", &config.Log.Format)
}

func setString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func setInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(name string, dst *time.Duration) {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// ConfigFile mirrors Config for files, with durations as strings such as
// "1500ms".
type ConfigFile struct {
	Server    *ServerConfigFile    `json:"server" toml:"server"`
	Reconnect *ReconnectConfigFile `json:"reconnect" toml:"reconnect"`
	Storage   *StorageConfigFile   `json:"storage" toml:"storage"`
	Relay     *RelayConfigFile     `json:"relay" toml:"relay"`
	Log       *LogConfig           `json:"log" toml:"log"`
}

type ServerConfigFile struct {
	APIBaseURL     string `json:"api_base_url" toml:"api_base_url"`
	WSBaseURL      string `json:"ws_base_url" toml:"ws_base_url"`
	RequestTimeout string `json:"request_timeout" toml:"request_timeout"`
	Retries        *int   `json:"retries" toml:"retries"`
}

type ReconnectConfigFile struct {
	MaxAttempts      *int   `json:"max_attempts" toml:"max_attempts"`
	BaseDelay        string `json:"base_delay" toml:"base_delay"`
	HandshakeTimeout string `json:"handshake_timeout" toml:"handshake_timeout"`
	WriteTimeout     string `json:"write_timeout" toml:"write_timeout"`
}

type StorageConfigFile struct {
	Driver        string `json:"driver" toml:"driver"`
	Path          string `json:"path" toml:"path"`
	Key           string `json:"key" toml:"key"`
	RedisAddr     string `json:"redis_addr" toml:"redis_addr"`
	RedisPassword string `json:"redis_password" toml:"redis_password"`
	RedisDB       int    `json:"redis_db" toml:"redis_db"`
	WriteTimeout  string `json:"write_timeout" toml:"write_timeout"`
	PollInterval  string `json:"poll_interval" toml:"poll_interval"`
}

type RelayConfigFile struct {
	Host         string `json:"host" toml:"host"`
	Port         int    `json:"port" toml:"port"`
	PingInterval string `json:"ping_interval" toml:"ping_interval"`
	PongWait     string `json:"pong_wait" toml:"pong_wait"`
	WriteTimeout string `json:"write_timeout" toml:"write_timeout"`
	RateLimit    *int   `json:"rate_limit" toml:"rate_limit"`
	RateWindow   string `json:"rate_window" toml:"rate_window"`
}

// LoadFromFile reads a JSON file, or TOML when the extension is .toml,
// on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, &file)
	} else {
		err = json.Unmarshal(data, &file)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if s := file.Server; s != nil {
		override(&config.Server.APIBaseURL, s.APIBaseURL)
		override(&config.Server.WSBaseURL, s.WSBaseURL)
		if s.Retries != nil {
			config.Server.Retries = *s.Retries
		}
		if err := overrideDuration(&config.Server.RequestTimeout, s.RequestTimeout); err != nil {
			return fmt.Errorf("server.request_timeout: %w", err)
		}
	}

	if r := file.Reconnect; r != nil {
		if r.MaxAttempts != nil {
			config.Reconnect.MaxAttempts = *r.MaxAttempts
		}
		for _, d := range []struct {
			name string
			dst  *time.Duration
			raw  string
		}{
			{"reconnect.base_delay", &config.Reconnect.BaseDelay, r.BaseDelay},
			{"reconnect.handshake_timeout", &config.Reconnect.HandshakeTimeout, r.HandshakeTimeout},
			{"reconnect.write_timeout", &config.Reconnect.WriteTimeout, r.WriteTimeout},
		} {
			if err := overrideDuration(d.dst, d.raw); err != nil {
				return fmt.Errorf("%s: %w", d.name, err)
			}
		}
	}

	if s := file.Storage; s != nil {
		override(&config.Storage.Driver, s.Driver)
		override(&config.Storage.Path, s.Path)
		override(&config.Storage.Key, s.Key)
		override(&config.Storage.RedisAddr, s.RedisAddr)
		override(&config.Storage.RedisPassword, s.RedisPassword)
		if s.RedisDB > 0 {
			config.Storage.RedisDB = s.RedisDB
		}
		if err := overrideDuration(&config.Storage.WriteTimeout, s.WriteTimeout); err != nil {
			return fmt.Errorf("storage.write_timeout: %w", err)
		}
		if err := overrideDuration(&config.Storage.PollInterval, s.PollInterval); err != nil {
			return fmt.Errorf("storage.poll_interval: %w", err)
		}
	}

	if r := file.Relay; r != nil {
		override(&config.Relay.Host, r.Host)
		if r.Port > 0 {
			config.Relay.Port = r.Port
		}
		if r.RateLimit != nil {
			config.Relay.RateLimit = *r.RateLimit
		}
		for _, d := range []struct {
			name string
			dst  *time.Duration
			raw  string
		}{
			{"relay.ping_interval", &config.Relay.PingInterval, r.PingInterval},
			{"relay.pong_wait", &config.Relay.PongWait, r.PongWait},
			{"relay.write_timeout", &config.Relay.WriteTimeout, r.WriteTimeout},
			{"relay.rate_window", &config.Relay.RateWindow, r.RateWindow},
		} {
			if err := overrideDuration(d.dst, d.raw); err != nil {
				return fmt.Errorf("%s: %w", d.name, err)
			}
		}
	}

	if l := file.Log; l != nil {
		override(&config.Log.Level, l.Level)
		override(&config.Log.Format, l.Format)
	}
	return nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func overrideDuration(dst *time.Duration, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// LoadConfigWithPrecedence resolves file > environment > defaults. An
// empty path skips the file.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := LoadFromEnv()
	if path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
