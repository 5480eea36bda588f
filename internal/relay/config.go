package relay

import (
	"errors"
	"time"
)

// Config tunes the relay's sockets.
type Config struct {
	Host         string
	Port         int
	WriteTimeout time.Duration
	PingInterval time.Duration
	// PongWait must exceed PingInterval.
	PongWait time.Duration
	// RateLimit is the frames a peer may send per RateWindow; zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		Host:         "127.0.0.1",
		Port:         8000,
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
		PongWait:     60 * time.Second,
		RateLimit:    100,
		RateWindow:   time.Minute,
	}
}

func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.New("relay port must be between 0 and 65535")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("relay write timeout must be greater than 0")
	}
	if c.PingInterval <= 0 || c.PongWait <= c.PingInterval {
		return errors.New("relay pong wait must exceed a positive ping interval")
	}
	if c.RateLimit > 0 && c.RateWindow <= 0 {
		return errors.New("relay rate window must be greater than 0")
	}
	return nil
}
