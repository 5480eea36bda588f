package connection

import (
	"errors"
	"time"
)

// Config holds the channel endpoint and the reconnect policy.
type Config struct {
	// WSBaseURL is the ws:// or wss:// origin the channel path is appended to.
	WSBaseURL            string
	MaxReconnectAttempts int
	// BaseDelay is the first reconnect delay; each later attempt doubles it.
	BaseDelay        time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// DefaultConfig returns five attempts starting at one second.
func DefaultConfig() Config {
	return Config{
		WSBaseURL:            "ws://localhost:8000",
		MaxReconnectAttempts: 5,
		BaseDelay:            time.Second,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.WSBaseURL == "" {
		return errors.New("websocket base url cannot be empty")
	}
	if c.MaxReconnectAttempts < 0 {
		return errors.New("max reconnect attempts cannot be negative")
	}
	if c.BaseDelay <= 0 {
		return errors.New("base delay must be greater than 0")
	}
	if c.HandshakeTimeout <= 0 {
		return errors.New("handshake timeout must be greater than 0")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("write timeout must be greater than 0")
	}
	return nil
}
