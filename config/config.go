// Package config carries the client's operational tuning in one flat
// structure so a host application configures the session core without
// touching individual component configs.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/antinvestor/chat-client/session"
	"github.com/antinvestor/chat-client/transport"
)

// ClientConfig is the full client tuning. Zero values fall back to the
// production defaults during Validate.
type ClientConfig struct {
	// ServerURL is the gateway websocket endpoint.
	ServerURL string `mapstructure:"server_url"`

	HandshakeTimeoutSec int `mapstructure:"handshake_timeout_sec"`
	WriteTimeoutSec     int `mapstructure:"write_timeout_sec"`

	HeartbeatIntervalSec int `mapstructure:"heartbeat_interval_sec"`
	HeartbeatGraceSec    int `mapstructure:"heartbeat_grace_sec"`

	ReconnectMaxAttempts   int `mapstructure:"reconnect_max_attempts"`
	ReconnectCooldownSec   int `mapstructure:"reconnect_cooldown_sec"`
	ReconnectNetworkCapSec int `mapstructure:"reconnect_network_cap_sec"`
	ReconnectDefaultCapSec int `mapstructure:"reconnect_default_cap_sec"`

	QueueMaxSize     int `mapstructure:"queue_max_size"`
	QueueTTLSec      int `mapstructure:"queue_ttl_sec"`
	QueueMaxAttempts int `mapstructure:"queue_max_attempts"`

	TypingDebounceMs int `mapstructure:"typing_debounce_ms"`
	TypingExpiryMs   int `mapstructure:"typing_expiry_ms"`

	EventBuffer int `mapstructure:"event_buffer"`
}

// Validate checks the configuration and reports every problem at once.
func (c *ClientConfig) Validate() error {
	var errs []error

	if c.ServerURL == "" {
		errs = append(errs, errors.New("server_url is required"))
	} else if u, err := url.Parse(c.ServerURL); err != nil {
		errs = append(errs, fmt.Errorf("server_url is invalid: %w", err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("server_url scheme must be ws or wss, got %q", u.Scheme))
	}

	if c.HeartbeatIntervalSec < 0 {
		errs = append(errs, errors.New("heartbeat_interval_sec must not be negative"))
	}
	if c.HeartbeatGraceSec < 0 {
		errs = append(errs, errors.New("heartbeat_grace_sec must not be negative"))
	}
	if c.ReconnectMaxAttempts < 0 {
		errs = append(errs, errors.New("reconnect_max_attempts must not be negative"))
	}
	if c.QueueMaxSize < 0 {
		errs = append(errs, errors.New("queue_max_size must not be negative"))
	}
	if c.QueueMaxAttempts < 0 {
		errs = append(errs, errors.New("queue_max_attempts must not be negative"))
	}
	if c.TypingDebounceMs < 0 {
		errs = append(errs, errors.New("typing_debounce_ms must not be negative"))
	}
	if c.TypingExpiryMs < 0 {
		errs = append(errs, errors.New("typing_expiry_ms must not be negative"))
	}

	return errors.Join(errs...)
}

// SessionConfig maps the flat tuning onto the session core's config,
// starting from the production defaults for anything left at zero.
func (c *ClientConfig) SessionConfig() session.Config {
	cfg := session.DefaultConfig()

	setDuration(&cfg.HeartbeatInterval, c.HeartbeatIntervalSec, time.Second)
	setDuration(&cfg.HeartbeatGrace, c.HeartbeatGraceSec, time.Second)

	if c.ReconnectMaxAttempts > 0 {
		cfg.Scheduler.MaxAttempts = c.ReconnectMaxAttempts
	}
	setDuration(&cfg.Scheduler.Cooldown, c.ReconnectCooldownSec, time.Second)
	setDuration(&cfg.Scheduler.NetworkCap, c.ReconnectNetworkCapSec, time.Second)
	setDuration(&cfg.Scheduler.DefaultCap, c.ReconnectDefaultCapSec, time.Second)

	if c.QueueMaxSize > 0 {
		cfg.Queue.MaxSize = c.QueueMaxSize
	}
	setDuration(&cfg.Queue.TTL, c.QueueTTLSec, time.Second)
	if c.QueueMaxAttempts > 0 {
		cfg.Queue.MaxAttempts = c.QueueMaxAttempts
	}

	setDuration(&cfg.TypingDebounce, c.TypingDebounceMs, time.Millisecond)
	setDuration(&cfg.TypingExpiry, c.TypingExpiryMs, time.Millisecond)

	if c.EventBuffer > 0 {
		cfg.EventBuffer = c.EventBuffer
	}

	return cfg
}

// TransportConfig maps the flat tuning onto the websocket transport.
func (c *ClientConfig) TransportConfig() transport.Config {
	cfg := transport.DefaultConfig(c.ServerURL)
	setDuration(&cfg.HandshakeTimeout, c.HandshakeTimeoutSec, time.Second)
	setDuration(&cfg.WriteTimeout, c.WriteTimeoutSec, time.Second)
	if c.EventBuffer > 0 {
		cfg.EventBuffer = c.EventBuffer
	}
	return cfg
}

func setDuration(dst *time.Duration, value int, unit time.Duration) {
	if value > 0 {
		*dst = time.Duration(value) * unit
	}
}
