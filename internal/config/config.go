// Package config provides the configuration schema, loader, and file watcher
// for the roomlink client.
package config

import (
	"log/slog"
	"time"

	"github.com/sonohq/roomlink/internal/roomsync"
)

// LogLevel controls log verbosity for the roomlink client.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to the corresponding [slog.Level]. An empty or invalid
// level maps to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for roomlink.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	User   UserConfig   `yaml:"user"`
	Server ServerConfig `yaml:"server"`
	Debug  DebugConfig  `yaml:"debug"`
	Timing TimingConfig `yaml:"timing"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// UserConfig holds the local identity presented to room peers.
type UserConfig struct {
	// Name is the display name shown to other participants.
	Name string `yaml:"name"`

	// DeviceID is the stable per-device identifier that survives restarts
	// and reconnects. Generated and persisted on first run when empty.
	DeviceID string `yaml:"device_id"`
}

// ServerConfig holds relay connection settings.
type ServerConfig struct {
	// URL is the relay endpoint (e.g., "wss://relay.example.com/room").
	URL string `yaml:"url"`

	// AccessKey is the optional shared room access key, four hyphenated
	// words (e.g., "amber-falcon-river-stone"). Sent as a query parameter.
	AccessKey string `yaml:"access_key"`

	// SavedRoom is the room code to reconnect to on startup. Updated by the
	// client whenever a room is joined.
	SavedRoom string `yaml:"saved_room"`

	// Sharing enables room connections at all. When false the client stays
	// in offline solo mode and never dials.
	Sharing bool `yaml:"sharing"`
}

// DebugConfig configures the local debug HTTP server.
type DebugConfig struct {
	// ListenAddr is the TCP address for the /healthz, /readyz, and /metrics
	// endpoints (e.g., "127.0.0.1:9090"). Empty disables the debug server.
	ListenAddr string `yaml:"listen_addr"`
}

// TimingConfig overrides individual intervals of the sync core. Zero fields
// keep their production defaults; see [TimingConfig.Resolve]. Mostly useful
// for development against a local relay.
type TimingConfig struct {
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	InactiveAfter       time.Duration `yaml:"inactive_after"`
	SearchingAfter      time.Duration `yaml:"searching_after"`
	SearchRetryInterval time.Duration `yaml:"search_retry_interval"`
	OfflinePollInterval time.Duration `yaml:"offline_poll_interval"`
	BackoffUnit         time.Duration `yaml:"backoff_unit"`
	BackoffCapUnits     int           `yaml:"backoff_cap_units"`
	ProbeTimeout        time.Duration `yaml:"probe_timeout"`
}

// Resolve overlays the configured overrides on [roomsync.DefaultTiming].
func (t TimingConfig) Resolve() roomsync.Timing {
	out := roomsync.DefaultTiming()
	if t.HeartbeatInterval > 0 {
		out.HeartbeatInterval = t.HeartbeatInterval
	}
	if t.InactiveAfter > 0 {
		out.InactiveAfter = t.InactiveAfter
	}
	if t.SearchingAfter > 0 {
		out.SearchingAfter = t.SearchingAfter
	}
	if t.SearchRetryInterval > 0 {
		out.SearchRetryInterval = t.SearchRetryInterval
	}
	if t.OfflinePollInterval > 0 {
		out.OfflinePollInterval = t.OfflinePollInterval
	}
	if t.BackoffUnit > 0 {
		out.BackoffUnit = t.BackoffUnit
	}
	if t.BackoffCapUnits > 0 {
		out.BackoffCapUnits = t.BackoffCapUnits
	}
	if t.ProbeTimeout > 0 {
		out.ProbeTimeout = t.ProbeTimeout
	}
	return out
}
