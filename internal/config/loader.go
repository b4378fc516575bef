package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/sonohq/roomlink/internal/roomsync"
)

// accessKeyPattern matches the canonical four-hyphenated-words access key
// form (e.g., "amber-falcon-river-stone").
var accessKeyPattern = regexp.MustCompile(`^[a-z]+-[a-z]+-[a-z]+-[a-z]+$`)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	if cfg.Server.Sharing {
		if cfg.Server.URL == "" {
			errs = append(errs, errors.New("server.url is required when server.sharing is enabled"))
		} else if err := validateServerURL(cfg.Server.URL); err != nil {
			errs = append(errs, err)
		}
	}

	// A malformed saved room is only a stale-settings nuisance; the
	// connection attempt falls back to a generated room anyway.
	if cfg.Server.SavedRoom != "" && !roomsync.ValidRoomCode(cfg.Server.SavedRoom) {
		slog.Warn("server.saved_room does not look like a room code; it will be probed as-is",
			"saved_room", cfg.Server.SavedRoom,
		)
	}
	if cfg.Server.AccessKey != "" && !accessKeyPattern.MatchString(cfg.Server.AccessKey) {
		slog.Warn("server.access_key does not match the four-word form — may be a typo",
			"access_key", cfg.Server.AccessKey,
		)
	}

	if cfg.Timing.BackoffCapUnits < 0 {
		errs = append(errs, fmt.Errorf("timing.backoff_cap_units %d is negative", cfg.Timing.BackoffCapUnits))
	}
	for name, d := range map[string]int64{
		"timing.heartbeat_interval":     int64(cfg.Timing.HeartbeatInterval),
		"timing.inactive_after":         int64(cfg.Timing.InactiveAfter),
		"timing.searching_after":        int64(cfg.Timing.SearchingAfter),
		"timing.search_retry_interval":  int64(cfg.Timing.SearchRetryInterval),
		"timing.offline_poll_interval":  int64(cfg.Timing.OfflinePollInterval),
		"timing.backoff_unit":           int64(cfg.Timing.BackoffUnit),
		"timing.probe_timeout":          int64(cfg.Timing.ProbeTimeout),
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s is negative", name))
		}
	}

	return errors.Join(errs...)
}

// validateServerURL checks that raw parses and uses a websocket or HTTP
// scheme (HTTP is upgraded during the dial).
func validateServerURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("server.url %q is not a valid URL: %w", raw, err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("server.url scheme %q is invalid; valid values: ws, wss, http, https", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("server.url %q has no host", raw)
	}
	return nil
}
