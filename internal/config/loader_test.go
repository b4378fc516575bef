package config

import (
	"strings"
	"testing"
	"time"
)

const validYAML = `
user:
  name: Alice
  device_id: 0b8f6a2e
server:
  url: wss://relay.example.com/room
  access_key: amber-falcon-river-stone
  saved_room: ABC123
  sharing: true
debug:
  listen_addr: 127.0.0.1:9090
log_level: debug
timing:
  heartbeat_interval: 2s
  backoff_cap_units: 30
`

func TestLoadFromReaderValid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.User.Name != "Alice" {
		t.Errorf("user.name: got %q", cfg.User.Name)
	}
	if cfg.Server.URL != "wss://relay.example.com/room" {
		t.Errorf("server.url: got %q", cfg.Server.URL)
	}
	if !cfg.Server.Sharing {
		t.Error("server.sharing: got false")
	}
	if cfg.LogLevel != LogDebug {
		t.Errorf("log_level: got %q", cfg.LogLevel)
	}
	if cfg.Timing.HeartbeatInterval != 2*time.Second {
		t.Errorf("timing.heartbeat_interval: got %v", cfg.Timing.HeartbeatInterval)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("user:\n  nickname: oops\n"))
	if err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "invalid log level",
			yaml: "log_level: verbose\n",
			want: "log_level",
		},
		{
			name: "sharing without url",
			yaml: "server:\n  sharing: true\n",
			want: "server.url is required",
		},
		{
			name: "bad url scheme",
			yaml: "server:\n  sharing: true\n  url: ftp://relay.example.com\n",
			want: "scheme",
		},
		{
			name: "negative timing",
			yaml: "timing:\n  probe_timeout: -1s\n",
			want: "timing.probe_timeout",
		},
		{
			name: "negative backoff cap",
			yaml: "timing:\n  backoff_cap_units: -2\n",
			want: "backoff_cap_units",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("invalid config accepted")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestValidateNonSharingNeedsNoURL(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("user:\n  name: Solo\n"))
	if err != nil {
		t.Fatalf("offline-only config rejected: %v", err)
	}
	if cfg.Server.Sharing {
		t.Error("sharing defaulted to true")
	}
}

func TestTimingResolveOverlaysDefaults(t *testing.T) {
	var tc TimingConfig
	tc.HeartbeatInterval = 5 * time.Second
	tc.BackoffCapUnits = 10

	timing := tc.Resolve()
	if timing.HeartbeatInterval != 5*time.Second {
		t.Errorf("override lost: %v", timing.HeartbeatInterval)
	}
	if timing.BackoffCapUnits != 10 {
		t.Errorf("override lost: %d", timing.BackoffCapUnits)
	}
	// Untouched fields keep production defaults.
	if timing.SearchRetryInterval != 3*time.Second {
		t.Errorf("default clobbered: %v", timing.SearchRetryInterval)
	}
	if len(timing.JoinRetrySchedule) == 0 {
		t.Error("default join retry schedule missing")
	}
}
