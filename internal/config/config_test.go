package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
transport:
  driver: restchat
  base_url: https://chat.example.com/api
target:
  channel_id: "123456"
accounts:
  - name: alpha
    token_env: ROTOR_TOKEN_ALPHA
    base_delay: 5s
  - name: beta
    token_env: ROTOR_TOKEN_BETA
    enabled: false
oracle:
  validity_window: 5m
send:
  jitter_min: 2s
  jitter_max: 8s
  typing:
    enabled: true
    duration: 2s
rotation:
  per_turn_limit: 1
  rotation_delay: 1s
messages:
  path: messages.txt
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rotor.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport.Driver != "restchat" {
		t.Fatalf("Driver = %q, want restchat", cfg.Transport.Driver)
	}
	if len(cfg.Accounts) != 2 {
		t.Fatalf("accounts = %d, want 2", len(cfg.Accounts))
	}
	if !cfg.Accounts[0].IsEnabled() {
		t.Fatal("alpha should default to enabled")
	}
	if cfg.Accounts[1].IsEnabled() {
		t.Fatal("beta is explicitly disabled")
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, validYAML+"\nbogus_section:\n  x: 1\n"))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected unknown-field error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "no accounts",
			mutate:  func(c *Config) { c.Accounts = nil },
			wantErr: "at least one account",
		},
		{
			name: "duplicate names",
			mutate: func(c *Config) {
				c.Accounts = append(c.Accounts, c.Accounts[0])
			},
			wantErr: "duplicate name",
		},
		{
			name:    "missing token env",
			mutate:  func(c *Config) { c.Accounts[0].TokenEnv = "" },
			wantErr: "token_env is required",
		},
		{
			name:    "missing channel",
			mutate:  func(c *Config) { c.Target.ChannelID = "" },
			wantErr: "channel_id is required",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Transport.Driver = "carrier-pigeon" },
			wantErr: "unknown driver",
		},
		{
			name:    "restchat needs base url",
			mutate:  func(c *Config) { c.Transport.BaseURL = "" },
			wantErr: "base_url is required",
		},
		{
			name:    "bad duration",
			mutate:  func(c *Config) { c.Send.JitterMin = "soon" },
			wantErr: "invalid duration",
		},
		{
			name: "jitter inverted",
			mutate: func(c *Config) {
				c.Send.JitterMin = "10s"
				c.Send.JitterMax = "2s"
			},
			wantErr: "jitter_min must be <=",
		},
		{
			name:    "unknown rotation mode",
			mutate:  func(c *Config) { c.Rotation.Mode = "round-trip" },
			wantErr: "unknown mode",
		},
		{
			name:    "negative time split",
			mutate:  func(c *Config) { c.Rotation.TimeSplit = -1 },
			wantErr: "time_split must be >= 0",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewManager(writeConfig(t, validYAML))
			cfg, err := m.Parse()
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = (%v, %v), want (0, nil)", d, err)
	}
	if d, err := ParseDurationField("x", "90s"); err != nil || d != 90*time.Second {
		t.Fatalf("90s = (%v, %v)", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative duration must be rejected")
	}
	if _, err := ParseDurationField("x", "5 parsecs"); err == nil {
		t.Fatal("garbage duration must be rejected")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationOrDefault("x", "", 7*time.Second); err != nil || d != 7*time.Second {
		t.Fatalf("default = (%v, %v), want (7s, nil)", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "3s", 7*time.Second); err != nil || d != 3*time.Second {
		t.Fatalf("explicit = (%v, %v), want (3s, nil)", d, err)
	}
}

func TestAccountToken(t *testing.T) {
	ac := AccountConfig{Name: "a", TokenEnv: "ROTOR_TEST_TOKEN_A"}
	t.Setenv("ROTOR_TEST_TOKEN_A", "  secret  ")
	tok, err := ac.Token()
	if err != nil || tok != "secret" {
		t.Fatalf("Token = (%q, %v), want (secret, nil)", tok, err)
	}

	t.Setenv("ROTOR_TEST_TOKEN_A", "")
	if _, err := ac.Token(); err == nil {
		t.Fatal("empty env var must be an error")
	}
}

func TestSubscribePublishUnsubscribe(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	sub := m.Subscribe(1)
	m.publish(cfg)
	select {
	case got := <-sub:
		if got != cfg {
			t.Fatal("subscriber received wrong config")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the publish")
	}

	// Full buffer: the newest config wins, nothing blocks.
	next := *cfg
	m.publish(cfg)
	m.publish(&next)
	if got := <-sub; got != &next {
		t.Fatal("slow subscriber should see the newest config")
	}

	m.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatal("unsubscribed channel should be closed")
	}
}
