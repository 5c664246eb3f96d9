package config

import (
	"fmt"
	"os"
	"strings"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Transport TransportConfig `json:"transport"`
	Target    TargetConfig    `json:"target"`
	Accounts  []AccountConfig `json:"accounts"`
	Oracle    OracleConfig    `json:"oracle"`
	Send      SendConfig      `json:"send"`
	Rotation  RotationConfig  `json:"rotation"`
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`
	Admin     AdminConfig     `json:"admin,omitempty"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Messages  MessagesConfig  `json:"messages"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// TransportConfig selects and tunes the platform adapter.
//
// All durations are Go duration strings (e.g. "10s", "1m").
type TransportConfig struct {
	Driver string `json:"driver"` // "restchat" or "telegram"

	// restchat
	BaseURL        string `json:"base_url,omitempty"`
	RequestTimeout string `json:"request_timeout,omitempty"`
	RatePerSec     int    `json:"rate_per_sec,omitempty"`

	// telegram
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type TargetConfig struct {
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id,omitempty"`
}

// AccountConfig declares one credentialed sender.
//
// The token itself never lives in the config file; TokenEnv names the
// environment variable that holds it.
type AccountConfig struct {
	Name       string `json:"name"`
	TokenEnv   string `json:"token_env"`
	Enabled    *bool  `json:"enabled,omitempty"`   // default true
	AutoSend   bool   `json:"auto_send,omitempty"`
	BaseDelay  string `json:"base_delay,omitempty"` // default "5s"
	MaxPerHour int    `json:"max_per_hour,omitempty"`
}

type OracleConfig struct {
	ValidityWindow  string `json:"validity_window,omitempty"` // default "5m"
	FetchTimeout    string `json:"fetch_timeout,omitempty"`   // default "10s"
	DefaultInterval string `json:"default_interval,omitempty"`
}

type SendConfig struct {
	AsEmbed              bool         `json:"as_embed,omitempty"`
	Typing               TypingConfig `json:"typing"`
	JitterMin            string       `json:"jitter_min,omitempty"` // default "2s"
	JitterMax            string       `json:"jitter_max,omitempty"` // default "8s"
	ErrorRetryDelay      string       `json:"error_retry_delay,omitempty"`
	MaxConsecutiveErrors int          `json:"max_consecutive_errors,omitempty"`
}

type TypingConfig struct {
	Enabled  bool   `json:"enabled"`
	Duration string `json:"duration,omitempty"` // default "2s"
}

type RotationConfig struct {
	// Mode is "eligibility" (send whenever a cooldown elapses, default)
	// or "time_split" (stagger accounts at cooldown/time_split).
	Mode      string `json:"mode,omitempty"`
	TimeSplit int    `json:"time_split,omitempty"` // default: number of rotating accounts

	PerTurnLimit  int              `json:"per_turn_limit,omitempty"` // default 1
	RotationDelay string           `json:"rotation_delay,omitempty"` // default "1s"
	StartOnBoot   bool             `json:"start_on_boot,omitempty"`
	Windows       []RotationWindow `json:"windows,omitempty"`
}

// RotationWindow schedules rotation start/stop on cron specs
// (standard 5-field, scheduler timezone).
type RotationWindow struct {
	Start string `json:"start"`
	Stop  string `json:"stop"`
}

type SchedulerConfig struct {
	Timezone string `json:"timezone,omitempty"` // IANA TZ, e.g. "Asia/Jakarta"
}

type AdminConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8321"

	// Debug mounts net/http/pprof under /debug/pprof. Keep the listener
	// on loopback when this is on.
	Debug bool `json:"debug,omitempty"`
}

// StorageConfig controls the optional send-history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./rotor.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type MessagesConfig struct {
	Path string `json:"path,omitempty"` // default "messages.txt"
}

// IsEnabled resolves the account's enabled flag (default true).
func (a AccountConfig) IsEnabled() bool {
	if a.Enabled == nil {
		return true
	}
	return *a.Enabled
}

// Token resolves the account credential from the environment.
func (a AccountConfig) Token() (string, error) {
	env := strings.TrimSpace(a.TokenEnv)
	if env == "" {
		return "", fmt.Errorf("account %q: token_env is required", a.Name)
	}
	tok := strings.TrimSpace(os.Getenv(env))
	if tok == "" {
		return "", fmt.Errorf("account %q: environment variable %s is empty", a.Name, env)
	}
	return tok, nil
}

// Validate checks cross-field constraints that a hot reload must not
// be allowed to break.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("accounts: at least one account is required")
	}
	seen := map[string]bool{}
	for i, a := range c.Accounts {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			return fmt.Errorf("accounts[%d]: name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("accounts[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
		if strings.TrimSpace(a.TokenEnv) == "" {
			return fmt.Errorf("accounts[%d] (%s): token_env is required", i, name)
		}
		if _, err := ParseDurationField(fmt.Sprintf("accounts[%d].base_delay", i), a.BaseDelay); err != nil {
			return err
		}
		if a.MaxPerHour < 0 {
			return fmt.Errorf("accounts[%d].max_per_hour must be >= 0", i)
		}
	}
	if strings.TrimSpace(c.Target.ChannelID) == "" {
		return fmt.Errorf("target.channel_id is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Transport.Driver)) {
	case "restchat":
		if strings.TrimSpace(c.Transport.BaseURL) == "" {
			return fmt.Errorf("transport.base_url is required for the restchat driver")
		}
	case "telegram":
	default:
		return fmt.Errorf("transport.driver: unknown driver %q", c.Transport.Driver)
	}
	for _, field := range []struct{ path, raw string }{
		{"transport.request_timeout", c.Transport.RequestTimeout},
		{"transport.poll_timeout", c.Transport.PollTimeout},
		{"oracle.validity_window", c.Oracle.ValidityWindow},
		{"oracle.fetch_timeout", c.Oracle.FetchTimeout},
		{"oracle.default_interval", c.Oracle.DefaultInterval},
		{"send.jitter_min", c.Send.JitterMin},
		{"send.jitter_max", c.Send.JitterMax},
		{"send.error_retry_delay", c.Send.ErrorRetryDelay},
		{"send.typing.duration", c.Send.Typing.Duration},
		{"rotation.rotation_delay", c.Rotation.RotationDelay},
	} {
		if _, err := ParseDurationField(field.path, field.raw); err != nil {
			return err
		}
	}
	jmin, _ := ParseDurationField("send.jitter_min", c.Send.JitterMin)
	jmax, _ := ParseDurationField("send.jitter_max", c.Send.JitterMax)
	if jmax > 0 && jmin > jmax {
		return fmt.Errorf("send.jitter_min must be <= send.jitter_max")
	}
	if c.Rotation.PerTurnLimit < 0 {
		return fmt.Errorf("rotation.per_turn_limit must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(c.Rotation.Mode)) {
	case "", "eligibility", "time_split":
	default:
		return fmt.Errorf("rotation.mode: unknown mode %q", c.Rotation.Mode)
	}
	if c.Rotation.TimeSplit < 0 {
		return fmt.Errorf("rotation.time_split must be >= 0")
	}
	return nil
}
