package config

import (
	"fmt"
	"strings"
	"time"
)

// Config durations are Go duration strings ("5s", "2m30s"). Empty means
// unset; negative values are rejected at parse time so the scheduler
// never sees a negative cooldown or delay.

// ParseDurationField parses one duration field, naming its config path
// in errors (e.g. "send.jitter_min"). Empty input parses to 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback for
// unset fields, used wherever the schema documents a default.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
