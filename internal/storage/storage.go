// Package storage persists the send history (an audit trail, not
// scheduler state — the scheduler is fully in-memory by design).
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"rotor/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// SendRecord is one dispatch attempt that reached the transport.
// Keep it compact and schema-stable.
type SendRecord struct {
	At         time.Time     `json:"at"`
	Account    string        `json:"account"`
	Target     string        `json:"target"`
	Outcome    string        `json:"outcome"`
	MessageID  string        `json:"message_id,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Store is the minimal persistence API used by the history recorder and
// the admin API.
type Store interface {
	AppendSend(ctx context.Context, rec SendRecord) error
	RecentSends(ctx context.Context, limit int) ([]SendRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
