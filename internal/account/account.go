// Package account holds per-account send state and the ordered registry
// the rotation scheduler draws candidates from.
package account

import (
	"sync"
	"time"

	"rotor/internal/transport"
)

// Options configure a new account record.
type Options struct {
	Enabled  bool
	AutoSend bool

	// BaseDelay is the configured minimum delay between this account's
	// sends. The effective cooldown never drops below it.
	BaseDelay time.Duration

	// MaxPerHour caps sends in any sliding 60-minute window. 0 disables
	// the cap.
	MaxPerHour int

	// ErrorRetryDelay keeps the account ineligible for this long after a
	// failed send. 0 disables the hold-off.
	ErrorRetryDelay time.Duration
}

// Account is one credentialed sender. Mutable state is guarded by mu;
// the send path itself is serialized by sendMu so no two sends for the
// same account ever overlap.
type Account struct {
	name    string
	session transport.Session

	sendMu sync.Mutex

	mu                sync.Mutex
	enabled           bool
	autoSend          bool
	lastSendAt        time.Time
	cooldown          time.Duration
	baseDelay         time.Duration
	consecutiveErrors int
	lastErrorAt       time.Time
	errorRetryDelay   time.Duration
	maxPerHour        int
	hourLog           []time.Time
}

func New(name string, session transport.Session, opt Options) *Account {
	return &Account{
		name:            name,
		session:         session,
		enabled:         opt.Enabled,
		autoSend:        opt.AutoSend,
		baseDelay:       opt.BaseDelay,
		cooldown:        opt.BaseDelay,
		errorRetryDelay: opt.ErrorRetryDelay,
		maxPerHour:      opt.MaxPerHour,
	}
}

func (a *Account) Name() string               { return a.name }
func (a *Account) Session() transport.Session { return a.session }

// BeginSend takes exclusive ownership of the account's send path.
// Every send (scheduled or manual) must hold it until the outcome is
// recorded.
func (a *Account) BeginSend() { a.sendMu.Lock() }
func (a *Account) EndSend()   { a.sendMu.Unlock() }

func (a *Account) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

func (a *Account) SetEnabled(on bool) {
	a.mu.Lock()
	a.enabled = on
	a.mu.Unlock()
}

func (a *Account) AutoSend() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.autoSend
}

func (a *Account) SetAutoSend(on bool) {
	a.mu.Lock()
	a.autoSend = on
	a.mu.Unlock()
}

func (a *Account) Cooldown() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cooldown
}

func (a *Account) ConsecutiveErrors() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.consecutiveErrors
}

// Eligible reports whether the account may send at now. When it may not,
// remaining is the longest wait among the local gates (cooldown, error
// hold-off, hourly quota).
func (a *Account) Eligible(now time.Time) (remaining time.Duration, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.lastSendAt.IsZero() {
		if wait := a.cooldown - now.Sub(a.lastSendAt); wait > remaining {
			remaining = wait
		}
	}
	if a.consecutiveErrors > 0 && a.errorRetryDelay > 0 && !a.lastErrorAt.IsZero() {
		if wait := a.errorRetryDelay - now.Sub(a.lastErrorAt); wait > remaining {
			remaining = wait
		}
	}
	if a.maxPerHour > 0 {
		a.pruneHourLogLocked(now)
		if len(a.hourLog) >= a.maxPerHour {
			if wait := a.hourLog[0].Add(time.Hour).Sub(now); wait > remaining {
				remaining = wait
			}
		}
	}
	return remaining, remaining <= 0
}

// RecordSuccess commits a confirmed send: lastSendAt moves, errors reset,
// and the cooldown is reconciled so the account never sends faster than
// the target permits.
func (a *Account) RecordSuccess(now time.Time, observedInterval time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastSendAt = now
	a.consecutiveErrors = 0
	a.cooldown = a.baseDelay
	if observedInterval > a.cooldown {
		a.cooldown = observedInterval
	}
	if a.maxPerHour > 0 {
		a.hourLog = append(a.hourLog, now)
		a.pruneHourLogLocked(now)
	}
}

// RecordRateLimited notes an authoritative rate-limit rejection. A
// positive retryAfter overrides the cooldown going forward: platform
// feedback beats configuration.
func (a *Account) RecordRateLimited(now time.Time, retryAfter time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.consecutiveErrors++
	a.lastErrorAt = now
	if retryAfter > 0 {
		a.cooldown = retryAfter
	}
}

// RecordFailure notes a transient transport failure.
func (a *Account) RecordFailure(now time.Time) {
	a.mu.Lock()
	a.consecutiveErrors++
	a.lastErrorAt = now
	a.mu.Unlock()
}

func (a *Account) pruneHourLogLocked(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(a.hourLog) && !a.hourLog[i].After(cutoff) {
		i++
	}
	if i > 0 {
		a.hourLog = append(a.hourLog[:0], a.hourLog[i:]...)
	}
}

// Snapshot is a read-only view for status reporting.
type Snapshot struct {
	Name              string        `json:"name"`
	Enabled           bool          `json:"enabled"`
	AutoSend          bool          `json:"auto_send"`
	LastSendAt        time.Time     `json:"last_send_at,omitzero"`
	Cooldown          time.Duration `json:"cooldown"`
	CooldownRemaining time.Duration `json:"cooldown_remaining"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	SentLastHour      int           `json:"sent_last_hour"`
}

func (a *Account) Snapshot(now time.Time) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	var rem time.Duration
	if !a.lastSendAt.IsZero() {
		if wait := a.cooldown - now.Sub(a.lastSendAt); wait > 0 {
			rem = wait
		}
	}
	a.pruneHourLogLocked(now)
	return Snapshot{
		Name:              a.name,
		Enabled:           a.enabled,
		AutoSend:          a.autoSend,
		LastSendAt:        a.lastSendAt,
		Cooldown:          a.cooldown,
		CooldownRemaining: rem,
		ConsecutiveErrors: a.consecutiveErrors,
		SentLastHour:      len(a.hourLog),
	}
}
