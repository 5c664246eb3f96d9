package rotation

import (
	"time"

	"rotor/internal/sender"
)

// Clock abstracts time for deterministic scheduling tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock is the wall clock.
func RealClock() Clock { return realClock{} }

// Outcome extends the sender's result kinds with the whole-rotation
// stall signal.
type Outcome string

const (
	OutcomeSent           = Outcome(sender.Sent)
	OutcomeCooldownActive = Outcome(sender.CooldownActive)
	OutcomeRateLimited    = Outcome(sender.RateLimited)
	OutcomeTransportError = Outcome(sender.TransportError)

	// OutcomeNoEligibleAccount: a full lap found no account whose cooldown
	// has elapsed. The driver backs off by Wait (the smallest remaining
	// cooldown across accounts) before ticking again.
	OutcomeNoEligibleAccount Outcome = "no_eligible_account"
)

// TickResult reports one scheduler tick for observability.
type TickResult struct {
	Outcome Outcome
	Account string        // empty for NoEligibleAccount
	Result  sender.Result // zero for NoEligibleAccount
	Rotated bool          // cursor moved to the next account after a send

	// Wait is the suggested delay before the next tick.
	Wait time.Duration
}

// Mode selects how rotation paces sends across accounts.
type Mode string

const (
	// ModeEligibility sends as soon as any account's cooldown elapses
	// (round-robin from the cursor). The default.
	ModeEligibility Mode = "eligibility"

	// ModeTimeSplit staggers accounts at even fractions of the sending
	// account's cooldown, so N accounts split one slowmode window into N
	// evenly spaced sends instead of bursting whenever eligible.
	ModeTimeSplit Mode = "time_split"
)

// Config tunes the scheduler and its drivers.
type Config struct {
	// Mode selects the pacing strategy. Empty means ModeEligibility.
	Mode Mode

	// TimeSplit is the divisor for ModeTimeSplit: the post-send wait is
	// cooldown/TimeSplit. 0 means the live order length.
	TimeSplit int

	// PerTurnLimit is how many messages one account sends before the
	// cursor rotates. Defaults to 1.
	PerTurnLimit int

	// RotationDelay is the pause inserted after the cursor advances to a
	// new account.
	RotationDelay time.Duration

	// JitterMin/JitterMax bound the random extra wait added between one
	// account's auto-sends.
	JitterMin time.Duration
	JitterMax time.Duration
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeEligibility
	}
	if c.PerTurnLimit <= 0 {
		c.PerTurnLimit = 1
	}
	if c.RotationDelay <= 0 {
		c.RotationDelay = time.Second
	}
	return c
}

// StallEvent is published when rotation finds no eligible account.
type StallEvent struct {
	Target  string        `json:"target"`
	Backoff time.Duration `json:"backoff"`
}
