package rotation

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"rotor/internal/account"
	"rotor/internal/eventbus"
	"rotor/internal/sender"
	"rotor/pkg/logx"
)

// ErrNoEnabledAccounts is returned when rotation is started with nothing
// to rotate. This is the one startup-time fatal condition.
var ErrNoEnabledAccounts = errors.New("rotation: no enabled accounts")

// rotationState lives only while a rotation session runs. The order is a
// snapshot taken at start; accounts toggled mid-session are skipped in
// place (a re-enabled account resumes at its prior position), never
// reordered.
type rotationState struct {
	order        []string
	cursor       int
	sentThisSlot int
}

// Scheduler owns the round-robin selection over enabled accounts.
// All methods are safe for concurrent use; ticks themselves are issued
// sequentially by a single driver loop.
type Scheduler struct {
	cfg   Config
	reg   *account.Registry
	snd   *sender.Sender
	bus   eventbus.Bus
	log   logx.Logger
	clock Clock

	mu    sync.Mutex
	state *rotationState
}

func NewScheduler(cfg Config, reg *account.Registry, snd *sender.Sender, bus eventbus.Bus, log logx.Logger, clock Clock) *Scheduler {
	if clock == nil {
		clock = RealClock()
	}
	return &Scheduler{cfg: cfg.withDefaults(), reg: reg, snd: snd, bus: bus, log: log, clock: clock}
}

// StartRotation snapshots the current enabled set as the cyclic order.
func (s *Scheduler) StartRotation() error {
	enabled := s.reg.ListEnabled()
	if len(enabled) == 0 {
		return ErrNoEnabledAccounts
	}
	order := make([]string, len(enabled))
	for i, a := range enabled {
		order[i] = a.Name()
	}

	s.mu.Lock()
	s.state = &rotationState{order: order}
	s.mu.Unlock()

	s.log.Info("rotation started", logx.Int("accounts", len(order)))
	return nil
}

// StopRotation destroys the rotation state; the cursor does not survive
// across sessions.
func (s *Scheduler) StopRotation() {
	s.mu.Lock()
	was := s.state != nil
	s.state = nil
	s.mu.Unlock()
	if was {
		s.log.Info("rotation stopped")
	}
}

func (s *Scheduler) RotationActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != nil
}

// Order returns the live rotation order and cursor (for status).
func (s *Scheduler) Order() (order []string, cursor int, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, 0, false
	}
	return append([]string(nil), s.state.order...), s.state.cursor, true
}

// Tick evaluates one scheduling step: pick the next candidate whose
// cooldown has elapsed (strictly round-robin from the cursor), attempt a
// send, and advance the cursor per outcome.
//
// The lap is bounded: each position in the order is considered at most
// once per tick. If the full lap yields nothing, the tick reports
// NoEligibleAccount with a backoff equal to the smallest remaining
// cooldown among the accounts considered.
func (s *Scheduler) Tick(ctx context.Context, targetID, content string) TickResult {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if st == nil {
		return TickResult{Outcome: OutcomeNoEligibleAccount, Wait: s.cfg.RotationDelay}
	}

	minRemaining := time.Duration(-1)
	sawCandidate := false

	for lap := 0; lap < len(st.order); lap++ {
		s.mu.Lock()
		if s.state != st {
			// rotation stopped or restarted under us
			s.mu.Unlock()
			return TickResult{Outcome: OutcomeNoEligibleAccount, Wait: s.cfg.RotationDelay}
		}
		name := st.order[st.cursor]
		s.mu.Unlock()

		acct, ok := s.reg.Get(name)
		if !ok || !acct.Enabled() {
			s.advance(st)
			continue
		}

		// Cheap local pre-check so a cooling account is skipped without
		// taking its send lock.
		if rem, ready := acct.Eligible(s.clock.Now()); !ready {
			sawCandidate = true
			if minRemaining < 0 || rem < minRemaining {
				minRemaining = rem
			}
			s.advance(st)
			continue
		}

		res := s.snd.TrySend(ctx, acct, targetID, content)
		switch res.Kind {
		case sender.Sent:
			rotated := s.advanceSlot(st)
			wait := time.Duration(0)
			switch {
			case s.cfg.Mode == ModeTimeSplit:
				wait = s.splitWait(acct, st)
			case rotated:
				wait = s.cfg.RotationDelay
			}
			return TickResult{Outcome: OutcomeSent, Account: name, Result: res, Rotated: rotated, Wait: wait}

		case sender.CooldownActive:
			// Raced with a manual send; treat like the pre-check miss and
			// keep looking within this tick.
			sawCandidate = true
			if minRemaining < 0 || res.Remaining < minRemaining {
				minRemaining = res.Remaining
			}
			s.advance(st)
			continue

		default:
			// RateLimited/TransportError: skip this account this tick, do
			// not crash the cycle.
			s.advance(st)
			return TickResult{Outcome: Outcome(res.Kind), Account: name, Result: res, Rotated: true, Wait: s.cfg.RotationDelay}
		}
	}

	backoff := s.cfg.RotationDelay
	if sawCandidate && minRemaining > 0 {
		backoff = minRemaining
	}
	s.log.Debug("no eligible account", logx.String("target", targetID), logx.Duration("backoff", backoff))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeRotationStalled, Data: StallEvent{Target: targetID, Backoff: backoff}})
	}
	return TickResult{Outcome: OutcomeNoEligibleAccount, Wait: backoff}
}

// advance moves the cursor one position (mod length). sentThisSlot
// counts the current account's sends only, so any cursor move resets it;
// a skipped-over account must get its full turn.
func (s *Scheduler) advance(st *rotationState) {
	s.mu.Lock()
	if s.state == st && len(st.order) > 0 {
		st.cursor = (st.cursor + 1) % len(st.order)
		st.sentThisSlot = 0
	}
	s.mu.Unlock()
}

// splitWait paces time-split rotation: the sending account's effective
// cooldown divided evenly across the split, so N accounts turn one
// slowmode window into N staggered sends.
func (s *Scheduler) splitWait(acct *account.Account, st *rotationState) time.Duration {
	split := s.cfg.TimeSplit
	if split <= 0 {
		s.mu.Lock()
		split = len(st.order)
		s.mu.Unlock()
	}
	if split <= 0 {
		split = 1
	}
	return acct.Cooldown() / time.Duration(split)
}

// advanceSlot counts one sent message against the current slot and
// rotates when the per-turn limit is reached. Returns whether the cursor
// moved.
func (s *Scheduler) advanceSlot(st *rotationState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != st || len(st.order) == 0 {
		return false
	}
	st.sentThisSlot++
	if st.sentThisSlot < s.cfg.PerTurnLimit {
		return false
	}
	st.sentThisSlot = 0
	st.cursor = (st.cursor + 1) % len(st.order)
	return true
}

// NextAutoSendWait computes the wait after one auto-send attempt for a
// single account: the account's effective cooldown plus random jitter in
// [JitterMin, JitterMax].
func (s *Scheduler) NextAutoSendWait(acct *account.Account, res sender.Result) time.Duration {
	switch res.Kind {
	case sender.CooldownActive:
		// Already waited too little; the remaining gate is the wait.
		return res.Remaining
	case sender.RateLimited:
		if res.RetryAfter > 0 {
			return res.RetryAfter + s.jitter()
		}
		return acct.Cooldown() + s.jitter()
	default:
		return acct.Cooldown() + s.jitter()
	}
}

func (s *Scheduler) jitter() time.Duration {
	lo, hi := s.cfg.JitterMin, s.cfg.JitterMax
	if hi <= 0 || hi < lo {
		return lo
	}
	if hi == lo {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)+1))
}
