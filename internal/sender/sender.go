// Package sender wraps one account's send path: the local cooldown gate,
// the transport call, and the state bookkeeping that follows it.
package sender

import (
	"context"
	"time"

	"rotor/internal/account"
	"rotor/internal/eventbus"
	"rotor/internal/ratelimit"
	"rotor/internal/transport"
	"rotor/pkg/logx"
)

// Kind classifies a send attempt's outcome.
type Kind string

const (
	// Sent: the platform confirmed delivery.
	Sent Kind = "sent"
	// CooldownActive: a local gate blocked the attempt; no transport call
	// was made. This is a scheduling signal, not an error.
	CooldownActive Kind = "cooldown_active"
	// RateLimited: the platform rejected the send as too fast.
	RateLimited Kind = "rate_limited"
	// TransportError: transient network/platform failure.
	TransportError Kind = "transport_error"
)

// Result reports one attempt.
type Result struct {
	Kind       Kind
	MessageID  string
	Remaining  time.Duration // CooldownActive: wait before retrying
	RetryAfter time.Duration // RateLimited: platform-advertised wait
	Err        error         // RateLimited/TransportError cause
}

// Event is published on the bus for every attempt (including attempts
// the local gate blocked) and for auto-disables.
type Event struct {
	Account    string        `json:"account"`
	Target     string        `json:"target"`
	Kind       Kind          `json:"kind"`
	MessageID  string        `json:"message_id,omitempty"`
	Remaining  time.Duration `json:"remaining,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Error      string        `json:"error,omitempty"`
}

type Config struct {
	AsEmbed        bool
	TypingEnabled  bool
	TypingDuration time.Duration

	// MaxConsecutiveErrors auto-disables an account once its error streak
	// reaches this count. 0 disables the guard.
	MaxConsecutiveErrors int
}

type Sender struct {
	cfg    Config
	oracle *ratelimit.Oracle
	bus    eventbus.Bus
	log    logx.Logger

	now func() time.Time
}

func New(cfg Config, oracle *ratelimit.Oracle, bus eventbus.Bus, log logx.Logger) *Sender {
	if cfg.TypingDuration <= 0 {
		cfg.TypingDuration = 2 * time.Second
	}
	return &Sender{cfg: cfg, oracle: oracle, bus: bus, log: log, now: time.Now}
}

// TrySend attempts one send for acct. It takes exclusive ownership of the
// account's send path for the duration, so scheduled and manual sends for
// the same account never overlap.
func (s *Sender) TrySend(ctx context.Context, acct *account.Account, targetID, content string) Result {
	acct.BeginSend()
	defer acct.EndSend()

	if rem, ok := acct.Eligible(s.now()); !ok {
		// Local gate: no network call is made.
		s.publish(eventbus.TypeSendCooldown, Event{Account: acct.Name(), Target: targetID, Kind: CooldownActive, Remaining: rem})
		return Result{Kind: CooldownActive, Remaining: rem}
	}

	sess := acct.Session()

	if s.cfg.TypingEnabled {
		// Fire and forget; a failed typing signal never blocks the send.
		if err := sess.SendTyping(ctx, targetID); err != nil {
			s.log.Debug("typing signal failed", logx.String("account", acct.Name()), logx.Err(err))
		}
		select {
		case <-time.After(s.cfg.TypingDuration):
		case <-ctx.Done():
			return Result{Kind: TransportError, Err: ctx.Err()}
		}
	}

	ack, err := sess.PostMessage(ctx, targetID, content, s.cfg.AsEmbed)
	now := s.now()

	if err == nil {
		observed := s.oracle.CurrentInterval(ctx, targetID)
		acct.RecordSuccess(now, observed)
		s.log.Info("message sent",
			logx.String("account", acct.Name()),
			logx.String("target", targetID),
			logx.String("msg_id", ack.MessageID),
			logx.Duration("cooldown", acct.Cooldown()))
		s.publish(eventbus.TypeSendOK, Event{Account: acct.Name(), Target: targetID, Kind: Sent, MessageID: ack.MessageID})
		return Result{Kind: Sent, MessageID: ack.MessageID}
	}

	if retryAfter, ok := transport.IsRateLimited(err); ok {
		acct.RecordRateLimited(now, retryAfter)
		s.log.Warn("send rate limited",
			logx.String("account", acct.Name()),
			logx.String("target", targetID),
			logx.Duration("retry_after", retryAfter))
		s.publish(eventbus.TypeSendRateLimited, Event{Account: acct.Name(), Target: targetID, Kind: RateLimited, RetryAfter: retryAfter, Error: err.Error()})
		s.maybeDisable(acct, targetID)
		return Result{Kind: RateLimited, RetryAfter: retryAfter, Err: err}
	}

	acct.RecordFailure(now)
	if transport.IsAuth(err) {
		// A rejected credential will not recover by retrying.
		acct.SetEnabled(false)
		s.log.Error("credential rejected; account disabled",
			logx.String("account", acct.Name()), logx.Err(err))
		s.publish(eventbus.TypeAccountDisabled, Event{Account: acct.Name(), Target: targetID, Kind: TransportError, Error: err.Error()})
	} else {
		s.log.Warn("send failed",
			logx.String("account", acct.Name()),
			logx.String("target", targetID),
			logx.Int("consecutive_errors", acct.ConsecutiveErrors()),
			logx.Err(err))
		s.publish(eventbus.TypeSendError, Event{Account: acct.Name(), Target: targetID, Kind: TransportError, Error: err.Error()})
		s.maybeDisable(acct, targetID)
	}
	return Result{Kind: TransportError, Err: err}
}

func (s *Sender) maybeDisable(acct *account.Account, targetID string) {
	if s.cfg.MaxConsecutiveErrors <= 0 {
		return
	}
	if acct.ConsecutiveErrors() < s.cfg.MaxConsecutiveErrors {
		return
	}
	acct.SetEnabled(false)
	s.log.Error("too many consecutive errors; account disabled",
		logx.String("account", acct.Name()),
		logx.Int("errors", acct.ConsecutiveErrors()))
	s.publish(eventbus.TypeAccountDisabled, Event{Account: acct.Name(), Target: targetID, Kind: TransportError, Error: "consecutive error limit reached"})
}

func (s *Sender) publish(typ string, ev Event) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
	}
}
