package sender

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"rotor/internal/account"
	"rotor/internal/eventbus"
	"rotor/internal/ratelimit"
	"rotor/internal/transport"
	"rotor/pkg/logx"
)

// fakeSession scripts PostMessage outcomes in order; after the script
// runs out every send succeeds.
type fakeSession struct {
	script    []error
	posts     int32
	typing    int32
	slowmode  time.Duration
	queryErr  error
	lastAsEmb bool
}

func (f *fakeSession) PostMessage(_ context.Context, _, _ string, asEmbed bool) (transport.Ack, error) {
	n := atomic.AddInt32(&f.posts, 1)
	f.lastAsEmb = asEmbed
	if int(n) <= len(f.script) {
		if err := f.script[n-1]; err != nil {
			return transport.Ack{}, err
		}
	}
	return transport.Ack{MessageID: fmt.Sprintf("msg-%d", n), At: time.Now()}, nil
}

func (f *fakeSession) QueryRateLimit(context.Context, string) (time.Duration, error) {
	return f.slowmode, f.queryErr
}

func (f *fakeSession) ListTargets(context.Context) ([]transport.Target, error) { return nil, nil }

func (f *fakeSession) SendTyping(context.Context, string) error {
	atomic.AddInt32(&f.typing, 1)
	return nil
}

func (f *fakeSession) JoinTarget(context.Context, string) (transport.Target, error) {
	return transport.Target{}, transport.ErrNotSupported
}
func (f *fakeSession) Close() error { return nil }

func newTestSender(t *testing.T, cfg Config, sess *fakeSession) (*Sender, *account.Account) {
	t.Helper()
	oracle := ratelimit.New(ratelimit.Config{ValidityWindow: time.Minute}, sess.QueryRateLimit, logx.Nop())
	snd := New(cfg, oracle, eventbus.New(), logx.Nop())
	acct := account.New("alpha", sess, account.Options{Enabled: true, BaseDelay: 5 * time.Second})
	return snd, acct
}

func TestTrySendSuccess(t *testing.T) {
	t.Parallel()
	sess := &fakeSession{slowmode: 30 * time.Second}
	snd, acct := newTestSender(t, Config{}, sess)

	res := snd.TrySend(context.Background(), acct, "chan", "hi")
	if res.Kind != Sent {
		t.Fatalf("Kind = %v, want Sent (err=%v)", res.Kind, res.Err)
	}
	if res.MessageID != "msg-1" {
		t.Fatalf("MessageID = %q, want msg-1", res.MessageID)
	}
	// Cooldown reconciled against the observed slowmode.
	if got := acct.Cooldown(); got != 30*time.Second {
		t.Fatalf("Cooldown = %v, want 30s", got)
	}
}

func TestTrySendCooldownMakesNoNetworkCall(t *testing.T) {
	t.Parallel()
	sess := &fakeSession{}
	snd, acct := newTestSender(t, Config{}, sess)

	if res := snd.TrySend(context.Background(), acct, "chan", "a"); res.Kind != Sent {
		t.Fatalf("first send: Kind = %v, want Sent", res.Kind)
	}
	res := snd.TrySend(context.Background(), acct, "chan", "b")
	if res.Kind != CooldownActive {
		t.Fatalf("Kind = %v, want CooldownActive", res.Kind)
	}
	if res.Remaining <= 0 || res.Remaining > 5*time.Second {
		t.Fatalf("Remaining = %v, want in (0, 5s]", res.Remaining)
	}
	if n := atomic.LoadInt32(&sess.posts); n != 1 {
		t.Fatalf("posts = %d, want 1 (gated attempt must not hit the transport)", n)
	}
}

func TestTrySendCooldownPublishesEvent(t *testing.T) {
	t.Parallel()
	sess := &fakeSession{}
	oracle := ratelimit.New(ratelimit.Config{ValidityWindow: time.Minute}, sess.QueryRateLimit, logx.Nop())
	bus := eventbus.New()
	snd := New(Config{}, oracle, bus, logx.Nop())
	acct := account.New("alpha", sess, account.Options{Enabled: true, BaseDelay: 5 * time.Second})

	events, unsubscribe := bus.Subscribe(8)
	defer unsubscribe()

	if res := snd.TrySend(context.Background(), acct, "chan", "a"); res.Kind != Sent {
		t.Fatalf("first send: Kind = %v, want Sent", res.Kind)
	}
	if res := snd.TrySend(context.Background(), acct, "chan", "b"); res.Kind != CooldownActive {
		t.Fatalf("Kind = %v, want CooldownActive", res.Kind)
	}

	var sawCooldown bool
	for !sawCooldown {
		select {
		case ev := <-events:
			if ev.Type != eventbus.TypeSendCooldown {
				continue
			}
			se, ok := ev.Data.(Event)
			if !ok || se.Account != "alpha" || se.Remaining <= 0 {
				t.Fatalf("cooldown event = %+v", ev.Data)
			}
			sawCooldown = true
		case <-time.After(time.Second):
			t.Fatal("no cooldown event published for the gated attempt")
		}
	}
}

func TestTrySendRateLimited(t *testing.T) {
	t.Parallel()
	sess := &fakeSession{script: []error{&transport.RateLimitedError{RetryAfter: 45 * time.Second}}}
	snd, acct := newTestSender(t, Config{}, sess)

	res := snd.TrySend(context.Background(), acct, "chan", "hi")
	if res.Kind != RateLimited {
		t.Fatalf("Kind = %v, want RateLimited", res.Kind)
	}
	if res.RetryAfter != 45*time.Second {
		t.Fatalf("RetryAfter = %v, want 45s", res.RetryAfter)
	}
	// Platform feedback overrides the configured cooldown.
	if got := acct.Cooldown(); got != 45*time.Second {
		t.Fatalf("Cooldown = %v, want 45s", got)
	}
	// The rejected send never counts as a send.
	if _, ok := acct.Eligible(time.Now()); !ok {
		t.Fatal("rejected send must not start the cooldown window")
	}
}

func TestTrySendAuthErrorDisables(t *testing.T) {
	t.Parallel()
	sess := &fakeSession{script: []error{&transport.AuthError{Cause: errors.New("401")}}}
	snd, acct := newTestSender(t, Config{}, sess)

	res := snd.TrySend(context.Background(), acct, "chan", "hi")
	if res.Kind != TransportError {
		t.Fatalf("Kind = %v, want TransportError", res.Kind)
	}
	if acct.Enabled() {
		t.Fatal("auth failure must disable the account")
	}
}

func TestTrySendConsecutiveErrorsDisable(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	sess := &fakeSession{script: []error{boom, boom, boom}}
	snd, acct := newTestSender(t, Config{MaxConsecutiveErrors: 3}, sess)

	for i := 0; i < 2; i++ {
		if res := snd.TrySend(context.Background(), acct, "chan", "x"); res.Kind != TransportError {
			t.Fatalf("attempt %d: Kind = %v, want TransportError", i, res.Kind)
		}
		if !acct.Enabled() {
			t.Fatalf("attempt %d: disabled too early", i)
		}
	}
	snd.TrySend(context.Background(), acct, "chan", "x")
	if acct.Enabled() {
		t.Fatal("account must be disabled after the third consecutive error")
	}
}

func TestTrySendTyping(t *testing.T) {
	t.Parallel()
	sess := &fakeSession{}
	snd, acct := newTestSender(t, Config{TypingEnabled: true, TypingDuration: time.Millisecond}, sess)

	if res := snd.TrySend(context.Background(), acct, "chan", "hi"); res.Kind != Sent {
		t.Fatalf("Kind = %v, want Sent", res.Kind)
	}
	if n := atomic.LoadInt32(&sess.typing); n != 1 {
		t.Fatalf("typing calls = %d, want 1", n)
	}
}

func TestTrySendEmbedFlag(t *testing.T) {
	t.Parallel()
	sess := &fakeSession{}
	snd, acct := newTestSender(t, Config{AsEmbed: true}, sess)
	snd.TrySend(context.Background(), acct, "chan", "hi")
	if !sess.lastAsEmb {
		t.Fatal("asEmbed flag not propagated to the transport")
	}
}
