package rotation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"rotor/internal/account"
	"rotor/internal/sender"
	"rotor/pkg/logx"
)

// ErrModeConflict: rotation and per-account auto-send are mutually
// exclusive per target.
var ErrModeConflict = errors.New("rotation and auto-send modes are mutually exclusive")

// ContentFunc produces the content for the next send.
type ContentFunc func() string

// Driver runs the tick loops. One rotation loop at most; one auto-send
// loop per account at most. Starts are idempotent; stops are cooperative
// and drain the in-flight send before returning.
type Driver struct {
	sched   *Scheduler
	reg     *account.Registry
	snd     *sender.Sender
	log     logx.Logger
	target  string
	content ContentFunc

	mu   sync.Mutex
	base context.Context
	rot  *loopHandle
	auto map[string]*loopHandle
}

type loopHandle struct {
	stopCh chan struct{}
	done   chan struct{}
}

func NewDriver(sched *Scheduler, reg *account.Registry, snd *sender.Sender, target string, content ContentFunc, log logx.Logger) *Driver {
	return &Driver{
		sched:   sched,
		reg:     reg,
		snd:     snd,
		log:     log,
		target:  target,
		content: content,
		auto:    map[string]*loopHandle{},
	}
}

// Bind sets the context the loops run under; they end when it is
// canceled. Loops must never inherit a caller's request-scoped context,
// which dies with the request.
func (d *Driver) Bind(ctx context.Context) {
	d.mu.Lock()
	d.base = ctx
	d.mu.Unlock()
}

func (d *Driver) runCtx() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.base != nil {
		return d.base
	}
	return context.Background()
}

func (d *Driver) RotationActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rot != nil
}

// Order reports the active rotation order, nil when rotation is off.
func (d *Driver) Order() []string {
	order, _, active := d.sched.Order()
	if !active {
		return nil
	}
	return order
}

func (d *Driver) AutoSendActive(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.auto[name] != nil
}

// StartRotation begins the rotation loop. Starting while already running
// is a no-op.
func (d *Driver) StartRotation() error {
	d.mu.Lock()
	if d.rot != nil {
		d.mu.Unlock()
		return nil
	}
	if len(d.auto) > 0 {
		d.mu.Unlock()
		return ErrModeConflict
	}
	if err := d.sched.StartRotation(); err != nil {
		d.mu.Unlock()
		return err
	}
	h := &loopHandle{stopCh: make(chan struct{}), done: make(chan struct{})}
	d.rot = h
	d.mu.Unlock()

	go d.rotationLoop(d.runCtx(), h)
	return nil
}

// StopRotation signals the loop and waits (bounded by ctx) for the
// in-flight tick to finish. No send is abandoned mid-flight.
func (d *Driver) StopRotation(ctx context.Context) {
	d.mu.Lock()
	h := d.rot
	d.rot = nil
	d.mu.Unlock()
	if h == nil {
		return
	}
	close(h.stopCh)
	select {
	case <-h.done:
	case <-ctx.Done():
		d.log.Warn("rotation stop deadline reached; loop finishes in background")
	}
	d.sched.StopRotation()
}

func (d *Driver) rotationLoop(ctx context.Context, h *loopHandle) {
	defer func() {
		// Self-removal covers a loop that ends on its own (bound context
		// canceled) so status never reports a dead loop as active.
		d.mu.Lock()
		if d.rot == h {
			d.rot = nil
			d.mu.Unlock()
			d.sched.StopRotation()
		} else {
			d.mu.Unlock()
		}
		close(h.done)
	}()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		res := d.sched.Tick(ctx, d.target, d.content())
		d.logTick(res)

		if res.Wait > 0 {
			t := time.NewTimer(res.Wait)
			select {
			case <-t.C:
			case <-h.stopCh:
				t.Stop()
				return
			case <-ctx.Done():
				t.Stop()
				return
			}
		}
	}
}

// StartAutoSend begins one account's auto-send loop. Idempotent per
// account.
func (d *Driver) StartAutoSend(name string) error {
	acct, ok := d.reg.Get(name)
	if !ok {
		return fmt.Errorf("unknown account %q", name)
	}
	if !acct.Enabled() {
		return fmt.Errorf("account %q is disabled", name)
	}

	d.mu.Lock()
	if d.rot != nil {
		d.mu.Unlock()
		return ErrModeConflict
	}
	if d.auto[name] != nil {
		d.mu.Unlock()
		return nil
	}
	h := &loopHandle{stopCh: make(chan struct{}), done: make(chan struct{})}
	d.auto[name] = h
	d.mu.Unlock()

	acct.SetAutoSend(true)
	d.log.Info("auto-send started", logx.String("account", name))
	go d.autoSendLoop(d.runCtx(), acct, h)
	return nil
}

func (d *Driver) StopAutoSend(ctx context.Context, name string) {
	d.mu.Lock()
	h := d.auto[name]
	delete(d.auto, name)
	d.mu.Unlock()
	if h == nil {
		return
	}
	close(h.stopCh)
	select {
	case <-h.done:
	case <-ctx.Done():
		d.log.Warn("auto-send stop deadline reached; loop finishes in background", logx.String("account", name))
	}
	if acct, ok := d.reg.Get(name); ok {
		acct.SetAutoSend(false)
	}
	d.log.Info("auto-send stopped", logx.String("account", name))
}

// autoSendLoop is the single-account state machine:
// Idle -> Waiting(until) -> Sending -> Idle. The stop signal is checked
// at tick boundaries only, so an in-flight send always completes and
// records its outcome before the loop exits.
func (d *Driver) autoSendLoop(ctx context.Context, acct *account.Account, h *loopHandle) {
	defer func() {
		// Self-removal covers loops that end on their own (disabled account).
		d.mu.Lock()
		if d.auto[acct.Name()] == h {
			delete(d.auto, acct.Name())
		}
		d.mu.Unlock()
		close(h.done)
	}()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if !acct.Enabled() {
			// Disabled mid-flight (auth failure, operator). Loop ends; the
			// account keeps its state for re-enable.
			d.log.Info("auto-send halted: account disabled", logx.String("account", acct.Name()))
			return
		}

		res := d.snd.TrySend(ctx, acct, d.target, d.content())
		wait := d.sched.NextAutoSendWait(acct, res)
		if wait <= 0 {
			wait = time.Second
		}

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-h.stopCh:
			t.Stop()
			return
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
}

// StopAll stops rotation and every auto-send loop.
func (d *Driver) StopAll(ctx context.Context) {
	d.StopRotation(ctx)

	d.mu.Lock()
	names := make([]string, 0, len(d.auto))
	for n := range d.auto {
		names = append(names, n)
	}
	d.mu.Unlock()
	for _, n := range names {
		d.StopAutoSend(ctx, n)
	}
}

// AutoSendAccounts lists accounts with a live auto-send loop.
func (d *Driver) AutoSendAccounts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.auto))
	for n := range d.auto {
		out = append(out, n)
	}
	return out
}

func (d *Driver) logTick(res TickResult) {
	switch res.Outcome {
	case OutcomeSent:
		d.log.Debug("tick: sent",
			logx.String("account", res.Account),
			logx.String("msg_id", res.Result.MessageID),
			logx.Bool("rotated", res.Rotated))
	case OutcomeNoEligibleAccount:
		d.log.Debug("tick: no eligible account", logx.Duration("backoff", res.Wait))
	default:
		d.log.Debug("tick: skipped",
			logx.String("account", res.Account),
			logx.String("outcome", string(res.Outcome)),
			logx.Err(res.Result.Err))
	}
}
