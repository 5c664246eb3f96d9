// Package app assembles the service: config, logging, transport
// sessions, the account registry, the rotation driver, and the admin
// API, plus their lifecycles.
package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"rotor/internal/account"
	"rotor/internal/admin"
	"rotor/internal/config"
	"rotor/internal/eventbus"
	"rotor/internal/messagepool"
	"rotor/internal/ratelimit"
	"rotor/internal/rotation"
	"rotor/internal/sender"
	"rotor/internal/storage"
	"rotor/internal/transport"
	"rotor/internal/transport/restchat"
	"rotor/internal/transport/telegram"
	"rotor/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *Supervisor

	logs *logx.Service
	log  logx.Logger

	bus    eventbus.Bus
	tp     transport.Transport
	reg    *account.Registry
	oracle *ratelimit.Oracle
	snd    *sender.Sender
	sched  *rotation.Scheduler
	driver *rotation.Driver
	pool   *messagepool.Pool
	store  storage.Store
	adminS *admin.Server
	crons  *cron.Cron

	targetID string
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	tp, err := buildTransport(cfg, logSvc.Logger())
	if err != nil {
		return nil, err
	}

	validity, err := config.ParseDurationOrDefault("oracle.validity_window", cfg.Oracle.ValidityWindow, 5*time.Minute)
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := config.ParseDurationOrDefault("oracle.fetch_timeout", cfg.Oracle.FetchTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	defaultInterval, err := config.ParseDurationOrDefault("oracle.default_interval", cfg.Oracle.DefaultInterval, 0)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	reg := account.NewRegistry()

	a := &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		logs:     logSvc,
		log:      log,
		bus:      bus,
		tp:       tp,
		reg:      reg,
		targetID: cfg.Target.ChannelID,
	}

	a.oracle = ratelimit.New(ratelimit.Config{
		ValidityWindow:  validity,
		FetchTimeout:    fetchTimeout,
		DefaultInterval: defaultInterval,
	}, a.fetchInterval, logSvc.Logger().With(logx.String("comp", "oracle")))

	typingDur, err := config.ParseDurationOrDefault("send.typing.duration", cfg.Send.Typing.Duration, 2*time.Second)
	if err != nil {
		return nil, err
	}
	a.snd = sender.New(sender.Config{
		AsEmbed:              cfg.Send.AsEmbed,
		TypingEnabled:        cfg.Send.Typing.Enabled,
		TypingDuration:       typingDur,
		MaxConsecutiveErrors: cfg.Send.MaxConsecutiveErrors,
	}, a.oracle, bus, logSvc.Logger().With(logx.String("comp", "sender")))

	rotationDelay, err := config.ParseDurationOrDefault("rotation.rotation_delay", cfg.Rotation.RotationDelay, time.Second)
	if err != nil {
		return nil, err
	}
	jitterMin, err := config.ParseDurationOrDefault("send.jitter_min", cfg.Send.JitterMin, 2*time.Second)
	if err != nil {
		return nil, err
	}
	jitterMax, err := config.ParseDurationOrDefault("send.jitter_max", cfg.Send.JitterMax, 8*time.Second)
	if err != nil {
		return nil, err
	}
	a.sched = rotation.NewScheduler(rotation.Config{
		Mode:          rotation.Mode(strings.ToLower(strings.TrimSpace(cfg.Rotation.Mode))),
		TimeSplit:     cfg.Rotation.TimeSplit,
		PerTurnLimit:  cfg.Rotation.PerTurnLimit,
		RotationDelay: rotationDelay,
		JitterMin:     jitterMin,
		JitterMax:     jitterMax,
	}, reg, a.snd, bus, logSvc.Logger().With(logx.String("comp", "rotation")), rotation.RealClock())

	poolPath := cfg.Messages.Path
	if strings.TrimSpace(poolPath) == "" {
		poolPath = "messages.txt"
	}
	a.pool = messagepool.New(poolPath, logSvc.Logger().With(logx.String("comp", "messages")))

	a.driver = rotation.NewDriver(a.sched, reg, a.snd, a.targetID, a.pool.Pick,
		logSvc.Logger().With(logx.String("comp", "driver")))

	if cfg.Storage != nil {
		busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
		if err != nil {
			return nil, err
		}
		store, err := storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busyTimeout,
		}, logSvc.Logger().With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		a.store = store
	}

	if cfg.Admin.Enabled {
		addr := cfg.Admin.Addr
		if strings.TrimSpace(addr) == "" {
			addr = "127.0.0.1:8321"
		}
		a.adminS = admin.New(admin.Config{Addr: addr, Debug: cfg.Admin.Debug}, admin.Deps{
			Registry: reg,
			Driver:   a.driver,
			Sender:   a.snd,
			Store:    a.store,
			Targets:  a.listTargets,
			TargetID: a.targetID,
			Content:  a.pool.Pick,
		}, logSvc.Logger().With(logx.String("comp", "admin")))
	}

	return a, nil
}

func buildTransport(cfg *config.Config, log logx.Logger) (transport.Transport, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transport.Driver)) {
	case "restchat":
		timeout, err := config.ParseDurationOrDefault("transport.request_timeout", cfg.Transport.RequestTimeout, 30*time.Second)
		if err != nil {
			return nil, err
		}
		return restchat.New(restchat.Config{
			BaseURL:        cfg.Transport.BaseURL,
			RequestTimeout: timeout,
			RatePerSec:     cfg.Transport.RatePerSec,
			GuildID:        cfg.Target.GuildID,
		}, log.With(logx.String("comp", "restchat")))
	case "telegram":
		pollTimeout, err := config.ParseDurationOrDefault("transport.poll_timeout", cfg.Transport.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		chatID, err := telegramChatID(cfg.Target.ChannelID)
		if err != nil {
			return nil, err
		}
		return telegram.New(telegram.Config{
			ChatIDs:     []int64{chatID},
			PollTimeout: pollTimeout,
		}, log.With(logx.String("comp", "telegram"))), nil
	default:
		return nil, fmt.Errorf("transport.driver: unknown driver %q", cfg.Transport.Driver)
	}
}

// Done is closed when the supervisor context is canceled (fatal error
// or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))
	a.driver.Bind(a.sup.Context())
	cfg := a.cfgm.Get()

	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, next *config.Config) error {
		// Some sections can't change under a running process.
		if next.Transport.Driver != cfg.Transport.Driver {
			return fmt.Errorf("transport.driver cannot change at runtime")
		}
		if next.Target.ChannelID != cfg.Target.ChannelID {
			return fmt.Errorf("target.channel_id cannot change at runtime")
		}
		return nil
	})

	if err := a.authenticateAccounts(a.sup.Context(), cfg); err != nil {
		return err
	}

	if a.store != nil {
		a.sup.Go("storage.recorder", func(c context.Context) error {
			return storage.RunRecorder(c, a.bus, a.store, a.logs.Logger().With(logx.String("comp", "storage")))
		})
	}

	a.sup.Go("messages.watch", func(c context.Context) error {
		return a.pool.Watch(c)
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})

	if a.adminS != nil {
		errCh := make(chan error, 1)
		a.adminS.Start(errCh)
		a.sup.Go("admin.serve", func(c context.Context) error {
			select {
			case <-c.Done():
				return nil
			case err := <-errCh:
				return err
			}
		})
	}

	if err := a.startWindows(cfg); err != nil {
		return err
	}

	if cfg.Rotation.StartOnBoot {
		if err := a.driver.StartRotation(); err != nil {
			a.log.Warn("rotation start on boot failed", logx.Err(err))
		}
	} else {
		for _, ac := range cfg.Accounts {
			if !ac.AutoSend {
				continue
			}
			if err := a.driver.StartAutoSend(ac.Name); err != nil {
				a.log.Warn("auto-send start failed",
					logx.String("account", ac.Name), logx.Err(err))
			}
		}
	}

	a.log.Info("started",
		logx.String("target", a.targetID),
		logx.Int("accounts", len(a.reg.List())))
	return nil
}

// authenticateAccounts opens one session per configured account. A
// failed credential excludes that account; the run only aborts when no
// account authenticates at all.
func (a *App) authenticateAccounts(ctx context.Context, cfg *config.Config) error {
	errorRetry, err := config.ParseDurationOrDefault("send.error_retry_delay", cfg.Send.ErrorRetryDelay, 30*time.Second)
	if err != nil {
		return err
	}
	for i, ac := range cfg.Accounts {
		log := a.log.With(logx.String("account", ac.Name))
		token, err := ac.Token()
		if err != nil {
			log.Error("credential missing", logx.Err(err))
			continue
		}
		sess, err := a.tp.Authenticate(ctx, transport.Credential{Token: token})
		if err != nil {
			log.Error("authentication failed", logx.Err(err))
			continue
		}
		baseDelay, err := config.ParseDurationOrDefault(fmt.Sprintf("accounts[%d].base_delay", i), ac.BaseDelay, 5*time.Second)
		if err != nil {
			return err
		}
		acct := account.New(ac.Name, sess, account.Options{
			Enabled:         ac.IsEnabled(),
			AutoSend:        ac.AutoSend,
			BaseDelay:       baseDelay,
			MaxPerHour:      ac.MaxPerHour,
			ErrorRetryDelay: errorRetry,
		})
		if err := a.reg.Register(acct); err != nil {
			return err
		}
		log.Info("authenticated", logx.Bool("enabled", ac.IsEnabled()))
	}
	if len(a.reg.List()) == 0 {
		return fmt.Errorf("no account authenticated")
	}
	return nil
}

// startWindows schedules cron-driven rotation start/stop pairs.
func (a *App) startWindows(cfg *config.Config) error {
	if len(cfg.Rotation.Windows) == 0 {
		return nil
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
		loc = l
	}
	c := cron.New(cron.WithLocation(loc))
	for i, w := range cfg.Rotation.Windows {
		if _, err := c.AddFunc(w.Start, func() {
			if err := a.driver.StartRotation(); err != nil {
				a.log.Warn("scheduled rotation start failed", logx.Err(err))
			} else {
				a.log.Info("rotation window opened")
			}
		}); err != nil {
			return fmt.Errorf("rotation.windows[%d].start: %w", i, err)
		}
		if _, err := c.AddFunc(w.Stop, func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			a.driver.StopRotation(stopCtx)
			cancel()
			a.log.Info("rotation window closed")
		}); err != nil {
			return fmt.Errorf("rotation.windows[%d].stop: %w", i, err)
		}
	}
	c.Start()
	a.crons = c
	return nil
}

// reloadLoop applies hot-reloadable sections when the config file
// changes. Structural sections (transport, target) are rejected by the
// validator before they ever get here.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts, keep the newest.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			if next.Logging != last.Logging {
				a.logs.Apply(logx.Config{
					Level:   next.Logging.Level,
					Console: next.Logging.Console,
					File: logx.FileConfig{
						Enabled: next.Logging.File.Enabled,
						Path:    next.Logging.File.Path,
					},
				})
			}
			a.applyAccountFlags(next)
			if len(next.Accounts) != len(last.Accounts) {
				a.log.Warn("account set changed; restart required to add or remove accounts")
			}
			last = next
			a.log.Info("config reloaded")
		}
	}
}

// applyAccountFlags propagates enabled toggles from a reloaded config
// to already registered accounts.
func (a *App) applyAccountFlags(cfg *config.Config) {
	for _, ac := range cfg.Accounts {
		acct, ok := a.reg.Get(ac.Name)
		if !ok {
			continue
		}
		if acct.Enabled() != ac.IsEnabled() {
			acct.SetEnabled(ac.IsEnabled())
			a.log.Info("account toggled via config",
				logx.String("account", ac.Name),
				logx.Bool("enabled", ac.IsEnabled()))
		}
	}
}

// fetchInterval is the oracle's FetchFunc; any live session can ask the
// platform for the channel's enforced interval.
func (a *App) fetchInterval(ctx context.Context, targetID string) (time.Duration, error) {
	for _, acct := range a.reg.List() {
		return acct.Session().QueryRateLimit(ctx, targetID)
	}
	return 0, fmt.Errorf("no session available")
}

func (a *App) listTargets(ctx context.Context) ([]transport.Target, error) {
	for _, acct := range a.reg.List() {
		return acct.Session().ListTargets(ctx)
	}
	return nil, fmt.Errorf("no session available")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	// Bound each shutdown step so one component can't stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name),
				logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("driver", 10*time.Second, func(c context.Context) error {
		a.driver.StopAll(c)
		return nil
	})
	if a.crons != nil {
		step("windows", 2*time.Second, func(c context.Context) error {
			stopped := a.crons.Stop()
			select {
			case <-stopped.Done():
			case <-c.Done():
			}
			return nil
		})
	}
	if a.adminS != nil {
		step("admin", 3*time.Second, func(c context.Context) error {
			return a.adminS.Stop(c)
		})
	}
	step("supervisor", 3*time.Second, func(c context.Context) error {
		return a.sup.Wait(c)
	})
	step("sessions", 2*time.Second, func(context.Context) error {
		for _, acct := range a.reg.List() {
			if err := acct.Session().Close(); err != nil {
				a.log.Debug("session close", logx.String("account", acct.Name()), logx.Err(err))
			}
		}
		return nil
	})
	if a.store != nil {
		step("storage", 2*time.Second, func(context.Context) error {
			return a.store.Close()
		})
	}

	a.log.Info("stopped")
	return a.logs.Close()
}

func telegramChatID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("target.channel_id: telegram driver needs a numeric chat id: %w", err)
	}
	return id, nil
}
