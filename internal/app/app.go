package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"js8bridge/internal/config"
	"js8bridge/internal/dispatch"
	"js8bridge/internal/radio"
	"js8bridge/internal/registry"
	"js8bridge/internal/route"
	"js8bridge/internal/router"
	rtsup "js8bridge/internal/runtime/supervisor"
	"js8bridge/internal/stats"
	"js8bridge/internal/storage"
	"js8bridge/internal/transport"
	"js8bridge/internal/transport/telegram"
	logx "js8bridge/pkg/logx"
)

// App owns the bridge wiring: radio ingestion on one side, the delivery
// adapter on the other, registry/dispatcher/stats in between.
type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter    *telegram.Adapter
	store      storage.Store
	reg        *registry.Registry
	classifier *route.Classifier
	disp       *dispatch.Dispatcher
	stats      *stats.Service
	router     *router.Router
	loop       *radio.Loop

	updates chan transport.Update
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
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	pollTimeout, err := config.DurationOr("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	busyTimeout, err := config.Duration("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	reg := registry.New(catalogs(cfg), store, adapter, log.With(logx.String("comp", "registry")))

	classifier := route.NewClassifier(route.Config{
		Groups:       cfg.Bridge.Groups,
		UrgentGroups: cfg.Bridge.UrgentGroups,
		BlockedWords: cfg.Bridge.BlockedWords,
	}, log.With(logx.String("comp", "classifier")))

	disp := dispatch.New(dispatch.Config{
		Workers:    cfg.Dispatch.Workers,
		QueueSize:  cfg.Dispatch.QueueSize,
		RatePerSec: cfg.Dispatch.RatePerSec,
	}, adapter, reg, store, log.With(logx.String("comp", "dispatch")))

	statsSvc := stats.New(stats.Config{
		Enabled:      cfg.Stats.Enabled,
		SnapshotCron: cfg.Stats.SnapshotCron,
		Timezone:     cfg.Stats.Timezone,
	}, stats.Info{
		Location: cfg.Bridge.Location,
		Operator: cfg.Bridge.Operator,
	}, store, reg, log.With(logx.String("comp", "stats")))

	cooldown, err := config.DurationOr("bridge.cooldown", cfg.Bridge.Cooldown, time.Minute)
	if err != nil {
		return nil, err
	}
	rtr := router.New(adapter, log.With(logx.String("comp", "router")), cfg.Bridge.RateLimit, cooldown)
	rtr.RegisterBridgeCommands(reg, statsSvc)

	pollInterval, err := config.DurationOr("radio.poll_interval", cfg.Radio.PollInterval, time.Second)
	if err != nil {
		return nil, err
	}
	reconnectBackoff, err := config.DurationOr("radio.reconnect_backoff", cfg.Radio.ReconnectBackoff, 5*time.Second)
	if err != nil {
		return nil, err
	}
	link := radio.NewLink(cfg.Radio.Host, cfg.Radio.Port, cfg.Radio.ReadBuffer)
	loop := radio.NewLoop(link, pollInterval, reconnectBackoff, func(ctx context.Context, ev radio.Event) {
		msg, ok := classifier.Classify(ev)
		if !ok {
			return
		}
		disp.Dispatch(ctx, msg)
	}, log.With(logx.String("comp", "radio")))

	// Hot reload covers catalogs, blocked words, logging and rate knobs.
	// Endpoint, token and storage changes need a restart; reject them so a
	// stale file edit can't half-apply.
	cfgm.SetValidator(func(ctx context.Context, next *config.Config) error {
		if next.Radio.Host != cfg.Radio.Host || next.Radio.Port != cfg.Radio.Port {
			return errors.New("radio endpoint change requires restart")
		}
		if next.Telegram.Token != cfg.Telegram.Token {
			return errors.New("telegram token change requires restart")
		}
		if next.Storage != cfg.Storage {
			return errors.New("storage change requires restart")
		}
		return nil
	})

	return &App{
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		adapter:    adapter,
		store:      store,
		reg:        reg,
		classifier: classifier,
		disp:       disp,
		stats:      statsSvc,
		router:     rtr,
		loop:       loop,
		updates:    make(chan transport.Update, 256),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "supervisor"))))
	runCtx := a.sup.Context()

	a.reg.Load(runCtx)
	a.disp.Start(runCtx)

	if err := a.stats.Start(runCtx); err != nil {
		return err
	}

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	a.sup.Go0("router.updates", func(c context.Context) {
		a.router.Run(c, a.updates)
	})

	// The radio loop recovers link failures itself; the restart wrapper only
	// guards against panics and unexpected exits.
	a.sup.GoRestart("radio.loop", a.loop.Run,
		rtsup.WithRestartBackoff(time.Second, 30*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)

	a.sup.Go0("config.watch", func(c context.Context) {
		_ = a.cfgm.Watch(c)
	})
	a.sup.Go0("config.apply", a.applyLoop)

	a.log.Info("bridge started")
	return nil
}

func (a *App) applyLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok || cfg == nil {
				return
			}
			a.apply(cfg)
		}
	}
}

func (a *App) apply(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.classifier.Apply(route.Config{
		Groups:       cfg.Bridge.Groups,
		UrgentGroups: cfg.Bridge.UrgentGroups,
		BlockedWords: cfg.Bridge.BlockedWords,
	})
	a.reg.Apply(catalogs(cfg))
	a.disp.Apply(dispatch.Config{RatePerSec: cfg.Dispatch.RatePerSec})
	a.stats.Apply(stats.Info{Location: cfg.Bridge.Location, Operator: cfg.Bridge.Operator})
	if cooldown, err := config.DurationOr("bridge.cooldown", cfg.Bridge.Cooldown, time.Minute); err == nil {
		a.router.Apply(cfg.Bridge.RateLimit, cooldown)
	}
	a.log.Info("config applied")
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")

	a.stats.Stop(ctx)
	_ = a.adapter.Stop(ctx)

	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("shutdown incomplete", logx.Err(err))
		}
	}
	a.disp.Stop(ctx)

	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logs.Close()
	return nil
}

func catalogs(cfg *config.Config) registry.Catalogs {
	return registry.Catalogs{
		Groups:        cfg.Bridge.Groups,
		UrgentGroups:  cfg.Bridge.UrgentGroups,
		DefaultGroups: cfg.Bridge.DefaultGroups,
	}
}
