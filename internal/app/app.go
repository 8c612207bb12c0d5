// Package app wires config, logging, storage, the registry, moderation
// commands and the Telegram adapter into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"psarbot/internal/config"
	"psarbot/internal/eventbus"
	"psarbot/internal/housekeeping"
	"psarbot/internal/moderation"
	"psarbot/internal/restrict"
	"psarbot/internal/router"
	"psarbot/internal/runtime/supervisor"
	"psarbot/internal/storage"
	kit "psarbot/internal/transport"
	telegram "psarbot/internal/transport/telegram/adapter"
	logx "psarbot/pkg/logx"
)

type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.Bus

	store storage.Store

	adapter *telegram.Adapter
	reg     *restrict.Registry
	mod     *moderation.Service
	hk      *housekeeping.Service
	cmdm    *router.Manager

	updates chan kit.Update
}

// New loads the config at cfgPath and builds every component without
// starting background work.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	adCfg, err := mapAdapterConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(adCfg, logx.NewConsole("info").With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg), ad)
	logSvc.Redact(cfg.Telegram.Token)
	appLog := log.With(logx.String("comp", "app"))

	modCfg, err := mapModerationConfig(cfg)
	if err != nil {
		return nil, err
	}
	hkCfg, err := mapHousekeepingConfig(cfg)
	if err != nil {
		return nil, err
	}

	var (
		store  storage.Store
		driver string
	)
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		store, err = storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		driver = sc.Driver
		appLog.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	bus := eventbus.New()
	reg := restrict.New(
		restrict.WithLogger(log.With(logx.String("comp", "registry"))),
		restrict.WithBus(bus),
	)
	mod := moderation.New(reg, ad,
		moderation.WithConfig(modCfg),
		moderation.WithStore(store, driver),
		moderation.WithLogger(log.With(logx.String("comp", "moderation"))),
	)

	var pruner housekeeping.Pruner
	if store != nil {
		pruner = store
	}
	hk := housekeeping.New(hkCfg, pruner, log.With(logx.String("comp", "housekeeping")))

	cmdm := router.NewManager(log.With(logx.String("comp", "commands")), ad, cfg.Telegram.OwnerUserIDs)
	if err := cmdm.SetRegistry(mod.Commands()); err != nil {
		reg.Close()
		if store != nil {
			_ = store.Close()
		}
		return nil, fmt.Errorf("commands: %w", err)
	}

	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	return &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		reg:     reg,
		mod:     mod,
		hk:      hk,
		cmdm:    cmdm,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.mod.Bind(a.sup.Context())

	// Reject a hot reload that the components could not apply.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		var errs []error
		if _, err := mapAdapterConfig(cfg); err != nil {
			errs = append(errs, err)
		}
		if _, err := mapModerationConfig(cfg); err != nil {
			errs = append(errs, err)
		}
		if _, err := mapHousekeepingConfig(cfg); err != nil {
			errs = append(errs, err)
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.cmdm.SetBotUsername(a.adapter.Username())

	if err := a.hk.Start(a.sup.Context()); err != nil {
		a.log.Warn("housekeeping not started", logx.Err(err))
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})
	a.sup.Run("commands.menu", func(c context.Context) {
		if err := a.cmdm.UpdateMenu(c); err != nil {
			a.log.Warn("menu update failed", logx.Err(err))
		}
	})

	events, unsub := a.bus.Subscribe("restrict.", 128)
	a.sup.Run("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time)}
				if r, ok := e.Data.(restrict.Restriction); ok {
					fields = append(fields,
						logx.String("id", r.ID),
						logx.Int64("subject", r.SubjectID),
						logx.Int64("chat", r.GroupID),
					)
				}
				a.log.Debug("event", fields...)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Run("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.startWatchdog()
	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started", logx.Int("commands", len(a.cmdm.Menu())))
	return nil
}

// applyConfig pushes a committed config into the running components.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if oldCfg != nil && oldCfg.Telegram.Token != newCfg.Telegram.Token {
		a.log.Warn("telegram token changed; restart required for changes to take effect")
	}

	secrets := []string{newCfg.Telegram.Token}
	if oldCfg != nil {
		// The running adapter still uses the old token.
		secrets = append(secrets, oldCfg.Telegram.Token)
	}
	a.logs.Redact(secrets...)
	a.logs.Apply(mapLoggingConfig(newCfg))
	a.cmdm.SetOwners(newCfg.Telegram.OwnerUserIDs)

	if mc, err := mapModerationConfig(newCfg); err != nil {
		a.log.Warn("invalid moderation config; keeping previous", logx.Err(err))
	} else {
		a.mod.SetConfig(mc)
	}
	if hc, err := mapHousekeepingConfig(newCfg); err != nil {
		a.log.Warn("invalid housekeeping config; keeping previous", logx.Err(err))
	} else if err := a.hk.Apply(hc); err != nil {
		a.log.Warn("housekeeping apply failed", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	sdNotify(a.log, daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	// step bounds one shutdown action so a stuck component can't stall the rest.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, time.Until(dl))
		}
		if limit > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, limit)
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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("housekeeping", 2*time.Second, func(c context.Context) error { a.hk.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	// Pending timers are dropped. Telegram lifts each restriction at its
	// until_date on its own.
	step("registry", time.Second, func(context.Context) error {
		if n := a.reg.Len(); n > 0 {
			a.log.Info("dropping active restrictions", logx.Int("count", n))
		}
		a.reg.Close()
		return nil
	})
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}
