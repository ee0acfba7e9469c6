// Package app wires storage, scheduler, the reminder core and the
// transports into a running process.
package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"

	"sugarbot/internal/config"
	"sugarbot/internal/httpapi"
	"sugarbot/internal/logging"
	"sugarbot/internal/reminder"
	"sugarbot/internal/sched"
	"sugarbot/internal/storage"
	"sugarbot/internal/transport/telegram"
)

type App struct {
	cfgPath string
	log     zerolog.Logger

	store     *storage.Store
	scheduler *sched.Service
	delivery  *reminder.Delivery
	rec       *reminder.Reconciler
	notifier  *reminder.Notifier
	gc        *reminder.GC
	tport     *telegram.Transport
	api       *httpapi.Server

	logLevel atomic.Int32
}

func New(cfgPath string, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{cfgPath: cfgPath, log: log}

	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{Path: cfg.Storage.Path, BusyTimeout: busy},
		log.With().Str("comp", "storage").Logger())
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.store = store

	jobTimeout, err := config.ParseDurationOrDefault("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	a.scheduler = sched.New(sched.Config{DefaultTimeout: jobTimeout},
		log.With().Str("comp", "sched").Logger())

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	tport, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		RatePerSec:  cfg.Telegram.RatePerSec,
	}, log.With().Str("comp", "telegram").Logger())
	if err != nil {
		return nil, fmt.Errorf("telegram transport: %w", err)
	}
	a.tport = tport

	coreLog := log.With().Str("comp", "reminder").Logger()
	a.delivery = reminder.NewDelivery(store, a.scheduler, tport, cfg.Reminders.SnoozeMinutes, coreLog)
	a.rec = reminder.NewReconciler(store, a.scheduler, a.delivery, coreLog)
	a.notifier = reminder.NewNotifier(a.rec, coreLog)
	tport.RegisterDelivery(a.delivery)

	gcInterval, err := config.ParseDurationOrDefault("reminders.gc_interval", cfg.Reminders.GCInterval, reminder.DefaultGCInterval)
	if err != nil {
		return nil, err
	}
	a.gc = reminder.NewGC(a.rec, gcInterval, log.With().Str("comp", "gc").Logger())

	if cfg.InternalAPI.Enabled {
		a.api = httpapi.New(httpapi.Config{Addr: cfg.InternalAPI.Addr, Token: cfg.InternalAPI.Token},
			a.notifier, a.rec, log.With().Str("comp", "httpapi").Logger())
	}
	return a, nil
}

// Notifier exposes the in-process signal surface for same-process callers
// (the API layer when it shares the process with the scheduler).
func (a *App) Notifier() *reminder.Notifier { return a.notifier }

// Run blocks until ctx is cancelled, then shuts components down in reverse
// start order.
func (a *App) Run(ctx context.Context) error {
	a.scheduler.Start(ctx)
	a.tport.Start()

	// Rebuild the job set lost with the previous process before the GC's
	// first natural tick; GC.Run repeats this immediately anyway, so the
	// boot pass simply runs under its skip-if-running guard.
	go a.gc.Run(ctx)

	if a.api != nil {
		go func() {
			if err := a.api.Start(); err != nil {
				a.log.Error().Err(err).Msg("internal api failed")
			}
		}()
	}

	go func() {
		if err := config.Watch(ctx, a.cfgPath, a.log.With().Str("comp", "config").Logger(), a.onConfigReload); err != nil {
			a.log.Warn().Err(err).Msg("config watch unavailable")
		}
	}()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err == nil && sent {
		a.log.Debug().Msg("systemd readiness notified")
	}
	go a.watchdogLoop(ctx)

	a.log.Info().Msg("sugarbot running")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.api != nil {
		_ = a.api.Shutdown(shutdownCtx)
	}
	a.tport.Stop()
	a.scheduler.Stop(shutdownCtx)
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("storage close failed")
	}
	a.log.Info().Msg("sugarbot stopped")
	return nil
}

// onConfigReload applies the safe-to-hot-apply subset of a reloaded config
// and kicks a reconcile pass so schedule-affecting defaults take hold.
func (a *App) onConfigReload(cfg *config.Config) {
	level := logging.ParseLevel(cfg.Logging.Level)
	if int32(level) != a.logLevel.Swap(int32(level)) {
		zerolog.SetGlobalLevel(level)
		a.log.Info().Str("level", level.String()).Msg("log level applied")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	a.gc.RunOnce(ctx)
}

// watchdogLoop feeds the systemd watchdog at half its interval when one is
// configured; otherwise it exits immediately.
func (a *App) watchdogLoop(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
