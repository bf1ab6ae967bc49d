package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalwatch/internal/common"
	"github.com/ternarybob/portalwatch/internal/handlers"
	"github.com/ternarybob/portalwatch/internal/interfaces"
	"github.com/ternarybob/portalwatch/internal/services/collector"
	"github.com/ternarybob/portalwatch/internal/services/digest"
	"github.com/ternarybob/portalwatch/internal/services/events"
	"github.com/ternarybob/portalwatch/internal/services/health"
	"github.com/ternarybob/portalwatch/internal/services/matcher"
	"github.com/ternarybob/portalwatch/internal/services/notify"
	"github.com/ternarybob/portalwatch/internal/services/page"
	"github.com/ternarybob/portalwatch/internal/services/ratelimit"
	"github.com/ternarybob/portalwatch/internal/services/scheduler"
	"github.com/ternarybob/portalwatch/internal/storage/dedup"
	"github.com/ternarybob/portalwatch/internal/storage/state"
)

// App holds all application components and dependencies
type App struct {
	Config    *common.Config
	Logger    arbor.ILogger
	ctx       context.Context
	cancelCtx context.CancelFunc

	// Persistence
	StateStore interfaces.StateStore
	Stores     dedup.Set

	// Event sink and outbound notifications
	EventService *events.Service
	NotifyDedup  *notify.Dedup
	Notifier     interfaces.Notifier

	// Portal session
	Browser *page.Browser
	Adapter *page.ChromeAdapter
	Page    *page.Exclusive

	// Collection
	Matcher      *matcher.Matcher
	RulesWatcher *matcher.Watcher
	Collector    *collector.Collector
	Cycle        *scheduler.CycleScheduler

	// Health
	HealthMonitor *health.Monitor
	HealthGate    *health.Gate

	// Daily digest
	Digest *digest.Service
	Daily  *scheduler.DailyScheduler

	// Lock screen
	Limiter  *ratelimit.Limiter
	Verifier *ratelimit.Verifier

	// HTTP handlers
	APIHandler       *handlers.APIHandler
	StatusHandler    *handlers.StatusHandler
	SchedulerHandler *handlers.SchedulerHandler
	StoreHandler     *handlers.StoreHandler
	AuthHandler      *handlers.AuthHandler
	WSHandler        *handlers.WebSocketHandler
}

// New initializes the application with all dependencies and starts the
// background loops
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}
	app.ctx, app.cancelCtx = context.WithCancel(context.Background())

	if err := app.initStorage(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()
	app.start()

	logger.Info().
		Strs("stores", app.Stores.Names()).
		Bool("browser_started", app.Browser.IsStarted()).
		Bool("daily_enabled", app.Daily != nil).
		Msg("Application initialized")

	return app, nil
}

func (a *App) initStorage() error {
	store, err := state.New(&a.Config.Storage, a.Logger)
	if err != nil {
		return err
	}
	a.StateStore = store

	stores, err := collector.OpenStores(a.Config.Storage, nil, a.Logger)
	if err != nil {
		return err
	}
	a.Stores = stores

	a.Logger.Info().
		Str("data_dir", a.Config.Storage.DataDir).
		Str("state_backend", a.Config.Storage.StateBackend).
		Msg("Storage initialized")
	return nil
}

func (a *App) initServices() error {
	cfg := a.Config

	// 1. Events
	a.EventService = events.NewService(a.Logger, nil)

	// 2. Notifications: webhook when configured, log otherwise, always deduplicated
	var inner interfaces.Notifier
	if cfg.Notify.WebhookURL != "" {
		inner = notify.NewWebhookNotifier(
			cfg.Notify.WebhookURL,
			cfg.Notify.RatePerMinute,
			common.ParseDurationOr(cfg.Notify.Timeout, 10*time.Second),
			a.Logger,
		)
	} else {
		a.Logger.Warn().Msg("notify.webhook_url not set, notifications are only logged")
		inner = notify.NewLogNotifier(a.Logger)
	}
	a.NotifyDedup = notify.NewDedup(common.ParseDurationOr(cfg.Notify.TTL, 30*time.Minute), nil)
	a.Notifier = notify.NewDedupNotifier(inner, a.NotifyDedup, a.Logger)

	// 3. Portal session. A browser that fails to start is not fatal: the API
	// stays up and every pass reports the error.
	a.Browser = page.NewBrowser(page.BrowserConfig{
		Headless:  cfg.Page.Headless,
		UserAgent: cfg.Page.UserAgent,
		NoSandbox: cfg.Page.NoSandbox,
	}, a.Logger)
	a.Adapter = page.NewChromeAdapter(a.Browser, cfg.Page, a.Logger)
	if err := a.Browser.Start(); err != nil {
		a.Logger.Error().Err(err).Msg("Failed to start browser, collection passes will fail until restart")
	} else if err := a.Adapter.Open(a.ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to open portal page")
	}
	// Passes and health checks share the tab through this
	a.Page = page.NewExclusive(a.Adapter)

	// 4. Rules
	a.Matcher = matcher.New(nil)
	a.RulesWatcher = matcher.NewWatcher(cfg.Rules.Path, a.Matcher, a.EventService, a.Logger)
	if err := a.RulesWatcher.Reload(); err != nil {
		a.Logger.Warn().Err(err).Str("path", cfg.Rules.Path).Msg("No rules loaded, nothing will match")
	}

	// 5. Collector and cycle scheduler
	coll, err := collector.NewCollector(a.Page, a.Matcher, a.Stores, a.Notifier, a.EventService, collector.Config{
		MaxLiveRows: cfg.Storage.MaxLiveRows,
		ArchiveDir:  cfg.Storage.ArchiveDir,
	}, a.Logger)
	if err != nil {
		return err
	}
	a.Collector = coll

	a.Cycle = scheduler.NewCycleScheduler(scheduler.CycleOptions{
		Name:        "collector",
		MinInterval: common.ParseDurationOr(cfg.Cycle.MinInterval, 15*time.Second),
		MaxInterval: common.ParseDurationOr(cfg.Cycle.MaxInterval, 6*time.Hour),
		RetryDelay:  common.ParseDurationOr(cfg.Cycle.RetryDelay, 10*time.Second),
		Store:       a.StateStore,
		Sink:        a.EventService,
	}, a.Collector.Pass, a.Logger)

	// 6. Health monitor gating the cycle scheduler
	opts := health.OptionsFromConfig(cfg.Health)
	opts.Sink = a.EventService

	probeURL := cfg.Health.ProbeURL
	if probeURL == "" {
		probeURL = cfg.Page.PortalURL
	}
	var networkProbe health.NetworkProbe
	if probeURL != "" {
		networkProbe = health.HTTPProbe(probeURL, common.ParseDurationOr(cfg.Health.ProbeTimeout, 5*time.Second))
	} else {
		networkProbe = health.AdapterProbe(a.Page)
	}
	a.HealthMonitor = health.NewMonitor(opts, networkProbe, health.AdapterSessionProbe(a.Page), a.Logger)
	a.HealthGate = health.NewGate(a.HealthMonitor, a.Notifier, a.Logger, a.Cycle)

	// 7. Daily digest
	if len(cfg.Daily.Slots) > 0 {
		loc, err := time.LoadLocation(cfg.Daily.Timezone)
		if err != nil {
			return fmt.Errorf("invalid daily timezone: %w", err)
		}
		a.Digest, err = digest.NewService(a.Stores, a.Notifier, a.EventService, nil, loc, cfg.Daily.DigestMaxTitles, a.Logger)
		if err != nil {
			return err
		}
		a.Daily, err = scheduler.NewDailySchedulerFromConfig(cfg.Daily, a.StateStore, a.Digest.Run, a.Logger)
		if err != nil {
			return err
		}
	}

	// 8. Lock-screen credentials
	a.Limiter = ratelimit.NewLimiterFromConfig(cfg.RateLimit, nil, a.Logger)
	if cfg.RateLimit.Username == "" || cfg.RateLimit.Secret == "" {
		a.Logger.Warn().Msg("Unlock credentials not configured, every unlock attempt will be denied")
	}
	a.Verifier = ratelimit.NewVerifier(a.Limiter, cfg.RateLimit.Username, cfg.RateLimit.Secret, cfg.RateLimit.MaxFieldLength, a.Logger)

	return nil
}

func (a *App) initHandlers() {
	var daily handlers.DailyRunner
	if a.Daily != nil {
		daily = a.Daily
	}

	a.APIHandler = handlers.NewAPIHandler()
	a.StatusHandler = handlers.NewStatusHandler(a.Cycle, a.HealthMonitor, daily, a.Stores, a.Logger)
	a.SchedulerHandler = handlers.NewSchedulerHandler(a.Cycle, daily,
		common.ParseDurationOr(a.Config.Cycle.Interval, 2*time.Minute), a.Logger)
	a.StoreHandler = handlers.NewStoreHandler(a.Stores, a.Config.Storage.ArchiveDir, a.Logger)
	a.AuthHandler = handlers.NewAuthHandler(a.Verifier, a.EventService, a.Logger)

	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.Logger, &a.Config.Server)
	a.Cycle.OnCycle(a.WSHandler.BroadcastCycle)
	a.WSHandler.SetStatusFunc(func() interface{} {
		return map[string]interface{}{
			"cycle":  a.Cycle.GetState(),
			"health": a.HealthMonitor.Snapshot(),
		}
	})
}

// start launches the background loops in dependency order: health first so the
// gate can hold the cycle scheduler back before its first pass
func (a *App) start() {
	cfg := a.Config

	a.HealthMonitor.Start(a.ctx)

	if cfg.Rules.Watch && cfg.Rules.Path != "" {
		if err := a.RulesWatcher.Watch(a.ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Rules hot reload disabled")
		}
	}

	// Persisted state wins; auto_start only applies when nobody ever disabled it
	if !a.Cycle.Start() && cfg.Cycle.AutoStart && a.Cycle.GetState().StopReason == "" {
		a.Cycle.Enable(common.ParseDurationOr(cfg.Cycle.Interval, 2*time.Minute))
	}

	if a.Daily != nil {
		if err := a.Daily.Start(); err != nil {
			a.Logger.Error().Err(err).Msg("Failed to start daily scheduler")
		}
	}

	a.Limiter.StartSweeper(a.ctx, common.ParseDurationOr(cfg.RateLimit.SweepInterval, 10*time.Minute))

	ttl := common.ParseDurationOr(cfg.Notify.TTL, 30*time.Minute)
	common.SafeGo(a.Logger, "notify-dedup-prune", func() {
		ticker := time.NewTicker(ttl)
		defer ticker.Stop()
		for {
			select {
			case <-a.ctx.Done():
				return
			case <-ticker.C:
				if n := a.NotifyDedup.Prune(); n > 0 {
					a.Logger.Debug().Int("pruned", n).Msg("Expired notification signatures pruned")
				}
			}
		}
	})
}

// Close stops every loop, flushes pending store writes and releases resources
func (a *App) Close() error {
	a.Logger.Info().Msg("Shutting down application")

	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	if a.Daily != nil {
		a.Daily.Stop()
	}
	if a.Cycle != nil {
		a.Cycle.Close()
	}
	if a.WSHandler != nil {
		a.WSHandler.Close()
	}
	if a.Browser != nil {
		if err := a.Browser.Shutdown(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to shut down browser")
		}
	}

	if a.Stores != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.Stores.FlushAll(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("Failed to flush stores")
		} else {
			a.Logger.Info().Msg("Stores flushed")
		}
		cancel()
	}

	if a.StateStore != nil {
		if err := a.StateStore.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close state store")
		}
	}

	if a.EventService != nil {
		a.EventService.Close()
	}

	a.Logger.Info().Msg("Application stopped")
	return nil
}
