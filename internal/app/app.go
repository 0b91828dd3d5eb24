// Package app wires configuration, storage, and every service together and
// owns the process lifecycle.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"snipebot/internal/catalog"
	"snipebot/internal/command"
	"snipebot/internal/config"
	"snipebot/internal/dispatch"
	"snipebot/internal/eventbus"
	"snipebot/internal/metrics"
	"snipebot/internal/monitor"
	"snipebot/internal/notifier"
	"snipebot/internal/purchase"
	"snipebot/internal/queue"
	"snipebot/internal/storage"
	"snipebot/internal/transport"
	"snipebot/internal/transport/httpapi"
	"snipebot/internal/transport/telegram"
	"snipebot/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	bus   eventbus.Bus
	stats *metrics.Set
	store storage.Store

	parser   *command.Parser
	provider catalog.Provider
	tasks    *queue.Store

	dispatcher *dispatch.Service
	engine     *monitor.Engine
	notify     *notifier.Service
	api        *httpapi.Server
	tg         *telegram.Adapter

	mu           sync.Mutex
	defaultRetry time.Duration
	allowedUsers map[int64]struct{}
	chatID       int64

	wg        sync.WaitGroup
	runCancel context.CancelFunc
}

// New loads the config file and builds the full service graph. Nothing is
// running yet; call Start.
func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{
		cfgMgr: mgr,
		logSvc: logSvc,
		log:    log,
		bus:    eventbus.New(),
		stats:  metrics.New(),
	}
	if err := a.build(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	log := a.log

	storeCfg, err := storageConfig(cfg.Storage)
	if err != nil {
		return err
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	a.store = store

	limits, err := queueLimits(cfg.Queue)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.defaultRetry = limits.RetryDefault
	a.allowedUsers = allowSet(cfg.Telegram.AllowedUserIDs)
	a.chatID = cfg.Telegram.ChatID
	a.parser = command.NewParser(cfg.Catalog.Datacenters)
	a.mu.Unlock()

	provTimeout, err := config.ParseDurationOrDefault("provider.timeout", cfg.Provider.Timeout, 15*time.Second)
	if err != nil {
		return err
	}
	a.provider = catalog.NewHTTPProvider(catalog.HTTPConfig{
		BaseURL:    cfg.Provider.CatalogURL,
		APIKey:     cfg.Provider.APIKey,
		Subsidiary: cfg.Provider.Subsidiary,
		Timeout:    provTimeout,
	}, log.With(logx.String("comp", "catalog")))

	a.tasks = queue.NewStore(limits,
		queue.WithLogger(log.With(logx.String("comp", "queue"))),
		queue.WithBus(a.bus),
		queue.WithPersister(a.persistQueue))

	orderer := purchase.NewHTTPProvider(purchase.HTTPConfig{
		OrderURL: cfg.Provider.OrderURL,
		APIKey:   cfg.Provider.APIKey,
		Timeout:  provTimeout,
	}, log.With(logx.String("comp", "order")))

	dispCfg, err := dispatchConfig(cfg.Dispatch)
	if err != nil {
		return err
	}
	attemptTimeout, err := config.ParseDurationOrDefault("dispatch.attempt_timeout", cfg.Dispatch.AttemptTimeout, 30*time.Second)
	if err != nil {
		return err
	}
	exec := purchase.NewExecutor(orderer, attemptTimeout, log.With(logx.String("comp", "purchase")))
	a.dispatcher = dispatch.New(dispCfg, a.tasks, exec, log.With(logx.String("comp", "dispatch")), a.stats)

	monCfg, err := monitorConfig(cfg.Monitor)
	if err != nil {
		return err
	}
	a.engine = monitor.NewEngine(monCfg, a.provider,
		monitor.WithLogger(log.With(logx.String("comp", "monitor"))),
		monitor.WithBus(a.bus),
		monitor.WithMetrics(a.stats),
		monitor.WithNotify(a.notifyText),
		monitor.WithOrder(a.autoOrder),
		monitor.WithPersister(a.persistSubscriptions))

	if cfg.Telegram.Enabled {
		pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return err
		}
		tg, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: pollTimeout,
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return err
		}
		a.tg = tg
	}

	notifyCfg, err := notifierConfig(cfg.Notifier)
	if err != nil {
		return err
	}
	var adapter transport.Adapter
	if a.tg != nil {
		adapter = a.tg
	}
	a.notify = notifier.New(notifyCfg, adapter, log.With(logx.String("comp", "notifier")), a.bus, a.stats)

	apiCfg, err := apiConfig(cfg.API)
	if err != nil {
		return err
	}
	a.api = httpapi.New(apiCfg, a, log.With(logx.String("comp", "api")), a.stats)

	return nil
}

// Start restores persisted state and brings every service up.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel

	a.restore(runCtx)

	a.notify.Start(runCtx)
	a.dispatcher.Start(runCtx)
	a.engine.Start(runCtx)
	if err := a.api.Start(runCtx); err != nil {
		return err
	}
	if a.tg != nil {
		if err := a.tg.Start(runCtx); err != nil {
			return err
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.updateLoop(runCtx)
		}()
	}

	// Config hot-reload.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgMgr.Watch(runCtx)
	}()
	updates := a.cfgMgr.Subscribe(1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	}()

	a.log.Info("started")
	return nil
}

func (a *App) Stop(ctx context.Context) {
	if a.runCancel != nil {
		a.runCancel()
	}

	a.engine.Stop(ctx)
	a.dispatcher.Stop(ctx)
	a.notify.Stop(ctx)
	_ = a.api.Stop(ctx)
	if a.tg != nil {
		_ = a.tg.Stop(ctx)
	}
	a.wg.Wait()

	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	a.log.Info("stopped")
	_ = a.logSvc.Close()
}

func (a *App) restore(ctx context.Context) {
	if tasks, err := a.store.LoadQueue(ctx); err != nil {
		a.log.Warn("queue restore failed", logx.Err(err))
	} else {
		a.tasks.Load(tasks)
	}
	if subs, err := a.store.LoadSubscriptions(ctx); err != nil {
		a.log.Warn("subscription restore failed", logx.Err(err))
	} else {
		a.engine.Load(subs)
	}
}

// applyConfig pushes a hot-reloaded config into the running services.
// Transports and storage keep their boot-time settings; those need a
// restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if limits, err := queueLimits(cfg.Queue); err == nil {
		a.tasks.SetLimits(limits)
		a.mu.Lock()
		a.defaultRetry = limits.RetryDefault
		a.mu.Unlock()
	}
	if dc, err := dispatchConfig(cfg.Dispatch); err == nil {
		a.dispatcher.Apply(dc)
	}
	if mc, err := monitorConfig(cfg.Monitor); err == nil {
		a.engine.Apply(mc)
	}
	if nc, err := notifierConfig(cfg.Notifier); err == nil {
		a.notify.Apply(nc)
	}

	a.mu.Lock()
	a.allowedUsers = allowSet(cfg.Telegram.AllowedUserIDs)
	a.chatID = cfg.Telegram.ChatID
	a.parser = command.NewParser(cfg.Catalog.Datacenters)
	a.mu.Unlock()

	a.log.Info("config applied")
}

// notifyText queues an async operator notification to the default chat.
func (a *App) notifyText(text string) {
	a.mu.Lock()
	chatID := a.chatID
	a.mu.Unlock()
	if chatID == 0 {
		return
	}
	err := a.notify.Notify(context.Background(), transport.Notification{
		Target: transport.Target{ChatID: chatID},
		Text:   text,
	})
	if err != nil {
		a.log.Debug("notification not queued", logx.Err(err))
	}
}

// persistQueue and persistSubscriptions are best-effort write-through hooks.
func (a *App) persistQueue(tasks []queue.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.SaveQueue(ctx, tasks); err != nil {
		a.log.Warn("queue persist failed", logx.Err(err))
	}
}

func (a *App) persistSubscriptions(subs []monitor.Subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.SaveSubscriptions(ctx, subs); err != nil {
		a.log.Warn("subscription persist failed", logx.Err(err))
	}
}

func allowSet(ids []int64) map[int64]struct{} {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}
