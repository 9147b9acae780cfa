package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/toposync/internal/config"
	"github.com/MrSnakeDoc/toposync/internal/fetch"
	"github.com/MrSnakeDoc/toposync/internal/httpserver"
	"github.com/MrSnakeDoc/toposync/internal/httpserver/deps"
	"github.com/MrSnakeDoc/toposync/internal/logger"
	"github.com/MrSnakeDoc/toposync/internal/metrics"
	"github.com/MrSnakeDoc/toposync/internal/notify"
	"github.com/MrSnakeDoc/toposync/internal/reconcile"
	"github.com/MrSnakeDoc/toposync/internal/redis"
	"github.com/MrSnakeDoc/toposync/internal/scheduler"
	"github.com/MrSnakeDoc/toposync/internal/store"
	"github.com/MrSnakeDoc/toposync/internal/store/memory"
	redisstore "github.com/MrSnakeDoc/toposync/internal/store/redis"
	"github.com/MrSnakeDoc/toposync/internal/trust"
	"github.com/MrSnakeDoc/toposync/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	redisClient *goredis.Client
	store       store.Store
	metrics     *metrics.Metrics
	reconciler  *reconcile.Reconciler
	sweeper     *scheduler.SweepScheduler
	catalog     *scheduler.CatalogReloader
	server      *httpserver.Server
}

// New wires every component from cfg. It connects to redis when the store
// or the notifier needs it, and fails fast if redis stays unavailable.
func New(ctx context.Context, cfg *config.Config, loggerClient logger.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: loggerClient}

	if cfg.NeedsRedis() {
		client, err := redis.Connect(ctx, redis.ConnectOptions{
			Addr:           cfg.RedisAddr,
			User:           cfg.RedisUser,
			Password:       cfg.RedisPassword,
			RedisDB:        cfg.RedisDB,
			DialTimeout:    cfg.RedisDT,
			ReadTimeout:    cfg.RedisRT,
			WriteTimeout:   cfg.RedisWT,
			PoolSize:       cfg.RedisPoolSize,
			ConnectTimeout: cfg.RedisConnectTimeout,
			RetryInterval:  cfg.RedisRetryInterval,
			MaxWait:        cfg.RedisMaxWait,
			PingTimeout:    cfg.RedisPingTimeout,
			WarnThreshold:  cfg.RedisWarnThreshold,
		}, loggerClient)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.redisClient = client
		loggerClient.Info("Redis initialized successfully")
	}

	switch cfg.Store {
	case "memory":
		loggerClient.Warn("using in-memory store, nothing survives a restart")
		a.store = memory.New()
	default:
		a.store = redisstore.NewStore(a.redisClient)
	}

	notifier, err := a.newNotifier()
	if err != nil {
		a.closeRedis()
		return nil, err
	}

	var validatorOpts []trust.Option
	if !cfg.SystemRoots {
		validatorOpts = append(validatorOpts, trust.WithSystemRoots(nil))
	}
	validator := trust.NewValidator(loggerClient.With(logger.String("component", "trust")), validatorOpts...)

	materials, err := trust.NewMaterialCache(cfg.MaterialCacheSize)
	if err != nil {
		a.closeRedis()
		return nil, err
	}

	fetcher := fetch.New(
		fetch.NewTransport(cfg.FetchTimeout),
		validator,
		materials,
		loggerClient.With(logger.String("component", "fetch")),
		fetch.Options{Timeout: cfg.FetchTimeout, MaxBodyBytes: cfg.MaxBodyBytes},
	)

	a.metrics = metrics.New()
	a.metrics.GaugeFunc("pending_connection_tokens", "Trust anchors registered and not yet consumed.",
		func() float64 { return float64(validator.Pending()) })
	a.metrics.GaugeFunc("client_credentials_cached", "Parsed client credentials held in memory.",
		func() float64 { return float64(materials.Len()) })

	a.reconciler = reconcile.New(a.store, fetcher, validator, notifier,
		loggerClient.With(logger.String("component", "reconcile")),
		reconcile.Options{
			Workers: cfg.Workers,
			Topic:   cfg.NotifyTopic,
			Metrics: a.metrics,
		})

	a.sweeper = scheduler.NewSweepScheduler(a.reconciler, loggerClient, nil, a.metrics, cfg.SweepInterval, nil)

	if cfg.CatalogFile != "" {
		loggerClient.Info("catalog file configured, initializing catalog reloader",
			logger.String("file", cfg.CatalogFile))
		a.catalog = scheduler.NewCatalogReloader(cfg.CatalogFile, a.store, loggerClient, func() {
			if !a.sweeper.Trigger() {
				loggerClient.Debug("sweep already queued, catalog change will be picked up")
			}
		})
	} else {
		loggerClient.Info("catalog file not configured, endpoints are managed in the store directly")
	}

	d := deps.Deps{
		Logger:       loggerClient,
		StartTime:    time.Now(),
		Version:      version.Version,
		Commit:       version.Commit,
		BuildDate:    version.BuildDate,
		GoVersion:    version.GoVersion,
		TimeNow:      time.Now,
		AllowedHosts: cfg.AllowedHosts,
		AllowedCIDRS: cfg.AllowedCIDRS,
		TrustProxy:   cfg.TrustProxy,
		Store:        a.store,
		Scheduler:    a.sweeper,
		Metrics:      a.metrics,
		CatalogFile:  cfg.CatalogFile,
	}
	a.server = httpserver.New(cfg.ListenPort, loggerClient, d)

	return a, nil
}

func (a *App) newNotifier() (notify.Notifier, error) {
	mode, err := notify.ParseMode(a.cfg.NotifyMode)
	if err != nil {
		return nil, err
	}
	switch mode {
	case notify.ModeRedis:
		return notify.NewRedis(a.redisClient), nil
	case notify.ModeWebhook:
		return notify.NewWebhook(a.cfg.NotifyURL, &http.Client{Timeout: a.cfg.FetchTimeout})
	default:
		return notify.NewLog(a.logger), nil
	}
}

// Run starts the catalog watcher, the scheduler and the admin server, and
// blocks until SIGINT/SIGTERM or a server failure.
func (a *App) Run() error {
	a.logger.Infof("🚀 Starting toposync v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Infof("toposync %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Import the catalog before the startup sweep so it sees every endpoint.
	if a.catalog != nil {
		if err := a.catalog.Start(ctx); err != nil {
			a.closeRedis()
			return fmt.Errorf("failed to start catalog reloader: %w", err)
		}
	}

	a.sweeper.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case runErr = <-errCh:
	}

	if a.catalog != nil {
		a.catalog.Stop()
	}

	// Waits for an in-flight sweep to finish its commits.
	a.sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to stop server: %w", err)
	}

	a.closeRedis()

	if runErr == nil {
		a.logger.Info("✅ toposync stopped cleanly")
	}
	return runErr
}

// SweepOnce imports the catalog if one is configured, runs a single sweep
// and returns its report. It backs the one-shot sweep command. Cancelling
// ctx aborts the catalog import but not a sweep that has started: its
// commits run to completion.
func (a *App) SweepOnce(ctx context.Context) (*reconcile.Report, error) {
	defer a.closeRedis()

	if a.catalog != nil {
		n, err := a.catalog.Reload(ctx)
		if err != nil {
			return nil, fmt.Errorf("catalog import failed: %w", err)
		}
		a.logger.Info("catalog imported", logger.Int("endpoints", n))
	}
	return a.reconciler.Sweep(context.WithoutCancel(ctx))
}

func (a *App) closeRedis() {
	if a.redisClient == nil {
		return
	}
	if err := a.redisClient.Close(); err != nil {
		a.logger.Warnf("failed to close redis: %v", err)
	} else {
		a.logger.Info("✅ Redis closed cleanly")
	}
	a.redisClient = nil
}
