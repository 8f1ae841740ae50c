package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"streamhive-server-go/internal/domain/embed/cache"
	"streamhive-server-go/internal/domain/embed/fetch"
	"streamhive-server-go/internal/domain/embed/ratelimit"
	"streamhive-server-go/internal/domain/embed/sanitize"
	"streamhive-server-go/internal/domain/embed/validate"
	"streamhive-server-go/internal/domain/eventbus"
	"streamhive-server-go/internal/domain/rules"
	platformconfig "streamhive-server-go/internal/platform/config"
	platformerrors "streamhive-server-go/internal/platform/errors"
	platformlogging "streamhive-server-go/internal/platform/logging"
	platformobservability "streamhive-server-go/internal/platform/observability"
	platformstorage "streamhive-server-go/internal/platform/storage"
	httptransport "streamhive-server-go/internal/transport/http"
	httpembedproxy "streamhive-server-go/internal/transport/http/embedproxy"
	httprulesapi "streamhive-server-go/internal/transport/http/rulesapi"
)

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	config                *platformconfig.Config
	configPath            string
	logger                *platformlogging.Logger
	slogger               *slog.Logger
	observabilityShutdown platformobservability.ShutdownFunc
	rulesService          *rules.Service

	clientLimiter ratelimit.Store
	targetLimiter ratelimit.Store
	cacheStore    cache.Store
	fetcher       *fetch.Fetcher
	sanitizer     *sanitize.Sanitizer
	validator     *validate.Validator
}

// Run drives the whole service lifecycle: configuration, dependency
// initialisation, HTTP serving and graceful shutdown.
func Run(ctx context.Context) error {
	state := &appState{}

	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		return err
	}

	config := state.config
	logger := state.logger
	if config == nil || logger == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"config/logger not initialised",
		)
	}

	logBootstrapGraph(steps, logger)

	if shutdown := state.observabilityShutdown; shutdown != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.WarnTag("BOOT", "observability shutdown failed: %v", err)
			}
		}()
	}

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if state.clientLimiter != nil {
			state.clientLimiter.Close(closeCtx)
		}
		if state.targetLimiter != nil {
			state.targetLimiter.Close(closeCtx)
		}
		if state.cacheStore != nil {
			state.cacheStore.Close(closeCtx)
		}
		eventbus.Shutdown()
	}()

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	if state.rulesService != nil && config.Proxy.Rules.OverlayFile != "" {
		rulesService := state.rulesService
		group.Go(func() error {
			if err := rulesService.Watch(groupCtx); err != nil {
				logger.ErrorTag("RULES", "overlay watcher stopped: %v", err)
			}
			return nil
		})
	}

	if _, err := startHTTPServer(state, group, groupCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := waitForShutdown(signalCtx, cancel, logger, group); err != nil {
		return err
	}

	logger.InfoTag("BOOT", "service stopped cleanly")
	logger.Close()
	return nil
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	if logger == nil {
		return
	}
	logger.InfoTag("BOOT", "initialisation order")
	for _, step := range steps {
		logger.InfoTag("BOOT", step.Title)
	}
	logger.InfoTag("BOOT", "starting services")
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

// InitGraph declares the ordered initialisation steps and their
// dependencies.
func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "observability:setup-hooks",
			Title:     "Setup observability hooks",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "storage:init-database",
			Title:     "Initialise database",
			DependsOn: []string{"config:load", "logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   initDatabaseStep,
		},
		{
			ID:        "rules:init-service",
			Title:     "Initialise rules service",
			DependsOn: []string{"storage:init-database", "logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initRulesStep,
		},
		{
			ID:        "proxy:init-stages",
			Title:     "Initialise proxy pipeline stages",
			DependsOn: []string{"rules:init-service"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initProxyStagesStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	result, err := platformconfig.NewLoader().WithDotEnv(true).Load()
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "config:load", "failed to load configuration", err)
	}
	state.config = result.Config
	state.configPath = result.Path
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state == nil || state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"logging:init-provider",
			"config not loaded",
		)
	}

	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialize logging provider", err)
	}

	state.logger = logger
	state.slogger = logger.Slog()
	platformlogging.DefaultLogger = logger

	logger.InfoTag("BOOT", "logging ready [%s] %s", state.config.Log.Level, state.configPath)

	eventbus.SetupEventHandlers(logger)
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	if state == nil || state.logger == nil || state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"observability:setup-hooks",
			"config/logger not initialised",
		)
	}

	cfg := platformobservability.Config{
		Enabled: state.config.Observability.Enabled,
	}

	shutdown, err := platformobservability.Setup(ctx, cfg, state.slogger)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "observability:setup-hooks", "failed to setup observability hooks", err)
	}
	state.observabilityShutdown = shutdown
	return nil
}

func initDatabaseStep(_ context.Context, state *appState) error {
	dbPath := filepath.Join(state.config.Storage.DataDir, "streamhive.db")
	if err := platformstorage.InitDatabase(dbPath); err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "storage:init-database", "failed to initialize database", err)
	}
	return nil
}

func initRulesStep(ctx context.Context, state *appState) error {
	if state == nil || state.config == nil || state.logger == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"rules:init-service",
			"missing config/logger",
		)
	}

	repo := platformstorage.NewRulesRepository(platformstorage.GetDB())
	if err := repo.SeedDefaults(ctx, nil, nil); err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "rules:init-service", "failed to seed default rules", err)
	}

	svc := rules.NewService(repo, state.logger, rules.Config{
		ExtraPatterns: state.config.Proxy.Validator.BlockedPatterns,
		ExtraTokens:   state.config.Proxy.Sanitizer.Tokens,
		OverlayFile:   state.config.Proxy.Rules.OverlayFile,
	})
	if err := svc.Reload(ctx, "seed"); err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "rules:init-service", "failed to load rule set", err)
	}

	state.rulesService = svc
	return nil
}

func initProxyStagesStep(_ context.Context, state *appState) error {
	if state == nil || state.config == nil || state.rulesService == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"proxy:init-stages",
			"missing config/rules service",
		)
	}
	cfg := state.config

	clientLimiter, err := ratelimit.New(limiterConfig(cfg.Proxy.ClientRateLimit, "ratelimit:client:"))
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindRateLimit, "proxy:init-stages", "failed to create client limiter", err)
	}
	targetLimiter, err := ratelimit.New(limiterConfig(cfg.Proxy.TargetRateLimit, "ratelimit:target:"))
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindRateLimit, "proxy:init-stages", "failed to create target limiter", err)
	}

	cacheStore, err := cache.New(cacheConfig(cfg.Proxy.Cache))
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindCache, "proxy:init-stages", "failed to create response cache", err)
	}

	state.clientLimiter = clientLimiter
	state.targetLimiter = targetLimiter
	state.cacheStore = cacheStore
	state.fetcher = fetch.New(fetch.Config{
		Timeout:      cfg.Proxy.Fetch.Timeout.Std(),
		MaxRedirects: cfg.Proxy.Fetch.MaxRedirects,
		MaxBodyBytes: cfg.Proxy.Fetch.MaxBodySize,
		UserAgent:    cfg.Proxy.Fetch.UserAgent,
	})
	state.sanitizer = sanitize.New(sanitize.Options{
		Tokens: state.rulesService,
		CSP:    cfg.Proxy.Sanitizer.CSP,
	})
	state.validator = validate.New(state.rulesService)
	return nil
}

func limiterConfig(rc platformconfig.RateLimitConfig, prefix string) ratelimit.Config {
	out := ratelimit.Config{
		Driver: rc.Driver,
		Window: rc.Window.Std(),
		Limit:  rc.Limit,
		Prefix: prefix,
	}
	if rc.Redis != nil {
		out.Redis = &ratelimit.RedisConfig{
			Addr:     rc.Redis.Addr,
			Username: rc.Redis.Username,
			Password: rc.Redis.Password,
			DB:       rc.Redis.DB,
		}
	}
	if rc.Memory != nil {
		out.Memory = &ratelimit.MemoryConfig{GCInterval: rc.Memory.GCInterval.Std()}
	}
	return out
}

func cacheConfig(cc platformconfig.CacheConfig) cache.Config {
	out := cache.Config{
		Driver: cc.Driver,
		TTL:    cc.TTL.Std(),
	}
	if cc.Redis != nil {
		out.Redis = &cache.RedisConfig{
			Addr:     cc.Redis.Addr,
			Username: cc.Redis.Username,
			Password: cc.Redis.Password,
			DB:       cc.Redis.DB,
		}
		out.Prefix = cc.Redis.Prefix
	}
	if cc.Memory != nil {
		out.Memory = &cache.MemoryConfig{GCInterval: cc.Memory.GCInterval.Std()}
	}
	return out
}

func startHTTPServer(state *appState, g *errgroup.Group, groupCtx context.Context) (*http.Server, error) {
	config := state.config
	logger := state.logger

	httpRouter, err := httptransport.Build(httptransport.Options{
		Config:     config,
		Logger:     logger,
		StaticRoot: config.Web.StaticDir,
	})
	if err != nil {
		return nil, err
	}

	proxyService, err := httpembedproxy.NewService(config, logger, httpembedproxy.Deps{
		Validator:     state.validator,
		ClientLimiter: state.clientLimiter,
		TargetLimiter: state.targetLimiter,
		Cache:         state.cacheStore,
		Fetcher:       state.fetcher,
		Sanitizer:     state.sanitizer,
	})
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindTransport, "embedproxy:new-service", "failed to create embed proxy service", err)
	}

	rulesService, err := httprulesapi.NewService(config, logger, state.rulesService)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindTransport, "rulesapi:new-service", "failed to create rules service", err)
	}

	if err := proxyService.Register(groupCtx, httpRouter.API); err != nil {
		return nil, err
	}
	if err := rulesService.Register(groupCtx, httpRouter.API); err != nil {
		return nil, err
	}

	httpServer := &http.Server{
		Addr:    config.Server.IP + ":" + strconv.Itoa(config.Server.Port),
		Handler: httpRouter.Engine,
	}

	g.Go(func() error {
		logger.InfoTag("HTTP", "server listening on http://%s:%d", config.Server.IP, config.Server.Port)
		logger.InfoTag("HTTP", "embed proxy entry: http://localhost:%d/api/proxy/embed", config.Server.Port)

		go func() {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "HTTP server shutdown failed: %v", err)
			} else {
				logger.InfoTag("HTTP", "HTTP server stopped gracefully")
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "HTTP server failed: %v", err)
			return err
		}
		return nil
	})

	return httpServer, nil
}

func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *platformlogging.Logger,
	g *errgroup.Group,
) error {
	<-ctx.Done()
	logger.InfoTag("BOOT", "shutdown signal received, cleaning up")

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("BOOT", "error during shutdown: %v", err)
			return err
		}
		logger.InfoTag("BOOT", "all services stopped")
	case <-time.After(15 * time.Second):
		timeoutErr := errors.New("shutdown deadline exceeded")
		logger.ErrorTag("BOOT", "shutdown timed out, forcing exit")
		return timeoutErr
	}
	return nil
}
