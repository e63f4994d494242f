// Package app wires the credential pool, provider registry, model router,
// dispatcher and retry loop into a running HTTP server, following the
// teacher's config -> services -> route registry -> server bootstrap shape.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/docker/go-units"

	"github.com/driftwell/relay/internal/adapter/dispatcher"
	"github.com/driftwell/relay/internal/adapter/failedstore"
	"github.com/driftwell/relay/internal/adapter/modelrouter"
	"github.com/driftwell/relay/internal/adapter/pool"
	"github.com/driftwell/relay/internal/adapter/providerreg"
	"github.com/driftwell/relay/internal/adapter/retryloop"
	"github.com/driftwell/relay/internal/adapter/security"
	"github.com/driftwell/relay/internal/adapter/stats"
	"github.com/driftwell/relay/internal/adapter/tracestore"
	"github.com/driftwell/relay/internal/app/middleware"
	"github.com/driftwell/relay/internal/config"
	"github.com/driftwell/relay/internal/core/ports"
	"github.com/driftwell/relay/internal/logger"
	"github.com/driftwell/relay/internal/router"
	"github.com/driftwell/relay/pkg/container"
)

// Application holds every wired dependency and the HTTP server built on
// top of them.
type Application struct {
	cfg       *config.Config
	log       *logger.StyledLogger
	server    *http.Server
	registry  *router.RouteRegistry
	errCh     chan error
	startTime time.Time

	providers   ports.ProviderRegistry
	credPool    ports.CredentialPool
	poolImpl    *pool.Pool
	modelRouter ports.ModelRouter
	dispatcher  *dispatcher.Dispatcher
	retryLoop   *retryloop.Loop
	traces      ports.TraceStore
	failedStore *failedstore.Store
	aggregator  *stats.Aggregator
	security    *security.Adapters

	stopFailedStore  context.CancelFunc
	stopHealthScan   context.CancelFunc
	stopEventLogger  context.CancelFunc
}

// New loads configuration and wires every component. startTime is kept for
// the uptime reported by the health handler.
func New(startTime time.Time, log *logger.StyledLogger) (*Application, error) {
	a := &Application{
		log:       log,
		errCh:     make(chan error, 1),
		startTime: startTime,
		registry:  router.NewRouteRegistry(*log),
	}

	cfg, err := config.Load(a.onConfigChange)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	a.cfg = cfg

	providers, err := providerreg.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("building provider registry: %w", err)
	}
	a.providers = providers
	for name := range cfg.Providers {
		log.InfoWithEndpoint("provider configured", name)
	}

	credPool := pool.New(cfg.Pool, *log)
	if cfg.Credentials.KeyFile != "" {
		if err := credPool.ReloadKeys(cfg.Credentials.KeyFile); err != nil {
			return nil, fmt.Errorf("loading credentials: %w", err)
		}
	}
	a.credPool = credPool
	a.poolImpl = credPool

	a.modelRouter = modelrouter.New(cfg.ModelRouting)
	a.dispatcher = dispatcher.New()
	a.retryLoop = retryloop.New(a.credPool, a.dispatcher, cfg.Retry.MaxRetries, *log, cfg.DefaultProviderName)
	a.traces = tracestore.New(1000)
	a.aggregator = stats.NewAggregator(200)

	fsCfg := failedstore.DefaultConfig()
	a.failedStore = failedstore.New(fsCfg, a.replay, *log)

	securityStats := security.NewStatsRecorder()
	_, a.security = security.NewSecurityServices(cfg, securityStats, log)

	a.server = &http.Server{
		Addr:         cfg.Server.GetAddress(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Server.RequestLimits.MaxBodySize > 0 {
		log.Info("request size limit enabled", "max_body_size", units.HumanSize(float64(cfg.Server.RequestLimits.MaxBodySize)))
	}

	log.Info("runtime environment detected", "containerised", container.IsContainerised())

	return a, nil
}

// onConfigChange is invoked by viper's file watcher (internal/config.Load)
// after a debounced change; the credential pool reloads its key file so a
// key rotation never requires a restart.
func (a *Application) onConfigChange() {
	if a.cfg.Credentials.KeyFile == "" {
		return
	}
	if err := a.credPool.ReloadKeys(a.cfg.Credentials.KeyFile); err != nil {
		a.log.Error("failed to reload credentials on config change", "error", err)
	}
}

// logCredentialEvents subscribes to the pool's breaker-transition event
// bus and logs each one as it arrives, pushed rather than read back out of
// a snapshot poll.
func (a *Application) logCredentialEvents(ctx context.Context) {
	events, _ := a.poolImpl.Events().Subscribe(ctx)
	go func() {
		for ev := range events {
			a.log.InfoWithEndpoint("credential breaker transition", ev.KeyID, "provider", ev.Provider, "from", ev.FromState, "to", ev.ToState)
		}
	}()
}

func (a *Application) Start(ctx context.Context) error {
	fsCtx, cancel := context.WithCancel(ctx)
	a.stopFailedStore = cancel
	a.failedStore.Start(fsCtx)

	scanCtx, cancelScan := context.WithCancel(ctx)
	a.stopHealthScan = cancelScan
	a.poolImpl.StartHealthScan(scanCtx)

	eventCtx, cancelEvents := context.WithCancel(ctx)
	a.stopEventLogger = cancelEvents
	a.logCredentialEvents(eventCtx)

	a.registerRoutes()
	mux := http.NewServeMux()
	a.registry.WireUp(mux)

	var handler http.Handler = mux
	handler = middleware.AccessLoggingMiddleware(*a.log)(handler)
	handler = middleware.EnhancedLoggingMiddleware(*a.log)(handler)
	handler = a.security.CreateChainMiddleware()(handler)
	a.server.Handler = handler

	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("HTTP server error", "error", err)
			a.errCh <- err
		}
	}()

	go func() {
		select {
		case err := <-a.errCh:
			a.log.Error("server startup error", "error", err)
		case <-ctx.Done():
			return
		}
	}()

	a.log.Info("relay started", "bind", a.server.Addr, "providers", len(a.cfg.Providers), "credentials", a.credPool.Len())
	return nil
}

func (a *Application) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.stopFailedStore != nil {
		a.stopFailedStore()
	}
	if a.stopHealthScan != nil {
		a.stopHealthScan()
	}
	if a.stopEventLogger != nil {
		a.stopEventLogger()
	}
	a.failedStore.Stop()
	a.security.Stop()
	a.poolImpl.Close()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	return nil
}

func (a *Application) registerRoutes() {
	a.registry.RegisterWithMethod("/internal/health", a.handleHealth, "liveness check", "GET")
	a.registry.RegisterWithMethod("/internal/stats", a.handleStats, "pool and model stats", "GET")
	a.registry.RegisterWithMethod("/internal/traces", a.handleTraces, "recent request traces", "GET")
	a.registry.RegisterWithMethod("/internal/failed", a.handleFailedList, "stored failed requests", "GET")
	a.registry.RegisterWithMethod("/internal/failed/replay", a.handleFailedReplay, "replay a stored failed request", "POST")
	a.registry.RegisterProxyRoute("/v1/", a.handleProxy, "LLM API proxy endpoint", "POST")
	a.registry.RegisterProxyRoute("/proxy/", a.handleProxy, "LLM API proxy endpoint (mirror)", "POST")
}
