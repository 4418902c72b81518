package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relayforge/relay/internal/auditlog"
	"github.com/relayforge/relay/internal/breaker"
	"github.com/relayforge/relay/internal/clock"
	"github.com/relayforge/relay/internal/config"
	"github.com/relayforge/relay/internal/domain"
	"github.com/relayforge/relay/internal/eventbus"
	"github.com/relayforge/relay/internal/executor"
	"github.com/relayforge/relay/internal/gitclient"
	"github.com/relayforge/relay/internal/health"
	"github.com/relayforge/relay/internal/kvstore"
	"github.com/relayforge/relay/internal/lockdir"
	"github.com/relayforge/relay/internal/metrics"
	"github.com/relayforge/relay/internal/orchestrator"
	"github.com/relayforge/relay/internal/provider"
	"github.com/relayforge/relay/internal/reporter"
	"github.com/relayforge/relay/internal/retry"
	"github.com/relayforge/relay/internal/routing"
	"github.com/relayforge/relay/internal/session"
	"github.com/relayforge/relay/internal/telemetry"
	"github.com/relayforge/relay/internal/trackerclient"
	"github.com/relayforge/relay/internal/webhook"
	"github.com/relayforge/relay/internal/worktree"
)

// main wires the webhook ingress: admission, routing, and (absent an
// event bus) the Orchestrator pipeline itself, all behind one HTTP
// server. It follows the teacher's cmd/automata-api lifecycle shape:
// connect dependencies, serve in a goroutine, wait on a signal context,
// shut down with a bounded timeout.
func main() {
	logger := telemetry.SetupLogger("relay-api")
	logger.Info("starting relay-api")

	cfg, err := config.Load(os.Getenv("RELAY_CONFIG_FILE"))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	clk := clock.Real()
	reg := metrics.New()

	st, err := newStores(cfg)
	if err != nil {
		logger.Error("failed to open kv stores", "error", err)
		os.Exit(1)
	}

	breakerMgr, err := breaker.NewManager(st.breaker, clk)
	if err != nil {
		logger.Error("failed to construct circuit breaker", "error", err)
		os.Exit(1)
	}

	healthChecker := health.NewHTTPChecker()
	healthMon, err := health.NewMonitor(st.health, clk, healthChecker, cfg.DomainProviders())
	if err != nil {
		logger.Error("failed to construct health monitor", "error", err)
		os.Exit(1)
	}
	healthMon.Start(context.Background())
	defer healthMon.Stop()

	providerRouter := provider.New(clk, healthChecker, breakerMgr, cfg.DomainProviders())
	registry := newClientRegistry(cfg)

	sessions := session.NewManager(st.sessionsLive, st.sessionsArchive, clk)
	worktrees := worktree.NewManager(gitclient.NewRunner(), clk)
	locks := lockdir.New(clk, orchestrator.DefaultLockTTL)

	routingEngine := routing.New(routing.Config{
		Repositories:        cfg.RoutingRepositories(),
		DefaultProvider:     domain.ProviderType(cfg.DefaultProvider),
		DefaultWorktreeMode: domain.WorktreeMode(cfg.DefaultWorktreeMode),
		AutoExecuteLabels:   cfg.LabelRules.AutoExecute,
		ManualExecuteLabels: cfg.LabelRules.ManualExecute,
	})

	agentExecutor := executor.New(clk, providerRouter, retry.Config{})
	tracker := trackerclient.New(cfg.Tracker.BaseURL, cfg.Tracker.APIKey)
	rep := reporter.New(tracker, logger)
	auditLog := newAuditLog(cfg, logger)

	orch := orchestrator.New(orchestrator.Config{
		Routing:   routingEngine,
		Sessions:  sessions,
		Worktrees: worktrees,
		Router:    providerRouter,
		Registry:  registry,
		Breaker:   breakerMgr,
		Locks:     locks,
		Executor:  agentExecutor,
		Reporter:  rep,
		Audit:     auditLog,
		Metrics:   reg,
		Clock:     clk,
		Logger:    logger,
		DefaultTimeoutMs: int(cfg.Server.DefaultTimeout().Milliseconds()),
	})

	var dispatcher webhook.Dispatcher = orch
	if cfg.EventBus.URL != "" {
		bus, err := eventbus.NewAMQPBus(cfg.EventBus.URL, logger)
		if err != nil {
			logger.Error("failed to connect to event bus, falling back to in-process dispatch", "error", err)
		} else {
			defer bus.Close()
			dispatcher = orchestrator.NewBusDispatcher(bus, "relay", clk, logger)
		}
	}

	handler := webhook.New(webhook.Config{
		Secrets:           cfg.Tracker.Secrets,
		AgentName:         cfg.Tracker.AgentName,
		AutoExecuteLabels: cfg.LabelRules.AutoExecute,
	}, sessions, dispatcher, healthMon, worktrees, logger)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	addr := cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("stopped")
}

type appStores struct {
	sessionsLive    *kvstore.Store
	sessionsArchive *kvstore.Store
	breaker         *kvstore.Store
	health          *kvstore.Store
}

func newStores(cfg config.Config) (appStores, error) {
	base := cfg.Paths.SessionBase
	live, err := kvstore.New(filepath.Join(base, "live"), 0o700)
	if err != nil {
		return appStores{}, err
	}
	archive, err := kvstore.New(filepath.Join(base, "archive"), 0o700)
	if err != nil {
		return appStores{}, err
	}
	breakerStore, err := kvstore.New(filepath.Join(base, "breaker"), 0o700)
	if err != nil {
		return appStores{}, err
	}
	healthStore, err := kvstore.New(filepath.Join(base, "health"), 0o700)
	if err != nil {
		return appStores{}, err
	}
	return appStores{sessionsLive: live, sessionsArchive: archive, breaker: breakerStore, health: healthStore}, nil
}

func newClientRegistry(cfg config.Config) *provider.Registry {
	reg := provider.NewRegistry()
	for _, p := range cfg.DomainProviders() {
		switch p.Type {
		case domain.ProviderAnthropic:
			reg.Register(p.Type, provider.NewAnthropicClient(p.Credential, p.Endpoint, ""))
		default:
			reg.Register(p.Type, provider.NewHTTPClient(p.Endpoint, p.Credential))
		}
	}
	return reg
}

// newAuditLog connects to Postgres only if a DSN is configured; a nil pool
// makes every internal/auditlog.Log method a no-op, so the audit trail is
// purely optional per the Design Notes.
func newAuditLog(cfg config.Config, logger *slog.Logger) *auditlog.Log {
	if cfg.Audit.DBURL == "" {
		return auditlog.New(nil, logger)
	}
	pool, err := pgxpool.New(context.Background(), cfg.Audit.DBURL)
	if err != nil {
		logger.Error("failed to connect to audit database, auditing disabled", "error", err)
		return auditlog.New(nil, logger)
	}
	return auditlog.New(pool, logger)
}
