// relay-orchestrator runs the processIssue pipeline as its own process,
// consuming issues from the event bus instead of running them inline
// behind the webhook ingress. It exists for deployments where the ingress
// and the agent-execution tier scale independently.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

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
	"github.com/relayforge/relay/internal/worktree"
)

func main() {
	logger := telemetry.SetupLogger("relay-orchestrator")
	logger.Info("starting relay-orchestrator")

	cfg, err := config.Load(os.Getenv("RELAY_CONFIG_FILE"))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.EventBus.URL == "" {
		logger.Error("relay-orchestrator requires eventBus.url (RABBITMQ_URL); the in-process bus has no cross-process consumer")
		os.Exit(1)
	}

	clk := clock.Real()
	reg := metrics.New()

	base := cfg.Paths.SessionBase
	sessionsLive, err := kvstore.New(filepath.Join(base, "live"), 0o700)
	if err != nil {
		logger.Error("failed to open session store", "error", err)
		os.Exit(1)
	}
	sessionsArchive, err := kvstore.New(filepath.Join(base, "archive"), 0o700)
	if err != nil {
		logger.Error("failed to open session archive store", "error", err)
		os.Exit(1)
	}
	breakerStore, err := kvstore.New(filepath.Join(base, "breaker"), 0o700)
	if err != nil {
		logger.Error("failed to open breaker store", "error", err)
		os.Exit(1)
	}
	healthStore, err := kvstore.New(filepath.Join(base, "health"), 0o700)
	if err != nil {
		logger.Error("failed to open health store", "error", err)
		os.Exit(1)
	}

	breakerMgr, err := breaker.NewManager(breakerStore, clk)
	if err != nil {
		logger.Error("failed to construct circuit breaker", "error", err)
		os.Exit(1)
	}

	healthChecker := health.NewHTTPChecker()
	healthMon, err := health.NewMonitor(healthStore, clk, healthChecker, cfg.DomainProviders())
	if err != nil {
		logger.Error("failed to construct health monitor", "error", err)
		os.Exit(1)
	}
	healthMon.Start(context.Background())
	defer healthMon.Stop()

	providerRouter := provider.New(clk, healthChecker, breakerMgr, cfg.DomainProviders())
	registry := provider.NewRegistry()
	for _, p := range cfg.DomainProviders() {
		if p.Type == domain.ProviderAnthropic {
			registry.Register(p.Type, provider.NewAnthropicClient(p.Credential, p.Endpoint, ""))
		} else {
			registry.Register(p.Type, provider.NewHTTPClient(p.Endpoint, p.Credential))
		}
	}

	sessions := session.NewManager(sessionsLive, sessionsArchive, clk)
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
		Routing:          routingEngine,
		Sessions:         sessions,
		Worktrees:        worktrees,
		Router:           providerRouter,
		Registry:         registry,
		Breaker:          breakerMgr,
		Locks:            locks,
		Executor:         agentExecutor,
		Reporter:         rep,
		Audit:            auditLog,
		Metrics:          reg,
		Clock:            clk,
		Logger:           logger,
		DefaultTimeoutMs: int(cfg.Server.DefaultTimeout().Milliseconds()),
	})

	bus, err := eventbus.NewAMQPBus(cfg.EventBus.URL, logger)
	if err != nil {
		logger.Error("failed to connect to event bus", "error", err)
		os.Exit(1)
	}
	defer bus.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		logger.Info("consuming issue events")
		if err := orch.Consume(ctx, bus); err != nil && ctx.Err() == nil {
			logger.Error("event bus consume loop exited", "error", err)
			cancel()
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := ":8083"
	if v := os.Getenv("ORCH_PORT"); v != "" {
		addr = ":" + v
	}
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	_ = server.Close()
	logger.Info("relay-orchestrator stopped")
}

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
