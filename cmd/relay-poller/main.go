// relay-poller runs the periodic reconciliation cycle described in
// spec.md §4.10: querying the upstream tracker for issues matching the
// configured labels/states and dispatching anything not already live.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relayforge/relay/internal/clock"
	"github.com/relayforge/relay/internal/config"
	"github.com/relayforge/relay/internal/eventbus"
	"github.com/relayforge/relay/internal/kvstore"
	"github.com/relayforge/relay/internal/orchestrator"
	"github.com/relayforge/relay/internal/poller"
	"github.com/relayforge/relay/internal/session"
	"github.com/relayforge/relay/internal/telemetry"
	"github.com/relayforge/relay/internal/trackerclient"
)

// pollerLeaderLockKey is an arbitrary application-chosen key for the
// Postgres advisory lock that elects a single active poller when more
// than one replica is running against the same audit database, the same
// leader-election shape cmd/automata-scheduler used for its own
// single-leader tick loop.
const pollerLeaderLockKey int64 = 424242

func main() {
	logger := telemetry.SetupLogger("relay-poller")
	logger.Info("starting relay-poller")

	cfg, err := config.Load(os.Getenv("RELAY_CONFIG_FILE"))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	clk := clock.Real()
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
	sessions := session.NewManager(sessionsLive, sessionsArchive, clk)

	tracker := trackerclient.New(cfg.Tracker.BaseURL, cfg.Tracker.APIKey)

	var dispatcher poller.Dispatcher
	var bus *eventbus.AMQPBus
	if cfg.EventBus.URL != "" {
		bus, err = eventbus.NewAMQPBus(cfg.EventBus.URL, logger)
		if err != nil {
			logger.Error("failed to connect to event bus", "error", err)
			os.Exit(1)
		}
		defer bus.Close()
		dispatcher = orchestrator.NewBusDispatcher(bus, "relay", clk, logger)
	} else {
		logger.Error("relay-poller requires eventBus.url (RABBITMQ_URL); it does not run the execution pipeline in-process")
		os.Exit(1)
	}

	p := poller.New(poller.Config{
		Interval:    cfg.Poller.Interval(),
		MaxInterval: cfg.Poller.MaxInterval(),
		States:      cfg.Poller.States,
		Concurrency: cfg.Poller.Concurrency,
		CronExpr:    cfg.Poller.CronExpr,
		Labels:      cfg.LabelRules.AutoExecute,
	}, tracker, sessions, dispatcher, clk, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Audit.DBURL != "" {
		pool, err := pgxpool.New(ctx, cfg.Audit.DBURL)
		if err != nil {
			logger.Warn("failed to connect for leader election, running as sole instance", "error", err)
		} else {
			defer pool.Close()
			if !waitForLeadership(ctx, pool, logger) {
				logger.Info("shut down before acquiring poller leader lock")
				return
			}
		}
	}

	go p.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := ":8081"
	if v := os.Getenv("POLLER_PORT"); v != "" {
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
	logger.Info("relay-poller stopped")
}

// waitForLeadership blocks until this process holds the shared advisory
// lock or ctx is canceled, returning false in the latter case.
// pg_try_advisory_lock is session-scoped: releasing conn back to the pool
// would drop the lock, so the acquired connection is held for the
// lifetime of the process and deliberately never released.
func waitForLeadership(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) bool {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		logger.Error("failed to acquire db connection for leader election", "error", err)
		return false
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		var ok bool
		if err := conn.QueryRow(ctx, "select pg_try_advisory_lock($1)", pollerLeaderLockKey).Scan(&ok); err != nil {
			logger.Error("leader election query failed", "error", err)
		}
		if ok {
			logger.Info("acquired poller leader lock")
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
