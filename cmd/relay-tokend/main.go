// relay-tokend runs the OAuth token refresh daemon described in
// spec.md §4.11 as its own process: one token cache per provider,
// refreshed proactively ahead of expiry.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relayforge/relay/internal/clock"
	"github.com/relayforge/relay/internal/config"
	"github.com/relayforge/relay/internal/domain"
	"github.com/relayforge/relay/internal/kvstore"
	"github.com/relayforge/relay/internal/telemetry"
	"github.com/relayforge/relay/internal/tokenmgr"
)

func main() {
	logger := telemetry.SetupLogger("relay-tokend")
	logger.Info("starting relay-tokend")

	cfg, err := config.Load(os.Getenv("RELAY_CONFIG_FILE"))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	store, err := kvstore.New(filepath.Join(cfg.Paths.SessionBase, "oauth"), 0o700, kvstore.WithFilePerm(0o600))
	if err != nil {
		logger.Error("failed to open oauth token store", "error", err)
		os.Exit(1)
	}

	var oauthConfigs []tokenmgr.ProviderOAuthConfig
	for providerName, c := range cfg.OAuthClients {
		oauthConfigs = append(oauthConfigs, tokenmgr.ProviderOAuthConfig{
			Provider:     domain.ProviderType(providerName),
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			TokenURL:     c.TokenURL,
			Scopes:       c.Scopes,
		})
	}
	refresher := tokenmgr.NewClientCredentialsRefresher(oauthConfigs)

	clk := clock.Real()
	mgr := tokenmgr.New(store, clk, refresher, logger)
	for _, p := range cfg.DomainProviders() {
		if err := mgr.Load(p.Type); err != nil {
			logger.Warn("failed to load cached oauth token", "provider", p.Type, "error", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mgr.Start(ctx)
	defer mgr.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := ":8084"
	if v := os.Getenv("TOKEND_PORT"); v != "" {
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
	logger.Info("relay-tokend stopped")
}
