// Package tokenmgr implements the OAuth token manager: an access/refresh
// token cache with a background refresh daemon, as described in
// spec.md §4.11. The refresh cycle's ticker/Start/Stop shape generalizes
// the teacher's pollLoop pattern from internal/orchestrator/orchestrator.go;
// the token representation and refresh call use golang.org/x/oauth2.
package tokenmgr

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/relayforge/relay/internal/clock"
	"github.com/relayforge/relay/internal/domain"
	"github.com/relayforge/relay/internal/errs"
	"github.com/relayforge/relay/internal/kvstore"
)

const (
	tickInterval   = 60 * time.Second
	refreshWindow  = 300 * time.Second
)

// Refresher performs the actual network refresh call for one provider; it
// is the seam tests stub and production wires to a real oauth2.Config.
type Refresher interface {
	Refresh(ctx context.Context, provider domain.ProviderType, current *oauth2.Token) (*oauth2.Token, error)
}

// Manager caches one OAuth token per provider and refreshes it
// proactively, before actual expiry, via a background daemon.
type Manager struct {
	store     *kvstore.Store
	clk       clock.Clock
	refresher Refresher
	logger    *slog.Logger

	mu     sync.RWMutex
	tokens map[domain.ProviderType]domain.OAuthToken

	ticker clock.Ticker
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Manager. store must be rooted at a directory created
// with 0700 permissions holding 0600 files, per spec.md §6.
func New(store *kvstore.Store, clk clock.Clock, refresher Refresher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:     store,
		clk:       clk,
		refresher: refresher,
		logger:    logger,
		tokens:    make(map[domain.ProviderType]domain.OAuthToken),
	}
}

// Load hydrates the in-memory cache for provider from disk, if present.
func (m *Manager) Load(provider domain.ProviderType) error {
	var tok domain.OAuthToken
	err := m.store.Get(string(provider), &tok)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return nil
		}
		return err
	}
	m.mu.Lock()
	m.tokens[provider] = tok
	m.mu.Unlock()
	return nil
}

// Get returns the cached token for provider, if any.
func (m *Manager) Get(provider domain.ProviderType) (domain.OAuthToken, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tok, ok := m.tokens[provider]
	return tok, ok
}

// Start runs the refresh daemon: every tick, any cached token within
// refreshWindow of expiry is refreshed and persisted atomically.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.ticker = m.clk.NewTicker(tickInterval)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.ticker.C():
				m.tick(ctx)
			}
		}
	}()
}

// Stop halts the daemon and clears the in-memory cache, per spec.md
// §4.11's cleanup() contract.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.ticker != nil {
		m.ticker.Stop()
	}
	m.wg.Wait()

	m.mu.Lock()
	m.tokens = make(map[domain.ProviderType]domain.OAuthToken)
	m.mu.Unlock()
}

func (m *Manager) tick(ctx context.Context) {
	m.mu.RLock()
	due := make([]domain.ProviderType, 0, len(m.tokens))
	now := m.clk.Now()
	for p, tok := range m.tokens {
		if tok.Expiry.Sub(now) <= refreshWindow {
			due = append(due, p)
		}
	}
	m.mu.RUnlock()

	for _, provider := range due {
		if err := m.refresh(ctx, provider); err != nil {
			m.logger.Error("token refresh failed, retaining existing token",
				"provider", provider, "error", err)
		}
	}
}

func (m *Manager) refresh(ctx context.Context, provider domain.ProviderType) error {
	m.mu.RLock()
	current := m.tokens[provider]
	m.mu.RUnlock()

	oauthCurrent := &oauth2.Token{
		AccessToken:  current.Access,
		RefreshToken: current.Refresh,
		Expiry:       current.Expiry,
	}

	fresh, err := m.refresher.Refresh(ctx, provider, oauthCurrent)
	if err != nil {
		return errs.New(errs.ProviderUnavailable, "refresh oauth token", true, err)
	}

	now := m.clk.Now()
	updated := domain.OAuthToken{
		Provider:      provider,
		Access:        fresh.AccessToken,
		Refresh:       fresh.RefreshToken,
		Expiry:        fresh.Expiry,
		LastRefreshed: now,
	}

	m.mu.Lock()
	m.tokens[provider] = updated
	m.mu.Unlock()

	if err := m.store.Put(string(provider), updated); err != nil {
		return err
	}
	m.logger.Info("oauth token refreshed", "provider", provider, "expiry", updated.Expiry)
	return nil
}
