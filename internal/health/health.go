// Package health implements the health monitor: an independent periodic
// sweep that mutates a durable provider status table, per spec.md §4.12.
// The Checker/Result shape is grounded in cuemby-warren's pkg/health
// package; the sweep's ticker-driven lifecycle generalizes the teacher's
// orchestrator pollLoop pattern.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/relayforge/relay/internal/clock"
	"github.com/relayforge/relay/internal/domain"
	"github.com/relayforge/relay/internal/errs"
	"github.com/relayforge/relay/internal/kvstore"
)

const (
	sweepInterval            = 30 * time.Second
	probeTimeout             = 5 * time.Second
	consecutiveErrorThreshold = 3

	statusDocKey = "status"
)

// Checker performs one liveness probe against a provider's endpoint.
type Checker interface {
	Check(ctx context.Context, provider domain.Provider) (latency time.Duration, err error)
}

type statusDoc struct {
	Providers map[domain.ProviderType]domain.ProviderHealth `json:"providers"`
}

// Monitor runs the periodic sweep and caches the last-known health per
// provider, read by the webhook health endpoints. The cache has no TTL;
// the Provider Router keeps its own separate health cache.
type Monitor struct {
	store   *kvstore.Store
	clk     clock.Clock
	checker Checker

	mu        sync.RWMutex
	providers []domain.Provider
	health    map[domain.ProviderType]domain.ProviderHealth

	ticker clock.Ticker
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor constructs a Monitor, recovering any persisted status.
func NewMonitor(store *kvstore.Store, clk clock.Clock, checker Checker, providers []domain.Provider) (*Monitor, error) {
	m := &Monitor{
		store:     store,
		clk:       clk,
		checker:   checker,
		providers: providers,
		health:    make(map[domain.ProviderType]domain.ProviderHealth),
	}

	var doc statusDoc
	if err := store.Get(statusDocKey, &doc); err != nil && !errs.Is(err, errs.NotFound) {
		return nil, err
	}
	if doc.Providers != nil {
		m.health = doc.Providers
	}
	return m, nil
}

// SetProviders replaces the provider list the sweep checks, used after a
// config reload.
func (m *Monitor) SetProviders(providers []domain.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = providers
}

// Start runs the 30s sweep in the background.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.ticker = m.clk.NewTicker(sweepInterval)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.sweep(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.ticker.C():
				m.sweep(ctx)
			}
		}
	}()
}

// Stop halts the sweep.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.ticker != nil {
		m.ticker.Stop()
	}
	m.wg.Wait()
}

func (m *Monitor) sweep(ctx context.Context) {
	m.mu.RLock()
	providers := append([]domain.Provider(nil), m.providers...)
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, p := range providers {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.probeOne(ctx, p)
		}()
	}
	wg.Wait()
}

func (m *Monitor) probeOne(ctx context.Context, p domain.Provider) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	latency, err := m.checker.Check(probeCtx, p)
	now := m.clk.Now()

	m.mu.Lock()
	h := m.health[p.Type]
	h.Provider = p.Type
	h.LastCheck = now
	h.Latency = latency
	if err != nil {
		h.ConsecutiveErrors++
		h.LastError = err.Error()
		if h.ConsecutiveErrors >= consecutiveErrorThreshold {
			h.Healthy = false
		}
	} else {
		h.ConsecutiveErrors = 0
		h.LastError = ""
		h.Healthy = true
	}
	m.health[p.Type] = h
	snapshot := cloneHealth(m.health)
	m.mu.Unlock()

	_ = m.store.Put(statusDocKey, statusDoc{Providers: snapshot})
}

func cloneHealth(in map[domain.ProviderType]domain.ProviderHealth) map[domain.ProviderType]domain.ProviderHealth {
	out := make(map[domain.ProviderType]domain.ProviderHealth, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Snapshot returns the cached health table.
func (m *Monitor) Snapshot() map[domain.ProviderType]domain.ProviderHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneHealth(m.health)
}

// Get returns the cached health record for one provider.
func (m *Monitor) Get(provider domain.ProviderType) (domain.ProviderHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.health[provider]
	return h, ok
}
