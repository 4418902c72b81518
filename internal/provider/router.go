// Package provider implements the provider router: it owns the ordered
// list of enabled providers and a 30s-TTL health cache, selecting the
// first healthy, breaker-permitted provider for a request. The
// map[type]Client registry generalizes the teacher's executor Registry
// (internal/worker/executor.go).
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/relayforge/relay/internal/clock"
	"github.com/relayforge/relay/internal/domain"
	"github.com/relayforge/relay/internal/errs"
	"github.com/relayforge/relay/internal/health"
)

const healthCacheTTL = 30 * time.Second

// Breaker is the subset of internal/breaker.Manager the router needs.
type Breaker interface {
	Allow(provider domain.ProviderType) bool
}

// Router ranks enabled providers by priority and selects the first
// healthy, breaker-permitted one.
type Router struct {
	clk     clock.Clock
	checker health.Checker
	breaker Breaker

	mu          sync.RWMutex
	providers   []domain.Provider
	healthCache map[domain.ProviderType]domain.ProviderHealth
	cachedAt    time.Time
}

// New constructs a Router over the given providers.
func New(clk clock.Clock, checker health.Checker, breaker Breaker, providers []domain.Provider) *Router {
	sorted := append([]domain.Provider(nil), providers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	return &Router{
		clk:         clk,
		checker:     checker,
		breaker:     breaker,
		providers:   sorted,
		healthCache: make(map[domain.ProviderType]domain.ProviderHealth),
	}
}

// ReloadProviders replaces the provider list (e.g. after a config reload)
// and forces a fresh health probe, per spec.md §4.2's reloadProviders().
func (r *Router) ReloadProviders(ctx context.Context, providers []domain.Provider) {
	sorted := append([]domain.Provider(nil), providers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	r.mu.Lock()
	r.providers = sorted
	r.mu.Unlock()

	r.ForceHealthRefresh()
	r.refreshHealth(ctx)
}

// ForceHealthRefresh clears the cache so the next SelectProvider call
// reprobes every provider.
func (r *Router) ForceHealthRefresh() {
	r.mu.Lock()
	r.cachedAt = time.Time{}
	r.mu.Unlock()
}

// SelectProvider implements the spec.md §4.2 selectProvider() contract.
func (r *Router) SelectProvider(ctx context.Context) (domain.Provider, error) {
	r.mu.RLock()
	stale := r.clk.Now().Sub(r.cachedAt) >= healthCacheTTL
	r.mu.RUnlock()

	if stale {
		r.refreshHealth(ctx)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if !p.Enabled {
			continue
		}
		h := r.healthCache[p.Type]
		if !h.Healthy {
			continue
		}
		if r.breaker != nil && !r.breaker.Allow(p.Type) {
			continue
		}
		return p, nil
	}
	return domain.Provider{}, errs.New(errs.NoHealthyProviders, "no provider passed health and breaker checks", false, nil)
}

// NextRanked returns the provider after the given one in priority order,
// for the Orchestrator's provider-switch-on-exhaustion step (spec.md §4.8
// step 5).
func (r *Router) NextRanked(ctx context.Context, after domain.ProviderType) (domain.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	found := false
	for _, p := range r.providers {
		if found {
			if !p.Enabled {
				continue
			}
			h := r.healthCache[p.Type]
			if !h.Healthy {
				continue
			}
			if r.breaker != nil && !r.breaker.Allow(p.Type) {
				continue
			}
			return p, true
		}
		if p.Type == after {
			found = true
		}
	}
	return domain.Provider{}, false
}

// ByType returns the configured Provider record for a type, used when the
// Orchestrator's model-override directive names a specific provider.
func (r *Router) ByType(t domain.ProviderType) (domain.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if p.Type == t {
			return p, true
		}
	}
	return domain.Provider{}, false
}

func (r *Router) refreshHealth(ctx context.Context) {
	r.mu.RLock()
	providers := append([]domain.Provider(nil), r.providers...)
	r.mu.RUnlock()

	type probeResult struct {
		provider domain.ProviderType
		health   domain.ProviderHealth
	}
	results := make(chan probeResult, len(providers))

	var wg sync.WaitGroup
	for _, p := range providers {
		if !p.Enabled {
			continue
		}
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			latency, err := r.checker.Check(probeCtx, p)
			h := domain.ProviderHealth{Provider: p.Type, LastCheck: r.clk.Now(), Latency: latency}
			if err != nil {
				h.Healthy = false
				h.LastError = err.Error()
			} else {
				h.Healthy = true
			}
			results <- probeResult{provider: p.Type, health: h}
		}()
	}
	wg.Wait()
	close(results)

	r.mu.Lock()
	for res := range results {
		r.healthCache[res.provider] = res.health
	}
	r.cachedAt = r.clk.Now()
	r.mu.Unlock()
}

// HealthSnapshot returns a copy of the router's own health cache.
func (r *Router) HealthSnapshot() map[domain.ProviderType]domain.ProviderHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domain.ProviderType]domain.ProviderHealth, len(r.healthCache))
	for k, v := range r.healthCache {
		out[k] = v
	}
	return out
}

func (r *Router) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fmt.Sprintf("Router(%d providers)", len(r.providers))
}
