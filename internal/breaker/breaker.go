// Package breaker implements the per-provider three-state circuit breaker
// described in spec.md §4.3. The state machine itself is sony/gobreaker's
// (the same library jordigilh-kubernaut uses for this concern); this
// package adds the persistence and next-retry-at bookkeeping gobreaker
// does not provide on its own.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/relayforge/relay/internal/clock"
	"github.com/relayforge/relay/internal/domain"
	"github.com/relayforge/relay/internal/errs"
	"github.com/relayforge/relay/internal/kvstore"
)

const (
	// FailureThreshold is F in spec.md §4.3.
	FailureThreshold = 5
	// SleepWindow is W.
	SleepWindow = 60 * time.Second
	// HalfOpenTrialBudget is H.
	HalfOpenTrialBudget = 2

	stateDocKey = "state"
)

// stateDoc is the single JSON document keyed by provider id, as required
// by spec.md §4.3 ("State is persisted to a single JSON document").
type stateDoc struct {
	Providers map[domain.ProviderType]domain.CircuitState `json:"providers"`
}

// Manager owns one gobreaker.CircuitBreaker per provider and persists
// every transition to a single JSON document.
type Manager struct {
	store *kvstore.Store
	clk   clock.Clock

	mu       sync.Mutex
	breakers map[domain.ProviderType]*gobreaker.CircuitBreaker
	states   map[domain.ProviderType]domain.CircuitState
}

// NewManager constructs a Manager backed by store (directory created with
// owner-only permissions by the caller) and recovers any persisted state.
func NewManager(store *kvstore.Store, clk clock.Clock) (*Manager, error) {
	m := &Manager{
		store:    store,
		clk:      clk,
		breakers: make(map[domain.ProviderType]*gobreaker.CircuitBreaker),
		states:   make(map[domain.ProviderType]domain.CircuitState),
	}

	var doc stateDoc
	err := store.Get(stateDocKey, &doc)
	if err != nil && !errs.Is(err, errs.NotFound) {
		return nil, err
	}
	if doc.Providers != nil {
		m.states = doc.Providers
	}
	return m, nil
}

func (m *Manager) breakerFor(provider domain.ProviderType) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[provider]; ok {
		return b
	}

	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(provider),
		MaxRequests: HalfOpenTrialBudget,
		Interval:    0, // counts never reset while closed except on success/failure
		Timeout:     SleepWindow,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.recordTransition(provider, to)
		},
	})
	m.breakers[provider] = b

	if _, ok := m.states[provider]; !ok {
		m.states[provider] = domain.CircuitState{Provider: provider, State: domain.BreakerClosed}
	}
	return b
}

func (m *Manager) recordTransition(provider domain.ProviderType, to gobreaker.State) {
	m.mu.Lock()
	now := m.clk.Now()
	st := m.states[provider]
	st.Provider = provider
	switch to {
	case gobreaker.StateOpen:
		st.State = domain.BreakerOpen
		st.OpenedAt = now
		st.NextRetryAt = now.Add(SleepWindow)
		st.LastFailure = now
	case gobreaker.StateHalfOpen:
		st.State = domain.BreakerHalfOpen
	case gobreaker.StateClosed:
		st.State = domain.BreakerClosed
		st.ConsecutiveFailures = 0
		st.Successes++
	}
	m.states[provider] = st
	snapshot := cloneStates(m.states)
	m.mu.Unlock()

	_ = m.store.Put(stateDocKey, stateDoc{Providers: snapshot})
}

func cloneStates(in map[domain.ProviderType]domain.CircuitState) map[domain.ProviderType]domain.CircuitState {
	out := make(map[domain.ProviderType]domain.CircuitState, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Allow reports whether a request to provider may currently be admitted,
// per spec.md invariant 4: OPEN blocks until next-retry-at.
func (m *Manager) Allow(provider domain.ProviderType) bool {
	st := m.State(provider)
	if st.State != domain.BreakerOpen {
		return true
	}
	return !m.clk.Now().Before(st.NextRetryAt)
}

// State returns the last-known persisted state for provider.
func (m *Manager) State(provider domain.ProviderType) domain.CircuitState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[provider]; ok {
		return st
	}
	return domain.CircuitState{Provider: provider, State: domain.BreakerClosed}
}

// Execute runs fn through provider's breaker, recording the outcome and
// persisting any resulting state transition. Errors from fn are passed
// through verbatim; gobreaker.ErrOpenState/ErrTooManyRequests surface as
// errs.ProviderUnavailable.
func (m *Manager) Execute(ctx context.Context, provider domain.ProviderType, fn func(ctx context.Context) (any, error)) (any, error) {
	// gobreaker itself is constructed fresh (internally CLOSED) the first
	// time a provider is seen in this process, so after a restart with a
	// provider persisted OPEN it would otherwise admit immediately. Gate
	// on the persisted state first so OPEN still blocks until NextRetryAt
	// regardless of gobreaker's own internal counters.
	if !m.Allow(provider) {
		return nil, errs.New(errs.ProviderUnavailable, "circuit breaker open", false, nil)
	}

	b := m.breakerFor(provider)
	m.recordAttemptFailureCount(provider)

	result, err := b.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, errs.New(errs.ProviderUnavailable, "circuit breaker open", false, err)
	}
	if err != nil {
		m.bumpFailureCounter(provider)
	} else {
		m.resetFailureCounter(provider)
	}
	return result, err
}

func (m *Manager) resetFailureCounter(provider domain.ProviderType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.states[provider]
	st.Provider = provider
	st.ConsecutiveFailures = 0
	m.states[provider] = st
}

// bumpFailureCounter keeps the spec-visible ConsecutiveFailures count in
// sync with gobreaker's own internal counters for reporting via
// GET /health/providers, since gobreaker.Counts isn't exposed per-call.
func (m *Manager) bumpFailureCounter(provider domain.ProviderType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.states[provider]
	st.Provider = provider
	st.ConsecutiveFailures++
	st.LastFailure = m.clk.Now()
	m.states[provider] = st
}

func (m *Manager) recordAttemptFailureCount(provider domain.ProviderType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[provider]; !ok {
		m.states[provider] = domain.CircuitState{Provider: provider, State: domain.BreakerClosed}
	}
}
