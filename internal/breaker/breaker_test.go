package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relayforge/relay/internal/clock"
	"github.com/relayforge/relay/internal/domain"
	"github.com/relayforge/relay/internal/kvstore"
)

func newTestManager(t *testing.T) (*Manager, *clock.Fake) {
	t.Helper()
	store, err := kvstore.New(t.TempDir(), 0o700)
	if err != nil {
		t.Fatalf("kvstore.New: %v", err)
	}
	clk := clock.NewFake(time.Unix(0, 0))
	m, err := NewManager(store, clk)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, clk
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	m, _ := newTestManager(t)
	failing := func(ctx context.Context) (any, error) { return nil, errors.New("boom") }

	for i := 0; i < FailureThreshold; i++ {
		_, _ = m.Execute(context.Background(), domain.ProviderAnthropic, failing)
	}

	st := m.State(domain.ProviderAnthropic)
	if st.State != domain.BreakerOpen {
		t.Fatalf("expected breaker open after %d failures, got %s", FailureThreshold, st.State)
	}
	if m.Allow(domain.ProviderAnthropic) {
		t.Error("expected breaker to block requests while open")
	}
}

func TestBreaker_PersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	store, _ := kvstore.New(dir, 0o700)
	clk := clock.NewFake(time.Unix(0, 0))
	m, _ := NewManager(store, clk)

	failing := func(ctx context.Context) (any, error) { return nil, errors.New("boom") }
	for i := 0; i < FailureThreshold; i++ {
		_, _ = m.Execute(context.Background(), domain.ProviderAnthropic, failing)
	}

	store2, _ := kvstore.New(dir, 0o700)
	m2, err := NewManager(store2, clk)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	st := m2.State(domain.ProviderAnthropic)
	if st.State != domain.BreakerOpen {
		t.Fatalf("expected recovered state to be open, got %s", st.State)
	}
}

func TestBreaker_AllowsAfterSleepWindow(t *testing.T) {
	m, clk := newTestManager(t)
	failing := func(ctx context.Context) (any, error) { return nil, errors.New("boom") }
	for i := 0; i < FailureThreshold; i++ {
		_, _ = m.Execute(context.Background(), domain.ProviderAnthropic, failing)
	}
	if m.Allow(domain.ProviderAnthropic) {
		t.Fatal("expected blocked immediately after opening")
	}

	clk.Advance(SleepWindow + time.Second)
	if !m.Allow(domain.ProviderAnthropic) {
		t.Error("expected breaker to allow a trial request after the sleep window")
	}
}

func TestBreaker_ExecuteBlocksRecoveredOpenStateUntilNextRetry(t *testing.T) {
	dir := t.TempDir()
	store, _ := kvstore.New(dir, 0o700)
	clk := clock.NewFake(time.Unix(0, 0))
	m, _ := NewManager(store, clk)

	failing := func(ctx context.Context) (any, error) { return nil, errors.New("boom") }
	for i := 0; i < FailureThreshold; i++ {
		_, _ = m.Execute(context.Background(), domain.ProviderAnthropic, failing)
	}

	// Fresh process: a new Manager over the same store recovers the
	// persisted OPEN state, but its gobreaker.CircuitBreaker is brand new
	// and starts internally CLOSED.
	store2, _ := kvstore.New(dir, 0o700)
	m2, err := NewManager(store2, clk)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	calls := 0
	_, err = m2.Execute(context.Background(), domain.ProviderAnthropic, func(ctx context.Context) (any, error) {
		calls++
		return "should not run", nil
	})
	if err == nil {
		t.Fatal("expected Execute to block a recovered OPEN provider before the next-retry-at")
	}
	if calls != 0 {
		t.Fatalf("expected fn not to run, got %d calls", calls)
	}

	clk.Advance(SleepWindow + time.Second)
	_, err = m2.Execute(context.Background(), domain.ProviderAnthropic, func(ctx context.Context) (any, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected Execute to admit a trial request after next-retry-at, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one call after next-retry-at, got %d", calls)
	}
}
