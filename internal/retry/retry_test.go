package retry

import (
	"context"
	"testing"
	"time"

	"github.com/relayforge/relay/internal/clock"
	"github.com/relayforge/relay/internal/errs"
)

func TestWithRetry_SucceedsFirstTry(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	calls := 0
	res := WithRetry(context.Background(), clk, func(ctx context.Context, attempt int) (any, error) {
		calls++
		return "ok", nil
	}, Config{}, Context{})

	if !res.Success || calls != 1 || res.WasRetried {
		t.Fatalf("unexpected result: %+v calls=%d", res, calls)
	}
}

func TestWithRetry_RetriesThenSucceeds(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	calls := 0
	res := WithRetry(context.Background(), clk, func(ctx context.Context, attempt int) (any, error) {
		calls++
		if calls < 3 {
			return nil, errs.New(errs.ProviderUnavailable, "503", true, nil)
		}
		return "ok", nil
	}, Config{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2}, Context{})

	if !res.Success || calls != 3 {
		t.Fatalf("expected success on 3rd call, got success=%v calls=%d", res.Success, calls)
	}
	if len(res.Delays) != 2 {
		t.Fatalf("expected 2 recorded delays, got %d", len(res.Delays))
	}
	if res.Delays[0].Delay != time.Second || res.Delays[1].Delay != 2*time.Second {
		t.Errorf("unexpected backoff sequence: %+v", res.Delays)
	}
}

func TestWithRetry_NonRetryableAbortsImmediately(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	calls := 0
	res := WithRetry(context.Background(), clk, func(ctx context.Context, attempt int) (any, error) {
		calls++
		return nil, errs.New(errs.AuthError, "bad credential", false, nil)
	}, Config{MaxRetries: 3}, Context{})

	if res.Success || calls != 1 {
		t.Fatalf("expected immediate abort, got calls=%d success=%v", calls, res.Success)
	}
}

func TestWithRetry_ExhaustionForcesHealthRefresh(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	refreshed := 0
	router := fakeRouter{onRefresh: func() { refreshed++ }}

	res := WithRetry(context.Background(), clk, func(ctx context.Context, attempt int) (any, error) {
		return nil, errs.New(errs.ProviderUnavailable, "503", true, nil)
	}, Config{MaxRetries: 2}, Context{Provider: "anthropic", Router: router})

	if res.Success {
		t.Fatalf("expected exhaustion")
	}
	if refreshed != 1 {
		t.Errorf("expected exactly one forced health refresh, got %d", refreshed)
	}
	if res.Attempts != 3 {
		t.Errorf("expected 3 attempts (1+maxRetries), got %d", res.Attempts)
	}
}

func TestWithRetry_HonorsServerHint(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	calls := 0
	res := WithRetry(context.Background(), clk, func(ctx context.Context, attempt int) (any, error) {
		calls++
		if calls == 1 {
			return nil, errs.New(errs.RateLimited, "429", true, nil).WithRetryAfter(2)
		}
		return "ok", nil
	}, Config{BaseDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2}, Context{})

	if !res.Success {
		t.Fatalf("expected eventual success")
	}
	if res.Delays[0].Delay != 2*time.Second {
		t.Errorf("expected server hint of 2s honored, got %v", res.Delays[0].Delay)
	}
}

type fakeRouter struct {
	onRefresh func()
}

func (f fakeRouter) ForceHealthRefresh() {
	if f.onRefresh != nil {
		f.onRefresh()
	}
}
