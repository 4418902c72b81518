package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/relayforge/relay/internal/clock"
	"github.com/relayforge/relay/internal/domain"
	"github.com/relayforge/relay/internal/errs"
	"github.com/relayforge/relay/internal/kvstore"
	"github.com/relayforge/relay/internal/session"
)

type fakeTracker struct {
	mu     sync.Mutex
	issues []domain.Issue
	err    error
	calls  int
}

func (t *fakeTracker) Query(ctx context.Context, labels, states []string) ([]domain.Issue, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if t.err != nil {
		return nil, t.err
	}
	return t.issues, nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	issues []domain.Issue
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, issue domain.Issue) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.issues = append(d.issues, issue)
}

func newTestSessions(t *testing.T, clk clock.Clock) *session.Manager {
	t.Helper()
	live, err := kvstore.New(t.TempDir(), 0o700)
	if err != nil {
		t.Fatalf("kvstore: %v", err)
	}
	archive, err := kvstore.New(t.TempDir(), 0o700)
	if err != nil {
		t.Fatalf("kvstore: %v", err)
	}
	return session.NewManager(live, archive, clk)
}

func TestTick_DispatchesNonLiveIssues(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	sessions := newTestSessions(t, clk)
	sessions.Create("ABC-1", "ABC-1", "repo", domain.CleanupDeleteWorktree)

	tracker := &fakeTracker{issues: []domain.Issue{{ID: "ABC-1"}, {ID: "ABC-2"}}}
	dispatcher := &recordingDispatcher{}

	p := New(Config{}, tracker, sessions, dispatcher, clk, nil)
	p.tick(context.Background())

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	if len(dispatcher.issues) != 1 || dispatcher.issues[0].ID != "ABC-2" {
		t.Errorf("expected only ABC-2 dispatched, got %+v", dispatcher.issues)
	}
}

func TestTick_DoublesBackoffOnFailure(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	sessions := newTestSessions(t, clk)
	tracker := &fakeTracker{err: errs.New(errs.Unknown, "boom", false, nil)}

	p := New(Config{Interval: time.Minute, MaxInterval: 4 * time.Minute}, tracker, sessions, &recordingDispatcher{}, clk, nil)
	p.tick(context.Background())
	if p.currentDelay != 2*time.Minute {
		t.Errorf("expected delay doubled to 2min, got %v", p.currentDelay)
	}
	p.tick(context.Background())
	if p.currentDelay != 4*time.Minute {
		t.Errorf("expected delay doubled to 4min (capped), got %v", p.currentDelay)
	}
	p.tick(context.Background())
	if p.currentDelay != 4*time.Minute {
		t.Errorf("expected delay capped at max 4min, got %v", p.currentDelay)
	}
}

func TestTick_RateLimitedPausesUntilReset(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	sessions := newTestSessions(t, clk)
	rateErr := errs.New(errs.RateLimited, "rate limited", true, nil).WithRetryAfter(30)
	tracker := &fakeTracker{err: rateErr}

	p := New(Config{}, tracker, sessions, &recordingDispatcher{}, clk, nil)
	p.tick(context.Background())

	expected := clk.Now().Add(90 * time.Second)
	if !p.pausedUntil.Equal(expected) {
		t.Errorf("expected pausedUntil=%v, got %v", expected, p.pausedUntil)
	}
}

func TestTick_ResetsBackoffOnSuccess(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	sessions := newTestSessions(t, clk)
	tracker := &fakeTracker{}

	p := New(Config{Interval: time.Minute}, tracker, sessions, &recordingDispatcher{}, clk, nil)
	p.currentDelay = 8 * time.Minute
	p.tick(context.Background())
	if p.currentDelay != time.Minute {
		t.Errorf("expected backoff reset to interval, got %v", p.currentDelay)
	}
}

func TestValidateCronExpr(t *testing.T) {
	if err := ValidateCronExpr("*/5 * * * *"); err != nil {
		t.Errorf("expected valid cron expr, got %v", err)
	}
	if err := ValidateCronExpr("not a cron"); err == nil {
		t.Error("expected error for invalid cron expr")
	}
}
