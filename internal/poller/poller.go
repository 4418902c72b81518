package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/relayforge/relay/internal/clock"
	"github.com/relayforge/relay/internal/domain"
	"github.com/relayforge/relay/internal/errs"
	"github.com/relayforge/relay/internal/session"
)

// Tracker queries the upstream issue tracker for issues matching the
// configured labels and states.
type Tracker interface {
	Query(ctx context.Context, labels, states []string) ([]domain.Issue, error)
}

// Dispatcher runs the Orchestrator's processIssue pipeline. Mirrors
// internal/webhook.Dispatcher so both entry points share the same
// hand-off shape without either package importing the other.
type Dispatcher interface {
	Dispatch(ctx context.Context, issue domain.Issue)
}

// Config tunes one Poller.
type Config struct {
	Interval    time.Duration // default 30min
	MaxInterval time.Duration // default 60min
	Labels      []string
	States      []string
	Concurrency int    // default 5
	CronExpr    string // optional cadence override
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Minute
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 60 * time.Minute
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	return c
}

// Poller runs the periodic reconciliation cycle described in spec.md
// §4.10, generalizing internal/scheduler's Tick/processSchedule shape
// from due-schedule processing to tracker-query reconciliation.
type Poller struct {
	cfg        Config
	tracker    Tracker
	sessions   *session.Manager
	dispatcher Dispatcher
	clk        clock.Clock
	logger     *slog.Logger

	mu           sync.Mutex
	currentDelay time.Duration
	pausedUntil  time.Time
}

// New constructs a Poller.
func New(cfg Config, tracker Tracker, sessions *session.Manager, dispatcher Dispatcher, clk clock.Clock, logger *slog.Logger) *Poller {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:          cfg,
		tracker:      tracker,
		sessions:     sessions,
		dispatcher:   dispatcher,
		clk:          clk,
		logger:       logger,
		currentDelay: cfg.Interval,
	}
}

// Run loops reconciliation cycles until ctx is canceled. In-flight
// batches run to completion on shutdown; only new batches are refused.
func (p *Poller) Run(ctx context.Context) {
	for {
		delay := p.nextDelay()
		select {
		case <-ctx.Done():
			return
		case <-p.clk.After(delay):
		}

		if err := ctx.Err(); err != nil {
			return
		}
		p.tick(ctx)
	}
}

func (p *Poller) nextDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.pausedUntil.IsZero() {
		if remaining := p.pausedUntil.Sub(p.clk.Now()); remaining > 0 {
			return remaining
		}
		p.pausedUntil = time.Time{}
	}
	if p.cfg.CronExpr != "" {
		now := p.clk.Now()
		if next, err := nextCronDue(p.cfg.CronExpr, now); err == nil {
			return next.Sub(now)
		}
	}
	return p.currentDelay
}

func (p *Poller) tick(ctx context.Context) {
	if p.skipIfSaturated() {
		p.logger.Info("skipping poll cycle: rate budget or backoff window active")
		return
	}

	issues, err := p.tracker.Query(ctx, p.cfg.Labels, p.cfg.States)
	if err != nil {
		p.handleCycleError(err)
		return
	}

	pending := make([]domain.Issue, 0, len(issues))
	for _, issue := range issues {
		if p.sessions.IsLive(issue.ID) {
			continue
		}
		pending = append(pending, issue)
	}

	p.runBatches(ctx, pending)
	p.resetBackoff()
}

func (p *Poller) skipIfSaturated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.pausedUntil.IsZero() && p.clk.Now().Before(p.pausedUntil)
}

func (p *Poller) runBatches(ctx context.Context, issues []domain.Issue) {
	for start := 0; start < len(issues); start += p.cfg.Concurrency {
		select {
		case <-ctx.Done():
			return
		default:
		}

		end := start + p.cfg.Concurrency
		if end > len(issues) {
			end = len(issues)
		}
		batch := issues[start:end]

		var wg sync.WaitGroup
		for _, issue := range batch {
			issue := issue
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.sessions.MarkLive(issue.ID)
				p.dispatcher.Dispatch(ctx, issue)
			}()
		}
		wg.Wait()
	}
}

func (p *Poller) handleCycleError(err error) {
	if tag := errs.TagOf(err); tag == errs.RateLimited {
		resetSeconds := 60.0
		if te, ok := err.(*errs.Error); ok && te.RetryAfterSeconds > 0 {
			resetSeconds = te.RetryAfterSeconds
		}
		p.mu.Lock()
		p.pausedUntil = p.clk.Now().Add(time.Duration(resetSeconds)*time.Second + time.Minute)
		p.mu.Unlock()
		p.logger.Warn("rate limited by tracker, pausing", "pause_until", p.pausedUntil)
		return
	}

	p.mu.Lock()
	p.currentDelay *= 2
	if p.currentDelay > p.cfg.MaxInterval {
		p.currentDelay = p.cfg.MaxInterval
	}
	p.mu.Unlock()
	p.logger.Error("poll cycle failed, backing off", "error", err, "next_delay", p.currentDelay)
}

func (p *Poller) resetBackoff() {
	p.mu.Lock()
	p.currentDelay = p.cfg.Interval
	p.mu.Unlock()
}
