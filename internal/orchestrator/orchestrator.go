package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/relayforge/relay/internal/auditlog"
	"github.com/relayforge/relay/internal/clock"
	"github.com/relayforge/relay/internal/directive"
	"github.com/relayforge/relay/internal/domain"
	"github.com/relayforge/relay/internal/errs"
	"github.com/relayforge/relay/internal/executor"
	"github.com/relayforge/relay/internal/metrics"
	"github.com/relayforge/relay/internal/reporter"
	"github.com/relayforge/relay/internal/telemetry"
)

const (
	defaultMaxProviderAttempts = 3

	// DefaultLockTTL is the per-issue lease duration cmd wiring should
	// pass to lockdir.New: long enough to outlast a normal execution,
	// short enough that a crashed worker doesn't wedge an issue id
	// forever.
	DefaultLockTTL = 20 * time.Minute
)

// Config wires every collaborator processIssue needs. It plays the role
// the teacher's orchestrator.Config played for RunRepo/TaskRepo/Publisher:
// one struct assembled once at startup and handed to New.
type Config struct {
	Routing   RouteResolver
	Sessions  SessionStore
	Worktrees WorktreeManager
	Router    ProviderRouter
	Registry  ClientRegistry
	Breaker   BreakerGate
	Locks     IssueLock
	Executor  AgentRunner
	Reporter  OutcomeReporter

	Audit   *auditlog.Log
	Metrics *metrics.Registry
	Clock   clock.Clock
	Logger  *slog.Logger

	// MaxProviderAttempts bounds how many distinct providers processIssue
	// will try before giving up, per spec.md §4.8 step 5. Default 3.
	MaxProviderAttempts int
	// DefaultTimeoutMs bounds one Agent Executor call when the issue
	// doesn't specify its own, per spec.md §6.
	DefaultTimeoutMs int
}

func (c Config) withDefaults() Config {
	if c.MaxProviderAttempts <= 0 {
		c.MaxProviderAttempts = defaultMaxProviderAttempts
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Orchestrator runs the processIssue pipeline described in spec.md §4.8.
// It implements the Dispatcher interface both internal/webhook and
// internal/poller depend on, so either entry point can call Dispatch
// directly without knowing anything about routing, sessions, or
// providers.
type Orchestrator struct {
	cfg Config
}

// New constructs an Orchestrator.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{cfg: cfg.withDefaults()}
}

// Dispatch runs processIssue to completion. It never returns an error to
// the caller: every failure is already folded into a session transition
// and a Reporter call by the time Dispatch returns, matching the
// Dispatcher contract webhook and poller compile against.
func (o *Orchestrator) Dispatch(ctx context.Context, issue domain.Issue) {
	logger := telemetry.WithIssueID(o.cfg.Logger, issue.ID)
	if err := o.processIssue(ctx, issue, logger); err != nil {
		logger.Error("processIssue failed", "error", err)
	}
}

// processIssue implements spec.md §4.8's nine-step routine.
func (o *Orchestrator) processIssue(ctx context.Context, issue domain.Issue, logger *slog.Logger) error {
	// Step 1: route.
	route, err := o.cfg.Routing.Resolve(issue)
	if err != nil {
		logger.Warn("no route matched issue", "error", err)
		return err
	}
	logger = logger.With("repository", route.Repository.ID)

	// Step 3: acquire the per-issue status lock before any side effect.
	if err := o.cfg.Locks.Acquire(issue.ID); err != nil {
		logger.Warn("issue already in flight", "error", err)
		return err
	}
	defer o.cfg.Locks.Release(issue.ID)

	// Step 4: create session (STARTED) and worktree. The session id is the
	// issue id itself, not a generated one: spec.md §6 mandates the
	// persisted file at sessions/<issueId>.json, and MarkLive/finalizeLiveSet
	// (internal/session) key the live set by issue id too, so both sides
	// must agree on the same identifier.
	sessionID := issue.ID
	sess, err := o.cfg.Sessions.Create(sessionID, issue.ID, route.Repository.ID, domain.CleanupArchiveSession)
	if err != nil {
		logger.Error("failed to create session", "error", err)
		return err
	}
	logger = telemetry.WithSessionID(logger, sessionID)

	wt, err := o.cfg.Worktrees.Create(ctx, issue.ID, route.Repository.LocalPath, route.Repository.WorktreeBase, route.WorktreeMode)
	if err != nil {
		logger.Error("failed to create worktree", "error", err)
		_ = o.cfg.Sessions.Fail(sessionID, err.Error())
		o.report(ctx, issue, sess, route.Provider, nil, nil, "", err, logger)
		return err
	}

	// Step 5: run the Agent Executor, falling back across providers.
	result, usedProvider, execErr := o.runWithProviderFallback(ctx, issue, sessionID, route, wt, logger)

	// Step 6: verify, independent of whether execution itself errored.
	verifyErr := execErr
	if verifyErr == nil {
		verifyErr = o.verify(ctx, issue.ID, wt.Path, result)
	}

	// Step 7: terminal session transition.
	if verifyErr != nil {
		_ = o.cfg.Sessions.Fail(sessionID, verifyErr.Error())
	} else {
		commitSHA := ""
		if len(result.Commits) > 0 {
			commitSHA = result.Commits[len(result.Commits)-1].SHA
		}
		_ = o.cfg.Sessions.Complete(sessionID, "verified", commitSHA)
	}

	final, getErr := o.cfg.Sessions.Get(sessionID)
	if getErr != nil {
		final = sess
	}

	// Step 8: report.
	o.report(ctx, issue, final, usedProvider, result.Commits, result.FilesTouched, wt.Path, verifyErr, logger)
	o.recordMetricsAndAudit(ctx, sessionID, issue, final, usedProvider, result, verifyErr)

	// Step 9: cleanup worktree per outcome; success removes it, failure
	// retains it for operator inspection.
	if verifyErr == nil {
		if err := o.cfg.Worktrees.Cleanup(ctx, issue.ID); err != nil {
			logger.Warn("worktree cleanup failed", "error", err)
		}
	} else {
		o.cfg.Worktrees.Retain(issue.ID)
	}

	return verifyErr
}

// runWithProviderFallback implements step 5: try up to MaxProviderAttempts
// distinct providers, sleeping 1s×attempt between switches, stopping as
// soon as one attempt succeeds.
func (o *Orchestrator) runWithProviderFallback(ctx context.Context, issue domain.Issue, sessionID string, route domain.Route, wt domain.Worktree, logger *slog.Logger) (executor.Result, domain.ProviderType, error) {
	var lastErr error
	var tried domain.ProviderType
	haveTried := false

	for attempt := 1; attempt <= o.cfg.MaxProviderAttempts; attempt++ {
		var p domain.Provider
		var ok bool
		if !haveTried {
			p, ok = o.selectInitialProvider(ctx, issue, route)
		} else {
			p, ok = o.cfg.Router.NextRanked(ctx, tried)
		}
		if !ok {
			if lastErr == nil {
				lastErr = errs.New(errs.NoHealthyProviders, "no provider available", false, nil)
			}
			break
		}

		client, ok := o.cfg.Registry.Get(p.Type)
		if !ok {
			lastErr = errs.New(errs.ProviderUnavailable, fmt.Sprintf("no client registered for %s", p.Type), false, nil)
			tried = p.Type
			haveTried = true
			continue
		}

		tried = p.Type
		haveTried = true
		_ = o.cfg.Sessions.TrackProcess(sessionID, fmt.Sprintf("%s#%d", p.Type, attempt))

		req := executor.Request{
			IssueID:      issue.ID,
			SessionID:    sessionID,
			WorktreePath: wt.Path,
			Description:  issue.Description,
			Model:        string(p.Type),
			TimeoutMs:    o.cfg.DefaultTimeoutMs,
		}

		logger.Info("executing agent turn", "provider", p.Type, "attempt", attempt)
		result, err := o.cfg.Executor.Run(ctx, client, p.Type, req)
		if err == nil {
			return result, p.Type, nil
		}

		lastErr = err
		logger.Warn("provider attempt failed", "provider", p.Type, "attempt", attempt, "error", err)

		if attempt < o.cfg.MaxProviderAttempts {
			if err := o.cfg.Clock.Sleep(ctx, time.Duration(attempt)*time.Second); err != nil {
				lastErr = err
				break
			}
		}
	}

	return executor.Result{}, tried, errs.New(errs.SessionFailed, "all providers exhausted", false, lastErr)
}

// selectInitialProvider honors a model-override directive in the issue
// description when the breaker for that provider still allows it, per
// spec.md §4.8 step 2; otherwise it defers to the router's own ranking.
func (o *Orchestrator) selectInitialProvider(ctx context.Context, issue domain.Issue, route domain.Route) (domain.Provider, bool) {
	if pt, ok := directive.ParseProviderOverride(issue.Description); ok {
		if o.cfg.Breaker == nil || o.cfg.Breaker.Allow(pt) {
			if p, ok := o.cfg.Router.ByType(pt); ok && p.Enabled {
				return p, true
			}
		}
	}
	p, err := o.cfg.Router.SelectProvider(ctx)
	if err != nil {
		return domain.Provider{}, false
	}
	return p, true
}

// verify implements step 6: at least one commit mentioning the issue id,
// and a clean working tree after the attempt. Verification failures are
// non-retryable by construction (errs.VerificationFailed).
func (o *Orchestrator) verify(ctx context.Context, issueID, worktreePath string, result executor.Result) error {
	mentioned := false
	for _, c := range result.Commits {
		if strings.Contains(c.Message, issueID) {
			mentioned = true
			break
		}
	}
	if !mentioned {
		return errs.New(errs.VerificationFailed, "no commit referenced the issue id", false, nil)
	}

	clean, err := o.cfg.Worktrees.IsClean(ctx, worktreePath)
	if err != nil {
		return errs.New(errs.VerificationFailed, "could not verify working tree state", false, err)
	}
	if !clean {
		return errs.New(errs.VerificationFailed, "working tree is not clean after the attempt", false, nil)
	}
	return nil
}

func (o *Orchestrator) report(ctx context.Context, issue domain.Issue, sess *domain.Session, usedProvider domain.ProviderType, commits []domain.Commit, touched []string, worktreePath string, outcomeErr error, logger *slog.Logger) {
	if o.cfg.Reporter == nil {
		return
	}
	outcome := reporter.Outcome{
		IssueID:      issue.ID,
		Session:      sess,
		Provider:     usedProvider,
		Commits:      commits,
		FilesTouched: touched,
		WorktreePath: worktreePath,
	}
	if outcomeErr != nil {
		outcome.ErrMessage = outcomeErr.Error()
	}
	if err := o.cfg.Reporter.Report(ctx, outcome, o.cfg.Clock.Now()); err != nil {
		logger.Error("failed to report outcome to tracker", "error", err)
	}
}

func (o *Orchestrator) recordMetricsAndAudit(ctx context.Context, sessionID string, issue domain.Issue, sess *domain.Session, usedProvider domain.ProviderType, result executor.Result, outcomeErr error) {
	status := "done"
	if outcomeErr != nil {
		status = "error"
	}
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.SessionOutcomesTotal.WithLabelValues(string(usedProvider), status).Inc()
		o.cfg.Metrics.ExecutionDuration.WithLabelValues(string(usedProvider)).Observe(float64(result.DurationMs) / 1000)
	}
	if o.cfg.Audit == nil {
		return
	}
	rec := auditlog.Record{
		SessionID:    sessionID,
		IssueID:      issue.ID,
		Provider:     usedProvider,
		FilesTouched: result.FilesTouched,
		Commits:      result.Commits,
		DurationMs:   result.DurationMs,
		RecordedAt:   o.cfg.Clock.Now(),
	}
	if sess != nil {
		rec.Status = sess.Status
	}
	if outcomeErr != nil {
		rec.Error = outcomeErr.Error()
	}
	o.cfg.Audit.Record(ctx, rec)
}
