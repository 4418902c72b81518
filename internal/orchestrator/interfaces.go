package orchestrator

import (
	"context"
	"time"

	"github.com/relayforge/relay/internal/domain"
	"github.com/relayforge/relay/internal/executor"
	"github.com/relayforge/relay/internal/provider"
	"github.com/relayforge/relay/internal/reporter"
)

// The interfaces below narrow each collaborator to the subset of methods
// processIssue actually calls, the way internal/provider.Breaker already
// narrows internal/breaker.Manager for the router. *routing.Engine,
// *session.Manager, *worktree.Manager, *provider.Router,
// *provider.Registry, *breaker.Manager, *lockdir.LockDirectory,
// *executor.Executor, and *reporter.Reporter all satisfy these as-is; a
// test fake only has to implement what it exercises.

// RouteResolver resolves an issue to a routing decision.
type RouteResolver interface {
	Resolve(issue domain.Issue) (domain.Route, error)
}

// SessionStore is the session-lifecycle subset processIssue drives.
type SessionStore interface {
	Create(id, issueID, repository string, policy domain.CleanupPolicy) (*domain.Session, error)
	Get(id string) (*domain.Session, error)
	TrackProcess(id, handle string) error
	Complete(id, reason, commit string) error
	Fail(id, reason string) error
}

// WorktreeManager is the working-copy lifecycle subset processIssue drives.
type WorktreeManager interface {
	Create(ctx context.Context, issueID, repoPath, worktreeBase string, mode domain.WorktreeMode) (domain.Worktree, error)
	Cleanup(ctx context.Context, issueID string) error
	Retain(issueID string)
	IsClean(ctx context.Context, path string) (bool, error)
}

// ProviderRouter ranks and selects providers.
type ProviderRouter interface {
	SelectProvider(ctx context.Context) (domain.Provider, error)
	NextRanked(ctx context.Context, after domain.ProviderType) (domain.Provider, bool)
	ByType(t domain.ProviderType) (domain.Provider, bool)
}

// ClientRegistry resolves a provider type to its Client.
type ClientRegistry interface {
	Get(t domain.ProviderType) (provider.Client, bool)
}

// BreakerGate is the admission check the breaker exposes for a model
// override directive.
type BreakerGate interface {
	Allow(provider domain.ProviderType) bool
}

// IssueLock serializes processIssue per issue id.
type IssueLock interface {
	Acquire(id string) error
	Release(id string)
}

// AgentRunner sends one prompt turn to a provider client.
type AgentRunner interface {
	Run(ctx context.Context, client provider.Client, providerName domain.ProviderType, req executor.Request) (executor.Result, error)
}

// OutcomeReporter posts a terminal session outcome to the tracker.
type OutcomeReporter interface {
	Report(ctx context.Context, o reporter.Outcome, now time.Time) error
}
