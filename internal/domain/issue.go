// Package domain holds the shared entities described by the data model:
// issues, routes, providers, worktrees, sessions, and execution results.
package domain

import "time"

// Issue is a task record from the upstream tracker. It is produced by the
// webhook ingress or the poller and is treated as immutable within one
// execution.
type Issue struct {
	ID          string   // tracker-assigned identifier, e.g. "ABC-123"
	Title       string
	Description string // may carry a bracketed or natural-language override directive
	Labels      []string
	Project     string
	Team        string
	State       string
}

// HasLabel reports whether name is present in the issue's label set,
// case-sensitively (labels are tracker-controlled and compared verbatim).
func (i Issue) HasLabel(name string) bool {
	for _, l := range i.Labels {
		if l == name {
			return true
		}
	}
	return false
}

// Repository is a config-owned routing target, reloaded on demand.
type Repository struct {
	ID             string
	LocalPath      string
	BaseBranch     string
	WorktreeBase   string
	RoutingLabels  []string
	ProjectKeys    []string
}

// WorktreeMode selects how the Worktree Manager materializes a working
// copy for an issue.
type WorktreeMode string

const (
	WorktreeModeFresh          WorktreeMode = "fresh"
	WorktreeModeReuse          WorktreeMode = "reuse"
	WorktreeModeBranchPerIssue WorktreeMode = "branch-per-issue"
)

// Route is the computed tuple (repository, provider, auto-execute flag,
// worktree mode) for one issue. It is cached by (issueId, identifier)
// until a config reload invalidates the cache.
type Route struct {
	Repository  Repository
	Provider    ProviderType
	ExecuteNow  bool
	WorktreeMode WorktreeMode
}

// ProviderType enumerates the execution-provider identities a Route or
// Provider record can reference.
type ProviderType string

const (
	ProviderAnthropic ProviderType = "anthropic"
	ProviderGeneric   ProviderType = "generic"
)

// Provider is a remote model-backed execution service, constructed at
// startup and after config reload, living for the process lifetime.
type Provider struct {
	Type        ProviderType
	DisplayName string
	Priority    int // lower = preferred
	Credential  string
	Endpoint    string
	Enabled     bool
}

// ProviderHealth is the cached liveness record for one provider, refreshed
// on cadence and on demand, with a TTL applied by the caller.
type ProviderHealth struct {
	Provider            ProviderType
	Healthy             bool
	LastCheck           time.Time
	Latency             time.Duration
	LastError           string
	ConsecutiveErrors   int
}

// ExecutionResult is the in-memory record of one Agent Executor attempt,
// folded into the Reporter's output; it is never itself persisted.
type ExecutionResult struct {
	SessionID    string
	Commits      []Commit
	TouchedPaths []string
	Provider     ProviderType
	Attempt      int
	Duration     time.Duration
	RawOutput    string
	Err          error
}

// Commit describes one commit the agent produced inside a worktree.
type Commit struct {
	SHA     string
	Message string
	Author  string
	Date    time.Time
}
