package domain

import "time"

// BreakerState is the three-state admission controller's current state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// CircuitState is the persisted record for one provider's breaker.
type CircuitState struct {
	Provider            ProviderType `json:"provider"`
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	Successes           int          `json:"successes"`
	LastFailure         time.Time    `json:"lastFailure"`
	OpenedAt            time.Time    `json:"openedAt"`
	NextRetryAt         time.Time    `json:"nextRetryAt"`
}

// OAuthToken is the persisted OAuth credential cache for one provider.
type OAuthToken struct {
	Provider      ProviderType `json:"provider"`
	Access        string       `json:"access"`
	Refresh       string       `json:"refresh"`
	Expiry        time.Time    `json:"expiry"`
	LastRefreshed time.Time    `json:"lastRefreshed"`
}

// Worktree is the working-copy record for one issue.
type Worktree struct {
	IssueID    string    `json:"issueId"`
	Path       string    `json:"path"`
	Branch     string    `json:"branch"`
	BaseCommit string    `json:"baseCommit"`
	CreatedAt  time.Time `json:"createdAt"`
}
