package domain

import "time"

// SessionStatus is the session state machine's current state.
//
// Lifecycle:
//
//	STARTED ──trackProcess──► IN_PROGRESS ──complete──► DONE
//	   │                            │
//	   └────────fail───────────────►└────fail──────────► ERROR
type SessionStatus string

const (
	SessionStarted    SessionStatus = "STARTED"
	SessionInProgress SessionStatus = "IN_PROGRESS"
	SessionDone       SessionStatus = "DONE"
	SessionError      SessionStatus = "ERROR"
)

// IsTerminal reports whether s is a final state from which no further
// transition occurs.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionDone, SessionError:
		return true
	default:
		return false
	}
}

// CleanupPolicy controls what the Worktree Manager does with a session's
// working copy once the session reaches a terminal state.
type CleanupPolicy string

const (
	CleanupDeleteWorktree CleanupPolicy = "DELETE_WORKTREE"
	CleanupArchiveSession CleanupPolicy = "ARCHIVE_SESSION"
	CleanupRetainSession  CleanupPolicy = "RETAIN_SESSION"
)

// Session is the unit of work for one issue on one execution attempt.
type Session struct {
	ID              string // derived from the issue identifier
	IssueID         string
	Repository      string
	WorktreePath    string
	Status          SessionStatus
	ProcessHandle   string // optional external process handle (e.g. subprocess PID/tag)
	FinalCommit     string
	CompletionReason string
	CleanupPolicy   CleanupPolicy
	CreatedAt       time.Time
	UpdatedAt       time.Time
	FinishedAt      time.Time
}

// NewSession creates a STARTED session for one issue execution attempt.
func NewSession(id, issueID, repository string, policy CleanupPolicy, now time.Time) *Session {
	return &Session{
		ID:            id,
		IssueID:       issueID,
		Repository:    repository,
		Status:        SessionStarted,
		CleanupPolicy: policy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// TrackProcess records an external process handle and moves the session
// from STARTED to IN_PROGRESS. A no-op once the session is terminal.
func (s *Session) TrackProcess(handle string, now time.Time) {
	if s.Status.IsTerminal() {
		return
	}
	s.ProcessHandle = handle
	s.Status = SessionInProgress
	s.UpdatedAt = now
}

// Complete transitions the session to DONE. Idempotent: a second call after
// the session is already terminal changes nothing, including timestamps.
func (s *Session) Complete(reason, commit string, now time.Time) {
	if s.Status.IsTerminal() {
		return
	}
	s.Status = SessionDone
	s.CompletionReason = reason
	s.FinalCommit = commit
	s.UpdatedAt = now
	s.FinishedAt = now
}

// Fail transitions the session to ERROR. Idempotent like Complete.
func (s *Session) Fail(reason string, now time.Time) {
	if s.Status.IsTerminal() {
		return
	}
	s.Status = SessionError
	s.CompletionReason = reason
	s.UpdatedAt = now
	s.FinishedAt = now
}

// Duration returns the time elapsed between creation and completion. For a
// still-running session it returns the time elapsed so far.
func (s *Session) Duration(now time.Time) time.Duration {
	if !s.FinishedAt.IsZero() {
		return s.FinishedAt.Sub(s.CreatedAt)
	}
	return now.Sub(s.CreatedAt)
}
