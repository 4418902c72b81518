// Package reporter maps a terminal session's outcome to tracker-facing
// side effects: a state transition, a label, and a comment body. Grounded
// on internal/orchestrator/handlers.go's completeRun success/failure
// branching and structured-logging style.
package reporter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/relayforge/relay/internal/domain"
)

const maxStackChars = 1500

// Tracker is the subset of an upstream tracker client the reporter needs.
type Tracker interface {
	SetState(ctx context.Context, issueID, state string) error
	AddLabel(ctx context.Context, issueID, label string) error
	AddComment(ctx context.Context, issueID, body string) error
}

// Reporter posts a session's terminal outcome back to the tracker.
type Reporter struct {
	tracker Tracker
	logger  *slog.Logger
}

// New constructs a Reporter.
func New(tracker Tracker, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{tracker: tracker, logger: logger}
}

// Outcome is what the Orchestrator hands the Reporter once a session
// reaches a terminal state.
type Outcome struct {
	IssueID      string
	Session      *domain.Session
	Provider     domain.ProviderType
	Commits      []domain.Commit
	FilesTouched []string
	WorktreePath string
	ErrMessage   string
	Stack        string
}

// Report posts the tracker-facing state transition, then label and
// comment concurrently; partial label/comment failures are logged, not
// propagated, per spec.md §4.9 ("must succeed before label + comment are
// attempted; ... partial failures logged but not propagated").
func (r *Reporter) Report(ctx context.Context, o Outcome, now time.Time) error {
	success := o.Session != nil && o.Session.Status == domain.SessionDone

	state := "Canceled"
	label := "failed"
	if success {
		state = "Done"
		label = "executed"
	}

	if err := r.tracker.SetState(ctx, o.IssueID, state); err != nil {
		return fmt.Errorf("set tracker state: %w", err)
	}

	body := r.commentBody(o, success, now)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := r.tracker.AddLabel(ctx, o.IssueID, label); err != nil {
			r.logger.Warn("failed to add label",
				"issue_id", o.IssueID,
				"label", label,
				"error", err,
			)
		}
	}()
	go func() {
		defer wg.Done()
		if err := r.tracker.AddComment(ctx, o.IssueID, body); err != nil {
			r.logger.Warn("failed to add comment",
				"issue_id", o.IssueID,
				"error", err,
			)
		}
	}()
	wg.Wait()

	return nil
}

func (r *Reporter) commentBody(o Outcome, success bool, now time.Time) string {
	var b strings.Builder
	if success {
		fmt.Fprintf(&b, "Duration: %s\n", formatDuration(o.Session.Duration(now)))
		fmt.Fprintf(&b, "Provider: %s\n\n", o.Provider)
		if len(o.Commits) == 0 {
			b.WriteString("No commits recorded.\n")
		} else {
			b.WriteString("Commits:\n")
			for _, c := range o.Commits {
				fmt.Fprintf(&b, "- %s %s\n", shortSHA(c.SHA), c.Message)
			}
		}
		if len(o.FilesTouched) > 0 {
			fmt.Fprintf(&b, "\nModified files:\n")
			for _, f := range o.FilesTouched {
				fmt.Fprintf(&b, "- %s\n", f)
			}
		}
		fmt.Fprintf(&b, "\nWorktree: %s\n", o.WorktreePath)
		return b.String()
	}

	fmt.Fprintf(&b, "Error: %s\n\n", o.ErrMessage)
	if o.Stack != "" {
		b.WriteString(truncateStack(o.Stack))
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Worktree: %s\n", o.WorktreePath)
	return b.String()
}

func formatDuration(d time.Duration) string {
	total := int64(d.Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func truncateStack(stack string) string {
	if len(stack) <= maxStackChars {
		return stack
	}
	return stack[:maxStackChars] + "...(truncated)"
}
