package worktree

import (
	"context"
	"testing"
	"time"

	"github.com/relayforge/relay/internal/clock"
	"github.com/relayforge/relay/internal/domain"
	"github.com/relayforge/relay/internal/errs"
	"github.com/relayforge/relay/internal/gitclient"
)

func TestBranchName_Deterministic(t *testing.T) {
	a := BranchName("ABC-123")
	b := BranchName("ABC-123")
	if a != b {
		t.Errorf("expected deterministic branch name, got %q vs %q", a, b)
	}
	if BranchName("ABC-124") == a {
		t.Error("expected distinct issues to derive distinct branch names")
	}
}

func TestCreate_RejectsDuplicateLiveIssue(t *testing.T) {
	m := NewManager(gitclient.NewRunner(), clock.NewFake(time.Unix(0, 0)))
	m.mu.Lock()
	m.live["ABC-1"] = domain.Worktree{IssueID: "ABC-1"}
	m.mu.Unlock()

	_, err := m.Create(context.Background(), "ABC-1", "/tmp/repo", "/tmp/worktrees", domain.WorktreeModeFresh)
	if !errs.Is(err, errs.WorktreeError) {
		t.Fatalf("expected WorktreeError for EXISTS, got %v", err)
	}
}

func TestListActive_ReflectsLiveSet(t *testing.T) {
	m := NewManager(gitclient.NewRunner(), clock.NewFake(time.Unix(0, 0)))
	m.mu.Lock()
	m.live["ABC-1"] = domain.Worktree{IssueID: "ABC-1"}
	m.mu.Unlock()

	active := m.ListActive()
	if _, ok := active["ABC-1"]; !ok {
		t.Error("expected ABC-1 in active set")
	}
}
