// Package worktree implements the worktree manager: creates and cleans
// isolated working copies of a repository tied to an issue identifier, per
// spec.md §4.5. The per-id keyed lock and live-set bookkeeping generalize
// the teacher's activeRuns map pattern from
// internal/orchestrator/orchestrator.go.
package worktree

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/relayforge/relay/internal/clock"
	"github.com/relayforge/relay/internal/domain"
	"github.com/relayforge/relay/internal/errs"
	"github.com/relayforge/relay/internal/gitclient"
)

// Manager creates and cleans up working copies. One Manager instance is
// shared across the process; operations for distinct issue ids proceed in
// parallel, serialized per issue id via a keyed lock.
type Manager struct {
	git *gitclient.Runner
	clk clock.Clock

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	live  map[string]domain.Worktree
}

// NewManager constructs a Manager.
func NewManager(git *gitclient.Runner, clk clock.Clock) *Manager {
	return &Manager{
		git:   git,
		clk:   clk,
		locks: make(map[string]*sync.Mutex),
		live:  make(map[string]domain.Worktree),
	}
}

func (m *Manager) lockFor(issueID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[issueID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[issueID] = l
	}
	return l
}

func standardPath(base, issueID string) string {
	return filepath.Join(base, issueID)
}

// BranchName deterministically derives a branch name from an issue id, for
// branch-per-issue mode.
func BranchName(issueID string) string {
	sum := sha256.Sum256([]byte(issueID))
	return fmt.Sprintf("agent/%s-%s", issueID, hex.EncodeToString(sum[:])[:8])
}

// Create materializes a working copy per mode, failing with EXISTS if the
// issue id is already live.
func (m *Manager) Create(ctx context.Context, issueID, repoPath, worktreeBase string, mode domain.WorktreeMode) (domain.Worktree, error) {
	l := m.lockFor(issueID)
	l.Lock()
	defer l.Unlock()

	m.mu.Lock()
	_, exists := m.live[issueID]
	m.mu.Unlock()
	if exists {
		return domain.Worktree{}, errs.New(errs.WorktreeError, "EXISTS", false, nil)
	}

	path := standardPath(worktreeBase, issueID)

	var wt domain.Worktree
	var err error
	switch mode {
	case domain.WorktreeModeFresh:
		wt, err = m.createFresh(ctx, issueID, repoPath, path)
	case domain.WorktreeModeReuse:
		wt, err = m.createReuse(ctx, issueID, repoPath, path)
	case domain.WorktreeModeBranchPerIssue:
		wt, err = m.createBranchPerIssue(ctx, issueID, repoPath, path)
	default:
		return domain.Worktree{}, errs.New(errs.WorktreeError, fmt.Sprintf("unknown worktree mode %q", mode), false, nil)
	}
	if err != nil {
		return domain.Worktree{}, err
	}

	m.mu.Lock()
	m.live[issueID] = wt
	m.mu.Unlock()
	return wt, nil
}

func (m *Manager) createFresh(ctx context.Context, issueID, repoPath, path string) (domain.Worktree, error) {
	_ = os.RemoveAll(path)

	if _, err := m.git.Run(ctx, repoPath, "worktree", "add", "--detach", path, "HEAD"); err != nil {
		_ = os.RemoveAll(path)
		return domain.Worktree{}, err
	}
	base, err := m.headCommit(ctx, path)
	if err != nil {
		_ = os.RemoveAll(path)
		return domain.Worktree{}, err
	}
	return domain.Worktree{IssueID: issueID, Path: path, BaseCommit: base, CreatedAt: m.clk.Now()}, nil
}

func (m *Manager) createReuse(ctx context.Context, issueID, repoPath, path string) (domain.Worktree, error) {
	if _, err := os.Stat(path); err != nil {
		return m.createFresh(ctx, issueID, repoPath, path)
	}

	res, err := m.git.Run(ctx, path, "status", "--porcelain")
	if err != nil {
		return domain.Worktree{}, err
	}
	if res.Stdout != "" {
		return domain.Worktree{}, errs.New(errs.WorktreeError, "BUSY", false, nil)
	}

	base, err := m.headCommit(ctx, path)
	if err != nil {
		return domain.Worktree{}, err
	}
	return domain.Worktree{IssueID: issueID, Path: path, BaseCommit: base, CreatedAt: m.clk.Now()}, nil
}

func (m *Manager) createBranchPerIssue(ctx context.Context, issueID, repoPath, path string) (domain.Worktree, error) {
	branch := BranchName(issueID)

	if _, err := os.Stat(path); err == nil {
		base, err := m.headCommit(ctx, path)
		if err != nil {
			return domain.Worktree{}, err
		}
		return domain.Worktree{IssueID: issueID, Path: path, Branch: branch, BaseCommit: base, CreatedAt: m.clk.Now()}, nil
	}

	if _, err := m.git.Run(ctx, repoPath, "worktree", "add", "-B", branch, path, "HEAD"); err != nil {
		_ = os.RemoveAll(path)
		return domain.Worktree{}, err
	}
	base, err := m.headCommit(ctx, path)
	if err != nil {
		_ = os.RemoveAll(path)
		return domain.Worktree{}, err
	}
	return domain.Worktree{IssueID: issueID, Path: path, Branch: branch, BaseCommit: base, CreatedAt: m.clk.Now()}, nil
}

func (m *Manager) headCommit(ctx context.Context, path string) (string, error) {
	res, err := m.git.Run(ctx, path, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return trimNewline(res.Stdout), nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// Cleanup removes the working copy for issueID. Idempotent: repeated calls
// succeed.
func (m *Manager) Cleanup(ctx context.Context, issueID string) error {
	l := m.lockFor(issueID)
	l.Lock()
	defer l.Unlock()

	m.mu.Lock()
	wt, ok := m.live[issueID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if _, err := m.git.Run(ctx, filepath.Dir(wt.Path), "worktree", "remove", "--force", wt.Path); err != nil {
		_ = os.RemoveAll(wt.Path)
	}

	m.mu.Lock()
	delete(m.live, issueID)
	m.mu.Unlock()
	return nil
}

// Retain keeps the live-set entry but marks a failed session's worktree as
// retained for operator inspection (no-op beyond not calling Cleanup; kept
// as a named operation for callers to express intent clearly).
func (m *Manager) Retain(issueID string) {}

// ListActive returns the set of issue ids with a currently live worktree.
func (m *Manager) ListActive() map[string]domain.Worktree {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.Worktree, len(m.live))
	for k, v := range m.live {
		out[k] = v
	}
	return out
}

// IsClean runs `git status --porcelain` in the worktree and reports
// whether it produced no output, used by the Orchestrator's verification
// step (spec.md §4.8 step 6).
func (m *Manager) IsClean(ctx context.Context, path string) (bool, error) {
	res, err := m.git.Run(ctx, path, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return res.Stdout == "", nil
}
