package session

import (
	"testing"
	"time"

	"github.com/relayforge/relay/internal/clock"
	"github.com/relayforge/relay/internal/domain"
	"github.com/relayforge/relay/internal/errs"
	"github.com/relayforge/relay/internal/kvstore"
)

func newTestManager(t *testing.T) (*Manager, *clock.Fake) {
	t.Helper()
	live, err := kvstore.New(t.TempDir(), 0o700)
	if err != nil {
		t.Fatalf("live store: %v", err)
	}
	archive, err := kvstore.New(t.TempDir(), 0o700)
	if err != nil {
		t.Fatalf("archive store: %v", err)
	}
	clk := clock.NewFake(time.Unix(0, 0))
	return NewManager(live, archive, clk), clk
}

func TestCreate_RejectsDuplicate(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.Create("ABC-1", "ABC-1", "repo", domain.CleanupRetainSession); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := m.Create("ABC-1", "ABC-1", "repo", domain.CleanupRetainSession)
	if !errs.Is(err, errs.Duplicate) {
		t.Errorf("expected Duplicate, got %v", err)
	}
}

func TestTransitions_TerminalIsIdempotent(t *testing.T) {
	m, clk := newTestManager(t)
	_, _ = m.Create("ABC-1", "ABC-1", "repo", domain.CleanupRetainSession)

	clk.Advance(time.Second)
	if err := m.Complete("ABC-1", "ok", "deadbeef"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	s1, _ := m.Get("ABC-1")
	finishedAt := s1.FinishedAt

	clk.Advance(time.Hour)
	if err := m.Fail("ABC-1", "should not apply"); err != nil {
		t.Fatalf("fail after terminal: %v", err)
	}
	s2, _ := m.Get("ABC-1")
	if s2.Status != domain.SessionDone {
		t.Errorf("expected status to remain DONE, got %s", s2.Status)
	}
	if !s2.FinishedAt.Equal(finishedAt) {
		t.Errorf("expected FinishedAt unchanged, got %v want %v", s2.FinishedAt, finishedAt)
	}
}

func TestIsLive_ChecksMemoryThenDisk(t *testing.T) {
	m, _ := newTestManager(t)
	if m.IsLive("ABC-1") {
		t.Fatal("expected not live before creation")
	}
	m.MarkLive("ABC-1")
	if !m.IsLive("ABC-1") {
		t.Error("expected live after MarkLive")
	}
}

func TestList_ReturnsOnlyLiveSessions(t *testing.T) {
	m, _ := newTestManager(t)
	_, _ = m.Create("ABC-1", "ABC-1", "repo", domain.CleanupRetainSession)
	_, _ = m.Create("ABC-2", "ABC-2", "repo", domain.CleanupArchiveSession)
	if err := m.Complete("ABC-2", "ok", "deadbeef"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	sessions, err := m.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "ABC-1" {
		t.Fatalf("expected only ABC-1 live, got %+v", sessions)
	}
}

func TestComplete_ArchivesWhenPolicyRequests(t *testing.T) {
	m, _ := newTestManager(t)
	_, _ = m.Create("ABC-1", "ABC-1", "repo", domain.CleanupArchiveSession)
	if err := m.Complete("ABC-1", "ok", "deadbeef"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if m.live.Exists("ABC-1") {
		t.Error("expected live record removed after archiving")
	}
	keys, _ := m.archive.List()
	if len(keys) != 1 {
		t.Errorf("expected one archived record, got %d", len(keys))
	}
}
