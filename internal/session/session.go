// Package session implements the session manager: issues a state machine
// per execution attempt and persists its transitions, per spec.md §4.6.
// The state machine itself lives in internal/domain; this package adds
// creation, per-id write serialization, the disk-space guard, and
// archive/prune sweeps.
package session

import (
	"strconv"
	"sync"
	"time"

	"github.com/relayforge/relay/internal/clock"
	"github.com/relayforge/relay/internal/domain"
	"github.com/relayforge/relay/internal/errs"
	"github.com/relayforge/relay/internal/kvstore"
)

const (
	minFreeBytes    = 100 << 20 // 100 MiB
	archiveMaxAge   = 7 * 24 * time.Hour
)

// Manager owns the live session store, the archive store, and a per-id
// write lock, per spec.md's "each write is serialized per session id"
// rule.
type Manager struct {
	live    *kvstore.Store
	archive *kvstore.Store
	clk     clock.Clock

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	liveSetMu sync.RWMutex
	liveSet   map[string]struct{}
}

// NewManager constructs a Manager backed by the live and archive stores.
func NewManager(live, archive *kvstore.Store, clk clock.Clock) *Manager {
	return &Manager{
		live:    live,
		archive: archive,
		clk:     clk,
		locks:   make(map[string]*sync.Mutex),
		liveSet: make(map[string]struct{}),
	}
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func (m *Manager) checkDiskSpace() error {
	free, err := m.live.FreeBytes()
	if err != nil {
		return errs.New(errs.PersistenceError, "check free disk space", false, err)
	}
	if free < minFreeBytes {
		return errs.New(errs.PersistenceError, "INSUFFICIENT_DISK", false, nil)
	}
	return nil
}

// Create issues a new STARTED session for issueID, failing with DUPLICATE
// if a live session with the same id already exists (in-memory set AND
// filesystem, matching the invariant-1 enforcement in spec.md §3).
func (m *Manager) Create(id, issueID, repository string, policy domain.CleanupPolicy) (*domain.Session, error) {
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	m.liveSetMu.RLock()
	_, inMemory := m.liveSet[id]
	m.liveSetMu.RUnlock()
	if inMemory || m.live.Exists(id) {
		return nil, errs.New(errs.Duplicate, "DUPLICATE", false, nil)
	}

	if err := m.checkDiskSpace(); err != nil {
		return nil, err
	}

	now := m.clk.Now()
	s := domain.NewSession(id, issueID, repository, policy, now)
	if err := m.live.Create(id, s); err != nil {
		return nil, err
	}

	m.liveSetMu.Lock()
	m.liveSet[id] = struct{}{}
	m.liveSetMu.Unlock()
	return s, nil
}

// Get loads the live session for id.
func (m *Manager) Get(id string) (*domain.Session, error) {
	var s domain.Session
	if err := m.live.Get(id, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// IsLive reports whether id is in the in-memory live set or has a record
// in the live store, consulting the in-memory set first and the filesystem
// second, per spec.md §4.1 step 5. A terminal session whose cleanup policy
// keeps its live record still counts as live.
func (m *Manager) IsLive(id string) bool {
	m.liveSetMu.RLock()
	_, ok := m.liveSet[id]
	m.liveSetMu.RUnlock()
	if ok {
		return true
	}
	return m.live.Exists(id)
}

// MarkLive adds id to the in-memory live set before any persistence write,
// implementing spec.md §4.1 step 7: "The live-set entry is added BEFORE
// the HTTP response so a second webhook... is rejected."
func (m *Manager) MarkLive(id string) {
	m.liveSetMu.Lock()
	m.liveSet[id] = struct{}{}
	m.liveSetMu.Unlock()
}

// TrackProcess, Complete, and Fail each load, mutate, and persist a
// session transition under its per-id lock, flushing to disk before
// returning, per spec.md §4.6.
func (m *Manager) TrackProcess(id, handle string) error {
	return m.transition(id, func(s *domain.Session) { s.TrackProcess(handle, m.clk.Now()) })
}

func (m *Manager) Complete(id, reason, commit string) error {
	return m.transition(id, func(s *domain.Session) { s.Complete(reason, commit, m.clk.Now()) })
}

func (m *Manager) Fail(id, reason string) error {
	return m.transition(id, func(s *domain.Session) { s.Fail(reason, m.clk.Now()) })
}

func (m *Manager) transition(id string, mutate func(*domain.Session)) error {
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	var s domain.Session
	if err := m.live.Get(id, &s); err != nil {
		return err
	}

	wasTerminal := s.Status.IsTerminal()
	mutate(&s)

	if err := m.checkDiskSpace(); err != nil {
		return err
	}
	if err := m.live.Put(id, &s); err != nil {
		return err
	}

	if !wasTerminal && s.Status.IsTerminal() {
		m.finalizeLiveSet(id, &s)
	}
	return nil
}

// finalizeLiveSet applies the session's cleanup policy once it reaches a
// terminal state: archives or removes it from the live store, and always
// drops it from the in-memory live set.
func (m *Manager) finalizeLiveSet(id string, s *domain.Session) {
	m.liveSetMu.Lock()
	delete(m.liveSet, id)
	m.liveSetMu.Unlock()

	switch s.CleanupPolicy {
	case domain.CleanupArchiveSession:
		archiveKey := archiveKey(id, m.clk.Now())
		_ = m.archive.Put(archiveKey, s)
		_ = m.live.Delete(id)
	case domain.CleanupDeleteWorktree:
		// Worktree deletion is the Worktree Manager's job; the session
		// record itself is retained for the operator unless archived.
	case domain.CleanupRetainSession:
		// no-op: keep the live record as-is.
	}
}

func archiveKey(id string, now time.Time) string {
	return id + "_" + strconv.FormatInt(now.Unix(), 10)
}

// List returns every live session, for operator inspection (spec.md
// §4.1's "operator tooling can resume" guarantee).
func (m *Manager) List() ([]*domain.Session, error) {
	keys, err := m.live.List()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Session, 0, len(keys))
	for _, key := range keys {
		var s domain.Session
		if err := m.live.Get(key, &s); err != nil {
			continue
		}
		out = append(out, &s)
	}
	return out, nil
}

// PruneArchive removes archived sessions older than 7 days, per spec.md
// §4.6's sweep routine.
func (m *Manager) PruneArchive() error {
	keys, err := m.archive.List()
	if err != nil {
		return err
	}
	now := m.clk.Now()
	for _, key := range keys {
		var s domain.Session
		if err := m.archive.Get(key, &s); err != nil {
			continue
		}
		if now.Sub(s.FinishedAt) > archiveMaxAge {
			_ = m.archive.Delete(key)
		}
	}
	return nil
}
