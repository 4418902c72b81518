// Package lockdir implements the re-architected "in-memory live-session
// map + filesystem lock combo" from the design notes: a single
// LockDirectory abstraction with per-id leases and TTLs, so a stale lock
// left behind by a crashed worker expires predictably instead of wedging
// an issue id forever. It generalizes the teacher's activeRuns map +
// addActiveRun/removeActiveRun pattern from
// internal/orchestrator/orchestrator.go.
package lockdir

import (
	"sync"
	"time"

	"github.com/relayforge/relay/internal/clock"
	"github.com/relayforge/relay/internal/errs"
)

type lease struct {
	expiresAt time.Time
}

// LockDirectory grants per-id leases. Acquiring an id that already has a
// live (non-expired) lease fails; acquiring one whose lease has expired
// succeeds and replaces it.
type LockDirectory struct {
	clk clock.Clock
	ttl time.Duration

	mu     sync.Mutex
	leases map[string]lease
}

// New constructs a LockDirectory whose leases expire after ttl unless
// renewed or released.
func New(clk clock.Clock, ttl time.Duration) *LockDirectory {
	return &LockDirectory{clk: clk, ttl: ttl, leases: make(map[string]lease)}
}

// Acquire grants a lease for id, failing with errs.Busy if a live lease is
// already held.
func (d *LockDirectory) Acquire(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clk.Now()
	if l, ok := d.leases[id]; ok && now.Before(l.expiresAt) {
		return errs.New(errs.Busy, id, false, nil)
	}
	d.leases[id] = lease{expiresAt: now.Add(d.ttl)}
	return nil
}

// Renew extends an already-held lease's expiry; it is a no-op if the id
// isn't currently held (the caller lost the lease to expiry).
func (d *LockDirectory) Renew(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clk.Now()
	if l, ok := d.leases[id]; ok && now.Before(l.expiresAt) {
		d.leases[id] = lease{expiresAt: now.Add(d.ttl)}
	}
}

// Release drops the lease for id immediately, regardless of expiry.
func (d *LockDirectory) Release(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.leases, id)
}

// Held reports whether id currently has a live lease.
func (d *LockDirectory) Held(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.leases[id]
	return ok && d.clk.Now().Before(l.expiresAt)
}

// Count returns the number of live leases, pruning expired ones first.
func (d *LockDirectory) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clk.Now()
	n := 0
	for id, l := range d.leases {
		if now.Before(l.expiresAt) {
			n++
		} else {
			delete(d.leases, id)
		}
	}
	return n
}
