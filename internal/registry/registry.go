// SPDX-License-Identifier: MIT

// Package registry implements the process-wide work registry (C1): a
// single owned map of active child processes guarded by one exclusive
// lock, plus the death-level counter that carries termination urgency
// from the parent to every supervisor.
//
// This replaces the "global shared hash behind a lock" pattern with a
// single owned value: every public operation takes the lock for its
// entire duration and no operation calls another public operation,
// so there is no re-entrant locking anywhere in this package.
package registry

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/EdenWorX/ewxTools/internal/job"
)

// Registry is the shared substrate every other component observes or
// mutates. The zero value is not usable; construct with New.
type Registry struct {
	mu          sync.Mutex
	childByPID  map[int]*job.ChildRecord
	activeCount int

	// deathLevel is read from a signal handler context (via RaiseDeath)
	// and from the hot polling path of every supervisor, so it is an
	// atomic counter rather than a mutex-guarded field.
	deathLevel atomic.Int32

	// reapedPIDs receives PIDs marked REAPED by the signal-safe reaper
	// path (MarkReapedAsync) without taking mu. The registry's ordinary
	// readers drain this channel on their next locked operation so a
	// reader under the lock always sees an up-to-date status.
	reapedPIDs chan int
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		childByPID: make(map[int]*job.ChildRecord),
		reapedPIDs: make(chan int, 256),
	}
}

// drainReapedLocked applies any pending asynchronous REAPED transitions.
// Must be called with mu held.
func (r *Registry) drainReapedLocked() {
	for {
		select {
		case pid := <-r.reapedPIDs:
			if rec, ok := r.childByPID[pid]; ok && rec.Status != job.StatusReaped {
				if rec.Status < job.StatusReaped {
					r.activeCount--
				}
				rec.Status = job.StatusReaped
			}
		default:
			return
		}
	}
}

// Add registers a new ChildRecord in CREATED status. It fails if pid is
// already present, including one awaiting removal in REAPED status.
func (r *Registry) Add(pid, gid int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drainReapedLocked()

	if _, exists := r.childByPID[pid]; exists {
		return fmt.Errorf("registry: duplicate pid %d", pid)
	}

	r.childByPID[pid] = &job.ChildRecord{
		PID:          pid,
		GID:          gid,
		Status:       job.StatusCreated,
		TimeoutTicks: 0, // set by caller via SetTimeoutTicks once known
	}
	r.activeCount++
	return nil
}

// Remove deletes the record for pid. If cleanup is requested the caller
// is responsible for deleting temporary files before calling Remove;
// this method only ever touches registry bookkeeping. Remove is
// idempotent once the record is REAPED or absent.
func (r *Registry) Remove(pid int, _ bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drainReapedLocked()

	rec, exists := r.childByPID[pid]
	if !exists {
		return true, nil
	}
	if rec.Status < job.StatusReaped {
		// Removing a still-active record is allowed (e.g. forced drain)
		// but the active count must be kept consistent.
		r.activeCount--
	}
	delete(r.childByPID, pid)
	return true, nil
}

// SetStatus transitions pid to status.
func (r *Registry) SetStatus(pid int, status job.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drainReapedLocked()

	rec, exists := r.childByPID[pid]
	if !exists {
		return fmt.Errorf("registry: unknown pid %d", pid)
	}
	wasActive := rec.Status < job.StatusReaped
	rec.Status = status
	nowActive := rec.Status < job.StatusReaped
	if wasActive && !nowActive {
		r.activeCount--
	} else if !wasActive && nowActive {
		r.activeCount++
	}
	return nil
}

// GetStatus returns the current status of pid.
func (r *Registry) GetStatus(pid int) (job.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drainReapedLocked()

	rec, exists := r.childByPID[pid]
	if !exists {
		return job.StatusReaped, fmt.Errorf("registry: unknown pid %d", pid)
	}
	return rec.Status, nil
}

// MarkRestart sets the restart-requested flag on pid.
func (r *Registry) MarkRestart(pid int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drainReapedLocked()

	rec, exists := r.childByPID[pid]
	if !exists {
		return fmt.Errorf("registry: unknown pid %d", pid)
	}
	rec.RestartRequested = true
	return nil
}

// ShallRestart reports whether pid is flagged for restart.
func (r *Registry) ShallRestart(pid int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drainReapedLocked()

	rec, exists := r.childByPID[pid]
	if !exists {
		return false, fmt.Errorf("registry: unknown pid %d", pid)
	}
	return rec.RestartRequested, nil
}

// SnapshotPIDs returns every pid currently tracked, regardless of status.
func (r *Registry) SnapshotPIDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drainReapedLocked()

	pids := make([]int, 0, len(r.childByPID))
	for pid := range r.childByPID {
		pids = append(pids, pid)
	}
	return pids
}

// ActiveCount returns the number of non-REAPED entries.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drainReapedLocked()
	return r.activeCount
}

// Get returns a copy of the ChildRecord for pid, so callers cannot
// mutate registry state without going through a public operation.
func (r *Registry) Get(pid int) (job.ChildRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drainReapedLocked()

	rec, exists := r.childByPID[pid]
	if !exists {
		return job.ChildRecord{}, fmt.Errorf("registry: unknown pid %d", pid)
	}
	return *rec, nil
}

// Mutate applies fn to the ChildRecord for pid under the registry lock.
// fn must not call back into the registry. This is the single escape
// hatch for supervisors and the watchdog to update buffers, exit codes,
// and per-pid escalation state without re-implementing locking at every
// call site.
func (r *Registry) Mutate(pid int, fn func(*job.ChildRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drainReapedLocked()

	rec, exists := r.childByPID[pid]
	if !exists {
		return fmt.Errorf("registry: unknown pid %d", pid)
	}
	wasActive := rec.Status < job.StatusReaped
	fn(rec)
	nowActive := rec.Status < job.StatusReaped
	if wasActive && !nowActive {
		r.activeCount--
	} else if !wasActive && nowActive {
		r.activeCount++
	}
	return nil
}

// MarkReapedAsync transitions pid to REAPED without taking the
// registry's lock. It is safe to call from a signal handler or any
// other context that must not block: it only ever does a non-blocking
// channel send. The transition becomes visible to lock-holding readers
// the next time any public operation runs (each one drains the channel
// first).
func (r *Registry) MarkReapedAsync(pid int) {
	select {
	case r.reapedPIDs <- pid:
	default:
		// Channel full: extremely unlikely (256 concurrent reaps), and
		// dropping here only delays, never loses, the eventual REAPED
		// transition — the next explicit SetStatus/Remove call for this
		// pid will still observe reality via the supervisor's own exit
		// handling.
	}
}

// RaiseDeath increases the death level to at least level. Levels are
// monotonically non-decreasing during a job: a lower value is a no-op.
func (r *Registry) RaiseDeath(level int32) {
	for {
		cur := r.deathLevel.Load()
		if level <= cur {
			return
		}
		if r.deathLevel.CompareAndSwap(cur, level) {
			return
		}
	}
}

// ReadDeath returns the current death level. Safe to call from any
// context, including a signal-handler-adjacent polling loop.
func (r *Registry) ReadDeath() int32 {
	return r.deathLevel.Load()
}
