// SPDX-License-Identifier: MIT

// Package ewxtest provides test-only helpers for asserting the pipeline
// cleanliness invariant: a cleanly completed run leaves no file
// matching any of its temporary templates and no leaked child
// processes.
package ewxtest

import (
	"fmt"
	"os"
	"path/filepath"
)

// TempFileTracker records every temporary path a SourceGroup's
// templates expand to, so a test can assert they are all gone once a
// run finishes.
type TempFileTracker struct {
	paths map[string]struct{}
}

// NewTempFileTracker creates an empty tracker.
func NewTempFileTracker() *TempFileTracker {
	return &TempFileTracker{paths: make(map[string]struct{})}
}

// Track records path as expected to be cleaned up.
func (t *TempFileTracker) Track(path string) {
	t.paths[path] = struct{}{}
}

// TrackAll records every path in paths.
func (t *TempFileTracker) TrackAll(paths ...string) {
	for _, p := range paths {
		t.Track(p)
	}
}

// Leaked returns every tracked path that still exists on disk.
func (t *TempFileTracker) Leaked() []string {
	var leaked []string
	for p := range t.paths {
		if _, err := os.Stat(p); err == nil {
			leaked = append(leaked, p)
		}
	}
	return leaked
}

// LeakedGlobs expands each glob pattern (e.g. a %d segment template with
// %d replaced by "*") and returns matches still present on disk.
func LeakedGlobs(patterns ...string) ([]string, error) {
	var leaked []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("ewxtest: bad glob %q: %w", pattern, err)
		}
		leaked = append(leaked, matches...)
	}
	return leaked, nil
}

// ProcessTracker records PIDs expected to have exited by the end of a
// test, so leaked child processes surface as test failures instead of
// silently lingering.
type ProcessTracker struct {
	pids map[int]struct{}
}

// NewProcessTracker creates an empty tracker.
func NewProcessTracker() *ProcessTracker {
	return &ProcessTracker{pids: make(map[int]struct{})}
}

// Track records pid as expected to have exited.
func (t *ProcessTracker) Track(pid int) {
	t.pids[pid] = struct{}{}
}

// Untrack removes pid once its exit has been observed.
func (t *ProcessTracker) Untrack(pid int) {
	delete(t.pids, pid)
}

// Leaked returns every tracked pid still alive (signal 0 succeeds).
func (t *ProcessTracker) Leaked() []int {
	var leaked []int
	for pid := range t.pids {
		proc, err := os.FindProcess(pid)
		if err != nil {
			continue
		}
		if err := proc.Signal(processProbeSignal); err == nil {
			leaked = append(leaked, pid)
		}
	}
	return leaked
}
