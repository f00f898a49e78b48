// SPDX-License-Identifier: MIT

//go:build linux

// Package runlock provides a single-host mutual-exclusion guard so two
// invocations of the transcoder never race on the same output path.
// It is not multi-host coordination (the spec's Non-goals exclude
// that): it is a single flock(2)-based lock file beside the output.
package runlock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// RunLock is an exclusive, PID-tracked flock(2) lock.
type RunLock struct {
	mu   sync.Mutex
	path string
	file *os.File
	pid  int
}

// DefaultAcquireTimeout bounds how long Acquire waits for a held lock.
const DefaultAcquireTimeout = 30 * time.Second

// New creates a RunLock for the given path. The lock file's parent
// directory is created if needed.
func New(path string) (*RunLock, error) {
	if path == "" {
		return nil, fmt.Errorf("runlock: path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("runlock: create lock directory: %w", err)
	}
	return &RunLock{path: path, pid: os.Getpid()}, nil
}

// PathForOutput derives the lock path beside a job's output file.
func PathForOutput(outputPath string) string {
	return outputPath + ".lock"
}

// Acquire blocks (honoring ctx) until the lock is obtained or timeout
// elapses. A stale lock (owning process no longer alive) is removed
// automatically before the first attempt.
func (rl *RunLock) Acquire(ctx context.Context, timeout time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if stale, _ := isStale(rl.path); stale {
		_ = os.Remove(rl.path)
	}

	file, err := os.OpenFile(rl.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("runlock: open lock file: %w", err)
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			_ = file.Close()
			return ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				_ = file.Close()
				return fmt.Errorf("runlock: timed out after %v acquiring %s", timeout, rl.path)
			}
		}
	}

	if err := file.Truncate(0); err != nil {
		_ = file.Close()
		return fmt.Errorf("runlock: truncate: %w", err)
	}
	if _, err := file.Seek(0, 0); err != nil {
		_ = file.Close()
		return fmt.Errorf("runlock: seek: %w", err)
	}
	if _, err := fmt.Fprintf(file, "%d\n", rl.pid); err != nil {
		_ = file.Close()
		return fmt.Errorf("runlock: write pid: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("runlock: sync: %w", err)
	}

	rl.mu.Lock()
	rl.file = file
	rl.mu.Unlock()
	return nil
}

// Release unlocks and closes the lock file, removing it from disk.
func (rl *RunLock) Release() error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.file == nil {
		return nil
	}
	_ = unix.Flock(int(rl.file.Fd()), unix.LOCK_UN)
	err := rl.file.Close()
	rl.file = nil
	_ = os.Remove(rl.path)
	return err
}

// isStale reports whether the lock file at path names a PID that is no
// longer alive. An absent file is not stale (nothing to steal).
func isStale(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	pidStr := strings.TrimSpace(string(data))
	if pidStr == "" {
		return true, nil
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return true, nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return true, nil
	}
	// FindProcess always succeeds on Unix; signal 0 actually probes.
	if err := proc.Signal(unix.Signal(0)); err == nil {
		return false, nil
	}
	return true, nil
}
