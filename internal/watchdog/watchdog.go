// SPDX-License-Identifier: MIT

// Package watchdog implements the Progress Watchdog (C3): it tails
// every running child's progress file, aggregates the most recent
// frame across siblings, renders the one-line console indicator, and
// escalates through TERM, KILL, synchronous reap, and finally an
// alt-algorithm restart when a child stops making progress.
package watchdog

import (
	"fmt"
	"io"
	"time"

	"github.com/EdenWorX/ewxTools/internal/job"
	"github.com/EdenWorX/ewxTools/internal/registry"
	"github.com/EdenWorX/ewxTools/internal/tunables"
)

// ChildController is how the watchdog affects the outside world: every
// strike escalation step delegates to one of these methods rather than
// touching exec.Cmd or the filesystem directly, so the escalation state
// machine in this package can be tested without spawning real
// processes.
type ChildController interface {
	// Terminate sends a graceful termination request (SIGTERM) to pid.
	Terminate(pid int) error
	// Kill sends a forceful termination request (SIGKILL) to pid.
	Kill(pid int) error
	// Reap forces pid to exit, waits for it, and removes its record,
	// returning the final record as it stood the instant before
	// removal. This is strike 13's synchronous reap.
	Reap(pid int) (job.ChildRecord, error)
	// GracefulReap sends TERM, waits up to termWindow, escalates to
	// KILL if the child is still alive, waits out the controller's own
	// kill deadline, then removes the record and returns its final
	// state. This is the final drain's graduated teardown (spec §5),
	// distinct from Reap's immediate kill used during strike escalation.
	GracefulReap(pid int, termWindow time.Duration) (job.ChildRecord, error)
	// Restart rebuilds argv with the alt-algorithm toggled on (when the
	// record carries stage params), removes the stale progress file,
	// and launches a replacement worker for the same gid/slot. It
	// returns the new pid.
	Restart(rec job.ChildRecord) (int, error)
}

// Strike result codes, returned by the per-pid escalation step so
// callers (and tests) can observe exactly what happened.
const (
	StrikeNone    = 0
	StrikeTerm    = 1
	StrikeKill    = 7
	StrikeReap    = 13
	StrikeRestart = 18 // sentinel: ">17" in spec terms
)

// Watchdog owns no per-child state (its only own field, lastLineLen,
// tracks the console indicator's width): all per-child escalation state (TimeoutTicks, StrikeCount) lives in the registry's
// ChildRecord, matching the specification's "encapsulate per-child
// escalation state inside the ChildRecord" design note.
type Watchdog struct {
	Registry   *registry.Registry
	Controller ChildController
	Tunables   tunables.Tunables
	Console    io.Writer

	lastLineLen int
}

// New creates a Watchdog.
func New(reg *registry.Registry, ctrl ChildController, tu tunables.Tunables, console io.Writer) *Watchdog {
	return &Watchdog{Registry: reg, Controller: ctrl, Tunables: tu, Console: console}
}

// TickResult summarizes one tick's outcome for logging and tests.
type TickResult struct {
	Active    int
	Total     int
	Aggregate job.ProgressFrame
	Strikes   map[int]int // pid -> strike action taken this tick (StrikeNone if none)
	// Restarted maps an old (freeze-restarted) pid to its replacement,
	// for every restart this tick performed. The caller must substitute
	// the new pid for the old one in whatever set of pids it is still
	// polling, draining, or checking for a clean exit.
	Restarted []PIDReplacement
	// Live is the exact pid set this tick actually considered, reported
	// back so a caller that seeded an earlier set (before any restarts)
	// can keep its own bookkeeping (e.g. resource-usage sampling) in
	// sync without duplicating the Restarted bookkeeping itself.
	Live []int
}

// PIDReplacement records one freeze-restart substitution within a tick.
type PIDReplacement struct {
	Old int
	New int
}

// Tick runs one watchdog cycle over pids (the children belonging to the
// stage currently being awaited).
func (w *Watchdog) Tick(pids []int) (TickResult, error) {
	result := TickResult{Total: len(pids), Strikes: map[int]int{}, Live: pids}
	deathLevel := w.Registry.ReadDeath()

	for _, pid := range pids {
		rec, err := w.Registry.Get(pid)
		if err != nil {
			continue // already removed
		}
		if rec.Status >= job.StatusReaped {
			continue
		}

		state, frame := w.readProgress(rec.ProgressPath)

		switch state {
		case job.FrameContinue:
			result.Active++
			accumulate(&result.Aggregate, frame)
		case job.FrameEnded:
			accumulate(&result.Aggregate, frame)
		case job.FrameNone:
			if rec.Status == job.StatusRunning {
				result.Active++
			}
		}

		_ = w.Registry.Mutate(pid, func(r *job.ChildRecord) {
			switch state {
			case job.FrameContinue, job.FrameEnded:
				r.TimeoutTicks = w.Tunables.TimeoutIntervals
			case job.FrameNone:
				if r.Status == job.StatusRunning {
					r.TimeoutTicks--
				}
			}
		})

		minStrike := requiredStrikeForDeathLevel(deathLevel, w.Tunables)
		rec, _ = w.Registry.Get(pid)
		frozen := rec.TimeoutTicks <= 0 && (rec.Status == job.StatusRunning || rec.RestartRequested)

		if frozen || minStrike > StrikeNone {
			action, newPID, err := w.escalate(pid, minStrike)
			if err != nil {
				return result, fmt.Errorf("watchdog: escalate pid %d: %w", pid, err)
			}
			result.Strikes[pid] = action
			if action == StrikeRestart && newPID != 0 {
				result.Restarted = append(result.Restarted, PIDReplacement{Old: pid, New: newPID})
			}
		}
	}

	return result, nil
}

// readProgress tails the progress file and parses its most recent
// frame. A missing file (not yet created, or already cleaned up) is
// reported as FrameNone, not an error: the caller decrements the
// timeout exactly as if no new frame had been written.
func (w *Watchdog) readProgress(path string) (job.FrameState, job.ProgressFrame) {
	if path == "" {
		return job.FrameNone, job.ProgressFrame{}
	}
	lines, err := TailLines(path, 20)
	if err != nil {
		return job.FrameNone, job.ProgressFrame{}
	}
	f := ParseFrame(lines)
	return f.State, f
}

func accumulate(agg *job.ProgressFrame, f job.ProgressFrame) {
	agg.BitrateBPS += f.BitrateBPS
	agg.DupFrames += f.DupFrames
	agg.DropFrames += f.DropFrames
	agg.FPS += f.FPS
	agg.Frame += f.Frame
	agg.TotalSize += f.TotalSize
	if f.OutTimeMs > agg.OutTimeMs {
		agg.OutTimeMs = f.OutTimeMs
	}
}

// requiredStrikeForDeathLevel maps a raised death level onto the
// minimum strike action every live child must receive this tick, so a
// signalled shutdown drains all children within a bounded window (spec
// §9: "call the same strike path with escalating severity").
func requiredStrikeForDeathLevel(level int32, tu tunables.Tunables) int {
	switch {
	case level >= 4:
		return tu.StrikeKill
	case level >= 1:
		return tu.StrikeTerm
	default:
		return StrikeNone
	}
}

// escalate performs the strike sequence for pid, applying whichever of
// the natural per-pid strike count or the death-level-driven minimum is
// higher. It returns the strike action taken and, for a restart, the
// new pid the caller must start tracking in pid's place.
func (w *Watchdog) escalate(pid int, minStrike int) (int, int, error) {
	var strikeCount int
	err := w.Registry.Mutate(pid, func(r *job.ChildRecord) {
		r.StrikeCount++
		if minStrike > r.StrikeCount {
			r.StrikeCount = minStrike
		}
		strikeCount = r.StrikeCount
	})
	if err != nil {
		return StrikeNone, 0, err
	}

	switch {
	case strikeCount == w.Tunables.StrikeTerm:
		if err := w.Controller.Terminate(pid); err != nil {
			return StrikeNone, 0, err
		}
		_ = w.Registry.MarkRestart(pid)
		return StrikeTerm, 0, nil

	case strikeCount == w.Tunables.StrikeKill:
		if err := w.Controller.Kill(pid); err != nil {
			return StrikeNone, 0, err
		}
		_ = w.Registry.MarkRestart(pid)
		return StrikeKill, 0, nil

	case strikeCount == w.Tunables.StrikeReap:
		if _, err := w.Controller.Reap(pid); err != nil {
			return StrikeNone, 0, err
		}
		return StrikeReap, 0, nil

	case strikeCount > w.Tunables.StrikeRestartThreshold:
		rec, err := w.Registry.Get(pid)
		if err != nil {
			return StrikeNone, 0, err
		}
		newPID, err := w.Controller.Restart(rec)
		if err != nil {
			return StrikeNone, 0, err
		}
		_, _ = w.Registry.Remove(pid, false) // clear old record without cleanup
		return StrikeRestart, newPID, nil
	}

	return StrikeNone, 0, nil
}

// RenderLine writes the in-place console progress indicator, overwriting
// the previous line with a carriage return.
func (w *Watchdog) RenderLine(result TickResult) {
	if w.Console == nil {
		return
	}
	line := FormatProgressLine(result.Active, result.Total, result.Aggregate)
	pad := ""
	if len(line) < w.lastLineLen {
		pad = spaces(w.lastLineLen - len(line))
	}
	w.lastLineLen = len(line)
	fmt.Fprintf(w.Console, "\r%s%s", line, pad)
}

// ClearLine erases the in-place progress indicator once a stage ends.
func (w *Watchdog) ClearLine() {
	if w.Console == nil || w.lastLineLen == 0 {
		return
	}
	fmt.Fprintf(w.Console, "\r%s\r", spaces(w.lastLineLen))
	w.lastLineLen = 0
}

func spaces(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}

// Drain waits for every remaining pid (those still non-REAPED) to exit
// and removes their record with cleanup, per spec §4.3 step 7 and the
// final drain's graduated 3/4/5/6/7s TERM window (spec §5): the i-th
// straggler gets the i-th window from Tunables.DrainTermWindows (the
// last window repeats for stragglers beyond its length). It returns
// the final ChildRecord of every pid it drained, captured the instant
// before its registry entry was removed, so the caller can still check
// exit codes and stderr after every record is gone.
func (w *Watchdog) Drain(pids []int) ([]job.ChildRecord, error) {
	records := make([]job.ChildRecord, 0, len(pids))
	for i, pid := range pids {
		rec, err := w.Registry.Get(pid)
		if err != nil {
			continue
		}
		if rec.Status >= job.StatusReaped {
			continue
		}
		final, err := w.Controller.GracefulReap(pid, drainTermWindow(w.Tunables.DrainTermWindows, i))
		if err != nil {
			return records, fmt.Errorf("watchdog: drain pid %d: %w", pid, err)
		}
		records = append(records, final)
	}
	return records, nil
}

// drainTermWindow picks the i-th graduated TERM window, clamping to the
// last configured window once i runs past the configured list.
func drainTermWindow(windows []time.Duration, i int) time.Duration {
	if len(windows) == 0 {
		return 0
	}
	if i >= len(windows) {
		return windows[len(windows)-1]
	}
	return windows[i]
}

// RunUntilDone ticks every tickInterval until every tracked pid has
// been removed from the registry, rendering the console indicator
// after every tick. pids seeds the tracked set; a freeze-restart
// reported by a tick (TickResult.Restarted) substitutes the new pid
// for the old one in that set, so a restarted worker is polled,
// drained, and exit-code-checked exactly like the one it replaced.
// Before every tick the tracked set is also reconciled against
// registry.SnapshotPIDs() for gid, so a replacement this loop's own
// bookkeeping missed (or any other still-live child of the group) is
// picked up rather than silently drained and exit-code-checked by
// nobody. Once a tick reports no active child it returns the final
// ChildRecord, captured by Drain just before removal, of every tracked
// pid still in the registry (a restarted worker is represented by its
// replacement), for the caller's own per-stage success check (spec
// §4.4 step 4). If no tracked pid is left in the registry at the start
// of a tick it returns nil.
func (w *Watchdog) RunUntilDone(pids []int, gid int, tickInterval time.Duration, onDone func(TickResult)) ([]job.ChildRecord, error) {
	tracked := append([]int(nil), pids...)

	for {
		tracked = w.reconcileGroup(tracked, gid)
		remaining := w.livePIDs(tracked)
		if len(remaining) == 0 {
			w.ClearLine()
			return nil, nil
		}

		result, err := w.Tick(remaining)
		if err != nil {
			return nil, err
		}
		w.RenderLine(result)
		if onDone != nil {
			onDone(result)
		}
		for _, rep := range result.Restarted {
			tracked = replacePID(tracked, rep.Old, rep.New)
		}
		if result.Active == 0 {
			tracked = w.reconcileGroup(tracked, gid)
			return w.Drain(w.livePIDs(tracked))
		}
		time.Sleep(tickInterval)
	}
}

// reconcileGroup folds any live child of gid the registry knows about
// but tracked does not yet contain into tracked. SnapshotPIDs gives
// this package a registry-wide view independent of whatever set the
// caller seeded or any single tick's Restarted bookkeeping, so a
// freeze-restart's replacement pid is still picked up even if an
// earlier step failed to thread it through explicitly.
func (w *Watchdog) reconcileGroup(tracked []int, gid int) []int {
	for _, pid := range w.Registry.SnapshotPIDs() {
		if containsInt(tracked, pid) {
			continue
		}
		rec, err := w.Registry.Get(pid)
		if err != nil || rec.GID != gid || rec.Status >= job.StatusReaped {
			continue
		}
		tracked = append(tracked, pid)
	}
	return tracked
}

func containsInt(haystack []int, needle int) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

func (w *Watchdog) livePIDs(pids []int) []int {
	var live []int
	for _, pid := range pids {
		rec, err := w.Registry.Get(pid)
		if err != nil {
			continue
		}
		if rec.Status < job.StatusReaped {
			live = append(live, pid)
		}
	}
	return live
}

// replacePID returns a copy of pids with every occurrence of oldPID
// substituted by newPID.
func replacePID(pids []int, oldPID, newPID int) []int {
	out := make([]int, len(pids))
	for i, p := range pids {
		if p == oldPID {
			out[i] = newPID
		} else {
			out[i] = p
		}
	}
	return out
}
