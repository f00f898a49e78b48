// SPDX-License-Identifier: MIT

// Package orchestrator implements the Stage Orchestrator (C4): it
// builds the argv for each ffmpeg invocation of a stage, launches the
// required number of workers through the Supervisor, awaits their
// completion through the Watchdog, and chains to the next stage only
// once every worker of the current one has been reaped successfully.
package orchestrator

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/EdenWorX/ewxTools/internal/job"
	"github.com/EdenWorX/ewxTools/internal/preflight"
	"github.com/EdenWorX/ewxTools/internal/registry"
	"github.com/EdenWorX/ewxTools/internal/resmon"
	"github.com/EdenWorX/ewxTools/internal/supervisor"
	"github.com/EdenWorX/ewxTools/internal/tunables"
	"github.com/EdenWorX/ewxTools/internal/watchdog"
)

// Stage names recorded on every ChildRecord (job.ChildRecord.Stage),
// used by the freeze-restart path to pick the right filter builder.
const (
	StageConcat     = "concat"
	StageSegment    = "segment"
	StageInterpUp   = "interp-up"
	StageInterpDown = "interp-down"
	StageAssemble   = "assemble"
	StageVoice      = "voice"
)

// StageFailure is returned when a stage's children did not all finish
// cleanly; it carries the spec's per-stage exit code (§7: "surface
// stage number as exit 8-12").
type StageFailure struct {
	Stage    string
	ExitCode int
	Detail   string
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("orchestrator: stage %q failed: %s", e.Stage, e.Detail)
}

// stageExitCodes maps a stage name to the spec §6 exit code a failure
// in that stage should surface as: "6-12 per-stage failure (probe,
// grouping, segment, interp-up, interp-down, write list, assemble)".
// Probe (6) and grouping (7) failures surface from the Planner, before
// an Orchestrator ever runs; the Concat stage here is the "write list"
// stage (it writes the concat list file and then stream-copies it).
var stageExitCodes = map[string]int{
	StageConcat:     11,
	StageSegment:    8,
	StageInterpUp:   9,
	StageInterpDown: 10,
	StageAssemble:   12,
}

// Orchestrator drives one Job through every stage. It also implements
// watchdog.ChildController: Terminate/Kill/Reap delegate straight to
// the Supervisor, while Restart is domain logic the Supervisor itself
// cannot provide (it doesn't know the filter graph).
type Orchestrator struct {
	Job        *job.Job
	Registry   *registry.Registry
	Supervisor *supervisor.Supervisor
	Watchdog   *watchdog.Watchdog
	Tools      preflight.Tools
	Tunables   tunables.Tunables

	// KeepTemps mirrors the job's debug flag: when true, stage cleanup
	// is skipped and every temporary path is left in place for
	// post-mortem inspection (spec §7).
	KeepTemps bool

	// DebugLog, when non-nil, receives one line per live child per tick
	// with its /proc-derived resource snapshot (internal/resmon) while
	// KeepTemps is set. It is the Logger.Debug method in production;
	// left nil outside debug runs so no /proc reads happen at all.
	DebugLog func(format string, args ...any)
	// ProcPath lets tests point resmon at a fixture tree instead of the
	// real /proc; defaults to "/proc" when empty.
	ProcPath string

	mu         sync.Mutex
	anyDropDup bool // job-wide monotonic carry into the assemble stage's filter choice
}

// New builds an Orchestrator for j, wiring its own Watchdog against
// reg/sup with the given console writer for the progress indicator.
func New(j *job.Job, reg *registry.Registry, sup *supervisor.Supervisor, tools preflight.Tools, tu tunables.Tunables, console io.Writer) *Orchestrator {
	o := &Orchestrator{
		Job:        j,
		Registry:   reg,
		Supervisor: sup,
		Tools:      tools,
		Tunables:   tu,
		KeepTemps:  j.Debug,
	}
	o.Watchdog = watchdog.New(reg, o, tu, console)
	return o
}

// --- watchdog.ChildController ---

// Terminate implements watchdog.ChildController.
func (o *Orchestrator) Terminate(pid int) error { return o.Supervisor.Terminate(pid) }

// Kill implements watchdog.ChildController.
func (o *Orchestrator) Kill(pid int) error { return o.Supervisor.Kill(pid) }

// Reap implements watchdog.ChildController.
func (o *Orchestrator) Reap(pid int) (job.ChildRecord, error) { return o.Supervisor.Reap(pid) }

// GracefulReap implements watchdog.ChildController.
func (o *Orchestrator) GracefulReap(pid int, termWindow time.Duration) (job.ChildRecord, error) {
	return o.Supervisor.GracefulReap(pid, termWindow)
}

// Restart implements watchdog.ChildController: it toggles the
// alt-algorithm flag, removes the stale progress file, and relaunches
// a replacement worker for the same gid/slot (spec §4.3 step 5).
func (o *Orchestrator) Restart(rec job.ChildRecord) (int, error) {
	if !rec.HasStageParams {
		return 0, fmt.Errorf("orchestrator: restart requested for non-interpolation child pid %d", rec.PID)
	}
	sp := rec.StageParams
	sp.AltAlgorithm = true

	if rec.ProgressPath != "" {
		_ = os.Remove(rec.ProgressPath)
	}

	switch rec.Stage {
	case StageInterpUp:
		return o.spawnInterpWorker(StageInterpUp, rec.GID, sp, rec.SourceTemplate, rec.TargetTemplate, rec.ProgressPath, 0)
	case StageInterpDown:
		return o.spawnInterpWorker(StageInterpDown, rec.GID, sp, rec.SourceTemplate, rec.TargetTemplate, rec.ProgressPath, 0)
	default:
		return 0, fmt.Errorf("orchestrator: restart not supported for stage %q", rec.Stage)
	}
}

// --- helpers shared by every stage ---

func (o *Orchestrator) group(gid int) (*job.SourceGroup, error) {
	for i := range o.Job.SourceGroups {
		if o.Job.SourceGroups[i].ID == gid {
			return &o.Job.SourceGroups[i], nil
		}
	}
	return nil, fmt.Errorf("orchestrator: unknown gid %d", gid)
}

func (o *Orchestrator) sourcesOf(g *job.SourceGroup) []job.Source {
	out := make([]job.Source, len(g.SourceIndexes))
	for i, idx := range g.SourceIndexes {
		out[i] = o.Job.Sources[idx]
	}
	return out
}

// recordDropDup folds a stage's observed drop/dup frames into the
// job-wide carry that the assemble stage's filter choice consults.
// The carry is monotonic: once true, it never resets (spec §5).
func (o *Orchestrator) recordDropDup(sawDropDup bool) {
	if !sawDropDup {
		return
	}
	o.mu.Lock()
	o.anyDropDup = true
	o.mu.Unlock()
}

func (o *Orchestrator) dropDupSoFar() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.anyDropDup
}

// awaitStage runs the Watchdog until every pid has been reaped,
// folding each tick's aggregate drop/dup counters into the job-wide
// carry, then checks every child's final record for a clean exit and
// no error-classed stderr line (spec §4.4 step 4).
func (o *Orchestrator) awaitStage(pids []int, stage string, gid int) error {
	records, err := o.Watchdog.RunUntilDone(pids, gid, o.Tunables.WatchdogTickInterval, func(tick watchdog.TickResult) {
		if tick.Aggregate.DropFrames > 0 || tick.Aggregate.DupFrames > 0 {
			o.recordDropDup(true)
		}
		o.logResourceSnapshots(tick.Live)
	})
	if err != nil {
		return fmt.Errorf("orchestrator: stage %q watchdog: %w", stage, err)
	}

	for _, rec := range records {
		if rec.ExitCode != 0 || containsErrorLine(rec.StderrBuf) {
			return &StageFailure{
				Stage:    stage,
				ExitCode: stageExitCodes[stage],
				Detail:   fmt.Sprintf("pid %d exited %d: %s", rec.PID, rec.ExitCode, rec.ErrorMsg),
			}
		}
	}

	if !o.KeepTemps {
		o.cleanupProgressFiles(records)
	}
	return nil
}

// logResourceSnapshots samples every still-running pid's /proc-derived
// metrics and logs one DEBUG line each, per spec's "in debug mode all
// temporaries are retained and their paths logged" clause extended to
// resource usage (SPEC_FULL: Debug-mode resource snapshots). It is a
// no-op unless KeepTemps and DebugLog are both set, so a normal run
// never touches /proc.
func (o *Orchestrator) logResourceSnapshots(pids []int) {
	if !o.KeepTemps || o.DebugLog == nil {
		return
	}
	procPath := o.ProcPath
	if procPath == "" {
		procPath = "/proc"
	}
	for _, pid := range pids {
		rec, err := o.Registry.Get(pid)
		if err != nil || rec.Status >= job.StatusReaped {
			continue
		}
		m, err := resmon.Sample(procPath, pid)
		if err != nil {
			continue
		}
		o.DebugLog("resmon pid=%d fds=%d threads=%d rss=%d", m.PID, m.FileDescriptors, m.ThreadCount, m.MemoryBytes)
	}
}

func containsErrorLine(lines []string) bool {
	for _, l := range lines {
		if containsFold(l, "error") || containsFold(l, "critical") {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	sl, subl := []rune(s), []rune(substr)
	n, m := len(sl), len(subl)
	if m == 0 || m > n {
		return false
	}
outer:
	for i := 0; i+m <= n; i++ {
		for j := 0; j < m; j++ {
			a, b := sl[i+j], subl[j]
			if a >= 'A' && a <= 'Z' {
				a += 'a' - 'A'
			}
			if b >= 'A' && b <= 'Z' {
				b += 'a' - 'A'
			}
			if a != b {
				continue outer
			}
		}
		return true
	}
	return false
}

func (o *Orchestrator) cleanupProgressFiles(records []job.ChildRecord) {
	for _, rec := range records {
		if rec.ProgressPath != "" {
			_ = os.Remove(rec.ProgressPath)
		}
	}
}
