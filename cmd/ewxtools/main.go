// SPDX-License-Identifier: MIT

// Command ewxtools is the batch video transcoder pipeline scheduler:
// it probes every -i input, partitions them into SourceGroups, and
// drives each group through concat, segment, interp-up, interp-down,
// and assemble, supervising every external ffmpeg/ffprobe invocation
// and watching its progress file for freezes.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"

	"github.com/EdenWorX/ewxTools/internal/debugdump"
	"github.com/EdenWorX/ewxTools/internal/ewxlog"
	"github.com/EdenWorX/ewxTools/internal/job"
	"github.com/EdenWorX/ewxTools/internal/orchestrator"
	"github.com/EdenWorX/ewxTools/internal/planner"
	"github.com/EdenWorX/ewxTools/internal/preflight"
	"github.com/EdenWorX/ewxTools/internal/registry"
	"github.com/EdenWorX/ewxTools/internal/runlock"
	"github.com/EdenWorX/ewxTools/internal/safego"
	"github.com/EdenWorX/ewxTools/internal/supervisor"
	"github.com/EdenWorX/ewxTools/internal/tunables"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// Exit codes (spec §6/§7).
const (
	exitSuccess        = 0
	exitGenericFailure = 1
	exitBadUsage       = 2
	exitMissingTool    = 3
	exitProbeFailure   = 6
	exitWorkerCrash    = 23
	exitSignalled      = 42
	exitSelfKill       = 43
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// cliArgs holds the parsed, not-yet-validated CLI inputs (spec §6).
type cliArgs struct {
	inputs       []string
	output       string
	tempDir      string
	splitVoice   bool
	forceUpgrade bool
	maxFPS       int
	targetFPS    int
	help         bool
	version      bool
	debug        bool
	lockDebug    bool
}

// parseArgs parses argv in the manual prefix-matching style the rest
// of this codebase's CLI tooling uses rather than the stdlib flag
// package, since -i is repeatable and several flags carry both a short
// and a long spelling.
func parseArgs(args []string) (cliArgs, error) {
	var a cliArgs
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-i" && i+1 < len(args):
			a.inputs = append(a.inputs, args[i+1])
			i++
		case args[i] == "-o" && i+1 < len(args):
			a.output = args[i+1]
			i++
		case (args[i] == "-t" || args[i] == "--tempdir") && i+1 < len(args):
			a.tempDir = args[i+1]
			i++
		case args[i] == "-s" || args[i] == "--splitaudio":
			a.splitVoice = true
		case args[i] == "-u" || args[i] == "--upgrade":
			a.forceUpgrade = true
		case args[i] == "--maxfps" && i+1 < len(args):
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				return a, fmt.Errorf("--maxfps: %w", err)
			}
			a.maxFPS = n
			i++
		case args[i] == "--targetfps" && i+1 < len(args):
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				return a, fmt.Errorf("--targetfps: %w", err)
			}
			a.targetFPS = n
			i++
		case args[i] == "-h" || args[i] == "--help":
			a.help = true
		case args[i] == "-V" || args[i] == "--version":
			a.version = true
		case args[i] == "-D" || args[i] == "--debug":
			a.debug = true
		case args[i] == "--lock-debug":
			a.lockDebug = true
		default:
			return a, fmt.Errorf("unrecognized argument: %s", args[i])
		}
	}
	return a, nil
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `ewxtools - batch video transcoder pipeline scheduler

USAGE:
    ewxtools -i PATH [-i PATH ...] -o PATH [OPTIONS]

OPTIONS:
    -i PATH              Input file; repeatable, at least one required.
    -o PATH               Output file; must end in .mkv and must not exist.
    -t, --tempdir PATH    Single temp dir; otherwise per-input dir is used.
    -s, --splitaudio      Route the second audio stream into a sibling .wav.
    -u, --upgrade         Force a 60 fps target.
    --maxfps N            Override the interpolation ceiling.
    --targetfps N         Override the final target frame rate.
    -D, --debug           Keep every temporary file and log their paths.
    --lock-debug          Verbose logging of the run-lock acquisition.
    -h, --help            Show this help message.
    -V, --version         Show version information.
`)
}

// run parses args, drives the whole pipeline, and returns the process
// exit code; extracted from main for testability.
func run(args []string, stdout, stderr io.Writer) int {
	a, err := parseArgs(args)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitBadUsage
	}
	if a.help {
		printUsage(stdout)
		return exitSuccess
	}
	if a.version {
		fmt.Fprintf(stdout, "ewxtools %s\n", Version)
		return exitSuccess
	}
	if len(a.inputs) == 0 || a.output == "" {
		fmt.Fprintln(stderr, "Error: at least one -i input and an -o output are required")
		return exitBadUsage
	}

	// Open Question (spec §9): whether a --maxfps/--targetfps override
	// below 1 should be rejected or ignored. Resolved here (see
	// DESIGN.md) the same way job.Job.UserMaxFPS/UserTargetFPS already
	// treat the zero value: silently ignored rather than an error, so a
	// stray "--maxfps 0" behaves exactly like omitting the flag.
	if a.maxFPS < 0 {
		a.maxFPS = 0
	}
	if a.targetFPS < 0 {
		a.targetFPS = 0
	}

	tu, err := tunables.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: loading tunables: %v\n", err)
		return exitGenericFailure
	}

	reg := registry.New()
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	stopSignals := installSignalHandler(reg, stop, tu.MaxConsecutiveSignals)
	defer stopSignals()

	tools, _, err := preflight.Resolve()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitMissingTool
	}

	rl, err := runlock.New(runlock.PathForOutput(a.output))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitGenericFailure
	}
	if err := rl.Acquire(ctx, runlock.DefaultAcquireTimeout); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if ctx.Err() != nil {
			return exitSignalled
		}
		return exitGenericFailure
	}
	defer func() { _ = rl.Release() }()
	if a.lockDebug {
		fmt.Fprintf(stdout, "acquired run lock %s\n", runlock.PathForOutput(a.output))
	}

	logPath := ewxlog.LogPathFor(a.output)
	logger, err := ewxlog.New(logPath, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "Error: opening log %q: %v\n", logPath, err)
		return exitGenericFailure
	}
	defer func() { _ = logger.Close() }()

	success := false
	defer func() { logger.Finish(success, logPath) }()

	opts := planner.Options{
		Inputs:        a.inputs,
		OutputPath:    a.output,
		TempDir:       a.tempDir,
		SplitVoice:    a.splitVoice,
		ForceUpgrade:  a.forceUpgrade,
		UserMaxFPS:    a.maxFPS,
		UserTargetFPS: a.targetFPS,
		Debug:         a.debug,
		LockDebug:     a.lockDebug,
		MainPID:       os.Getpid(),
	}

	pl := planner.New(planner.ExecProbeRunner{FFprobePath: tools.FFprobePath}, planner.StatfsDiskUsage{}, tu)
	j, err := pl.Plan(ctx, opts)
	if err != nil {
		logger.Error("planning failed: %v", err)
		var probeErr *planner.ProbeError
		if errors.As(err, &probeErr) {
			return exitProbeFailure
		}
		return exitGenericFailure
	}

	sup := supervisor.New(reg, tu)
	sup.PanicLog = errorLogWriter{logger}
	sup.OnAssertion = func(recovered any, _ []byte) {
		reg.RaiseDeath(5)
		logger.Error("assertion: supervisor goroutine panicked: %v", recovered)
	}
	orch := orchestrator.New(j, reg, sup, tools, tu, stdout)
	if a.debug {
		orch.DebugLog = logger.Debug
	}

	runErr := safego.RecoverToPanic(func() error { return orch.Run(ctx) })

	if runErr == nil {
		success = true
		if a.debug {
			writeDebugManifest(j, logger)
		}
		return exitSuccess
	}

	logger.Error("%v", runErr)

	var stageErr *orchestrator.StageFailure
	switch {
	case errors.As(runErr, &stageErr):
		if a.debug {
			writeDebugManifest(j, logger)
		}
		return stageErr.ExitCode
	case isAssertionPanic(runErr):
		reg.RaiseDeath(5)
		return exitSignalled
	case reg.ReadDeath() >= 1:
		return exitSignalled
	default:
		return exitWorkerCrash
	}
}

// errorLogWriter adapts *ewxlog.Logger to io.Writer so safego's
// goroutine wrappers (which only know how to Write a line) can log
// through it; every write becomes one ERROR-level log line.
type errorLogWriter struct{ l *ewxlog.Logger }

func (w errorLogWriter) Write(p []byte) (int, error) {
	w.l.Error("%s", string(p))
	return len(p), nil
}

func isAssertionPanic(err error) bool {
	return err != nil && len(err.Error()) > 6 && err.Error()[:6] == "panic:"
}

// writeDebugManifest records the templated temporary paths (the
// Templates fields) of every SourceGroup a --debug run kept on disk,
// per spec §7's "in debug mode all temporaries are retained and their
// paths logged" clause. The assemble stage's list file and its
// progress file, which are derived from Cat rather than templated,
// are not listed.
func writeDebugManifest(j *job.Job, logger *ewxlog.Logger) {
	m := debugdump.Manifest{OutputPath: j.OutputPath}
	for _, g := range j.SourceGroups {
		paths := []string{g.Templates.Cat, g.Templates.Lst}
		paths = append(paths, g.Templates.Tmp[:]...)
		paths = append(paths, g.Templates.IUp[:]...)
		paths = append(paths, g.Templates.IDn[:]...)
		paths = append(paths, g.Templates.PrgCat, g.Templates.PrgSeg)
		paths = append(paths, g.Templates.PrgU[:]...)
		paths = append(paths, g.Templates.PrgD[:]...)
		m.Groups = append(m.Groups, debugdump.GroupTemporaries{GroupID: g.ID, Paths: paths})
	}
	if err := debugdump.WriteManifest(j.OutputPath+".debug.yaml", m); err != nil {
		logger.Warning("writing debug manifest: %v", err)
	}
}

// installSignalHandler raises the registry's death level on every
// SIGINT/SIGTERM, cancelling ctx on the first one so the orchestrator
// begins a graceful drain (spec §5: "a signal ... raises the death
// level"); the maxSignals'th consecutive signal (tunables.Tunables.
// MaxConsecutiveSignals, overridable via EWX_MAX_CONSECUTIVE_SIGNALS)
// is the spec's "catastrophic self-kill" and exits the process
// immediately with exit 43 rather than waiting for the drain to finish.
func installSignalHandler(reg *registry.Registry, cancel context.CancelFunc, maxSignals int) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var count atomic.Int32
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-sigCh:
				n := count.Add(1)
				level := n
				if int(level) > maxSignals {
					level = int32(maxSignals)
				}
				reg.RaiseDeath(level)
				cancel()
				if int(n) >= maxSignals {
					os.Exit(exitSelfKill)
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
