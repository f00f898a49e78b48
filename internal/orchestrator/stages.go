// SPDX-License-Identifier: MIT

package orchestrator

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/EdenWorX/ewxTools/internal/filterbuild"
	"github.com/EdenWorX/ewxTools/internal/job"
	"github.com/EdenWorX/ewxTools/internal/supervisor"
)

// Run drives the whole Job to completion: every SourceGroup is taken
// through concat -> segment -> interp-up -> interp-down -> assemble in
// turn (spec §4.4), and an optional voice-split side job runs once per
// source when requested. Groups are processed one at a time; the
// parallelism the spec asks for is within a stage (its 4 workers), not
// across groups sharing the same disk budget.
func (o *Orchestrator) Run(ctx context.Context) error {
	for i := range o.Job.SourceGroups {
		g := &o.Job.SourceGroups[i]
		if err := o.runGroup(ctx, g); err != nil {
			return err
		}
	}

	if o.Job.SplitVoice {
		if err := o.runVoiceSplits(); err != nil {
			return err
		}
	}

	return nil
}

func (o *Orchestrator) runGroup(ctx context.Context, g *job.SourceGroup) error {
	if err := o.Concat(ctx, g); err != nil {
		return err
	}
	if err := o.Segment(ctx, g); err != nil {
		return err
	}
	if err := o.InterpUp(ctx, g); err != nil {
		return err
	}
	if err := o.InterpDown(ctx, g); err != nil {
		return err
	}
	if err := o.Assemble(ctx, g); err != nil {
		return err
	}
	if !o.KeepTemps {
		o.cleanupGroupTemps(g)
	}
	return nil
}

// writeConcatList writes the concat demuxer's list-file format: one
// "file '<path>'" line per entry, in order.
func writeConcatList(path string, entries []string) error {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "file '%s'\n", e)
	}
	// #nosec G306 -- the list file is a transient working artifact in the
	// same directory as the job's other temporaries, not a secret.
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("orchestrator: write concat list %q: %w", path, err)
	}
	return nil
}

// Concat implements spec §4.4 stage 1: every source belonging to g is
// concatenated, stream-copy, into one intermediate file. This is a
// single-worker stage; there is nothing to parallelize across one
// group's own sources.
func (o *Orchestrator) Concat(_ context.Context, g *job.SourceGroup) error {
	srcs := o.sourcesOf(g)
	paths := make([]string, len(srcs))
	for i, s := range srcs {
		paths[i] = s.Path
	}
	if err := writeConcatList(g.Templates.Lst, paths); err != nil {
		return err
	}

	argv := []string{o.Tools.FFmpegPath}
	argv = append(argv, startFlags()...)
	argv = append(argv, inputInitFlags()...)
	argv = append(argv, concatInputFlags()...)
	argv = append(argv, "-i", g.Templates.Lst)
	argv = append(argv, formatFlags()...)
	argv = append(argv, "-codec", "copy")
	argv = append(argv, progressFlags(g.Templates.PrgCat)...)
	argv = append(argv, g.Templates.Cat)

	pid, err := o.Supervisor.Spawn(supervisor.Request{
		Argv:         argv,
		GID:          g.ID,
		ProgressPath: g.Templates.PrgCat,
	})
	if err != nil {
		return fmt.Errorf("orchestrator: spawn concat for group %d: %w", g.ID, err)
	}
	_ = o.Registry.Mutate(pid, func(r *job.ChildRecord) { r.Stage = StageConcat })

	return o.awaitStage([]int{pid}, StageConcat, g.ID)
}

// Segment implements spec §4.4 stage 2: the concatenated intermediate
// is cut into exactly 4 roughly-equal pieces so the interpolation
// passes can run 4-way parallel. The segment muxer's own %d pattern is
// relied on to expand to the same paths BuildTemplates precomputed.
func (o *Orchestrator) Segment(_ context.Context, g *job.SourceGroup) error {
	segLen := math.Floor(1 + g.TotalDurationS/4)
	if segLen <= 0 {
		segLen = 1
	}

	argv := []string{o.Tools.FFmpegPath}
	argv = append(argv, startFlags()...)
	argv = append(argv, inputInitFlags()...)
	argv = append(argv, "-i", g.Templates.Cat)
	argv = append(argv, "-f", "segment",
		"-segment_time", fmt.Sprintf("%.3f", segLen),
		"-reset_timestamps", "1")
	argv = append(argv, "-codec", "copy")
	argv = append(argv, progressFlags(g.Templates.PrgSeg)...)
	argv = append(argv, g.Templates.TmpPattern)

	pid, err := o.Supervisor.Spawn(supervisor.Request{
		Argv:         argv,
		GID:          g.ID,
		ProgressPath: g.Templates.PrgSeg,
	})
	if err != nil {
		return fmt.Errorf("orchestrator: spawn segment for group %d: %w", g.ID, err)
	}
	_ = o.Registry.Mutate(pid, func(r *job.ChildRecord) { r.Stage = StageSegment })

	return o.awaitStage([]int{pid}, StageSegment, g.ID)
}

// InterpUp implements spec §4.4 stage 3: 4 parallel workers, one per
// segment slot, each running the up-pass filter chain. The mixer
// choice (high-quality vs passthrough) is decided once per group from
// the group's observed source fps, not per worker, since all 4
// segments come from the same concatenated stream.
func (o *Orchestrator) InterpUp(_ context.Context, g *job.SourceGroup) error {
	pids := make([]int, 4)
	for slot := 0; slot < 4; slot++ {
		sp := &job.StageParams{
			DecimationMax:  o.Tunables.DecimationMaxUp,
			DecimationFrac: o.Tunables.DecimationFracUp,
			TargetFPS:      g.MaxFPS,
			SourceSlot:     slot,
			TargetSlot:     slot,
		}
		filter := filterbuild.UpPass(float64(g.ObservedMaxFPS), g.MaxFPS, sp.DecimationMax, sp.DecimationFrac, sp.AltAlgorithm)

		argv := []string{o.Tools.FFmpegPath}
		argv = append(argv, startFlags()...)
		argv = append(argv, inputInitFlags()...)
		argv = append(argv, "-i", g.Templates.Tmp[slot])
		argv = append(argv, "-filter:v", filter)
		argv = append(argv, formatFlags()...)
		argv = append(argv, interpCodecFlags()...)
		argv = append(argv, progressFlags(g.Templates.PrgU[slot])...)
		argv = append(argv, g.Templates.IUp[slot])

		pid, err := o.Supervisor.Spawn(supervisor.Request{
			Argv:           argv,
			GID:            g.ID,
			ProgressPath:   g.Templates.PrgU[slot],
			SourceTemplate: g.Templates.Tmp[slot],
			TargetTemplate: g.Templates.IUp[slot],
			StageParams:    sp,
		})
		if err != nil {
			return fmt.Errorf("orchestrator: spawn interp-up slot %d for group %d: %w", slot, g.ID, err)
		}
		_ = o.Registry.Mutate(pid, func(r *job.ChildRecord) { r.Stage = StageInterpUp })
		pids[slot] = pid
	}

	return o.awaitStage(pids, StageInterpUp, g.ID)
}

// InterpDown implements spec §4.4 stage 4: the second, always
// high-quality (unless restarted onto its alt path) interpolation pass
// that brings every segment down to the group's final target_fps.
func (o *Orchestrator) InterpDown(_ context.Context, g *job.SourceGroup) error {
	pids := make([]int, 4)
	for slot := 0; slot < 4; slot++ {
		sp := &job.StageParams{
			DecimationMax:  o.Tunables.DecimationMaxDown,
			DecimationFrac: o.Tunables.DecimationFracDown,
			TargetFPS:      g.TargetFPS,
			SourceSlot:     slot,
			TargetSlot:     slot,
		}
		filter := filterbuild.DownPass(sp.TargetFPS, sp.DecimationMax, sp.DecimationFrac, sp.AltAlgorithm)

		argv := []string{o.Tools.FFmpegPath}
		argv = append(argv, startFlags()...)
		argv = append(argv, inputInitFlags()...)
		argv = append(argv, "-i", g.Templates.IUp[slot])
		argv = append(argv, "-filter:v", filter)
		argv = append(argv, formatFlags()...)
		argv = append(argv, interpCodecFlags()...)
		argv = append(argv, progressFlags(g.Templates.PrgD[slot])...)
		argv = append(argv, g.Templates.IDn[slot])

		pid, err := o.Supervisor.Spawn(supervisor.Request{
			Argv:           argv,
			GID:            g.ID,
			ProgressPath:   g.Templates.PrgD[slot],
			SourceTemplate: g.Templates.IUp[slot],
			TargetTemplate: g.Templates.IDn[slot],
			StageParams:    sp,
		})
		if err != nil {
			return fmt.Errorf("orchestrator: spawn interp-down slot %d for group %d: %w", slot, g.ID, err)
		}
		_ = o.Registry.Mutate(pid, func(r *job.ChildRecord) { r.Stage = StageInterpDown })
		pids[slot] = pid
	}

	return o.awaitStage(pids, StageInterpDown, g.ID)
}

// spawnInterpWorker relaunches a single interp-up or interp-down
// worker with the alt-algorithm filter; it is the Restart half of
// watchdog.ChildController, reusing the same filter builders as the
// first-pass stage methods above so the two paths can never drift
// apart in which flags they set.
func (o *Orchestrator) spawnInterpWorker(stage string, gid int, sp job.StageParams, sourcePath, targetPath, progressPath string, _ int) (int, error) {
	var filter string
	switch stage {
	case StageInterpUp:
		filter = filterbuild.UpPass(0, sp.TargetFPS, sp.DecimationMax, sp.DecimationFrac, true)
	case StageInterpDown:
		filter = filterbuild.DownPass(sp.TargetFPS, sp.DecimationMax, sp.DecimationFrac, true)
	default:
		return 0, fmt.Errorf("orchestrator: spawnInterpWorker: unsupported stage %q", stage)
	}

	argv := []string{o.Tools.FFmpegPath}
	argv = append(argv, startFlags()...)
	argv = append(argv, inputInitFlags()...)
	argv = append(argv, "-i", sourcePath)
	argv = append(argv, "-filter:v", filter)
	argv = append(argv, formatFlags()...)
	argv = append(argv, interpCodecFlags()...)
	argv = append(argv, progressFlags(progressPath)...)
	argv = append(argv, targetPath)

	pid, err := o.Supervisor.Spawn(supervisor.Request{
		Argv:           argv,
		GID:            gid,
		ProgressPath:   progressPath,
		SourceTemplate: sourcePath,
		TargetTemplate: targetPath,
		StageParams:    &sp,
	})
	if err != nil {
		return 0, fmt.Errorf("orchestrator: restart spawn stage %q gid %d: %w", stage, gid, err)
	}
	_ = o.Registry.Mutate(pid, func(r *job.ChildRecord) { r.Stage = stage })
	return pid, nil
}

// Assemble implements spec §4.4 stage 5: the 4 down-interpolated
// segments are concatenated, the final CFR-enforcing filter chain is
// applied (its mixer choice following the job-wide drop/dup carry),
// the fixed audio layout is re-mapped from the group's first original
// source, and the whole thing is encoded with the final h264_nvenc
// codec flags straight to the job's output path when the job has a
// single group, or to that group's own ".g<N>.mkv" sibling of the
// output path when it has several (see groupOutputPath).
func (o *Orchestrator) Assemble(_ context.Context, g *job.SourceGroup) error {
	entries := make([]string, 4)
	copy(entries, g.Templates.IDn[:])
	assembleLst := g.Templates.Cat + ".assemble.txt"
	if err := writeConcatList(assembleLst, entries); err != nil {
		return err
	}

	srcs := o.sourcesOf(g)
	if len(srcs) == 0 {
		return fmt.Errorf("orchestrator: assemble group %d: no sources", g.ID)
	}
	representative := srcs[0]

	filter := filterbuild.Assemble(g.TargetFPS, o.dropDupSoFar())

	out := o.groupOutputPath(g)

	argv := []string{o.Tools.FFmpegPath}
	argv = append(argv, startFlags()...)
	argv = append(argv, inputInitFlags()...)
	argv = append(argv, concatInputFlags()...)
	argv = append(argv, "-i", assembleLst)
	argv = append(argv, "-i", representative.Path)
	argv = append(argv, "-filter:v", filter)
	argv = append(argv, "-map", "0:v")
	argv = append(argv, audioMappingFlags(representative, 1)...)
	argv = append(argv, formatFlags()...)
	argv = append(argv, finalCodecFlags()...)
	prgAssemble := assembleLst + ".progress.txt"
	argv = append(argv, progressFlags(prgAssemble)...)
	argv = append(argv, out)

	pid, err := o.Supervisor.Spawn(supervisor.Request{
		Argv:         argv,
		GID:          g.ID,
		ProgressPath: prgAssemble,
	})
	if err != nil {
		return fmt.Errorf("orchestrator: spawn assemble for group %d: %w", g.ID, err)
	}
	_ = o.Registry.Mutate(pid, func(r *job.ChildRecord) { r.Stage = StageAssemble })

	return o.awaitStage([]int{pid}, StageAssemble, g.ID)
}

// groupOutputPath returns the job's final output path when there is
// exactly one SourceGroup (the common case), or a per-group sibling
// path (".g<N>.mkv" inserted before the extension) when a run spans
// multiple incompatible groups, since only one of them can claim the
// user-requested output name.
func (o *Orchestrator) groupOutputPath(g *job.SourceGroup) string {
	if len(o.Job.SourceGroups) <= 1 {
		return o.Job.OutputPath
	}
	base := strings.TrimSuffix(o.Job.OutputPath, ".mkv")
	return fmt.Sprintf("%s.g%d.mkv", base, g.ID)
}

// cleanupGroupTemps removes every intermediate artifact for g once its
// assemble stage has succeeded, unless debug mode asked to keep them.
func (o *Orchestrator) cleanupGroupTemps(g *job.SourceGroup) {
	paths := []string{g.Templates.Cat, g.Templates.Lst, g.Templates.Cat + ".assemble.txt"}
	paths = append(paths, g.Templates.Tmp[:]...)
	paths = append(paths, g.Templates.IUp[:]...)
	paths = append(paths, g.Templates.IDn[:]...)
	for _, p := range paths {
		_ = os.Remove(p)
	}
}

// runVoiceSplits writes one standalone .wav per source that carries a
// second (voice) audio stream, per spec §4.4's split-voice option.
func (o *Orchestrator) runVoiceSplits() error {
	for _, s := range o.Job.Sources {
		if len(s.AudioStreamIndexes()) < 2 {
			continue
		}
		outputWav := strings.TrimSuffix(s.Path, filepath.Ext(s.Path)) + ".voice.wav"
		argv := voiceMappingArgv(o.Tools.FFmpegPath, s, outputWav)

		pid, err := o.Supervisor.Spawn(supervisor.Request{Argv: argv})
		if err != nil {
			return fmt.Errorf("orchestrator: spawn voice split for %q: %w", s.Path, err)
		}
		_ = o.Registry.Mutate(pid, func(r *job.ChildRecord) { r.Stage = StageVoice })

		if err := o.awaitStage([]int{pid}, StageVoice, 0); err != nil {
			return err
		}
	}
	return nil
}
