// SPDX-License-Identifier: MIT

// Package planner implements the Job Planner (C5): it validates CLI
// inputs, double-probes every source, partitions sources into
// SourceGroups, checks the per-directory disk-space budget, and emits
// every derived-artifact file-name template a run will need.
package planner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/EdenWorX/ewxTools/internal/job"
	"github.com/EdenWorX/ewxTools/internal/probe"
	"github.com/EdenWorX/ewxTools/internal/tunables"
)

// ProbeRunner runs the external probe tool against path with the given
// extra argv (format/probe-size bounds) and returns its parsed output.
// It is an interface so planning logic can be tested against canned
// probe output instead of shelling out to a real ffprobe.
type ProbeRunner interface {
	Probe(ctx context.Context, path string, extraArgs []string) (probe.Result, error)
}

// ExecProbeRunner runs the real ffprobe binary.
type ExecProbeRunner struct {
	FFprobePath string
	// Exec is overridable for tests; defaults to os/exec via runCommand.
	Exec func(ctx context.Context, name string, args []string) ([]byte, error)
}

// Probe implements ProbeRunner.
func (e ExecProbeRunner) Probe(ctx context.Context, path string, extraArgs []string) (probe.Result, error) {
	run := e.Exec
	if run == nil {
		run = runCommand
	}
	args := append(append([]string{}, extraArgs...),
		"-v", "quiet", "-of", "flat", "-show_format", "-show_streams", path)
	out, err := run(ctx, e.FFprobePath, args)
	if err != nil {
		return probe.Result{}, fmt.Errorf("planner: probe %s: %w", path, err)
	}
	return probe.Parse(bytes.NewReader(out))
}

// DiskUsage reports available bytes in the filesystem containing dir.
// It is an interface so the disk-space budget check is testable
// without depending on real filesystem capacity.
type DiskUsage interface {
	AvailableBytes(dir string) (uint64, error)
}

// Options carries every CLI-derived input the Planner needs (spec §6).
type Options struct {
	Inputs        []string
	OutputPath    string
	TempDir       string
	SplitVoice    bool
	ForceUpgrade  bool
	UserMaxFPS    int
	UserTargetFPS int
	Debug         bool
	LockDebug     bool
	MainPID       int
}

// Planner builds a Job from Options.
type Planner struct {
	Probe     ProbeRunner
	Disk      DiskUsage
	Tunables  tunables.Tunables
	StatFile  func(path string) (os.FileInfo, error)
}

// New creates a Planner with the given collaborators.
func New(probeRunner ProbeRunner, disk DiskUsage, tu tunables.Tunables) *Planner {
	return &Planner{Probe: probeRunner, Disk: disk, Tunables: tu, StatFile: os.Stat}
}

// ValidationError marks a CLI usage / validation failure (spec §7:
// "Usage error ... Reported, exit 1 or 2").
type ValidationError struct{ Err error }

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// ProbeError marks a probe failure (spec §7, exit 6): missing video
// stream, too many audio streams, or the external probe tool itself
// failing.
type ProbeError struct{ Err error }

func (e *ProbeError) Error() string { return e.Err.Error() }
func (e *ProbeError) Unwrap() error { return e.Err }

// Plan validates opts and produces a fully populated Job.
func (p *Planner) Plan(ctx context.Context, opts Options) (*job.Job, error) {
	if err := p.validate(opts); err != nil {
		return nil, &ValidationError{Err: err}
	}

	sources := make([]job.Source, 0, len(opts.Inputs))
	for _, path := range opts.Inputs {
		src, err := p.probeSource(ctx, path, opts.TempDir)
		if err != nil {
			return nil, &ProbeError{Err: err}
		}
		sources = append(sources, src)
	}

	groups := groupSources(sources, opts.TempDir != "")
	p.resolveFPS(sources, groups, opts)

	j := &job.Job{
		OutputPath:    opts.OutputPath,
		TempDir:       opts.TempDir,
		SplitVoice:    opts.SplitVoice,
		ForceUpgrade:  opts.ForceUpgrade,
		UserMaxFPS:    opts.UserMaxFPS,
		UserTargetFPS: opts.UserTargetFPS,
		Debug:         opts.Debug,
		LockDebug:     opts.LockDebug,
		Sources:       sources,
		SourceGroups:  groups,
		MainPID:       opts.MainPID,
	}

	if err := p.checkDiskBudget(j); err != nil {
		return nil, &ValidationError{Err: err}
	}

	for i := range j.SourceGroups {
		j.SourceGroups[i].Templates = BuildTemplates(opts.TempDir, j.SourceGroups[i].Directory, j.MainPID, j.SourceGroups[i].ID)
	}

	return j, nil
}

func (p *Planner) validate(opts Options) error {
	if len(opts.Inputs) == 0 {
		return fmt.Errorf("planner: at least one -i input is required")
	}
	if !strings.HasSuffix(opts.OutputPath, ".mkv") {
		return fmt.Errorf("planner: output path %q must end in .mkv", opts.OutputPath)
	}
	if _, err := os.Stat(opts.OutputPath); err == nil {
		return fmt.Errorf("planner: output path %q already exists", opts.OutputPath)
	}

	for _, in := range opts.Inputs {
		if in == opts.OutputPath {
			return fmt.Errorf("planner: input %q is the same as the output", in)
		}
		info, err := os.Stat(in)
		if err != nil {
			return fmt.Errorf("planner: input %q: %w", in, err)
		}
		if info.Size() == 0 {
			return fmt.Errorf("planner: input %q is empty", in)
		}
	}
	return nil
}

// probeSource runs the double-probe sequence of spec §4.5 step 2: a
// first pass with the tool's own defaults, then a bounded re-probe
// whose probesize/analyzeduration/fpsprobesize are always the
// tunables' fixed ceilings. The first pass only has to succeed: its
// result is discarded and none of the bounded pass's arguments are
// derived from it. The bounded pass is the one whose stream inventory
// becomes the Source's attributes (see DESIGN.md).
func (p *Planner) probeSource(ctx context.Context, path, tempDir string) (job.Source, error) {
	if _, err := p.Probe.Probe(ctx, path, nil); err != nil {
		return job.Source{}, fmt.Errorf("planner: initial probe of %q: %w", path, err)
	}

	bounded := []string{
		"-probesize", fmt.Sprintf("%d", p.Tunables.ProbeMaxProbesizeBytes),
		"-analyzeduration", fmt.Sprintf("%d", p.Tunables.ProbeMaxAnalyzeDur.Microseconds()),
		"-fpsprobesize", fmt.Sprintf("%d", p.Tunables.ProbeMaxFpsFrames),
	}
	res, err := p.Probe.Probe(ctx, path, bounded)
	if err != nil {
		return job.Source{}, fmt.Errorf("planner: bounded probe of %q: %w", path, err)
	}

	video, ok := res.FirstVideoStream()
	if !ok {
		return job.Source{}, fmt.Errorf("planner: %q has no video stream", path)
	}
	audio := res.AudioStreams()
	if len(audio) > 2 {
		return job.Source{}, fmt.Errorf("planner: %q has %d audio streams, at most 2 are supported", path, len(audio))
	}

	var channelsPerStream []int
	var codecPerStream []string
	var streamTypes []string
	for _, s := range res.Streams {
		channelsPerStream = append(channelsPerStream, s.Channels)
		codecPerStream = append(codecPerStream, s.CodecName)
		streamTypes = append(streamTypes, s.CodecType)
	}

	dir := filepath.Dir(path)
	if tempDir != "" {
		dir = tempDir
	}

	var size int64
	if p.StatFile != nil {
		if info, err := p.StatFile(path); err == nil {
			size = info.Size()
		}
	}

	return job.Source{
		Path:              path,
		Directory:         dir,
		DurationS:         res.Format.Duration,
		AvgFPS:            video.AvgFPS,
		BitrateBPS:        res.Format.BitRate,
		StreamCount:       res.Format.NBStreams,
		ChannelsPerStream: channelsPerStream,
		CodecPerStream:    codecPerStream,
		StreamTypes:       streamTypes,
		FileSizeBytes:     size,
	}, nil
}

// groupSources partitions sources into maximal contiguous runs sharing
// stream count, per-stream codec layout, and (absent a global temp
// dir) directory (spec §4.5 step 3 / Open Question on stream order: a
// group key is built from codec name per stream *index*, matching the
// spec's stated ambiguity resolution — order matters because it is
// compared positionally, not by set membership).
func groupSources(sources []job.Source, hasGlobalTempDir bool) []job.SourceGroup {
	var groups []job.SourceGroup
	var curKey string
	gid := 0

	for i, s := range sources {
		key := groupKey(s, hasGlobalTempDir)
		if i == 0 || key != curKey {
			gid++
			groups = append(groups, job.SourceGroup{
				ID:        gid,
				Directory: s.Directory,
			})
			curKey = key
		}
		g := &groups[len(groups)-1]
		g.SourceIndexes = append(g.SourceIndexes, i)
		g.TotalDurationS += s.DurationS
		if int(s.AvgFPS) > g.ObservedMaxFPS {
			g.ObservedMaxFPS = int(s.AvgFPS)
		}
	}
	return groups
}

func groupKey(s job.Source, hasGlobalTempDir bool) string {
	var b strings.Builder
	if !hasGlobalTempDir {
		b.WriteString(s.Directory)
		b.WriteByte('|')
	}
	fmt.Fprintf(&b, "%d|", s.StreamCount)
	for _, c := range s.CodecPerStream {
		b.WriteString(c)
		b.WriteByte(',')
	}
	for _, c := range s.ChannelsPerStream {
		fmt.Fprintf(&b, "%d,", c)
	}
	return b.String()
}

// resolveFPS applies the spec §4.4 FPS determination rules to every
// group: target_fps defaults to 60 if the group's max observed source
// fps >= the upgrade threshold or ForceUpgrade is set, else 30;
// max_fps defaults to 2x target_fps but never below the group's
// observed max; user overrides raise max_fps and clamp target_fps.
func (p *Planner) resolveFPS(sources []job.Source, groups []job.SourceGroup, opts Options) {
	for i := range groups {
		g := &groups[i]

		target := p.Tunables.DefaultTargetFPSLow
		if g.ObservedMaxFPS >= p.Tunables.UpgradeFPSThreshold || opts.ForceUpgrade {
			target = p.Tunables.DefaultTargetFPSHigh
		}

		maxFPS := target * 2
		if g.ObservedMaxFPS > maxFPS {
			maxFPS = g.ObservedMaxFPS
		}

		if opts.UserMaxFPS > 0 && opts.UserMaxFPS > maxFPS {
			maxFPS = opts.UserMaxFPS
		}
		if opts.UserTargetFPS > 0 {
			target = opts.UserTargetFPS
			if target > maxFPS {
				target = maxFPS
			}
		}

		g.TargetFPS = target
		g.MaxFPS = maxFPS
	}
}

// checkDiskBudget enforces spec §4.5 step 4: for every input, a
// size-factor is interpolated between DiskFactorMax (at or below
// DiskBitrateLowMbps) and DiskFactorMin (at or above
// DiskBitrateHighMbps), linear in between; the sum of factor*file-size
// per directory must not exceed available space there.
func (p *Planner) checkDiskBudget(j *job.Job) error {
	if p.Disk == nil {
		return nil
	}

	required := map[string]int64{}
	for _, s := range j.Sources {
		dir := s.Directory
		factor := diskFactor(s.BitrateBPS, p.Tunables)
		required[dir] += int64(factor * float64(s.FileSizeBytes))
	}

	for dir, need := range required {
		avail, err := p.Disk.AvailableBytes(dir)
		if err != nil {
			return fmt.Errorf("planner: disk usage for %q: %w", dir, err)
		}
		if need > 0 && uint64(need) > avail {
			return fmt.Errorf("planner: %q needs %d bytes free, only %d available", dir, need, avail)
		}
	}
	return nil
}

// diskFactor linearly interpolates the size multiplier between the
// tunables' curve endpoints, clamped at both ends.
func diskFactor(bitrateBPS int64, tu tunables.Tunables) float64 {
	mbps := float64(bitrateBPS) / 1_000_000
	switch {
	case mbps <= tu.DiskBitrateLowMbps:
		return tu.DiskFactorMax
	case mbps >= tu.DiskBitrateHighMbps:
		return tu.DiskFactorMin
	default:
		span := tu.DiskBitrateHighMbps - tu.DiskBitrateLowMbps
		frac := (mbps - tu.DiskBitrateLowMbps) / span
		return tu.DiskFactorMax - frac*(tu.DiskFactorMax-tu.DiskFactorMin)
	}
}
