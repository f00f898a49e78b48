// SPDX-License-Identifier: MIT

// Package job holds the data model shared by the planner, orchestrator,
// watchdog and registry: sources, source groups, the overall job
// description, and the per-child record tracked by the registry.
package job

import "fmt"

// Status is the lifecycle state of a ChildRecord.
//
// Lifecycle: CREATED -> RUNNING -> (FINISHED | KILLED) -> REAPED. A
// KILLED record whose RestartRequested is true is replaced by a fresh
// CREATED -> RUNNING pair rather than being reaped.
type Status int

const (
	StatusCreated Status = iota
	StatusRunning
	StatusKilled
	StatusFinished
	StatusReaped
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "CREATED"
	case StatusRunning:
		return "RUNNING"
	case StatusKilled:
		return "KILLED"
	case StatusFinished:
		return "FINISHED"
	case StatusReaped:
		return "REAPED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Source is one input video with probe-derived attributes. It is
// created once during planning and never mutated afterward.
type Source struct {
	Path              string
	Directory         string
	DurationS         float64
	AvgFPS            float64
	BitrateBPS        int64
	StreamCount       int
	ChannelsPerStream []int
	CodecPerStream    []string
	// StreamTypes mirrors CodecPerStream positionally with ffprobe's
	// codec_type ("video", "audio", ...); it is what lets the
	// orchestrator find the video stream and the main/voice audio
	// streams without re-probing.
	StreamTypes []string
	// FileSizeBytes is the input's size on disk, used by the disk-space
	// budget computation; it has no bearing on the encode itself.
	FileSizeBytes int64
}

// VideoStreamIndex returns the index of the first video stream, or -1
// if none was found. Planning fails before a Source without a video
// stream is ever constructed, so -1 should not occur outside tests.
func (s Source) VideoStreamIndex() int {
	for i, t := range s.StreamTypes {
		if t == "video" {
			return i
		}
	}
	return -1
}

// AudioStreamIndexes returns the indexes of every audio stream, in
// probe order: index 0 is the main audio, index 1 (if present) is the
// voice/secondary channel.
func (s Source) AudioStreamIndexes() []int {
	var out []int
	for i, t := range s.StreamTypes {
		if t == "audio" {
			out = append(out, i)
		}
	}
	return out
}

// Templates holds the file-name templates for every derived artifact of
// a SourceGroup. Every template is a pure function of (gid, main pid,
// slot) so expansion is deterministic and globally unique across a run.
type Templates struct {
	Cat        string    // concatenation output (single .mkv)
	Lst        string    // concat demuxer list file
	Tmp        [4]string // segment files
	TmpPattern string    // ffmpeg segment-muxer %d pattern expanding to Tmp[0..3]
	IUp        [4]string // up-interpolated intermediates
	IDn        [4]string // down-interpolated intermediates
	PrgU       [4]string // per-worker up-pass progress files
	PrgD       [4]string // per-worker down-pass progress files
	// PrgSeg and PrgCat are the single-worker progress files for the
	// segment and concat stages; not part of the original spec's named
	// template set but needed to give every ffmpeg invocation (not just
	// interpolation workers) a progress file the Watchdog can tail.
	PrgSeg string
	PrgCat string
}

// SourceGroup is a contiguous run of Sources sharing codec layout,
// channel count, and (absent a global temp dir) directory.
type SourceGroup struct {
	ID             int
	Directory      string
	TotalDurationS float64
	// ObservedMaxFPS is the raw maximum AvgFPS across the group's
	// sources, fixed at grouping time; the up-pass filter choice
	// compares against it (spec §4.4: "if source_fps > target_max_fps").
	ObservedMaxFPS int
	// MaxFPS is the resolved interpolation ceiling (spec §4.4 FPS
	// determination): defaults to 2x TargetFPS but never below
	// ObservedMaxFPS, then raised further by a user --maxfps override.
	MaxFPS        int
	TargetFPS     int
	SourceIndexes []int // indexes into Job.Sources

	Templates Templates

	// DropDups is the monotonically non-decreasing count of dropped or
	// duplicated frames observed across this group's stages; it carries
	// forward to influence the final assemble stage's filter choice.
	DropDups int
}

// Job is the fully validated, immutable description of one run.
type Job struct {
	OutputPath    string
	TempDir       string // optional; empty means per-source directory is used
	SplitVoice    bool
	ForceUpgrade  bool
	UserMaxFPS    int // 0 means unset
	UserTargetFPS int // 0 means unset
	Debug         bool
	LockDebug     bool

	Sources      []Source
	SourceGroups []SourceGroup

	// MainPID seeds every file-name template so artifacts from concurrent
	// runs never collide.
	MainPID int
}

// StageParams carries the interpolation-specific parameters of a child,
// set only when the child belongs to an interp-up or interp-down stage.
type StageParams struct {
	DecimationMax  int
	DecimationFrac float64
	TargetFPS      int
	SourceSlot     int
	TargetSlot     int
	AltAlgorithm   bool
}

// ChildRecord describes one external command, running or finished. The
// registry is the sole owner of a ChildRecord's lifecycle.
type ChildRecord struct {
	PID int
	GID int // owning SourceGroup id, or 0 for probes/capture

	// Stage names which Orchestrator stage spawned this child (e.g.
	// "concat", "segment", "interp-up", "interp-down", "assemble"); the
	// freeze-restart path needs it to know which filter builder to call.
	Stage string

	Argv []string // full re-launchable argv

	HasStageParams bool
	StageParams    StageParams

	ProgressPath   string
	SourceTemplate string
	TargetTemplate string

	StdoutBuf []string
	StderrBuf []string

	ExitCode int
	ErrorMsg string

	Status           Status
	RestartRequested bool

	// TimeoutTicks and StrikeCount are the watchdog's per-child freeze
	// escalation state (spec Design Notes: encapsulated alongside the
	// record rather than scattered across parallel maps).
	TimeoutTicks int
	StrikeCount  int
}

// ProgressFrame is the transient, per-tick aggregate the watchdog builds
// from the most recent progress-file frame of each running child.
type ProgressFrame struct {
	BitrateBPS int64
	DupFrames  int64
	DropFrames int64
	FPS        float64
	Frame      int64
	// OutTimeMs is read from the progress file's out_time_ms= field,
	// which (matching the external encoder's own quirk) is actually in
	// microseconds, not milliseconds.
	OutTimeMs int64
	TotalSize int64
	State     FrameState
}

// FrameState is the parse state of a ProgressFrame.
type FrameState int

const (
	FrameNone FrameState = iota
	FrameContinue
	FrameEnded
)
