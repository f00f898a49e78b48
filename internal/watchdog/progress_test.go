// SPDX-License-Identifier: MIT

package watchdog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/EdenWorX/ewxTools/internal/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrameContinue(t *testing.T) {
	lines := []string{
		"frame=100",
		"fps=59.94",
		"bitrate=1234.5kbits/s",
		"total_size=1048576",
		"out_time_ms=1500000",
		"dup_frames=2",
		"drop_frames=1",
		"progress=continue",
	}
	f := ParseFrame(lines)
	assert.Equal(t, job.FrameContinue, f.State)
	assert.EqualValues(t, 100, f.Frame)
	assert.InDelta(t, 59.94, f.FPS, 0.001)
	assert.EqualValues(t, 1234500, f.BitrateBPS)
	assert.EqualValues(t, 1048576, f.TotalSize)
	assert.EqualValues(t, 1500000, f.OutTimeMs)
	assert.EqualValues(t, 2, f.DupFrames)
	assert.EqualValues(t, 1, f.DropFrames)
}

func TestParseFrameEnded(t *testing.T) {
	lines := []string{"frame=500", "progress=end"}
	f := ParseFrame(lines)
	assert.Equal(t, job.FrameEnded, f.State)
}

func TestParseFrameNoneWhenNoMarker(t *testing.T) {
	lines := []string{"frame=1", "fps=10"}
	f := ParseFrame(lines)
	assert.Equal(t, job.FrameNone, f.State)
}

func TestParseFrameTakesMostRecentBlockOnly(t *testing.T) {
	lines := []string{
		"frame=1", "progress=continue",
		"frame=2", "progress=continue",
	}
	f := ParseFrame(lines)
	assert.Equal(t, job.FrameContinue, f.State)
	assert.EqualValues(t, 2, f.Frame, "must not pick up the earlier frame's fields")
}

func TestTailLinesHandlesPartialTrailingLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "progress.txt")
	content := "frame=1\nprogress=continue\nframe=2\nfps=3" // no trailing newline
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	lines, err := TailLines(path, 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"frame=1", "progress=continue", "frame=2"}, lines)
}

func TestTailLinesRespectsLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "progress.txt")
	var content string
	for i := 0; i < 50; i++ {
		content += "frame=1\nprogress=continue\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	lines, err := TailLines(path, 20)
	require.NoError(t, err)
	assert.Len(t, lines, 20)
}

func TestFormatProgressLineWithFrame(t *testing.T) {
	f := job.ProgressFrame{
		Frame: 120, DropFrames: 2, DupFrames: 3,
		OutTimeMs: 3723_456789, FPS: 59.94, BitrateBPS: 1234000, TotalSize: 99,
	}
	line := FormatProgressLine(2, 4, f)
	assert.Contains(t, line, "[2/4 running]")
	assert.Contains(t, line, "Frame 120")
	assert.Contains(t, line, "01:02:03.456789")
	assert.Contains(t, line, "FPS 59.94")
}

func TestFormatProgressLineWithoutFrame(t *testing.T) {
	f := job.ProgressFrame{OutTimeMs: 61_000000}
	line := FormatProgressLine(1, 4, f)
	assert.Equal(t, "[1/4 running] 00:01:01.000000", line)
}
