// SPDX-License-Identifier: MIT

package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EdenWorX/ewxTools/internal/ewxtest"
	"github.com/EdenWorX/ewxTools/internal/job"
	"github.com/EdenWorX/ewxTools/internal/registry"
)

func TestWriteConcatListFormatsFileLines(t *testing.T) {
	dir := t.TempDir()
	listPath := filepath.Join(dir, "list.txt")

	err := writeConcatList(listPath, []string{"/tmp/a.mkv", "/tmp/b.mkv"})
	require.NoError(t, err)

	got, err := os.ReadFile(listPath)
	require.NoError(t, err)
	assert.Equal(t, "file '/tmp/a.mkv'\nfile '/tmp/b.mkv'\n", string(got))
}

func TestGroupOutputPathSingleGroupUsesJobOutput(t *testing.T) {
	o := &Orchestrator{Job: &job.Job{
		OutputPath:   "/out/final.mkv",
		SourceGroups: []job.SourceGroup{{ID: 1}},
	}}
	assert.Equal(t, "/out/final.mkv", o.groupOutputPath(&o.Job.SourceGroups[0]))
}

func TestGroupOutputPathMultiGroupInsertsSuffix(t *testing.T) {
	o := &Orchestrator{Job: &job.Job{
		OutputPath: "/out/final.mkv",
		SourceGroups: []job.SourceGroup{
			{ID: 1}, {ID: 2},
		},
	}}
	assert.Equal(t, "/out/final.g1.mkv", o.groupOutputPath(&o.Job.SourceGroups[0]))
	assert.Equal(t, "/out/final.g2.mkv", o.groupOutputPath(&o.Job.SourceGroups[1]))
}

func TestContainsFoldCaseInsensitive(t *testing.T) {
	assert.True(t, containsFold("Frame 12 Error decoding", "error"))
	assert.True(t, containsFold("CRITICAL failure", "critical"))
	assert.False(t, containsFold("all good, no issues", "error"))
}

func TestRecordDropDupIsMonotonic(t *testing.T) {
	o := &Orchestrator{}
	assert.False(t, o.dropDupSoFar())

	o.recordDropDup(false)
	assert.False(t, o.dropDupSoFar())

	o.recordDropDup(true)
	assert.True(t, o.dropDupSoFar())

	o.recordDropDup(false)
	assert.True(t, o.dropDupSoFar(), "carry must never reset once set")
}

func TestCleanupGroupTempsRemovesFiles(t *testing.T) {
	dir := t.TempDir()
	g := job.SourceGroup{Templates: job.Templates{
		Cat: filepath.Join(dir, "cat.mkv"),
		Lst: filepath.Join(dir, "list.txt"),
	}}
	for slot := 0; slot < 4; slot++ {
		g.Templates.Tmp[slot] = filepath.Join(dir, "seg.mkv")
		g.Templates.IUp[slot] = filepath.Join(dir, "iup.mkv")
		g.Templates.IDn[slot] = filepath.Join(dir, "idn.mkv")
	}
	require.NoError(t, os.WriteFile(g.Templates.Cat, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(g.Templates.Lst, []byte("x"), 0o644))

	o := &Orchestrator{}
	o.cleanupGroupTemps(&g)

	_, err := os.Stat(g.Templates.Cat)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(g.Templates.Lst)
	assert.True(t, os.IsNotExist(err))
}

func TestCleanupGroupTempsLeavesNoTrackedFileBehind(t *testing.T) {
	dir := t.TempDir()
	g := job.SourceGroup{Templates: job.Templates{
		Cat: filepath.Join(dir, "cat.mkv"),
		Lst: filepath.Join(dir, "list.txt"),
	}}
	for slot := 0; slot < 4; slot++ {
		g.Templates.Tmp[slot] = filepath.Join(dir, fmt.Sprintf("seg%d.mkv", slot))
		g.Templates.IUp[slot] = filepath.Join(dir, fmt.Sprintf("iup%d.mkv", slot))
		g.Templates.IDn[slot] = filepath.Join(dir, fmt.Sprintf("idn%d.mkv", slot))
	}

	tr := ewxtest.NewTempFileTracker()
	tr.Track(g.Templates.Cat)
	tr.Track(g.Templates.Lst)
	tr.TrackAll(g.Templates.Tmp[:]...)
	tr.TrackAll(g.Templates.IUp[:]...)
	tr.TrackAll(g.Templates.IDn[:]...)

	for _, p := range append(append([]string{g.Templates.Cat, g.Templates.Lst}, g.Templates.Tmp[:]...), g.Templates.IUp[:]...) {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
	for _, p := range g.Templates.IDn {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}

	require.NotEmpty(t, tr.Leaked(), "fixture setup should have created every tracked file")

	o := &Orchestrator{}
	o.cleanupGroupTemps(&g)

	assert.Empty(t, tr.Leaked(), "cleanupGroupTemps must remove every temporary file it owns")
}

func TestStageFailureErrorMessage(t *testing.T) {
	err := &StageFailure{Stage: StageSegment, ExitCode: 10, Detail: "pid 123 exited 1"}
	assert.Contains(t, err.Error(), "segment")
	assert.Contains(t, err.Error(), "pid 123 exited 1")
}

func TestRestartRejectsChildWithoutStageParams(t *testing.T) {
	o := &Orchestrator{}
	_, err := o.Restart(job.ChildRecord{PID: 42, HasStageParams: false})
	assert.Error(t, err)
}

func TestLogResourceSnapshotsNoopWithoutDebug(t *testing.T) {
	o := &Orchestrator{}
	// Neither KeepTemps nor DebugLog is set: must not touch /proc or panic.
	o.logResourceSnapshots([]int{1})
}

func TestLogResourceSnapshotsSamplesLiveChildren(t *testing.T) {
	dir := t.TempDir()
	pid := 4242
	procDir := filepath.Join(dir, "4242")
	require.NoError(t, os.MkdirAll(filepath.Join(procDir, "fd"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(procDir, "fd", "0"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(procDir, "stat"),
		[]byte("4242 (ffmpeg) S 1 1 1 0 -1 0 0 0 0 0 0 0 0 0 20 0 3 0 0 0"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(procDir, "statm"),
		[]byte("100 50 10 0 0 40 0\n"), 0o644))

	reg := registry.New()
	require.NoError(t, reg.Add(pid, 1))
	require.NoError(t, reg.SetStatus(pid, job.StatusRunning))

	var lines []string
	o := &Orchestrator{
		Registry:  reg,
		KeepTemps: true,
		ProcPath:  dir,
		DebugLog:  func(format string, args ...any) { lines = append(lines, fmt.Sprintf(format, args...)) },
	}

	o.logResourceSnapshots([]int{pid})

	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "pid=4242")
	assert.Contains(t, lines[0], "threads=3")
}

func TestRestartRejectsUnsupportedStage(t *testing.T) {
	o := &Orchestrator{}
	_, err := o.Restart(job.ChildRecord{
		PID:            42,
		HasStageParams: true,
		Stage:          StageConcat,
	})
	assert.Error(t, err)
}
