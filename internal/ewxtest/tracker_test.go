// SPDX-License-Identifier: MIT

package ewxtest

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTempFileTrackerLeaked(t *testing.T) {
	dir := t.TempDir()
	surviving := filepath.Join(dir, "still-here.tmp")
	cleaned := filepath.Join(dir, "cleaned-up.tmp")

	require.NoError(t, os.WriteFile(surviving, []byte("x"), 0644))

	tr := NewTempFileTracker()
	tr.TrackAll(surviving, cleaned)

	leaked := tr.Leaked()
	assert.Equal(t, []string{surviving}, leaked)
}

func TestLeakedGlobs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seg0.mkv"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seg1.mkv"), []byte("x"), 0644))

	matches, err := LeakedGlobs(filepath.Join(dir, "seg*.mkv"))
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestProcessTrackerLeaked(t *testing.T) {
	cmd := exec.Command("sleep", "5")
	require.NoError(t, cmd.Start())
	defer func() { _ = cmd.Process.Kill(); _ = cmd.Wait() }()

	tr := NewProcessTracker()
	tr.Track(cmd.Process.Pid)
	assert.Contains(t, tr.Leaked(), cmd.Process.Pid)

	_ = cmd.Process.Kill()
	_ = cmd.Wait()
	time.Sleep(50 * time.Millisecond)
	tr.Untrack(cmd.Process.Pid)
	assert.Empty(t, tr.Leaked())
}
