// SPDX-License-Identifier: MIT

package ewxlog

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogPathForReplacesExtension(t *testing.T) {
	assert.Equal(t, "/tmp/out.log", LogPathFor("/tmp/out.mkv"))
	assert.Equal(t, "/tmp/out.log", LogPathFor("/tmp/out"))
}

func TestDebugOnlyToFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "run.log")
	var console bytes.Buffer

	l, err := New(logPath, &console)
	require.NoError(t, err)
	l.now = func() time.Time { return time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC) }

	l.Debug("only in file")
	l.Info("in both")
	require.NoError(t, l.Close())

	fileContent, err := os.ReadFile(logPath)
	require.NoError(t, err)

	assert.Contains(t, string(fileContent), "only in file")
	assert.Contains(t, string(fileContent), "in both")
	assert.NotContains(t, console.String(), "only in file")
	assert.Contains(t, console.String(), "in both")
}

func TestLineFormat(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "run.log")
	var console bytes.Buffer

	l, err := New(logPath, &console)
	require.NoError(t, err)
	l.now = func() time.Time { return time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC) }
	l.pid = 4242

	l.Warning("disk is getting low")
	require.NoError(t, l.Close())

	fileContent, err := os.ReadFile(logPath)
	require.NoError(t, err)
	line := strings.TrimRight(string(fileContent), "\n")

	parts := strings.SplitN(line, "|", 4)
	require.Len(t, parts, 4)
	assert.Equal(t, "2026-07-31 12:00:00", parts[0])
	assert.Equal(t, "WARNING", parts[1])
	assert.True(t, strings.HasPrefix(parts[2], "[4242] logger_test.go:"))
	assert.Equal(t, "disk is getting low", parts[3])
}

func TestFinishSuccessAndFailureLines(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "run.log")
	var console bytes.Buffer

	l, err := New(logPath, &console)
	require.NoError(t, err)
	l.Finish(true, logPath)
	require.NoError(t, l.Close())

	fileContent, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(fileContent), "Program finished")

	logPath2 := filepath.Join(dir, "run2.log")
	console.Reset()
	l2, err := New(logPath2, &console)
	require.NoError(t, err)
	l2.Finish(false, logPath2)
	require.NoError(t, l2.Close())

	fileContent2, err := os.ReadFile(logPath2)
	require.NoError(t, err)
	assert.Contains(t, string(fileContent2), "Program FAILED!")
	assert.Contains(t, console.String(), "See "+logPath2+" for details")
}
