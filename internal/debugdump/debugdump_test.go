// SPDX-License-Identifier: MIT

package debugdump

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestWriteManifestRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")

	m := Manifest{
		OutputPath: "/out/final.mkv",
		Groups: []GroupTemporaries{
			{GroupID: 0, Paths: []string{"/tmp/seg0.mkv", "/tmp/seg1.mkv"}},
		},
	}
	require.NoError(t, WriteManifest(path, m))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got Manifest
	require.NoError(t, yaml.Unmarshal(data, &got))
	assert.Equal(t, m, got)
}

func TestWriteManifestLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, WriteManifest(path, Manifest{OutputPath: "x"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the final manifest file should remain")
}
