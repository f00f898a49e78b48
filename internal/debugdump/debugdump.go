// SPDX-License-Identifier: MIT

// Package debugdump writes a YAML manifest of every temporary path
// retained by a --debug run, satisfying the specification's "in debug
// mode all temporaries are retained and their paths logged" clause with
// a single structured artifact instead of scattered log lines.
package debugdump

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest is the retained-temporaries record for one run.
type Manifest struct {
	OutputPath string              `yaml:"output_path"`
	Groups     []GroupTemporaries  `yaml:"groups"`
}

// GroupTemporaries lists every temporary artifact path for one
// SourceGroup.
type GroupTemporaries struct {
	GroupID int      `yaml:"group_id"`
	Paths   []string `yaml:"paths"`
}

// WriteManifest atomically writes m as YAML to path: the content is
// written to a temp file in the same directory, fsynced, then renamed
// into place so a crash mid-write never leaves a partial manifest.
func WriteManifest(path string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("debugdump: marshal manifest: %w", err)
	}

	tmp, err := os.CreateTemp(dirOf(path), ".debugdump.*.yaml")
	if err != nil {
		return fmt.Errorf("debugdump: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("debugdump: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("debugdump: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("debugdump: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("debugdump: rename into place: %w", err)
	}
	success = true
	return nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
