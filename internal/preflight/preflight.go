// SPDX-License-Identifier: MIT

// Package preflight verifies the external tools the core depends on
// are present and runnable before the Job Planner does any work. A
// failure here is the spec's "Pre-flight error — external tool
// missing" (exit 3).
package preflight

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// CheckStatus is the outcome of a single preflight check.
type CheckStatus int

const (
	StatusOK CheckStatus = iota
	StatusMissing
	StatusError
)

// CheckResult describes one preflight check's outcome.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
}

// Tools are the external binaries the core shells out to.
type Tools struct {
	FFmpegPath  string
	FFprobePath string
}

// Resolve locates ffmpeg and ffprobe on PATH, returning an error
// suitable for exit code 3 if either is missing.
func Resolve() (Tools, []CheckResult, error) {
	var results []CheckResult
	var t Tools
	var firstErr error

	ffmpegPath, res := checkTool("ffmpeg")
	results = append(results, res)
	if res.Status != StatusOK {
		firstErr = fmt.Errorf("preflight: %s", res.Message)
	}
	t.FFmpegPath = ffmpegPath

	ffprobePath, res2 := checkTool("ffprobe")
	results = append(results, res2)
	if res2.Status != StatusOK && firstErr == nil {
		firstErr = fmt.Errorf("preflight: %s", res2.Message)
	}
	t.FFprobePath = ffprobePath

	return t, results, firstErr
}

func checkTool(name string) (string, CheckResult) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", CheckResult{
			Name:    name,
			Status:  StatusMissing,
			Message: fmt.Sprintf("%s not found on PATH", name),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, path, "-version").Run(); err != nil {
		return path, CheckResult{
			Name:    name,
			Status:  StatusError,
			Message: fmt.Sprintf("%s -version failed: %v", name, err),
		}
	}

	return path, CheckResult{Name: name, Status: StatusOK, Message: "ok"}
}
