// SPDX-License-Identifier: MIT

package planner

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/EdenWorX/ewxTools/internal/job"
)

// runCommand is the default ProbeRunner transport: run the external
// probe tool and capture its stdout.
func runCommand(ctx context.Context, name string, args []string) ([]byte, error) {
	// #nosec G204 -- name is always the resolved ffprobe path from
	// preflight, args are fixed flag groups plus a validated input path.
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.Output()
}

// BuildTemplates expands every derived-artifact file name for one
// SourceGroup. Every path is a pure function of (tempDir or groupDir,
// mainPID, gid): the same inputs always yield the same paths, and the
// main-process pid keeps concurrent runs from colliding on the same
// directory (spec §3 Templates invariants).
func BuildTemplates(tempDir, groupDir string, mainPID, gid int) job.Templates {
	dir := groupDir
	if tempDir != "" {
		dir = tempDir
	}

	base := fmt.Sprintf("%s/.ewx_%d_g%d", dir, mainPID, gid)

	t := job.Templates{
		Cat:        base + "_cat.mkv",
		Lst:        base + "_list.txt",
		TmpPattern: base + "_seg%d.mkv",
		PrgSeg:     base + "_segprogress.txt",
		PrgCat:     base + "_catprogress.txt",
	}
	for slot := 0; slot < 4; slot++ {
		t.Tmp[slot] = fmt.Sprintf("%s_seg%d.mkv", base, slot)
		t.IUp[slot] = fmt.Sprintf("%s_iup%d.mkv", base, slot)
		t.IDn[slot] = fmt.Sprintf("%s_idn%d.mkv", base, slot)
		t.PrgU[slot] = fmt.Sprintf("%s_prgu%d.txt", base, slot)
		t.PrgD[slot] = fmt.Sprintf("%s_prgd%d.txt", base, slot)
	}
	return t
}
