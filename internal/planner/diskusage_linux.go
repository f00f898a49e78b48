// SPDX-License-Identifier: MIT

//go:build linux

package planner

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// StatfsDiskUsage implements DiskUsage via the statfs(2) syscall.
type StatfsDiskUsage struct{}

// AvailableBytes reports the bytes available to an unprivileged user
// in the filesystem containing dir (Bavail, not Bfree: the spec's
// budget check must not count space reserved for root).
func (StatfsDiskUsage) AvailableBytes(dir string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, fmt.Errorf("planner: statfs %q: %w", dir, err)
	}
	return st.Bavail * uint64(st.Bsize), nil
}
