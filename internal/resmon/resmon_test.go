// SPDX-License-Identifier: MIT

//go:build linux

package resmon

import (
	"os"
	"testing"
)

func TestParseThreadCount(t *testing.T) {
	// pid comm state ppid pgrp session tty tpgid flags minflt cminflt majflt
	// cmajflt utime stime cutime cstime priority nice num_threads ...
	stat := "1234 (ffmpeg worker) S 1 1 1 0 -1 0 0 0 0 0 0 0 0 0 20 0 4 0 0 0"
	if got := parseThreadCount(stat); got != 4 {
		t.Fatalf("parseThreadCount = %d, want 4", got)
	}
}

func TestParseThreadCountMalformed(t *testing.T) {
	if got := parseThreadCount("not a stat line"); got != 0 {
		t.Fatalf("parseThreadCount = %d, want 0 on malformed input", got)
	}
}

func TestParseMemoryBytes(t *testing.T) {
	statm := "1000 512 100 0 0 400 0\n"
	got := parseMemoryBytes(statm)
	want := uint64(512) * uint64(os.Getpagesize())
	if got != want {
		t.Fatalf("parseMemoryBytes = %d, want %d", got, want)
	}
}
