// SPDX-License-Identifier: MIT

package watchdog

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/EdenWorX/ewxTools/internal/job"
)

// TailLines returns at most the last n lines of the file at path. The
// progress file may be appended to concurrently and may end in a
// partial line; both are tolerated by reading the whole (small) file
// and discarding a trailing unterminated fragment.
func TailLines(path string, n int) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// Keep only the newline-terminated prefix: bufio.Scanner would
	// otherwise return the unterminated tail as a final line.
	data = data[:bytes.LastIndexByte(data, '\n')+1]

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// ParseFrame scans lines (oldest first, as returned by TailLines) from
// the end backward: it locates the most recent progress= marker, and,
// if that marker is "continue", accumulates the key=value fields
// between it and the previous progress= marker (or the start of the
// slice) into a ProgressFrame.
func ParseFrame(lines []string) job.ProgressFrame {
	lastMarker := -1
	state := ""
	for i := len(lines) - 1; i >= 0; i-- {
		if v, ok := fieldValue(lines[i], "progress"); ok {
			lastMarker = i
			state = v
			break
		}
	}
	if lastMarker < 0 {
		return job.ProgressFrame{State: job.FrameNone}
	}
	if state == "end" {
		return job.ProgressFrame{State: job.FrameEnded}
	}

	frame := job.ProgressFrame{State: job.FrameContinue}
	for i := lastMarker - 1; i >= 0; i-- {
		if _, ok := fieldValue(lines[i], "progress"); ok {
			break // reached the previous frame's terminal marker
		}
		applyField(&frame, lines[i])
	}
	return frame
}

func fieldValue(line, key string) (string, bool) {
	prefix := key + "="
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, prefix)), true
}

func applyField(frame *job.ProgressFrame, line string) {
	parts := strings.SplitN(line, "=", 2)
	if len(parts) != 2 {
		return
	}
	key, value := parts[0], strings.TrimSpace(parts[1])

	switch key {
	case "bitrate":
		frame.BitrateBPS = parseBitrate(value)
	case "drop_frames":
		frame.DropFrames = parseInt(value)
	case "dup_frames":
		frame.DupFrames = parseInt(value)
	case "fps":
		frame.FPS = parseFloat(value)
	case "frame":
		frame.Frame = parseInt(value)
	case "out_time_ms":
		frame.OutTimeMs = parseInt(value)
	case "total_size":
		frame.TotalSize = parseInt(value)
	}
}

// parseBitrate handles values like "1234.5kbits/s" or "N/A" by taking
// only the leading numeric portion and converting kbit/s to bit/s.
func parseBitrate(value string) int64 {
	if value == "" || value == "N/A" {
		return 0
	}
	numEnd := 0
	for numEnd < len(value) && (value[numEnd] == '.' || value[numEnd] == '-' || (value[numEnd] >= '0' && value[numEnd] <= '9')) {
		numEnd++
	}
	if numEnd == 0 {
		return 0
	}
	f, err := strconv.ParseFloat(value[:numEnd], 64)
	if err != nil {
		return 0
	}
	if strings.Contains(value, "kbits") {
		return int64(f * 1000)
	}
	return int64(f)
}

func parseInt(value string) int64 {
	if value == "" || value == "N/A" {
		return 0
	}
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseFloat(value string) float64 {
	if value == "" || value == "N/A" {
		return 0
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return v
}

// FormatProgressLine renders the watchdog's one-line console indicator
// per the specification's two formats, chosen by whether Frame > 0.
func FormatProgressLine(active, total int, f job.ProgressFrame) string {
	hh, mm, ss, micros := splitMicros(f.OutTimeMs)
	timestamp := fmt.Sprintf("%02d:%02d:%02d.%06d", hh, mm, ss, micros)

	if f.Frame > 0 {
		return fmt.Sprintf("[%d/%d running] Frame %d (%d drp, %d dup); %s; FPS %.2f; %d bits/s; Size %d",
			active, total, f.Frame, f.DropFrames, f.DupFrames, timestamp, f.FPS, f.BitrateBPS, f.TotalSize)
	}
	return fmt.Sprintf("[%d/%d running] %s", active, total, timestamp)
}

func splitMicros(outTimeMs int64) (hh, mm, ss, micros int64) {
	totalUs := outTimeMs // the field is named _ms but holds microseconds
	totalSeconds := totalUs / 1_000_000
	micros = totalUs % 1_000_000
	hh = totalSeconds / 3600
	mm = (totalSeconds % 3600) / 60
	ss = totalSeconds % 60
	return
}
