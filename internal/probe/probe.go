// SPDX-License-Identifier: MIT

// Package probe parses the external probe tool's flat key=value output
// format: lines matching `streams_stream_<n>_<field>="?<value>"?` and
// `format_<field>="?<value>"?`. The parsing style (bufio.Scanner plus a
// small set of precompiled regexes) follows the same pattern used
// elsewhere in this module's lineage for parsing line-oriented kernel
// and tool output; the line grammar itself is fixed by the external
// probe tool, not invented here.
package probe

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	streamLineRe = regexp.MustCompile(`^streams_stream_(\d+)_(\w+)="?([^"]*)"?$`)
	formatLineRe = regexp.MustCompile(`^format_(\w+)="?([^"]*)"?$`)
)

// Stream holds the subset of per-stream probe fields the core consumes.
type Stream struct {
	Index     int
	CodecName string
	CodecType string // "video", "audio", "subtitle", ...
	Channels  int
	AvgFPS    float64 // already floored per the avg_frame_rate boundary rule
}

// Format holds the subset of container-level probe fields the core
// consumes.
type Format struct {
	Duration  float64
	BitRate   int64
	NBStreams int
}

// Result is the parsed output of one probe invocation.
type Result struct {
	Format  Format
	Streams []Stream
}

// Parse reads r line by line and builds a Result. Unrecognized lines
// and unrecognized fields are silently ignored: the probe tool emits
// many more fields than the core consumes.
func Parse(r io.Reader) (Result, error) {
	streamFields := map[int]map[string]string{}
	formatFields := map[string]string{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if m := streamLineRe.FindStringSubmatch(line); m != nil {
			idx, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			if streamFields[idx] == nil {
				streamFields[idx] = map[string]string{}
			}
			streamFields[idx][m[2]] = m[3]
			continue
		}

		if m := formatLineRe.FindStringSubmatch(line); m != nil {
			formatFields[m[1]] = m[2]
			continue
		}
	}
	if err := scanner.Err(); err != nil {
		return Result{}, fmt.Errorf("probe: scan output: %w", err)
	}

	result := Result{
		Format: Format{
			Duration:  parseFloat(formatFields["duration"]),
			BitRate:   parseInt64(formatFields["bit_rate"]),
			NBStreams: int(parseInt64(formatFields["nb_streams"])),
		},
	}

	for idx := 0; ; idx++ {
		fields, ok := streamFields[idx]
		if !ok {
			break
		}
		result.Streams = append(result.Streams, Stream{
			Index:     idx,
			CodecName: fields["codec_name"],
			CodecType: fields["codec_type"],
			Channels:  int(parseInt64(fields["channels"])),
			AvgFPS:    ParseFrameRate(fields["avg_frame_rate"]),
		})
	}

	return result, nil
}

// ParseFrameRate parses ffprobe's avg_frame_rate, which is either a
// bare integer or an "A/B" fraction, and floors the result: a source
// with avg_frame_rate "48000/1001" must be interpreted as 47, not 47.95.
func ParseFrameRate(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 1 {
		v, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return 0
		}
		return math.Floor(v)
	}
	num, errN := strconv.ParseFloat(parts[0], 64)
	den, errD := strconv.ParseFloat(parts[1], 64)
	if errN != nil || errD != nil || den == 0 {
		return 0
	}
	return math.Floor(num / den)
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func parseInt64(s string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// FirstVideoStream returns the first video stream, if any.
func (r Result) FirstVideoStream() (Stream, bool) {
	for _, s := range r.Streams {
		if s.CodecType == "video" {
			return s, true
		}
	}
	return Stream{}, false
}

// AudioStreams returns every audio stream, in probe order.
func (r Result) AudioStreams() []Stream {
	var out []Stream
	for _, s := range r.Streams {
		if s.CodecType == "audio" {
			out = append(out, s)
		}
	}
	return out
}
