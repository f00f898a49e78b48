// SPDX-License-Identifier: MIT

package orchestrator

import (
	"fmt"

	"github.com/EdenWorX/ewxTools/internal/job"
)

// The flag groups below are bit-exact transcriptions of spec §6's
// "External encoder argv groups": fixed slices assembled by the stage
// builders below rather than built by ad-hoc string concatenation at
// each call site (Design Notes: "build argv with an explicit typed
// builder ... do not build argv by concatenation in several places").

func startFlags() []string {
	return []string{"-hide_banner", "-loglevel", "level+info", "-y"}
}

func inputInitFlags() []string {
	return []string{"-loglevel", "level+warning", "-nostats", "-colorspace", "bt709", "-color_range", "pc"}
}

func concatInputFlags() []string {
	return []string{"-f", "concat", "-safe", "0"}
}

func formatFlags() []string {
	return []string{"-colorspace", "bt709", "-color_range", "pc", "-pix_fmt", "yuv444p", "-f", "matroska", "-write_crc32", "0"}
}

func interpCodecFlags() []string {
	return []string{"-codec:v", "utvideo", "-pred", "median"}
}

func finalCodecFlags() []string {
	return []string{
		"-codec:v", "h264_nvenc",
		"-preset:v", "p7",
		"-tune:v", "hq",
		"-profile:v", "high444p",
		"-level:v", "5.2",
		"-rc:v", "vbr",
		"-rgb_mode", "yuv444",
		"-cq", "4",
		"-qmin", "1",
		"-qmax", "16",
		"-temporal_aq", "1",
		"-b_adapt", "0",
		"-b_ref_mode", "0",
		"-zerolatency", "1",
		"-multipass", "2",
		"-forced-idr", "1",
	}
}

// audioMappingFlags builds the spec's fixed audio layout: the main
// audio stream is always re-encoded to PCM s24le stereo; when the
// source has more than 2 channels, an additional 5.1 track (with
// Surround metadata) is emitted as track 0 ahead of it and the stereo
// track becomes track 1, otherwise the stereo track is track 0.
// -guess_layout_max 0 is appended only when src carries a concrete
// channel layout (i.e. the channel count is known) per spec §6.
// inputIdx selects which ffmpeg -i input the audio streams are mapped
// from: the assemble stage's video comes from a concat-list input
// while its audio is re-mapped from the original source, so the two
// inputs are not always the same index.
func audioMappingFlags(src job.Source, inputIdx int) []string {
	audioIdx := src.AudioStreamIndexes()
	if len(audioIdx) == 0 {
		return nil
	}
	mainIdx := audioIdx[0]
	channels := 0
	if mainIdx < len(src.ChannelsPerStream) {
		channels = src.ChannelsPerStream[mainIdx]
	}

	var flags []string
	track := 0
	if channels > 2 {
		flags = append(flags,
			"-map", fmt.Sprintf("%d:%d", inputIdx, mainIdx),
			fmt.Sprintf("-codec:a:%d", track), "pcm_s24le",
			fmt.Sprintf("-ac:a:%d", track), "6",
			fmt.Sprintf("-metadata:s:a:%d", track), "title=Surround",
		)
		track++
	}
	flags = append(flags,
		"-map", fmt.Sprintf("%d:%d", inputIdx, mainIdx),
		fmt.Sprintf("-codec:a:%d", track), "pcm_s24le",
		fmt.Sprintf("-ac:a:%d", track), "2",
		fmt.Sprintf("-metadata:s:a:%d", track), "title=Stereo",
	)
	if channels > 0 {
		flags = append(flags, "-guess_layout_max", "0")
	}
	return flags
}

// voiceMappingArgv builds the standalone ffmpeg invocation that writes
// the secondary (voice) audio stream to a sibling .wav when split-voice
// is enabled and a second audio stream was detected (spec §4.4).
func voiceMappingArgv(ffmpegPath string, src job.Source, outputWav string) []string {
	audioIdx := src.AudioStreamIndexes()
	voiceIdx := audioIdx[1]
	argv := []string{ffmpegPath}
	argv = append(argv, startFlags()...)
	argv = append(argv, "-i", src.Path)
	argv = append(argv,
		"-map", fmt.Sprintf("0:%d", voiceIdx),
		"-codec:a", "pcm_s24le",
		"-ac", "2", // upgrade the mono voice channel to stereo
		outputWav,
	)
	return argv
}

func progressFlags(progressPath string) []string {
	return []string{"-progress", progressPath}
}
