// SPDX-License-Identifier: MIT

package probe

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleOutput = `format_filename="input.mp4"
format_nb_streams="2"
format_duration="60.040000"
format_bit_rate="8000000"
streams_stream_0_codec_name="h264"
streams_stream_0_codec_type="video"
streams_stream_0_avg_frame_rate="60/1"
streams_stream_1_codec_name="aac"
streams_stream_1_codec_type="audio"
streams_stream_1_channels="2"
`

func TestParseBasic(t *testing.T) {
	result, err := Parse(strings.NewReader(sampleOutput))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Format.NBStreams)
	assert.InDelta(t, 60.04, result.Format.Duration, 0.001)
	assert.EqualValues(t, 8000000, result.Format.BitRate)

	require.Len(t, result.Streams, 2)
	video, ok := result.FirstVideoStream()
	require.True(t, ok)
	assert.Equal(t, "h264", video.CodecName)
	assert.InDelta(t, 60, video.AvgFPS, 0.001)

	audio := result.AudioStreams()
	require.Len(t, audio, 1)
	assert.Equal(t, 2, audio[0].Channels)
}

func TestParseFrameRateFractionFloorsDown(t *testing.T) {
	// The boundary case from the specification: 48000/1001 must floor to 47.
	assert.InDelta(t, 47, ParseFrameRate("48000/1001"), 0.0001)
}

func TestParseFrameRateIntegerAndEdgeCases(t *testing.T) {
	assert.InDelta(t, 30, ParseFrameRate("30"), 0.0001)
	assert.InDelta(t, 0, ParseFrameRate(""), 0.0001)
	assert.InDelta(t, 0, ParseFrameRate("30/0"), 0.0001)
	assert.InDelta(t, 0, ParseFrameRate("garbage"), 0.0001)
}

func TestParseIgnoresUnknownLines(t *testing.T) {
	input := "some_unrelated_line=1\nstreams_stream_0_codec_type=\"subtitle\"\n"
	result, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, result.Streams, 1)
	assert.Equal(t, "subtitle", result.Streams[0].CodecType)
}
