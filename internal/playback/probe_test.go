package playback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProbeOutput(t *testing.T) {
	out := []byte(`{
		"streams": [
			{"codec_type": "audio", "codec_name": "aac"},
			{"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080},
			{"codec_type": "video", "codec_name": "mjpeg", "width": 320, "height": 240}
		],
		"format": {"format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "63.480000"}
	}`)

	info, err := parseProbeOutput(out)
	require.NoError(t, err)
	assert.Equal(t, 63.48, info.Duration)
	assert.Equal(t, "h264", info.VideoCodec)
	assert.Equal(t, "aac", info.AudioCodec)
	assert.Equal(t, 1920, info.Width)
	assert.Equal(t, 1080, info.Height)
}

func TestParseProbeOutputErrors(t *testing.T) {
	_, err := parseProbeOutput([]byte("not json"))
	assert.Error(t, err)

	_, err = parseProbeOutput([]byte(`{"format": {"duration": "N/A"}}`))
	assert.Error(t, err)
}
