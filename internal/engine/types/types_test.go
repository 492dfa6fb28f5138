package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMediaKind_String(t *testing.T) {
	assert.Equal(t, "video", KindVideo.String())
	assert.Equal(t, "audio", KindAudio.String())
}

func TestVideoCodec_String(t *testing.T) {
	assert.Equal(t, "h264", VideoCodecH264.String())
	assert.Equal(t, "h265", VideoCodecH265.String())
}

func TestParseVideoCodec(t *testing.T) {
	tests := []struct {
		in   string
		want VideoCodec
	}{
		{"h264", VideoCodecH264},
		{"h265", VideoCodecH265},
		{"hevc", VideoCodecH265},
		{"av1", VideoCodecH264},
		{"", VideoCodecH264},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseVideoCodec(tt.in), tt.in)
	}
}

func TestDropReason_ZeroValueIsNone(t *testing.T) {
	var r DropReason
	assert.Equal(t, DropNone, r)
	assert.Equal(t, "", string(DropNone))
}
