package fmp4

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jessicalh/rptr/internal/engine/types"
)

var (
	testSPS = []byte{0x67, 0x42, 0xc0, 0x0a, 0xd9, 0x05, 0x88, 0x65, 0x80}
	testPPS = []byte{0x68, 0xce, 0x3c, 0x80}
	testIDR = []byte{0x65, 0x88, 0x84, 0x00}
)

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, n...)
	}
	return out
}

func TestSplitAnnexB_StartCodeDelimited(t *testing.T) {
	data := annexB(testSPS, testPPS, testIDR)
	nalus := SplitAnnexB(data)
	assert.Len(t, nalus, 3)
	assert.Equal(t, testSPS, nalus[0])
	assert.Equal(t, testPPS, nalus[1])
	assert.Equal(t, testIDR, nalus[2])
}

func TestSplitAnnexB_NonAnnexBFallsBackToWholeBuffer(t *testing.T) {
	nalus := SplitAnnexB(testIDR)
	assert.Len(t, nalus, 1)
	assert.Equal(t, testIDR, nalus[0])
}

func TestSplitAnnexB_Empty(t *testing.T) {
	assert.Nil(t, SplitAnnexB(nil))
}

func TestParams_VideoReady_H264(t *testing.T) {
	p := &Params{VideoCodec: types.VideoCodecH264}
	assert.False(t, p.VideoReady())

	p.ExtractVideoParams(annexB(testSPS, testPPS, testIDR), false)
	assert.True(t, p.VideoReady())
	assert.Equal(t, testSPS, p.H264SPS)
	assert.Equal(t, testPPS, p.H264PPS)
}

func TestParams_ExtractVideoParams_DoesNotOverwriteWithoutForce(t *testing.T) {
	p := &Params{VideoCodec: types.VideoCodecH264}
	p.ExtractVideoParams(annexB(testSPS, testPPS), false)

	otherSPS := []byte{0x67, 0x00, 0x00}
	p.ExtractVideoParams(annexB(otherSPS), false)
	assert.Equal(t, testSPS, p.H264SPS)
}

func TestParams_ExtractVideoParams_ForceOverwrites(t *testing.T) {
	p := &Params{VideoCodec: types.VideoCodecH264}
	p.ExtractVideoParams(annexB(testSPS, testPPS), false)

	otherSPS := []byte{0x67, 0x00, 0x00}
	p.ExtractVideoParams(annexB(otherSPS), true)
	assert.Equal(t, otherSPS, p.H264SPS)
}

func TestParams_ExtractAudioParams_FromADTS(t *testing.T) {
	p := &Params{}
	adts := []byte{0xFF, 0xF1, 0x50, 0x80, 0x00, 0x1F, 0xFC, 0xDE, 0xAD}
	p.ExtractAudioParams(adts)

	require := assert.New(t)
	require.NotNil(p.AACConfig)
	require.Equal(44100, p.AACConfig.SampleRate)
	require.Equal(2, p.AACConfig.ChannelCount)
}

func TestParams_ExtractAudioParams_FallsBackWithoutADTS(t *testing.T) {
	p := &Params{}
	p.ExtractAudioParams([]byte{0x01, 0x02, 0x03})

	assert.NotNil(t, p.AACConfig)
	assert.Equal(t, 48000, p.AACConfig.SampleRate)
}

func TestParams_ExtractAudioParams_SetOnceThenIgnored(t *testing.T) {
	p := &Params{}
	p.ExtractAudioParams([]byte{0xFF, 0xF1, 0x50, 0x80, 0x00, 0x1F, 0xFC})
	p.ExtractAudioParams([]byte{0x00, 0x00})
	assert.Equal(t, 44100, p.AACConfig.SampleRate)
}

func TestStripADTS_RemovesSevenByteHeader(t *testing.T) {
	payload := []byte{0xAA, 0xBB, 0xCC}
	adts := append([]byte{0xFF, 0xF1, 0x50, 0x80, 0x00, 0x1F, 0xFC}, payload...)
	assert.Equal(t, payload, StripADTS(adts))
}

func TestStripADTS_LeavesNonADTSUnchanged(t *testing.T) {
	raw := []byte{0x01, 0x02, 0x03}
	assert.Equal(t, raw, StripADTS(raw))
}

func TestVideoMP4Codec_ErrorsWithoutParams(t *testing.T) {
	p := &Params{VideoCodec: types.VideoCodecH264}
	_, err := p.VideoMP4Codec()
	assert.Error(t, err)
}

func TestAudioMP4Codec_ErrorsWithoutParams(t *testing.T) {
	p := &Params{}
	_, err := p.AudioMP4Codec()
	assert.Error(t, err)
}
