// Package fmp4 builds self-contained fragmented MP4 initialization and
// media segments from Annex-B video and raw/ADTS audio samples, driving
// mediacommon's box-level fmp4/mp4 packages directly rather than a
// higher-level muxer.
package fmp4

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/jessicalh/rptr/internal/engine/types"
)

// Params holds the codec parameter sets captured from the first keyframe
// and first audio sample of a session. They must stay byte-for-byte
// identical across internal muxer restarts so a captured init segment
// stays valid for the session's lifetime.
type Params struct {
	VideoCodec types.VideoCodec

	H264SPS, H264PPS       []byte
	H265VPS, H265SPS, H265PPS []byte

	AACConfig *mpeg4audio.Config
}

// VideoReady reports whether enough video parameters have been captured to
// build an initialization segment.
func (p *Params) VideoReady() bool {
	switch p.VideoCodec {
	case types.VideoCodecH265:
		return len(p.H265VPS) > 0 && len(p.H265SPS) > 0 && len(p.H265PPS) > 0
	default:
		return len(p.H264SPS) > 0 && len(p.H264PPS) > 0
	}
}

// ExtractVideoParams scans the NAL units of an Annex-B sample for parameter
// set NAL units and stores any it finds. Safe to call on every keyframe.
// Without force only missing fields are filled, which keeps parameters
// byte-identical once the segmenter has locked them (see the segmenter's
// param-lock semantics in §4.1 of the init segment reuse rule); with force
// every parameter set found replaces the stored one.
func (p *Params) ExtractVideoParams(annexB []byte, force bool) {
	for _, nal := range SplitAnnexB(annexB) {
		if len(nal) == 0 {
			continue
		}
		switch p.VideoCodec {
		case types.VideoCodecH265:
			if len(nal) < 2 {
				continue
			}
			switch h265.NALUType((nal[0] >> 1) & 0x3F) {
			case h265.NALUType_VPS_NUT:
				if force || p.H265VPS == nil {
					p.H265VPS = cloneBytes(nal)
				}
			case h265.NALUType_SPS_NUT:
				if force || p.H265SPS == nil {
					p.H265SPS = cloneBytes(nal)
				}
			case h265.NALUType_PPS_NUT:
				if force || p.H265PPS == nil {
					p.H265PPS = cloneBytes(nal)
				}
			}
		default:
			switch h264.NALUType(nal[0] & 0x1F) {
			case h264.NALUTypeSPS:
				if force || p.H264SPS == nil {
					p.H264SPS = cloneBytes(nal)
				}
			case h264.NALUTypePPS:
				if force || p.H264PPS == nil {
					p.H264PPS = cloneBytes(nal)
				}
			}
		}
	}
}

// ExtractAudioParams parses an AudioSpecificConfig out of an ADTS header
// wrapping the first audio sample, falling back to a sane AAC-LC stereo
// default if the sample carries no ADTS framing (raw AAC with parameters
// provided out of band).
func (p *Params) ExtractAudioParams(sample []byte) {
	if p.AACConfig != nil {
		return
	}
	if cfg := parseADTSConfig(sample); cfg != nil {
		p.AACConfig = cfg
		return
	}
	p.AACConfig = &mpeg4audio.Config{
		Type:         mpeg4audio.ObjectTypeAACLC,
		SampleRate:   48000,
		ChannelCount: 2,
	}
}

// VideoMP4Codec builds the mp4.Codec for the init segment's video track.
func (p *Params) VideoMP4Codec() (mp4.Codec, error) {
	switch p.VideoCodec {
	case types.VideoCodecH265:
		if len(p.H265VPS) == 0 || len(p.H265SPS) == 0 || len(p.H265PPS) == 0 {
			return nil, fmt.Errorf("h265 VPS/SPS/PPS not available")
		}
		return &mp4.CodecH265{VPS: p.H265VPS, SPS: p.H265SPS, PPS: p.H265PPS}, nil
	default:
		if len(p.H264SPS) == 0 || len(p.H264PPS) == 0 {
			return nil, fmt.Errorf("h264 SPS/PPS not available")
		}
		return &mp4.CodecH264{SPS: p.H264SPS, PPS: p.H264PPS}, nil
	}
}

// AudioMP4Codec builds the mp4.Codec for the init segment's audio track.
func (p *Params) AudioMP4Codec() (mp4.Codec, error) {
	if p.AACConfig == nil {
		return nil, fmt.Errorf("aac config not available")
	}
	return &mp4.CodecMPEG4Audio{Config: *p.AACConfig}, nil
}

// SplitAnnexB splits Annex-B start-code-delimited data into individual NAL
// units, falling back to treating the whole buffer as one NAL unit if it
// isn't Annex-B framed (e.g. already a bare NAL unit).
func SplitAnnexB(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	if isAnnexB(data) {
		var au h264.AnnexB
		if err := au.Unmarshal(data); err == nil {
			return au
		}
	}
	return [][]byte{data}
}

func isAnnexB(data []byte) bool {
	if len(data) < 4 || data[0] != 0x00 || data[1] != 0x00 {
		return false
	}
	return data[2] == 0x01 || (data[2] == 0x00 && data[3] == 0x01)
}

// StripADTS removes an ADTS header from a raw AAC frame if present.
func StripADTS(data []byte) []byte {
	if len(data) < 7 || data[0] != 0xFF || (data[1]&0xF0) != 0xF0 {
		return data
	}
	headerSize := 7
	if data[1]&0x01 == 0 {
		headerSize = 9 // CRC present
	}
	if len(data) <= headerSize {
		return data
	}
	return data[headerSize:]
}

var adtsSampleRates = []int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350, 0, 0, 0,
}

func parseADTSConfig(data []byte) *mpeg4audio.Config {
	if len(data) < 7 || data[0] != 0xFF || (data[1]&0xF0) != 0xF0 {
		return nil
	}
	sampleRateIndex := (data[2] >> 2) & 0x0F
	channelConfig := ((data[2] & 0x01) << 2) | ((data[3] >> 6) & 0x03)
	if int(sampleRateIndex) >= len(adtsSampleRates) || adtsSampleRates[sampleRateIndex] == 0 {
		return nil
	}
	return &mpeg4audio.Config{
		Type:         mpeg4audio.ObjectTypeAACLC,
		SampleRate:   adtsSampleRates[sampleRateIndex],
		ChannelCount: int(channelConfig),
	}
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
