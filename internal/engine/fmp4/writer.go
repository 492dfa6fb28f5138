package fmp4

import (
	"bytes"
	"fmt"
	"io"

	mcfmp4 "github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"

	"github.com/jessicalh/rptr/internal/engine/types"
)

const (
	videoTrackID = 1
	audioTrackID = 2

	// VideoTimescale is the time base (Hz) samples' Duration/PTSOffset are
	// expressed in. 90kHz matches the PTS/DTS convention used throughout
	// the rest of the engine.
	VideoTimescale = 90000
)

// Writer accumulates samples for exactly one segment (one fragment: a
// single moof+mdat pair) and marshals them through mediacommon. A new
// Writer is constructed on every segment rotation; Params must stay
// byte-identical across the session so a captured init segment (built by
// the first Writer only) stays valid. See internal/engine/segmenter for the
// rotation/reuse policy.
type Writer struct {
	params         Params
	sequenceNumber uint32

	audioTimescale uint32

	videoSamples []*mcfmp4.Sample
	audioSamples []*mcfmp4.Sample
	videoBase    uint64
	audioBase    uint64
}

// NewWriter creates a Writer for one fragment. sequenceNumber is the fMP4
// fragment sequence number (mfhd), independent from the HLS media
// sequence number the playlist builder tracks.
func NewWriter(params Params, sequenceNumber uint32) *Writer {
	audioTimescale := uint32(48000)
	if params.AACConfig != nil && params.AACConfig.SampleRate > 0 {
		audioTimescale = uint32(params.AACConfig.SampleRate)
	}
	return &Writer{
		params:         params,
		sequenceNumber: sequenceNumber,
		audioTimescale: audioTimescale,
	}
}

// WriteVideoSample appends one video access unit. duration and ptsOffset
// are expressed in VideoTimescale units; ptsOffset is the composition time
// offset (PTS-DTS).
func (w *Writer) WriteVideoSample(annexB []byte, duration uint32, ptsOffset int32, keyframe bool) error {
	sample := &mcfmp4.Sample{
		Duration:        duration,
		PTSOffset:       ptsOffset,
		IsNonSyncSample: !keyframe,
	}
	nalus := SplitAnnexB(annexB)
	var err error
	switch w.params.VideoCodec {
	case types.VideoCodecH265:
		err = sample.FillH265(ptsOffset, nalus)
	default:
		err = sample.FillH264(ptsOffset, nalus)
	}
	if err != nil {
		return fmt.Errorf("fill video sample: %w", err)
	}
	w.videoSamples = append(w.videoSamples, sample)
	return nil
}

// WriteAudioSample appends one raw (non-ADTS) AAC frame. duration is
// expressed in the audio track's timescale (the AAC sample rate).
func (w *Writer) WriteAudioSample(raw []byte, duration uint32) error {
	w.audioSamples = append(w.audioSamples, &mcfmp4.Sample{
		Duration: duration,
		Payload:  StripADTS(raw),
	})
	return nil
}

// HasSamples reports whether any sample has been buffered since
// construction or the last Finish.
func (w *Writer) HasSamples() bool {
	return len(w.videoSamples) > 0 || len(w.audioSamples) > 0
}

// WriteInit marshals the session's one-and-only initialization segment
// (ftyp+moov). Callers must invoke this on the first Writer of a session
// only and cache the result; see the segmenter's init-capture rule.
func (w *Writer) WriteInit() ([]byte, error) {
	videoCodec, err := w.params.VideoMP4Codec()
	if err != nil {
		return nil, fmt.Errorf("build video codec: %w", err)
	}

	tracks := []*mcfmp4.InitTrack{{
		ID:        videoTrackID,
		TimeScale: VideoTimescale,
		Codec:     videoCodec,
	}}

	if w.params.AACConfig != nil {
		audioCodec, err := w.params.AudioMP4Codec()
		if err != nil {
			return nil, fmt.Errorf("build audio codec: %w", err)
		}
		tracks = append(tracks, &mcfmp4.InitTrack{
			ID:        audioTrackID,
			TimeScale: w.audioTimescale,
			Codec:     audioCodec,
		})
	}

	init := &mcfmp4.Init{Tracks: tracks}

	var buf bytes.Buffer
	sw := &seekableBuffer{Buffer: &buf}
	if err := init.Marshal(sw); err != nil {
		return nil, fmt.Errorf("marshal init segment: %w", err)
	}
	return buf.Bytes(), nil
}

// Finish marshals the buffered samples as one fragment (moof+mdat) and
// returns its bytes. The Writer is not reusable after Finish; a new Writer
// is created for the next segment.
func (w *Writer) Finish() ([]byte, error) {
	if !w.HasSamples() {
		return nil, nil
	}

	part := &mcfmp4.Part{SequenceNumber: w.sequenceNumber}

	if len(w.videoSamples) > 0 {
		part.Tracks = append(part.Tracks, &mcfmp4.PartTrack{
			ID:       videoTrackID,
			BaseTime: w.videoBase,
			Samples:  w.videoSamples,
		})
	}
	if len(w.audioSamples) > 0 {
		part.Tracks = append(part.Tracks, &mcfmp4.PartTrack{
			ID:       audioTrackID,
			BaseTime: w.audioBase,
			Samples:  w.audioSamples,
		})
	}

	var buf bytes.Buffer
	sw := &seekableBuffer{Buffer: &buf}
	if err := part.Marshal(sw); err != nil {
		return nil, fmt.Errorf("marshal fragment: %w", err)
	}
	return buf.Bytes(), nil
}

// seekableBuffer adapts a bytes.Buffer to io.WriteSeeker, which
// mediacommon's Marshal requires in order to patch box sizes after the
// fact.
type seekableBuffer struct {
	*bytes.Buffer
	pos int64
}

func (s *seekableBuffer) Write(p []byte) (int, error) {
	if int(s.pos) > s.Buffer.Len() {
		s.Buffer.Write(make([]byte, int(s.pos)-s.Buffer.Len()))
	}
	if int(s.pos) == s.Buffer.Len() {
		n, err := s.Buffer.Write(p)
		s.pos += int64(n)
		return n, err
	}
	b := s.Buffer.Bytes()
	n := copy(b[s.pos:], p)
	if n < len(p) {
		m, err := s.Buffer.Write(p[n:])
		n += m
		if err != nil {
			s.pos += int64(n)
			return n, err
		}
	}
	s.pos += int64(n)
	return n, nil
}

func (s *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = s.pos + offset
	case io.SeekEnd:
		newPos = int64(s.Buffer.Len()) + offset
	default:
		return 0, fmt.Errorf("seekableBuffer: invalid whence %d", whence)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("seekableBuffer: negative position")
	}
	s.pos = newPos
	return newPos, nil
}
