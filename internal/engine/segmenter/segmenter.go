// Package segmenter implements the keyframe-driven fMP4 segmentation state
// machine: it consumes a real-time flow of encoded video/audio samples and
// emits self-contained, keyframe-aligned media segments plus one reused
// initialization segment per session.
package segmenter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jessicalh/rptr/internal/engine/fmp4"
	"github.com/jessicalh/rptr/internal/engine/types"
)

// State is the segmenter's top-level state (spec §4.1).
type State int

const (
	StateIdle State = iota
	StateStarting
	StateWaitingForKeyframe
	StateWriting
	StateRotatingWriter
	StateFinishing
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateWaitingForKeyframe:
		return "waiting_for_keyframe"
	case StateWriting:
		return "writing"
	case StateRotatingWriter:
		return "rotating_writer"
	case StateFinishing:
		return "finishing"
	default:
		return "idle"
	}
}

// Config is the subset of session configuration the segmenter needs.
type Config struct {
	VideoCodec      types.VideoCodec
	SegmentDuration time.Duration // D
	MinSegment      time.Duration // D_min (informational; not consulted by the rotation logic)
	MaxSegment      time.Duration // D_max
	QueueSize       int           // bounded channel capacity per kind
	StartSequence   int           // initial HLS media sequence number (spec §4.6 regenerate_path)
}

// epsilon is the lead time the backup wall-clock timer fires ahead of D, so
// a scheduled rotation can be requested even if sample PTS drifts from wall
// clock (spec §4.1 "A backup wall-clock timer at period D − ε").
const epsilon = 50 * time.Millisecond

// muxerFailureEscalationThreshold is the consecutive-failure count spec §7
// requires before MuxerError is reported via the error event; below this,
// recovery (restarting the muxer at the next keyframe) is silent.
const muxerFailureEscalationThreshold = 2

// OnSegmentFunc receives a freshly emitted segment. Invoked on the
// segmenter's own goroutine; must not block.
type OnSegmentFunc func(kind types.SegmentKind, data []byte, meta types.SegmentMeta)

// IDFunc generates an opaque trace id for a new segment.
type IDFunc func() string

// OnMuxerFailureFunc is invoked on the segmenter's own goroutine whenever
// the run of consecutive fmp4 writer failures reaches count. Must not
// block (spec §7 MuxerError escalation).
type OnMuxerFailureFunc func(count int32)

// Segmenter is the engine's sole mutator of the fMP4 writer lifecycle and
// (indirectly, via OnSegmentFunc) the segment store.
type Segmenter struct {
	cfg           Config
	onSegment     OnSegmentFunc
	genID         IDFunc
	onMuxerFailure OnMuxerFailureFunc

	videoCh chan types.Sample
	audioCh chan types.Sample
	stopCh  chan chan struct{}

	state   atomic.Int32 // State, for /health reporting without round-tripping the actor
	started atomic.Bool

	droppedFrames        atomic.Int64
	muxerFailures        atomic.Int32

	wg sync.WaitGroup
}

// New creates a Segmenter. Call Start to begin a session.
func New(cfg Config, onSegment OnSegmentFunc, genID IDFunc) *Segmenter {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Segmenter{
		cfg:       cfg,
		onSegment: onSegment,
		genID:     genID,
		videoCh:   make(chan types.Sample, cfg.QueueSize),
		audioCh:   make(chan types.Sample, cfg.QueueSize),
		stopCh:    make(chan chan struct{}, 1),
	}
}

// SetMuxerFailureHandler registers fn to be called when consecutive muxer
// failures reach the escalation threshold. Must be called before Start.
func (s *Segmenter) SetMuxerFailureHandler(fn OnMuxerFailureFunc) {
	s.onMuxerFailure = fn
}

// Start begins a session. Idempotent before the first sample (spec §4.1).
func (s *Segmenter) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.state.Store(int32(StateStarting))
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop drains the current segment, finalizes it, and quiesces. Idempotent.
func (s *Segmenter) Stop() {
	if !s.started.CompareAndSwap(true, false) {
		return
	}
	done := make(chan struct{})
	s.stopCh <- done
	<-done
	s.wg.Wait()
}

// State returns the segmenter's current top-level state, for diagnostics.
func (s *Segmenter) State() State {
	return State(s.state.Load())
}

// DroppedFrames returns the cumulative count of samples dropped since
// session start (spec §5 "Backpressure").
func (s *Segmenter) DroppedFrames() int64 {
	return s.droppedFrames.Load()
}

// MuxerFailures returns the current run of consecutive fmp4 writer
// failures, for diagnostics; escalation (spec §7 MuxerError) goes through
// the handler registered with SetMuxerFailureHandler.
func (s *Segmenter) MuxerFailures() int32 {
	return s.muxerFailures.Load()
}

// reportMuxerFailure increments the consecutive-failure counter and, once
// it reaches muxerFailureEscalationThreshold, raises the registered
// handler (spec §7 "reported via the error event only if recovery fails
// twice consecutively"). Called only from the run goroutine.
func (s *Segmenter) reportMuxerFailure() {
	count := s.muxerFailures.Add(1)
	if count >= muxerFailureEscalationThreshold && s.onMuxerFailure != nil {
		s.onMuxerFailure(count)
	}
}

// SubmitVideo is non-blocking: it enqueues sample for the segmenter
// goroutine or reports why it could not.
func (s *Segmenter) SubmitVideo(sample types.Sample) types.DropReason {
	return s.submit(s.videoCh, sample)
}

// SubmitAudio is non-blocking, mirroring SubmitVideo.
func (s *Segmenter) SubmitAudio(sample types.Sample) types.DropReason {
	return s.submit(s.audioCh, sample)
}

func (s *Segmenter) submit(ch chan types.Sample, sample types.Sample) types.DropReason {
	if !s.started.Load() || s.State() == StateFinishing {
		s.droppedFrames.Add(1)
		return types.DropFinishing
	}
	select {
	case ch <- sample:
		return types.DropNone
	default:
		s.droppedFrames.Add(1)
		return types.DropQueueFull
	}
}

// session holds everything the run loop's actor state needs; it exists
// only for the lifetime of one Start/Stop session.
type session struct {
	params       fmp4.Params
	initCaptured bool
	paramsLocked bool

	writer      *fmp4.Writer
	fragSeq     uint32
	mediaSeq    int
	segStart    time.Duration // t0, first sample's PTS in the open segment
	segWallTime time.Time
	lastVideoPTS time.Duration

	state             State
	rotationRequested bool
}

func (s *Segmenter) run(ctx context.Context) {
	defer s.wg.Done()

	sess := &session{state: StateStarting, mediaSeq: s.cfg.StartSequence}
	s.state.Store(int32(StateStarting))
	sess.params.VideoCodec = s.cfg.VideoCodec

	ticker := time.NewTicker(maxDuration(s.cfg.SegmentDuration-epsilon, 10*time.Millisecond))
	defer ticker.Stop()

	setState := func(st State) {
		sess.state = st
		s.state.Store(int32(st))
	}
	setState(StateWaitingForKeyframe)

	finish := func() {
		if sess.writer != nil && sess.writer.HasSamples() {
			s.finalizeSegment(sess)
		}
	}

	for {
		select {
		case <-ctx.Done():
			setState(StateFinishing)
			finish()
			setState(StateIdle)
			s.started.Store(false)
			return

		case done := <-s.stopCh:
			setState(StateFinishing)
			finish()
			setState(StateIdle)
			close(done)
			return

		case <-ticker.C:
			if sess.state == StateWriting {
				sess.rotationRequested = true
			}

		case sample := <-s.audioCh:
			if sess.state != StateWriting {
				s.droppedFrames.Add(1)
				continue
			}
			if sess.params.AACConfig == nil {
				sess.params.ExtractAudioParams(sample.Payload)
			}
			dur := audioSampleDuration(sess.params, sample.Duration)
			if err := sess.writer.WriteAudioSample(sample.Payload, dur); err != nil {
				s.droppedFrames.Add(1)
			}

		case sample := <-s.videoCh:
			s.handleVideo(sess, setState, sample)
		}
	}
}

func (s *Segmenter) handleVideo(sess *session, setState func(State), sample types.Sample) {
	switch sess.state {
	case StateWaitingForKeyframe:
		if !sample.Keyframe {
			s.droppedFrames.Add(1)
			return
		}
		sess.params.ExtractVideoParams(sample.Payload, !sess.paramsLocked)
		if !sess.params.VideoReady() {
			// Keyframe carried no usable parameter sets yet; keep waiting.
			s.droppedFrames.Add(1)
			return
		}
		s.beginSegment(sess, setState, sample)

	case StateWriting:
		elapsed := sample.PTS - sess.segStart
		scheduled := elapsed >= s.cfg.SegmentDuration || sess.rotationRequested
		if sample.Keyframe && scheduled {
			sess.params.ExtractVideoParams(sample.Payload, false)
			s.finalizeSegment(sess)
			s.beginSegment(sess, setState, sample)
			return
		}

		s.appendVideo(sess, sample)

		if sess.lastVideoPTS-sess.segStart >= s.cfg.MaxSegment {
			s.finalizeSegment(sess)
			if sample.Keyframe {
				s.beginSegment(sess, setState, sample)
			} else {
				setState(StateWaitingForKeyframe)
			}
		}

	default:
		s.droppedFrames.Add(1)
	}
}

func (s *Segmenter) beginSegment(sess *session, setState func(State), first types.Sample) {
	setState(StateRotatingWriter)
	sess.writer = fmp4.NewWriter(sess.params, sess.fragSeq)
	sess.fragSeq++
	sess.segStart = first.PTS
	sess.segWallTime = time.Now()
	sess.lastVideoPTS = first.PTS

	if !sess.initCaptured {
		initBytes, err := sess.writer.WriteInit()
		if err != nil {
			s.reportMuxerFailure()
			s.droppedFrames.Add(1)
			setState(StateWaitingForKeyframe)
			return
		}
		sess.initCaptured = true
		sess.paramsLocked = true
		s.onSegment(types.SegmentInit, initBytes, types.SegmentMeta{
			Kind:      types.SegmentInit,
			Filename:  "init.mp4",
			CreatedAt: time.Now(),
			Size:      len(initBytes),
			TraceID:   s.genID(),
		})
	}

	s.appendVideo(sess, first)
	setState(StateWriting)
}

func (s *Segmenter) appendVideo(sess *session, sample types.Sample) {
	duration := videoSampleDuration(sample.PTS, sess.lastVideoPTS)
	ptsOffset := int32((sample.PTS - sample.DTS) * fmp4.VideoTimescale / time.Second)
	if err := sess.writer.WriteVideoSample(sample.Payload, duration, ptsOffset, sample.Keyframe); err != nil {
		s.droppedFrames.Add(1)
		return
	}
	sess.lastVideoPTS = sample.PTS
}

func (s *Segmenter) finalizeSegment(sess *session) {
	sess.rotationRequested = false
	data, err := sess.writer.Finish()
	if err != nil || data == nil {
		s.reportMuxerFailure()
		s.droppedFrames.Add(1)
		return
	}
	s.muxerFailures.Store(0)

	dur := sess.lastVideoPTS - sess.segStart
	if dur <= 0 {
		dur = time.Since(sess.segWallTime)
	}

	meta := types.SegmentMeta{
		Kind:      types.SegmentMedia,
		Sequence:  sess.mediaSeq,
		Filename:  fmt.Sprintf("segment_%03d.m4s", sess.mediaSeq),
		CreatedAt: sess.segWallTime,
		Duration:  dur,
		Size:      len(data),
		TraceID:   s.genID(),
	}
	sess.mediaSeq++
	s.onSegment(types.SegmentMedia, data, meta)
}

func videoSampleDuration(pts, lastPTS time.Duration) uint32 {
	d := pts - lastPTS
	if d <= 0 {
		d = time.Second / 30
	}
	return uint32(d * fmp4.VideoTimescale / time.Second)
}

func audioSampleDuration(params fmp4.Params, sampleDuration time.Duration) uint32 {
	rate := 48000
	if params.AACConfig != nil && params.AACConfig.SampleRate > 0 {
		rate = params.AACConfig.SampleRate
	}
	if sampleDuration > 0 {
		return uint32(sampleDuration * time.Duration(rate) / time.Second)
	}
	return 1024 // one AAC frame's worth of samples, the common case
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
