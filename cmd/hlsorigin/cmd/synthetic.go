package cmd

import (
	"context"
	"time"

	"github.com/jessicalh/rptr/internal/engine/adapters"
	"github.com/jessicalh/rptr/internal/engine/types"
)

// synthetic H.264 baseline parameter sets (placeholder geometry) and a
// minimal IDR/P-slice pair, Annex-B start-code framed. These are fixed
// bytes, not a real encoder output; runSyntheticGenerator exists only to
// exercise the intake -> segmenter -> store -> playlist path end to end
// without a capture pipeline attached.
var (
	syntheticSPS = []byte{0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0xc0, 0x0a, 0xd9, 0x05, 0x88, 0x65, 0x80}
	syntheticPPS = []byte{0x00, 0x00, 0x00, 0x01, 0x68, 0xce, 0x3c, 0x80}
	syntheticIDR = []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x00}
	syntheticP   = []byte{0x00, 0x00, 0x00, 0x01, 0x41, 0x9a, 0x24, 0x6c}
)

const syntheticFrameInterval = time.Second / 30

// runSyntheticGenerator pushes a fixed-rate stream of placeholder video
// samples into intake until ctx is canceled, emitting a fresh keyframe once
// per segmentDuration so the segmenter can rotate on schedule.
func runSyntheticGenerator(ctx context.Context, intake *adapters.Intake, segmentDuration time.Duration) {
	if segmentDuration <= 0 {
		segmentDuration = 4 * time.Second
	}

	ticker := time.NewTicker(syntheticFrameInterval)
	defer ticker.Stop()

	var pts time.Duration
	var frame int

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			keyframe := frame == 0
			payload := syntheticP
			if keyframe {
				payload = append(append([]byte{}, syntheticSPS...), append(syntheticPPS, syntheticIDR...)...)
			}

			intake.PushVideo(types.Sample{
				Kind:     types.KindVideo,
				PTS:      pts,
				DTS:      pts,
				Keyframe: keyframe,
				Payload:  payload,
			})

			pts += syntheticFrameInterval
			frame++
			if time.Duration(frame)*syntheticFrameInterval >= segmentDuration {
				frame = 0
			}
		}
	}
}
