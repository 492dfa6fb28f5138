package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jessicalh/rptr/internal/engine/segmenter"
	"github.com/jessicalh/rptr/internal/engine/types"
)

func TestNopDelegate_SatisfiesInterface(t *testing.T) {
	var d HostDelegate = NopDelegate{}
	d.ServerStarted("http://127.0.0.1:8080/view/abc")
	d.ServerStopped()
	d.ClientConnected("192.168.1.5")
	d.ClientDisconnected("192.168.1.5")
	d.Error(nil)

	body, err := d.RequestLocation()
	assert.NoError(t, err)
	assert.Nil(t, body)
}

func TestIntake_NilSegmenter_ReportsNotRunning(t *testing.T) {
	intake := NewIntake(nil)
	assert.Equal(t, types.DropNotRunning, intake.PushVideo(types.Sample{}))
	assert.Equal(t, types.DropNotRunning, intake.PushAudio(types.Sample{}))
}

func TestIntake_NilReceiver_ReportsNotRunning(t *testing.T) {
	var intake *Intake
	assert.Equal(t, types.DropNotRunning, intake.PushVideo(types.Sample{}))
	assert.Equal(t, types.DropNotRunning, intake.PushAudio(types.Sample{}))
}

func TestIntake_ForwardsToSegmenter(t *testing.T) {
	seg := segmenter.New(segmenter.Config{
		VideoCodec:      types.VideoCodecH264,
		SegmentDuration: 4_000_000_000,
		MaxSegment:      8_000_000_000,
	}, func(types.SegmentKind, []byte, types.SegmentMeta) {}, func() string { return "trace" })
	intake := NewIntake(seg)

	reason := intake.PushVideo(types.Sample{Kind: types.KindVideo})
	assert.Equal(t, types.DropFinishing, reason)
}
