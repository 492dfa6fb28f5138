package playlist

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jessicalh/rptr/internal/engine/store"
	"github.com/jessicalh/rptr/internal/engine/types"
)

func baseConfig() Config {
	return Config{
		TargetDurationS: 5,
		SegmentDuration: 4 * time.Second,
		Window:          3,
		BasePath:        "abc123",
	}
}

func seg(seq int, dur time.Duration) types.SegmentMeta {
	return types.SegmentMeta{
		Kind:      types.SegmentMedia,
		Sequence:  seq,
		Filename:  fmt.Sprintf("segment_%03d.m4s", seq),
		CreatedAt: time.Unix(1700000000+int64(seq), 0),
		Duration:  dur,
	}
}

func TestBuild_Bootstrap(t *testing.T) {
	b := NewBuilder()
	out := b.Build(store.Snapshot{}, baseConfig())

	assert.Contains(t, out, "#EXTM3U")
	assert.Contains(t, out, "#EXT-X-VERSION:6")
	assert.Contains(t, out, "#EXT-X-TARGETDURATION:5")
	assert.Contains(t, out, "#EXT-X-PLAYLIST-TYPE:EVENT")
	assert.Contains(t, out, "#EXT-X-MEDIA-SEQUENCE:0")
	assert.NotContains(t, out, "#EXT-X-MAP")
	assert.NotContains(t, out, "#EXTINF")
	assert.NotContains(t, out, "#EXT-X-ENDLIST")
}

func TestBuild_TagOrderAndMapWhenInitPresent(t *testing.T) {
	b := NewBuilder()
	snap := store.Snapshot{
		HasInit: true,
		Media:   []types.SegmentMeta{seg(0, 4 * time.Second), seg(1, 4 * time.Second)},
	}
	out := b.Build(snap, baseConfig())

	assert.Contains(t, out, "#EXT-X-VERSION:7")
	assert.Contains(t, out, `#EXT-X-MAP:URI="/stream/abc123/init.mp4"`)
	assert.Contains(t, out, "#EXT-X-MEDIA-SEQUENCE:0")
	assert.Contains(t, out, "/stream/abc123/segments/segment_000.m4s")
	assert.Contains(t, out, "/stream/abc123/segments/segment_001.m4s")

	mapIdx := indexOf(out, "#EXT-X-MAP")
	seqIdx := indexOf(out, "#EXT-X-MEDIA-SEQUENCE")
	extinfIdx := indexOf(out, "#EXTINF")
	assert.Less(t, seqIdx, mapIdx)
	assert.Less(t, mapIdx, extinfIdx)
}

func TestBuild_SkipsSubMinimumDurationSegments(t *testing.T) {
	b := NewBuilder()
	snap := store.Snapshot{
		Media: []types.SegmentMeta{seg(0, 1 * time.Millisecond), seg(1, 4 * time.Second)},
	}
	out := b.Build(snap, baseConfig())

	assert.NotContains(t, out, "segment_000.m4s")
	assert.Contains(t, out, "segment_001.m4s")
}

func TestBuild_SelectsOnlyLastWindowSegments(t *testing.T) {
	b := NewBuilder()
	var media []types.SegmentMeta
	for i := 0; i < 10; i++ {
		media = append(media, seg(i, 4*time.Second))
	}
	cfg := baseConfig()
	cfg.Window = 3
	out := b.Build(store.Snapshot{Media: media}, cfg)

	assert.NotContains(t, out, "segment_006.m4s")
	assert.Contains(t, out, "segment_007.m4s")
	assert.Contains(t, out, "segment_008.m4s")
	assert.Contains(t, out, "segment_009.m4s")
	assert.Contains(t, out, "#EXT-X-MEDIA-SEQUENCE:7")
}

func TestBuild_NoDiscontinuityAcrossMultiSegmentEviction(t *testing.T) {
	b := NewBuilder()
	cfg := baseConfig()
	cfg.Window = 2

	// A request can land after more than one rotation has evicted segments
	// from the front; the retained store contents are still contiguous, so
	// no discontinuity should be reported regardless of how far the window
	// jumped between polls.
	b.Build(store.Snapshot{Media: []types.SegmentMeta{seg(0, 4*time.Second), seg(1, 4*time.Second)}}, cfg)
	out := b.Build(store.Snapshot{Media: []types.SegmentMeta{
		seg(2, 4*time.Second), seg(3, 4*time.Second), seg(4, 4*time.Second),
	}}, cfg)

	assert.NotContains(t, out, "#EXT-X-DISCONTINUITY\n")
	assert.Contains(t, out, "#EXT-X-DISCONTINUITY-SEQUENCE:0")
}

func TestBuild_DiscontinuityOnStoreLevelGap(t *testing.T) {
	b := NewBuilder()
	cfg := baseConfig()
	cfg.Window = 2

	// The store itself holds a non-contiguous sequence run: 0,1 then a
	// break to 3,4. This can only happen from within a single snapshot,
	// since normal front-eviction never introduces a break.
	snap := store.Snapshot{Media: []types.SegmentMeta{
		seg(0, 4*time.Second), seg(1, 4*time.Second), seg(3, 4*time.Second), seg(4, 4*time.Second),
	}}
	out := b.Build(snap, cfg)

	assert.Contains(t, out, "#EXT-X-DISCONTINUITY\n")
	assert.Contains(t, out, "#EXT-X-DISCONTINUITY-SEQUENCE:1")
}

func TestBuild_DiscontinuityNotRecountedOnRepeatedPoll(t *testing.T) {
	b := NewBuilder()
	cfg := baseConfig()
	cfg.Window = 2

	snap := store.Snapshot{Media: []types.SegmentMeta{
		seg(0, 4*time.Second), seg(3, 4*time.Second), seg(4, 4*time.Second),
	}}
	b.Build(snap, cfg)
	out := b.Build(snap, cfg)

	assert.Contains(t, out, "#EXT-X-DISCONTINUITY-SEQUENCE:1")
	assert.NotContains(t, out, "#EXT-X-DISCONTINUITY-SEQUENCE:2")
}

func TestReset_ClearsDiscontinuityState(t *testing.T) {
	b := NewBuilder()
	cfg := baseConfig()
	snap := store.Snapshot{Media: []types.SegmentMeta{seg(0, 4*time.Second), seg(5, 4*time.Second)}}
	b.Build(snap, cfg)
	assert.Equal(t, 1, b.discontinuitySeq)

	b.Reset()
	assert.Equal(t, 0, b.discontinuitySeq)
	assert.False(t, b.haveGapAccounted)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
