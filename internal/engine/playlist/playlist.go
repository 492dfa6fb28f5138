// Package playlist serializes a segment store snapshot into an RFC 8216bis
// HLS media playlist. Builder keeps the small amount of state (the
// discontinuity-sequence counter and how far sequence gaps have already
// been counted into it) that spans across otherwise-pure rebuilds.
package playlist

import (
	"fmt"
	"strings"
	"time"

	"github.com/jessicalh/rptr/internal/engine/store"
	"github.com/jessicalh/rptr/internal/engine/types"
)

// Config is the subset of session configuration the playlist builder needs.
type Config struct {
	TargetDurationS int           // T, integer seconds, >= ceil(D_max)
	SegmentDuration time.Duration // D, used for CAN-SKIP-UNTIL / TIME-OFFSET
	Window          int           // W
	BasePath        string        // current random path, e.g. "qwhfkzmbtd"
}

const minSegmentDuration = 10 * time.Millisecond // 0.01s, spec §4.1/§4.3

// Builder accumulates the cross-rebuild state the pure playlist text
// function needs: the cumulative discontinuity sequence counter, and the
// highest segment sequence for which a store-level gap has already been
// counted (so repeated polls over the same still-resident gap don't
// recount it).
type Builder struct {
	discontinuitySeq    int
	gapAccountedThrough int
	haveGapAccounted    bool
}

// NewBuilder returns a Builder with discontinuity state reset, as after
// start() or regenerate_path().
func NewBuilder() *Builder {
	return &Builder{}
}

// Reset clears cross-rebuild state, used by regenerate_path (spec §4.6).
func (b *Builder) Reset() {
	*b = Builder{}
}

// Build renders the current playlist text for snap under cfg. It never
// returns an error: an empty/bootstrap snapshot still produces a valid
// playlist (spec §4.3 "Bootstrap").
func (b *Builder) Build(snap store.Snapshot, cfg Config) string {
	published := selectWindow(snap.Media, cfg.Window)
	gap := b.observeGaps(snap.Media, published)

	var sb strings.Builder
	sb.WriteString("#EXTM3U\n")

	version := 6
	hasInit := snap.HasInit
	if hasInit {
		version = 7
	}
	fmt.Fprintf(&sb, "#EXT-X-VERSION:%d\n", version)
	fmt.Fprintf(&sb, "#EXT-X-TARGETDURATION:%d\n", cfg.TargetDurationS)
	sb.WriteString("#EXT-X-PLAYLIST-TYPE:EVENT\n")
	sb.WriteString("#EXT-X-INDEPENDENT-SEGMENTS\n")

	skipUntil := 2 * cfg.SegmentDuration.Seconds()
	fmt.Fprintf(&sb, "#EXT-X-SERVER-CONTROL:CAN-SKIP-UNTIL=%s\n", formatSeconds(skipUntil))
	fmt.Fprintf(&sb, "#EXT-X-START:TIME-OFFSET=-%s\n", formatSeconds(skipUntil))
	sb.WriteString("#EXT-X-ALLOW-CACHE:NO\n")
	fmt.Fprintf(&sb, "#EXT-X-DISCONTINUITY-SEQUENCE:%d\n", b.discontinuitySeq)

	mediaSeq := 0
	if len(published) > 0 {
		mediaSeq = published[0].Sequence
	}
	fmt.Fprintf(&sb, "#EXT-X-MEDIA-SEQUENCE:%d\n", mediaSeq)

	if hasInit {
		fmt.Fprintf(&sb, "#EXT-X-MAP:URI=\"/stream/%s/init.mp4\"\n", cfg.BasePath)
	}

	if len(published) > 0 {
		first := published[0]
		fmt.Fprintf(&sb, "#EXT-X-PROGRAM-DATE-TIME:%s\n", first.CreatedAt.UTC().Format(time.RFC3339Nano))
	}

	if gap {
		sb.WriteString("#EXT-X-DISCONTINUITY\n")
	}

	for _, meta := range published {
		fmt.Fprintf(&sb, "#EXTINF:%s,\n", formatSeconds(meta.Duration.Seconds()))
		fmt.Fprintf(&sb, "/stream/%s/segments/%s\n", cfg.BasePath, meta.Filename)
	}

	return sb.String()
}

// observeGaps scans the store's full retained sequence (not the windowed
// selection) for breaks. Build runs once per HTTP request, and normal
// front-eviction (cap overflow or memory-pressure trimming) always keeps
// the retained suffix contiguous regardless of how many segments rolled
// over between two requests, so comparing first-sequence numbers across
// unrelated Build calls is not a valid way to detect a gap. A genuine
// discontinuity only exists when the store itself holds a non-contiguous
// sequence run (e.g. a session resuming on the same path without a store
// clear). Each break is counted into the cumulative discontinuity
// sequence the first time it is observed; the return value reports
// whether the segment currently being published first is the one right
// after a break, so the per-response #EXT-X-DISCONTINUITY tag lands in
// the right place (spec §4.3 "Selection rule").
func (b *Builder) observeGaps(all, published []types.SegmentMeta) bool {
	gapAtPublishedStart := false
	for i := 1; i < len(all); i++ {
		if all[i].Sequence == all[i-1].Sequence+1 {
			continue
		}
		if !b.haveGapAccounted || all[i].Sequence > b.gapAccountedThrough {
			b.discontinuitySeq++
			b.gapAccountedThrough = all[i].Sequence
			b.haveGapAccounted = true
		}
		if len(published) > 0 && all[i].Sequence == published[0].Sequence {
			gapAtPublishedStart = true
		}
	}
	return gapAtPublishedStart
}

// selectWindow returns the last min(window, N) segments, skipping any
// whose duration is below the minimum (spec §4.3 "Selection rule").
func selectWindow(media []types.SegmentMeta, window int) []types.SegmentMeta {
	var valid []types.SegmentMeta
	for _, m := range media {
		if m.Duration < minSegmentDuration {
			continue
		}
		valid = append(valid, m)
	}
	if window <= 0 || len(valid) <= window {
		return valid
	}
	return valid[len(valid)-window:]
}

func formatSeconds(s float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.3f", s), "0"), ".")
}
