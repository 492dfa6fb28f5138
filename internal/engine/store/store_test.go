package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jessicalh/rptr/internal/engine/types"
)

func runningStore(t *testing.T, maxSegments int) (*Store, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := New(maxSegments)
	go s.Run(ctx)
	return s, cancel
}

func TestPutInit_SetOnceThenIgnored(t *testing.T) {
	s, cancel := runningStore(t, 10)
	defer cancel()

	s.PutInit([]byte("first"), types.SegmentMeta{Filename: InitFilename})
	s.PutInit([]byte("second"), types.SegmentMeta{Filename: InitFilename})

	data, _, ok := s.GetInit()
	require.True(t, ok)
	assert.Equal(t, "first", string(data))
}

func TestPutMedia_EvictsOldestBeyondCap(t *testing.T) {
	s, cancel := runningStore(t, 2)
	defer cancel()

	s.PutMedia([]byte("a"), types.SegmentMeta{Filename: "segment_000.m4s"})
	s.PutMedia([]byte("b"), types.SegmentMeta{Filename: "segment_001.m4s"})
	s.PutMedia([]byte("c"), types.SegmentMeta{Filename: "segment_002.m4s"})

	snap := s.Snapshot()
	require.Len(t, snap.Media, 2)
	assert.Equal(t, "segment_001.m4s", snap.Media[0].Filename)
	assert.Equal(t, "segment_002.m4s", snap.Media[1].Filename)

	_, _, ok := s.Get("segment_000.m4s")
	assert.False(t, ok)
}

func TestGet_UnknownNameNotFound(t *testing.T) {
	s, cancel := runningStore(t, 10)
	defer cancel()

	_, _, ok := s.Get("nope.m4s")
	assert.False(t, ok)
}

func TestSnapshot_TotalBytesTracksPuts(t *testing.T) {
	s, cancel := runningStore(t, 10)
	defer cancel()

	s.PutInit([]byte("xxxxx"), types.SegmentMeta{Filename: InitFilename})
	s.PutMedia([]byte("yyy"), types.SegmentMeta{Filename: "segment_000.m4s"})

	snap := s.Snapshot()
	assert.Equal(t, 8, snap.TotalBytes)
	assert.True(t, snap.HasInit)
}

func TestClear_RemovesEverything(t *testing.T) {
	s, cancel := runningStore(t, 10)
	defer cancel()

	s.PutInit([]byte("init"), types.SegmentMeta{Filename: InitFilename})
	s.PutMedia([]byte("data"), types.SegmentMeta{Filename: "segment_000.m4s"})
	s.Clear()

	snap := s.Snapshot()
	assert.False(t, snap.HasInit)
	assert.Empty(t, snap.Media)
	assert.Zero(t, snap.TotalBytes)
}

func TestEvictToNewest_KeepsOnlyNewestN(t *testing.T) {
	s, cancel := runningStore(t, 10)
	defer cancel()

	for i := 0; i < 5; i++ {
		s.PutMedia([]byte("x"), types.SegmentMeta{Filename: segName(i)})
	}
	s.EvictToNewest(2)

	snap := s.Snapshot()
	require.Len(t, snap.Media, 2)
	assert.Equal(t, segName(3), snap.Media[0].Filename)
	assert.Equal(t, segName(4), snap.Media[1].Filename)
}

func TestDropInit_RemovesCapturedInit(t *testing.T) {
	s, cancel := runningStore(t, 10)
	defer cancel()

	s.PutInit([]byte("init"), types.SegmentMeta{Filename: InitFilename})
	s.DropInit()

	_, _, ok := s.GetInit()
	assert.False(t, ok)
	assert.False(t, s.Snapshot().HasInit)
}

func TestDropInit_AllowsReplacementInit(t *testing.T) {
	s, cancel := runningStore(t, 10)
	defer cancel()

	s.PutInit([]byte("first"), types.SegmentMeta{Filename: InitFilename})
	s.DropInit()
	s.PutInit([]byte("second"), types.SegmentMeta{Filename: InitFilename})

	data, _, ok := s.GetInit()
	require.True(t, ok)
	assert.Equal(t, "second", string(data))
}

func TestRun_ReturnsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(10)
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func segName(i int) string {
	return fmt.Sprintf("segment_%03d.m4s", i)
}
