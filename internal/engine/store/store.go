// Package store holds the bounded in-memory segment store: one optional
// initialization segment plus an ordered list of recent media segments.
// A single goroutine owns all mutable state behind request/response
// channels so writes (the segmenter) never wait on readers (the HTTP
// origin), and readers always see an internally-consistent snapshot.
package store

import (
	"context"
	"sync/atomic"

	"github.com/jessicalh/rptr/internal/engine/types"
)

// Entry is one stored segment: its metadata plus its bytes.
type Entry struct {
	Meta types.SegmentMeta
	Data []byte
}

// Snapshot is an immutable view of store state handed to readers. Media is
// safe to range over without any lock; it is never mutated after being
// captured.
type Snapshot struct {
	HasInit    bool
	Media      []types.SegmentMeta
	TotalBytes int
}

// Store is the bounded segment store described in spec §4.2. Create with
// New, then call Run in its own goroutine before using the public methods.
type Store struct {
	maxSegments int

	putInit       chan putInitReq
	putMedia      chan putMediaReq
	get           chan getReq
	snapshot      chan snapshotReq
	clear         chan chan struct{}
	evictToNewest chan evictReq
	dropInitCh    chan chan struct{}

	closed atomic.Bool
}

// New creates a store capped at maxSegments media segments.
func New(maxSegments int) *Store {
	return &Store{
		maxSegments:   maxSegments,
		putInit:       make(chan putInitReq),
		putMedia:      make(chan putMediaReq),
		get:           make(chan getReq),
		snapshot:      make(chan snapshotReq),
		clear:         make(chan chan struct{}),
		evictToNewest: make(chan evictReq),
		dropInitCh:    make(chan chan struct{}),
	}
}

// Run serializes every mutation and read through a single select loop.
// It returns when ctx is canceled.
func (s *Store) Run(ctx context.Context) {
	var (
		initSet    bool
		initData   []byte
		initMeta   types.SegmentMeta
		media      []Entry
		byName     = make(map[string]Entry)
		totalBytes int
	)

	addBytes := func(e Entry) { totalBytes += len(e.Data) }
	removeBytes := func(e Entry) { totalBytes -= len(e.Data) }

	for {
		select {
		case <-ctx.Done():
			s.closed.Store(true)
			return

		case req := <-s.putInit:
			if !initSet {
				initSet = true
				initData = req.data
				initMeta = req.meta
				totalBytes += len(req.data)
			}
			close(req.done)

		case req := <-s.putMedia:
			e := Entry{Meta: req.meta, Data: req.data}
			byName[req.meta.Filename] = e
			media = append(media, e)
			addBytes(e)
			for len(media) > s.maxSegments {
				oldest := media[0]
				removeBytes(oldest)
				delete(byName, oldest.Meta.Filename)
				media[0] = Entry{}
				media = media[1:]
			}
			close(req.done)

		case req := <-s.get:
			if req.name == InitFilename && initSet {
				req.res <- getResult{data: initData, meta: initMeta, ok: true}
				continue
			}
			if e, ok := byName[req.name]; ok {
				req.res <- getResult{data: e.Data, meta: e.Meta, ok: true}
				continue
			}
			req.res <- getResult{}

		case req := <-s.snapshot:
			metas := make([]types.SegmentMeta, len(media))
			for i, e := range media {
				metas[i] = e.Meta
			}
			req.res <- Snapshot{HasInit: initSet, Media: metas, TotalBytes: totalBytes}

		case done := <-s.clear:
			initSet = false
			initData = nil
			media = nil
			byName = make(map[string]Entry)
			totalBytes = 0
			close(done)

		case req := <-s.evictToNewest:
			if len(media) > req.n {
				dropped := media[:len(media)-req.n]
				for _, e := range dropped {
					removeBytes(e)
					delete(byName, e.Meta.Filename)
				}
				kept := make([]Entry, req.n)
				copy(kept, media[len(media)-req.n:])
				media = kept
			}
			close(req.done)

		case done := <-s.dropInitCh:
			if initSet {
				removeBytes(Entry{Data: initData})
			}
			initSet = false
			initData = nil
			close(done)
		}
	}
}

// InitFilename is the key the initialization segment is addressed by.
const InitFilename = "init.mp4"

type putInitReq struct {
	data []byte
	meta types.SegmentMeta
	done chan struct{}
}

// PutInit sets the session's initialization segment once. Subsequent calls
// after a real init is set are ignored, matching the segmenter's init-reuse
// rule (spec §4.1).
func (s *Store) PutInit(data []byte, meta types.SegmentMeta) {
	done := make(chan struct{})
	s.putInit <- putInitReq{data: data, meta: meta, done: done}
	<-done
}

type putMediaReq struct {
	data []byte
	meta types.SegmentMeta
	done chan struct{}
}

// PutMedia appends a media segment, evicting the oldest if the store would
// exceed its configured cap.
func (s *Store) PutMedia(data []byte, meta types.SegmentMeta) {
	done := make(chan struct{})
	s.putMedia <- putMediaReq{data: data, meta: meta, done: done}
	<-done
}

type getResult struct {
	data []byte
	meta types.SegmentMeta
	ok   bool
}

type getReq struct {
	name string
	res  chan getResult
}

// Get returns a segment's bytes and metadata by filename, or ok=false if
// no such segment exists (maps to HTTP 404 at the origin).
func (s *Store) Get(name string) (data []byte, meta types.SegmentMeta, ok bool) {
	res := make(chan getResult, 1)
	s.get <- getReq{name: name, res: res}
	r := <-res
	return r.data, r.meta, r.ok
}

// GetInit returns the session's initialization segment, if any.
func (s *Store) GetInit() (data []byte, meta types.SegmentMeta, ok bool) {
	return s.Get(InitFilename)
}

type snapshotReq struct {
	res chan Snapshot
}

// Snapshot returns an immutable view of store state for the playlist
// builder and diagnostics.
func (s *Store) Snapshot() Snapshot {
	res := make(chan Snapshot, 1)
	s.snapshot <- snapshotReq{res: res}
	return <-res
}

// Clear removes all entries (used on stop and on path regeneration).
func (s *Store) Clear() {
	done := make(chan struct{})
	s.clear <- done
	<-done
}

type evictReq struct {
	n    int
	done chan struct{}
}

// EvictToNewest keeps only the newest n media segments, used by the
// supervisor's memory-pressure hook (spec §4.5).
func (s *Store) EvictToNewest(n int) {
	done := make(chan struct{})
	s.evictToNewest <- evictReq{n: n, done: done}
	<-done
}

// DropInit discards the captured initialization segment under severe
// memory pressure; the next emitted init becomes the new canonical one.
func (s *Store) DropInit() {
	done := make(chan struct{})
	s.dropInitCh <- done
	<-done
}
