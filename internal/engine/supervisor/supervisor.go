// Package supervisor owns the engine's start/stop lifecycle, wires the
// segmenter to the segment store and playlist builder, and implements
// memory-pressure eviction and path regeneration (spec §4.5, §4.6).
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jessicalh/rptr/internal/engine/adapters"
	"github.com/jessicalh/rptr/internal/engine/ids"
	"github.com/jessicalh/rptr/internal/engine/playlist"
	"github.com/jessicalh/rptr/internal/engine/segmenter"
	"github.com/jessicalh/rptr/internal/engine/store"
	"github.com/jessicalh/rptr/internal/engine/types"
)

// Config is the subset of session configuration the supervisor consumes
// directly; the rest is handed down to the segmenter/playlist builder it
// constructs.
type Config struct {
	Segmenter       segmenter.Config
	Playlist        playlist.Config
	MaxSegments     int
	PathLength      int
	MemoryHighWater int64 // bytes; above this, evict to newest 3
	MemoryCritical  int64 // bytes; above this, also drop the init segment

	// PathGraceWindow is how long a retired path keeps answering 410 Gone
	// before falling through to 404 (spec §4.6). Defaults to 5s.
	PathGraceWindow time.Duration
}

func (c Config) graceWindow() time.Duration {
	if c.PathGraceWindow <= 0 {
		return 5 * time.Second
	}
	return c.PathGraceWindow
}

// Supervisor is the engine's single source of truth for "what is the
// current stream path, and is the engine running".
type Supervisor struct {
	cfg      Config
	delegate adapters.HostDelegate

	mu           sync.RWMutex
	running      bool
	path         string
	previousPath string
	previousUntil time.Time

	store   *store.Store
	builder *playlist.Builder
	seg     *segmenter.Segmenter
	storeCancel context.CancelFunc

	baseURLFunc func() string
}

// New constructs a Supervisor. baseURLFunc returns the "http://host:port"
// prefix the supervisor prepends when raising server_started.
func New(cfg Config, delegate adapters.HostDelegate, baseURLFunc func() string) *Supervisor {
	return &Supervisor{
		cfg:         cfg,
		delegate:    delegate,
		baseURLFunc: baseURLFunc,
	}
}

// Start begins a session: generates the initial random path, spins up the
// store and segmenter, and raises server_started.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	path, err := ids.NewStreamPath(s.cfg.PathLength)
	if err != nil {
		return fmt.Errorf("%w: generating stream path: %v", types.ErrConfiguration, err)
	}

	s.beginSessionLocked(ctx, path, 0)
	s.running = true
	s.delegate.ServerStarted(s.baseURLFunc() + "/view/" + path)
	return nil
}

// beginSessionLocked constructs a fresh store + segmenter pair rooted at
// path. startSeq seeds the HLS media sequence counter (0 for a brand new
// engine start, or the collision-avoiding value spec §4.6 computes for
// regenerate_path). Caller must hold s.mu.
func (s *Supervisor) beginSessionLocked(ctx context.Context, path string, startSeq int) {
	storeCtx, cancel := context.WithCancel(ctx)
	st := store.New(s.cfg.MaxSegments)
	go st.Run(storeCtx)

	s.path = path
	s.store = st
	s.storeCancel = cancel
	s.builder = playlist.NewBuilder()

	segCfg := s.cfg.Segmenter
	segCfg.StartSequence = startSeq
	s.seg = segmenter.New(segCfg, func(kind types.SegmentKind, data []byte, meta types.SegmentMeta) {
		s.onSegment(st, kind, data, meta)
	}, ids.NewTraceID)
	s.seg.SetMuxerFailureHandler(s.onMuxerFailure)
	s.seg.Start(storeCtx)
}

// onSegment is the segmenter's emit callback; it commits a segment into
// st, the store of the session that segmenter belongs to. Invoked on the
// segmenter's own goroutine, so it must not call back into Supervisor
// methods that take s.mu (PutInit/PutMedia already serialize
// independently through the store's own actor).
func (s *Supervisor) onSegment(st *store.Store, kind types.SegmentKind, data []byte, meta types.SegmentMeta) {
	if kind == types.SegmentInit {
		st.PutInit(data, meta)
		return
	}
	st.PutMedia(data, meta)
}

// onMuxerFailure is the segmenter's escalation callback (spec §7
// MuxerError): once recovery has failed twice consecutively, it is
// reported to the host via the error event. Invoked on the segmenter's
// own goroutine.
func (s *Supervisor) onMuxerFailure(count int32) {
	s.delegate.Error(fmt.Errorf("%w: fmp4 writer failed %d consecutive times", types.ErrMuxer, count))
}

func (s *Supervisor) currentStore() *store.Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store
}

// Intake returns a sample intake bound to the currently running segmenter.
func (s *Supervisor) Intake() *adapters.Intake {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return adapters.NewIntake(s.seg)
}

// CurrentPath returns the active random path, and whether the engine is
// running at all.
func (s *Supervisor) CurrentPath() (path string, running bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path, s.running
}

// PathStatus classifies name against the current/previous/unknown path,
// for the HTTP origin's routing decision (spec §4.4 "old retained random
// path" rule).
type PathStatus int

const (
	PathUnknown PathStatus = iota
	PathCurrent
	PathRetiredInGrace
	PathRetiredExpired
)

// ClassifyPath reports whether name is the live path, a still-in-grace
// retired path, an expired retired path, or unrecognized.
func (s *Supervisor) ClassifyPath(name string) PathStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.running && name == s.path {
		return PathCurrent
	}
	if name == s.previousPath && s.previousPath != "" {
		if time.Now().Before(s.previousUntil) {
			return PathRetiredInGrace
		}
		return PathRetiredExpired
	}
	return PathUnknown
}

// Playlist renders the current playlist text, or "" if no session is
// running.
func (s *Supervisor) Playlist() string {
	s.mu.RLock()
	st, builder, cfg := s.store, s.builder, s.cfg.Playlist
	running := s.running
	cfg.BasePath = s.path
	s.mu.RUnlock()
	if !running || st == nil {
		return ""
	}
	return builder.Build(st.Snapshot(), cfg)
}

// Store returns the store for the currently running session, or nil.
func (s *Supervisor) Store() *store.Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store
}

// Health returns a small diagnostics snapshot for GET /health.
type Health struct {
	Running       bool
	State         segmenter.State
	SegmentCount  int
	StoreBytes    int
	DroppedFrames int64
}

func (s *Supervisor) Health() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := Health{Running: s.running}
	if s.seg != nil {
		h.State = s.seg.State()
		h.DroppedFrames = s.seg.DroppedFrames()
	}
	if s.store != nil {
		snap := s.store.Snapshot()
		h.SegmentCount = len(snap.Media)
		h.StoreBytes = snap.TotalBytes
	}
	return h
}

// CheckMemoryPressure applies the eviction policy of spec §4.5 given the
// process's current resident size in bytes. Intended to be polled
// periodically by the host or a ticker in cmd/hlsorigin.
func (s *Supervisor) CheckMemoryPressure(residentBytes int64) {
	st := s.Store()
	if st == nil {
		return
	}
	if residentBytes >= s.cfg.MemoryCritical {
		st.EvictToNewest(3)
		st.DropInit()
		return
	}
	if residentBytes >= s.cfg.MemoryHighWater {
		st.EvictToNewest(3)
	}
}

// Stop marks the engine not running, stops the segmenter cleanly, clears
// the store, and raises server_stopped.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.stopSessionLocked()
	s.running = false
	s.delegate.ServerStopped()
}

func (s *Supervisor) stopSessionLocked() {
	if s.seg != nil {
		s.seg.Stop()
	}
	if s.store != nil {
		s.store.Clear()
	}
	if s.storeCancel != nil {
		s.storeCancel()
	}
}

// RegeneratePath implements spec §4.6: retire the current path behind a
// grace window, mint a new one, reset sequence state, and start a fresh
// session.
func (s *Supervisor) RegeneratePath(ctx context.Context) (newPath string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newPath, err = ids.NewStreamPath(s.cfg.PathLength)
	if err != nil {
		return "", fmt.Errorf("%w: generating stream path: %v", types.ErrConfiguration, err)
	}

	s.previousPath = s.path
	s.previousUntil = time.Now().Add(s.cfg.graceWindow())

	s.stopSessionLocked()
	s.beginSessionLocked(ctx, newPath, int(InitialFragmentSequence(time.Now())))
	s.running = true

	s.delegate.ServerStarted(s.baseURLFunc() + "/view/" + newPath)
	return newPath, nil
}

// InitialFragmentSequence derives the sequence counter regeneration uses
// to avoid colliding with stale CDN/proxy caches of the previous session's
// segment numbers (spec §4.6 step iv).
func InitialFragmentSequence(now time.Time) uint32 {
	return uint32((now.Unix() / 100) % 1000)
}
