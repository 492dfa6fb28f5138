// Package adapters defines the narrow capability interfaces that connect
// the engine to its embedding host app: the sample intake port the host's
// camera/mic pipeline feeds, the event delegate the engine calls back
// into, and the static/viewer resource provider for non-stream routes.
package adapters

import (
	"github.com/jessicalh/rptr/internal/engine/segmenter"
	"github.com/jessicalh/rptr/internal/engine/types"
)

// HostDelegate receives lifecycle and activity events from the engine.
// Calls are not serialized onto one goroutine: ServerStarted and
// ServerStopped run on the goroutine calling Supervisor.Start, Stop or
// RegeneratePath; Error runs on the segmenter goroutine; ClientConnected
// and RequestLocation run on HTTP connection goroutines; and
// ClientDisconnected runs on the HTTP client-sweep goroutine. Methods must
// not block.
type HostDelegate interface {
	ServerStarted(baseURL string)
	ServerStopped()
	ClientConnected(addr string)
	ClientDisconnected(addr string)
	Error(err error)
	// RequestLocation returns the JSON body served at GET /location and
	// GET /status; hosts with no location data can return nil, nil.
	RequestLocation() ([]byte, error)
}

// NopDelegate implements HostDelegate with no-ops, for tests or hosts that
// don't care about events.
type NopDelegate struct{}

func (NopDelegate) ServerStarted(string)           {}
func (NopDelegate) ServerStopped()                 {}
func (NopDelegate) ClientConnected(string)          {}
func (NopDelegate) ClientDisconnected(string)       {}
func (NopDelegate) Error(error)                     {}
func (NopDelegate) RequestLocation() ([]byte, error) { return nil, nil }

// ResourceProvider serves the viewer HTML and static asset passthrough
// routes (spec §4.4 "/view/{path}", "/css/*", "/js/*", "/images/*"). With a
// nil ResourceProvider, or one returning ok=false, the viewer route falls
// back to the engine's embedded viewer template and static routes answer
// 404.
type ResourceProvider interface {
	// Resource returns the bytes and content type for a static path (e.g.
	// "css/app.css") or the viewer template (path "" means the viewer).
	Resource(path string) (data []byte, contentType string, ok bool)
}

// Intake is the sample-buffer intake port: the host's camera/mic pipeline
// pushes encoded access units through it into a segmenter. An Intake stays
// bound to the segmenter it was created with: after regenerate_path,
// Supervisor.Intake returns a new Intake for the new segmenter, and an
// Intake obtained earlier keeps forwarding to the stopped one, which
// reports DropFinishing.
type Intake struct {
	seg *segmenter.Segmenter
}

// NewIntake wraps seg. A nil seg makes PushVideo/PushAudio report
// DropNotRunning; a non-nil segmenter that is not running reports
// DropFinishing itself.
func NewIntake(seg *segmenter.Segmenter) *Intake {
	return &Intake{seg: seg}
}

// PushVideo forwards an encoded video access unit to the active segmenter.
func (i *Intake) PushVideo(sample types.Sample) types.DropReason {
	if i == nil || i.seg == nil {
		return types.DropNotRunning
	}
	return i.seg.SubmitVideo(sample)
}

// PushAudio forwards an encoded audio frame to the active segmenter.
func (i *Intake) PushAudio(sample types.Sample) types.DropReason {
	if i == nil || i.seg == nil {
		return types.DropNotRunning
	}
	return i.seg.SubmitAudio(sample)
}
