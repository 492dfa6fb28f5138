package types

import "errors"

// Error taxonomy for the streaming engine. Handler-local errors never
// propagate past the connection that raised them; lifecycle errors
// (ErrConfiguration, ErrBind) abort start() and leave the engine Idle.
var (
	// ErrConfiguration marks an invalid knob combination, e.g.
	// window_size > max_segments. Surfaced synchronously from start().
	ErrConfiguration = errors.New("invalid session configuration")

	// ErrBind marks a TCP socket create/bind/listen failure, surfaced
	// synchronously from start().
	ErrBind = errors.New("failed to bind http origin")

	// ErrMuxer marks the underlying fmp4 writer refusing a sample or
	// entering a failed state. Recovered locally by restarting the muxer
	// at the next keyframe; only escalated after two consecutive
	// recovery failures.
	ErrMuxer = errors.New("fmp4 muxer error")

	// ErrClientIO marks a short read, short write, or malformed request.
	// Logged and the connection is closed; never surfaced to the host.
	ErrClientIO = errors.New("client i/o error")

	// ErrNotFound maps to HTTP 404.
	ErrNotFound = errors.New("not found")

	// ErrGone maps to HTTP 410 (request on a retired path within grace).
	ErrGone = errors.New("gone")

	// ErrForbidden maps to HTTP 403 (path traversal attempt).
	ErrForbidden = errors.New("forbidden")

	// ErrInternal maps to HTTP 500.
	ErrInternal = errors.New("internal error")
)
