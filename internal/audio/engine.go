// Package audio defines the audio engine abstraction the track loader drives,
// plus the concrete backends a host can own.
package audio

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"
)

// Errors
var (
	ErrNotLoaded   = errors.New("resource not loaded")
	ErrUnloaded    = errors.New("resource unloaded")
	ErrUnavailable = errors.New("audio output unavailable in this build")
	ErrClosed      = errors.New("engine closed")
)

// EventKind identifies a resource lifecycle event.
type EventKind int

const (
	EventReady         EventKind = iota // Metadata known, resource playable
	EventLoadError                      // Fetch or decode failed
	EventStarted                        // Output started
	EventPaused                         // Output paused
	EventStopped                        // Output stopped and rewound
	EventPlaybackError                  // Output failed mid-playback
	EventEnded                          // Reached the end of the stream
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventLoadError:
		return "load_error"
	case EventStarted:
		return "started"
	case EventPaused:
		return "paused"
	case EventStopped:
		return "stopped"
	case EventPlaybackError:
		return "playback_error"
	case EventEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Event is emitted by a resource. Duration is set for EventReady, Err for the
// two error kinds.
type Event struct {
	Kind     EventKind
	Duration time.Duration
	Err      error
}

// Sink receives resource events. Engines may call it from any goroutine, so
// implementations must not block or re-enter the caller.
type Sink func(Event)

// Engine owns the process-wide audio output. Exactly one engine is created by
// the host at startup and closed at shutdown.
type Engine interface {
	// Open starts loading uri asynchronously and returns the resource handle.
	// Completion is reported through sink.
	Open(uri string, sink Sink) (Resource, error)
	// SetVolume sets the master gain in [0,1].
	SetVolume(v float64)
	// Close releases the output device.
	Close() error
}

// Resource is one loaded stream.
type Resource interface {
	Play() error
	Pause()
	Stop()
	Seek(d time.Duration) error
	Position() time.Duration
	Duration() time.Duration
	// Unload frees the stream. No events are delivered afterwards.
	Unload()
}

// ClampVolume limits v to [0,1].
func ClampVolume(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
