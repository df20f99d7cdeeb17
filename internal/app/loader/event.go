package loader

import (
	"time"

	"github.com/osa030/museumplayer/internal/audio"
)

// EventType represents a loader lifecycle event type.
type EventType int

const (
	EventReady           EventType = iota // Resource playable, duration known
	EventLoadError                        // Fetch or decode failed
	EventPlaybackStarted                  // Output started
	EventPaused                           // Output paused
	EventStopped                          // Output stopped
	EventPlaybackError                    // Output failed mid-playback
	EventEnded                            // Track reached its end
	EventTimeout                          // Watchdog expired while loading
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventReady:
		return "ready"
	case EventLoadError:
		return "load_error"
	case EventPlaybackStarted:
		return "playback_started"
	case EventPaused:
		return "paused"
	case EventStopped:
		return "stopped"
	case EventPlaybackError:
		return "playback_error"
	case EventEnded:
		return "ended"
	case EventTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Event is a generation-tagged loader event.
type Event struct {
	Type       EventType
	Generation uint64
	Duration   time.Duration // EventReady
	Reason     string        // EventLoadError, EventPlaybackError, EventTimeout
	// AutoStarted is set by Handle when a ready event started playback
	// because of the autoplay intent.
	AutoStarted bool
}

func fromAudio(gen uint64, ev audio.Event) Event {
	out := Event{Generation: gen, Duration: ev.Duration}
	switch ev.Kind {
	case audio.EventReady:
		out.Type = EventReady
	case audio.EventLoadError:
		out.Type = EventLoadError
	case audio.EventStarted:
		out.Type = EventPlaybackStarted
	case audio.EventPaused:
		out.Type = EventPaused
	case audio.EventStopped:
		out.Type = EventStopped
	case audio.EventPlaybackError:
		out.Type = EventPlaybackError
	case audio.EventEnded:
		out.Type = EventEnded
	}
	if ev.Err != nil {
		out.Reason = ev.Err.Error()
	}
	return out
}
