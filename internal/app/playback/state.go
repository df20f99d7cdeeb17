// Package playback provides the playback state machine of a single playlist.
package playback

// Status represents the playback status.
type Status int

const (
	StatusIdle    Status = iota // Nothing selected, or queue exhausted
	StatusLoading               // Waiting for the track to become ready
	StatusPlaying               // Output running
	StatusPaused                // Loaded, output paused
	StatusEnded                 // Track finished, about to advance
	StatusError                 // Load or playback failed
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusEnded:
		return "ended"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
