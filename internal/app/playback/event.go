package playback

import (
	"time"

	"github.com/osa030/museumplayer/internal/app/loader"
	"github.com/osa030/museumplayer/internal/domain/track"
)

// Snapshot is a read-only copy of the controller state.
type Snapshot struct {
	Status        Status
	ActiveTrack   *track.Track // nil before the first load or for an empty playlist
	ActiveIndex   int          // index into Ordering, -1 without an active track
	Position      time.Duration
	Duration      time.Duration
	Volume        float64 // user volume in [0,1]; output is lower while Ducked
	Shuffle       bool
	Repeat        bool
	Ordering      []track.Track
	AudioUnlocked bool
	Reason        string // set only in StatusError
	Ducked        bool
}

// PositionPercent returns the position as a percentage of the duration.
func (s Snapshot) PositionPercent() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Position) / float64(s.Duration) * 100
}

// inboxItem is either a loader event or a position poll tick.
type inboxItem struct {
	event loader.Event
	tick  bool
	seq   uint64 // poll sequence for ticks
}
