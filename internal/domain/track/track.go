// Package track provides the Track domain entity.
package track

import (
	"time"

	"github.com/cockroachdb/errors"
)

// Track is an immutable description of one playable audio item.
// Owned by the playlist; never mutated after creation.
type Track struct {
	ID          string        // Unique within the playlist
	Title       string        // Track title
	Artist      string        // Artist name
	Album       string        // Album name
	SourceURI   string        // Locator for the audio resource (may contain reserved characters)
	CoverURI    string        // Cover art locator
	Duration    time.Duration // Nominal duration, superseded by the engine once loaded
	Description string        // Optional dedication shown under the title
}

// Validate checks the fields required for playback.
func (t *Track) Validate() error {
	if t.ID == "" {
		return errors.New("track id is required")
	}
	if t.SourceURI == "" {
		return errors.Newf("track %s: source is required", t.ID)
	}
	if t.Duration < 0 {
		return errors.Newf("track %s: negative duration", t.ID)
	}
	return nil
}

// DisplayName returns "Artist - Title", or just the title when the artist is unknown.
func (t *Track) DisplayName() string {
	if t.Artist == "" {
		return t.Title
	}
	return t.Artist + " - " + t.Title
}
