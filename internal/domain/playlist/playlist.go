// Package playlist provides the Playlist domain entity.
package playlist

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"

	"github.com/osa030/museumplayer/internal/domain/track"
)

// Playlist is an ordered collection of tracks plus display metadata.
// The controller treats it as read-only.
type Playlist struct {
	ID       string        // Playlist ID
	Name     string        // Display name
	Tracks   []track.Track // Insertion order is significant
	IsActive bool          // Informational only; does not gate playback
}

// TrackIDs returns all track IDs in the playlist.
func (p *Playlist) TrackIDs() []string {
	return lo.Map(p.Tracks, func(t track.Track, _ int) string {
		return t.ID
	})
}

// TotalDuration returns the sum of the nominal track durations.
func (p *Playlist) TotalDuration() time.Duration {
	var total time.Duration
	for _, t := range p.Tracks {
		total += t.Duration
	}
	return total
}

// IndexOf returns the position of the track with the given ID, or -1.
func (p *Playlist) IndexOf(id string) int {
	_, idx, ok := lo.FindIndexOf(p.Tracks, func(t track.Track) bool {
		return t.ID == id
	})
	if !ok {
		return -1
	}
	return idx
}

// Validate checks every track and rejects duplicate IDs.
func (p *Playlist) Validate() error {
	for i := range p.Tracks {
		if err := p.Tracks[i].Validate(); err != nil {
			return errors.Wrapf(err, "track index %d", i)
		}
	}
	if dups := lo.FindDuplicates(p.TrackIDs()); len(dups) > 0 {
		return errors.Newf("duplicate track id %q", dups[0])
	}
	return nil
}
