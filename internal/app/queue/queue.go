// Package queue computes the playback ordering of a playlist under shuffle and
// repeat. It holds no playback state; callers pass the current index in.
package queue

import (
	"math/rand"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/osa030/museumplayer/internal/domain/track"
	"github.com/samber/lo"
)

// Errors
var (
	ErrEmpty      = errors.New("queue is empty")
	ErrOutOfRange = errors.New("track index out of range")
)

// Outcome describes how a navigation resolved.
type Outcome int

const (
	OutcomeAdvance     Outcome = iota // Moved within the ordering
	OutcomeWrapAdvance                // Wrapped around to the other end
	OutcomeExhausted                  // No track to move to
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeAdvance:
		return "advance"
	case OutcomeWrapAdvance:
		return "wrap_advance"
	case OutcomeExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Result is the target of a navigation. Index is meaningless when exhausted.
type Result struct {
	Outcome Outcome
	Index   int
}

// Manager holds the original and the effective ordering. It is not safe for
// concurrent use.
type Manager struct {
	original []track.Track
	ordering []track.Track
	shuffled bool
	rng      *rand.Rand
}

// New creates a manager over tracks. A nil rng is seeded from the clock.
func New(tracks []track.Track, rng *rand.Rand) *Manager {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	original := make([]track.Track, len(tracks))
	copy(original, tracks)
	ordering := make([]track.Track, len(tracks))
	copy(ordering, tracks)
	return &Manager{
		original: original,
		ordering: ordering,
		rng:      rng,
	}
}

// Len returns the number of tracks.
func (m *Manager) Len() int {
	return len(m.ordering)
}

// Shuffled reports whether the effective ordering is shuffled.
func (m *Manager) Shuffled() bool {
	return m.shuffled
}

// Ordering returns a copy of the effective ordering.
func (m *Manager) Ordering() []track.Track {
	out := make([]track.Track, len(m.ordering))
	copy(out, m.ordering)
	return out
}

// At returns the track at index i of the effective ordering.
func (m *Manager) At(i int) (track.Track, bool) {
	if i < 0 || i >= len(m.ordering) {
		return track.Track{}, false
	}
	return m.ordering[i], true
}

// IndexOf returns the position of id in the effective ordering, or -1.
func (m *Manager) IndexOf(id string) int {
	_, idx, ok := lo.FindIndexOf(m.ordering, func(t track.Track) bool { return t.ID == id })
	if !ok {
		return -1
	}
	return idx
}

// ToggleShuffle switches between a fresh uniform permutation and the original
// order. It returns the new index of currentID, or -1 when it is not in the
// list.
func (m *Manager) ToggleShuffle(on bool, currentID string) int {
	m.shuffled = on
	copy(m.ordering, m.original)
	if on {
		for i := len(m.ordering) - 1; i > 0; i-- {
			j := m.rng.Intn(i + 1)
			m.ordering[i], m.ordering[j] = m.ordering[j], m.ordering[i]
		}
	}
	return m.IndexOf(currentID)
}

// Next resolves the track after current. Past the end it wraps when repeat is
// set and is exhausted otherwise.
func (m *Manager) Next(current int, repeat bool) Result {
	n := len(m.ordering)
	switch {
	case n == 0:
		return Result{Outcome: OutcomeExhausted}
	case current+1 < n:
		return Result{Outcome: OutcomeAdvance, Index: max(current+1, 0)}
	case repeat:
		return Result{Outcome: OutcomeWrapAdvance, Index: 0}
	default:
		return Result{Outcome: OutcomeExhausted}
	}
}

// Prev resolves the track before current. It always wraps to the last track,
// regardless of repeat.
func (m *Manager) Prev(current int) Result {
	n := len(m.ordering)
	switch {
	case n == 0:
		return Result{Outcome: OutcomeExhausted}
	case current > 0 && current <= n:
		return Result{Outcome: OutcomeAdvance, Index: current - 1}
	default:
		return Result{Outcome: OutcomeWrapAdvance, Index: n - 1}
	}
}

// Select jumps to index i of the effective ordering.
func (m *Manager) Select(i int) (Result, error) {
	if len(m.ordering) == 0 {
		return Result{Outcome: OutcomeExhausted}, ErrEmpty
	}
	if i < 0 || i >= len(m.ordering) {
		return Result{}, errors.Wrapf(ErrOutOfRange, "index %d of %d", i, len(m.ordering))
	}
	return Result{Outcome: OutcomeAdvance, Index: i}, nil
}
