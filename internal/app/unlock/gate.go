// Package unlock tracks whether audio output may start. Output stays locked
// until the first user gesture; one play request made while locked is kept
// and replayed when that gesture arrives.
package unlock

import (
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// ErrPending is returned by RequestPlay while output is locked.
var ErrPending = errors.New("playback pending user gesture")

// Gate is the page-wide unlock state. Create one per host and share it.
type Gate struct {
	mu       sync.Mutex
	unlocked bool
	pending  func()
	owner    any // requester of pending
}

// NewGate creates a gate. Hosts without an autoplay policy pass unlocked=true.
func NewGate(unlocked bool) *Gate {
	return &Gate{unlocked: unlocked}
}

// IsUnlocked reports whether a gesture has been recorded.
func (g *Gate) IsUnlocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.unlocked
}

// RecordUserGesture unlocks output. The first call runs the pending request,
// if any, after the gate lock is released. Later calls do nothing.
func (g *Gate) RecordUserGesture() {
	g.mu.Lock()
	if g.unlocked {
		g.mu.Unlock()
		return
	}
	g.unlocked = true
	fn := g.pending
	g.pending, g.owner = nil, nil
	g.mu.Unlock()

	zlog.Debug().Msgf("unlock: audio unlocked: pending=%v", fn != nil)
	if fn != nil {
		fn()
	}
}

// RequestPlay returns nil when output is unlocked. Otherwise it stores
// onUnlock on behalf of owner, replacing any earlier request, and returns
// ErrPending.
func (g *Gate) RequestPlay(owner any, onUnlock func()) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.unlocked {
		return nil
	}
	g.pending, g.owner = onUnlock, owner
	return ErrPending
}

// CancelPending drops the stored request if owner made it.
func (g *Gate) CancelPending(owner any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.owner == owner {
		g.pending, g.owner = nil, nil
	}
}

// PendingFor reports whether owner has a request waiting for a gesture.
func (g *Gate) PendingFor(owner any) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending != nil && g.owner == owner
}

// HasPending reports whether any request is waiting for a gesture.
func (g *Gate) HasPending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending != nil
}
