package audio

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// NullEngine simulates playback against a clock without producing sound.
// Hosts without an output device use it so the controller still sees a real
// lifecycle.
type NullEngine struct {
	clock    clock.Clock
	settings NullSettings

	mu     sync.Mutex
	volume float64
	closed bool
}

// NewNullEngine creates a silent engine.
func NewNullEngine(settings NullSettings, clk clock.Clock) *NullEngine {
	if clk == nil {
		clk = clock.New()
	}
	return &NullEngine{
		clock:    clk,
		settings: settings,
		volume:   1,
	}
}

// Open schedules a ready event after the configured load delay.
func (e *NullEngine) Open(uri string, sink Sink) (Resource, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}

	r := &nullResource{
		clock:    e.clock,
		sink:     sink,
		duration: time.Duration(e.settings.DefaultDurationSec) * time.Second,
	}
	r.loadTimer = e.clock.AfterFunc(time.Duration(e.settings.LoadDelayMs)*time.Millisecond, r.loaded)
	return r, nil
}

// SetVolume records the master gain.
func (e *NullEngine) SetVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = ClampVolume(v)
}

// Volume returns the master gain.
func (e *NullEngine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// Close marks the engine closed; later Opens fail.
func (e *NullEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

type nullResource struct {
	clock    clock.Clock
	sink     Sink
	duration time.Duration

	mu        sync.Mutex
	ready     bool
	unloaded  bool
	playing   bool
	offset    time.Duration
	startedAt time.Time
	loadTimer *clock.Timer
	endTimer  *clock.Timer
}

func (r *nullResource) loaded() {
	r.mu.Lock()
	if r.unloaded {
		r.mu.Unlock()
		return
	}
	r.ready = true
	r.mu.Unlock()

	r.sink(Event{Kind: EventReady, Duration: r.duration})
}

func (r *nullResource) Play() error {
	r.mu.Lock()
	if r.unloaded {
		r.mu.Unlock()
		return ErrUnloaded
	}
	if !r.ready {
		r.mu.Unlock()
		return ErrNotLoaded
	}
	if r.playing {
		r.mu.Unlock()
		return nil
	}
	if r.offset >= r.duration {
		r.offset = 0
	}
	r.playing = true
	r.startedAt = r.clock.Now()
	r.armEndLocked()
	r.mu.Unlock()

	r.sink(Event{Kind: EventStarted})
	return nil
}

func (r *nullResource) Pause() {
	r.mu.Lock()
	if !r.playing || r.unloaded {
		r.mu.Unlock()
		return
	}
	r.haltLocked()
	r.mu.Unlock()

	r.sink(Event{Kind: EventPaused})
}

func (r *nullResource) Stop() {
	r.mu.Lock()
	if r.unloaded || !r.ready {
		r.mu.Unlock()
		return
	}
	if r.playing {
		r.haltLocked()
	}
	r.offset = 0
	r.mu.Unlock()

	r.sink(Event{Kind: EventStopped})
}

func (r *nullResource) Seek(d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.unloaded || !r.ready {
		return ErrNotLoaded
	}
	r.offset = max(0, min(d, r.duration))
	if r.playing {
		r.startedAt = r.clock.Now()
		r.armEndLocked()
	}
	return nil
}

func (r *nullResource) Position() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.positionLocked()
}

func (r *nullResource) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ready {
		return 0
	}
	return r.duration
}

func (r *nullResource) Unload() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.unloaded = true
	r.playing = false
	if r.loadTimer != nil {
		r.loadTimer.Stop()
	}
	if r.endTimer != nil {
		r.endTimer.Stop()
		r.endTimer = nil
	}
}

func (r *nullResource) positionLocked() time.Duration {
	pos := r.offset
	if r.playing {
		pos += r.clock.Since(r.startedAt)
	}
	return min(pos, r.duration)
}

func (r *nullResource) haltLocked() {
	r.offset = r.positionLocked()
	r.playing = false
	if r.endTimer != nil {
		r.endTimer.Stop()
		r.endTimer = nil
	}
}

func (r *nullResource) armEndLocked() {
	if r.endTimer != nil {
		r.endTimer.Stop()
	}
	r.endTimer = r.clock.AfterFunc(r.duration-r.offset, r.ended)
}

func (r *nullResource) ended() {
	r.mu.Lock()
	if !r.playing || r.unloaded {
		r.mu.Unlock()
		return
	}
	r.playing = false
	r.offset = r.duration
	r.endTimer = nil
	r.mu.Unlock()

	r.sink(Event{Kind: EventEnded})
}
