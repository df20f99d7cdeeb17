// Package audiotest provides a scriptable audio engine for tests. Events are
// only delivered when the test asks for them, so load/ready races can be
// reproduced exactly.
package audiotest

import (
	"sync"
	"time"

	"github.com/osa030/museumplayer/internal/audio"
)

// Engine records every opened resource.
type Engine struct {
	mu        sync.Mutex
	resources []*Resource
	volume    float64
	playErr   error
	openErr   error
	closed    bool
}

// NewEngine creates an empty fake engine at full volume.
func NewEngine() *Engine {
	return &Engine{volume: 1}
}

// Open records the resource; nothing is emitted until the test scripts it.
func (e *Engine) Open(uri string, sink audio.Sink) (audio.Resource, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, audio.ErrClosed
	}
	if e.openErr != nil {
		return nil, e.openErr
	}
	r := &Resource{URI: uri, engine: e, sink: sink}
	e.resources = append(e.resources, r)
	return r, nil
}

// SetVolume records the master gain.
func (e *Engine) SetVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = v
}

// Volume returns the last master gain.
func (e *Engine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// Close marks the engine closed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// SetPlayError makes every following Play fail with err (nil clears it).
func (e *Engine) SetPlayError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playErr = err
}

// SetOpenError makes every following Open fail with err (nil clears it).
func (e *Engine) SetOpenError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openErr = err
}

// Resources returns every resource opened so far, oldest first.
func (e *Engine) Resources() []*Resource {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Resource, len(e.resources))
	copy(out, e.resources)
	return out
}

// Last returns the most recently opened resource, or nil.
func (e *Engine) Last() *Resource {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.resources) == 0 {
		return nil
	}
	return e.resources[len(e.resources)-1]
}

// Live returns the resources that have not been unloaded.
func (e *Engine) Live() []*Resource {
	var live []*Resource
	for _, r := range e.Resources() {
		if !r.Unloaded() {
			live = append(live, r)
		}
	}
	return live
}

func (e *Engine) currentPlayErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playErr
}

// Resource is a fake stream.
type Resource struct {
	URI string

	engine *Engine
	sink   audio.Sink

	mu       sync.Mutex
	playing  bool
	unloaded bool
	position time.Duration
	duration time.Duration
	plays    int
}

// Ready reports the resource playable. It is delivered even after Unload so
// tests can simulate a late callback.
func (r *Resource) Ready(d time.Duration) {
	r.mu.Lock()
	r.duration = d
	r.mu.Unlock()
	r.sink(audio.Event{Kind: audio.EventReady, Duration: d})
}

// FailLoad reports a load error.
func (r *Resource) FailLoad(err error) {
	r.sink(audio.Event{Kind: audio.EventLoadError, Err: err})
}

// End reports the stream finished.
func (r *Resource) End() {
	r.mu.Lock()
	r.playing = false
	r.position = r.duration
	r.mu.Unlock()
	r.sink(audio.Event{Kind: audio.EventEnded})
}

// Fault reports a mid-playback failure.
func (r *Resource) Fault(err error) {
	r.mu.Lock()
	r.playing = false
	r.mu.Unlock()
	r.sink(audio.Event{Kind: audio.EventPlaybackError, Err: err})
}

// SetPosition moves the simulated read head.
func (r *Resource) SetPosition(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.position = d
}

// Playing reports whether output is running.
func (r *Resource) Playing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playing
}

// Unloaded reports whether Unload was called.
func (r *Resource) Unloaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unloaded
}

// Plays returns how many times Play succeeded.
func (r *Resource) Plays() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.plays
}

func (r *Resource) Play() error {
	if err := r.engine.currentPlayErr(); err != nil {
		return err
	}
	r.mu.Lock()
	if r.unloaded {
		r.mu.Unlock()
		return audio.ErrUnloaded
	}
	r.playing = true
	r.plays++
	if r.position >= r.duration {
		r.position = 0
	}
	r.mu.Unlock()
	r.sink(audio.Event{Kind: audio.EventStarted})
	return nil
}

func (r *Resource) Pause() {
	r.mu.Lock()
	if !r.playing {
		r.mu.Unlock()
		return
	}
	r.playing = false
	r.mu.Unlock()
	r.sink(audio.Event{Kind: audio.EventPaused})
}

func (r *Resource) Stop() {
	r.mu.Lock()
	r.playing = false
	r.position = 0
	r.mu.Unlock()
	r.sink(audio.Event{Kind: audio.EventStopped})
}

func (r *Resource) Seek(d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.position = d
	return nil
}

func (r *Resource) Position() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.position
}

func (r *Resource) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.duration
}

func (r *Resource) Unload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playing = false
	r.unloaded = true
}
