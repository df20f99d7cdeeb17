//go:build (linux && cgo) || windows || darwin

package audio

import (
	"bytes"
	"context"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/wav"
	zlog "github.com/rs/zerolog/log"
)

// BeepAvailable reports whether the speaker backend is compiled in.
const BeepAvailable = true

// BeepEngine plays resources through the system speaker using beep.
type BeepEngine struct {
	mu         sync.Mutex
	sampleRate beep.SampleRate
	reader     *SourceReader
	volume     atomic.Uint64 // math.Float64bits of the master gain
	active     map[*beepResource]struct{}
	closed     bool
}

// NewBeepEngine initializes the speaker. It must be called once per process.
func NewBeepEngine(settings BeepSettings) (*BeepEngine, error) {
	sr := beep.SampleRate(settings.SampleRate)
	buffer := time.Duration(settings.BufferMs) * time.Millisecond
	if err := speaker.Init(sr, sr.N(buffer)); err != nil {
		return nil, errors.Wrap(err, "failed to initialize speaker")
	}

	e := &BeepEngine{
		sampleRate: sr,
		reader:     &SourceReader{Root: settings.MediaRoot},
		active:     make(map[*beepResource]struct{}),
	}
	e.volume.Store(math.Float64bits(1))
	zlog.Info().Msgf("audio: speaker initialized: sample_rate=%d buffer=%v media_root=%s",
		settings.SampleRate, buffer, settings.MediaRoot)
	return e, nil
}

// Open starts decoding uri in the background.
func (e *BeepEngine) Open(uri string, sink Sink) (Resource, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &beepResource{
		engine: e,
		uri:    uri,
		sink:   sink,
		cancel: cancel,
	}
	e.active[r] = struct{}{}

	go r.load(ctx)
	return r, nil
}

// SetVolume sets the master gain applied to every live resource.
func (e *BeepEngine) SetVolume(v float64) {
	v = ClampVolume(v)
	e.volume.Store(math.Float64bits(v))

	e.mu.Lock()
	resources := make([]*beepResource, 0, len(e.active))
	for r := range e.active {
		resources = append(resources, r)
	}
	e.mu.Unlock()

	for _, r := range resources {
		r.applyVolume(v)
	}
}

// Close unloads every resource and shuts the speaker down.
func (e *BeepEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	resources := make([]*beepResource, 0, len(e.active))
	for r := range e.active {
		resources = append(resources, r)
	}
	e.mu.Unlock()

	for _, r := range resources {
		r.Unload()
	}
	speaker.Clear()
	speaker.Close()
	return nil
}

func (e *BeepEngine) masterVolume() float64 {
	return math.Float64frombits(e.volume.Load())
}

func (e *BeepEngine) forget(r *beepResource) {
	e.mu.Lock()
	delete(e.active, r)
	e.mu.Unlock()
}

type beepResource struct {
	engine *BeepEngine
	uri    string
	sink   Sink
	cancel context.CancelFunc

	mu       sync.Mutex
	streamer beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	vol      *effects.Volume
	queued   bool // handed to the speaker and not yet drained
	unloaded bool
}

func (r *beepResource) load(ctx context.Context) {
	data, err := r.engine.reader.Read(ctx, r.uri)
	if err != nil {
		r.emitUnlessUnloaded(Event{Kind: EventLoadError, Err: err})
		return
	}

	streamer, format, err := decode(r.uri, data)
	if err != nil {
		r.emitUnlessUnloaded(Event{Kind: EventLoadError, Err: err})
		return
	}

	r.mu.Lock()
	if r.unloaded {
		r.mu.Unlock()
		_ = streamer.Close()
		return
	}
	r.streamer = streamer
	r.format = format
	resampled := beep.Resample(4, format.SampleRate, r.engine.sampleRate, streamer)
	r.ctrl = &beep.Ctrl{Streamer: resampled, Paused: true}
	level, silent := volumeLevel(r.engine.masterVolume())
	r.vol = &effects.Volume{
		Streamer: r.ctrl,
		Base:     2,
		Volume:   level,
		Silent:   silent,
	}
	duration := format.SampleRate.D(streamer.Len())
	r.mu.Unlock()

	r.sink(Event{Kind: EventReady, Duration: duration})
}

func decode(uri string, data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	switch FormatOf(uri) {
	case "wav":
		s, f, err := wav.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, beep.Format{}, errors.Wrap(err, "failed to decode wav")
		}
		return s, f, nil
	default:
		s, f, err := mp3.Decode(io.NopCloser(bytes.NewReader(data)))
		if err != nil {
			return nil, beep.Format{}, errors.Wrap(err, "failed to decode mp3")
		}
		return s, f, nil
	}
}

// Play starts or resumes output.
func (r *beepResource) Play() error {
	r.mu.Lock()
	if r.unloaded {
		r.mu.Unlock()
		return ErrUnloaded
	}
	if r.streamer == nil {
		r.mu.Unlock()
		return ErrNotLoaded
	}

	speaker.Lock()
	if r.streamer.Position() >= r.streamer.Len() {
		_ = r.streamer.Seek(0)
	}
	r.ctrl.Paused = false
	speaker.Unlock()

	if !r.queued {
		r.queued = true
		speaker.Play(beep.Seq(r.vol, beep.Callback(func() {
			// Runs on the speaker goroutine with the speaker lock held.
			go r.drained()
		})))
	}
	r.mu.Unlock()

	r.sink(Event{Kind: EventStarted})
	return nil
}

// Pause pauses output, keeping the position.
func (r *beepResource) Pause() {
	if !r.setPaused() {
		return
	}
	r.sink(Event{Kind: EventPaused})
}

// Stop pauses output and rewinds.
func (r *beepResource) Stop() {
	r.mu.Lock()
	if r.unloaded || r.ctrl == nil {
		r.mu.Unlock()
		return
	}
	speaker.Lock()
	r.ctrl.Paused = true
	_ = r.streamer.Seek(0)
	speaker.Unlock()
	r.mu.Unlock()

	r.sink(Event{Kind: EventStopped})
}

func (r *beepResource) setPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.unloaded || r.ctrl == nil {
		return false
	}
	speaker.Lock()
	r.ctrl.Paused = true
	speaker.Unlock()
	return true
}

// Seek moves the read position.
func (r *beepResource) Seek(d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.streamer == nil || r.unloaded {
		return ErrNotLoaded
	}
	speaker.Lock()
	defer speaker.Unlock()

	samples := r.format.SampleRate.N(d)
	samples = max(0, min(samples, r.streamer.Len()))
	return r.streamer.Seek(samples)
}

// Position returns the current read position.
func (r *beepResource) Position() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.streamer == nil || r.unloaded {
		return 0
	}
	speaker.Lock()
	pos := r.streamer.Position()
	speaker.Unlock()
	return r.format.SampleRate.D(pos)
}

// Duration returns the decoded length.
func (r *beepResource) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.streamer == nil || r.unloaded {
		return 0
	}
	return r.format.SampleRate.D(r.streamer.Len())
}

// Unload detaches the stream from the speaker and closes it.
func (r *beepResource) Unload() {
	r.mu.Lock()
	if r.unloaded {
		r.mu.Unlock()
		return
	}
	r.unloaded = true
	r.cancel()
	if r.ctrl != nil {
		speaker.Lock()
		r.ctrl.Paused = true
		r.ctrl.Streamer = nil
		speaker.Unlock()
	}
	if r.streamer != nil {
		_ = r.streamer.Close()
	}
	r.mu.Unlock()

	r.engine.forget(r)
}

func (r *beepResource) applyVolume(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.vol == nil {
		return
	}
	level, silent := volumeLevel(v)
	speaker.Lock()
	r.vol.Volume = level
	r.vol.Silent = silent
	speaker.Unlock()
}

func (r *beepResource) drained() {
	r.mu.Lock()
	r.queued = false
	if r.unloaded {
		r.mu.Unlock()
		return
	}
	err := r.streamer.Err()
	r.mu.Unlock()

	if err != nil {
		r.sink(Event{Kind: EventPlaybackError, Err: err})
		return
	}
	r.sink(Event{Kind: EventEnded})
}

func (r *beepResource) emitUnlessUnloaded(ev Event) {
	r.mu.Lock()
	unloaded := r.unloaded
	r.mu.Unlock()
	if unloaded {
		return
	}
	r.sink(ev)
}

// volumeLevel converts a linear gain to the exponent effects.Volume expects.
func volumeLevel(v float64) (float64, bool) {
	if v <= 0 {
		return 0, true
	}
	return math.Log2(v), false
}
