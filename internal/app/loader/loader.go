// Package loader wraps the single live engine resource of a controller.
//
// Every Load bumps a generation counter and every event the resource emits is
// tagged with the generation it was opened under. Handle drops events whose
// generation is no longer current, so callbacks from a released resource can
// never reach the controller.
package loader

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/osa030/museumplayer/internal/audio"
	"github.com/osa030/museumplayer/internal/domain/track"
	zlog "github.com/rs/zerolog/log"
)

// Errors
var (
	ErrNotReady        = errors.New("track not ready")
	ErrPlaybackBlocked = errors.New("playback blocked")
	ErrLoad            = errors.New("track load failed")
)

// DefaultLoadTimeout is used when Config.LoadTimeout is zero.
const DefaultLoadTimeout = 5 * time.Second

// TimeoutReason is the reason attached to watchdog events.
const TimeoutReason = "load timed out"

// Status represents the state of the loaded resource.
type Status int

const (
	StatusEmpty   Status = iota // Nothing loaded
	StatusLoading               // Waiting for ready
	StatusReady                 // Loaded, not playing
	StatusPlaying               // Output running
	StatusFailed                // Load or playback failed
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusPlaying:
		return "playing"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// UnlockChecker reports whether audio output may start without a gesture.
type UnlockChecker interface {
	IsUnlocked() bool
}

// Config holds loader configuration.
type Config struct {
	LoadTimeout time.Duration // Watchdog for the ready event
}

// Loader owns at most one engine resource. It is not safe for concurrent use;
// the owning controller serializes calls.
type Loader struct {
	engine  audio.Engine
	clock   clock.Clock
	config  Config
	gate    UnlockChecker
	post    func(Event)
	volume  float64
	current *track.Track

	generation uint64
	resource   audio.Resource
	status     Status
	autoplay   bool
	duration   time.Duration
	watchdog   *clock.Timer

	// Engines echo Play and Pause calls as events. Echoes are swallowed so
	// only engine-originated transitions reach the caller.
	startEchoes int
	pauseEchoes int
}

// New creates a loader. post receives every resource event and must not
// block. A nil gate is treated as always unlocked.
func New(engine audio.Engine, clk clock.Clock, config Config, gate UnlockChecker, post func(Event)) *Loader {
	if config.LoadTimeout <= 0 {
		config.LoadTimeout = DefaultLoadTimeout
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Loader{
		engine: engine,
		clock:  clk,
		config: config,
		gate:   gate,
		post:   post,
		volume: 1,
	}
}

// Load releases the current resource and starts loading t. With autoplay set,
// playback starts as soon as the resource is ready if output is unlocked.
func (l *Loader) Load(t track.Track, autoplay bool) error {
	l.Release()

	l.generation++
	gen := l.generation
	l.current = &t
	l.autoplay = autoplay
	l.duration = t.Duration
	l.status = StatusLoading
	l.resetEchoes()

	uri := EncodeSource(t.SourceURI)
	zlog.Debug().Msgf("loader: loading track: id=%s name=%q uri=%s generation=%d autoplay=%v",
		t.ID, t.DisplayName(), uri, gen, autoplay)

	res, err := l.engine.Open(uri, func(ev audio.Event) {
		l.post(fromAudio(gen, ev))
	})
	if err != nil {
		l.status = StatusFailed
		l.autoplay = false
		return errors.Mark(errors.Wrapf(err, "open %s", uri), ErrLoad)
	}
	l.resource = res

	l.watchdog = l.clock.AfterFunc(l.config.LoadTimeout, func() {
		l.post(Event{Type: EventTimeout, Generation: gen, Reason: TimeoutReason})
	})
	return nil
}

// Handle applies ev to the loader state. It returns false for stale events
// and for echoes of the loader's own Play and Pause calls; the caller must
// ignore those. Load errors and timeouts release the resource, so anything it
// emits afterwards is stale.
func (l *Loader) Handle(ev Event) (Event, bool) {
	if ev.Generation != l.generation || l.status == StatusEmpty {
		return ev, false
	}

	switch ev.Type {
	case EventReady:
		if l.status != StatusLoading {
			return ev, false
		}
		l.stopWatchdog()
		if ev.Duration > 0 {
			l.duration = ev.Duration
		}
		l.status = StatusReady
		if l.autoplay && l.isUnlocked() {
			if err := l.resource.Play(); err != nil {
				zlog.Warn().Msgf("loader: autoplay blocked: generation=%d err=%v", l.generation, err)
			} else {
				l.status = StatusPlaying
				l.startEchoes++
				ev.AutoStarted = true
			}
		}
		l.autoplay = false

	case EventLoadError:
		l.fail()

	case EventTimeout:
		if l.status != StatusLoading {
			return ev, false
		}
		zlog.Warn().Msgf("loader: load timed out: generation=%d timeout=%v", l.generation, l.config.LoadTimeout)
		l.fail()

	case EventPlaybackStarted:
		if l.startEchoes > 0 {
			l.startEchoes--
			return ev, false
		}
		if l.status == StatusReady {
			l.status = StatusPlaying
		}

	case EventPaused:
		if l.pauseEchoes > 0 {
			l.pauseEchoes--
			return ev, false
		}
		if l.status == StatusPlaying {
			l.status = StatusReady
		}

	case EventStopped, EventEnded:
		l.resetEchoes()
		if l.status == StatusPlaying {
			l.status = StatusReady
		}

	case EventPlaybackError:
		l.resetEchoes()
		l.status = StatusFailed
	}

	return ev, true
}

// Play starts output on the loaded resource. A resource that faulted
// mid-playback may be retried; a failed load may not.
func (l *Loader) Play() error {
	if l.resource == nil || l.status == StatusLoading || l.status == StatusEmpty {
		return ErrNotReady
	}
	if l.status == StatusPlaying {
		return nil
	}
	if err := l.resource.Play(); err != nil {
		return errors.Mark(errors.Wrap(err, "start playback"), ErrPlaybackBlocked)
	}
	l.status = StatusPlaying
	l.startEchoes++
	return nil
}

// Pause pauses output and drops any pending autoplay intent.
func (l *Loader) Pause() {
	l.autoplay = false
	if l.status != StatusPlaying {
		return
	}
	l.resource.Pause()
	l.status = StatusReady
	l.pauseEchoes++
}

// Seek moves the read head, clamped to [0, duration].
func (l *Loader) Seek(d time.Duration) {
	if l.resource == nil || l.status == StatusLoading {
		return
	}
	if d < 0 {
		d = 0
	}
	if limit := l.Duration(); limit > 0 && d > limit {
		d = limit
	}
	if err := l.resource.Seek(d); err != nil {
		zlog.Warn().Msgf("loader: seek failed: position=%v err=%v", d, err)
	}
}

// SetVolume clamps v to [0,1] and applies it to the engine.
func (l *Loader) SetVolume(v float64) {
	l.volume = audio.ClampVolume(v)
	l.engine.SetVolume(l.volume)
}

// Volume returns the last applied volume.
func (l *Loader) Volume() float64 {
	return l.volume
}

// Release stops and frees the current resource. Events from it become stale.
func (l *Loader) Release() {
	l.stopWatchdog()
	l.generation++
	l.dropResource()
	l.status = StatusEmpty
	l.autoplay = false
	l.duration = 0
	l.current = nil
	l.resetEchoes()
}

// Position returns the playback position of the resource.
func (l *Loader) Position() time.Duration {
	if l.resource == nil {
		return 0
	}
	return l.resource.Position()
}

// Duration returns the engine reported duration, falling back to the nominal
// track duration until the resource is ready.
func (l *Loader) Duration() time.Duration {
	if l.resource != nil {
		if d := l.resource.Duration(); d > 0 {
			return d
		}
	}
	return l.duration
}

// Status returns the loader status.
func (l *Loader) Status() Status {
	return l.status
}

// Generation returns the current generation.
func (l *Loader) Generation() uint64 {
	return l.generation
}

// Autoplay reports whether playback will start on ready.
func (l *Loader) Autoplay() bool {
	return l.autoplay
}

// SetAutoplay changes the autoplay intent of a load in progress. It has no
// effect once the resource is ready.
func (l *Loader) SetAutoplay(on bool) {
	if l.status == StatusLoading {
		l.autoplay = on
	}
}

// Track returns the track being loaded or played.
func (l *Loader) Track() (*track.Track, bool) {
	if l.current == nil {
		return nil, false
	}
	return l.current, true
}

func (l *Loader) fail() {
	l.stopWatchdog()
	l.generation++
	l.dropResource()
	l.status = StatusFailed
	l.autoplay = false
}

func (l *Loader) dropResource() {
	if l.resource == nil {
		return
	}
	l.resource.Stop()
	l.resource.Unload()
	l.resource = nil
}

func (l *Loader) stopWatchdog() {
	if l.watchdog != nil {
		l.watchdog.Stop()
		l.watchdog = nil
	}
}

func (l *Loader) resetEchoes() {
	l.startEchoes = 0
	l.pauseEchoes = 0
}

func (l *Loader) isUnlocked() bool {
	return l.gate == nil || l.gate.IsUnlocked()
}
