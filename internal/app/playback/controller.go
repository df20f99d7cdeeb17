package playback

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/osa030/museumplayer/internal/app/loader"
	"github.com/osa030/museumplayer/internal/app/queue"
	"github.com/osa030/museumplayer/internal/app/unlock"
	"github.com/osa030/museumplayer/internal/audio"
	"github.com/osa030/museumplayer/internal/domain/playlist"
	zlog "github.com/rs/zerolog/log"
)

// Errors
var (
	ErrClosed          = errors.New("controller closed")
	ErrQueueExhausted  = errors.New("queue exhausted")
	ErrNotReady        = loader.ErrNotReady
	ErrPlaybackBlocked = loader.ErrPlaybackBlocked
)

// Defaults
const (
	DefaultInitialVolume = 0.7
	DefaultPollInterval  = time.Second
	DefaultDuckVolume    = 0.24
)

// Gate is the page-wide autoplay unlock gate.
type Gate interface {
	IsUnlocked() bool
	RequestPlay(owner any, onUnlock func()) error
	CancelPending(owner any)
	PendingFor(owner any) bool
}

// Config holds controller configuration.
type Config struct {
	InitialVolume float64       // Volume at start, also restored by Mute
	LoadTimeout   time.Duration // Watchdog for track loads
	PollInterval  time.Duration // Position refresh while playing
	Rand          *rand.Rand    // Shuffle source, nil seeds from the clock
}

// Controller is the playback state machine of one playlist.
//
// Commands run under the controller mutex. Engine callbacks, the load
// watchdog and the position poll only post to the inbox; Run applies inbox
// items one at a time under the same mutex.
type Controller struct {
	mu sync.Mutex

	clock  clock.Clock
	config Config
	gate   Gate
	loader *loader.Loader
	queue  *queue.Manager

	status Status
	index  int
	repeat bool
	reason string
	volume float64 // user volume; output differs while ducked
	leases map[*Lease]struct{}

	// Position poll
	poll    *clock.Timer
	pollSeq uint64

	// Inbox
	inboxMu sync.Mutex
	inbox   []inboxItem
	notify  chan struct{}

	snapshots chan Snapshot
	done      chan struct{}
	closed    bool
}

// New creates a controller for pl and loads its first track without
// starting playback. A nil gate is always unlocked.
func New(engine audio.Engine, pl playlist.Playlist, gate Gate, clk clock.Clock, config Config) *Controller {
	if config.InitialVolume <= 0 {
		config.InitialVolume = DefaultInitialVolume
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	if gate == nil {
		gate = unlock.NewGate(true)
	}

	c := &Controller{
		clock:     clk,
		config:    config,
		gate:      gate,
		queue:     queue.New(pl.Tracks, config.Rand),
		status:    StatusIdle,
		index:     -1,
		volume:    audio.ClampVolume(config.InitialVolume),
		leases:    make(map[*Lease]struct{}),
		notify:    make(chan struct{}, 1),
		snapshots: make(chan Snapshot, 1),
		done:      make(chan struct{}),
	}
	c.loader = loader.New(engine, clk, loader.Config{LoadTimeout: config.LoadTimeout}, gate, c.post)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.loader.SetVolume(c.volume)
	if c.queue.Len() == 0 {
		zlog.Info().Msgf("playback: playlist is empty: id=%s", pl.ID)
		c.publishLocked()
		return c
	}
	if err := c.loadLocked(0, false); err != nil {
		zlog.Warn().Msgf("playback: initial load failed: %v", err)
	}
	return c
}

// Run applies inbox items until ctx is done or the controller is closed.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case <-c.notify:
			c.pump()
		}
	}
}

// Snapshots returns the snapshot channel. Only the latest snapshot is kept;
// the channel is closed by Close.
func (c *Controller) Snapshots() <-chan Snapshot {
	return c.snapshots
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Refresh publishes a snapshot, e.g. after the unlock gate changed.
func (c *Controller) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishLocked()
}

// Play starts playback of the active track. While output is locked it
// returns unlock.ErrPending and plays on the first user gesture, also when
// the track changes in between.
func (c *Controller) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playLocked()
}

func (c *Controller) playLocked() error {
	if c.closed {
		return ErrClosed
	}
	if _, ok := c.queue.At(c.index); !ok {
		return nil
	}

	switch c.status {
	case StatusPlaying:
		return nil
	case StatusLoading:
		return ErrNotReady
	}

	if err := c.gate.RequestPlay(c, c.replayPlay); err != nil {
		zlog.Debug().Msgf("playback: play deferred until user gesture: index=%d", c.index)
		return err
	}

	if err := c.loader.Play(); err != nil {
		zlog.Warn().Msgf("playback: play failed: index=%d err=%v", c.index, err)
		return err
	}
	c.setStatusLocked(StatusPlaying)
	c.startPollLocked()
	c.publishLocked()
	return nil
}

// replayPlay runs the play request deferred by the gate. A track still
// loading starts as soon as it is ready.
func (c *Controller) replayPlay() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed && c.status == StatusLoading {
		c.loader.SetAutoplay(true)
		return
	}
	if err := c.playLocked(); err != nil && !errors.Is(err, ErrClosed) {
		zlog.Warn().Msgf("playback: deferred play failed: %v", err)
	}
}

// Pause pauses playback and cancels a play request waiting for a gesture.
// While loading it drops the autoplay intent.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.gate.CancelPending(c)

	switch c.status {
	case StatusPlaying:
		c.loader.Pause()
		c.stopPollLocked()
		c.setStatusLocked(StatusPaused)
		c.publishLocked()
	case StatusLoading:
		c.loader.Pause()
	}
	return nil
}

// Next moves to the next track of the effective ordering, keeping the
// playing or paused intent. At the end without repeat it pauses, stays on the
// last track, sets StatusIdle and returns ErrQueueExhausted.
func (c *Controller) Next() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.queue.Len() == 0 {
		return nil
	}

	res := c.queue.Next(c.index, c.repeat)
	if res.Outcome == queue.OutcomeExhausted {
		c.exhaustLocked()
		return ErrQueueExhausted
	}
	return c.loadLocked(res.Index, c.intentLocked())
}

// Prev moves to the previous track, wrapping from the first to the last.
func (c *Controller) Prev() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.queue.Len() == 0 {
		return nil
	}

	res := c.queue.Prev(c.index)
	return c.loadLocked(res.Index, c.intentLocked())
}

// SelectTrack loads the track at index i of the effective ordering. It
// autoplays only if playback was running.
func (c *Controller) SelectTrack(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.queue.Len() == 0 {
		return nil
	}

	res, err := c.queue.Select(i)
	if err != nil {
		return err
	}
	return c.loadLocked(res.Index, c.intentLocked())
}

// Seek moves to percent (0-100) of the track duration.
func (c *Controller) Seek(percent float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.status != StatusPlaying && c.status != StatusPaused {
		return nil
	}

	ratio := clampPercent(percent) / 100
	c.loader.Seek(time.Duration(float64(c.loader.Duration()) * ratio))
	c.publishLocked()
	return nil
}

// SetVolume sets the volume to percent (0-100), clamped. While ducked the
// new value is applied when the last lease is released.
func (c *Controller) SetVolume(percent float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.setVolumeLocked(audio.ClampVolume(percent / 100))
	return nil
}

// Mute toggles between silence and the initial volume.
func (c *Controller) Mute() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.volume > 0 {
		c.setVolumeLocked(0)
	} else {
		c.setVolumeLocked(audio.ClampVolume(c.config.InitialVolume))
	}
	return nil
}

// ToggleShuffle switches the effective ordering between a fresh shuffle and
// the original order. The active track keeps playing.
func (c *Controller) ToggleShuffle() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	currentID := ""
	if t, ok := c.queue.At(c.index); ok {
		currentID = t.ID
	}
	if idx := c.queue.ToggleShuffle(!c.queue.Shuffled(), currentID); idx >= 0 {
		c.index = idx
	}
	zlog.Debug().Msgf("playback: shuffle toggled: shuffle=%v index=%d", c.queue.Shuffled(), c.index)
	c.publishLocked()
	return nil
}

// ToggleRepeat switches wrap-around at the end of the ordering.
func (c *Controller) ToggleRepeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.repeat = !c.repeat
	c.publishLocked()
	return nil
}

// Close releases the resource, stops all timers, cancels a pending play
// request and closes the snapshot channel. It is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.stopPollLocked()
	c.loader.Release()
	c.gate.CancelPending(c)
	close(c.done)
	close(c.snapshots)
}

// post queues an inbox item. It never blocks.
func (c *Controller) post(ev loader.Event) {
	c.enqueue(inboxItem{event: ev})
}

func (c *Controller) enqueue(item inboxItem) {
	c.inboxMu.Lock()
	c.inbox = append(c.inbox, item)
	c.inboxMu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// pump applies queued inbox items until the inbox is empty.
func (c *Controller) pump() {
	for {
		c.inboxMu.Lock()
		if len(c.inbox) == 0 {
			c.inboxMu.Unlock()
			return
		}
		item := c.inbox[0]
		c.inbox = c.inbox[1:]
		c.inboxMu.Unlock()

		c.mu.Lock()
		if !c.closed {
			c.applyLocked(item)
		}
		c.mu.Unlock()
	}
}

func (c *Controller) applyLocked(item inboxItem) {
	if item.tick {
		c.tickLocked(item.seq)
		return
	}

	ev, ok := c.loader.Handle(item.event)
	if !ok {
		zlog.Debug().Msgf("playback: ignoring event: type=%s generation=%d current=%d",
			item.event.Type, item.event.Generation, c.loader.Generation())
		return
	}

	switch ev.Type {
	case loader.EventReady:
		if c.status != StatusLoading {
			return
		}
		if ev.AutoStarted {
			c.setStatusLocked(StatusPlaying)
			c.startPollLocked()
		} else {
			c.setStatusLocked(StatusPaused)
		}

	case loader.EventLoadError, loader.EventTimeout:
		reason := ev.Reason
		if reason == "" {
			reason = "load failed"
		}
		c.failLocked(reason)
		return

	case loader.EventPlaybackStarted:
		if c.status != StatusPaused {
			return
		}
		c.setStatusLocked(StatusPlaying)
		c.startPollLocked()

	case loader.EventPaused, loader.EventStopped:
		if c.status != StatusPlaying {
			return
		}
		c.stopPollLocked()
		c.setStatusLocked(StatusPaused)

	case loader.EventPlaybackError:
		if c.status != StatusPlaying && c.status != StatusPaused {
			return
		}
		reason := ev.Reason
		if reason == "" {
			reason = "playback failed"
		}
		c.failLocked(reason)
		return

	case loader.EventEnded:
		if c.status != StatusPlaying && c.status != StatusPaused {
			return
		}
		c.endLocked()
		return
	}

	c.publishLocked()
}

// endLocked handles the end of the active track and advances.
func (c *Controller) endLocked() {
	c.stopPollLocked()
	c.setStatusLocked(StatusEnded)
	c.publishLocked()

	res := c.queue.Next(c.index, c.repeat)
	if res.Outcome == queue.OutcomeExhausted {
		zlog.Info().Msgf("playback: end of playlist reached: index=%d", c.index)
		c.setStatusLocked(StatusIdle)
		c.publishLocked()
		return
	}
	if err := c.loadLocked(res.Index, true); err != nil {
		zlog.Warn().Msgf("playback: auto-advance failed: index=%d err=%v", res.Index, err)
	}
}

func (c *Controller) exhaustLocked() {
	c.gate.CancelPending(c)
	c.loader.Pause()
	c.stopPollLocked()
	c.setStatusLocked(StatusIdle)
	c.publishLocked()
	zlog.Info().Msgf("playback: queue exhausted: index=%d", c.index)
}

// loadLocked makes index i active and starts loading it.
func (c *Controller) loadLocked(i int, autoplay bool) error {
	t, ok := c.queue.At(i)
	if !ok {
		return queue.ErrOutOfRange
	}

	c.stopPollLocked()
	c.index = i
	if err := c.loader.Load(t, autoplay); err != nil {
		c.failLocked(err.Error())
		return err
	}
	c.setStatusLocked(StatusLoading)
	c.publishLocked()
	return nil
}

func (c *Controller) failLocked(reason string) {
	c.stopPollLocked()
	c.setStatusLocked(StatusError)
	c.reason = reason
	zlog.Warn().Msgf("playback: track failed: index=%d reason=%s", c.index, reason)
	c.publishLocked()
}

// intentLocked reports whether the next load should autoplay. A play request
// waiting for the first gesture counts.
func (c *Controller) intentLocked() bool {
	return c.status == StatusPlaying ||
		(c.status == StatusLoading && c.loader.Autoplay()) ||
		c.gate.PendingFor(c)
}

func (c *Controller) setStatusLocked(s Status) {
	if s != c.status {
		zlog.Debug().Msgf("playback: status changed: %s -> %s", c.status, s)
		c.status = s
	}
	if s != StatusError {
		c.reason = ""
	}
}

func (c *Controller) setVolumeLocked(v float64) {
	c.volume = v
	if len(c.leases) == 0 {
		c.loader.SetVolume(v)
	}
	c.publishLocked()
}

func (c *Controller) startPollLocked() {
	c.stopPollLocked()
	seq := c.pollSeq
	c.poll = c.clock.AfterFunc(c.config.PollInterval, func() {
		c.enqueue(inboxItem{tick: true, seq: seq})
	})
}

func (c *Controller) stopPollLocked() {
	c.pollSeq++
	if c.poll != nil {
		c.poll.Stop()
		c.poll = nil
	}
}

// tickLocked publishes the current position and re-arms the poll.
func (c *Controller) tickLocked(seq uint64) {
	if seq != c.pollSeq || c.status != StatusPlaying {
		return
	}
	c.publishLocked()
	c.startPollLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		Status:        c.status,
		ActiveIndex:   -1,
		Position:      c.loader.Position(),
		Duration:      c.loader.Duration(),
		Volume:        c.volume,
		Shuffle:       c.queue.Shuffled(),
		Repeat:        c.repeat,
		Ordering:      c.queue.Ordering(),
		AudioUnlocked: c.gate.IsUnlocked(),
		Ducked:        len(c.leases) > 0,
	}
	if t, ok := c.queue.At(c.index); ok {
		active := t
		s.ActiveTrack = &active
		s.ActiveIndex = c.index
	}
	if c.status == StatusError {
		s.Reason = c.reason
	}
	return s
}

// publishLocked replaces any unread snapshot with the current one.
func (c *Controller) publishLocked() {
	if c.closed {
		return
	}
	s := c.snapshotLocked()
	select {
	case <-c.snapshots:
	default:
	}
	select {
	case c.snapshots <- s:
	default:
	}
}

func clampPercent(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
