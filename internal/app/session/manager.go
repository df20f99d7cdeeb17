// Package session provides the session manager.
//
// A session owns the host side of one mounted playlist: the unlock gate, the
// playback controller and the fan-out of its snapshots to connected clients.
package session

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"

	"github.com/osa030/museumplayer/internal/app/notification"
	"github.com/osa030/museumplayer/internal/app/playback"
	"github.com/osa030/museumplayer/internal/app/session/registry"
	"github.com/osa030/museumplayer/internal/app/unlock"
	"github.com/osa030/museumplayer/internal/audio"
	"github.com/osa030/museumplayer/internal/domain/playlist"
	"github.com/osa030/museumplayer/internal/infra/config"
	zlog "github.com/rs/zerolog/log"
)

var (
	ErrSessionRunning  = errors.New("session is already running")
	ErrSessionClosed   = errors.New("session is closed")
	ErrUnknownCommand  = errors.New("unknown command")
	ErrUnknownClient   = registry.ErrUnknownClient
	ErrPlaybackPending = unlock.ErrPending
)

// Command is a remote player command.
type Command string

const (
	CommandPlay    Command = "play"
	CommandPause   Command = "pause"
	CommandNext    Command = "next"
	CommandPrev    Command = "prev"
	CommandSeek    Command = "seek"    // value: percent 0-100
	CommandVolume  Command = "volume"  // value: percent 0-100
	CommandShuffle Command = "shuffle" // toggle
	CommandRepeat  Command = "repeat"  // toggle
	CommandSelect  Command = "select"  // value: index in the effective ordering
	CommandMute    Command = "mute"    // toggle
	CommandGesture Command = "gesture" // first user interaction
	CommandDuck    Command = "duck"    // value: level 0-1, 0 for the configured level
	CommandUnduck  Command = "unduck"
)

// Manager manages the player session.
type Manager struct {
	mu sync.Mutex

	// Configuration
	config *config.Config
	clock  clock.Clock
	engine audio.Engine

	// Components
	gate         *unlock.Gate
	playback     *playback.Controller // replaced by Reload
	notification *notification.Manager
	clients      *registry.ClientRegistry

	// Lifecycle
	started   bool
	closed    bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// NewManager creates a new session manager for pl. The engine stays owned by
// the caller.
func NewManager(cfg *config.Config, engine audio.Engine, pl playlist.Playlist, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	m := &Manager{
		config:       cfg,
		clock:        clk,
		engine:       engine,
		gate:         unlock.NewGate(cfg.Player.AutoUnlock),
		notification: notification.NewManager(),
		clients:      registry.NewClientRegistry(),
		done:         make(chan struct{}),
	}
	m.playback = m.newController(pl)
	return m
}

func (m *Manager) newController(pl playlist.Playlist) *playback.Controller {
	return playback.New(m.engine, pl, m.gate, m.clock, playback.Config{
		InitialVolume: m.config.Player.InitialVolume,
		LoadTimeout:   m.config.LoadTimeout(),
		PollInterval:  m.config.PollInterval(),
	})
}

// Start runs the controller loop and the snapshot broadcast in the
// background. It returns immediately.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrSessionClosed
	}
	if m.started {
		return ErrSessionRunning
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.launchLocked(m.playback)

	s := m.playback.Snapshot()
	zlog.Info().Msgf("session: started: tracks=%d unlocked=%v", len(s.Ordering), s.AudioUnlocked)
	return nil
}

// launchLocked runs c and forwards its snapshots until c is closed.
func (m *Manager) launchLocked(c *playback.Controller) {
	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		if err := c.Run(m.ctx); err != nil && !errors.Is(err, context.Canceled) {
			zlog.Error().Msgf("session: playback loop stopped: %v", err)
		}
	}()
	go func() {
		defer m.wg.Done()
		for s := range c.Snapshots() {
			m.notification.Broadcast(s)
		}
	}()
}

// Done is closed once the session is closed.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Reload mounts pl in place of the current playlist. Held duck leases are
// released and playback restarts paused, on the previously active track if
// pl still has it or else on the first one; connected clients stay
// subscribed.
func (m *Manager) Reload(pl playlist.Playlist) error {
	// Leases restore the volume through the old controller, so they go
	// before the new one applies its initial volume.
	for _, c := range m.clients.All() {
		if lease := m.clients.TakeLease(c.ID); lease != nil {
			lease.Release()
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrSessionClosed
	}
	old := m.playback
	prev := old.Snapshot().ActiveTrack
	m.playback = m.newController(pl)
	if prev != nil {
		// a fresh controller orders tracks as the playlist does
		if idx := pl.IndexOf(prev.ID); idx > 0 {
			if err := m.playback.SelectTrack(idx); err != nil {
				zlog.Warn().Msgf("session: failed to keep active track: id=%s err=%v", prev.ID, err)
			}
		}
	}
	if m.started {
		m.launchLocked(m.playback)
	}
	m.mu.Unlock()

	old.Close()
	zlog.Info().Msgf("session: playlist reloaded: id=%s tracks=%d total=%v",
		pl.ID, len(pl.Tracks), pl.TotalDuration())
	return nil
}

// controller returns the mounted controller.
func (m *Manager) controller() *playback.Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playback
}

// Connect registers a client, subscribes its stream and sends it the current
// state. It returns the client ID.
func (m *Manager) Connect(stream notification.Stream, remoteAddr string) string {
	subID := m.notification.Subscribe(stream)
	clientID := m.clients.Join(remoteAddr, subID, m.clock.Now())
	zlog.Info().Msgf("session: client connected: client_id=%s remote=%s", clientID, remoteAddr)

	if err := m.notification.Send(subID, m.controller().Snapshot()); err != nil {
		zlog.Debug().Msgf("session: initial snapshot failed: client_id=%s err=%v", clientID, err)
	}
	return clientID
}

// Disconnect removes a client and releases its duck lease.
func (m *Manager) Disconnect(clientID string) {
	c, lease, ok := m.clients.Leave(clientID)
	if !ok {
		return
	}
	if lease != nil {
		lease.Release()
	}
	m.notification.Unsubscribe(c.SubscriptionID)
	zlog.Info().Msgf("session: client disconnected: client_id=%s", clientID)
}

// Dispatch runs cmd for a connected client. ctx scopes a duck lease; it
// should live as long as the client connection.
func (m *Manager) Dispatch(ctx context.Context, clientID string, cmd Command, value float64) error {
	client, err := m.clients.Get(clientID)
	if err != nil {
		return err
	}
	zlog.Debug().Msgf("session: command: client_id=%s remote=%s cmd=%s value=%v",
		clientID, client.RemoteAddr, cmd, value)

	c := m.controller()
	switch cmd {
	case CommandPlay:
		return c.Play()
	case CommandPause:
		return c.Pause()
	case CommandNext:
		return c.Next()
	case CommandPrev:
		return c.Prev()
	case CommandSeek:
		return c.Seek(value)
	case CommandVolume:
		return c.SetVolume(value)
	case CommandShuffle:
		return c.ToggleShuffle()
	case CommandRepeat:
		return c.ToggleRepeat()
	case CommandSelect:
		return c.SelectTrack(int(value))
	case CommandMute:
		return c.Mute()
	case CommandGesture:
		m.gate.RecordUserGesture()
		c.Refresh()
		return nil
	case CommandDuck:
		level := value
		if level <= 0 {
			level = m.config.Player.DuckVolume
		}
		if level <= 0 {
			level = playback.DefaultDuckVolume
		}
		return m.clients.HoldLease(clientID, func() registry.Releaser {
			return c.Duck(ctx, level)
		})
	case CommandUnduck:
		if lease := m.clients.TakeLease(clientID); lease != nil {
			lease.Release()
		}
		return nil
	default:
		return errors.Wrapf(ErrUnknownCommand, "%q", string(cmd))
	}
}

// Snapshot returns the current player state.
func (m *Manager) Snapshot() playback.Snapshot {
	return m.controller().Snapshot()
}

// ClientCount returns the number of connected clients.
func (m *Manager) ClientCount() int {
	return m.clients.Count()
}

// GetNotificationManager returns the notification manager.
func (m *Manager) GetNotificationManager() *notification.Manager {
	return m.notification
}

// Close stops the session, releases every client lease and the track
// resource. It is idempotent.
func (m *Manager) Close() {
	m.closeOnce.Do(m.close)
}

func (m *Manager) close() {
	for _, c := range m.clients.All() {
		m.Disconnect(c.ID)
	}

	m.mu.Lock()
	m.closed = true
	c := m.playback
	cancel := m.cancel
	m.mu.Unlock()

	c.Close()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.notification.Close()
	close(m.done)
	zlog.Info().Msg("session: closed")
}
