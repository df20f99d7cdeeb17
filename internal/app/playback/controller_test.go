package playback

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/osa030/museumplayer/internal/app/queue"
	"github.com/osa030/museumplayer/internal/app/unlock"
	"github.com/osa030/museumplayer/internal/audio/audiotest"
	"github.com/osa030/museumplayer/internal/domain/playlist"
	"github.com/osa030/museumplayer/internal/domain/track"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t    *testing.T
	eng  *audiotest.Engine
	mock *clock.Mock
	gate *unlock.Gate
	c    *Controller
}

func newHarness(t *testing.T, unlocked bool, ids ...string) *harness {
	t.Helper()
	tracks := make([]track.Track, 0, len(ids))
	for _, id := range ids {
		tracks = append(tracks, track.Track{ID: id, Title: id, SourceURI: "/media/" + id + ".mp3", Duration: time.Minute})
	}

	h := &harness{
		t:    t,
		eng:  audiotest.NewEngine(),
		mock: clock.NewMock(),
		gate: unlock.NewGate(unlocked),
	}
	h.c = New(h.eng, playlist.Playlist{ID: "museum", Tracks: tracks}, h.gate, h.mock, Config{
		Rand: rand.New(rand.NewSource(1)),
	})
	t.Cleanup(h.c.Close)
	return h
}

// ready reports the latest resource ready and applies the resulting events.
func (h *harness) ready() {
	h.t.Helper()
	h.eng.Last().Ready(100 * time.Second)
	h.c.pump()
}

// playing brings the first track to StatusPlaying.
func (h *harness) playing() {
	h.t.Helper()
	h.ready()
	require.NoError(h.t, h.c.Play())
	h.c.pump()
	require.Equal(h.t, StatusPlaying, h.c.Snapshot().Status)
}

func (h *harness) snapshot() Snapshot {
	return h.c.Snapshot()
}

func activeID(s Snapshot) string {
	if s.ActiveTrack == nil {
		return ""
	}
	return s.ActiveTrack.ID
}

func orderingIDs(s Snapshot) []string {
	out := make([]string, 0, len(s.Ordering))
	for _, t := range s.Ordering {
		out = append(out, t.ID)
	}
	return out
}

func TestController_NewLoadsFirstTrackPaused(t *testing.T) {
	h := newHarness(t, true, "A", "B")

	s := h.snapshot()
	assert.Equal(t, StatusLoading, s.Status)
	assert.Equal(t, "A", activeID(s))
	assert.Equal(t, 0, s.ActiveIndex)
	assert.Equal(t, time.Minute, s.Duration)
	assert.InDelta(t, DefaultInitialVolume, s.Volume, 1e-9)
	assert.InDelta(t, DefaultInitialVolume, h.eng.Volume(), 1e-9)

	h.ready()
	s = h.snapshot()
	assert.Equal(t, StatusPaused, s.Status)
	assert.Equal(t, 100*time.Second, s.Duration)
	assert.False(t, h.eng.Last().Playing())
}

func TestController_EmptyPlaylist(t *testing.T) {
	h := newHarness(t, true)

	assert.NoError(t, h.c.Play())
	assert.NoError(t, h.c.Pause())
	assert.NoError(t, h.c.Next())
	assert.NoError(t, h.c.Prev())
	assert.NoError(t, h.c.SelectTrack(0))
	assert.NoError(t, h.c.Seek(50))

	s := h.snapshot()
	assert.Equal(t, StatusIdle, s.Status)
	assert.Nil(t, s.ActiveTrack)
	assert.Equal(t, -1, s.ActiveIndex)
	assert.Empty(t, h.eng.Resources())
}

func TestController_PlayPause(t *testing.T) {
	h := newHarness(t, true, "A")
	h.playing()
	assert.True(t, h.eng.Last().Playing())

	require.NoError(t, h.c.Pause())
	h.c.pump()
	assert.Equal(t, StatusPaused, h.snapshot().Status)
	assert.False(t, h.eng.Last().Playing())

	require.NoError(t, h.c.Play())
	h.c.pump()
	assert.Equal(t, StatusPlaying, h.snapshot().Status)
	assert.Equal(t, 2, h.eng.Last().Plays())
}

func TestController_PlayWhileLoading(t *testing.T) {
	h := newHarness(t, true, "A")
	assert.ErrorIs(t, h.c.Play(), ErrNotReady)
	assert.Equal(t, StatusLoading, h.snapshot().Status)
}

func TestController_NextScenario(t *testing.T) {
	h := newHarness(t, true, "A", "B", "C")
	h.playing()

	require.NoError(t, h.c.Next())
	s := h.snapshot()
	assert.Equal(t, StatusLoading, s.Status)
	assert.Equal(t, "B", activeID(s))
	h.ready()
	assert.Equal(t, StatusPlaying, h.snapshot().Status)
	assert.True(t, h.eng.Last().Playing())

	require.NoError(t, h.c.Next())
	h.ready()
	s = h.snapshot()
	assert.Equal(t, "C", activeID(s))
	assert.Equal(t, StatusPlaying, s.Status)

	err := h.c.Next()
	assert.ErrorIs(t, err, ErrQueueExhausted)
	h.c.pump()
	s = h.snapshot()
	assert.Equal(t, StatusIdle, s.Status)
	assert.Equal(t, "C", activeID(s))
	assert.Equal(t, 2, s.ActiveIndex)
	assert.False(t, h.eng.Last().Playing())

	require.NoError(t, h.c.ToggleRepeat())
	require.NoError(t, h.c.Next())
	s = h.snapshot()
	assert.Equal(t, "A", activeID(s))
	assert.Equal(t, StatusLoading, s.Status)
	assert.True(t, s.Repeat)
}

func TestController_NextVisitsEveryIndexOnce(t *testing.T) {
	all := []string{"A", "B", "C", "D", "E"}
	for n := 1; n <= len(all); n++ {
		h := newHarness(t, true, all[:n]...)
		h.ready()

		visited := []int{h.snapshot().ActiveIndex}
		for i := 1; i < n; i++ {
			require.NoError(t, h.c.Next())
			h.ready()
			visited = append(visited, h.snapshot().ActiveIndex)
		}

		want := make([]int, n)
		for i := range want {
			want[i] = i
		}
		assert.Equal(t, want, visited)

		assert.ErrorIs(t, h.c.Next(), ErrQueueExhausted)
		assert.Equal(t, n-1, h.snapshot().ActiveIndex)
	}
}

func TestController_PrevWraps(t *testing.T) {
	h := newHarness(t, true, "A", "B", "C")
	h.ready()

	require.NoError(t, h.c.Prev())
	s := h.snapshot()
	assert.Equal(t, 2, s.ActiveIndex)
	assert.Equal(t, "C", activeID(s))

	h.ready()
	require.NoError(t, h.c.Prev())
	assert.Equal(t, 1, h.snapshot().ActiveIndex)
}

func TestController_SelectTrackKeepsIntent(t *testing.T) {
	t.Run("paused stays paused", func(t *testing.T) {
		h := newHarness(t, true, "A", "B", "C")
		h.ready()

		require.NoError(t, h.c.SelectTrack(2))
		h.ready()
		s := h.snapshot()
		assert.Equal(t, "C", activeID(s))
		assert.Equal(t, StatusPaused, s.Status)
	})

	t.Run("playing keeps playing", func(t *testing.T) {
		h := newHarness(t, true, "A", "B", "C")
		h.playing()

		require.NoError(t, h.c.SelectTrack(1))
		h.ready()
		s := h.snapshot()
		assert.Equal(t, "B", activeID(s))
		assert.Equal(t, StatusPlaying, s.Status)
	})

	t.Run("out of range", func(t *testing.T) {
		h := newHarness(t, true, "A")
		err := h.c.SelectTrack(3)
		assert.True(t, errors.Is(err, queue.ErrOutOfRange))
	})
}

func TestController_StaleReadyIgnored(t *testing.T) {
	h := newHarness(t, true, "A", "B", "C")
	h.ready()

	require.NoError(t, h.c.Next())
	require.NoError(t, h.c.Next())
	resources := h.eng.Resources()
	require.Len(t, resources, 3)

	resources[1].Ready(time.Minute)
	h.c.pump()

	s := h.snapshot()
	assert.Equal(t, StatusLoading, s.Status)
	assert.Equal(t, "C", activeID(s))
	assert.Len(t, h.eng.Live(), 1)
	assert.Same(t, resources[2], h.eng.Live()[0])
}

func TestController_EndedAutoAdvances(t *testing.T) {
	h := newHarness(t, true, "A", "B")
	h.playing()

	h.eng.Last().End()
	h.c.pump()
	s := h.snapshot()
	assert.Equal(t, StatusLoading, s.Status)
	assert.Equal(t, "B", activeID(s))

	h.ready()
	assert.Equal(t, StatusPlaying, h.snapshot().Status)
}

func TestController_EndedAtLastTrack(t *testing.T) {
	h := newHarness(t, true, "A")
	h.playing()

	h.eng.Last().End()
	h.c.pump()

	s := h.snapshot()
	assert.Equal(t, StatusIdle, s.Status)
	assert.Equal(t, "A", activeID(s))
	assert.Len(t, h.eng.Resources(), 1)
}

func TestController_SingleTrackRepeatReloads(t *testing.T) {
	h := newHarness(t, true, "A")
	require.NoError(t, h.c.ToggleRepeat())
	h.playing()

	first := h.eng.Last()
	first.SetPosition(90 * time.Second)
	first.End()
	h.c.pump()

	require.Len(t, h.eng.Resources(), 2)
	assert.True(t, first.Unloaded())
	assert.Equal(t, StatusLoading, h.snapshot().Status)

	h.ready()
	s := h.snapshot()
	assert.Equal(t, StatusPlaying, s.Status)
	assert.Equal(t, time.Duration(0), s.Position)
	assert.Equal(t, "A", activeID(s))
}

func TestController_LoadError(t *testing.T) {
	h := newHarness(t, true, "A", "B")

	h.eng.Last().FailLoad(errors.New("404 not found"))
	h.c.pump()

	s := h.snapshot()
	assert.Equal(t, StatusError, s.Status)
	assert.Equal(t, "404 not found", s.Reason)
	assert.ErrorIs(t, h.c.Play(), ErrNotReady)

	// controls stay usable
	require.NoError(t, h.c.Next())
	s = h.snapshot()
	assert.Equal(t, StatusLoading, s.Status)
	assert.Empty(t, s.Reason)
}

func TestController_LoadTimeout(t *testing.T) {
	h := newHarness(t, true, "A")
	late := h.eng.Last()

	h.mock.Add(5 * time.Second)
	require.Eventually(t, func() bool {
		h.c.pump()
		return h.snapshot().Status == StatusError
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "load timed out", h.snapshot().Reason)

	late.Ready(time.Minute)
	h.c.pump()
	assert.Equal(t, StatusError, h.snapshot().Status)
}

func TestController_PlaybackFaultDoesNotAdvance(t *testing.T) {
	h := newHarness(t, true, "A", "B")
	h.playing()

	h.eng.Last().Fault(errors.New("device lost"))
	h.c.pump()

	s := h.snapshot()
	assert.Equal(t, StatusError, s.Status)
	assert.Equal(t, "device lost", s.Reason)
	assert.Equal(t, "A", activeID(s))
	assert.Len(t, h.eng.Resources(), 1)
}

func TestController_EngineOriginatedTransitions(t *testing.T) {
	h := newHarness(t, true, "A")
	h.playing()
	res := h.eng.Last()

	res.Pause()
	h.c.pump()
	assert.Equal(t, StatusPaused, h.snapshot().Status)

	require.NoError(t, res.Play())
	h.c.pump()
	assert.Equal(t, StatusPlaying, h.snapshot().Status)

	res.Stop()
	h.c.pump()
	assert.Equal(t, StatusPaused, h.snapshot().Status)
}

func TestController_UnlockGate(t *testing.T) {
	h := newHarness(t, false, "A")
	h.ready()

	err := h.c.Play()
	assert.ErrorIs(t, err, unlock.ErrPending)
	s := h.snapshot()
	assert.Equal(t, StatusPaused, s.Status)
	assert.False(t, s.AudioUnlocked)
	assert.False(t, h.eng.Last().Playing())

	h.gate.RecordUserGesture()
	h.gate.RecordUserGesture()
	h.c.pump()

	s = h.snapshot()
	assert.Equal(t, StatusPlaying, s.Status)
	assert.True(t, s.AudioUnlocked)
	assert.Equal(t, 1, h.eng.Last().Plays())
}

func TestController_PauseCancelsPendingPlay(t *testing.T) {
	h := newHarness(t, false, "A")
	h.ready()

	assert.ErrorIs(t, h.c.Play(), unlock.ErrPending)
	require.NoError(t, h.c.Pause())
	h.gate.RecordUserGesture()
	h.c.pump()

	assert.Equal(t, StatusPaused, h.snapshot().Status)
	assert.Equal(t, 0, h.eng.Last().Plays())
}

func TestController_PendingPlaySurvivesTrackChange(t *testing.T) {
	tests := []struct {
		name         string
		readyFirst   bool // the new track is ready before the gesture
		changeTrack  func(c *Controller) error
		wantActiveID string
	}{
		{name: "next then gesture while loading", changeTrack: (*Controller).Next, wantActiveID: "B"},
		{name: "prev then gesture while loading", changeTrack: (*Controller).Prev, wantActiveID: "B"},
		{name: "select then gesture while loading", changeTrack: func(c *Controller) error { return c.SelectTrack(1) }, wantActiveID: "B"},
		{name: "next ready before gesture", readyFirst: true, changeTrack: (*Controller).Next, wantActiveID: "B"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, false, "A", "B")
			h.ready()

			require.ErrorIs(t, h.c.Play(), unlock.ErrPending)
			require.NoError(t, tt.changeTrack(h.c))
			require.Equal(t, StatusLoading, h.snapshot().Status)

			if tt.readyFirst {
				h.ready()
				require.Equal(t, StatusPaused, h.snapshot().Status)
				assert.Equal(t, 0, h.eng.Last().Plays())
			}

			h.gate.RecordUserGesture()
			h.c.pump()
			if !tt.readyFirst {
				h.ready()
			}

			s := h.snapshot()
			assert.Equal(t, StatusPlaying, s.Status)
			assert.Equal(t, tt.wantActiveID, activeID(s))
			assert.Equal(t, 1, h.eng.Last().Plays())
			assert.False(t, h.gate.HasPending())
		})
	}
}

func TestController_ExhaustedDropsPendingPlay(t *testing.T) {
	h := newHarness(t, false, "A")
	h.ready()

	require.ErrorIs(t, h.c.Play(), unlock.ErrPending)
	require.ErrorIs(t, h.c.Next(), ErrQueueExhausted)
	assert.False(t, h.gate.HasPending())
}

func TestController_CloseKeepsOtherPendingPlay(t *testing.T) {
	h := newHarness(t, false, "A")
	h.ready()
	require.ErrorIs(t, h.c.Play(), unlock.ErrPending)

	// a second controller on the same gate takes over the request
	eng := audiotest.NewEngine()
	next := New(eng, playlist.Playlist{ID: "next", Tracks: []track.Track{
		{ID: "N", Title: "N", SourceURI: "/media/N.mp3"},
	}}, h.gate, h.mock, Config{})
	t.Cleanup(next.Close)
	eng.Last().Ready(time.Minute)
	next.pump()
	require.ErrorIs(t, next.Play(), unlock.ErrPending)

	h.c.Close()
	assert.True(t, h.gate.PendingFor(next))

	h.gate.RecordUserGesture()
	next.pump()
	assert.Equal(t, StatusPlaying, next.Snapshot().Status)
	assert.Equal(t, 1, eng.Last().Plays())
}

func TestController_LockedAutoplayStaysPaused(t *testing.T) {
	h := newHarness(t, false, "A", "B")
	h.ready()

	// force the playing intent through an engine start
	require.NoError(t, h.eng.Last().Play())
	h.c.pump()
	require.Equal(t, StatusPlaying, h.snapshot().Status)

	require.NoError(t, h.c.Next())
	h.ready()
	assert.Equal(t, StatusPaused, h.snapshot().Status)
	assert.False(t, h.eng.Last().Playing())
}

func TestController_SetVolume(t *testing.T) {
	tests := []struct {
		name    string
		percent float64
		want    float64
	}{
		{name: "above range", percent: 150, want: 1},
		{name: "below range", percent: -10, want: 0},
		{name: "in range", percent: 56, want: 0.56},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, true, "A")
			require.NoError(t, h.c.SetVolume(tt.percent))
			first := h.snapshot().Volume
			require.NoError(t, h.c.SetVolume(tt.percent))

			assert.InDelta(t, tt.want, first, 1e-9)
			assert.Equal(t, first, h.snapshot().Volume)
			assert.InDelta(t, tt.want, h.eng.Volume(), 1e-9)
		})
	}
}

func TestController_Mute(t *testing.T) {
	h := newHarness(t, true, "A")

	require.NoError(t, h.c.Mute())
	assert.Equal(t, 0.0, h.snapshot().Volume)
	assert.Equal(t, 0.0, h.eng.Volume())

	require.NoError(t, h.c.Mute())
	assert.InDelta(t, DefaultInitialVolume, h.snapshot().Volume, 1e-9)
}

func TestController_Duck(t *testing.T) {
	t.Run("restores saved volume", func(t *testing.T) {
		h := newHarness(t, true, "A")
		require.NoError(t, h.c.SetVolume(56))

		lease := h.c.Duck(context.Background(), DefaultDuckVolume)
		s := h.snapshot()
		assert.True(t, s.Ducked)
		assert.InDelta(t, 0.56, s.Volume, 1e-9)
		assert.InDelta(t, DefaultDuckVolume, h.eng.Volume(), 1e-9)

		lease.Release()
		lease.Release()
		assert.False(t, h.snapshot().Ducked)
		assert.InDelta(t, 0.56, h.eng.Volume(), 1e-9)
	})

	t.Run("nested leases restore on last release", func(t *testing.T) {
		h := newHarness(t, true, "A")
		first := h.c.Duck(context.Background(), DefaultDuckVolume)
		second := h.c.Duck(context.Background(), 0.5)
		assert.InDelta(t, DefaultDuckVolume, h.eng.Volume(), 1e-9)

		first.Release()
		assert.True(t, h.c.Ducked())
		assert.InDelta(t, DefaultDuckVolume, h.eng.Volume(), 1e-9)

		second.Release()
		assert.False(t, h.c.Ducked())
		assert.InDelta(t, DefaultInitialVolume, h.eng.Volume(), 1e-9)
	})

	t.Run("volume change while ducked applies on release", func(t *testing.T) {
		h := newHarness(t, true, "A")
		lease := h.c.Duck(context.Background(), DefaultDuckVolume)

		require.NoError(t, h.c.SetVolume(30))
		assert.InDelta(t, DefaultDuckVolume, h.eng.Volume(), 1e-9)

		lease.Release()
		assert.InDelta(t, 0.3, h.eng.Volume(), 1e-9)
	})

	t.Run("context end releases", func(t *testing.T) {
		h := newHarness(t, true, "A")
		require.NoError(t, h.c.SetVolume(56))

		ctx, cancel := context.WithCancel(context.Background())
		h.c.Duck(ctx, DefaultDuckVolume)
		cancel()

		require.Eventually(t, func() bool { return !h.c.Ducked() }, time.Second, 5*time.Millisecond)
		assert.InDelta(t, 0.56, h.eng.Volume(), 1e-9)
	})
}

func TestController_ShuffleRoundTrip(t *testing.T) {
	h := newHarness(t, true, "A", "B", "C", "D", "E")
	h.ready()
	require.NoError(t, h.c.SelectTrack(2))
	original := orderingIDs(h.snapshot())

	require.NoError(t, h.c.ToggleShuffle())
	s := h.snapshot()
	assert.True(t, s.Shuffle)
	assert.ElementsMatch(t, original, orderingIDs(s))
	assert.Equal(t, "C", activeID(s))
	assert.Equal(t, "C", s.Ordering[s.ActiveIndex].ID)

	require.NoError(t, h.c.ToggleShuffle())
	s = h.snapshot()
	assert.False(t, s.Shuffle)
	assert.Equal(t, original, orderingIDs(s))
	assert.Equal(t, 2, s.ActiveIndex)
	assert.Equal(t, "C", activeID(s))
}

func TestController_Seek(t *testing.T) {
	h := newHarness(t, true, "A")

	// loading: no-op
	require.NoError(t, h.c.Seek(50))
	assert.Equal(t, time.Duration(0), h.snapshot().Position)

	h.ready()
	tests := []struct {
		percent float64
		want    time.Duration
	}{
		{percent: 50, want: 50 * time.Second},
		{percent: 150, want: 100 * time.Second},
		{percent: -5, want: 0},
	}
	for _, tt := range tests {
		require.NoError(t, h.c.Seek(tt.percent))
		s := h.snapshot()
		assert.Equal(t, tt.want, s.Position)
		assert.Equal(t, StatusPaused, s.Status)
	}

	require.NoError(t, h.c.Seek(25))
	assert.InDelta(t, 25, h.snapshot().PositionPercent(), 1e-9)
}

func TestController_PositionPollOnlyWhilePlaying(t *testing.T) {
	h := newHarness(t, true, "A")
	h.playing()

	pollState := func() (bool, uint64) {
		h.c.mu.Lock()
		defer h.c.mu.Unlock()
		return h.c.poll != nil, h.c.pollSeq
	}

	active, seq := pollState()
	require.True(t, active)

	h.mock.Add(DefaultPollInterval)
	require.Eventually(t, func() bool {
		h.c.pump()
		active, next := pollState()
		return active && next > seq
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.c.Pause())
	active, _ = pollState()
	assert.False(t, active)

	h.mock.Add(5 * DefaultPollInterval)
	h.c.pump()
	active, _ = pollState()
	assert.False(t, active)
}

func TestController_SnapshotsLatestWins(t *testing.T) {
	h := newHarness(t, true, "A", "B")

	// drain the initial snapshot
	select {
	case <-h.c.Snapshots():
	default:
	}

	require.NoError(t, h.c.ToggleRepeat())
	require.NoError(t, h.c.ToggleShuffle())

	select {
	case s := <-h.c.Snapshots():
		assert.True(t, s.Repeat)
		assert.True(t, s.Shuffle)
	default:
		t.Fatal("expected a snapshot")
	}

	select {
	case <-h.c.Snapshots():
		t.Fatal("expected only the latest snapshot")
	default:
	}
}

func TestController_Close(t *testing.T) {
	h := newHarness(t, false, "A")
	h.ready()
	assert.ErrorIs(t, h.c.Play(), unlock.ErrPending)

	h.c.Close()
	h.c.Close()

	for range h.c.Snapshots() {
	}
	assert.Empty(t, h.eng.Live())
	assert.False(t, h.gate.HasPending())
	assert.ErrorIs(t, h.c.Play(), ErrClosed)
	assert.ErrorIs(t, h.c.Next(), ErrClosed)
	assert.NoError(t, h.c.Run(context.Background()))

	lease := h.c.Duck(context.Background(), DefaultDuckVolume)
	lease.Release()
	assert.False(t, h.c.Ducked())
}

func TestController_Run(t *testing.T) {
	h := newHarness(t, true, "A")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.c.Run(ctx) }()

	h.eng.Last().Ready(time.Minute)
	require.Eventually(t, func() bool {
		return h.snapshot().Status == StatusPaused
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusIdle, "idle"},
		{StatusLoading, "loading"},
		{StatusPlaying, "playing"},
		{StatusPaused, "paused"},
		{StatusEnded, "ended"},
		{StatusError, "error"},
		{Status(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}
