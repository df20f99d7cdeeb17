package playback

import (
	"context"
	"sync"

	"github.com/osa030/museumplayer/internal/audio"
	zlog "github.com/rs/zerolog/log"
)

// Lease holds the output volume lowered until it is released.
type Lease struct {
	c    *Controller
	once sync.Once
	stop func() bool // detaches the context hook
}

// Duck lowers the output volume to level until the returned lease is
// released or ctx ends. The first lease saves the user volume and the last
// release restores it; nested leases keep the first level.
func (c *Controller) Duck(ctx context.Context, level float64) *Lease {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	l := &Lease{c: c}
	if c.closed {
		l.once.Do(func() {})
		return l
	}

	if len(c.leases) == 0 {
		level = audio.ClampVolume(level)
		c.loader.SetVolume(level)
		zlog.Debug().Msgf("playback: volume ducked: level=%.2f saved=%.2f", level, c.volume)
	}
	c.leases[l] = struct{}{}
	l.stop = context.AfterFunc(ctx, l.Release)
	c.publishLocked()
	return l
}

// Release gives the lease back. It is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.c.releaseLease(l)
	})
}

func (c *Controller) releaseLease(l *Lease) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l.stop != nil {
		l.stop()
	}
	if _, ok := c.leases[l]; !ok {
		return
	}
	delete(c.leases, l)
	if len(c.leases) > 0 || c.closed {
		return
	}

	c.loader.SetVolume(c.volume)
	zlog.Debug().Msgf("playback: volume restored: level=%.2f", c.volume)
	c.publishLocked()
}

// Ducked reports whether any lease is held.
func (c *Controller) Ducked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.leases) > 0
}
