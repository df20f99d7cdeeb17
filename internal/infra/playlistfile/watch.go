package playlistfile

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/osa030/museumplayer/internal/domain/playlist"
	zlog "github.com/rs/zerolog/log"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 200 * time.Millisecond

// Watch reloads the playlist at path whenever it changes on disk and passes
// every valid result to onChange. Invalid documents are logged and skipped.
// The debounce timer runs on clk. It blocks until ctx is done.
//
// The parent directory is watched rather than the file, so editors that save
// by rename keep being tracked.
func Watch(ctx context.Context, path string, clk clock.Clock, debounce time.Duration, onChange func(playlist.Playlist)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, "failed to resolve playlist path")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create watcher")
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return errors.Wrapf(err, "failed to watch %s", filepath.Dir(abs))
	}
	zlog.Info().Msgf("playlistfile: watching %s", abs)

	var (
		mu    sync.Mutex
		timer *clock.Timer
	)
	reload := func() {
		pl, err := Load(abs)
		if err != nil {
			zlog.Warn().Msgf("playlistfile: reload skipped: %v", err)
			return
		}
		zlog.Info().Msgf("playlistfile: reloaded: id=%s tracks=%d", pl.ID, len(pl.Tracks))
		onChange(pl)
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = clk.AfterFunc(debounce, reload)
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			zlog.Warn().Msgf("playlistfile: watch error: %v", err)
		}
	}
}
