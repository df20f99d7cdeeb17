// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/museumplayer/internal/api/ws"
	"github.com/osa030/museumplayer/internal/app/session"
	"github.com/osa030/museumplayer/internal/audio"
	"github.com/osa030/museumplayer/internal/domain/playlist"
	"github.com/osa030/museumplayer/internal/infra/config"
	"github.com/osa030/museumplayer/internal/infra/logger"
	"github.com/osa030/museumplayer/internal/infra/playlistfile"
)

var (
	app        = kingpin.New("museumplayer-server", "Museum background music player")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// list-backends command
	listBackendsCmd = app.Command("list-backends", "List available audio backends and exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listBackendsCmd.FullCommand() {
		printBackends()
		return
	}

	if err := logger.Init(logger.FromFlags(*verbose, *logfile)); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	zlog.Info().Msgf("Loading playlist from %s", cfg.Playlist.Path)
	pl, err := playlistfile.Load(cfg.Playlist.Path)
	if err != nil {
		return errors.Wrap(err, "failed to load playlist")
	}
	if !pl.IsActive {
		zlog.Warn().Msgf("Playlist %s is marked inactive", pl.ID)
	}

	// The engine owns the output device for the whole process lifetime.
	clk := clock.New()
	engine, err := audio.NewEngine(cfg.Audio.Backend, cfg.Audio.Settings, clk)
	if err != nil {
		return errors.Wrap(err, "failed to create audio engine")
	}
	defer func() {
		if err := engine.Close(); err != nil {
			zlog.Warn().Msgf("Failed to close audio engine: %v", err)
		}
	}()

	ctx := context.Background()
	sessionMgr := session.NewManager(cfg, engine, pl, clk)
	if err := sessionMgr.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start session")
	}

	if cfg.Playlist.Watch {
		watchCtx, stopWatch := context.WithCancel(ctx)
		defer stopWatch()
		go func() {
			err := playlistfile.Watch(watchCtx, cfg.Playlist.Path, clk, 0, func(next playlist.Playlist) {
				if err := sessionMgr.Reload(next); err != nil {
					zlog.Warn().Msgf("Failed to reload playlist: %v", err)
				}
			})
			if err != nil {
				zlog.Error().Msgf("Playlist watcher stopped: %v", err)
			}
		}()
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           ws.NewMux(ws.NewHandler(sessionMgr, cfg)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to capture server startup errors
	serverErrCh := make(chan error, 1)
	serverStartedCh := make(chan struct{})

	go func() {
		zlog.Info().Msgf("Starting server: addr=%s backend=%s tracks=%d total=%v",
			cfg.Server.Addr, cfg.Audio.Backend, len(pl.Tracks), pl.TotalDuration())
		close(serverStartedCh)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	<-serverStartedCh
	// Give the server a moment to fully initialize
	time.Sleep(100 * time.Millisecond)

	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case <-sessionMgr.Done():
		zlog.Info().Msg("Session ended, shutting down...")
	case err := <-serverErrCh:
		runErr = errors.Wrap(err, "server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Close the session first to terminate active websocket connections
	sessionMgr.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")

	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return runErr
}

// printBackends prints available audio backends.
func printBackends() {
	fmt.Println("Available Audio Backends:")
	for _, name := range audio.Backends {
		if name == "beep" && !audio.BeepAvailable {
			fmt.Printf("  %-6s - not compiled in (needs cgo)\n", name)
			continue
		}
		fmt.Printf("  %s\n", name)
	}
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
