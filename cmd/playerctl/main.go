// Package main provides the player remote control CLI.
package main

import (
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"

	"github.com/osa030/museumplayer/internal/api/ws"
)

var (
	app    = kingpin.New("museumplayer-ctl", "Museum player remote control")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").Envar("MUSEUM_SERVER_URL").String()
	origin = app.Flag("origin", "Origin header sent with the websocket handshake").String()

	playCmd    = app.Command("play", "Start playback")
	pauseCmd   = app.Command("pause", "Pause playback")
	nextCmd    = app.Command("next", "Skip to the next track")
	prevCmd    = app.Command("prev", "Go back to the previous track")
	shuffleCmd = app.Command("shuffle", "Toggle shuffle")
	repeatCmd  = app.Command("repeat", "Toggle repeat")
	muteCmd    = app.Command("mute", "Toggle mute")
	gestureCmd = app.Command("gesture", "Unlock audio output as a user gesture")

	seekCmd     = app.Command("seek", "Seek to a position")
	seekPercent = seekCmd.Arg("percent", "Position in percent (0-100)").Required().Float64()

	volumeCmd     = app.Command("volume", "Set the volume")
	volumePercent = volumeCmd.Arg("percent", "Volume in percent (0-100)").Required().Float64()

	selectCmd   = app.Command("select", "Select a track")
	selectIndex = selectCmd.Arg("index", "Index in the current ordering").Required().Int()

	duckCmd   = app.Command("duck", "Lower the volume until interrupted")
	duckLevel = duckCmd.Arg("level", "Duck level (0-1, default from server config)").Default("0").Float64()

	statusCmd   = app.Command("status", "Print the current state")
	statusQueue = statusCmd.Flag("queue", "Also print the current ordering").Short('q').Bool()

	watchCmd = app.Command("watch", "Print every state change")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	conn, err := dial(*server, *origin)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	// The server pushes the current state right after connecting.
	initial, err := readMessage(conn)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	switch command {
	case statusCmd.FullCommand():
		printSnapshot(initial)
		if *statusQueue {
			printQueue(initial.Snapshot)
		}
	case watchCmd.FullCommand():
		printSnapshot(initial)
		watch(conn)
	case duckCmd.FullCommand():
		run(conn, ws.Request{Cmd: "duck", Value: *duckLevel})
		fmt.Println("Ducked. Press Ctrl+C to restore the volume.")
		waitForSignal()
	case seekCmd.FullCommand():
		run(conn, ws.Request{Cmd: "seek", Value: *seekPercent})
	case volumeCmd.FullCommand():
		run(conn, ws.Request{Cmd: "volume", Value: *volumePercent})
	case selectCmd.FullCommand():
		run(conn, ws.Request{Cmd: "select", Value: float64(*selectIndex)})
	case playCmd.FullCommand(), pauseCmd.FullCommand(), nextCmd.FullCommand(), prevCmd.FullCommand(),
		shuffleCmd.FullCommand(), repeatCmd.FullCommand(), muteCmd.FullCommand(), gestureCmd.FullCommand():
		run(conn, ws.Request{Cmd: command})
	}
}

func dial(server, origin string) (*websocket.Conn, error) {
	u, err := url.Parse(server)
	if err != nil {
		return nil, errors.Wrap(err, "invalid server address")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"

	header := make(map[string][]string)
	if origin != "" {
		header["Origin"] = []string{origin}
	}

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(u.String(), header)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", u.String())
	}
	return conn, nil
}

// frame holds either a snapshot message or a command reply.
type frame struct {
	ws.Message
	ws.Reply
}

func readMessage(conn *websocket.Conn) (ws.Message, error) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return ws.Message{}, errors.Wrap(err, "failed to read from server")
		}
		if f.Reply.Cmd == "" {
			return f.Message, nil
		}
	}
}

func run(conn *websocket.Conn, req ws.Request) {
	if err := conn.WriteJSON(req); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		if f.Reply.Cmd != req.Cmd {
			continue
		}

		switch {
		case f.Reply.Pending:
			fmt.Println("Pending: playback starts on the first user gesture")
		case f.Reply.OK:
			fmt.Println("OK")
		default:
			fmt.Printf("Rejected: %s\n", f.Reply.Error)
			os.Exit(1)
		}
		_ = conn.SetReadDeadline(time.Time{})
		return
	}
}

func watch(conn *websocket.Conn) {
	fmt.Println("Watching player state. Press Ctrl+C to exit.")

	go func() {
		waitForSignal()
		fmt.Println("\nDisconnecting...")
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		os.Exit(0)
	}()

	for {
		msg, err := readMessage(conn)
		if err != nil {
			fmt.Printf("Stream error: %v\n", err)
			return
		}
		printSnapshot(msg)
	}
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

func formatStatus(status string) string {
	switch status {
	case "playing":
		return "▶️  Playing"
	case "paused":
		return "⏸  Paused"
	case "loading":
		return "⏳ Loading"
	case "ended":
		return "⏹  Ended"
	case "error":
		return "⚠️  Error"
	case "idle":
		return "💤 Idle"
	default:
		return "❓ Unknown"
	}
}

func formatClock(sec float64) string {
	d := time.Duration(sec) * time.Second
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func printSnapshot(msg ws.Message) {
	s := msg.Snapshot
	fmt.Printf("\n[Sequence: %d] %s\n", msg.Seq, formatStatus(s.Status))

	if s.ActiveTrack != nil {
		t := s.ActiveTrack
		fmt.Printf("  Track %d/%d: %s\n", s.ActiveIndex+1, len(s.Ordering), t.DisplayName)
		if t.Description != "" {
			fmt.Printf("  %s\n", t.Description)
		}
		fmt.Printf("  Position: %s / %s (%.0f%%)\n", formatClock(s.PositionSec), formatClock(s.DurationSec), s.PositionPercent)
	}
	fmt.Printf("  Volume: %.0f%%", s.Volume*100)
	if s.Ducked {
		fmt.Print(" (ducked)")
	}
	fmt.Println()
	fmt.Printf("  Shuffle: %v  Repeat: %v  Audio unlocked: %v\n", s.Shuffle, s.Repeat, s.AudioUnlocked)
	if s.Reason != "" {
		fmt.Printf("  Reason: %s\n", s.Reason)
	}
}

// printQueue renders the effective ordering, marking the active track.
func printQueue(s ws.Snapshot) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"", "#", "Title", "Artist", "Length"})

	for i, tr := range s.Ordering {
		marker := ""
		if i == s.ActiveIndex {
			marker = "▶"
		}
		t.AppendRow(table.Row{marker, i, tr.Title, tr.Artist, formatClock(tr.DurationSec)})
	}
	t.Render()
}
