package ws

import (
	"github.com/osa030/museumplayer/internal/app/loader"
	"github.com/osa030/museumplayer/internal/app/notification"
	"github.com/osa030/museumplayer/internal/app/playback"
	"github.com/osa030/museumplayer/internal/domain/track"
)

// Message is pushed to the client on every state change.
type Message struct {
	Seq      uint64   `json:"seq"`
	Snapshot Snapshot `json:"snapshot"`
}

// Snapshot is the wire form of playback.Snapshot.
type Snapshot struct {
	Status          string  `json:"status"`
	ActiveTrack     *Track  `json:"active_track,omitempty"`
	ActiveIndex     int     `json:"active_index"`
	PositionSec     float64 `json:"position_sec"`
	DurationSec     float64 `json:"duration_sec"`
	PositionPercent float64 `json:"position_percent"`
	Volume          float64 `json:"volume"`
	Shuffle         bool    `json:"shuffle"`
	Repeat          bool    `json:"repeat"`
	Ordering        []Track `json:"ordering"`
	AudioUnlocked   bool    `json:"audio_unlocked"`
	Reason          string  `json:"reason,omitempty"`
	Ducked          bool    `json:"ducked"`
}

// Track is the wire form of track.Track. Src is percent-encoded.
type Track struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	DisplayName string  `json:"display_name"`
	Artist      string  `json:"artist,omitempty"`
	Album       string  `json:"album,omitempty"`
	Src         string  `json:"src"`
	Cover       string  `json:"cover,omitempty"`
	DurationSec float64 `json:"duration_sec"`
	Description string  `json:"description,omitempty"`
}

// Request is a client command.
type Request struct {
	Cmd   string  `json:"cmd"`
	Value float64 `json:"value"`
}

// Reply answers one Request.
type Reply struct {
	Cmd     string `json:"cmd"`
	OK      bool   `json:"ok"`
	Pending bool   `json:"pending,omitempty"`
	Error   string `json:"error,omitempty"`
}

func newMessage(msg *notification.Message) Message {
	return Message{Seq: msg.SequenceNo, Snapshot: newSnapshot(msg.Snapshot)}
}

func newSnapshot(s playback.Snapshot) Snapshot {
	out := Snapshot{
		Status:          s.Status.String(),
		ActiveIndex:     s.ActiveIndex,
		PositionSec:     s.Position.Seconds(),
		DurationSec:     s.Duration.Seconds(),
		PositionPercent: s.PositionPercent(),
		Volume:          s.Volume,
		Shuffle:         s.Shuffle,
		Repeat:          s.Repeat,
		Ordering:        make([]Track, 0, len(s.Ordering)),
		AudioUnlocked:   s.AudioUnlocked,
		Reason:          s.Reason,
		Ducked:          s.Ducked,
	}
	if s.ActiveTrack != nil {
		t := newTrack(*s.ActiveTrack)
		out.ActiveTrack = &t
	}
	for _, t := range s.Ordering {
		out.Ordering = append(out.Ordering, newTrack(t))
	}
	return out
}

func newTrack(t track.Track) Track {
	return Track{
		ID:          t.ID,
		Title:       t.Title,
		DisplayName: t.DisplayName(),
		Artist:      t.Artist,
		Album:       t.Album,
		Src:         loader.EncodeSource(t.SourceURI),
		Cover:       loader.EncodeSource(t.CoverURI),
		DurationSec: t.Duration.Seconds(),
		Description: t.Description,
	}
}
