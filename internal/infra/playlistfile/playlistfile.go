// Package playlistfile loads the playlist from a YAML file.
package playlistfile

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/osa030/museumplayer/internal/domain/playlist"
	"github.com/osa030/museumplayer/internal/domain/track"
	"gopkg.in/yaml.v3"
)

// File is the on-disk playlist layout.
type File struct {
	ID       string      `yaml:"id" validate:"required"`
	Name     string      `yaml:"name"`
	IsActive *bool       `yaml:"is_active" default:"true"`
	Tracks   []FileTrack `yaml:"tracks" validate:"dive"`
}

// FileTrack is one track entry.
type FileTrack struct {
	ID          string `yaml:"id" validate:"required"`
	Title       string `yaml:"title" validate:"required"`
	Artist      string `yaml:"artist"`
	Album       string `yaml:"album"`
	Src         string `yaml:"src" validate:"required"`
	Cover       string `yaml:"cover"`
	DurationSec int    `yaml:"duration_sec" validate:"gte=0"`
	Description string `yaml:"description"`
}

// Load reads and validates the playlist at path.
func Load(path string) (playlist.Playlist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return playlist.Playlist{}, errors.Wrap(err, "failed to read playlist file")
	}
	return Parse(data)
}

// Parse decodes and validates a playlist document.
func Parse(data []byte) (playlist.Playlist, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return playlist.Playlist{}, errors.Wrap(err, "failed to parse playlist file")
	}
	if err := defaults.Set(&f); err != nil {
		return playlist.Playlist{}, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(&f); err != nil {
		return playlist.Playlist{}, errors.Wrap(err, "playlist validation failed")
	}

	pl := f.toDomain()
	if err := pl.Validate(); err != nil {
		return playlist.Playlist{}, errors.Wrapf(err, "playlist %s", pl.ID)
	}
	return pl, nil
}

func (f *File) toDomain() playlist.Playlist {
	tracks := make([]track.Track, 0, len(f.Tracks))
	for _, t := range f.Tracks {
		tracks = append(tracks, track.Track{
			ID:          t.ID,
			Title:       t.Title,
			Artist:      t.Artist,
			Album:       t.Album,
			SourceURI:   t.Src,
			CoverURI:    t.Cover,
			Duration:    time.Duration(t.DurationSec) * time.Second,
			Description: t.Description,
		})
	}
	return playlist.Playlist{
		ID:       f.ID,
		Name:     f.Name,
		Tracks:   tracks,
		IsActive: f.IsActive == nil || *f.IsActive,
	}
}
