package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrack_Validate(t *testing.T) {
	tests := []struct {
		name    string
		track   Track
		wantErr string
	}{
		{
			name: "valid track",
			track: Track{
				ID:        "1",
				Title:     "Quando Bate Aquela Saudade",
				Artist:    "Rubel",
				SourceURI: "/music/playlist/saudade.mp3",
				Duration:  5 * time.Minute,
			},
		},
		{
			name:    "empty ID",
			track:   Track{SourceURI: "/music/a.mp3"},
			wantErr: "id is required",
		},
		{
			name:    "empty source",
			track:   Track{ID: "2"},
			wantErr: "source is required",
		},
		{
			name:    "negative duration",
			track:   Track{ID: "3", SourceURI: "/music/a.mp3", Duration: -time.Second},
			wantErr: "negative duration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.track.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestTrack_DisplayName(t *testing.T) {
	withArtist := Track{Title: "Saudade", Artist: "Rubel"}
	assert.Equal(t, "Rubel - Saudade", withArtist.DisplayName())

	titleOnly := Track{Title: "Saudade"}
	assert.Equal(t, "Saudade", titleOnly.DisplayName())
}
