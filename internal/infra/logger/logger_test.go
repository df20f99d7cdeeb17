package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), tt.in)
	}
}

func TestFromFlags(t *testing.T) {
	assert.Equal(t, Config{Output: "stdout", Level: "info"}, FromFlags(false, ""))
	assert.Equal(t, Config{Output: "/tmp/x.log", Level: "debug"}, FromFlags(true, "/tmp/x.log"))
}

func TestInit_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "player.log")
	require.NoError(t, Init(Config{Output: path, Level: "warn"}))
	t.Cleanup(func() { _ = Init(Config{Output: "stderr", Level: "info"}) })

	zlog.Info().Msg("dropped")
	zlog.Warn().Msg("kept")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), `"message":"kept"`)
	assert.Contains(t, string(data), `"level":"warn"`)
}

func TestInit_BadFile(t *testing.T) {
	err := Init(Config{Output: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	assert.Error(t, err)
}

func TestShortCaller(t *testing.T) {
	file := filepath.Join("root", "module", "internal", "app", "playback", "controller.go")
	assert.Equal(t, filepath.Join("playback", "controller.go")+":42", shortCaller(0, file, 42))
	assert.Equal(t, "main.go:7", shortCaller(0, "main.go", 7))
}
