// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Player   PlayerConfig   `yaml:"player"`
	Audio    AudioConfig    `yaml:"audio"`
	Playlist PlaylistConfig `yaml:"playlist"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr           string      `yaml:"addr" default:":8080"`
	AllowedOrigins []string    `yaml:"allowed_origins"`
	Hooks          HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// PlayerConfig represents playback controller configuration.
type PlayerConfig struct {
	InitialVolume  float64 `yaml:"initial_volume" default:"0.7" validate:"gte=0,lte=1"`
	DuckVolume     float64 `yaml:"duck_volume" default:"0.24" validate:"gte=0,lte=1"`
	LoadTimeoutMs  int     `yaml:"load_timeout_ms" default:"5000" validate:"gte=100,lte=60000"`
	PollIntervalMs int     `yaml:"poll_interval_ms" default:"1000" validate:"gte=100,lte=10000"`
	// AutoUnlock skips the user gesture requirement, for hosts that drive a
	// local speaker without a browser in front.
	AutoUnlock bool `yaml:"auto_unlock"`
}

// AudioConfig represents the audio engine configuration.
type AudioConfig struct {
	Backend  string         `yaml:"backend" default:"null" validate:"oneof=beep null"`
	Settings map[string]any `yaml:"settings"`
}

// PlaylistConfig represents the playlist source.
type PlaylistConfig struct {
	Path string `yaml:"path" validate:"required"`
	// Watch remounts the playlist when the file changes.
	Watch bool `yaml:"watch"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("MUSEUM_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("MUSEUM_AUDIO_BACKEND"); v != "" {
		c.Audio.Backend = v
	}
	if v := os.Getenv("MUSEUM_PLAYLIST_PATH"); v != "" {
		c.Playlist.Path = v
	}
	if v := os.Getenv("MUSEUM_MEDIA_ROOT"); v != "" {
		if c.Audio.Settings == nil {
			c.Audio.Settings = make(map[string]any)
		}
		c.Audio.Settings["media_root"] = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// LoadTimeout returns the track load watchdog duration.
func (c *Config) LoadTimeout() time.Duration {
	return time.Duration(c.Player.LoadTimeoutMs) * time.Millisecond
}

// PollInterval returns the position poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Player.PollIntervalMs) * time.Millisecond
}

// IsOriginAllowed checks if a websocket origin may connect. An empty list
// allows every origin.
func (c *Config) IsOriginAllowed(origin string) bool {
	if len(c.Server.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range c.Server.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}
