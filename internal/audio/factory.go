package audio

import (
	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"
)

// Backends lists the supported backend names.
var Backends = []string{"beep", "null"}

// BeepSettings configures the speaker backend.
type BeepSettings struct {
	MediaRoot  string `mapstructure:"media_root" default:"./public" validate:"required"`
	SampleRate int    `mapstructure:"sample_rate" default:"44100" validate:"gte=8000,lte=192000"`
	BufferMs   int    `mapstructure:"buffer_ms" default:"100" validate:"gte=10,lte=1000"`
}

// NullSettings configures the silent backend.
type NullSettings struct {
	DefaultDurationSec int `mapstructure:"default_duration_sec" default:"180" validate:"gt=0"`
	LoadDelayMs        int `mapstructure:"load_delay_ms" default:"50" validate:"gte=0"`
}

// NewEngine creates the engine for the configured backend.
func NewEngine(backend string, settings map[string]any, clk clock.Clock) (Engine, error) {
	zlog.Debug().Msgf("audio: creating engine: backend=%s settings=%+v", backend, settings)

	switch backend {
	case "beep":
		var cfg BeepSettings
		if err := decodeSettings(settings, &cfg); err != nil {
			return nil, errors.Wrap(err, "beep settings")
		}
		engine, err := NewBeepEngine(cfg)
		if err != nil {
			return nil, err
		}
		return engine, nil

	case "null":
		var cfg NullSettings
		if err := decodeSettings(settings, &cfg); err != nil {
			return nil, errors.Wrap(err, "null settings")
		}
		return NewNullEngine(cfg, clk), nil

	default:
		return nil, errors.Newf("unsupported audio backend: %s", backend)
	}
}

func decodeSettings(settings map[string]any, out any) error {
	if err := mapstructure.Decode(settings, out); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(out); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(out); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	return nil
}
