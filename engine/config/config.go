// Package config loads the engine configuration from TOML.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
)

const MaxShadowSlots = 4

// Duration wraps time.Duration so it can be written as "2s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", string(text))
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Application struct {
	Name   string `toml:"name"`
	PosX   uint32 `toml:"pos_x"`
	PosY   uint32 `toml:"pos_y"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
	// TargetFPS caps the frame rate when vsync does not. Zero disables the
	// limiter.
	TargetFPS float64 `toml:"target_fps"`
}

type Log struct {
	Level string `toml:"level"`
}

type Renderer struct {
	// Debug enables validation layers and the debug report callback.
	Debug bool `toml:"debug"`
	// Strict turns recording precondition violations into errors instead of
	// logged warnings.
	Strict           bool     `toml:"strict"`
	VSync            bool     `toml:"vsync"`
	Bloom            bool     `toml:"bloom"`
	SSAO             bool     `toml:"ssao"`
	ShadowResolution uint32   `toml:"shadow_resolution"`
	MaxShadowSlots   int      `toml:"max_shadow_slots"`
	MaxLights        int      `toml:"max_lights"`
	MaxDrawCalls     int      `toml:"max_draw_calls"`
	ScratchSize      uint64   `toml:"scratch_initial_size"`
	FrameTimeout     Duration `toml:"frame_timeout"`
	PresentTimeout   Duration `toml:"present_timeout"`
}

type Assets struct {
	Dir       string `toml:"dir"`
	HotReload bool   `toml:"hot_reload"`
}

type Config struct {
	Application Application `toml:"application"`
	Log         Log         `toml:"log"`
	Renderer    Renderer    `toml:"renderer"`
	Assets      Assets      `toml:"assets"`
}

func Default() *Config {
	return &Config{
		Application: Application{
			Name:   "Kiln",
			PosX:   100,
			PosY:   100,
			Width:  1280,
			Height: 720,
		},
		Log: Log{Level: "info"},
		Renderer: Renderer{
			VSync:            true,
			Bloom:            true,
			SSAO:             true,
			ShadowResolution: 2048,
			MaxShadowSlots:   MaxShadowSlots,
			MaxLights:        64,
			MaxDrawCalls:     4096,
			ScratchSize:      64 * 1024,
			FrameTimeout:     Duration{2 * time.Second},
			PresentTimeout:   Duration{2 * time.Second},
		},
		Assets: Assets{
			Dir:       "assets",
			HotReload: false,
		},
	}
}

// Load overlays the TOML file at path on top of Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	if err := Decode(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	return cfg, nil
}

// Decode overlays data on cfg and validates the result.
func Decode(data []byte, cfg *Config) error {
	if err := toml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return cfg.Validate()
}

// Validate rejects unusable values and clamps the soft limits.
func (c *Config) Validate() error {
	if c.Application.Width == 0 || c.Application.Height == 0 {
		return errors.Newf("window size %dx%d must be non-zero", c.Application.Width, c.Application.Height)
	}
	if c.Application.TargetFPS < 0 {
		return errors.Newf("target_fps %v must not be negative", c.Application.TargetFPS)
	}
	if c.Renderer.MaxShadowSlots < 1 {
		c.Renderer.MaxShadowSlots = 1
	}
	if c.Renderer.MaxShadowSlots > MaxShadowSlots {
		c.Renderer.MaxShadowSlots = MaxShadowSlots
	}
	if c.Renderer.ShadowResolution == 0 {
		return errors.New("shadow_resolution must be non-zero")
	}
	if c.Renderer.MaxLights < 1 || c.Renderer.MaxDrawCalls < 1 {
		return errors.Newf("max_lights (%d) and max_draw_calls (%d) must be positive", c.Renderer.MaxLights, c.Renderer.MaxDrawCalls)
	}
	if c.Renderer.FrameTimeout.Duration <= 0 || c.Renderer.PresentTimeout.Duration <= 0 {
		return errors.New("frame_timeout and present_timeout must be positive")
	}
	return nil
}

func (c *Config) String() string {
	b, err := toml.Marshal(c)
	if err != nil {
		return err.Error()
	}
	return string(b)
}
