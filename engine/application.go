package engine

import (
	"github.com/spaghettifunk/kiln/engine/config"
)

type ApplicationConfig struct {
	// Window starting position x axis, if applicable.
	StartPosX uint32
	// Window starting position y axis, if applicable.
	StartPosY uint32
	// Window starting width, if applicable.
	StartWidth uint32
	// Window starting height, if applicable.
	StartHeight uint32
	// The application name used in windowing, if applicable.
	Name     string
	LogLevel string
	// Target frame rate of the frame limiter. Zero disables it.
	TargetFPS float64
	Renderer  config.Renderer
	Assets    config.Assets
}

// NewApplicationConfig fills the application settings from the engine
// configuration.
func NewApplicationConfig(cfg *config.Config) *ApplicationConfig {
	return &ApplicationConfig{
		StartPosX:   cfg.Application.PosX,
		StartPosY:   cfg.Application.PosY,
		StartWidth:  cfg.Application.Width,
		StartHeight: cfg.Application.Height,
		Name:        cfg.Application.Name,
		LogLevel:    cfg.Log.Level,
		TargetFPS:   cfg.Application.TargetFPS,
		Renderer:    cfg.Renderer,
		Assets:      cfg.Assets,
	}
}
