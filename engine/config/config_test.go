package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	testCases := map[string]struct {
		input   string
		check   func(t *testing.T, cfg *Config)
		wantErr bool
	}{
		"empty keeps defaults": {
			input: "",
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, Default(), cfg)
			},
		},
		"overrides renderer": {
			input: `
[renderer]
vsync = false
bloom = false
shadow_resolution = 1024
frame_timeout = "500ms"
`,
			check: func(t *testing.T, cfg *Config) {
				require.False(t, cfg.Renderer.VSync)
				require.False(t, cfg.Renderer.Bloom)
				require.True(t, cfg.Renderer.SSAO)
				require.Equal(t, uint32(1024), cfg.Renderer.ShadowResolution)
				require.Equal(t, 500*time.Millisecond, cfg.Renderer.FrameTimeout.Duration)
			},
		},
		"clamps shadow slots": {
			input: `
[renderer]
max_shadow_slots = 9
`,
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, MaxShadowSlots, cfg.Renderer.MaxShadowSlots)
			},
		},
		"clamps shadow slots from below": {
			input: `
[renderer]
max_shadow_slots = 0
`,
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, 1, cfg.Renderer.MaxShadowSlots)
			},
		},
		"zero window": {
			input: `
[application]
width = 0
`,
			wantErr: true,
		},
		"bad duration": {
			input: `
[renderer]
present_timeout = "soon"
`,
			wantErr: true,
		},
		"target fps": {
			input: `
[application]
target_fps = 144.0
`,
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, 144.0, cfg.Application.TargetFPS)
			},
		},
		"negative target fps": {
			input: `
[application]
target_fps = -1.0
`,
			wantErr: true,
		},
		"negative timeout": {
			input: `
[renderer]
present_timeout = "-1s"
`,
			wantErr: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			err := Decode([]byte(tc.input), cfg)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tc.check(t, cfg)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kiln.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[application]
name = "testbed"

[log]
level = "debug"

[assets]
dir = "/tmp/assets"
hot_reload = true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "testbed", cfg.Application.Name)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "/tmp/assets", cfg.Assets.Dir)
	require.True(t, cfg.Assets.HotReload)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
