package assets

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/kiln/engine/assets/loaders"
	"github.com/spaghettifunk/kiln/engine/config"
	"github.com/spaghettifunk/kiln/engine/core"
)

var spirv = []byte{0x03, 0x02, 0x23, 0x07, 0x2a, 0, 0, 0}

func writeTree(t *testing.T, files map[string][]byte) string {
	t.Helper()
	dir := t.TempDir()
	for name, data := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, data, 0o644))
	}
	return dir
}

func TestDetermineAssetType(t *testing.T) {
	testCases := map[string]loaders.ResourceType{
		"shaders/mesh.vert.spv": loaders.ResourceTypeShader,
		"textures/brick.png":    loaders.ResourceTypeImage,
		"textures/brick.jpeg":   loaders.ResourceTypeImage,
		"textures/sky.webp":     loaders.ResourceTypeImage,
		"materials/brick.kmt":   loaders.ResourceTypeMaterial,
		"shaders/mesh.vert":     loaders.ResourceTypeNone,
		"README":                loaders.ResourceTypeNone,
	}
	for path, want := range testCases {
		t.Run(path, func(t *testing.T) {
			require.Equal(t, want, determineAssetType(path))
		})
	}
}

func TestAssetManagerIndexAndLoad(t *testing.T) {
	dir := writeTree(t, map[string][]byte{
		"shaders/mesh.vert.spv": spirv,
		"shaders/mesh.vert":     []byte("#version 450"),
		"materials/floor.kmt":   []byte(`name = "floor"`),
		"notes.txt":             []byte("ignored"),
	})
	am, err := NewAssetManager(config.Assets{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, am.Initialize())
	defer func() { require.NoError(t, am.Shutdown()) }()

	require.Equal(t, []string{am.Path("shaders", "mesh.vert.spv")}, am.Assets(loaders.ResourceTypeShader))
	require.Equal(t, []string{am.Path("materials", "floor.kmt")}, am.Assets(loaders.ResourceTypeMaterial))

	code, err := am.LoadShader(am.Path("shaders", "mesh.vert.spv"))
	require.NoError(t, err)
	require.Equal(t, []uint32{0x07230203, 42}, code)

	_, err = am.LoadShader(am.Path("materials", "floor.kmt"))
	require.Error(t, err)

	_, err = am.LoadAsset(am.Path("notes.txt"))
	require.Error(t, err)
}

func TestAssetManagerShutdownTwice(t *testing.T) {
	am, err := NewAssetManager(config.Assets{Dir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, am.Initialize())
	require.NoError(t, am.Shutdown())
	require.ErrorIs(t, am.Shutdown(), ErrClosed)
}

func TestAssetManagerDrain(t *testing.T) {
	require.True(t, core.EventSystemInitialize())
	defer core.EventSystemShutdown()

	var got []string
	core.EventRegister(core.EVENT_CODE_ASSET_CHANGED, func(ctx core.EventContext) bool {
		got = append(got, ctx.Path)
		return true
	})

	am, err := NewAssetManager(config.Assets{Dir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, am.Initialize())
	defer am.Shutdown()

	require.Equal(t, 0, am.Drain())

	// The same file changing twice before a drain is reported once.
	for _, path := range []string{"b.spv", "a.spv", "b.spv"} {
		require.True(t, am.handleFileEvent(path))
		am.markChanged(path)
	}
	require.Equal(t, 2, am.Drain())
	require.Equal(t, []string{"a.spv", "b.spv"}, got)
	require.Equal(t, 0, am.Drain())

	require.False(t, am.handleFileEvent("shader.glsl"))
	am.markChanged("gone.spv")
	am.removeAsset("gone.spv")
	require.Equal(t, 0, am.Drain())
}

func TestAssetManagerHotReload(t *testing.T) {
	require.True(t, core.EventSystemInitialize())
	defer core.EventSystemShutdown()

	var mu sync.Mutex
	var got []string
	core.EventRegister(core.EVENT_CODE_ASSET_CHANGED, func(ctx core.EventContext) bool {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ctx.Path)
		return true
	})

	dir := writeTree(t, map[string][]byte{"shaders/post.frag.spv": spirv})
	am, err := NewAssetManager(config.Assets{Dir: dir, HotReload: true})
	require.NoError(t, err)
	require.NoError(t, am.Initialize())
	defer func() { require.NoError(t, am.Shutdown()) }()

	path := am.Path("shaders", "post.frag.spv")
	require.NoError(t, os.WriteFile(path, spirv, 0o644))

	require.Eventually(t, func() bool {
		am.Drain()
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, path, got[0])
}
