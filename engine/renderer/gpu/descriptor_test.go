package gpu

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
	"github.com/spaghettifunk/kiln/engine/renderer/driver/drivertest"
)

func testTexture(t *testing.T, ctx *Context, name string) *ImageView {
	t.Helper()
	img, err := CreateImage(ctx, ImageConfig{
		Name: name, Width: 4, Height: 4, Format: driver.FormatR8G8B8A8Unorm, Usage: driver.ImageUsageSampled,
	}, MemoryCriteria{DeviceLocal: Preferred}, false)
	require.NoError(t, err)
	view, err := img.CreateView()
	require.NoError(t, err)
	t.Cleanup(func() {
		view.Destroy()
		img.Destroy()
	})
	return view
}

func testSampler(t *testing.T, ctx *Context) *Sampler {
	t.Helper()
	s, err := NewSampler(ctx, driver.SamplerCreateInfo{})
	require.NoError(t, err)
	t.Cleanup(s.Destroy)
	return s
}

func newScenePool(t *testing.T, ctx *Context, sets int) *DescriptorPool {
	t.Helper()
	layout, err := NewDescriptorLayout(ctx, SceneBindings())
	require.NoError(t, err)
	pool, err := NewDescriptorPool(ctx, layout, sets)
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Destroy()
		layout.Destroy()
	})
	return pool
}

func TestDescriptorPoolUpdateIsIdempotent(t *testing.T) {
	ctx, dev := newTestContext(t, true)
	pool := newScenePool(t, ctx, 3)
	require.Equal(t, 3, pool.Len())

	uniforms := hostBuffer(t, ctx, 1024, driver.BufferUsageUniform)
	defer uniforms.Destroy()
	other := hostBuffer(t, ctx, 1024, driver.BufferUsageUniform)
	defer other.Destroy()

	require.NoError(t, pool.UpdateBuffer(1, BindingSceneUniforms, 0, uniforms, 0, 256))
	require.Equal(t, 1, dev.DescriptorUpdateCalls())
	require.Equal(t, 1, dev.DescriptorWrites())

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.UpdateBuffer(1, BindingSceneUniforms, 0, uniforms, 0, 256))
	}
	require.Equal(t, 1, dev.DescriptorUpdateCalls())

	// a different set is a different slot
	require.NoError(t, pool.UpdateBuffer(0, BindingSceneUniforms, 0, uniforms, 0, 256))
	require.Equal(t, 2, dev.DescriptorUpdateCalls())

	// a new range or a new buffer rewrites the slot
	require.NoError(t, pool.UpdateBuffer(1, BindingSceneUniforms, 0, uniforms, 256, 256))
	require.NoError(t, pool.UpdateBuffer(1, BindingSceneUniforms, 0, other, 256, 256))
	require.Equal(t, 4, dev.DescriptorUpdateCalls())

	w, ok := dev.Descriptor(pool.Set(1), BindingSceneUniforms, 0)
	require.True(t, ok)
	require.Equal(t, other.Handle(), w.Buffer)
	require.Equal(t, uint64(256), w.Offset)
	require.Equal(t, ResourceRef{Buffer: other.Handle(), Offset: 256, Range: 256}, pool.Cached(1, BindingSceneUniforms, 0))

	// swapping back writes again
	require.NoError(t, pool.UpdateBuffer(1, BindingSceneUniforms, 0, uniforms, 256, 256))
	require.Equal(t, 5, dev.DescriptorUpdateCalls())
	requireNoViolations(t, dev)
}

func TestDescriptorPoolWholeBufferRange(t *testing.T) {
	ctx, dev := newTestContext(t, true)
	pool := newScenePool(t, ctx, 1)

	storage := hostBuffer(t, ctx, 4096, driver.BufferUsageStorage)
	defer storage.Destroy()

	require.NoError(t, pool.UpdateBuffer(0, BindingDrawStorage, 0, storage, 1024, 0))
	w, ok := dev.Descriptor(pool.Set(0), BindingDrawStorage, 0)
	require.True(t, ok)
	require.Equal(t, uint64(3072), w.Range)
	require.Equal(t, driver.DescriptorStorageBuffer, w.Type)
}

func TestDescriptorPoolImageUpdates(t *testing.T) {
	ctx, dev := newTestContext(t, true)
	pool := newScenePool(t, ctx, 2)
	a := testTexture(t, ctx, "a")
	b := testTexture(t, ctx, "b")
	sampler := testSampler(t, ctx)

	require.NoError(t, pool.UpdateImage(0, BindingShadowMaps, 2, a, sampler, driver.ImageLayoutDepthStencilReadOnly))
	require.NoError(t, pool.UpdateImage(0, BindingShadowMaps, 2, a, sampler, driver.ImageLayoutDepthStencilReadOnly))
	require.Equal(t, 1, dev.DescriptorUpdateCalls())

	require.NoError(t, pool.UpdateImage(0, BindingShadowMaps, 2, a, sampler, driver.ImageLayoutShaderReadOnly))
	require.NoError(t, pool.UpdateImage(0, BindingShadowMaps, 2, b, sampler, driver.ImageLayoutShaderReadOnly))
	require.Equal(t, 3, dev.DescriptorUpdateCalls())

	w, ok := dev.Descriptor(pool.Set(0), BindingShadowMaps, 2)
	require.True(t, ok)
	require.Equal(t, b.Handle(), w.View)
	require.Equal(t, driver.ImageLayoutShaderReadOnly, w.Layout)
}

func TestDescriptorPoolRejectsBadSlots(t *testing.T) {
	ctx, dev := newTestContext(t, true)
	pool := newScenePool(t, ctx, 1)
	buf := hostBuffer(t, ctx, 256, driver.BufferUsageUniform)
	defer buf.Destroy()
	view := testTexture(t, ctx, "a")
	sampler := testSampler(t, ctx)

	testCases := map[string]func() error{
		"set out of range": func() error {
			return pool.UpdateBuffer(1, BindingSceneUniforms, 0, buf, 0, 0)
		},
		"binding out of range": func() error {
			return pool.UpdateBuffer(0, 9, 0, buf, 0, 0)
		},
		"element out of range": func() error {
			return pool.UpdateImage(0, BindingShadowMaps, MaxShadowMaps, view, sampler, driver.ImageLayoutShaderReadOnly)
		},
		"buffer into an image binding": func() error {
			return pool.UpdateBuffer(0, BindingAmbientOcclusion, 0, buf, 0, 0)
		},
		"image into a buffer binding": func() error {
			return pool.UpdateImage(0, BindingSceneUniforms, 0, view, sampler, driver.ImageLayoutShaderReadOnly)
		},
	}
	for testName, update := range testCases {
		t.Run(testName, func(t *testing.T) {
			require.True(t, core.IsPrecondition(update()))
		})
	}
	require.Equal(t, 0, dev.DescriptorUpdateCalls())
}

func TestDescriptorLayoutBindingOrder(t *testing.T) {
	ctx, dev := newTestContext(t, true)
	bindings := FullscreenBindings()
	bindings[0], bindings[1] = bindings[1], bindings[0]

	_, err := NewDescriptorLayout(ctx, bindings)
	require.True(t, core.IsPrecondition(err))
	require.Equal(t, 0, dev.Live(drivertest.KindDescriptorSetLayout))
}

func TestTextureTable(t *testing.T) {
	ctx, dev := newTestContext(t, true)
	sampler := testSampler(t, ctx)
	def := testTexture(t, ctx, "default")
	albedo := testTexture(t, ctx, "albedo")
	normal := testTexture(t, ctx, "normal")
	rough := testTexture(t, ctx, "rough")

	table := NewTextureTable(ctx, 3, def, sampler)
	require.Equal(t, 1, table.Len())

	a := table.Acquire(albedo, sampler)
	require.Equal(t, 1, a)
	require.Equal(t, a, table.Acquire(albedo, sampler))
	n := table.Acquire(normal, sampler)
	require.Equal(t, 2, n)
	require.Equal(t, 0, table.Acquire(def, sampler))

	// full: falls back to the default texture
	require.Equal(t, 0, table.Acquire(rough, sampler))
	require.Equal(t, 3, table.Len())

	pool := newScenePool(t, ctx, 1)
	require.NoError(t, table.Apply(pool, 0))
	w, ok := dev.Descriptor(pool.Set(0), BindingMaterialTextures, 2)
	require.True(t, ok)
	require.Equal(t, normal.Handle(), w.View)

	// albedo was acquired twice
	table.Release(a)
	require.Equal(t, 3, table.Len())
	table.Release(a)
	require.Equal(t, 2, table.Len())

	require.NoError(t, table.Apply(pool, 0))
	w, ok = dev.Descriptor(pool.Set(0), BindingMaterialTextures, 1)
	require.True(t, ok)
	require.Equal(t, def.Handle(), w.View)

	require.Equal(t, a, table.Acquire(rough, sampler))
	requireNoViolations(t, dev)
}
