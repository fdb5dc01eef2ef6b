package gpu

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/kiln/engine/renderer/driver"
	"github.com/spaghettifunk/kiln/engine/renderer/driver/drivertest"
)

func newTestContext(t *testing.T, strict bool, opts ...drivertest.Option) (*Context, *drivertest.Device) {
	t.Helper()
	dev := drivertest.New(opts...)
	ctx := NewContext(dev, ContextConfig{Strict: strict})
	t.Cleanup(ctx.Destroy)
	return ctx, dev
}

func requireNoViolations(t *testing.T, dev *drivertest.Device) {
	t.Helper()
	require.Empty(t, dev.Violations())
}

func hostBuffer(t *testing.T, ctx *Context, size uint64, usage driver.BufferUsageFlags) *Buffer {
	t.Helper()
	b, err := CreateBuffer(ctx, size, usage, MemoryCriteria{HostVisible: Must, HostCoherent: Preferred}, false)
	require.NoError(t, err)
	return b
}

func testPass(t *testing.T, ctx *Context, config RenderPassConfig) (*RenderPass, *Framebuffer) {
	t.Helper()
	pass, err := NewRenderPass(ctx, config)
	require.NoError(t, err)

	var views []*ImageView
	if config.ColourFormat != driver.FormatUndefined {
		img, err := CreateAttachment(ctx, ImageConfig{Name: config.Name, Width: 64, Height: 64, Format: config.ColourFormat, Usage: driver.ImageUsageColourAttachment | driver.ImageUsageSampled})
		require.NoError(t, err)
		view, err := img.CreateView()
		require.NoError(t, err)
		views = append(views, view)
		t.Cleanup(func() {
			view.Destroy()
			img.Destroy()
		})
	}
	if config.Depth != DepthNone {
		img, err := CreateAttachment(ctx, ImageConfig{Name: config.Name + ".depth", Width: 64, Height: 64, Format: config.DepthFormat, Usage: driver.ImageUsageDepthStencilAttachment | driver.ImageUsageSampled})
		require.NoError(t, err)
		view, err := img.CreateView()
		require.NoError(t, err)
		views = append(views, view)
		t.Cleanup(func() {
			view.Destroy()
			img.Destroy()
		})
	}
	fb, err := NewFramebuffer(ctx, pass, 64, 64, views...)
	require.NoError(t, err)
	t.Cleanup(func() {
		fb.Destroy()
		pass.Destroy()
	})
	return pass, fb
}
