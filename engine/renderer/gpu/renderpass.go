package gpu

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

// DepthMode says what a render pass does with its depth attachment.
type DepthMode uint8

const (
	// DepthNone has no depth attachment.
	DepthNone DepthMode = iota
	// DepthReadOnly loads an existing depth buffer and tests against it
	// without writing.
	DepthReadOnly
	// DepthDiscard clears depth and drops it at the end of the pass.
	DepthDiscard
	// DepthKeep clears depth and stores it for later passes.
	DepthKeep
)

func (m DepthMode) String() string {
	switch m {
	case DepthNone:
		return "None"
	case DepthReadOnly:
		return "ReadOnly"
	case DepthDiscard:
		return "Discard"
	case DepthKeep:
		return "Keep"
	default:
		return "Invalid"
	}
}

type RenderPassConfig struct {
	Name string
	// ColourFormat of FormatUndefined means the pass has no colour output.
	ColourFormat      driver.Format
	ColourFinalLayout driver.ImageLayout
	Depth             DepthMode
	DepthFormat       driver.Format
	DepthFinalLayout  driver.ImageLayout
	ClearColour       [4]float32
}

func (c RenderPassConfig) hasColour() bool {
	return c.ColourFormat != driver.FormatUndefined
}

func (c RenderPassConfig) depthAttachment() (*driver.AttachmentDescription, error) {
	final := c.DepthFinalLayout
	if final == driver.ImageLayoutUndefined {
		final = driver.ImageLayoutDepthStencilReadOnly
	}
	switch c.Depth {
	case DepthNone:
		return nil, nil
	case DepthReadOnly:
		return &driver.AttachmentDescription{
			Format:        c.DepthFormat,
			LoadOp:        driver.LoadOpLoad,
			StoreOp:       driver.StoreOpStore,
			InitialLayout: driver.ImageLayoutDepthStencilReadOnly,
			FinalLayout:   final,
		}, nil
	case DepthDiscard:
		return &driver.AttachmentDescription{
			Format:        c.DepthFormat,
			LoadOp:        driver.LoadOpClear,
			StoreOp:       driver.StoreOpDontCare,
			InitialLayout: driver.ImageLayoutUndefined,
			FinalLayout:   driver.ImageLayoutDepthStencilAttachment,
		}, nil
	case DepthKeep:
		return &driver.AttachmentDescription{
			Format:        c.DepthFormat,
			LoadOp:        driver.LoadOpClear,
			StoreOp:       driver.StoreOpStore,
			InitialLayout: driver.ImageLayoutUndefined,
			FinalLayout:   final,
		}, nil
	default:
		return nil, core.Preconditionf("render pass %q: invalid depth mode %d", c.Name, c.Depth)
	}
}

type RenderPass struct {
	ctx    *Context
	handle driver.RenderPass
	config RenderPassConfig
}

func NewRenderPass(ctx *Context, config RenderPassConfig) (*RenderPass, error) {
	depth, err := config.depthAttachment()
	if err != nil {
		return nil, err
	}
	if depth != nil && !config.DepthFormat.IsDepth() {
		return nil, core.Preconditionf("render pass %q: %s is not a depth format", config.Name, config.DepthFormat)
	}
	if !config.hasColour() && depth == nil {
		return nil, core.Preconditionf("render pass %q has no attachments", config.Name)
	}

	info := driver.RenderPassCreateInfo{
		Name:          config.Name,
		Depth:         depth,
		DepthReadOnly: config.Depth == DepthReadOnly,
	}
	if config.hasColour() {
		final := config.ColourFinalLayout
		if final == driver.ImageLayoutUndefined {
			final = driver.ImageLayoutShaderReadOnly
		}
		info.Colour = []driver.AttachmentDescription{{
			Format:        config.ColourFormat,
			LoadOp:        driver.LoadOpClear,
			StoreOp:       driver.StoreOpStore,
			InitialLayout: driver.ImageLayoutUndefined,
			FinalLayout:   final,
		}}
	}

	handle, err := ctx.Device.CreateRenderPass(info)
	if err != nil {
		return nil, core.Fatal(errors.Wrapf(err, "creating render pass %q", config.Name))
	}
	return &RenderPass{ctx: ctx, handle: handle, config: config}, nil
}

func (rp *RenderPass) Handle() driver.RenderPass {
	return rp.handle
}

func (rp *RenderPass) Config() RenderPassConfig {
	return rp.config
}

// Begin starts the pass on a primary command buffer. With
// SubpassContentsSecondary the pass body must come from ExecuteCommands.
func (rp *RenderPass) Begin(cb *CommandBuffer, fb *Framebuffer, contents driver.SubpassContents) error {
	var clear []driver.ClearValue
	if rp.config.hasColour() {
		clear = append(clear, driver.ClearValue{Colour: rp.config.ClearColour})
	}
	if rp.config.Depth != DepthNone {
		clear = append(clear, driver.ClearValue{Depth: 1})
	}
	return cb.beginRenderPass(driver.RenderPassBeginInfo{
		RenderPass:  rp.handle,
		Framebuffer: fb.handle,
		Width:       fb.width,
		Height:      fb.height,
		Clear:       clear,
		Contents:    contents,
	})
}

func (rp *RenderPass) End(cb *CommandBuffer) error {
	return cb.endRenderPass()
}

func (rp *RenderPass) Destroy() {
	if rp.handle != 0 {
		rp.ctx.Device.DestroyRenderPass(rp.handle)
		rp.handle = 0
	}
}

type Framebuffer struct {
	ctx    *Context
	handle driver.Framebuffer
	width  uint32
	height uint32
}

// NewFramebuffer binds views to a pass. The views follow the pass's
// attachment order: colour first, then depth.
func NewFramebuffer(ctx *Context, pass *RenderPass, width, height uint32, views ...*ImageView) (*Framebuffer, error) {
	if width == 0 || height == 0 {
		return nil, core.Preconditionf("framebuffer for %q has zero area %dx%d", pass.config.Name, width, height)
	}
	attachments := make([]driver.ImageView, len(views))
	for i, v := range views {
		attachments[i] = v.handle
	}
	handle, err := ctx.Device.CreateFramebuffer(driver.FramebufferCreateInfo{
		RenderPass:  pass.handle,
		Attachments: attachments,
		Width:       width,
		Height:      height,
	})
	if err != nil {
		return nil, core.Fatal(errors.Wrapf(err, "creating framebuffer for %q", pass.config.Name))
	}
	return &Framebuffer{ctx: ctx, handle: handle, width: width, height: height}, nil
}

func (fb *Framebuffer) Handle() driver.Framebuffer {
	return fb.handle
}

func (fb *Framebuffer) Extent() (uint32, uint32) {
	return fb.width, fb.height
}

func (fb *Framebuffer) Destroy() {
	if fb.handle != 0 {
		fb.ctx.Device.DestroyFramebuffer(fb.handle)
		fb.handle = 0
	}
}
