package gpu

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

type ImageConfig struct {
	Name      string
	Width     uint32
	Height    uint32
	MipLevels uint32
	Layers    uint32
	Format    driver.Format
	Usage     driver.ImageUsageFlags
}

func (c ImageConfig) createInfo() driver.ImageCreateInfo {
	return driver.ImageCreateInfo{
		Width:       c.Width,
		Height:      c.Height,
		MipLevels:   max(c.MipLevels, 1),
		ArrayLayers: max(c.Layers, 1),
		Format:      c.Format,
		Usage:       c.Usage,
	}
}

// UnboundImage is an image without memory. BindMemory consumes it.
type UnboundImage struct {
	ctx      *Context
	handle   driver.Image
	config   ImageConfig
	consumed bool
}

func NewImage(ctx *Context, config ImageConfig) (*UnboundImage, error) {
	if config.Width == 0 || config.Height == 0 {
		return nil, core.Preconditionf("image %q has zero area", config.Name)
	}
	if _, err := config.Format.Size(); err != nil {
		return nil, core.Preconditionf("image %q: %v", config.Name, err)
	}
	info := config.createInfo()
	config.MipLevels, config.Layers = info.MipLevels, info.ArrayLayers

	handle, err := ctx.Device.CreateImage(info)
	if err != nil {
		return nil, core.Fatal(errors.Wrapf(err, "creating image %q", config.Name))
	}
	return &UnboundImage{ctx: ctx, handle: handle, config: config}, nil
}

func (u *UnboundImage) Requirements() driver.MemoryRequirements {
	return u.ctx.Device.ImageMemoryRequirements(u.handle)
}

func (u *UnboundImage) BindMemory(alloc *MemoryAllocation, offset uint64) (*Image, error) {
	if u.consumed {
		return nil, core.Preconditionf("image %q already bound or destroyed", u.config.Name)
	}
	if !alloc.compatible(u.Requirements()) {
		return nil, core.Preconditionf("image %q cannot use memory type %d", u.config.Name, alloc.TypeIndex())
	}
	if err := u.ctx.Device.BindImageMemory(u.handle, alloc.Handle(), offset); err != nil {
		return nil, core.Fatal(errors.Wrapf(err, "binding memory of image %q", u.config.Name))
	}
	u.consumed = true
	alloc.Retain()
	return &Image{
		ctx:    u.ctx,
		handle: u.handle,
		config: u.config,
		memory: alloc,
		owned:  true,
	}, nil
}

func (u *UnboundImage) Destroy() {
	if u.consumed {
		return
	}
	u.ctx.Device.DestroyImage(u.handle)
	u.consumed = true
}

type Image struct {
	ctx    *Context
	handle driver.Image
	config ImageConfig
	memory *MemoryAllocation
	// owned is false for swapchain images, which the swapchain frees.
	owned bool
}

// CreateImage creates an image with its own allocation.
func CreateImage(ctx *Context, config ImageConfig, criteria MemoryCriteria, dedicated bool) (*Image, error) {
	unbound, err := NewImage(ctx, config)
	if err != nil {
		return nil, err
	}
	alloc, err := ctx.Allocator.AllocateForImage(unbound, criteria, dedicated)
	if err != nil {
		unbound.Destroy()
		return nil, err
	}
	defer alloc.Release()

	img, err := unbound.BindMemory(alloc, 0)
	if err != nil {
		unbound.Destroy()
		return nil, err
	}
	return img, nil
}

// CreateAttachment creates a device-local render target.
func CreateAttachment(ctx *Context, config ImageConfig) (*Image, error) {
	return CreateImage(ctx, config, MemoryCriteria{DeviceLocal: Preferred, HostVisible: PreferredNot}, false)
}

// wrapImage adopts an image the caller does not own.
func wrapImage(ctx *Context, handle driver.Image, config ImageConfig) *Image {
	return &Image{ctx: ctx, handle: handle, config: config}
}

func (i *Image) Handle() driver.Image {
	return i.handle
}

func (i *Image) Config() ImageConfig {
	return i.config
}

func (i *Image) Width() uint32 {
	return i.config.Width
}

func (i *Image) Height() uint32 {
	return i.config.Height
}

func (i *Image) Format() driver.Format {
	return i.config.Format
}

func (i *Image) MipLevels() uint32 {
	return i.config.MipLevels
}

func (i *Image) Memory() *MemoryAllocation {
	return i.memory
}

// CreateView creates a view over every mip level and layer.
func (i *Image) CreateView() (*ImageView, error) {
	return i.createView(0, i.config.Layers)
}

// CreateLayerView creates a view over a single array layer.
func (i *Image) CreateLayerView(layer uint32) (*ImageView, error) {
	if layer >= i.config.Layers {
		return nil, core.Preconditionf("layer %d of image %q with %d layers", layer, i.config.Name, i.config.Layers)
	}
	return i.createView(layer, 1)
}

func (i *Image) createView(baseLayer, layers uint32) (*ImageView, error) {
	handle, err := i.ctx.Device.CreateImageView(driver.ImageViewCreateInfo{
		Image:      i.handle,
		Format:     i.config.Format,
		Aspect:     i.config.Format.Aspect(),
		MipCount:   i.config.MipLevels,
		BaseLayer:  baseLayer,
		LayerCount: layers,
	})
	if err != nil {
		return nil, core.Fatal(errors.Wrapf(err, "creating view of image %q", i.config.Name))
	}
	return &ImageView{ctx: i.ctx, handle: handle, image: i}, nil
}

func (i *Image) Destroy() {
	if i.handle == 0 {
		return
	}
	if i.owned {
		i.ctx.Device.DestroyImage(i.handle)
		i.memory.Release()
		i.memory = nil
	}
	i.handle = 0
}

type ImageView struct {
	ctx    *Context
	handle driver.ImageView
	image  *Image
}

func (v *ImageView) Handle() driver.ImageView {
	return v.handle
}

func (v *ImageView) Image() *Image {
	return v.image
}

func (v *ImageView) Destroy() {
	if v.handle != 0 {
		v.ctx.Device.DestroyImageView(v.handle)
		v.handle = 0
	}
}

type Sampler struct {
	ctx    *Context
	handle driver.Sampler
}

func NewSampler(ctx *Context, info driver.SamplerCreateInfo) (*Sampler, error) {
	handle, err := ctx.Device.CreateSampler(info)
	if err != nil {
		return nil, core.Fatal(errors.Wrap(err, "creating sampler"))
	}
	return &Sampler{ctx: ctx, handle: handle}, nil
}

func (s *Sampler) Handle() driver.Sampler {
	return s.handle
}

func (s *Sampler) Destroy() {
	if s.handle != 0 {
		s.ctx.Device.DestroySampler(s.handle)
		s.handle = 0
	}
}
