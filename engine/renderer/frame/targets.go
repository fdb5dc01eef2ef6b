package frame

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/kiln/engine/renderer/driver"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
)

type target struct {
	image *gpu.Image
	view  *gpu.ImageView
}

func newTarget(ctx *gpu.Context, name string, width, height uint32, format driver.Format, usage driver.ImageUsageFlags) (target, error) {
	img, err := gpu.CreateAttachment(ctx, gpu.ImageConfig{
		Name:   name,
		Width:  width,
		Height: height,
		Format: format,
		Usage:  usage | driver.ImageUsageSampled,
	})
	if err != nil {
		return target{}, err
	}
	view, err := img.CreateView()
	if err != nil {
		img.Destroy()
		return target{}, err
	}
	return target{image: img, view: view}, nil
}

func (t *target) destroy() {
	if t.view != nil {
		t.view.Destroy()
		t.view = nil
	}
	if t.image != nil {
		t.image.Destroy()
		t.image = nil
	}
}

// renderTargets are the swapchain sized images shared by every frame and the
// framebuffers that draw into them. The stages run in order on one queue, so
// one copy of each is enough.
type renderTargets struct {
	width, height uint32
	depth         target
	ao            target
	aoBlur        target
	hdr           target
	bloom         target
	framebuffers  [stageCount]*gpu.Framebuffer
	// post holds one framebuffer per swapchain image.
	post []*gpu.Framebuffer
}

func newRenderTargets(ctx *gpu.Context, passes *[stageCount]*gpu.RenderPass, sc *gpu.Swapchain) (_ *renderTargets, err error) {
	width, height := sc.Extent()
	t := &renderTargets{width: width, height: height}
	defer func() {
		if err != nil {
			t.destroy()
		}
	}()

	colour := driver.ImageUsageColourAttachment
	if t.depth, err = newTarget(ctx, "depth", width, height, passes[StageDepth].Config().DepthFormat, driver.ImageUsageDepthStencilAttachment); err != nil {
		return nil, err
	}
	if t.hdr, err = newTarget(ctx, "hdr", width, height, hdrFormat, colour); err != nil {
		return nil, err
	}
	if passes[StageSSAO] != nil {
		if t.ao, err = newTarget(ctx, "ssao", width, height, aoFormat, colour); err != nil {
			return nil, err
		}
		if t.aoBlur, err = newTarget(ctx, "ssao.blur", width, height, aoFormat, colour); err != nil {
			return nil, err
		}
	}
	if passes[StageBloom] != nil {
		if t.bloom, err = newTarget(ctx, "bloom", width, height, hdrFormat, colour); err != nil {
			return nil, err
		}
	}

	attachments := map[Stage][]*gpu.ImageView{
		StageDepth:    {t.depth.view},
		StageSSAO:     {t.ao.view},
		StageSSAOBlur: {t.aoBlur.view},
		StageRender:   {t.hdr.view, t.depth.view},
		StageBloom:    {t.bloom.view},
	}
	for stage, views := range attachments {
		if passes[stage] == nil {
			continue
		}
		fb, err := gpu.NewFramebuffer(ctx, passes[stage], width, height, views...)
		if err != nil {
			return nil, errors.Wrapf(err, "%s framebuffer", stage)
		}
		t.framebuffers[stage] = fb
	}
	for i, view := range sc.Views() {
		fb, err := gpu.NewFramebuffer(ctx, passes[StagePost], width, height, view)
		if err != nil {
			return nil, errors.Wrapf(err, "post framebuffer %d", i)
		}
		t.post = append(t.post, fb)
	}
	return t, nil
}

func (t *renderTargets) destroy() {
	for _, fb := range t.post {
		fb.Destroy()
	}
	t.post = nil
	for i, fb := range t.framebuffers {
		if fb != nil {
			fb.Destroy()
			t.framebuffers[i] = nil
		}
	}
	t.bloom.destroy()
	t.hdr.destroy()
	t.aoBlur.destroy()
	t.ao.destroy()
	t.depth.destroy()
}

// defaults are bound wherever a frame has nothing better: a white texture
// for materials and disabled ambient occlusion, a cleared depth map for empty
// shadow slots.
type defaults struct {
	white         *Texture
	shadow        target
	linear        *gpu.Sampler
	material      *gpu.Sampler
	shadowSampler *gpu.Sampler
}

func newDefaults(ctx *gpu.Context, depthFormat driver.Format) (_ *defaults, err error) {
	d := &defaults{}
	defer func() {
		if err != nil {
			d.destroy()
		}
	}()

	if d.linear, err = gpu.NewSampler(ctx, driver.SamplerCreateInfo{Filter: driver.FilterLinear, AddressMode: driver.AddressClampToEdge}); err != nil {
		return nil, err
	}
	if d.material, err = gpu.NewSampler(ctx, driver.SamplerCreateInfo{Filter: driver.FilterLinear, AddressMode: driver.AddressRepeat, Anisotropy: 8, MaxLod: 16}); err != nil {
		return nil, err
	}
	if d.shadowSampler, err = gpu.NewSampler(ctx, driver.SamplerCreateInfo{Filter: driver.FilterLinear, AddressMode: driver.AddressClampToBorder, CompareLess: true}); err != nil {
		return nil, err
	}

	if d.white, err = UploadTexture(ctx, TextureData{
		Name:   "white",
		Width:  1,
		Height: 1,
		Format: driver.FormatR8G8B8A8Unorm,
		Mips:   [][]byte{{255, 255, 255, 255}},
	}); err != nil {
		return nil, err
	}
	if d.shadow, err = newTarget(ctx, "shadow.default", 1, 1, depthFormat, driver.ImageUsageDepthStencilAttachment); err != nil {
		return nil, err
	}
	err = ctx.Immediate(driver.QueueGraphics, func(cb *gpu.CommandBuffer) error {
		if err := d.white.Transfer(cb); err != nil {
			return err
		}
		return cb.TransitionImage(d.shadow.image, driver.ImageLayoutUndefined, driver.ImageLayoutDepthStencilReadOnly)
	})
	if err != nil {
		return nil, errors.Wrap(err, "uploading default textures")
	}
	d.white.TransferComplete()
	return d, nil
}

func (d *defaults) destroy() {
	if d.white != nil {
		d.white.Destroy()
		d.white = nil
	}
	d.shadow.destroy()
	for _, s := range []**gpu.Sampler{&d.linear, &d.material, &d.shadowSampler} {
		if *s != nil {
			(*s).Destroy()
			*s = nil
		}
	}
}
