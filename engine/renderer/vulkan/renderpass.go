package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

type renderPass struct {
	handle vk.RenderPass
	// depthIndex is the attachment index of the depth target, or -1.
	depthIndex int
}

func attachment(a driver.AttachmentDescription) vk.AttachmentDescription {
	return vk.AttachmentDescription{
		Format:         toFormat(a.Format),
		Samples:        vk.SampleCount1Bit,
		LoadOp:         toLoadOp(a.LoadOp),
		StoreOp:        toStoreOp(a.StoreOp),
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  toLayout(a.InitialLayout),
		FinalLayout:    toLayout(a.FinalLayout),
	}
}

// CreateRenderPass builds a single subpass pass. Colour attachments come
// first, the depth attachment last.
func (d *Device) CreateRenderPass(info driver.RenderPassCreateInfo) (driver.RenderPass, error) {
	attachments := make([]vk.AttachmentDescription, 0, len(info.Colour)+1)
	colourRefs := make([]vk.AttachmentReference, 0, len(info.Colour))
	for i, c := range info.Colour {
		attachments = append(attachments, attachment(c))
		colourRefs = append(colourRefs, vk.AttachmentReference{
			Attachment: uint32(i),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colourRefs)),
		PColorAttachments:    colourRefs,
	}

	srcStage := vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	dstStage := srcStage
	dstAccess := vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit)
	if info.Depth != nil {
		attachments = append(attachments, attachment(*info.Depth))
		layout := vk.ImageLayoutDepthStencilAttachmentOptimal
		if info.DepthReadOnly {
			layout = vk.ImageLayoutDepthStencilReadOnlyOptimal
		}
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: uint32(len(attachments) - 1),
			Layout:     layout,
		}
		depthStages := vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit)
		srcStage |= depthStages
		dstStage |= depthStages
		dstAccess |= vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit)
	}

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  srcStage,
		DstStageMask:  dstStage,
		DstAccessMask: dstAccess,
	}

	createInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}
	var pass vk.RenderPass
	if err := check(vk.CreateRenderPass(d.device, &createInfo, nil, &pass), "vkCreateRenderPass"); err != nil {
		return 0, logged(err)
	}
	d.log.Debug("Render pass created", "name", info.Name, "colour", len(info.Colour), "depth", info.Depth != nil)
	depthIndex := -1
	if info.Depth != nil {
		depthIndex = len(attachments) - 1
	}
	return d.renderPasses.put(&renderPass{handle: pass, depthIndex: depthIndex}), nil
}

func (d *Device) DestroyRenderPass(pass driver.RenderPass) {
	if p, ok := d.renderPasses.take(pass); ok {
		vk.DestroyRenderPass(d.device, p.handle, nil)
	}
}

func (d *Device) CreateFramebuffer(info driver.FramebufferCreateInfo) (driver.Framebuffer, error) {
	pass := d.renderPasses.get(info.RenderPass)
	if pass == nil {
		return 0, errors.Newf("framebuffer: unknown render pass %d", info.RenderPass)
	}
	views := make([]vk.ImageView, len(info.Attachments))
	for i, v := range info.Attachments {
		views[i] = d.views.get(v)
	}
	createInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      pass.handle,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           info.Width,
		Height:          info.Height,
		Layers:          1,
	}
	var framebuffer vk.Framebuffer
	if err := check(vk.CreateFramebuffer(d.device, &createInfo, nil, &framebuffer), "vkCreateFramebuffer"); err != nil {
		return 0, logged(err)
	}
	return d.framebuffers.put(framebuffer), nil
}

func (d *Device) DestroyFramebuffer(framebuffer driver.Framebuffer) {
	if f, ok := d.framebuffers.take(framebuffer); ok {
		vk.DestroyFramebuffer(d.device, f, nil)
	}
}

func (d *Device) CmdBeginRenderPass(cb driver.CommandBuffer, info driver.RenderPassBeginInfo) {
	pass := d.renderPasses.get(info.RenderPass)
	if pass == nil {
		d.log.Error("begin: unknown render pass", "pass", info.RenderPass)
		return
	}
	clearValues := make([]vk.ClearValue, len(info.Clear))
	for i, c := range info.Clear {
		if i == pass.depthIndex {
			clearValues[i].SetDepthStencil(c.Depth, c.Stencil)
			continue
		}
		clearValues[i].SetColor(c.Colour[:])
	}
	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  pass.handle,
		Framebuffer: d.framebuffers.get(info.Framebuffer),
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: info.Width, Height: info.Height},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	contents := vk.SubpassContentsInline
	if info.Contents == driver.SubpassContentsSecondary {
		contents = vk.SubpassContentsSecondaryCommandBuffers
	}
	vk.CmdBeginRenderPass(d.commandBuffers.get(cb).handle, &beginInfo, contents)
}

func (d *Device) CmdEndRenderPass(cb driver.CommandBuffer) {
	vk.CmdEndRenderPass(d.commandBuffers.get(cb).handle)
}
