package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

// CreateCommandPool always allows individual buffer resets. Transient pools
// hint that their buffers are short lived.
func (d *Device) CreateCommandPool(queue driver.QueueKind, transient bool) (driver.CommandPool, error) {
	family := d.families.family(queue)
	flags := vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit)
	if transient {
		flags |= vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit)
	}
	info := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: family,
		Flags:            flags,
	}
	var pool vk.CommandPool
	if err := check(vk.CreateCommandPool(d.device, &info, nil, &pool), "vkCreateCommandPool"); err != nil {
		return 0, logged(err)
	}
	d.log.Debug("Command pool created", "queue", queue, "family", family)
	return d.commandPools.put(&commandPool{handle: pool, family: family}), nil
}

// DestroyCommandPool frees the pool's buffers with it.
func (d *Device) DestroyCommandPool(pool driver.CommandPool) {
	p, ok := d.commandPools.take(pool)
	if !ok {
		return
	}
	for _, cb := range p.buffers {
		d.commandBuffers.take(cb)
	}
	vk.DestroyCommandPool(d.device, p.handle, nil)
}

func (d *Device) ResetCommandPool(pool driver.CommandPool) error {
	p := d.commandPools.get(pool)
	if p == nil {
		return errors.Newf("reset: unknown command pool %d", pool)
	}
	return logged(check(vk.ResetCommandPool(d.device, p.handle, 0), "vkResetCommandPool"))
}

func (d *Device) AllocateCommandBuffer(pool driver.CommandPool, level driver.CommandBufferLevel) (driver.CommandBuffer, error) {
	p := d.commandPools.get(pool)
	if p == nil {
		return 0, errors.Newf("allocate: unknown command pool %d", pool)
	}
	vkLevel := vk.CommandBufferLevelPrimary
	if level == driver.CommandBufferSecondary {
		vkLevel = vk.CommandBufferLevelSecondary
	}
	info := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.handle,
		Level:              vkLevel,
		CommandBufferCount: 1,
	}
	buffers := make([]vk.CommandBuffer, 1)
	if err := check(vk.AllocateCommandBuffers(d.device, &info, buffers), "vkAllocateCommandBuffers"); err != nil {
		return 0, logged(err)
	}
	handle := d.commandBuffers.put(commandBuffer{handle: buffers[0], level: level})
	p.buffers = append(p.buffers, handle)
	return handle, nil
}

func (d *Device) FreeCommandBuffer(pool driver.CommandPool, cb driver.CommandBuffer) {
	p := d.commandPools.get(pool)
	if p == nil {
		return
	}
	c, ok := d.commandBuffers.take(cb)
	if !ok {
		return
	}
	for i, h := range p.buffers {
		if h == cb {
			p.buffers = append(p.buffers[:i], p.buffers[i+1:]...)
			break
		}
	}
	vk.FreeCommandBuffers(d.device, p.handle, 1, []vk.CommandBuffer{c.handle})
}

func (d *Device) BeginCommandBuffer(cb driver.CommandBuffer, info driver.CommandBufferBeginInfo) error {
	c := d.commandBuffers.get(cb)
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(info.Usage),
	}
	// Secondary buffers need inheritance info even outside a render pass.
	if c.level == driver.CommandBufferSecondary {
		inheritance := vk.CommandBufferInheritanceInfo{
			SType: vk.StructureTypeCommandBufferInheritanceInfo,
		}
		if info.Inheritance != nil {
			if p := d.renderPasses.get(info.Inheritance.RenderPass); p != nil {
				inheritance.RenderPass = p.handle
			}
			inheritance.Framebuffer = d.framebuffers.get(info.Inheritance.Framebuffer)
		}
		beginInfo.PInheritanceInfo = []vk.CommandBufferInheritanceInfo{inheritance}
	}
	return logged(check(vk.BeginCommandBuffer(c.handle, &beginInfo), "vkBeginCommandBuffer"))
}

func (d *Device) EndCommandBuffer(cb driver.CommandBuffer) error {
	return logged(check(vk.EndCommandBuffer(d.commandBuffers.get(cb).handle), "vkEndCommandBuffer"))
}

func (d *Device) CmdBindVertexBuffers(cb driver.CommandBuffer, firstBinding uint32, buffers []driver.Buffer, offsets []uint64) {
	vkBuffers := make([]vk.Buffer, len(buffers))
	vkOffsets := make([]vk.DeviceSize, len(buffers))
	for i, b := range buffers {
		vkBuffers[i] = d.buffers.get(b)
		if i < len(offsets) {
			vkOffsets[i] = vk.DeviceSize(offsets[i])
		}
	}
	vk.CmdBindVertexBuffers(d.commandBuffers.get(cb).handle, firstBinding, uint32(len(vkBuffers)), vkBuffers, vkOffsets)
}

func (d *Device) CmdBindIndexBuffer(cb driver.CommandBuffer, buffer driver.Buffer, offset uint64, indexType driver.IndexType) {
	vk.CmdBindIndexBuffer(d.commandBuffers.get(cb).handle, d.buffers.get(buffer), vk.DeviceSize(offset), toIndexType(indexType))
}

func (d *Device) CmdDraw(cb driver.CommandBuffer, vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(d.commandBuffers.get(cb).handle, vertexCount, instanceCount, firstVertex, firstInstance)
}

func (d *Device) CmdDrawIndexed(cb driver.CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	vk.CmdDrawIndexed(d.commandBuffers.get(cb).handle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (d *Device) CmdPushConstants(cb driver.CommandBuffer, layout driver.PipelineLayout, stages driver.ShaderStageFlags, offset uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	vk.CmdPushConstants(d.commandBuffers.get(cb).handle, d.layouts.get(layout), toStages(stages), offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (d *Device) CmdPipelineBarrier(cb driver.CommandBuffer, info driver.BarrierInfo) {
	memory := make([]vk.MemoryBarrier, len(info.Memory))
	for i, m := range info.Memory {
		memory[i] = vk.MemoryBarrier{
			SType:         vk.StructureTypeMemoryBarrier,
			SrcAccessMask: vk.AccessFlags(m.SrcAccess),
			DstAccessMask: vk.AccessFlags(m.DstAccess),
		}
	}
	images := make([]vk.ImageMemoryBarrier, len(info.Images))
	for i, b := range info.Images {
		images[i] = vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(b.SrcAccess),
			DstAccessMask:       vk.AccessFlags(b.DstAccess),
			OldLayout:           toLayout(b.OldLayout),
			NewLayout:           toLayout(b.NewLayout),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               d.images.get(b.Image).handle,
			SubresourceRange:    subresource(b.Aspect, b.BaseMip, b.MipCount, b.BaseLayer, b.LayerCount),
		}
	}
	vk.CmdPipelineBarrier(
		d.commandBuffers.get(cb).handle,
		vk.PipelineStageFlags(info.SrcStage),
		vk.PipelineStageFlags(info.DstStage),
		0,
		uint32(len(memory)), memory,
		0, nil,
		uint32(len(images)), images,
	)
}

func (d *Device) CmdCopyBuffer(cb driver.CommandBuffer, src, dst driver.Buffer, regions []driver.BufferCopy) {
	copies := make([]vk.BufferCopy, len(regions))
	for i, r := range regions {
		copies[i] = vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.SrcOffset),
			DstOffset: vk.DeviceSize(r.DstOffset),
			Size:      vk.DeviceSize(r.Size),
		}
	}
	vk.CmdCopyBuffer(d.commandBuffers.get(cb).handle, d.buffers.get(src), d.buffers.get(dst), uint32(len(copies)), copies)
}

func (d *Device) CmdCopyBufferToImage(cb driver.CommandBuffer, src driver.Buffer, dst driver.Image, layout driver.ImageLayout, regions []driver.BufferImageCopy) {
	copies := make([]vk.BufferImageCopy, len(regions))
	for i, r := range regions {
		layers := r.LayerCount
		if layers == 0 {
			layers = 1
		}
		copies[i] = vk.BufferImageCopy{
			BufferOffset: vk.DeviceSize(r.BufferOffset),
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask:     vk.ImageAspectFlags(r.Aspect),
				MipLevel:       r.MipLevel,
				BaseArrayLayer: r.BaseLayer,
				LayerCount:     layers,
			},
			ImageExtent: vk.Extent3D{Width: r.Width, Height: r.Height, Depth: 1},
		}
	}
	vk.CmdCopyBufferToImage(d.commandBuffers.get(cb).handle, d.buffers.get(src), d.images.get(dst).handle, toLayout(layout), uint32(len(copies)), copies)
}

func (d *Device) CmdExecuteCommands(cb driver.CommandBuffer, secondaries []driver.CommandBuffer) {
	if len(secondaries) == 0 {
		return
	}
	handles := make([]vk.CommandBuffer, len(secondaries))
	for i, s := range secondaries {
		handles[i] = d.commandBuffers.get(s).handle
	}
	vk.CmdExecuteCommands(d.commandBuffers.get(cb).handle, uint32(len(handles)), handles)
}

func (d *Device) CmdSetViewport(cb driver.CommandBuffer, viewport driver.Viewport) {
	vk.CmdSetViewport(d.commandBuffers.get(cb).handle, 0, 1, []vk.Viewport{{
		X:        viewport.X,
		Y:        viewport.Y,
		Width:    viewport.Width,
		Height:   viewport.Height,
		MinDepth: viewport.MinDepth,
		MaxDepth: viewport.MaxDepth,
	}})
}

func (d *Device) CmdSetScissor(cb driver.CommandBuffer, scissor driver.Rect) {
	vk.CmdSetScissor(d.commandBuffers.get(cb).handle, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: scissor.X, Y: scissor.Y},
		Extent: vk.Extent2D{Width: scissor.Width, Height: scissor.Height},
	}})
}
