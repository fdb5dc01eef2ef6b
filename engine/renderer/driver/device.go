// Package driver is the boundary between the renderer and the graphics API.
// Every object is an opaque handle and every fallible call returns an error
// marked with one of the result sentinels in errors.go.
package driver

import "time"

type Device interface {
	Properties() DeviceProperties
	MemoryProperties() MemoryProperties
	HasQueue(queue QueueKind) bool
	// DepthFormat returns the best supported depth attachment format.
	DepthFormat() Format

	CreateBuffer(info BufferCreateInfo) (Buffer, error)
	DestroyBuffer(buffer Buffer)
	BufferMemoryRequirements(buffer Buffer) MemoryRequirements
	BindBufferMemory(buffer Buffer, memory Memory, offset uint64) error

	CreateImage(info ImageCreateInfo) (Image, error)
	DestroyImage(image Image)
	ImageMemoryRequirements(image Image) MemoryRequirements
	BindImageMemory(image Image, memory Memory, offset uint64) error

	AllocateMemory(info MemoryAllocateInfo) (Memory, error)
	FreeMemory(memory Memory)
	// MapMemory maps the whole allocation.
	MapMemory(memory Memory) ([]byte, error)
	UnmapMemory(memory Memory)
	FlushMemory(memory Memory, offset, size uint64) error
	InvalidateMemory(memory Memory, offset, size uint64) error

	CreateImageView(info ImageViewCreateInfo) (ImageView, error)
	DestroyImageView(view ImageView)
	CreateSampler(info SamplerCreateInfo) (Sampler, error)
	DestroySampler(sampler Sampler)

	CreateDescriptorSetLayout(bindings []DescriptorBinding) (DescriptorSetLayout, error)
	DestroyDescriptorSetLayout(layout DescriptorSetLayout)
	CreateDescriptorPool(maxSets uint32, sizes []DescriptorPoolSize) (DescriptorPool, error)
	DestroyDescriptorPool(pool DescriptorPool)
	ResetDescriptorPool(pool DescriptorPool) error
	AllocateDescriptorSet(pool DescriptorPool, layout DescriptorSetLayout) (DescriptorSet, error)
	UpdateDescriptorSets(writes []DescriptorWrite)

	CreateRenderPass(info RenderPassCreateInfo) (RenderPass, error)
	DestroyRenderPass(pass RenderPass)
	CreateFramebuffer(info FramebufferCreateInfo) (Framebuffer, error)
	DestroyFramebuffer(framebuffer Framebuffer)

	CreateShaderModule(code []uint32) (ShaderModule, error)
	DestroyShaderModule(module ShaderModule)
	CreatePipelineLayout(info PipelineLayoutCreateInfo) (PipelineLayout, error)
	DestroyPipelineLayout(layout PipelineLayout)
	CreateGraphicsPipeline(info GraphicsPipelineCreateInfo) (Pipeline, error)
	DestroyPipeline(pipeline Pipeline)

	CreateCommandPool(queue QueueKind, transient bool) (CommandPool, error)
	DestroyCommandPool(pool CommandPool)
	ResetCommandPool(pool CommandPool) error
	AllocateCommandBuffer(pool CommandPool, level CommandBufferLevel) (CommandBuffer, error)
	FreeCommandBuffer(pool CommandPool, cb CommandBuffer)
	BeginCommandBuffer(cb CommandBuffer, info CommandBufferBeginInfo) error
	EndCommandBuffer(cb CommandBuffer) error

	CmdBeginRenderPass(cb CommandBuffer, info RenderPassBeginInfo)
	CmdEndRenderPass(cb CommandBuffer)
	CmdBindPipeline(cb CommandBuffer, pipeline Pipeline)
	CmdBindDescriptorSets(cb CommandBuffer, layout PipelineLayout, firstSet uint32, sets []DescriptorSet, dynamicOffsets []uint32)
	CmdBindVertexBuffers(cb CommandBuffer, firstBinding uint32, buffers []Buffer, offsets []uint64)
	CmdBindIndexBuffer(cb CommandBuffer, buffer Buffer, offset uint64, indexType IndexType)
	CmdDraw(cb CommandBuffer, vertexCount, instanceCount, firstVertex, firstInstance uint32)
	CmdDrawIndexed(cb CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
	CmdPushConstants(cb CommandBuffer, layout PipelineLayout, stages ShaderStageFlags, offset uint32, data []byte)
	CmdPipelineBarrier(cb CommandBuffer, info BarrierInfo)
	CmdCopyBuffer(cb CommandBuffer, src, dst Buffer, regions []BufferCopy)
	CmdCopyBufferToImage(cb CommandBuffer, src Buffer, dst Image, layout ImageLayout, regions []BufferImageCopy)
	CmdExecuteCommands(cb CommandBuffer, secondaries []CommandBuffer)
	CmdSetViewport(cb CommandBuffer, viewport Viewport)
	CmdSetScissor(cb CommandBuffer, scissor Rect)
	CmdResetQueryPool(cb CommandBuffer, pool QueryPool, first, count uint32)
	CmdWriteTimestamp(cb CommandBuffer, stage PipelineStageFlags, pool QueryPool, query uint32)

	CreateFence(signaled bool) (Fence, error)
	DestroyFence(fence Fence)
	// WaitForFence returns ErrTimeout when the fence does not signal in time.
	WaitForFence(fence Fence, timeout time.Duration) error
	FenceSignaled(fence Fence) (bool, error)
	ResetFence(fence Fence) error
	CreateSemaphore() (Semaphore, error)
	DestroySemaphore(semaphore Semaphore)

	Submit(queue QueueKind, submits []SubmitInfo, fence Fence) error
	QueueWaitIdle(queue QueueKind) error
	WaitIdle() error

	SurfaceCapabilities() (SurfaceCapabilities, error)
	CreateSwapchain(info SwapchainCreateInfo) (Swapchain, error)
	DestroySwapchain(swapchain Swapchain)
	SwapchainImages(swapchain Swapchain) ([]Image, error)
	// AcquireNextImage may return a valid index together with ErrSuboptimal.
	AcquireNextImage(swapchain Swapchain, timeout time.Duration, signal Semaphore) (uint32, error)
	Present(swapchain Swapchain, index uint32, wait []Semaphore) error

	CreateQueryPool(count uint32) (QueryPool, error)
	DestroyQueryPool(pool QueryPool)
	// GetQueryResults returns ErrNotReady while any query is unavailable.
	GetQueryResults(pool QueryPool, first, count uint32) ([]uint64, error)

	Destroy()
}
