package gpu

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

type CommandBufferState int

const (
	CommandBufferStateNotAllocated CommandBufferState = iota
	CommandBufferStateReady
	CommandBufferStateRecording
	CommandBufferStateInRenderPass
	CommandBufferStateRecordingEnded
	CommandBufferStateSubmitted
)

func (s CommandBufferState) String() string {
	switch s {
	case CommandBufferStateNotAllocated:
		return "NotAllocated"
	case CommandBufferStateReady:
		return "Ready"
	case CommandBufferStateRecording:
		return "Recording"
	case CommandBufferStateInRenderPass:
		return "InRenderPass"
	case CommandBufferStateRecordingEnded:
		return "RecordingEnded"
	case CommandBufferStateSubmitted:
		return "Submitted"
	default:
		return "Invalid"
	}
}

type CommandPool struct {
	ctx     *Context
	handle  driver.CommandPool
	queue   driver.QueueKind
	level   driver.CommandBufferLevel
	fence   *Fence
	buffers []*CommandBuffer
}

// NewCommandPool creates a pool whose buffers are all of one level.
func NewCommandPool(ctx *Context, queue driver.QueueKind, level driver.CommandBufferLevel, transient bool) (*CommandPool, error) {
	handle, err := ctx.Device.CreateCommandPool(queue, transient)
	if err != nil {
		return nil, core.Fatal(errors.Wrapf(err, "creating %s command pool", queue))
	}
	return &CommandPool{ctx: ctx, handle: handle, queue: queue, level: level}, nil
}

func (p *CommandPool) Handle() driver.CommandPool {
	return p.handle
}

func (p *CommandPool) Queue() driver.QueueKind {
	return p.queue
}

func (p *CommandPool) Allocate() (*CommandBuffer, error) {
	handle, err := p.ctx.Device.AllocateCommandBuffer(p.handle, p.level)
	if err != nil {
		return nil, core.Fatal(errors.Wrap(err, "allocating command buffer"))
	}
	cb := &CommandBuffer{
		ctx:    p.ctx,
		pool:   p,
		handle: handle,
		level:  p.level,
		state:  CommandBufferStateReady,
	}
	p.buffers = append(p.buffers, cb)
	return cb, nil
}

// Next returns a ready buffer of the pool, allocating one when every buffer
// is in use.
func (p *CommandPool) Next() (*CommandBuffer, error) {
	for _, cb := range p.buffers {
		if cb.state == CommandBufferStateReady {
			return cb, nil
		}
	}
	return p.Allocate()
}

// AttachFence names the fence that guards the pool's submitted work. Reset
// refuses to run until it has signaled.
func (p *CommandPool) AttachFence(f *Fence) {
	p.fence = f
}

// Reset returns every buffer of the pool to Ready.
func (p *CommandPool) Reset() error {
	if p.fence != nil && !p.fence.IsSignaled() {
		return p.ctx.violation("command pool reset before its fence signaled")
	}
	if err := p.ctx.Device.ResetCommandPool(p.handle); err != nil {
		return core.Fatal(errors.Wrap(err, "resetting command pool"))
	}
	for _, cb := range p.buffers {
		cb.reset()
	}
	return nil
}

func (p *CommandPool) Destroy() {
	if p.handle == 0 {
		return
	}
	p.ctx.Device.DestroyCommandPool(p.handle)
	for _, cb := range p.buffers {
		cb.state = CommandBufferStateNotAllocated
		cb.handle = 0
	}
	p.buffers = nil
	p.handle = 0
}

func (p *CommandPool) forget(cb *CommandBuffer) {
	for i, b := range p.buffers {
		if b == cb {
			p.buffers = append(p.buffers[:i], p.buffers[i+1:]...)
			return
		}
	}
}

type CommandBuffer struct {
	ctx    *Context
	pool   *CommandPool
	handle driver.CommandBuffer
	level  driver.CommandBufferLevel
	state  CommandBufferState

	// inheritsPass is set on secondaries begun inside a render pass.
	inheritsPass bool
	// secondaryContents is set while a primary is inside a pass begun for
	// secondary command buffers.
	secondaryContents bool
	pipeline          *Pipeline
	indexBound        bool
	executed          []*CommandBuffer
}

func (cb *CommandBuffer) Handle() driver.CommandBuffer {
	return cb.handle
}

func (cb *CommandBuffer) State() CommandBufferState {
	return cb.state
}

func (cb *CommandBuffer) Level() driver.CommandBufferLevel {
	return cb.level
}

func (cb *CommandBuffer) reset() {
	cb.state = CommandBufferStateReady
	cb.inheritsPass = false
	cb.secondaryContents = false
	cb.pipeline = nil
	cb.indexBound = false
	cb.executed = nil
}

func (cb *CommandBuffer) recording() bool {
	return cb.state == CommandBufferStateRecording || cb.state == CommandBufferStateInRenderPass
}

func (cb *CommandBuffer) insidePass() bool {
	if cb.state == CommandBufferStateInRenderPass {
		return true
	}
	return cb.level == driver.CommandBufferSecondary && cb.inheritsPass && cb.state == CommandBufferStateRecording
}

// guard reports whether a command may be recorded. When it may not, the
// returned error is the strict-mode violation, or nil when the command is
// skipped.
func (cb *CommandBuffer) guard(ok bool, op, requirement string) (bool, error) {
	if ok {
		return true, nil
	}
	return false, cb.ctx.violation("%s requires %s, command buffer is %s", op, requirement, cb.state)
}

// Begin starts recording outside any render pass.
func (cb *CommandBuffer) Begin(singleUse bool) error {
	return cb.begin(singleUse, nil, nil)
}

// StartSubmission begins a secondary buffer. When pass is not nil the buffer
// continues that render pass and inherits it.
func (cb *CommandBuffer) StartSubmission(pass *RenderPass, fb *Framebuffer) error {
	if cb.level != driver.CommandBufferSecondary {
		if ok, err := cb.guard(pass == nil, "StartSubmission with a render pass", "a secondary command buffer"); !ok {
			return err
		}
	}
	return cb.begin(true, pass, fb)
}

func (cb *CommandBuffer) begin(singleUse bool, pass *RenderPass, fb *Framebuffer) error {
	if ok, err := cb.guard(cb.state == CommandBufferStateReady, "Begin", "a ready command buffer"); !ok {
		return err
	}
	info := driver.CommandBufferBeginInfo{}
	if singleUse {
		info.Usage |= driver.CommandBufferUsageOneTimeSubmit
	}
	if pass != nil {
		info.Usage |= driver.CommandBufferUsageRenderPassContinue
		info.Inheritance = &driver.InheritanceInfo{RenderPass: pass.handle}
		if fb != nil {
			info.Inheritance.Framebuffer = fb.handle
		}
	}
	if err := cb.ctx.Device.BeginCommandBuffer(cb.handle, info); err != nil {
		return core.Fatal(errors.Wrap(err, "beginning command buffer"))
	}
	cb.reset()
	cb.state = CommandBufferStateRecording
	cb.inheritsPass = pass != nil
	return nil
}

func (cb *CommandBuffer) End() error {
	if ok, err := cb.guard(cb.state == CommandBufferStateRecording, "End", "recording outside a render pass"); !ok {
		return err
	}
	if err := cb.ctx.Device.EndCommandBuffer(cb.handle); err != nil {
		return core.Fatal(errors.Wrap(err, "ending command buffer"))
	}
	cb.state = CommandBufferStateRecordingEnded
	return nil
}

func (cb *CommandBuffer) markSubmitted() {
	cb.state = CommandBufferStateSubmitted
	for _, s := range cb.executed {
		s.state = CommandBufferStateSubmitted
	}
}

// Free returns the buffer to its pool. Only call it once the buffer's
// submission has completed.
func (cb *CommandBuffer) Free() {
	if cb.handle == 0 {
		return
	}
	cb.ctx.Device.FreeCommandBuffer(cb.pool.handle, cb.handle)
	cb.pool.forget(cb)
	cb.handle = 0
	cb.state = CommandBufferStateNotAllocated
}

func (cb *CommandBuffer) beginRenderPass(info driver.RenderPassBeginInfo) error {
	ok := cb.level == driver.CommandBufferPrimary && cb.state == CommandBufferStateRecording
	if ok, err := cb.guard(ok, "BeginRenderPass", "a recording primary outside a render pass"); !ok {
		return err
	}
	cb.ctx.Device.CmdBeginRenderPass(cb.handle, info)
	cb.state = CommandBufferStateInRenderPass
	cb.secondaryContents = info.Contents == driver.SubpassContentsSecondary
	return nil
}

func (cb *CommandBuffer) endRenderPass() error {
	if ok, err := cb.guard(cb.state == CommandBufferStateInRenderPass, "EndRenderPass", "an active render pass"); !ok {
		return err
	}
	cb.ctx.Device.CmdEndRenderPass(cb.handle)
	cb.state = CommandBufferStateRecording
	cb.secondaryContents = false
	cb.pipeline = nil
	cb.indexBound = false
	return nil
}

func (cb *CommandBuffer) BindPipeline(p *Pipeline) error {
	if ok, err := cb.guard(cb.recording(), "BindPipeline", "recording"); !ok {
		return err
	}
	cb.ctx.Device.CmdBindPipeline(cb.handle, p.handle)
	cb.pipeline = p
	return nil
}

func (cb *CommandBuffer) BindDescriptorSet(index uint32, set driver.DescriptorSet) error {
	if ok, err := cb.guard(cb.recording() && cb.pipeline != nil, "BindDescriptorSet", "a bound pipeline"); !ok {
		return err
	}
	cb.ctx.Device.CmdBindDescriptorSets(cb.handle, cb.pipeline.layout, index, []driver.DescriptorSet{set}, nil)
	return nil
}

func (cb *CommandBuffer) BindVertexBuffers(first uint32, buffers []*Buffer, offsets []uint64) error {
	if ok, err := cb.guard(cb.recording(), "BindVertexBuffers", "recording"); !ok {
		return err
	}
	handles := make([]driver.Buffer, len(buffers))
	for i, b := range buffers {
		handles[i] = b.handle
	}
	if offsets == nil {
		offsets = make([]uint64, len(buffers))
	}
	cb.ctx.Device.CmdBindVertexBuffers(cb.handle, first, handles, offsets)
	return nil
}

func (cb *CommandBuffer) BindIndexBuffer(b *Buffer, offset uint64, indexType driver.IndexType) error {
	if ok, err := cb.guard(cb.recording(), "BindIndexBuffer", "recording"); !ok {
		return err
	}
	cb.ctx.Device.CmdBindIndexBuffer(cb.handle, b.handle, offset, indexType)
	cb.indexBound = true
	return nil
}

func (cb *CommandBuffer) canDraw() bool {
	return cb.pipeline != nil && cb.insidePass() && !cb.secondaryContents
}

func (cb *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) error {
	if ok, err := cb.guard(cb.canDraw(), "Draw", "a bound pipeline inside a render pass"); !ok {
		return err
	}
	cb.ctx.Device.CmdDraw(cb.handle, vertexCount, instanceCount, firstVertex, firstInstance)
	return nil
}

func (cb *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) error {
	if ok, err := cb.guard(cb.canDraw() && cb.indexBound, "DrawIndexed", "a bound pipeline and index buffer inside a render pass"); !ok {
		return err
	}
	cb.ctx.Device.CmdDrawIndexed(cb.handle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
	return nil
}

func (cb *CommandBuffer) PushConstants(stages driver.ShaderStageFlags, offset uint32, data []byte) error {
	if ok, err := cb.guard(cb.recording() && cb.pipeline != nil, "PushConstants", "a bound pipeline"); !ok {
		return err
	}
	cb.ctx.Device.CmdPushConstants(cb.handle, cb.pipeline.layout, stages, offset, data)
	return nil
}

func (cb *CommandBuffer) outsidePass() bool {
	return cb.state == CommandBufferStateRecording && !cb.inheritsPass
}

func (cb *CommandBuffer) PipelineBarrier(info driver.BarrierInfo) error {
	if ok, err := cb.guard(cb.outsidePass(), "PipelineBarrier", "recording outside a render pass"); !ok {
		return err
	}
	cb.ctx.Device.CmdPipelineBarrier(cb.handle, info)
	return nil
}

func (cb *CommandBuffer) CopyBuffer(src, dst *Buffer, regions ...driver.BufferCopy) error {
	if ok, err := cb.guard(cb.outsidePass(), "CopyBuffer", "recording outside a render pass"); !ok {
		return err
	}
	if len(regions) == 0 {
		regions = []driver.BufferCopy{{Size: min(src.size, dst.size)}}
	}
	cb.ctx.Device.CmdCopyBuffer(cb.handle, src.handle, dst.handle, regions)
	return nil
}

// CopyBufferToImage copies into an image that is in the transfer destination
// layout.
func (cb *CommandBuffer) CopyBufferToImage(src *Buffer, dst *Image, regions ...driver.BufferImageCopy) error {
	if ok, err := cb.guard(cb.outsidePass(), "CopyBufferToImage", "recording outside a render pass"); !ok {
		return err
	}
	cb.ctx.Device.CmdCopyBufferToImage(cb.handle, src.handle, dst.handle, driver.ImageLayoutTransferDst, regions)
	return nil
}

// TransitionImage moves every mip level and layer of img between layouts.
func (cb *CommandBuffer) TransitionImage(img *Image, from, to driver.ImageLayout) error {
	if ok, err := cb.guard(cb.outsidePass(), "TransitionImage", "recording outside a render pass"); !ok {
		return err
	}
	srcStage, srcAccess, err := layoutUsage(from)
	if err != nil {
		return err
	}
	dstStage, dstAccess, err := layoutUsage(to)
	if err != nil {
		return err
	}
	cb.ctx.Device.CmdPipelineBarrier(cb.handle, driver.BarrierInfo{
		SrcStage: srcStage,
		DstStage: dstStage,
		Images: []driver.ImageBarrier{{
			Image:      img.handle,
			OldLayout:  from,
			NewLayout:  to,
			SrcAccess:  srcAccess,
			DstAccess:  dstAccess,
			Aspect:     img.config.Format.Aspect(),
			MipCount:   img.config.MipLevels,
			LayerCount: img.config.Layers,
		}},
	})
	return nil
}

// layoutUsage returns the stage and access that produce or consume an image
// in the given layout.
func layoutUsage(layout driver.ImageLayout) (driver.PipelineStageFlags, driver.AccessFlags, error) {
	switch layout {
	case driver.ImageLayoutUndefined:
		return driver.StageTopOfPipe, 0, nil
	case driver.ImageLayoutGeneral:
		return driver.StageAllCommands, driver.AccessShaderRead | driver.AccessShaderWrite, nil
	case driver.ImageLayoutTransferDst:
		return driver.StageTransfer, driver.AccessTransferWrite, nil
	case driver.ImageLayoutTransferSrc:
		return driver.StageTransfer, driver.AccessTransferRead, nil
	case driver.ImageLayoutShaderReadOnly:
		return driver.StageFragmentShader, driver.AccessShaderRead, nil
	case driver.ImageLayoutColourAttachment:
		return driver.StageColourAttachmentOut, driver.AccessColourAttachmentRead | driver.AccessColourAttachmentWrite, nil
	case driver.ImageLayoutDepthStencilAttachment:
		return driver.StageEarlyFragmentTests | driver.StageLateFragmentTests,
			driver.AccessDepthStencilRead | driver.AccessDepthStencilWrite, nil
	case driver.ImageLayoutDepthStencilReadOnly:
		return driver.StageEarlyFragmentTests | driver.StageFragmentShader,
			driver.AccessDepthStencilRead | driver.AccessShaderRead, nil
	case driver.ImageLayoutPresentSrc:
		return driver.StageBottomOfPipe, 0, nil
	default:
		return 0, 0, core.Preconditionf("unsupported layout transition involving layout %d", layout)
	}
}

// ExecuteCommands runs ended secondaries. Secondaries that continue a render
// pass run inside a pass begun for them; the others run outside any pass.
func (cb *CommandBuffer) ExecuteCommands(secondaries ...*CommandBuffer) error {
	inPass := cb.state == CommandBufferStateInRenderPass && cb.secondaryContents
	ok := cb.level == driver.CommandBufferPrimary && (inPass || cb.state == CommandBufferStateRecording)
	if ok, err := cb.guard(ok, "ExecuteCommands", "a primary inside a render pass begun for secondaries"); !ok {
		return err
	}
	handles := make([]driver.CommandBuffer, 0, len(secondaries))
	for _, s := range secondaries {
		if ok, err := cb.guard(s.state == CommandBufferStateRecordingEnded, "ExecuteCommands", "ended secondaries"); !ok {
			return err
		}
		if ok, err := cb.guard(s.inheritsPass == inPass, "ExecuteCommands", "secondaries that match the render pass state"); !ok {
			return err
		}
		handles = append(handles, s.handle)
	}
	cb.ctx.Device.CmdExecuteCommands(cb.handle, handles)
	cb.executed = append(cb.executed, secondaries...)
	return nil
}

// SetViewport sets a viewport with Y flipped so that +Y points up.
func (cb *CommandBuffer) SetViewport(width, height uint32) error {
	if ok, err := cb.guard(cb.recording(), "SetViewport", "recording"); !ok {
		return err
	}
	cb.ctx.Device.CmdSetViewport(cb.handle, driver.Viewport{
		X:        0,
		Y:        float32(height),
		Width:    float32(width),
		Height:   -float32(height),
		MinDepth: 0,
		MaxDepth: 1,
	})
	return nil
}

func (cb *CommandBuffer) SetScissor(width, height uint32) error {
	if ok, err := cb.guard(cb.recording(), "SetScissor", "recording"); !ok {
		return err
	}
	cb.ctx.Device.CmdSetScissor(cb.handle, driver.Rect{Width: width, Height: height})
	return nil
}

func (cb *CommandBuffer) WriteTimestamp(stage driver.PipelineStageFlags, pool driver.QueryPool, query uint32) error {
	if ok, err := cb.guard(cb.recording(), "WriteTimestamp", "recording"); !ok {
		return err
	}
	cb.ctx.Device.CmdWriteTimestamp(cb.handle, stage, pool, query)
	return nil
}

func (cb *CommandBuffer) ResetQueries(pool driver.QueryPool, first, count uint32) error {
	if ok, err := cb.guard(cb.outsidePass(), "ResetQueries", "recording outside a render pass"); !ok {
		return err
	}
	cb.ctx.Device.CmdResetQueryPool(cb.handle, pool, first, count)
	return nil
}
