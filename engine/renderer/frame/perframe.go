package frame

import (
	"github.com/google/uuid"

	"github.com/spaghettifunk/kiln/engine/renderer/driver"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
)

// Secondary command buffers recorded each frame.
const (
	secondaryUpload = iota
	secondaryDepth
	secondaryRender

	secondaryCount
)

// Sets of the fullscreen descriptor pool.
const (
	fullscreenSSAO = iota
	fullscreenBlur
	fullscreenBloom
	fullscreenPost

	fullscreenSetCount
)

var scratchCriteria = gpu.MemoryCriteria{HostVisible: gpu.Must, HostCoherent: gpu.Preferred}

// PerFrameData is everything one frame in flight owns. Nothing in it is
// touched before fence has signaled for the frame that last used it.
type PerFrameData struct {
	ID  uuid.UUID
	ctx *gpu.Context

	pool              *gpu.CommandPool
	pre, render, post *gpu.CommandBuffer
	secondaryPools    [secondaryCount]*gpu.CommandPool
	secondaries       [secondaryCount]*gpu.CommandBuffer

	scratch *gpu.Buffer
	fence   *gpu.Fence

	imageAvailable *gpu.Semaphore
	preDone        *gpu.Semaphore
	renderDone     *gpu.Semaphore
	postDone       *gpu.Semaphore
	// chain orders this frame's work before the next frame's.
	chain *gpu.Semaphore

	scenePool      *gpu.DescriptorPool
	fullscreenPool *gpu.DescriptorPool
	queries        *gpu.TimestampQueries

	uploads  []Uploader
	deferred []func()

	submitted   bool
	frameNumber uint64
}

func newPerFrameData(ctx *gpu.Context, sceneLayout, fullscreenLayout *gpu.DescriptorLayout, scratchSize uint64) (_ *PerFrameData, err error) {
	p := &PerFrameData{ID: uuid.New(), ctx: ctx}
	defer func() {
		if err != nil {
			p.Destroy()
		}
	}()

	if p.fence, err = gpu.NewFence(ctx, true); err != nil {
		return nil, err
	}
	if p.pool, err = gpu.NewCommandPool(ctx, driver.QueueGraphics, driver.CommandBufferPrimary, false); err != nil {
		return nil, err
	}
	p.pool.AttachFence(p.fence)
	for _, cb := range []**gpu.CommandBuffer{&p.pre, &p.render, &p.post} {
		if *cb, err = p.pool.Allocate(); err != nil {
			return nil, err
		}
	}
	for _, sem := range []**gpu.Semaphore{&p.imageAvailable, &p.preDone, &p.renderDone, &p.postDone, &p.chain} {
		if *sem, err = gpu.NewSemaphore(ctx); err != nil {
			return nil, err
		}
	}
	if p.scratch, err = gpu.CreateBuffer(ctx, scratchSize, driver.BufferUsageUniform|driver.BufferUsageStorage, scratchCriteria, false); err != nil {
		return nil, err
	}
	if p.scenePool, err = gpu.NewDescriptorPool(ctx, sceneLayout, 1); err != nil {
		return nil, err
	}
	if p.fullscreenPool, err = gpu.NewDescriptorPool(ctx, fullscreenLayout, fullscreenSetCount); err != nil {
		return nil, err
	}
	if p.queries, err = gpu.NewTimestampQueries(ctx, 2*uint32(stageCount)); err != nil {
		return nil, err
	}
	return p, nil
}

// ensureScratch grows the scratch buffer to hold size bytes. It never
// shrinks. The fence was waited before this runs, so the old buffer is no
// longer read.
func (p *PerFrameData) ensureScratch(size uint64) error {
	if p.scratch != nil && p.scratch.Size() >= size {
		return nil
	}
	grown := size
	if p.scratch != nil {
		grown = max(size, 2*p.scratch.Size())
		p.scratch.Destroy()
		p.scratch = nil
	}
	buf, err := gpu.CreateBuffer(p.ctx, grown, driver.BufferUsageUniform|driver.BufferUsageStorage, scratchCriteria, false)
	if err != nil {
		return err
	}
	p.scratch = buf
	p.ctx.Log().Debug("scratch buffer grown", "frame", p.ID, "size", grown)
	return nil
}

// ScratchSize is the current size of the scratch buffer.
func (p *PerFrameData) ScratchSize() uint64 {
	if p.scratch == nil {
		return 0
	}
	return p.scratch.Size()
}

// primary returns the command buffer the stages of g record into.
func (p *PerFrameData) primary(g group) *gpu.CommandBuffer {
	switch g {
	case groupPre:
		return p.pre
	case groupRender:
		return p.render
	default:
		return p.post
	}
}

// recycle runs once the fence signaled. It completes the uploads of the
// last submission and destroys what was released while it was in flight.
func (p *PerFrameData) recycle() {
	for _, u := range p.uploads {
		u.TransferComplete()
	}
	p.uploads = nil
	for _, fn := range p.deferred {
		fn()
	}
	p.deferred = nil
}

// takeSecondaries borrows the secondary pools for this frame and picks a
// ready buffer from each.
func (p *PerFrameData) takeSecondaries() error {
	for i := range p.secondaryPools {
		pool, err := p.ctx.TakeSecondaryPool(p.ID)
		if err != nil {
			return err
		}
		pool.AttachFence(p.fence)
		p.secondaryPools[i] = pool
		if p.secondaries[i], err = pool.Next(); err != nil {
			return err
		}
	}
	return nil
}

func (p *PerFrameData) returnSecondaries() {
	for i, pool := range p.secondaryPools {
		if pool != nil {
			p.ctx.ReturnSecondaryPool(p.ID, pool)
		}
		p.secondaryPools[i] = nil
		p.secondaries[i] = nil
	}
}

// Destroy releases everything the frame owns. The caller waits for the
// device first.
func (p *PerFrameData) Destroy() {
	p.recycle()
	p.returnSecondaries()
	p.ctx.FreeSecondaryPools(p.ID)
	if p.queries != nil {
		p.queries.Destroy()
		p.queries = nil
	}
	if p.fullscreenPool != nil {
		p.fullscreenPool.Destroy()
		p.fullscreenPool = nil
	}
	if p.scenePool != nil {
		p.scenePool.Destroy()
		p.scenePool = nil
	}
	if p.scratch != nil {
		p.scratch.Destroy()
		p.scratch = nil
	}
	for _, sem := range []**gpu.Semaphore{&p.imageAvailable, &p.preDone, &p.renderDone, &p.postDone, &p.chain} {
		if *sem != nil {
			(*sem).Destroy()
			*sem = nil
		}
	}
	if p.pool != nil {
		p.pool.Destroy()
		p.pool = nil
	}
	if p.fence != nil {
		p.fence.Destroy()
		p.fence = nil
	}
}
