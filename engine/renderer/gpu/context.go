// Package gpu owns GPU memory, resources, command recording and presentation
// on top of a driver.Device. Every constructor takes the explicit *Context;
// there is no package-level GPU state.
package gpu

import (
	"time"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/google/uuid"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

type ContextConfig struct {
	// Strict returns precondition violations as errors. Otherwise they are
	// logged and the offending command is skipped.
	Strict         bool
	FrameTimeout   time.Duration
	PresentTimeout time.Duration
}

type Context struct {
	Device         driver.Device
	Allocator      *MemoryAllocator
	Limits         driver.Limits
	Strict         bool
	FrameTimeout   time.Duration
	PresentTimeout time.Duration

	log             *log.Logger
	secondaryPools  *swiss.Map[uuid.UUID, []*CommandPool]
	immediatePools  map[driver.QueueKind]*CommandPool
	exhaustedWarned map[string]bool
}

func NewContext(device driver.Device, cfg ContextConfig) *Context {
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = 2 * time.Second
	}
	if cfg.PresentTimeout <= 0 {
		cfg.PresentTimeout = 2 * time.Second
	}
	ctx := &Context{
		Device:          device,
		Limits:          device.Properties().Limits,
		Strict:          cfg.Strict,
		FrameTimeout:    cfg.FrameTimeout,
		PresentTimeout:  cfg.PresentTimeout,
		log:             core.Logger("gpu"),
		secondaryPools:  swiss.NewMap[uuid.UUID, []*CommandPool](8),
		immediatePools:  make(map[driver.QueueKind]*CommandPool),
		exhaustedWarned: make(map[string]bool),
	}
	ctx.Allocator = NewMemoryAllocator(ctx)
	return ctx
}

func (c *Context) Log() *log.Logger {
	return c.log
}

// violation reports a precondition failure. In strict mode the error is
// returned. Otherwise it is logged and nil is returned so the caller skips
// the operation.
func (c *Context) violation(format string, args ...interface{}) error {
	err := core.Preconditionf(format, args...)
	if c.Strict {
		c.log.Error("precondition violated", "err", err)
		return err
	}
	c.log.Warn("precondition violated, skipping", "err", err)
	return nil
}

// Exhausted logs a clamped limit once per kind. Exhaustion never fails a frame.
func (c *Context) Exhausted(kind string, limit int) {
	if c.exhaustedWarned[kind] {
		return
	}
	c.exhaustedWarned[kind] = true
	c.log.Warn("limit reached, clamping", "kind", kind, "limit", limit)
}

// TakeSecondaryPool hands out a reset secondary command pool owned by owner.
// Call it only after the owner's fence has signaled.
func (c *Context) TakeSecondaryPool(owner uuid.UUID) (*CommandPool, error) {
	pools, _ := c.secondaryPools.Get(owner)
	if n := len(pools); n > 0 {
		pool := pools[n-1]
		c.secondaryPools.Put(owner, pools[:n-1])
		if err := pool.Reset(); err != nil {
			return nil, err
		}
		return pool, nil
	}
	return NewCommandPool(c, driver.QueueGraphics, driver.CommandBufferSecondary, true)
}

// ReturnSecondaryPool puts a pool back on the owner's free list.
func (c *Context) ReturnSecondaryPool(owner uuid.UUID, pool *CommandPool) {
	pools, _ := c.secondaryPools.Get(owner)
	c.secondaryPools.Put(owner, append(pools, pool))
}

// FreeSecondaryPools destroys every pool on the owner's free list.
func (c *Context) FreeSecondaryPools(owner uuid.UUID) {
	pools, ok := c.secondaryPools.Get(owner)
	if !ok {
		return
	}
	for _, p := range pools {
		p.Destroy()
	}
	c.secondaryPools.Delete(owner)
}

// TransferQueue returns the dedicated transfer queue when the device has one.
func (c *Context) TransferQueue() driver.QueueKind {
	if c.Device.HasQueue(driver.QueueTransfer) {
		return driver.QueueTransfer
	}
	return driver.QueueGraphics
}

// Immediate records fn into a one-shot command buffer, submits it and waits
// for its fence.
func (c *Context) Immediate(queue driver.QueueKind, fn func(cb *CommandBuffer) error) error {
	if !c.Device.HasQueue(queue) {
		queue = driver.QueueGraphics
	}
	pool, ok := c.immediatePools[queue]
	if !ok {
		var err error
		if pool, err = NewCommandPool(c, queue, driver.CommandBufferPrimary, true); err != nil {
			return err
		}
		c.immediatePools[queue] = pool
	}

	cb, err := pool.Allocate()
	if err != nil {
		return err
	}
	defer cb.Free()

	if err := cb.Begin(true); err != nil {
		return err
	}
	if err := fn(cb); err != nil {
		return err
	}
	if err := cb.End(); err != nil {
		return err
	}

	fence, err := NewFence(c, false)
	if err != nil {
		return err
	}
	defer fence.Destroy()

	if err := Submit(c, queue, []Submission{{CommandBuffers: []*CommandBuffer{cb}}}, fence); err != nil {
		return err
	}
	return fence.Wait(c.FrameTimeout)
}

// Submit hands submissions to a queue and marks their command buffers as
// submitted.
func Submit(c *Context, queue driver.QueueKind, submissions []Submission, fence *Fence) error {
	infos := make([]driver.SubmitInfo, 0, len(submissions))
	for _, s := range submissions {
		info := driver.SubmitInfo{}
		for _, w := range s.Wait {
			info.WaitSemaphores = append(info.WaitSemaphores, w.Semaphore.Handle())
			info.WaitStages = append(info.WaitStages, w.Stage)
		}
		for _, cb := range s.CommandBuffers {
			if cb.state != CommandBufferStateRecordingEnded {
				return core.Preconditionf("submitting command buffer in state %s", cb.state)
			}
			info.CommandBuffers = append(info.CommandBuffers, cb.handle)
		}
		for _, sem := range s.Signal {
			info.SignalSemaphores = append(info.SignalSemaphores, sem.Handle())
		}
		infos = append(infos, info)
	}

	var fenceHandle driver.Fence
	if fence != nil {
		fenceHandle = fence.handle
	}
	if err := c.Device.Submit(queue, infos, fenceHandle); err != nil {
		return core.Fatal(errors.Wrapf(err, "submitting to the %s queue", queue))
	}
	if fence != nil {
		fence.signaled = false
	}
	for _, s := range submissions {
		for _, cb := range s.CommandBuffers {
			cb.markSubmitted()
		}
	}
	return nil
}

func (c *Context) WaitIdle() error {
	if err := c.Device.WaitIdle(); err != nil {
		return core.Fatal(errors.Wrap(err, "waiting for device idle"))
	}
	return nil
}

// Destroy releases the pools owned by the context. Callers destroy their own
// resources first.
func (c *Context) Destroy() {
	c.secondaryPools.Iter(func(_ uuid.UUID, pools []*CommandPool) bool {
		for _, p := range pools {
			p.Destroy()
		}
		return false
	})
	c.secondaryPools.Clear()
	for q, p := range c.immediatePools {
		p.Destroy()
		delete(c.immediatePools, q)
	}
	if live := c.Allocator.LiveCount(); live > 0 {
		c.log.Warn("allocations still live at shutdown", "count", live)
	}
}
