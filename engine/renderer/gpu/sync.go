package gpu

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

type Fence struct {
	ctx    *Context
	handle driver.Fence
	// signaled caches the last observed state so a signaled fence is never
	// waited on twice.
	signaled bool
}

func NewFence(ctx *Context, createSignaled bool) (*Fence, error) {
	handle, err := ctx.Device.CreateFence(createSignaled)
	if err != nil {
		return nil, core.Fatal(errors.Wrap(err, "creating fence"))
	}
	return &Fence{ctx: ctx, handle: handle, signaled: createSignaled}, nil
}

func (f *Fence) Handle() driver.Fence {
	return f.handle
}

// Wait blocks until the fence signals. A timeout means the GPU is stuck and
// is reported as fatal.
func (f *Fence) Wait(timeout time.Duration) error {
	if f.signaled {
		return nil
	}
	if err := f.ctx.Device.WaitForFence(f.handle, timeout); err != nil {
		if errors.Is(err, driver.ErrTimeout) {
			return core.Fatal(errors.Wrapf(err, "fence wait timed out after %s", timeout))
		}
		return core.Fatal(errors.Wrap(err, "waiting for fence"))
	}
	f.signaled = true
	return nil
}

// IsSignaled polls the fence without blocking.
func (f *Fence) IsSignaled() bool {
	if f.signaled {
		return true
	}
	ok, err := f.ctx.Device.FenceSignaled(f.handle)
	if err != nil {
		f.ctx.log.Error("polling fence", "err", err)
		return false
	}
	f.signaled = ok
	return ok
}

func (f *Fence) Reset() error {
	if !f.signaled {
		return nil
	}
	if err := f.ctx.Device.ResetFence(f.handle); err != nil {
		return core.Fatal(errors.Wrap(err, "resetting fence"))
	}
	f.signaled = false
	return nil
}

func (f *Fence) Destroy() {
	if f.handle != 0 {
		f.ctx.Device.DestroyFence(f.handle)
		f.handle = 0
	}
	f.signaled = false
}

type Semaphore struct {
	ctx    *Context
	handle driver.Semaphore
}

func NewSemaphore(ctx *Context) (*Semaphore, error) {
	handle, err := ctx.Device.CreateSemaphore()
	if err != nil {
		return nil, core.Fatal(errors.Wrap(err, "creating semaphore"))
	}
	return &Semaphore{ctx: ctx, handle: handle}, nil
}

func (s *Semaphore) Handle() driver.Semaphore {
	return s.handle
}

func (s *Semaphore) Destroy() {
	if s.handle != 0 {
		s.ctx.Device.DestroySemaphore(s.handle)
		s.handle = 0
	}
}

// SemaphoreWait pairs a semaphore with the stage that waits on it.
type SemaphoreWait struct {
	Semaphore *Semaphore
	Stage     driver.PipelineStageFlags
}

type Submission struct {
	Wait           []SemaphoreWait
	CommandBuffers []*CommandBuffer
	Signal         []*Semaphore
}
