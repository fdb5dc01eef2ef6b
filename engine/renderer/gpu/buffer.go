package gpu

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

// UnboundBuffer is a buffer without memory. BindMemory consumes it.
type UnboundBuffer struct {
	ctx      *Context
	handle   driver.Buffer
	size     uint64
	usage    driver.BufferUsageFlags
	consumed bool
}

func NewBuffer(ctx *Context, size uint64, usage driver.BufferUsageFlags) (*UnboundBuffer, error) {
	if size == 0 {
		return nil, core.Preconditionf("buffer of zero bytes")
	}
	handle, err := ctx.Device.CreateBuffer(driver.BufferCreateInfo{Size: size, Usage: usage})
	if err != nil {
		return nil, core.Fatal(errors.Wrapf(err, "creating buffer of %d bytes", size))
	}
	return &UnboundBuffer{ctx: ctx, handle: handle, size: size, usage: usage}, nil
}

func (u *UnboundBuffer) Requirements() driver.MemoryRequirements {
	return u.ctx.Device.BufferMemoryRequirements(u.handle)
}

// BindMemory attaches the buffer to alloc at offset and takes a reference on
// the allocation. The unbound value must not be used afterwards.
func (u *UnboundBuffer) BindMemory(alloc *MemoryAllocation, offset uint64) (*Buffer, error) {
	if u.consumed {
		return nil, core.Preconditionf("buffer %d already bound or destroyed", u.handle)
	}
	if offset+u.size > alloc.Size() {
		return nil, core.Preconditionf("buffer of %d bytes does not fit allocation of %d at offset %d", u.size, alloc.Size(), offset)
	}
	if !alloc.compatible(u.Requirements()) {
		return nil, core.Preconditionf("buffer %d cannot use memory type %d", u.handle, alloc.TypeIndex())
	}
	if err := u.ctx.Device.BindBufferMemory(u.handle, alloc.Handle(), offset); err != nil {
		return nil, core.Fatal(errors.Wrap(err, "binding buffer memory"))
	}
	u.consumed = true
	alloc.Retain()
	return &Buffer{
		ctx:    u.ctx,
		handle: u.handle,
		size:   u.size,
		usage:  u.usage,
		memory: alloc,
		offset: offset,
	}, nil
}

// Destroy frees a buffer that was never bound.
func (u *UnboundBuffer) Destroy() {
	if u.consumed {
		return
	}
	u.ctx.Device.DestroyBuffer(u.handle)
	u.consumed = true
}

type Buffer struct {
	ctx    *Context
	handle driver.Buffer
	size   uint64
	usage  driver.BufferUsageFlags
	memory *MemoryAllocation
	offset uint64
}

// CreateBuffer creates a buffer with its own allocation.
func CreateBuffer(ctx *Context, size uint64, usage driver.BufferUsageFlags, criteria MemoryCriteria, dedicated bool) (*Buffer, error) {
	unbound, err := NewBuffer(ctx, size, usage)
	if err != nil {
		return nil, err
	}
	alloc, err := ctx.Allocator.AllocateForBuffer(unbound, criteria, dedicated)
	if err != nil {
		unbound.Destroy()
		return nil, err
	}
	// the buffer holds the only reference once bound
	defer alloc.Release()

	buffer, err := unbound.BindMemory(alloc, 0)
	if err != nil {
		unbound.Destroy()
		return nil, err
	}
	return buffer, nil
}

func (b *Buffer) Handle() driver.Buffer {
	return b.handle
}

func (b *Buffer) Size() uint64 {
	return b.size
}

func (b *Buffer) Usage() driver.BufferUsageFlags {
	return b.usage
}

func (b *Buffer) Memory() *MemoryAllocation {
	return b.memory
}

func (b *Buffer) Offset() uint64 {
	return b.offset
}

// Map returns the host bytes of the buffer.
func (b *Buffer) Map() ([]byte, error) {
	data, err := b.memory.Map()
	if err != nil {
		return nil, err
	}
	return data[b.offset : b.offset+b.size], nil
}

// Flush flushes a range relative to the start of the buffer.
func (b *Buffer) Flush(offset, size uint64) error {
	return b.memory.Flush(b.offset+offset, size)
}

func (b *Buffer) Invalidate(offset, size uint64) error {
	return b.memory.Invalidate(b.offset+offset, size)
}

// Destroy frees the buffer and drops its reference on the memory.
func (b *Buffer) Destroy() {
	if b.handle == 0 {
		return
	}
	b.ctx.Device.DestroyBuffer(b.handle)
	b.handle = 0
	b.memory.Release()
	b.memory = nil
}
