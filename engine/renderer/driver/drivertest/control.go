package drivertest

import (
	"time"

	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

// SetSurfaceExtent changes the window surface. Acquire and present report
// ErrOutOfDate until a swapchain of the same extent exists.
func (d *Device) SetSurfaceExtent(width, height uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.surfaceW = width
	d.surfaceH = height
}

func (d *Device) SetSuboptimal(suboptimal bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.suboptimal = suboptimal
}

// SetPresentDelay makes every present block for delay.
func (d *Device) SetPresentDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.presentDelay = delay
}

// SetHangFences makes unsignaled fences time out instead of completing.
func (d *Device) SetHangFences(hang bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hangFences = hang
}

// SetHeapBudget caps the bytes that can be allocated from a heap.
func (d *Device) SetHeapBudget(heap int, bytes uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.heapBudget[heap] = bytes
}

// FailPipelineCreation makes the n-th next pipeline creation fail.
func (d *Device) FailPipelineCreation(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failPipelineIn = n
}

func (d *Device) Violations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.violations...)
}

// Live counts the objects of a kind that were created and not destroyed.
func (d *Device) Live(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	d.objects.Iter(func(_ uint64, k string) bool {
		if k == kind {
			n++
		}
		return false
	})
	return n
}

func (d *Device) HeapUsed(heap int) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.heapUsed[heap]
}

// MemoryType returns the type index a live allocation was made from.
func (d *Device) MemoryType(m driver.Memory) (uint32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mem, ok := d.memories.Get(m)
	if !ok {
		return 0, false
	}
	return mem.info.TypeIndex, true
}

// BufferContents returns a copy of the bytes backing a bound buffer.
func (d *Device) BufferContents(b driver.Buffer) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.bufferBytes(b)...)
}

// ImageContents returns what was last copied into a mip level.
func (d *Device) ImageContents(i driver.Image, mip uint32) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.images.Get(i)
	if !ok {
		return nil
	}
	return append([]byte(nil), img.contents[mip]...)
}

func (d *Device) Descriptor(set driver.DescriptorSet, binding, element uint32) (driver.DescriptorWrite, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.descriptors[[3]uint64{uint64(set), uint64(binding), uint64(element)}]
	return w, ok
}

func (d *Device) Flushes() []MemoryRange {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]MemoryRange(nil), d.flushes...)
}

func (d *Device) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Device) DrawCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.drawCalls
}

func (d *Device) DescriptorWrites() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.descriptorWrites
}

func (d *Device) DescriptorUpdateCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.descriptorUpdateCalls
}

func (d *Device) Barriers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.barriers
}

func (d *Device) Submits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submits
}

func (d *Device) Acquires() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquires
}

func (d *Device) Presents() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.presents
}
