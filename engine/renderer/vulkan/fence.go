package vulkan

import (
	"time"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

func (d *Device) CreateFence(signaled bool) (driver.Fence, error) {
	info := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	if err := check(vk.CreateFence(d.device, &info, nil, &fence), "vkCreateFence"); err != nil {
		return 0, logged(err)
	}
	return d.fences.put(fence), nil
}

func (d *Device) DestroyFence(fence driver.Fence) {
	if f, ok := d.fences.take(fence); ok {
		vk.DestroyFence(d.device, f, nil)
	}
}

// WaitForFence returns an error marked ErrTimeout when the fence does not
// signal in time. Device loss is logged here since nothing can recover it.
func (d *Device) WaitForFence(fence driver.Fence, timeout time.Duration) error {
	result := vk.WaitForFences(d.device, 1, []vk.Fence{d.fences.get(fence)}, vk.True, uint64(timeout.Nanoseconds()))
	err := status(result, "vkWaitForFences")
	if err != nil && !errors.Is(err, driver.ErrTimeout) {
		return logged(err)
	}
	return err
}

func (d *Device) FenceSignaled(fence driver.Fence) (bool, error) {
	result := vk.GetFenceStatus(d.device, d.fences.get(fence))
	switch result {
	case vk.Success:
		return true, nil
	case vk.NotReady:
		return false, nil
	default:
		return false, logged(check(result, "vkGetFenceStatus"))
	}
}

func (d *Device) ResetFence(fence driver.Fence) error {
	return logged(check(vk.ResetFences(d.device, 1, []vk.Fence{d.fences.get(fence)}), "vkResetFences"))
}

func (d *Device) CreateSemaphore() (driver.Semaphore, error) {
	info := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var semaphore vk.Semaphore
	if err := check(vk.CreateSemaphore(d.device, &info, nil, &semaphore), "vkCreateSemaphore"); err != nil {
		return 0, logged(err)
	}
	return d.semaphores.put(semaphore), nil
}

func (d *Device) DestroySemaphore(semaphore driver.Semaphore) {
	if s, ok := d.semaphores.take(semaphore); ok {
		vk.DestroySemaphore(d.device, s, nil)
	}
}

func (d *Device) semaphoreList(list []driver.Semaphore) []vk.Semaphore {
	out := make([]vk.Semaphore, len(list))
	for i, s := range list {
		out[i] = d.semaphores.get(s)
	}
	return out
}

// Submit hands every batch to the queue in one call. The queue lock covers
// the call since queues are externally synchronized.
func (d *Device) Submit(queue driver.QueueKind, submits []driver.SubmitInfo, fence driver.Fence) error {
	infos := make([]vk.SubmitInfo, len(submits))
	for i, s := range submits {
		stages := make([]vk.PipelineStageFlags, len(s.WaitStages))
		for j, stage := range s.WaitStages {
			stages[j] = vk.PipelineStageFlags(stage)
		}
		buffers := make([]vk.CommandBuffer, len(s.CommandBuffers))
		for j, cb := range s.CommandBuffers {
			buffers[j] = d.commandBuffers.get(cb).handle
		}
		waits := d.semaphoreList(s.WaitSemaphores)
		signals := d.semaphoreList(s.SignalSemaphores)
		infos[i] = vk.SubmitInfo{
			SType:                vk.StructureTypeSubmitInfo,
			WaitSemaphoreCount:   uint32(len(waits)),
			PWaitSemaphores:      waits,
			PWaitDstStageMask:    stages,
			CommandBufferCount:   uint32(len(buffers)),
			PCommandBuffers:      buffers,
			SignalSemaphoreCount: uint32(len(signals)),
			PSignalSemaphores:    signals,
		}
	}
	vkFence := vk.NullFence
	if fence != 0 {
		vkFence = d.fences.get(fence)
	}
	return d.locks.call(d.families.family(queue), func() error {
		return logged(check(vk.QueueSubmit(d.queue(queue), uint32(len(infos)), infos, vkFence), "vkQueueSubmit"))
	})
}
