package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

func (d *Device) CreateBuffer(info driver.BufferCreateInfo) (driver.Buffer, error) {
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(info.Size),
		Usage:       vk.BufferUsageFlags(info.Usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var buffer vk.Buffer
	if err := check(vk.CreateBuffer(d.device, &createInfo, nil, &buffer), "vkCreateBuffer"); err != nil {
		return 0, logged(err)
	}
	return d.buffers.put(buffer), nil
}

func (d *Device) DestroyBuffer(buffer driver.Buffer) {
	if b, ok := d.buffers.take(buffer); ok {
		vk.DestroyBuffer(d.device, b, nil)
	}
}

func (d *Device) BufferMemoryRequirements(buffer driver.Buffer) driver.MemoryRequirements {
	info := vk.BufferMemoryRequirementsInfo2{
		SType:  vk.StructureTypeBufferMemoryRequirementsInfo2,
		Buffer: d.buffers.get(buffer),
	}
	return queryRequirements(func(reqs *vk.MemoryRequirements2) {
		vk.GetBufferMemoryRequirements2(d.device, &info, reqs)
	})
}

// queryRequirements runs a Requirements2 query with the dedicated
// allocation hints chained.
func queryRequirements(query func(reqs *vk.MemoryRequirements2)) driver.MemoryRequirements {
	dedicated := vk.MemoryDedicatedRequirements{
		SType: vk.StructureTypeMemoryDedicatedRequirements,
	}
	dedicatedRef, dedicatedAllocs := dedicated.PassRef()
	defer dedicatedAllocs.Free()

	reqs := vk.MemoryRequirements2{
		SType: vk.StructureTypeMemoryRequirements2,
		PNext: unsafe.Pointer(dedicatedRef),
	}
	query(&reqs)
	reqs.Deref()
	reqs.MemoryRequirements.Deref()
	dedicated.Deref()
	return toRequirements(reqs.MemoryRequirements, dedicated)
}

func (d *Device) BindBufferMemory(buffer driver.Buffer, memory driver.Memory, offset uint64) error {
	m := d.memories.get(memory)
	if m == nil {
		return errors.Newf("bind buffer: unknown memory %d", memory)
	}
	return logged(check(vk.BindBufferMemory(d.device, d.buffers.get(buffer), m.handle, vk.DeviceSize(offset)), "vkBindBufferMemory"))
}

func (d *Device) AllocateMemory(info driver.MemoryAllocateInfo) (driver.Memory, error) {
	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(info.Size),
		MemoryTypeIndex: info.TypeIndex,
	}
	if info.DedicatedBuffer != 0 || info.DedicatedImage != 0 {
		dedicated := vk.MemoryDedicatedAllocateInfo{
			SType: vk.StructureTypeMemoryDedicatedAllocateInfo,
		}
		if info.DedicatedBuffer != 0 {
			dedicated.Buffer = d.buffers.get(info.DedicatedBuffer)
		} else {
			dedicated.Image = d.images.get(info.DedicatedImage).handle
		}
		dedicatedRef, dedicatedAllocs := dedicated.PassRef()
		defer dedicatedAllocs.Free()
		allocInfo.PNext = unsafe.Pointer(dedicatedRef)
	}
	var handle vk.DeviceMemory
	if err := check(vk.AllocateMemory(d.device, &allocInfo, nil, &handle), "vkAllocateMemory"); err != nil {
		// out of memory is recoverable, the allocator falls back to
		// another type
		return 0, err
	}
	return d.memories.put(&memory{handle: handle, size: info.Size}), nil
}

func (d *Device) FreeMemory(memory driver.Memory) {
	if m, ok := d.memories.take(memory); ok {
		vk.FreeMemory(d.device, m.handle, nil)
	}
}

// MapMemory maps the whole allocation once. Later calls return the same
// slice.
func (d *Device) MapMemory(memory driver.Memory) ([]byte, error) {
	m := d.memories.get(memory)
	if m == nil {
		return nil, errors.Newf("map: unknown memory %d", memory)
	}
	if m.mapped != nil {
		return m.mapped, nil
	}
	var ptr unsafe.Pointer
	if err := check(vk.MapMemory(d.device, m.handle, 0, vk.DeviceSize(m.size), 0, &ptr), "vkMapMemory"); err != nil {
		return nil, logged(err)
	}
	m.mapped = unsafe.Slice((*byte)(ptr), m.size)
	return m.mapped, nil
}

func (d *Device) UnmapMemory(memory driver.Memory) {
	m := d.memories.get(memory)
	if m == nil || m.mapped == nil {
		return
	}
	vk.UnmapMemory(d.device, m.handle)
	m.mapped = nil
}

func (d *Device) mappedRange(memory driver.Memory, offset, size uint64) (vk.MappedMemoryRange, error) {
	m := d.memories.get(memory)
	if m == nil {
		return vk.MappedMemoryRange{}, errors.Newf("unknown memory %d", memory)
	}
	return vk.MappedMemoryRange{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: m.handle,
		Offset: vk.DeviceSize(offset),
		Size:   vk.DeviceSize(size),
	}, nil
}

func (d *Device) FlushMemory(memory driver.Memory, offset, size uint64) error {
	r, err := d.mappedRange(memory, offset, size)
	if err != nil {
		return err
	}
	return logged(check(vk.FlushMappedMemoryRanges(d.device, 1, []vk.MappedMemoryRange{r}), "vkFlushMappedMemoryRanges"))
}

func (d *Device) InvalidateMemory(memory driver.Memory, offset, size uint64) error {
	r, err := d.mappedRange(memory, offset, size)
	if err != nil {
		return err
	}
	return logged(check(vk.InvalidateMappedMemoryRanges(d.device, 1, []vk.MappedMemoryRange{r}), "vkInvalidateMappedMemoryRanges"))
}
