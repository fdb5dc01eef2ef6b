package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

func (d *Device) CreateDescriptorSetLayout(bindings []driver.DescriptorBinding) (driver.DescriptorSetLayout, error) {
	vkBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	flags := make([]vk.DescriptorBindingFlags, len(bindings))
	partial := false
	for i, b := range bindings {
		count := b.Count
		if count == 0 {
			count = 1
		}
		vkBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  toDescriptorType(b.Type),
			DescriptorCount: count,
			StageFlags:      toStages(b.Stages),
		}
		if b.PartiallyBound {
			flags[i] = vk.DescriptorBindingFlags(vk.DescriptorBindingPartiallyBoundBit)
			partial = true
		}
	}
	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vkBindings)),
		PBindings:    vkBindings,
	}
	if partial {
		bindingFlags := vk.DescriptorSetLayoutBindingFlagsCreateInfo{
			SType:         vk.StructureTypeDescriptorSetLayoutBindingFlagsCreateInfo,
			BindingCount:  uint32(len(flags)),
			PBindingFlags: flags,
		}
		info.PNext = unsafe.Pointer(bindingFlags.Ref())
	}
	var layout vk.DescriptorSetLayout
	if err := check(vk.CreateDescriptorSetLayout(d.device, &info, nil, &layout), "vkCreateDescriptorSetLayout"); err != nil {
		return 0, logged(err)
	}
	return d.setLayouts.put(layout), nil
}

func (d *Device) DestroyDescriptorSetLayout(layout driver.DescriptorSetLayout) {
	if l, ok := d.setLayouts.take(layout); ok {
		vk.DestroyDescriptorSetLayout(d.device, l, nil)
	}
}

func (d *Device) CreateDescriptorPool(maxSets uint32, sizes []driver.DescriptorPoolSize) (driver.DescriptorPool, error) {
	poolSizes := make([]vk.DescriptorPoolSize, len(sizes))
	for i, s := range sizes {
		poolSizes[i] = vk.DescriptorPoolSize{
			Type:            toDescriptorType(s.Type),
			DescriptorCount: s.Count,
		}
	}
	info := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	var pool vk.DescriptorPool
	if err := check(vk.CreateDescriptorPool(d.device, &info, nil, &pool), "vkCreateDescriptorPool"); err != nil {
		return 0, logged(err)
	}
	return d.descriptorPools.put(&descriptorPool{handle: pool}), nil
}

// forgetSets drops the handles of every set allocated from the pool.
func (d *Device) forgetSets(p *descriptorPool) {
	for _, s := range p.sets {
		d.sets.take(s)
	}
	p.sets = p.sets[:0]
}

func (d *Device) DestroyDescriptorPool(pool driver.DescriptorPool) {
	p, ok := d.descriptorPools.take(pool)
	if !ok {
		return
	}
	d.forgetSets(p)
	vk.DestroyDescriptorPool(d.device, p.handle, nil)
}

func (d *Device) ResetDescriptorPool(pool driver.DescriptorPool) error {
	p := d.descriptorPools.get(pool)
	if p == nil {
		return errors.Newf("reset: unknown descriptor pool %d", pool)
	}
	d.forgetSets(p)
	return logged(check(vk.ResetDescriptorPool(d.device, p.handle, 0), "vkResetDescriptorPool"))
}

// AllocateDescriptorSet returns an error marked ErrOutOfPoolMemory when the
// pool is exhausted so the caller can grow its pool chain.
func (d *Device) AllocateDescriptorSet(pool driver.DescriptorPool, layout driver.DescriptorSetLayout) (driver.DescriptorSet, error) {
	p := d.descriptorPools.get(pool)
	if p == nil {
		return 0, errors.Newf("allocate: unknown descriptor pool %d", pool)
	}
	info := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p.handle,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{d.setLayouts.get(layout)},
	}
	sets := make([]vk.DescriptorSet, 1)
	if err := check(vk.AllocateDescriptorSets(d.device, &info, &sets[0]), "vkAllocateDescriptorSets"); err != nil {
		return 0, err
	}
	handle := d.sets.put(sets[0])
	p.sets = append(p.sets, handle)
	return handle, nil
}

func (d *Device) UpdateDescriptorSets(writes []driver.DescriptorWrite) {
	if len(writes) == 0 {
		return
	}
	vkWrites := make([]vk.WriteDescriptorSet, len(writes))
	for i, w := range writes {
		vkWrites[i] = vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          d.sets.get(w.Set),
			DstBinding:      w.Binding,
			DstArrayElement: w.ArrayElement,
			DescriptorCount: 1,
			DescriptorType:  toDescriptorType(w.Type),
		}
		if w.Type == driver.DescriptorCombinedImageSampler {
			vkWrites[i].PImageInfo = []vk.DescriptorImageInfo{{
				Sampler:     d.samplers.get(w.Sampler),
				ImageView:   d.views.get(w.View),
				ImageLayout: toLayout(w.Layout),
			}}
			continue
		}
		vkWrites[i].PBufferInfo = []vk.DescriptorBufferInfo{{
			Buffer: d.buffers.get(w.Buffer),
			Offset: vk.DeviceSize(w.Offset),
			Range:  vk.DeviceSize(w.Range),
		}}
	}
	vk.UpdateDescriptorSets(d.device, uint32(len(vkWrites)), vkWrites, 0, nil)
}
