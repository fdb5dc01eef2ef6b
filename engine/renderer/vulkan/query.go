package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

func (d *Device) CreateQueryPool(count uint32) (driver.QueryPool, error) {
	info := vk.QueryPoolCreateInfo{
		SType:      vk.StructureTypeQueryPoolCreateInfo,
		QueryType:  vk.QueryTypeTimestamp,
		QueryCount: count,
	}
	var pool vk.QueryPool
	if err := check(vk.CreateQueryPool(d.device, &info, nil, &pool), "vkCreateQueryPool"); err != nil {
		return 0, logged(err)
	}
	return d.queryPools.put(pool), nil
}

func (d *Device) DestroyQueryPool(pool driver.QueryPool) {
	if p, ok := d.queryPools.take(pool); ok {
		vk.DestroyQueryPool(d.device, p, nil)
	}
}

// GetQueryResults reads 64 bit timestamps without waiting. It returns
// ErrNotReady while any query in the range is unavailable.
func (d *Device) GetQueryResults(pool driver.QueryPool, first, count uint32) ([]uint64, error) {
	if count == 0 {
		return nil, nil
	}
	results := make([]uint64, count)
	const stride = 8
	result := vk.GetQueryPoolResults(
		d.device,
		d.queryPools.get(pool),
		first,
		count,
		uint64(count*stride),
		unsafe.Pointer(&results[0]),
		vk.DeviceSize(stride),
		vk.QueryResultFlags(vk.QueryResult64Bit),
	)
	if err := status(result, "vkGetQueryPoolResults"); err != nil {
		return nil, err
	}
	return results, nil
}

func (d *Device) CmdResetQueryPool(cb driver.CommandBuffer, pool driver.QueryPool, first, count uint32) {
	vk.CmdResetQueryPool(d.commandBuffers.get(cb).handle, d.queryPools.get(pool), first, count)
}

func (d *Device) CmdWriteTimestamp(cb driver.CommandBuffer, stage driver.PipelineStageFlags, pool driver.QueryPool, query uint32) {
	vk.CmdWriteTimestamp(d.commandBuffers.get(cb).handle, vk.PipelineStageFlagBits(stage), d.queryPools.get(pool), query)
}
