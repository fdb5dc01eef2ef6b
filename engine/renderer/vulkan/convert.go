package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

var formats = map[driver.Format]vk.Format{
	driver.FormatUndefined:          vk.FormatUndefined,
	driver.FormatR8Unorm:            vk.FormatR8Unorm,
	driver.FormatR8G8B8A8Unorm:      vk.FormatR8g8b8a8Unorm,
	driver.FormatR8G8B8A8Srgb:       vk.FormatR8g8b8a8Srgb,
	driver.FormatB8G8R8A8Unorm:      vk.FormatB8g8r8a8Unorm,
	driver.FormatB8G8R8A8Srgb:       vk.FormatB8g8r8a8Srgb,
	driver.FormatR16Sfloat:          vk.FormatR16Sfloat,
	driver.FormatR16G16B16A16Sfloat: vk.FormatR16g16b16a16Sfloat,
	driver.FormatR16G16B16A16Uint:   vk.FormatR16g16b16a16Uint,
	driver.FormatR32Sfloat:          vk.FormatR32Sfloat,
	driver.FormatR32G32Sfloat:       vk.FormatR32g32Sfloat,
	driver.FormatR32G32B32Sfloat:    vk.FormatR32g32b32Sfloat,
	driver.FormatR32G32B32A32Sfloat: vk.FormatR32g32b32a32Sfloat,
	driver.FormatD32Sfloat:          vk.FormatD32Sfloat,
	driver.FormatD32SfloatS8Uint:    vk.FormatD32SfloatS8Uint,
	driver.FormatD24UnormS8Uint:     vk.FormatD24UnormS8Uint,
}

func toFormat(f driver.Format) vk.Format {
	if v, ok := formats[f]; ok {
		return v
	}
	return vk.FormatUndefined
}

// fromFormat reports false for formats the renderer has no name for.
func fromFormat(f vk.Format) (driver.Format, bool) {
	for k, v := range formats {
		if v == f && k != driver.FormatUndefined {
			return k, true
		}
	}
	return driver.FormatUndefined, false
}

func toLayout(l driver.ImageLayout) vk.ImageLayout {
	switch l {
	case driver.ImageLayoutGeneral:
		return vk.ImageLayoutGeneral
	case driver.ImageLayoutColourAttachment:
		return vk.ImageLayoutColorAttachmentOptimal
	case driver.ImageLayoutDepthStencilAttachment:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case driver.ImageLayoutDepthStencilReadOnly:
		return vk.ImageLayoutDepthStencilReadOnlyOptimal
	case driver.ImageLayoutShaderReadOnly:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case driver.ImageLayoutTransferSrc:
		return vk.ImageLayoutTransferSrcOptimal
	case driver.ImageLayoutTransferDst:
		return vk.ImageLayoutTransferDstOptimal
	case driver.ImageLayoutPresentSrc:
		return vk.ImageLayoutPresentSrc
	default:
		return vk.ImageLayoutUndefined
	}
}

func toDescriptorType(t driver.DescriptorType) vk.DescriptorType {
	switch t {
	case driver.DescriptorStorageBuffer:
		return vk.DescriptorTypeStorageBuffer
	case driver.DescriptorCombinedImageSampler:
		return vk.DescriptorTypeCombinedImageSampler
	default:
		return vk.DescriptorTypeUniformBuffer
	}
}

func toLoadOp(op driver.AttachmentLoadOp) vk.AttachmentLoadOp {
	switch op {
	case driver.LoadOpClear:
		return vk.AttachmentLoadOpClear
	case driver.LoadOpDontCare:
		return vk.AttachmentLoadOpDontCare
	default:
		return vk.AttachmentLoadOpLoad
	}
}

func toStoreOp(op driver.AttachmentStoreOp) vk.AttachmentStoreOp {
	if op == driver.StoreOpDontCare {
		return vk.AttachmentStoreOpDontCare
	}
	return vk.AttachmentStoreOpStore
}

func toCompareOp(op driver.CompareOp) vk.CompareOp {
	switch op {
	case driver.CompareLess:
		return vk.CompareOpLess
	case driver.CompareEqual:
		return vk.CompareOpEqual
	case driver.CompareLessOrEqual:
		return vk.CompareOpLessOrEqual
	case driver.CompareGreater:
		return vk.CompareOpGreater
	case driver.CompareAlways:
		return vk.CompareOpAlways
	default:
		return vk.CompareOpNever
	}
}

func toCullMode(m driver.CullMode) vk.CullModeFlags {
	switch m {
	case driver.CullFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	case driver.CullBack:
		return vk.CullModeFlags(vk.CullModeBackBit)
	default:
		return vk.CullModeFlags(vk.CullModeNone)
	}
}

func toFilter(f driver.Filter) (vk.Filter, vk.SamplerMipmapMode) {
	if f == driver.FilterNearest {
		return vk.FilterNearest, vk.SamplerMipmapModeNearest
	}
	return vk.FilterLinear, vk.SamplerMipmapModeLinear
}

func toAddressMode(m driver.AddressMode) vk.SamplerAddressMode {
	switch m {
	case driver.AddressClampToEdge:
		return vk.SamplerAddressModeClampToEdge
	case driver.AddressClampToBorder:
		return vk.SamplerAddressModeClampToBorder
	default:
		return vk.SamplerAddressModeRepeat
	}
}

func toIndexType(t driver.IndexType) vk.IndexType {
	if t == driver.IndexTypeUint32 {
		return vk.IndexTypeUint32
	}
	return vk.IndexTypeUint16
}

func toPresentMode(m driver.PresentMode) vk.PresentMode {
	switch m {
	case driver.PresentModeImmediate:
		return vk.PresentModeImmediate
	case driver.PresentModeMailbox:
		return vk.PresentModeMailbox
	case driver.PresentModeFIFORelaxed:
		return vk.PresentModeFifoRelaxed
	default:
		return vk.PresentModeFifo
	}
}

func fromPresentMode(m vk.PresentMode) (driver.PresentMode, bool) {
	switch m {
	case vk.PresentModeImmediate:
		return driver.PresentModeImmediate, true
	case vk.PresentModeMailbox:
		return driver.PresentModeMailbox, true
	case vk.PresentModeFifo:
		return driver.PresentModeFIFO, true
	case vk.PresentModeFifoRelaxed:
		return driver.PresentModeFIFORelaxed, true
	default:
		return 0, false
	}
}

func toStages(s driver.ShaderStageFlags) vk.ShaderStageFlags {
	return vk.ShaderStageFlags(s)
}

func subresource(aspect driver.ImageAspectFlags, baseMip, mips, baseLayer, layers uint32) vk.ImageSubresourceRange {
	if mips == 0 {
		mips = 1
	}
	if layers == 0 {
		layers = 1
	}
	return vk.ImageSubresourceRange{
		AspectMask:     vk.ImageAspectFlags(aspect),
		BaseMipLevel:   baseMip,
		LevelCount:     mips,
		BaseArrayLayer: baseLayer,
		LayerCount:     layers,
	}
}

func toRequirements(reqs vk.MemoryRequirements, dedicated vk.MemoryDedicatedRequirements) driver.MemoryRequirements {
	return driver.MemoryRequirements{
		Size:              uint64(reqs.Size),
		Alignment:         uint64(reqs.Alignment),
		TypeBits:          reqs.MemoryTypeBits,
		PrefersDedicated:  dedicated.PrefersDedicatedAllocation == vk.True,
		RequiresDedicated: dedicated.RequiresDedicatedAllocation == vk.True,
	}
}
