package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

func (d *Device) CreateImage(info driver.ImageCreateInfo) (driver.Image, error) {
	format := toFormat(info.Format)
	if format == vk.FormatUndefined {
		return 0, errors.Mark(errors.Newf("image: unsupported format %s", info.Format), driver.ErrFormatNotSupported)
	}
	mips, layers := info.MipLevels, info.ArrayLayers
	if mips == 0 {
		mips = 1
	}
	if layers == 0 {
		layers = 1
	}
	createInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  info.Width,
			Height: info.Height,
			Depth:  1,
		},
		MipLevels:     mips,
		ArrayLayers:   layers,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(info.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	var handle vk.Image
	if err := check(vk.CreateImage(d.device, &createInfo, nil, &handle), "vkCreateImage"); err != nil {
		return 0, logged(err)
	}
	return d.images.put(image{handle: handle, owned: true}), nil
}

// DestroyImage ignores swapchain images.
func (d *Device) DestroyImage(img driver.Image) {
	i := d.images.get(img)
	if !i.owned {
		return
	}
	d.images.take(img)
	vk.DestroyImage(d.device, i.handle, nil)
}

func (d *Device) ImageMemoryRequirements(img driver.Image) driver.MemoryRequirements {
	info := vk.ImageMemoryRequirementsInfo2{
		SType: vk.StructureTypeImageMemoryRequirementsInfo2,
		Image: d.images.get(img).handle,
	}
	return queryRequirements(func(reqs *vk.MemoryRequirements2) {
		vk.GetImageMemoryRequirements2(d.device, &info, reqs)
	})
}

func (d *Device) BindImageMemory(img driver.Image, memory driver.Memory, offset uint64) error {
	m := d.memories.get(memory)
	if m == nil {
		return errors.Newf("bind image: unknown memory %d", memory)
	}
	return logged(check(vk.BindImageMemory(d.device, d.images.get(img).handle, m.handle, vk.DeviceSize(offset)), "vkBindImageMemory"))
}

func (d *Device) CreateImageView(info driver.ImageViewCreateInfo) (driver.ImageView, error) {
	viewType := vk.ImageViewType2d
	if info.LayerCount > 1 {
		viewType = vk.ImageViewType2dArray
	}
	createInfo := vk.ImageViewCreateInfo{
		SType:            vk.StructureTypeImageViewCreateInfo,
		Image:            d.images.get(info.Image).handle,
		ViewType:         viewType,
		Format:           toFormat(info.Format),
		SubresourceRange: subresource(info.Aspect, info.BaseMip, info.MipCount, info.BaseLayer, info.LayerCount),
	}
	var view vk.ImageView
	if err := check(vk.CreateImageView(d.device, &createInfo, nil, &view), "vkCreateImageView"); err != nil {
		return 0, logged(err)
	}
	return d.views.put(view), nil
}

func (d *Device) DestroyImageView(view driver.ImageView) {
	if v, ok := d.views.take(view); ok {
		vk.DestroyImageView(d.device, v, nil)
	}
}

func (d *Device) CreateSampler(info driver.SamplerCreateInfo) (driver.Sampler, error) {
	filter, mipmap := toFilter(info.Filter)
	address := toAddressMode(info.AddressMode)
	createInfo := vk.SamplerCreateInfo{
		SType:        vk.StructureTypeSamplerCreateInfo,
		MagFilter:    filter,
		MinFilter:    filter,
		MipmapMode:   mipmap,
		AddressModeU: address,
		AddressModeV: address,
		AddressModeW: address,
		MaxLod:       info.MaxLod,
		BorderColor:  vk.BorderColorFloatOpaqueWhite,
	}
	if info.Anisotropy > 1 && d.anisotropy {
		createInfo.AnisotropyEnable = vk.True
		createInfo.MaxAnisotropy = info.Anisotropy
	}
	if info.CompareLess {
		createInfo.CompareEnable = vk.True
		createInfo.CompareOp = vk.CompareOpLess
	}
	var sampler vk.Sampler
	if err := check(vk.CreateSampler(d.device, &createInfo, nil, &sampler), "vkCreateSampler"); err != nil {
		return 0, logged(err)
	}
	return d.samplers.put(sampler), nil
}

func (d *Device) DestroySampler(sampler driver.Sampler) {
	if s, ok := d.samplers.take(sampler); ok {
		vk.DestroySampler(d.device, s, nil)
	}
}
