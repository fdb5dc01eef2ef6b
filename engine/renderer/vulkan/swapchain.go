package vulkan

import (
	"time"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

// SurfaceCapabilities reports the raw surface extent. A current width of
// MaxUint32 means the swapchain decides.
func (d *Device) SurfaceCapabilities() (driver.SurfaceCapabilities, error) {
	var caps vk.SurfaceCapabilities
	if err := check(vk.GetPhysicalDeviceSurfaceCapabilities(d.physical, d.surface, &caps), "vkGetPhysicalDeviceSurfaceCapabilities"); err != nil {
		return driver.SurfaceCapabilities{}, logged(err)
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()
	out := driver.SurfaceCapabilities{
		MinImageCount: caps.MinImageCount,
		MaxImageCount: caps.MaxImageCount,
		CurrentWidth:  caps.CurrentExtent.Width,
		CurrentHeight: caps.CurrentExtent.Height,
		MinWidth:      caps.MinImageExtent.Width,
		MinHeight:     caps.MinImageExtent.Height,
		MaxWidth:      caps.MaxImageExtent.Width,
		MaxHeight:     caps.MaxImageExtent.Height,
	}

	var count uint32
	if err := check(vk.GetPhysicalDeviceSurfaceFormats(d.physical, d.surface, &count, nil), "vkGetPhysicalDeviceSurfaceFormats"); err != nil {
		return out, logged(err)
	}
	formats := make([]vk.SurfaceFormat, count)
	if err := check(vk.GetPhysicalDeviceSurfaceFormats(d.physical, d.surface, &count, formats), "vkGetPhysicalDeviceSurfaceFormats"); err != nil {
		return out, logged(err)
	}
	for i := range formats {
		formats[i].Deref()
		if formats[i].ColorSpace != vk.ColorSpaceSrgbNonlinear {
			continue
		}
		if f, ok := fromFormat(formats[i].Format); ok {
			out.Formats = append(out.Formats, driver.SurfaceFormat{Format: f, ColourSpace: driver.ColourSpaceSRGBNonlinear})
		}
	}

	if err := check(vk.GetPhysicalDeviceSurfacePresentModes(d.physical, d.surface, &count, nil), "vkGetPhysicalDeviceSurfacePresentModes"); err != nil {
		return out, logged(err)
	}
	modes := make([]vk.PresentMode, count)
	if err := check(vk.GetPhysicalDeviceSurfacePresentModes(d.physical, d.surface, &count, modes), "vkGetPhysicalDeviceSurfacePresentModes"); err != nil {
		return out, logged(err)
	}
	for _, m := range modes {
		if mode, ok := fromPresentMode(m); ok {
			out.PresentModes = append(out.PresentModes, mode)
		}
	}
	return out, nil
}

func (d *Device) CreateSwapchain(info driver.SwapchainCreateInfo) (driver.Swapchain, error) {
	var caps vk.SurfaceCapabilities
	if err := check(vk.GetPhysicalDeviceSurfaceCapabilities(d.physical, d.surface, &caps), "vkGetPhysicalDeviceSurfaceCapabilities"); err != nil {
		return 0, logged(err)
	}
	caps.Deref()

	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          d.surface,
		MinImageCount:    info.ImageCount,
		ImageFormat:      toFormat(info.Format.Format),
		ImageColorSpace:  vk.ColorSpaceSrgbNonlinear,
		ImageExtent:      vk.Extent2D{Width: info.Width, Height: info.Height},
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      toPresentMode(info.PresentMode),
		Clipped:          vk.True,
	}
	if d.families.graphics != d.families.present {
		createInfo.ImageSharingMode = vk.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{d.families.graphics, d.families.present}
	}
	if old := d.swapchains.get(info.Old); old != nil {
		createInfo.OldSwapchain = old.handle
	}

	var handle vk.Swapchain
	if err := check(vk.CreateSwapchain(d.device, &createInfo, nil, &handle), "vkCreateSwapchain"); err != nil {
		return 0, logged(err)
	}

	var count uint32
	if err := check(vk.GetSwapchainImages(d.device, handle, &count, nil), "vkGetSwapchainImages"); err != nil {
		vk.DestroySwapchain(d.device, handle, nil)
		return 0, logged(err)
	}
	vkImages := make([]vk.Image, count)
	if err := check(vk.GetSwapchainImages(d.device, handle, &count, vkImages), "vkGetSwapchainImages"); err != nil {
		vk.DestroySwapchain(d.device, handle, nil)
		return 0, logged(err)
	}
	sc := &swapchain{handle: handle, images: make([]driver.Image, count)}
	for i, img := range vkImages {
		sc.images[i] = d.images.put(image{handle: img})
	}
	d.log.Info("Swapchain created", "width", info.Width, "height", info.Height, "images", count, "mode", info.PresentMode)
	return d.swapchains.put(sc), nil
}

func (d *Device) DestroySwapchain(sc driver.Swapchain) {
	s, ok := d.swapchains.take(sc)
	if !ok {
		return
	}
	for _, img := range s.images {
		d.images.take(img)
	}
	vk.DestroySwapchain(d.device, s.handle, nil)
}

func (d *Device) SwapchainImages(sc driver.Swapchain) ([]driver.Image, error) {
	s := d.swapchains.get(sc)
	if s == nil {
		return nil, errors.Newf("unknown swapchain %d", sc)
	}
	return append([]driver.Image(nil), s.images...), nil
}

// AcquireNextImage returns the index together with ErrSuboptimal when the
// image is usable but the surface has changed.
func (d *Device) AcquireNextImage(sc driver.Swapchain, timeout time.Duration, signal driver.Semaphore) (uint32, error) {
	s := d.swapchains.get(sc)
	if s == nil {
		return 0, errors.Newf("unknown swapchain %d", sc)
	}
	var index uint32
	result := vk.AcquireNextImage(d.device, s.handle, uint64(timeout.Nanoseconds()), d.semaphores.get(signal), vk.NullFence, &index)
	return index, status(result, "vkAcquireNextImageKHR")
}

func (d *Device) Present(sc driver.Swapchain, index uint32, wait []driver.Semaphore) error {
	s := d.swapchains.get(sc)
	if s == nil {
		return errors.Newf("unknown swapchain %d", sc)
	}
	waits := d.semaphoreList(wait)
	info := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(waits)),
		PWaitSemaphores:    waits,
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{s.handle},
		PImageIndices:      []uint32{index},
	}
	return d.locks.call(d.families.present, func() error {
		return status(vk.QueuePresent(d.present, &info), "vkQueuePresentKHR")
	})
}
