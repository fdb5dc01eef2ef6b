package vulkan

import (
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

const portabilitySubset = "VK_KHR_portability_subset"

type queueFamilies struct {
	graphics uint32
	present  uint32
	transfer uint32
	compute  uint32
	// dedicated transfer and compute families differ from graphics.
	hasTransfer bool
	hasCompute  bool
}

// family resolves a queue kind to its family, falling back to graphics.
func (q queueFamilies) family(kind driver.QueueKind) uint32 {
	switch {
	case kind == driver.QueueTransfer && q.hasTransfer:
		return q.transfer
	case kind == driver.QueueCompute && q.hasCompute:
		return q.compute
	default:
		return q.graphics
	}
}

type candidate struct {
	physical    vk.PhysicalDevice
	properties  vk.PhysicalDeviceProperties
	features    vk.PhysicalDeviceFeatures
	families    queueFamilies
	portability bool
	indexing    bool
}

func (d *Device) selectPhysicalDevice() error {
	var count uint32
	if err := check(vk.EnumeratePhysicalDevices(d.instance, &count, nil), "vkEnumeratePhysicalDevices"); err != nil {
		return logged(err)
	}
	if count == 0 {
		return logged(errors.Mark(errors.New("no devices which support Vulkan were found"), driver.ErrInitializationFailed))
	}
	physicals := make([]vk.PhysicalDevice, count)
	if err := check(vk.EnumeratePhysicalDevices(d.instance, &count, physicals), "vkEnumeratePhysicalDevices"); err != nil {
		return logged(err)
	}

	var best *candidate
	for _, physical := range physicals {
		c, ok := d.evaluate(physical)
		if !ok {
			continue
		}
		discrete := c.properties.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu
		// Discrete GPUs win everywhere but darwin, where the integrated
		// part is the one MoltenVK drives best.
		if best == nil || (discrete && runtime.GOOS != "darwin") {
			best = c
		}
	}
	if best == nil {
		return logged(errors.Mark(errors.New("no physical device met the requirements"), driver.ErrInitializationFailed))
	}

	d.physical = best.physical
	d.families = best.families
	d.anisotropy = best.features.SamplerAnisotropy == vk.True
	d.fillProperties(best)

	d.log.Info("Selected device", "name", d.properties.Name, "type", deviceType(best.properties.DeviceType))
	d.log.Info("Vulkan API version",
		"major", vk.Version(best.properties.ApiVersion).Major(),
		"minor", vk.Version(best.properties.ApiVersion).Minor(),
		"patch", vk.Version(best.properties.ApiVersion).Patch(),
	)
	d.log.Debug("Queue families",
		"graphics", d.families.graphics,
		"present", d.families.present,
		"transfer", d.families.family(driver.QueueTransfer),
		"compute", d.families.family(driver.QueueCompute),
	)
	return nil
}

func deviceType(t vk.PhysicalDeviceType) string {
	switch t {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return "integrated"
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return "discrete"
	case vk.PhysicalDeviceTypeVirtualGpu:
		return "virtual"
	case vk.PhysicalDeviceTypeCpu:
		return "cpu"
	default:
		return "unknown"
	}
}

// evaluate checks graphics and present support, the swapchain extension and
// an adequate surface. It also records the optional features in use.
func (d *Device) evaluate(physical vk.PhysicalDevice) (*candidate, bool) {
	c := &candidate{physical: physical}
	vk.GetPhysicalDeviceProperties(physical, &c.properties)
	c.properties.Deref()
	c.properties.Limits.Deref()
	vk.GetPhysicalDeviceFeatures(physical, &c.features)
	c.features.Deref()
	name := cString(c.properties.DeviceName[:])

	families, ok := d.findQueueFamilies(physical)
	if !ok {
		d.log.Debug("Device skipped, missing graphics or present queue", "device", name)
		return nil, false
	}
	c.families = families

	extensions, err := deviceExtensions(physical)
	if err != nil {
		d.log.Warn("Device skipped", "device", name, "err", err)
		return nil, false
	}
	if !extensions[vk.KhrSwapchainExtensionName] {
		d.log.Debug("Device skipped, missing swapchain extension", "device", name)
		return nil, false
	}
	// Dedicated allocation queries are core from 1.1.
	if c.properties.ApiVersion < vk.MakeVersion(1, 1, 0) {
		d.log.Debug("Device skipped, older than Vulkan 1.1", "device", name)
		return nil, false
	}
	c.portability = extensions[portabilitySubset]
	c.indexing = extensions["VK_EXT_descriptor_indexing"] || vk.Version(c.properties.ApiVersion).Minor() >= 2

	var formats, modes uint32
	vk.GetPhysicalDeviceSurfaceFormats(physical, d.surface, &formats, nil)
	vk.GetPhysicalDeviceSurfacePresentModes(physical, d.surface, &modes, nil)
	if formats == 0 || modes == 0 {
		d.log.Debug("Device skipped, inadequate surface support", "device", name)
		return nil, false
	}
	return c, true
}

func deviceExtensions(physical vk.PhysicalDevice) (map[string]bool, error) {
	var count uint32
	if err := check(vk.EnumerateDeviceExtensionProperties(physical, "", &count, nil), "vkEnumerateDeviceExtensionProperties"); err != nil {
		return nil, err
	}
	available := make([]vk.ExtensionProperties, count)
	if err := check(vk.EnumerateDeviceExtensionProperties(physical, "", &count, available), "vkEnumerateDeviceExtensionProperties"); err != nil {
		return nil, err
	}
	names := make(map[string]bool, count)
	for i := range available {
		available[i].Deref()
		names[cString(available[i].ExtensionName[:])] = true
	}
	return names, nil
}

// findQueueFamilies picks the first graphics family and, for transfer and
// compute, the family with the fewest other capabilities.
func (d *Device) findQueueFamilies(physical vk.PhysicalDevice) (queueFamilies, bool) {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(physical, &count, nil)
	props := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(physical, &count, props)

	var q queueFamilies
	foundGraphics, foundPresent := false, false
	transferScore, computeScore := 255, 255
	for i := range props {
		props[i].Deref()
		family := uint32(i)
		flags := vk.QueueFlagBits(props[i].QueueFlags)
		graphics := flags&vk.QueueGraphicsBit != 0
		compute := flags&vk.QueueComputeBit != 0
		transfer := flags&vk.QueueTransferBit != 0

		score := 0
		if graphics {
			score++
			if !foundGraphics {
				q.graphics = family
				foundGraphics = true
			}
		}
		if compute {
			score++
		}
		if transfer && !graphics && score < transferScore {
			q.transfer = family
			q.hasTransfer = true
			transferScore = score
		}
		if compute && !graphics && score < computeScore {
			q.compute = family
			q.hasCompute = true
			computeScore = score
		}

		var supported vk.Bool32
		vk.GetPhysicalDeviceSurfaceSupport(physical, family, d.surface, &supported)
		if supported == vk.True && (!foundPresent || family == q.graphics) {
			q.present = family
			foundPresent = true
		}
	}
	return q, foundGraphics && foundPresent
}

func (d *Device) fillProperties(c *candidate) {
	limits := c.properties.Limits
	d.properties = driver.DeviceProperties{
		Name:     cString(c.properties.DeviceName[:]),
		Discrete: c.properties.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu,
		Limits: driver.Limits{
			NonCoherentAtomSize:             uint64(limits.NonCoherentAtomSize),
			MinUniformBufferOffsetAlignment: uint64(limits.MinUniformBufferOffsetAlignment),
			MinStorageBufferOffsetAlignment: uint64(limits.MinStorageBufferOffsetAlignment),
			MaxImageDimension2D:             limits.MaxImageDimension2D,
			TimestampPeriod:                 limits.TimestampPeriod,
			TimestampsSupported:             limits.TimestampComputeAndGraphics == vk.True,
		},
	}

	var memory vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(c.physical, &memory)
	memory.Deref()
	d.memory = driver.MemoryProperties{
		Types: make([]driver.MemoryType, memory.MemoryTypeCount),
		Heaps: make([]driver.MemoryHeap, memory.MemoryHeapCount),
	}
	for i := uint32(0); i < memory.MemoryTypeCount; i++ {
		t := memory.MemoryTypes[i]
		t.Deref()
		d.memory.Types[i] = driver.MemoryType{
			PropertyFlags: driver.MemoryPropertyFlags(t.PropertyFlags),
			HeapIndex:     t.HeapIndex,
		}
	}
	for i := uint32(0); i < memory.MemoryHeapCount; i++ {
		h := memory.MemoryHeaps[i]
		h.Deref()
		d.memory.Heaps[i] = driver.MemoryHeap{
			Size:  uint64(h.Size),
			Flags: driver.MemoryHeapFlags(h.Flags),
		}
	}
}

func (d *Device) createLogicalDevice() error {
	d.log.Info("Creating logical device...")

	families := []uint32{d.families.graphics}
	for _, f := range []uint32{d.families.present, d.families.family(driver.QueueTransfer), d.families.family(driver.QueueCompute)} {
		if !containsFamily(families, f) {
			families = append(families, f)
		}
	}
	queueInfos := make([]vk.DeviceQueueCreateInfo, len(families))
	for i, f := range families {
		queueInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: f,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	extensions := []string{vk.KhrSwapchainExtensionName}
	available, err := deviceExtensions(d.physical)
	if err != nil {
		return logged(err)
	}
	if available[portabilitySubset] {
		d.log.Info("Adding required extension", "name", portabilitySubset)
		extensions = append(extensions, portabilitySubset)
	}

	features := vk.PhysicalDeviceFeatures{SamplerAnisotropy: boolean(d.anisotropy)}
	// Texture tables write only the slots in use, so the array binding
	// must be partially bound.
	indexing := vk.PhysicalDeviceDescriptorIndexingFeatures{
		SType:                           vk.StructureTypePhysicalDeviceDescriptorIndexingFeatures,
		DescriptorBindingPartiallyBound: vk.True,
	}
	info := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		PNext:                   unsafe.Pointer(indexing.Ref()),
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{features},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensions),
	}

	var device vk.Device
	if err := check(vk.CreateDevice(d.physical, &info, nil, &device), "vkCreateDevice"); err != nil {
		return logged(err)
	}
	d.device = device
	d.log.Info("Logical device created.")

	for _, kind := range []driver.QueueKind{driver.QueueGraphics, driver.QueueTransfer, driver.QueueCompute} {
		var q vk.Queue
		vk.GetDeviceQueue(device, d.families.family(kind), 0, &q)
		d.queues[kind] = q
	}
	var present vk.Queue
	vk.GetDeviceQueue(device, d.families.present, 0, &present)
	d.present = present
	d.log.Info("Queues obtained.")
	return nil
}

func containsFamily(families []uint32, f uint32) bool {
	for _, existing := range families {
		if existing == f {
			return true
		}
	}
	return false
}

func (d *Device) detectDepthFormat() bool {
	candidates := []vk.Format{
		vk.FormatD32Sfloat,
		vk.FormatD32SfloatS8Uint,
		vk.FormatD24UnormS8Uint,
	}
	flags := vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit | vk.FormatFeatureSampledImageBit)
	for _, c := range candidates {
		var props vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(d.physical, c, &props)
		props.Deref()
		if props.OptimalTilingFeatures&flags == flags {
			d.depthFormat, _ = fromFormat(c)
			return true
		}
	}
	return false
}

func (d *Device) Properties() driver.DeviceProperties {
	return d.properties
}

func (d *Device) MemoryProperties() driver.MemoryProperties {
	return d.memory
}

// HasQueue reports whether the kind has a family of its own. Graphics is
// always present.
func (d *Device) HasQueue(queue driver.QueueKind) bool {
	switch queue {
	case driver.QueueTransfer:
		return d.families.hasTransfer
	case driver.QueueCompute:
		return d.families.hasCompute
	default:
		return true
	}
}

func (d *Device) DepthFormat() driver.Format {
	return d.depthFormat
}

func (d *Device) queue(kind driver.QueueKind) vk.Queue {
	if int(kind) >= len(d.queues) {
		return d.queues[driver.QueueGraphics]
	}
	return d.queues[kind]
}

func (d *Device) WaitIdle() error {
	return logged(check(vk.DeviceWaitIdle(d.device), "vkDeviceWaitIdle"))
}

func (d *Device) QueueWaitIdle(queue driver.QueueKind) error {
	return d.locks.call(d.families.family(queue), func() error {
		return logged(check(vk.QueueWaitIdle(d.queue(queue)), "vkQueueWaitIdle"))
	})
}
