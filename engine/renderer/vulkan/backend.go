// Package vulkan implements driver.Device on top of goki/vulkan.
package vulkan

import (
	"runtime"
	"unsafe"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

// Surface is the window the device presents to.
type Surface interface {
	VulkanProcAddress() unsafe.Pointer
	RequiredInstanceExtensions() []string
	CreateWindowSurface(instance interface{}, allocator unsafe.Pointer) (uintptr, error)
}

type Config struct {
	ApplicationName string
	// Debug enables the validation layers and the debug report callback.
	Debug bool
}

type memory struct {
	handle vk.DeviceMemory
	size   uint64
	mapped []byte
}

type image struct {
	handle vk.Image
	// owned is false for swapchain images, which the swapchain destroys.
	owned bool
}

type descriptorPool struct {
	handle vk.DescriptorPool
	sets   []driver.DescriptorSet
}

type commandPool struct {
	handle  vk.CommandPool
	family  uint32
	buffers []driver.CommandBuffer
}

type commandBuffer struct {
	handle vk.CommandBuffer
	level  driver.CommandBufferLevel
}

type swapchain struct {
	handle vk.Swapchain
	images []driver.Image
}

type Device struct {
	cfg Config
	log *log.Logger

	instance vk.Instance
	debug    vk.DebugReportCallback
	surface  vk.Surface
	physical vk.PhysicalDevice
	device   vk.Device
	families queueFamilies
	queues   [3]vk.Queue
	present  vk.Queue
	locks    *queueLocks

	properties  driver.DeviceProperties
	memory      driver.MemoryProperties
	depthFormat driver.Format
	anisotropy  bool

	buffers         handles[driver.Buffer, vk.Buffer]
	images          handles[driver.Image, image]
	memories        handles[driver.Memory, *memory]
	views           handles[driver.ImageView, vk.ImageView]
	samplers        handles[driver.Sampler, vk.Sampler]
	setLayouts      handles[driver.DescriptorSetLayout, vk.DescriptorSetLayout]
	descriptorPools handles[driver.DescriptorPool, *descriptorPool]
	sets            handles[driver.DescriptorSet, vk.DescriptorSet]
	renderPasses    handles[driver.RenderPass, *renderPass]
	framebuffers    handles[driver.Framebuffer, vk.Framebuffer]
	shaders         handles[driver.ShaderModule, vk.ShaderModule]
	layouts         handles[driver.PipelineLayout, vk.PipelineLayout]
	pipelines       handles[driver.Pipeline, vk.Pipeline]
	commandPools    handles[driver.CommandPool, *commandPool]
	commandBuffers  handles[driver.CommandBuffer, commandBuffer]
	fences          handles[driver.Fence, vk.Fence]
	semaphores      handles[driver.Semaphore, vk.Semaphore]
	queryPools      handles[driver.QueryPool, vk.QueryPool]
	swapchains      handles[driver.Swapchain, *swapchain]
}

var _ driver.Device = (*Device)(nil)

// New creates the instance, the window surface and the logical device.
func New(surface Surface, cfg Config) (*Device, error) {
	d := &Device{
		cfg:             cfg,
		log:             core.Logger("vulkan"),
		locks:           newQueueLocks(),
		buffers:         newHandles[driver.Buffer, vk.Buffer](),
		images:          newHandles[driver.Image, image](),
		memories:        newHandles[driver.Memory, *memory](),
		views:           newHandles[driver.ImageView, vk.ImageView](),
		samplers:        newHandles[driver.Sampler, vk.Sampler](),
		setLayouts:      newHandles[driver.DescriptorSetLayout, vk.DescriptorSetLayout](),
		descriptorPools: newHandles[driver.DescriptorPool, *descriptorPool](),
		sets:            newHandles[driver.DescriptorSet, vk.DescriptorSet](),
		renderPasses:    newHandles[driver.RenderPass, *renderPass](),
		framebuffers:    newHandles[driver.Framebuffer, vk.Framebuffer](),
		shaders:         newHandles[driver.ShaderModule, vk.ShaderModule](),
		layouts:         newHandles[driver.PipelineLayout, vk.PipelineLayout](),
		pipelines:       newHandles[driver.Pipeline, vk.Pipeline](),
		commandPools:    newHandles[driver.CommandPool, *commandPool](),
		commandBuffers:  newHandles[driver.CommandBuffer, commandBuffer](),
		fences:          newHandles[driver.Fence, vk.Fence](),
		semaphores:      newHandles[driver.Semaphore, vk.Semaphore](),
		queryPools:      newHandles[driver.QueryPool, vk.QueryPool](),
		swapchains:      newHandles[driver.Swapchain, *swapchain](),
	}

	procAddr := surface.VulkanProcAddress()
	if procAddr == nil {
		return nil, logged(errors.Mark(errors.New("GetInstanceProcAddress is nil"), driver.ErrInitializationFailed))
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return nil, logged(errors.Mark(errors.Wrap(err, "failed to initialize vulkan"), driver.ErrInitializationFailed))
	}

	if err := d.createInstance(surface.RequiredInstanceExtensions()); err != nil {
		return nil, err
	}
	if cfg.Debug {
		if err := d.createDebugCallback(); err != nil {
			d.Destroy()
			return nil, err
		}
	}

	d.log.Debug("Creating Vulkan surface...")
	ptr, err := surface.CreateWindowSurface(d.instance, nil)
	if err != nil {
		d.Destroy()
		return nil, logged(errors.Mark(errors.Wrap(err, "vulkan surface creation failed"), driver.ErrSurfaceLost))
	}
	d.surface = vk.SurfaceFromPointer(ptr)

	if err := d.selectPhysicalDevice(); err != nil {
		d.Destroy()
		return nil, err
	}
	if err := d.createLogicalDevice(); err != nil {
		d.Destroy()
		return nil, err
	}
	if !d.detectDepthFormat() {
		d.Destroy()
		return nil, logged(errors.Mark(errors.New("no supported depth format"), driver.ErrFormatNotSupported))
	}
	d.log.Info("Vulkan device initialized", "device", d.properties.Name, "depth", d.depthFormat)
	return d, nil
}

func (d *Device) createInstance(windowExtensions []string) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         vk.MakeVersion(1, 2, 0),
		ApplicationVersion: vk.MakeVersion(1, 0, 0),
		PApplicationName:   VulkanSafeString(d.cfg.ApplicationName),
		PEngineName:        VulkanSafeString("Kiln Engine"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := append([]string{"VK_KHR_surface"}, windowExtensions...)
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}

	var layers []string
	if d.cfg.Debug {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		layers = []string{"VK_LAYER_KHRONOS_validation"}
		if err := requireLayers(layers); err != nil {
			return err
		}
		d.log.Debug("Required extensions", "extensions", extensions)
	}

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	var instance vk.Instance
	if err := check(vk.CreateInstance(&createInfo, nil, &instance), "vkCreateInstance"); err != nil {
		return logged(err)
	}
	d.instance = instance
	if err := vk.InitInstance(instance); err != nil {
		return logged(errors.Mark(errors.Wrap(err, "failed to load instance functions"), driver.ErrInitializationFailed))
	}
	d.log.Info("Vulkan Instance created.")
	return nil
}

func requireLayers(required []string) error {
	var count uint32
	if err := check(vk.EnumerateInstanceLayerProperties(&count, nil), "vkEnumerateInstanceLayerProperties"); err != nil {
		return logged(err)
	}
	available := make([]vk.LayerProperties, count)
	if err := check(vk.EnumerateInstanceLayerProperties(&count, available), "vkEnumerateInstanceLayerProperties"); err != nil {
		return logged(err)
	}
	names := make(map[string]bool, len(available))
	for i := range available {
		available[i].Deref()
		names[cString(available[i].LayerName[:])] = true
	}
	for _, layer := range required {
		if !names[layer] {
			return logged(errors.Mark(errors.Newf("required validation layer is missing: %s", layer), driver.ErrInitializationFailed))
		}
	}
	return nil
}

func (d *Device) createDebugCallback() error {
	info := vk.DebugReportCallbackCreateInfo{
		SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
		PfnCallback: dbgCallbackFunc,
	}
	var callback vk.DebugReportCallback
	if err := check(vk.CreateDebugReportCallback(d.instance, &info, nil, &callback), "vkCreateDebugReportCallback"); err != nil {
		return logged(err)
	}
	d.debug = callback
	d.log.Debug("Vulkan debugger created.")
	return nil
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	l := core.Logger("vulkan").With("layer", pLayerPrefix, "code", messageCode)
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		l.Error(pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit|vk.DebugReportPerformanceWarningBit) != 0:
		l.Warn(pMessage)
	default:
		l.Debug(pMessage)
	}
	return vk.Bool32(vk.False)
}

// Destroy releases everything the device still owns, newest first.
func (d *Device) Destroy() {
	if d.device != nil {
		vk.DeviceWaitIdle(d.device)
		d.destroyLeaked()
		vk.DestroyDevice(d.device, nil)
		d.device = nil
	}
	if d.surface != vk.NullSurface {
		vk.DestroySurface(d.instance, d.surface, nil)
		d.surface = vk.NullSurface
	}
	if d.debug != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(d.instance, d.debug, nil)
		d.debug = vk.NullDebugReportCallback
	}
	if d.instance != nil {
		vk.DestroyInstance(d.instance, nil)
		d.instance = nil
	}
}

// destroyLeaked reports objects the renderer forgot and destroys them so the
// validation layers stay quiet on shutdown.
func (d *Device) destroyLeaked() {
	leaked := d.swapchains.len() + d.commandPools.len() + d.pipelines.len() + d.buffers.len() + d.memories.len()
	if leaked == 0 {
		return
	}
	d.log.Warn("destroying leaked objects", "count", leaked)
	d.swapchains.each(func(s *swapchain) { vk.DestroySwapchain(d.device, s.handle, nil) })
	d.commandPools.each(func(p *commandPool) { vk.DestroyCommandPool(d.device, p.handle, nil) })
	d.pipelines.each(func(p vk.Pipeline) { vk.DestroyPipeline(d.device, p, nil) })
	d.buffers.each(func(b vk.Buffer) { vk.DestroyBuffer(d.device, b, nil) })
	d.memories.each(func(m *memory) { vk.FreeMemory(d.device, m.handle, nil) })
}
