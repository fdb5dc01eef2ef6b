package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

// VulkanResultString names a VkResult. The extended form adds a short
// explanation of the error codes the renderer can run into.
func VulkanResultString(result vk.Result, extended bool) string {
	name, detail := resultName(result)
	if !extended || detail == "" {
		return name
	}
	return name + " " + detail
}

func resultName(result vk.Result) (string, string) {
	switch result {
	case vk.Success:
		return "VK_SUCCESS", ""
	case vk.NotReady:
		return "VK_NOT_READY", "a fence or query has not yet completed"
	case vk.Timeout:
		return "VK_TIMEOUT", "a wait operation has not completed in the specified time"
	case vk.Incomplete:
		return "VK_INCOMPLETE", "a return array was too small for the result"
	case vk.Suboptimal:
		return "VK_SUBOPTIMAL_KHR", "the swapchain no longer matches the surface exactly"
	case vk.ErrorOutOfHostMemory:
		return "VK_ERROR_OUT_OF_HOST_MEMORY", "a host memory allocation has failed"
	case vk.ErrorOutOfDeviceMemory:
		return "VK_ERROR_OUT_OF_DEVICE_MEMORY", "a device memory allocation has failed"
	case vk.ErrorInitializationFailed:
		return "VK_ERROR_INITIALIZATION_FAILED", "initialization of an object could not be completed"
	case vk.ErrorDeviceLost:
		return "VK_ERROR_DEVICE_LOST", "the logical or physical device has been lost"
	case vk.ErrorMemoryMapFailed:
		return "VK_ERROR_MEMORY_MAP_FAILED", "mapping of a memory object has failed"
	case vk.ErrorLayerNotPresent:
		return "VK_ERROR_LAYER_NOT_PRESENT", "a requested layer is not present"
	case vk.ErrorExtensionNotPresent:
		return "VK_ERROR_EXTENSION_NOT_PRESENT", "a requested extension is not supported"
	case vk.ErrorFeatureNotPresent:
		return "VK_ERROR_FEATURE_NOT_PRESENT", "a requested feature is not supported"
	case vk.ErrorIncompatibleDriver:
		return "VK_ERROR_INCOMPATIBLE_DRIVER", "the requested version of Vulkan is not supported by the driver"
	case vk.ErrorTooManyObjects:
		return "VK_ERROR_TOO_MANY_OBJECTS", "too many objects of the type have already been created"
	case vk.ErrorFormatNotSupported:
		return "VK_ERROR_FORMAT_NOT_SUPPORTED", "a requested format is not supported on this device"
	case vk.ErrorFragmentedPool:
		return "VK_ERROR_FRAGMENTED_POOL", "a pool allocation has failed due to fragmentation"
	case vk.ErrorOutOfPoolMemory:
		return "VK_ERROR_OUT_OF_POOL_MEMORY", "a pool memory allocation has failed"
	case vk.ErrorSurfaceLost:
		return "VK_ERROR_SURFACE_LOST_KHR", "the surface is no longer available"
	case vk.ErrorNativeWindowInUse:
		return "VK_ERROR_NATIVE_WINDOW_IN_USE_KHR", "the window is already in use"
	case vk.ErrorOutOfDate:
		return "VK_ERROR_OUT_OF_DATE_KHR", "the surface changed and the swapchain must be recreated"
	default:
		return "VK_ERROR_UNKNOWN", "an unknown error has occurred"
	}
}

func VulkanResultIsSuccess(result vk.Result) bool {
	return result >= 0
}

// check turns a VkResult into an error marked with the matching driver
// sentinel. Success and the other non-negative codes return nil.
func check(result vk.Result, op string) error {
	if VulkanResultIsSuccess(result) {
		return nil
	}
	err := errors.Newf("%s failed with %s", op, VulkanResultString(result, false))
	if sentinel := sentinelFor(result); sentinel != nil {
		err = errors.Mark(err, sentinel)
	}
	return err
}

func sentinelFor(result vk.Result) error {
	switch result {
	case vk.ErrorOutOfHostMemory:
		return driver.ErrOutOfHostMemory
	case vk.ErrorOutOfDeviceMemory:
		return driver.ErrOutOfDeviceMemory
	case vk.ErrorOutOfPoolMemory, vk.ErrorFragmentedPool:
		return driver.ErrOutOfPoolMemory
	case vk.ErrorDeviceLost:
		return driver.ErrDeviceLost
	case vk.ErrorOutOfDate:
		return driver.ErrOutOfDate
	case vk.Suboptimal:
		return driver.ErrSuboptimal
	case vk.ErrorSurfaceLost:
		return driver.ErrSurfaceLost
	case vk.Timeout:
		return driver.ErrTimeout
	case vk.NotReady:
		return driver.ErrNotReady
	case vk.ErrorInitializationFailed:
		return driver.ErrInitializationFailed
	case vk.ErrorFormatNotSupported:
		return driver.ErrFormatNotSupported
	case vk.ErrorMemoryMapFailed:
		return driver.ErrMemoryMapFailed
	default:
		return nil
	}
}

// status is check for calls whose non-error results carry meaning, such as
// timeouts and suboptimal swapchains.
func status(result vk.Result, op string) error {
	if result == vk.Success {
		return nil
	}
	if sentinel := sentinelFor(result); sentinel != nil && VulkanResultIsSuccess(result) {
		return errors.Mark(errors.Newf("%s returned %s", op, VulkanResultString(result, false)), sentinel)
	}
	return check(result, op)
}

func logged(err error) error {
	if err != nil {
		core.LogError(err.Error())
	}
	return err
}

var end = "\x00"
var endChar byte = '\x00'

func VulkanSafeString(s string) string {
	if len(s) == 0 {
		return end
	}
	if s[len(s)-1] != endChar {
		return s + end
	}
	return s
}

func VulkanSafeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = VulkanSafeString(list[i])
	}
	return out
}

// cString trims a fixed size, NUL padded name returned by the driver.
func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func boolean(b bool) vk.Bool32 {
	if b {
		return vk.True
	}
	return vk.False
}
