package vulkan

import (
	"testing"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

func TestCheckMarksSentinels(t *testing.T) {
	testCases := map[string]struct {
		result   vk.Result
		sentinel error
	}{
		"device lost":        {result: vk.ErrorDeviceLost, sentinel: driver.ErrDeviceLost},
		"host memory":        {result: vk.ErrorOutOfHostMemory, sentinel: driver.ErrOutOfHostMemory},
		"device memory":      {result: vk.ErrorOutOfDeviceMemory, sentinel: driver.ErrOutOfDeviceMemory},
		"pool memory":        {result: vk.ErrorOutOfPoolMemory, sentinel: driver.ErrOutOfPoolMemory},
		"fragmented pool":    {result: vk.ErrorFragmentedPool, sentinel: driver.ErrOutOfPoolMemory},
		"out of date":        {result: vk.ErrorOutOfDate, sentinel: driver.ErrOutOfDate},
		"surface lost":       {result: vk.ErrorSurfaceLost, sentinel: driver.ErrSurfaceLost},
		"map failed":         {result: vk.ErrorMemoryMapFailed, sentinel: driver.ErrMemoryMapFailed},
		"format unsupported": {result: vk.ErrorFormatNotSupported, sentinel: driver.ErrFormatNotSupported},
	}
	for testName, testCase := range testCases {
		t.Run(testName, func(t *testing.T) {
			err := check(testCase.result, "vkTest")
			require.Error(t, err)
			require.True(t, errors.Is(err, testCase.sentinel))
			require.Contains(t, err.Error(), "vkTest")
		})
	}
}

func TestCheckSuccessCodes(t *testing.T) {
	for _, result := range []vk.Result{vk.Success, vk.NotReady, vk.Timeout, vk.Suboptimal, vk.Incomplete} {
		require.NoError(t, check(result, "vkTest"))
	}
}

func TestStatusKeepsMeaningfulCodes(t *testing.T) {
	testCases := map[string]struct {
		result   vk.Result
		sentinel error
	}{
		"timeout":    {result: vk.Timeout, sentinel: driver.ErrTimeout},
		"not ready":  {result: vk.NotReady, sentinel: driver.ErrNotReady},
		"suboptimal": {result: vk.Suboptimal, sentinel: driver.ErrSuboptimal},
		"lost":       {result: vk.ErrorDeviceLost, sentinel: driver.ErrDeviceLost},
	}
	for testName, testCase := range testCases {
		t.Run(testName, func(t *testing.T) {
			require.ErrorIs(t, status(testCase.result, "vkTest"), testCase.sentinel)
		})
	}
	require.NoError(t, status(vk.Success, "vkTest"))
}

func TestVulkanResultString(t *testing.T) {
	require.Equal(t, "VK_ERROR_DEVICE_LOST", VulkanResultString(vk.ErrorDeviceLost, false))
	require.Contains(t, VulkanResultString(vk.ErrorDeviceLost, true), "has been lost")
	require.Equal(t, "VK_SUCCESS", VulkanResultString(vk.Success, true))
}

func TestSafeStrings(t *testing.T) {
	require.Equal(t, "\x00", VulkanSafeString(""))
	require.Equal(t, "main\x00", VulkanSafeString("main"))
	require.Equal(t, "main\x00", VulkanSafeString("main\x00"))
	in := []string{"a", "b\x00"}
	require.Equal(t, []string{"a\x00", "b\x00"}, VulkanSafeStrings(in))
	require.Equal(t, "a", in[0])
	require.Equal(t, "VK_LAYER", cString([]byte{'V', 'K', '_', 'L', 'A', 'Y', 'E', 'R', 0, 0, 'x'}))
}
