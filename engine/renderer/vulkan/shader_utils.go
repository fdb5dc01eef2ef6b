package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic = 0x07230203

func (d *Device) CreateShaderModule(code []uint32) (driver.ShaderModule, error) {
	if len(code) == 0 || code[0] != spirvMagic {
		return 0, errors.New("shader module: code is not SPIR-V")
	}
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code) * 4),
		PCode:    code,
	}
	var module vk.ShaderModule
	if err := check(vk.CreateShaderModule(d.device, &createInfo, nil, &module), "vkCreateShaderModule"); err != nil {
		return 0, logged(err)
	}
	return d.shaders.put(module), nil
}

func (d *Device) DestroyShaderModule(module driver.ShaderModule) {
	if m, ok := d.shaders.take(module); ok {
		vk.DestroyShaderModule(d.device, m, nil)
	}
}
