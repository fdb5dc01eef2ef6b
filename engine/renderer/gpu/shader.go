package gpu

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

// ShaderModule wraps compiled SPIR-V.
type ShaderModule struct {
	ctx    *Context
	handle driver.ShaderModule
	Name   string
}

func NewShaderModule(ctx *Context, name string, code []uint32) (*ShaderModule, error) {
	if len(code) == 0 {
		return nil, core.Preconditionf("shader %q has no code", name)
	}
	handle, err := ctx.Device.CreateShaderModule(code)
	if err != nil {
		return nil, core.Fatal(errors.Wrapf(err, "creating shader module %q", name))
	}
	return &ShaderModule{ctx: ctx, handle: handle, Name: name}, nil
}

func (s *ShaderModule) Handle() driver.ShaderModule {
	return s.handle
}

func (s *ShaderModule) stage(flags driver.ShaderStageFlags) driver.ShaderStage {
	return driver.ShaderStage{Stage: flags, Module: s.handle, Entry: "main"}
}

func (s *ShaderModule) Destroy() {
	if s.handle != 0 {
		s.ctx.Device.DestroyShaderModule(s.handle)
		s.handle = 0
	}
}
