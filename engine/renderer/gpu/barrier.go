package gpu

import "github.com/spaghettifunk/kiln/engine/renderer/driver"

// WaitForDepthWrite makes depth written by an earlier pass readable by
// fragment shaders of later passes.
func WaitForDepthWrite(cb *CommandBuffer) error {
	return cb.PipelineBarrier(driver.BarrierInfo{
		SrcStage: driver.StageLateFragmentTests,
		DstStage: driver.StageFragmentShader | driver.StageEarlyFragmentTests,
		Memory: []driver.MemoryBarrier{{
			SrcAccess: driver.AccessDepthStencilWrite,
			DstAccess: driver.AccessShaderRead | driver.AccessDepthStencilRead,
		}},
	})
}

func WaitForColourWrite(cb *CommandBuffer) error {
	return cb.PipelineBarrier(driver.BarrierInfo{
		SrcStage: driver.StageColourAttachmentOut,
		DstStage: driver.StageFragmentShader,
		Memory: []driver.MemoryBarrier{{
			SrcAccess: driver.AccessColourAttachmentWrite,
			DstAccess: driver.AccessShaderRead,
		}},
	})
}

// WaitForTransfer makes uploaded vertex, index, uniform and texture data
// visible to the draws that follow.
func WaitForTransfer(cb *CommandBuffer) error {
	return cb.PipelineBarrier(driver.BarrierInfo{
		SrcStage: driver.StageTransfer,
		DstStage: driver.StageVertexInput | driver.StageVertexShader | driver.StageFragmentShader,
		Memory: []driver.MemoryBarrier{{
			SrcAccess: driver.AccessTransferWrite,
			DstAccess: driver.AccessVertexAttributeRead | driver.AccessIndexRead |
				driver.AccessUniformRead | driver.AccessShaderRead,
		}},
	})
}
