// Package frame drives one frame of the renderer: the fixed stage sequence,
// the per-frame resources guarded by each frame's fence, shadow slot
// assignment and the swapchain recreation that follows a resize.
package frame

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/kiln/engine/renderer/driver"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
)

var ErrInvalidStage = errors.New("invalid stage")

// Stage is one step of the frame, in execution order.
type Stage uint8

const (
	StageUpload Stage = iota
	StageDepth
	StageShadow
	StageSSAO
	StageSSAOBlur
	StageRender
	StageBloom
	StagePost

	stageCount
)

// Stages lists every stage in the order it runs.
func Stages() []Stage {
	out := make([]Stage, stageCount)
	for i := range out {
		out[i] = Stage(i)
	}
	return out
}

func (s Stage) String() string {
	switch s {
	case StageUpload:
		return "Upload"
	case StageDepth:
		return "Depth"
	case StageShadow:
		return "Shadow"
	case StageSSAO:
		return "SSAO"
	case StageSSAOBlur:
		return "SSAOBlur"
	case StageRender:
		return "Render"
	case StageBloom:
		return "Bloom"
	case StagePost:
		return "Post"
	default:
		return "Invalid"
	}
}

// group is the primary command buffer a stage records into.
type group uint8

const (
	groupPre group = iota
	groupRender
	groupPost
)

func (s Stage) group() (group, error) {
	switch s {
	case StageUpload, StageDepth, StageShadow, StageSSAO, StageSSAOBlur:
		return groupPre, nil
	case StageRender:
		return groupRender, nil
	case StageBloom, StagePost:
		return groupPost, nil
	default:
		return 0, errors.Wrapf(ErrInvalidStage, "%d", s)
	}
}

// queries returns the begin and end timestamp indices of the stage.
func (s Stage) queries() (uint32, uint32) {
	return 2 * uint32(s), 2*uint32(s) + 1
}

const (
	aoFormat  = driver.FormatR8Unorm
	hdrFormat = driver.FormatR16G16B16A16Sfloat
)

// passConfig returns the render pass a stage draws with. Upload records only
// transfers and has none.
func (s Stage) passConfig(depthFormat, swapchainFormat driver.Format) (gpu.RenderPassConfig, error) {
	switch s {
	case StageUpload:
		return gpu.RenderPassConfig{}, errors.Wrap(ErrInvalidStage, "the upload stage has no render pass")
	case StageDepth:
		return gpu.RenderPassConfig{
			Name:             "depth",
			Depth:            gpu.DepthKeep,
			DepthFormat:      depthFormat,
			DepthFinalLayout: driver.ImageLayoutDepthStencilReadOnly,
		}, nil
	case StageShadow:
		return gpu.RenderPassConfig{
			Name:             "shadow",
			Depth:            gpu.DepthKeep,
			DepthFormat:      depthFormat,
			DepthFinalLayout: driver.ImageLayoutDepthStencilReadOnly,
		}, nil
	case StageSSAO, StageSSAOBlur:
		return gpu.RenderPassConfig{
			Name:              s.String(),
			ColourFormat:      aoFormat,
			ColourFinalLayout: driver.ImageLayoutShaderReadOnly,
			ClearColour:       [4]float32{1, 1, 1, 1},
		}, nil
	case StageRender:
		return gpu.RenderPassConfig{
			Name:              "render",
			ColourFormat:      hdrFormat,
			ColourFinalLayout: driver.ImageLayoutShaderReadOnly,
			Depth:             gpu.DepthReadOnly,
			DepthFormat:       depthFormat,
			DepthFinalLayout:  driver.ImageLayoutDepthStencilReadOnly,
		}, nil
	case StageBloom:
		return gpu.RenderPassConfig{
			Name:              "bloom",
			ColourFormat:      hdrFormat,
			ColourFinalLayout: driver.ImageLayoutShaderReadOnly,
		}, nil
	case StagePost:
		return gpu.RenderPassConfig{
			Name:              "post",
			ColourFormat:      swapchainFormat,
			ColourFinalLayout: driver.ImageLayoutPresentSrc,
		}, nil
	default:
		return gpu.RenderPassConfig{}, errors.Wrapf(ErrInvalidStage, "%d", s)
	}
}
