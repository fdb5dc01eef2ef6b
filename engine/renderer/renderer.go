// Package renderer is the front door of the rendering stack. It builds the
// Vulkan device, the gpu.Context and the frame.FrameObject and forwards
// resize, draw and resource requests to them.
package renderer

import (
	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/kiln/engine/config"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/platform"
	"github.com/spaghettifunk/kiln/engine/renderer/frame"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
	"github.com/spaghettifunk/kiln/engine/renderer/vulkan"
)

type RendererType uint8

const (
	Vulkan RendererType = iota
	DirectX
	Metal
	OpenGL
)

type Renderer struct {
	device *vulkan.Device
	ctx    *gpu.Context
	frames *frame.FrameObject
	log    *log.Logger
}

// New creates the renderer for the platform window. Every failure here is
// fatal.
func New(appName string, p *platform.Platform, cfg config.Renderer, shaders map[string]frame.ShaderSource) (_ *Renderer, err error) {
	r := &Renderer{log: core.Logger("renderer")}
	defer func() {
		if err != nil {
			r.Shutdown()
		}
	}()

	r.device, err = vulkan.New(p, vulkan.Config{
		ApplicationName: appName,
		Debug:           cfg.Debug,
	})
	if err != nil {
		return nil, core.Fatal(errors.Wrap(err, "creating the vulkan device"))
	}
	r.ctx = gpu.NewContext(r.device, gpu.ContextConfig{
		Strict:         cfg.Strict,
		FrameTimeout:   cfg.FrameTimeout.Duration,
		PresentTimeout: cfg.PresentTimeout.Duration,
	})
	r.frames, err = frame.NewFrameObject(r.ctx, p, frame.NewConfig(cfg, shaders))
	if err != nil {
		return nil, core.Fatal(errors.Wrap(err, "creating the frame object"))
	}
	r.log.Info("Renderer initialized", "type", Vulkan, "frames", r.frames.FrameCount())
	return r, nil
}

func (r *Renderer) Shutdown() {
	if r.frames != nil {
		r.frames.Destroy()
		r.frames = nil
	}
	if r.ctx != nil {
		if r.log.GetLevel() <= log.DebugLevel {
			r.log.Debug("memory statistics", "json", string(r.ctx.Allocator.StatisticsJSON()))
		}
		r.ctx.Destroy()
		r.ctx = nil
	}
	if r.device != nil {
		r.device.Destroy()
		r.device = nil
	}
}

// OnResize asks for a new swapchain before the next frame.
func (r *Renderer) OnResize(width, height uint32) {
	r.log.Debug("resize requested", "width", width, "height", height)
	r.frames.Resize()
}

// DrawFrame renders one packet. Only fatal and precondition errors reach the
// caller; a swapchain being rebuilt skips the frame.
func (r *Renderer) DrawFrame(packet *frame.Packet) error {
	if err := r.frames.Draw(packet); err != nil {
		r.log.Error("draw frame failed", "frame", r.frames.FrameNumber(), "err", err)
		return err
	}
	return nil
}

// CreateMesh stages the mesh and queues its transfer for the next frame.
func (r *Renderer) CreateMesh(data []byte, meta metadata.MeshMetadata) (*frame.Mesh, error) {
	mesh, err := frame.UploadMesh(r.ctx, data, meta)
	if err != nil {
		return nil, err
	}
	r.frames.Upload(mesh)
	return mesh, nil
}

// CreateTexture stages the texture, queues its transfer and gives it a slot
// in the material texture array.
func (r *Renderer) CreateTexture(data frame.TextureData) (*frame.Texture, int, error) {
	texture, err := frame.UploadTexture(r.ctx, data)
	if err != nil {
		return nil, 0, err
	}
	r.frames.Upload(texture)
	return texture, r.frames.AddTexture(texture), nil
}

func (r *Renderer) ReleaseMesh(m *frame.Mesh) {
	r.frames.ReleaseMesh(m)
}

func (r *Renderer) ReleaseTexture(t *frame.Texture) {
	r.frames.ReleaseTexture(t)
}

func (r *Renderer) ReloadShader(path string, code []uint32) error {
	return r.frames.ReloadShader(path, code)
}

func (r *Renderer) Timings() frame.StageTimings {
	return r.frames.Timings()
}
