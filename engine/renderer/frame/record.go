package frame

import (
	"encoding/binary"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/math"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

const pushConstantSize = 16

// pushCameraView tells the depth vertex shader to project with the camera
// instead of a shadow slot matrix.
const pushCameraView = ^uint32(0)

var meshPushConstants = []driver.PushConstantRange{{
	Stages: driver.ShaderStageVertex | driver.ShaderStageFragment,
	Offset: 0,
	Size:   pushConstantSize,
}}

// meshDraw is one submesh draw. record is its index in the draw storage
// buffer, passed as the first instance.
type meshDraw struct {
	mesh     *Mesh
	pipeline *gpu.PipelineSet
	submesh  metadata.Submesh
	record   uint32
}

// meshPipeline returns the pipelines for a vertex layout and cull mode,
// building them the first time they are asked for.
func (f *FrameObject) meshPipeline(layout metadata.VertexLayout, cull driver.CullMode) (*gpu.PipelineSet, error) {
	name := "mesh:" + layout.Key() + ":" + strconv.Itoa(int(cull))
	if set, ok := f.pipelines.Get(name); ok {
		return set, nil
	}
	vertex := gpu.VertexLayout{Stride: layout.Stride}
	for i, a := range layout.Attributes {
		format, err := a.Format()
		if err != nil {
			return nil, err
		}
		vertex.Attributes = append(vertex.Attributes, driver.VertexAttributeDescription{
			Location: a.Location(),
			Binding:  0,
			Format:   format,
			Offset:   layout.Offsets[i],
		})
	}
	sources := []string{
		f.cfg.Shaders[ShaderMeshVertex].Path,
		f.cfg.Shaders[ShaderMeshFragment].Path,
		f.cfg.Shaders[ShaderDepthVertex].Path,
	}
	return f.pipelines.Register(name, sources, func() (*gpu.PipelineSet, error) {
		return gpu.NewPipelineSet(f.ctx, gpu.PipelineSpec{
			Name:              name,
			SetLayouts:        []*gpu.DescriptorLayout{f.sceneLayout},
			PushConstants:     meshPushConstants,
			Vertex:            f.shaders[ShaderMeshVertex],
			Fragment:          f.shaders[ShaderMeshFragment],
			DepthVertex:       f.shaders[ShaderDepthVertex],
			Layout:            vertex,
			CullMode:          cull,
			NormalPass:        f.passes[StageRender],
			DepthPass:         f.passes[StageDepth],
			ShadowPass:        f.passes[StageShadow],
			DepthBiasConstant: 1.25,
			DepthBiasSlope:    1.75,
		})
	})
}

// validLights drops invalid lights and clamps the rest to the configured
// maximum. An invalid light fails the frame in strict mode.
func (f *FrameObject) validLights(in []metadata.Light) ([]metadata.Light, error) {
	out := make([]metadata.Light, 0, len(in))
	for i, l := range in {
		if l.CastsShadow && l.ShadowResolution == 0 {
			l.ShadowResolution = f.cfg.ShadowResolution
		}
		if err := l.Validate(); err != nil {
			if f.ctx.Strict {
				return nil, core.Preconditionf("light %d: %v", i, err)
			}
			f.log.Warn("skipping invalid light", "light", i, "err", err)
			continue
		}
		if len(out) == f.cfg.MaxLights {
			f.ctx.Exhausted("lights", f.cfg.MaxLights)
			break
		}
		out = append(out, l)
	}
	return out, nil
}

func (f *FrameObject) drawList(draws []DrawCall) ([]drawRecord, []meshDraw, error) {
	fallback := metadata.DefaultMaterial()
	var records []drawRecord
	var items []meshDraw
	for _, d := range draws {
		if d.Mesh == nil || !d.Mesh.Drawable() {
			continue
		}
		for _, sub := range d.Mesh.Metadata().DrawRanges() {
			if len(records) == f.cfg.MaxDrawCalls {
				f.ctx.Exhausted("draw calls", f.cfg.MaxDrawCalls)
				return records, items, nil
			}
			material := fallback
			if sub.Material >= 0 && sub.Material < len(d.Materials) && d.Materials[sub.Material] != nil {
				material = d.Materials[sub.Material]
			}
			cull, err := material.CullMode.CullMode()
			if err != nil {
				f.log.Warn("skipping draw", "mesh", d.Mesh.Name, "material", material.Name, "err", err)
				continue
			}
			set, err := f.meshPipeline(d.Mesh.Layout(), cull)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "pipeline for mesh %q", d.Mesh.Name)
			}
			items = append(items, meshDraw{mesh: d.Mesh, pipeline: set, submesh: sub, record: uint32(len(records))})
			records = append(records, drawRecord{model: d.Model, material: material})
		}
	}
	return records, items, nil
}

// record prepares the scene data of a frame and records its three primary
// command buffers.
func (f *FrameObject) record(p *PerFrameData, packet *Packet, index uint32) error {
	p.uploads, f.uploads = f.uploads, nil
	if len(p.uploads) > 0 {
		if err := f.recordUploads(p); err != nil {
			return err
		}
	}

	lights, err := f.validLights(packet.Lights)
	if err != nil {
		return err
	}
	assigned, retired, err := f.shadows.Assign(lights)
	for _, slot := range retired {
		p.deferred = append(p.deferred, slot.Destroy)
	}
	if err != nil {
		return err
	}
	sc := &scene{
		camera:  packet.Camera,
		ambient: packet.Ambient,
		lights:  lights,
		shadow:  assigned,
		frame:   f.frameNumber,
		width:   f.targets.width,
		height:  f.targets.height,
	}
	for i := range sc.matrices {
		light := f.shadows.Light(i)
		if light < 0 {
			sc.matrices[i] = math.NewMat4Identity()
			continue
		}
		if sc.matrices[i], err = lights[light].ShadowViewProjection(shadowHalfExtent); err != nil {
			return err
		}
		sc.shadows++
	}

	records, items, err := f.drawList(packet.Draws)
	if err != nil {
		return err
	}
	sc.draws = len(records)

	limits := f.ctx.Limits
	layout := newScratchLayout(limits.MinUniformBufferOffsetAlignment, limits.MinStorageBufferOffsetAlignment, f.cfg.MaxLights, len(records))
	if err := p.ensureScratch(layout.total); err != nil {
		return err
	}
	data, err := p.scratch.Map()
	if err != nil {
		return err
	}
	packScene(data[layout.scene:layout.scene+layout.sceneSize], sc)
	packParams(data[layout.params:layout.params+paramsSize], sc)
	packDraws(data[layout.draws:layout.draws+layout.drawsSize], records)
	if err := p.scratch.Flush(0, layout.total); err != nil {
		return err
	}

	if err := f.updateSceneSet(p, layout); err != nil {
		return errors.Wrap(err, "scene descriptors")
	}
	if err := f.updateFullscreenSets(p, layout); err != nil {
		return errors.Wrap(err, "fullscreen descriptors")
	}

	if err := f.recordPre(p, items); err != nil {
		return errors.Wrap(err, "pre-render commands")
	}
	if err := f.recordRender(p, items); err != nil {
		return errors.Wrap(err, "render commands")
	}
	if err := f.recordPost(p, index); err != nil {
		return errors.Wrap(err, "post commands")
	}
	return nil
}

func (f *FrameObject) recordUploads(p *PerFrameData) error {
	cb := p.secondaries[secondaryUpload]
	if err := cb.StartSubmission(nil, nil); err != nil {
		return err
	}
	for _, u := range p.uploads {
		if err := u.Transfer(cb); err != nil {
			return err
		}
	}
	return cb.End()
}

func (f *FrameObject) updateSceneSet(p *PerFrameData, layout scratchLayout) error {
	pool := p.scenePool
	if err := pool.UpdateBuffer(0, gpu.BindingSceneUniforms, 0, p.scratch, layout.scene, layout.sceneSize); err != nil {
		return err
	}
	if err := pool.UpdateBuffer(0, gpu.BindingDrawStorage, 0, p.scratch, layout.draws, 0); err != nil {
		return err
	}
	ao := f.defaults.white.View()
	if f.cfg.SSAO {
		ao = f.targets.aoBlur.view
	}
	if err := pool.UpdateImage(0, gpu.BindingAmbientOcclusion, 0, ao, f.defaults.linear, driver.ImageLayoutShaderReadOnly); err != nil {
		return err
	}
	for i := 0; i < gpu.MaxShadowMaps; i++ {
		view := f.defaults.shadow.view
		if slot := f.shadows.Slot(i); slot != nil {
			view = slot.View()
		}
		if err := pool.UpdateImage(0, gpu.BindingShadowMaps, uint32(i), view, f.defaults.shadowSampler, driver.ImageLayoutDepthStencilReadOnly); err != nil {
			return err
		}
	}
	return f.textures.Apply(pool, 0)
}

type fullscreenInputs struct {
	set       int
	source    *gpu.ImageView
	layout    driver.ImageLayout
	secondary *gpu.ImageView
}

func (f *FrameObject) updateFullscreenSets(p *PerFrameData, layout scratchLayout) error {
	white := f.defaults.white.View()
	bloom := white
	if f.cfg.Bloom {
		bloom = f.targets.bloom.view
	}
	inputs := map[Stage]fullscreenInputs{
		StageSSAO:     {fullscreenSSAO, f.targets.depth.view, driver.ImageLayoutDepthStencilReadOnly, white},
		StageSSAOBlur: {fullscreenBlur, f.targets.ao.view, driver.ImageLayoutShaderReadOnly, white},
		StageBloom:    {fullscreenBloom, f.targets.hdr.view, driver.ImageLayoutShaderReadOnly, white},
		StagePost:     {fullscreenPost, f.targets.hdr.view, driver.ImageLayoutShaderReadOnly, bloom},
	}
	pool := p.fullscreenPool
	for stage, in := range inputs {
		if !f.cfg.enabled(stage) {
			continue
		}
		if err := pool.UpdateImage(in.set, gpu.BindingSource, 0, in.source, f.defaults.linear, in.layout); err != nil {
			return err
		}
		if err := pool.UpdateImage(in.set, gpu.BindingSecondary, 0, in.secondary, f.defaults.linear, driver.ImageLayoutShaderReadOnly); err != nil {
			return err
		}
		if err := pool.UpdateBuffer(in.set, gpu.BindingParameters, 0, p.scratch, layout.params, paramsSize); err != nil {
			return err
		}
	}
	return nil
}

// timed writes the begin and end timestamps of s around fn. Every stage is
// stamped, so disabled stages read as zero.
func timed(p *PerFrameData, cb *gpu.CommandBuffer, s Stage, fn func() error) error {
	g, err := s.group()
	if err != nil {
		return err
	}
	if p.primary(g) != cb {
		return core.Preconditionf("%s stage recorded into the wrong command buffer", s)
	}
	begin, end := s.queries()
	if err := p.queries.Write(cb, driver.StageTopOfPipe, begin); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return errors.Wrapf(err, "%s stage", s)
	}
	return p.queries.Write(cb, driver.StageBottomOfPipe, end)
}

func (f *FrameObject) recordPre(p *PerFrameData, items []meshDraw) error {
	cb := p.pre
	if err := cb.Begin(true); err != nil {
		return err
	}
	if err := p.queries.Reset(cb); err != nil {
		return err
	}

	err := timed(p, cb, StageUpload, func() error {
		if len(p.uploads) == 0 {
			return nil
		}
		if err := cb.ExecuteCommands(p.secondaries[secondaryUpload]); err != nil {
			return err
		}
		return gpu.WaitForTransfer(cb)
	})
	if err != nil {
		return err
	}

	err = timed(p, cb, StageDepth, func() error {
		pass, fb := f.passes[StageDepth], f.targets.framebuffers[StageDepth]
		sec := p.secondaries[secondaryDepth]
		if err := f.recordMeshes(p, sec, pass, fb, items, gpu.VariantDepthOnly); err != nil {
			return err
		}
		if err := pass.Begin(cb, fb, driver.SubpassContentsSecondary); err != nil {
			return err
		}
		if err := cb.ExecuteCommands(sec); err != nil {
			return err
		}
		if err := pass.End(cb); err != nil {
			return err
		}
		return gpu.WaitForDepthWrite(cb)
	})
	if err != nil {
		return err
	}

	err = timed(p, cb, StageShadow, func() error {
		drawn := false
		for i := 0; i < gpu.MaxShadowMaps; i++ {
			slot := f.shadows.Slot(i)
			if slot == nil || f.shadows.Light(i) < 0 {
				continue
			}
			if err := f.recordShadow(p, cb, slot, i, items); err != nil {
				return errors.Wrapf(err, "shadow slot %d", i)
			}
			drawn = true
		}
		if !drawn {
			return nil
		}
		return gpu.WaitForDepthWrite(cb)
	})
	if err != nil {
		return err
	}

	for _, s := range []Stage{StageSSAO, StageSSAOBlur} {
		set := fullscreenSSAO
		if s == StageSSAOBlur {
			set = fullscreenBlur
		}
		err := timed(p, cb, s, func() error {
			if !f.cfg.enabled(s) {
				return nil
			}
			if err := f.recordFullscreen(p, cb, s, f.targets.framebuffers[s], set); err != nil {
				return err
			}
			return gpu.WaitForColourWrite(cb)
		})
		if err != nil {
			return err
		}
	}
	return cb.End()
}

func (f *FrameObject) recordShadow(p *PerFrameData, cb *gpu.CommandBuffer, slot *ShadowSlot, index int, items []meshDraw) error {
	pass := f.passes[StageShadow]
	if err := pass.Begin(cb, slot.framebuffer, driver.SubpassContentsInline); err != nil {
		return err
	}
	if err := cb.SetViewport(slot.Resolution, slot.Resolution); err != nil {
		return err
	}
	if err := cb.SetScissor(slot.Resolution, slot.Resolution); err != nil {
		return err
	}
	if err := f.drawMeshes(p, cb, items, gpu.VariantShadow, uint32(index)); err != nil {
		return err
	}
	return pass.End(cb)
}

func (f *FrameObject) recordRender(p *PerFrameData, items []meshDraw) error {
	cb := p.render
	if err := cb.Begin(true); err != nil {
		return err
	}
	err := timed(p, cb, StageRender, func() error {
		pass, fb := f.passes[StageRender], f.targets.framebuffers[StageRender]
		sec := p.secondaries[secondaryRender]
		if err := f.recordMeshes(p, sec, pass, fb, items, gpu.VariantNormal); err != nil {
			return err
		}
		if err := pass.Begin(cb, fb, driver.SubpassContentsSecondary); err != nil {
			return err
		}
		if err := cb.ExecuteCommands(sec); err != nil {
			return err
		}
		return pass.End(cb)
	})
	if err != nil {
		return err
	}
	return cb.End()
}

func (f *FrameObject) recordPost(p *PerFrameData, index uint32) error {
	cb := p.post
	if err := cb.Begin(true); err != nil {
		return err
	}
	if err := gpu.WaitForColourWrite(cb); err != nil {
		return err
	}
	err := timed(p, cb, StageBloom, func() error {
		if !f.cfg.Bloom {
			return nil
		}
		if err := f.recordFullscreen(p, cb, StageBloom, f.targets.framebuffers[StageBloom], fullscreenBloom); err != nil {
			return err
		}
		return gpu.WaitForColourWrite(cb)
	})
	if err != nil {
		return err
	}
	err = timed(p, cb, StagePost, func() error {
		if int(index) >= len(f.targets.post) {
			return core.Preconditionf("swapchain image %d has no framebuffer", index)
		}
		return f.recordFullscreen(p, cb, StagePost, f.targets.post[index], fullscreenPost)
	})
	if err != nil {
		return err
	}
	return cb.End()
}

// recordMeshes records the draws of a pass into a secondary that inherits it.
func (f *FrameObject) recordMeshes(p *PerFrameData, sec *gpu.CommandBuffer, pass *gpu.RenderPass, fb *gpu.Framebuffer, items []meshDraw, variant gpu.PipelineVariant) error {
	if err := sec.StartSubmission(pass, fb); err != nil {
		return err
	}
	width, height := fb.Extent()
	if err := sec.SetViewport(width, height); err != nil {
		return err
	}
	if err := sec.SetScissor(width, height); err != nil {
		return err
	}
	if err := f.drawMeshes(p, sec, items, variant, pushCameraView); err != nil {
		return err
	}
	return sec.End()
}

// drawMeshes binds each pipeline once per run of draws sharing it. push is
// written to the first four bytes of the push constants: the shadow slot, or
// pushCameraView.
func (f *FrameObject) drawMeshes(p *PerFrameData, cb *gpu.CommandBuffer, items []meshDraw, variant gpu.PipelineVariant, push uint32) error {
	var constants [pushConstantSize]byte
	binary.LittleEndian.PutUint32(constants[:], push)

	var bound *gpu.Pipeline
	for _, item := range items {
		pipeline, err := item.pipeline.Get(variant)
		if err != nil {
			return err
		}
		if pipeline != bound {
			if err := cb.BindPipeline(pipeline); err != nil {
				return err
			}
			if err := cb.BindDescriptorSet(0, p.scenePool.Set(0)); err != nil {
				return err
			}
			if err := cb.PushConstants(meshPushConstants[0].Stages, 0, constants[:]); err != nil {
				return err
			}
			bound = pipeline
		}
		m := item.mesh
		if err := cb.BindVertexBuffers(0, []*gpu.Buffer{m.Buffer()}, nil); err != nil {
			return err
		}
		sub := item.submesh
		if m.meta.IndexType == metadata.IndexNone {
			if err := cb.Draw(sub.Count, 1, sub.First, item.record); err != nil {
				return err
			}
			continue
		}
		if err := cb.BindIndexBuffer(m.Buffer(), m.indexOffset, m.indexType); err != nil {
			return err
		}
		if err := cb.DrawIndexed(sub.Count, 1, sub.First, sub.VertexOffset, item.record); err != nil {
			return err
		}
	}
	return nil
}

// recordFullscreen draws one triangle covering the framebuffer with the
// stage's fullscreen pipeline.
func (f *FrameObject) recordFullscreen(p *PerFrameData, cb *gpu.CommandBuffer, s Stage, fb *gpu.Framebuffer, set int) error {
	pipelines, ok := f.pipelines.Get(fullscreenName(s))
	if !ok {
		return core.Preconditionf("no pipeline for the %s stage", s)
	}
	pipeline, err := pipelines.Get(gpu.VariantNormal)
	if err != nil {
		return err
	}
	pass := f.passes[s]
	if err := pass.Begin(cb, fb, driver.SubpassContentsInline); err != nil {
		return err
	}
	width, height := fb.Extent()
	if err := cb.SetViewport(width, height); err != nil {
		return err
	}
	if err := cb.SetScissor(width, height); err != nil {
		return err
	}
	if err := cb.BindPipeline(pipeline); err != nil {
		return err
	}
	if err := cb.BindDescriptorSet(0, p.fullscreenPool.Set(set)); err != nil {
		return err
	}
	if err := cb.Draw(3, 1, 0, 0); err != nil {
		return err
	}
	return pass.End(cb)
}
