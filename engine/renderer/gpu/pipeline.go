package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

type PipelineVariant uint8

const (
	// VariantNormal is the lit pipeline. Single-variant sets expose their only
	// pipeline here.
	VariantNormal PipelineVariant = iota
	VariantDepthOnly
	VariantShadow

	pipelineVariantCount
)

func (v PipelineVariant) String() string {
	switch v {
	case VariantNormal:
		return "Normal"
	case VariantDepthOnly:
		return "DepthOnly"
	case VariantShadow:
		return "Shadow"
	default:
		return "Invalid"
	}
}

// PositionLocation is the attribute location the depth-only variants keep.
const PositionLocation uint32 = 0

type VertexLayout struct {
	Stride     uint32
	Attributes []driver.VertexAttributeDescription
}

func (l VertexLayout) positionOnly() VertexLayout {
	out := VertexLayout{Stride: l.Stride}
	for _, a := range l.Attributes {
		if a.Location == PositionLocation {
			out.Attributes = append(out.Attributes, a)
		}
	}
	return out
}

type PipelineSpec struct {
	/** @brief The debug name; variants append their suffix. */
	Name string
	/** @brief Descriptor set layouts, in set order. */
	SetLayouts    []*DescriptorLayout
	PushConstants []driver.PushConstantRange
	Vertex        *ShaderModule
	Fragment      *ShaderModule
	/** @brief Vertex shader for the depth and shadow variants. Defaults to Vertex. */
	DepthVertex *ShaderModule
	Layout      VertexLayout
	CullMode    driver.CullMode
	/** @brief A nil pass skips the variant. */
	NormalPass *RenderPass
	DepthPass  *RenderPass
	ShadowPass *RenderPass
	/** @brief Depth bias applied by the shadow variant. */
	DepthBiasConstant float32
	DepthBiasSlope    float32
	Blend             bool
}

type Pipeline struct {
	ctx     *Context
	handle  driver.Pipeline
	layout  driver.PipelineLayout
	variant PipelineVariant
	name    string
}

func (p *Pipeline) Handle() driver.Pipeline {
	return p.handle
}

func (p *Pipeline) Layout() driver.PipelineLayout {
	return p.layout
}

func (p *Pipeline) Variant() PipelineVariant {
	return p.variant
}

func (p *Pipeline) Name() string {
	return p.name
}

// PipelineSet holds the variants built from one spec. They share a layout.
type PipelineSet struct {
	ctx       *Context
	layout    driver.PipelineLayout
	pipelines [pipelineVariantCount]*Pipeline
}

func newPipelineLayout(ctx *Context, name string, sets []*DescriptorLayout, push []driver.PushConstantRange) (driver.PipelineLayout, error) {
	handles := make([]driver.DescriptorSetLayout, len(sets))
	for i, s := range sets {
		handles[i] = s.handle
	}
	layout, err := ctx.Device.CreatePipelineLayout(driver.PipelineLayoutCreateInfo{
		SetLayouts:    handles,
		PushConstants: push,
	})
	if err != nil {
		return 0, core.Fatal(errors.Wrapf(err, "creating pipeline layout for %q", name))
	}
	return layout, nil
}

func colourAttachments(pass *RenderPass) uint32 {
	if pass.config.hasColour() {
		return 1
	}
	return 0
}

func (spec PipelineSpec) createInfo(variant PipelineVariant, layout driver.PipelineLayout) (driver.GraphicsPipelineCreateInfo, error) {
	depthVertex := spec.DepthVertex
	if depthVertex == nil {
		depthVertex = spec.Vertex
	}
	switch variant {
	case VariantNormal:
		return driver.GraphicsPipelineCreateInfo{
			Name:              spec.Name,
			Layout:            layout,
			RenderPass:        spec.NormalPass.handle,
			Stages:            []driver.ShaderStage{spec.Vertex.stage(driver.ShaderStageVertex), spec.Fragment.stage(driver.ShaderStageFragment)},
			Bindings:          []driver.VertexBinding{{Binding: 0, Stride: spec.Layout.Stride}},
			Attributes:        spec.Layout.Attributes,
			CullMode:          spec.CullMode,
			DepthTest:         true,
			DepthWrite:        false,
			DepthCompare:      driver.CompareEqual,
			ColourAttachments: colourAttachments(spec.NormalPass),
			Blend:             spec.Blend,
		}, nil
	case VariantDepthOnly, VariantShadow:
		pass := spec.DepthPass
		if variant == VariantShadow {
			pass = spec.ShadowPass
		}
		position := spec.Layout.positionOnly()
		if len(position.Attributes) == 0 {
			return driver.GraphicsPipelineCreateInfo{}, core.Preconditionf("pipeline %q has no position attribute", spec.Name)
		}
		info := driver.GraphicsPipelineCreateInfo{
			Name:              spec.Name + "." + variant.String(),
			Layout:            layout,
			RenderPass:        pass.handle,
			Stages:            []driver.ShaderStage{depthVertex.stage(driver.ShaderStageVertex)},
			Bindings:          []driver.VertexBinding{{Binding: 0, Stride: position.Stride}},
			Attributes:        position.Attributes,
			CullMode:          spec.CullMode,
			DepthTest:         true,
			DepthWrite:        true,
			DepthCompare:      driver.CompareLess,
			ColourAttachments: colourAttachments(pass),
		}
		if variant == VariantShadow {
			info.DepthBias = true
			info.DepthBiasConstant = spec.DepthBiasConstant
			info.DepthBiasSlope = spec.DepthBiasSlope
		}
		return info, nil
	default:
		return driver.GraphicsPipelineCreateInfo{}, core.Preconditionf("pipeline %q: invalid variant %d", spec.Name, variant)
	}
}

func (spec PipelineSpec) pass(variant PipelineVariant) *RenderPass {
	switch variant {
	case VariantNormal:
		return spec.NormalPass
	case VariantDepthOnly:
		return spec.DepthPass
	case VariantShadow:
		return spec.ShadowPass
	default:
		return nil
	}
}

// NewPipelineSet builds every variant that has a pass. If any variant fails,
// the ones already built are destroyed and nothing is returned.
func NewPipelineSet(ctx *Context, spec PipelineSpec) (*PipelineSet, error) {
	if spec.Vertex == nil {
		return nil, core.Preconditionf("pipeline %q has no vertex shader", spec.Name)
	}
	if spec.NormalPass != nil && spec.Fragment == nil {
		return nil, core.Preconditionf("pipeline %q has no fragment shader", spec.Name)
	}

	layout, err := newPipelineLayout(ctx, spec.Name, spec.SetLayouts, spec.PushConstants)
	if err != nil {
		return nil, err
	}
	set := &PipelineSet{ctx: ctx, layout: layout}

	for v := PipelineVariant(0); v < pipelineVariantCount; v++ {
		if spec.pass(v) == nil {
			continue
		}
		info, err := spec.createInfo(v, layout)
		if err != nil {
			set.Destroy()
			return nil, err
		}
		handle, err := ctx.Device.CreateGraphicsPipeline(info)
		if err != nil {
			set.Destroy()
			return nil, core.Fatal(errors.Wrapf(err, "creating %s pipeline %q", v, spec.Name))
		}
		set.pipelines[v] = &Pipeline{ctx: ctx, handle: handle, layout: layout, variant: v, name: info.Name}
	}
	return set, nil
}

type FullscreenSpec struct {
	Name          string
	SetLayouts    []*DescriptorLayout
	PushConstants []driver.PushConstantRange
	Vertex        *ShaderModule
	Fragment      *ShaderModule
	Pass          *RenderPass
	Blend         bool
}

// NewFullscreenPipeline builds a vertex-less pipeline that draws one
// triangle covering the target.
func NewFullscreenPipeline(ctx *Context, spec FullscreenSpec) (*PipelineSet, error) {
	if spec.Vertex == nil || spec.Fragment == nil || spec.Pass == nil {
		return nil, core.Preconditionf("fullscreen pipeline %q is incomplete", spec.Name)
	}
	layout, err := newPipelineLayout(ctx, spec.Name, spec.SetLayouts, spec.PushConstants)
	if err != nil {
		return nil, err
	}
	handle, err := ctx.Device.CreateGraphicsPipeline(driver.GraphicsPipelineCreateInfo{
		Name:              spec.Name,
		Layout:            layout,
		RenderPass:        spec.Pass.handle,
		Stages:            []driver.ShaderStage{spec.Vertex.stage(driver.ShaderStageVertex), spec.Fragment.stage(driver.ShaderStageFragment)},
		CullMode:          driver.CullNone,
		ColourAttachments: colourAttachments(spec.Pass),
		Blend:             spec.Blend,
	})
	if err != nil {
		ctx.Device.DestroyPipelineLayout(layout)
		return nil, core.Fatal(errors.Wrapf(err, "creating fullscreen pipeline %q", spec.Name))
	}
	set := &PipelineSet{ctx: ctx, layout: layout}
	set.pipelines[VariantNormal] = &Pipeline{ctx: ctx, handle: handle, layout: layout, variant: VariantNormal, name: spec.Name}
	return set, nil
}

// Get returns a built variant.
func (s *PipelineSet) Get(variant PipelineVariant) (*Pipeline, error) {
	if variant >= pipelineVariantCount {
		return nil, core.Preconditionf("invalid pipeline variant %d", variant)
	}
	p := s.pipelines[variant]
	if p == nil {
		return nil, core.Preconditionf("pipeline variant %s was not built", variant)
	}
	return p, nil
}

func (s *PipelineSet) Has(variant PipelineVariant) bool {
	return variant < pipelineVariantCount && s.pipelines[variant] != nil
}

func (s *PipelineSet) Layout() driver.PipelineLayout {
	return s.layout
}

func (s *PipelineSet) Destroy() {
	for i, p := range s.pipelines {
		if p != nil {
			s.ctx.Device.DestroyPipeline(p.handle)
			s.pipelines[i] = nil
		}
	}
	if s.layout != 0 {
		s.ctx.Device.DestroyPipelineLayout(s.layout)
		s.layout = 0
	}
}

// PipelineBuilder builds a pipeline set from its current sources. It is
// called again on every rebuild.
type PipelineBuilder func() (*PipelineSet, error)

type cachedPipeline struct {
	sources []string
	build   PipelineBuilder
	set     *PipelineSet
}

// PipelineCache owns named pipeline sets and rebuilds them when one of their
// shader sources changes.
type PipelineCache struct {
	ctx     *Context
	entries *swiss.Map[string, *cachedPipeline]
}

func NewPipelineCache(ctx *Context) *PipelineCache {
	return &PipelineCache{ctx: ctx, entries: swiss.NewMap[string, *cachedPipeline](16)}
}

// Register builds the set and stores it under name.
func (c *PipelineCache) Register(name string, sources []string, build PipelineBuilder) (*PipelineSet, error) {
	if c.entries.Has(name) {
		return nil, core.Preconditionf("pipeline %q registered twice", name)
	}
	set, err := build()
	if err != nil {
		return nil, err
	}
	c.entries.Put(name, &cachedPipeline{sources: sources, build: build, set: set})
	return set, nil
}

func (c *PipelineCache) Get(name string) (*PipelineSet, bool) {
	e, ok := c.entries.Get(name)
	if !ok {
		return nil, false
	}
	return e.set, true
}

// Rebuild replaces a set with a fresh build. The old set stays in place when
// the build fails.
func (c *PipelineCache) Rebuild(name string) error {
	e, ok := c.entries.Get(name)
	if !ok {
		return core.Preconditionf("rebuild of unknown pipeline %q", name)
	}
	set, err := e.build()
	if err != nil {
		return errors.Wrapf(err, "rebuilding pipeline %q", name)
	}
	if err := c.ctx.WaitIdle(); err != nil {
		set.Destroy()
		return err
	}
	e.set.Destroy()
	e.set = set
	c.ctx.log.Info("pipeline rebuilt", "name", name)
	return nil
}

// RebuildForSource rebuilds every set that reads the source and returns the
// names that were rebuilt.
func (c *PipelineCache) RebuildForSource(path string) ([]string, error) {
	var names []string
	c.entries.Iter(func(name string, e *cachedPipeline) bool {
		if slices.Contains(e.sources, path) {
			names = append(names, name)
		}
		return false
	})
	slices.Sort(names)

	var errs error
	for _, name := range names {
		if err := c.Rebuild(name); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return names, errs
}

func (c *PipelineCache) Destroy() {
	c.entries.Iter(func(_ string, e *cachedPipeline) bool {
		e.set.Destroy()
		return false
	})
	c.entries.Clear()
}
