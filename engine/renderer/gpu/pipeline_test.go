package gpu

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
	"github.com/spaghettifunk/kiln/engine/renderer/driver/drivertest"
)

type pipelineFixture struct {
	ctx    *Context
	dev    *drivertest.Device
	layout *DescriptorLayout
	vertex *ShaderModule
	frag   *ShaderModule
	normal *RenderPass
	depth  *RenderPass
	shadow *RenderPass
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	ctx, dev := newTestContext(t, true)
	f := &pipelineFixture{ctx: ctx, dev: dev}

	var err error
	f.layout, err = NewDescriptorLayout(ctx, SceneBindings())
	require.NoError(t, err)
	f.vertex, err = NewShaderModule(ctx, "mesh.vert", []uint32{0x07230203, 1})
	require.NoError(t, err)
	f.frag, err = NewShaderModule(ctx, "mesh.frag", []uint32{0x07230203, 2})
	require.NoError(t, err)
	t.Cleanup(func() {
		f.frag.Destroy()
		f.vertex.Destroy()
		f.layout.Destroy()
	})

	f.normal, _ = testPass(t, ctx, RenderPassConfig{
		Name: "forward", ColourFormat: driver.FormatR16G16B16A16Sfloat, Depth: DepthReadOnly, DepthFormat: driver.FormatD32Sfloat,
	})
	f.depth, _ = testPass(t, ctx, RenderPassConfig{Name: "depth", Depth: DepthKeep, DepthFormat: driver.FormatD32Sfloat})
	f.shadow, _ = testPass(t, ctx, RenderPassConfig{Name: "shadow", Depth: DepthKeep, DepthFormat: driver.FormatD32Sfloat})
	return f
}

func (f *pipelineFixture) spec() PipelineSpec {
	return PipelineSpec{
		Name:       "mesh",
		SetLayouts: []*DescriptorLayout{f.layout},
		Vertex:     f.vertex,
		Fragment:   f.frag,
		Layout: VertexLayout{
			Stride: 32,
			Attributes: []driver.VertexAttributeDescription{
				{Location: PositionLocation, Format: driver.FormatR32G32B32Sfloat, Offset: 0},
				{Location: 1, Format: driver.FormatR32G32B32Sfloat, Offset: 12},
				{Location: 2, Format: driver.FormatR32G32Sfloat, Offset: 24},
			},
		},
		CullMode:          driver.CullBack,
		NormalPass:        f.normal,
		DepthPass:         f.depth,
		ShadowPass:        f.shadow,
		DepthBiasConstant: 1.25,
		DepthBiasSlope:    1.75,
	}
}

func TestPipelineSetBuildsEveryVariant(t *testing.T) {
	f := newPipelineFixture(t)

	set, err := NewPipelineSet(f.ctx, f.spec())
	require.NoError(t, err)
	require.Equal(t, 3, f.dev.Live(drivertest.KindPipeline))
	require.Equal(t, 1, f.dev.Live(drivertest.KindPipelineLayout))

	names := map[PipelineVariant]string{
		VariantNormal:    "mesh",
		VariantDepthOnly: "mesh.DepthOnly",
		VariantShadow:    "mesh.Shadow",
	}
	for variant, name := range names {
		p, err := set.Get(variant)
		require.NoError(t, err)
		require.Equal(t, name, p.Name())
		require.Equal(t, set.Layout(), p.Layout())
		require.Equal(t, variant, p.Variant())
	}

	set.Destroy()
	require.Equal(t, 0, f.dev.Live(drivertest.KindPipeline))
	require.Equal(t, 0, f.dev.Live(drivertest.KindPipelineLayout))
}

func TestPipelineSetVariantState(t *testing.T) {
	f := newPipelineFixture(t)
	spec := f.spec()

	testCases := map[string]struct {
		variant    PipelineVariant
		compare    driver.CompareOp
		depthWrite bool
		depthBias  bool
		stages     int
		attributes int
	}{
		"normal tests equal against the prepass depth": {
			variant: VariantNormal, compare: driver.CompareEqual, stages: 2, attributes: 3,
		},
		"depth only writes depth from positions": {
			variant: VariantDepthOnly, compare: driver.CompareLess, depthWrite: true, stages: 1, attributes: 1,
		},
		"shadow adds depth bias": {
			variant: VariantShadow, compare: driver.CompareLess, depthWrite: true, depthBias: true, stages: 1, attributes: 1,
		},
	}
	for testName, testCase := range testCases {
		t.Run(testName, func(t *testing.T) {
			info, err := spec.createInfo(testCase.variant, 1)
			require.NoError(t, err)
			require.True(t, info.DepthTest)
			require.Equal(t, testCase.compare, info.DepthCompare)
			require.Equal(t, testCase.depthWrite, info.DepthWrite)
			require.Equal(t, testCase.depthBias, info.DepthBias)
			require.Len(t, info.Stages, testCase.stages)
			require.Len(t, info.Attributes, testCase.attributes)
			require.Equal(t, uint32(32), info.Bindings[0].Stride)
			if testCase.depthBias {
				require.Equal(t, float32(1.25), info.DepthBiasConstant)
				require.Equal(t, float32(1.75), info.DepthBiasSlope)
			}
		})
	}
}

func TestPipelineSetFailureIsAtomic(t *testing.T) {
	for _, failAt := range []int{1, 2, 3} {
		f := newPipelineFixture(t)
		f.dev.FailPipelineCreation(failAt)

		set, err := NewPipelineSet(f.ctx, f.spec())
		require.Error(t, err)
		require.Nil(t, set)
		require.True(t, core.IsFatal(err))
		require.True(t, errors.Is(err, driver.ErrInitializationFailed))
		require.Equal(t, 0, f.dev.Live(drivertest.KindPipeline), "failing pipeline %d", failAt)
		require.Equal(t, 0, f.dev.Live(drivertest.KindPipelineLayout), "failing pipeline %d", failAt)
	}
}

func TestPipelineSetSkipsMissingPasses(t *testing.T) {
	f := newPipelineFixture(t)
	spec := f.spec()
	spec.ShadowPass = nil

	set, err := NewPipelineSet(f.ctx, spec)
	require.NoError(t, err)
	defer set.Destroy()

	require.True(t, set.Has(VariantNormal))
	require.True(t, set.Has(VariantDepthOnly))
	require.False(t, set.Has(VariantShadow))
	_, err = set.Get(VariantShadow)
	require.True(t, core.IsPrecondition(err))
	_, err = set.Get(pipelineVariantCount)
	require.True(t, core.IsPrecondition(err))
}

func TestPipelineSetNeedsPosition(t *testing.T) {
	f := newPipelineFixture(t)
	spec := f.spec()
	spec.Layout.Attributes = spec.Layout.Attributes[1:]

	_, err := NewPipelineSet(f.ctx, spec)
	require.True(t, core.IsPrecondition(err))
	require.Equal(t, 0, f.dev.Live(drivertest.KindPipeline))
	require.Equal(t, 0, f.dev.Live(drivertest.KindPipelineLayout))
}

func TestFullscreenPipeline(t *testing.T) {
	f := newPipelineFixture(t)

	set, err := NewFullscreenPipeline(f.ctx, FullscreenSpec{
		Name: "tonemap", Vertex: f.vertex, Fragment: f.frag, Pass: f.normal,
	})
	require.NoError(t, err)
	require.True(t, set.Has(VariantNormal))
	require.False(t, set.Has(VariantDepthOnly))
	set.Destroy()

	f.dev.FailPipelineCreation(1)
	_, err = NewFullscreenPipeline(f.ctx, FullscreenSpec{
		Name: "tonemap", Vertex: f.vertex, Fragment: f.frag, Pass: f.normal,
	})
	require.True(t, core.IsFatal(err))
	require.Equal(t, 0, f.dev.Live(drivertest.KindPipelineLayout))
}

func TestPipelineCacheRebuild(t *testing.T) {
	f := newPipelineFixture(t)
	cache := NewPipelineCache(f.ctx)
	defer cache.Destroy()

	build := func() (*PipelineSet, error) { return NewPipelineSet(f.ctx, f.spec()) }
	first, err := cache.Register("mesh", []string{"shaders/mesh.vert", "shaders/mesh.frag"}, build)
	require.NoError(t, err)
	_, err = cache.Register("sky", []string{"shaders/sky.frag"}, build)
	require.NoError(t, err)
	_, err = cache.Register("mesh", nil, build)
	require.True(t, core.IsPrecondition(err))

	names, err := cache.RebuildForSource("shaders/mesh.frag")
	require.NoError(t, err)
	require.Equal(t, []string{"mesh"}, names)
	rebuilt, ok := cache.Get("mesh")
	require.True(t, ok)
	require.NotSame(t, first, rebuilt)
	require.Equal(t, 6, f.dev.Live(drivertest.KindPipeline))

	// a failed rebuild keeps the working set
	f.dev.FailPipelineCreation(1)
	require.Error(t, cache.Rebuild("mesh"))
	kept, ok := cache.Get("mesh")
	require.True(t, ok)
	require.Same(t, rebuilt, kept)
	require.Equal(t, 6, f.dev.Live(drivertest.KindPipeline))

	names, err = cache.RebuildForSource("shaders/unused.frag")
	require.NoError(t, err)
	require.Empty(t, names)
}
