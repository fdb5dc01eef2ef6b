package frame

import (
	"strings"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/spaghettifunk/kiln/engine/config"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
)

// Shader roles. Each one names a SPIR-V source in Config.Shaders.
const (
	ShaderMeshVertex       = "mesh.vert"
	ShaderMeshFragment     = "mesh.frag"
	ShaderDepthVertex      = "depth.vert"
	ShaderFullscreenVertex = "fullscreen.vert"
	ShaderSSAO             = "ssao.frag"
	ShaderBlur             = "blur.frag"
	ShaderBloom            = "bloom.frag"
	ShaderPost             = "post.frag"
)

type ShaderSource struct {
	// Path identifies the source for hot reload.
	Path string
	Code []uint32
}

type Config struct {
	VSync            bool
	Bloom            bool
	SSAO             bool
	ShadowResolution uint32
	MaxShadowSlots   int
	MaxLights        int
	MaxDrawCalls     int
	ScratchSize      uint64
	Shaders          map[string]ShaderSource
}

// NewConfig takes the renderer settings of the engine configuration.
func NewConfig(r config.Renderer, shaders map[string]ShaderSource) Config {
	return Config{
		VSync:            r.VSync,
		Bloom:            r.Bloom,
		SSAO:             r.SSAO,
		ShadowResolution: r.ShadowResolution,
		MaxShadowSlots:   r.MaxShadowSlots,
		MaxLights:        r.MaxLights,
		MaxDrawCalls:     r.MaxDrawCalls,
		ScratchSize:      r.ScratchSize,
		Shaders:          shaders,
	}
}

func (c Config) withDefaults() Config {
	def := config.Default().Renderer
	if c.ShadowResolution == 0 {
		c.ShadowResolution = def.ShadowResolution
	}
	if c.MaxShadowSlots <= 0 {
		c.MaxShadowSlots = def.MaxShadowSlots
	}
	if c.MaxLights <= 0 {
		c.MaxLights = def.MaxLights
	}
	if c.MaxDrawCalls <= 0 {
		c.MaxDrawCalls = def.MaxDrawCalls
	}
	if c.ScratchSize == 0 {
		c.ScratchSize = def.ScratchSize
	}
	shaders := make(map[string]ShaderSource, len(c.Shaders))
	for role, src := range c.Shaders {
		shaders[role] = src
	}
	c.Shaders = shaders
	return c
}

// RequiredShaders lists the shader roles the given settings need.
func RequiredShaders(r config.Renderer) []string {
	return NewConfig(r, nil).roles()
}

// roles lists the shaders the enabled stages need.
func (c Config) roles() []string {
	roles := []string{ShaderMeshVertex, ShaderMeshFragment, ShaderDepthVertex, ShaderFullscreenVertex, ShaderPost}
	if c.SSAO {
		roles = append(roles, ShaderSSAO, ShaderBlur)
	}
	if c.Bloom {
		roles = append(roles, ShaderBloom)
	}
	return roles
}

func (c Config) enabled(s Stage) bool {
	switch s {
	case StageSSAO, StageSSAOBlur:
		return c.SSAO
	case StageBloom:
		return c.Bloom
	default:
		return s < stageCount
	}
}

// fullscreenShader is the fragment shader of a fullscreen stage.
func fullscreenShader(s Stage) (string, bool) {
	switch s {
	case StageSSAO:
		return ShaderSSAO, true
	case StageSSAOBlur:
		return ShaderBlur, true
	case StageBloom:
		return ShaderBloom, true
	case StagePost:
		return ShaderPost, true
	default:
		return "", false
	}
}

// fullscreenName is the pipeline cache key of a fullscreen stage.
func fullscreenName(s Stage) string {
	return strings.ToLower(s.String())
}

// FrameObject owns the swapchain and the N frames in flight, where N is the
// number of swapchain images. Draw records and submits one frame; it is the
// only place the swapchain gets recreated.
type FrameObject struct {
	ctx    *gpu.Context
	window Window
	cfg    Config
	log    *log.Logger

	swapchain        *gpu.Swapchain
	depthFormat      driver.Format
	sceneLayout      *gpu.DescriptorLayout
	fullscreenLayout *gpu.DescriptorLayout
	passes           [stageCount]*gpu.RenderPass
	shaders          map[string]*gpu.ShaderModule
	pipelines        *gpu.PipelineCache
	defaults         *defaults
	textures         *gpu.TextureTable
	shadows          *ShadowSlots
	targets          *renderTargets

	frames []*PerFrameData
	// imagesInFlight is the fence of the frame last rendering to each
	// swapchain image.
	imagesInFlight []*gpu.Fence
	current        int
	lastChain      *gpu.Semaphore
	frameNumber    uint64

	generation      uint64
	recreatePending bool

	uploads  []Uploader
	released []func()
	timings  StageTimings
}

func NewFrameObject(ctx *gpu.Context, window Window, cfg Config) (_ *FrameObject, err error) {
	cfg = cfg.withDefaults()
	f := &FrameObject{
		ctx:         ctx,
		window:      window,
		cfg:         cfg,
		log:         core.Logger("frame"),
		depthFormat: ctx.Device.DepthFormat(),
		shaders:     make(map[string]*gpu.ShaderModule),
	}
	defer func() {
		if err != nil {
			f.Destroy()
		}
	}()

	for _, role := range cfg.roles() {
		if _, ok := cfg.Shaders[role]; !ok {
			return nil, core.Preconditionf("no %s shader configured", role)
		}
	}

	width, height := window.FramebufferSize()
	f.generation = window.SizeGeneration()
	if f.swapchain, err = gpu.NewSwapchain(ctx, width, height, cfg.VSync); err != nil {
		return nil, errors.Wrap(err, "creating the swapchain")
	}
	if f.sceneLayout, err = gpu.NewDescriptorLayout(ctx, gpu.SceneBindings()); err != nil {
		return nil, err
	}
	if f.fullscreenLayout, err = gpu.NewDescriptorLayout(ctx, gpu.FullscreenBindings()); err != nil {
		return nil, err
	}
	for _, s := range Stages() {
		if s == StageUpload || !cfg.enabled(s) {
			continue
		}
		if f.passes[s], err = f.newPass(s); err != nil {
			return nil, err
		}
	}
	for _, role := range cfg.roles() {
		module, err := gpu.NewShaderModule(ctx, role, cfg.Shaders[role].Code)
		if err != nil {
			return nil, err
		}
		f.shaders[role] = module
	}

	f.pipelines = gpu.NewPipelineCache(ctx)
	for _, s := range []Stage{StageSSAO, StageSSAOBlur, StageBloom, StagePost} {
		if !cfg.enabled(s) {
			continue
		}
		if err := f.registerFullscreen(s); err != nil {
			return nil, err
		}
	}

	if f.defaults, err = newDefaults(ctx, f.depthFormat); err != nil {
		return nil, err
	}
	f.textures = gpu.NewTextureTable(ctx, gpu.MaxMaterialTextures, f.defaults.white.View(), f.defaults.material)
	f.shadows = NewShadowSlots(ctx, f.passes[StageShadow], cfg.MaxShadowSlots)
	if err := f.createFrames(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *FrameObject) newPass(s Stage) (*gpu.RenderPass, error) {
	pc, err := s.passConfig(f.depthFormat, f.swapchain.Format())
	if err != nil {
		return nil, err
	}
	return gpu.NewRenderPass(f.ctx, pc)
}

func (f *FrameObject) registerFullscreen(s Stage) error {
	role, ok := fullscreenShader(s)
	if !ok {
		return errors.Wrapf(ErrInvalidStage, "%s is not a fullscreen stage", s)
	}
	name := fullscreenName(s)
	sources := []string{f.cfg.Shaders[ShaderFullscreenVertex].Path, f.cfg.Shaders[role].Path}
	_, err := f.pipelines.Register(name, sources, func() (*gpu.PipelineSet, error) {
		return gpu.NewFullscreenPipeline(f.ctx, gpu.FullscreenSpec{
			Name:       name,
			SetLayouts: []*gpu.DescriptorLayout{f.fullscreenLayout},
			Vertex:     f.shaders[ShaderFullscreenVertex],
			Fragment:   f.shaders[role],
			Pass:       f.passes[s],
		})
	})
	return err
}

// createFrames builds the targets and one PerFrameData per swapchain image.
func (f *FrameObject) createFrames() error {
	targets, err := newRenderTargets(f.ctx, &f.passes, f.swapchain)
	if err != nil {
		return err
	}
	f.targets = targets

	n := f.swapchain.ImageCount()
	for i := 0; i < n; i++ {
		p, err := newPerFrameData(f.ctx, f.sceneLayout, f.fullscreenLayout, f.cfg.ScratchSize)
		if err != nil {
			return errors.Wrapf(err, "frame %d", i)
		}
		f.frames = append(f.frames, p)
	}
	f.imagesInFlight = make([]*gpu.Fence, n)
	f.current = 0
	f.lastChain = nil
	return nil
}

func (f *FrameObject) destroyFrames() {
	for _, p := range f.frames {
		p.Destroy()
	}
	f.frames = nil
	f.imagesInFlight = nil
	f.lastChain = nil
	if f.targets != nil {
		f.targets.destroy()
		f.targets = nil
	}
}

// recreate rebuilds the swapchain and everything sized or counted by it. A
// zero area surface leaves the recreate pending.
func (f *FrameObject) recreate(width, height uint32) error {
	if err := f.ctx.WaitIdle(); err != nil {
		return err
	}
	format := f.swapchain.Format()
	if err := f.swapchain.Recreate(width, height); err != nil {
		return err
	}
	f.destroyFrames()

	if f.swapchain.Format() != format {
		f.passes[StagePost].Destroy()
		pass, err := f.newPass(StagePost)
		if err != nil {
			return err
		}
		f.passes[StagePost] = pass
		if err := f.pipelines.Rebuild(fullscreenName(StagePost)); err != nil {
			return err
		}
	}
	if err := f.createFrames(); err != nil {
		return err
	}
	f.recreatePending = false
	w, h := f.swapchain.Extent()
	f.log.Debug("frames recreated", "width", w, "height", h, "frames", len(f.frames))
	return nil
}

// Resize asks for the swapchain to be recreated before the next frame.
func (f *FrameObject) Resize() {
	f.recreatePending = true
}

// Draw renders one frame. It returns nil without drawing while the window
// has no area or the swapchain is being recreated.
func (f *FrameObject) Draw(packet *Packet) error {
	width, height := f.window.FramebufferSize()
	if gen := f.window.SizeGeneration(); gen != f.generation {
		f.generation = gen
		f.recreatePending = true
	}
	if width == 0 || height == 0 {
		return nil
	}
	if f.recreatePending || f.swapchain.State() != gpu.SwapchainReady {
		if err := f.recreate(width, height); err != nil {
			if core.IsBooting(err) {
				f.log.Debug("swapchain not ready, skipping frame", "err", err)
				return nil
			}
			return err
		}
	}

	p := f.frames[f.current]
	if err := p.fence.Wait(f.ctx.FrameTimeout); err != nil {
		return errors.Wrapf(err, "frame %d", f.frameNumber)
	}
	if err := f.collect(p); err != nil {
		return err
	}

	index, err := f.swapchain.Acquire(p.imageAvailable)
	if err != nil {
		if core.IsBooting(err) {
			f.recreatePending = true
			f.log.Debug("acquire needs a new swapchain", "err", err)
			return nil
		}
		return err
	}
	if fence := f.imagesInFlight[index]; fence != nil && fence != p.fence {
		if err := fence.Wait(f.ctx.FrameTimeout); err != nil {
			return errors.Wrapf(err, "swapchain image %d", index)
		}
	}
	f.imagesInFlight[index] = p.fence

	p.deferred = append(p.deferred, f.released...)
	f.released = nil
	if err := p.pool.Reset(); err != nil {
		return err
	}
	if err := p.takeSecondaries(); err != nil {
		return err
	}
	defer p.returnSecondaries()

	if err := f.record(p, packet, index); err != nil {
		return errors.Wrapf(err, "recording frame %d", f.frameNumber)
	}

	if err := p.fence.Reset(); err != nil {
		return err
	}
	if err := gpu.Submit(f.ctx, driver.QueueGraphics, f.submissions(p), p.fence); err != nil {
		return err
	}
	p.submitted = true
	p.frameNumber = f.frameNumber
	f.frameNumber++
	f.lastChain = p.chain
	f.current = (f.current + 1) % len(f.frames)

	if err := f.swapchain.Present([]*gpu.Semaphore{p.postDone}, index); err != nil {
		if core.IsBooting(err) {
			f.recreatePending = true
			f.log.Debug("present needs a new swapchain", "err", err)
			return nil
		}
		return err
	}
	return nil
}

// submissions chains the three command buffers of a frame: each waits for
// the one before it, and the first waits for the previous frame.
func (f *FrameObject) submissions(p *PerFrameData) []gpu.Submission {
	var preWait []gpu.SemaphoreWait
	if f.lastChain != nil {
		preWait = append(preWait, gpu.SemaphoreWait{Semaphore: f.lastChain, Stage: driver.StageAllCommands})
	}
	return []gpu.Submission{
		{
			Wait:           preWait,
			CommandBuffers: []*gpu.CommandBuffer{p.pre},
			Signal:         []*gpu.Semaphore{p.preDone},
		},
		{
			Wait:           []gpu.SemaphoreWait{{Semaphore: p.preDone, Stage: driver.StageVertexInput}},
			CommandBuffers: []*gpu.CommandBuffer{p.render},
			Signal:         []*gpu.Semaphore{p.renderDone},
		},
		{
			Wait: []gpu.SemaphoreWait{
				{Semaphore: p.renderDone, Stage: driver.StageFragmentShader},
				{Semaphore: p.imageAvailable, Stage: driver.StageColourAttachmentOut},
			},
			CommandBuffers: []*gpu.CommandBuffer{p.post},
			Signal:         []*gpu.Semaphore{p.postDone, p.chain},
		},
	}
}

// collect runs after the frame's fence signaled: it reads the GPU timings
// of its last submission and releases what that submission used.
func (f *FrameObject) collect(p *PerFrameData) error {
	if p.submitted {
		micros, ok, err := p.queries.Results()
		if err != nil {
			return err
		}
		if ok {
			f.timings = timingsFrom(p.frameNumber, micros)
			for _, s := range Stages() {
				core.MetricsRecordStage(s.String(), f.timings.Micros[s])
			}
		}
		p.submitted = false
	}
	p.recycle()
	return nil
}

// Upload queues u for the upload stage of the next frame.
func (f *FrameObject) Upload(u Uploader) {
	if u.Pending() {
		f.uploads = append(f.uploads, u)
	}
}

// AddTexture puts t in the material texture array and returns its index.
func (f *FrameObject) AddTexture(t *Texture) int {
	if t.index < 0 {
		t.index = f.textures.Acquire(t.View(), f.defaults.material)
	}
	return t.index
}

func (f *FrameObject) dropUpload(u Uploader) {
	for i, queued := range f.uploads {
		if queued == u {
			f.uploads = append(f.uploads[:i], f.uploads[i+1:]...)
			return
		}
	}
}

// ReleaseMesh destroys m once no frame in flight can read it.
func (f *FrameObject) ReleaseMesh(m *Mesh) {
	f.dropUpload(m)
	f.released = append(f.released, m.Destroy)
}

func (f *FrameObject) ReleaseTexture(t *Texture) {
	f.dropUpload(t)
	if t.index > 0 {
		f.textures.Release(t.index)
	}
	t.index = -1
	f.released = append(f.released, t.Destroy)
}

// ReloadShader swaps the code of every role read from path and rebuilds the
// pipelines built from it.
func (f *FrameObject) ReloadShader(path string, code []uint32) error {
	replaced := make(map[string]*gpu.ShaderModule)
	for role, src := range f.cfg.Shaders {
		if src.Path != path {
			continue
		}
		if _, ok := f.shaders[role]; !ok {
			continue
		}
		module, err := gpu.NewShaderModule(f.ctx, role, code)
		if err != nil {
			for _, m := range replaced {
				m.Destroy()
			}
			return err
		}
		replaced[role] = module
	}
	if len(replaced) == 0 {
		f.log.Debug("no shader reads the changed file", "path", path)
		return nil
	}

	old := make([]*gpu.ShaderModule, 0, len(replaced))
	for role, module := range replaced {
		old = append(old, f.shaders[role])
		f.shaders[role] = module
		f.cfg.Shaders[role] = ShaderSource{Path: path, Code: code}
	}
	names, err := f.pipelines.RebuildForSource(path)
	for _, m := range old {
		m.Destroy()
	}
	f.log.Info("shader reloaded", "path", path, "pipelines", names)
	return err
}

// Timings returns the stage times of the most recent frame whose results
// are available.
func (f *FrameObject) Timings() StageTimings {
	return f.timings
}

func (f *FrameObject) WriteTimings(writer *jwriter.Writer) {
	f.timings.WriteJSON(writer)
}

// FrameCount is the number of frames in flight.
func (f *FrameObject) FrameCount() int {
	return len(f.frames)
}

func (f *FrameObject) Frame(i int) *PerFrameData {
	return f.frames[i]
}

func (f *FrameObject) Swapchain() *gpu.Swapchain {
	return f.swapchain
}

func (f *FrameObject) Shadows() *ShadowSlots {
	return f.shadows
}

// FrameNumber counts the frames submitted so far.
func (f *FrameObject) FrameNumber() uint64 {
	return f.frameNumber
}

func (f *FrameObject) Destroy() {
	if err := f.ctx.WaitIdle(); err != nil {
		f.log.Error("waiting for the device before teardown", "err", err)
	}
	f.destroyFrames()
	for _, fn := range f.released {
		fn()
	}
	f.released = nil
	f.uploads = nil
	if f.shadows != nil {
		f.shadows.Destroy()
		f.shadows = nil
	}
	if f.defaults != nil {
		f.defaults.destroy()
		f.defaults = nil
	}
	if f.pipelines != nil {
		f.pipelines.Destroy()
		f.pipelines = nil
	}
	for role, m := range f.shaders {
		m.Destroy()
		delete(f.shaders, role)
	}
	for i, pass := range f.passes {
		if pass != nil {
			pass.Destroy()
			f.passes[i] = nil
		}
	}
	if f.fullscreenLayout != nil {
		f.fullscreenLayout.Destroy()
		f.fullscreenLayout = nil
	}
	if f.sceneLayout != nil {
		f.sceneLayout.Destroy()
		f.sceneLayout = nil
	}
	if f.swapchain != nil {
		f.swapchain.Destroy()
		f.swapchain = nil
	}
}
