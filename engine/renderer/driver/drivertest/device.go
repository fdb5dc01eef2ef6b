// Package drivertest provides an in-memory driver.Device for tests.
//
// The fake executes copies, draws and timestamp writes when work is submitted,
// but keeps every submission pending until a fence wait or an idle wait
// retires it. That makes misuse visible: resetting a command pool, a
// descriptor pool or a fence that still belongs to in-flight work is recorded
// as a violation instead of silently succeeding.
package drivertest

import (
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"

	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

const (
	KindMemory              = "memory"
	KindBuffer              = "buffer"
	KindImage               = "image"
	KindImageView           = "image-view"
	KindSampler             = "sampler"
	KindDescriptorSetLayout = "descriptor-set-layout"
	KindDescriptorPool      = "descriptor-pool"
	KindRenderPass          = "render-pass"
	KindFramebuffer         = "framebuffer"
	KindShaderModule        = "shader-module"
	KindPipelineLayout      = "pipeline-layout"
	KindPipeline            = "pipeline"
	KindCommandPool         = "command-pool"
	KindFence               = "fence"
	KindSemaphore           = "semaphore"
	KindQueryPool           = "query-pool"
	KindSwapchain           = "swapchain"
)

type MemoryRange struct {
	Memory driver.Memory
	Offset uint64
	Size   uint64
}

type Option func(d *Device)

// WithMemoryProperties replaces the default memory layout.
func WithMemoryProperties(props driver.MemoryProperties) Option {
	return func(d *Device) {
		d.memProps = props
	}
}

func WithLimits(limits driver.Limits) Option {
	return func(d *Device) {
		d.props.Limits = limits
	}
}

func WithSurfaceExtent(width, height uint32) Option {
	return func(d *Device) {
		d.surfaceW = width
		d.surfaceH = height
	}
}

func WithImageCount(min, max uint32) Option {
	return func(d *Device) {
		d.minImages = min
		d.maxImages = max
	}
}

// WithoutQueue removes an optional queue.
func WithoutQueue(queue driver.QueueKind) Option {
	return func(d *Device) {
		d.queues[queue] = false
	}
}

// WithDedicatedAttachments makes attachment images request dedicated memory.
func WithDedicatedAttachments() Option {
	return func(d *Device) {
		d.dedicatedAttachments = true
	}
}

// WithResourceTypeBits limits the memory types buffers and images report as
// compatible. Binding memory of any other type is a violation.
func WithResourceTypeBits(bits uint32) Option {
	return func(d *Device) {
		d.resourceTypeBits = bits
	}
}

type memory struct {
	info  driver.MemoryAllocateInfo
	flags driver.MemoryPropertyFlags
	heap  uint32
	data  []byte
}

type buffer struct {
	info   driver.BufferCreateInfo
	memory driver.Memory
	offset uint64
}

type image struct {
	info      driver.ImageCreateInfo
	memory    driver.Memory
	swapchain bool
	contents  map[uint32][]byte
}

type commandPool struct {
	queue   driver.QueueKind
	buffers []driver.CommandBuffer
}

type command struct {
	kind        string
	src, dst    driver.Buffer
	image       driver.Image
	regions     []driver.BufferCopy
	imgRegions  []driver.BufferImageCopy
	secondaries []driver.CommandBuffer
	sets        []driver.DescriptorSet
	queryPool   driver.QueryPool
	first       uint32
	count       uint32
	barrier     driver.BarrierInfo
}

type commandBuffer struct {
	pool      driver.CommandPool
	level     driver.CommandBufferLevel
	recording bool
	ended     bool
	begin     driver.CommandBufferBeginInfo
	commands  []command
}

type fence struct {
	signaled bool
}

type descriptorPool struct {
	maxSets uint32
	sets    []driver.DescriptorSet
}

type swapchain struct {
	info   driver.SwapchainCreateInfo
	images []driver.Image
	next   uint32
}

type queryPool struct {
	values  []uint64
	written []bool
}

type submission struct {
	fence   driver.Fence
	buffers map[driver.CommandBuffer]bool
	sets    map[driver.DescriptorSet]bool
}

type Device struct {
	mu sync.Mutex

	nextHandle uint64
	props      driver.DeviceProperties
	memProps   driver.MemoryProperties
	heapUsed   []uint64
	heapBudget []uint64
	queues     map[driver.QueueKind]bool

	dedicatedAttachments bool
	resourceTypeBits     uint32

	objects         *swiss.Map[uint64, string]
	memories        *swiss.Map[driver.Memory, *memory]
	buffers         *swiss.Map[driver.Buffer, *buffer]
	images          *swiss.Map[driver.Image, *image]
	commandPools    *swiss.Map[driver.CommandPool, *commandPool]
	commandBuffers  *swiss.Map[driver.CommandBuffer, *commandBuffer]
	fences          *swiss.Map[driver.Fence, *fence]
	descriptorPools *swiss.Map[driver.DescriptorPool, *descriptorPool]
	setOwners       *swiss.Map[driver.DescriptorSet, driver.DescriptorPool]
	swapchains      *swiss.Map[driver.Swapchain, *swapchain]
	queryPools      *swiss.Map[driver.QueryPool, *queryPool]
	descriptors     map[[3]uint64]driver.DescriptorWrite

	pending    []*submission
	violations []string
	flushes    []MemoryRange

	surfaceW, surfaceH   uint32
	minImages, maxImages uint32
	suboptimal           bool
	hangFences           bool
	presentDelay         time.Duration
	failPipelineIn       int
	timestamp            uint64

	drawCalls             int
	descriptorWrites      int
	descriptorUpdateCalls int
	barriers              int
	submits               int
	acquires              int
	presents              int
}

var _ driver.Device = (*Device)(nil)

// DefaultMemoryProperties describes a discrete GPU with a device-local heap,
// a host heap and a small host-visible window into video memory.
func DefaultMemoryProperties() driver.MemoryProperties {
	return driver.MemoryProperties{
		Heaps: []driver.MemoryHeap{
			{Size: 256 << 20, Flags: driver.MemoryHeapDeviceLocal},
			{Size: 512 << 20},
			{Size: 16 << 20, Flags: driver.MemoryHeapDeviceLocal},
		},
		Types: []driver.MemoryType{
			{PropertyFlags: driver.MemoryDeviceLocal, HeapIndex: 0},
			{PropertyFlags: driver.MemoryHostVisible | driver.MemoryHostCoherent, HeapIndex: 1},
			{PropertyFlags: driver.MemoryHostVisible | driver.MemoryHostCoherent | driver.MemoryHostCached, HeapIndex: 1},
			{PropertyFlags: driver.MemoryDeviceLocal | driver.MemoryHostVisible | driver.MemoryHostCoherent, HeapIndex: 2},
		},
	}
}

func New(opts ...Option) *Device {
	d := &Device{
		props: driver.DeviceProperties{
			Name:     "drivertest",
			Discrete: true,
			Limits: driver.Limits{
				NonCoherentAtomSize:             64,
				MinUniformBufferOffsetAlignment: 256,
				MinStorageBufferOffsetAlignment: 64,
				MaxImageDimension2D:             16384,
				TimestampPeriod:                 1,
				TimestampsSupported:             true,
			},
		},
		memProps: DefaultMemoryProperties(),
		queues: map[driver.QueueKind]bool{
			driver.QueueGraphics: true,
			driver.QueueTransfer: true,
			driver.QueueCompute:  true,
		},
		objects:         swiss.NewMap[uint64, string](64),
		memories:        swiss.NewMap[driver.Memory, *memory](16),
		buffers:         swiss.NewMap[driver.Buffer, *buffer](16),
		images:          swiss.NewMap[driver.Image, *image](16),
		commandPools:    swiss.NewMap[driver.CommandPool, *commandPool](8),
		commandBuffers:  swiss.NewMap[driver.CommandBuffer, *commandBuffer](16),
		fences:          swiss.NewMap[driver.Fence, *fence](8),
		descriptorPools: swiss.NewMap[driver.DescriptorPool, *descriptorPool](8),
		setOwners:       swiss.NewMap[driver.DescriptorSet, driver.DescriptorPool](16),
		swapchains:      swiss.NewMap[driver.Swapchain, *swapchain](2),
		queryPools:      swiss.NewMap[driver.QueryPool, *queryPool](4),
		descriptors:     make(map[[3]uint64]driver.DescriptorWrite),
		surfaceW:        800,
		surfaceH:        600,
		minImages:       2,
		maxImages:       3,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.heapUsed = make([]uint64, len(d.memProps.Heaps))
	d.heapBudget = make([]uint64, len(d.memProps.Heaps))
	for i, h := range d.memProps.Heaps {
		d.heapBudget[i] = h.Size
	}
	return d
}

func (d *Device) violation(format string, args ...interface{}) {
	d.violations = append(d.violations, fmt.Sprintf(format, args...))
}

func (d *Device) track(kind string) uint64 {
	d.nextHandle++
	d.objects.Put(d.nextHandle, kind)
	return d.nextHandle
}

func (d *Device) untrack(handle uint64, kind string) bool {
	got, ok := d.objects.Get(handle)
	if !ok || got != kind {
		d.violation("destroy of unknown %s %d", kind, handle)
		return false
	}
	d.objects.Delete(handle)
	return true
}

// inFlight reports whether any pending submission satisfies fn.
func (d *Device) inFlight(fn func(s *submission) bool) bool {
	for _, s := range d.pending {
		if fn(s) {
			return true
		}
	}
	return false
}

// retire completes pending submissions up to and including index i.
func (d *Device) retire(i int) {
	for _, s := range d.pending[:i+1] {
		if f, ok := d.fences.Get(s.fence); ok {
			f.signaled = true
		}
	}
	d.pending = append([]*submission(nil), d.pending[i+1:]...)
}

func (d *Device) Properties() driver.DeviceProperties {
	return d.props
}

func (d *Device) MemoryProperties() driver.MemoryProperties {
	return d.memProps
}

func (d *Device) HasQueue(queue driver.QueueKind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queues[queue]
}

func (d *Device) DepthFormat() driver.Format {
	return driver.FormatD32Sfloat
}

func (d *Device) allTypeBits() uint32 {
	bits := uint32(1)<<uint32(len(d.memProps.Types)) - 1
	if d.resourceTypeBits != 0 {
		bits &= d.resourceTypeBits
	}
	return bits
}

func (d *Device) checkTypeBits(kind string, handle uint64, mem *memory) {
	if d.allTypeBits()&(1<<mem.info.TypeIndex) == 0 {
		d.violation("%s %d bound to memory type %d outside %#b", kind, handle, mem.info.TypeIndex, d.allTypeBits())
	}
}

func alignUp(v, alignment uint64) uint64 {
	return (v + alignment - 1) / alignment * alignment
}

func (d *Device) CreateBuffer(info driver.BufferCreateInfo) (driver.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if info.Size == 0 {
		return 0, errors.Mark(errors.New("zero-sized buffer"), driver.ErrInitializationFailed)
	}
	h := driver.Buffer(d.track(KindBuffer))
	d.buffers.Put(h, &buffer{info: info})
	return h, nil
}

func (d *Device) DestroyBuffer(b driver.Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.untrack(uint64(b), KindBuffer) {
		d.buffers.Delete(b)
	}
}

func (d *Device) BufferMemoryRequirements(b driver.Buffer) driver.MemoryRequirements {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers.Get(b)
	if !ok {
		d.violation("memory requirements of unknown buffer %d", b)
		return driver.MemoryRequirements{}
	}
	alignment := uint64(16)
	if buf.info.Usage&(driver.BufferUsageUniform|driver.BufferUsageStorage) != 0 {
		alignment = 256
	}
	return driver.MemoryRequirements{
		Size:      alignUp(buf.info.Size, alignment),
		Alignment: alignment,
		TypeBits:  d.allTypeBits(),
	}
}

func (d *Device) BindBufferMemory(b driver.Buffer, m driver.Memory, offset uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers.Get(b)
	if !ok {
		d.violation("bind of unknown buffer %d", b)
		return errors.Mark(errors.Newf("unknown buffer %d", b), driver.ErrInitializationFailed)
	}
	mem, ok := d.memories.Get(m)
	if !ok {
		d.violation("bind of buffer %d to unknown memory %d", b, m)
		return errors.Mark(errors.Newf("unknown memory %d", m), driver.ErrInitializationFailed)
	}
	if buf.memory != 0 {
		d.violation("buffer %d bound twice", b)
	}
	d.checkTypeBits(KindBuffer, uint64(b), mem)
	if offset+buf.info.Size > uint64(len(mem.data)) {
		d.violation("buffer %d does not fit memory %d at offset %d", b, m, offset)
		return errors.Mark(errors.Newf("buffer %d out of range", b), driver.ErrInitializationFailed)
	}
	buf.memory = m
	buf.offset = offset
	return nil
}

func (d *Device) imageSize(info driver.ImageCreateInfo) uint64 {
	texel, err := info.Format.Size()
	if err != nil {
		return 0
	}
	var size uint64
	w, h := info.Width, info.Height
	for mip := uint32(0); mip < max(info.MipLevels, 1); mip++ {
		size += uint64(w) * uint64(h) * uint64(texel)
		w = max(w/2, 1)
		h = max(h/2, 1)
	}
	return size * uint64(max(info.ArrayLayers, 1))
}

func (d *Device) CreateImage(info driver.ImageCreateInfo) (driver.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if info.Width == 0 || info.Height == 0 {
		return 0, errors.Mark(errors.New("zero-sized image"), driver.ErrInitializationFailed)
	}
	if _, err := info.Format.Size(); err != nil {
		return 0, errors.Mark(err, driver.ErrFormatNotSupported)
	}
	h := driver.Image(d.track(KindImage))
	d.images.Put(h, &image{info: info, contents: make(map[uint32][]byte)})
	return h, nil
}

func (d *Device) DestroyImage(i driver.Image) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if img, ok := d.images.Get(i); ok && img.swapchain {
		d.violation("destroy of swapchain image %d", i)
		return
	}
	if d.untrack(uint64(i), KindImage) {
		d.images.Delete(i)
	}
}

func (d *Device) ImageMemoryRequirements(i driver.Image) driver.MemoryRequirements {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.images.Get(i)
	if !ok {
		d.violation("memory requirements of unknown image %d", i)
		return driver.MemoryRequirements{}
	}
	attachment := img.info.Usage&(driver.ImageUsageColourAttachment|driver.ImageUsageDepthStencilAttachment) != 0
	return driver.MemoryRequirements{
		Size:             alignUp(d.imageSize(img.info), 256),
		Alignment:        256,
		TypeBits:         d.allTypeBits(),
		PrefersDedicated: attachment && d.dedicatedAttachments,
	}
}

func (d *Device) BindImageMemory(i driver.Image, m driver.Memory, offset uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.images.Get(i)
	if !ok {
		d.violation("bind of unknown image %d", i)
		return errors.Mark(errors.Newf("unknown image %d", i), driver.ErrInitializationFailed)
	}
	mem, ok := d.memories.Get(m)
	if !ok {
		d.violation("bind of image %d to unknown memory %d", i, m)
		return errors.Mark(errors.Newf("unknown memory %d", m), driver.ErrInitializationFailed)
	}
	if img.memory != 0 {
		d.violation("image %d bound twice", i)
	}
	d.checkTypeBits(KindImage, uint64(i), mem)
	img.memory = m
	return nil
}

func (d *Device) AllocateMemory(info driver.MemoryAllocateInfo) (driver.Memory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(info.TypeIndex) >= len(d.memProps.Types) {
		d.violation("allocation from unknown memory type %d", info.TypeIndex)
		return 0, errors.Mark(errors.Newf("memory type %d", info.TypeIndex), driver.ErrInitializationFailed)
	}
	mt := d.memProps.Types[info.TypeIndex]
	if d.heapUsed[mt.HeapIndex]+info.Size > d.heapBudget[mt.HeapIndex] {
		sentinel := driver.ErrOutOfHostMemory
		if d.memProps.Heaps[mt.HeapIndex].Flags&driver.MemoryHeapDeviceLocal != 0 {
			sentinel = driver.ErrOutOfDeviceMemory
		}
		return 0, errors.Mark(errors.Newf("heap %d exhausted allocating %d bytes", mt.HeapIndex, info.Size), sentinel)
	}
	d.heapUsed[mt.HeapIndex] += info.Size
	h := driver.Memory(d.track(KindMemory))
	d.memories.Put(h, &memory{
		info:  info,
		flags: mt.PropertyFlags,
		heap:  mt.HeapIndex,
		data:  make([]byte, info.Size),
	})
	return h, nil
}

func (d *Device) FreeMemory(m driver.Memory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mem, ok := d.memories.Get(m)
	if !ok || !d.untrack(uint64(m), KindMemory) {
		return
	}
	d.heapUsed[mem.heap] -= mem.info.Size
	d.memories.Delete(m)
}

func (d *Device) MapMemory(m driver.Memory) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mem, ok := d.memories.Get(m)
	if !ok {
		return nil, errors.Mark(errors.Newf("unknown memory %d", m), driver.ErrMemoryMapFailed)
	}
	if !mem.flags.Has(driver.MemoryHostVisible) {
		d.violation("map of non host-visible memory %d", m)
		return nil, errors.Mark(errors.Newf("memory %d is not host visible", m), driver.ErrMemoryMapFailed)
	}
	return mem.data, nil
}

func (d *Device) UnmapMemory(m driver.Memory) {}

func (d *Device) FlushMemory(m driver.Memory, offset, size uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushes = append(d.flushes, MemoryRange{Memory: m, Offset: offset, Size: size})
	return nil
}

func (d *Device) InvalidateMemory(m driver.Memory, offset, size uint64) error {
	return nil
}

func (d *Device) CreateImageView(info driver.ImageViewCreateInfo) (driver.ImageView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.images.Get(info.Image); !ok {
		d.violation("view of unknown image %d", info.Image)
		return 0, errors.Mark(errors.Newf("unknown image %d", info.Image), driver.ErrInitializationFailed)
	}
	return driver.ImageView(d.track(KindImageView)), nil
}

func (d *Device) DestroyImageView(v driver.ImageView) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.untrack(uint64(v), KindImageView)
}

func (d *Device) CreateSampler(info driver.SamplerCreateInfo) (driver.Sampler, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return driver.Sampler(d.track(KindSampler)), nil
}

func (d *Device) DestroySampler(s driver.Sampler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.untrack(uint64(s), KindSampler)
}

func (d *Device) CreateDescriptorSetLayout(bindings []driver.DescriptorBinding) (driver.DescriptorSetLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return driver.DescriptorSetLayout(d.track(KindDescriptorSetLayout)), nil
}

func (d *Device) DestroyDescriptorSetLayout(l driver.DescriptorSetLayout) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.untrack(uint64(l), KindDescriptorSetLayout)
}

func (d *Device) CreateDescriptorPool(maxSets uint32, sizes []driver.DescriptorPoolSize) (driver.DescriptorPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.DescriptorPool(d.track(KindDescriptorPool))
	d.descriptorPools.Put(h, &descriptorPool{maxSets: maxSets})
	return h, nil
}

func (d *Device) DestroyDescriptorPool(p driver.DescriptorPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pool, ok := d.descriptorPools.Get(p)
	if !ok || !d.untrack(uint64(p), KindDescriptorPool) {
		return
	}
	d.forgetSets(pool)
	d.descriptorPools.Delete(p)
}

func (d *Device) forgetSets(pool *descriptorPool) {
	for _, s := range pool.sets {
		if d.inFlight(func(sub *submission) bool { return sub.sets[s] }) {
			d.violation("descriptor set %d released while in flight", s)
		}
		d.setOwners.Delete(s)
	}
	pool.sets = nil
}

func (d *Device) ResetDescriptorPool(p driver.DescriptorPool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	pool, ok := d.descriptorPools.Get(p)
	if !ok {
		d.violation("reset of unknown descriptor pool %d", p)
		return errors.Mark(errors.Newf("unknown descriptor pool %d", p), driver.ErrInitializationFailed)
	}
	d.forgetSets(pool)
	return nil
}

func (d *Device) AllocateDescriptorSet(p driver.DescriptorPool, layout driver.DescriptorSetLayout) (driver.DescriptorSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pool, ok := d.descriptorPools.Get(p)
	if !ok {
		d.violation("allocation from unknown descriptor pool %d", p)
		return 0, errors.Mark(errors.Newf("unknown descriptor pool %d", p), driver.ErrInitializationFailed)
	}
	if uint32(len(pool.sets)) >= pool.maxSets {
		return 0, errors.Mark(errors.Newf("descriptor pool %d holds %d sets", p, pool.maxSets), driver.ErrOutOfPoolMemory)
	}
	d.nextHandle++
	s := driver.DescriptorSet(d.nextHandle)
	pool.sets = append(pool.sets, s)
	d.setOwners.Put(s, p)
	return s, nil
}

func (d *Device) UpdateDescriptorSets(writes []driver.DescriptorWrite) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.descriptorUpdateCalls++
	d.descriptorWrites += len(writes)
	for _, w := range writes {
		if !d.setOwners.Has(w.Set) {
			d.violation("write to unknown descriptor set %d", w.Set)
			continue
		}
		if d.inFlight(func(s *submission) bool { return s.sets[w.Set] }) {
			d.violation("descriptor set %d updated while in flight", w.Set)
		}
		d.descriptors[[3]uint64{uint64(w.Set), uint64(w.Binding), uint64(w.ArrayElement)}] = w
	}
}

func (d *Device) CreateRenderPass(info driver.RenderPassCreateInfo) (driver.RenderPass, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return driver.RenderPass(d.track(KindRenderPass)), nil
}

func (d *Device) DestroyRenderPass(p driver.RenderPass) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.untrack(uint64(p), KindRenderPass)
}

func (d *Device) CreateFramebuffer(info driver.FramebufferCreateInfo) (driver.Framebuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if info.Width == 0 || info.Height == 0 {
		d.violation("zero-area framebuffer")
		return 0, errors.Mark(errors.New("zero-area framebuffer"), driver.ErrInitializationFailed)
	}
	return driver.Framebuffer(d.track(KindFramebuffer)), nil
}

func (d *Device) DestroyFramebuffer(f driver.Framebuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.untrack(uint64(f), KindFramebuffer)
}

func (d *Device) CreateShaderModule(code []uint32) (driver.ShaderModule, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(code) == 0 {
		return 0, errors.Mark(errors.New("empty shader code"), driver.ErrInitializationFailed)
	}
	return driver.ShaderModule(d.track(KindShaderModule)), nil
}

func (d *Device) DestroyShaderModule(m driver.ShaderModule) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.untrack(uint64(m), KindShaderModule)
}

func (d *Device) CreatePipelineLayout(info driver.PipelineLayoutCreateInfo) (driver.PipelineLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return driver.PipelineLayout(d.track(KindPipelineLayout)), nil
}

func (d *Device) DestroyPipelineLayout(l driver.PipelineLayout) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.untrack(uint64(l), KindPipelineLayout)
}

func (d *Device) CreateGraphicsPipeline(info driver.GraphicsPipelineCreateInfo) (driver.Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failPipelineIn > 0 {
		d.failPipelineIn--
		if d.failPipelineIn == 0 {
			return 0, errors.Mark(errors.Newf("pipeline %q failed to compile", info.Name), driver.ErrInitializationFailed)
		}
	}
	return driver.Pipeline(d.track(KindPipeline)), nil
}

func (d *Device) DestroyPipeline(p driver.Pipeline) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.untrack(uint64(p), KindPipeline)
}

func (d *Device) CreateCommandPool(queue driver.QueueKind, transient bool) (driver.CommandPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.queues[queue] {
		return 0, errors.Mark(errors.Newf("no %s queue", queue), driver.ErrInitializationFailed)
	}
	h := driver.CommandPool(d.track(KindCommandPool))
	d.commandPools.Put(h, &commandPool{queue: queue})
	return h, nil
}

func (d *Device) DestroyCommandPool(p driver.CommandPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pool, ok := d.commandPools.Get(p)
	if !ok || !d.untrack(uint64(p), KindCommandPool) {
		return
	}
	if d.poolInFlight(pool) {
		d.violation("command pool %d destroyed while in flight", p)
	}
	for _, cb := range pool.buffers {
		d.commandBuffers.Delete(cb)
	}
	d.commandPools.Delete(p)
}

func (d *Device) poolInFlight(pool *commandPool) bool {
	for _, cb := range pool.buffers {
		cb := cb
		if d.inFlight(func(s *submission) bool { return s.buffers[cb] }) {
			return true
		}
	}
	return false
}

func (d *Device) ResetCommandPool(p driver.CommandPool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	pool, ok := d.commandPools.Get(p)
	if !ok {
		d.violation("reset of unknown command pool %d", p)
		return errors.Mark(errors.Newf("unknown command pool %d", p), driver.ErrInitializationFailed)
	}
	if d.poolInFlight(pool) {
		d.violation("command pool %d reset while in flight", p)
	}
	for _, h := range pool.buffers {
		if cb, ok := d.commandBuffers.Get(h); ok {
			cb.commands = nil
			cb.recording = false
			cb.ended = false
		}
	}
	return nil
}

func (d *Device) AllocateCommandBuffer(p driver.CommandPool, level driver.CommandBufferLevel) (driver.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pool, ok := d.commandPools.Get(p)
	if !ok {
		d.violation("allocation from unknown command pool %d", p)
		return 0, errors.Mark(errors.Newf("unknown command pool %d", p), driver.ErrInitializationFailed)
	}
	d.nextHandle++
	h := driver.CommandBuffer(d.nextHandle)
	pool.buffers = append(pool.buffers, h)
	d.commandBuffers.Put(h, &commandBuffer{pool: p, level: level})
	return h, nil
}

func (d *Device) FreeCommandBuffer(p driver.CommandPool, h driver.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pool, ok := d.commandPools.Get(p)
	if !ok {
		d.violation("free into unknown command pool %d", p)
		return
	}
	if d.inFlight(func(s *submission) bool { return s.buffers[h] }) {
		d.violation("command buffer %d freed while in flight", h)
	}
	for i, cb := range pool.buffers {
		if cb == h {
			pool.buffers = append(pool.buffers[:i], pool.buffers[i+1:]...)
			break
		}
	}
	d.commandBuffers.Delete(h)
}

func (d *Device) BeginCommandBuffer(h driver.CommandBuffer, info driver.CommandBufferBeginInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, ok := d.commandBuffers.Get(h)
	if !ok {
		d.violation("begin of unknown command buffer %d", h)
		return errors.Mark(errors.Newf("unknown command buffer %d", h), driver.ErrInitializationFailed)
	}
	if d.inFlight(func(s *submission) bool { return s.buffers[h] }) {
		d.violation("command buffer %d re-recorded while in flight", h)
	}
	if cb.level == driver.CommandBufferSecondary &&
		info.Usage&driver.CommandBufferUsageRenderPassContinue != 0 && info.Inheritance == nil {
		d.violation("secondary command buffer %d continues a render pass without inheritance", h)
	}
	cb.commands = nil
	cb.recording = true
	cb.ended = false
	cb.begin = info
	return nil
}

func (d *Device) EndCommandBuffer(h driver.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, ok := d.commandBuffers.Get(h)
	if !ok || !cb.recording {
		d.violation("end of command buffer %d that is not recording", h)
		return errors.Mark(errors.Newf("command buffer %d not recording", h), driver.ErrInitializationFailed)
	}
	cb.recording = false
	cb.ended = true
	return nil
}

func (d *Device) record(h driver.CommandBuffer, c command) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, ok := d.commandBuffers.Get(h)
	if !ok || !cb.recording {
		d.violation("%s recorded into command buffer %d that is not recording", c.kind, h)
		return
	}
	cb.commands = append(cb.commands, c)
}

func (d *Device) CmdBeginRenderPass(cb driver.CommandBuffer, info driver.RenderPassBeginInfo) {
	d.record(cb, command{kind: "begin-render-pass"})
}

func (d *Device) CmdEndRenderPass(cb driver.CommandBuffer) {
	d.record(cb, command{kind: "end-render-pass"})
}

func (d *Device) CmdBindPipeline(cb driver.CommandBuffer, p driver.Pipeline) {
	d.record(cb, command{kind: "bind-pipeline"})
}

func (d *Device) CmdBindDescriptorSets(cb driver.CommandBuffer, layout driver.PipelineLayout, firstSet uint32, sets []driver.DescriptorSet, dynamicOffsets []uint32) {
	d.record(cb, command{kind: "bind-descriptor-sets", sets: append([]driver.DescriptorSet(nil), sets...)})
}

func (d *Device) CmdBindVertexBuffers(cb driver.CommandBuffer, firstBinding uint32, buffers []driver.Buffer, offsets []uint64) {
	d.record(cb, command{kind: "bind-vertex-buffers"})
}

func (d *Device) CmdBindIndexBuffer(cb driver.CommandBuffer, b driver.Buffer, offset uint64, indexType driver.IndexType) {
	d.record(cb, command{kind: "bind-index-buffer"})
}

func (d *Device) CmdDraw(cb driver.CommandBuffer, vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	d.record(cb, command{kind: "draw"})
}

func (d *Device) CmdDrawIndexed(cb driver.CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	d.record(cb, command{kind: "draw"})
}

func (d *Device) CmdPushConstants(cb driver.CommandBuffer, layout driver.PipelineLayout, stages driver.ShaderStageFlags, offset uint32, data []byte) {
	d.record(cb, command{kind: "push-constants"})
}

func (d *Device) CmdPipelineBarrier(cb driver.CommandBuffer, info driver.BarrierInfo) {
	d.record(cb, command{kind: "barrier", barrier: info})
}

func (d *Device) CmdCopyBuffer(cb driver.CommandBuffer, src, dst driver.Buffer, regions []driver.BufferCopy) {
	d.record(cb, command{kind: "copy-buffer", src: src, dst: dst, regions: append([]driver.BufferCopy(nil), regions...)})
}

func (d *Device) CmdCopyBufferToImage(cb driver.CommandBuffer, src driver.Buffer, dst driver.Image, layout driver.ImageLayout, regions []driver.BufferImageCopy) {
	if layout != driver.ImageLayoutTransferDst {
		d.mu.Lock()
		d.violation("copy into image %d outside the transfer layout", dst)
		d.mu.Unlock()
	}
	d.record(cb, command{kind: "copy-buffer-to-image", src: src, image: dst, imgRegions: append([]driver.BufferImageCopy(nil), regions...)})
}

func (d *Device) CmdExecuteCommands(cb driver.CommandBuffer, secondaries []driver.CommandBuffer) {
	d.record(cb, command{kind: "execute-commands", secondaries: append([]driver.CommandBuffer(nil), secondaries...)})
}

func (d *Device) CmdSetViewport(cb driver.CommandBuffer, viewport driver.Viewport) {
	d.record(cb, command{kind: "set-viewport"})
}

func (d *Device) CmdSetScissor(cb driver.CommandBuffer, scissor driver.Rect) {
	d.record(cb, command{kind: "set-scissor"})
}

func (d *Device) CmdResetQueryPool(cb driver.CommandBuffer, p driver.QueryPool, first, count uint32) {
	d.record(cb, command{kind: "reset-queries", queryPool: p, first: first, count: count})
}

func (d *Device) CmdWriteTimestamp(cb driver.CommandBuffer, stage driver.PipelineStageFlags, p driver.QueryPool, query uint32) {
	d.record(cb, command{kind: "timestamp", queryPool: p, first: query})
}

func (d *Device) CreateFence(signaled bool) (driver.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.Fence(d.track(KindFence))
	d.fences.Put(h, &fence{signaled: signaled})
	return h, nil
}

func (d *Device) DestroyFence(f driver.Fence) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inFlight(func(s *submission) bool { return s.fence == f }) {
		d.violation("fence %d destroyed while in flight", f)
	}
	if d.untrack(uint64(f), KindFence) {
		d.fences.Delete(f)
	}
}

func (d *Device) WaitForFence(f driver.Fence, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	fe, ok := d.fences.Get(f)
	if !ok {
		d.violation("wait on unknown fence %d", f)
		return errors.Mark(errors.Newf("unknown fence %d", f), driver.ErrDeviceLost)
	}
	if fe.signaled {
		return nil
	}
	if d.hangFences {
		return errors.Mark(errors.Newf("fence %d did not signal within %s", f, timeout), driver.ErrTimeout)
	}
	for i := len(d.pending) - 1; i >= 0; i-- {
		if d.pending[i].fence == f {
			d.retire(i)
			return nil
		}
	}
	return errors.Mark(errors.Newf("fence %d has no pending work and will never signal", f), driver.ErrTimeout)
}

func (d *Device) FenceSignaled(f driver.Fence) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fe, ok := d.fences.Get(f)
	if !ok {
		return false, errors.Mark(errors.Newf("unknown fence %d", f), driver.ErrDeviceLost)
	}
	return fe.signaled, nil
}

func (d *Device) ResetFence(f driver.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	fe, ok := d.fences.Get(f)
	if !ok {
		return errors.Mark(errors.Newf("unknown fence %d", f), driver.ErrDeviceLost)
	}
	if d.inFlight(func(s *submission) bool { return s.fence == f }) {
		d.violation("fence %d reset while in flight", f)
	}
	fe.signaled = false
	return nil
}

func (d *Device) CreateSemaphore() (driver.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return driver.Semaphore(d.track(KindSemaphore)), nil
}

func (d *Device) DestroySemaphore(s driver.Semaphore) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.untrack(uint64(s), KindSemaphore)
}

// execute runs the recorded commands of cb and its secondaries.
func (d *Device) execute(h driver.CommandBuffer, sub *submission) {
	cb, ok := d.commandBuffers.Get(h)
	if !ok {
		d.violation("submit of unknown command buffer %d", h)
		return
	}
	if !cb.ended {
		d.violation("submit of command buffer %d that was not ended", h)
		return
	}
	if d.inFlight(func(s *submission) bool { return s.buffers[h] }) {
		d.violation("command buffer %d resubmitted while in flight", h)
	}
	sub.buffers[h] = true
	for _, c := range cb.commands {
		switch c.kind {
		case "draw":
			d.drawCalls++
		case "barrier":
			d.barriers++
		case "bind-descriptor-sets":
			for _, s := range c.sets {
				sub.sets[s] = true
			}
		case "copy-buffer":
			d.copyBuffer(c)
		case "copy-buffer-to-image":
			d.copyBufferToImage(c)
		case "execute-commands":
			for _, s := range c.secondaries {
				d.execute(s, sub)
			}
		case "reset-queries":
			if qp, ok := d.queryPools.Get(c.queryPool); ok {
				for i := c.first; i < c.first+c.count && int(i) < len(qp.written); i++ {
					qp.written[i] = false
				}
			}
		case "timestamp":
			if qp, ok := d.queryPools.Get(c.queryPool); ok && int(c.first) < len(qp.values) {
				d.timestamp += 1000
				qp.values[c.first] = d.timestamp
				qp.written[c.first] = true
			}
		}
	}
}

func (d *Device) bufferBytes(h driver.Buffer) []byte {
	buf, ok := d.buffers.Get(h)
	if !ok || buf.memory == 0 {
		return nil
	}
	mem, ok := d.memories.Get(buf.memory)
	if !ok {
		return nil
	}
	return mem.data[buf.offset : buf.offset+buf.info.Size]
}

func (d *Device) copyBuffer(c command) {
	src, dst := d.bufferBytes(c.src), d.bufferBytes(c.dst)
	if src == nil || dst == nil {
		d.violation("copy between unbound buffers %d and %d", c.src, c.dst)
		return
	}
	for _, r := range c.regions {
		if r.SrcOffset+r.Size > uint64(len(src)) || r.DstOffset+r.Size > uint64(len(dst)) {
			d.violation("copy region out of range")
			continue
		}
		copy(dst[r.DstOffset:r.DstOffset+r.Size], src[r.SrcOffset:r.SrcOffset+r.Size])
	}
}

func (d *Device) copyBufferToImage(c command) {
	src := d.bufferBytes(c.src)
	img, ok := d.images.Get(c.image)
	if src == nil || !ok || img.memory == 0 {
		d.violation("copy into unbound image %d", c.image)
		return
	}
	texel, _ := img.info.Format.Size()
	for _, r := range c.imgRegions {
		size := uint64(r.Width) * uint64(r.Height) * uint64(texel) * uint64(max(r.LayerCount, 1))
		if r.BufferOffset+size > uint64(len(src)) {
			d.violation("image copy region out of range")
			continue
		}
		img.contents[r.MipLevel] = append([]byte(nil), src[r.BufferOffset:r.BufferOffset+size]...)
	}
}

func (d *Device) Submit(queue driver.QueueKind, submits []driver.SubmitInfo, f driver.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.queues[queue] {
		return errors.Mark(errors.Newf("no %s queue", queue), driver.ErrDeviceLost)
	}
	if f != 0 {
		fe, ok := d.fences.Get(f)
		if !ok {
			d.violation("submit with unknown fence %d", f)
		} else if fe.signaled {
			d.violation("submit with signaled fence %d", f)
		}
	}
	sub := &submission{
		fence:   f,
		buffers: make(map[driver.CommandBuffer]bool),
		sets:    make(map[driver.DescriptorSet]bool),
	}
	for _, s := range submits {
		if len(s.WaitSemaphores) != len(s.WaitStages) {
			d.violation("submit with %d wait semaphores and %d wait stages", len(s.WaitSemaphores), len(s.WaitStages))
		}
		for _, cb := range s.CommandBuffers {
			d.execute(cb, sub)
		}
	}
	d.submits++
	d.pending = append(d.pending, sub)
	return nil
}

func (d *Device) QueueWaitIdle(queue driver.QueueKind) error {
	return d.WaitIdle()
}

func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) > 0 {
		d.retire(len(d.pending) - 1)
	}
	return nil
}

func (d *Device) SurfaceCapabilities() (driver.SurfaceCapabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return driver.SurfaceCapabilities{
		MinImageCount: d.minImages,
		MaxImageCount: d.maxImages,
		CurrentWidth:  d.surfaceW,
		CurrentHeight: d.surfaceH,
		MinWidth:      1,
		MinHeight:     1,
		MaxWidth:      16384,
		MaxHeight:     16384,
		Formats: []driver.SurfaceFormat{
			{Format: driver.FormatR8G8B8A8Unorm, ColourSpace: driver.ColourSpaceSRGBNonlinear},
			{Format: driver.FormatB8G8R8A8Unorm, ColourSpace: driver.ColourSpaceSRGBNonlinear},
		},
		PresentModes: []driver.PresentMode{driver.PresentModeFIFO, driver.PresentModeMailbox},
	}, nil
}

func (d *Device) CreateSwapchain(info driver.SwapchainCreateInfo) (driver.Swapchain, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if info.Width == 0 || info.Height == 0 {
		return 0, errors.Mark(errors.New("zero-area swapchain"), driver.ErrOutOfDate)
	}
	sc := &swapchain{info: info}
	for i := uint32(0); i < info.ImageCount; i++ {
		d.nextHandle++
		img := driver.Image(d.nextHandle)
		d.images.Put(img, &image{
			info: driver.ImageCreateInfo{
				Width: info.Width, Height: info.Height, MipLevels: 1, ArrayLayers: 1,
				Format: info.Format.Format, Usage: driver.ImageUsageColourAttachment,
			},
			swapchain: true,
			contents:  make(map[uint32][]byte),
		})
		sc.images = append(sc.images, img)
	}
	h := driver.Swapchain(d.track(KindSwapchain))
	d.swapchains.Put(h, sc)
	return h, nil
}

func (d *Device) DestroySwapchain(h driver.Swapchain) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sc, ok := d.swapchains.Get(h)
	if !ok || !d.untrack(uint64(h), KindSwapchain) {
		return
	}
	for _, img := range sc.images {
		d.images.Delete(img)
	}
	d.swapchains.Delete(h)
}

func (d *Device) SwapchainImages(h driver.Swapchain) ([]driver.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sc, ok := d.swapchains.Get(h)
	if !ok {
		return nil, errors.Mark(errors.Newf("unknown swapchain %d", h), driver.ErrSurfaceLost)
	}
	return append([]driver.Image(nil), sc.images...), nil
}

func (d *Device) surfaceMatches(sc *swapchain) bool {
	return d.surfaceW != 0 && d.surfaceH != 0 && d.surfaceW == sc.info.Width && d.surfaceH == sc.info.Height
}

func (d *Device) AcquireNextImage(h driver.Swapchain, timeout time.Duration, signal driver.Semaphore) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquires++
	sc, ok := d.swapchains.Get(h)
	if !ok {
		return 0, errors.Mark(errors.Newf("unknown swapchain %d", h), driver.ErrSurfaceLost)
	}
	if !d.surfaceMatches(sc) {
		return 0, errors.Mark(errors.Newf("surface is %dx%d", d.surfaceW, d.surfaceH), driver.ErrOutOfDate)
	}
	index := sc.next
	sc.next = (sc.next + 1) % uint32(len(sc.images))
	if d.suboptimal {
		return index, errors.Mark(errors.New("surface suboptimal"), driver.ErrSuboptimal)
	}
	return index, nil
}

func (d *Device) Present(h driver.Swapchain, index uint32, wait []driver.Semaphore) error {
	d.mu.Lock()
	delay := d.presentDelay
	d.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.presents++
	sc, ok := d.swapchains.Get(h)
	if !ok {
		return errors.Mark(errors.Newf("unknown swapchain %d", h), driver.ErrSurfaceLost)
	}
	if int(index) >= len(sc.images) {
		d.violation("present of image %d out of %d", index, len(sc.images))
	}
	if !d.surfaceMatches(sc) {
		return errors.Mark(errors.Newf("surface is %dx%d", d.surfaceW, d.surfaceH), driver.ErrOutOfDate)
	}
	return nil
}

func (d *Device) CreateQueryPool(count uint32) (driver.QueryPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.QueryPool(d.track(KindQueryPool))
	d.queryPools.Put(h, &queryPool{values: make([]uint64, count), written: make([]bool, count)})
	return h, nil
}

func (d *Device) DestroyQueryPool(p driver.QueryPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.untrack(uint64(p), KindQueryPool) {
		d.queryPools.Delete(p)
	}
}

func (d *Device) GetQueryResults(p driver.QueryPool, first, count uint32) ([]uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	qp, ok := d.queryPools.Get(p)
	if !ok {
		return nil, errors.Mark(errors.Newf("unknown query pool %d", p), driver.ErrDeviceLost)
	}
	if int(first+count) > len(qp.values) {
		return nil, errors.Newf("query range %d+%d out of %d", first, count, len(qp.values))
	}
	for i := first; i < first+count; i++ {
		if !qp.written[i] {
			return nil, errors.Mark(errors.Newf("query %d unavailable", i), driver.ErrNotReady)
		}
	}
	return append([]uint64(nil), qp.values[first:first+count]...), nil
}

func (d *Device) Destroy() {}
