package driver

// Opaque object handles. The zero value is the null handle.
type (
	Buffer              uint64
	Image               uint64
	ImageView           uint64
	Sampler             uint64
	Memory              uint64
	DescriptorSetLayout uint64
	DescriptorPool      uint64
	DescriptorSet       uint64
	RenderPass          uint64
	Framebuffer         uint64
	ShaderModule        uint64
	PipelineLayout      uint64
	Pipeline            uint64
	CommandPool         uint64
	CommandBuffer       uint64
	Fence               uint64
	Semaphore           uint64
	QueryPool           uint64
	Swapchain           uint64
)

type QueueKind uint8

const (
	QueueGraphics QueueKind = iota
	QueueTransfer
	QueueCompute
)

func (q QueueKind) String() string {
	switch q {
	case QueueGraphics:
		return "graphics"
	case QueueTransfer:
		return "transfer"
	case QueueCompute:
		return "compute"
	default:
		return "invalid"
	}
}

// MemoryPropertyFlags share their bit values with Vulkan.
type MemoryPropertyFlags uint32

const (
	MemoryDeviceLocal       MemoryPropertyFlags = 0x01
	MemoryHostVisible       MemoryPropertyFlags = 0x02
	MemoryHostCoherent      MemoryPropertyFlags = 0x04
	MemoryHostCached        MemoryPropertyFlags = 0x08
	MemoryLazilyAllocated   MemoryPropertyFlags = 0x10
	MemoryProtected         MemoryPropertyFlags = 0x20
	MemoryDeviceCoherentAMD MemoryPropertyFlags = 0x40
	MemoryDeviceUncachedAMD MemoryPropertyFlags = 0x80
)

func (f MemoryPropertyFlags) Has(flag MemoryPropertyFlags) bool {
	return f&flag == flag
}

type MemoryHeapFlags uint32

const MemoryHeapDeviceLocal MemoryHeapFlags = 0x01

type MemoryType struct {
	PropertyFlags MemoryPropertyFlags
	HeapIndex     uint32
}

type MemoryHeap struct {
	Size  uint64
	Flags MemoryHeapFlags
}

type MemoryProperties struct {
	Types []MemoryType
	Heaps []MemoryHeap
}

type MemoryRequirements struct {
	Size      uint64
	Alignment uint64
	// TypeBits has bit i set when memory type i can back the resource.
	TypeBits          uint32
	PrefersDedicated  bool
	RequiresDedicated bool
}

// MemoryAllocateInfo names at most one dedicated owner.
type MemoryAllocateInfo struct {
	Size            uint64
	TypeIndex       uint32
	DedicatedBuffer Buffer
	DedicatedImage  Image
}

type Limits struct {
	NonCoherentAtomSize             uint64
	MinUniformBufferOffsetAlignment uint64
	MinStorageBufferOffsetAlignment uint64
	MaxImageDimension2D             uint32
	// TimestampPeriod is the number of nanoseconds per timestamp tick.
	TimestampPeriod     float32
	TimestampsSupported bool
}

type DeviceProperties struct {
	Name     string
	Discrete bool
	Limits   Limits
}

type BufferUsageFlags uint32

const (
	BufferUsageTransferSrc BufferUsageFlags = 0x001
	BufferUsageTransferDst BufferUsageFlags = 0x002
	BufferUsageUniform     BufferUsageFlags = 0x010
	BufferUsageStorage     BufferUsageFlags = 0x020
	BufferUsageIndex       BufferUsageFlags = 0x040
	BufferUsageVertex      BufferUsageFlags = 0x080
	BufferUsageIndirect    BufferUsageFlags = 0x100
)

type ImageUsageFlags uint32

const (
	ImageUsageTransferSrc            ImageUsageFlags = 0x01
	ImageUsageTransferDst            ImageUsageFlags = 0x02
	ImageUsageSampled                ImageUsageFlags = 0x04
	ImageUsageStorage                ImageUsageFlags = 0x08
	ImageUsageColourAttachment       ImageUsageFlags = 0x10
	ImageUsageDepthStencilAttachment ImageUsageFlags = 0x20
)

type ImageAspectFlags uint32

const (
	ImageAspectColour  ImageAspectFlags = 0x1
	ImageAspectDepth   ImageAspectFlags = 0x2
	ImageAspectStencil ImageAspectFlags = 0x4
)

type ImageLayout uint8

const (
	ImageLayoutUndefined ImageLayout = iota
	ImageLayoutGeneral
	ImageLayoutColourAttachment
	ImageLayoutDepthStencilAttachment
	ImageLayoutDepthStencilReadOnly
	ImageLayoutShaderReadOnly
	ImageLayoutTransferSrc
	ImageLayoutTransferDst
	ImageLayoutPresentSrc
)

type BufferCreateInfo struct {
	Size  uint64
	Usage BufferUsageFlags
}

type ImageCreateInfo struct {
	Width       uint32
	Height      uint32
	MipLevels   uint32
	ArrayLayers uint32
	Format      Format
	Usage       ImageUsageFlags
}

type ImageViewCreateInfo struct {
	Image      Image
	Format     Format
	Aspect     ImageAspectFlags
	BaseMip    uint32
	MipCount   uint32
	BaseLayer  uint32
	LayerCount uint32
}

type Filter uint8

const (
	FilterNearest Filter = iota
	FilterLinear
)

type AddressMode uint8

const (
	AddressRepeat AddressMode = iota
	AddressClampToEdge
	AddressClampToBorder
)

type SamplerCreateInfo struct {
	Filter      Filter
	AddressMode AddressMode
	Anisotropy  float32
	// CompareLess enables depth comparison for shadow sampling.
	CompareLess bool
	MaxLod      float32
}

type DescriptorType uint8

const (
	DescriptorUniformBuffer DescriptorType = iota
	DescriptorStorageBuffer
	DescriptorCombinedImageSampler
)

type ShaderStageFlags uint32

const (
	ShaderStageVertex      ShaderStageFlags = 0x01
	ShaderStageFragment    ShaderStageFlags = 0x10
	ShaderStageCompute     ShaderStageFlags = 0x20
	ShaderStageAllGraphics ShaderStageFlags = 0x1F
)

type DescriptorBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
	Stages  ShaderStageFlags
	// PartiallyBound allows unwritten array elements.
	PartiallyBound bool
}

type DescriptorPoolSize struct {
	Type  DescriptorType
	Count uint32
}

// DescriptorWrite updates one array element of one binding. Buffer writes
// use Buffer, Offset and Range. Image writes use View, Sampler and Layout.
type DescriptorWrite struct {
	Set          DescriptorSet
	Binding      uint32
	ArrayElement uint32
	Type         DescriptorType
	Buffer       Buffer
	Offset       uint64
	Range        uint64
	View         ImageView
	Sampler      Sampler
	Layout       ImageLayout
}

type AttachmentLoadOp uint8

const (
	LoadOpLoad AttachmentLoadOp = iota
	LoadOpClear
	LoadOpDontCare
)

type AttachmentStoreOp uint8

const (
	StoreOpStore AttachmentStoreOp = iota
	StoreOpDontCare
)

type AttachmentDescription struct {
	Format        Format
	LoadOp        AttachmentLoadOp
	StoreOp       AttachmentStoreOp
	InitialLayout ImageLayout
	FinalLayout   ImageLayout
}

type RenderPassCreateInfo struct {
	Name   string
	Colour []AttachmentDescription
	Depth  *AttachmentDescription
	// DepthReadOnly binds the depth attachment in a read-only layout.
	DepthReadOnly bool
}

type FramebufferCreateInfo struct {
	RenderPass  RenderPass
	Attachments []ImageView
	Width       uint32
	Height      uint32
}

type ClearValue struct {
	Colour  [4]float32
	Depth   float32
	Stencil uint32
}

type SubpassContents uint8

const (
	SubpassContentsInline SubpassContents = iota
	SubpassContentsSecondary
)

type RenderPassBeginInfo struct {
	RenderPass  RenderPass
	Framebuffer Framebuffer
	Width       uint32
	Height      uint32
	Clear       []ClearValue
	Contents    SubpassContents
}

type VertexBinding struct {
	Binding uint32
	Stride  uint32
}

type VertexAttributeDescription struct {
	Location uint32
	Binding  uint32
	Format   Format
	Offset   uint32
}

type CompareOp uint8

const (
	CompareNever CompareOp = iota
	CompareLess
	CompareEqual
	CompareLessOrEqual
	CompareGreater
	CompareAlways
)

type CullMode uint8

const (
	CullNone CullMode = iota
	CullFront
	CullBack
)

type PushConstantRange struct {
	Stages ShaderStageFlags
	Offset uint32
	Size   uint32
}

type PipelineLayoutCreateInfo struct {
	SetLayouts    []DescriptorSetLayout
	PushConstants []PushConstantRange
}

type ShaderStage struct {
	Stage  ShaderStageFlags
	Module ShaderModule
	Entry  string
}

type GraphicsPipelineCreateInfo struct {
	Name              string
	Layout            PipelineLayout
	RenderPass        RenderPass
	Stages            []ShaderStage
	Bindings          []VertexBinding
	Attributes        []VertexAttributeDescription
	CullMode          CullMode
	DepthTest         bool
	DepthWrite        bool
	DepthCompare      CompareOp
	DepthBias         bool
	DepthBiasConstant float32
	DepthBiasSlope    float32
	ColourAttachments uint32
	Blend             bool
}

type CommandBufferLevel uint8

const (
	CommandBufferPrimary CommandBufferLevel = iota
	CommandBufferSecondary
)

type CommandBufferUsageFlags uint32

const (
	CommandBufferUsageOneTimeSubmit      CommandBufferUsageFlags = 0x1
	CommandBufferUsageRenderPassContinue CommandBufferUsageFlags = 0x2
	CommandBufferUsageSimultaneousUse    CommandBufferUsageFlags = 0x4
)

type InheritanceInfo struct {
	RenderPass  RenderPass
	Framebuffer Framebuffer
}

type CommandBufferBeginInfo struct {
	Usage       CommandBufferUsageFlags
	Inheritance *InheritanceInfo
}

// PipelineStageFlags share their bit values with Vulkan.
type PipelineStageFlags uint32

const (
	StageTopOfPipe           PipelineStageFlags = 0x00001
	StageDrawIndirect        PipelineStageFlags = 0x00002
	StageVertexInput         PipelineStageFlags = 0x00004
	StageVertexShader        PipelineStageFlags = 0x00008
	StageFragmentShader      PipelineStageFlags = 0x00080
	StageEarlyFragmentTests  PipelineStageFlags = 0x00100
	StageLateFragmentTests   PipelineStageFlags = 0x00200
	StageColourAttachmentOut PipelineStageFlags = 0x00400
	StageComputeShader       PipelineStageFlags = 0x00800
	StageTransfer            PipelineStageFlags = 0x01000
	StageBottomOfPipe        PipelineStageFlags = 0x02000
	StageAllCommands         PipelineStageFlags = 0x10000
)

// AccessFlags share their bit values with Vulkan.
type AccessFlags uint32

const (
	AccessIndexRead             AccessFlags = 0x00002
	AccessVertexAttributeRead   AccessFlags = 0x00004
	AccessUniformRead           AccessFlags = 0x00008
	AccessShaderRead            AccessFlags = 0x00020
	AccessShaderWrite           AccessFlags = 0x00040
	AccessColourAttachmentRead  AccessFlags = 0x00080
	AccessColourAttachmentWrite AccessFlags = 0x00100
	AccessDepthStencilRead      AccessFlags = 0x00200
	AccessDepthStencilWrite     AccessFlags = 0x00400
	AccessTransferRead          AccessFlags = 0x00800
	AccessTransferWrite         AccessFlags = 0x01000
)

type MemoryBarrier struct {
	SrcAccess AccessFlags
	DstAccess AccessFlags
}

type ImageBarrier struct {
	Image      Image
	OldLayout  ImageLayout
	NewLayout  ImageLayout
	SrcAccess  AccessFlags
	DstAccess  AccessFlags
	Aspect     ImageAspectFlags
	BaseMip    uint32
	MipCount   uint32
	BaseLayer  uint32
	LayerCount uint32
}

type BarrierInfo struct {
	SrcStage PipelineStageFlags
	DstStage PipelineStageFlags
	Memory   []MemoryBarrier
	Images   []ImageBarrier
}

type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

type BufferImageCopy struct {
	BufferOffset uint64
	Aspect       ImageAspectFlags
	MipLevel     uint32
	BaseLayer    uint32
	LayerCount   uint32
	Width        uint32
	Height       uint32
}

type Viewport struct {
	X, Y          float32
	Width, Height float32
	MinDepth      float32
	MaxDepth      float32
}

type Rect struct {
	X, Y          int32
	Width, Height uint32
}

type IndexType uint8

const (
	IndexTypeUint16 IndexType = iota
	IndexTypeUint32
)

type SubmitInfo struct {
	WaitSemaphores   []Semaphore
	WaitStages       []PipelineStageFlags
	CommandBuffers   []CommandBuffer
	SignalSemaphores []Semaphore
}

type ColourSpace uint8

const ColourSpaceSRGBNonlinear ColourSpace = 0

type SurfaceFormat struct {
	Format      Format
	ColourSpace ColourSpace
}

type PresentMode uint8

const (
	PresentModeImmediate PresentMode = iota
	PresentModeMailbox
	PresentModeFIFO
	PresentModeFIFORelaxed
)

type SurfaceCapabilities struct {
	MinImageCount uint32
	// MaxImageCount of zero means no limit.
	MaxImageCount uint32
	CurrentWidth  uint32
	CurrentHeight uint32
	MinWidth      uint32
	MinHeight     uint32
	MaxWidth      uint32
	MaxHeight     uint32
	Formats       []SurfaceFormat
	PresentModes  []PresentMode
}

type SwapchainCreateInfo struct {
	Width       uint32
	Height      uint32
	ImageCount  uint32
	Format      SurfaceFormat
	PresentMode PresentMode
	Old         Swapchain
}
