package gpu

import (
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

var (
	deviceLocalCriteria = MemoryCriteria{DeviceLocal: Must, HostVisible: PreferredNot}
	stagingCriteria     = MemoryCriteria{HostVisible: Must, HostCoherent: Preferred}
)

// StagedBuffer uploads host data to a device-local buffer through a staging
// buffer. When device-local memory cannot be had it falls back to a single
// host-visible buffer that needs no transfer.
type StagedBuffer struct {
	ctx         *Context
	size        uint64
	staging     *Buffer
	buffer      *Buffer
	hostVisible bool
}

func NewStagedBuffer(ctx *Context, size uint64, usage driver.BufferUsageFlags) (*StagedBuffer, error) {
	s := &StagedBuffer{ctx: ctx, size: size}

	dst, err := CreateBuffer(ctx, size, usage|driver.BufferUsageTransferDst, deviceLocalCriteria, true)
	if err == nil {
		staging, serr := CreateBuffer(ctx, size, driver.BufferUsageTransferSrc, stagingCriteria, false)
		if serr == nil {
			s.buffer, s.staging = dst, staging
			return s, nil
		}
		dst.Destroy()
		err = serr
	}
	ctx.log.Debug("device-local buffer unavailable, using host-visible memory", "size", size, "err", err)

	buffer, err := CreateBuffer(ctx, size, usage, stagingCriteria, false)
	if err != nil {
		return nil, err
	}
	s.buffer = buffer
	s.hostVisible = true
	return s, nil
}

// Map returns the bytes the host writes into.
func (s *StagedBuffer) Map() ([]byte, error) {
	if s.hostVisible {
		return s.buffer.Map()
	}
	if s.staging == nil {
		return nil, core.Preconditionf("staged buffer mapped after its transfer completed")
	}
	return s.staging.Map()
}

// WriteDone flushes host writes when the memory is not coherent.
func (s *StagedBuffer) WriteDone() error {
	if s.hostVisible {
		return s.buffer.Flush(0, s.size)
	}
	if s.staging == nil {
		return core.Preconditionf("staged buffer written after its transfer completed")
	}
	return s.staging.Flush(0, s.size)
}

// Transfer records the staging to device copy. It must not be called on a
// host-visible fallback.
func (s *StagedBuffer) Transfer(cb *CommandBuffer) error {
	if s.hostVisible {
		return s.ctx.violation("transfer of a host-visible staged buffer")
	}
	if s.staging == nil {
		return s.ctx.violation("transfer after the staging buffer was released")
	}
	return cb.CopyBuffer(s.staging, s.buffer, driver.BufferCopy{Size: s.size})
}

// TransferComplete releases the staging half once the copy has executed.
func (s *StagedBuffer) TransferComplete() {
	if s.staging != nil {
		s.staging.Destroy()
		s.staging = nil
	}
}

// Buffer returns the buffer draws read from.
func (s *StagedBuffer) Buffer() *Buffer {
	return s.buffer
}

func (s *StagedBuffer) BufferIsHostVisible() bool {
	return s.hostVisible
}

func (s *StagedBuffer) Size() uint64 {
	return s.size
}

func (s *StagedBuffer) Destroy() {
	s.TransferComplete()
	if s.buffer != nil {
		s.buffer.Destroy()
		s.buffer = nil
	}
}

// StagedImage uploads every mip level of an image through one staging
// buffer. Level i starts at MipOffset(i) in the mapped bytes.
type StagedImage struct {
	ctx     *Context
	staging *Buffer
	image   *Image
	offsets []uint64
	extents [][2]uint32
}

// MipExtent returns the size of mip level of a base extent.
func MipExtent(width, height, level uint32) (uint32, uint32) {
	return max(width>>level, 1), max(height>>level, 1)
}

func NewStagedImage(ctx *Context, config ImageConfig) (*StagedImage, error) {
	texel, err := config.Format.Size()
	if err != nil {
		return nil, core.Preconditionf("staged image %q: %v", config.Name, err)
	}
	config.MipLevels = max(config.MipLevels, 1)
	config.Layers = max(config.Layers, 1)
	config.Usage |= driver.ImageUsageTransferDst | driver.ImageUsageSampled

	s := &StagedImage{ctx: ctx}
	var total uint64
	for level := uint32(0); level < config.MipLevels; level++ {
		w, h := MipExtent(config.Width, config.Height, level)
		s.offsets = append(s.offsets, total)
		s.extents = append(s.extents, [2]uint32{w, h})
		total += uint64(w) * uint64(h) * uint64(texel) * uint64(config.Layers)
	}

	img, err := CreateImage(ctx, config, MemoryCriteria{DeviceLocal: Preferred}, false)
	if err != nil {
		return nil, err
	}
	staging, err := CreateBuffer(ctx, total, driver.BufferUsageTransferSrc, stagingCriteria, false)
	if err != nil {
		img.Destroy()
		return nil, err
	}
	s.image, s.staging = img, staging
	return s, nil
}

func (s *StagedImage) Map() ([]byte, error) {
	if s.staging == nil {
		return nil, core.Preconditionf("staged image %q mapped after its transfer completed", s.image.config.Name)
	}
	return s.staging.Map()
}

func (s *StagedImage) MipOffset(level uint32) uint64 {
	return s.offsets[level]
}

func (s *StagedImage) WriteDone() error {
	if s.staging == nil {
		return core.Preconditionf("staged image %q written after its transfer completed", s.image.config.Name)
	}
	return s.staging.Flush(0, s.staging.Size())
}

// Transfer records Undefined to TransferDst, one copy per mip level, then
// TransferDst to ShaderReadOnly.
func (s *StagedImage) Transfer(cb *CommandBuffer) error {
	if s.staging == nil {
		return s.ctx.violation("transfer of image %q after the staging buffer was released", s.image.config.Name)
	}
	if err := cb.TransitionImage(s.image, driver.ImageLayoutUndefined, driver.ImageLayoutTransferDst); err != nil {
		return err
	}
	regions := make([]driver.BufferImageCopy, len(s.offsets))
	for level := range s.offsets {
		regions[level] = driver.BufferImageCopy{
			BufferOffset: s.offsets[level],
			Aspect:       s.image.config.Format.Aspect(),
			MipLevel:     uint32(level),
			LayerCount:   s.image.config.Layers,
			Width:        s.extents[level][0],
			Height:       s.extents[level][1],
		}
	}
	if err := cb.CopyBufferToImage(s.staging, s.image, regions...); err != nil {
		return err
	}
	return cb.TransitionImage(s.image, driver.ImageLayoutTransferDst, driver.ImageLayoutShaderReadOnly)
}

func (s *StagedImage) TransferComplete() {
	if s.staging != nil {
		s.staging.Destroy()
		s.staging = nil
	}
}

func (s *StagedImage) Image() *Image {
	return s.image
}

func (s *StagedImage) Destroy() {
	s.TransferComplete()
	if s.image != nil {
		s.image.Destroy()
		s.image = nil
	}
}
