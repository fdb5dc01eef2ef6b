package frame

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

var ErrTextureSize = errors.New("texture data does not match its size")

// Uploader is a resource whose data still has to be copied to the GPU. The
// copy is recorded into the upload stage of a frame and completes when that
// frame's fence signals.
type Uploader interface {
	Pending() bool
	Transfer(cb *gpu.CommandBuffer) error
	TransferComplete()
}

// Mesh is interleaved vertex data followed by its indices, in one buffer.
type Mesh struct {
	Name        string
	meta        metadata.MeshMetadata
	layout      metadata.VertexLayout
	staged      *gpu.StagedBuffer
	indexOffset uint64
	indexType   driver.IndexType
	recorded    bool
}

// UploadMesh validates data against meta and stages it. The mesh draws once
// its transfer went through a frame, or right away when the buffer fell back
// to host-visible memory.
func UploadMesh(ctx *gpu.Context, data []byte, meta metadata.MeshMetadata) (*Mesh, error) {
	if err := meta.Validate(len(data)); err != nil {
		return nil, core.Preconditionf("uploading mesh: %v", err)
	}
	layout, err := meta.Layout()
	if err != nil {
		return nil, err
	}
	vertexBytes, _ := meta.VertexBytes()
	m := &Mesh{Name: meta.Name, meta: meta, layout: layout, indexOffset: vertexBytes}
	if meta.IndexType != metadata.IndexNone {
		if m.indexType, err = meta.IndexType.DriverType(); err != nil {
			return nil, err
		}
	}

	usage := driver.BufferUsageVertex
	if meta.IndexType != metadata.IndexNone {
		usage |= driver.BufferUsageIndex
	}
	if m.staged, err = gpu.NewStagedBuffer(ctx, uint64(len(data)), usage); err != nil {
		return nil, errors.Wrapf(err, "mesh %q", meta.Name)
	}
	dst, err := m.staged.Map()
	if err != nil {
		m.Destroy()
		return nil, err
	}
	copy(dst, data)
	if err := m.staged.WriteDone(); err != nil {
		m.Destroy()
		return nil, err
	}
	return m, nil
}

func (m *Mesh) Pending() bool {
	return !m.staged.BufferIsHostVisible() && !m.recorded
}

func (m *Mesh) Transfer(cb *gpu.CommandBuffer) error {
	if err := m.staged.Transfer(cb); err != nil {
		return err
	}
	m.recorded = true
	return nil
}

func (m *Mesh) TransferComplete() {
	if m.staged != nil {
		m.staged.TransferComplete()
	}
}

// Drawable reports whether draws may read the mesh in the next frame.
func (m *Mesh) Drawable() bool {
	return m.staged != nil && !m.Pending()
}

func (m *Mesh) Layout() metadata.VertexLayout {
	return m.layout
}

func (m *Mesh) Metadata() metadata.MeshMetadata {
	return m.meta
}

func (m *Mesh) Buffer() *gpu.Buffer {
	return m.staged.Buffer()
}

func (m *Mesh) Destroy() {
	if m.staged != nil {
		m.staged.Destroy()
		m.staged = nil
	}
}

// TextureData is an image with its mip chain, level 0 first.
type TextureData struct {
	Name   string
	Width  uint32
	Height uint32
	Format driver.Format
	Mips   [][]byte
}

// Texture is a sampled image uploaded through a staging buffer.
type Texture struct {
	Name     string
	staged   *gpu.StagedImage
	view     *gpu.ImageView
	recorded bool
	// index is the slot in the material texture table, or -1.
	index int
}

func UploadTexture(ctx *gpu.Context, data TextureData) (*Texture, error) {
	if data.Width == 0 || data.Height == 0 || len(data.Mips) == 0 {
		return nil, core.Preconditionf("texture %q is empty", data.Name)
	}
	texel, err := data.Format.Size()
	if err != nil {
		return nil, core.Preconditionf("texture %q: %v", data.Name, err)
	}
	for level, mip := range data.Mips {
		w, h := gpu.MipExtent(data.Width, data.Height, uint32(level))
		if want := int(w) * int(h) * int(texel); len(mip) != want {
			return nil, errors.Wrapf(ErrTextureSize, "texture %q level %d: %d bytes, expected %d", data.Name, level, len(mip), want)
		}
	}

	staged, err := gpu.NewStagedImage(ctx, gpu.ImageConfig{
		Name:      data.Name,
		Width:     data.Width,
		Height:    data.Height,
		MipLevels: uint32(len(data.Mips)),
		Format:    data.Format,
	})
	if err != nil {
		return nil, err
	}
	t := &Texture{Name: data.Name, staged: staged, index: -1}
	dst, err := staged.Map()
	if err != nil {
		t.Destroy()
		return nil, err
	}
	for level, mip := range data.Mips {
		copy(dst[staged.MipOffset(uint32(level)):], mip)
	}
	if err := staged.WriteDone(); err != nil {
		t.Destroy()
		return nil, err
	}
	if t.view, err = staged.Image().CreateView(); err != nil {
		t.Destroy()
		return nil, err
	}
	return t, nil
}

func (t *Texture) Pending() bool {
	return !t.recorded
}

func (t *Texture) Transfer(cb *gpu.CommandBuffer) error {
	if err := t.staged.Transfer(cb); err != nil {
		return err
	}
	t.recorded = true
	return nil
}

func (t *Texture) TransferComplete() {
	if t.staged != nil {
		t.staged.TransferComplete()
	}
}

func (t *Texture) View() *gpu.ImageView {
	return t.view
}

// Index is the texture's slot in the material texture array, or the default
// texture before it was added to a frame object.
func (t *Texture) Index() int {
	if t.index < 0 {
		return metadata.DefaultTexture
	}
	return t.index
}

func (t *Texture) Destroy() {
	if t.view != nil {
		t.view.Destroy()
		t.view = nil
	}
	if t.staged != nil {
		t.staged.Destroy()
		t.staged = nil
	}
}
