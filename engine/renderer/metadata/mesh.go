package metadata

import (
	"github.com/cockroachdb/errors"
)

var ErrMeshSize = errors.New("mesh data does not match its metadata")

/**
 * @brief A range of a mesh drawn with one material.
 */
type Submesh struct {
	/** @brief The first index, or the first vertex for meshes without indices. */
	First uint32
	/** @brief The number of indices, or vertices for meshes without indices. */
	Count uint32
	/** @brief Added to every index before the vertex is fetched. */
	VertexOffset int32
	/** @brief The index of the material in the mesh's material list. */
	Material int
}

/**
 * @brief Describes a decompressed mesh buffer: interleaved vertices
 * followed by the indices.
 */
type MeshMetadata struct {
	/** @brief The mesh name, used in logs and debug names. */
	Name string
	/** @brief The attributes of each vertex, in interleaving order. */
	Attributes []VertexAttribute
	VertexCount uint32
	IndexCount  uint32
	IndexType   IndexType
	/** @brief The ranges to draw. Empty means the whole mesh with material 0. */
	Submeshes []Submesh
}

// Layout returns the interleaved vertex layout.
func (m MeshMetadata) Layout() (VertexLayout, error) {
	return NewVertexLayout(m.Attributes)
}

// VertexBytes is the size of the vertex block at the start of the data.
func (m MeshMetadata) VertexBytes() (uint64, error) {
	layout, err := m.Layout()
	if err != nil {
		return 0, err
	}
	return uint64(layout.Stride) * uint64(m.VertexCount), nil
}

func (m MeshMetadata) IndexBytes() (uint64, error) {
	size, err := m.IndexType.Size()
	if err != nil {
		return 0, err
	}
	return uint64(size) * uint64(m.IndexCount), nil
}

// Validate checks the metadata against the length of the data it describes.
func (m MeshMetadata) Validate(dataLen int) error {
	if m.VertexCount == 0 {
		return errors.Wrapf(ErrMeshSize, "mesh %q has no vertices", m.Name)
	}
	if (m.IndexType == IndexNone) != (m.IndexCount == 0) {
		return errors.Wrapf(ErrMeshSize, "mesh %q has %d indices of type %s", m.Name, m.IndexCount, m.IndexType)
	}
	vertices, err := m.VertexBytes()
	if err != nil {
		return errors.Wrapf(err, "mesh %q", m.Name)
	}
	indices, err := m.IndexBytes()
	if err != nil {
		return errors.Wrapf(err, "mesh %q", m.Name)
	}
	if want := vertices + indices; uint64(dataLen) != want {
		return errors.Wrapf(ErrMeshSize, "mesh %q: %d bytes, expected %d vertex and %d index bytes", m.Name, dataLen, vertices, indices)
	}
	limit := m.VertexCount
	if m.IndexType != IndexNone {
		limit = m.IndexCount
	}
	for i, s := range m.DrawRanges() {
		if uint64(s.First)+uint64(s.Count) > uint64(limit) {
			return errors.Wrapf(ErrMeshSize, "mesh %q: submesh %d ends at %d of %d", m.Name, i, s.First+s.Count, limit)
		}
	}
	return nil
}

// DrawRanges returns the submeshes, or one range covering the whole mesh.
func (m MeshMetadata) DrawRanges() []Submesh {
	if len(m.Submeshes) > 0 {
		return m.Submeshes
	}
	count := m.IndexCount
	if m.IndexType == IndexNone {
		count = m.VertexCount
	}
	return []Submesh{{First: 0, Count: count}}
}
