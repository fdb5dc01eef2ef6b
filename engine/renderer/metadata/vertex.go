// Package metadata holds the values exchanged with the asset side of the
// engine: what a mesh buffer contains, how materials and lights are
// described. Nothing in here touches the GPU.
package metadata

import (
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

var (
	ErrInvalidAttribute = errors.New("invalid vertex attribute")
	ErrInvalidIndexType = errors.New("invalid index type")
)

/** @brief A per-vertex attribute. Its value is the shader input location. */
type VertexAttribute uint8

const (
	/** @brief Object space position, three floats. Always location 0. */
	AttributePosition VertexAttribute = iota
	/** @brief Object space normal, three floats. */
	AttributeNormal
	/** @brief Tangent with the bitangent sign in w, four floats. */
	AttributeTangent
	/** @brief Texture coordinates, two floats. */
	AttributeTexCoord
	/** @brief Vertex colour, four normalized bytes. */
	AttributeColour
	/** @brief Skinning joint indices, four unsigned shorts. */
	AttributeJoints
	/** @brief Skinning weights, four floats. */
	AttributeWeights
)

func (a VertexAttribute) Format() (driver.Format, error) {
	switch a {
	case AttributePosition, AttributeNormal:
		return driver.FormatR32G32B32Sfloat, nil
	case AttributeTangent, AttributeWeights:
		return driver.FormatR32G32B32A32Sfloat, nil
	case AttributeTexCoord:
		return driver.FormatR32G32Sfloat, nil
	case AttributeColour:
		return driver.FormatR8G8B8A8Unorm, nil
	case AttributeJoints:
		return driver.FormatR16G16B16A16Uint, nil
	default:
		return driver.FormatUndefined, errors.Wrapf(ErrInvalidAttribute, "%d", a)
	}
}

// Size returns the bytes one vertex spends on the attribute.
func (a VertexAttribute) Size() (uint32, error) {
	format, err := a.Format()
	if err != nil {
		return 0, err
	}
	return format.Size()
}

func (a VertexAttribute) Location() uint32 {
	return uint32(a)
}

func (a VertexAttribute) String() string {
	switch a {
	case AttributePosition:
		return "Position"
	case AttributeNormal:
		return "Normal"
	case AttributeTangent:
		return "Tangent"
	case AttributeTexCoord:
		return "TexCoord"
	case AttributeColour:
		return "Colour"
	case AttributeJoints:
		return "Joints"
	case AttributeWeights:
		return "Weights"
	default:
		return "Invalid"
	}
}

// VertexLayout is the interleaved layout of a list of attributes: each
// attribute's byte offset inside a vertex, and the vertex stride.
type VertexLayout struct {
	Attributes []VertexAttribute
	Offsets    []uint32
	Stride     uint32
}

// NewVertexLayout interleaves attributes in the order given. Every layout
// must carry a position, and no attribute may appear twice.
func NewVertexLayout(attributes []VertexAttribute) (VertexLayout, error) {
	l := VertexLayout{Attributes: attributes, Offsets: make([]uint32, len(attributes))}
	var seen uint32
	for i, a := range attributes {
		size, err := a.Size()
		if err != nil {
			return VertexLayout{}, err
		}
		if seen&(1<<a) != 0 {
			return VertexLayout{}, errors.Wrapf(ErrInvalidAttribute, "%s appears twice", a)
		}
		seen |= 1 << a
		l.Offsets[i] = l.Stride
		l.Stride += size
	}
	if seen&(1<<AttributePosition) == 0 {
		return VertexLayout{}, errors.Wrap(ErrInvalidAttribute, "layout has no position")
	}
	return l, nil
}

// Offset returns where an attribute starts inside a vertex.
func (l VertexLayout) Offset(a VertexAttribute) (uint32, bool) {
	for i, have := range l.Attributes {
		if have == a {
			return l.Offsets[i], true
		}
	}
	return 0, false
}

// Key names the layout, so meshes sharing a layout share their pipelines.
func (l VertexLayout) Key() string {
	names := make([]string, len(l.Attributes))
	for i, a := range l.Attributes {
		names[i] = a.String()
	}
	return strings.Join(names, ",")
}

/** @brief The width of the indices of a mesh. */
type IndexType uint8

const (
	/** @brief The mesh is drawn without indices. */
	IndexNone IndexType = iota
	IndexUint16
	IndexUint32
)

// Size returns the bytes of one index.
func (t IndexType) Size() (uint32, error) {
	switch t {
	case IndexNone:
		return 0, nil
	case IndexUint16:
		return 2, nil
	case IndexUint32:
		return 4, nil
	default:
		return 0, errors.Wrapf(ErrInvalidIndexType, "%d", t)
	}
}

func (t IndexType) DriverType() (driver.IndexType, error) {
	switch t {
	case IndexUint16:
		return driver.IndexTypeUint16, nil
	case IndexUint32:
		return driver.IndexTypeUint32, nil
	default:
		return 0, errors.Wrapf(ErrInvalidIndexType, "%d has no driver index type", t)
	}
}

func (t IndexType) String() string {
	switch t {
	case IndexNone:
		return "None"
	case IndexUint16:
		return "Uint16"
	case IndexUint32:
		return "Uint32"
	default:
		return "Invalid"
	}
}
