package driver

import "github.com/cockroachdb/errors"

// Format is the closed set of texel and vertex formats the renderer uses.
type Format uint8

const (
	FormatUndefined Format = iota
	FormatR8Unorm
	FormatR8G8B8A8Unorm
	FormatR8G8B8A8Srgb
	FormatB8G8R8A8Unorm
	FormatB8G8R8A8Srgb
	FormatR16Sfloat
	FormatR16G16B16A16Sfloat
	FormatR16G16B16A16Uint
	FormatR32Sfloat
	FormatR32G32Sfloat
	FormatR32G32B32Sfloat
	FormatR32G32B32A32Sfloat
	FormatD32Sfloat
	FormatD32SfloatS8Uint
	FormatD24UnormS8Uint
)

// Size returns the size of one texel or vertex element in bytes.
func (f Format) Size() (uint32, error) {
	switch f {
	case FormatR8Unorm:
		return 1, nil
	case FormatR16Sfloat:
		return 2, nil
	case FormatR8G8B8A8Unorm, FormatR8G8B8A8Srgb, FormatB8G8R8A8Unorm, FormatB8G8R8A8Srgb,
		FormatR32Sfloat, FormatD32Sfloat, FormatD24UnormS8Uint:
		return 4, nil
	case FormatD32SfloatS8Uint:
		return 5, nil
	case FormatR16G16B16A16Sfloat, FormatR16G16B16A16Uint, FormatR32G32Sfloat:
		return 8, nil
	case FormatR32G32B32Sfloat:
		return 12, nil
	case FormatR32G32B32A32Sfloat:
		return 16, nil
	case FormatUndefined:
		return 0, errors.Wrap(ErrInvalidFormat, "undefined format has no size")
	default:
		return 0, errors.Wrapf(ErrInvalidFormat, "format %d", uint8(f))
	}
}

func (f Format) IsDepth() bool {
	switch f {
	case FormatD32Sfloat, FormatD32SfloatS8Uint, FormatD24UnormS8Uint:
		return true
	default:
		return false
	}
}

func (f Format) HasStencil() bool {
	return f == FormatD32SfloatS8Uint || f == FormatD24UnormS8Uint
}

// Aspect returns the aspect a full view of the format covers.
func (f Format) Aspect() ImageAspectFlags {
	if f.IsDepth() {
		return ImageAspectDepth
	}
	return ImageAspectColour
}

func (f Format) String() string {
	switch f {
	case FormatUndefined:
		return "Undefined"
	case FormatR8Unorm:
		return "R8Unorm"
	case FormatR8G8B8A8Unorm:
		return "R8G8B8A8Unorm"
	case FormatR8G8B8A8Srgb:
		return "R8G8B8A8Srgb"
	case FormatB8G8R8A8Unorm:
		return "B8G8R8A8Unorm"
	case FormatB8G8R8A8Srgb:
		return "B8G8R8A8Srgb"
	case FormatR16Sfloat:
		return "R16Sfloat"
	case FormatR16G16B16A16Sfloat:
		return "R16G16B16A16Sfloat"
	case FormatR16G16B16A16Uint:
		return "R16G16B16A16Uint"
	case FormatR32Sfloat:
		return "R32Sfloat"
	case FormatR32G32Sfloat:
		return "R32G32Sfloat"
	case FormatR32G32B32Sfloat:
		return "R32G32B32Sfloat"
	case FormatR32G32B32A32Sfloat:
		return "R32G32B32A32Sfloat"
	case FormatD32Sfloat:
		return "D32Sfloat"
	case FormatD32SfloatS8Uint:
		return "D32SfloatS8Uint"
	case FormatD24UnormS8Uint:
		return "D24UnormS8Uint"
	default:
		return "Invalid"
	}
}
