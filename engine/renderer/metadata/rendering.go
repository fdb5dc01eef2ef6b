package metadata

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

/** @brief Determines face culling mode during rendering. */
type FaceCullMode int

const (
	/** @brief No faces are culled. */
	FaceCullModeNone FaceCullMode = 0x0
	/** @brief Only front faces are culled. */
	FaceCullModeFront FaceCullMode = 0x1
	/** @brief Only back faces are culled. */
	FaceCullModeBack FaceCullMode = 0x2
	/** @brief Both front and back faces are culled. */
	FaceCullModeFrontAndBack FaceCullMode = 0x3
)

var ErrInvalidCullMode = errors.New("invalid face cull mode")

// ParseFaceCullMode reads the names used in material files.
func ParseFaceCullMode(name string) (FaceCullMode, error) {
	switch name {
	case "", "back":
		return FaceCullModeBack, nil
	case "none":
		return FaceCullModeNone, nil
	case "front":
		return FaceCullModeFront, nil
	case "front_and_back":
		return FaceCullModeFrontAndBack, nil
	default:
		return 0, errors.Wrapf(ErrInvalidCullMode, "%q", name)
	}
}

// CullMode maps to the pipeline cull mode. Culling both faces draws nothing,
// so the pipelines do not support it.
func (m FaceCullMode) CullMode() (driver.CullMode, error) {
	switch m {
	case FaceCullModeNone:
		return driver.CullNone, nil
	case FaceCullModeFront:
		return driver.CullFront, nil
	case FaceCullModeBack:
		return driver.CullBack, nil
	case FaceCullModeFrontAndBack:
		return 0, errors.Wrap(ErrInvalidCullMode, "front and back culling is not supported by the pipelines")
	default:
		return 0, errors.Wrapf(ErrInvalidCullMode, "%d", m)
	}
}
