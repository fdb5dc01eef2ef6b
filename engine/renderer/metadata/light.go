package metadata

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/kiln/engine/math"
)

var ErrInvalidLight = errors.New("invalid light")

type LightKind uint8

const (
	LightDirectional LightKind = iota
	LightPoint
	LightSpot
)

func (k LightKind) String() string {
	switch k {
	case LightDirectional:
		return "Directional"
	case LightPoint:
		return "Point"
	case LightSpot:
		return "Spot"
	default:
		return "Invalid"
	}
}

/**
 * @brief A light in the scene.
 */
type Light struct {
	Kind LightKind
	/** @brief World position. Ignored by directional lights. */
	Position math.Vec3
	/** @brief The direction the light travels. Ignored by point lights. */
	Direction math.Vec3
	Colour    math.Vec3
	Intensity float32
	/** @brief Distance at which the light fades out. Ignored by directional lights. */
	Range float32
	/** @brief Cosine of the outer cone angle of spot lights. */
	SpotCutoff  float32
	CastsShadow bool
	/** @brief The requested shadow map edge in texels. */
	ShadowResolution uint32
}

func (l Light) Validate() error {
	switch l.Kind {
	case LightDirectional:
		if l.Direction.LengthSquared() == 0 {
			return errors.Wrap(ErrInvalidLight, "directional light without direction")
		}
	case LightPoint:
		if l.Range <= 0 {
			return errors.Wrapf(ErrInvalidLight, "point light with range %f", l.Range)
		}
	case LightSpot:
		if l.Range <= 0 || l.Direction.LengthSquared() == 0 {
			return errors.Wrap(ErrInvalidLight, "spot light needs a range and a direction")
		}
	default:
		return errors.Wrapf(ErrInvalidLight, "kind %d", l.Kind)
	}
	if l.CastsShadow && l.ShadowResolution == 0 {
		return errors.Wrap(ErrInvalidLight, "shadow caster without a shadow resolution")
	}
	return nil
}

// ShadowViewProjection returns the matrix that renders the light's shadow
// map. Directional lights cover a box of halfExtent around the origin; the
// others use a 90 degree frustum along their direction.
func (l Light) ShadowViewProjection(halfExtent float32) (math.Mat4, error) {
	up := math.NewVec3Up()
	switch l.Kind {
	case LightDirectional:
		dir := l.Direction.Normalized()
		if abs(dir.Dot(up)) > 0.99 {
			up = math.NewVec3(0, 0, 1)
		}
		eye := dir.MulScalar(-2 * halfExtent)
		view := math.NewMat4LookAt(eye, math.NewVec3Zero(), up)
		proj := math.NewMat4Orthographic(-halfExtent, halfExtent, -halfExtent, halfExtent, 0.1, 4*halfExtent)
		return view.Mul(proj), nil
	case LightPoint, LightSpot:
		dir := l.Direction
		if l.Kind == LightPoint || dir.LengthSquared() == 0 {
			dir = math.NewVec3(0, -1, 0)
		}
		dir = dir.Normalized()
		if abs(dir.Dot(up)) > 0.99 {
			up = math.NewVec3(0, 0, 1)
		}
		view := math.NewMat4LookAt(l.Position, l.Position.Add(dir), up)
		proj := math.NewMat4Perspective(math.DegToRad(90), 1, 0.1, max(l.Range, 0.2))
		return view.Mul(proj), nil
	default:
		return math.Mat4{}, errors.Wrapf(ErrInvalidLight, "kind %d", l.Kind)
	}
}

func abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
