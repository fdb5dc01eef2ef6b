package components

import (
	"github.com/spaghettifunk/kiln/engine/math"
	"github.com/spaghettifunk/kiln/engine/renderer/frame"
)

/**
 * @brief An orbit camera circling a target point. The view and projection
 * matrices are rebuilt lazily when a parameter changes.
 */
type Camera struct {
	/** @brief The point the camera looks at. */
	Target math.Vec3
	/** @brief Distance from the target. */
	Distance float32
	/** @brief Rotation around the Y axis, in radians. */
	Yaw float32
	/** @brief Elevation above the XZ plane, in radians. */
	Pitch float32
	/** @brief Vertical field of view, in radians. */
	FOV  float32
	Near float32
	Far  float32

	aspect     float32
	isDirty    bool
	view       math.Mat4
	projection math.Mat4
}

/** @brief The name of the default camera. */
const DEFAULT_CAMERA_NAME string = "default"

// Pitch stays short of the poles so the look-at basis never degenerates.
const maxPitch = 1.5

func NewCamera() *Camera {
	camera := &Camera{}
	camera.Reset()
	return camera
}

func (c *Camera) Reset() {
	c.Target = math.NewVec3Zero()
	c.Distance = 10
	c.Yaw = 0
	c.Pitch = 0
	c.FOV = math.DegToRad(45)
	c.Near = 0.1
	c.Far = 1000
	c.aspect = 16.0 / 9.0
	c.isDirty = true
}

// SetAspect follows the framebuffer size. A zero size keeps the last ratio.
func (c *Camera) SetAspect(width, height uint32) {
	if width == 0 || height == 0 {
		return
	}
	c.aspect = float32(width) / float32(height)
	c.isDirty = true
}

// Orbit turns the camera around the target.
func (c *Camera) Orbit(yaw, pitch float32) {
	c.Yaw += yaw
	c.Pitch = math.Clamp(c.Pitch+pitch, -maxPitch, maxPitch)
	c.isDirty = true
}

// Zoom moves towards the target, never closer than the near plane.
func (c *Camera) Zoom(amount float32) {
	c.Distance = max(c.Distance-amount, c.Near*2)
	c.isDirty = true
}

func (c *Camera) GetPosition() math.Vec3 {
	horizontal := math.NewVec3(math.Sin(c.Yaw)*math.Cos(c.Pitch), math.Sin(c.Pitch), math.Cos(c.Yaw)*math.Cos(c.Pitch))
	return c.Target.Add(horizontal.MulScalar(c.Distance))
}

func (c *Camera) update() {
	if !c.isDirty {
		return
	}
	c.view = math.NewMat4LookAt(c.GetPosition(), c.Target, math.NewVec3Up())
	c.projection = math.NewMat4Perspective(c.FOV, c.aspect, c.Near, c.Far)
	c.isDirty = false
}

func (c *Camera) GetView() math.Mat4 {
	c.update()
	return c.view
}

func (c *Camera) GetProjection() math.Mat4 {
	c.update()
	return c.projection
}

// Frame returns the camera as the renderer reads it.
func (c *Camera) Frame() frame.Camera {
	c.update()
	return frame.Camera{
		View:       c.view,
		Projection: c.projection,
		Position:   c.GetPosition(),
	}
}
