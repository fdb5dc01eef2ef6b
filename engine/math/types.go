package math

// Vec2 represents a 2D vector
type Vec2 struct {
	X, Y float32
}

// Vec3 represents a 3D vector
type Vec3 struct {
	X, Y, Z float32
}

// Vec4 represents a 4D vector
type Vec4 struct {
	X, Y, Z, W float32
}

// Mat4 is a 4x4 matrix stored the way shaders read it: the translation
// lives in elements 12, 13 and 14.
type Mat4 struct {
	Data [16]float32
}

// Transform of an object in the world. Local is rebuilt when IsDirty is set.
type Transform struct {
	Position Vec3
	// Rotation around the Y axis, in radians.
	Yaw     float32
	Scale   Vec3
	IsDirty bool
	Local   Mat4
}
