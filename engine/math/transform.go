package math

func TransformCreate() *Transform {
	return TransformFromPosition(NewVec3Zero())
}

func TransformFromPosition(position Vec3) *Transform {
	return &Transform{
		Position: position,
		Scale:    NewVec3One(),
		IsDirty:  true,
		Local:    NewMat4Identity(),
	}
}

func (t *Transform) SetPosition(position Vec3) {
	t.Position = position
	t.IsDirty = true
}

func (t *Transform) Translate(translation Vec3) {
	t.Position = t.Position.Add(translation)
	t.IsDirty = true
}

func (t *Transform) Rotate(yaw float32) {
	t.Yaw += yaw
	t.IsDirty = true
}

func (t *Transform) SetScale(scale Vec3) {
	t.Scale = scale
	t.IsDirty = true
}

// LocalMatrix returns scale, then rotation, then translation.
func (t *Transform) LocalMatrix() Mat4 {
	if t.IsDirty {
		t.Local = NewMat4Scale(t.Scale).Mul(NewMat4EulerY(t.Yaw)).Mul(NewMat4Translation(t.Position))
		t.IsDirty = false
	}
	return t.Local
}
