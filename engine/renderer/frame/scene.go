package frame

import (
	"encoding/binary"
	gomath "math"

	"github.com/spaghettifunk/kiln/engine/math"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// Byte sizes of the std140/std430 blocks the shaders read.
const (
	sceneHeaderSize = 512
	lightSize       = 64
	drawRecordSize  = 128
	paramsSize      = 128
)

// shadowHalfExtent is the half size of the box a directional light's shadow
// map covers around the origin.
const shadowHalfExtent float32 = 40

// Camera is the viewpoint of a frame.
type Camera struct {
	View       math.Mat4
	Projection math.Mat4
	Position   math.Vec3
}

// DrawCall draws every submesh of a mesh with the given transform.
type DrawCall struct {
	Mesh  *Mesh
	Model math.Mat4
	// Materials is indexed by Submesh.Material. Missing entries fall back to
	// the default material.
	Materials []*metadata.Material
}

// Packet is everything the renderer needs to draw one frame.
type Packet struct {
	Camera  Camera
	Ambient math.Vec4
	Lights  []metadata.Light
	Draws   []DrawCall
}

// drawRecord is one entry of the per-draw storage buffer. Its index is the
// first instance of the draw that reads it.
type drawRecord struct {
	model    math.Mat4
	material *metadata.Material
}

type scene struct {
	camera   Camera
	ambient  math.Vec4
	lights   []metadata.Light
	shadow   []int
	matrices [4]math.Mat4
	shadows  int
	draws    int
	frame    uint64
	width    uint32
	height   uint32
}

// scratchLayout places the scene uniforms, the fullscreen parameters and the
// draw records in the scratch buffer.
type scratchLayout struct {
	scene      uint64
	sceneSize  uint64
	params     uint64
	draws      uint64
	drawsSize  uint64
	total      uint64
	maxLights  int
	maxRecords int
}

func alignUp(v, alignment uint64) uint64 {
	if alignment == 0 {
		return v
	}
	return (v + alignment - 1) / alignment * alignment
}

func newScratchLayout(uniformAlign, storageAlign uint64, maxLights, records int) scratchLayout {
	l := scratchLayout{maxLights: maxLights, maxRecords: max(records, 1)}
	l.sceneSize = sceneHeaderSize + uint64(maxLights)*lightSize
	l.params = alignUp(l.scene+l.sceneSize, uniformAlign)
	l.draws = alignUp(l.params+paramsSize, storageAlign)
	l.drawsSize = uint64(l.maxRecords) * drawRecordSize
	l.total = l.draws + l.drawsSize
	return l
}

// std140 writes little endian values at increasing offsets.
type std140 struct {
	buf []byte
	off int
}

func (w *std140) u32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[w.off:], v)
	w.off += 4
}

func (w *std140) f32(v float32) {
	w.u32(gomath.Float32bits(v))
}

func (w *std140) vec4(x, y, z, a float32) {
	w.f32(x)
	w.f32(y)
	w.f32(z)
	w.f32(a)
}

func (w *std140) ivec4(x, y, z, a int32) {
	w.u32(uint32(x))
	w.u32(uint32(y))
	w.u32(uint32(z))
	w.u32(uint32(a))
}

func (w *std140) mat4(m math.Mat4) {
	for _, v := range m.Data {
		w.f32(v)
	}
}

func (w *std140) seek(off int) {
	w.off = off
}

func packScene(dst []byte, s *scene) {
	w := &std140{buf: dst}
	viewProj := s.camera.View.Mul(s.camera.Projection)
	w.mat4(s.camera.View)
	w.mat4(s.camera.Projection)
	w.mat4(viewProj)
	for _, m := range s.matrices {
		w.mat4(m)
	}
	p := s.camera.Position
	w.vec4(p.X, p.Y, p.Z, 1)
	w.vec4(s.ambient.X, s.ambient.Y, s.ambient.Z, s.ambient.W)
	w.u32(uint32(len(s.lights)))
	w.u32(uint32(s.draws))
	w.u32(uint32(s.shadows))
	w.u32(uint32(s.frame))
	w.vec4(float32(s.width), float32(s.height), 0, 0)

	w.seek(sceneHeaderSize)
	for i, l := range s.lights {
		w.vec4(l.Position.X, l.Position.Y, l.Position.Z, l.Range)
		d := l.Direction
		if d.LengthSquared() > 0 {
			d = d.Normalized()
		}
		w.vec4(d.X, d.Y, d.Z, l.SpotCutoff)
		w.vec4(l.Colour.X, l.Colour.Y, l.Colour.Z, l.Intensity)
		w.ivec4(int32(l.Kind), int32(s.shadow[i]), 0, 0)
	}
}

func packDraws(dst []byte, records []drawRecord) {
	w := &std140{buf: dst}
	for i, r := range records {
		w.seek(i * drawRecordSize)
		m := r.material
		w.mat4(r.model)
		w.vec4(m.Albedo.X, m.Albedo.Y, m.Albedo.Z, m.Albedo.W)
		w.vec4(m.Emissive.X, m.Emissive.Y, m.Emissive.Z, m.Roughness)
		w.vec4(m.Metallic, 0, 0, 0)
		w.ivec4(int32(m.AlbedoTexture), int32(m.NormalTexture), int32(m.MetallicRoughnessTexture), 0)
	}
}

// packParams writes the block the fullscreen passes share.
func packParams(dst []byte, s *scene) {
	w := &std140{buf: dst}
	width, height := float32(max(s.width, 1)), float32(max(s.height, 1))
	w.mat4(s.camera.Projection)
	w.vec4(width, height, 1/width, 1/height)
	// ssao radius and bias, bloom threshold, exposure
	w.vec4(0.5, 0.025, 1, 1)
	w.vec4(float32(s.frame), 0, 0, 0)
}
