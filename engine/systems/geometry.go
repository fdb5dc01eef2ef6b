package systems

import (
	"encoding/binary"
	stdmath "math"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/math"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

/** @brief The name of the default geometry. */
const DefaultGeometryName string = "default"

// GeometryAttributes is the interleaved layout Encode writes.
var GeometryAttributes = []metadata.VertexAttribute{
	metadata.AttributePosition,
	metadata.AttributeNormal,
	metadata.AttributeTangent,
	metadata.AttributeTexCoord,
}

type Vertex struct {
	Position math.Vec3
	Normal   math.Vec3
	/** @brief The tangent, with the bitangent sign in W. */
	Tangent  math.Vec4
	Texcoord math.Vec2
}

/**
 * @brief Generated geometry, ready to be encoded into a mesh buffer.
 */
type Geometry struct {
	Name       string
	Vertices   []Vertex
	Indices    []uint32
	MinExtents math.Vec3
	MaxExtents math.Vec3
}

// Encode packs the interleaved vertices followed by 32 bit indices, the
// layout frame.UploadMesh expects.
func (g *Geometry) Encode() ([]byte, metadata.MeshMetadata, error) {
	meta := metadata.MeshMetadata{
		Name:        g.Name,
		Attributes:  GeometryAttributes,
		VertexCount: uint32(len(g.Vertices)),
		IndexCount:  uint32(len(g.Indices)),
		IndexType:   metadata.IndexUint32,
	}
	vertexBytes, err := meta.VertexBytes()
	if err != nil {
		return nil, meta, err
	}
	indexBytes, err := meta.IndexBytes()
	if err != nil {
		return nil, meta, err
	}

	data := make([]byte, vertexBytes+indexBytes)
	off := 0
	put := func(values ...float32) {
		for _, v := range values {
			binary.LittleEndian.PutUint32(data[off:], stdmath.Float32bits(v))
			off += 4
		}
	}
	for _, v := range g.Vertices {
		put(v.Position.X, v.Position.Y, v.Position.Z)
		put(v.Normal.X, v.Normal.Y, v.Normal.Z)
		put(v.Tangent.X, v.Tangent.Y, v.Tangent.Z, v.Tangent.W)
		put(v.Texcoord.X, v.Texcoord.Y)
	}
	for _, i := range g.Indices {
		binary.LittleEndian.PutUint32(data[off:], i)
		off += 4
	}
	return data, meta, meta.Validate(len(data))
}

/**
 * @brief Generates a flat plane on the XZ axes facing up, centered on the
 * origin.
 * @param width The overall width of the plane, along X. Must be non-zero.
 * @param depth The overall depth of the plane, along Z. Must be non-zero.
 * @param xSegmentCount The number of segments along the x-axis in the plane. Must be non-zero.
 * @param zSegmentCount The number of segments along the z-axis in the plane. Must be non-zero.
 * @param tileX The number of times the texture should tile across the plane on the x-axis. Must be non-zero.
 * @param tileY The number of times the texture should tile across the plane on the z-axis. Must be non-zero.
 */
func GeneratePlane(width, depth float32, xSegmentCount, zSegmentCount uint32, tileX, tileY float32, name string) *Geometry {
	if width == 0 {
		core.LogWarn("Width must be nonzero. Defaulting to one.")
		width = 1.0
	}
	if depth == 0 {
		core.LogWarn("Depth must be nonzero. Defaulting to one.")
		depth = 1.0
	}
	if xSegmentCount < 1 {
		core.LogWarn("xSegmentCount must be a positive number. Defaulting to one.")
		xSegmentCount = 1
	}
	if zSegmentCount < 1 {
		core.LogWarn("zSegmentCount must be a positive number. Defaulting to one.")
		zSegmentCount = 1
	}
	if tileX == 0 {
		tileX = 1.0
	}
	if tileY == 0 {
		tileY = 1.0
	}

	g := &Geometry{
		Name:       geometryName(name),
		Vertices:   make([]Vertex, xSegmentCount*zSegmentCount*4), // 4 verts per segment
		Indices:    make([]uint32, xSegmentCount*zSegmentCount*6), // 6 indices per segment
		MinExtents: math.NewVec3(-width*0.5, 0, -depth*0.5),
		MaxExtents: math.NewVec3(width*0.5, 0, depth*0.5),
	}

	segWidth := width / float32(xSegmentCount)
	segDepth := depth / float32(zSegmentCount)
	halfWidth := width * 0.5
	halfDepth := depth * 0.5
	up := math.NewVec3Up()
	for z := uint32(0); z < zSegmentCount; z++ {
		for x := uint32(0); x < xSegmentCount; x++ {
			minX := (float32(x) * segWidth) - halfWidth
			minZ := (float32(z) * segDepth) - halfDepth
			maxX := minX + segWidth
			maxZ := minZ + segDepth
			minU := (float32(x) / float32(xSegmentCount)) * tileX
			minV := (float32(z) / float32(zSegmentCount)) * tileY
			maxU := (float32(x+1) / float32(xSegmentCount)) * tileX
			maxV := (float32(z+1) / float32(zSegmentCount)) * tileY

			// Row z grows towards -Z so the quads wind counter-clockwise seen
			// from above.
			vOffset := ((z * xSegmentCount) + x) * 4
			g.Vertices[vOffset+0] = Vertex{Position: math.NewVec3(minX, 0, -minZ), Normal: up, Texcoord: math.Vec2{X: minU, Y: minV}}
			g.Vertices[vOffset+1] = Vertex{Position: math.NewVec3(maxX, 0, -maxZ), Normal: up, Texcoord: math.Vec2{X: maxU, Y: maxV}}
			g.Vertices[vOffset+2] = Vertex{Position: math.NewVec3(minX, 0, -maxZ), Normal: up, Texcoord: math.Vec2{X: minU, Y: maxV}}
			g.Vertices[vOffset+3] = Vertex{Position: math.NewVec3(maxX, 0, -minZ), Normal: up, Texcoord: math.Vec2{X: maxU, Y: minV}}

			iOffset := ((z * xSegmentCount) + x) * 6
			quad(g.Indices[iOffset:], vOffset)
		}
	}
	generateTangents(g.Vertices, g.Indices)
	return g
}

// GenerateCube generates an axis aligned box centered on the origin with
// one quad per face.
func GenerateCube(width, height, depth, tileX, tileY float32, name string) *Geometry {
	if width == 0 {
		core.LogWarn("Width must be nonzero. Defaulting to one.")
		width = 1.0
	}
	if height == 0 {
		core.LogWarn("Height must be nonzero. Defaulting to one.")
		height = 1.0
	}
	if depth == 0 {
		core.LogWarn("Depth must be nonzero. Defaulting to one.")
		depth = 1
	}
	if tileX == 0 {
		tileX = 1.0
	}
	if tileY == 0 {
		tileY = 1.0
	}

	minX, minY, minZ := -width*0.5, -height*0.5, -depth*0.5
	maxX, maxY, maxZ := width*0.5, height*0.5, depth*0.5

	g := &Geometry{
		Name:       geometryName(name),
		Vertices:   make([]Vertex, 4*6), // 4 verts per side, 6 sides
		Indices:    make([]uint32, 6*6), // 6 indices per side, 6 sides
		MinExtents: math.NewVec3(minX, minY, minZ),
		MaxExtents: math.NewVec3(maxX, maxY, maxZ),
	}

	// Corners of each face in the order min-min, max-max, min-max, max-min
	// of the face's own UV axes.
	faces := []struct {
		normal  math.Vec3
		corners [4]math.Vec3
	}{
		// Front
		{math.NewVec3(0, 0, 1), [4]math.Vec3{
			math.NewVec3(minX, minY, maxZ), math.NewVec3(maxX, maxY, maxZ), math.NewVec3(minX, maxY, maxZ), math.NewVec3(maxX, minY, maxZ)}},
		// Back
		{math.NewVec3(0, 0, -1), [4]math.Vec3{
			math.NewVec3(maxX, minY, minZ), math.NewVec3(minX, maxY, minZ), math.NewVec3(maxX, maxY, minZ), math.NewVec3(minX, minY, minZ)}},
		// Left
		{math.NewVec3(-1, 0, 0), [4]math.Vec3{
			math.NewVec3(minX, minY, minZ), math.NewVec3(minX, maxY, maxZ), math.NewVec3(minX, maxY, minZ), math.NewVec3(minX, minY, maxZ)}},
		// Right
		{math.NewVec3(1, 0, 0), [4]math.Vec3{
			math.NewVec3(maxX, minY, maxZ), math.NewVec3(maxX, maxY, minZ), math.NewVec3(maxX, maxY, maxZ), math.NewVec3(maxX, minY, minZ)}},
		// Bottom
		{math.NewVec3(0, -1, 0), [4]math.Vec3{
			math.NewVec3(maxX, minY, maxZ), math.NewVec3(minX, minY, minZ), math.NewVec3(maxX, minY, minZ), math.NewVec3(minX, minY, maxZ)}},
		// Top
		{math.NewVec3(0, 1, 0), [4]math.Vec3{
			math.NewVec3(minX, maxY, maxZ), math.NewVec3(maxX, maxY, minZ), math.NewVec3(minX, maxY, minZ), math.NewVec3(maxX, maxY, maxZ)}},
	}
	uvs := [4]math.Vec2{{X: 0, Y: 0}, {X: tileX, Y: tileY}, {X: 0, Y: tileY}, {X: tileX, Y: 0}}

	for i, face := range faces {
		vOffset := uint32(i * 4)
		for c := 0; c < 4; c++ {
			g.Vertices[int(vOffset)+c] = Vertex{Position: face.corners[c], Normal: face.normal, Texcoord: uvs[c]}
		}
		quad(g.Indices[i*6:], vOffset)
	}
	generateTangents(g.Vertices, g.Indices)
	return g
}

func quad(dst []uint32, vOffset uint32) {
	dst[0] = vOffset + 0
	dst[1] = vOffset + 1
	dst[2] = vOffset + 2
	dst[3] = vOffset + 0
	dst[4] = vOffset + 3
	dst[5] = vOffset + 1
}

func geometryName(name string) string {
	if len(name) > 0 {
		return name
	}
	return DefaultGeometryName
}

// generateTangents writes one tangent per triangle to its three vertices.
func generateTangents(vertices []Vertex, indices []uint32) {
	for i := 0; i+2 < len(indices); i += 3 {
		i0, i1, i2 := indices[i], indices[i+1], indices[i+2]

		edge1 := vertices[i1].Position.Sub(vertices[i0].Position)
		edge2 := vertices[i2].Position.Sub(vertices[i0].Position)

		deltaU1 := vertices[i1].Texcoord.X - vertices[i0].Texcoord.X
		deltaV1 := vertices[i1].Texcoord.Y - vertices[i0].Texcoord.Y
		deltaU2 := vertices[i2].Texcoord.X - vertices[i0].Texcoord.X
		deltaV2 := vertices[i2].Texcoord.Y - vertices[i0].Texcoord.Y

		dividend := deltaU1*deltaV2 - deltaU2*deltaV1
		if dividend == 0 {
			continue
		}
		fc := 1.0 / dividend

		tangent := edge1.MulScalar(deltaV2).Sub(edge2.MulScalar(deltaV1)).MulScalar(fc).Normalized()
		bitangent := edge2.MulScalar(deltaU1).Sub(edge1.MulScalar(deltaU2)).MulScalar(fc)

		handedness := float32(1.0)
		if vertices[i0].Normal.Cross(tangent).Dot(bitangent) < 0 {
			handedness = -1.0
		}
		t4 := tangent.ToVec4(handedness)
		vertices[i0].Tangent = t4
		vertices[i1].Tangent = t4
		vertices[i2].Tangent = t4
	}
}
