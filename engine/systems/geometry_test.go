package systems

import (
	"encoding/binary"
	stdmath "math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

func TestGeneratedGeometry(t *testing.T) {
	testCases := map[string]struct {
		geometry *Geometry
		vertices int
		indices  int
	}{
		"cube": {
			geometry: GenerateCube(2, 3, 4, 1, 1, "cube"),
			vertices: 24,
			indices:  36,
		},
		"plane": {
			geometry: GeneratePlane(10, 6, 2, 3, 4, 4, "floor"),
			vertices: 2 * 3 * 4,
			indices:  2 * 3 * 6,
		},
		"zero sizes fall back": {
			geometry: GeneratePlane(0, 0, 0, 0, 0, 0, ""),
			vertices: 4,
			indices:  6,
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			g := tc.geometry
			require.Len(t, g.Vertices, tc.vertices)
			require.Len(t, g.Indices, tc.indices)

			for i := 0; i < len(g.Indices); i += 3 {
				v0, v1, v2 := g.Vertices[g.Indices[i]], g.Vertices[g.Indices[i+1]], g.Vertices[g.Indices[i+2]]
				face := v1.Position.Sub(v0.Position).Cross(v2.Position.Sub(v0.Position))
				require.Greater(t, face.Dot(v0.Normal), float32(0), "triangle %d winds away from its normal", i/3)
			}
			for i, v := range g.Vertices {
				require.InDelta(t, 1, stdmath.Abs(float64(v.Tangent.W)), 1e-6, "vertex %d", i)
				require.InDelta(t, 0, v.Tangent.ToVec3().Dot(v.Normal), 1e-5, "vertex %d", i)
			}
		})
	}
}

func TestGeometryEncode(t *testing.T) {
	g := GenerateCube(1, 1, 1, 1, 1, "")
	require.Equal(t, DefaultGeometryName, g.Name)

	data, meta, err := g.Encode()
	require.NoError(t, err)
	require.Equal(t, metadata.IndexUint32, meta.IndexType)
	require.Equal(t, uint32(24), meta.VertexCount)
	require.Equal(t, uint32(36), meta.IndexCount)

	layout, err := meta.Layout()
	require.NoError(t, err)
	require.Equal(t, uint32(48), layout.Stride)
	require.Len(t, data, 24*48+36*4)

	// First vertex position, then the first indices after the vertex block.
	require.Equal(t, g.Vertices[0].Position.X, stdmath.Float32frombits(binary.LittleEndian.Uint32(data[0:])))
	require.Equal(t, g.Vertices[0].Normal.Z, stdmath.Float32frombits(binary.LittleEndian.Uint32(data[20:])))
	require.Equal(t, uint32(1), binary.LittleEndian.Uint32(data[24*48+4:]))
}
