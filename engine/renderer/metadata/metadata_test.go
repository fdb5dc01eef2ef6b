package metadata

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/kiln/engine/math"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

func TestVertexAttributeSizes(t *testing.T) {
	testCases := map[VertexAttribute]uint32{
		AttributePosition: 12,
		AttributeNormal:   12,
		AttributeTangent:  16,
		AttributeTexCoord: 8,
		AttributeColour:   4,
		AttributeJoints:   8,
		AttributeWeights:  16,
	}
	for attribute, size := range testCases {
		t.Run(attribute.String(), func(t *testing.T) {
			got, err := attribute.Size()
			require.NoError(t, err)
			require.Equal(t, size, got)
		})
	}

	_, err := VertexAttribute(42).Size()
	require.True(t, errors.Is(err, ErrInvalidAttribute))
	require.Equal(t, "Invalid", VertexAttribute(42).String())
}

func TestNewVertexLayout(t *testing.T) {
	testCases := map[string]struct {
		attributes []VertexAttribute
		offsets    []uint32
		stride     uint32
		key        string
		err        bool
	}{
		"position only": {
			attributes: []VertexAttribute{AttributePosition},
			offsets:    []uint32{0},
			stride:     12,
			key:        "Position",
		},
		"lit mesh": {
			attributes: []VertexAttribute{AttributePosition, AttributeNormal, AttributeTexCoord},
			offsets:    []uint32{0, 12, 24},
			stride:     32,
			key:        "Position,Normal,TexCoord",
		},
		"order is kept": {
			attributes: []VertexAttribute{AttributeColour, AttributePosition},
			offsets:    []uint32{0, 4},
			stride:     16,
			key:        "Colour,Position",
		},
		"missing position": {
			attributes: []VertexAttribute{AttributeNormal},
			err:        true,
		},
		"duplicate attribute": {
			attributes: []VertexAttribute{AttributePosition, AttributeNormal, AttributeNormal},
			err:        true,
		},
		"unknown attribute": {
			attributes: []VertexAttribute{AttributePosition, 99},
			err:        true,
		},
	}
	for testName, testCase := range testCases {
		t.Run(testName, func(t *testing.T) {
			layout, err := NewVertexLayout(testCase.attributes)
			if testCase.err {
				require.True(t, errors.Is(err, ErrInvalidAttribute))
				return
			}
			require.NoError(t, err)
			require.Equal(t, testCase.offsets, layout.Offsets)
			require.Equal(t, testCase.stride, layout.Stride)
			require.Equal(t, testCase.key, layout.Key())
		})
	}
}

func TestMeshMetadataValidate(t *testing.T) {
	lit := []VertexAttribute{AttributePosition, AttributeNormal, AttributeTexCoord}
	testCases := map[string]struct {
		meta    MeshMetadata
		dataLen int
		err     error
	}{
		"indexed": {
			meta:    MeshMetadata{Attributes: lit, VertexCount: 4, IndexCount: 6, IndexType: IndexUint16},
			dataLen: 4*32 + 6*2,
		},
		"32 bit indices": {
			meta:    MeshMetadata{Attributes: lit, VertexCount: 4, IndexCount: 6, IndexType: IndexUint32},
			dataLen: 4*32 + 6*4,
		},
		"no indices": {
			meta:    MeshMetadata{Attributes: lit, VertexCount: 3},
			dataLen: 3 * 32,
		},
		"short data": {
			meta:    MeshMetadata{Attributes: lit, VertexCount: 4, IndexCount: 6, IndexType: IndexUint16},
			dataLen: 4*32 + 6*2 - 1,
			err:     ErrMeshSize,
		},
		"index count without type": {
			meta:    MeshMetadata{Attributes: lit, VertexCount: 3, IndexCount: 3},
			dataLen: 3 * 32,
			err:     ErrMeshSize,
		},
		"no vertices": {
			meta: MeshMetadata{Attributes: lit},
			err:  ErrMeshSize,
		},
		"submesh past the end": {
			meta: MeshMetadata{
				Attributes: lit, VertexCount: 4, IndexCount: 6, IndexType: IndexUint16,
				Submeshes: []Submesh{{First: 0, Count: 3}, {First: 3, Count: 4}},
			},
			dataLen: 4*32 + 6*2,
			err:     ErrMeshSize,
		},
		"bad index type": {
			meta:    MeshMetadata{Attributes: lit, VertexCount: 4, IndexCount: 6, IndexType: 7},
			dataLen: 4 * 32,
			err:     ErrInvalidIndexType,
		},
	}
	for testName, testCase := range testCases {
		t.Run(testName, func(t *testing.T) {
			err := testCase.meta.Validate(testCase.dataLen)
			if testCase.err == nil {
				require.NoError(t, err)
				return
			}
			require.True(t, errors.Is(err, testCase.err), "got %v", err)
		})
	}
}

func TestMeshMetadataDrawRanges(t *testing.T) {
	indexed := MeshMetadata{VertexCount: 4, IndexCount: 6, IndexType: IndexUint16}
	require.Equal(t, []Submesh{{First: 0, Count: 6}}, indexed.DrawRanges())

	plain := MeshMetadata{VertexCount: 3}
	require.Equal(t, []Submesh{{First: 0, Count: 3}}, plain.DrawRanges())

	split := MeshMetadata{Submeshes: []Submesh{{First: 0, Count: 3, Material: 1}}}
	require.Equal(t, split.Submeshes, split.DrawRanges())
}

func TestFaceCullMode(t *testing.T) {
	testCases := map[string]struct {
		mode FaceCullMode
		cull driver.CullMode
		err  bool
	}{
		"":               {mode: FaceCullModeBack, cull: driver.CullBack},
		"back":           {mode: FaceCullModeBack, cull: driver.CullBack},
		"front":          {mode: FaceCullModeFront, cull: driver.CullFront},
		"none":           {mode: FaceCullModeNone, cull: driver.CullNone},
		"front_and_back": {mode: FaceCullModeFrontAndBack, err: true},
	}
	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			mode, err := ParseFaceCullMode(name)
			require.NoError(t, err)
			require.Equal(t, testCase.mode, mode)
			cull, err := mode.CullMode()
			if testCase.err {
				require.True(t, errors.Is(err, ErrInvalidCullMode))
				return
			}
			require.NoError(t, err)
			require.Equal(t, testCase.cull, cull)
		})
	}

	_, err := ParseFaceCullMode("sideways")
	require.True(t, errors.Is(err, ErrInvalidCullMode))
}

func TestMaterialConfig(t *testing.T) {
	m, err := MaterialConfig{
		Name:      "brick",
		Albedo:    [4]float32{0.5, 0.25, 0.125, 1},
		Roughness: 1.5,
		Metallic:  -1,
		CullMode:  "none",
	}.Material()
	require.NoError(t, err)
	require.Equal(t, "brick", m.Name)
	require.Equal(t, math.NewVec4(0.5, 0.25, 0.125, 1), m.Albedo)
	require.Equal(t, float32(1), m.Roughness)
	require.Equal(t, float32(0), m.Metallic)
	require.Equal(t, FaceCullModeNone, m.CullMode)
	require.Equal(t, DefaultTexture, m.AlbedoTexture)
}

func TestLightValidate(t *testing.T) {
	down := math.NewVec3(0, -1, 0)
	testCases := map[string]struct {
		light Light
		ok    bool
	}{
		"sun":                 {light: Light{Kind: LightDirectional, Direction: down}, ok: true},
		"sun without a ray":   {light: Light{Kind: LightDirectional}},
		"bulb":                {light: Light{Kind: LightPoint, Range: 10}, ok: true},
		"bulb without range":  {light: Light{Kind: LightPoint}},
		"spot":                {light: Light{Kind: LightSpot, Range: 10, Direction: down}, ok: true},
		"spot without a ray":  {light: Light{Kind: LightSpot, Range: 10}},
		"caster without size": {light: Light{Kind: LightPoint, Range: 10, CastsShadow: true}},
		"caster": {
			light: Light{Kind: LightPoint, Range: 10, CastsShadow: true, ShadowResolution: 512}, ok: true,
		},
		"unknown kind": {light: Light{Kind: 9, Range: 1}},
	}
	for testName, testCase := range testCases {
		t.Run(testName, func(t *testing.T) {
			err := testCase.light.Validate()
			if testCase.ok {
				require.NoError(t, err)
				return
			}
			require.True(t, errors.Is(err, ErrInvalidLight))
		})
	}
}

func TestLightShadowViewProjection(t *testing.T) {
	sun := Light{Kind: LightDirectional, Direction: math.NewVec3(0, -1, 0.01)}
	m, err := sun.ShadowViewProjection(10)
	require.NoError(t, err)
	// the origin lands in the middle of the shadow map
	centre := math.NewVec3Zero().Transform(m)
	require.InDelta(t, 0, centre.X, 1e-4)
	require.InDelta(t, 0, centre.Y, 1e-4)

	_, err = Light{Kind: 9}.ShadowViewProjection(10)
	require.True(t, errors.Is(err, ErrInvalidLight))
}
