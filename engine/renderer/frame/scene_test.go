package frame

import (
	"encoding/binary"
	gomath "math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/kiln/engine/math"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

func TestScratchLayout(t *testing.T) {
	testCases := map[string]struct {
		uniformAlign uint64
		storageAlign uint64
		lights       int
		records      int
		expected     scratchLayout
	}{
		"default limits": {
			uniformAlign: 256, storageAlign: 64, lights: 64, records: 1,
			expected: scratchLayout{sceneSize: 4608, params: 4608, draws: 4736, drawsSize: 128, total: 4864, maxLights: 64, maxRecords: 1},
		},
		"coarse storage alignment": {
			uniformAlign: 256, storageAlign: 256, lights: 4, records: 10,
			expected: scratchLayout{sceneSize: 768, params: 768, draws: 1024, drawsSize: 1280, total: 2304, maxLights: 4, maxRecords: 10},
		},
		"no records still has room for one": {
			uniformAlign: 64, storageAlign: 16, lights: 1, records: 0,
			expected: scratchLayout{sceneSize: 576, params: 576, draws: 704, drawsSize: 128, total: 832, maxLights: 1, maxRecords: 1},
		},
	}
	for testName, testCase := range testCases {
		t.Run(testName, func(t *testing.T) {
			l := newScratchLayout(testCase.uniformAlign, testCase.storageAlign, testCase.lights, testCase.records)
			require.Equal(t, testCase.expected, l)
			require.Zero(t, l.params%testCase.uniformAlign)
			require.Zero(t, l.draws%testCase.storageAlign)
		})
	}
}

func readFloat(buf []byte, off int) float32 {
	return gomath.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
}

func TestPackScene(t *testing.T) {
	lights := []metadata.Light{
		sunLight(1024),
		{Kind: metadata.LightPoint, Position: math.NewVec3(1, 2, 3), Range: 10, Colour: math.NewVec3(1, 0.5, 0), Intensity: 2},
	}
	sc := &scene{
		camera:  testCamera(),
		ambient: math.NewVec4(0.1, 0.2, 0.3, 1),
		lights:  lights,
		shadow:  []int{0, -1},
		shadows: 1,
		draws:   7,
		frame:   42,
		width:   800,
		height:  600,
	}
	buf := make([]byte, sceneHeaderSize+len(lights)*lightSize)
	packScene(buf, sc)

	// view, projection, view projection and four shadow matrices come first
	require.Equal(t, sc.camera.View.Data[0], readFloat(buf, 0))
	require.Equal(t, sc.camera.Position.Y, readFloat(buf, 7*64+4))
	require.Equal(t, float32(0.3), readFloat(buf, 7*64+16+8))
	counts := 7*64 + 32
	require.Equal(t, uint32(2), binary.LittleEndian.Uint32(buf[counts:]))
	require.Equal(t, uint32(7), binary.LittleEndian.Uint32(buf[counts+4:]))
	require.Equal(t, uint32(1), binary.LittleEndian.Uint32(buf[counts+8:]))
	require.Equal(t, uint32(42), binary.LittleEndian.Uint32(buf[counts+12:]))
	require.Equal(t, float32(800), readFloat(buf, counts+16))

	point := sceneHeaderSize + lightSize
	require.Equal(t, float32(3), readFloat(buf, point+8))
	require.Equal(t, float32(10), readFloat(buf, point+12))
	require.Equal(t, float32(2), readFloat(buf, point+32+12))
	require.Equal(t, uint32(metadata.LightPoint), binary.LittleEndian.Uint32(buf[point+48:]))
	require.Equal(t, int32(-1), int32(binary.LittleEndian.Uint32(buf[point+52:])))
	require.Equal(t, int32(0), int32(binary.LittleEndian.Uint32(buf[sceneHeaderSize+52:])))
}

func TestPackDraws(t *testing.T) {
	material := metadata.DefaultMaterial()
	material.Albedo = math.NewVec4(0.5, 0.25, 1, 1)
	material.AlbedoTexture = 3
	records := []drawRecord{
		{model: math.NewMat4Identity(), material: metadata.DefaultMaterial()},
		{model: math.NewMat4Translation(math.NewVec3(4, 5, 6)), material: material},
	}
	buf := make([]byte, len(records)*drawRecordSize)
	packDraws(buf, records)

	second := drawRecordSize
	require.Equal(t, float32(5), readFloat(buf, second+13*4))
	require.Equal(t, float32(0.25), readFloat(buf, second+64+4))
	require.Equal(t, uint32(3), binary.LittleEndian.Uint32(buf[second+112:]))
}

func TestStagePassConfig(t *testing.T) {
	testCases := map[string]struct {
		stage  Stage
		depth  bool
		colour driver.Format
		final  driver.ImageLayout
		err    bool
	}{
		"depth":  {stage: StageDepth, depth: true},
		"shadow": {stage: StageShadow, depth: true},
		"ssao":   {stage: StageSSAO, colour: aoFormat, final: driver.ImageLayoutShaderReadOnly},
		"render": {stage: StageRender, depth: true, colour: hdrFormat, final: driver.ImageLayoutShaderReadOnly},
		"post":   {stage: StagePost, colour: driver.FormatB8G8R8A8Unorm, final: driver.ImageLayoutPresentSrc},
		"upload": {stage: StageUpload, err: true},
		"beyond": {stage: stageCount, err: true},
	}
	for testName, testCase := range testCases {
		t.Run(testName, func(t *testing.T) {
			config, err := testCase.stage.passConfig(driver.FormatD32Sfloat, driver.FormatB8G8R8A8Unorm)
			if testCase.err {
				require.ErrorIs(t, err, ErrInvalidStage)
				return
			}
			require.NoError(t, err)
			require.Equal(t, testCase.colour, config.ColourFormat)
			require.Equal(t, testCase.final, config.ColourFinalLayout)
			if testCase.depth {
				require.Equal(t, driver.FormatD32Sfloat, config.DepthFormat)
			}
		})
	}
}

func TestStageGroups(t *testing.T) {
	order := Stages()
	require.Len(t, order, int(stageCount))
	last := groupPre
	for i, s := range order {
		require.Equal(t, Stage(i), s)
		g, err := s.group()
		require.NoError(t, err)
		require.GreaterOrEqual(t, g, last, s.String())
		last = g
		begin, end := s.queries()
		require.Equal(t, begin+1, end)
	}
	_, err := stageCount.group()
	require.ErrorIs(t, err, ErrInvalidStage)
}

func TestTimingsFrom(t *testing.T) {
	micros := make([]float64, 2*int(stageCount))
	for i := range micros {
		micros[i] = float64(i * i)
	}
	timings := timingsFrom(3, micros)
	require.True(t, timings.Valid)
	require.Equal(t, uint64(3), timings.Frame)
	require.Equal(t, 1.0, timings.Stage(StageUpload))
	require.Equal(t, 9.0-4.0, timings.Stage(StageDepth))
	require.Zero(t, timings.Stage(stageCount))

	require.False(t, timingsFrom(3, micros[:4]).Valid)
}
