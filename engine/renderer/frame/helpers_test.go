package frame

import (
	"encoding/binary"
	gomath "math"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/spaghettifunk/kiln/engine/math"
	"github.com/spaghettifunk/kiln/engine/renderer/driver/drivertest"
	"github.com/spaghettifunk/kiln/engine/renderer/frame/mocks"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

func newTestContext(t *testing.T, strict bool, opts ...drivertest.Option) (*gpu.Context, *drivertest.Device) {
	t.Helper()
	dev := drivertest.New(opts...)
	ctx := gpu.NewContext(dev, gpu.ContextConfig{Strict: strict})
	t.Cleanup(ctx.Destroy)
	return ctx, dev
}

func requireNoViolations(t *testing.T, dev *drivertest.Device) {
	t.Helper()
	require.Empty(t, dev.Violations())
}

func testShaders() map[string]ShaderSource {
	shaders := make(map[string]ShaderSource)
	for _, role := range []string{
		ShaderMeshVertex, ShaderMeshFragment, ShaderDepthVertex, ShaderFullscreenVertex,
		ShaderSSAO, ShaderBlur, ShaderBloom, ShaderPost,
	} {
		shaders[role] = ShaderSource{Path: "shaders/" + role + ".spv", Code: []uint32{0x07230203, 1}}
	}
	return shaders
}

// windowState backs a mocked window. Tests change it between frames.
type windowState struct {
	width, height uint32
	generation    uint64
}

func (w *windowState) resize(width, height uint32) {
	w.width, w.height = width, height
	w.generation++
}

func newTestWindow(t *testing.T) (*mocks.MockWindow, *windowState) {
	t.Helper()
	ctrl := gomock.NewController(t)
	state := &windowState{width: 800, height: 600}
	window := mocks.NewMockWindow(ctrl)
	window.EXPECT().FramebufferSize().DoAndReturn(func() (uint32, uint32) {
		return state.width, state.height
	}).AnyTimes()
	window.EXPECT().SizeGeneration().DoAndReturn(func() uint64 {
		return state.generation
	}).AnyTimes()
	return window, state
}

type testFrame struct {
	*FrameObject
	ctx    *gpu.Context
	dev    *drivertest.Device
	window *windowState
}

func newTestFrameObject(t *testing.T, strict bool, cfg Config, opts ...drivertest.Option) *testFrame {
	t.Helper()
	ctx, dev := newTestContext(t, strict, opts...)
	window, state := newTestWindow(t)
	if cfg.Shaders == nil {
		cfg.Shaders = testShaders()
	}
	f, err := NewFrameObject(ctx, window, cfg)
	require.NoError(t, err)
	t.Cleanup(f.Destroy)
	return &testFrame{FrameObject: f, ctx: ctx, dev: dev, window: state}
}

// triangleData is three positions followed by three 16 bit indices.
func triangleData() ([]byte, metadata.MeshMetadata) {
	positions := []float32{0, 0, 0, 1, 0, 0, 0, 1, 0}
	data := make([]byte, 0, len(positions)*4+6)
	for _, p := range positions {
		data = binary.LittleEndian.AppendUint32(data, gomath.Float32bits(p))
	}
	for _, i := range []uint16{0, 1, 2} {
		data = binary.LittleEndian.AppendUint16(data, i)
	}
	return data, metadata.MeshMetadata{
		Name:        "triangle",
		Attributes:  []metadata.VertexAttribute{metadata.AttributePosition},
		VertexCount: 3,
		IndexCount:  3,
		IndexType:   metadata.IndexUint16,
	}
}

func uploadTriangle(t *testing.T, f *testFrame) *Mesh {
	t.Helper()
	data, meta := triangleData()
	m, err := UploadMesh(f.ctx, data, meta)
	require.NoError(t, err)
	f.Upload(m)
	return m
}

func testCamera() Camera {
	eye := math.NewVec3(0, 2, 5)
	return Camera{
		View:       math.NewMat4LookAt(eye, math.NewVec3Zero(), math.NewVec3Up()),
		Projection: math.NewMat4Perspective(math.DegToRad(60), 800.0/600.0, 0.1, 100),
		Position:   eye,
	}
}

func sunLight(resolution uint32) metadata.Light {
	return metadata.Light{
		Kind:             metadata.LightDirectional,
		Direction:        math.NewVec3(-0.3, -1, -0.2),
		Colour:           math.NewVec3(1, 1, 1),
		Intensity:        3,
		CastsShadow:      true,
		ShadowResolution: resolution,
	}
}

func packetWith(m *Mesh, draws int, lights ...metadata.Light) *Packet {
	p := &Packet{Camera: testCamera(), Ambient: math.NewVec4(0.1, 0.1, 0.1, 1), Lights: lights}
	for i := 0; i < draws; i++ {
		p.Draws = append(p.Draws, DrawCall{
			Mesh:  m,
			Model: math.NewMat4Translation(math.NewVec3(float32(i), 0, 0)),
		})
	}
	return p
}

func drawFrames(t *testing.T, f *testFrame, packet *Packet, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, f.Draw(packet))
	}
}
