package frame

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/kiln/engine/math"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

func newTestShadowSlots(t *testing.T, limit int) (*ShadowSlots, *gpu.Context) {
	t.Helper()
	ctx, _ := newTestContext(t, true)
	config, err := StageShadow.passConfig(ctx.Device.DepthFormat(), 0)
	require.NoError(t, err)
	pass, err := gpu.NewRenderPass(ctx, config)
	require.NoError(t, err)
	slots := NewShadowSlots(ctx, pass, limit)
	t.Cleanup(func() {
		slots.Destroy()
		pass.Destroy()
	})
	return slots, ctx
}

func casters(resolutions ...uint32) []metadata.Light {
	lights := make([]metadata.Light, len(resolutions))
	for i, r := range resolutions {
		lights[i] = sunLight(r)
		if r == 0 {
			lights[i].CastsShadow = false
		}
	}
	return lights
}

func destroyAll(slots []*ShadowSlot) {
	for _, s := range slots {
		s.Destroy()
	}
}

func TestShadowSlotsAssign(t *testing.T) {
	testCases := map[string]struct {
		limit    int
		lights   []metadata.Light
		assigned []int
		live     int
	}{
		"more casters than slots": {
			limit:    4,
			lights:   casters(1024, 2048, 512, 4096, 1024),
			assigned: []int{2, 1, -1, 0, 3},
			live:     4,
		},
		"lights without shadows get no slot": {
			limit:    4,
			lights:   casters(0, 1024, 0),
			assigned: []int{-1, 0, -1},
			live:     1,
		},
		"limit below the maximum": {
			limit:    2,
			lights:   casters(256, 256, 256),
			assigned: []int{0, 1, -1},
			live:     2,
		},
		"limit is clamped to the maximum": {
			limit:    16,
			lights:   casters(64, 64, 64, 64, 64, 64),
			assigned: []int{0, 1, 2, 3, -1, -1},
			live:     4,
		},
		"no lights": {
			limit:    4,
			assigned: []int{},
			live:     0,
		},
	}
	for testName, testCase := range testCases {
		t.Run(testName, func(t *testing.T) {
			slots, _ := newTestShadowSlots(t, testCase.limit)
			assigned, retired, err := slots.Assign(testCase.lights)
			require.NoError(t, err)
			require.Empty(t, retired)
			require.Equal(t, testCase.assigned, assigned)
			require.Equal(t, testCase.live, slots.Live())
			for light, slot := range assigned {
				if slot < 0 {
					continue
				}
				require.Equal(t, light, slots.Light(slot))
				require.GreaterOrEqual(t, slots.Slot(slot).Resolution, testCase.lights[light].ShadowResolution)
			}
		})
	}
}

func TestShadowSlotsReuse(t *testing.T) {
	testCases := map[string]struct {
		first       []uint32
		second      []uint32
		assigned    []int
		resolutions map[int]uint32
		retired     []uint32
	}{
		"smallest slot that fits": {
			first:       []uint32{4096, 2048, 1024, 512},
			second:      []uint32{1024},
			assigned:    []int{2},
			resolutions: map[int]uint32{2: 1024},
			retired:     []uint32{4096, 2048, 512},
		},
		"larger slot when nothing smaller fits": {
			first:       []uint32{4096, 512},
			second:      []uint32{1024},
			assigned:    []int{0},
			resolutions: map[int]uint32{0: 4096},
			retired:     []uint32{512},
		},
		"undersized slot goes to an empty position": {
			first:       []uint32{512},
			second:      []uint32{2048},
			assigned:    []int{1},
			resolutions: map[int]uint32{1: 2048},
			retired:     []uint32{512},
		},
		"undersized slot is replaced when full": {
			first:       []uint32{512, 512, 512, 512},
			second:      []uint32{2048, 512, 512, 512},
			assigned:    []int{3, 0, 1, 2},
			resolutions: map[int]uint32{0: 512, 1: 512, 2: 512, 3: 2048},
			retired:     []uint32{512},
		},
		"same casters keep their slots": {
			first:       []uint32{1024, 2048},
			second:      []uint32{1024, 2048},
			assigned:    []int{1, 0},
			resolutions: map[int]uint32{0: 2048, 1: 1024},
		},
	}
	for testName, testCase := range testCases {
		t.Run(testName, func(t *testing.T) {
			slots, _ := newTestShadowSlots(t, 4)
			_, retired, err := slots.Assign(casters(testCase.first...))
			require.NoError(t, err)
			require.Empty(t, retired)

			assigned, retired, err := slots.Assign(casters(testCase.second...))
			require.NoError(t, err)
			t.Cleanup(func() { destroyAll(retired) })

			require.Equal(t, testCase.assigned, assigned)
			for pos, res := range testCase.resolutions {
				require.NotNil(t, slots.Slot(pos))
				require.Equal(t, res, slots.Slot(pos).Resolution)
			}
			var got []uint32
			for _, s := range retired {
				got = append(got, s.Resolution)
			}
			require.ElementsMatch(t, testCase.retired, got)
			require.Equal(t, len(testCase.resolutions), slots.Live())
		})
	}
}

func TestShadowSlotsNeverExceedMaximum(t *testing.T) {
	slots, _ := newTestShadowSlots(t, 4)
	rounds := [][]uint32{
		{256, 512, 1024, 2048, 4096, 128},
		{4096, 4096},
		{128, 128, 128, 128, 128},
		{2048, 256, 1024, 512},
		{},
	}
	for _, round := range rounds {
		assigned, retired, err := slots.Assign(casters(round...))
		require.NoError(t, err)
		destroyAll(retired)
		require.LessOrEqual(t, slots.Live(), gpu.MaxShadowMaps)

		seen := map[int]bool{}
		for light, slot := range assigned {
			if slot < 0 {
				continue
			}
			require.False(t, seen[slot], "slot %d assigned twice", slot)
			seen[slot] = true
			require.GreaterOrEqual(t, slots.Slot(slot).Resolution, round[light])
		}
	}
	require.Zero(t, slots.Live())
}

func TestShadowViewProjectionPerSlot(t *testing.T) {
	slots, _ := newTestShadowSlots(t, 4)
	lights := casters(1024, 2048)
	lights[1].Direction = math.NewVec3(0, -1, 0)
	_, _, err := slots.Assign(lights)
	require.NoError(t, err)

	for i := 0; i < gpu.MaxShadowMaps; i++ {
		light := slots.Light(i)
		if light < 0 {
			continue
		}
		m, err := lights[light].ShadowViewProjection(shadowHalfExtent)
		require.NoError(t, err)
		require.NotEqual(t, math.NewMat4Identity(), m)
	}
}
