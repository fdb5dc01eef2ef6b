package gpu

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
	"github.com/spaghettifunk/kiln/engine/renderer/driver/drivertest"
)

func TestStagedBufferRoundTrip(t *testing.T) {
	ctx, dev := newTestContext(t, true)

	staged, err := NewStagedBuffer(ctx, 512, driver.BufferUsageVertex)
	require.NoError(t, err)
	defer staged.Destroy()
	require.False(t, staged.BufferIsHostVisible())
	require.True(t, staged.Buffer().Memory().DeviceLocal)
	require.True(t, staged.Buffer().Memory().Dedicated)

	data, err := staged.Map()
	require.NoError(t, err)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, staged.WriteDone())
	require.NoError(t, ctx.Immediate(ctx.TransferQueue(), staged.Transfer))
	staged.TransferComplete()

	got := dev.BufferContents(staged.Buffer().Handle())
	require.Len(t, got, 512)
	for i := range got {
		require.Equal(t, byte(i), got[i])
	}

	_, err = staged.Map()
	require.True(t, core.IsPrecondition(err))
	requireNoViolations(t, dev)
}

func TestStagedBufferHostVisibleFallback(t *testing.T) {
	for _, strict := range []bool{true, false} {
		ctx, dev := newTestContext(t, strict)
		dev.SetHeapBudget(0, 0)

		staged, err := NewStagedBuffer(ctx, 256, driver.BufferUsageIndex)
		require.NoError(t, err)
		require.True(t, staged.BufferIsHostVisible())
		require.True(t, staged.Buffer().Memory().HostVisible)
		require.Equal(t, uint64(0), dev.HeapUsed(0))

		data, err := staged.Map()
		require.NoError(t, err)
		copy(data, []byte{1, 2, 3, 4})
		require.NoError(t, staged.WriteDone())
		require.True(t, bytes.HasPrefix(dev.BufferContents(staged.Buffer().Handle()), []byte{1, 2, 3, 4}))

		err = ctx.Immediate(driver.QueueGraphics, staged.Transfer)
		if strict {
			require.True(t, core.IsPrecondition(err))
		} else {
			require.NoError(t, err)
		}
		staged.Destroy()
		require.Equal(t, 0, dev.Live(drivertest.KindBuffer))
		requireNoViolations(t, dev)
	}
}

func TestStagedImageUploadsEveryMip(t *testing.T) {
	ctx, dev := newTestContext(t, true)

	staged, err := NewStagedImage(ctx, ImageConfig{
		Name: "checker", Width: 8, Height: 4, MipLevels: 3, Format: driver.FormatR8G8B8A8Unorm,
	})
	require.NoError(t, err)
	defer staged.Destroy()

	require.Equal(t, uint64(0), staged.MipOffset(0))
	require.Equal(t, uint64(8*4*4), staged.MipOffset(1))
	require.Equal(t, uint64(8*4*4+4*2*4), staged.MipOffset(2))

	data, err := staged.Map()
	require.NoError(t, err)
	for level := uint32(0); level < 3; level++ {
		w, h := MipExtent(8, 4, level)
		start := staged.MipOffset(level)
		for i := uint64(0); i < uint64(w*h*4); i++ {
			data[start+i] = byte(level + 1)
		}
	}
	require.NoError(t, staged.WriteDone())

	barriers := dev.Barriers()
	require.NoError(t, ctx.Immediate(driver.QueueGraphics, staged.Transfer))
	staged.TransferComplete()
	require.Equal(t, barriers+2, dev.Barriers())

	for level := uint32(0); level < 3; level++ {
		w, h := MipExtent(8, 4, level)
		got := dev.ImageContents(staged.Image().Handle(), level)
		require.Len(t, got, int(w*h*4))
		require.Equal(t, bytes.Repeat([]byte{byte(level + 1)}, int(w*h*4)), got)
	}
	requireNoViolations(t, dev)
}

func TestMipExtent(t *testing.T) {
	testCases := map[string]struct {
		width, height, level uint32
		w, h                 uint32
	}{
		"base level":    {width: 256, height: 128, level: 0, w: 256, h: 128},
		"halves":        {width: 256, height: 128, level: 1, w: 128, h: 64},
		"past the last": {width: 256, height: 128, level: 9, w: 1, h: 1},
		"clamps at one": {width: 256, height: 4, level: 4, w: 16, h: 1},
	}
	for testName, testCase := range testCases {
		t.Run(testName, func(t *testing.T) {
			w, h := MipExtent(testCase.width, testCase.height, testCase.level)
			require.Equal(t, testCase.w, w)
			require.Equal(t, testCase.h, h)
		})
	}
}
