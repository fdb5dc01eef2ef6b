package gpu

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
	"github.com/spaghettifunk/kiln/engine/renderer/driver/drivertest"
)

func newTestSwapchain(t *testing.T, ctx *Context, vsync bool) *Swapchain {
	t.Helper()
	sc, err := NewSwapchain(ctx, 800, 600, vsync)
	require.NoError(t, err)
	t.Cleanup(sc.Destroy)
	return sc
}

func newTestSemaphore(t *testing.T, ctx *Context) *Semaphore {
	t.Helper()
	sem, err := NewSemaphore(ctx)
	require.NoError(t, err)
	t.Cleanup(sem.Destroy)
	return sem
}

func TestSwapchainCreate(t *testing.T) {
	testCases := map[string]struct {
		vsync    bool
		minCount uint32
		maxCount uint32
		mode     driver.PresentMode
		images   int
	}{
		"vsync uses fifo": {
			vsync: true, minCount: 2, maxCount: 3, mode: driver.PresentModeFIFO, images: 3,
		},
		"no vsync prefers mailbox": {
			vsync: false, minCount: 2, maxCount: 3, mode: driver.PresentModeMailbox, images: 3,
		},
		"image count is capped": {
			vsync: true, minCount: 2, maxCount: 2, mode: driver.PresentModeFIFO, images: 2,
		},
		"unbounded image count": {
			vsync: true, minCount: 3, maxCount: 0, mode: driver.PresentModeFIFO, images: 4,
		},
	}
	for testName, testCase := range testCases {
		t.Run(testName, func(t *testing.T) {
			ctx, dev := newTestContext(t, true, drivertest.WithImageCount(testCase.minCount, testCase.maxCount))
			sc := newTestSwapchain(t, ctx, testCase.vsync)

			require.Equal(t, SwapchainReady, sc.State())
			require.Equal(t, testCase.mode, sc.PresentMode())
			require.Equal(t, driver.FormatB8G8R8A8Unorm, sc.Format())
			require.Equal(t, testCase.images, sc.ImageCount())
			require.Len(t, sc.Views(), testCase.images)
			w, h := sc.Extent()
			require.Equal(t, uint32(800), w)
			require.Equal(t, uint32(600), h)
			require.Equal(t, testCase.images, dev.Live(drivertest.KindImageView))
		})
	}
}

func TestSwapchainAcquirePresent(t *testing.T) {
	ctx, dev := newTestContext(t, true)
	sc := newTestSwapchain(t, ctx, true)
	sem := newTestSemaphore(t, ctx)

	for frame := 0; frame < 4; frame++ {
		index, err := sc.Acquire(sem)
		require.NoError(t, err)
		require.Equal(t, uint32(frame%3), index)
		require.NoError(t, sc.Present([]*Semaphore{sem}, index))
	}
	require.Equal(t, 4, dev.Presents())
	requireNoViolations(t, dev)
}

// A minimised window reports a zero-area surface. Nothing is rendered until
// it comes back, and the swapchain is rebuilt at the new size.
func TestSwapchainZeroAreaSurface(t *testing.T) {
	ctx, dev := newTestContext(t, true)
	sc := newTestSwapchain(t, ctx, true)
	sem := newTestSemaphore(t, ctx)

	dev.SetSurfaceExtent(0, 0)
	_, err := sc.Acquire(sem)
	require.True(t, core.IsBooting(err))
	require.False(t, core.IsFatal(err))
	require.Equal(t, SwapchainPendingRecreate, sc.State())

	for i := 0; i < 3; i++ {
		require.True(t, core.IsBooting(sc.Recreate(0, 0)))
		require.Equal(t, SwapchainPendingRecreate, sc.State())
		_, err = sc.Acquire(sem)
		require.True(t, core.IsBooting(err))
	}
	require.Equal(t, 0, dev.Live(drivertest.KindImageView))

	dev.SetSurfaceExtent(1024, 768)
	require.NoError(t, sc.Recreate(1024, 768))
	require.Equal(t, SwapchainReady, sc.State())
	w, h := sc.Extent()
	require.Equal(t, uint32(1024), w)
	require.Equal(t, uint32(768), h)
	require.Equal(t, 1, dev.Live(drivertest.KindSwapchain))
	require.Equal(t, sc.ImageCount(), dev.Live(drivertest.KindImageView))

	index, err := sc.Acquire(sem)
	require.NoError(t, err)
	require.NoError(t, sc.Present([]*Semaphore{sem}, index))
	requireNoViolations(t, dev)
}

func TestSwapchainSuboptimal(t *testing.T) {
	ctx, dev := newTestContext(t, true)
	sc := newTestSwapchain(t, ctx, true)
	sem := newTestSemaphore(t, ctx)

	dev.SetSuboptimal(true)
	index, err := sc.Acquire(sem)
	require.NoError(t, err)
	require.Equal(t, SwapchainPendingRecreate, sc.State())

	// the acquired image is still presented, then the recreate is signaled
	require.True(t, core.IsBooting(sc.Present([]*Semaphore{sem}, index)))
	require.Equal(t, 1, dev.Presents())

	dev.SetSuboptimal(false)
	require.NoError(t, sc.Recreate(800, 600))
	require.Equal(t, SwapchainReady, sc.State())
}

func TestSwapchainResizeDuringPresent(t *testing.T) {
	ctx, dev := newTestContext(t, true)
	sc := newTestSwapchain(t, ctx, true)
	sem := newTestSemaphore(t, ctx)

	index, err := sc.Acquire(sem)
	require.NoError(t, err)
	dev.SetSurfaceExtent(640, 480)
	require.True(t, core.IsBooting(sc.Present([]*Semaphore{sem}, index)))
	require.Equal(t, SwapchainPendingRecreate, sc.State())

	require.NoError(t, sc.Recreate(640, 480))
	w, h := sc.Extent()
	require.Equal(t, uint32(640), w)
	require.Equal(t, uint32(480), h)
}

func TestSwapchainPresentWatchdog(t *testing.T) {
	dev := drivertest.New()
	ctx := NewContext(dev, ContextConfig{Strict: true, PresentTimeout: 20 * time.Millisecond})
	defer ctx.Destroy()
	sc, err := NewSwapchain(ctx, 800, 600, true)
	require.NoError(t, err)
	defer sc.Destroy()
	sem := newTestSemaphore(t, ctx)

	index, err := sc.Acquire(sem)
	require.NoError(t, err)
	dev.SetPresentDelay(500 * time.Millisecond)

	start := time.Now()
	err = sc.Present([]*Semaphore{sem}, index)
	require.True(t, core.IsFatal(err))
	require.Less(t, time.Since(start), 400*time.Millisecond)

	// A stalled present blocks further presents until it returns.
	err = sc.Present([]*Semaphore{sem}, index)
	require.True(t, core.IsFatal(err))
	require.Equal(t, 0, dev.Presents())
}

func TestSwapchainDestroyWaitsForStalledPresent(t *testing.T) {
	testCases := map[string]struct {
		delay  time.Duration
		leaked int
	}{
		"present returns during teardown": {delay: 150 * time.Millisecond, leaked: 0},
		"present never returns in time":   {delay: 600 * time.Millisecond, leaked: 1},
	}
	for testName, testCase := range testCases {
		t.Run(testName, func(t *testing.T) {
			dev := drivertest.New()
			ctx := NewContext(dev, ContextConfig{Strict: true, PresentTimeout: 100 * time.Millisecond})
			defer ctx.Destroy()
			sc, err := NewSwapchain(ctx, 800, 600, true)
			require.NoError(t, err)
			sem := newTestSemaphore(t, ctx)

			index, err := sc.Acquire(sem)
			require.NoError(t, err)
			dev.SetPresentDelay(testCase.delay)
			require.True(t, core.IsFatal(sc.Present([]*Semaphore{sem}, index)))

			sc.Destroy()
			require.Equal(t, testCase.leaked, dev.Live(drivertest.KindSwapchain))
			if testCase.leaked == 0 {
				require.Equal(t, 1, dev.Presents())
			}
		})
	}
}
