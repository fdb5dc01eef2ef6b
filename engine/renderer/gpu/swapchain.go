package gpu

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/kiln/engine/core"
	kmath "github.com/spaghettifunk/kiln/engine/math"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

type SwapchainState int

const (
	SwapchainUninitialized SwapchainState = iota
	SwapchainReady
	SwapchainPendingRecreate
)

func (s SwapchainState) String() string {
	switch s {
	case SwapchainUninitialized:
		return "Uninitialized"
	case SwapchainReady:
		return "Ready"
	case SwapchainPendingRecreate:
		return "PendingRecreate"
	default:
		return "Invalid"
	}
}

type Swapchain struct {
	ctx         *Context
	handle      driver.Swapchain
	state       SwapchainState
	vsync       bool
	format      driver.SurfaceFormat
	presentMode driver.PresentMode
	width       uint32
	height      uint32
	images      []*Image
	views       []*ImageView
	// stalled receives the result of a present the watchdog gave up on.
	stalled chan error
}

// NewSwapchain creates a swapchain for a surface of width by height. A zero
// area surface returns the recreate signal.
func NewSwapchain(ctx *Context, width, height uint32, vsync bool) (*Swapchain, error) {
	sc := &Swapchain{ctx: ctx, vsync: vsync}
	if err := sc.create(width, height); err != nil {
		return nil, err
	}
	return sc, nil
}

func chooseSurfaceFormat(formats []driver.SurfaceFormat) (driver.SurfaceFormat, error) {
	if len(formats) == 0 {
		return driver.SurfaceFormat{}, core.Fatalf("surface reports no formats")
	}
	for _, f := range formats {
		if f.Format == driver.FormatB8G8R8A8Unorm && f.ColourSpace == driver.ColourSpaceSRGBNonlinear {
			return f, nil
		}
	}
	return formats[0], nil
}

func choosePresentMode(modes []driver.PresentMode, vsync bool) driver.PresentMode {
	if vsync {
		return driver.PresentModeFIFO
	}
	for _, m := range modes {
		if m == driver.PresentModeMailbox {
			return m
		}
	}
	return driver.PresentModeFIFO
}

func (sc *Swapchain) create(width, height uint32) error {
	caps, err := sc.ctx.Device.SurfaceCapabilities()
	if err != nil {
		return core.Fatal(errors.Wrap(err, "querying surface capabilities"))
	}

	// the surface dictates the extent unless it reports the special value
	if caps.CurrentWidth != math.MaxUint32 {
		width, height = caps.CurrentWidth, caps.CurrentHeight
	}
	if width == 0 || height == 0 {
		sc.state = SwapchainPendingRecreate
		return core.Booting(errors.Newf("surface has zero area %dx%d", width, height))
	}
	width = kmath.Clamp(width, caps.MinWidth, caps.MaxWidth)
	height = kmath.Clamp(height, caps.MinHeight, caps.MaxHeight)

	format, err := chooseSurfaceFormat(caps.Formats)
	if err != nil {
		return err
	}
	imageCount := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}
	presentMode := choosePresentMode(caps.PresentModes, sc.vsync)

	handle, err := sc.ctx.Device.CreateSwapchain(driver.SwapchainCreateInfo{
		Width:       width,
		Height:      height,
		ImageCount:  imageCount,
		Format:      format,
		PresentMode: presentMode,
		Old:         sc.handle,
	})
	if err != nil {
		if errors.IsAny(err, driver.ErrOutOfDate, driver.ErrSurfaceLost) {
			sc.state = SwapchainPendingRecreate
			return core.Booting(errors.Wrap(err, "creating swapchain"))
		}
		return core.Fatal(errors.Wrap(err, "creating swapchain"))
	}
	if sc.handle != 0 {
		sc.ctx.Device.DestroySwapchain(sc.handle)
	}
	sc.handle = handle
	sc.format = format
	sc.presentMode = presentMode
	sc.width, sc.height = width, height

	handles, err := sc.ctx.Device.SwapchainImages(handle)
	if err != nil {
		return core.Fatal(errors.Wrap(err, "getting swapchain images"))
	}
	for i, h := range handles {
		img := wrapImage(sc.ctx, h, ImageConfig{
			Name:      "swapchain",
			Width:     width,
			Height:    height,
			MipLevels: 1,
			Layers:    1,
			Format:    format.Format,
			Usage:     driver.ImageUsageColourAttachment,
		})
		view, err := img.CreateView()
		if err != nil {
			return errors.Wrapf(err, "swapchain image %d", i)
		}
		sc.images = append(sc.images, img)
		sc.views = append(sc.views, view)
	}

	sc.state = SwapchainReady
	sc.ctx.log.Info("swapchain created",
		"width", width, "height", height, "images", len(handles), "format", format.Format, "mode", presentMode)
	return nil
}

func (sc *Swapchain) destroyViews() {
	for _, v := range sc.views {
		v.Destroy()
	}
	sc.views = nil
	sc.images = nil
}

// Acquire returns the index of the next image and signals sem when the image
// is ready. Out of date surfaces return the recreate signal. A suboptimal
// surface still yields an image but is recreated after present.
func (sc *Swapchain) Acquire(sem *Semaphore) (uint32, error) {
	if sc.state != SwapchainReady {
		return 0, core.Booting(errors.Newf("swapchain is %s", sc.state))
	}
	index, err := sc.ctx.Device.AcquireNextImage(sc.handle, sc.ctx.FrameTimeout, sem.handle)
	switch {
	case err == nil:
		return index, nil
	case errors.Is(err, driver.ErrSuboptimal):
		sc.state = SwapchainPendingRecreate
		return index, nil
	case errors.IsAny(err, driver.ErrOutOfDate, driver.ErrSurfaceLost):
		sc.state = SwapchainPendingRecreate
		return 0, core.Booting(err)
	case errors.Is(err, driver.ErrTimeout):
		return 0, core.Fatal(errors.Wrapf(err, "acquire did not complete within %s", sc.ctx.FrameTimeout))
	default:
		return 0, core.Fatal(errors.Wrap(err, "acquiring swapchain image"))
	}
}

// Present queues image index once wait has signaled. A present that does not
// return within the present timeout is fatal.
func (sc *Swapchain) Present(wait []*Semaphore, index uint32) error {
	if sc.stalled != nil {
		return core.Fatalf("an earlier present is still blocked in the driver")
	}
	handles := make([]driver.Semaphore, len(wait))
	for i, s := range wait {
		handles[i] = s.handle
	}

	done := make(chan error, 1)
	go func() {
		done <- sc.ctx.Device.Present(sc.handle, index, handles)
	}()

	var err error
	select {
	case err = <-done:
	case <-time.After(sc.ctx.PresentTimeout):
		sc.stalled = done
		return core.Fatalf("present did not complete within %s", sc.ctx.PresentTimeout)
	}

	switch {
	case err == nil:
		if sc.state == SwapchainPendingRecreate {
			return core.Booting(errors.New("swapchain suboptimal"))
		}
		return nil
	case errors.IsAny(err, driver.ErrOutOfDate, driver.ErrSuboptimal, driver.ErrSurfaceLost):
		sc.state = SwapchainPendingRecreate
		return core.Booting(err)
	default:
		return core.Fatal(errors.Wrap(err, "presenting swapchain image"))
	}
}

// Recreate waits for the device to go idle and rebuilds the swapchain.
func (sc *Swapchain) Recreate(width, height uint32) error {
	if err := sc.ctx.WaitIdle(); err != nil {
		return err
	}
	sc.destroyViews()
	return sc.create(width, height)
}

func (sc *Swapchain) State() SwapchainState {
	return sc.state
}

func (sc *Swapchain) Format() driver.Format {
	return sc.format.Format
}

func (sc *Swapchain) PresentMode() driver.PresentMode {
	return sc.presentMode
}

func (sc *Swapchain) Extent() (uint32, uint32) {
	return sc.width, sc.height
}

func (sc *Swapchain) ImageCount() int {
	return len(sc.images)
}

func (sc *Swapchain) Images() []*Image {
	return sc.images
}

func (sc *Swapchain) Views() []*ImageView {
	return sc.views
}

// Destroy waits for a stalled present before freeing the swapchain. If the
// present never returns the swapchain handle is leaked.
func (sc *Swapchain) Destroy() {
	if sc.stalled != nil {
		select {
		case <-sc.stalled:
			sc.stalled = nil
		case <-time.After(sc.ctx.PresentTimeout):
			sc.ctx.log.Error("present still blocked at shutdown, leaking the swapchain")
			sc.handle = 0
		}
	}
	sc.destroyViews()
	if sc.handle != 0 {
		sc.ctx.Device.DestroySwapchain(sc.handle)
		sc.handle = 0
	}
	sc.state = SwapchainUninitialized
}
