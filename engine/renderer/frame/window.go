package frame

//go:generate mockgen -destination=mocks/window.go -package=mocks . Window

// Window is the surface the frames are presented to.
type Window interface {
	// FramebufferSize is the drawable size in pixels. Zero while minimized.
	FramebufferSize() (uint32, uint32)
	// SizeGeneration changes every time the framebuffer is resized.
	SizeGeneration() uint64
}
