package engine

import (
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/kiln/engine/assets"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/platform"
	"github.com/spaghettifunk/kiln/engine/renderer"
	"github.com/spaghettifunk/kiln/engine/renderer/frame"
	"github.com/spaghettifunk/kiln/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// How often the frame statistics are logged, in seconds.
const statsInterval = 5.0

const jobQueueSize = 64

type Engine struct {
	currentStage Stage
	gameInstance *Game
	isRunning    atomic.Bool
	isSuspended  bool
	platform     *platform.Platform
	assetManager *assets.AssetManager
	jobSystem    *systems.JobSystem
	renderer     *renderer.Renderer
	width        uint32
	height       uint32
	clock        *core.Clock
	lastTime     float64
}

func New(g *Game) (*Engine, error) {
	if err := core.SetLogLevel(g.ApplicationConfig.LogLevel); err != nil {
		core.LogWarn("unknown log level %q, keeping the default", g.ApplicationConfig.LogLevel)
	}

	p, err := platform.New()
	if err != nil {
		return nil, err
	}

	am, err := assets.NewAssetManager(g.ApplicationConfig.Assets)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	js, err := systems.NewJobSystem(runtime.NumCPU(), jobQueueSize)
	if err != nil {
		return nil, err
	}

	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		clock:        core.NewClock(),
		platform:     p,
		assetManager: am,
		jobSystem:    js,
		isSuspended:  false,
		width:        g.ApplicationConfig.StartWidth,
		height:       g.ApplicationConfig.StartHeight,
		lastTime:     0,
	}, nil
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing
	cfg := e.gameInstance.ApplicationConfig

	// initialize events
	if !core.EventSystemInitialize() {
		return errors.New("failed to initialize the event system")
	}
	if err := core.MetricsInitialize(); err != nil {
		return err
	}

	// register some events
	core.EventRegister(core.EVENT_CODE_APPLICATION_QUIT, e.onEvent)
	core.EventRegister(core.EVENT_CODE_RESIZED, e.onResized)
	core.EventRegister(core.EVENT_CODE_ASSET_CHANGED, e.onAssetChanged)

	if err := e.platform.Startup(cfg.Name, cfg.StartPosX, cfg.StartPosY, cfg.StartWidth, cfg.StartHeight); err != nil {
		return err
	}

	// initialize subsystems
	if err := e.assetManager.Initialize(); err != nil {
		return err
	}

	shaders := make(map[string]frame.ShaderSource)
	for _, role := range frame.RequiredShaders(cfg.Renderer) {
		path := e.assetManager.Path("shaders", role+".spv")
		code, err := e.assetManager.LoadShader(path)
		if err != nil {
			core.LogError("failed to load the %s shader: %s", role, err)
			return core.Fatal(err)
		}
		shaders[role] = frame.ShaderSource{Path: path, Code: code}
	}

	r, err := renderer.New(cfg.Name, e.platform, cfg.Renderer, shaders)
	if err != nil {
		return err
	}
	e.renderer = r
	e.gameInstance.Renderer = r
	e.gameInstance.Assets = e.assetManager
	e.gameInstance.Jobs = e.jobSystem

	if err := e.gameInstance.FnInitialize(); err != nil {
		return err
	}

	e.width, e.height = e.platform.FramebufferSize()
	if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
		return err
	}
	e.currentStage = EngineStageInitialized
	return nil
}

// Run drives the frame loop until the window closes or Quit is called.
// A fatal renderer error stops the loop and is returned.
func (e *Engine) Run() error {
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	e.clock.Start()
	e.clock.Update()

	e.lastTime = e.clock.Elapsed()

	var runningTime float64 = 0.0
	var targetFrameSeconds float64 = 0
	if fps := e.gameInstance.ApplicationConfig.TargetFPS; fps > 0 {
		targetFrameSeconds = 1.0 / fps
	}

	for e.isRunning.Load() {
		if !e.platform.PumpMessages() {
			e.isRunning.Store(false)
			break
		}

		// Reload changed assets on this thread, between frames.
		e.assetManager.Drain()

		if e.platform.Minimized() {
			if !e.isSuspended {
				core.LogInfo("Window minimized, suspending application.")
				e.isSuspended = true
			}
			platform.Sleep(50 * time.Millisecond)
			continue
		}
		if e.isSuspended {
			core.LogInfo("Window restored, resuming application.")
			e.isSuspended = false
			// Do not feed the time spent minimized to the game.
			e.clock.Update()
			e.lastTime = e.clock.Elapsed()
		}

		// Update clock and get delta time.
		e.clock.Update()

		var currentTime float64 = e.clock.Elapsed()
		var delta float64 = (currentTime - e.lastTime)
		var frameStartTime float64 = platform.GetAbsoluteTime()

		if err := e.gameInstance.FnUpdate(delta); err != nil {
			core.LogError("Game update failed, shutting down: %s", err)
			e.isRunning.Store(false)
			return err
		}

		// Call the game's render routine.
		packet := &frame.Packet{}
		if err := e.gameInstance.FnRender(packet, delta); err != nil {
			core.LogError("Game render failed, shutting down: %s", err)
			e.isRunning.Store(false)
			return err
		}

		// Draw frame
		if err := e.renderer.DrawFrame(packet); err != nil {
			core.LogError("DrawFrame failed, shutting down: %s", err)
			e.isRunning.Store(false)
			return err
		}

		// Figure out how long the frame took and, if below
		var frameEndTime float64 = platform.GetAbsoluteTime()
		var frameElapsedTime float64 = frameEndTime - frameStartTime
		var remainingSeconds float64 = targetFrameSeconds - frameElapsedTime

		if targetFrameSeconds > 0 && remainingSeconds > 0 {
			// If there is time left, give it back to the OS.
			remaining := time.Duration(remainingSeconds * float64(time.Second))
			if remaining > time.Millisecond {
				platform.Sleep(remaining - time.Millisecond)
			}
		}
		core.MetricsUpdate(platform.GetAbsoluteTime() - frameStartTime)

		runningTime += delta
		if runningTime >= statsInterval {
			runningTime = 0
			t := e.renderer.Timings()
			core.LogDebug("fps %.1f, frame %.2fms, gpu %.1fus (frame %d)", core.MetricsFPS(), core.MetricsFrameTime(), t.Total(), t.Frame)
		}

		// Update last time
		e.lastTime = currentTime
	}

	return nil
}

// Quit stops Run after the current frame. It is safe to call from any
// goroutine.
func (e *Engine) Quit() {
	e.isRunning.Store(false)
}

// Shutdown releases everything in reverse creation order. It must run on
// the thread that ran Run.
func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown
	var errs error
	if e.gameInstance.FnShutdown != nil {
		errs = errors.CombineErrors(errs, e.gameInstance.FnShutdown())
	}
	if err := e.jobSystem.Shutdown(); err != nil && !errors.Is(err, systems.ErrJobSystemClosed) {
		errs = errors.CombineErrors(errs, err)
	}
	if e.renderer != nil {
		e.renderer.Shutdown()
		e.renderer = nil
	}
	if err := e.assetManager.Shutdown(); err != nil && !errors.Is(err, assets.ErrClosed) {
		errs = errors.CombineErrors(errs, err)
	}
	errs = errors.CombineErrors(errs, e.platform.Shutdown())
	errs = errors.CombineErrors(errs, core.EventSystemShutdown())
	return errs
}

// ApplicationGetFramebufferSize returns the width and height (in this order)
// of the application Framebuffer
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) onEvent(context core.EventContext) bool {
	switch context.Type {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning.Store(false)
		return true
	}
	return false
}

func (e *Engine) onResized(context core.EventContext) bool {
	width := context.Width
	height := context.Height

	// Check if different. If so, trigger a resize event.
	if width == e.width && height == e.height {
		return false
	}
	e.width = width
	e.height = height
	core.LogDebug("Window resize: %d, %d", width, height)

	// Handle minimization
	if width == 0 || height == 0 {
		return false
	}
	if err := e.gameInstance.FnOnResize(width, height); err != nil {
		core.LogError(err.Error())
	}
	e.renderer.OnResize(width, height)
	return false
}

// onAssetChanged reloads changed shaders. A file that fails to load keeps
// the previous code running.
func (e *Engine) onAssetChanged(context core.EventContext) bool {
	if filepath.Ext(context.Path) != ".spv" || e.renderer == nil {
		return false
	}
	code, err := e.assetManager.LoadShader(context.Path)
	if err != nil {
		core.LogWarn("shader %s not reloaded: %s", context.Path, err)
		return true
	}
	if err := e.renderer.ReloadShader(context.Path, code); err != nil {
		core.LogError("shader %s failed to rebuild: %s", context.Path, err)
	}
	return true
}
