// Package assets indexes the asset directory, loads shaders, textures and
// materials from it, and watches it for changes when hot reload is on.
package assets

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/kiln/engine/assets/loaders"
	"github.com/spaghettifunk/kiln/engine/config"
	"github.com/spaghettifunk/kiln/engine/core"
)

var ErrClosed = errors.New("asset manager already closed")

type AssetInfo struct {
	Path       string
	Type       loaders.ResourceType
	LastLoaded time.Time
	Modified   time.Time
}

// AssetManager is used from the main thread except for the watcher
// goroutine, which only records which files changed. Drain hands those
// changes to the main thread.
type AssetManager struct {
	dir       string
	hotReload bool
	log       *log.Logger

	assets  map[string]AssetInfo
	loaders map[loaders.ResourceType]Loader
	changed map[string]struct{}

	mutex sync.RWMutex

	done     chan struct{}
	stopped  chan struct{}
	fsnotify *fsnotify.Watcher
	watching bool
	isClosed bool
}

func NewAssetManager(cfg config.Assets) (*AssetManager, error) {
	am := &AssetManager{
		dir:       filepath.Clean(cfg.Dir),
		hotReload: cfg.HotReload,
		log:       core.Logger("assets"),
		assets:    make(map[string]AssetInfo),
		loaders:   make(map[loaders.ResourceType]Loader),
		changed:   make(map[string]struct{}),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	if am.hotReload {
		fsWatch, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, errors.Wrap(err, "creating the file watcher")
		}
		am.fsnotify = fsWatch
	}
	return am, nil
}

func (am *AssetManager) Initialize() error {
	// Register loaders
	am.registerLoader(loaders.ResourceTypeShader, &loaders.ShaderLoader{})
	am.registerLoader(loaders.ResourceTypeImage, &loaders.TextureLoader{})
	am.registerLoader(loaders.ResourceTypeMaterial, &loaders.MaterialLoader{})

	if err := am.watchRecursive(am.dir, false); err != nil {
		return errors.Wrapf(err, "indexing %s", am.dir)
	}
	if am.hotReload {
		am.watching = true
		go am.start()
	}
	am.log.Info("Assets indexed", "dir", am.dir, "count", len(am.assets), "hot_reload", am.hotReload)
	return nil
}

// Shutdown stops the watcher and waits for its goroutine.
func (am *AssetManager) Shutdown() error {
	if am.isClosed {
		return ErrClosed
	}
	am.isClosed = true
	if !am.watching {
		if am.fsnotify != nil {
			return am.fsnotify.Close()
		}
		return nil
	}
	close(am.done)
	<-am.stopped
	return nil
}

// Register loaders for each asset type
func (am *AssetManager) registerLoader(assetType loaders.ResourceType, loader Loader) {
	am.loaders[assetType] = loader
}

// Path joins name to the asset directory.
func (am *AssetManager) Path(elem ...string) string {
	return filepath.Join(append([]string{am.dir}, elem...)...)
}

// LoadAsset loads the indexed file at path with the loader of its type.
func (am *AssetManager) LoadAsset(path string) (*loaders.Resource, error) {
	path = filepath.Clean(path)

	am.mutex.Lock()
	asset, exists := am.assets[path]
	if exists {
		asset.LastLoaded = time.Now()
		am.assets[path] = asset // Update the loaded time
	}
	am.mutex.Unlock()
	if !exists {
		return nil, errors.Newf("asset not found: %s", path)
	}

	loader, loaderExists := am.loaders[asset.Type]
	if !loaderExists {
		return nil, errors.Newf("no loader registered for asset type: %s", asset.Type)
	}
	return loader.Load(path)
}

// LoadShader loads the SPIR-V words of a compiled stage.
func (am *AssetManager) LoadShader(path string) ([]uint32, error) {
	res, err := am.LoadAsset(path)
	if err != nil {
		return nil, err
	}
	code, ok := res.Data.([]uint32)
	if !ok {
		return nil, errors.Newf("%s is a %s, not a shader", path, res.Type)
	}
	return code, nil
}

func (am *AssetManager) UnloadAsset(asset *loaders.Resource) error {
	loader, ok := am.loaders[asset.Type]
	if !ok {
		return nil
	}
	return loader.Unload(asset)
}

// Assets lists the indexed paths of one type, sorted.
func (am *AssetManager) Assets(t loaders.ResourceType) []string {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	var paths []string
	for path, info := range am.assets {
		if info.Type == t {
			paths = append(paths, path)
		}
	}
	slices.Sort(paths)
	return paths
}

// Drain fires EVENT_CODE_ASSET_CHANGED for every file changed since the last
// call, in path order. It must run on the thread that owns the renderer.
func (am *AssetManager) Drain() int {
	am.mutex.Lock()
	if len(am.changed) == 0 {
		am.mutex.Unlock()
		return 0
	}
	paths := make([]string, 0, len(am.changed))
	for path := range am.changed {
		paths = append(paths, path)
	}
	am.changed = make(map[string]struct{})
	am.mutex.Unlock()

	slices.Sort(paths)
	for _, path := range paths {
		am.log.Debug("asset changed", "path", path)
		core.EventFire(core.EventContext{Type: core.EVENT_CODE_ASSET_CHANGED, Path: path})
	}
	return len(paths)
}

func (am *AssetManager) start() {
	defer close(am.stopped)
	for {
		select {

		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			s, err := os.Stat(e.Name)
			if err == nil && s != nil && s.IsDir() {
				if e.Op&fsnotify.Create != 0 {
					if err := am.watchRecursive(e.Name, false); err != nil {
						am.log.Warn("watching new directory", "path", e.Name, "err", err)
					}
				}
				continue
			}
			// Handle create or modify events
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				if am.handleFileEvent(e.Name) {
					am.markChanged(e.Name)
				}
			}
			//Can't stat a deleted directory, so just pretend that it's always a directory and
			//try to remove from the watch list...  we really have no clue if it's a directory or not...
			if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				am.removeAsset(e.Name)
				_ = am.fsnotify.Remove(e.Name)
			}

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			am.log.Error("file watcher", "err", err)

		case <-am.done:
			if err := am.fsnotify.Close(); err != nil {
				am.log.Warn("closing the file watcher", "err", err)
			}
			return
		}
	}
}

// watchRecursive indexes every file under path and, with hot reload on,
// adds all directories under it to the watch list.
func (am *AssetManager) watchRecursive(path string, unWatch bool) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if am.fsnotify == nil {
				return nil
			}
			if unWatch {
				return am.fsnotify.Remove(walkPath)
			}
			return am.fsnotify.Add(walkPath)
		}
		am.handleFileEvent(walkPath)
		return nil
	})
}

// Handle the creation or modification of a file. Returns false for files
// nothing can load.
func (am *AssetManager) handleFileEvent(path string) bool {
	assetType := determineAssetType(path)
	if assetType == loaders.ResourceTypeNone {
		return false
	}

	am.mutex.Lock()
	defer am.mutex.Unlock()
	info := am.assets[path]
	info.Path = path
	info.Type = assetType
	info.Modified = time.Now()
	am.assets[path] = info
	return true
}

func (am *AssetManager) markChanged(path string) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.changed[path] = struct{}{}
}

// Remove the asset from the index if it was deleted
func (am *AssetManager) removeAsset(path string) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	delete(am.assets, path)
	delete(am.changed, path)
}

func determineAssetType(path string) loaders.ResourceType {
	switch filepath.Ext(path) {
	case ".spv":
		return loaders.ResourceTypeShader
	case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".webp":
		return loaders.ResourceTypeImage
	case ".kmt":
		return loaders.ResourceTypeMaterial
	default:
		return loaders.ResourceTypeNone
	}
}
