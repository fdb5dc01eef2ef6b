package testbed

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/kiln/engine"
	"github.com/spaghettifunk/kiln/engine/assets/loaders"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/math"
	"github.com/spaghettifunk/kiln/engine/renderer/components"
	"github.com/spaghettifunk/kiln/engine/renderer/frame"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
	"github.com/spaghettifunk/kiln/engine/systems"
)

// Materials the scene looks up by name. Anything missing from the asset
// directory is drawn with a tinted default.
const (
	floorMaterialName = "floor"
	cubeMaterialName  = "crate"
)

type TestGame struct {
	*engine.Game
}

type sceneObject struct {
	mesh      *frame.Mesh
	transform *math.Transform
	spin      float32
	materials []*metadata.Material
}

type gameState struct {
	camera    *components.Camera
	objects   []*sceneObject
	meshes    []*frame.Mesh
	textures  []*frame.Texture
	materials map[string]*metadata.Material
	lights    []metadata.Light
	ambient   math.Vec4
	time      float32
}

func NewTestGame(appCfg *engine.ApplicationConfig) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: appCfg,
			State: &gameState{
				materials: make(map[string]*metadata.Material),
			},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) Initialize() error {
	core.LogDebug("TestGame Initialize fn....")

	if g.Renderer == nil || g.Assets == nil || g.Jobs == nil {
		return errors.New("the engine did not set up the renderer, the assets and the jobs")
	}
	state := g.State.(*gameState)

	state.camera = components.NewCamera()
	state.camera.Target = math.NewVec3(0, 1, 0)
	state.camera.Distance = 18
	state.camera.Orbit(math.DegToRad(35), math.DegToRad(25))

	g.loadMaterials(state)

	floor, err := g.createMesh(state, systems.GeneratePlane(40, 40, 4, 4, 8, 8, "floor"))
	if err != nil {
		return err
	}
	state.objects = append(state.objects, &sceneObject{
		mesh:      floor,
		transform: math.TransformCreate(),
		materials: []*metadata.Material{g.material(state, floorMaterialName, math.NewVec4(0.6, 0.6, 0.6, 1))},
	})

	cube, err := g.createMesh(state, systems.GenerateCube(1.5, 1.5, 1.5, 1, 1, "cube"))
	if err != nil {
		return err
	}
	cubeMaterial := g.material(state, cubeMaterialName, math.NewVec4(0.8, 0.45, 0.2, 1))
	for x := -1; x <= 1; x++ {
		for z := -1; z <= 1; z++ {
			t := math.TransformFromPosition(math.NewVec3(float32(x)*4, 0.75, float32(z)*4))
			t.Rotate(float32(x+z) * 0.3)
			state.objects = append(state.objects, &sceneObject{
				mesh:      cube,
				transform: t,
				spin:      0.25 * float32(x-z+1),
				materials: []*metadata.Material{cubeMaterial},
			})
		}
	}

	state.ambient = math.NewVec4(0.03, 0.03, 0.04, 1)
	state.lights = []metadata.Light{
		{
			Kind:             metadata.LightDirectional,
			Direction:        math.NewVec3(-0.4, -1, -0.3).Normalized(),
			Colour:           math.NewVec3(1, 0.95, 0.85),
			Intensity:        2.5,
			CastsShadow:      true,
			ShadowResolution: 2048,
		},
		{
			Kind:             metadata.LightPoint,
			Position:         math.NewVec3(5, 3, 0),
			Colour:           math.NewVec3(1, 0.3, 0.2),
			Intensity:        20,
			Range:            15,
			CastsShadow:      true,
			ShadowResolution: 512,
		},
		{
			Kind:             metadata.LightPoint,
			Position:         math.NewVec3(-5, 3, 0),
			Colour:           math.NewVec3(0.2, 0.4, 1),
			Intensity:        20,
			Range:            15,
			CastsShadow:      true,
			ShadowResolution: 512,
		},
		{
			Kind:             metadata.LightSpot,
			Position:         math.NewVec3(0, 8, 8),
			Direction:        math.NewVec3(0, -1, -1).Normalized(),
			Colour:           math.NewVec3(1, 1, 1),
			Intensity:        40,
			Range:            30,
			SpotCutoff:       math.Cos(math.DegToRad(25)),
			CastsShadow:      true,
			ShadowResolution: 1024,
		},
		{
			Kind:             metadata.LightSpot,
			Position:         math.NewVec3(8, 6, -8),
			Direction:        math.NewVec3(-1, -0.8, 1).Normalized(),
			Colour:           math.NewVec3(0.4, 1, 0.5),
			Intensity:        30,
			Range:            30,
			SpotCutoff:       math.Cos(math.DegToRad(20)),
			CastsShadow:      true,
			ShadowResolution: 1024,
		},
	}
	for i, l := range state.lights {
		if err := l.Validate(); err != nil {
			return errors.Wrapf(err, "light %d", i)
		}
	}
	return nil
}

func (g *TestGame) createMesh(state *gameState, geometry *systems.Geometry) (*frame.Mesh, error) {
	data, meta, err := geometry.Encode()
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s", geometry.Name)
	}
	mesh, err := g.Renderer.CreateMesh(data, meta)
	if err != nil {
		return nil, err
	}
	state.meshes = append(state.meshes, mesh)
	return mesh, nil
}

// textureRequest is one map a material references. Colour maps are sRGB,
// the others linear.
type textureRequest struct {
	path   string
	linear bool
}

// loadMaterials builds every material in the asset directory. Texture maps
// are decoded on the job system and uploaded here. A material that fails to
// load is skipped, one whose maps fail keeps the default texture for them.
func (g *TestGame) loadMaterials(state *gameState) {
	type pending struct {
		material *metadata.Material
		maps     [3]string
	}
	var materials []pending
	requests := make(map[string]textureRequest)

	for _, path := range g.Assets.Assets(loaders.ResourceTypeMaterial) {
		res, err := g.Assets.LoadAsset(path)
		if err != nil {
			core.LogWarn("skipping material %s: %s", path, err)
			continue
		}
		mCfg := res.Data.(*metadata.MaterialConfig)
		material, err := mCfg.Material()
		if err != nil {
			core.LogWarn("skipping material %s: %s", path, err)
			continue
		}
		p := pending{material: material, maps: [3]string{mCfg.AlbedoMap, mCfg.NormalMap, mCfg.MetallicRoughnessMap}}
		for i, name := range p.maps {
			if name != "" {
				requests[name] = textureRequest{path: g.Assets.Path(name), linear: i > 0}
			}
		}
		materials = append(materials, p)
	}

	indices := g.loadTextures(state, requests)
	for _, p := range materials {
		resolve := func(name string) int {
			if index, ok := indices[name]; ok {
				return index
			}
			return metadata.DefaultTexture
		}
		p.material.AlbedoTexture = resolve(p.maps[0])
		p.material.NormalTexture = resolve(p.maps[1])
		p.material.MetallicRoughnessTexture = resolve(p.maps[2])
		state.materials[p.material.Name] = p.material
		core.LogDebug("material %s loaded", p.material.Name)
	}
}

// loadTextures decodes the requested maps in parallel and returns their
// texture array indices by name.
func (g *TestGame) loadTextures(state *gameState, requests map[string]textureRequest) map[string]int {
	indices := make(map[string]int, len(requests))
	for name, req := range requests {
		loader := &loaders.TextureLoader{Linear: req.linear}
		path := req.path
		if err := g.Jobs.Submit(systems.Job{
			Name: name,
			Run: func() (interface{}, error) {
				res, err := loader.Load(path)
				if err != nil {
					return nil, err
				}
				return res.Data, nil
			},
		}); err != nil {
			core.LogWarn("texture %s: %s", name, err)
		}
	}
	g.Jobs.Wait()

	for _, result := range g.Jobs.Update() {
		if result.Err != nil {
			continue
		}
		texture, index, err := g.Renderer.CreateTexture(result.Value.(frame.TextureData))
		if err != nil {
			core.LogWarn("texture %s: %s", result.Name, err)
			continue
		}
		state.textures = append(state.textures, texture)
		indices[result.Name] = index
	}
	return indices
}

func (g *TestGame) material(state *gameState, name string, tint math.Vec4) *metadata.Material {
	if m, ok := state.materials[name]; ok {
		return m
	}
	m := metadata.DefaultMaterial()
	m.Name = name
	m.Albedo = tint
	m.Roughness = 0.7
	state.materials[name] = m
	return m
}

func (g *TestGame) Update(deltaTime float64) error {
	state := g.State.(*gameState)
	dt := float32(deltaTime)
	state.time += dt

	for _, o := range state.objects {
		if o.spin != 0 {
			o.transform.Rotate(o.spin * dt)
		}
	}
	state.camera.Orbit(0.1*dt, 0)

	// The two point lights circle the cubes in opposite directions.
	for i, sign := range []float32{1, -1} {
		angle := sign * state.time * 0.5
		state.lights[1+i].Position = math.NewVec3(5*math.Cos(angle)*sign, 3, 5*math.Sin(angle))
	}
	return nil
}

func (g *TestGame) Render(packet *frame.Packet, deltaTime float64) error {
	state := g.State.(*gameState)

	packet.Camera = state.camera.Frame()
	packet.Ambient = state.ambient
	packet.Lights = state.lights
	packet.Draws = make([]frame.DrawCall, 0, len(state.objects))
	for _, o := range state.objects {
		packet.Draws = append(packet.Draws, frame.DrawCall{
			Mesh:      o.mesh,
			Model:     o.transform.LocalMatrix(),
			Materials: o.materials,
		})
	}
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	state := g.State.(*gameState)
	if state.camera != nil {
		state.camera.SetAspect(width, height)
	}
	return nil
}

func (g *TestGame) Shutdown() error {
	state := g.State.(*gameState)
	if g.Renderer == nil {
		return nil
	}
	for _, m := range state.meshes {
		g.Renderer.ReleaseMesh(m)
	}
	for _, t := range state.textures {
		g.Renderer.ReleaseTexture(t)
	}
	state.meshes = nil
	state.textures = nil
	state.objects = nil
	return nil
}
