package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

const (
	MaxShadowMaps       = 4
	MaxMaterialTextures = 90
)

// Scene set bindings.
const (
	BindingSceneUniforms uint32 = iota
	BindingDrawStorage
	BindingAmbientOcclusion
	BindingShadowMaps
	BindingMaterialTextures
)

// Fullscreen pass bindings.
const (
	BindingSource uint32 = iota
	BindingSecondary
	BindingParameters
)

// SceneBindings is the layout of set 0 for scene geometry passes.
func SceneBindings() []driver.DescriptorBinding {
	return []driver.DescriptorBinding{
		{Binding: BindingSceneUniforms, Type: driver.DescriptorUniformBuffer, Count: 1, Stages: driver.ShaderStageVertex | driver.ShaderStageFragment},
		{Binding: BindingDrawStorage, Type: driver.DescriptorStorageBuffer, Count: 1, Stages: driver.ShaderStageVertex | driver.ShaderStageFragment},
		{Binding: BindingAmbientOcclusion, Type: driver.DescriptorCombinedImageSampler, Count: 1, Stages: driver.ShaderStageFragment},
		{Binding: BindingShadowMaps, Type: driver.DescriptorCombinedImageSampler, Count: MaxShadowMaps, Stages: driver.ShaderStageFragment},
		{Binding: BindingMaterialTextures, Type: driver.DescriptorCombinedImageSampler, Count: MaxMaterialTextures, Stages: driver.ShaderStageFragment, PartiallyBound: true},
	}
}

// FullscreenBindings is the layout used by the SSAO, blur, bloom and post
// passes.
func FullscreenBindings() []driver.DescriptorBinding {
	return []driver.DescriptorBinding{
		{Binding: BindingSource, Type: driver.DescriptorCombinedImageSampler, Count: 1, Stages: driver.ShaderStageFragment},
		{Binding: BindingSecondary, Type: driver.DescriptorCombinedImageSampler, Count: 1, Stages: driver.ShaderStageFragment},
		{Binding: BindingParameters, Type: driver.DescriptorUniformBuffer, Count: 1, Stages: driver.ShaderStageFragment},
	}
}

// ResourceRef is what a descriptor slot points at. Either the buffer fields
// or the image fields are set.
type ResourceRef struct {
	Buffer  driver.Buffer
	Offset  uint64
	Range   uint64
	View    driver.ImageView
	Sampler driver.Sampler
	Layout  driver.ImageLayout
}

type DescriptorLayout struct {
	ctx      *Context
	handle   driver.DescriptorSetLayout
	bindings []driver.DescriptorBinding
}

func NewDescriptorLayout(ctx *Context, bindings []driver.DescriptorBinding) (*DescriptorLayout, error) {
	for i, b := range bindings {
		if b.Binding != uint32(i) {
			return nil, core.Preconditionf("descriptor binding %d declared at position %d", b.Binding, i)
		}
	}
	handle, err := ctx.Device.CreateDescriptorSetLayout(bindings)
	if err != nil {
		return nil, core.Fatal(errors.Wrap(err, "creating descriptor set layout"))
	}
	return &DescriptorLayout{ctx: ctx, handle: handle, bindings: bindings}, nil
}

func (l *DescriptorLayout) Handle() driver.DescriptorSetLayout {
	return l.handle
}

func (l *DescriptorLayout) Bindings() []driver.DescriptorBinding {
	return l.bindings
}

func (l *DescriptorLayout) Destroy() {
	if l.handle != 0 {
		l.ctx.Device.DestroyDescriptorSetLayout(l.handle)
		l.handle = 0
	}
}

// DescriptorPool owns a fixed number of sets of one layout and remembers what
// every slot points at, so rewriting the same resource costs nothing.
type DescriptorPool struct {
	ctx    *Context
	layout *DescriptorLayout
	handle driver.DescriptorPool
	sets   []driver.DescriptorSet
	// cache[set][binding][element]
	cache [][][]ResourceRef
}

func NewDescriptorPool(ctx *Context, layout *DescriptorLayout, sets int) (*DescriptorPool, error) {
	if sets <= 0 {
		return nil, core.Preconditionf("descriptor pool with %d sets", sets)
	}
	counts := map[driver.DescriptorType]uint32{}
	for _, b := range layout.bindings {
		counts[b.Type] += b.Count * uint32(sets)
	}
	var sizes []driver.DescriptorPoolSize
	for _, t := range []driver.DescriptorType{driver.DescriptorUniformBuffer, driver.DescriptorStorageBuffer, driver.DescriptorCombinedImageSampler} {
		if counts[t] > 0 {
			sizes = append(sizes, driver.DescriptorPoolSize{Type: t, Count: counts[t]})
		}
	}

	handle, err := ctx.Device.CreateDescriptorPool(uint32(sets), sizes)
	if err != nil {
		return nil, core.Fatal(errors.Wrap(err, "creating descriptor pool"))
	}
	p := &DescriptorPool{ctx: ctx, layout: layout, handle: handle}
	for i := 0; i < sets; i++ {
		set, err := ctx.Device.AllocateDescriptorSet(handle, layout.handle)
		if err != nil {
			ctx.Device.DestroyDescriptorPool(handle)
			return nil, core.Fatal(errors.Wrapf(err, "allocating descriptor set %d", i))
		}
		p.sets = append(p.sets, set)
		bindings := make([][]ResourceRef, len(layout.bindings))
		for j, b := range layout.bindings {
			bindings[j] = make([]ResourceRef, b.Count)
		}
		p.cache = append(p.cache, bindings)
	}
	return p, nil
}

func (p *DescriptorPool) Set(i int) driver.DescriptorSet {
	return p.sets[i]
}

func (p *DescriptorPool) Len() int {
	return len(p.sets)
}

// Cached returns what a slot was last written with.
func (p *DescriptorPool) Cached(set int, binding, element uint32) ResourceRef {
	return p.cache[set][binding][element]
}

func (p *DescriptorPool) slot(set int, binding, element uint32, image bool) (*ResourceRef, driver.DescriptorType, error) {
	if set < 0 || set >= len(p.sets) {
		return nil, 0, core.Preconditionf("descriptor set %d out of %d", set, len(p.sets))
	}
	if int(binding) >= len(p.layout.bindings) {
		return nil, 0, core.Preconditionf("descriptor binding %d out of %d", binding, len(p.layout.bindings))
	}
	b := p.layout.bindings[binding]
	if element >= b.Count {
		return nil, 0, core.Preconditionf("element %d of binding %d with %d elements", element, binding, b.Count)
	}
	if isImage := b.Type == driver.DescriptorCombinedImageSampler; isImage != image {
		return nil, 0, core.Preconditionf("binding %d holds a different resource kind", binding)
	}
	return &p.cache[set][binding][element], b.Type, nil
}

// UpdateBuffer points a buffer slot at a range of buf. Nothing is written when
// the slot already holds that range.
func (p *DescriptorPool) UpdateBuffer(set int, binding, element uint32, buf *Buffer, offset, size uint64) error {
	slot, kind, err := p.slot(set, binding, element, false)
	if err != nil {
		return err
	}
	if size == 0 {
		size = buf.size - offset
	}
	ref := ResourceRef{Buffer: buf.handle, Offset: offset, Range: size}
	if *slot == ref {
		return nil
	}
	p.ctx.Device.UpdateDescriptorSets([]driver.DescriptorWrite{{
		Set:          p.sets[set],
		Binding:      binding,
		ArrayElement: element,
		Type:         kind,
		Buffer:       ref.Buffer,
		Offset:       ref.Offset,
		Range:        ref.Range,
	}})
	*slot = ref
	return nil
}

func (p *DescriptorPool) UpdateImage(set int, binding, element uint32, view *ImageView, sampler *Sampler, layout driver.ImageLayout) error {
	slot, kind, err := p.slot(set, binding, element, true)
	if err != nil {
		return err
	}
	ref := ResourceRef{View: view.handle, Sampler: sampler.handle, Layout: layout}
	if *slot == ref {
		return nil
	}
	p.ctx.Device.UpdateDescriptorSets([]driver.DescriptorWrite{{
		Set:          p.sets[set],
		Binding:      binding,
		ArrayElement: element,
		Type:         kind,
		View:         ref.View,
		Sampler:      ref.Sampler,
		Layout:       ref.Layout,
	}})
	*slot = ref
	return nil
}

func (p *DescriptorPool) Destroy() {
	if p.handle != 0 {
		p.ctx.Device.DestroyDescriptorPool(p.handle)
		p.handle = 0
	}
	p.sets = nil
	p.cache = nil
}

type textureKey struct {
	view    driver.ImageView
	sampler driver.Sampler
}

type textureEntry struct {
	view    *ImageView
	sampler *Sampler
	refs    int
}

// TextureTable hands out indices into the material texture array. The same
// view and sampler pair always shares one index. Index 0 is the default
// texture, which is also returned once the table is full.
type TextureTable struct {
	ctx      *Context
	capacity int
	entries  []textureEntry
	index    *swiss.Map[textureKey, int]
	free     []int
}

func NewTextureTable(ctx *Context, capacity int, defaultView *ImageView, defaultSampler *Sampler) *TextureTable {
	capacity = max(min(capacity, MaxMaterialTextures), 1)
	t := &TextureTable{
		ctx:      ctx,
		capacity: capacity,
		index:    swiss.NewMap[textureKey, int](uint32(capacity)),
	}
	t.entries = append(t.entries, textureEntry{view: defaultView, sampler: defaultSampler, refs: 1})
	t.index.Put(textureKey{defaultView.handle, defaultSampler.handle}, 0)
	return t
}

func (t *TextureTable) Acquire(view *ImageView, sampler *Sampler) int {
	key := textureKey{view.handle, sampler.handle}
	if i, ok := t.index.Get(key); ok {
		t.entries[i].refs++
		return i
	}
	var i int
	switch {
	case len(t.free) > 0:
		i = t.free[len(t.free)-1]
		t.free = t.free[:len(t.free)-1]
		t.entries[i] = textureEntry{view: view, sampler: sampler}
	case len(t.entries) < t.capacity:
		i = len(t.entries)
		t.entries = append(t.entries, textureEntry{view: view, sampler: sampler})
	default:
		t.ctx.Exhausted("material textures", t.capacity)
		return 0
	}
	t.entries[i].refs = 1
	t.index.Put(key, i)
	return i
}

func (t *TextureTable) Release(i int) {
	if i <= 0 || i >= len(t.entries) || t.entries[i].refs == 0 {
		return
	}
	e := &t.entries[i]
	e.refs--
	if e.refs > 0 {
		return
	}
	t.index.Delete(textureKey{e.view.handle, e.sampler.handle})
	e.view, e.sampler = nil, nil
	t.free = append(t.free, i)
}

func (t *TextureTable) Len() int {
	return t.index.Count()
}

// Apply writes the table into a set. Released slots point at the default
// texture.
func (t *TextureTable) Apply(pool *DescriptorPool, set int) error {
	def := t.entries[0]
	for i, e := range t.entries {
		view, sampler := e.view, e.sampler
		if e.refs == 0 {
			view, sampler = def.view, def.sampler
		}
		if err := pool.UpdateImage(set, BindingMaterialTextures, uint32(i), view, sampler, driver.ImageLayoutShaderReadOnly); err != nil {
			return err
		}
	}
	return nil
}
