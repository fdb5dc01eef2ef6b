package frame

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/kiln/engine/renderer/driver"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// ShadowSlot is a square depth target one light renders its shadow map into.
type ShadowSlot struct {
	Resolution  uint32
	image       *gpu.Image
	view        *gpu.ImageView
	framebuffer *gpu.Framebuffer
}

func newShadowSlot(ctx *gpu.Context, pass *gpu.RenderPass, resolution uint32) (*ShadowSlot, error) {
	img, err := gpu.CreateAttachment(ctx, gpu.ImageConfig{
		Name:   "shadow",
		Width:  resolution,
		Height: resolution,
		Format: pass.Config().DepthFormat,
		Usage:  driver.ImageUsageDepthStencilAttachment | driver.ImageUsageSampled,
	})
	if err != nil {
		return nil, err
	}
	s := &ShadowSlot{Resolution: resolution, image: img}
	if s.view, err = img.CreateView(); err != nil {
		s.Destroy()
		return nil, err
	}
	if s.framebuffer, err = gpu.NewFramebuffer(ctx, pass, resolution, resolution, s.view); err != nil {
		s.Destroy()
		return nil, err
	}
	return s, nil
}

func (s *ShadowSlot) View() *gpu.ImageView {
	return s.view
}

func (s *ShadowSlot) Destroy() {
	if s.framebuffer != nil {
		s.framebuffer.Destroy()
		s.framebuffer = nil
	}
	if s.view != nil {
		s.view.Destroy()
		s.view = nil
	}
	if s.image != nil {
		s.image.Destroy()
		s.image = nil
	}
}

// ShadowSlots keeps up to limit shadow maps alive across frames and hands
// them out to the shadow casting lights of each frame.
type ShadowSlots struct {
	ctx   *gpu.Context
	pass  *gpu.RenderPass
	limit int
	slots [gpu.MaxShadowMaps]*ShadowSlot
	// lights[i] is the light drawn into slot i by the last Assign, or -1.
	lights [gpu.MaxShadowMaps]int
}

func NewShadowSlots(ctx *gpu.Context, pass *gpu.RenderPass, limit int) *ShadowSlots {
	s := &ShadowSlots{ctx: ctx, pass: pass, limit: min(max(limit, 1), gpu.MaxShadowMaps)}
	for i := range s.lights {
		s.lights[i] = -1
	}
	return s
}

// Assign maps the shadow casters among lights onto slots. The result holds
// the slot of every light, or -1 for lights without a shadow map. Slots that
// nothing was assigned to are removed and returned; the caller destroys them
// once the frames that used them have completed.
func (s *ShadowSlots) Assign(lights []metadata.Light) ([]int, []*ShadowSlot, error) {
	assigned := make([]int, len(lights))
	var casters []int
	for i, l := range lights {
		assigned[i] = -1
		if l.CastsShadow && l.ShadowResolution > 0 {
			casters = append(casters, i)
		}
	}
	slices.SortStableFunc(casters, func(a, b int) int {
		ra, rb := lights[a].ShadowResolution, lights[b].ShadowResolution
		switch {
		case ra > rb:
			return -1
		case ra < rb:
			return 1
		default:
			return 0
		}
	})

	var used [gpu.MaxShadowMaps]bool
	var waiting []int
	for _, c := range casters {
		want := lights[c].ShadowResolution
		best := -1
		for i := 0; i < s.limit; i++ {
			slot := s.slots[i]
			if slot == nil || used[i] || slot.Resolution < want {
				continue
			}
			if best < 0 || slot.Resolution < s.slots[best].Resolution {
				best = i
			}
		}
		if best < 0 {
			waiting = append(waiting, c)
			continue
		}
		used[best] = true
		assigned[c] = best
	}

	var retired []*ShadowSlot
	for _, c := range waiting {
		pos := -1
		for i := 0; i < s.limit && pos < 0; i++ {
			if s.slots[i] == nil {
				pos = i
			}
		}
		// every slot left unassigned is smaller than this caster asked for
		for i := 0; i < s.limit && pos < 0; i++ {
			if !used[i] {
				pos = i
			}
		}
		if pos < 0 {
			s.ctx.Exhausted("shadow casters", s.limit)
			continue
		}
		slot, err := newShadowSlot(s.ctx, s.pass, lights[c].ShadowResolution)
		if err != nil {
			return nil, retired, errors.Wrapf(err, "shadow slot for light %d", c)
		}
		if old := s.slots[pos]; old != nil {
			retired = append(retired, old)
		}
		s.slots[pos] = slot
		used[pos] = true
		assigned[c] = pos
	}

	for i := range s.slots {
		s.lights[i] = -1
		if s.slots[i] != nil && !used[i] {
			retired = append(retired, s.slots[i])
			s.slots[i] = nil
		}
	}
	for light, slot := range assigned {
		if slot >= 0 {
			s.lights[slot] = light
		}
	}
	return assigned, retired, nil
}

// Slot returns the slot at position i, which may be empty.
func (s *ShadowSlots) Slot(i int) *ShadowSlot {
	if i < 0 || i >= len(s.slots) {
		return nil
	}
	return s.slots[i]
}

// Light returns the light assigned to slot i by the last Assign, or -1.
func (s *ShadowSlots) Light(i int) int {
	if i < 0 || i >= len(s.lights) {
		return -1
	}
	return s.lights[i]
}

// Live counts the slots holding a shadow map.
func (s *ShadowSlots) Live() int {
	n := 0
	for _, slot := range s.slots {
		if slot != nil {
			n++
		}
	}
	return n
}

func (s *ShadowSlots) Destroy() {
	for i, slot := range s.slots {
		if slot != nil {
			slot.Destroy()
			s.slots[i] = nil
		}
		s.lights[i] = -1
	}
}
