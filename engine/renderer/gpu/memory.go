package gpu

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"

	"github.com/spaghettifunk/kiln/engine/containers"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

var ErrNoMemoryType = errors.New("no memory type satisfies the criteria")

type Criterion uint8

const (
	DontCare Criterion = iota
	Must
	Preferred
	PreferredNot
	MustNot
)

func (c Criterion) String() string {
	switch c {
	case DontCare:
		return "DontCare"
	case Must:
		return "Must"
	case Preferred:
		return "Preferred"
	case PreferredNot:
		return "PreferredNot"
	case MustNot:
		return "MustNot"
	default:
		return "Invalid"
	}
}

// score returns the contribution of one property, or false when the
// criterion disqualifies the memory type.
func (c Criterion) score(present bool) (int, bool) {
	switch c {
	case DontCare:
		return 0, true
	case Must:
		if !present {
			return 0, false
		}
		return 1, true
	case Preferred:
		if present {
			return 1, true
		}
		return -1, true
	case PreferredNot:
		if present {
			return -1, true
		}
		return 1, true
	case MustNot:
		if present {
			return 0, false
		}
		return 1, true
	default:
		return 0, false
	}
}

type MemoryCriteria struct {
	DeviceLocal  Criterion
	HostVisible  Criterion
	HostCoherent Criterion
	HostCached   Criterion
	// TypeBits restricts the candidate types. Zero allows every type.
	TypeBits  uint32
	Alignment uint64
	Size      uint64
	// Allow lists the otherwise rejected properties (lazily allocated,
	// protected, AMD device coherent or uncached) the caller accepts.
	Allow driver.MemoryPropertyFlags
}

const rejectedProperties = driver.MemoryLazilyAllocated | driver.MemoryProtected |
	driver.MemoryDeviceCoherentAMD | driver.MemoryDeviceUncachedAMD

type MemoryAllocator struct {
	ctx   *Context
	props driver.MemoryProperties
	live  *swiss.Map[driver.Memory, *MemoryAllocation]
}

func NewMemoryAllocator(ctx *Context) *MemoryAllocator {
	return &MemoryAllocator{
		ctx:   ctx,
		props: ctx.Device.MemoryProperties(),
		live:  swiss.NewMap[driver.Memory, *MemoryAllocation](64),
	}
}

// FindMemoryType returns the highest scoring memory type. Ties go to the
// lowest index.
func (a *MemoryAllocator) FindMemoryType(criteria MemoryCriteria) (uint32, error) {
	best := -1
	bestScore := math.MinInt

	for i, mt := range a.props.Types {
		if criteria.TypeBits != 0 && criteria.TypeBits&(1<<uint(i)) == 0 {
			continue
		}
		if criteria.Size > 0 && a.props.Heaps[mt.HeapIndex].Size < criteria.Size {
			continue
		}
		flags := mt.PropertyFlags
		if flags&rejectedProperties&^criteria.Allow != 0 {
			continue
		}

		total := 0
		qualified := true
		for _, p := range []struct {
			c    Criterion
			flag driver.MemoryPropertyFlags
		}{
			{criteria.DeviceLocal, driver.MemoryDeviceLocal},
			{criteria.HostVisible, driver.MemoryHostVisible},
			{criteria.HostCoherent, driver.MemoryHostCoherent},
			{criteria.HostCached, driver.MemoryHostCached},
		} {
			s, ok := p.c.score(flags.Has(p.flag))
			if !ok {
				qualified = false
				break
			}
			total += s
		}
		if !qualified {
			continue
		}
		if total > bestScore {
			best = i
			bestScore = total
		}
	}

	if best < 0 {
		err := errors.Mark(errors.Newf("criteria %+v", criteria), ErrNoMemoryType)
		return 0, core.Fatal(err)
	}
	return uint32(best), nil
}

// Allocate picks a memory type and allocates criteria.Size bytes from it.
// The caller holds the first reference.
func (a *MemoryAllocator) Allocate(criteria MemoryCriteria, dedicated bool) (*MemoryAllocation, error) {
	return a.allocate(criteria, driver.MemoryAllocateInfo{}, dedicated)
}

// AllocateForBuffer sizes the allocation from the buffer's requirements. A
// dedicated allocation is made when asked for or when the driver wants one.
func (a *MemoryAllocator) AllocateForBuffer(b *UnboundBuffer, criteria MemoryCriteria, dedicated bool) (*MemoryAllocation, error) {
	req := b.Requirements()
	criteria, err := withRequirements(criteria, req)
	if err != nil {
		return nil, err
	}
	info := driver.MemoryAllocateInfo{}
	if dedicated || req.RequiresDedicated || req.PrefersDedicated {
		info.DedicatedBuffer = b.handle
		dedicated = true
	}
	return a.allocate(criteria, info, dedicated)
}

func (a *MemoryAllocator) AllocateForImage(img *UnboundImage, criteria MemoryCriteria, dedicated bool) (*MemoryAllocation, error) {
	req := img.Requirements()
	criteria, err := withRequirements(criteria, req)
	if err != nil {
		return nil, err
	}
	info := driver.MemoryAllocateInfo{}
	if dedicated || req.RequiresDedicated || req.PrefersDedicated {
		info.DedicatedImage = img.handle
		dedicated = true
	}
	return a.allocate(criteria, info, dedicated)
}

// withRequirements narrows the criteria to what the resource accepts. Zero
// TypeBits reads as any type, so an empty intersection fails here.
func withRequirements(criteria MemoryCriteria, req driver.MemoryRequirements) (MemoryCriteria, error) {
	bits := req.TypeBits
	if criteria.TypeBits != 0 {
		bits &= criteria.TypeBits
	}
	if bits == 0 {
		err := errors.Mark(errors.Newf("type bits %#b allowed by the caller, %#b by the resource", criteria.TypeBits, req.TypeBits), ErrNoMemoryType)
		return criteria, core.Fatal(err)
	}
	criteria.TypeBits = bits
	criteria.Size = max(criteria.Size, req.Size)
	criteria.Alignment = max(criteria.Alignment, req.Alignment)
	return criteria, nil
}

func (a *MemoryAllocator) allocate(criteria MemoryCriteria, info driver.MemoryAllocateInfo, dedicated bool) (*MemoryAllocation, error) {
	if criteria.Size == 0 {
		return nil, core.Preconditionf("allocation of zero bytes")
	}
	typeIndex, err := a.FindMemoryType(criteria)
	if err != nil {
		return nil, err
	}
	info.Size = criteria.Size
	info.TypeIndex = typeIndex

	handle, err := a.ctx.Device.AllocateMemory(info)
	if err != nil {
		return nil, core.Fatal(errors.Wrapf(err, "allocating %d bytes from memory type %d", info.Size, typeIndex))
	}

	mt := a.props.Types[typeIndex]
	alloc := &MemoryAllocation{
		allocator:    a,
		handle:       handle,
		size:         info.Size,
		typeIndex:    typeIndex,
		heapIndex:    mt.HeapIndex,
		DeviceLocal:  mt.PropertyFlags.Has(driver.MemoryDeviceLocal),
		HostVisible:  mt.PropertyFlags.Has(driver.MemoryHostVisible),
		HostCoherent: mt.PropertyFlags.Has(driver.MemoryHostCoherent),
		Dedicated:    dedicated,
	}
	alloc.refs.Init()
	a.live.Put(handle, alloc)
	return alloc, nil
}

func (a *MemoryAllocator) LiveCount() int {
	return a.live.Count()
}

// MemoryAllocation is one device memory object. It is shared by the resources
// bound to it and freed when the last reference is released.
type MemoryAllocation struct {
	allocator *MemoryAllocator
	handle    driver.Memory
	size      uint64
	typeIndex uint32
	heapIndex uint32
	mapped    []byte
	refs      containers.RefCount

	DeviceLocal  bool
	HostVisible  bool
	HostCoherent bool
	Dedicated    bool
}

func (m *MemoryAllocation) Handle() driver.Memory {
	return m.handle
}

func (m *MemoryAllocation) Size() uint64 {
	return m.size
}

func (m *MemoryAllocation) TypeIndex() uint32 {
	return m.typeIndex
}

func (m *MemoryAllocation) compatible(req driver.MemoryRequirements) bool {
	return req.TypeBits&(1<<m.typeIndex) != 0
}

// Map returns the persistent mapping of the whole allocation, creating it on
// first use.
func (m *MemoryAllocation) Map() ([]byte, error) {
	if m.mapped != nil {
		return m.mapped, nil
	}
	if !m.HostVisible {
		return nil, core.Preconditionf("mapping memory type %d, which is not host visible", m.typeIndex)
	}
	data, err := m.allocator.ctx.Device.MapMemory(m.handle)
	if err != nil {
		return nil, core.Fatal(errors.Wrap(err, "mapping memory"))
	}
	m.mapped = data
	return data, nil
}

// WholeSize flushes or invalidates from the offset to the end of the
// allocation.
const WholeSize = ^uint64(0)

// alignRange widens [offset, offset+size) to whole non-coherent atoms within
// the allocation.
func (m *MemoryAllocation) alignRange(offset, size uint64) (uint64, uint64) {
	atom := m.allocator.ctx.Limits.NonCoherentAtomSize
	if atom == 0 {
		atom = 1
	}
	end := m.size
	if size < m.size-offset {
		end = offset + size
	}
	start := offset / atom * atom
	end = min((end+atom-1)/atom*atom, m.size)
	return start, end - start
}

// Flush makes host writes visible to the device. Coherent memory needs no
// flush.
func (m *MemoryAllocation) Flush(offset, size uint64) error {
	if m.HostCoherent {
		return nil
	}
	if offset > m.size {
		return core.Preconditionf("flush offset %d past allocation size %d", offset, m.size)
	}
	start, length := m.alignRange(offset, size)
	if err := m.allocator.ctx.Device.FlushMemory(m.handle, start, length); err != nil {
		return core.Fatal(errors.Wrap(err, "flushing memory"))
	}
	return nil
}

// Invalidate makes device writes visible to the host.
func (m *MemoryAllocation) Invalidate(offset, size uint64) error {
	if m.HostCoherent {
		return nil
	}
	if offset > m.size {
		return core.Preconditionf("invalidate offset %d past allocation size %d", offset, m.size)
	}
	start, length := m.alignRange(offset, size)
	if err := m.allocator.ctx.Device.InvalidateMemory(m.handle, start, length); err != nil {
		return core.Fatal(errors.Wrap(err, "invalidating memory"))
	}
	return nil
}

func (m *MemoryAllocation) Retain() {
	m.refs.Retain()
}

// Release drops one reference and frees the memory with the last one.
func (m *MemoryAllocation) Release() {
	if !m.refs.Release() {
		return
	}
	dev := m.allocator.ctx.Device
	if m.mapped != nil {
		dev.UnmapMemory(m.handle)
		m.mapped = nil
	}
	dev.FreeMemory(m.handle)
	m.allocator.live.Delete(m.handle)
	m.handle = 0
}

func (m *MemoryAllocation) References() int32 {
	return m.refs.Count()
}
