package containers

import "github.com/cockroachdb/errors"

var ErrPoolFull = errors.New("pool is full")

// Handle addresses a slot in a Pool. The low 32 bits hold the slot index and
// the high 32 bits its generation. The zero Handle never refers to a live slot.
type Handle uint64

func makeHandle(index, generation uint32) Handle {
	return Handle(uint64(generation)<<32 | uint64(index))
}

func (h Handle) Index() uint32 {
	return uint32(h)
}

func (h Handle) Generation() uint32 {
	return uint32(h >> 32)
}

func (h Handle) IsNil() bool {
	return h == 0
}

type slot[T any] struct {
	value      T
	generation uint32
	used       bool
}

// Pool is an arena with a free list. Removing an entry bumps the slot's
// generation so stale handles stop resolving. Not safe for concurrent use.
type Pool[T any] struct {
	slots    []slot[T]
	free     []uint32
	capacity int
	live     int
}

// NewPool creates a pool. A capacity of zero means unbounded.
func NewPool[T any](capacity int) *Pool[T] {
	initial := capacity
	if initial == 0 {
		initial = 64
	}
	return &Pool[T]{
		slots:    make([]slot[T], 0, initial),
		capacity: capacity,
	}
}

func (p *Pool[T]) Insert(value T) (Handle, error) {
	if n := len(p.free); n > 0 {
		index := p.free[n-1]
		p.free = p.free[:n-1]
		s := &p.slots[index]
		s.value = value
		s.used = true
		p.live++
		return makeHandle(index, s.generation), nil
	}
	if p.capacity > 0 && len(p.slots) >= p.capacity {
		return 0, errors.Wrapf(ErrPoolFull, "capacity %d", p.capacity)
	}
	p.slots = append(p.slots, slot[T]{value: value, generation: 1, used: true})
	p.live++
	return makeHandle(uint32(len(p.slots)-1), 1), nil
}

func (p *Pool[T]) lookup(h Handle) *slot[T] {
	index := h.Index()
	if h.IsNil() || int(index) >= len(p.slots) {
		return nil
	}
	s := &p.slots[index]
	if !s.used || s.generation != h.Generation() {
		return nil
	}
	return s
}

func (p *Pool[T]) Get(h Handle) (T, bool) {
	s := p.lookup(h)
	if s == nil {
		var zero T
		return zero, false
	}
	return s.value, true
}

// Set replaces the value behind a live handle.
func (p *Pool[T]) Set(h Handle, value T) bool {
	s := p.lookup(h)
	if s == nil {
		return false
	}
	s.value = value
	return true
}

func (p *Pool[T]) Remove(h Handle) (T, bool) {
	var zero T
	s := p.lookup(h)
	if s == nil {
		return zero, false
	}
	value := s.value
	s.value = zero
	s.used = false
	s.generation++
	if s.generation == 0 {
		s.generation = 1
	}
	p.free = append(p.free, h.Index())
	p.live--
	return value, true
}

// Each visits live entries in slot order until fn returns false.
func (p *Pool[T]) Each(fn func(Handle, T) bool) {
	for i := range p.slots {
		s := &p.slots[i]
		if !s.used {
			continue
		}
		if !fn(makeHandle(uint32(i), s.generation), s.value) {
			return
		}
	}
}

func (p *Pool[T]) Len() int {
	return p.live
}
