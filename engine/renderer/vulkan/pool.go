package vulkan

import (
	"sync"

	"github.com/spaghettifunk/kiln/engine/containers"
)

// handles maps driver handles onto Vulkan objects. A stale handle resolves
// to the zero value, which Vulkan treats as the null handle.
type handles[H ~uint64, T any] struct {
	pool *containers.Pool[T]
}

func newHandles[H ~uint64, T any]() handles[H, T] {
	return handles[H, T]{pool: containers.NewPool[T](0)}
}

func (h handles[H, T]) put(value T) H {
	// unbounded pools never fail
	handle, _ := h.pool.Insert(value)
	return H(handle)
}

func (h handles[H, T]) get(handle H) T {
	value, _ := h.pool.Get(containers.Handle(handle))
	return value
}

func (h handles[H, T]) take(handle H) (T, bool) {
	return h.pool.Remove(containers.Handle(handle))
}

func (h handles[H, T]) set(handle H, value T) {
	h.pool.Set(containers.Handle(handle), value)
}

func (h handles[H, T]) each(fn func(T)) {
	h.pool.Each(func(_ containers.Handle, value T) bool {
		fn(value)
		return true
	})
}

func (h handles[H, T]) len() int {
	return h.pool.Len()
}

// queueLocks serializes access to queues, which Vulkan requires to be
// externally synchronized. Families that share a queue share a lock.
type queueLocks struct {
	mu     sync.Mutex
	family map[uint32]*sync.Mutex
}

func newQueueLocks() *queueLocks {
	return &queueLocks{family: make(map[uint32]*sync.Mutex)}
}

func (q *queueLocks) lock(family uint32) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.family[family]
	if !ok {
		l = &sync.Mutex{}
		q.family[family] = l
	}
	return l
}

func (q *queueLocks) call(family uint32, fn func() error) error {
	l := q.lock(family)
	l.Lock()
	defer l.Unlock()
	return fn()
}
