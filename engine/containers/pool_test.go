package containers

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestPoolStaleHandle(t *testing.T) {
	p := NewPool[string](0)

	h, err := p.Insert("a")
	require.NoError(t, err)
	require.False(t, h.IsNil())
	require.Equal(t, uint32(1), h.Generation())

	v, ok := p.Get(h)
	require.True(t, ok)
	require.Equal(t, "a", v)

	removed, ok := p.Remove(h)
	require.True(t, ok)
	require.Equal(t, "a", removed)

	_, ok = p.Get(h)
	require.False(t, ok)
	_, ok = p.Remove(h)
	require.False(t, ok)

	h2, err := p.Insert("b")
	require.NoError(t, err)
	require.Equal(t, h.Index(), h2.Index())
	require.NotEqual(t, h, h2)

	_, ok = p.Get(h)
	require.False(t, ok)
	v, ok = p.Get(h2)
	require.True(t, ok)
	require.Equal(t, "b", v)
	require.Equal(t, 1, p.Len())
}

func TestPoolCapacity(t *testing.T) {
	p := NewPool[int](2)

	a, err := p.Insert(1)
	require.NoError(t, err)
	_, err = p.Insert(2)
	require.NoError(t, err)

	_, err = p.Insert(3)
	require.True(t, errors.Is(err, ErrPoolFull))

	_, ok := p.Remove(a)
	require.True(t, ok)
	_, err = p.Insert(3)
	require.NoError(t, err)
}

func TestPoolNilHandle(t *testing.T) {
	p := NewPool[int](0)
	_, err := p.Insert(7)
	require.NoError(t, err)

	_, ok := p.Get(0)
	require.False(t, ok)
	require.False(t, p.Set(0, 1))
}

func TestPoolEach(t *testing.T) {
	p := NewPool[int](0)
	handles := make([]Handle, 0, 4)
	for i := 0; i < 4; i++ {
		h, err := p.Insert(i)
		require.NoError(t, err)
		handles = append(handles, h)
	}
	p.Remove(handles[1])

	seen := []int{}
	p.Each(func(h Handle, v int) bool {
		seen = append(seen, v)
		return true
	})
	require.Equal(t, []int{0, 2, 3}, seen)

	seen = seen[:0]
	p.Each(func(h Handle, v int) bool {
		seen = append(seen, v)
		return false
	})
	require.Equal(t, []int{0}, seen)
}

func TestRefCount(t *testing.T) {
	var rc RefCount
	rc.Init()
	rc.Retain()
	require.Equal(t, int32(2), rc.Count())

	require.False(t, rc.Release())
	require.True(t, rc.Release())
	require.Panics(t, func() { rc.Release() })
	require.Panics(t, func() { rc.Retain() })
}
