package containers

// RefCount is an intrusive reference count for objects owned by the render
// thread. It is not safe for concurrent use. Switch to an atomic counter
// before sharing a counted object across goroutines.
type RefCount struct {
	n int32
}

// Init sets the count to one. The creator holds the first reference.
func (r *RefCount) Init() {
	r.n = 1
}

func (r *RefCount) Retain() {
	if r.n <= 0 {
		panic("containers: retain on a released object")
	}
	r.n++
}

// Release drops one reference and reports whether it was the last one.
func (r *RefCount) Release() bool {
	if r.n <= 0 {
		panic("containers: release on a released object")
	}
	r.n--
	return r.n == 0
}

func (r *RefCount) Count() int32 {
	return r.n
}
