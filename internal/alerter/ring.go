package alerter

// ring keeps the last size values in insertion order.
type ring[T any] struct {
	values []T
	size   int
	idx    int
	filled bool
}

func newRing[T any](size int) *ring[T] {
	if size < 0 {
		size = 0
	}
	return &ring[T]{values: make([]T, size), size: size}
}

func (r *ring[T]) Add(v T) {
	if r.size == 0 {
		return
	}
	r.values[r.idx] = v
	r.idx = (r.idx + 1) % r.size
	if r.idx == 0 {
		r.filled = true
	}
}

func (r *ring[T]) Values() []T {
	if !r.filled {
		return append([]T{}, r.values[:r.idx]...)
	}
	out := make([]T, 0, r.size)
	out = append(out, r.values[r.idx:]...)
	out = append(out, r.values[:r.idx]...)
	return out
}
