package attribution

// ring is a fixed-capacity FIFO that overwrites its oldest element.
// Callers synchronize access.
type ring[T any] struct {
	items []T
	start int
	n     int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{items: make([]T, capacity)}
}

// push appends v and reports whether the oldest element was dropped.
func (r *ring[T]) push(v T) bool {
	if r.n < len(r.items) {
		r.items[(r.start+r.n)%len(r.items)] = v
		r.n++
		return false
	}
	r.items[r.start] = v
	r.start = (r.start + 1) % len(r.items)
	return true
}

func (r *ring[T]) len() int { return r.n }

// at returns the i-th element, oldest first.
func (r *ring[T]) at(i int) T {
	return r.items[(r.start+i)%len(r.items)]
}

// each calls fn newest first until fn returns false.
func (r *ring[T]) each(fn func(T) bool) {
	for i := r.n - 1; i >= 0; i-- {
		if !fn(r.at(i)) {
			return
		}
	}
}

func (r *ring[T]) reset() {
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.start, r.n = 0, 0
}
