package application

// ring keeps the newest cap items, oldest first.
type ring[T any] struct {
	items []T
	start int
	size  int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring[T]{items: make([]T, capacity)}
}

func (r *ring[T]) push(item T) {
	if r.size < len(r.items) {
		r.items[(r.start+r.size)%len(r.items)] = item
		r.size++
		return
	}
	r.items[r.start] = item
	r.start = (r.start + 1) % len(r.items)
}

// last returns up to n newest items, oldest first, as a fresh slice.
func (r *ring[T]) last(n int) []T {
	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]T, 0, n)
	for i := r.size - n; i < r.size; i++ {
		out = append(out, r.items[(r.start+i)%len(r.items)])
	}
	return out
}

func (r *ring[T]) all() []T {
	return r.last(r.size)
}

func (r *ring[T]) len() int {
	return r.size
}
