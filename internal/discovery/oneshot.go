package discovery

import "sync"

// oneShot is a value that is resolved at most once. Waiters observe
// resolution through Done; later Resolve calls are ignored.
type oneShot[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
}

func newOneShot[T any]() *oneShot[T] {
	return &oneShot[T]{done: make(chan struct{})}
}

// Resolve stores v and reports whether this call was the one that resolved.
func (o *oneShot[T]) Resolve(v T) bool {
	resolved := false
	o.once.Do(func() {
		o.value = v
		close(o.done)
		resolved = true
	})
	return resolved
}

// Done is closed once a value has been resolved.
func (o *oneShot[T]) Done() <-chan struct{} {
	return o.done
}

// Value returns the resolved value and whether there is one.
func (o *oneShot[T]) Value() (T, bool) {
	select {
	case <-o.done:
		return o.value, true
	default:
		var zero T
		return zero, false
	}
}
