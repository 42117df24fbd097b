package dynlib

import "sync"

// Lazy holds the outcome of a one-time backend activation. The loader runs at
// most once per Lazy value. Concurrent first callers block until it finishes
// and every caller observes the same table or error afterwards.
type Lazy[T any] struct {
	once  sync.Once
	load  func() (T, error)
	value T
	err   error
}

// NewLazy wraps load in a once guard.
func NewLazy[T any](load func() (T, error)) *Lazy[T] {
	return &Lazy[T]{load: load}
}

// Get runs the loader on first use and returns the cached outcome.
func (l *Lazy[T]) Get() (T, error) {
	l.once.Do(func() {
		l.value, l.err = l.load()
	})
	return l.value, l.err
}
