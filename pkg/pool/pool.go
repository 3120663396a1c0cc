// Package pool provides typed object pooling and string interning for the
// hot decode paths.
//
// Example usage:
//
//	scratch := pool.New(
//	    func() *[][]byte { s := make([][]byte, 0, 32); return &s },
//	    func(s *[][]byte) { *s = (*s)[:0] },
//	)
//	fields := scratch.Get()
//	defer scratch.Put(fields)
package pool

import (
	"sync"
	"sync/atomic"
)

// Pool is a typed wrapper around sync.Pool that resets objects on Put and
// keeps usage statistics. It is safe for concurrent use.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	stats struct {
		allocated atomic.Int64
		inUse     atomic.Int64
		gets      atomic.Int64
	}
}

// New creates a pool. reset may be nil.
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() any {
		p.stats.allocated.Add(1)
		return newFn()
	}
	return p
}

// Get takes an object from the pool, allocating one when it is empty.
func (p *Pool[T]) Get() T {
	p.stats.inUse.Add(1)
	p.stats.gets.Add(1)
	return p.pool.Get().(T)
}

// Put resets obj and returns it to the pool.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	p.stats.inUse.Add(-1)
	p.pool.Put(obj)
}

// Stats reports how many objects were allocated, how many are checked out
// and how many Get calls were made.
func (p *Pool[T]) Stats() (allocated, inUse, gets int64) {
	return p.stats.allocated.Load(), p.stats.inUse.Load(), p.stats.gets.Load()
}
