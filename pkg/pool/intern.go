package pool

import (
	"sync"
	"sync/atomic"
)

// Interner deduplicates strings. Collector rows repeat the same node
// names, event types and descriptions thousands of times per fetch, and
// each decoded copy would otherwise be a separate allocation kept alive by
// the cursor.
//
// The table stops growing at maxSize entries; further unseen strings are
// returned as is.
type Interner struct {
	mu      sync.RWMutex
	strings map[string]string
	maxSize int
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewInterner creates an interner holding at most maxSize strings.
func NewInterner(maxSize int) *Interner {
	return &Interner{
		strings: make(map[string]string, 256),
		maxSize: maxSize,
	}
}

// Intern returns the canonical copy of s.
func (p *Interner) Intern(s string) string {
	p.mu.RLock()
	interned, ok := p.strings[s]
	p.mu.RUnlock()
	if ok {
		p.hits.Add(1)
		return interned
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if interned, ok := p.strings[s]; ok {
		p.hits.Add(1)
		return interned
	}
	p.misses.Add(1)
	if len(p.strings) >= p.maxSize {
		return s
	}
	p.strings[s] = s
	return s
}

// InternBytes interns b without keeping a reference to it. The lookup does
// not allocate when b is already interned.
func (p *Interner) InternBytes(b []byte) string {
	p.mu.RLock()
	interned, ok := p.strings[string(b)]
	p.mu.RUnlock()
	if ok {
		p.hits.Add(1)
		return interned
	}
	return p.Intern(string(b))
}

// Stats returns the number of interned strings, hits and misses.
func (p *Interner) Stats() (size int, hits, misses int64) {
	p.mu.RLock()
	size = len(p.strings)
	p.mu.RUnlock()
	return size, p.hits.Load(), p.misses.Load()
}

// Clear empties the table.
func (p *Interner) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strings = make(map[string]string, 256)
	p.hits.Store(0)
	p.misses.Store(0)
}
