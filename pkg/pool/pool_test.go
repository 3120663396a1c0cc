package pool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolResetsOnPut(t *testing.T) {
	p := New(
		func() *[]byte { b := make([]byte, 0, 16); return &b },
		func(b *[]byte) { *b = (*b)[:0] },
	)

	b := p.Get()
	*b = append(*b, "abc"...)
	_, inUse, _ := p.Stats()
	assert.Equal(t, int64(1), inUse)

	p.Put(b)
	allocated, inUse, gets := p.Stats()
	assert.Equal(t, int64(1), allocated)
	assert.Equal(t, int64(0), inUse)
	assert.Equal(t, int64(1), gets)
	assert.Empty(t, *b)
}

func TestPoolConcurrent(t *testing.T) {
	p := New(func() *int { return new(int) }, nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				v := p.Get()
				*v++
				p.Put(v)
			}
		}()
	}
	wg.Wait()

	_, inUse, gets := p.Stats()
	assert.Equal(t, int64(0), inUse)
	assert.Equal(t, int64(800), gets)
}

func TestInterner(t *testing.T) {
	in := NewInterner(2)

	a := in.InternBytes([]byte("v_vmart_node0001"))
	b := in.Intern("v_vmart_node0001")
	assert.Equal(t, a, b)

	in.Intern("v_vmart_node0002")
	assert.Equal(t, "v_vmart_node0003", in.Intern("v_vmart_node0003"))

	size, hits, misses := in.Stats()
	assert.Equal(t, 2, size)
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(3), misses)

	in.Clear()
	size, _, _ = in.Stats()
	require.Zero(t, size)
}
