package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/dctables/pkg/cluster"
	"github.com/ajitpratap0/dctables/pkg/wire"
)

// FakeExecutor is a cluster.Executor that replays canned blocks.
type FakeExecutor struct {
	Name   string
	Blocks [][]byte
	// Err is returned after every block has been emitted.
	Err error
	// Delay is slept before each block.
	Delay time.Duration
	// Hang blocks after the last block until the context is done.
	Hang bool

	mu       sync.Mutex
	requests []*cluster.Request
}

// Node implements cluster.Executor.
func (f *FakeExecutor) Node() string { return f.Name }

// Fetch implements cluster.Executor.
func (f *FakeExecutor) Fetch(ctx context.Context, req *cluster.Request, emit func([]byte) error) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	for _, b := range f.Blocks {
		if f.Delay > 0 {
			select {
			case <-time.After(f.Delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := emit(b); err != nil {
			return err
		}
	}
	if f.Hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.Err
}

// Requests returns the requests received so far.
func (f *FakeExecutor) Requests() []*cluster.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*cluster.Request(nil), f.requests...)
}

// Block encodes rows as one wire block for a table with the given column
// types.
func Block(t testing.TB, types []string, rows ...wire.Row) []byte {
	t.Helper()
	w := wire.NewBlockWriter(wire.Families(types))
	for _, r := range rows {
		require.NoError(t, w.Append(r))
	}
	return append([]byte(nil), w.Bytes()...)
}
