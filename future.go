package delegate

import (
	"context"
	"encoding/json"
	"sync"
)

// Future is a single-assignment settlement cell. It is settled exactly once,
// by Resolve or Reject, whichever comes first; later settlements are no-ops.
// Any number of goroutines may Await the same future.
type Future struct {
	once    sync.Once
	done    chan struct{}
	results []json.RawMessage
	err     error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) Resolve(results []json.RawMessage) {
	f.once.Do(func() {
		f.results = results
		close(f.done)
	})
}

func (f *Future) Reject(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Await blocks until the future settles or the context expires. A context
// expiry does not settle the future, it only abandons this observation.
func (f *Future) Await(ctx context.Context) ([]json.RawMessage, error) {
	select {
	case <-f.done:
		return f.results, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed once the future is settled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}
