package crawl

import (
	"context"
	"sync"
)

// hostGate serializes fetches per host. Overall crawl parallelism comes
// from crawling many hosts; any single host sees one request at a time.
type hostGate struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
}

func newHostGate() *hostGate {
	return &hostGate{gates: make(map[string]chan struct{})}
}

// acquire blocks until the host token is free or the context ends.
// The returned release func must be called exactly once.
func (g *hostGate) acquire(ctx context.Context, host string) (release func(), err error) {
	g.mu.Lock()
	gate, ok := g.gates[host]
	if !ok {
		gate = make(chan struct{}, 1)
		g.gates[host] = gate
	}
	g.mu.Unlock()

	select {
	case gate <- struct{}{}:
		return func() { <-gate }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
