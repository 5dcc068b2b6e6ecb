package httpapi

import (
	"context"
	"sync"
	"sync/atomic"
)

// StreamRegistry counts live WebSocket streams (console and media) so a
// shutdown can stop accepting new ones and wait for the rest.
//
// Open checks the draining flag and increments the WaitGroup under one
// lock so no stream can slip in after StartDraining returns.
type StreamRegistry struct {
	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
	active   atomic.Int64
}

func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{}
}

// Open registers a stream. It returns false while draining.
func (sr *StreamRegistry) Open() bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.draining {
		return false
	}
	sr.wg.Add(1)
	sr.active.Add(1)
	return true
}

// Close must be called exactly once per successful Open.
func (sr *StreamRegistry) Close() {
	sr.active.Add(-1)
	sr.wg.Done()
}

func (sr *StreamRegistry) StartDraining() {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.draining = true
}

func (sr *StreamRegistry) IsDraining() bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.draining
}

func (sr *StreamRegistry) Active() int64 {
	return sr.active.Load()
}

// Wait blocks until every open stream has closed or ctx is done.
func (sr *StreamRegistry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		sr.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
