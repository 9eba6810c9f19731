// Package worker provides a bounded pool for CPU-heavy model inference.
// The verification fan-out runs on goroutines that suspend at I/O
// boundaries; routing inference through the pool keeps a burst of
// concurrent requests from saturating the process with classifier and
// ensemble forward passes.
package worker

import (
	"context"
	"fmt"
)

// Pool bounds the number of inference tasks executing at once.
type Pool struct {
	slots chan struct{}
}

// New creates a pool allowing size concurrent tasks. Size must be at
// least 1.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{slots: make(chan struct{}, size)}
}

// Do runs fn once a slot is free, blocking until then or until the
// context is cancelled. The task itself is not interrupted once started.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("inference cancelled while queued: %v", ctx.Err())
	case p.slots <- struct{}{}:
	}
	defer func() { <-p.slots }()
	return fn()
}

// Size returns the pool's concurrency limit.
func (p *Pool) Size() int {
	return cap(p.slots)
}
