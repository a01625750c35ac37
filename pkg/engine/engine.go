// Package engine is the execution gateway behind the blocking and pending
// call surfaces of the client. Every operation is written once as an
// asynchronous function; Run executes it and waits, Go schedules it and
// returns a Pending handle. Both paths run the operation on the engine, so
// callers observe identical semantics either way.
package engine

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned for work submitted to an engine after Close.
var ErrClosed = errors.New("engine: closed")

// Engine tracks the background work scheduled through it. It serializes
// nothing beyond what individual operations require and is safe for
// unbounded concurrent submission.
type Engine struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// New returns an empty engine.
func New() *Engine { return &Engine{} }

var (
	defaultOnce   sync.Once
	defaultEngine *Engine
)

// Default returns the process-wide engine, creating it on first use. It lives
// for the remainder of the process and is never recreated.
func Default() *Engine {
	defaultOnce.Do(func() { defaultEngine = New() })
	return defaultEngine
}

// Close marks the engine closed and waits for all in-flight work. Later
// submissions fail with ErrClosed. The default engine is normally never
// closed.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) acquire() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.wg.Add(1)
	return true
}

// Pending is the handle to an operation scheduled on an engine. It resolves
// exactly once; discarding a handle lets the operation run to completion with
// its result dropped.
type Pending[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Go schedules op on the engine and immediately returns its pending handle.
// The calling goroutine is never blocked.
func Go[T any](e *Engine, ctx context.Context, op func(context.Context) (T, error)) *Pending[T] {
	p := &Pending[T]{done: make(chan struct{})}
	if !e.acquire() {
		p.err = ErrClosed
		close(p.done)
		return p
	}
	go func() {
		defer e.wg.Done()
		p.val, p.err = op(ctx)
		close(p.done)
	}()
	return p
}

// Run executes op on the engine and blocks the calling goroutine until it
// completes. It is exactly Go followed by Wait.
func Run[T any](e *Engine, ctx context.Context, op func(context.Context) (T, error)) (T, error) {
	return Go(e, ctx, op).Wait(ctx)
}

// Wait blocks until the operation resolves or ctx is done. A context error
// abandons the handle: the operation keeps running on the engine and its
// result is discarded.
func (p *Pending[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.val, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done reports whether the operation has resolved, without blocking.
func (p *Pending[T]) Done() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
