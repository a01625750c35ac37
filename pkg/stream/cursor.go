package stream

import (
	"context"
	"errors"
	"io"
	"sync"
)

type cursorState uint8

const (
	// stateActive: the underlying sequence may still produce items.
	stateActive cursorState = iota
	// stateDrained: the sequence ended and the final partial batch has been
	// delivered; the next pull reports ErrExhausted.
	stateDrained
	// stateExhausted: terminal. Every pull reports ErrExhausted.
	stateExhausted
)

// Cursor is a single-consumer pull cursor over a fallible sequence. Pulls are
// serialized by an internal mutex, so a cursor may be shared by concurrent
// pull calls but the underlying sequence is never polled by two pulls at
// once.
//
// Exhaustion is two-phase: when the sequence ends mid-batch the buffered
// leftovers are flushed as one final partial batch, and only the following
// pull reports ErrExhausted. This keeps the last real batch distinguishable
// from true end-of-sequence under a pull protocol.
type Cursor[T any] struct {
	mu    sync.Mutex
	src   Sequence[T]
	weigh func(T) int
	state cursorState
}

// NewCursor returns a cursor over src where every item weighs 1, so
// PullBatch thresholds count items.
func NewCursor[T any](src Sequence[T]) *Cursor[T] {
	return NewWeighted(src, func(T) int { return 1 })
}

// NewWeighted returns a cursor over src where PullBatch thresholds are
// measured by summing weigh over accumulated items.
func NewWeighted[T any](src Sequence[T], weigh func(T) int) *Cursor[T] {
	return &Cursor[T]{src: Fuse(src), weigh: weigh}
}

// Pull returns exactly one item, or ErrExhausted once the cursor is
// terminal.
func (c *Cursor[T]) Pull(ctx context.Context) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	if c.state != stateActive {
		c.state = stateExhausted
		return zero, ErrExhausted
	}
	v, err := c.src.Next(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			c.state = stateExhausted
			return zero, ErrExhausted
		}
		return zero, err
	}
	return v, nil
}

// PullBatch accumulates items until their combined weight reaches threshold
// or the sequence ends. A sequence ending with a non-empty accumulation
// yields the partial batch; the subsequent pull fails with ErrExhausted.
func (c *Cursor[T]) PullBatch(ctx context.Context, threshold int) ([]T, error) {
	if threshold < 1 {
		threshold = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateActive {
		c.state = stateExhausted
		return nil, ErrExhausted
	}
	var batch []T
	total := 0
	for {
		v, err := c.src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(batch) == 0 {
					c.state = stateExhausted
					return nil, ErrExhausted
				}
				c.state = stateDrained
				return batch, nil
			}
			return nil, err
		}
		batch = append(batch, v)
		total += c.weigh(v)
		if total >= threshold {
			return batch, nil
		}
	}
}

// Collect drains the entire remaining sequence. An empty or already-drained
// sequence yields an empty slice, never ErrExhausted.
func (c *Cursor[T]) Collect(ctx context.Context) ([]T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := []T{}
	if c.state != stateActive {
		c.state = stateExhausted
		return out, nil
	}
	for {
		v, err := c.src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.state = stateExhausted
				return out, nil
			}
			return nil, err
		}
		out = append(out, v)
	}
}
