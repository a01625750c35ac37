// Package stream provides pull-based cursors over fallible sequences of
// items. A Sequence produces items one at a time and signals its end with
// io.EOF; a Cursor wraps a Sequence with mutual exclusion, aggregation and
// the two-phase exhaustion protocol consumers need to distinguish "final
// partial batch" from "no more data".
package stream

import (
	"context"
	"errors"
	"io"
)

// ErrExhausted is returned by cursor pulls issued after the underlying
// sequence has ended and every buffered item has been delivered. It is
// idempotent: once a cursor reports it, every later pull reports it too.
var ErrExhausted = errors.New("stream exhausted")

// Sequence is a fallible asynchronous sequence of items. Next returns the
// next item, io.EOF when the sequence ends, or any other error on failure.
// Implementations need not be safe for concurrent use; cursors serialize
// access.
type Sequence[T any] interface {
	Next(ctx context.Context) (T, error)
}

// SequenceFunc adapts a function to the Sequence interface.
type SequenceFunc[T any] func(ctx context.Context) (T, error)

// Next calls f.
func (f SequenceFunc[T]) Next(ctx context.Context) (T, error) { return f(ctx) }

type fused[T any] struct {
	src  Sequence[T]
	done bool
}

// Fuse wraps src so that once it reports io.EOF it keeps reporting io.EOF on
// every later call, regardless of how src itself behaves when polled past its
// end. Cursors poll their source at least twice at the boundary (once for the
// final flush, once for the terminal signal), so they only accept fused
// sequences.
func Fuse[T any](src Sequence[T]) Sequence[T] {
	if _, ok := src.(*fused[T]); ok {
		return src
	}
	return &fused[T]{src: src}
}

func (f *fused[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if f.done {
		return zero, io.EOF
	}
	v, err := f.src.Next(ctx)
	if errors.Is(err, io.EOF) {
		f.done = true
		return zero, io.EOF
	}
	return v, err
}

type sliceSeq[T any] struct {
	items []T
	pos   int
}

// FromItems returns a sequence yielding the given items in order.
func FromItems[T any](items ...T) Sequence[T] {
	return &sliceSeq[T]{items: items}
}

func (s *sliceSeq[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if s.pos >= len(s.items) {
		return zero, io.EOF
	}
	v := s.items[s.pos]
	s.pos++
	return v, nil
}

type errSeq[T any] struct{ err error }

// Fail returns a sequence whose first pull fails with err.
func Fail[T any](err error) Sequence[T] { return errSeq[T]{err: err} }

func (s errSeq[T]) Next(context.Context) (T, error) {
	var zero T
	return zero, s.err
}

type readerSeq struct {
	r    io.ReadCloser
	size int
	err  error
}

// FromReader adapts an io.ReadCloser into a byte-chunk sequence that reads up
// to readSize bytes per pull. The reader is closed when the sequence ends or
// fails; chunks are freshly allocated and owned by the caller.
func FromReader(r io.ReadCloser, readSize int) Sequence[[]byte] {
	if readSize <= 0 {
		readSize = 64 * 1024
	}
	return &readerSeq{r: r, size: readSize}
}

func (s *readerSeq) Next(ctx context.Context) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, s.size)
	for {
		n, err := s.r.Read(buf)
		if err != nil {
			s.err = err
			_ = s.r.Close()
		}
		if n > 0 {
			return buf[:n], nil
		}
		if s.err != nil {
			return nil, s.err
		}
	}
}
