// Package multipart implements the bounded-concurrency part upload pipeline
// behind large writes: an input is split into fixed-size parts, parts are
// uploaded concurrently under a capacity cap, and the completed set is
// committed as one manifest ordered by logical part number.
package multipart

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"objstack/pkg/store"
)

const (
	// DefaultPartSize is the part size used when the caller does not choose.
	DefaultPartSize = 5 * 1024 * 1024
	// DefaultMaxConcurrency bounds in-flight part uploads by default.
	DefaultMaxConcurrency = 12
)

var errAborted = errors.New("multipart: aborted")

// Pipeline manages one multipart write. WritePart admits parts under
// backpressure, Finish commits. After any part failure the pipeline is
// aborted: no further parts are admitted, in-flight uploads run out and are
// discarded, and only the first error is reported.
//
// A pipeline is intended for a single producing goroutine; the part uploads
// themselves run concurrently on the pipeline's group.
type Pipeline struct {
	up     store.MultipartUpload
	group  *errgroup.Group
	gctx   context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	parts []store.CompletedPart
	next  int

	errOnce  sync.Once
	firstErr atomic.Error
	inflight atomic.Int64
}

// New wraps a backend upload handle. A non-positive maxConcurrency selects
// DefaultMaxConcurrency.
func New(ctx context.Context, up store.MultipartUpload, maxConcurrency int) *Pipeline {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)
	return &Pipeline{up: up, group: g, gctx: gctx, cancel: cancel}
}

func (p *Pipeline) fail(err error) {
	p.errOnce.Do(func() { p.firstErr.Store(err) })
}

// WritePart admits one part, blocking until fewer than the concurrency cap
// uploads are outstanding. It does not wait for the admitted part itself.
// Ownership of data passes to the pipeline. Once the pipeline has failed,
// WritePart refuses admission and returns the first error.
func (p *Pipeline) WritePart(ctx context.Context, data []byte) error {
	if err := p.firstErr.Load(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.next++
	number := p.next
	p.mu.Unlock()
	// Go blocks here while the group is at its limit: this is the
	// backpressure bounding memory and outstanding requests.
	p.group.Go(func() error {
		p.inflight.Inc()
		defer p.inflight.Dec()
		part, err := p.up.UploadPart(p.gctx, number, data)
		if err != nil {
			p.fail(err)
			return err
		}
		p.mu.Lock()
		p.parts = append(p.parts, part)
		p.mu.Unlock()
		return nil
	})
	return nil
}

// Inflight reports the number of part uploads currently outstanding.
func (p *Pipeline) Inflight() int64 { return p.inflight.Load() }

// Finish waits for every outstanding part upload. If all succeeded it issues
// a single commit with the manifest ordered by part number and returns the
// result; otherwise it aborts the backend upload (best effort) and returns
// the first error encountered. Commit is never issued after a part failure.
func (p *Pipeline) Finish(ctx context.Context) (store.PutResult, error) {
	err := p.group.Wait()
	p.cancel()
	// firstErr is the first failure observed; Wait may surface a later one.
	if ferr := p.firstErr.Load(); ferr != nil {
		err = ferr
	}
	if err != nil {
		_ = p.up.Abort(context.WithoutCancel(ctx))
		return store.PutResult{}, err
	}
	p.mu.Lock()
	parts := append([]store.CompletedPart(nil), p.parts...)
	p.mu.Unlock()
	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })
	return p.up.Complete(ctx, parts)
}

// Abort marks the pipeline failed without a part error (e.g. the input
// source failed), waits out in-flight uploads and aborts the backend upload.
func (p *Pipeline) Abort(ctx context.Context) error {
	p.fail(errAborted)
	p.cancel()
	_ = p.group.Wait()
	return p.up.Abort(context.WithoutCancel(ctx))
}
