package client

import (
	"context"

	"objstack/pkg/engine"
	"objstack/pkg/store"
	"objstack/pkg/stream"
)

// DefaultListPageSize is the number of entries a Listing yields per Next.
const DefaultListPageSize = 50

// Listing is a pull cursor over a prefix listing. Next returns pages of
// metadata until the listing is exhausted, then stream.ErrExhausted forever.
type Listing struct {
	c        *Client
	cursor   *stream.Cursor[store.ObjectMeta]
	pageSize int
}

// List starts listing objects under prefix in lexicographic path order.
// offset, when non-empty, resumes strictly after that path. No I/O happens
// until the first Next or Collect.
func (c *Client) List(prefix, offset string) *Listing {
	return &Listing{
		c:        c,
		cursor:   stream.NewCursor(c.backend.List(prefix, offset)),
		pageSize: DefaultListPageSize,
	}
}

// WithPageSize overrides the page size for subsequent Next calls.
func (l *Listing) WithPageSize(n int) *Listing {
	if n > 0 {
		l.pageSize = n
	}
	return l
}

// Next returns the next page. The final page may be short; after it, every
// call returns stream.ErrExhausted.
func (l *Listing) Next(ctx context.Context) ([]store.ObjectMeta, error) {
	return run(l.c, ctx, "list", func(ctx context.Context) ([]store.ObjectMeta, error) {
		return l.cursor.PullBatch(ctx, l.pageSize)
	})
}

// NextAsync is the non-blocking form of Next.
func (l *Listing) NextAsync(ctx context.Context) *engine.Pending[[]store.ObjectMeta] {
	return submit(l.c, ctx, "list", func(ctx context.Context) ([]store.ObjectMeta, error) {
		return l.cursor.PullBatch(ctx, l.pageSize)
	})
}

// Collect drains the rest of the listing into one slice. An exhausted or
// empty listing yields an empty slice, not an error.
func (l *Listing) Collect(ctx context.Context) ([]store.ObjectMeta, error) {
	return run(l.c, ctx, "list", func(ctx context.Context) ([]store.ObjectMeta, error) {
		return l.cursor.Collect(ctx)
	})
}

// CollectAsync is the non-blocking form of Collect.
func (l *Listing) CollectAsync(ctx context.Context) *engine.Pending[[]store.ObjectMeta] {
	return submit(l.c, ctx, "list", func(ctx context.Context) ([]store.ObjectMeta, error) {
		return l.cursor.Collect(ctx)
	})
}

// ListWithDelimiter returns the objects and common prefixes one level under
// prefix, both in lexicographic order.
func (c *Client) ListWithDelimiter(ctx context.Context, prefix string) (store.ListResult, error) {
	return run(c, ctx, "list_with_delimiter", func(ctx context.Context) (store.ListResult, error) {
		return c.backend.ListWithDelimiter(ctx, prefix)
	})
}

// ListWithDelimiterAsync is the non-blocking form of ListWithDelimiter.
func (c *Client) ListWithDelimiterAsync(ctx context.Context, prefix string) *engine.Pending[store.ListResult] {
	return submit(c, ctx, "list_with_delimiter", func(ctx context.Context) (store.ListResult, error) {
		return c.backend.ListWithDelimiter(ctx, prefix)
	})
}
