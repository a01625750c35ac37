package client

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"objstack/pkg/engine"
	"objstack/pkg/store"
)

// Get retrieves an object. opts may be nil.
func (c *Client) Get(ctx context.Context, path string, opts *store.GetOptions) (*store.GetResult, error) {
	return run(c, ctx, "get", func(ctx context.Context) (*store.GetResult, error) {
		res, err := c.backend.Get(ctx, path, opts)
		if err == nil {
			c.metrics.AddBytesRead(int(res.Range.Len()))
		}
		return res, err
	})
}

// GetAsync is the non-blocking form of Get.
func (c *Client) GetAsync(ctx context.Context, path string, opts *store.GetOptions) *engine.Pending[*store.GetResult] {
	return submit(c, ctx, "get", func(ctx context.Context) (*store.GetResult, error) {
		res, err := c.backend.Get(ctx, path, opts)
		if err == nil {
			c.metrics.AddBytesRead(int(res.Range.Len()))
		}
		return res, err
	})
}

// GetBytes retrieves a whole object payload.
func (c *Client) GetBytes(ctx context.Context, path string) ([]byte, error) {
	res, err := c.Get(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	return res.Bytes(ctx)
}

// GetRange retrieves one byte range.
func (c *Client) GetRange(ctx context.Context, path string, spec store.RangeSpec) ([]byte, error) {
	return run(c, ctx, "get_range", func(ctx context.Context) ([]byte, error) {
		return c.getRange(ctx, path, spec)
	})
}

// GetRangeAsync is the non-blocking form of GetRange.
func (c *Client) GetRangeAsync(ctx context.Context, path string, spec store.RangeSpec) *engine.Pending[[]byte] {
	return submit(c, ctx, "get_range", func(ctx context.Context) ([]byte, error) {
		return c.getRange(ctx, path, spec)
	})
}

func (c *Client) getRange(ctx context.Context, path string, spec store.RangeSpec) ([]byte, error) {
	res, err := c.backend.Get(ctx, path, &store.GetOptions{Range: &spec})
	if err != nil {
		return nil, err
	}
	data, err := res.Bytes(ctx)
	if err == nil {
		c.metrics.AddBytesRead(len(data))
	}
	return data, err
}

// GetRanges retrieves multiple byte ranges in one call, preserving request
// order. The specs are resolved against the object length first, so offset
// and suffix forms work on every backend.
func (c *Client) GetRanges(ctx context.Context, path string, specs []store.RangeSpec) ([][]byte, error) {
	return run(c, ctx, "get_ranges", func(ctx context.Context) ([][]byte, error) {
		return c.getRanges(ctx, path, specs)
	})
}

// GetRangesAsync is the non-blocking form of GetRanges.
func (c *Client) GetRangesAsync(ctx context.Context, path string, specs []store.RangeSpec) *engine.Pending[[][]byte] {
	return submit(c, ctx, "get_ranges", func(ctx context.Context) ([][]byte, error) {
		return c.getRanges(ctx, path, specs)
	})
}

func (c *Client) getRanges(ctx context.Context, path string, specs []store.RangeSpec) ([][]byte, error) {
	meta, err := c.backend.Head(ctx, path)
	if err != nil {
		return nil, err
	}
	ranges := store.ResolveAll(specs, uint64(meta.Size))
	out, err := c.backend.GetRanges(ctx, path, ranges)
	if err != nil {
		return nil, err
	}
	for _, chunk := range out {
		c.metrics.AddBytesRead(len(chunk))
	}
	return out, nil
}

// Head returns object metadata.
func (c *Client) Head(ctx context.Context, path string) (store.ObjectMeta, error) {
	return run(c, ctx, "head", func(ctx context.Context) (store.ObjectMeta, error) {
		return c.backend.Head(ctx, path)
	})
}

// HeadAsync is the non-blocking form of Head.
func (c *Client) HeadAsync(ctx context.Context, path string) *engine.Pending[store.ObjectMeta] {
	return submit(c, ctx, "head", func(ctx context.Context) (store.ObjectMeta, error) {
		return c.backend.Head(ctx, path)
	})
}

// Delete removes an object.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := run(c, ctx, "delete", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.backend.Delete(ctx, path)
	})
	return err
}

// DeleteAsync is the non-blocking form of Delete.
func (c *Client) DeleteAsync(ctx context.Context, path string) *engine.Pending[struct{}] {
	return submit(c, ctx, "delete", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.backend.Delete(ctx, path)
	})
}

// DeleteMany removes a set of objects with bounded concurrency. The first
// failure cancels the remaining deletes.
func (c *Client) DeleteMany(ctx context.Context, paths []string) error {
	_, err := run(c, ctx, "delete_many", func(ctx context.Context) (struct{}, error) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(defaultDeleteConcurrency)
		for _, path := range paths {
			g.Go(func() error { return c.backend.Delete(gctx, path) })
		}
		return struct{}{}, g.Wait()
	})
	return err
}

const defaultDeleteConcurrency = 12

// Copy duplicates an object within the backend, replacing any existing
// destination.
func (c *Client) Copy(ctx context.Context, from, to string) error {
	_, err := run(c, ctx, "copy", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.backend.Copy(ctx, from, to, true)
	})
	return err
}

// CopyIfNotExists duplicates an object, failing with an AlreadyExists error
// when the destination is present.
func (c *Client) CopyIfNotExists(ctx context.Context, from, to string) error {
	_, err := run(c, ctx, "copy", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.backend.Copy(ctx, from, to, false)
	})
	return err
}

// CopyAsync is the non-blocking form of Copy.
func (c *Client) CopyAsync(ctx context.Context, from, to string) *engine.Pending[struct{}] {
	return submit(c, ctx, "copy", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.backend.Copy(ctx, from, to, true)
	})
}

// Rename moves an object within the backend, replacing any existing
// destination.
func (c *Client) Rename(ctx context.Context, from, to string) error {
	_, err := run(c, ctx, "rename", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.backend.Rename(ctx, from, to, true)
	})
	return err
}

// RenameIfNotExists moves an object, failing with an AlreadyExists error
// when the destination is present.
func (c *Client) RenameIfNotExists(ctx context.Context, from, to string) error {
	_, err := run(c, ctx, "rename", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.backend.Rename(ctx, from, to, false)
	})
	return err
}

// RenameAsync is the non-blocking form of Rename.
func (c *Client) RenameAsync(ctx context.Context, from, to string) *engine.Pending[struct{}] {
	return submit(c, ctx, "rename", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.backend.Rename(ctx, from, to, true)
	})
}

// SignURL returns a presigned URL for the given HTTP method, on backends
// that support signing.
func (c *Client) SignURL(ctx context.Context, method, path string, expires time.Duration) (string, error) {
	return run(c, ctx, "sign_url", func(ctx context.Context) (string, error) {
		return c.backend.SignURL(ctx, method, path, expires)
	})
}

// SignURLAsync is the non-blocking form of SignURL.
func (c *Client) SignURLAsync(ctx context.Context, method, path string, expires time.Duration) *engine.Pending[string] {
	return submit(c, ctx, "sign_url", func(ctx context.Context) (string, error) {
		return c.backend.SignURL(ctx, method, path, expires)
	})
}
