package client

import (
	"context"
	"errors"
	"io"

	"objstack/pkg/engine"
	"objstack/pkg/multipart"
	"objstack/pkg/store"
)

// PutConfig tunes an upload. The zero value overwrites unconditionally with
// default part sizing.
type PutConfig struct {
	store.PutOptions
	// PartSize is the multipart chunk size. Defaults to
	// multipart.DefaultPartSize.
	PartSize int
	// MaxConcurrency bounds in-flight part uploads. Defaults to
	// multipart.DefaultMaxConcurrency.
	MaxConcurrency int
	// ForceMultipart streams the payload through the multipart pipeline even
	// when it would fit a single request. Ignored for non-overwrite modes,
	// which always need one conditional request.
	ForceMultipart bool
}

func (cfg PutConfig) partSize() int {
	if cfg.PartSize > 0 {
		return cfg.PartSize
	}
	return multipart.DefaultPartSize
}

func (cfg PutConfig) concurrency() int {
	if cfg.MaxConcurrency > 0 {
		return cfg.MaxConcurrency
	}
	return multipart.DefaultMaxConcurrency
}

// PutBytes writes a whole in-memory payload in a single request.
func (c *Client) PutBytes(ctx context.Context, path string, data []byte, opts store.PutOptions) (store.PutResult, error) {
	return run(c, ctx, "put", func(ctx context.Context) (store.PutResult, error) {
		res, err := c.backend.Put(ctx, path, data, opts)
		if err == nil {
			c.metrics.AddBytesWritten(len(data))
		}
		return res, err
	})
}

// PutBytesAsync is the non-blocking form of PutBytes.
func (c *Client) PutBytesAsync(ctx context.Context, path string, data []byte, opts store.PutOptions) *engine.Pending[store.PutResult] {
	return submit(c, ctx, "put", func(ctx context.Context) (store.PutResult, error) {
		res, err := c.backend.Put(ctx, path, data, opts)
		if err == nil {
			c.metrics.AddBytesWritten(len(data))
		}
		return res, err
	})
}

// Put uploads from a reader. Small or conditional payloads go up in one
// request; large overwrites stream through the bounded multipart pipeline.
// Sources that cannot report a size are streamed multipart as well.
func (c *Client) Put(ctx context.Context, path string, body io.Reader, cfg PutConfig) (store.PutResult, error) {
	return run(c, ctx, "put", func(ctx context.Context) (store.PutResult, error) {
		return c.put(ctx, path, body, cfg)
	})
}

// PutAsync is the non-blocking form of Put.
func (c *Client) PutAsync(ctx context.Context, path string, body io.Reader, cfg PutConfig) *engine.Pending[store.PutResult] {
	return submit(c, ctx, "put", func(ctx context.Context) (store.PutResult, error) {
		return c.put(ctx, path, body, cfg)
	})
}

func (c *Client) put(ctx context.Context, path string, body io.Reader, cfg PutConfig) (store.PutResult, error) {
	size, sized := measure(body)

	// Conditional writes need the whole payload in one conditional request;
	// a multipart commit cannot carry the mode.
	single := cfg.Mode != store.ModeOverwrite ||
		(!cfg.ForceMultipart && sized && size <= int64(cfg.partSize()))
	if single {
		data, err := io.ReadAll(body)
		if err != nil {
			return store.PutResult{}, store.NewError(store.KindGeneric, c.backend.Scheme(), path, err)
		}
		res, err := c.backend.Put(ctx, path, data, cfg.PutOptions)
		if err == nil {
			c.metrics.AddBytesWritten(len(data))
		}
		return res, err
	}
	res, consumed, err := c.putMultipart(ctx, path, body, cfg)
	// Fall back to one whole-body request only while the source is untouched;
	// once parts were read a re-read would write a truncated tail.
	if store.IsNotSupported(err) && consumed == 0 {
		c.log.Debug("multipart unsupported, falling back to single put",
			"scheme", c.backend.Scheme(), "path", path)
		data, rerr := io.ReadAll(body)
		if rerr != nil {
			return store.PutResult{}, store.NewError(store.KindGeneric, c.backend.Scheme(), path, rerr)
		}
		res, err = c.backend.Put(ctx, path, data, cfg.PutOptions)
		if err == nil {
			c.metrics.AddBytesWritten(len(data))
		}
	}
	return res, err
}

// measure reports the remaining size of seekable sources.
func measure(r io.Reader) (int64, bool) {
	s, ok := r.(io.Seeker)
	if !ok {
		return 0, false
	}
	cur, err := s.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, false
	}
	end, err := s.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, false
	}
	if _, err := s.Seek(cur, io.SeekStart); err != nil {
		return 0, false
	}
	return end - cur, true
}

// putMultipart streams body through the pipeline. consumed reports the bytes
// pulled off the source, including on failure.
func (c *Client) putMultipart(ctx context.Context, path string, body io.Reader, cfg PutConfig) (res store.PutResult, consumed int, err error) {
	up, err := c.backend.StartMultipart(ctx, path, store.MultipartOptions{
		Attributes: cfg.Attributes,
		Tags:       cfg.Tags,
	})
	if err != nil {
		return store.PutResult{}, 0, err
	}
	pipe := multipart.New(ctx, up, cfg.concurrency())
	partSize := cfg.partSize()
	for {
		buf := make([]byte, partSize)
		n, rerr := io.ReadFull(body, buf)
		consumed += n
		if n > 0 {
			if werr := pipe.WritePart(ctx, buf[:n]); werr != nil {
				pipe.Abort(ctx)
				return store.PutResult{}, consumed, werr
			}
		}
		if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
			break
		}
		if rerr != nil {
			pipe.Abort(ctx)
			return store.PutResult{}, consumed, store.NewError(store.KindGeneric, c.backend.Scheme(), path, rerr)
		}
	}
	res, err = pipe.Finish(ctx)
	if err == nil {
		c.metrics.AddBytesWritten(consumed)
	}
	return res, consumed, err
}
