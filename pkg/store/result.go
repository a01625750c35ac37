package store

import (
	"context"
	"sync"

	"objstack/pkg/stream"
)

// GetResult is the handle returned by a get. Metadata, attributes and the
// resolved range are available immediately; the body may be consumed exactly
// once, either whole via Bytes or incrementally via Stream.
type GetResult struct {
	Meta       ObjectMeta
	Attributes Attributes
	// Range is the resolved half-open byte range the body covers.
	Range Range

	mu   sync.Mutex
	body stream.Sequence[[]byte]
}

// NewGetResult is used by backends to assemble a get result. A nil body is
// treated as empty (head requests).
func NewGetResult(meta ObjectMeta, attrs Attributes, rng Range, body stream.Sequence[[]byte]) *GetResult {
	if body == nil {
		body = stream.FromItems[[]byte]()
	}
	return &GetResult{Meta: meta, Attributes: attrs, Range: rng, body: body}
}

func (r *GetResult) take() (stream.Sequence[[]byte], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.body == nil {
		return nil, Errorf(KindGeneric, "", r.Meta.Path, "get result body already consumed")
	}
	b := r.body
	r.body = nil
	return b, nil
}

// Bytes materializes the whole body into one buffer.
func (r *GetResult) Bytes(ctx context.Context) ([]byte, error) {
	body, err := r.take()
	if err != nil {
		return nil, err
	}
	return stream.NewByteStream(body, stream.DefaultChunkSize).Bytes(ctx)
}

// Stream opens the body as an aggregating byte stream. A minChunkSize of
// zero or less selects the 10 MiB default.
func (r *GetResult) Stream(minChunkSize int) (*stream.ByteStream, error) {
	body, err := r.take()
	if err != nil {
		return nil, err
	}
	return stream.NewByteStream(body, minChunkSize), nil
}
