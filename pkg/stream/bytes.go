package stream

import "context"

// DefaultChunkSize is the minimum aggregation size of a ByteStream pull.
const DefaultChunkSize = 10 * 1024 * 1024

// ByteStream is the byte-payload specialization of Cursor: each pull drains
// the underlying chunk sequence until at least the configured minimum number
// of bytes has accumulated, then returns them as one contiguous buffer.
type ByteStream struct {
	cur      *Cursor[[]byte]
	minChunk int
}

// NewByteStream wraps a chunk sequence. A minChunkSize of zero or less
// selects DefaultChunkSize.
func NewByteStream(src Sequence[[]byte], minChunkSize int) *ByteStream {
	if minChunkSize <= 0 {
		minChunkSize = DefaultChunkSize
	}
	return &ByteStream{
		cur:      NewWeighted(src, func(b []byte) int { return len(b) }),
		minChunk: minChunkSize,
	}
}

// Next returns the next aggregated chunk of at least the minimum size (the
// final chunk may be smaller), or ErrExhausted after the last chunk has been
// delivered.
func (s *ByteStream) Next(ctx context.Context) ([]byte, error) {
	frags, err := s.cur.PullBatch(ctx, s.minChunk)
	if err != nil {
		return nil, err
	}
	return flatten(frags), nil
}

// Bytes materializes everything remaining in the stream into one buffer. An
// exhausted or empty stream yields an empty buffer.
func (s *ByteStream) Bytes(ctx context.Context) ([]byte, error) {
	frags, err := s.cur.Collect(ctx)
	if err != nil {
		return nil, err
	}
	return flatten(frags), nil
}

// flatten copies the accumulated fragments into one contiguous buffer. Each
// fragment is copied exactly once; a single fragment is returned as is.
func flatten(frags [][]byte) []byte {
	if len(frags) == 1 {
		return frags[0]
	}
	total := 0
	for _, f := range frags {
		total += len(f)
	}
	out := make([]byte, total)
	off := 0
	for _, f := range frags {
		off += copy(out[off:], f)
	}
	return out
}
