package client

import (
	"context"
	"io"

	"objstack/pkg/store"
	"objstack/pkg/stream"
)

// Reader gives random access to a remote object through ranged reads with a
// read-ahead buffer. It implements io.Reader, io.Seeker and io.ReaderAt.
// Reads past whatever the buffer holds fetch a fresh range, so sequential
// consumption costs one request per buffer fill.
type Reader struct {
	c         *Client
	ctx       context.Context
	path      string
	size      int64
	pos       int64
	buf       []byte
	bufStart  int64
	readAhead int64
}

// Open stats the object and returns a reader positioned at the start.
func (c *Client) Open(ctx context.Context, path string) (*Reader, error) {
	meta, err := c.Head(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Reader{
		c:         c,
		ctx:       ctx,
		path:      path,
		size:      meta.Size,
		readAhead: int64(stream.DefaultChunkSize),
	}, nil
}

// Size returns the object length observed at Open.
func (r *Reader) Size() int64 { return r.size }

// WithReadAhead sets the minimum bytes fetched per backend request.
func (r *Reader) WithReadAhead(n int64) *Reader {
	if n > 0 {
		r.readAhead = n
	}
	return r
}

func (r *Reader) fill(offset, want int64) error {
	n := max(want, r.readAhead)
	end := min(offset+n, r.size)
	if offset >= end {
		r.buf, r.bufStart = nil, offset
		return nil
	}
	spec := store.BoundedRange(uint64(offset), uint64(end))
	data, err := r.c.getRange(r.ctx, r.path, spec)
	if err != nil {
		return err
	}
	r.buf, r.bufStart = data, offset
	return nil
}

// ReadAt reads len(p) bytes from the given offset without moving the
// cursor.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if off >= r.size {
		return 0, io.EOF
	}
	total := 0
	for total < len(p) && off+int64(total) < r.size {
		pos := off + int64(total)
		if pos < r.bufStart || pos >= r.bufStart+int64(len(r.buf)) {
			if err := r.fill(pos, int64(len(p)-total)); err != nil {
				return total, err
			}
		}
		n := copy(p[total:], r.buf[pos-r.bufStart:])
		if n == 0 {
			break
		}
		total += n
	}
	if off+int64(total) >= r.size && total < len(p) {
		return total, io.EOF
	}
	return total, nil
}

// Read advances the cursor.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.ReadAt(p, r.pos)
	r.pos += int64(n)
	return n, err
}

// Seek repositions the cursor.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = r.pos + offset
	case io.SeekEnd:
		next = r.size + offset
	default:
		return 0, store.Errorf(store.KindGeneric, r.c.backend.Scheme(), r.path, "invalid whence %d", whence)
	}
	if next < 0 {
		return 0, store.Errorf(store.KindGeneric, r.c.backend.Scheme(), r.path, "negative seek position %d", next)
	}
	r.pos = next
	return next, nil
}

// Close releases the buffer. The reader must not be used afterwards.
func (r *Reader) Close() error {
	r.buf = nil
	return nil
}
