// Package memory implements an in-memory store.Backend. It supports the full
// operation set, including conditional requests, versions and multipart
// staging, and is the reference backend for tests and ephemeral use.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"objstack/pkg/store"
	"objstack/pkg/stream"
)

const scheme = "memory"

type object struct {
	data  []byte
	meta  store.ObjectMeta
	attrs store.Attributes
	tags  string
}

// Backend implements store.Backend in process memory.
type Backend struct {
	mu      sync.RWMutex
	objs    map[string]*object
	uploads map[string]*upload
}

// New returns an empty in-memory backend.
func New() *Backend {
	return &Backend{
		objs:    make(map[string]*object),
		uploads: make(map[string]*upload),
	}
}

// Scheme returns "memory".
func (b *Backend) Scheme() string { return scheme }

func etagOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (b *Backend) store(path string, data []byte, attrs store.Attributes, tags string) store.PutResult {
	meta := store.ObjectMeta{
		Path:         path,
		Size:         int64(len(data)),
		LastModified: time.Now().UTC(),
		ETag:         etagOf(data),
		Version:      uuid.NewString(),
	}
	b.objs[path] = &object{data: data, meta: meta, attrs: attrs.Clone(), tags: tags}
	return store.PutResult{ETag: meta.ETag, Version: meta.Version}
}

// Get retrieves an object, honoring conditionals, version pinning, byte
// ranges and head-only requests.
func (b *Backend) Get(ctx context.Context, path string, opts *store.GetOptions) (*store.GetResult, error) {
	path, err := store.CleanPath(scheme, path)
	if err != nil {
		return nil, err
	}
	b.mu.RLock()
	obj, ok := b.objs[path]
	b.mu.RUnlock()
	if !ok {
		return nil, store.Errorf(store.KindNotFound, scheme, path, "no such object")
	}
	if opts != nil && opts.Version != "" && opts.Version != obj.meta.Version {
		return nil, store.Errorf(store.KindNotFound, scheme, path, "no such version %q", opts.Version)
	}
	if err := store.CheckConditions(scheme, obj.meta, opts); err != nil {
		return nil, err
	}
	rng := store.Range{Start: 0, End: uint64(len(obj.data))}
	if opts != nil && opts.Range != nil {
		rng = opts.Range.Resolve(uint64(len(obj.data)))
	}
	if opts != nil && opts.Head {
		return store.NewGetResult(obj.meta, obj.attrs.Clone(), rng, nil), nil
	}
	body := append([]byte(nil), obj.data[rng.Start:rng.End]...)
	return store.NewGetResult(obj.meta, obj.attrs.Clone(), rng, stream.FromItems(body)), nil
}

// GetRanges retrieves the given canonical ranges, preserving order. Ranges
// are clamped to the object size.
func (b *Backend) GetRanges(ctx context.Context, path string, ranges []store.Range) ([][]byte, error) {
	path, err := store.CleanPath(scheme, path)
	if err != nil {
		return nil, err
	}
	b.mu.RLock()
	obj, ok := b.objs[path]
	b.mu.RUnlock()
	if !ok {
		return nil, store.Errorf(store.KindNotFound, scheme, path, "no such object")
	}
	out := make([][]byte, len(ranges))
	size := uint64(len(obj.data))
	for i, r := range ranges {
		end := min(r.End, size)
		start := min(r.Start, end)
		out[i] = append([]byte(nil), obj.data[start:end]...)
	}
	return out, nil
}

// Head returns object metadata.
func (b *Backend) Head(ctx context.Context, path string) (store.ObjectMeta, error) {
	path, err := store.CleanPath(scheme, path)
	if err != nil {
		return store.ObjectMeta{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.objs[path]
	if !ok {
		return store.ObjectMeta{}, store.Errorf(store.KindNotFound, scheme, path, "no such object")
	}
	return obj.meta, nil
}

// Put writes a whole object, honoring the put mode.
func (b *Backend) Put(ctx context.Context, path string, payload []byte, opts store.PutOptions) (store.PutResult, error) {
	path, err := store.CleanPath(scheme, path)
	if err != nil {
		return store.PutResult{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	existing, exists := b.objs[path]
	switch opts.Mode {
	case store.ModeCreate:
		if exists {
			return store.PutResult{}, store.Errorf(store.KindAlreadyExists, scheme, path, "object exists")
		}
	case store.ModeUpdate:
		if !exists {
			return store.PutResult{}, store.Errorf(store.KindNotFound, scheme, path, "no such object")
		}
		if (opts.Update.ETag != "" && opts.Update.ETag != existing.meta.ETag) ||
			(opts.Update.Version != "" && opts.Update.Version != existing.meta.Version) {
			return store.PutResult{}, store.Errorf(store.KindPrecondition, scheme, path, "object changed")
		}
	}
	data := append([]byte(nil), payload...)
	return b.store(path, data, opts.Attributes, opts.Tags.Encoded()), nil
}

// Delete removes an object.
func (b *Backend) Delete(ctx context.Context, path string) error {
	path, err := store.CleanPath(scheme, path)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objs[path]; !ok {
		return store.Errorf(store.KindNotFound, scheme, path, "no such object")
	}
	delete(b.objs, path)
	return nil
}

func (b *Backend) snapshot(prefix, offset string) []store.ObjectMeta {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var metas []store.ObjectMeta
	for p, o := range b.objs {
		if !store.UnderPrefix(p, prefix) {
			continue
		}
		if offset != "" && p <= offset {
			continue
		}
		metas = append(metas, o.meta)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Path < metas[j].Path })
	return metas
}

// List returns objects under prefix in path order, resuming after offset.
func (b *Backend) List(prefix, offset string) stream.Sequence[store.ObjectMeta] {
	var (
		once  sync.Once
		metas []store.ObjectMeta
		pos   int
	)
	return stream.SequenceFunc[store.ObjectMeta](func(ctx context.Context) (store.ObjectMeta, error) {
		once.Do(func() { metas = b.snapshot(prefix, offset) })
		if err := ctx.Err(); err != nil {
			return store.ObjectMeta{}, err
		}
		if pos >= len(metas) {
			return store.ObjectMeta{}, io.EOF
		}
		m := metas[pos]
		pos++
		return m, nil
	})
}

// ListWithDelimiter materializes a one-level listing under prefix.
func (b *Backend) ListWithDelimiter(ctx context.Context, prefix string) (store.ListResult, error) {
	return store.Delimit(b.snapshot(prefix, ""), strings.TrimSuffix(prefix, "/")), nil
}

// Copy duplicates an object.
func (b *Backend) Copy(ctx context.Context, from, to string, overwrite bool) error {
	from, err := store.CleanPath(scheme, from)
	if err != nil {
		return err
	}
	to, err = store.CleanPath(scheme, to)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	src, ok := b.objs[from]
	if !ok {
		return store.Errorf(store.KindNotFound, scheme, from, "no such object")
	}
	if _, exists := b.objs[to]; exists && !overwrite {
		return store.Errorf(store.KindAlreadyExists, scheme, to, "object exists")
	}
	data := append([]byte(nil), src.data...)
	b.store(to, data, src.attrs, src.tags)
	return nil
}

// Rename moves an object.
func (b *Backend) Rename(ctx context.Context, from, to string, overwrite bool) error {
	if err := b.Copy(ctx, from, to, overwrite); err != nil {
		return err
	}
	return b.Delete(ctx, from)
}

// SignURL is unsupported for the memory backend.
func (b *Backend) SignURL(ctx context.Context, method, path string, expires time.Duration) (string, error) {
	return "", store.Errorf(store.KindNotSupported, scheme, path, "url signing unsupported")
}
