// Package fs implements a store.Backend on a local directory tree. Object
// bytes live in regular files, metadata in JSON sidecars, and writes go
// through a temp file plus rename so readers never see partial content.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"objstack/pkg/store"
	"objstack/pkg/stream"
)

const (
	scheme     = "file"
	metaSuffix = ".meta"
	uploadsDir = ".uploads"
)

type sidecar struct {
	Size         int64             `json:"size"`
	LastModified time.Time         `json:"last_modified"`
	ETag         string            `json:"etag"`
	Version      string            `json:"version"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	Tags         string            `json:"tags,omitempty"`
}

// Backend stores objects under a root directory.
type Backend struct {
	root string
	mu   sync.RWMutex
}

// New creates the root directory if needed and returns a backend over it.
func New(root string) (*Backend, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create root: %w", err)
	}
	return &Backend{root: abs}, nil
}

// Scheme returns "file".
func (b *Backend) Scheme() string { return scheme }

func (b *Backend) dataPath(path string) string {
	return filepath.Join(b.root, filepath.FromSlash(path))
}

func (b *Backend) metaPath(path string) string {
	return b.dataPath(path) + metaSuffix
}

func etagOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (b *Backend) readSidecar(path string) (sidecar, error) {
	raw, err := os.ReadFile(b.metaPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return sidecar{}, store.Errorf(store.KindNotFound, scheme, path, "no such object")
		}
		return sidecar{}, store.NewError(store.KindGeneric, scheme, path, err)
	}
	var sc sidecar
	if err := json.Unmarshal(raw, &sc); err != nil {
		return sidecar{}, store.NewError(store.KindGeneric, scheme, path, fmt.Errorf("decode sidecar: %w", err))
	}
	return sc, nil
}

func (sc sidecar) meta(path string) store.ObjectMeta {
	return store.ObjectMeta{
		Path:         path,
		Size:         sc.Size,
		LastModified: sc.LastModified,
		ETag:         sc.ETag,
		Version:      sc.Version,
	}
}

func (sc sidecar) attributes() store.Attributes {
	if len(sc.Attributes) == 0 {
		return nil
	}
	attrs := make(store.Attributes, len(sc.Attributes))
	for k, v := range sc.Attributes {
		attrs[store.Attribute(k)] = v
	}
	return attrs
}

// writeAtomic writes data to target via a temp file in the same directory
// and an atomic rename.
func writeAtomic(target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (b *Backend) commit(path string, data []byte, attrs store.Attributes, tags string) (store.PutResult, error) {
	sc := sidecar{
		Size:         int64(len(data)),
		LastModified: time.Now().UTC(),
		ETag:         etagOf(data),
		Version:      uuid.NewString(),
		Tags:         tags,
	}
	if len(attrs) > 0 {
		sc.Attributes = make(map[string]string, len(attrs))
		for k, v := range attrs {
			sc.Attributes[string(k)] = v
		}
	}
	raw, err := json.Marshal(sc)
	if err != nil {
		return store.PutResult{}, store.NewError(store.KindGeneric, scheme, path, err)
	}
	if err := writeAtomic(b.dataPath(path), data); err != nil {
		return store.PutResult{}, store.NewError(store.KindGeneric, scheme, path, err)
	}
	if err := writeAtomic(b.metaPath(path), raw); err != nil {
		return store.PutResult{}, store.NewError(store.KindGeneric, scheme, path, err)
	}
	return store.PutResult{ETag: sc.ETag, Version: sc.Version}, nil
}

// Get retrieves an object, honoring conditionals, byte ranges and
// head-only requests.
func (b *Backend) Get(ctx context.Context, path string, opts *store.GetOptions) (*store.GetResult, error) {
	path, err := store.CleanPath(scheme, path)
	if err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	sc, err := b.readSidecar(path)
	if err != nil {
		return nil, err
	}
	meta := sc.meta(path)
	if opts != nil && opts.Version != "" && opts.Version != meta.Version {
		return nil, store.Errorf(store.KindNotFound, scheme, path, "no such version %q", opts.Version)
	}
	if err := store.CheckConditions(scheme, meta, opts); err != nil {
		return nil, err
	}
	rng := store.Range{Start: 0, End: uint64(meta.Size)}
	if opts != nil && opts.Range != nil {
		rng = opts.Range.Resolve(uint64(meta.Size))
	}
	if opts != nil && opts.Head {
		return store.NewGetResult(meta, sc.attributes(), rng, nil), nil
	}
	f, err := os.Open(b.dataPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.Errorf(store.KindNotFound, scheme, path, "no such object")
		}
		return nil, store.NewError(store.KindGeneric, scheme, path, err)
	}
	if rng.Start > 0 {
		if _, err := f.Seek(int64(rng.Start), io.SeekStart); err != nil {
			f.Close()
			return nil, store.NewError(store.KindGeneric, scheme, path, err)
		}
	}
	body := io.NopCloser(io.LimitReader(f, int64(rng.Len())))
	return store.NewGetResult(meta, sc.attributes(), rng, stream.FromReader(&fileBody{Reader: body, f: f}, 0)), nil
}

// fileBody keeps the underlying *os.File alive until the stream closes it.
type fileBody struct {
	io.Reader
	f *os.File
}

func (fb *fileBody) Close() error { return fb.f.Close() }

// GetRanges reads the given canonical ranges, clamped to the object size.
func (b *Backend) GetRanges(ctx context.Context, path string, ranges []store.Range) ([][]byte, error) {
	path, err := store.CleanPath(scheme, path)
	if err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	sc, err := b.readSidecar(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(b.dataPath(path))
	if err != nil {
		return nil, store.NewError(store.KindGeneric, scheme, path, err)
	}
	defer f.Close()
	size := uint64(sc.Size)
	out := make([][]byte, len(ranges))
	for i, r := range ranges {
		end := min(r.End, size)
		start := min(r.Start, end)
		buf := make([]byte, end-start)
		if _, err := f.ReadAt(buf, int64(start)); err != nil && err != io.EOF {
			return nil, store.NewError(store.KindGeneric, scheme, path, err)
		}
		out[i] = buf
	}
	return out, nil
}

// Head returns object metadata from the sidecar.
func (b *Backend) Head(ctx context.Context, path string) (store.ObjectMeta, error) {
	path, err := store.CleanPath(scheme, path)
	if err != nil {
		return store.ObjectMeta{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	sc, err := b.readSidecar(path)
	if err != nil {
		return store.ObjectMeta{}, err
	}
	return sc.meta(path), nil
}

// Put writes a whole object, honoring the put mode.
func (b *Backend) Put(ctx context.Context, path string, payload []byte, opts store.PutOptions) (store.PutResult, error) {
	path, err := store.CleanPath(scheme, path)
	if err != nil {
		return store.PutResult{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	existing, lookupErr := b.readSidecar(path)
	exists := lookupErr == nil
	if lookupErr != nil && !store.IsNotFound(lookupErr) {
		return store.PutResult{}, lookupErr
	}
	switch opts.Mode {
	case store.ModeCreate:
		if exists {
			return store.PutResult{}, store.Errorf(store.KindAlreadyExists, scheme, path, "object exists")
		}
	case store.ModeUpdate:
		if !exists {
			return store.PutResult{}, store.Errorf(store.KindNotFound, scheme, path, "no such object")
		}
		if (opts.Update.ETag != "" && opts.Update.ETag != existing.ETag) ||
			(opts.Update.Version != "" && opts.Update.Version != existing.Version) {
			return store.PutResult{}, store.Errorf(store.KindPrecondition, scheme, path, "object changed")
		}
	}
	return b.commit(path, payload, opts.Attributes, opts.Tags.Encoded())
}

// Delete removes an object and its sidecar.
func (b *Backend) Delete(ctx context.Context, path string) error {
	path, err := store.CleanPath(scheme, path)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := os.Stat(b.metaPath(path)); os.IsNotExist(err) {
		return store.Errorf(store.KindNotFound, scheme, path, "no such object")
	}
	if err := os.Remove(b.dataPath(path)); err != nil && !os.IsNotExist(err) {
		return store.NewError(store.KindGeneric, scheme, path, err)
	}
	if err := os.Remove(b.metaPath(path)); err != nil {
		return store.NewError(store.KindGeneric, scheme, path, err)
	}
	return nil
}

func (b *Backend) walk(prefix, offset string) ([]store.ObjectMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var metas []store.ObjectMeta
	err := filepath.WalkDir(b.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == uploadsDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(p, metaSuffix) {
			return nil
		}
		rel, err := filepath.Rel(b.root, strings.TrimSuffix(p, metaSuffix))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !store.UnderPrefix(key, prefix) {
			return nil
		}
		if offset != "" && key <= offset {
			return nil
		}
		sc, err := b.readSidecar(key)
		if err != nil {
			return err
		}
		metas = append(metas, sc.meta(key))
		return nil
	})
	if err != nil {
		return nil, store.NewError(store.KindGeneric, scheme, prefix, err)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Path < metas[j].Path })
	return metas, nil
}

// List walks the tree lazily on first pull and yields objects in path order.
func (b *Backend) List(prefix, offset string) stream.Sequence[store.ObjectMeta] {
	var (
		once    sync.Once
		metas   []store.ObjectMeta
		walkErr error
		pos     int
	)
	return stream.SequenceFunc[store.ObjectMeta](func(ctx context.Context) (store.ObjectMeta, error) {
		once.Do(func() { metas, walkErr = b.walk(prefix, offset) })
		if walkErr != nil {
			return store.ObjectMeta{}, walkErr
		}
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
	metas, err := b.walk(prefix, "")
	if err != nil {
		return store.ListResult{}, err
	}
	return store.Delimit(metas, strings.TrimSuffix(prefix, "/")), nil
}

// Copy duplicates an object and its metadata, assigning a fresh version.
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
	sc, err := b.readSidecar(from)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(b.metaPath(to)); err == nil {
			return store.Errorf(store.KindAlreadyExists, scheme, to, "object exists")
		}
	}
	data, err := os.ReadFile(b.dataPath(from))
	if err != nil {
		return store.NewError(store.KindGeneric, scheme, from, err)
	}
	_, err = b.commit(to, data, sc.attributes(), sc.Tags)
	return err
}

// Rename moves an object.
func (b *Backend) Rename(ctx context.Context, from, to string, overwrite bool) error {
	if err := b.Copy(ctx, from, to, overwrite); err != nil {
		return err
	}
	return b.Delete(ctx, from)
}

// SignURL is unsupported for the filesystem backend.
func (b *Backend) SignURL(ctx context.Context, method, path string, expires time.Duration) (string, error) {
	return "", store.Errorf(store.KindNotSupported, scheme, path, "url signing unsupported")
}
