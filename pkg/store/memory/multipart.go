package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"objstack/pkg/store"
)

type upload struct {
	mu    sync.Mutex
	path  string
	attrs store.Attributes
	tags  string
	parts map[int][]byte
	done  bool
}

type multipartUpload struct {
	b  *Backend
	id string
	up *upload
}

// StartMultipart begins a staged upload. Parts are held in memory until
// Complete assembles them into the final object.
func (b *Backend) StartMultipart(ctx context.Context, path string, opts store.MultipartOptions) (store.MultipartUpload, error) {
	path, err := store.CleanPath(scheme, path)
	if err != nil {
		return nil, err
	}
	up := &upload{
		path:  path,
		attrs: opts.Attributes.Clone(),
		tags:  opts.Tags.Encoded(),
		parts: make(map[int][]byte),
	}
	id := uuid.NewString()
	b.mu.Lock()
	b.uploads[id] = up
	b.mu.Unlock()
	return &multipartUpload{b: b, id: id, up: up}, nil
}

func (m *multipartUpload) UploadPart(ctx context.Context, number int, data []byte) (store.CompletedPart, error) {
	if err := ctx.Err(); err != nil {
		return store.CompletedPart{}, err
	}
	m.up.mu.Lock()
	defer m.up.mu.Unlock()
	if m.up.done {
		return store.CompletedPart{}, store.Errorf(store.KindGeneric, scheme, m.up.path, "upload %s already finished", m.id)
	}
	buf := append([]byte(nil), data...)
	m.up.parts[number] = buf
	return store.CompletedPart{Number: number, ETag: etagOf(buf)}, nil
}

func (m *multipartUpload) Complete(ctx context.Context, parts []store.CompletedPart) (store.PutResult, error) {
	m.up.mu.Lock()
	defer m.up.mu.Unlock()
	if m.up.done {
		return store.PutResult{}, store.Errorf(store.KindGeneric, scheme, m.up.path, "upload %s already finished", m.id)
	}
	sorted := append([]store.CompletedPart(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })
	var data []byte
	for _, p := range sorted {
		buf, ok := m.up.parts[p.Number]
		if !ok {
			return store.PutResult{}, store.Errorf(store.KindGeneric, scheme, m.up.path, "upload %s missing part %d", m.id, p.Number)
		}
		data = append(data, buf...)
	}
	m.up.done = true
	m.b.mu.Lock()
	defer m.b.mu.Unlock()
	delete(m.b.uploads, m.id)
	return m.b.store(m.up.path, data, m.up.attrs, m.up.tags), nil
}

func (m *multipartUpload) Abort(ctx context.Context) error {
	m.up.mu.Lock()
	m.up.done = true
	m.up.parts = nil
	m.up.mu.Unlock()
	m.b.mu.Lock()
	delete(m.b.uploads, m.id)
	m.b.mu.Unlock()
	return nil
}
