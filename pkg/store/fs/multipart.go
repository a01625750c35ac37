package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"objstack/pkg/store"
)

type uploadManifest struct {
	Path       string            `json:"path"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Tags       string            `json:"tags,omitempty"`
}

type multipartUpload struct {
	b    *Backend
	id   string
	path string
	man  uploadManifest
}

func (b *Backend) uploadDir(id string) string {
	return filepath.Join(b.root, uploadsDir, id)
}

// StartMultipart stages parts under .uploads/<id>/ until Complete assembles
// them into the final object.
func (b *Backend) StartMultipart(ctx context.Context, path string, opts store.MultipartOptions) (store.MultipartUpload, error) {
	path, err := store.CleanPath(scheme, path)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	dir := b.uploadDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, store.NewError(store.KindGeneric, scheme, path, err)
	}
	man := uploadManifest{Path: path, Tags: opts.Tags.Encoded()}
	if len(opts.Attributes) > 0 {
		man.Attributes = make(map[string]string, len(opts.Attributes))
		for k, v := range opts.Attributes {
			man.Attributes[string(k)] = v
		}
	}
	raw, err := json.Marshal(man)
	if err != nil {
		return nil, store.NewError(store.KindGeneric, scheme, path, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), raw, 0o644); err != nil {
		return nil, store.NewError(store.KindGeneric, scheme, path, err)
	}
	return &multipartUpload{b: b, id: id, path: path, man: man}, nil
}

func (m *multipartUpload) partFile(number int) string {
	return filepath.Join(m.b.uploadDir(m.id), fmt.Sprintf("part-%06d", number))
}

func (m *multipartUpload) UploadPart(ctx context.Context, number int, data []byte) (store.CompletedPart, error) {
	if err := ctx.Err(); err != nil {
		return store.CompletedPart{}, err
	}
	if err := writeAtomic(m.partFile(number), data); err != nil {
		return store.CompletedPart{}, store.NewError(store.KindGeneric, scheme, m.path, err)
	}
	return store.CompletedPart{Number: number, ETag: etagOf(data)}, nil
}

func (m *multipartUpload) Complete(ctx context.Context, parts []store.CompletedPart) (store.PutResult, error) {
	sorted := append([]store.CompletedPart(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })
	var data []byte
	for _, p := range sorted {
		buf, err := os.ReadFile(m.partFile(p.Number))
		if err != nil {
			return store.PutResult{}, store.Errorf(store.KindGeneric, scheme, m.path, "upload %s missing part %d", m.id, p.Number)
		}
		data = append(data, buf...)
	}
	attrs := make(store.Attributes, len(m.man.Attributes))
	for k, v := range m.man.Attributes {
		attrs[store.Attribute(k)] = v
	}
	m.b.mu.Lock()
	res, err := m.b.commit(m.path, data, attrs, m.man.Tags)
	m.b.mu.Unlock()
	if err != nil {
		return store.PutResult{}, err
	}
	os.RemoveAll(m.b.uploadDir(m.id))
	return res, nil
}

func (m *multipartUpload) Abort(ctx context.Context) error {
	if err := os.RemoveAll(m.b.uploadDir(m.id)); err != nil {
		return store.NewError(store.KindGeneric, scheme, m.path, err)
	}
	return nil
}
