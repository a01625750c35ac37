package dbstore

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/google/uuid"

	"objstack/pkg/store"
)

type multipartUpload struct {
	b    *Backend
	id   string
	path string
}

// StartMultipart registers an upload row; parts accumulate in upload_parts
// until Complete assembles them into the objects table.
func (b *Backend) StartMultipart(ctx context.Context, path string, opts store.MultipartOptions) (store.MultipartUpload, error) {
	path, err := store.CleanPath(scheme, path)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	if _, err := b.db.ExecContext(ctx, b.rebind(
		`INSERT INTO uploads (upload_id, path, attributes, tags) VALUES (?, ?, ?, ?)`),
		id, path, encodeAttrs(opts.Attributes), opts.Tags.Encoded()); err != nil {
		return nil, store.NewError(store.KindGeneric, scheme, path, err)
	}
	return &multipartUpload{b: b, id: id, path: path}, nil
}

func (m *multipartUpload) UploadPart(ctx context.Context, number int, data []byte) (store.CompletedPart, error) {
	etag := etagOf(data)
	if _, err := m.b.db.ExecContext(ctx, m.b.rebind(
		`INSERT INTO upload_parts (upload_id, part_number, data, etag) VALUES (?, ?, ?, ?)
		 ON CONFLICT (upload_id, part_number) DO UPDATE SET data = excluded.data, etag = excluded.etag`),
		m.id, number, data, etag); err != nil {
		return store.CompletedPart{}, store.NewError(store.KindGeneric, scheme, m.path, err)
	}
	return store.CompletedPart{Number: number, ETag: etag}, nil
}

func (m *multipartUpload) Complete(ctx context.Context, parts []store.CompletedPart) (store.PutResult, error) {
	var attrs, tags string
	err := m.b.db.QueryRowContext(ctx, m.b.rebind(
		`SELECT attributes, tags FROM uploads WHERE upload_id = ?`), m.id).Scan(&attrs, &tags)
	if errors.Is(err, sql.ErrNoRows) {
		return store.PutResult{}, store.Errorf(store.KindNotFound, scheme, m.path, "no such upload %s", m.id)
	}
	if err != nil {
		return store.PutResult{}, store.NewError(store.KindGeneric, scheme, m.path, err)
	}
	sorted := append([]store.CompletedPart(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })
	var data []byte
	for _, p := range sorted {
		var buf []byte
		err := m.b.db.QueryRowContext(ctx, m.b.rebind(
			`SELECT data FROM upload_parts WHERE upload_id = ? AND part_number = ?`), m.id, p.Number).Scan(&buf)
		if errors.Is(err, sql.ErrNoRows) {
			return store.PutResult{}, store.Errorf(store.KindGeneric, scheme, m.path, "upload %s missing part %d", m.id, p.Number)
		}
		if err != nil {
			return store.PutResult{}, store.NewError(store.KindGeneric, scheme, m.path, err)
		}
		data = append(data, buf...)
	}
	m.b.mu.Lock()
	res, err := m.b.upsert(ctx, m.path, data, attrs, tags)
	m.b.mu.Unlock()
	if err != nil {
		return store.PutResult{}, err
	}
	m.cleanup(ctx)
	return res, nil
}

func (m *multipartUpload) Abort(ctx context.Context) error {
	m.cleanup(ctx)
	return nil
}

func (m *multipartUpload) cleanup(ctx context.Context) {
	m.b.db.ExecContext(ctx, m.b.rebind(`DELETE FROM upload_parts WHERE upload_id = ?`), m.id)
	m.b.db.ExecContext(ctx, m.b.rebind(`DELETE FROM uploads WHERE upload_id = ?`), m.id)
}
