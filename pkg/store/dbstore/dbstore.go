// Package dbstore implements a store.Backend on a SQL database. Object bytes
// and metadata live in one table, staged multipart parts in another. Postgres
// (via pgx) and SQLite (via the pure-Go driver) are supported; the driver is
// picked from the DSN.
package dbstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"objstack/pkg/store"
	"objstack/pkg/stream"
)

const scheme = "db"

// Backend stores objects in two SQL tables.
type Backend struct {
	db     *sql.DB
	driver string
	mu     sync.Mutex
}

// DriverForDSN picks the database/sql driver name from the connection string.
func DriverForDSN(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "pgx"
	}
	return "sqlite"
}

// Open connects to the database and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Backend, error) {
	driver := DriverForDSN(dsn)
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	b := &Backend{db: db, driver: driver}
	if err := b.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// Close releases the connection pool.
func (b *Backend) Close() error { return b.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (b *Backend) DB() *sql.DB { return b.db }

func (b *Backend) ensureSchema(ctx context.Context) error {
	blob := "BLOB"
	if b.driver == "pgx" {
		blob = "BYTEA"
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS objects (
			path TEXT PRIMARY KEY,
			data %s NOT NULL,
			size BIGINT NOT NULL,
			last_modified TIMESTAMP NOT NULL,
			etag TEXT NOT NULL,
			version TEXT NOT NULL,
			attributes TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT ''
		)`, blob),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS upload_parts (
			upload_id TEXT NOT NULL,
			part_number INTEGER NOT NULL,
			data %s NOT NULL,
			etag TEXT NOT NULL,
			PRIMARY KEY (upload_id, part_number)
		)`, blob),
		`CREATE TABLE IF NOT EXISTS uploads (
			upload_id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			attributes TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (b *Backend) rebind(query string) string {
	if b.driver != "pgx" {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Scheme returns "db".
func (b *Backend) Scheme() string { return scheme }

func etagOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type row struct {
	data  []byte
	meta  store.ObjectMeta
	attrs string
	tags  string
}

func (b *Backend) fetch(ctx context.Context, path string) (*row, error) {
	r := &row{meta: store.ObjectMeta{Path: path}}
	err := b.db.QueryRowContext(ctx,
		b.rebind(`SELECT data, size, last_modified, etag, version, attributes, tags FROM objects WHERE path = ?`),
		path,
	).Scan(&r.data, &r.meta.Size, &r.meta.LastModified, &r.meta.ETag, &r.meta.Version, &r.attrs, &r.tags)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.Errorf(store.KindNotFound, scheme, path, "no such object")
	}
	if err != nil {
		return nil, store.NewError(store.KindGeneric, scheme, path, err)
	}
	return r, nil
}

func (b *Backend) upsert(ctx context.Context, path string, data []byte, attrs, tags string) (store.PutResult, error) {
	meta := store.ObjectMeta{
		Size:         int64(len(data)),
		LastModified: time.Now().UTC(),
		ETag:         etagOf(data),
		Version:      uuid.NewString(),
	}
	_, err := b.db.ExecContext(ctx, b.rebind(
		`INSERT INTO objects (path, data, size, last_modified, etag, version, attributes, tags)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (path) DO UPDATE SET
		   data = excluded.data, size = excluded.size, last_modified = excluded.last_modified,
		   etag = excluded.etag, version = excluded.version,
		   attributes = excluded.attributes, tags = excluded.tags`),
		path, data, meta.Size, meta.LastModified, meta.ETag, meta.Version, attrs, tags)
	if err != nil {
		return store.PutResult{}, store.NewError(store.KindGeneric, scheme, path, err)
	}
	return store.PutResult{ETag: meta.ETag, Version: meta.Version}, nil
}

func decodeAttrs(s string) store.Attributes {
	if s == "" {
		return nil
	}
	attrs := store.Attributes{}
	for _, pair := range strings.Split(s, "\n") {
		if k, v, ok := strings.Cut(pair, "="); ok {
			attrs[store.Attribute(k)] = v
		}
	}
	return attrs
}

func encodeAttrs(attrs store.Attributes) string {
	if len(attrs) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(attrs))
	for k, v := range attrs {
		pairs = append(pairs, string(k)+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "\n")
}

// Get retrieves an object, honoring conditionals, byte ranges and head-only
// requests.
func (b *Backend) Get(ctx context.Context, path string, opts *store.GetOptions) (*store.GetResult, error) {
	path, err := store.CleanPath(scheme, path)
	if err != nil {
		return nil, err
	}
	r, err := b.fetch(ctx, path)
	if err != nil {
		return nil, err
	}
	if opts != nil && opts.Version != "" && opts.Version != r.meta.Version {
		return nil, store.Errorf(store.KindNotFound, scheme, path, "no such version %q", opts.Version)
	}
	if err := store.CheckConditions(scheme, r.meta, opts); err != nil {
		return nil, err
	}
	rng := store.Range{Start: 0, End: uint64(len(r.data))}
	if opts != nil && opts.Range != nil {
		rng = opts.Range.Resolve(uint64(len(r.data)))
	}
	if opts != nil && opts.Head {
		return store.NewGetResult(r.meta, decodeAttrs(r.attrs), rng, nil), nil
	}
	return store.NewGetResult(r.meta, decodeAttrs(r.attrs), rng, stream.FromItems(r.data[rng.Start:rng.End])), nil
}

// GetRanges retrieves the given canonical ranges, clamped to the object size.
func (b *Backend) GetRanges(ctx context.Context, path string, ranges []store.Range) ([][]byte, error) {
	path, err := store.CleanPath(scheme, path)
	if err != nil {
		return nil, err
	}
	r, err := b.fetch(ctx, path)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(ranges))
	size := uint64(len(r.data))
	for i, rg := range ranges {
		end := min(rg.End, size)
		start := min(rg.Start, end)
		out[i] = append([]byte(nil), r.data[start:end]...)
	}
	return out, nil
}

// Head returns object metadata without loading the payload.
func (b *Backend) Head(ctx context.Context, path string) (store.ObjectMeta, error) {
	path, err := store.CleanPath(scheme, path)
	if err != nil {
		return store.ObjectMeta{}, err
	}
	meta := store.ObjectMeta{Path: path}
	err = b.db.QueryRowContext(ctx,
		b.rebind(`SELECT size, last_modified, etag, version FROM objects WHERE path = ?`),
		path,
	).Scan(&meta.Size, &meta.LastModified, &meta.ETag, &meta.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ObjectMeta{}, store.Errorf(store.KindNotFound, scheme, path, "no such object")
	}
	if err != nil {
		return store.ObjectMeta{}, store.NewError(store.KindGeneric, scheme, path, err)
	}
	return meta, nil
}

// Put writes a whole object, honoring the put mode. Mode checks and the
// write share one lock rather than a transaction; both drivers serialize
// writers anyway.
func (b *Backend) Put(ctx context.Context, path string, payload []byte, opts store.PutOptions) (store.PutResult, error) {
	path, err := store.CleanPath(scheme, path)
	if err != nil {
		return store.PutResult{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	existing, lookupErr := b.Head(ctx, path)
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
	return b.upsert(ctx, path, payload, encodeAttrs(opts.Attributes), opts.Tags.Encoded())
}

// Delete removes an object.
func (b *Backend) Delete(ctx context.Context, path string) error {
	path, err := store.CleanPath(scheme, path)
	if err != nil {
		return err
	}
	res, err := b.db.ExecContext(ctx, b.rebind(`DELETE FROM objects WHERE path = ?`), path)
	if err != nil {
		return store.NewError(store.KindGeneric, scheme, path, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.Errorf(store.KindNotFound, scheme, path, "no such object")
	}
	return nil
}

func (b *Backend) listMetas(ctx context.Context, prefix, offset string) ([]store.ObjectMeta, error) {
	rows, err := b.db.QueryContext(ctx, b.rebind(
		`SELECT path, size, last_modified, etag, version FROM objects WHERE path > ? ORDER BY path`), offset)
	if err != nil {
		return nil, store.NewError(store.KindGeneric, scheme, prefix, err)
	}
	defer rows.Close()
	var metas []store.ObjectMeta
	for rows.Next() {
		var m store.ObjectMeta
		if err := rows.Scan(&m.Path, &m.Size, &m.LastModified, &m.ETag, &m.Version); err != nil {
			return nil, store.NewError(store.KindGeneric, scheme, prefix, err)
		}
		if store.UnderPrefix(m.Path, prefix) {
			metas = append(metas, m)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewError(store.KindGeneric, scheme, prefix, err)
	}
	return metas, nil
}

// List queries lazily on first pull and yields objects in path order.
func (b *Backend) List(prefix, offset string) stream.Sequence[store.ObjectMeta] {
	var (
		once    sync.Once
		metas   []store.ObjectMeta
		loadErr error
		pos     int
	)
	return stream.SequenceFunc[store.ObjectMeta](func(ctx context.Context) (store.ObjectMeta, error) {
		once.Do(func() { metas, loadErr = b.listMetas(ctx, prefix, offset) })
		if loadErr != nil {
			return store.ObjectMeta{}, loadErr
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
	metas, err := b.listMetas(ctx, prefix, "")
	if err != nil {
		return store.ListResult{}, err
	}
	return store.Delimit(metas, strings.TrimSuffix(prefix, "/")), nil
}

// Copy duplicates an object, assigning a fresh version.
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
	src, err := b.fetch(ctx, from)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := b.Head(ctx, to); err == nil {
			return store.Errorf(store.KindAlreadyExists, scheme, to, "object exists")
		} else if !store.IsNotFound(err) {
			return err
		}
	}
	_, err = b.upsert(ctx, to, src.data, src.attrs, src.tags)
	return err
}

// Rename moves an object.
func (b *Backend) Rename(ctx context.Context, from, to string, overwrite bool) error {
	if err := b.Copy(ctx, from, to, overwrite); err != nil {
		return err
	}
	return b.Delete(ctx, from)
}

// SignURL is unsupported for the database backend.
func (b *Backend) SignURL(ctx context.Context, method, path string, expires time.Duration) (string, error) {
	return "", store.Errorf(store.KindNotSupported, scheme, path, "url signing unsupported")
}
