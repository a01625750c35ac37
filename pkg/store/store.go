// Package store defines the backend capability interface and the shared data
// model of the objstack client: object metadata, attributes and tags, put
// modes, get options, byte-range specifications and the error taxonomy.
//
// Semantics intentionally mirror a minimal common denominator of cloud blob
// stores so that an S3 adapter can be nearly 1:1 while filesystem, database
// and in-memory adapters emulate them.
package store

import (
	"context"
	"time"

	"objstack/pkg/stream"
)

// ObjectMeta describes a stored object.
type ObjectMeta struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	ETag         string    `json:"e_tag,omitempty"`
	Version      string    `json:"version,omitempty"`
}

// PutResult identifies the object written by a put or a multipart commit.
type PutResult struct {
	ETag    string `json:"e_tag,omitempty"`
	Version string `json:"version,omitempty"`
}

// ListResult is a fully materialized delimited listing: the objects directly
// under a prefix plus the common prefixes one level below it.
type ListResult struct {
	CommonPrefixes []string     `json:"common_prefixes"`
	Objects        []ObjectMeta `json:"objects"`
}

// CompletedPart records one uploaded part for the commit manifest. Number is
// the part's logical position (1-based), not its completion order.
type CompletedPart struct {
	Number int
	ETag   string
}

// MultipartUpload is an in-progress multipart write at a backend. Parts may
// be uploaded concurrently; Complete commits the manifest atomically, Abort
// discards the staged parts. Exactly one of Complete or Abort terminates the
// upload.
type MultipartUpload interface {
	UploadPart(ctx context.Context, number int, data []byte) (CompletedPart, error)
	Complete(ctx context.Context, parts []CompletedPart) (PutResult, error)
	Abort(ctx context.Context) error
}

// Backend is the capability interface implemented by every storage backend.
// Operations that a backend cannot express return an Error of kind
// KindNotSupported.
type Backend interface {
	// Scheme returns the URL scheme the backend serves (e.g. "s3").
	Scheme() string
	// Get retrieves an object, optionally range-restricted and conditioned.
	Get(ctx context.Context, path string, opts *GetOptions) (*GetResult, error)
	// GetRanges retrieves multiple canonical byte ranges of one object,
	// preserving request order.
	GetRanges(ctx context.Context, path string, ranges []Range) ([][]byte, error)
	// Head returns object metadata without a body.
	Head(ctx context.Context, path string) (ObjectMeta, error)
	// Put writes a whole object in one request, honoring the put mode.
	Put(ctx context.Context, path string, payload []byte, opts PutOptions) (PutResult, error)
	// StartMultipart begins a multipart write; the returned upload carries
	// the attribute and tag metadata through to the commit.
	StartMultipart(ctx context.Context, path string, opts MultipartOptions) (MultipartUpload, error)
	// Delete removes an object. Deleting a missing object is KindNotFound.
	Delete(ctx context.Context, path string) error
	// List returns a sequence of objects under prefix in ascending path
	// order, resuming after offset when non-empty. The sequence performs no
	// I/O until pulled.
	List(prefix, offset string) stream.Sequence[ObjectMeta]
	// ListWithDelimiter materializes a one-level listing under prefix.
	ListWithDelimiter(ctx context.Context, prefix string) (ListResult, error)
	// Copy duplicates an object. With overwrite false an occupied destination
	// is KindAlreadyExists.
	Copy(ctx context.Context, from, to string, overwrite bool) error
	// Rename moves an object, with the same overwrite contract as Copy.
	Rename(ctx context.Context, from, to string, overwrite bool) error
	// SignURL returns a time-limited URL granting method on path.
	SignURL(ctx context.Context, method, path string, expires time.Duration) (string, error)
}
