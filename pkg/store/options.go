package store

import "time"

// PutMode selects the write discipline of a whole-object put.
type PutMode uint8

const (
	// ModeOverwrite unconditionally replaces any existing object. Default.
	ModeOverwrite PutMode = iota
	// ModeCreate writes only if the path is unoccupied; otherwise the put
	// fails with KindAlreadyExists.
	ModeCreate
	// ModeUpdate replaces the object only while it still matches the pinned
	// Update revision; otherwise the put fails with KindPrecondition.
	ModeUpdate
)

// UpdateVersion pins the revision a ModeUpdate put replaces. At least one of
// ETag or Version must be set.
type UpdateVersion struct {
	ETag    string
	Version string
}

// PutOptions configures a whole-object put.
type PutOptions struct {
	Attributes Attributes
	Tags       TagSet
	Mode       PutMode
	Update     UpdateVersion // consulted only for ModeUpdate
}

// MultipartOptions carries the metadata applied when a multipart upload is
// committed.
type MultipartOptions struct {
	Attributes Attributes
	Tags       TagSet
}

// GetOptions constrains a get request. The zero value requests the whole
// current object unconditionally.
type GetOptions struct {
	// IfMatch makes the request succeed only if the object's etag matches.
	// Mismatch is KindPrecondition.
	IfMatch string
	// IfNoneMatch fails the request with KindNotModified when the etag
	// matches.
	IfNoneMatch string
	// IfModifiedSince fails with KindNotModified unless the object changed
	// after the given time.
	IfModifiedSince time.Time
	// IfUnmodifiedSince fails with KindPrecondition if the object changed
	// after the given time.
	IfUnmodifiedSince time.Time
	// Range restricts the returned body to the given byte range.
	Range *RangeSpec
	// Version requests a specific object version where supported.
	Version string
	// Head requests metadata only; the result carries an empty body.
	Head bool
}

// CheckConditions evaluates the conditional headers of opts against meta,
// mirroring RFC 9110 precedence. Backends without native conditional support
// call this after loading metadata.
func CheckConditions(scheme string, meta ObjectMeta, opts *GetOptions) error {
	if opts == nil {
		return nil
	}
	if opts.IfMatch != "" && opts.IfMatch != meta.ETag {
		return Errorf(KindPrecondition, scheme, meta.Path, "etag %q does not match %q", meta.ETag, opts.IfMatch)
	}
	if !opts.IfUnmodifiedSince.IsZero() && meta.LastModified.After(opts.IfUnmodifiedSince) {
		return Errorf(KindPrecondition, scheme, meta.Path, "object modified at %s", meta.LastModified.Format(time.RFC3339))
	}
	if opts.IfNoneMatch != "" && opts.IfNoneMatch == meta.ETag {
		return Errorf(KindNotModified, scheme, meta.Path, "etag %q matches", meta.ETag)
	}
	if !opts.IfModifiedSince.IsZero() && !meta.LastModified.After(opts.IfModifiedSince) {
		return Errorf(KindNotModified, scheme, meta.Path, "object unchanged since %s", opts.IfModifiedSince.Format(time.RFC3339))
	}
	return nil
}
