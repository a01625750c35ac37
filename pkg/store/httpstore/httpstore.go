// Package httpstore implements a store.Backend against a plain HTTP server.
// Objects map to URLs under a base endpoint: GET/HEAD/PUT/DELETE carry the
// object operations, conditional and Range headers carry the options.
// Listing and multipart are not supported by plain HTTP.
package httpstore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"objstack/pkg/store"
	"objstack/pkg/stream"
)

const scheme = "http"

// Backend talks to a single HTTP endpoint.
type Backend struct {
	base   *url.URL
	client *http.Client
}

// New returns a backend for the given base URL. A nil client uses
// http.DefaultClient.
func New(base string, client *http.Client) (*Backend, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, store.NewError(store.KindInvalidPath, scheme, base, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, store.Errorf(store.KindInvalidPath, scheme, base, "unsupported scheme %q", u.Scheme)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Backend{base: u, client: client}, nil
}

// Scheme returns "http".
func (b *Backend) Scheme() string { return scheme }

func (b *Backend) objectURL(path string) string {
	u := *b.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + path
	return u.String()
}

// kindFromStatus maps an HTTP response status to an error kind.
func kindFromStatus(status int) store.Kind {
	switch status {
	case http.StatusNotFound:
		return store.KindNotFound
	case http.StatusNotModified:
		return store.KindNotModified
	case http.StatusPreconditionFailed:
		return store.KindPrecondition
	case http.StatusConflict:
		return store.KindAlreadyExists
	case http.StatusForbidden:
		return store.KindPermissionDenied
	case http.StatusUnauthorized:
		return store.KindUnauthenticated
	default:
		return store.KindGeneric
	}
}

func statusError(path string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return store.Errorf(kindFromStatus(resp.StatusCode), scheme, path,
		"unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body)))
}

func applyConditions(h http.Header, opts *store.GetOptions) {
	if opts == nil {
		return
	}
	if opts.IfMatch != "" {
		h.Set("If-Match", opts.IfMatch)
	}
	if opts.IfNoneMatch != "" {
		h.Set("If-None-Match", opts.IfNoneMatch)
	}
	if !opts.IfModifiedSince.IsZero() {
		h.Set("If-Modified-Since", opts.IfModifiedSince.UTC().Format(http.TimeFormat))
	}
	if !opts.IfUnmodifiedSince.IsZero() {
		h.Set("If-Unmodified-Since", opts.IfUnmodifiedSince.UTC().Format(http.TimeFormat))
	}
	if opts.Range != nil {
		h.Set("Range", opts.Range.HTTPHeader())
	}
}

func metaFromHeader(path string, h http.Header, contentLength int64) store.ObjectMeta {
	meta := store.ObjectMeta{Path: path, Size: contentLength, ETag: h.Get("Etag")}
	if lm := h.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			meta.LastModified = t
		}
	}
	return meta
}

func attrsFromHeader(h http.Header) store.Attributes {
	attrs := store.Attributes{}
	for _, a := range []store.Attribute{
		store.AttrContentType, store.AttrContentEncoding, store.AttrContentLanguage,
		store.AttrContentDisposition, store.AttrCacheControl,
	} {
		if v := h.Get(string(a)); v != "" {
			attrs[a] = v
		}
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

// rangeFromResponse derives the returned byte range from the response.
func rangeFromResponse(resp *http.Response) store.Range {
	if resp.StatusCode == http.StatusPartialContent {
		// Content-Range: bytes <start>-<end>/<total>
		cr := resp.Header.Get("Content-Range")
		if rest, ok := strings.CutPrefix(cr, "bytes "); ok {
			if span, _, ok := strings.Cut(rest, "/"); ok {
				if s, e, ok := strings.Cut(span, "-"); ok {
					start, err1 := strconv.ParseUint(s, 10, 64)
					end, err2 := strconv.ParseUint(e, 10, 64)
					if err1 == nil && err2 == nil {
						return store.Range{Start: start, End: end + 1}
					}
				}
			}
		}
	}
	n := uint64(0)
	if resp.ContentLength > 0 {
		n = uint64(resp.ContentLength)
	}
	return store.Range{Start: 0, End: n}
}

// Get issues a GET (or HEAD for head-only requests) with conditional and
// Range headers derived from opts.
func (b *Backend) Get(ctx context.Context, path string, opts *store.GetOptions) (*store.GetResult, error) {
	path, err := store.CleanPath(scheme, path)
	if err != nil {
		return nil, err
	}
	if opts != nil && opts.Version != "" {
		return nil, store.Errorf(store.KindNotSupported, scheme, path, "versioned reads unsupported")
	}
	method := http.MethodGet
	if opts != nil && opts.Head {
		method = http.MethodHead
	}
	req, err := http.NewRequestWithContext(ctx, method, b.objectURL(path), nil)
	if err != nil {
		return nil, store.NewError(store.KindGeneric, scheme, path, err)
	}
	applyConditions(req.Header, opts)
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, store.NewError(store.KindGeneric, scheme, path, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		defer resp.Body.Close()
		return nil, statusError(path, resp)
	}
	meta := metaFromHeader(path, resp.Header, resp.ContentLength)
	rng := rangeFromResponse(resp)
	if rng.Len() > 0 && meta.Size < int64(rng.Len()) {
		meta.Size = int64(rng.Len())
	}
	if method == http.MethodHead {
		resp.Body.Close()
		return store.NewGetResult(meta, attrsFromHeader(resp.Header), rng, nil), nil
	}
	return store.NewGetResult(meta, attrsFromHeader(resp.Header), rng, stream.FromReader(resp.Body, 0)), nil
}

// GetRanges issues one ranged GET per canonical range.
func (b *Backend) GetRanges(ctx context.Context, path string, ranges []store.Range) ([][]byte, error) {
	out := make([][]byte, len(ranges))
	for i, r := range ranges {
		if r.Len() == 0 {
			out[i] = nil
			continue
		}
		spec := store.BoundedRange(r.Start, r.End)
		res, err := b.Get(ctx, path, &store.GetOptions{Range: &spec})
		if err != nil {
			return nil, err
		}
		data, err := res.Bytes(ctx)
		if err != nil {
			return nil, err
		}
		out[i] = data
	}
	return out, nil
}

// Head issues a HEAD request.
func (b *Backend) Head(ctx context.Context, path string) (store.ObjectMeta, error) {
	res, err := b.Get(ctx, path, &store.GetOptions{Head: true})
	if err != nil {
		return store.ObjectMeta{}, err
	}
	return res.Meta, nil
}

// Put issues a PUT. Create mode is expressed with If-None-Match: * and
// update mode with If-Match, for servers that honor them.
func (b *Backend) Put(ctx context.Context, path string, payload []byte, opts store.PutOptions) (store.PutResult, error) {
	path, err := store.CleanPath(scheme, path)
	if err != nil {
		return store.PutResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.objectURL(path), bytes.NewReader(payload))
	if err != nil {
		return store.PutResult{}, store.NewError(store.KindGeneric, scheme, path, err)
	}
	for k, v := range opts.Attributes {
		req.Header.Set(string(k), v)
	}
	switch opts.Mode {
	case store.ModeCreate:
		req.Header.Set("If-None-Match", "*")
	case store.ModeUpdate:
		if opts.Update.ETag == "" {
			return store.PutResult{}, store.Errorf(store.KindNotSupported, scheme, path, "update mode requires an etag over http")
		}
		req.Header.Set("If-Match", opts.Update.ETag)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return store.PutResult{}, store.NewError(store.KindGeneric, scheme, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if opts.Mode == store.ModeCreate && resp.StatusCode == http.StatusPreconditionFailed {
			return store.PutResult{}, store.Errorf(store.KindAlreadyExists, scheme, path, "object exists")
		}
		return store.PutResult{}, statusError(path, resp)
	}
	return store.PutResult{ETag: resp.Header.Get("Etag")}, nil
}

// StartMultipart is unsupported over plain HTTP; callers fall back to a
// single PUT.
func (b *Backend) StartMultipart(ctx context.Context, path string, opts store.MultipartOptions) (store.MultipartUpload, error) {
	return nil, store.Errorf(store.KindNotSupported, scheme, path, "multipart upload unsupported")
}

// Delete issues a DELETE.
func (b *Backend) Delete(ctx context.Context, path string) error {
	path, err := store.CleanPath(scheme, path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, b.objectURL(path), nil)
	if err != nil {
		return store.NewError(store.KindGeneric, scheme, path, err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return store.NewError(store.KindGeneric, scheme, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(path, resp)
	}
	return nil
}

// List is unsupported over plain HTTP.
func (b *Backend) List(prefix, offset string) stream.Sequence[store.ObjectMeta] {
	return stream.Fail[store.ObjectMeta](store.Errorf(store.KindNotSupported, scheme, prefix, "listing unsupported"))
}

// ListWithDelimiter is unsupported over plain HTTP.
func (b *Backend) ListWithDelimiter(ctx context.Context, prefix string) (store.ListResult, error) {
	return store.ListResult{}, store.Errorf(store.KindNotSupported, scheme, prefix, "listing unsupported")
}

// Copy issues a COPY request with a Destination header, the WebDAV way.
func (b *Backend) Copy(ctx context.Context, from, to string, overwrite bool) error {
	from, err := store.CleanPath(scheme, from)
	if err != nil {
		return err
	}
	to, err = store.CleanPath(scheme, to)
	if err != nil {
		return err
	}
	return b.davCopyMove(ctx, "COPY", from, to, overwrite)
}

// Rename issues a MOVE request with a Destination header.
func (b *Backend) Rename(ctx context.Context, from, to string, overwrite bool) error {
	from, err := store.CleanPath(scheme, from)
	if err != nil {
		return err
	}
	to, err = store.CleanPath(scheme, to)
	if err != nil {
		return err
	}
	return b.davCopyMove(ctx, "MOVE", from, to, overwrite)
}

func (b *Backend) davCopyMove(ctx context.Context, method, from, to string, overwrite bool) error {
	req, err := http.NewRequestWithContext(ctx, method, b.objectURL(from), nil)
	if err != nil {
		return store.NewError(store.KindGeneric, scheme, from, err)
	}
	req.Header.Set("Destination", b.objectURL(to))
	if overwrite {
		req.Header.Set("Overwrite", "T")
	} else {
		req.Header.Set("Overwrite", "F")
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return store.NewError(store.KindGeneric, scheme, from, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented:
		return store.Errorf(store.KindNotSupported, scheme, from, "%s unsupported by server", method)
	case resp.StatusCode == http.StatusPreconditionFailed:
		return store.Errorf(store.KindAlreadyExists, scheme, to, "object exists")
	default:
		return statusError(from, resp)
	}
}

// SignURL returns the plain object URL; HTTP endpoints carry no signing.
func (b *Backend) SignURL(ctx context.Context, method, path string, expires time.Duration) (string, error) {
	path, err := store.CleanPath(scheme, path)
	if err != nil {
		return "", err
	}
	return b.objectURL(path), nil
}
