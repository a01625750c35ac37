// Package s3 implements a store.Backend on an S3-compatible service
// (AWS S3 or MinIO). Single bucket: object paths map to keys directly.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"objstack/pkg/store"
	"objstack/pkg/stream"
)

const scheme = "s3"

// Backend implements store.Backend over one bucket.
type Backend struct {
	client  *awss3.Client
	presign *awss3.PresignClient
	bucket  string
}

// Config holds explicit construction parameters (mostly for tests). For prod
// we rely primarily on environment variables and the default credential chain.
type Config struct {
	Region          string
	Bucket          string
	Endpoint        string // optional; if set enables custom endpoint (e.g. MinIO)
	AccessKeyID     string // optional (falls back to default credentials chain)
	SecretAccessKey string // optional
	SessionToken    string // optional
	PathStyle       bool
}

// Environment variables:
//   OBJSTACK_S3_BUCKET=<bucket> (required)
//   OBJSTACK_S3_REGION=<region> (default us-east-1)
//   OBJSTACK_S3_ENDPOINT=<url> (optional, for MinIO)
//   OBJSTACK_S3_PATH_STYLE=true|false (default false)
//   AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY / AWS_SESSION_TOKEN (optional)

// New creates an S3 backend from Config.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &Backend{client: client, presign: awss3.NewPresignClient(client), bucket: cfg.Bucket}, nil
}

// OpenFromEnv constructs an S3 backend from process environment.
func OpenFromEnv(ctx context.Context) (*Backend, error) {
	bucket := os.Getenv("OBJSTACK_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("OBJSTACK_S3_BUCKET required for s3 backend")
	}
	cfg := Config{
		Bucket:    bucket,
		Region:    os.Getenv("OBJSTACK_S3_REGION"),
		Endpoint:  os.Getenv("OBJSTACK_S3_ENDPOINT"),
		PathStyle: strings.EqualFold(os.Getenv("OBJSTACK_S3_PATH_STYLE"), "true"),
	}
	return New(ctx, cfg)
}

// ConfigFromMap builds a Config from string options, rejecting unknown keys.
func ConfigFromMap(bucket string, options map[string]string) (Config, error) {
	if err := store.ValidateConfig(scheme, options,
		"region", "endpoint", "access_key_id", "secret_access_key", "session_token", "path_style"); err != nil {
		return Config{}, err
	}
	return Config{
		Bucket:          bucket,
		Region:          options["region"],
		Endpoint:        options["endpoint"],
		AccessKeyID:     options["access_key_id"],
		SecretAccessKey: options["secret_access_key"],
		SessionToken:    options["session_token"],
		PathStyle:       store.ConfigBool(options, "path_style", false),
	}, nil
}

// Scheme returns "s3".
func (b *Backend) Scheme() string { return scheme }

// mapError translates SDK failures into kinded store errors.
func mapError(path string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchUpload", "NoSuchVersion":
			return store.NewError(store.KindNotFound, scheme, path, err)
		case "PreconditionFailed":
			return store.NewError(store.KindPrecondition, scheme, path, err)
		case "NotModified":
			return store.NewError(store.KindNotModified, scheme, path, err)
		case "AccessDenied":
			return store.NewError(store.KindPermissionDenied, scheme, path, err)
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "TokenRefreshRequired":
			return store.NewError(store.KindUnauthenticated, scheme, path, err)
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return store.NewError(store.KindNotFound, scheme, path, err)
		case http.StatusNotModified:
			return store.NewError(store.KindNotModified, scheme, path, err)
		case http.StatusPreconditionFailed:
			return store.NewError(store.KindPrecondition, scheme, path, err)
		case http.StatusForbidden:
			return store.NewError(store.KindPermissionDenied, scheme, path, err)
		case http.StatusUnauthorized:
			return store.NewError(store.KindUnauthenticated, scheme, path, err)
		}
	}
	return store.NewError(store.KindGeneric, scheme, path, err)
}

func trimETag(etag *string) string {
	return strings.Trim(aws.ToString(etag), "\"")
}

func applyAttributes(attrs store.Attributes, set func(store.Attribute, string)) {
	for k, v := range attrs {
		set(k, v)
	}
}

// Get retrieves an object via GetObject with conditional and Range headers.
func (b *Backend) Get(ctx context.Context, path string, opts *store.GetOptions) (*store.GetResult, error) {
	path, err := store.CleanPath(scheme, path)
	if err != nil {
		return nil, err
	}
	if opts != nil && opts.Head {
		meta, attrs, err := b.head(ctx, path, opts)
		if err != nil {
			return nil, err
		}
		rng := store.Range{Start: 0, End: uint64(meta.Size)}
		if opts.Range != nil {
			rng = opts.Range.Resolve(uint64(meta.Size))
		}
		return store.NewGetResult(meta, attrs, rng, nil), nil
	}
	input := &awss3.GetObjectInput{Bucket: &b.bucket, Key: &path}
	if opts != nil {
		if opts.IfMatch != "" {
			input.IfMatch = &opts.IfMatch
		}
		if opts.IfNoneMatch != "" {
			input.IfNoneMatch = &opts.IfNoneMatch
		}
		if !opts.IfModifiedSince.IsZero() {
			input.IfModifiedSince = &opts.IfModifiedSince
		}
		if !opts.IfUnmodifiedSince.IsZero() {
			input.IfUnmodifiedSince = &opts.IfUnmodifiedSince
		}
		if opts.Version != "" {
			input.VersionId = &opts.Version
		}
		if opts.Range != nil {
			header := opts.Range.HTTPHeader()
			input.Range = &header
		}
	}
	out, err := b.client.GetObject(ctx, input)
	if err != nil {
		return nil, mapError(path, err)
	}
	meta := store.ObjectMeta{
		Path:         path,
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
		ETag:         trimETag(out.ETag),
		Version:      aws.ToString(out.VersionId),
	}
	rng := store.Range{Start: 0, End: uint64(meta.Size)}
	if cr := aws.ToString(out.ContentRange); cr != "" {
		rng = parseContentRange(cr, &meta)
	}
	attrs := store.Attributes{}
	attrs.Set(store.AttrContentType, aws.ToString(out.ContentType))
	attrs.Set(store.AttrContentEncoding, aws.ToString(out.ContentEncoding))
	attrs.Set(store.AttrContentLanguage, aws.ToString(out.ContentLanguage))
	attrs.Set(store.AttrContentDisposition, aws.ToString(out.ContentDisposition))
	attrs.Set(store.AttrCacheControl, aws.ToString(out.CacheControl))
	return store.NewGetResult(meta, attrs, rng, stream.FromReader(out.Body, 0)), nil
}

// parseContentRange extracts the served span and, when the total is known,
// fixes up meta.Size to the full object length.
func parseContentRange(cr string, meta *store.ObjectMeta) store.Range {
	rng := store.Range{Start: 0, End: uint64(meta.Size)}
	rest, ok := strings.CutPrefix(cr, "bytes ")
	if !ok {
		return rng
	}
	span, total, ok := strings.Cut(rest, "/")
	if !ok {
		return rng
	}
	var start, end uint64
	if _, err := fmt.Sscanf(span, "%d-%d", &start, &end); err != nil {
		return rng
	}
	rng = store.Range{Start: start, End: end + 1}
	if total != "*" {
		var n int64
		if _, err := fmt.Sscanf(total, "%d", &n); err == nil {
			meta.Size = n
		}
	}
	return rng
}

// GetRanges issues one ranged GetObject per canonical range.
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

func (b *Backend) head(ctx context.Context, path string, opts *store.GetOptions) (store.ObjectMeta, store.Attributes, error) {
	input := &awss3.HeadObjectInput{Bucket: &b.bucket, Key: &path}
	if opts != nil {
		if opts.IfMatch != "" {
			input.IfMatch = &opts.IfMatch
		}
		if opts.IfNoneMatch != "" {
			input.IfNoneMatch = &opts.IfNoneMatch
		}
		if opts.Version != "" {
			input.VersionId = &opts.Version
		}
	}
	out, err := b.client.HeadObject(ctx, input)
	if err != nil {
		return store.ObjectMeta{}, nil, mapError(path, err)
	}
	meta := store.ObjectMeta{
		Path:         path,
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
		ETag:         trimETag(out.ETag),
		Version:      aws.ToString(out.VersionId),
	}
	attrs := store.Attributes{}
	attrs.Set(store.AttrContentType, aws.ToString(out.ContentType))
	attrs.Set(store.AttrCacheControl, aws.ToString(out.CacheControl))
	return meta, attrs, nil
}

// Head returns object metadata via HeadObject.
func (b *Backend) Head(ctx context.Context, path string) (store.ObjectMeta, error) {
	path, err := store.CleanPath(scheme, path)
	if err != nil {
		return store.ObjectMeta{}, err
	}
	meta, _, err := b.head(ctx, path, nil)
	return meta, err
}

// Put writes a whole object. Create mode uses a conditional write
// (If-None-Match: *) and update mode a conditional If-Match.
func (b *Backend) Put(ctx context.Context, path string, payload []byte, opts store.PutOptions) (store.PutResult, error) {
	path, err := store.CleanPath(scheme, path)
	if err != nil {
		return store.PutResult{}, err
	}
	input := &awss3.PutObjectInput{Bucket: &b.bucket, Key: &path, Body: bytes.NewReader(payload)}
	input.ContentLength = aws.Int64(int64(len(payload)))
	applyAttributes(opts.Attributes, func(k store.Attribute, v string) {
		switch k {
		case store.AttrContentType:
			input.ContentType = &v
		case store.AttrContentEncoding:
			input.ContentEncoding = &v
		case store.AttrContentLanguage:
			input.ContentLanguage = &v
		case store.AttrContentDisposition:
			input.ContentDisposition = &v
		case store.AttrCacheControl:
			input.CacheControl = &v
		}
	})
	if tags := opts.Tags.Encoded(); tags != "" {
		input.Tagging = &tags
	}
	switch opts.Mode {
	case store.ModeCreate:
		input.IfNoneMatch = aws.String("*")
	case store.ModeUpdate:
		if opts.Update.ETag == "" {
			return store.PutResult{}, store.Errorf(store.KindNotSupported, scheme, path, "update mode requires an etag on s3")
		}
		etag := opts.Update.ETag
		input.IfMatch = &etag
	}
	out, err := b.client.PutObject(ctx, input)
	if err != nil {
		err = mapError(path, err)
		if opts.Mode == store.ModeCreate && store.IsPrecondition(err) {
			return store.PutResult{}, store.Errorf(store.KindAlreadyExists, scheme, path, "object exists")
		}
		if opts.Mode == store.ModeUpdate && store.IsNotFound(err) {
			return store.PutResult{}, store.Errorf(store.KindNotFound, scheme, path, "no such object")
		}
		return store.PutResult{}, err
	}
	return store.PutResult{ETag: trimETag(out.ETag), Version: aws.ToString(out.VersionId)}, nil
}

// Delete removes an object. S3 deletes are idempotent, so a missing key
// does not error.
func (b *Backend) Delete(ctx context.Context, path string) error {
	path, err := store.CleanPath(scheme, path)
	if err != nil {
		return err
	}
	if _, err := b.client.DeleteObject(ctx, &awss3.DeleteObjectInput{Bucket: &b.bucket, Key: &path}); err != nil {
		return mapError(path, err)
	}
	return nil
}

func metaFromObject(obj types.Object) store.ObjectMeta {
	return store.ObjectMeta{
		Path:         aws.ToString(obj.Key),
		Size:         aws.ToInt64(obj.Size),
		LastModified: aws.ToTime(obj.LastModified),
		ETag:         trimETag(obj.ETag),
	}
}

// List pages through ListObjectsV2 lazily, one SDK call per exhausted page.
func (b *Backend) List(prefix, offset string) stream.Sequence[store.ObjectMeta] {
	input := &awss3.ListObjectsV2Input{Bucket: &b.bucket}
	if prefix != "" {
		p := strings.TrimSuffix(prefix, "/") + "/"
		input.Prefix = &p
	}
	if offset != "" {
		input.StartAfter = &offset
	}
	var (
		page []store.ObjectMeta
		pos  int
		done bool
	)
	return stream.SequenceFunc[store.ObjectMeta](func(ctx context.Context) (store.ObjectMeta, error) {
		for pos >= len(page) {
			if done {
				return store.ObjectMeta{}, io.EOF
			}
			out, err := b.client.ListObjectsV2(ctx, input)
			if err != nil {
				return store.ObjectMeta{}, mapError(prefix, err)
			}
			page = page[:0]
			for _, obj := range out.Contents {
				page = append(page, metaFromObject(obj))
			}
			pos = 0
			if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
				input.ContinuationToken = out.NextContinuationToken
			} else {
				done = true
			}
		}
		m := page[pos]
		pos++
		return m, nil
	})
}

// ListWithDelimiter issues delimited ListObjectsV2 calls and folds the
// server-side common prefixes.
func (b *Backend) ListWithDelimiter(ctx context.Context, prefix string) (store.ListResult, error) {
	input := &awss3.ListObjectsV2Input{Bucket: &b.bucket, Delimiter: aws.String("/")}
	if prefix != "" {
		p := strings.TrimSuffix(prefix, "/") + "/"
		input.Prefix = &p
	}
	var res store.ListResult
	for {
		out, err := b.client.ListObjectsV2(ctx, input)
		if err != nil {
			return store.ListResult{}, mapError(prefix, err)
		}
		for _, obj := range out.Contents {
			res.Objects = append(res.Objects, metaFromObject(obj))
		}
		for _, cp := range out.CommonPrefixes {
			res.CommonPrefixes = append(res.CommonPrefixes, strings.TrimSuffix(aws.ToString(cp.Prefix), "/"))
		}
		if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
			input.ContinuationToken = out.NextContinuationToken
			continue
		}
		return res, nil
	}
}

// Copy issues a server-side CopyObject. Without overwrite, existence of the
// destination is checked first; S3 copies have no native conditional.
func (b *Backend) Copy(ctx context.Context, from, to string, overwrite bool) error {
	from, err := store.CleanPath(scheme, from)
	if err != nil {
		return err
	}
	to, err = store.CleanPath(scheme, to)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, _, err := b.head(ctx, to, nil); err == nil {
			return store.Errorf(store.KindAlreadyExists, scheme, to, "object exists")
		} else if !store.IsNotFound(err) {
			return err
		}
	}
	source := b.bucket + "/" + from
	if _, err := b.client.CopyObject(ctx, &awss3.CopyObjectInput{
		Bucket:     &b.bucket,
		Key:        &to,
		CopySource: &source,
	}); err != nil {
		return mapError(from, err)
	}
	return nil
}

// Rename copies then deletes; S3 has no native move.
func (b *Backend) Rename(ctx context.Context, from, to string, overwrite bool) error {
	if err := b.Copy(ctx, from, to, overwrite); err != nil {
		return err
	}
	return b.Delete(ctx, from)
}

// SignURL returns a presigned URL for GET, PUT, HEAD or DELETE.
func (b *Backend) SignURL(ctx context.Context, method, path string, expires time.Duration) (string, error) {
	path, err := store.CleanPath(scheme, path)
	if err != nil {
		return "", err
	}
	if expires <= 0 {
		expires = 15 * time.Minute
	}
	withExpiry := func(po *awss3.PresignOptions) { po.Expires = expires }
	switch strings.ToUpper(method) {
	case "", http.MethodGet:
		out, err := b.presign.PresignGetObject(ctx, &awss3.GetObjectInput{Bucket: &b.bucket, Key: &path}, withExpiry)
		if err != nil {
			return "", mapError(path, err)
		}
		return out.URL, nil
	case http.MethodPut:
		out, err := b.presign.PresignPutObject(ctx, &awss3.PutObjectInput{Bucket: &b.bucket, Key: &path}, withExpiry)
		if err != nil {
			return "", mapError(path, err)
		}
		return out.URL, nil
	case http.MethodHead:
		out, err := b.presign.PresignHeadObject(ctx, &awss3.HeadObjectInput{Bucket: &b.bucket, Key: &path}, withExpiry)
		if err != nil {
			return "", mapError(path, err)
		}
		return out.URL, nil
	case http.MethodDelete:
		out, err := b.presign.PresignDeleteObject(ctx, &awss3.DeleteObjectInput{Bucket: &b.bucket, Key: &path}, withExpiry)
		if err != nil {
			return "", mapError(path, err)
		}
		return out.URL, nil
	default:
		return "", store.Errorf(store.KindNotSupported, scheme, path, "cannot sign %s requests", method)
	}
}
