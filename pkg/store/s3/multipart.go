package s3

import (
	"bytes"
	"context"
	"sort"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"objstack/pkg/store"
)

type multipartUpload struct {
	b    *Backend
	path string
	id   string
}

// StartMultipart begins a native S3 multipart upload.
func (b *Backend) StartMultipart(ctx context.Context, path string, opts store.MultipartOptions) (store.MultipartUpload, error) {
	path, err := store.CleanPath(scheme, path)
	if err != nil {
		return nil, err
	}
	input := &awss3.CreateMultipartUploadInput{Bucket: &b.bucket, Key: &path}
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
	out, err := b.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return nil, mapError(path, err)
	}
	return &multipartUpload{b: b, path: path, id: aws.ToString(out.UploadId)}, nil
}

func (m *multipartUpload) UploadPart(ctx context.Context, number int, data []byte) (store.CompletedPart, error) {
	out, err := m.b.client.UploadPart(ctx, &awss3.UploadPartInput{
		Bucket:        &m.b.bucket,
		Key:           &m.path,
		UploadId:      &m.id,
		PartNumber:    aws.Int32(int32(number)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return store.CompletedPart{}, mapError(m.path, err)
	}
	return store.CompletedPart{Number: number, ETag: trimETag(out.ETag)}, nil
}

func (m *multipartUpload) Complete(ctx context.Context, parts []store.CompletedPart) (store.PutResult, error) {
	sorted := append([]store.CompletedPart(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })
	completed := make([]types.CompletedPart, len(sorted))
	for i, p := range sorted {
		etag := p.ETag
		completed[i] = types.CompletedPart{PartNumber: aws.Int32(int32(p.Number)), ETag: &etag}
	}
	out, err := m.b.client.CompleteMultipartUpload(ctx, &awss3.CompleteMultipartUploadInput{
		Bucket:          &m.b.bucket,
		Key:             &m.path,
		UploadId:        &m.id,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return store.PutResult{}, mapError(m.path, err)
	}
	return store.PutResult{ETag: trimETag(out.ETag), Version: aws.ToString(out.VersionId)}, nil
}

func (m *multipartUpload) Abort(ctx context.Context) error {
	if _, err := m.b.client.AbortMultipartUpload(ctx, &awss3.AbortMultipartUploadInput{
		Bucket:   &m.b.bucket,
		Key:      &m.path,
		UploadId: &m.id,
	}); err != nil {
		return mapError(m.path, err)
	}
	return nil
}
