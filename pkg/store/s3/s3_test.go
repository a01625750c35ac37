package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"testing"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"objstack/pkg/store"
)

// mockRoundTripper provides a tiny fake S3 subset sufficient to exercise the
// backend without network access.
type mockRoundTripper struct {
	state   map[string][]byte
	uploads map[string]map[int][]byte
	nextID  int
}

func newMock() *mockRoundTripper {
	return &mockRoundTripper{state: map[string][]byte{}, uploads: map[string]map[int][]byte{}}
}

func xmlResp(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": {"application/xml"}},
	}
}

func emptyResp(status int, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(nil)), Header: header}
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	q := req.URL.Query()
	switch {
	case req.Method == http.MethodGet && q.Get("list-type") == "2":
		return m.list(q), nil
	case req.Method == http.MethodPost && q.Has("uploads"):
		m.nextID++
		id := fmt.Sprintf("upload-%d", m.nextID)
		m.uploads[id] = map[int][]byte{}
		return xmlResp(200, fmt.Sprintf(
			"<?xml version=\"1.0\"?><InitiateMultipartUploadResult><Bucket>test-bucket</Bucket><Key>%s</Key><UploadId>%s</UploadId></InitiateMultipartUploadResult>", key, id)), nil
	case req.Method == http.MethodPut && q.Has("partNumber"):
		id := q.Get("uploadId")
		up, ok := m.uploads[id]
		if !ok {
			return xmlResp(404, "<?xml version=\"1.0\"?><Error><Code>NoSuchUpload</Code></Error>"), nil
		}
		var n int
		fmt.Sscanf(q.Get("partNumber"), "%d", &n)
		body, _ := io.ReadAll(req.Body)
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
		up[n] = body
		return emptyResp(200, http.Header{"Etag": {fmt.Sprintf("%q", fmt.Sprintf("part-%d", n))}}), nil
	case req.Method == http.MethodPost && q.Has("uploadId"):
		id := q.Get("uploadId")
		up, ok := m.uploads[id]
		if !ok {
			return xmlResp(404, "<?xml version=\"1.0\"?><Error><Code>NoSuchUpload</Code></Error>"), nil
		}
		var numbers []int
		for n := range up {
			numbers = append(numbers, n)
		}
		sort.Ints(numbers)
		var assembled []byte
		for _, n := range numbers {
			assembled = append(assembled, up[n]...)
		}
		m.state[key] = assembled
		delete(m.uploads, id)
		return xmlResp(200, fmt.Sprintf(
			"<?xml version=\"1.0\"?><CompleteMultipartUploadResult><Key>%s</Key><ETag>\"assembled\"</ETag></CompleteMultipartUploadResult>", key)), nil
	case req.Method == http.MethodDelete && q.Has("uploadId"):
		delete(m.uploads, q.Get("uploadId"))
		return emptyResp(204, nil), nil
	case req.Method == http.MethodPut && req.Header.Get("X-Amz-Copy-Source") != "":
		srcParts := strings.SplitN(strings.TrimPrefix(req.Header.Get("X-Amz-Copy-Source"), "/"), "/", 2)
		data, ok := m.state[srcParts[1]]
		if !ok {
			return xmlResp(404, "<?xml version=\"1.0\"?><Error><Code>NoSuchKey</Code></Error>"), nil
		}
		m.state[key] = append([]byte(nil), data...)
		return xmlResp(200, "<?xml version=\"1.0\"?><CopyObjectResult><ETag>\"copied\"</ETag></CopyObjectResult>"), nil
	case req.Method == http.MethodPut:
		if req.Header.Get("If-None-Match") == "*" {
			if _, exists := m.state[key]; exists {
				return xmlResp(412, "<?xml version=\"1.0\"?><Error><Code>PreconditionFailed</Code></Error>"), nil
			}
		}
		body, _ := io.ReadAll(req.Body)
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
		m.state[key] = body
		return emptyResp(200, http.Header{"Etag": {"\"etag\""}}), nil
	case req.Method == http.MethodHead:
		data, ok := m.state[key]
		if !ok {
			return emptyResp(404, nil), nil
		}
		return emptyResp(200, http.Header{
			"Content-Length": {fmt.Sprintf("%d", len(data))},
			"Etag":           {"\"etag\""},
			"Last-Modified":  {"Mon, 01 Jan 2024 00:00:00 GMT"},
		}), nil
	case req.Method == http.MethodGet:
		data, ok := m.state[key]
		if !ok {
			return xmlResp(404, "<?xml version=\"1.0\"?><Error><Code>NoSuchKey</Code></Error>"), nil
		}
		if inm := req.Header.Get("If-None-Match"); inm == "\"etag\"" {
			return emptyResp(304, nil), nil
		}
		header := http.Header{
			"Etag":          {"\"etag\""},
			"Last-Modified": {"Mon, 01 Jan 2024 00:00:00 GMT"},
		}
		status := 200
		if rng := req.Header.Get("Range"); rng != "" {
			var start, end int
			if _, err := fmt.Sscanf(rng, "bytes=%d-%d", &start, &end); err == nil {
				if end >= len(data) {
					end = len(data) - 1
				}
				header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
				data = data[start : end+1]
				status = 206
			}
		}
		header.Set("Content-Length", fmt.Sprintf("%d", len(data)))
		return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(data)), Header: header}, nil
	case req.Method == http.MethodDelete:
		delete(m.state, key)
		return emptyResp(204, nil), nil
	}
	return emptyResp(501, nil), nil
}

func (m *mockRoundTripper) list(q map[string][]string) *http.Response {
	get := func(k string) string {
		if v, ok := q[k]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}
	prefix, after, delim := get("prefix"), get("start-after"), get("delimiter")
	var keys []string
	for k := range m.state {
		if prefix != "" && !strings.HasPrefix(k, prefix) {
			continue
		}
		if after != "" && k <= after {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\"?><ListBucketResult><IsTruncated>false</IsTruncated>")
	seen := map[string]bool{}
	for _, k := range keys {
		if delim != "" {
			rest := strings.TrimPrefix(k, prefix)
			if i := strings.Index(rest, delim); i >= 0 {
				cp := prefix + rest[:i+1]
				if !seen[cp] {
					seen[cp] = true
					fmt.Fprintf(&b, "<CommonPrefixes><Prefix>%s</Prefix></CommonPrefixes>", cp)
				}
				continue
			}
		}
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified><ETag>\"etag\"</ETag></Contents>", k, len(m.state[k]))
	}
	b.WriteString("</ListBucketResult>")
	return xmlResp(200, b.String())
}

// decodeChunked unwraps an aws-chunked request body when the SDK signs the
// payload in streaming form.
func decodeChunked(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 {
		return nil, false
	}
	sizeHex, _, _ := strings.Cut(parts[0], ";")
	n, err := strconv.ParseInt(sizeHex, 16, 64)
	if err != nil || n <= 0 {
		return nil, false
	}
	if int64(len(parts[1])) != n {
		return nil, false
	}
	return []byte(parts[1]), true
}

func newMockBackend(t *testing.T) (*Backend, *mockRoundTripper) {
	t.Helper()
	rt := newMock()
	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	if err != nil {
		t.Fatalf("cfg: %v", err)
	}
	client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		o.BaseEndpoint = aws.String("https://mock.s3.local")
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
	})
	return &Backend{client: client, presign: awss3.NewPresignClient(client), bucket: "test-bucket"}, rt
}

func TestMockedBasicFlow(t *testing.T) {
	ctx := context.Background()
	b, rt := newMockBackend(t)
	if _, err := b.Put(ctx, "folder/file.txt", []byte("hello"), store.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if string(rt.state["folder/file.txt"]) != "hello" {
		t.Fatalf("state holds %q", rt.state["folder/file.txt"])
	}
	meta, err := b.Head(ctx, "folder/file.txt")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if meta.Size != 5 || meta.ETag != "etag" {
		t.Fatalf("unexpected meta %+v", meta)
	}
	res, err := b.Get(ctx, "folder/file.txt", nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, err := res.Bytes(ctx)
	if err != nil {
		t.Fatalf("bytes: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("get mismatch: %q", data)
	}
	if err := b.Delete(ctx, "folder/file.txt"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := b.Head(ctx, "folder/file.txt"); !store.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateModeConflict(t *testing.T) {
	ctx := context.Background()
	b, _ := newMockBackend(t)
	if _, err := b.Put(ctx, "k", []byte("v"), store.PutOptions{Mode: store.ModeCreate}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := b.Put(ctx, "k", []byte("v"), store.PutOptions{Mode: store.ModeCreate}); !store.IsAlreadyExists(err) {
		t.Fatalf("expected already exists, got %v", err)
	}
}

func TestRangedGet(t *testing.T) {
	ctx := context.Background()
	b, rt := newMockBackend(t)
	rt.state["k"] = []byte("0123456789")
	spec := store.BoundedRange(3, 7)
	res, err := b.Get(ctx, "k", &store.GetOptions{Range: &spec})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, err := res.Bytes(ctx)
	if err != nil {
		t.Fatalf("bytes: %v", err)
	}
	if string(data) != "3456" {
		t.Fatalf("unexpected range body %q", data)
	}
	if res.Range != (store.Range{Start: 3, End: 7}) {
		t.Fatalf("unexpected range %+v", res.Range)
	}
	if res.Meta.Size != 10 {
		t.Fatalf("expected full size from Content-Range, got %d", res.Meta.Size)
	}
}

func TestNotModified(t *testing.T) {
	ctx := context.Background()
	b, rt := newMockBackend(t)
	rt.state["k"] = []byte("v")
	if _, err := b.Get(ctx, "k", &store.GetOptions{IfNoneMatch: "\"etag\""}); !store.IsNotModified(err) {
		t.Fatalf("expected not modified, got %v", err)
	}
}

func TestListPagingAndOffset(t *testing.T) {
	ctx := context.Background()
	b, rt := newMockBackend(t)
	for _, k := range []string{"a/1", "a/2", "a/3", "b/1"} {
		rt.state[k] = []byte(k)
	}
	seq := b.List("a", "a/1")
	var keys []string
	for {
		m, err := seq.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		keys = append(keys, m.Path)
	}
	if len(keys) != 2 || keys[0] != "a/2" || keys[1] != "a/3" {
		t.Fatalf("unexpected listing %v", keys)
	}
}

func TestListWithDelimiter(t *testing.T) {
	ctx := context.Background()
	b, rt := newMockBackend(t)
	for _, k := range []string{"root/a", "root/dir/b", "root/dir/c"} {
		rt.state[k] = []byte(k)
	}
	res, err := b.ListWithDelimiter(ctx, "root")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(res.Objects) != 1 || res.Objects[0].Path != "root/a" {
		t.Fatalf("unexpected objects %+v", res.Objects)
	}
	if len(res.CommonPrefixes) != 1 || res.CommonPrefixes[0] != "root/dir" {
		t.Fatalf("unexpected prefixes %v", res.CommonPrefixes)
	}
}

func TestMultipartUpload(t *testing.T) {
	ctx := context.Background()
	b, rt := newMockBackend(t)
	up, err := b.StartMultipart(ctx, "big", store.MultipartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	p1, err := up.UploadPart(ctx, 1, []byte("hello "))
	if err != nil {
		t.Fatalf("part 1: %v", err)
	}
	p2, err := up.UploadPart(ctx, 2, []byte("world"))
	if err != nil {
		t.Fatalf("part 2: %v", err)
	}
	if _, err := up.Complete(ctx, []store.CompletedPart{p2, p1}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if string(rt.state["big"]) != "hello world" {
		t.Fatalf("unexpected assembled body %q", rt.state["big"])
	}
	if len(rt.uploads) != 0 {
		t.Fatalf("expected staged upload cleaned up")
	}
}

func TestMultipartAbort(t *testing.T) {
	ctx := context.Background()
	b, rt := newMockBackend(t)
	up, err := b.StartMultipart(ctx, "big", store.MultipartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := up.UploadPart(ctx, 1, []byte("x")); err != nil {
		t.Fatalf("part: %v", err)
	}
	if err := up.Abort(ctx); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if len(rt.uploads) != 0 {
		t.Fatalf("expected staged upload removed")
	}
	if _, ok := rt.state["big"]; ok {
		t.Fatalf("expected no object after abort")
	}
}

func TestCopyNoOverwrite(t *testing.T) {
	ctx := context.Background()
	b, rt := newMockBackend(t)
	rt.state["src"] = []byte("v")
	rt.state["dst"] = []byte("old")
	if err := b.Copy(ctx, "src", "dst", false); !store.IsAlreadyExists(err) {
		t.Fatalf("expected already exists, got %v", err)
	}
	if err := b.Copy(ctx, "src", "dst", true); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if string(rt.state["dst"]) != "v" {
		t.Fatalf("unexpected copy result %q", rt.state["dst"])
	}
}

func TestSignURL(t *testing.T) {
	ctx := context.Background()
	b, _ := newMockBackend(t)
	url, err := b.SignURL(ctx, "GET", "k", 0)
	if err != nil || url == "" {
		t.Fatalf("sign: %v %s", err, url)
	}
	if _, err := b.SignURL(ctx, "PATCH", "k", 0); !store.IsNotSupported(err) {
		t.Fatalf("expected not supported, got %v", err)
	}
}

func TestConfigFromMap(t *testing.T) {
	cfg, err := ConfigFromMap("bkt", map[string]string{"region": "eu-west-1", "path_style": "true"})
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.Region != "eu-west-1" || !cfg.PathStyle || cfg.Bucket != "bkt" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	cfg, err = ConfigFromMap("bkt", map[string]string{"region": "eu-west-1"})
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.PathStyle {
		t.Fatalf("path_style must default to false")
	}
	if _, err := ConfigFromMap("bkt", map[string]string{"reigon": "typo"}); !store.HasKind(err, store.KindUnknownConfigurationKey) {
		t.Fatalf("expected unknown configuration key, got %v", err)
	}
}

func TestOpenFromEnvMinimal(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIA")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "SECRET")
	t.Setenv("OBJSTACK_S3_BUCKET", "env-bucket")
	t.Setenv("OBJSTACK_S3_REGION", "us-east-1")
	if _, err := OpenFromEnv(context.Background()); err != nil {
		t.Fatalf("open from env: %v", err)
	}
	t.Setenv("OBJSTACK_S3_BUCKET", "")
	if _, err := OpenFromEnv(context.Background()); err == nil {
		t.Fatalf("expected error for missing bucket")
	}
}
