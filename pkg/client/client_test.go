package client

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objstack/pkg/store"
	"objstack/pkg/store/memory"
	"objstack/pkg/stream"
)

// countingBackend wraps a backend and counts multipart starts, so tests can
// tell which upload path a Put took.
type countingBackend struct {
	store.Backend
	multipartStarts int
	denyMultipart   bool
}

func (b *countingBackend) StartMultipart(ctx context.Context, path string, opts store.MultipartOptions) (store.MultipartUpload, error) {
	if b.denyMultipart {
		return nil, store.Errorf(store.KindNotSupported, b.Scheme(), path, "multipart upload unsupported")
	}
	b.multipartStarts++
	return b.Backend.StartMultipart(ctx, path, opts)
}

func newClient(t *testing.T) (*Client, *countingBackend) {
	t.Helper()
	b := &countingBackend{Backend: memory.New()}
	return New(b), b
}

func TestPutGetRoundtrip(t *testing.T) {
	ctx := context.Background()
	c, _ := newClient(t)
	res, err := c.PutBytes(ctx, "a/b.txt", []byte("hello"), store.PutOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ETag)

	data, err := c.GetBytes(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	meta, err := c.Head(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 5, meta.Size)
}

func TestAsyncParity(t *testing.T) {
	ctx := context.Background()
	c, _ := newClient(t)
	_, err := c.PutBytesAsync(ctx, "k", []byte("v"), store.PutOptions{}).Wait(ctx)
	require.NoError(t, err)

	res, err := c.GetAsync(ctx, "k", nil).Wait(ctx)
	require.NoError(t, err)
	data, err := res.Bytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v", string(data))

	meta, err := c.HeadAsync(ctx, "k").Wait(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, meta.Size)

	_, err = c.DeleteAsync(ctx, "k").Wait(ctx)
	require.NoError(t, err)
	_, err = c.Head(ctx, "k")
	assert.True(t, store.IsNotFound(err))
}

func TestSmallPutSingleShot(t *testing.T) {
	ctx := context.Background()
	c, b := newClient(t)
	_, err := c.Put(ctx, "small", bytes.NewReader(make([]byte, 1024)), PutConfig{})
	require.NoError(t, err)
	assert.Zero(t, b.multipartStarts)
}

func TestLargePutMultipart(t *testing.T) {
	ctx := context.Background()
	c, b := newClient(t)
	payload := bytes.Repeat([]byte("x"), 12<<20)
	_, err := c.Put(ctx, "big", bytes.NewReader(payload), PutConfig{MaxConcurrency: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, b.multipartStarts)

	data, err := c.GetBytes(ctx, "big")
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, data))
}

func TestUnseekableSourceMultipart(t *testing.T) {
	ctx := context.Background()
	c, b := newClient(t)
	payload := bytes.Repeat([]byte("y"), 6<<20)
	// io.MultiReader hides the seeker, forcing the unsized path.
	_, err := c.Put(ctx, "piped", io.MultiReader(bytes.NewReader(payload)), PutConfig{})
	require.NoError(t, err)
	assert.Equal(t, 1, b.multipartStarts)

	data, err := c.GetBytes(ctx, "piped")
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, data))
}

func TestForceMultipartSmallPayload(t *testing.T) {
	ctx := context.Background()
	c, b := newClient(t)
	_, err := c.Put(ctx, "forced", bytes.NewReader([]byte("tiny")), PutConfig{ForceMultipart: true})
	require.NoError(t, err)
	assert.Equal(t, 1, b.multipartStarts)

	data, err := c.GetBytes(ctx, "forced")
	require.NoError(t, err)
	assert.Equal(t, "tiny", string(data))

	// A conditional mode still needs one conditional request.
	b.multipartStarts = 0
	_, err = c.Put(ctx, "forced2", bytes.NewReader([]byte("tiny")), PutConfig{
		PutOptions:     store.PutOptions{Mode: store.ModeCreate},
		ForceMultipart: true,
	})
	require.NoError(t, err)
	assert.Zero(t, b.multipartStarts)
}

func TestConditionalPutForcesSingleShot(t *testing.T) {
	ctx := context.Background()
	c, b := newClient(t)
	payload := bytes.Repeat([]byte("z"), 12<<20)
	_, err := c.Put(ctx, "big", bytes.NewReader(payload), PutConfig{
		PutOptions: store.PutOptions{Mode: store.ModeCreate},
	})
	require.NoError(t, err)
	assert.Zero(t, b.multipartStarts)

	_, err = c.Put(ctx, "big", bytes.NewReader(payload), PutConfig{
		PutOptions: store.PutOptions{Mode: store.ModeCreate},
	})
	assert.True(t, store.IsAlreadyExists(err))
}

func TestMultipartUnsupportedFallback(t *testing.T) {
	ctx := context.Background()
	c, b := newClient(t)
	b.denyMultipart = true
	payload := bytes.Repeat([]byte("w"), 12<<20)
	_, err := c.Put(ctx, "big", bytes.NewReader(payload), PutConfig{})
	require.NoError(t, err)

	data, err := c.GetBytes(ctx, "big")
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, data))
}

// unsupportedPartBackend admits the multipart start but rejects every part
// upload, mimicking a backend that discovers the capability gap mid-stream.
type unsupportedPartBackend struct {
	store.Backend
}

func (b *unsupportedPartBackend) StartMultipart(ctx context.Context, path string, opts store.MultipartOptions) (store.MultipartUpload, error) {
	up, err := b.Backend.StartMultipart(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	return &unsupportedPartUpload{MultipartUpload: up, scheme: b.Scheme(), path: path}, nil
}

type unsupportedPartUpload struct {
	store.MultipartUpload
	scheme, path string
}

func (u *unsupportedPartUpload) UploadPart(ctx context.Context, number int, data []byte) (store.CompletedPart, error) {
	return store.CompletedPart{}, store.Errorf(store.KindNotSupported, u.scheme, u.path, "part uploads unsupported")
}

func TestNoFallbackAfterPartialConsumption(t *testing.T) {
	ctx := context.Background()
	c := New(&unsupportedPartBackend{Backend: memory.New()})
	payload := bytes.Repeat([]byte("w"), 12<<20)
	// The source is partially consumed by the time the failure surfaces, so a
	// whole-body retry would truncate; the error must propagate instead.
	_, err := c.Put(ctx, "stuck", bytes.NewReader(payload), PutConfig{})
	require.Error(t, err)
	assert.True(t, store.IsNotSupported(err))
	_, err = c.Head(ctx, "stuck")
	assert.True(t, store.IsNotFound(err))
}

func TestSmallPartSizeMultipart(t *testing.T) {
	ctx := context.Background()
	c, b := newClient(t)
	payload := []byte("abcdefghij")
	_, err := c.Put(ctx, "k", bytes.NewReader(payload), PutConfig{PartSize: 3, MaxConcurrency: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, b.multipartStarts)

	data, err := c.GetBytes(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abcdefghij", string(data))
}

func TestGetRange(t *testing.T) {
	ctx := context.Background()
	c, _ := newClient(t)
	_, err := c.PutBytes(ctx, "k", []byte("0123456789"), store.PutOptions{})
	require.NoError(t, err)

	data, err := c.GetRange(ctx, "k", store.BoundedRange(2, 6))
	require.NoError(t, err)
	assert.Equal(t, "2345", string(data))

	data, err = c.GetRangeAsync(ctx, "k", store.SuffixRange(3)).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "789", string(data))
}

func TestGetRanges(t *testing.T) {
	ctx := context.Background()
	c, _ := newClient(t)
	_, err := c.PutBytes(ctx, "k", []byte("0123456789"), store.PutOptions{})
	require.NoError(t, err)

	out, err := c.GetRanges(ctx, "k", []store.RangeSpec{
		store.BoundedRange(0, 2),
		store.OffsetRange(7),
		store.SuffixRange(4),
	})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "01", string(out[0]))
	assert.Equal(t, "789", string(out[1]))
	assert.Equal(t, "6789", string(out[2]))
}

func TestListPaging(t *testing.T) {
	ctx := context.Background()
	c, _ := newClient(t)
	for i := 0; i < 130; i++ {
		_, err := c.PutBytes(ctx, listKey(i), []byte("v"), store.PutOptions{})
		require.NoError(t, err)
	}
	l := c.List("obj", "")
	for _, want := range []int{50, 50, 30} {
		page, err := l.Next(ctx)
		require.NoError(t, err)
		assert.Len(t, page, want)
	}
	_, err := l.Next(ctx)
	assert.ErrorIs(t, err, stream.ErrExhausted)
	_, err = l.NextAsync(ctx).Wait(ctx)
	assert.ErrorIs(t, err, stream.ErrExhausted)
}

func listKey(i int) string {
	return "obj/" + string([]byte{'0' + byte(i/100), '0' + byte(i/10%10), '0' + byte(i%10)})
}

func TestListCollectEmpty(t *testing.T) {
	ctx := context.Background()
	c, _ := newClient(t)
	metas, err := c.List("none", "").Collect(ctx)
	require.NoError(t, err)
	assert.Empty(t, metas)
}

func TestListOffsetResume(t *testing.T) {
	ctx := context.Background()
	c, _ := newClient(t)
	for i := 0; i < 10; i++ {
		_, err := c.PutBytes(ctx, listKey(i), []byte("v"), store.PutOptions{})
		require.NoError(t, err)
	}
	metas, err := c.List("obj", listKey(4)).Collect(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 5)
	assert.Equal(t, listKey(5), metas[0].Path)
}

func TestListWithDelimiter(t *testing.T) {
	ctx := context.Background()
	c, _ := newClient(t)
	for _, p := range []string{"r/a", "r/d/b", "r/d/c"} {
		_, err := c.PutBytes(ctx, p, []byte("v"), store.PutOptions{})
		require.NoError(t, err)
	}
	res, err := c.ListWithDelimiter(ctx, "r")
	require.NoError(t, err)
	require.Len(t, res.Objects, 1)
	assert.Equal(t, []string{"r/d"}, res.CommonPrefixes)

	res, err = c.ListWithDelimiterAsync(ctx, "r").Wait(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Objects, 1)
}

func TestDeleteMany(t *testing.T) {
	ctx := context.Background()
	c, _ := newClient(t)
	paths := []string{"a", "b", "c", "d"}
	for _, p := range paths {
		_, err := c.PutBytes(ctx, p, []byte("v"), store.PutOptions{})
		require.NoError(t, err)
	}
	require.NoError(t, c.DeleteMany(ctx, paths))
	for _, p := range paths {
		_, err := c.Head(ctx, p)
		assert.True(t, store.IsNotFound(err))
	}
}

func TestCopyRename(t *testing.T) {
	ctx := context.Background()
	c, _ := newClient(t)
	_, err := c.PutBytes(ctx, "src", []byte("v"), store.PutOptions{})
	require.NoError(t, err)
	require.NoError(t, c.Copy(ctx, "src", "copy"))
	_, err = c.PutBytes(ctx, "taken", []byte("x"), store.PutOptions{})
	require.NoError(t, err)
	assert.True(t, store.IsAlreadyExists(c.CopyIfNotExists(ctx, "src", "taken")))

	require.NoError(t, c.Rename(ctx, "src", "moved"))
	_, err = c.Head(ctx, "src")
	assert.True(t, store.IsNotFound(err))
}

func TestReaderSequentialAndRandom(t *testing.T) {
	ctx := context.Background()
	c, _ := newClient(t)
	payload := []byte("0123456789abcdefghij")
	_, err := c.PutBytes(ctx, "k", payload, store.PutOptions{})
	require.NoError(t, err)

	r, err := c.Open(ctx, "k")
	require.NoError(t, err)
	defer r.Close()
	assert.EqualValues(t, len(payload), r.Size())

	all, err := io.ReadAll(r.WithReadAhead(4))
	require.NoError(t, err)
	assert.Equal(t, payload, all)

	buf := make([]byte, 5)
	n, err := r.ReadAt(buf, 10)
	require.NoError(t, err)
	assert.Equal(t, "abcde", string(buf[:n]))

	_, err = r.Seek(2, io.SeekStart)
	require.NoError(t, err)
	n, err = r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "23456", string(buf[:n]))

	pos, err := r.Seek(-3, io.SeekEnd)
	require.NoError(t, err)
	assert.EqualValues(t, len(payload)-3, pos)
	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hij", string(rest))
}

func TestSignURLNotSupported(t *testing.T) {
	ctx := context.Background()
	c, _ := newClient(t)
	_, err := c.SignURL(ctx, "GET", "k", 0)
	assert.True(t, store.IsNotSupported(err))
}
