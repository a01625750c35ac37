package fs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"objstack/pkg/store"
)

func newBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	return b
}

func TestPutGetRoundtrip(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	res, err := b.Put(ctx, "dir/a.bin", []byte("payload"), store.PutOptions{})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := b.Get(ctx, "dir/a.bin", nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, err := got.Bytes(ctx)
	if err != nil {
		t.Fatalf("bytes: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("unexpected body %q", data)
	}
	if got.Meta.ETag != res.ETag || got.Meta.Version != res.Version {
		t.Fatalf("meta mismatch: %+v vs %+v", got.Meta, res)
	}
}

func TestSidecarOnDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b, err := New(dir)
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	if _, err := b.Put(ctx, "k", []byte("v"), store.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "k"+metaSuffix)); err != nil {
		t.Fatalf("expected sidecar: %v", err)
	}
}

func TestRangedGet(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	if _, err := b.Put(ctx, "k", []byte("0123456789"), store.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	spec := store.SuffixRange(4)
	got, err := b.Get(ctx, "k", &store.GetOptions{Range: &spec})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, err := got.Bytes(ctx)
	if err != nil {
		t.Fatalf("bytes: %v", err)
	}
	if string(data) != "6789" {
		t.Fatalf("unexpected suffix body %q", data)
	}
}

func TestGetRanges(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	if _, err := b.Put(ctx, "k", []byte("0123456789"), store.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	out, err := b.GetRanges(ctx, "k", []store.Range{{Start: 1, End: 4}, {Start: 7, End: 30}})
	if err != nil {
		t.Fatalf("get ranges: %v", err)
	}
	if string(out[0]) != "123" || string(out[1]) != "789" {
		t.Fatalf("unexpected ranges %q %q", out[0], out[1])
	}
}

func TestPutCreateMode(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	if _, err := b.Put(ctx, "k", []byte("v"), store.PutOptions{Mode: store.ModeCreate}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := b.Put(ctx, "k", []byte("v"), store.PutOptions{Mode: store.ModeCreate}); !store.IsAlreadyExists(err) {
		t.Fatalf("expected already exists, got %v", err)
	}
}

func TestListSkipsUploads(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	for _, p := range []string{"a/1", "a/2", "b/1"} {
		if _, err := b.Put(ctx, p, []byte(p), store.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", p, err)
		}
	}
	up, err := b.StartMultipart(ctx, "a/big", store.MultipartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := up.UploadPart(ctx, 1, []byte("staged")); err != nil {
		t.Fatalf("part: %v", err)
	}
	seq := b.List("a", "")
	var paths []string
	for {
		m, err := seq.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		paths = append(paths, m.Path)
	}
	if len(paths) != 2 || paths[0] != "a/1" || paths[1] != "a/2" {
		t.Fatalf("unexpected listing %v", paths)
	}
}

func TestMultipartAssemble(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	up, err := b.StartMultipart(ctx, "big", store.MultipartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	var parts []store.CompletedPart
	for i, chunk := range []string{"aa", "bb", "cc"} {
		p, err := up.UploadPart(ctx, i+1, []byte(chunk))
		if err != nil {
			t.Fatalf("part %d: %v", i+1, err)
		}
		parts = append(parts, p)
	}
	if _, err := up.Complete(ctx, parts); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, err := b.Get(ctx, "big", nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, err := got.Bytes(ctx)
	if err != nil {
		t.Fatalf("bytes: %v", err)
	}
	if string(data) != "aabbcc" {
		t.Fatalf("unexpected assembled body %q", data)
	}
	if _, err := os.Stat(filepath.Join(b.root, uploadsDir)); err == nil {
		entries, _ := os.ReadDir(filepath.Join(b.root, uploadsDir))
		if len(entries) != 0 {
			t.Fatalf("expected staging cleaned up, found %d entries", len(entries))
		}
	}
}

func TestRename(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	if _, err := b.Put(ctx, "src", []byte("v"), store.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := b.Rename(ctx, "src", "dst", false); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := b.Head(ctx, "src"); !store.IsNotFound(err) {
		t.Fatalf("expected source gone, got %v", err)
	}
	got, err := b.Get(ctx, "dst", nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, err := got.Bytes(ctx)
	if err != nil {
		t.Fatalf("bytes: %v", err)
	}
	if string(data) != "v" {
		t.Fatalf("unexpected body %q", data)
	}
}

func TestDeleteMissing(t *testing.T) {
	b := newBackend(t)
	if err := b.Delete(context.Background(), "absent"); !store.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
