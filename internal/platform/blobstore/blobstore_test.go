package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func putBlob(t *testing.T, store BlobStore, childID, fileName, contentType, content string) *BlobMetadata {
	t.Helper()
	meta := BlobMetadata{
		FileName:    fileName,
		ContentType: contentType,
		ChildID:     childID,
		CreatedBy:   "user-1",
	}
	result, err := store.Put(context.Background(), meta, strings.NewReader(content))
	if err != nil {
		t.Fatalf("putBlob: %v", err)
	}
	return result
}

func TestInMemoryBlobStore_Put(t *testing.T) {
	store := NewInMemoryBlobStore()
	result := putBlob(t, store, "child-1", "report.pdf", "application/pdf", "hello world")

	if !strings.HasPrefix(result.Key, "children/child-1/") || !strings.HasSuffix(result.Key, "/report.pdf") {
		t.Errorf("unexpected key %s", result.Key)
	}
	if result.Size != int64(len("hello world")) {
		t.Errorf("expected size %d, got %d", len("hello world"), result.Size)
	}
	if result.Digest != Digest([]byte("hello world")) {
		t.Errorf("unexpected digest %s", result.Digest)
	}
	if result.CreatedAt.IsZero() {
		t.Error("expected non-zero CreatedAt")
	}
}

func TestInMemoryBlobStore_Get(t *testing.T) {
	store := NewInMemoryBlobStore()
	result := putBlob(t, store, "child-1", "notes.txt", "text/plain; charset=utf-8", "some notes")

	rc, meta, err := store.Get(context.Background(), result.Key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "some notes" {
		t.Errorf("unexpected content %q", data)
	}
	if meta.ContentType != "text/plain" {
		t.Errorf("expected normalized content type, got %s", meta.ContentType)
	}
}

func TestInMemoryBlobStore_GetNotFound(t *testing.T) {
	store := NewInMemoryBlobStore()
	if _, _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestInMemoryBlobStore_Delete(t *testing.T) {
	store := NewInMemoryBlobStore()
	result := putBlob(t, store, "child-1", "a.pdf", "application/pdf", "x")

	if err := store.Delete(context.Background(), result.Key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("expected empty store, got %d", store.Len())
	}
	if err := store.Delete(context.Background(), result.Key); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound on second delete, got %v", err)
	}
}

func TestInMemoryBlobStore_Rejections(t *testing.T) {
	store := NewInMemoryBlobStore()
	tests := []struct {
		name string
		meta BlobMetadata
		body io.Reader
		want error
	}{
		{"missing name", BlobMetadata{ContentType: "application/pdf"}, strings.NewReader("x"), ErrMissingFileName},
		{"bad type", BlobMetadata{FileName: "a.exe", ContentType: "application/x-msdownload"}, strings.NewReader("x"), ErrInvalidContentType},
		{"too large", BlobMetadata{FileName: "big.pdf", ContentType: "application/pdf"}, bytes.NewReader(make([]byte, MaxFileSize+1)), ErrFileTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := store.Put(context.Background(), tt.meta, tt.body); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if store.Len() != 0 {
		t.Errorf("rejected uploads were stored")
	}
}

func TestInMemoryBlobStore_ConcurrentPut(t *testing.T) {
	store := NewInMemoryBlobStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.Put(context.Background(), BlobMetadata{FileName: "a.pdf", ContentType: "application/pdf"}, strings.NewReader("x"))
		}()
	}
	wg.Wait()
	if store.Len() != 20 {
		t.Errorf("expected 20 blobs, got %d", store.Len())
	}
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"report.pdf":          "report.pdf",
		"../../etc/passwd":    "passwd",
		"C:\\docs\\scan 1.png": "scan_1.png",
		"..":                  "file",
	}
	for in, want := range tests {
		if got := sanitizeName(in); got != want {
			t.Errorf("sanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDigest_Stable(t *testing.T) {
	a := Digest([]byte("abc"))
	if a != Digest([]byte("abc")) || a == Digest([]byte("abd")) {
		t.Error("digest not deterministic or not content sensitive")
	}
	if !strings.HasPrefix(a, "blake3:") || len(a) != len("blake3:")+64 {
		t.Errorf("unexpected digest format %s", a)
	}
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]*s3.PutObjectInput
	bodies  map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string]*s3.PutObjectInput{}, bodies: map[string][]byte{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, _ := io.ReadAll(in.Body)
	f.objects[aws.ToString(in.Key)] = in
	f.bodies[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(f.bodies[aws.ToString(in.Key)])),
		ContentType:   obj.ContentType,
		ContentLength: obj.ContentLength,
		Metadata:      obj.Metadata,
	}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3BlobStore_RoundTrip(t *testing.T) {
	fake := newFakeS3()
	store := NewS3BlobStore(fake, "docs")

	result := putBlob(t, store, "child-9", "scan.png", "image/png", "pngbytes")
	put := fake.objects[result.Key]
	if put == nil {
		t.Fatalf("object %s not written", result.Key)
	}
	if aws.ToString(put.Bucket) != "docs" || put.ACL != types.ObjectCannedACLPrivate {
		t.Errorf("unexpected put input: bucket=%s acl=%s", aws.ToString(put.Bucket), put.ACL)
	}

	rc, meta, err := store.Get(context.Background(), result.Key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "pngbytes" {
		t.Errorf("unexpected content %q", data)
	}
	if meta.FileName != "scan.png" || meta.ChildID != "child-9" || meta.Digest != result.Digest {
		t.Errorf("metadata not restored: %+v", meta)
	}

	if err := store.Delete(context.Background(), result.Key); err != nil {
		t.Fatal(err)
	}
	if _, _, err := store.Get(context.Background(), result.Key); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound after delete, got %v", err)
	}
}
