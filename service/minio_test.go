package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AnTengye/contractrisk/config"
)

// fakeS3 serves the handful of S3 calls MinioService makes.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		if strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") {
			body = decodeAWSChunked(body)
		}
		f.objects[key] = body
		f.types[key] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Header().Set("Content-Type", f.types[key])
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// decodeAWSChunked strips the chunk framing of a streaming-signed upload.
func decodeAWSChunked(body []byte) []byte {
	var out []byte
	rest := string(body)
	for {
		line, after, ok := strings.Cut(rest, "\r\n")
		if !ok {
			return out
		}
		sizeHex, _, _ := strings.Cut(line, ";")
		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil || size == 0 || int(size) > len(after) {
			return out
		}
		out = append(out, after[:size]...)
		rest = strings.TrimPrefix(after[size:], "\r\n")
	}
}

func newTestMinio(t *testing.T) (*MinioService, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	svc, err := NewMinioService(&config.MinioConfig{
		Endpoint:   strings.TrimPrefix(server.URL, "http://"),
		AccessKey:  "test",
		SecretKey:  "testsecret",
		Bucket:     "contracts",
		Region:     "us-east-1",
		ExpireDays: 1,
	})
	if err != nil {
		t.Fatalf("NewMinioService: %v", err)
	}
	return svc, fake
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		fileName string
		expected string
	}{
		{"nda.pdf", "u1/doc1/nda.pdf"},
		{"../../etc/passwd", "u1/doc1/passwd"},
		{`C:\Users\me\lease.docx`, "u1/doc1/lease.docx"},
		{"", "u1/doc1/document"},
	}
	for _, tt := range tests {
		if got := ObjectKey("u1", "doc1", tt.fileName); got != tt.expected {
			t.Errorf("ObjectKey(%q) = %q, expected %q", tt.fileName, got, tt.expected)
		}
	}
}

func TestMinioServicePutGetDelete(t *testing.T) {
	svc, fake := newTestMinio(t)
	ctx := context.Background()

	url, err := svc.Put(ctx, "u1/doc1/nda.pdf", []byte("%PDF-1.4 body"), MIMEPDF)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.Contains(url, "/contracts/u1/doc1/nda.pdf") || !strings.Contains(url, "X-Amz-Signature") {
		t.Errorf("Expected presigned URL for the object, got %s", url)
	}
	if string(fake.objects["contracts/u1/doc1/nda.pdf"]) != "%PDF-1.4 body" {
		t.Errorf("Expected object to be stored, got %v", fake.objects)
	}
	if fake.types["contracts/u1/doc1/nda.pdf"] != MIMEPDF {
		t.Errorf("Expected content type %s, got %s", MIMEPDF, fake.types["contracts/u1/doc1/nda.pdf"])
	}

	data, err := svc.Get(ctx, "u1/doc1/nda.pdf")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "%PDF-1.4 body" {
		t.Errorf("Expected stored bytes, got %q", data)
	}

	if err := svc.Delete(ctx, "u1/doc1/nda.pdf"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := fake.objects["contracts/u1/doc1/nda.pdf"]; ok {
		t.Error("Expected object to be deleted")
	}
	if _, err := svc.Get(ctx, "u1/doc1/nda.pdf"); err == nil {
		t.Error("Expected error reading a deleted object")
	}
}

func TestMinioServiceEnsureBucket(t *testing.T) {
	svc, _ := newTestMinio(t)
	if err := svc.EnsureBucket(context.Background()); err != nil {
		t.Errorf("EnsureBucket: %v", err)
	}
}

func TestMinioServiceCancelledContext(t *testing.T) {
	svc, _ := newTestMinio(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.Put(ctx, "k", []byte("x"), "text/plain"); err == nil {
		t.Error("Expected upload with cancelled context to fail")
	}
}
