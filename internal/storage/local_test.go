package storage

import (
	"bytes"
	"mime/multipart"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newLocal(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal returned error: %v", err)
	}
	return l
}

// uploadHeader は multipart リクエストを組み立てて FileHeader を取り出します。
func uploadHeader(t *testing.T, filename string, content []byte) *multipart.FileHeader {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("failed to build form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest("POST", "/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if err := req.ParseMultipartForm(32 << 20); err != nil {
		t.Fatalf("failed to parse multipart form: %v", err)
	}
	return req.MultipartForm.File["file"][0]
}

func TestNewLocalCreatesDirectories(t *testing.T) {
	l := newLocal(t)

	for _, dir := range []string{l.UploadsDir(), l.CacheDir(), l.TempDir()} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory at %s: %v", dir, err)
		}
	}
}

func TestNewLocalRequiresBaseDir(t *testing.T) {
	if _, err := NewLocal(""); err == nil {
		t.Fatal("expected error for empty base dir")
	}
}

func TestSaveUploadPreservesExtension(t *testing.T) {
	l := newLocal(t)

	path, err := l.SaveUpload(uploadHeader(t, "photo.png", []byte("png-bytes")))
	if err != nil {
		t.Fatalf("SaveUpload returned error: %v", err)
	}
	if filepath.Ext(path) != ".png" {
		t.Fatalf("expected .png extension, got %s", path)
	}
	if !strings.HasPrefix(path, l.TempDir()) {
		t.Fatalf("upload must land in the temp dir: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read saved upload: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("unexpected upload content: %q", data)
	}
}

func TestSaveUploadGeneratesUniquePaths(t *testing.T) {
	l := newLocal(t)

	first, err := l.SaveUpload(uploadHeader(t, "photo.png", []byte("a")))
	if err != nil {
		t.Fatalf("SaveUpload returned error: %v", err)
	}
	second, err := l.SaveUpload(uploadHeader(t, "photo.png", []byte("b")))
	if err != nil {
		t.Fatalf("SaveUpload returned error: %v", err)
	}
	if first == second {
		t.Fatalf("uploads with the same name must not collide: %s", first)
	}
}

func TestJobDirIsolatesJobs(t *testing.T) {
	l := newLocal(t)

	dirA, err := l.JobDir("job-a")
	if err != nil {
		t.Fatalf("JobDir returned error: %v", err)
	}
	dirB, err := l.JobDir("job-b")
	if err != nil {
		t.Fatalf("JobDir returned error: %v", err)
	}
	if dirA == dirB {
		t.Fatal("job dirs must be distinct")
	}
	if dirA != l.JobDirPath("job-a") {
		t.Fatalf("JobDir and JobDirPath disagree: %s vs %s", dirA, l.JobDirPath("job-a"))
	}
}

func TestCopyToCache(t *testing.T) {
	l := newLocal(t)

	outputPath := filepath.Join(t.TempDir(), "photo.png")
	if err := os.WriteFile(outputPath, []byte("png-bytes"), 0o640); err != nil {
		t.Fatalf("failed to write output: %v", err)
	}

	if err := l.CopyToCache("job-a", outputPath); err != nil {
		t.Fatalf("CopyToCache returned error: %v", err)
	}
	data, err := os.ReadFile(l.CachePath("job-a"))
	if err != nil {
		t.Fatalf("failed to read cache copy: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("unexpected cache content: %q", data)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	l := newLocal(t)

	dir, err := l.JobDir("job-a")
	if err != nil {
		t.Fatalf("JobDir returned error: %v", err)
	}
	if err := l.Remove(dir); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}
	if err := l.Remove(dir); err != nil {
		t.Fatalf("Remove of a missing path must not fail: %v", err)
	}
	if err := l.Remove(""); err != nil {
		t.Fatalf("Remove of an empty path must not fail: %v", err)
	}
}
