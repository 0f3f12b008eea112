package convert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestPDFConverterPrepare(t *testing.T) {
	c := NewPDFConverter()

	task, err := c.Prepare("report.pdf", map[string]string{"operation": "compress"})
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	if task.OutputFilename() != "compressed_report.pdf" {
		t.Fatalf("unexpected compress filename: %s", task.OutputFilename())
	}
	if task.Interactive() {
		t.Fatal("compress tasks must not be interactive")
	}

	task, err = c.Prepare("report.pdf", map[string]string{"operation": "edit"})
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	if task.OutputFilename() != "report.pdf" {
		t.Fatalf("unexpected edit filename: %s", task.OutputFilename())
	}
	if !task.Interactive() {
		t.Fatal("edit tasks must be interactive")
	}
}

func TestPDFConverterPrepareRejectsUnknownOperation(t *testing.T) {
	c := NewPDFConverter()

	for _, op := range []string{"", "merge", "split"} {
		_, err := c.Prepare("report.pdf", map[string]string{"operation": op})
		if err == nil {
			t.Fatalf("expected error for operation %q", op)
		}
		var apiErr *Error
		if !errors.As(err, &apiErr) || apiErr.Code != "INVALID_INPUT" {
			t.Fatalf("unexpected error for operation %q: %v", op, err)
		}
	}
}

func TestPDFCompressRejectsGarbageInput(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "fake.pdf")
	if err := os.WriteFile(inputPath, []byte("not a pdf"), 0o640); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	c := NewPDFConverter()
	task, err := c.Prepare("fake.pdf", map[string]string{"operation": "compress"})
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}

	err = task.Run(context.Background(), inputPath, filepath.Join(dir, "out.pdf"), nil)
	if err == nil {
		t.Fatal("expected error for garbage input")
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != "INVALID_INPUT" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPDFEstimateTime(t *testing.T) {
	if got := NewPDFConverter().EstimateTime(nil); got != "15 seconds" {
		t.Fatalf("unexpected estimate: %s", got)
	}
}

func TestCopyFilePreservesContent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.pdf")
	dst := filepath.Join(dir, "dst.pdf")
	if err := os.WriteFile(src, []byte("pdf-bytes"), 0o640); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	if err := copyFile(src, dst); err != nil {
		t.Fatalf("copyFile returned error: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("failed to read copy: %v", err)
	}
	if string(data) != "pdf-bytes" {
		t.Fatalf("unexpected copy content: %q", data)
	}
}
