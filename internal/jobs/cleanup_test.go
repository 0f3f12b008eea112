package jobs

import (
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yourusername/media-forge/internal/convert"
	"github.com/yourusername/media-forge/internal/storage"
)

func newTestStore(t *testing.T) *storage.Local {
	t.Helper()
	store, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	return store
}

func writeTestFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte("artifact"), 0o640); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestCleanupExpiryReclaimsArtifacts(t *testing.T) {
	registry := NewRegistry()
	store := newTestStore(t)
	scheduler := NewCleanupScheduler(registry, store, log.Default())
	defer scheduler.Stop()

	job := registry.Create(convert.KindImage, "/tmp/in", "a.png", "")
	outputPath := filepath.Join(store.UploadsDir(), job.ID, "a.png")
	writeTestFile(t, outputPath)
	writeTestFile(t, store.CachePath(job.ID))

	scheduler.Arm(job.ID, 20*time.Millisecond, filepath.Dir(outputPath), store.CachePath(job.ID))

	waitFor(t, 2*time.Second, func() bool {
		_, err := registry.Get(job.ID)
		return err != nil
	})

	if _, err := os.Stat(outputPath); !os.IsNotExist(err) {
		t.Fatalf("expected output to be removed, stat err=%v", err)
	}
	if _, err := os.Stat(store.CachePath(job.ID)); !os.IsNotExist(err) {
		t.Fatalf("expected cache copy to be removed, stat err=%v", err)
	}
}

func TestCleanupCancelKeepsArtifacts(t *testing.T) {
	registry := NewRegistry()
	store := newTestStore(t)
	scheduler := NewCleanupScheduler(registry, store, log.Default())
	defer scheduler.Stop()

	job := registry.Create(convert.KindImage, "/tmp/in", "a.png", "")
	outputPath := filepath.Join(store.UploadsDir(), job.ID, "a.png")
	writeTestFile(t, outputPath)

	scheduler.Arm(job.ID, 30*time.Millisecond, filepath.Dir(outputPath))
	if !scheduler.Cancel(job.ID) {
		t.Fatal("expected Cancel to report an armed timer")
	}

	time.Sleep(80 * time.Millisecond)

	if _, err := registry.Get(job.ID); err != nil {
		t.Fatalf("job was deleted despite cancelled cleanup: %v", err)
	}
	if _, err := os.Stat(outputPath); err != nil {
		t.Fatalf("output was removed despite cancelled cleanup: %v", err)
	}

	if scheduler.Cancel(job.ID) {
		t.Fatal("expected second Cancel to be a no-op")
	}
}

func TestCleanupToleratesMissingFiles(t *testing.T) {
	registry := NewRegistry()
	store := newTestStore(t)
	scheduler := NewCleanupScheduler(registry, store, log.Default())
	defer scheduler.Stop()

	job := registry.Create(convert.KindImage, "/tmp/in", "a.png", "")

	// 存在しないパスの回収はエラーにならず、レジストリ削除まで進む
	scheduler.Arm(job.ID, 10*time.Millisecond, filepath.Join(store.UploadsDir(), "missing"))

	waitFor(t, 2*time.Second, func() bool {
		_, err := registry.Get(job.ID)
		return err != nil
	})
}
