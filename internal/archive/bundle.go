// Package archive は複数ジョブの成果物を1つのZIPへまとめるバッチ取得機能を提供します。
package archive

import (
	"archive/zip"
	"compress/flate"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/yourusername/media-forge/internal/jobs"
)

// InvalidJob はバンドルに含められなかったジョブとその理由です。
type InvalidJob struct {
	JobID  string `json:"jobId"`
	Reason string `json:"reason"`
}

// Bundler は完了ジョブの成果物をZIPへストリーム書き込みします。
type Bundler struct {
	registry *jobs.Registry
	logger   *log.Logger
}

// NewBundler は Bundler を作成します。
func NewBundler(registry *jobs.Registry, logger *log.Logger) *Bundler {
	if logger == nil {
		logger = log.Default()
	}
	return &Bundler{registry: registry, logger: logger}
}

// Partition はジョブID列をバンドル可能なものと不可能なものに分けます。
// 不可能な理由は not found / 未完了 / 成果物消失 の3種です。
func (b *Bundler) Partition(jobIDs []string) ([]jobs.Job, []InvalidJob) {
	valid := make([]jobs.Job, 0, len(jobIDs))
	invalid := make([]InvalidJob, 0)

	for _, id := range jobIDs {
		job, err := b.registry.Get(id)
		if err != nil {
			invalid = append(invalid, InvalidJob{JobID: id, Reason: "job not found"})
			continue
		}
		if job.Status != jobs.StatusCompleted {
			invalid = append(invalid, InvalidJob{JobID: id, Reason: fmt.Sprintf("status is %s", job.Status)})
			continue
		}
		if _, err := os.Stat(job.OutputPath); err != nil {
			invalid = append(invalid, InvalidJob{JobID: id, Reason: "output file missing"})
			continue
		}
		valid = append(valid, job)
	}
	return valid, invalid
}

// バンドルは使い捨てのため、圧縮は速度優先の低レベルにしています。
const bundleCompressionLevel = 3

// WriteBundle は valid の成果物をZIPとして w へストリーム書き込みします。
// 全体をメモリやディスクへ実体化せず、1ファイルずつ順に書き出します。
func (b *Bundler) WriteBundle(w io.Writer, valid []jobs.Job) error {
	if len(valid) == 0 {
		return fmt.Errorf("no jobs to bundle")
	}

	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, bundleCompressionLevel)
	})

	used := make(map[string]bool, len(valid))
	for _, job := range valid {
		name := filepath.Base(job.OutputPath)
		if used[name] {
			name = fmt.Sprintf("%s_%s", shortID(job.ID), name)
		}
		used[name] = true

		if err := b.addFile(zw, name, job.OutputPath); err != nil {
			zw.Close()
			return fmt.Errorf("failed to add %s to bundle: %w", name, err)
		}
		b.logger.Printf("archive: added %s (job=%s)", name, job.ID)
	}

	return zw.Close()
}

func (b *Bundler) addFile(zw *zip.Writer, name, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	entry, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(entry, file)
	return err
}

func shortID(jobID string) string {
	if len(jobID) > 8 {
		return jobID[:8]
	}
	return jobID
}
