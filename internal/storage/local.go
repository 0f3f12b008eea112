// Package storage はローカルファイルシステム上のブロブ領域を管理します。
package storage

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Local はローカルディスク上の uploads / cache / temp 領域を扱います。
//   - temp:    アップロード直後の一時入力（ジョブ完了時に破棄）
//   - uploads: ジョブごとの成果物ディレクトリ（TTLで回収）
//   - cache:   ジョブIDをキーにした成果物の複製（TTLで回収）
type Local struct {
	baseDir string
}

// NewLocal は Local を作成し、必要なディレクトリを用意します。
func NewLocal(baseDir string) (*Local, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir is required")
	}
	l := &Local{baseDir: baseDir}
	for _, dir := range []string{l.UploadsDir(), l.CacheDir(), l.TempDir()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create storage dir %s: %w", dir, err)
		}
	}
	return l, nil
}

// UploadsDir は成果物領域のパスを返します。
func (l *Local) UploadsDir() string {
	return filepath.Join(l.baseDir, "uploads")
}

// CacheDir はキャッシュ領域のパスを返します。
func (l *Local) CacheDir() string {
	return filepath.Join(l.baseDir, "cache")
}

// TempDir は一時入力領域のパスを返します。
func (l *Local) TempDir() string {
	return filepath.Join(l.baseDir, "temp")
}

// JobDirPath はジョブ専用の成果物ディレクトリのパスを返します（作成はしません）。
func (l *Local) JobDirPath(jobID string) string {
	return filepath.Join(l.UploadsDir(), jobID)
}

// JobDir はジョブ専用の成果物ディレクトリを作成して返します。
// ジョブIDで分離するため、成果物パスが他ジョブと衝突することはありません。
func (l *Local) JobDir(jobID string) (string, error) {
	dir := l.JobDirPath(jobID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create job dir: %w", err)
	}
	return dir, nil
}

// CachePath はジョブIDに対応するキャッシュ複製のパスを返します。
func (l *Local) CachePath(jobID string) string {
	return filepath.Join(l.CacheDir(), jobID)
}

// SaveUpload はマルチパートアップロードを一時領域へ保存し、そのパスを返します。
func (l *Local) SaveUpload(file *multipart.FileHeader) (string, error) {
	if file == nil {
		return "", fmt.Errorf("file is required")
	}

	src, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	tempPath := filepath.Join(l.TempDir(), uuid.NewString()+filepath.Ext(file.Filename))
	dst, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("failed to store upload: %w", err)
	}
	return tempPath, nil
}

// CopyToCache は成果物をキャッシュ領域へ複製します。
func (l *Local) CopyToCache(jobID, outputPath string) error {
	src, err := os.Open(outputPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(l.CachePath(jobID), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

// Remove は対象を削除します。存在しない場合は何もしません。
func (l *Local) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
