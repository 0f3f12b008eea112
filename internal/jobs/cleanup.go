package jobs

import (
	"log"
	"sync"
	"time"

	"github.com/yourusername/media-forge/internal/storage"
)

// CleanupScheduler は完了ジョブの成果物とレジストリエントリをTTL経過後に回収します。
// ジョブIDごとにキャンセル可能なタイマーを1つだけ保持するため、
// 明示削除とTTL満了が同じ成果物を二重に回収することはありません。
type CleanupScheduler struct {
	mu       sync.Mutex
	timers   map[string]*time.Timer
	registry *Registry
	store    *storage.Local
	logger   *log.Logger
}

// NewCleanupScheduler は CleanupScheduler を作成します。
func NewCleanupScheduler(registry *Registry, store *storage.Local, logger *log.Logger) *CleanupScheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &CleanupScheduler{
		timers:   make(map[string]*time.Timer),
		registry: registry,
		store:    store,
		logger:   logger,
	}
}

// Arm はTTL経過後に paths とレジストリエントリを回収する遅延処理を予約します。
// 同じジョブIDで再予約すると前のタイマーは破棄されます。
func (s *CleanupScheduler) Arm(jobID string, ttl time.Duration, paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[jobID]; ok {
		old.Stop()
	}
	s.timers[jobID] = time.AfterFunc(ttl, func() {
		s.expire(jobID, paths)
	})
}

// Cancel は予約済みの回収をキャンセルします。予約が存在した場合に true を返します。
func (s *CleanupScheduler) Cancel(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer, ok := s.timers[jobID]
	if !ok {
		return false
	}
	timer.Stop()
	delete(s.timers, jobID)
	return true
}

// Stop は全ての予約をキャンセルします。プロセス終了時に呼び出します。
func (s *CleanupScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}

// expire はTTL満了時の回収処理です。ファイル削除の失敗はログに残して握りつぶします。
// 回収はジョブ単位に独立しており、失敗しても他ジョブの回収には影響しません。
func (s *CleanupScheduler) expire(jobID string, paths []string) {
	s.mu.Lock()
	delete(s.timers, jobID)
	s.mu.Unlock()

	for _, path := range paths {
		if err := s.store.Remove(path); err != nil {
			s.logger.Printf("cleanup: failed to remove %s for job=%s: %v", path, jobID, err)
		}
	}
	s.registry.Delete(jobID)
	s.logger.Printf("cleanup: reclaimed job=%s", jobID)
}
