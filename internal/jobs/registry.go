package jobs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/media-forge/internal/convert"
)

var (
	// ErrNotFound は存在しないジョブIDへのアクセスを表します。
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition はジョブ状態機械が許さない遷移を表します。
	ErrInvalidTransition = errors.New("invalid status transition")
)

// entry は Registry 内部のジョブ保持単位です。
// ジョブ単位のロックを持つため、異なるジョブIDへの更新は互いにブロックしません。
type entry struct {
	mu  sync.Mutex
	job Job
}

// Registry はプロセス内メモリ上のジョブ台帳です。
// ジョブの可変状態は Registry だけが所有し、取得系は常にコピーを返します。
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry は Registry を作成します。
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
	}
}

// Create は新しいジョブを pending 状態で登録し、そのコピーを返します。
// IDはUUIDv4で払い出され、削除後に再利用されることはありません。
func (r *Registry) Create(kind convert.Kind, inputPath, inputName, batchGroupID string) Job {
	now := time.Now().UTC()
	job := Job{
		ID:           uuid.NewString(),
		Kind:         kind,
		Status:       StatusPending,
		Progress:     0,
		InputPath:    inputPath,
		InputName:    inputName,
		BatchGroupID: batchGroupID,
		CreatedAt:    now,
		LastUpdated:  now,
	}

	r.mu.Lock()
	r.entries[job.ID] = &entry{job: job}
	r.mu.Unlock()

	return job
}

// Get はジョブのコピーを返します。
func (r *Registry) Get(id string) (Job, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Job{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job, nil
}

// Delete はジョブを台帳から取り除きます。存在しない場合は何もしません。
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// ListByStatus は指定状態のジョブのスナップショットを返します。
func (r *Registry) ListByStatus(status Status) []Job {
	r.mu.RLock()
	snapshot := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		snapshot = append(snapshot, e)
	}
	r.mu.RUnlock()

	jobs := make([]Job, 0, len(snapshot))
	for _, e := range snapshot {
		e.mu.Lock()
		if e.job.Status == status {
			jobs = append(jobs, e.job)
		}
		e.mu.Unlock()
	}
	return jobs
}

// Len は登録中のジョブ数を返します。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// SetProcessing はジョブを processing へ遷移させます。
func (r *Registry) SetProcessing(id string) (Job, error) {
	return r.update(id, func(job *Job) error {
		if job.Status != StatusPending {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, StatusProcessing)
		}
		job.Status = StatusProcessing
		return nil
	})
}

// SetProgress は進捗率を更新します。進捗は単調非減少で、過去より小さい値は無視されます。
func (r *Registry) SetProgress(id string, percent int) (Job, error) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return r.update(id, func(job *Job) error {
		if job.Status != StatusProcessing {
			return fmt.Errorf("%w: progress update in status %s", ErrInvalidTransition, job.Status)
		}
		if percent > job.Progress {
			job.Progress = percent
		}
		return nil
	})
}

// MarkEditing はジョブを対話編集状態へ遷移させ、編集対象ファイルの場所を記録します。
func (r *Registry) MarkEditing(id, editPath string) (Job, error) {
	return r.update(id, func(job *Job) error {
		if job.Status != StatusProcessing {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, StatusEditing)
		}
		job.Status = StatusEditing
		job.Progress = 100
		job.EditPath = editPath
		return nil
	})
}

// MarkCompleted はジョブを completed へ遷移させ、成果物の場所を記録します。
// 終端状態からの再遷移は ErrInvalidTransition になります。
func (r *Registry) MarkCompleted(id, outputPath string) (Job, error) {
	return r.update(id, func(job *Job) error {
		if job.Status != StatusProcessing && job.Status != StatusEditing {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, StatusCompleted)
		}
		job.Status = StatusCompleted
		job.Progress = 100
		job.OutputPath = outputPath
		return nil
	})
}

// MarkFailed はジョブを error へ遷移させ、失敗理由を記録します。
func (r *Registry) MarkFailed(id, message string) (Job, error) {
	return r.update(id, func(job *Job) error {
		if job.Status.Terminal() {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, StatusError)
		}
		job.Status = StatusError
		job.Error = message
		return nil
	})
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// update はジョブ単位のロックの下で mutate を適用し、更新後のコピーを返します。
// mutate がエラーを返した場合、状態は変更されません。
func (r *Registry) update(id string, mutate func(*Job) error) (Job, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Job{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	candidate := e.job
	if err := mutate(&candidate); err != nil {
		return e.job, err
	}
	candidate.LastUpdated = time.Now().UTC()
	e.job = candidate
	return candidate, nil
}
