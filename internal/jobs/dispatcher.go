package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/yourusername/media-forge/internal/convert"
	"github.com/yourusername/media-forge/internal/events"
	"github.com/yourusername/media-forge/internal/storage"
)

// editFinalizer は対話編集の確定処理を提供するコラボレーターが実装します。
type editFinalizer interface {
	Finalize(editPath, outputPath, originalName string) error
}

// DispatcherOptions は Dispatcher の動作設定です。
type DispatcherOptions struct {
	// TTL は完了ジョブの成果物を保持する時間です。
	TTL time.Duration
	// Timeout は1ジョブの最大処理時間です。0で無制限になります。
	// 超過したジョブは強制的に error へ遷移します。
	Timeout time.Duration
}

// Dispatcher はジョブの投入・実行監督・終端処理を担います。
// ジョブ1件につき1つのゴルーチンがコラボレーターを駆動し、
// 結果は専用チャネル経由で受け取るため、terminal 遷移は常に1回だけ起こります。
type Dispatcher struct {
	registry   *Registry
	scheduler  *CleanupScheduler
	hub        *events.Hub
	store      *storage.Local
	converters map[convert.Kind]convert.Converter
	logger     *log.Logger
	opts       DispatcherOptions
}

// NewDispatcher は Dispatcher を作成します。
func NewDispatcher(registry *Registry, scheduler *CleanupScheduler, hub *events.Hub, store *storage.Local, converters []convert.Converter, logger *log.Logger, opts DispatcherOptions) (*Dispatcher, error) {
	if registry == nil || scheduler == nil || hub == nil || store == nil {
		return nil, errors.New("registry, scheduler, hub and store are required")
	}
	if logger == nil {
		logger = log.Default()
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}

	byKind := make(map[convert.Kind]convert.Converter, len(converters))
	for _, c := range converters {
		byKind[c.Kind()] = c
	}

	return &Dispatcher{
		registry:   registry,
		scheduler:  scheduler,
		hub:        hub,
		store:      store,
		converters: byKind,
		logger:     logger,
		opts:       opts,
	}, nil
}

// SubmitRequest は1ファイル分の変換依頼です。
type SubmitRequest struct {
	Kind         convert.Kind
	InputPath    string // 一時領域へ保存済みの入力ファイル
	InputName    string // 元のファイル名
	Options      map[string]string
	BatchGroupID string // 複数ファイル投稿の相関ID（任意）
}

// Submit は依頼を検証し、ジョブを登録して非同期実行を開始します。
// 検証エラーは同期的に返し、その場合ジョブは作成されません。
// 成功時は呼び出し元を待たせず、作成直後のジョブのコピーを返します。
func (d *Dispatcher) Submit(req SubmitRequest) (Job, error) {
	converter, ok := d.converters[req.Kind]
	if !ok {
		return Job{}, convert.NewError("INVALID_INPUT", fmt.Sprintf("未対応のメディア種別です: %s", req.Kind), nil)
	}
	if req.InputPath == "" || req.InputName == "" {
		return Job{}, convert.NewError("INVALID_INPUT", "入力ファイルが指定されていません。", nil)
	}

	task, err := converter.Prepare(req.InputName, req.Options)
	if err != nil {
		return Job{}, err
	}

	job := d.registry.Create(req.Kind, req.InputPath, req.InputName, req.BatchGroupID)
	job, err = d.registry.SetProcessing(job.ID)
	if err != nil {
		// Create 直後の pending からの遷移なので起こりえない
		d.registry.Delete(job.ID)
		return Job{}, err
	}

	go d.run(job.ID, task, req.InputPath)

	return job, nil
}

// Estimate は処理時間の目安（参考値）を返します。
func (d *Dispatcher) Estimate(kind convert.Kind, options map[string]string, fileCount int) string {
	converter, ok := d.converters[kind]
	if !ok {
		return ""
	}
	if fileCount > 1 {
		return fmt.Sprintf("%d seconds", (fileCount*3+1)/2)
	}
	return converter.EstimateTime(options)
}

// run は1ジョブ分の実行監督です。コラボレーターを別ゴルーチンで駆動し、
// 結果チャネルとタイムアウトのどちらか先に到着した方で終端処理を行います。
func (d *Dispatcher) run(jobID string, task convert.Task, inputPath string) {
	// 入力の一時ファイルは結果にかかわらず破棄します。
	defer func() {
		if err := d.store.Remove(inputPath); err != nil {
			d.logger.Printf("dispatcher: failed to remove input for job=%s: %v", jobID, err)
		}
	}()

	jobDir, err := d.store.JobDir(jobID)
	if err != nil {
		d.fail(jobID, convert.NewError("INTERNAL_ERROR", "作業ディレクトリの作成に失敗しました。", err))
		return
	}
	outputPath := filepath.Join(jobDir, task.OutputFilename())

	ctx := context.Background()
	cancel := context.CancelFunc(func() {})
	if d.opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
	}
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- task.Run(ctx, inputPath, outputPath, d.reporter(jobID))
	}()

	select {
	case err = <-result:
	case <-ctx.Done():
		err = convert.NewError("CONVERSION_FAILED", fmt.Sprintf("処理が %s 以内に完了しませんでした。", d.opts.Timeout), ctx.Err())
	}

	if err != nil {
		d.fail(jobID, err)
		if cleanupErr := d.store.Remove(jobDir); cleanupErr != nil {
			d.logger.Printf("dispatcher: failed to remove job dir for job=%s: %v", jobID, cleanupErr)
		}
		return
	}

	if task.Interactive() {
		d.parkForEditing(jobID, outputPath)
		return
	}

	d.complete(jobID, jobDir, outputPath)
}

// reporter は進捗コールバックをレジストリ更新とイベント配信へ橋渡しします。
// レジストリは単調非減少を強制するため、配信される値が後退することはありません。
func (d *Dispatcher) reporter(jobID string) convert.ProgressReporter {
	return func(percent int, status string) {
		job, err := d.registry.SetProgress(jobID, percent)
		if err != nil {
			d.logger.Printf("dispatcher: discarding progress %d%% for job=%s: %v", percent, jobID, err)
			return
		}
		d.hub.Publish(events.Event{
			Type:     events.TypeProgress,
			JobID:    jobID,
			Progress: job.Progress,
			Status:   status,
		})
	}
}

func (d *Dispatcher) complete(jobID, jobDir, outputPath string) {
	if err := d.store.CopyToCache(jobID, outputPath); err != nil {
		d.logger.Printf("dispatcher: failed to cache output for job=%s: %v", jobID, err)
	}

	if _, err := d.registry.MarkCompleted(jobID, outputPath); err != nil {
		d.logger.Printf("dispatcher: discarding completion for job=%s: %v", jobID, err)
		return
	}

	d.hub.Publish(events.Event{
		Type:        events.TypeComplete,
		JobID:       jobID,
		DownloadURL: downloadURL(jobID),
		Message:     "Conversion complete",
	})
	d.scheduler.Arm(jobID, d.opts.TTL, jobDir, d.store.CachePath(jobID))
}

func (d *Dispatcher) fail(jobID string, err error) {
	message := err.Error()
	var apiErr *convert.Error
	if errors.As(err, &apiErr) {
		message = apiErr.Message
	}

	if _, markErr := d.registry.MarkFailed(jobID, message); markErr != nil {
		d.logger.Printf("dispatcher: discarding failure for job=%s: %v", jobID, markErr)
		return
	}
	d.logger.Printf("dispatcher: job=%s failed: %v", jobID, err)

	d.hub.Publish(events.Event{
		Type:  events.TypeError,
		JobID: jobID,
		Error: message,
	})
}

// parkForEditing は対話編集ジョブを editing 状態で待機させます。
// 成果物の確定は FinalizeEdit が行います。
func (d *Dispatcher) parkForEditing(jobID, editPath string) {
	if _, err := d.registry.MarkEditing(jobID, editPath); err != nil {
		d.logger.Printf("dispatcher: discarding edit transition for job=%s: %v", jobID, err)
		return
	}
	d.hub.Publish(events.Event{
		Type:      events.TypeComplete,
		JobID:     jobID,
		EditorURL: editorURL(jobID),
		Message:   "PDF ready for editing",
	})
}

// FinalizeEdit は editing 状態のジョブを確定し、completed へ遷移させます。
func (d *Dispatcher) FinalizeEdit(jobID string) (Job, error) {
	job, err := d.registry.Get(jobID)
	if err != nil {
		return Job{}, err
	}
	if job.Status != StatusEditing {
		return Job{}, convert.NewError("JOB_NOT_READY", fmt.Sprintf("ジョブは編集状態ではありません (status: %s)", job.Status), nil)
	}

	finalizer, ok := d.converters[job.Kind].(editFinalizer)
	if !ok {
		return Job{}, convert.NewError("INVALID_INPUT", fmt.Sprintf("%s ジョブは編集確定に対応していません。", job.Kind), nil)
	}

	jobDir := filepath.Dir(job.EditPath)
	outputPath := filepath.Join(jobDir, "edited_"+filepath.Base(job.InputName))
	if err := finalizer.Finalize(job.EditPath, outputPath, job.InputName); err != nil {
		if _, markErr := d.registry.MarkFailed(jobID, err.Error()); markErr != nil {
			d.logger.Printf("dispatcher: discarding failure for job=%s: %v", jobID, markErr)
		}
		d.hub.Publish(events.Event{Type: events.TypeError, JobID: jobID, Error: err.Error()})
		return Job{}, err
	}

	job, err = d.registry.MarkCompleted(jobID, outputPath)
	if err != nil {
		return Job{}, err
	}

	if cacheErr := d.store.CopyToCache(jobID, outputPath); cacheErr != nil {
		d.logger.Printf("dispatcher: failed to cache output for job=%s: %v", jobID, cacheErr)
	}

	d.hub.Publish(events.Event{
		Type:        events.TypeComplete,
		JobID:       jobID,
		DownloadURL: downloadURL(jobID),
		Message:     "PDF edited successfully",
	})
	d.scheduler.Arm(jobID, d.opts.TTL, jobDir, d.store.CachePath(jobID))

	return job, nil
}

// DeleteJob はジョブを即時に削除します。予約済みのTTL回収はキャンセルされ、
// 成果物・キャッシュ・レジストリエントリが取り除かれます。冪等です。
func (d *Dispatcher) DeleteJob(jobID string) error {
	d.scheduler.Cancel(jobID)

	if _, err := d.registry.Get(jobID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	for _, path := range []string{d.store.JobDirPath(jobID), d.store.CachePath(jobID)} {
		if err := d.store.Remove(path); err != nil {
			d.logger.Printf("dispatcher: failed to remove %s for job=%s: %v", path, jobID, err)
		}
	}
	d.registry.Delete(jobID)
	return nil
}

func downloadURL(jobID string) string {
	return "/api/download/" + jobID
}

func editorURL(jobID string) string {
	return "/api/pdf-editor/" + jobID
}
