package main

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yourusername/media-forge/internal/archive"
	"github.com/yourusername/media-forge/internal/convert"
	"github.com/yourusername/media-forge/internal/events"
	"github.com/yourusername/media-forge/internal/jobs"
	"github.com/yourusername/media-forge/internal/storage"
)

// 変換オプションとしてフォームから拾うキーの一覧。
var optionKeys = map[convert.Kind][]string{
	convert.KindImage: {"format", "quality", "width", "height", "maintainAspectRatio", "grayscale", "rotate", "blur", "sharpen"},
	convert.KindVideo: {"format", "resolution", "bitrate", "trim", "startTime", "endTime", "extractAudio"},
	convert.KindPDF:   {"operation"},
}

func optionsFromForm(c *gin.Context, kind convert.Kind) map[string]string {
	options := make(map[string]string)
	for _, key := range optionKeys[kind] {
		if v := c.PostForm(key); v != "" {
			options[key] = v
		}
	}
	return options
}

func extractFiles(form *multipart.Form) []*multipart.FileHeader {
	if form == nil {
		return nil
	}
	for _, field := range []string{"file", "file[]", "files", "files[]"} {
		if files := form.File[field]; len(files) > 0 {
			return files
		}
	}
	return nil
}

// submitUpload は1ファイル分を一時領域へ保存してジョブを投入します。
// 失敗した場合、保存済みの一時ファイルは破棄されます。
func submitUpload(dispatcher *jobs.Dispatcher, store *storage.Local, file *multipart.FileHeader, kind convert.Kind, options map[string]string, batchGroupID string) (jobs.Job, error) {
	inputPath, err := store.SaveUpload(file)
	if err != nil {
		return jobs.Job{}, convert.NewError("INTERNAL_ERROR", "アップロードの保存に失敗しました。", err)
	}

	job, err := dispatcher.Submit(jobs.SubmitRequest{
		Kind:         kind,
		InputPath:    inputPath,
		InputName:    file.Filename,
		Options:      options,
		BatchGroupID: batchGroupID,
	})
	if err != nil {
		_ = store.Remove(inputPath)
		return jobs.Job{}, err
	}
	return job, nil
}

// convertImageHandler は POST /api/convert/image のハンドラーを返します。
// 複数ファイルを受け付け、ファイルごとに独立したジョブを払い出します。
func convertImageHandler(dispatcher *jobs.Dispatcher, store *storage.Local, maxFileSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			respondInvalidInput(c, "multipart/form-data でファイルを送信してください。")
			return
		}
		defer form.RemoveAll()

		files := extractFiles(form)
		if len(files) == 0 {
			respondInvalidInput(c, "アップロードされたファイルが見つかりません。")
			return
		}

		options := optionsFromForm(c, convert.KindImage)

		batchGroupID := ""
		if len(files) > 1 {
			batchGroupID = uuid.NewString()
		}

		jobIDs := make([]string, 0, len(files))
		var firstErr error
		for _, file := range files {
			if file.Size > maxFileSize {
				recordSubmitError(&firstErr, convert.NewError("LIMIT_EXCEEDED", fmt.Sprintf("ファイルサイズが上限を超えています: %s", file.Filename), nil))
				continue
			}
			job, err := submitUpload(dispatcher, store, file, convert.KindImage, options, batchGroupID)
			if err != nil {
				recordSubmitError(&firstErr, err)
				continue
			}
			jobIDs = append(jobIDs, job.ID)
		}

		if len(jobIDs) == 0 {
			respondWithError(c, firstErr)
			return
		}

		estimate := dispatcher.Estimate(convert.KindImage, options, len(jobIDs))
		if len(jobIDs) == 1 {
			c.JSON(http.StatusAccepted, gin.H{
				"jobId":         jobIDs[0],
				"message":       "Conversion started",
				"estimatedTime": estimate,
			})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"jobIds":        jobIDs,
			"message":       fmt.Sprintf("Processing %d files", len(jobIDs)),
			"estimatedTime": estimate,
		})
	}
}

// convertVideoHandler は POST /api/convert/video のハンドラーを返します。
// extractAudio 指定時は音声抽出を別ジョブとして払い出し、batchGroupId で相関させます。
func convertVideoHandler(dispatcher *jobs.Dispatcher, store *storage.Local, maxFileSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			respondInvalidInput(c, "multipart/form-data でファイルを送信してください。")
			return
		}
		defer form.RemoveAll()

		files := extractFiles(form)
		if len(files) == 0 {
			respondInvalidInput(c, "アップロードされたファイルが見つかりません。")
			return
		}
		file := files[0]
		if file.Size > maxFileSize {
			respondWithError(c, convert.NewError("LIMIT_EXCEEDED", "ファイルサイズが上限を超えています。", nil))
			return
		}

		options := optionsFromForm(c, convert.KindVideo)
		extractAudio := options["extractAudio"] == "true"
		delete(options, "extractAudio")

		batchGroupID := ""
		if extractAudio {
			batchGroupID = uuid.NewString()
		}

		job, err := submitUpload(dispatcher, store, file, convert.KindVideo, options, batchGroupID)
		if err != nil {
			respondWithError(c, err)
			return
		}

		payload := gin.H{
			"jobId":         job.ID,
			"message":       "Conversion started",
			"estimatedTime": dispatcher.Estimate(convert.KindVideo, options, 1),
		}

		if extractAudio {
			audioOptions := map[string]string{"extractAudio": "true"}
			audioJob, err := submitUpload(dispatcher, store, file, convert.KindVideo, audioOptions, batchGroupID)
			if err != nil {
				respondWithError(c, err)
				return
			}
			payload["audioJobId"] = audioJob.ID
		}

		c.JSON(http.StatusAccepted, payload)
	}
}

// convertPDFHandler は POST /api/convert/pdf のハンドラーを返します。
func convertPDFHandler(dispatcher *jobs.Dispatcher, store *storage.Local, maxFileSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			respondInvalidInput(c, "multipart/form-data でファイルを送信してください。")
			return
		}
		defer form.RemoveAll()

		files := extractFiles(form)
		if len(files) == 0 {
			respondInvalidInput(c, "アップロードされたファイルが見つかりません。")
			return
		}
		file := files[0]
		if file.Size > maxFileSize {
			respondWithError(c, convert.NewError("LIMIT_EXCEEDED", "ファイルサイズが上限を超えています。", nil))
			return
		}

		options := optionsFromForm(c, convert.KindPDF)
		job, err := submitUpload(dispatcher, store, file, convert.KindPDF, options, "")
		if err != nil {
			respondWithError(c, err)
			return
		}

		payload := gin.H{
			"jobId":         job.ID,
			"message":       "PDF operation started",
			"estimatedTime": dispatcher.Estimate(convert.KindPDF, options, 1),
		}
		if options["operation"] == "edit" {
			payload["editorUrl"] = "/api/pdf-editor/" + job.ID
			payload["message"] = "PDF accepted for editing"
		}
		c.JSON(http.StatusAccepted, payload)
	}
}

// prepareEditorHandler は POST /api/convert/pdf/prepare-editor のハンドラーを返します。
// operation=edit のPDFジョブ投入と等価のショートカットです。
func prepareEditorHandler(dispatcher *jobs.Dispatcher, store *storage.Local, maxFileSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			respondInvalidInput(c, "multipart/form-data でPDFファイルを送信してください。")
			return
		}
		defer form.RemoveAll()

		files := extractFiles(form)
		if len(files) == 0 {
			respondInvalidInput(c, "アップロードされたPDFファイルが見つかりません。")
			return
		}
		file := files[0]
		if file.Size > maxFileSize {
			respondWithError(c, convert.NewError("LIMIT_EXCEEDED", "ファイルサイズが上限を超えています。", nil))
			return
		}

		job, err := submitUpload(dispatcher, store, file, convert.KindPDF, map[string]string{"operation": "edit"}, "")
		if err != nil {
			respondWithError(c, err)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"jobId":     job.ID,
			"editorUrl": "/api/pdf-editor/" + job.ID,
			"message":   "PDF accepted for editing",
		})
	}
}

// pdfContentHandler は GET /api/pdf-content/:jobId のハンドラーを返します。
// 編集状態のPDFをインライン表示用に返します。
func pdfContentHandler(registry *jobs.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := registry.Get(c.Param("jobId"))
		if err != nil || job.Kind != convert.KindPDF {
			respondWithError(c, jobs.ErrNotFound)
			return
		}
		if job.Status != jobs.StatusEditing {
			respondWithError(c, convert.NewError("JOB_NOT_READY", fmt.Sprintf("ジョブは編集状態ではありません (status: %s)", job.Status), nil))
			return
		}

		c.Header("Content-Type", "application/pdf")
		c.Header("Cache-Control", "no-store")
		c.File(job.EditPath)
	}
}

// pdfEditorSaveHandler は POST /api/pdf-editor/save/:jobId のハンドラーを返します。
func pdfEditorSaveHandler(dispatcher *jobs.Dispatcher) gin.HandlerFunc {
	type saveRequest struct {
		Annotations []map[string]any `json:"annotations"`
		Operations  []map[string]any `json:"operations"`
	}
	return func(c *gin.Context) {
		var req saveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondInvalidInput(c, "編集内容のJSONが読み取れません。")
			return
		}
		if len(req.Annotations) == 0 && len(req.Operations) == 0 {
			respondInvalidInput(c, "編集操作が指定されていません。")
			return
		}

		job, err := dispatcher.FinalizeEdit(c.Param("jobId"))
		if err != nil {
			respondWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":     true,
			"jobId":       job.ID,
			"downloadUrl": "/api/download/" + job.ID,
			"message":     "PDF edited successfully",
		})
	}
}

// statusHandler は GET /api/status/:jobId のハンドラーを返します。
func statusHandler(registry *jobs.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := registry.Get(c.Param("jobId"))
		if err != nil {
			respondWithError(c, err)
			return
		}

		payload := gin.H{
			"id":       job.ID,
			"kind":     job.Kind,
			"status":   job.Status,
			"progress": job.Progress,
			"file":     job.InputName,
		}
		if job.Error != "" {
			payload["error"] = job.Error
		}
		if job.BatchGroupID != "" {
			payload["batchGroupId"] = job.BatchGroupID
		}
		c.JSON(http.StatusOK, payload)
	}
}

// jobsListHandler は GET /api/jobs のハンドラーを返します。ダッシュボード向けスナップショットです。
func jobsListHandler(registry *jobs.Registry) gin.HandlerFunc {
	validStatuses := map[jobs.Status]bool{
		jobs.StatusPending:    true,
		jobs.StatusProcessing: true,
		jobs.StatusEditing:    true,
		jobs.StatusCompleted:  true,
		jobs.StatusError:      true,
	}
	return func(c *gin.Context) {
		status := jobs.Status(c.Query("status"))
		if !validStatuses[status] {
			respondInvalidInput(c, fmt.Sprintf("未対応のステータスです: %s", status))
			return
		}
		c.JSON(http.StatusOK, gin.H{"jobs": registry.ListByStatus(status)})
	}
}

// openCompletedOutput は完了ジョブの成果物を開きます。download / preview 共通の検証です。
func openCompletedOutput(registry *jobs.Registry, jobID string) (jobs.Job, *os.File, error) {
	job, err := registry.Get(jobID)
	if err != nil {
		return jobs.Job{}, nil, err
	}
	if job.Status != jobs.StatusCompleted {
		return jobs.Job{}, nil, convert.NewError("JOB_NOT_READY", fmt.Sprintf("ジョブはまだ完了していません (status: %s)", job.Status), nil)
	}

	file, err := os.Open(job.OutputPath)
	if err != nil {
		return jobs.Job{}, nil, convert.NewError("OUTPUT_NOT_FOUND", "ジョブの成果物が見つかりませんでした。", err)
	}
	return job, file, nil
}

func detectContentType(path string) string {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return mtype.String()
}

// downloadHandler は GET /api/download/:jobId のハンドラーを返します。
func downloadHandler(registry *jobs.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, file, err := openCompletedOutput(registry, c.Param("jobId"))
		if err != nil {
			respondWithError(c, err)
			return
		}
		defer file.Close()

		info, err := file.Stat()
		if err != nil {
			respondWithError(c, convert.NewError("INTERNAL_ERROR", "ジョブの成果物取得に失敗しました。", err))
			return
		}

		filename := info.Name()
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		c.Header("Cache-Control", "no-store")
		c.Header("X-Job-Id", job.ID)
		c.DataFromReader(http.StatusOK, info.Size(), detectContentType(job.OutputPath), file, nil)
	}
}

// ブラウザでインライン表示できるコンテンツタイプの接頭辞。
var previewableTypes = []string{"image/", "video/mp4", "video/webm", "application/pdf"}

// previewHandler は GET /api/preview/:jobId のハンドラーを返します。
// インライン表示できない種別は NOT_PREVIEWABLE を返します（エラーではなく明示的なシグナルです）。
func previewHandler(registry *jobs.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, file, err := openCompletedOutput(registry, c.Param("jobId"))
		if err != nil {
			respondWithError(c, err)
			return
		}
		defer file.Close()

		contentType := detectContentType(job.OutputPath)
		previewable := false
		for _, prefix := range previewableTypes {
			if strings.HasPrefix(contentType, prefix) {
				previewable = true
				break
			}
		}
		if !previewable {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{
				"code":    "NOT_PREVIEWABLE",
				"message": fmt.Sprintf("この形式はプレビューに対応していません: %s", contentType),
			})
			return
		}

		info, err := file.Stat()
		if err != nil {
			respondWithError(c, convert.NewError("INTERNAL_ERROR", "ジョブの成果物取得に失敗しました。", err))
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", info.Name()))
		c.DataFromReader(http.StatusOK, info.Size(), contentType, file, nil)
	}
}

// batchDownloadHandler は GET /api/download/batch のハンドラーを返します。
// 有効なジョブの成果物を1つのZIPにまとめてストリーム返却します。
// 無効なジョブは理由つきで X-Invalid-Jobs ヘッダーに記録され、有効分の配信を妨げません。
func batchDownloadHandler(bundler *archive.Bundler) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.Query("jobs"))
		if raw == "" {
			respondInvalidInput(c, "jobs パラメータにジョブIDをカンマ区切りで指定してください。")
			return
		}

		jobIDs := make([]string, 0)
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				jobIDs = append(jobIDs, id)
			}
		}

		valid, invalid := bundler.Partition(jobIDs)
		if len(valid) == 0 {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "NO_VALID_JOBS",
				"message": "バンドルできる完了済みジョブがありません。",
				"details": gin.H{
					"invalidJobs": invalid,
					"jobIds":      jobIDs,
				},
			})
			return
		}

		zipFilename := fmt.Sprintf("batch-%s.zip", uuid.NewString())
		c.Header("Content-Type", "application/zip")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", zipFilename))
		c.Header("Cache-Control", "no-store")
		if len(invalid) > 0 {
			c.Header("X-Invalid-Jobs", invalidJobsHeader(invalid))
		}

		if err := bundler.WriteBundle(c.Writer, valid); err != nil {
			// ヘッダー送信後はステータスを変えられないため、切断してログに残します
			_ = c.Error(err)
			c.Abort()
		}
	}
}

func invalidJobsHeader(invalid []archive.InvalidJob) string {
	parts := make([]string, len(invalid))
	for i, item := range invalid {
		parts[i] = fmt.Sprintf("%s:%s", item.JobID, item.Reason)
	}
	return strings.Join(parts, "; ")
}

// deleteJobHandler は DELETE /api/jobs/:jobId のハンドラーを返します。
// TTL満了を待たずにジョブと成果物を破棄します。冪等です。
func deleteJobHandler(dispatcher *jobs.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := dispatcher.DeleteJob(c.Param("jobId")); err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Job cleared"})
	}
}

// eventsHandler は GET /api/events のハンドラーを返します。
// jobs クエリで購読対象を絞り込めます。未指定の場合は全ジョブを購読します。
func eventsHandler(hub *events.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		var jobIDs []string
		if raw := strings.TrimSpace(c.Query("jobs")); raw != "" {
			for _, id := range strings.Split(raw, ",") {
				if id = strings.TrimSpace(id); id != "" {
					jobIDs = append(jobIDs, id)
				}
			}
		}
		hub.ServeWS(c.Writer, c.Request, jobIDs)
	}
}

func recordSubmitError(first *error, err error) {
	if *first == nil {
		*first = err
	}
}

func respondInvalidInput(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"code":    "INVALID_INPUT",
		"message": message,
	})
}

var errorStatusCodes = map[string]int{
	"INVALID_INPUT":     http.StatusBadRequest,
	"LIMIT_EXCEEDED":    http.StatusRequestEntityTooLarge,
	"JOB_NOT_FOUND":     http.StatusNotFound,
	"JOB_NOT_READY":     http.StatusBadRequest,
	"OUTPUT_NOT_FOUND":  http.StatusNotFound,
	"NOT_PREVIEWABLE":   http.StatusUnsupportedMediaType,
	"NO_VALID_JOBS":     http.StatusNotFound,
	"CONVERSION_FAILED": http.StatusInternalServerError,
	"INTERNAL_ERROR":    http.StatusInternalServerError,
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *convert.Error
	switch {
	case errors.As(err, &apiErr):
		status, ok := errorStatusCodes[apiErr.Code]
		if !ok {
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, jobs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "JOB_NOT_FOUND",
			"message": "指定されたジョブは存在しません。",
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}
