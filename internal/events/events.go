// Package events はジョブのライフサイクルイベント配信を提供します。
package events

// Type は配信イベントの種別を表します。
type Type string

const (
	TypeProgress Type = "progress"
	TypeComplete Type = "complete"
	TypeError    Type = "error"
)

// Event は購読者へ配信されるジョブイベントです。
// complete / error は対象ジョブの最後のイベントです。
type Event struct {
	Type        Type   `json:"type"`
	JobID       string `json:"jobId"`
	Progress    int    `json:"progress,omitempty"`
	Status      string `json:"status,omitempty"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	EditorURL   string `json:"editorUrl,omitempty"`
	Error       string `json:"error,omitempty"`
	Message     string `json:"message,omitempty"`
}
