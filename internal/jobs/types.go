// Package jobs は変換ジョブのライフサイクル管理を提供します。
package jobs

import (
	"time"

	"github.com/yourusername/media-forge/internal/convert"
)

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusEditing    Status = "editing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal は終端状態（以後の状態遷移を許さない状態）かどうかを返します。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Job は1件の変換リクエストの現在状態を表します。
// Registry が所有し、外部へは常にコピーが渡されます。
type Job struct {
	ID           string       `json:"id"`
	Kind         convert.Kind `json:"kind"`
	Status       Status       `json:"status"`
	Progress     int          `json:"progress"`
	InputPath    string       `json:"-"`
	InputName    string       `json:"file,omitempty"`
	OutputPath   string       `json:"-"`
	EditPath     string       `json:"-"`
	Error        string       `json:"error,omitempty"`
	BatchGroupID string       `json:"batchGroupId,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	LastUpdated  time.Time    `json:"lastUpdated"`
}
