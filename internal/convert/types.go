// Package convert はメディア変換コラボレーターを提供します。
package convert

import "context"

// Kind は変換対象メディアの種別を表します。
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindPDF   Kind = "pdf"
)

// Task は投入時に一度だけ構築される、単一ジョブ分の変換処理です。
// オプション検証は Prepare 時点で完了しており、Run は検証済みの状態からのみ開始されます。
type Task interface {
	// OutputFilename は元ファイル名から導出される成果物のファイル名を返します。
	OutputFilename() string
	// Interactive は成果物確定前に対話的な編集状態へ遷移するジョブかどうかを返します。
	Interactive() bool
	// Run は inputPath を読み、outputPath に成果物を書き出します。
	Run(ctx context.Context, inputPath, outputPath string, report ProgressReporter) error
}

// Converter は特定の Kind に対する処理コラボレーターです。
// オプションの同期バリデーションと Task の構築のみを担い、実行は Task 側で行います。
type Converter interface {
	Kind() Kind
	// Prepare はオプションを検証し、変換タスクを構築します。
	// 検証エラーは *Error (INVALID_INPUT) として同期的に返します。
	Prepare(inputName string, options map[string]string) (Task, error)
	// EstimateTime は処理時間の目安を返します（参考情報であり保証はありません）。
	EstimateTime(options map[string]string) string
}
