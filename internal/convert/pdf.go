package convert

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

// PDFOperation はPDF処理の種別を表します。
type PDFOperation string

const (
	PDFOperationCompress PDFOperation = "compress"
	PDFOperationEdit     PDFOperation = "edit"
)

// PDFConverter は pdfcpu を利用してPDFの圧縮と編集準備を行うコラボレーターです。
type PDFConverter struct{}

// NewPDFConverter は PDFConverter を作成します。
func NewPDFConverter() *PDFConverter {
	return &PDFConverter{}
}

func (c *PDFConverter) Kind() Kind {
	return KindPDF
}

// Prepare は operation を検証し、PDF処理タスクを構築します。
func (c *PDFConverter) Prepare(inputName string, options map[string]string) (Task, error) {
	base := filepath.Base(inputName)
	if base == "" || base == "." {
		return nil, newError("INVALID_INPUT", "入力ファイル名が不正です。", nil)
	}

	op := PDFOperation(strings.ToLower(strings.TrimSpace(options["operation"])))
	switch op {
	case PDFOperationCompress:
		return &pdfCompressTask{outputFilename: "compressed_" + base}, nil
	case PDFOperationEdit:
		return &pdfEditTask{outputFilename: base}, nil
	default:
		return nil, newError("INVALID_INPUT", fmt.Sprintf("未対応のPDF操作です: %s (compress または edit を指定してください)", op), nil)
	}
}

// EstimateTime はPDF処理の目安時間を返します。
func (c *PDFConverter) EstimateTime(options map[string]string) string {
	return "15 seconds"
}

type pdfCompressTask struct {
	outputFilename string
}

func (t *pdfCompressTask) OutputFilename() string {
	return t.outputFilename
}

func (t *pdfCompressTask) Interactive() bool {
	return false
}

// Run は pdfcpu の最適化処理でPDFを圧縮します。
func (t *pdfCompressTask) Run(ctx context.Context, inputPath, outputPath string, report ProgressReporter) error {
	if err := pdfapi.ValidateFile(inputPath, nil); err != nil {
		return newError("INVALID_INPUT", "PDFファイルとして読み込めませんでした。", err)
	}
	reportProgress(report, 30, "Validating PDF")

	if err := ctx.Err(); err != nil {
		return err
	}

	reportProgress(report, 50, "Compressing PDF")
	if err := pdfapi.OptimizeFile(inputPath, outputPath, nil); err != nil {
		return newError("CONVERSION_FAILED", "PDFの圧縮に失敗しました。", err)
	}

	reportProgress(report, 90, "Writing output")
	return nil
}

type pdfEditTask struct {
	outputFilename string
}

func (t *pdfEditTask) OutputFilename() string {
	return t.outputFilename
}

func (t *pdfEditTask) Interactive() bool {
	return true
}

// Run は編集対象のPDFを検証し、編集用ワークスペースへ配置します。
// 成果物の確定は編集保存時の Finalize で行われます。
func (t *pdfEditTask) Run(ctx context.Context, inputPath, outputPath string, report ProgressReporter) error {
	if err := pdfapi.ValidateFile(inputPath, nil); err != nil {
		return newError("INVALID_INPUT", "PDFファイルとして読み込めませんでした。", err)
	}
	reportProgress(report, 40, "Validating PDF")

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := copyFile(inputPath, outputPath); err != nil {
		return newError("CONVERSION_FAILED", "編集用PDFの配置に失敗しました。", err)
	}
	reportProgress(report, 90, "Preparing editor")
	return nil
}

// Finalize は編集済みPDFを確定します。メタデータを更新した成果物を outputPath に書き出します。
func (c *PDFConverter) Finalize(editPath, outputPath, originalName string) error {
	if err := copyFile(editPath, outputPath); err != nil {
		return newError("CONVERSION_FAILED", "編集結果の保存に失敗しました。", err)
	}

	properties := map[string]string{
		"Title": "Edited: " + originalName,
	}
	if err := pdfapi.AddPropertiesFile(outputPath, "", properties, nil); err != nil {
		return newError("CONVERSION_FAILED", "編集結果のメタデータ更新に失敗しました。", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
