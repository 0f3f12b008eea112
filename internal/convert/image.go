package convert

import (
	"context"
	"fmt"
	"image/color"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
)

// 回転時に露出する余白の色。JPEG出力でも破綻しないよう不透明の黒にしています。
var imageBackground = color.NRGBA{R: 0, G: 0, B: 0, A: 255}

// 出力フォーマットの許可リスト。webp はデコードのみ対応のため含めていません。
var imageFormats = map[string]imaging.Format{
	"jpeg": imaging.JPEG,
	"jpg":  imaging.JPEG,
	"png":  imaging.PNG,
	"gif":  imaging.GIF,
	"tiff": imaging.TIFF,
	"bmp":  imaging.BMP,
}

// ImageConverter は画像の形式変換・加工を行うコラボレーターです。
type ImageConverter struct{}

// NewImageConverter は ImageConverter を作成します。
func NewImageConverter() *ImageConverter {
	return &ImageConverter{}
}

func (c *ImageConverter) Kind() Kind {
	return KindImage
}

// imageOptions は検証済みの画像変換オプションです。
type imageOptions struct {
	format              string
	quality             int
	width               int
	height              int
	maintainAspectRatio bool
	grayscale           bool
	rotate              int
	blur                float64
	sharpen             bool
}

type imageTask struct {
	outputFilename string
	opts           imageOptions
}

// Prepare はオプションを検証し、画像変換タスクを構築します。
func (c *ImageConverter) Prepare(inputName string, options map[string]string) (Task, error) {
	opts, err := parseImageOptions(options)
	if err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(filepath.Base(inputName), filepath.Ext(inputName))
	if base == "" {
		return nil, newError("INVALID_INPUT", "入力ファイル名が不正です。", nil)
	}

	return &imageTask{
		outputFilename: fmt.Sprintf("%s.%s", base, opts.format),
		opts:           opts,
	}, nil
}

// EstimateTime は画像1枚あたりの目安時間を返します。
func (c *ImageConverter) EstimateTime(options map[string]string) string {
	return "2 seconds"
}

func parseImageOptions(options map[string]string) (imageOptions, error) {
	opts := imageOptions{
		format:  "jpeg",
		quality: 80,
	}

	if v := strings.ToLower(strings.TrimSpace(options["format"])); v != "" {
		if _, ok := imageFormats[v]; !ok {
			return opts, newError("INVALID_INPUT", fmt.Sprintf("未対応の画像フォーマットです: %s", v), nil)
		}
		opts.format = v
	}

	if v := options["quality"]; v != "" {
		q, err := strconv.Atoi(v)
		if err != nil || q < 1 || q > 100 {
			return opts, newError("INVALID_INPUT", "quality は 1〜100 の整数で指定してください。", err)
		}
		opts.quality = q
	}

	if v := options["width"]; v != "" {
		w, err := strconv.Atoi(v)
		if err != nil || w < 0 {
			return opts, newError("INVALID_INPUT", "width は 0 以上の整数で指定してください。", err)
		}
		opts.width = w
	}
	if v := options["height"]; v != "" {
		h, err := strconv.Atoi(v)
		if err != nil || h < 0 {
			return opts, newError("INVALID_INPUT", "height は 0 以上の整数で指定してください。", err)
		}
		opts.height = h
	}
	opts.maintainAspectRatio = options["maintainAspectRatio"] == "true"
	opts.grayscale = options["grayscale"] == "true"

	if v := options["rotate"]; v != "" {
		angle, err := strconv.Atoi(v)
		if err != nil {
			return opts, newError("INVALID_INPUT", "rotate は整数（度）で指定してください。", err)
		}
		opts.rotate = angle
	}

	if v := options["blur"]; v != "" {
		sigma, err := strconv.ParseFloat(v, 64)
		if err != nil || sigma < 0 {
			return opts, newError("INVALID_INPUT", "blur は 0 以上の数値で指定してください。", err)
		}
		opts.blur = sigma
	}
	opts.sharpen = options["sharpen"] == "true"

	return opts, nil
}

func (t *imageTask) OutputFilename() string {
	return t.outputFilename
}

func (t *imageTask) Interactive() bool {
	return false
}

// Run は画像を読み込み、指定された加工を適用して出力します。
func (t *imageTask) Run(ctx context.Context, inputPath, outputPath string, report ProgressReporter) error {
	img, err := imaging.Open(inputPath, imaging.AutoOrientation(true))
	if err != nil {
		return newError("CONVERSION_FAILED", "画像の読み込みに失敗しました。", err)
	}
	reportProgress(report, 20, "Loading image")

	if err := ctx.Err(); err != nil {
		return err
	}

	opts := t.opts
	if opts.width > 0 || opts.height > 0 {
		if opts.maintainAspectRatio && opts.width > 0 && opts.height > 0 {
			img = imaging.Fit(img, opts.width, opts.height, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, opts.width, opts.height, imaging.Lanczos)
		}
		reportProgress(report, 30, "Resizing image")
	}

	if opts.grayscale {
		img = imaging.Grayscale(img)
		reportProgress(report, 40, "Applying grayscale")
	}

	if opts.rotate != 0 {
		img = imaging.Rotate(img, float64(opts.rotate), imageBackground)
	}

	if opts.blur > 0 {
		img = imaging.Blur(img, opts.blur)
	}

	if opts.sharpen {
		img = imaging.Sharpen(img, 1.0)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	reportProgress(report, 70, "Processing image format")

	if err := imaging.Save(img, outputPath, imaging.JPEGQuality(opts.quality)); err != nil {
		return newError("CONVERSION_FAILED", fmt.Sprintf("%s への変換に失敗しました。", opts.format), err)
	}

	return nil
}
