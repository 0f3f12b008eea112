package convert

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

var videoFormats = map[string]bool{
	"mp4":  true,
	"webm": true,
	"avi":  true,
	"mov":  true,
	"gif":  true,
}

// 解像度プリセット。original キーワードはリサイズなしを意味します。
var videoResolutions = map[string][2]int{
	"1080p": {1920, 1080},
	"720p":  {1280, 720},
	"480p":  {854, 480},
	"360p":  {640, 360},
}

// VideoConverter は ffmpeg を利用して動画の変換・音声抽出を行うコラボレーターです。
type VideoConverter struct {
	ffmpegPath string
}

// NewVideoConverter は VideoConverter を作成します。
func NewVideoConverter(ffmpegPath string) *VideoConverter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &VideoConverter{ffmpegPath: ffmpegPath}
}

func (c *VideoConverter) Kind() Kind {
	return KindVideo
}

type videoOptions struct {
	format     string
	resolution string
	bitrate    string
	trim       bool
	startTime  string
	endTime    string
	audioOnly  bool
}

type videoTask struct {
	ffmpegPath     string
	outputFilename string
	opts           videoOptions
}

// Prepare はオプションを検証し、動画変換タスクを構築します。
func (c *VideoConverter) Prepare(inputName string, options map[string]string) (Task, error) {
	opts, err := parseVideoOptions(options)
	if err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(filepath.Base(inputName), filepath.Ext(inputName))
	if base == "" {
		return nil, newError("INVALID_INPUT", "入力ファイル名が不正です。", nil)
	}

	ext := opts.format
	if opts.audioOnly {
		ext = "mp3"
	}

	return &videoTask{
		ffmpegPath:     c.ffmpegPath,
		outputFilename: fmt.Sprintf("%s.%s", base, ext),
		opts:           opts,
	}, nil
}

// EstimateTime は動画変換の目安時間を返します。GIF変換はフレーム展開の分だけ長めです。
func (c *VideoConverter) EstimateTime(options map[string]string) string {
	if strings.ToLower(options["format"]) == "gif" {
		return "60 seconds"
	}
	return "30 seconds"
}

func parseVideoOptions(options map[string]string) (videoOptions, error) {
	opts := videoOptions{
		format:  "mp4",
		bitrate: "1000k",
	}

	if v := strings.ToLower(strings.TrimSpace(options["format"])); v != "" {
		if !videoFormats[v] {
			return opts, newError("INVALID_INPUT", fmt.Sprintf("未対応の動画フォーマットです: %s", v), nil)
		}
		opts.format = v
	}

	if v := options["resolution"]; v != "" && v != "original" {
		if _, ok := videoResolutions[v]; !ok {
			return opts, newError("INVALID_INPUT", fmt.Sprintf("未対応の解像度です: %s", v), nil)
		}
		opts.resolution = v
	}

	if v := options["bitrate"]; v != "" {
		if !bitrateRe.MatchString(v) {
			return opts, newError("INVALID_INPUT", "bitrate は 1000k のような形式で指定してください。", nil)
		}
		opts.bitrate = v
	}

	if options["trim"] == "true" {
		opts.trim = true
		opts.startTime = strings.TrimSpace(options["startTime"])
		opts.endTime = strings.TrimSpace(options["endTime"])
	}

	opts.audioOnly = options["extractAudio"] == "true"

	return opts, nil
}

func (t *videoTask) OutputFilename() string {
	return t.outputFilename
}

func (t *videoTask) Interactive() bool {
	return false
}

// Run は ffmpeg を起動し、stderr から進捗を読み取りながら変換を実行します。
func (t *videoTask) Run(ctx context.Context, inputPath, outputPath string, report ProgressReporter) error {
	args := t.ffmpegArgs(inputPath, outputPath)

	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return newError("CONVERSION_FAILED", "ffmpeg の起動準備に失敗しました。", err)
	}

	if err := cmd.Start(); err != nil {
		return newError("CONVERSION_FAILED", "ffmpeg の起動に失敗しました。", err)
	}

	var tail bytes.Buffer
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		scanFFmpegProgress(stderr, &tail, func(percent int) {
			status := fmt.Sprintf("Converting video: %d%% complete", percent)
			if t.opts.audioOnly {
				status = "Extracting audio"
			}
			reportProgress(report, percent, status)
		})
		return nil
	})
	g.Go(cmd.Wait)

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return newError("CONVERSION_FAILED", fmt.Sprintf("ffmpeg による変換に失敗しました: %s", lastLine(&tail)), err)
	}
	return nil
}

func (t *videoTask) ffmpegArgs(inputPath, outputPath string) []string {
	args := []string{"-hide_banner", "-y", "-i", inputPath}

	if t.opts.audioOnly {
		args = append(args, "-vn", "-f", "mp3")
		return append(args, outputPath)
	}

	if t.opts.trim {
		if t.opts.startTime != "" {
			args = append(args, "-ss", t.opts.startTime)
		}
		if t.opts.endTime != "" {
			args = append(args, "-t", t.opts.endTime)
		}
	}

	if res, ok := videoResolutions[t.opts.resolution]; ok {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", res[0], res[1]))
	}

	args = append(args, "-b:v", t.opts.bitrate)

	if t.opts.format == "gif" {
		args = append(args, "-r", "10")
	}

	return append(args, outputPath)
}

var (
	bitrateRe  = regexp.MustCompile(`^\d+k?$`)
	durationRe = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+(?:\.\d+)?)`)
	timeRe     = regexp.MustCompile(`time=(\d+):(\d+):(\d+(?:\.\d+)?)`)
)

// scanFFmpegProgress は ffmpeg の stderr から Duration 行と time= 行を拾い、
// 経過割合をパーセントに換算して onPercent へ渡します。
func scanFFmpegProgress(r io.Reader, tail *bytes.Buffer, onPercent func(int)) {
	scanner := bufio.NewScanner(r)
	scanner.Split(scanFFmpegLines)

	var totalSeconds float64
	for scanner.Scan() {
		line := scanner.Text()
		recordTail(tail, line)

		if totalSeconds == 0 {
			if m := durationRe.FindStringSubmatch(line); m != nil {
				totalSeconds = timecodeSeconds(m)
				continue
			}
		}
		if totalSeconds <= 0 {
			continue
		}
		if m := timeRe.FindStringSubmatch(line); m != nil {
			elapsed := timecodeSeconds(m)
			percent := int(elapsed / totalSeconds * 100)
			if percent > 99 {
				percent = 99
			}
			onPercent(percent)
		}
	}
}

// ffmpeg は進捗行を CR 区切りで上書き出力するため、LF と CR の両方で分割します。
func scanFFmpegLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func timecodeSeconds(m []string) float64 {
	hours, _ := strconv.ParseFloat(m[1], 64)
	minutes, _ := strconv.ParseFloat(m[2], 64)
	seconds, _ := strconv.ParseFloat(m[3], 64)
	return hours*3600 + minutes*60 + seconds
}

const tailLimit = 4096

func recordTail(tail *bytes.Buffer, line string) {
	if tail.Len() > tailLimit {
		tail.Reset()
	}
	tail.WriteString(line)
	tail.WriteByte('\n')
}

func lastLine(tail *bytes.Buffer) string {
	lines := strings.Split(strings.TrimSpace(tail.String()), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
