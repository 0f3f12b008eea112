package convert

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestVideoConverterPrepare(t *testing.T) {
	c := NewVideoConverter("")

	task, err := c.Prepare("clip.mov", map[string]string{"format": "webm"})
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	if task.OutputFilename() != "clip.webm" {
		t.Fatalf("unexpected output filename: %s", task.OutputFilename())
	}

	// 音声抽出はフォーマット指定にかかわらず mp3 を出力する
	task, err = c.Prepare("clip.mov", map[string]string{"extractAudio": "true"})
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	if task.OutputFilename() != "clip.mp3" {
		t.Fatalf("unexpected audio filename: %s", task.OutputFilename())
	}
}

func TestVideoConverterPrepareRejectsBadOptions(t *testing.T) {
	c := NewVideoConverter("")

	cases := []struct {
		name    string
		options map[string]string
	}{
		{"unsupported format", map[string]string{"format": "mkv"}},
		{"unsupported resolution", map[string]string{"resolution": "4k"}},
		{"malformed bitrate", map[string]string{"bitrate": "fast"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Prepare("clip.mov", tc.options)
			if err == nil {
				t.Fatal("expected validation error")
			}
			var apiErr *Error
			if !errors.As(err, &apiErr) || apiErr.Code != "INVALID_INPUT" {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestVideoFFmpegArgs(t *testing.T) {
	c := NewVideoConverter("ffmpeg")

	prepare := func(options map[string]string) *videoTask {
		t.Helper()
		task, err := c.Prepare("clip.mov", options)
		if err != nil {
			t.Fatalf("Prepare returned error: %v", err)
		}
		return task.(*videoTask)
	}

	args := prepare(map[string]string{"format": "mp4", "resolution": "720p"}).ffmpegArgs("in.mov", "out.mp4")
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-vf scale=1280:720") {
		t.Fatalf("missing scale filter: %v", args)
	}
	if !strings.Contains(joined, "-b:v 1000k") {
		t.Fatalf("missing default bitrate: %v", args)
	}
	if args[len(args)-1] != "out.mp4" {
		t.Fatalf("output path must be last: %v", args)
	}

	args = prepare(map[string]string{"format": "gif"}).ffmpegArgs("in.mov", "out.gif")
	if !strings.Contains(strings.Join(args, " "), "-r 10") {
		t.Fatalf("gif output must cap the frame rate: %v", args)
	}

	args = prepare(map[string]string{
		"trim":      "true",
		"startTime": "00:00:05",
		"endTime":   "00:00:10",
	}).ffmpegArgs("in.mov", "out.mp4")
	joined = strings.Join(args, " ")
	if !strings.Contains(joined, "-ss 00:00:05") || !strings.Contains(joined, "-t 00:00:10") {
		t.Fatalf("missing trim flags: %v", args)
	}

	args = prepare(map[string]string{"extractAudio": "true"}).ffmpegArgs("in.mov", "out.mp3")
	joined = strings.Join(args, " ")
	if !strings.Contains(joined, "-vn") || !strings.Contains(joined, "-f mp3") {
		t.Fatalf("missing audio extraction flags: %v", args)
	}
	if strings.Contains(joined, "-b:v") {
		t.Fatalf("audio extraction must not set a video bitrate: %v", args)
	}
}

func TestScanFFmpegProgress(t *testing.T) {
	// ffmpeg は進捗行を CR で上書きするため、CR 区切りの行も混ぜている
	stderr := strings.Join([]string{
		"Input #0, mov,mp4,m4a, from 'in.mov':",
		"  Duration: 00:00:20.00, start: 0.000000, bitrate: 1205 kb/s",
		"frame=  100 fps= 25 time=00:00:05.00 bitrate=1000.0kbits/s\r" +
			"frame=  250 fps= 25 time=00:00:10.00 bitrate=1000.0kbits/s",
		"frame=  500 fps= 25 time=00:00:20.00 bitrate=1000.0kbits/s",
	}, "\n")

	var percents []int
	var tail bytes.Buffer
	scanFFmpegProgress(strings.NewReader(stderr), &tail, func(p int) {
		percents = append(percents, p)
	})

	if len(percents) != 3 {
		t.Fatalf("expected 3 progress samples, got %v", percents)
	}
	if percents[0] != 25 || percents[1] != 50 {
		t.Fatalf("unexpected percentages: %v", percents)
	}
	// 完了判定は終端処理に任せるため 99 で頭打ち
	if percents[2] != 99 {
		t.Fatalf("progress must cap at 99, got %v", percents)
	}

	if !strings.Contains(lastLine(&tail), "time=00:00:20.00") {
		t.Fatalf("unexpected tail line: %q", lastLine(&tail))
	}
}

func TestScanFFmpegProgressWithoutDuration(t *testing.T) {
	stderr := "frame=  100 fps= 25 time=00:00:05.00 bitrate=1000.0kbits/s\n"

	var percents []int
	var tail bytes.Buffer
	scanFFmpegProgress(strings.NewReader(stderr), &tail, func(p int) {
		percents = append(percents, p)
	})

	if len(percents) != 0 {
		t.Fatalf("progress without a known duration must be skipped, got %v", percents)
	}
}

func TestVideoEstimateTime(t *testing.T) {
	c := NewVideoConverter("")
	if got := c.EstimateTime(map[string]string{"format": "gif"}); got != "60 seconds" {
		t.Fatalf("unexpected gif estimate: %s", got)
	}
	if got := c.EstimateTime(map[string]string{"format": "mp4"}); got != "30 seconds" {
		t.Fatalf("unexpected estimate: %s", got)
	}
}
