package convert

// ProgressReporter は進捗更新用コールバックです。
type ProgressReporter func(percent int, status string)

func reportProgress(cb ProgressReporter, percent int, status string) {
	if cb == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	cb(percent, status)
}
