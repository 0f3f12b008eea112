// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ファイル制限
	MaxFileSize int64 // 単一アップロードの最大サイズ（バイト）

	// ジョブ設定
	JobTTLMinutes            int // 完了ジョブの保持時間（分）
	ProcessingTimeoutMinutes int // 変換処理の最大実行時間（分、0で無制限）

	// レート制限
	RateLimitRequests      int // ウィンドウあたりの最大リクエスト数
	RateLimitWindowMinutes int // レート制限ウィンドウ（分）

	// 変換処理設定
	FFmpegPath string // ffmpeg実行ファイルのパス

	// ストレージ設定
	DataDir string // uploads/cache/temp を配置するベースディレクトリ
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		// サーバー設定
		Port:    getEnv("PORT", "5001"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),

		// ファイル制限
		MaxFileSize: getEnvAsInt64("MAX_FILE_SIZE", 1024*1024*1024), // 1GB

		// ジョブ設定
		JobTTLMinutes:            getEnvAsInt("JOB_TTL_MINUTES", 60),
		ProcessingTimeoutMinutes: getEnvAsInt("PROCESSING_TIMEOUT_MINUTES", 15),

		// レート制限
		RateLimitRequests:      getEnvAsInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindowMinutes: getEnvAsInt("RATE_LIMIT_WINDOW_MINUTES", 15),

		// 変換処理設定
		FFmpegPath: getEnv("FFMPEG_PATH", "ffmpeg"),

		// ストレージ設定
		DataDir: getEnv("DATA_DIR", filepath.Join(os.TempDir(), "media-forge")),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive")
	}
	if c.JobTTLMinutes <= 0 {
		return fmt.Errorf("JOB_TTL_MINUTES must be positive")
	}
	if c.GinMode == "release" && c.FFmpegPath == "" {
		return fmt.Errorf("FFMPEG_PATH is required in release mode")
	}
	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
