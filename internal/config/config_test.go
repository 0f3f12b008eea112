package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "MAX_FILE_SIZE", "JOB_TTL_MINUTES", "PROCESSING_TIMEOUT_MINUTES", "FFMPEG_PATH"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Port != "5001" {
		t.Fatalf("unexpected default port: %s", cfg.Port)
	}
	if cfg.MaxFileSize != 1024*1024*1024 {
		t.Fatalf("unexpected default max file size: %d", cfg.MaxFileSize)
	}
	if cfg.JobTTLMinutes != 60 {
		t.Fatalf("unexpected default job ttl: %d", cfg.JobTTLMinutes)
	}
	if cfg.ProcessingTimeoutMinutes != 15 {
		t.Fatalf("unexpected default processing timeout: %d", cfg.ProcessingTimeoutMinutes)
	}
	if cfg.FFmpegPath != "ffmpeg" {
		t.Fatalf("unexpected default ffmpeg path: %s", cfg.FFmpegPath)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("MAX_FILE_SIZE", "1048576")
	t.Setenv("JOB_TTL_MINUTES", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != "9000" || cfg.MaxFileSize != 1048576 || cfg.JobTTLMinutes != 5 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("MAX_FILE_SIZE", "huge")
	t.Setenv("JOB_TTL_MINUTES", "forever")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.MaxFileSize != 1024*1024*1024 || cfg.JobTTLMinutes != 60 {
		t.Fatalf("malformed values must fall back to defaults: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			DataDir:       "/tmp/media-forge",
			MaxFileSize:   1024,
			JobTTLMinutes: 60,
			GinMode:       "debug",
			FFmpegPath:    "ffmpeg",
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg := base()
	cfg.DataDir = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty data dir")
	}

	cfg = base()
	cfg.MaxFileSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero max file size")
	}

	cfg = base()
	cfg.JobTTLMinutes = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative ttl")
	}

	cfg = base()
	cfg.GinMode = "release"
	cfg.FFmpegPath = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing ffmpeg path in release mode")
	}
}
