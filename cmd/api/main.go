// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/media-forge/internal/archive"
	"github.com/yourusername/media-forge/internal/config"
	"github.com/yourusername/media-forge/internal/convert"
	"github.com/yourusername/media-forge/internal/events"
	"github.com/yourusername/media-forge/internal/jobs"
	"github.com/yourusername/media-forge/internal/storage"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.Default()

	// ストレージ領域の初期化
	store, err := storage.NewLocal(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	// オーケストレーション部品の組み立て
	registry := jobs.NewRegistry()
	hub := events.NewHub(logger)
	scheduler := jobs.NewCleanupScheduler(registry, store, logger)
	defer scheduler.Stop()

	converters := []convert.Converter{
		convert.NewImageConverter(),
		convert.NewVideoConverter(cfg.FFmpegPath),
		convert.NewPDFConverter(),
	}
	dispatcher, err := jobs.NewDispatcher(registry, scheduler, hub, store, converters, logger, jobs.DispatcherOptions{
		TTL:     time.Duration(cfg.JobTTLMinutes) * time.Minute,
		Timeout: time.Duration(cfg.ProcessingTimeoutMinutes) * time.Minute,
	})
	if err != nil {
		log.Fatalf("Failed to initialize dispatcher: %v", err)
	}

	bundler := archive.NewBundler(registry, logger)

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()
	router.MaxMultipartMemory = 32 << 20

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	if cfg.CORSAllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	router.Use(cors.New(corsConfig))

	setupRoutes(router, cfg, registry, dispatcher, hub, bundler, store)

	// サーバーの起動
	addr := ":" + cfg.Port
	log.Printf("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
	log.Printf("Storage directory: %s", cfg.DataDir)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "media-forge-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API グループの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, registry *jobs.Registry, dispatcher *jobs.Dispatcher, hub *events.Hub, bundler *archive.Bundler, store *storage.Local) {
	// 誰でも叩けるヘルスチェック
	router.GET("/health", handleHealth)

	limiter := newIPRateLimiter(cfg.RateLimitRequests, time.Duration(cfg.RateLimitWindowMinutes)*time.Minute)

	api := router.Group("/api")
	api.Use(limiter.Middleware())
	{
		convertRoutes := api.Group("/convert")
		{
			convertRoutes.POST("/image", convertImageHandler(dispatcher, store, cfg.MaxFileSize))
			convertRoutes.POST("/video", convertVideoHandler(dispatcher, store, cfg.MaxFileSize))
			convertRoutes.POST("/pdf", convertPDFHandler(dispatcher, store, cfg.MaxFileSize))
			convertRoutes.POST("/pdf/prepare-editor", prepareEditorHandler(dispatcher, store, cfg.MaxFileSize))
		}

		api.GET("/status/:jobId", statusHandler(registry))
		api.GET("/jobs", jobsListHandler(registry))
		api.DELETE("/jobs/:jobId", deleteJobHandler(dispatcher))

		api.GET("/download/batch", batchDownloadHandler(bundler))
		api.GET("/download/:jobId", downloadHandler(registry))
		api.GET("/preview/:jobId", previewHandler(registry))

		api.GET("/pdf-content/:jobId", pdfContentHandler(registry))
		api.POST("/pdf-editor/save/:jobId", pdfEditorSaveHandler(dispatcher))

		api.GET("/events", eventsHandler(hub))
	}
}
