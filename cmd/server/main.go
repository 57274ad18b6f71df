package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"scribeflow/internal/api"
	"scribeflow/internal/auth"
	"scribeflow/internal/config"
	"scribeflow/internal/database"
	"scribeflow/internal/engine"
	"scribeflow/internal/export"
	"scribeflow/internal/live"
	"scribeflow/internal/queue"
	"scribeflow/internal/repository"
	"scribeflow/internal/service"
	"scribeflow/internal/storage"
	"scribeflow/internal/worker"
	"scribeflow/pkg/logger"

	_ "scribeflow/docs" // generated Swagger docs
)

// Version information (set by the release pipeline)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// @title ScribeFlow API
// @version 1.0
// @description Asynchronous audio transcription service with live streaming sessions

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT token with Bearer prefix

func main() {
	var showVersion = flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ScribeFlow %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}

	logger.Init(cfg.LogLevel)
	logger.Startup("boot", "ScribeFlow starting up", "version", version, "commit", commit)

	if err := database.Initialize(cfg.DatabaseURL); err != nil {
		log.Fatal("Failed to initialize database: ", err)
	}
	defer database.Close()
	logger.Startup("database", "Job catalog ready")

	authService := auth.NewAuthService(cfg.JWTSecret, cfg.JWTExpirationMinutes)
	userRepo := repository.NewUserRepository(database.DB)
	users := service.NewUserService(userRepo, authService)
	jobs := repository.NewJobRepository(database.DB)

	// Artifact store: S3-compatible when an endpoint is configured,
	// local filesystem otherwise. A remote store that turns out to be
	// unreachable downgrades itself at first use.
	store, err := storage.SelectStore(cfg.BlobEndpoint, storage.RemoteConfig{
		Endpoint:          cfg.BlobEndpoint,
		Region:            cfg.BlobRegion,
		AccessKey:         cfg.BlobAccessKey,
		SecretKey:         cfg.BlobSecretKey,
		UseTLS:            cfg.BlobUseTLS,
		AudioBucket:       cfg.BlobBucketAudio,
		TranscriptsBucket: cfg.BlobBucketTranscripts,
		FallbackDir:       cfg.LocalStorageDir,
	}, cfg.LocalStorageDir)
	if err != nil {
		log.Fatal("Failed to initialize artifact store: ", err)
	}
	logger.Startup("storage", "Artifact store ready")

	// Process-wide singletons: the engine adapter cache and the
	// live-session table both live here in the composition root.
	registry := engine.NewRegistry(engine.RegistryConfig{
		DevicePreference: cfg.EngineDevice,
		ForceAccelerator: cfg.EngineForceAccel,
		VADMode:          cfg.EngineVADMode,
		Runner:           []string{"python3", filepath.Join("scripts", "asr_runner.py")},
	})

	wk := worker.New(store, jobs, registry, cfg.EngineVariant, cfg.EngineModelSize)

	// An unreachable broker is not fatal here: the broker backend
	// connects lazily and submissions return 503 until it comes back.
	// Only configuration mistakes stop the boot.
	taskQueue, err := queue.Select(cfg.QueueBackend, cfg.BrokerURL, cfg.WorkerMax, wk.Handle)
	if err != nil {
		log.Fatal("Failed to initialize job queue: ", err)
	}
	taskQueue.Start()
	defer taskQueue.Stop()
	logger.Startup("queue", "Job queue ready", "backend", taskQueue.Backend())

	liveManager := live.NewManager(live.Config{
		WindowSeconds:       cfg.LiveWindowSeconds,
		OverlapSeconds:      cfg.LiveWindowOverlapSeconds,
		RepeatWindowSeconds: cfg.LiveRepeatWindowSeconds,
		RepeatMaxDuplicates: cfg.LiveRepeatMaxDuplicates,
		Root:                filepath.Join("data", "live-sessions"),
		EngineVariant:       cfg.EngineVariant,
		ModelSize:           cfg.EngineModelSize,
	}, registry, store, jobs)

	handler := api.NewHandler(cfg, authService, users, jobs, store, taskQueue, liveManager, export.NewService(), wk)
	router := api.SetupRoutes(handler, authService)
	logger.Startup("routes", "Routes configured")

	srv := &http.Server{
		Addr:    cfg.HTTPHost + ":" + cfg.HTTPPort,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server: ", err)
		}
	}()
	logger.Startup("http", fmt.Sprintf("Listening on http://%s:%s", cfg.HTTPHost, cfg.HTTPPort))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}
	logger.Info("Server exited")
}
