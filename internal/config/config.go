// Package config loads and validates the service's configuration from
// environment variables (viper-backed), an optional .env overlay for
// local development, and typed defaults.
package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every recognized configuration key.
type Config struct {
	// HTTP
	HTTPHost              string
	HTTPPort              string
	AllowedFrontendOrigin string
	LogLevel              string

	// Database
	DatabaseURL string

	// Queue
	QueueBackend string // auto | broker | memory
	BrokerURL    string

	// Blob storage
	BlobEndpoint          string
	BlobRegion            string
	BlobAccessKey         string
	BlobSecretKey         string
	BlobUseTLS            bool
	BlobBucketAudio       string
	BlobBucketTranscripts string
	BlobPresignedTTL      int // seconds, >= 60
	LocalStorageDir       string

	// Submission
	MaxUploadMB int

	// Live sessions
	LiveWindowSeconds        float64
	LiveWindowOverlapSeconds float64
	LiveRepeatWindowSeconds  float64
	LiveRepeatMaxDuplicates  int

	// Engine
	QualityProfileDefault string
	EngineDevice          string // auto | accelerator | cpu
	EngineForceAccel      bool
	EngineVariant         string // primary | fallback | stub
	EngineModelSize       string
	EngineVADMode         string // auto | on | off

	// Auth
	JWTSecret            string
	JWTExpirationMinutes int

	// Worker pool
	WorkerMin         int
	WorkerMax         int
	JobTimeoutSeconds int
}

const envPrefix = "SCRIBEFLOW"

// Load reads configuration from the environment (and an optional .env
// file), applying defaults for anything unset, then validates it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file found, using system environment variables")
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := map[string]interface{}{
		"http.host":                "0.0.0.0",
		"http.port":                "8080",
		"allowed_frontend_origin":  "*",
		"log_level":                "info",
		"database_url":             "data/scribeflow.db",
		"queue_backend":            "auto",
		"broker_url":               "redis://localhost:6379/0",
		"blob_endpoint":            "",
		"blob_region":              "us-east-1",
		"blob_access_key":          "",
		"blob_secret_key":          "",
		"blob_use_tls":             false,
		"blob_bucket_audio":        "scribeflow-audio",
		"blob_bucket_transcripts":  "scribeflow-transcripts",
		"blob_presigned_ttl":       900,
		"local_storage_dir":        "data/blobs",
		"max_upload_mb":            300,
		"live_window_seconds":      5.0,
		"live_window_overlap_seconds": 1.0,
		"live_repeat_window_seconds":  2.0,
		"live_repeat_max_duplicates":  3,
		"quality_profile_default":  "balanced",
		"engine_device":            "auto",
		"engine_force_accelerator": false,
		"engine_variant":           "fallback",
		"engine_model_size":        "small",
		"engine_vad_mode":          "auto",
		"jwt_secret":               "",
		"jwt_expiration_minutes":   60,
		"worker_min":               1,
		"worker_max":               4,
		"job_timeout_seconds":      0,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
		_ = v.BindEnv(key)
	}

	cfg := &Config{
		HTTPHost:                 v.GetString("http.host"),
		HTTPPort:                 v.GetString("http.port"),
		AllowedFrontendOrigin:    v.GetString("allowed_frontend_origin"),
		LogLevel:                 v.GetString("log_level"),
		DatabaseURL:              v.GetString("database_url"),
		QueueBackend:             v.GetString("queue_backend"),
		BrokerURL:                v.GetString("broker_url"),
		BlobEndpoint:             v.GetString("blob_endpoint"),
		BlobRegion:               v.GetString("blob_region"),
		BlobAccessKey:            v.GetString("blob_access_key"),
		BlobSecretKey:            v.GetString("blob_secret_key"),
		BlobUseTLS:               v.GetBool("blob_use_tls"),
		BlobBucketAudio:          v.GetString("blob_bucket_audio"),
		BlobBucketTranscripts:    v.GetString("blob_bucket_transcripts"),
		BlobPresignedTTL:         v.GetInt("blob_presigned_ttl"),
		LocalStorageDir:          v.GetString("local_storage_dir"),
		MaxUploadMB:              v.GetInt("max_upload_mb"),
		LiveWindowSeconds:        v.GetFloat64("live_window_seconds"),
		LiveWindowOverlapSeconds: v.GetFloat64("live_window_overlap_seconds"),
		LiveRepeatWindowSeconds:  v.GetFloat64("live_repeat_window_seconds"),
		LiveRepeatMaxDuplicates:  v.GetInt("live_repeat_max_duplicates"),
		QualityProfileDefault:    v.GetString("quality_profile_default"),
		EngineDevice:             v.GetString("engine_device"),
		EngineForceAccel:         v.GetBool("engine_force_accelerator"),
		EngineVariant:            v.GetString("engine_variant"),
		EngineModelSize:          v.GetString("engine_model_size"),
		EngineVADMode:            v.GetString("engine_vad_mode"),
		JWTSecret:                v.GetString("jwt_secret"),
		JWTExpirationMinutes:     v.GetInt("jwt_expiration_minutes"),
		WorkerMin:                v.GetInt("worker_min"),
		WorkerMax:                v.GetInt("worker_max"),
		JobTimeoutSeconds:        v.GetInt("job_timeout_seconds"),
	}

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = devJWTSecret()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if isPlaceholderSecret(c.JWTSecret) {
		return fmt.Errorf("config: jwt_secret must not be empty or a placeholder value")
	}
	if c.JWTExpirationMinutes < 1 {
		return fmt.Errorf("config: jwt_expiration_minutes must be >= 1")
	}
	if c.BlobPresignedTTL < 60 {
		return fmt.Errorf("config: blob_presigned_ttl must be >= 60")
	}
	if c.MaxUploadMB < 1 {
		return fmt.Errorf("config: max_upload_mb must be >= 1")
	}
	if c.LiveWindowSeconds <= 0 {
		return fmt.Errorf("config: live_window_seconds must be > 0")
	}
	if c.LiveWindowOverlapSeconds < 0 || c.LiveRepeatWindowSeconds < 0 || c.LiveRepeatMaxDuplicates < 0 {
		return fmt.Errorf("config: live_* window/repeat values must be >= 0")
	}
	switch c.QueueBackend {
	case "auto", "broker", "memory":
	default:
		return fmt.Errorf("config: queue_backend must be one of auto|broker|memory, got %q", c.QueueBackend)
	}
	return nil
}

func isPlaceholderSecret(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "changeme", "change-me", "secret", "placeholder":
		return true
	}
	return false
}
