package infra

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	JWTSecret          string
	CORSAllowedOrigins []string
	MigrateOnStart     bool

	TripoAPIKey        string
	TripoBaseURL       string
	TripoSubmitTimeout time.Duration
	TripoPollTimeout   time.Duration

	PollInterval       time.Duration
	PollMaxDuration    time.Duration
	PollMaxMissing     int
	PollMaxFailures    int
	WorkerStaleAfter   time.Duration
	WorkerBatchSize    int
	WorkerScanInterval time.Duration

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	StorageDriver   string
	StoragePath     string
	StorageBaseURL  string
	MinioEndpoint   string
	MinioAccessKey  string
	MinioSecretKey  string
	MinioBucket     string
	MinioUseSSL     bool
	MinioPublicURL  string
	MaxUploadBytes  int64
	RedisURL        string
	RelocateWorkers int
	RelocateQueue   int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               port,
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		MigrateOnStart:     getEnvBool("MIGRATE_ON_START", false),

		TripoAPIKey:        os.Getenv("TRIPO_API_KEY"),
		TripoBaseURL:       getEnv("TRIPO_BASE_URL", "https://api.tripo3d.ai/v2/openapi"),
		TripoSubmitTimeout: time.Second * time.Duration(getEnvInt("TRIPO_SUBMIT_TIMEOUT_SECONDS", 30)),
		TripoPollTimeout:   time.Second * time.Duration(getEnvInt("TRIPO_POLL_TIMEOUT_SECONDS", 15)),

		PollInterval:       time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 5)),
		PollMaxDuration:    time.Minute * time.Duration(getEnvInt("POLL_MAX_DURATION_MINUTES", 30)),
		PollMaxMissing:     getEnvInt("POLL_MAX_MISSING_OUTPUTS", 3),
		PollMaxFailures:    getEnvInt("POLL_MAX_FAILURES", 5),
		WorkerStaleAfter:   time.Second * time.Duration(getEnvInt("WORKER_STALE_AFTER_SECONDS", 60)),
		WorkerBatchSize:    getEnvInt("WORKER_BATCH_SIZE", 20),
		WorkerScanInterval: time.Second * time.Duration(getEnvInt("WORKER_SCAN_INTERVAL_SECONDS", 15)),

		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),

		StorageDriver:   strings.ToLower(getEnv("STORAGE_DRIVER", "filesystem")),
		StoragePath:     getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:  getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),
		MinioEndpoint:   os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey:  os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey:  os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:     getEnv("MINIO_BUCKET", "models"),
		MinioUseSSL:     getEnvBool("MINIO_USE_SSL", false),
		MinioPublicURL:  os.Getenv("MINIO_PUBLIC_URL"),
		MaxUploadBytes:  int64(getEnvInt("MAX_UPLOAD_BYTES", 2*1024*1024)),
		RedisURL:        os.Getenv("REDIS_URL"),
		RelocateWorkers: getEnvInt("RELOCATION_WORKERS", defaultRelocationWorkers()),
		RelocateQueue:   getEnvInt("RELOCATION_QUEUE", 1024),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	switch cfg.StorageDriver {
	case "filesystem":
	case "minio":
		if cfg.MinioEndpoint == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
			return nil, fmt.Errorf("MINIO_ENDPOINT, MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required for the minio storage driver")
		}
	default:
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL_SECONDS must be positive")
	}

	return cfg, nil
}

// defaultRelocationWorkers sizes the relocation pool at twice the available
// parallelism with a floor of four.
func defaultRelocationWorkers() int {
	n := 2 * runtime.NumCPU()
	if n < 4 {
		n = 4
	}
	return n
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
