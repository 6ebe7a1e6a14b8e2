package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store backends selectable through STORE_BACKEND.
const (
	BackendMemory    = "memory"
	BackendDatastore = "datastore"
	BackendMongo     = "mongo"
	BackendPostgres  = "postgres"
)

type envConfig struct {
	APP_PORT      string
	LOG_FILE_PATH string
	LOG_LEVEL     string

	STORE_BACKEND           string
	GCP_PROJECT_ID          string
	DATASTORE_POLL_INTERVAL time.Duration
	MONGO_URI               string
	MONGO_DB_NAME           string
	POSTGRES_DSN            string

	CACHE_PATH         string
	ELASTIC_URL        string
	ELASTIC_INDEX      string
	EXPORT_LAYOUT_FILE string

	NOTIFICATION_LIMIT      int
	SESSION_RESOLVE_TIMEOUT time.Duration
	REMOTE_TIMEOUT          time.Duration
	REMOTE_MAX_ATTEMPTS     int
	REMOTE_BACKOFF          time.Duration
	BREAKER_MAX_FAILURES    int
	BREAKER_TIMEOUT         time.Duration
}

// DefaultEnvConfig holds the configuration after LoadEnvConfig.
var DefaultEnvConfig = defaults()

func defaults() envConfig {
	return envConfig{
		APP_PORT:                "8080",
		LOG_LEVEL:               "info",
		STORE_BACKEND:           BackendMemory,
		DATASTORE_POLL_INTERVAL: 2 * time.Second,
		MONGO_DB_NAME:           "task_management",
		CACHE_PATH:              "session_cache.db",
		ELASTIC_INDEX:           "tasks",
		NOTIFICATION_LIMIT:      30,
		SESSION_RESOLVE_TIMEOUT: 10 * time.Second,
		REMOTE_TIMEOUT:          15 * time.Second,
		REMOTE_MAX_ATTEMPTS:     3,
		REMOTE_BACKOFF:          200 * time.Millisecond,
		BREAKER_MAX_FAILURES:    5,
		BREAKER_TIMEOUT:         10 * time.Second,
	}
}

// LoadEnvConfig loads .env from the working directory, if present, then the environment.
func LoadEnvConfig() error {
	return LoadEnvConfigFrom(".env")
}

// LoadEnvConfigFrom is LoadEnvConfig with an explicit env file. A missing file is not an error.
func LoadEnvConfigFrom(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	cfg, err := fromEnv()
	if err != nil {
		return err
	}
	DefaultEnvConfig = cfg
	return nil
}

func fromEnv() (envConfig, error) {
	cfg := defaults()
	var err error

	cfg.APP_PORT = getEnv("APP_PORT", cfg.APP_PORT)
	cfg.LOG_FILE_PATH = getEnv("LOG_FILE_PATH", cfg.LOG_FILE_PATH)
	cfg.LOG_LEVEL = getEnv("LOG_LEVEL", cfg.LOG_LEVEL)

	cfg.STORE_BACKEND = getEnv("STORE_BACKEND", cfg.STORE_BACKEND)
	cfg.GCP_PROJECT_ID = getEnv("GCP_PROJECT_ID", cfg.GCP_PROJECT_ID)
	cfg.MONGO_URI = getEnv("MONGO_URI", cfg.MONGO_URI)
	cfg.MONGO_DB_NAME = getEnv("MONGO_DB_NAME", cfg.MONGO_DB_NAME)
	cfg.POSTGRES_DSN = getEnv("POSTGRES_DSN", cfg.POSTGRES_DSN)

	cfg.CACHE_PATH = getEnv("CACHE_PATH", cfg.CACHE_PATH)
	cfg.ELASTIC_URL = getEnv("ELASTIC_URL", cfg.ELASTIC_URL)
	cfg.ELASTIC_INDEX = getEnv("ELASTIC_INDEX", cfg.ELASTIC_INDEX)
	cfg.EXPORT_LAYOUT_FILE = getEnv("EXPORT_LAYOUT_FILE", cfg.EXPORT_LAYOUT_FILE)

	if cfg.DATASTORE_POLL_INTERVAL, err = getEnvDuration("DATASTORE_POLL_INTERVAL", cfg.DATASTORE_POLL_INTERVAL); err != nil {
		return cfg, err
	}
	if cfg.NOTIFICATION_LIMIT, err = getEnvInt("NOTIFICATION_LIMIT", cfg.NOTIFICATION_LIMIT); err != nil {
		return cfg, err
	}
	if cfg.SESSION_RESOLVE_TIMEOUT, err = getEnvDuration("SESSION_RESOLVE_TIMEOUT", cfg.SESSION_RESOLVE_TIMEOUT); err != nil {
		return cfg, err
	}
	if cfg.REMOTE_TIMEOUT, err = getEnvDuration("REMOTE_TIMEOUT", cfg.REMOTE_TIMEOUT); err != nil {
		return cfg, err
	}
	if cfg.REMOTE_MAX_ATTEMPTS, err = getEnvInt("REMOTE_MAX_ATTEMPTS", cfg.REMOTE_MAX_ATTEMPTS); err != nil {
		return cfg, err
	}
	if cfg.REMOTE_BACKOFF, err = getEnvDuration("REMOTE_BACKOFF", cfg.REMOTE_BACKOFF); err != nil {
		return cfg, err
	}
	if cfg.BREAKER_MAX_FAILURES, err = getEnvInt("BREAKER_MAX_FAILURES", cfg.BREAKER_MAX_FAILURES); err != nil {
		return cfg, err
	}
	if cfg.BREAKER_TIMEOUT, err = getEnvDuration("BREAKER_TIMEOUT", cfg.BREAKER_TIMEOUT); err != nil {
		return cfg, err
	}

	switch cfg.STORE_BACKEND {
	case BackendMemory, BackendDatastore, BackendMongo, BackendPostgres:
	default:
		return cfg, fmt.Errorf("unknown STORE_BACKEND %q", cfg.STORE_BACKEND)
	}
	if cfg.STORE_BACKEND == BackendDatastore && cfg.GCP_PROJECT_ID == "" {
		return cfg, fmt.Errorf("GCP_PROJECT_ID is required for the datastore backend")
	}
	if cfg.STORE_BACKEND == BackendMongo && cfg.MONGO_URI == "" {
		return cfg, fmt.Errorf("MONGO_URI is required for the mongo backend")
	}
	if cfg.STORE_BACKEND == BackendPostgres && cfg.POSTGRES_DSN == "" {
		return cfg, fmt.Errorf("POSTGRES_DSN is required for the postgres backend")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := getEnv(key, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
