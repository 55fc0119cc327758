package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the audiobooker server.
type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Storage  StorageConfig
	Database DatabaseConfig
	NATS     NATSConfig
	Redis    RedisConfig
	Model    ModelConfig
	Voices   VoicesConfig
	Worker   WorkerConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type LogConfig struct {
	Level string
	File  string
}

type StorageConfig struct {
	DataDir         string
	StoreBackend    string
	ArtifactBackend string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type NATSConfig struct {
	URL          string
	ObjectBucket string
	EventSubject string
}

type RedisConfig struct {
	URL               string
	RequestsPerMinute int
}

type ModelConfig struct {
	Provider    string
	BaseURL     string
	APIToken    string
	Name        string
	Timeout     time.Duration
	LoadTimeout time.Duration
}

type VoicesConfig struct {
	Dir     string
	Catalog string
}

type WorkerConfig struct {
	Concurrency int
}

const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendNATS     = "nats"

	ModelProviderNone = "none"
	ModelProviderHTTP = "http"
)

var validStoreBackends = map[string]bool{
	BackendFile:     true,
	BackendPostgres: true,
}

var validArtifactBackends = map[string]bool{
	BackendFile: true,
	BackendNATS: true,
}

var validModelProviders = map[string]bool{
	ModelProviderNone: true,
	ModelProviderHTTP: true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	dataDir := envString("DATA_DIR", "data")

	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("AUDIOBOOK_PORT", 8080),
			Env:  envString("AUDIOBOOK_ENV", "development"),
		},
		Log: LogConfig{
			Level: envString("LOG_LEVEL", "info"),
			File:  os.Getenv("LOG_FILE"),
		},
		Storage: StorageConfig{
			DataDir:         dataDir,
			StoreBackend:    envString("STORE_BACKEND", BackendFile),
			ArtifactBackend: envString("ARTIFACT_BACKEND", BackendFile),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		NATS: NATSConfig{
			URL:          os.Getenv("NATS_URL"),
			ObjectBucket: envString("NATS_OBJECT_BUCKET", "audiobooks"),
			EventSubject: envString("NATS_EVENT_SUBJECT", "audiobook.jobs"),
		},
		Redis: RedisConfig{
			URL:               os.Getenv("REDIS_URL"),
			RequestsPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 30),
		},
		Model: ModelConfig{
			Provider:    envString("MODEL_PROVIDER", ModelProviderNone),
			BaseURL:     os.Getenv("MODEL_BASE_URL"),
			APIToken:    os.Getenv("MODEL_API_TOKEN"),
			Name:        envString("MODEL_NAME", "sesame/csm-1b"),
			Timeout:     envDuration("MODEL_TIMEOUT", 10*time.Minute),
			LoadTimeout: envDuration("MODEL_LOAD_TIMEOUT", 5*time.Minute),
		},
		Voices: VoicesConfig{
			Dir:     envString("VOICES_DIR", filepath.Join(dataDir, "voices")),
			Catalog: os.Getenv("VOICE_CATALOG"),
		},
		Worker: WorkerConfig{
			Concurrency: envInt("WORKER_CONCURRENCY", 2),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("AUDIOBOOK_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}

	if !validStoreBackends[c.Storage.StoreBackend] {
		return fmt.Errorf("STORE_BACKEND must be one of file, postgres; got %q", c.Storage.StoreBackend)
	}
	if c.Storage.StoreBackend == BackendPostgres && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is postgres")
	}

	if !validArtifactBackends[c.Storage.ArtifactBackend] {
		return fmt.Errorf("ARTIFACT_BACKEND must be one of file, nats; got %q", c.Storage.ArtifactBackend)
	}
	if c.Storage.ArtifactBackend == BackendNATS && c.NATS.URL == "" {
		return fmt.Errorf("NATS_URL is required when ARTIFACT_BACKEND is nats")
	}

	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if !validModelProviders[c.Model.Provider] {
		return fmt.Errorf("MODEL_PROVIDER must be one of none, http; got %q", c.Model.Provider)
	}
	if c.Model.Provider == ModelProviderHTTP {
		if c.Model.BaseURL == "" {
			return fmt.Errorf("MODEL_BASE_URL is required when MODEL_PROVIDER is http")
		}
		if !strings.HasPrefix(c.Model.BaseURL, "http://") && !strings.HasPrefix(c.Model.BaseURL, "https://") {
			return fmt.Errorf("MODEL_BASE_URL must start with http:// or https://, got %q", c.Model.BaseURL)
		}
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Worker.Concurrency)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
