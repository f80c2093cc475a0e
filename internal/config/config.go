package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Auth        AuthConfig        `yaml:"auth"`
	Store       StoreConfig       `yaml:"store"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	NATS        NATSConfig        `yaml:"nats"`
	MinIO       MinIOConfig       `yaml:"minio"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Indexing    IndexingConfig    `yaml:"indexing"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port          int    `yaml:"port"`
	MetricsPort   int    `yaml:"metrics_port"`
	APIKey        string `yaml:"api_key"`
	MaxPhotoBytes int64  `yaml:"max_photo_bytes"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// StoreConfig selects the record store backend: "postgres" or "memory".
type StoreConfig struct {
	Driver string `yaml:"driver"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// RedisConfig is optional; an empty URL disables idempotency keys.
type RedisConfig struct {
	URL            string        `yaml:"url"`
	PoolSize       int           `yaml:"pool_size"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint      string `yaml:"endpoint"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	Bucket        string `yaml:"bucket"`
	UseSSL        bool   `yaml:"use_ssl"`
	PublicBaseURL string `yaml:"public_base_url"`
}

type RecognitionConfig struct {
	BaseURL          string        `yaml:"base_url"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// IndexingConfig selects how index tasks are dispatched: "nats" hands them to
// cmd/worker, "local" runs them on a bounded in-process pool.
type IndexingConfig struct {
	Mode      string `yaml:"mode"`
	Workers   int    `yaml:"workers"`
	QueueSize int    `yaml:"queue_size"`
	// StaleAfter is how long a job may sit pending before reconciliation treats it
	// as lost.
	StaleAfter time.Duration `yaml:"stale_after"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("store.driver must be postgres or memory, got %q", c.Store.Driver)
	}
	switch c.Indexing.Mode {
	case "nats", "local":
	default:
		return fmt.Errorf("indexing.mode must be nats or local, got %q", c.Indexing.Mode)
	}
	if c.Store.Driver == "memory" && c.Indexing.Mode == "nats" {
		return fmt.Errorf("store.driver memory requires indexing.mode local")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Recognition.BaseURL == "" {
		return fmt.Errorf("recognition.base_url is required")
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 8082
	}
	if cfg.Server.MaxPhotoBytes == 0 {
		cfg.Server.MaxPhotoBytes = 10 << 20
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "absens"
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "postgres"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 10
	}
	if cfg.Redis.IdempotencyTTL == 0 {
		cfg.Redis.IdempotencyTTL = 24 * time.Hour
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "absens-photos"
	}
	if cfg.Recognition.Timeout == 0 {
		cfg.Recognition.Timeout = 15 * time.Second
	}
	if cfg.Recognition.FailureThreshold == 0 {
		cfg.Recognition.FailureThreshold = 5
	}
	if cfg.Recognition.Cooldown == 0 {
		cfg.Recognition.Cooldown = 30 * time.Second
	}
	if cfg.Indexing.Mode == "" {
		cfg.Indexing.Mode = "nats"
	}
	if cfg.Indexing.Workers == 0 {
		cfg.Indexing.Workers = 4
	}
	if cfg.Indexing.QueueSize == 0 {
		cfg.Indexing.QueueSize = 256
	}
	if cfg.Indexing.StaleAfter == 0 {
		cfg.Indexing.StaleAfter = 15 * time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ABSENS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ABSENS_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("ABSENS_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("ABSENS_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("ABSENS_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("ABSENS_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("ABSENS_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("ABSENS_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("ABSENS_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("ABSENS_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("ABSENS_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("ABSENS_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("ABSENS_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("ABSENS_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("ABSENS_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("ABSENS_MINIO_PUBLIC_BASE_URL"); v != "" {
		cfg.MinIO.PublicBaseURL = v
	}
	if v := os.Getenv("ABSENS_RECOGNITION_URL"); v != "" {
		cfg.Recognition.BaseURL = v
	}
	if v := os.Getenv("ABSENS_INDEX_MODE"); v != "" {
		cfg.Indexing.Mode = v
	}
	if v := os.Getenv("ABSENS_INDEX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Indexing.Workers = n
		}
	}
}
