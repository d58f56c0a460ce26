package config

import (
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    Server    `yaml:"server"`
	Instagram Instagram `yaml:"instagram"`
	Database  Database  `yaml:"database"`
	Pipeline  Pipeline  `yaml:"pipeline"`
	Vault     Vault     `yaml:"vault"`
	CDN       CDN       `yaml:"cdn"`
}

// CDN holds S3/MinIO storage configuration for rendered cards
type CDN struct {
	Endpoint        string `yaml:"endpoint" env:"CDN_ENDPOINT" env-default:"http://localhost:9000"`
	AccessKeyID     string `yaml:"access_key_id" env:"CDN_ACCESS_KEY_ID" env-default:"minioadmin"`
	SecretAccessKey string `yaml:"secret_access_key" env:"CDN_SECRET_ACCESS_KEY" env-default:"minioadmin"`
	Bucket          string `yaml:"bucket" env:"CDN_BUCKET" env-default:"media"`
	Region          string `yaml:"region" env:"CDN_REGION" env-default:"us-east-1"`
	PublicURL       string `yaml:"public_url" env:"CDN_PUBLIC_URL" env-default:"http://localhost:9000/media"`
}

// Server holds HTTP server configuration
type Server struct {
	Host          string        `yaml:"host" env:"SERVER_HOST" env-default:"0.0.0.0"`
	Port          string        `yaml:"port" env:"SERVER_PORT" env-default:"8080"`
	ReadTimeout   time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout  time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout   time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace" env:"SERVER_SHUTDOWN_GRACE" env-default:"30s"`
}

// Address returns the full server address
func (s Server) Address() string {
	return s.Host + ":" + s.Port
}

// Instagram holds Graph API configuration
type Instagram struct {
	BaseURL     string `yaml:"base_url" env:"INSTAGRAM_BASE_URL" env-default:"https://graph.instagram.com"`
	APIVersion  string `yaml:"api_version" env:"INSTAGRAM_API_VERSION" env-default:"v21.0"`
	MaxAttempts int    `yaml:"max_attempts" env:"INSTAGRAM_MAX_ATTEMPTS" env-default:"5"`
}

// Database holds database configuration
type Database struct {
	PostgresDSN string `yaml:"postgres_dsn" env:"DATABASE_URL" env-required:"true"`

	// Connection pool settings
	MaxConns     int32         `yaml:"max_conns" env:"DB_MAX_CONNS" env-default:"25"`
	MinConns     int32         `yaml:"min_conns" env:"DB_MIN_CONNS" env-default:"5"`
	ConnLifetime time.Duration `yaml:"conn_lifetime" env:"DB_CONN_LIFETIME" env-default:"5m"`
}

// Vault holds token encryption configuration. The key has no default:
// deployments must set it explicitly.
type Vault struct {
	EncryptionKey string `yaml:"encryption_key" env:"VAULT_ENCRYPTION_KEY" env-required:"true"`
}

// Pipeline holds publishing pipeline cadence and sizing
type Pipeline struct {
	Enabled bool `yaml:"enabled" env:"PIPELINE_ENABLED" env-default:"true"`

	RenderInterval    time.Duration `yaml:"render_interval" env:"PIPELINE_RENDER_INTERVAL" env-default:"5s"`
	PublishInterval   time.Duration `yaml:"publish_interval" env:"PIPELINE_PUBLISH_INTERVAL" env-default:"5s"`
	CarouselInterval  time.Duration `yaml:"carousel_interval" env:"PIPELINE_CAROUSEL_INTERVAL" env-default:"15s"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval" env:"PIPELINE_RECONCILE_INTERVAL" env-default:"5m"`
	StuckAfter        time.Duration `yaml:"stuck_after" env:"PIPELINE_STUCK_AFTER" env-default:"30m"`
	TokenRefreshAt    string        `yaml:"token_refresh_at" env:"PIPELINE_TOKEN_REFRESH_AT" env-default:"04:10"`

	RenderPool    int `yaml:"render_pool" env:"PIPELINE_RENDER_POOL" env-default:"4"`
	PublishPool   int `yaml:"publish_pool" env:"PIPELINE_PUBLISH_POOL" env-default:"8"`
	CarouselPool  int `yaml:"carousel_pool" env:"PIPELINE_CAROUSEL_POOL" env-default:"2"`
	RenderBatch   int `yaml:"render_batch" env:"PIPELINE_RENDER_BATCH" env-default:"50"`
	PublishBatch  int `yaml:"publish_batch" env:"PIPELINE_PUBLISH_BATCH" env-default:"50"`
	CarouselBatch int `yaml:"carousel_batch" env:"PIPELINE_CAROUSEL_BATCH" env-default:"5"`
}

// MustLoad loads configuration from environment and panics on error
func MustLoad() Config {
	// Load .env file if exists (for development)
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	return cfg
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
