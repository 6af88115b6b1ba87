package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvDevelopment enables diagnostic details in error responses and the development logger.
const EnvDevelopment = "development"

// Config holds application configuration loaded from environment.
type Config struct {
	Env        string
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Storage    StorageConfig
	Inference  InferenceConfig
	Processing ProcessingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	MaxUploadMB        int
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL string
}

// RedisConfig holds Redis connection settings. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// AuthConfig holds identity provider token verification settings.
type AuthConfig struct {
	ProviderURL string
	PublicKey   string // PEM, RSA or ECDSA
	Audience    string
}

// StorageConfig holds S3-compatible object store settings (Cloudflare R2 by default).
type StorageConfig struct {
	AccountID       string
	Endpoint        string // overrides the R2 endpoint derived from AccountID
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
}

// EndpointURL returns the explicit endpoint or the R2 endpoint for the account.
func (c StorageConfig) EndpointURL() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.AccountID)
}

// InferenceConfig holds hosted speech-to-text and chat completion settings.
type InferenceConfig struct {
	APIKey             string
	BaseURL            string
	TranscriptionModel string
	SummaryModel       string
	TitleModel         string
}

// ProcessingConfig holds pipeline settings.
type ProcessingConfig struct {
	HeaderExtraction  bool
	AutoProcess       bool
	Timeout           time.Duration
	HTTPClientTimeout time.Duration
	LockTTL           time.Duration
}

// Development reports whether the app runs in a development configuration.
func (c *Config) Development() bool { return c.Env == EnvDevelopment }

// Load reads configuration from environment, with optional .env file.
// Storage, inference, identity provider and database settings have no defaults; every missing key is reported.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Env: getEnv("APP_ENV", "production"),
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 300),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			MaxUploadMB:        getEnvInt("MAX_UPLOAD_MB", 100),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			ProviderURL: os.Getenv("AUTH_PROVIDER_URL"),
			PublicKey:   strings.ReplaceAll(os.Getenv("AUTH_PUBLIC_KEY"), `\n`, "\n"),
			Audience:    getEnv("AUTH_AUDIENCE", "authenticated"),
		},
		Storage: StorageConfig{
			AccountID:       os.Getenv("STORAGE_ACCOUNT_ID"),
			Endpoint:        os.Getenv("STORAGE_ENDPOINT"),
			AccessKeyID:     os.Getenv("STORAGE_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("STORAGE_SECRET_ACCESS_KEY"),
			Bucket:          os.Getenv("STORAGE_BUCKET"),
			Region:          getEnv("STORAGE_REGION", "auto"),
		},
		Inference: InferenceConfig{
			APIKey:             os.Getenv("INFERENCE_API_KEY"),
			BaseURL:            getEnv("INFERENCE_BASE_URL", "https://api.groq.com/openai/v1"),
			TranscriptionModel: getEnv("TRANSCRIPTION_MODEL", "whisper-large-v3"),
			SummaryModel:       getEnv("SUMMARY_MODEL", "llama-3.1-70b-versatile"),
			TitleModel:         getEnv("TITLE_MODEL", "llama-3.1-8b-instant"),
		},
		Processing: ProcessingConfig{
			HeaderExtraction:  getEnvBool("HEADER_EXTRACTION_ENABLED", true),
			AutoProcess:       getEnvBool("AUTO_PROCESS", false),
			Timeout:           time.Duration(getEnvInt("PROCESS_TIMEOUT_SEC", 600)) * time.Second,
			HTTPClientTimeout: time.Duration(getEnvInt("HTTP_CLIENT_TIMEOUT_SEC", 300)) * time.Second,
			LockTTL:           time.Duration(getEnvInt("LOCK_TTL_SEC", 900)) * time.Second,
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	check := func(key, value string) {
		if value == "" {
			missing = append(missing, key)
		}
	}
	check("DATABASE_URL", c.Database.URL)
	if c.Storage.AccountID == "" && c.Storage.Endpoint == "" {
		missing = append(missing, "STORAGE_ACCOUNT_ID or STORAGE_ENDPOINT")
	}
	check("STORAGE_ACCESS_KEY_ID", c.Storage.AccessKeyID)
	check("STORAGE_SECRET_ACCESS_KEY", c.Storage.SecretAccessKey)
	check("STORAGE_BUCKET", c.Storage.Bucket)
	check("INFERENCE_API_KEY", c.Inference.APIKey)
	check("AUTH_PROVIDER_URL", c.Auth.ProviderURL)
	check("AUTH_PUBLIC_KEY", c.Auth.PublicKey)
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
