// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (HIRAKU_* and DATABASE_URL)
//  2. Config file (<data dir>/config.yaml or ./config.yaml)
//  3. Default values
//
// Main categories:
//   - Server: listen address, CORS origins, rate limiting
//   - Storage: PostgreSQL connection (see storage.go)
//   - Ollama: chat model and embedder model served by a local Ollama daemon
//   - RAG: chunking and retrieval parameters
//   - Auth: JWT secret and token lifetime
//   - Upload: upload directory and size limit
//
// Sensitive fields (postgres password, JWT secret) are masked in MarshalJSON
// and never logged.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Sentinel errors for configuration validation. Wrapped with context via
// fmt.Errorf("%w: details", ErrXxx) so callers can use errors.Is.
var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidAddr indicates the server listen address is invalid.
	ErrInvalidAddr = errors.New("invalid listen address")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")

	// ErrInvalidModelName indicates the chat model name is empty.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model name is empty.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidChunking indicates chunk size/overlap values are out of range.
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrMissingJWTSecret indicates no JWT secret could be resolved.
	ErrMissingJWTSecret = errors.New("missing JWT secret")

	// ErrInvalidJWTSecret indicates the JWT secret is too short.
	ErrInvalidJWTSecret = errors.New("invalid JWT secret")

	// ErrInvalidUploadDir indicates the upload directory is empty.
	ErrInvalidUploadDir = errors.New("invalid upload directory")
)

const (
	// DefaultChatModel is the Ollama chat model used for answer generation.
	DefaultChatModel = "phi3"

	// DefaultEmbedderModel is the Ollama embedding model.
	// nomic-embed-text outputs 768 dimensions; the chunks table schema
	// must match (see db/migrations).
	DefaultEmbedderModel = "nomic-embed-text"

	// DefaultTokenTTL is how long an issued auth token stays valid.
	DefaultTokenTTL = 7 * 24 * time.Hour

	// DefaultMaxUploadBytes caps multipart upload size.
	DefaultMaxUploadBytes = 32 << 20 // 32 MiB

	// minJWTSecretLen is the minimum byte length for the HS256 secret.
	minJWTSecretLen = 32
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields, update MarshalJSON.
type Config struct {
	// Server configuration
	Addr        string   `mapstructure:"addr" json:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // trust X-Real-IP/X-Forwarded-For behind a reverse proxy
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`   // per-IP token bucket burst (0 = default)

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Ollama configuration
	OllamaHost    string `mapstructure:"ollama_host" json:"ollama_host"`
	ModelName     string `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`

	// RAG configuration
	ChunkSize    int `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap" json:"chunk_overlap"`

	// Auth configuration
	JWTSecret string        `mapstructure:"jwt_secret" json:"jwt_secret"` // SENSITIVE: masked in MarshalJSON
	TokenTTL  time.Duration `mapstructure:"token_ttl" json:"token_ttl"`

	// Upload configuration
	UploadDir      string `mapstructure:"upload_dir" json:"upload_dir"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes" json:"max_upload_bytes"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level" json:"log_level"` // debug, info, warn, error
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// DataDir returns the directory holding local state (config file, upload
// dir default, generated JWT secret).
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting user home directory: %w", err)
	}
	return filepath.Join(home, ".hiraku"), nil
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	dataDir, err := DataDir()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dataDir)
	v.AddConfigPath(".")

	setDefaults(v, dataDir)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No config file is fine; defaults + env apply.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		if err := cfg.applyDatabaseURL(dbURL); err != nil {
			return nil, err
		}
	}

	if err := cfg.resolveJWTSecret(dataDir); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, dataDir string) {
	v.SetDefault("addr", "127.0.0.1:8080")
	v.SetDefault("cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("trust_proxy", false)
	v.SetDefault("rate_burst", 0)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "hiraku")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_db_name", "hiraku")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("ollama_host", "http://localhost:11434")
	v.SetDefault("model_name", DefaultChatModel)
	v.SetDefault("embedder_model", DefaultEmbedderModel)

	v.SetDefault("chunk_size", 1024)
	v.SetDefault("chunk_overlap", 200)

	v.SetDefault("jwt_secret", "")
	v.SetDefault("token_ttl", DefaultTokenTTL)

	v.SetDefault("upload_dir", filepath.Join(dataDir, "uploads"))
	v.SetDefault("max_upload_bytes", int64(DefaultMaxUploadBytes))

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

func bindEnvVariables(v *viper.Viper) {
	v.SetEnvPrefix("HIRAKU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// resolveJWTSecret fills in JWTSecret when neither env nor config file set
// it, persisting a generated secret under the data dir (0600) so tokens
// survive restarts.
func (c *Config) resolveJWTSecret(dataDir string) error {
	if c.JWTSecret != "" {
		return nil
	}

	secretPath := filepath.Join(dataDir, ".jwt_secret")
	if data, err := os.ReadFile(secretPath); err == nil {
		c.JWTSecret = strings.TrimSpace(string(data))
		if c.JWTSecret != "" {
			return nil
		}
	}

	buf := make([]byte, minJWTSecretLen)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	c.JWTSecret = hex.EncodeToString(buf)

	if err := os.WriteFile(secretPath, []byte(c.JWTSecret), 0o600); err != nil {
		return fmt.Errorf("persisting JWT secret: %w", err)
	}
	return nil
}

// MarshalJSON masks sensitive fields so the config can be logged safely.
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursion
	masked := alias(*c)
	if masked.PostgresPassword != "" {
		masked.PostgresPassword = "***"
	}
	if masked.JWTSecret != "" {
		masked.JWTSecret = "***"
	}
	b, err := json.Marshal(masked)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return b, nil
}
