package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"traffic-fine-chatbot/llm"
	"traffic-fine-chatbot/storage"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Environment string          `yaml:"environment" validate:"required"`
	Server      ServerConfig    `yaml:"server"`
	Logging     LoggingConfig   `yaml:"logging"`
	Gemini      GeminiConfig    `yaml:"gemini"`
	LLM         LLMConfig       `yaml:"llm"`
	Retrieval   RetrievalConfig `yaml:"retrieval"`
	Storage     StorageConfig   `yaml:"storage"`
	Cache       CacheConfig     `yaml:"cache"`
	Ingest      IngestConfig    `yaml:"ingest"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// LoggingConfig selects the zap logger
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// GeminiConfig holds Google Gemini client configuration
type GeminiConfig struct {
	APIKey         string  `yaml:"api_key"`
	ChatModel      string  `yaml:"chat_model" validate:"required"`
	EmbeddingModel string  `yaml:"embedding_model" validate:"required"`
	Temperature    float64 `yaml:"temperature" validate:"gte=0,lte=2"`
}

// LLMConfig bounds calls to the model provider
type LLMConfig struct {
	CallTimeout    time.Duration `yaml:"call_timeout" validate:"gt=0"`
	MaxAttempts    int           `yaml:"max_attempts" validate:"min=1,max=10"`
	InitialBackoff time.Duration `yaml:"initial_backoff" validate:"gte=0"`
	MaxBackoff     time.Duration `yaml:"max_backoff" validate:"gtefield=InitialBackoff"`
}

// RetrievalConfig tunes the chat pipeline
type RetrievalConfig struct {
	TopK        int `yaml:"top_k" validate:"min=0,max=50"`
	MaxParallel int `yaml:"max_parallel" validate:"min=1"`
}

// StorageConfig selects where documents and the knowledge base artifact live
type StorageConfig struct {
	Type         string `yaml:"type" validate:"oneof=local s3"`
	LocalPath    string `yaml:"local_path"`
	S3Bucket     string `yaml:"s3_bucket" validate:"required_if=Type s3"`
	S3Region     string `yaml:"s3_region"`
	S3Prefix     string `yaml:"s3_prefix"`
	AWSAccessKey string `yaml:"-"`
	AWSSecretKey string `yaml:"-"`
	ArtifactKey  string `yaml:"artifact_key" validate:"required"`
}

// CacheConfig configures the redis embedding cache. An empty URL disables it.
type CacheConfig struct {
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl" validate:"gt=0"`
}

// IngestConfig tunes offline annotation
type IngestConfig struct {
	Workers   int `yaml:"workers" validate:"min=1,max=64"`
	BatchSize int `yaml:"batch_size" validate:"min=1,max=100"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Gemini: GeminiConfig{
			ChatModel:      llm.DefaultChatModel,
			EmbeddingModel: llm.DefaultEmbeddingModel,
			Temperature:    llm.DefaultTemperature,
		},
		LLM: LLMConfig{
			CallTimeout:    30 * time.Second,
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     10 * time.Second,
		},
		Retrieval: RetrievalConfig{
			TopK:        5,
			MaxParallel: 4,
		},
		Storage: StorageConfig{
			Type:        string(storage.StorageTypeLocal),
			LocalPath:   ".",
			S3Region:    "us-east-1",
			ArtifactKey: "law_data_processed.json",
		},
		Cache: CacheConfig{
			TTL: 24 * time.Hour,
		},
		Ingest: IngestConfig{
			Workers:   4,
			BatchSize: 100,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file named
// by CONFIG_FILE and environment variables, in increasing precedence.
func Load() (*Config, error) {
	// Try current directory first, then project root (relative to cmd/*)
	if err := godotenv.Load(); err != nil {
		_ = godotenv.Load("../../.env")
	}

	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.Logging.Level = strings.ToLower(getEnv("LOG_LEVEL", c.Logging.Level))
	c.Logging.Format = strings.ToLower(getEnv("LOG_FORMAT", c.Logging.Format))

	c.Server.Port = getEnvAsInt("PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvAsDuration("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvAsDuration("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.ShutdownTimeout = getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Gemini.APIKey = getEnv("GEMINI_API_KEY", getEnv("GENAI_API_KEY", c.Gemini.APIKey))
	c.Gemini.ChatModel = getEnv("GEMINI_CHAT_MODEL", c.Gemini.ChatModel)
	c.Gemini.EmbeddingModel = getEnv("GEMINI_EMBEDDING_MODEL", c.Gemini.EmbeddingModel)
	c.Gemini.Temperature = getEnvAsFloat("GEMINI_TEMPERATURE", c.Gemini.Temperature)

	c.LLM.CallTimeout = getEnvAsDuration("LLM_CALL_TIMEOUT", c.LLM.CallTimeout)
	c.LLM.MaxAttempts = getEnvAsInt("LLM_MAX_ATTEMPTS", c.LLM.MaxAttempts)
	c.LLM.InitialBackoff = getEnvAsDuration("LLM_INITIAL_BACKOFF", c.LLM.InitialBackoff)
	c.LLM.MaxBackoff = getEnvAsDuration("LLM_MAX_BACKOFF", c.LLM.MaxBackoff)

	c.Retrieval.TopK = getEnvAsInt("RETRIEVAL_TOP_K", c.Retrieval.TopK)
	c.Retrieval.MaxParallel = getEnvAsInt("RETRIEVAL_MAX_PARALLEL", c.Retrieval.MaxParallel)

	c.Storage.Type = strings.ToLower(getEnv("STORAGE_TYPE", c.Storage.Type))
	c.Storage.LocalPath = getEnv("STORAGE_LOCAL_PATH", c.Storage.LocalPath)
	c.Storage.S3Bucket = getEnv("AWS_S3_BUCKET", c.Storage.S3Bucket)
	c.Storage.S3Region = getEnv("AWS_REGION", c.Storage.S3Region)
	c.Storage.S3Prefix = getEnv("AWS_S3_PREFIX", c.Storage.S3Prefix)
	c.Storage.AWSAccessKey = getEnv("AWS_ACCESS_KEY_ID", c.Storage.AWSAccessKey)
	c.Storage.AWSSecretKey = getEnv("AWS_SECRET_ACCESS_KEY", c.Storage.AWSSecretKey)
	c.Storage.ArtifactKey = getEnv("KB_ARTIFACT_KEY", c.Storage.ArtifactKey)

	c.Cache.RedisURL = getEnv("REDIS_URL", c.Cache.RedisURL)
	c.Cache.TTL = getEnvAsDuration("EMBEDDING_CACHE_TTL", c.Cache.TTL)

	c.Ingest.Workers = getEnvAsInt("INGEST_WORKERS", c.Ingest.Workers)
	c.Ingest.BatchSize = getEnvAsInt("INGEST_BATCH_SIZE", c.Ingest.BatchSize)
}

// Validate checks field constraints. The Gemini API key is only required
// in production; local runs may rely on the ingest CLI flag instead.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s: failed %q constraint", fe.Namespace(), fe.Tag())
		}
		return err
	}
	if c.IsProduction() && c.Gemini.APIKey == "" {
		return errors.New("GEMINI_API_KEY is required in production")
	}
	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// Address returns the HTTP listen address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// StorageBackend converts to the storage package configuration
func (c *Config) StorageBackend() storage.StorageConfig {
	return storage.StorageConfig{
		Type:         storage.StorageType(c.Storage.Type),
		LocalPath:    c.Storage.LocalPath,
		S3Bucket:     c.Storage.S3Bucket,
		S3Region:     c.Storage.S3Region,
		S3Prefix:     c.Storage.S3Prefix,
		AWSAccessKey: c.Storage.AWSAccessKey,
		AWSSecretKey: c.Storage.AWSSecretKey,
	}
}

// LLMRetryPolicy converts to the llm retry policy
func (c *Config) LLMRetryPolicy() llm.RetryPolicy {
	policy := llm.DefaultRetryPolicy()
	policy.CallTimeout = c.LLM.CallTimeout
	policy.MaxAttempts = c.LLM.MaxAttempts
	policy.InitialBackoff = c.LLM.InitialBackoff
	policy.MaxBackoff = c.LLM.MaxBackoff
	return policy
}

// EmbeddingCache converts to the llm embedding cache configuration
func (c *Config) EmbeddingCache() llm.CacheConfig {
	cc := llm.DefaultCacheConfig()
	cc.Enabled = c.Cache.RedisURL != ""
	cc.TTL = c.Cache.TTL
	cc.Namespace = c.Gemini.EmbeddingModel
	return cc
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
