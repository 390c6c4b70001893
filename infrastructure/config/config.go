package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	domainconfig "canvassync/domain/config"
	"canvassync/pkg/utils"
)

// ConfigPathEnv names the environment variable holding the optional YAML config file
const ConfigPathEnv = "CANVASSYNC_CONFIG"

// Config holds all application configuration
type Config struct {
	Environment string `yaml:"environment" validate:"oneof=development production test"`
	LogLevel    string `yaml:"log_level" validate:"oneof=debug info warn error"`

	// Dev server
	ListenAddress   string        `yaml:"listen_address" validate:"required"`
	EnableCORS      bool          `yaml:"enable_cors"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	EnableMetrics   bool          `yaml:"enable_metrics"`
	AnswerDelay     time.Duration `yaml:"answer_delay"`
	AnswerRateLimit int           `yaml:"answer_rate_limit" validate:"gte=0"` // per client per minute, 0 = unlimited

	// Backend client
	BackendURL     string        `yaml:"backend_url" validate:"required,url"`
	BackendTimeout time.Duration `yaml:"backend_timeout" validate:"gt=0"`
	UserID         string        `yaml:"user_id"`

	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
}

// StorageConfig selects the durable medium behind the caches
type StorageConfig struct {
	Backend    string `yaml:"backend" validate:"oneof=memory sqlite redis dynamodb"`
	QuotaBytes int    `yaml:"quota_bytes" validate:"gte=0"`
	Compress   bool   `yaml:"compress"`

	SQLitePath    string `yaml:"sqlite_path" validate:"required_if=Backend sqlite"`
	RedisURL      string `yaml:"redis_url" validate:"required_if=Backend redis"`
	RedisPrefix   string `yaml:"redis_prefix"`
	DynamoDBTable string `yaml:"dynamodb_table" validate:"required_if=Backend dynamodb"`
	AWSRegion     string `yaml:"aws_region"`
	Owner         string `yaml:"owner"`
}

// CacheConfig overrides the synchronization rules
type CacheConfig struct {
	WorkspaceFreshness    time.Duration `yaml:"workspace_freshness" validate:"gte=0"`
	ConversationFreshness time.Duration `yaml:"conversation_freshness" validate:"gte=0"`
	ListFreshness         time.Duration `yaml:"list_freshness" validate:"gte=0"`
	HistoryEntries        int           `yaml:"history_entries" validate:"gte=1"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	rules := domainconfig.DefaultDomainConfig()
	return &Config{
		Environment:     "development",
		LogLevel:        "info",
		ListenAddress:   ":8080",
		EnableCORS:      true,
		AllowedOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
		EnableMetrics:   true,
		AnswerDelay:     20 * time.Millisecond,
		AnswerRateLimit: 30,
		BackendURL:      "http://localhost:8080",
		BackendTimeout:  30 * time.Second,
		Storage: StorageConfig{
			Backend:     "sqlite",
			QuotaBytes:  5 << 20,
			SQLitePath:  "canvassync-cache.db",
			RedisPrefix: "canvassync:",
			AWSRegion:   "us-west-2",
		},
		Cache: CacheConfig{
			WorkspaceFreshness:    rules.WorkspaceFreshness,
			ConversationFreshness: rules.ConversationFreshness,
			ListFreshness:         rules.ListFreshness,
			HistoryEntries:        rules.MaxHistoryEntries,
		},
	}
}

// LoadConfig loads configuration from defaults, the file named by CANVASSYNC_CONFIG
// and environment variables, in increasing precedence
func LoadConfig() (*Config, error) {
	return LoadFrom(os.Getenv(ConfigPathEnv))
}

// Load is an alias for LoadConfig
func Load() (*Config, error) {
	return LoadConfig()
}

// LoadFrom is LoadConfig with an explicit file path; an empty path skips the file
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	// Validate required configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", c.LogLevel))

	c.ListenAddress = getEnv("SERVER_ADDRESS", c.ListenAddress)
	c.EnableCORS = getEnvBool("ENABLE_CORS", c.EnableCORS)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = strings.Split(origins, ",")
	}
	c.EnableMetrics = getEnvBool("ENABLE_METRICS", c.EnableMetrics)
	c.AnswerDelay = getEnvDuration("ANSWER_DELAY", c.AnswerDelay)
	c.AnswerRateLimit = getEnvInt("ANSWER_RATE_LIMIT", c.AnswerRateLimit)

	c.BackendURL = getEnv("BACKEND_URL", c.BackendURL)
	c.BackendTimeout = getEnvDuration("BACKEND_TIMEOUT", c.BackendTimeout)
	c.UserID = getEnv("CANVASSYNC_USER", c.UserID)

	c.Storage.Backend = getEnv("STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.QuotaBytes = getEnvInt("STORAGE_QUOTA_BYTES", c.Storage.QuotaBytes)
	c.Storage.Compress = getEnvBool("STORAGE_COMPRESS", c.Storage.Compress)
	c.Storage.SQLitePath = getEnv("SQLITE_PATH", c.Storage.SQLitePath)
	c.Storage.RedisURL = getEnv("REDIS_URL", c.Storage.RedisURL)
	c.Storage.DynamoDBTable = getEnv("TABLE_NAME", getEnv("DYNAMODB_TABLE", c.Storage.DynamoDBTable))
	c.Storage.AWSRegion = getEnv("AWS_REGION", c.Storage.AWSRegion)
	c.Storage.Owner = getEnv("CACHE_OWNER", c.Storage.Owner)

	c.Cache.WorkspaceFreshness = getEnvDuration("WORKSPACE_FRESHNESS", c.Cache.WorkspaceFreshness)
	c.Cache.ListFreshness = getEnvDuration("LIST_FRESHNESS", c.Cache.ListFreshness)
	c.Cache.HistoryEntries = getEnvInt("HISTORY_ENTRIES", c.Cache.HistoryEntries)
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.IsProduction() && c.Storage.Backend == "memory" {
		return fmt.Errorf("STORAGE_BACKEND=memory is not durable and not allowed in production")
	}
	return nil
}

// DomainRules returns the synchronization rules with the cache overrides applied
func (c *Config) DomainRules() *domainconfig.DomainConfig {
	rules := domainconfig.DefaultDomainConfig()
	rules.WorkspaceFreshness = c.Cache.WorkspaceFreshness
	rules.ConversationFreshness = c.Cache.ConversationFreshness
	rules.ListFreshness = c.Cache.ListFreshness
	if c.Cache.HistoryEntries > 0 {
		rules.MaxHistoryEntries = c.Cache.HistoryEntries
	}
	return rules
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable such as "750ms" with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
