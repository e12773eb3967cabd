// Package config provides configuration management for the memory service.
// Process configuration is loaded from environment variables with the STMEM_
// prefix and can be overlaid with a YAML file named by STMEM_CONFIG.
//
// Behaviour settings (auto store/retrieve, top-k, prompts, API connections)
// live in Settings and are served through a SettingsSource so that each
// pipeline invocation reads the current values.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the memory service.
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Storage  StorageConfig `yaml:"storage"`
	Log      LogConfig     `yaml:"log"`
	Backup   BackupConfig  `yaml:"backup"`
	Settings Settings      `yaml:"settings"`

	// SettingsPath is an optional YAML file holding Settings. When set it is
	// re-read on every pipeline invocation and takes precedence over Settings.
	SettingsPath string `yaml:"settings_path"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port           int      `yaml:"port"`            // Server port (default: 6464)
	Host           string   `yaml:"host"`            // Server host (default: 127.0.0.1)
	APIToken       string   `yaml:"api_token"`       // Bearer token required on /api when set
	AllowedOrigins []string `yaml:"allowed_origins"` // Origins allowed to open /ws (default: the host's own)
	RateLimit      float64  `yaml:"rate_limit"`      // Sustained requests per second (default: 20)
	RateBurst      int      `yaml:"rate_burst"`      // Burst size (default: 40)
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Engine          string `yaml:"engine"`           // file, sqlite, postgres, mongodb (default: file)
	DataPath        string `yaml:"data_path"`        // Directory for the file engine (default: ./data)
	SQLitePath      string `yaml:"sqlite_path"`      // Database file for sqlite (default: <data_path>/memories.db)
	PostgresDSN     string `yaml:"postgres_dsn"`     // DSN for postgres
	MongoURI        string `yaml:"mongodb_uri"`      // URI for mongodb
	MongoDatabase   string `yaml:"mongodb_database"` // default: stmem
	MongoCollection string `yaml:"mongodb_collection"`
	CacheSize       int    `yaml:"cache_size"` // Max cached entity stores (default: 256)
	Watch           bool   `yaml:"watch"`      // Invalidate cached stores on change events from other processes (default: true)
}

// BackupConfig controls archives of every entity's memories.
type BackupConfig struct {
	Dir       string          `yaml:"dir"`      // default: <data_path>/backups
	Interval  time.Duration   `yaml:"interval"` // 0 disables scheduled backups while serving
	Retention RetentionConfig `yaml:"retention"`
}

// RetentionConfig is how many archives each age tier keeps. Zero means the
// tier default (24 hourly, 7 daily, 4 weekly, 12 monthly).
type RetentionConfig struct {
	Hourly  int `yaml:"hourly"`
	Daily   int `yaml:"daily"`
	Weekly  int `yaml:"weekly"`
	Monthly int `yaml:"monthly"`
}

// LogConfig contains logger configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: info)
	Format string `yaml:"format"` // text or json (default: text)
}

// LoadConfig loads configuration from environment variables with sensible
// defaults, then applies the YAML file named by STMEM_CONFIG if present.
func LoadConfig() (*Config, error) {
	return LoadConfigFile(os.Getenv("STMEM_CONFIG"))
}

// LoadConfigFile is LoadConfig with an explicit YAML path. An empty path
// skips the overlay.
func LoadConfigFile(path string) (*Config, error) {
	cfg := buildBaseConfig()

	if path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = filepath.Join(cfg.Storage.DataPath, "memories.db")
	}
	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = filepath.Join(cfg.Storage.DataPath, "backups")
	}
	cfg.Settings.Normalize()
	return cfg, nil
}

// overlayFile decodes a YAML file on top of the current values. Keys absent
// from the file keep their env/default value.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return goerr.Wrap(err, "failed to read config file", goerr.V("path", path))
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return goerr.Wrap(err, "failed to parse config file", goerr.V("path", path))
	}
	return nil
}

// SettingsSource returns the source the pipeline should read settings from:
// a FileSettings when SettingsPath is configured, otherwise the static
// settings embedded in the config.
func (c *Config) SettingsSource() SettingsSource {
	if c.SettingsPath != "" {
		return NewFileSettings(c.SettingsPath, c.Settings)
	}
	return StaticSettings(c.Settings)
}

// buildBaseConfig constructs a Config with values from environment variables
// and defaults.
func buildBaseConfig() *Config {
	settings := DefaultSettings()
	settings.Summarizer = SummarizerSettings{
		Provider:    getEnv("STMEM_SUMMARIZER_PROVIDER", "openai"),
		URL:         getEnv("STMEM_SUMMARIZER_URL", ""),
		APIKey:      getEnv("STMEM_SUMMARIZER_API_KEY", ""),
		Model:       getEnv("STMEM_SUMMARIZER_MODEL", "gpt-4o-mini"),
		MaxTokens:   getEnvInt("STMEM_SUMMARIZER_MAX_TOKENS", defaultSummaryMaxTokens),
		Temperature: getEnvFloat("STMEM_SUMMARIZER_TEMPERATURE", defaultSummaryTemperature),
	}
	settings.Embedding = EmbeddingSettings{
		Provider:  getEnv("STMEM_EMBEDDING_PROVIDER", "voyage"),
		URL:       getEnv("STMEM_EMBEDDING_URL", ""),
		APIKey:    getEnv("STMEM_EMBEDDING_API_KEY", ""),
		Model:     getEnv("STMEM_EMBEDDING_MODEL", "voyage-3-lite"),
		BatchSize: getEnvInt("STMEM_EMBEDDING_BATCH_SIZE", DefaultEmbeddingBatchSize),
	}
	settings.DebugMode = getEnvBool("STMEM_DEBUG", false)

	return &Config{
		Server: ServerConfig{
			Port:           getEnvInt("STMEM_PORT", 6464),
			Host:           getEnv("STMEM_HOST", "127.0.0.1"),
			APIToken:       getEnv("STMEM_API_TOKEN", ""),
			AllowedOrigins: splitList(getEnv("STMEM_ALLOWED_ORIGINS", "")),
			RateLimit:      getEnvFloat("STMEM_RATE_LIMIT", 20),
			RateBurst:      getEnvInt("STMEM_RATE_BURST", 40),
		},
		Storage: StorageConfig{
			Engine:          getEnv("STMEM_STORAGE_ENGINE", "file"),
			DataPath:        getEnv("STMEM_DATA_PATH", "./data"),
			SQLitePath:      getEnv("STMEM_SQLITE_PATH", ""),
			PostgresDSN:     getEnv("STMEM_POSTGRES_DSN", ""),
			MongoURI:        getEnv("STMEM_MONGODB_URI", ""),
			MongoDatabase:   getEnv("STMEM_MONGODB_DATABASE", "stmem"),
			MongoCollection: getEnv("STMEM_MONGODB_COLLECTION", "memory_stores"),
			CacheSize:       getEnvInt("STMEM_CACHE_SIZE", 256),
			Watch:           getEnvBool("STMEM_WATCH", true),
		},
		Log: LogConfig{
			Level:  getEnv("STMEM_LOG_LEVEL", "info"),
			Format: getEnv("STMEM_LOG_FORMAT", "text"),
		},
		Backup: BackupConfig{
			Dir:      getEnv("STMEM_BACKUP_DIR", ""),
			Interval: getEnvDuration("STMEM_BACKUP_INTERVAL", 0),
		},
		Settings:     settings,
		SettingsPath: getEnv("STMEM_SETTINGS_FILE", ""),
	}
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration such as "6h" or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
// If the environment variable exists but cannot be parsed as a boolean,
// it returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}
