package config

import (
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// Config holds the process-wide configuration for chatcore.
type Config struct {
	Port    string
	GinMode string

	LogLevel  string
	LogFormat string

	// Upstream provider
	UpstreamBaseURL  string
	ServerCredential string
	APITimeoutSecs   int

	// Rate limiting
	RateLimitPerMinute int
	RateLimitPerHour   int
	MaxTrackedUsers    int

	// Attachments
	MaxAttachmentsPerMessage int
	DocExtractionDeadlineSec int

	// Credential cache
	CredCacheMax int

	// Backing stores
	DatabaseURL string

	// Optional tool roster collaborators
	SerpAPIKey string

	// Shutdown
	ServerShutdownTimeoutSeconds int

	// Tool roster overlay, optional (see ToolsConfig)
	Tools *ToolsConfig `yaml:"tools"`
}

// ToolsConfig is an optional YAML-sourced roster of externally described
// tools, layered on top of the in-process ToolRegistry (A5).
type ToolsConfig struct {
	Enabled []string `yaml:"enabled"`
}

var AppConfig *Config

// LoadConfig populates AppConfig from .env/environment, then overlays an
// optional YAML config file for the tool roster.
func LoadConfig() {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	AppConfig = &Config{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "debug"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),

		UpstreamBaseURL:  getEnvOrDefault("UPSTREAM_BASE_URL", "https://generativelanguage.googleapis.com"),
		ServerCredential: getEnvOrDefault("SERVER_CREDENTIAL", ""),
		APITimeoutSecs:   getEnvAsInt("API_TIMEOUT_SECONDS", 60),

		RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 60),
		RateLimitPerHour:   getEnvAsInt("RATE_LIMIT_PER_HOUR", 500),
		MaxTrackedUsers:    getEnvAsInt("MAX_TRACKED_USERS", 100_000),

		MaxAttachmentsPerMessage: getEnvAsInt("MAX_ATTACHMENTS_PER_MESSAGE", 10),
		DocExtractionDeadlineSec: getEnvAsInt("DOC_EXTRACTION_DEADLINE_SECONDS", 30),

		CredCacheMax: getEnvAsInt("CRED_CACHE_MAX", 100),

		DatabaseURL: getEnvOrDefault("DATABASE_URL", ""),

		SerpAPIKey: getEnvOrDefault("SERPAPI_KEY", ""),

		ServerShutdownTimeoutSeconds: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 5),
	}

	configFilePath := getEnvOrDefault("CONFIG_FILE", "")
	if configFilePath == "" {
		return
	}

	configFile, err := os.Open(configFilePath)
	if err != nil {
		log.Printf("Warning: config file %s not found, skipping overlay: %v", configFilePath, err)
		return
	}
	defer configFile.Close()

	if err := LoadConfigFile(configFile, AppConfig); err != nil {
		log.Printf("Warning: failed to parse config file %s, skipping overlay: %v", configFilePath, err)
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: failed to parse environment variable %s='%s' as time.Duration, using default %v: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		} else {
			log.Printf("Warning: failed to parse environment variable %s='%s' as int64, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		} else {
			log.Printf("Warning: failed to parse environment variable %s='%s' as float, using default %f: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

// LoadConfigFile decodes a YAML overlay into an existing Config, used for
// the optional tool roster section that doesn't belong in flat env vars.
func LoadConfigFile(reader io.Reader, config *Config) error {
	decoder := yaml.NewDecoder(reader)
	return decoder.Decode(config)
}
