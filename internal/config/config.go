// Package config loads strand configuration from the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LLM provider names for the auto-reply drafter.
const (
	ProviderStatic    = "static"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Gateway server
	ServerPort string
	// ServerURL is the gateway base URL used by the CLI client.
	ServerURL string

	// Live subscription window (newest N messages pushed per change).
	WindowSize int

	// Auto-reply
	AutoReplyEnabled bool
	AutoReplyRules   string // path to a YAML rules file; empty uses built-ins

	// Drafter LLM
	LLMProvider     string
	LLMModel        string
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	AWSRegion       string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from the environment. A .env file in the
// working directory is merged in first, if present.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "strand"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "chat"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		ServerPort: getEnv("STRAND_SERVER_PORT", "8787"),
		ServerURL:  getEnv("STRAND_SERVER_URL", "http://localhost:8787"),

		WindowSize: getEnvInt("STRAND_WINDOW_SIZE", 50),

		AutoReplyEnabled: getEnv("STRAND_AUTO_REPLY", "true") == "true",
		AutoReplyRules:   getEnv("STRAND_AUTO_REPLY_RULES", ""),

		LLMProvider:     getEnv("STRAND_LLM_PROVIDER", ProviderStatic),
		LLMModel:        getEnv("STRAND_LLM_MODEL", "llama3.2"),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),

		LogFile:  getEnv("STRAND_LOG_FILE", "/tmp/strand.log"),
		LogLevel: parseLogLevel(getEnv("STRAND_LOG_LEVEL", "INFO")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			return n
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
