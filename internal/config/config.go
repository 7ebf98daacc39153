// Package config loads daemon configuration from the environment and
// local-mode configuration from ~/.codeprobe.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration for the daemon.
type Config struct {
	// Server
	Port  int
	Debug bool

	// Database. A postgres:// URL selects the server store; anything
	// else is treated as a SQLite file path.
	DatabaseURL string

	// RabbitMQ. Empty disables the queue consumer.
	RabbitMQURL  string
	QueueWorkers int

	// Code hosting
	GitHubToken   string
	GitHubBaseURL string

	// LLM
	LLMProvider string // claude, openai, gemini, ollama
	LLMAPIKey   string
	LLMModel    string
	OllamaURL   string

	// Rotation pool, e.g. "claude/claude-sonnet-4-20250514,gemini/gemini-2.0-flash".
	// Empty means the single configured provider.
	LLMPool []PoolEntry

	// Generation budget
	MaxCandidates        int
	MaxCallsPerCandidate int

	// Caches
	PuzzleCacheSize  int
	ContentCacheSize int
	ContentCacheTTL  int // minutes
}

// PoolEntry is one provider/model pair in the rotation pool.
type PoolEntry struct {
	Provider string
	Model    string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:         getEnvInt("PORT", 8080),
		Debug:        getEnvBool("DEBUG", false),
		DatabaseURL:  getEnv("DATABASE_URL", "codeprobe.db"),
		RabbitMQURL:  getEnv("RABBITMQ_URL", ""),
		QueueWorkers: getEnvInt("QUEUE_WORKERS", 2),

		GitHubToken:   getEnv("GITHUB_TOKEN", ""),
		GitHubBaseURL: getEnv("GITHUB_BASE_URL", "https://api.github.com"),

		LLMProvider: getEnv("LLM_PROVIDER", "claude"),
		LLMAPIKey:   getEnv("LLM_API_KEY", ""),
		LLMModel:    getEnv("LLM_MODEL", ""),
		OllamaURL:   getEnv("OLLAMA_URL", "http://localhost:11434"),
		LLMPool:     parsePool(getEnv("LLM_POOL", "")),

		MaxCandidates:        getEnvInt("MAX_CANDIDATES", 3),
		MaxCallsPerCandidate: getEnvInt("MAX_CALLS_PER_CANDIDATE", 2),

		PuzzleCacheSize:  getEnvInt("PUZZLE_CACHE_SIZE", 512),
		ContentCacheSize: getEnvInt("CONTENT_CACHE_SIZE", 256),
		ContentCacheTTL:  getEnvInt("CONTENT_CACHE_TTL_MINUTES", 15),
	}

	return cfg, nil
}

// UsesPostgres reports whether DatabaseURL selects the server store.
func (c *Config) UsesPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") ||
		strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// parsePool parses "provider/model,provider/model" into pool entries.
// A bare provider name without a model is allowed.
func parsePool(s string) []PoolEntry {
	if s == "" {
		return nil
	}
	var entries []PoolEntry
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		provider, model, _ := strings.Cut(part, "/")
		entries = append(entries, PoolEntry{Provider: provider, Model: model})
	}
	return entries
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
