// Package config provides configuration for the relay server.
package config

import (
	"os"
	"strconv"
	"time"
)

// DefaultSystemPrompt is the persona instruction prepended to every upstream
// request. Client-supplied system messages are dropped in its favor.
const DefaultSystemPrompt = `You are Degenetics, a sharp and knowledgeable AI assistant specializing in cryptocurrency, Solana blockchain, DeFi, and trading insights.

Key traits:
- Be concise and direct - no fluff
- Provide actionable insights when relevant
- Use clear formatting with bullet points for lists
- Stay current on crypto trends and terminology
- Be helpful but also realistic about risks

Keep responses focused and valuable.`

// Config holds the relay server configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Upstream provider
	UpstreamURL    string
	UpstreamAPIKey string
	Model          string
	SystemPrompt   string

	// RequestBudget is the hard cap on a single upstream streaming call.
	RequestBudget time.Duration

	// HistoryPath is the SQLite snapshot file; empty disables history.
	HistoryPath string

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:       getEnvInt("HTTP_PORT", 3000),
		UpstreamURL:    getEnv("UPSTREAM_URL", "https://api.openai.com"),
		UpstreamAPIKey: getEnv("OPENAI_API_KEY", ""),
		Model:          getEnv("MODEL", "gpt-4o-mini"),
		SystemPrompt:   getEnv("SYSTEM_PROMPT", DefaultSystemPrompt),
		RequestBudget:  time.Duration(getEnvInt("REQUEST_BUDGET_MS", 30000)) * time.Millisecond,
		HistoryPath:    getEnv("HISTORY_PATH", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
