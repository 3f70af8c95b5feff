// Package config provides environment configuration for the gateway and the
// terminal chat.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Expert chat endpoint
	ExpertChatURL     string
	ExpertChatAPIKey  string
	ExpertChatTimeout time.Duration
	ExpertAccessToken string
	MaxLineBytes      int

	// Persisted conversations
	DatabaseURL string

	// NATS settings
	NATSEnabled  bool
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Sessions
	SessionIdleTTL time.Duration

	// Typewriter
	TypewriterEnabled     bool
	TypewriterTick        time.Duration
	TypewriterMaxDuration time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from a .env file, if present, and then from
// environment variables. Variables already set take precedence over the file.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 0),

		// Expert chat
		ExpertChatURL:     getEnv("EXPERT_CHAT_URL", ""),
		ExpertChatAPIKey:  getEnv("EXPERT_CHAT_API_KEY", ""),
		ExpertChatTimeout: getDurationEnv("EXPERT_CHAT_TIMEOUT", 30*time.Second),
		ExpertAccessToken: getEnv("EXPERT_ACCESS_TOKEN", ""),
		MaxLineBytes:      getIntEnv("MAX_LINE_BYTES", 1<<20),

		// Postgres
		DatabaseURL: getEnv("DATABASE_URL", ""),

		// NATS
		NATSEnabled:  getBoolEnv("NATS_ENABLED", false),
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Sessions
		SessionIdleTTL: getDurationEnv("SESSION_IDLE_TTL", 30*time.Minute),

		// Typewriter
		TypewriterEnabled:     getBoolEnv("TYPEWRITER_ENABLED", true),
		TypewriterTick:        getDurationEnv("TYPEWRITER_TICK", 30*time.Millisecond),
		TypewriterMaxDuration: getDurationEnv("TYPEWRITER_MAX_DURATION", 1500*time.Millisecond),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
