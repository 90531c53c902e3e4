package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Port           string
	AllowedOrigins []string
	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration
	LogLevel       string
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64

	// Escalation
	EscalationThreshold int
	MessageStampWindow  time.Duration

	// Session lifecycle
	PendingTimeout  time.Duration
	SweepInterval   time.Duration
	SessionTokenTTL time.Duration

	// Presence
	PresenceStaleAfter time.Duration

	// Media provider credentials
	LiveKitAPIKey    string
	LiveKitAPISecret string
	LiveKitURL       string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Port:             getEnv("PORT", "8080"),
		AllowedOrigins:   strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:5173"), ","),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LiveKitAPIKey:    getEnv("LIVEKIT_API_KEY", ""),
		LiveKitAPISecret: getEnv("LIVEKIT_API_SECRET", ""),
		LiveKitURL:       getEnv("LIVEKIT_URL", ""),
	}

	// Parse WebSocket timeouts
	wsReadTimeout, err := getEnvSeconds("WS_READ_TIMEOUT", 60)
	if err != nil {
		return nil, err
	}
	config.WSReadTimeout = wsReadTimeout

	wsWriteTimeout, err := getEnvSeconds("WS_WRITE_TIMEOUT", 10)
	if err != nil {
		return nil, err
	}
	config.WSWriteTimeout = wsWriteTimeout

	// Parse escalation settings
	threshold, err := strconv.Atoi(getEnv("ESCALATION_THRESHOLD", "7"))
	if err != nil {
		return nil, fmt.Errorf("invalid ESCALATION_THRESHOLD: %w", err)
	}
	config.EscalationThreshold = threshold

	stampWindow, err := getEnvSeconds("MESSAGE_STAMP_WINDOW", 900)
	if err != nil {
		return nil, err
	}
	config.MessageStampWindow = stampWindow

	// Parse session lifecycle settings
	pendingTimeout, err := getEnvSeconds("SESSION_PENDING_TIMEOUT", 120)
	if err != nil {
		return nil, err
	}
	config.PendingTimeout = pendingTimeout

	sweepInterval, err := getEnvSeconds("SESSION_SWEEP_INTERVAL", 30)
	if err != nil {
		return nil, err
	}
	config.SweepInterval = sweepInterval

	tokenTTL, err := getEnvSeconds("SESSION_TOKEN_TTL", 3600)
	if err != nil {
		return nil, err
	}
	config.SessionTokenTTL = tokenTTL

	staleAfter, err := getEnvSeconds("PRESENCE_STALE_AFTER", 90)
	if err != nil {
		return nil, err
	}
	config.PresenceStaleAfter = staleAfter

	// Calculate WebSocket constants
	config.PongWait = config.WSReadTimeout
	config.PingPeriod = (config.PongWait * 9) / 10 // Must be less than pongWait
	config.WriteWait = config.WSWriteTimeout
	config.MaxMessageSize = 512

	// Trim spaces from allowed origins
	for i, origin := range config.AllowedOrigins {
		config.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	return config, nil
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvSeconds parses an integer environment variable as a duration
// in seconds
func getEnvSeconds(key string, defaultValue int) (time.Duration, error) {
	seconds, err := strconv.Atoi(getEnv(key, strconv.Itoa(defaultValue)))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return time.Duration(seconds) * time.Second, nil
}
