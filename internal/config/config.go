package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config centralizes runtime settings for the API, the CLI and the orchestrators.
type Config struct {
	Port string

	AuthToken   string
	CORSOrigins []string

	DatabaseURL string

	AnalysisBaseURL    string
	AnalysisTimeoutMS  int
	AnalysisMaxRetries int
	PollInterval       time.Duration
	PollMaxAttempts    int

	MediaDir      string
	MediaBaseURL  string
	MediaBucket   string
	UploadRetries int

	AvatarAPIKey     string
	AvatarAPIBaseURL string
	AvatarStreamURL  string
	AvatarTimeoutMS  int

	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIModel      string
	OpenAITimeoutMS  int
	OpenAIMaxRetries int

	SessionProfilePath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisStream   string
	RedisDLQ      string
	RedisGroup    string
	RedisConsumer string

	EventBatchSize     int
	EventFlushInterval time.Duration

	RateLimitRPS   float64
	RateLimitBurst int

	RecorderEnabled bool
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		AuthToken:   getEnv("API_AUTH_TOKEN", ""),
		CORSOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		AnalysisBaseURL:    getEnv("ANALYSIS_BASE_URL", "http://localhost:8000"),
		AnalysisTimeoutMS:  getEnvInt("ANALYSIS_TIMEOUT_MS", 15000),
		AnalysisMaxRetries: getEnvInt("ANALYSIS_MAX_RETRIES", 2),
		PollInterval:       getEnvDuration("POLL_INTERVAL", 3*time.Second),
		PollMaxAttempts:    getEnvInt("POLL_MAX_ATTEMPTS", 10),

		MediaDir:      getEnv("MEDIA_DIR", "media"),
		MediaBaseURL:  getEnv("MEDIA_BASE_URL", "http://localhost:8080/media"),
		MediaBucket:   getEnv("MEDIA_BUCKET", "answers"),
		UploadRetries: getEnvInt("UPLOAD_RETRIES", 3),

		AvatarAPIKey:     getEnv("AVATAR_API_KEY", ""),
		AvatarAPIBaseURL: getEnv("AVATAR_API_BASE_URL", "https://api.heygen.com"),
		AvatarStreamURL:  getEnv("AVATAR_STREAM_URL", "wss://api.heygen.com/v1/streaming.ws"),
		AvatarTimeoutMS:  getEnvInt("AVATAR_TIMEOUT_MS", 10000),

		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4"),
		OpenAITimeoutMS:  getEnvInt("OPENAI_TIMEOUT_MS", 15000),
		OpenAIMaxRetries: getEnvInt("OPENAI_MAX_RETRIES", 2),

		SessionProfilePath: getEnv("SESSION_PROFILE_PATH", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisStream:   getEnv("REDIS_STREAM", "coach_events"),
		RedisDLQ:      getEnv("REDIS_DLQ_STREAM", "coach_events_dlq"),
		RedisGroup:    getEnv("REDIS_GROUP", "coach_recorders"),
		RedisConsumer: getEnv("REDIS_CONSUMER", hostname()),

		EventBatchSize:     getEnvInt("EVENT_BATCH_SIZE", 32),
		EventFlushInterval: getEnvDuration("EVENT_FLUSH_INTERVAL", 25*time.Millisecond),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),

		RecorderEnabled: getEnvBool("RECORDER_ENABLED", true),
	}
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "api-1"
	}
	return name
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvDuration accepts Go durations ("3s") and bare milliseconds ("3000").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if millis, err := strconv.Atoi(value); err == nil {
		return time.Duration(millis) * time.Millisecond
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	items := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	if len(items) == 0 {
		return fallback
	}
	return items
}
