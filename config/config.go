// Package config loads all runtime settings from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration fields for the bridge.
type Config struct {
	InstagramUsername string
	InstagramPassword string
	InstagramTOTPSeed string
	InstagramBaseURL  string
	SessionPath       string

	TelegramBotToken string
	TelegramOwnerID  int64

	DatabaseURL string

	PollInterval      time.Duration
	ConversationLimit int
	MessageLimit      int
	AllowedUsers      []string
	SeenRetention     time.Duration

	MediaDir        string
	DownloadTimeout time.Duration
	MaxFileSize     int64

	RabbitMQURL   string
	RabbitMQQueue string

	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3PathStyle bool

	StatusAddr string
}

// Load reads configuration from environment variables. A .env file is loaded
// first when present; real environment variables take precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		InstagramUsername: os.Getenv("IG_USERNAME"),
		InstagramPassword: os.Getenv("IG_PASSWORD"),
		InstagramTOTPSeed: os.Getenv("IG_TOTP_SEED"),
		InstagramBaseURL:  os.Getenv("IG_BASE_URL"),
		SessionPath:       getEnv("IG_SESSION_PATH", "data/session.json"),

		TelegramBotToken: os.Getenv("TG_BOT_TOKEN"),

		DatabaseURL: getEnv("DATABASE_URL", "data/bridge.db"),

		PollInterval:      getDuration("POLL_INTERVAL", 30*time.Second),
		ConversationLimit: getInt("CONVERSATION_LIMIT", 10),
		MessageLimit:      getInt("MESSAGE_LIMIT", 5),
		AllowedUsers:      getCSV("ALLOWED_USERS"),
		SeenRetention:     time.Duration(getInt("SEEN_RETENTION_DAYS", 0)) * 24 * time.Hour,

		MediaDir:        getEnv("MEDIA_DIR", "data/temp"),
		DownloadTimeout: getDuration("DOWNLOAD_TIMEOUT", 60*time.Second),
		MaxFileSize:     int64(getInt("MAX_FILE_SIZE_MB", 50)) * 1024 * 1024,

		RabbitMQURL:   os.Getenv("RABBITMQ_URL"),
		RabbitMQQueue: getEnv("RABBITMQ_QUEUE", "bridge_events"),

		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3Bucket:    os.Getenv("S3_BUCKET"),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),
		S3PathStyle: getBool("S3_PATH_STYLE"),

		StatusAddr: os.Getenv("STATUS_ADDR"),
	}

	ownerID, err := parseOwnerID(os.Getenv("TG_OWNER_ID"))
	if err != nil {
		return nil, err
	}
	cfg.TelegramOwnerID = ownerID

	if cfg.InstagramUsername == "" {
		return nil, fmt.Errorf("IG_USERNAME is required")
	}
	if cfg.InstagramPassword == "" {
		return nil, fmt.Errorf("IG_PASSWORD is required")
	}
	if cfg.TelegramBotToken == "" {
		return nil, fmt.Errorf("TG_BOT_TOKEN is required")
	}

	log.Info().
		Dur("pollInterval", cfg.PollInterval).
		Int("conversationLimit", cfg.ConversationLimit).
		Int("messageLimit", cfg.MessageLimit).
		Int("allowedUsers", len(cfg.AllowedUsers)).
		Msg("Configuration loaded")
	return cfg, nil
}

func parseOwnerID(raw string) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("TG_OWNER_ID is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("TG_OWNER_ID must be a numeric chat id: %w", err)
	}
	return id, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("Invalid integer value, using default")
		return fallback
	}
	return n
}

func getBool(key string) bool {
	v, _ := strconv.ParseBool(os.Getenv(key))
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	// Accept both "45s" and a bare number of seconds.
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("Invalid duration value, using default")
		return fallback
	}
	return d
}

func getCSV(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
