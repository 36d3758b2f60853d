package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds sync client configuration loaded from environment.
type Config struct {
	Env          string
	BackendURL   string
	WebsocketURL string
	AuthToken    string
	UserID       string

	Transport    string
	KafkaBrokers []string
	KafkaGroup   string

	PageSize         int
	TypingExpiry     time.Duration
	CallTimeout      time.Duration
	ReconnectBase    time.Duration
	ReconnectMax     time.Duration
	ReconnectRetries int
}

// ServerConfig holds the reference chat backend configuration.
type ServerConfig struct {
	Env          string
	HTTPAddr     string
	AllowOrigins []string

	MongoURI     string
	MongoDB      string
	MongoTimeout time.Duration

	KafkaBrokers []string
}

// Load parses environment variables into a client Config struct.
func Load() (Config, error) {
	cfg := Config{
		Env:          getEnv("APP_ENV", "dev"),
		BackendURL:   strings.TrimSpace(getEnv("BACKEND_URL", "http://localhost:8080")),
		WebsocketURL: strings.TrimSpace(getEnv("WS_URL", "ws://localhost:8080/ws")),
		AuthToken:    strings.TrimSpace(os.Getenv("AUTH_TOKEN")),
		UserID:       strings.TrimSpace(os.Getenv("USER_ID")),
		Transport:    strings.ToLower(getEnv("TRANSPORT", "websocket")),
		KafkaBrokers: splitAndTrim(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaGroup:   getEnv("KAFKA_GROUP", "skillup-sync"),
		PageSize: parseIntWithDefault(
			strings.TrimSpace(os.Getenv("PAGE_SIZE")), 50),
		ReconnectRetries: parseIntWithDefault(
			strings.TrimSpace(os.Getenv("RECONNECT_RETRIES")), 10),
	}
	if cfg.UserID == "" {
		return Config{}, fmt.Errorf("USER_ID is required")
	}
	if cfg.Transport != "websocket" && cfg.Transport != "kafka" {
		return Config{}, fmt.Errorf("unsupported TRANSPORT: %s", cfg.Transport)
	}
	if cfg.Transport == "kafka" && len(cfg.KafkaBrokers) == 0 {
		return Config{}, fmt.Errorf("KAFKA_BROKERS is required")
	}

	for _, d := range []struct {
		dst *time.Duration
		key string
		def string
	}{
		{&cfg.TypingExpiry, "TYPING_EXPIRY", "3s"},
		{&cfg.CallTimeout, "CALL_TIMEOUT", "10s"},
		{&cfg.ReconnectBase, "RECONNECT_BASE", "1s"},
		{&cfg.ReconnectMax, "RECONNECT_MAX", "30s"},
	} {
		dur, err := parseDuration(d.key, d.def)
		if err != nil {
			return Config{}, err
		}
		*d.dst = dur
	}
	return cfg, nil
}

// LoadServer parses environment variables into a ServerConfig struct.
func LoadServer() (ServerConfig, error) {
	cfg := ServerConfig{
		Env:          getEnv("APP_ENV", "dev"),
		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
		AllowOrigins: splitAndTrim(getEnv("CORS_ORIGINS", "*")),
		MongoURI:     strings.TrimSpace(os.Getenv("MONGO_URI")),
		MongoDB:      strings.TrimSpace(getEnv("MONGO_DB", "skillup_chat")),
		KafkaBrokers: splitAndTrim(strings.TrimSpace(os.Getenv("KAFKA_BROKERS"))),
	}
	if cfg.MongoDB == "" {
		return ServerConfig{}, fmt.Errorf("MONGO_DB is required")
	}

	timeout, err := parseDuration("MONGO_TIMEOUT", "5s")
	if err != nil {
		return ServerConfig{}, err
	}
	cfg.MongoTimeout = timeout
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func parseDuration(key, def string) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return dur, nil
}

func parseIntWithDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
