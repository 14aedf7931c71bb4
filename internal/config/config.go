package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// InMemory is the DATABASE_PATH value selecting the in-memory store.
const InMemory = ":memory:"

type AppConfig struct {
	// DatabasePath is the SQLite file holding readings and payloads.
	// InMemory selects the non-durable store.
	DatabasePath string

	// SettingsPath is the JSON file backing the settings store.
	SettingsPath string

	// Location days are cut in.
	Location *time.Location

	// PollInterval controls how often the sensor is polled.
	PollInterval time.Duration

	Port string

	NetatmoBaseURL string
	HTTPTimeout    time.Duration

	MQTTBroker      string
	MQTTTopicPrefix string

	KafkaBrokers []string
	KafkaTopic   string

	DynamoDBTable string

	LogLevel string
}

// Load reads configuration from environment with sensible defaults. A .env
// file in the working directory is loaded first when present; the return
// value reports whether it was.
func Load() (*AppConfig, bool, error) {
	dotenv := godotenv.Load() == nil

	cfg := &AppConfig{
		DatabasePath:    getenvDefault("DATABASE_PATH", "home-env.db"),
		SettingsPath:    getenvDefault("SETTINGS_PATH", "settings.json"),
		Port:            getenvDefault("PORT", "8080"),
		NetatmoBaseURL:  getenvDefault("NETATMO_BASE_URL", "https://api.netatmo.com"),
		MQTTBroker:      os.Getenv("MQTT_BROKER"),
		MQTTTopicPrefix: getenvDefault("MQTT_TOPIC_PREFIX", "homeenv"),
		KafkaTopic:      getenvDefault("KAFKA_TOPIC", "home-env"),
		DynamoDBTable:   os.Getenv("DYNAMODB_TABLE"),
		LogLevel:        getenvDefault("LOG_LEVEL", "info"),
	}

	loc, err := time.LoadLocation(getenvDefault("TIMEZONE", "Local"))
	if err != nil {
		return nil, dotenv, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	cfg.Location = loc

	// Polling interval: default 1 minute.
	interval, err := time.ParseDuration(getenvDefault("POLL_INTERVAL", "1m"))
	if err != nil {
		return nil, dotenv, fmt.Errorf("invalid POLL_INTERVAL: %w", err)
	}
	if interval <= 0 {
		return nil, dotenv, fmt.Errorf("invalid POLL_INTERVAL: must be positive")
	}
	cfg.PollInterval = interval

	timeout, err := time.ParseDuration(getenvDefault("HTTP_TIMEOUT", "10s"))
	if err != nil {
		return nil, dotenv, fmt.Errorf("invalid HTTP_TIMEOUT: %w", err)
	}
	cfg.HTTPTimeout = timeout

	cfg.KafkaBrokers = splitList(os.Getenv("KAFKA_BROKERS"))

	return cfg, dotenv, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
