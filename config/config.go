package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything the service reads from the environment.
type Config struct {
	Env  string
	Port string

	MongoURI string
	DBName   string

	RedisURL string

	KafkaBrokers       []string
	ImportEventsTopic  string
	NotificationsTopic string

	WebhookURL    string
	WebhookAPIKey string

	JWTSecret string

	ImportInterval   time.Duration
	ImportBatchSize  int64
	MatchPolicy      string
	ImportClaimTTL   time.Duration
	ImportRowTimeout time.Duration
}

// Load reads .env if present and builds the config from the environment.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Env:  getEnv("APP_ENV", "development"),
		Port: getEnv("PORT", "8080"),

		MongoURI: getEnv("MONGODB_CONNECTION_STRING", "mongodb://localhost:27017"),
		DBName:   getEnv("DB_NAME", "csm"),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379"),

		KafkaBrokers:       splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
		ImportEventsTopic:  getEnv("KAFKA_IMPORT_TOPIC", "import.events"),
		NotificationsTopic: getEnv("KAFKA_NOTIFICATIONS_TOPIC", "notifications"),

		WebhookURL:    os.Getenv("MAKE_WEBHOOK_URL"),
		WebhookAPIKey: os.Getenv("MAKE_API_KEY"),

		JWTSecret: getEnv("JWT_SECRET", ""),

		ImportInterval:   getDuration("IMPORT_INTERVAL", time.Minute),
		ImportBatchSize:  getInt64("IMPORT_BATCH_SIZE", 100),
		MatchPolicy:      getEnv("IMPORT_MATCH_POLICY", "defer"),
		ImportClaimTTL:   getDuration("IMPORT_CLAIM_TIMEOUT", 10*time.Minute),
		ImportRowTimeout: getDuration("IMPORT_ROW_TIMEOUT", 30*time.Second),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
