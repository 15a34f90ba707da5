package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendFirebase = "firebase"
	BackendMemory   = "memory"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64
	CORSOrigins    []string

	// Backend selection: "firebase" for the hosted services, "memory" for local development
	Backend     string
	FixturePath string

	// Firebase
	FirebaseProjectID       string
	FirebaseDatabaseURL     string
	FirebaseCredentialsFile string
	FirebaseAPIKey          string
	FirebaseEmulatorToken   string
	IdentityToolkitURL      string
	WatchPollInterval       time.Duration

	// Sessions
	SessionCookieName string
	SessionTTL        time.Duration
	SessionSecure     bool
	DevTokenSecret    string

	// Presentation
	DisplayTimezone string

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers []string
	KafkaGroupID string
	UplinkTopic  string

	// LoRa / The Things Network
	MQTTBroker      string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	TTNDeviceID     string
	IngestStatusTTL time.Duration

	// Logging
	LogFile string

	// Gateway specific
	GatewayRequestTimeout time.Duration
	LoginRateLimitRPS     int
	LoginRateLimitBurst   int
}

func Load() *Config {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 0),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 1024*1024)),
		CORSOrigins:    getStringSliceEnv("CORS_ORIGINS", []string{"http://localhost:8080"}),

		Backend:     strings.ToLower(getEnv("BACKEND", BackendFirebase)),
		FixturePath: getEnv("FIXTURE_PATH", "fixtures/dev.yaml"),

		FirebaseProjectID:       getEnv("FIREBASE_PROJECT_ID", "iot---health-monitoring-app"),
		FirebaseDatabaseURL:     getEnv("FIREBASE_DATABASE_URL", "https://iot---health-monitoring-app-default-rtdb.firebaseio.com"),
		FirebaseCredentialsFile: getEnv("FIREBASE_SERVICE_ACCOUNT_PATH", ""),
		FirebaseAPIKey:          getEnv("FIREBASE_API_KEY", ""),
		FirebaseEmulatorToken:   getEnv("FIREBASE_EMULATOR_TOKEN", ""),
		IdentityToolkitURL:      getEnv("IDENTITY_TOOLKIT_URL", "https://identitytoolkit.googleapis.com/v1"),
		WatchPollInterval:       getDuration("WATCH_POLL_INTERVAL", 2*time.Second),

		SessionCookieName: getEnv("SESSION_COOKIE_NAME", "vw_session"),
		SessionTTL:        getDuration("SESSION_TTL", 12*time.Hour),
		SessionSecure:     getBoolEnv("SESSION_SECURE", false),
		DevTokenSecret:    getEnv("DEV_TOKEN_SECRET", "vitalwatch-development-secret"),

		DisplayTimezone: getEnv("DISPLAY_TIMEZONE", "Asia/Kolkata"),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "vitalwatch"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "vitalwatch123"),
		PostgresDB:       getEnv("POSTGRES_DB", "vitalwatch"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "vitalwatch-uploader"),
		UplinkTopic:  getEnv("UPLINK_TOPIC", "vitals.uplink"),

		MQTTBroker:      getEnv("MQTT_BROKER_URL", "tcp://eu1.cloud.thethings.network:1883"),
		MQTTClientID:    getEnv("MQTT_CLIENT_ID", "vitalwatch-ingestion"),
		MQTTUsername:    getEnv("MQTT_USERNAME", ""),
		MQTTPassword:    getEnv("MQTT_PASSWORD", ""),
		TTNDeviceID:     getEnv("TTN_DEVICE_ID", "+"),
		IngestStatusTTL: getDuration("INGEST_STATUS_TTL", 7*24*time.Hour),

		LogFile: getEnv("LOG_FILE", ""),

		GatewayRequestTimeout: getDuration("GATEWAY_REQUEST_TIMEOUT", 10*time.Second),
		LoginRateLimitRPS:     getIntEnv("LOGIN_RATE_LIMIT_RPS", 5),
		LoginRateLimitBurst:   getIntEnv("LOGIN_RATE_LIMIT_BURST", 20),
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
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
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

func getStringSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
