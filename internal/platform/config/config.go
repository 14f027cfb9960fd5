package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	pkgstrings "togoretrouve/pkg/platform/strings"
)

// Server captures process-level configuration. Every backend is optional:
// an empty URL selects the in-memory implementation.
type Server struct {
	Addr            string
	Environment     string
	LogLevel        string
	JWTSigningKey   string
	JWTIssuer       string
	TokenTTL        time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	// NodeID distinguishes instances in message sequence numbers (0-1023).
	NodeID int64

	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	RabbitMQ  RabbitMQConfig
	Storage   StorageConfig
	Numbering NumberingConfig
	RateLimit RateLimitConfig
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// RedisConfig configures the Redis client used for numbering counters and caches.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	GeoCacheTTL  time.Duration
}

// KafkaConfig configures the outbox relay and the live fan-out consumer.
type KafkaConfig struct {
	Brokers          []string
	ChatTopic        string
	DeclarationTopic string
	ConsumerGroup    string
	RelayInterval    time.Duration
	RelayBatch       int
}

// RabbitMQConfig configures the notification dispatch queue.
type RabbitMQConfig struct {
	URL   string
	Queue string
}

// StorageConfig configures the MinIO attachment bucket.
type StorageConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	MaxUploadSize int64
	URLExpiry     time.Duration
}

// RateLimitConfig sets the per-minute request budgets.
type RateLimitConfig struct {
	Enabled         bool
	PublicPerMinute int
	UserPerMinute   int
}

// NumberingConfig bounds the regenerate-and-retry loop on number collisions.
type NumberingConfig struct {
	MaxAttempts int
}

// FromEnv builds a Server config from environment variables so main stays lean.
// A .env file in the working directory is loaded first when present; real
// environment variables win over it.
func FromEnv() Server {
	_ = godotenv.Load()

	hostname := os.Getenv("HOSTNAME")
	if hostname == "" {
		hostname, _ = os.Hostname()
	}

	return Server{
		Addr:            getEnv("TOGORETROUVE_ADDR", ":8080"),
		Environment:     getEnv("TOGORETROUVE_ENV", "development"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		JWTSigningKey:   getEnv("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		JWTIssuer:       getEnv("JWT_ISSUER", "togoretrouve"),
		TokenTTL:        getDuration("TOKEN_TTL", 12*time.Hour),
		RequestTimeout:  getDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		AllowedOrigins:  getList("WS_ALLOWED_ORIGINS"),
		NodeID:          int64(getInt("NODE_ID", 1)),
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
			AutoMigrate:     getBool("DATABASE_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			GeoCacheTTL:  getDuration("GEO_CACHE_TTL", time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers:          getList("KAFKA_BROKERS"),
			ChatTopic:        getEnv("KAFKA_CHAT_TOPIC", "togoretrouve.chat"),
			DeclarationTopic: getEnv("KAFKA_DECLARATION_TOPIC", "togoretrouve.declarations"),
			ConsumerGroup:    getEnv("KAFKA_FANOUT_GROUP", "togoretrouve-fanout-"+hostname),
			RelayInterval:    getDuration("OUTBOX_RELAY_INTERVAL", 500*time.Millisecond),
			RelayBatch:       getInt("OUTBOX_RELAY_BATCH", 100),
		},
		RabbitMQ: RabbitMQConfig{
			URL:   os.Getenv("RABBITMQ_URL"),
			Queue: getEnv("RABBITMQ_NOTIFICATION_QUEUE", "notifications"),
		},
		Storage: StorageConfig{
			Endpoint:      os.Getenv("MINIO_ENDPOINT"),
			AccessKey:     os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey:     os.Getenv("MINIO_SECRET_KEY"),
			Bucket:        getEnv("MINIO_BUCKET", "togoretrouve"),
			UseSSL:        getBool("MINIO_USE_SSL", false),
			MaxUploadSize: int64(getInt("MAX_UPLOAD_BYTES", 10<<20)),
			URLExpiry:     getDuration("ATTACHMENT_URL_EXPIRY", 15*time.Minute),
		},
		Numbering: NumberingConfig{
			MaxAttempts: getInt("NUMBERING_MAX_ATTEMPTS", 5),
		},
		RateLimit: RateLimitConfig{
			Enabled:         getBool("RATE_LIMIT_ENABLED", true),
			PublicPerMinute: getInt("RATE_LIMIT_PUBLIC_PER_MINUTE", 120),
			UserPerMinute:   getInt("RATE_LIMIT_USER_PER_MINUTE", 600),
		},
	}
}

// IsProduction reports whether development defaults must be refused.
func (s Server) IsProduction() bool {
	return s.Environment == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	return pkgstrings.DedupeAndTrim(strings.Split(raw, ","))
}
