package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("TOGORETROUVE_ADDR", "")

	cfg := FromEnv()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Empty(t, cfg.Database.URL)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "togoretrouve.chat", cfg.Kafka.ChatTopic)
	assert.Equal(t, "togoretrouve.declarations", cfg.Kafka.DeclarationTopic)
	assert.Equal(t, int64(1), cfg.NodeID)
	assert.Equal(t, 5, cfg.Numbering.MaxAttempts)
	assert.False(t, cfg.IsProduction())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("TOGORETROUVE_ADDR", ":9090")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,kafka-1:9092")
	t.Setenv("NODE_ID", "7")
	t.Setenv("TOKEN_TTL", "45m")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("NUMBERING_MAX_ATTEMPTS", "9")
	t.Setenv("TOGORETROUVE_ENV", "production")

	cfg := FromEnv()

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, int64(7), cfg.NodeID)
	assert.Equal(t, 45*time.Minute, cfg.TokenTTL)
	assert.True(t, cfg.Storage.UseSSL)
	assert.Equal(t, 9, cfg.Numbering.MaxAttempts)
	assert.True(t, cfg.IsProduction())
}

func TestFromEnvIgnoresMalformedValues(t *testing.T) {
	t.Setenv("REDIS_POOL_SIZE", "many")
	t.Setenv("REQUEST_TIMEOUT", "soon")

	cfg := FromEnv()

	assert.Equal(t, 10, cfg.Redis.PoolSize)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
}
