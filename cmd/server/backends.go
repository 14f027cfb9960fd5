package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"togoretrouve/internal/attachment"
	"togoretrouve/internal/geo"
	httpapi "togoretrouve/internal/http"
	"togoretrouve/internal/platform/config"
	"togoretrouve/internal/platform/kafka"
	"togoretrouve/internal/platform/kafka/producer"
	"togoretrouve/internal/platform/objectstore"
	"togoretrouve/internal/platform/postgres"
	"togoretrouve/internal/platform/rabbitmq"
	"togoretrouve/internal/platform/redis"
)

// backends holds the optional infrastructure. A nil field means the
// in-memory fallback is in use.
type backends struct {
	db       *sql.DB
	redis    *redis.Client
	producer *producer.Producer
	rabbit   *rabbitmq.Client
	objects  *objectstore.MinIO
	files    *attachment.MemoryBackend
}

// openBackends connects everything that is configured. PostgreSQL is the
// only hard dependency once configured: the other backends degrade to
// in-process fallbacks with a warning.
func openBackends(ctx context.Context, cfg config.Server, logger *slog.Logger) (*backends, error) {
	b := &backends{}

	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		b.db = db
		if cfg.Database.AutoMigrate {
			if err := postgres.Migrate(ctx, db, logger); err != nil {
				b.close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		logger.InfoContext(ctx, "postgres connected")
	} else {
		logger.WarnContext(ctx, "DATABASE_URL not set, using in-memory stores")
	}

	rdb, err := redis.New(ctx, cfg.Redis)
	switch {
	case err != nil:
		logger.WarnContext(ctx, "redis unavailable, using in-process counters", "error", err)
	case rdb != nil:
		b.redis = rdb
		logger.InfoContext(ctx, "redis connected")
	}

	if len(cfg.Kafka.Brokers) > 0 {
		if err := kafka.EnsureTopics(ctx, cfg.Kafka.Brokers, cfg.Kafka.ChatTopic, cfg.Kafka.DeclarationTopic); err != nil {
			logger.WarnContext(ctx, "kafka unavailable, relaying events in process", "error", err)
		} else if p, err := producer.New(cfg.Kafka.Brokers, logger); err != nil {
			logger.WarnContext(ctx, "kafka producer failed, relaying events in process", "error", err)
		} else {
			b.producer = p
			logger.InfoContext(ctx, "kafka connected", "brokers", cfg.Kafka.Brokers)
		}
	}

	if cfg.RabbitMQ.URL != "" {
		client, err := rabbitmq.Dial(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, logger)
		if err != nil {
			logger.WarnContext(ctx, "rabbitmq unavailable, dispatching notifications locally", "error", err)
		} else {
			b.rabbit = client
			logger.InfoContext(ctx, "rabbitmq connected", "queue", cfg.RabbitMQ.Queue)
		}
	}

	if cfg.Storage.Endpoint != "" {
		store, err := objectstore.New(ctx, cfg.Storage)
		if err != nil {
			logger.WarnContext(ctx, "minio unavailable, keeping attachments in memory", "error", err)
		} else {
			b.objects = store
			logger.InfoContext(ctx, "minio connected", "bucket", cfg.Storage.Bucket)
		}
	}
	if b.objects == nil {
		b.files = attachment.NewMemoryBackend("/files")
	}

	return b, nil
}

func (b *backends) attachmentBackend() attachment.Backend {
	if b.objects != nil {
		return b.objects
	}
	return b.files
}

// geoStore seeds the reference data and puts the Redis cache in front when
// available.
func (b *backends) geoStore(ctx context.Context, cfg config.Server, logger *slog.Logger) (geo.Store, error) {
	var store geo.Store = geo.NewInMemory()
	if b.db != nil {
		store = geo.NewPostgres(b.db)
	}
	if err := geo.Seed(ctx, store); err != nil {
		return nil, fmt.Errorf("seed geography: %w", err)
	}
	if b.redis != nil {
		store = geo.NewCached(store, b.redis.Client, cfg.Redis.GeoCacheTTL, logger)
	}
	return store, nil
}

func (b *backends) healthChecks() map[string]httpapi.HealthCheck {
	checks := make(map[string]httpapi.HealthCheck)
	if b.db != nil {
		checks["postgres"] = b.db.PingContext
	}
	if b.redis != nil {
		checks["redis"] = b.redis.Health
	}
	if b.producer != nil {
		checks["kafka"] = b.producer.Health
	}
	return checks
}

func (b *backends) close() {
	if b.rabbit != nil {
		b.rabbit.Close()
	}
	if b.producer != nil {
		b.producer.Close()
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.db != nil {
		_ = b.db.Close()
	}
}
