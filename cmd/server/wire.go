package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"togoretrouve/internal/actionlog"
	"togoretrouve/internal/attachment"
	chandler "togoretrouve/internal/conversation/handler"
	cservice "togoretrouve/internal/conversation/service"
	cstore "togoretrouve/internal/conversation/store"
	dhandler "togoretrouve/internal/declaration/handler"
	dservice "togoretrouve/internal/declaration/service"
	dstore "togoretrouve/internal/declaration/store"
	"togoretrouve/internal/geo"
	httpapi "togoretrouve/internal/http"
	ihandler "togoretrouve/internal/identity/handler"
	iservice "togoretrouve/internal/identity/service"
	istore "togoretrouve/internal/identity/store"
	"togoretrouve/internal/identity/token"
	"togoretrouve/internal/notification"
	"togoretrouve/internal/numbering"
	"togoretrouve/internal/outbox"
	"togoretrouve/internal/platform/config"
	"togoretrouve/internal/platform/kafka/consumer"
	"togoretrouve/internal/platform/metrics"
	"togoretrouve/internal/ratelimit"
	"togoretrouve/internal/realtime"
	rhandler "togoretrouve/internal/reclamation/handler"
	rservice "togoretrouve/internal/reclamation/service"
	rstore "togoretrouve/internal/reclamation/store"
	"togoretrouve/pkg/platform/circuit"
	txcontext "togoretrouve/pkg/platform/tx"
)

// worker is a background loop that runs until ctx is cancelled.
type worker func(ctx context.Context) error

type application struct {
	router  http.Handler
	workers []worker
}

type claimStore interface {
	rservice.Store
	dservice.ClaimChecker
}

type eventStore interface {
	outbox.Writer
	outbox.Source
}

// stores picks the PostgreSQL implementation of every store when a database
// is configured and the in-memory one otherwise.
type stores struct {
	runner        txcontext.Runner
	users         iservice.UserStore
	declarations  dservice.Store
	reclamations  claimStore
	conversations cservice.Store
	notifications notification.Store
	actions       actionlog.Store
	outbox        eventStore
}

func (b *backends) stores() stores {
	if b.db == nil {
		return stores{
			runner:        txcontext.NewMemory(),
			users:         istore.NewInMemory(),
			declarations:  dstore.NewInMemory(),
			reclamations:  rstore.NewInMemory(),
			conversations: cstore.NewInMemory(),
			notifications: notification.NewInMemoryStore(),
			actions:       actionlog.NewInMemoryStore(),
			outbox:        outbox.NewMemoryStore(),
		}
	}
	return stores{
		runner:        txcontext.NewPostgres(b.db),
		users:         istore.NewPostgres(b.db),
		declarations:  dstore.NewPostgres(b.db),
		reclamations:  rstore.NewPostgres(b.db),
		conversations: cstore.NewPostgres(b.db),
		notifications: notification.NewPostgresStore(b.db),
		actions:       actionlog.NewPostgresStore(b.db),
		outbox:        outbox.NewPostgresStore(b.db),
	}
}

func (b *backends) counter() numbering.Counter {
	if b.redis != nil {
		return numbering.NewRedisCounter(b.redis.Client)
	}
	return numbering.NewMemoryCounter()
}

// wire builds every service and handler and returns the router together
// with the background workers.
func wire(ctx context.Context, cfg config.Server, infra *backends, log *slog.Logger) (*application, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	platformMetrics := metrics.New(reg)

	st := infra.stores()

	geoStore, err := infra.geoStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	registry := geo.NewService(geoStore, geo.WithLogger(log))

	tokens := token.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer)
	identity := iservice.New(st.users, registry, tokens,
		iservice.WithLogger(log),
		iservice.WithMetrics(platformMetrics),
		iservice.WithTokenTTL(cfg.TokenTTL),
	)

	hub := realtime.NewHub(realtime.WithLogger(log), realtime.WithMetrics(platformMetrics))
	upgrader := realtime.NewUpgrader(cfg.AllowedOrigins)

	notifyOpts := []notification.Option{
		notification.WithLogger(log),
		notification.WithMetrics(platformMetrics),
	}
	if infra.rabbit != nil {
		notifyOpts = append(notifyOpts, notification.WithQueue(infra.rabbit, circuit.New("notification-queue")))
	}
	notifications := notification.NewService(st.notifications, hub, notifyOpts...)

	recorder := actionlog.NewRecorder(st.actions, actionlog.WithLogger(log), actionlog.WithMetrics(platformMetrics))
	numbers := numbering.NewGenerator(infra.counter(),
		numbering.WithLogger(log),
		numbering.WithMetrics(numbering.NewMetrics(reg)),
		numbering.WithMaxAttempts(cfg.Numbering.MaxAttempts),
	)
	files := attachment.NewService(infra.attachmentBackend(), cfg.Storage.MaxUploadSize, log)

	declarations := dservice.New(st.declarations, st.runner, numbers, registry, recorder, notifications, st.outbox,
		dservice.WithLogger(log),
		dservice.WithMetrics(dservice.NewMetrics(reg)),
		dservice.WithAttachments(files),
		dservice.WithClaimChecker(st.reclamations),
	)
	reclamations := rservice.New(st.reclamations, st.runner, numbers, declarations, identity, recorder, notifications, st.outbox,
		rservice.WithLogger(log),
		rservice.WithMetrics(rservice.NewMetrics(reg)),
		rservice.WithAttachments(files),
	)

	sequence, err := cservice.NewSnowflakeSequencer(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("message sequence: %w", err)
	}
	conversationMetrics := cservice.NewMetrics(reg)
	conversations := cservice.New(st.conversations, st.runner, sequence, declarations, identity, notifications, st.outbox,
		cservice.WithLogger(log),
		cservice.WithMetrics(conversationMetrics),
		cservice.WithAttachments(files),
	)

	events := outbox.NewRouter(log, nil)
	cservice.NewFanout(hub, log, conversationMetrics).Register(events)

	workers := []worker{}
	var sink outbox.Sink = outbox.NewLocalSink(events, log)
	if infra.producer != nil {
		sink = outbox.NewKafkaSink(infra.producer, map[string]string{
			outbox.AggregateConversation: cfg.Kafka.ChatTopic,
			outbox.AggregateDeclaration:  cfg.Kafka.DeclarationTopic,
			outbox.AggregateReclamation:  cfg.Kafka.DeclarationTopic,
		})
		// Every instance reads the chat topic in its own group so each one
		// pushes to the sockets it holds.
		fanout, err := consumer.New(consumer.Config{
			Brokers: cfg.Kafka.Brokers,
			Group:   cfg.Kafka.ConsumerGroup,
			Topics:  []string{cfg.Kafka.ChatTopic},
			FromEnd: true,
		}, events, log)
		if err != nil {
			return nil, fmt.Errorf("fan-out consumer: %w", err)
		}
		workers = append(workers, func(ctx context.Context) error {
			defer fanout.Close()
			return fanout.Run(ctx)
		})
	}
	relay := outbox.NewRelay(st.outbox, sink,
		outbox.WithLogger(log),
		outbox.WithMetrics(outbox.NewMetrics(reg)),
		outbox.WithInterval(cfg.Kafka.RelayInterval),
		outbox.WithBatchSize(cfg.Kafka.RelayBatch),
	)
	workers = append(workers, relay.Run)
	if infra.rabbit != nil {
		workers = append(workers, func(ctx context.Context) error {
			return notifications.Dispatcher().Run(ctx, infra.rabbit)
		})
	}

	identityRoutes := ihandler.New(identity, log)
	geoRoutes := geo.NewHandler(registry, log)
	declarationRoutes := dhandler.New(declarations, identity, cfg.Storage.MaxUploadSize, log)
	claimRoutes := rhandler.New(reclamations, identity, cfg.Storage.MaxUploadSize, log)
	conversationRoutes := chandler.New(conversations, identity, hub, upgrader, cfg.Storage.MaxUploadSize, log)
	notificationRoutes := notification.NewHandler(notifications, hub, upgrader, log)

	public := []httpapi.PublicRoutes{identityRoutes, geoRoutes, declarationRoutes}
	if infra.files != nil {
		public = append(public, infra.files)
	}

	var publicLimit, userLimit func(http.Handler) http.Handler
	if cfg.RateLimit.Enabled {
		var limits ratelimit.Store = ratelimit.NewInMemory()
		if infra.redis != nil {
			limits = ratelimit.NewRedis(infra.redis.Client)
		}
		limiter := ratelimit.New(limits, ratelimit.WithLogger(log), ratelimit.WithMetrics(ratelimit.NewMetrics(reg)))
		publicLimit = limiter.ByIP(ratelimit.Class{Name: "public", Limit: cfg.RateLimit.PublicPerMinute, Window: time.Minute})
		userLimit = limiter.ByUser(ratelimit.Class{Name: "user", Limit: cfg.RateLimit.UserPerMinute, Window: time.Minute})
	}

	router := httpapi.NewRouter(httpapi.Config{
		Logger:         log,
		Tokens:         tokens,
		Latency:        platformMetrics,
		Gatherer:       reg,
		RequestTimeout: cfg.RequestTimeout,
		Health:         infra.healthChecks(),
		PublicLimit:    publicLimit,
		UserLimit:      userLimit,
		Public:         public,
		Authenticated: []httpapi.AuthenticatedRoutes{
			identityRoutes, declarationRoutes, claimRoutes, conversationRoutes, notificationRoutes,
		},
		Admin:   []httpapi.AdminRoutes{identityRoutes, geoRoutes},
		Sockets: []httpapi.SocketRoutes{notificationRoutes, conversationRoutes},
	})

	return &application{router: router, workers: workers}, nil
}
