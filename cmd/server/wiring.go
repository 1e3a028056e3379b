package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/twmb/franz-go/pkg/kgo"

	approvalhandler "accessgate/internal/approval/handler"
	approvalmetrics "accessgate/internal/approval/metrics"
	"accessgate/internal/approval/service"
	"accessgate/internal/approval/store"
	httpapi "accessgate/internal/http"
	"accessgate/internal/notify"
	"accessgate/internal/platform/config"
	"accessgate/internal/platform/kafka"
	"accessgate/internal/platform/postgres"
	platformredis "accessgate/internal/platform/redis"
	"accessgate/internal/privacy"
	privacyhandler "accessgate/internal/privacy/handler"
	privacymetrics "accessgate/internal/privacy/metrics"
	"accessgate/internal/resource"
	"accessgate/pkg/platform/circuit"
)

type application struct {
	service    *service.Service
	dispatcher *notify.Dispatcher
	hub        *notify.Hub
	approvals  *approvalhandler.Handler
	privacy    *privacyhandler.Handler
	health     map[string]httpapi.HealthCheck
	backends   map[string]string
	closers    []func()
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func build(ctx context.Context, cfg config.Server, log *slog.Logger) (app *application, err error) {
	app = &application{
		health:   map[string]httpapi.HealthCheck{},
		backends: map[string]string{},
	}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	approvalStore, err := buildStore(ctx, cfg, app)
	if err != nil {
		return nil, err
	}
	resources, err := buildResources(ctx, cfg, log, app)
	if err != nil {
		return nil, err
	}
	sinks, err := buildSinks(ctx, cfg, log, app)
	if err != nil {
		return nil, err
	}

	app.dispatcher = notify.NewDispatcher(sinks,
		notify.WithLogger(log),
		notify.WithMetrics(notify.NewMetrics()),
		notify.WithSendTimeout(cfg.Notify.Timeout),
		notify.WithQueueSize(cfg.Notify.QueueSize),
	)
	app.service = service.New(approvalStore, resources,
		service.WithLogger(log),
		service.WithMetrics(approvalmetrics.New()),
		service.WithNotifier(app.dispatcher),
		service.WithTTL(cfg.Approval.TTL),
		service.WithMaxRetries(cfg.Approval.MaxRetries),
	)
	app.approvals = approvalhandler.New(app.service, log)

	lexicon := privacy.DefaultLexicon()
	if cfg.PrivacyLexiconFile != "" {
		lexicon, err = privacy.LoadLexicon(cfg.PrivacyLexiconFile)
		if err != nil {
			return nil, err
		}
		log.InfoContext(ctx, "privacy lexicon loaded", "path", cfg.PrivacyLexiconFile)
	}
	pipeline := privacy.NewPipeline(lexicon,
		privacy.WithLogger(log),
		privacy.WithMetrics(privacymetrics.New()),
	)
	app.privacy = privacyhandler.New(pipeline, log)
	return app, nil
}

func buildStore(ctx context.Context, cfg config.Server, app *application) (service.Store, error) {
	if cfg.DatabaseURL == "" {
		app.backends["approvals"] = "memory"
		return store.NewInMemoryStore(), nil
	}
	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, func() { _ = db.Close() })
	if err := store.Migrate(ctx, db); err != nil {
		return nil, fmt.Errorf("migrate approval store: %w", err)
	}
	app.health["postgres"] = pingDB(db)
	app.backends["approvals"] = "postgres"
	return store.NewPostgres(db), nil
}

func buildResources(ctx context.Context, cfg config.Server, log *slog.Logger, app *application) (service.ResourceProvider, error) {
	if cfg.ResourceDatabaseURL == "" {
		if cfg.ResourceFixturesFile == "" {
			log.WarnContext(ctx, "no resource database or fixtures configured; approved access will find no records")
			app.backends["resources"] = "memory:empty"
			return resource.NewMemoryProvider(), nil
		}
		provider, err := resource.LoadFixtures(cfg.ResourceFixturesFile)
		if err != nil {
			return nil, err
		}
		log.InfoContext(ctx, "resource fixtures loaded", "path", cfg.ResourceFixturesFile, "records", provider.Len())
		app.backends["resources"] = "memory:fixtures"
		return provider, nil
	}
	pool, err := postgres.OpenPool(ctx, cfg.ResourceDatabaseURL)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, pool.Close)
	app.health["resources"] = pingPool(pool)
	app.backends["resources"] = "postgres"
	return resource.NewPostgresProvider(pool, resource.DefaultTables()), nil
}

func buildSinks(ctx context.Context, cfg config.Server, log *slog.Logger, app *application) ([]notify.Sink, error) {
	app.hub = notify.NewHub(log, originChecker(cfg.AllowedOrigins))
	sinks := []notify.Sink{app.hub}

	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if redisClient != nil {
		app.closers = append(app.closers, func() { _ = redisClient.Close() })
		app.health["redis"] = redisClient.Health
		sinks = append(sinks, notify.Guard(notify.NewRedisPublisher(redisClient.Client, cfg.Redis.Channel), circuit.New("redis"), log))
	}

	kafkaClient, err := kafka.New(ctx, cfg.Kafka, log)
	if err != nil {
		return nil, err
	}
	if kafkaClient != nil {
		app.closers = append(app.closers, kafkaClient.Close)
		app.health["kafka"] = pingKafka(kafkaClient)
		sinks = append(sinks, notify.Guard(notify.NewKafkaPublisher(kafkaClient, cfg.Kafka.Topic), circuit.New("kafka"), log))
	}
	return sinks, nil
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		return slices.Contains(allowed, r.Header.Get("Origin"))
	}
}

func pingDB(db *sql.DB) httpapi.HealthCheck {
	return db.PingContext
}

func pingPool(pool *pgxpool.Pool) httpapi.HealthCheck {
	return pool.Ping
}

func pingKafka(client *kgo.Client) httpapi.HealthCheck {
	return client.Ping
}
