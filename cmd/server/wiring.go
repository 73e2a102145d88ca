package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"

	"github.com/twmb/franz-go/pkg/kgo"

	"herdbook/internal/identity/lock"
	"herdbook/internal/identity/matcher"
	identitymetrics "herdbook/internal/identity/metrics"
	"herdbook/internal/identity/models"
	"herdbook/internal/identity/service"
	"herdbook/internal/identity/similarity"
	"herdbook/internal/identity/store"
	"herdbook/internal/platform/config"
	"herdbook/internal/platform/kafka"
	"herdbook/internal/platform/postgres"
	"herdbook/internal/platform/redis"
	"herdbook/pkg/platform/audit"
	"herdbook/pkg/platform/audit/publisher"
	kafkasink "herdbook/pkg/platform/audit/publishers/kafka"
	auditmemory "herdbook/pkg/platform/audit/store/memory"
	auditpostgres "herdbook/pkg/platform/audit/store/postgres"
	"herdbook/pkg/platform/circuit"
)

// recordStore is what both the matcher and the service need from storage.
type recordStore interface {
	service.Store
	Scan(ctx context.Context) iter.Seq2[models.Record, error]
}

type dependencies struct {
	service *service.Service
	closers []func()
}

// Close releases resources in reverse acquisition order.
func (d *dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func build(ctx context.Context, cfg config.Server, log *slog.Logger) (deps *dependencies, err error) {
	deps = &dependencies{}
	defer func() {
		if err != nil {
			deps.Close()
		}
	}()

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	if db != nil {
		deps.closers = append(deps.closers, func() { _ = db.Close() })
	}

	records, err := buildRecordStore(ctx, db, log)
	if err != nil {
		return nil, err
	}

	identityMetrics := identitymetrics.New()
	policy, err := matcher.ParsePolicy(cfg.Identity.MatchPolicy)
	if err != nil {
		return nil, err
	}
	engine := matcher.New(records, buildModel(cfg.Identity, log),
		matcher.WithPolicy(policy),
		matcher.WithDimension(cfg.Identity.EmbeddingDimension),
		matcher.WithLogger(log),
		matcher.WithMetrics(identityMetrics),
	)

	locker, err := buildLocker(cfg, log, deps)
	if err != nil {
		return nil, err
	}

	auditPublisher, err := buildAuditPublisher(ctx, cfg.Kafka, db, log, deps)
	if err != nil {
		return nil, err
	}

	svc, err := service.New(records, engine,
		service.WithLocker(locker),
		service.WithLockTimeout(cfg.Identity.RegisterLockTimeout),
		service.WithInsertTimeout(cfg.Identity.RegisterInsertTimeout),
		service.WithAuditPublisher(auditPublisher),
		service.WithLogger(log),
		service.WithMetrics(identityMetrics),
	)
	if err != nil {
		return nil, err
	}
	deps.service = svc
	return deps, nil
}

func buildRecordStore(ctx context.Context, db *sql.DB, log *slog.Logger) (recordStore, error) {
	if db == nil {
		log.Warn("DATABASE_URL not set, records are kept in memory only")
		return store.NewInMemory(), nil
	}
	if err := store.Migrate(ctx, db); err != nil {
		return nil, fmt.Errorf("migrate identity records: %w", err)
	}
	return store.NewPostgres(db), nil
}

// buildModel prefers the remote classifier when configured and falls back to
// cosine similarity over the raw embeddings.
func buildModel(cfg config.IdentityConfig, log *slog.Logger) similarity.Model {
	if cfg.ClassifierURL == "" {
		log.Info("using cosine similarity", "threshold", cfg.MatchThreshold)
		return similarity.WithThreshold(similarity.Cosine{}, cfg.MatchThreshold)
	}
	log.Info("using remote classifier", "url", cfg.ClassifierURL, "threshold", cfg.MatchThreshold)
	classifier := similarity.NewRemoteClassifier(cfg.ClassifierURL,
		similarity.WithHTTPClient(&http.Client{Timeout: cfg.ClassifierTimeout}),
		similarity.WithBreaker(circuit.New("classifier")),
	)
	return similarity.WithThreshold(classifier, cfg.MatchThreshold)
}

func buildLocker(cfg config.Server, log *slog.Logger, deps *dependencies) (lock.Locker, error) {
	client, err := redis.New(cfg.Redis)
	if err != nil {
		return nil, err
	}
	if client == nil {
		log.Warn("REDIS_URL not set, registration lock is process-local")
		return lock.NewLocal(), nil
	}
	deps.closers = append(deps.closers, func() { _ = client.Close() })
	return lock.NewRedis(client.Client,
		lock.WithLeaseTTL(cfg.Identity.RegisterLockTTL),
		lock.WithLogger(log),
	), nil
}

func buildAuditPublisher(ctx context.Context, cfg config.KafkaConfig, db *sql.DB, log *slog.Logger, deps *dependencies) (*publisher.Publisher, error) {
	var auditStore audit.Store = auditmemory.NewInMemoryStore()
	if db != nil {
		if err := auditpostgres.Migrate(ctx, db); err != nil {
			return nil, fmt.Errorf("migrate audit events: %w", err)
		}
		auditStore = auditpostgres.New(db)
	}

	opts := []publisher.Option{
		publisher.WithAsyncBuffer(1024),
		publisher.WithLogger(log),
	}

	producer, err := kafka.NewProducer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if producer != nil {
		opts = append(opts, publisher.WithSink(kafkasink.New(producer, cfg.AuditTopic,
			kafkasink.WithSampler(kafkasink.NewSampler(cfg.SampleRate)),
			kafkasink.WithBreaker(circuit.New("audit-stream")),
			kafkasink.WithMetrics(kafkasink.NewMetrics()),
			kafkasink.WithLogger(log),
		)))
	}

	p := publisher.NewPublisher(auditStore, opts...)
	// Drain the publisher before the producer goes away.
	if producer != nil {
		deps.closers = append(deps.closers, func() { closeProducer(producer) })
	}
	deps.closers = append(deps.closers, p.Close)
	return p, nil
}

func closeProducer(client *kgo.Client) {
	if err := client.Flush(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
		slog.Default().Warn("flush audit stream", "error", err)
	}
	client.Close()
}
