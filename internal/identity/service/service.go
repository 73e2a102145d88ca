// Package service coordinates identification and registration of identities.
//
// Identify is a read-only scan and runs fully in parallel. Register runs its
// scan-then-insert sequence inside a single exclusion domain (lock.Locker) so
// two concurrent registrations of the same entity cannot both succeed.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"herdbook/internal/identity/lock"
	identitymetrics "herdbook/internal/identity/metrics"
	"herdbook/internal/identity/models"
	id "herdbook/pkg/domain"
	audit "herdbook/pkg/platform/audit"
	"herdbook/pkg/requestcontext"
)

const (
	// DefaultLockTimeout bounds how long Register waits for the exclusion lock.
	DefaultLockTimeout = 5 * time.Second
	// DefaultInsertTimeout bounds the insert, which ignores caller cancellation.
	DefaultInsertTimeout = 10 * time.Second
)

// Store is the write side of the record store plus point lookups.
type Store interface {
	Insert(ctx context.Context, record models.Record) (models.Record, error)
	FindByID(ctx context.Context, recordID id.RecordID) (models.Record, error)
}

// Matcher finds the stored record matching a query embedding.
type Matcher interface {
	FindBestMatch(ctx context.Context, query models.Vector) (models.MatchResult, error)
}

// AuditPublisher records outcome events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	store          Store
	matcher        Matcher
	locker         lock.Locker
	lockTimeout    time.Duration
	insertTimeout  time.Duration
	auditPublisher AuditPublisher
	logger         *slog.Logger
	metrics        *identitymetrics.Metrics
	tracer         trace.Tracer
	requestID      func(context.Context) string
}

type Option func(*Service)

// WithLocker replaces the in-process lock, e.g. with lock.Redis when several
// replicas share one store.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		s.locker = l
	}
}

func WithLockTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithInsertTimeout bounds the record insert. A hung store otherwise holds the
// exclusion lock until its lease expires.
func WithInsertTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.insertTimeout = d
		}
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = p
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *identitymetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithRequestID overrides how audit events pick up the caller's correlation ID.
func WithRequestID(fn func(context.Context) string) Option {
	return func(s *Service) {
		s.requestID = fn
	}
}

func New(store Store, matcher Matcher, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("record store is required")
	}
	if matcher == nil {
		return nil, errors.New("matcher is required")
	}
	s := &Service{
		store:       store,
		matcher:     matcher,
		lockTimeout:   DefaultLockTimeout,
		insertTimeout: DefaultInsertTimeout,
		tracer:      otel.Tracer("herdbook/identity/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locker == nil {
		s.locker = lock.NewLocal()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.requestID == nil {
		s.requestID = requestcontext.RequestID
	}
	return s, nil
}

// emitAudit never fails the calling operation; a lost audit event is logged.
func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	event.RequestID = s.requestID(ctx)
	event.Timestamp = requestcontext.Now(ctx)
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event",
			"action", event.Action,
			"record_id", event.RecordID,
			"error", err,
		)
	}
}
