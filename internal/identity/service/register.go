package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"herdbook/internal/identity/lock"
	"herdbook/internal/identity/models"
	dErrors "herdbook/pkg/domain-errors"
	audit "herdbook/pkg/platform/audit"
	"herdbook/pkg/platform/sentinel"
)

const (
	operationRegister = "register"
	operationIdentify = "identify"
)

// Register admits a new identity unless one above threshold already exists.
//
// The scan and the insert run under the exclusion lock. Once the insert has
// started it runs to completion even if ctx is canceled, so a call never leaves
// a half-written record and never reports Registered without a confirmed insert.
func (s *Service) Register(ctx context.Context, in models.RegisterInput) (outcome models.RegistrationOutcome, err error) {
	ctx, span := s.tracer.Start(ctx, "identity.Register")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
			s.metrics.IncrementOutcome(operationRegister, string(dErrors.CodeOf(err)))
		} else {
			span.SetAttributes(
				attribute.String("registration.status", string(outcome.Status)),
				attribute.String("record.id", outcome.Record.ID.String()),
			)
			s.metrics.IncrementOutcome(operationRegister, string(outcome.Status))
		}
		span.End()
	}()

	if err := validateEmbedding(in.Embedding); err != nil {
		return models.RegistrationOutcome{}, err
	}

	lease, err := s.acquire(ctx)
	if err != nil {
		return models.RegistrationOutcome{}, err
	}
	defer s.release(ctx, lease)

	result, err := s.matcher.FindBestMatch(ctx, in.Embedding)
	if err != nil {
		return models.RegistrationOutcome{}, err
	}

	if result.Found() {
		s.logger.InfoContext(ctx, "registration matched existing identity",
			"record_id", result.Match.Record.ID,
			"score", result.Match.Score,
			"compared", result.Compared,
		)
		s.emitAudit(ctx, audit.Event{
			Action:   string(audit.EventIdentityMatched),
			RecordID: result.Match.Record.ID,
			Decision: string(models.StatusAlreadyExists),
			Score:    result.Match.Score,
			Compared: result.Compared,
		})
		return models.RegistrationOutcome{
			Status: models.StatusAlreadyExists,
			Record: result.Match.Record,
			Score:  result.Match.Score,
		}, nil
	}

	// Last point at which cancellation is honored.
	if err := ctx.Err(); err != nil {
		return models.RegistrationOutcome{}, contextFailure(err, "registration")
	}
	if err := lease.Err(); err != nil {
		return models.RegistrationOutcome{}, dErrors.Wrap(err, dErrors.CodeTimeout, "registration lock lost before insert")
	}

	// Once started the insert is not abandoned on caller cancellation, only on
	// its own deadline.
	insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.insertTimeout)
	defer cancel()
	record, err := s.store.Insert(insertCtx, models.Record{
		Embedding: in.Embedding.Clone(),
		Metadata:  models.NormalizeMetadata(in.Metadata),
		Image:     in.Image,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return models.RegistrationOutcome{}, dErrors.Wrap(err, dErrors.CodeTimeout, "insert identity record deadline exceeded")
		}
		return models.RegistrationOutcome{}, dErrors.Wrap(err, dErrors.CodeStorageFailure, "insert identity record")
	}
	s.metrics.IncrementInserted()

	s.logger.InfoContext(ctx, "identity registered",
		"record_id", record.ID,
		"compared", result.Compared,
	)
	s.emitAudit(ctx, audit.Event{
		Action:   string(audit.EventIdentityRegistered),
		RecordID: record.ID,
		Decision: string(models.StatusRegistered),
		Compared: result.Compared,
	})
	return models.RegistrationOutcome{Status: models.StatusRegistered, Record: record}, nil
}

// acquire waits for the exclusion lock for at most lockTimeout.
func (s *Service) acquire(ctx context.Context) (lock.Lease, error) {
	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	lease, err := s.locker.Acquire(waitCtx)
	s.metrics.ObserveLockWait(time.Since(start))
	if err == nil {
		return lease, nil
	}

	// The caller's own cancellation or deadline takes precedence over ours.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, contextFailure(ctxErr, "registration lock wait")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout,
			"registration lock not acquired within "+s.lockTimeout.String())
	}
	return nil, dErrors.Wrap(err, dErrors.CodeStorageFailure, "acquire registration lock")
}

func (s *Service) release(ctx context.Context, lease lock.Lease) {
	err := lease.Release(context.WithoutCancel(ctx))
	switch {
	case err == nil:
	case errors.Is(err, sentinel.ErrLockLost):
		s.logger.ErrorContext(ctx, "registration lock expired while held", "error", err)
	default:
		s.logger.WarnContext(ctx, "failed to release registration lock", "error", err)
	}
}

func contextFailure(err error, what string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, what+" deadline exceeded")
	}
	return dErrors.Wrap(err, dErrors.CodeCanceled, what+" canceled")
}
