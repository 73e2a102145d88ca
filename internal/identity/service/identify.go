package service

import (
	"context"
	"errors"
	"math"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"herdbook/internal/identity/models"
	id "herdbook/pkg/domain"
	dErrors "herdbook/pkg/domain-errors"
	audit "herdbook/pkg/platform/audit"
	"herdbook/pkg/platform/sentinel"
)

// Identify looks up the identity matching query without writing. It takes no
// lock; the result reflects every record committed before the scan began.
func (s *Service) Identify(ctx context.Context, query models.Vector) (outcome models.IdentificationOutcome, err error) {
	ctx, span := s.tracer.Start(ctx, "identity.Identify")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
			s.metrics.IncrementOutcome(operationIdentify, string(dErrors.CodeOf(err)))
		} else {
			span.SetAttributes(attribute.Bool("identify.matched", outcome.Matched))
			s.metrics.IncrementOutcome(operationIdentify, matchedLabel(outcome.Matched))
		}
		span.End()
	}()

	if err := validateEmbedding(query); err != nil {
		return models.IdentificationOutcome{}, err
	}

	result, err := s.matcher.FindBestMatch(ctx, query)
	if err != nil {
		return models.IdentificationOutcome{}, err
	}

	if !result.Found() {
		s.emitAudit(ctx, audit.Event{
			Action:   string(audit.EventIdentityNotFound),
			Decision: "no_match",
			Compared: result.Compared,
		})
		return models.IdentificationOutcome{}, nil
	}

	s.emitAudit(ctx, audit.Event{
		Action:   string(audit.EventIdentityIdentified),
		RecordID: result.Match.Record.ID,
		Decision: "matched",
		Score:    result.Match.Score,
		Compared: result.Compared,
	})
	return models.IdentificationOutcome{
		Matched: true,
		Record:  result.Match.Record,
		Score:   result.Match.Score,
	}, nil
}

// GetRecord returns a stored record by ID.
func (s *Service) GetRecord(ctx context.Context, recordID id.RecordID) (models.Record, error) {
	if recordID.IsNil() {
		return models.Record{}, dErrors.New(dErrors.CodeInvalidInput, "record id is required")
	}
	record, err := s.store.FindByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.Record{}, dErrors.Newf(dErrors.CodeNotFound, "record %s not found", recordID)
		}
		return models.Record{}, dErrors.Wrap(err, dErrors.CodeStorageFailure, "load record")
	}
	return record, nil
}

func validateEmbedding(v models.Vector) error {
	if v.Dim() == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "embedding is required")
	}
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return dErrors.Newf(dErrors.CodeInvalidInput, "embedding component %d is not finite", i)
		}
	}
	return nil
}

func matchedLabel(matched bool) string {
	if matched {
		return "matched"
	}
	return "no_match"
}
