package matcher

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	identitymetrics "herdbook/internal/identity/metrics"
	"herdbook/internal/identity/models"
	"herdbook/internal/identity/similarity"
	dErrors "herdbook/pkg/domain-errors"
)

// Policy selects which above-threshold candidate a scan reports.
type Policy string

const (
	// PolicyFirstMatch stops at the first above-threshold candidate in store order.
	PolicyFirstMatch Policy = "first"
	// PolicyBestMatch scores every candidate and reports the highest score;
	// ties go to the earliest record. Slower, and may report a different record
	// than PolicyFirstMatch when several candidates clear the threshold.
	PolicyBestMatch Policy = "best"
)

// ParsePolicy maps configuration values onto a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyFirstMatch:
		return PolicyFirstMatch, nil
	case PolicyBestMatch:
		return PolicyBestMatch, nil
	default:
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown match policy %q", s)
	}
}

// RecordScanner is the read side of the record store.
type RecordScanner interface {
	Scan(ctx context.Context) iter.Seq2[models.Record, error]
}

// Engine finds the stored record matching a query embedding by scanning the
// whole store through a similarity model.
type Engine struct {
	records   RecordScanner
	model     similarity.Model
	policy    Policy
	dimension int
	logger    *slog.Logger
	metrics   *identitymetrics.Metrics
	tracer    trace.Tracer
}

type Option func(*Engine)

func WithPolicy(p Policy) Option {
	return func(e *Engine) {
		if p != "" {
			e.policy = p
		}
	}
}

// WithDimension rejects queries whose length differs from dim before scanning.
// Zero disables the check; per-record mismatches are always rejected.
func WithDimension(dim int) Option {
	return func(e *Engine) {
		e.dimension = dim
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *identitymetrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New constructs an Engine using first-match policy unless overridden.
func New(records RecordScanner, model similarity.Model, opts ...Option) *Engine {
	e := &Engine{
		records: records,
		model:   model,
		policy:  PolicyFirstMatch,
		tracer:  otel.Tracer("herdbook/identity/matcher"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Policy reports the configured match policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// FindBestMatch scans the store and returns the matching record, or NoMatch.
// The model is always called as Compare(query, candidate). Any comparison or
// storage failure aborts the scan: a partial scan never reports NoMatch.
func (e *Engine) FindBestMatch(ctx context.Context, query models.Vector) (result models.MatchResult, err error) {
	ctx, span := e.tracer.Start(ctx, "matcher.FindBestMatch",
		trace.WithAttributes(
			attribute.String("match.policy", string(e.policy)),
			attribute.Int("match.dimension", query.Dim()),
		))
	start := time.Now()
	defer func() {
		span.SetAttributes(
			attribute.Int("match.compared", result.Compared),
			attribute.Bool("match.found", result.Found()),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		} else {
			e.metrics.ObserveScan(string(e.policy), time.Since(start), result.Compared)
		}
		span.End()
	}()

	if err := e.validateQuery(query); err != nil {
		return models.MatchResult{}, err
	}

	var best *models.Match
	compared := 0
	for candidate, scanErr := range e.records.Scan(ctx) {
		if scanErr != nil {
			return models.MatchResult{}, scanFailure(scanErr)
		}
		if err := ctx.Err(); err != nil {
			return models.MatchResult{}, scanFailure(err)
		}
		if candidate.Embedding.Dim() != query.Dim() {
			return models.MatchResult{}, dErrors.Newf(dErrors.CodeDimensionMismatch,
				"query has %d dimensions, record %s has %d", query.Dim(), candidate.ID, candidate.Embedding.Dim())
		}

		isMatch, score, cmpErr := e.model.Compare(ctx, query, candidate.Embedding)
		compared++
		if cmpErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return models.MatchResult{}, scanFailure(ctxErr)
			}
			return models.MatchResult{}, dErrors.Wrap(cmpErr, dErrors.CodeComparisonFailure,
				"compare against record "+candidate.ID.String())
		}
		if !isMatch {
			continue
		}

		if e.policy == PolicyFirstMatch {
			return models.MatchResult{Match: &models.Match{Record: candidate, Score: score}, Compared: compared}, nil
		}
		if best == nil || score > best.Score {
			best = &models.Match{Record: candidate, Score: score}
		}
	}

	e.logger.DebugContext(ctx, "match scan complete",
		"policy", e.policy,
		"compared", compared,
		"found", best != nil,
	)
	return models.MatchResult{Match: best, Compared: compared}, nil
}

func (e *Engine) validateQuery(query models.Vector) error {
	if query.Dim() == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "query embedding is empty")
	}
	if e.dimension > 0 && query.Dim() != e.dimension {
		return dErrors.Newf(dErrors.CodeDimensionMismatch,
			"query has %d dimensions, corpus expects %d", query.Dim(), e.dimension)
	}
	return nil
}

func scanFailure(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "match scan deadline exceeded")
	case errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeCanceled, "match scan canceled")
	default:
		return dErrors.Wrap(err, dErrors.CodeStorageFailure, "scan record store")
	}
}
