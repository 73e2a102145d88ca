// Package similarity adapts pairwise scorers into the match model consumed by
// the matcher.
//
// Argument order is significant: callers always pass the query embedding first
// and the stored candidate second. Scorers are free to be asymmetric.
package similarity

import (
	"context"
	"fmt"
	"math"

	"herdbook/internal/identity/models"
)

// DefaultThreshold is the minimum score for two embeddings to be considered the
// same identity.
const DefaultThreshold = 0.95

// Model decides whether candidate is the same identity as query.
type Model interface {
	Compare(ctx context.Context, query, candidate models.Vector) (isMatch bool, score float64, err error)
}

// Scorer produces a raw similarity score for a (query, candidate) pair.
type Scorer interface {
	Score(ctx context.Context, query, candidate models.Vector) (float64, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, query, candidate models.Vector) (float64, error)

func (f ScorerFunc) Score(ctx context.Context, query, candidate models.Vector) (float64, error) {
	return f(ctx, query, candidate)
}

// Thresholded is a Model that reports a match when score >= Threshold.
type Thresholded struct {
	Scorer    Scorer
	Threshold float64
}

// WithThreshold wraps scorer into a Model.
func WithThreshold(scorer Scorer, threshold float64) *Thresholded {
	return &Thresholded{Scorer: scorer, Threshold: threshold}
}

func (t *Thresholded) Compare(ctx context.Context, query, candidate models.Vector) (bool, float64, error) {
	score, err := t.Scorer.Score(ctx, query, candidate)
	if err != nil {
		return false, 0, err
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return false, 0, fmt.Errorf("scorer returned non-finite score %v", score)
	}
	return score >= t.Threshold, score, nil
}
