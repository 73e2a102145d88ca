package similarity

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/vecgo/distance"

	"herdbook/internal/identity/models"
)

var errZeroNorm = errors.New("cosine: zero-norm vector")

// Cosine scores two embeddings by cosine similarity in [-1, 1].
type Cosine struct{}

func (Cosine) Score(_ context.Context, query, candidate models.Vector) (float64, error) {
	if len(query) != len(candidate) {
		return 0, fmt.Errorf("cosine: length mismatch %d != %d", len(query), len(candidate))
	}
	q, ok := distance.NormalizeL2Copy(query)
	if !ok {
		return 0, errZeroNorm
	}
	c, ok := distance.NormalizeL2Copy(candidate)
	if !ok {
		return 0, errZeroNorm
	}
	// float32 rounding can push unit vectors a hair past 1.
	return max(-1, min(1, float64(distance.Dot(q, c)))), nil
}
