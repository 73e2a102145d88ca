package similarity

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herdbook/internal/identity/models"
	"herdbook/pkg/platform/circuit"
	"herdbook/pkg/platform/sentinel"
)

func TestCosine(t *testing.T) {
	ctx := context.Background()

	t.Run("identical vectors score 1", func(t *testing.T) {
		score, err := Cosine{}.Score(ctx, models.Vector{1, 0, 0}, models.Vector{1, 0, 0})
		require.NoError(t, err)
		assert.InDelta(t, 1.0, score, 1e-9)
	})

	t.Run("orthogonal vectors score 0", func(t *testing.T) {
		score, err := Cosine{}.Score(ctx, models.Vector{1, 0}, models.Vector{0, 1})
		require.NoError(t, err)
		assert.InDelta(t, 0.0, score, 1e-9)
	})

	t.Run("scale invariant", func(t *testing.T) {
		score, err := Cosine{}.Score(ctx, models.Vector{1, 2, 3}, models.Vector{2, 4, 6})
		require.NoError(t, err)
		assert.InDelta(t, 1.0, score, 1e-6)
	})

	t.Run("rejects length mismatch and zero norm", func(t *testing.T) {
		_, err := Cosine{}.Score(ctx, models.Vector{1, 0}, models.Vector{1, 0, 0})
		assert.Error(t, err)
		_, err = Cosine{}.Score(ctx, models.Vector{0, 0}, models.Vector{1, 0})
		assert.ErrorIs(t, err, errZeroNorm)
		_, err = Cosine{}.Score(ctx, models.Vector{1, 0}, models.Vector{0, 0})
		assert.ErrorIs(t, err, errZeroNorm)
	})

	t.Run("opposite vectors score -1", func(t *testing.T) {
		score, err := Cosine{}.Score(ctx, models.Vector{1, 2}, models.Vector{-1, -2})
		require.NoError(t, err)
		assert.InDelta(t, -1.0, score, 1e-6)
	})

	t.Run("does not mutate inputs", func(t *testing.T) {
		q, c := models.Vector{3, 4}, models.Vector{6, 8}
		_, err := Cosine{}.Score(ctx, q, c)
		require.NoError(t, err)
		assert.Equal(t, models.Vector{3, 4}, q)
		assert.Equal(t, models.Vector{6, 8}, c)
	})

	t.Run("near duplicate stays within range", func(t *testing.T) {
		v := make(models.Vector, 3136)
		for i := range v {
			v[i] = float32(i%7) + 0.5
		}
		score, err := Cosine{}.Score(ctx, v, v.Clone())
		require.NoError(t, err)
		assert.LessOrEqual(t, score, 1.0)
		assert.InDelta(t, 1.0, score, 1e-5)
	})
}

func TestThresholded(t *testing.T) {
	ctx := context.Background()
	fixed := func(score float64, err error) Scorer {
		return ScorerFunc(func(context.Context, models.Vector, models.Vector) (float64, error) {
			return score, err
		})
	}

	t.Run("score at threshold is a match", func(t *testing.T) {
		ok, score, err := WithThreshold(fixed(0.95, nil), DefaultThreshold).Compare(ctx, nil, nil)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 0.95, score)
	})

	t.Run("score below threshold is not a match", func(t *testing.T) {
		ok, score, err := WithThreshold(fixed(0.80, nil), DefaultThreshold).Compare(ctx, nil, nil)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 0.80, score)
	})

	t.Run("scorer errors propagate", func(t *testing.T) {
		boom := errors.New("boom")
		_, _, err := WithThreshold(fixed(0, boom), DefaultThreshold).Compare(ctx, nil, nil)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("non-finite scores are failures", func(t *testing.T) {
		_, _, err := WithThreshold(fixed(math.NaN(), nil), DefaultThreshold).Compare(ctx, nil, nil)
		assert.Error(t, err)
		_, _, err = WithThreshold(fixed(math.Inf(1), nil), DefaultThreshold).Compare(ctx, nil, nil)
		assert.Error(t, err)
	})

	t.Run("argument order is preserved", func(t *testing.T) {
		var gotQuery, gotCandidate models.Vector
		scorer := ScorerFunc(func(_ context.Context, q, c models.Vector) (float64, error) {
			gotQuery, gotCandidate = q, c
			return 1, nil
		})
		_, _, err := WithThreshold(scorer, DefaultThreshold).Compare(ctx, models.Vector{1}, models.Vector{2})
		require.NoError(t, err)
		assert.Equal(t, models.Vector{1}, gotQuery)
		assert.Equal(t, models.Vector{2}, gotCandidate)
	})
}

func TestRemoteClassifier(t *testing.T) {
	ctx := context.Background()

	t.Run("sends query before candidate and reads similar probability", func(t *testing.T) {
		var got classifyRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			_ = json.NewEncoder(w).Encode(classifyResponse{Probabilities: []float64{0.97, 0.03}})
		}))
		defer srv.Close()

		score, err := NewRemoteClassifier(srv.URL, WithHTTPClient(srv.Client())).
			Score(ctx, models.Vector{1, 2}, models.Vector{3, 4})
		require.NoError(t, err)
		assert.Equal(t, 0.97, score)
		assert.Equal(t, []float32{1, 2, 3, 4}, got.Inputs)
	})

	t.Run("non-200 is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model not loaded", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := NewRemoteClassifier(srv.URL).Score(ctx, models.Vector{1}, models.Vector{1})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "503")
	})

	t.Run("malformed probabilities are an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(classifyResponse{Probabilities: []float64{0.5}})
		}))
		defer srv.Close()

		_, err := NewRemoteClassifier(srv.URL).Score(ctx, models.Vector{1}, models.Vector{1})
		assert.Error(t, err)
	})

	t.Run("open breaker fails fast without calling the classifier", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		classifier := NewRemoteClassifier(srv.URL,
			WithBreaker(circuit.New("classifier", circuit.WithFailureThreshold(1), circuit.WithCooldown(time.Hour))))

		_, err := classifier.Score(ctx, models.Vector{1}, models.Vector{1})
		require.Error(t, err)
		_, err = classifier.Score(ctx, models.Vector{1}, models.Vector{1})
		require.ErrorIs(t, err, sentinel.ErrUnavailable)
		assert.Equal(t, int32(1), calls.Load())
	})
}
