package similarity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"herdbook/internal/identity/models"
	"herdbook/pkg/platform/circuit"
	"herdbook/pkg/platform/sentinel"
)

const defaultClassifierTimeout = 10 * time.Second

// RemoteClassifier scores a pair by asking an external pair classifier. The
// classifier receives the concatenation query||candidate and answers with the
// probabilities [similar, different]; the score is the similar probability.
type RemoteClassifier struct {
	endpoint string
	client   *http.Client
	breaker  *circuit.Breaker
}

// ClassifierOption configures a RemoteClassifier.
type ClassifierOption func(*RemoteClassifier)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) ClassifierOption {
	return func(c *RemoteClassifier) {
		if client != nil {
			c.client = client
		}
	}
}

// WithBreaker fails calls fast while the classifier is known to be down.
func WithBreaker(b *circuit.Breaker) ClassifierOption {
	return func(c *RemoteClassifier) {
		c.breaker = b
	}
}

// NewRemoteClassifier builds a scorer that POSTs to endpoint.
func NewRemoteClassifier(endpoint string, opts ...ClassifierOption) *RemoteClassifier {
	c := &RemoteClassifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: defaultClassifierTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type classifyRequest struct {
	Inputs []float32 `json:"inputs"`
}

type classifyResponse struct {
	Probabilities []float64 `json:"probabilities"`
}

func (c *RemoteClassifier) Score(ctx context.Context, query, candidate models.Vector) (float64, error) {
	if c.breaker == nil {
		return c.score(ctx, query, candidate)
	}
	if !c.breaker.Allow() {
		return 0, fmt.Errorf("classifier circuit %s open: %w", c.breaker.Name(), sentinel.ErrUnavailable)
	}
	score, err := c.score(ctx, query, candidate)
	if err != nil && ctx.Err() == nil {
		c.breaker.RecordFailure()
		return 0, err
	}
	if err == nil {
		c.breaker.RecordSuccess()
	}
	return score, err
}

func (c *RemoteClassifier) score(ctx context.Context, query, candidate models.Vector) (float64, error) {
	inputs := make([]float32, 0, len(query)+len(candidate))
	inputs = append(inputs, query...)
	inputs = append(inputs, candidate...)

	body, err := json.Marshal(classifyRequest{Inputs: inputs})
	if err != nil {
		return 0, fmt.Errorf("marshal classify request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("classify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("classifier returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode classify response: %w", err)
	}
	if len(out.Probabilities) != 2 {
		return 0, fmt.Errorf("classifier returned %d probabilities, want 2", len(out.Probabilities))
	}
	return out.Probabilities[0], nil
}
