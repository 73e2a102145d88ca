package main

import (
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herdbook/internal/identity/handler"
	"herdbook/internal/identity/matcher"
	identitymetrics "herdbook/internal/identity/metrics"
	"herdbook/internal/identity/models"
	"herdbook/internal/identity/service"
	"herdbook/internal/identity/similarity"
	"herdbook/internal/identity/store"
	"herdbook/internal/platform/metrics"
	"herdbook/pkg/testutil"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	im := identitymetrics.NewWithRegistry(reg)

	records := store.NewInMemory()
	engine := matcher.New(records, similarity.WithThreshold(similarity.Cosine{}, 0.95),
		matcher.WithDimension(3),
		matcher.WithMetrics(im),
	)
	svc, err := service.New(records, engine, service.WithLogger(log), service.WithMetrics(im))
	require.NoError(t, err)

	h := handler.New(svc, log, metrics.NewWithRegistry(reg), time.Second)
	return newRouter(h, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
}

func TestRouter(t *testing.T) {
	testutil.Given(t, "the assembled router over an empty herd book", func(t *testing.T) {
		router := newTestRouter(t)

		testutil.When(t, "probing health", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))

			testutil.Then(t, "it answers ok", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				testutil.AssertJSONContains(t, rr, "status", "ok")
			})
		})

		testutil.When(t, "registering the same animal twice", func(t *testing.T) {
			body := handler.RegisterRequest{
				Embedding: []float32{0.6, 0.8, 0},
				Metadata:  map[string]string{models.MetaOwnerName: "Lakshmi"},
			}
			first := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/register", body))
			second := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/register", body))

			testutil.Then(t, "only the first creates a record", func(t *testing.T) {
				testutil.AssertStatus(t, first, http.StatusCreated)
				testutil.AssertStatusOK(t, second)
				resp := testutil.UnmarshalResponse[handler.RegisterResponse](t, second)
				assert.Equal(t, models.StatusAlreadyExists, resp.Status)
				assert.InDelta(t, 100.0, resp.ScorePercent, 0.01)
			})

			testutil.Then(t, "the record is retrievable by id", func(t *testing.T) {
				rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/records/1"))
				testutil.AssertStatusOK(t, rr)
				resp := testutil.UnmarshalResponse[handler.RecordResponse](t, rr)
				assert.Equal(t, "Lakshmi", resp.Metadata[models.MetaOwnerName])
			})
		})

		testutil.When(t, "identifying with the wrong dimensionality", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/identify",
				handler.IdentifyRequest{Embedding: []float32{1, 0}}))

			testutil.Then(t, "it is rejected as unprocessable", func(t *testing.T) {
				testutil.AssertStatusAndError(t, rr, http.StatusUnprocessableEntity, "dimension_mismatch")
			})
		})

		testutil.When(t, "scraping metrics", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/metrics"))

			testutil.Then(t, "request latency is exported", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				assert.Contains(t, rr.Body.String(), "herdbook_http_request_duration_seconds")
			})
		})
	})
}
