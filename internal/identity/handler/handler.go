package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"herdbook/internal/identity/models"
	"herdbook/internal/platform/metrics"
	"herdbook/internal/platform/middleware"
	"herdbook/internal/ratelimit"
	ratelimitmw "herdbook/internal/ratelimit/middleware"
	id "herdbook/pkg/domain"
	"herdbook/pkg/platform/httputil"
	"herdbook/pkg/platform/middleware/metadata"
	"herdbook/pkg/platform/middleware/requestid"
	"herdbook/pkg/platform/middleware/requesttime"
	"herdbook/pkg/requestcontext"
)

// Service defines the interface for identity operations.
type Service interface {
	Identify(ctx context.Context, query models.Vector) (models.IdentificationOutcome, error)
	Register(ctx context.Context, in models.RegisterInput) (models.RegistrationOutcome, error)
	GetRecord(ctx context.Context, recordID id.RecordID) (models.Record, error)
}

// Handler handles identity endpoints.
type Handler struct {
	logger   *slog.Logger
	identity Service
	metrics  *metrics.Metrics
	timeout  time.Duration
	limiter  *ratelimitmw.Middleware
}

type Option func(*Handler)

// WithRateLimiter throttles identify and register per client IP.
func WithRateLimiter(m *ratelimitmw.Middleware) Option {
	return func(h *Handler) {
		h.limiter = m
	}
}

// New creates a new identity Handler. A zero timeout means 30s.
func New(identity Service, logger *slog.Logger, metrics *metrics.Metrics, timeout time.Duration, opts ...Option) *Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	h := &Handler{
		logger:   logger,
		identity: identity,
		metrics:  metrics,
		timeout:  timeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the identity routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	identityRouter := chi.NewRouter()
	identityRouter.Use(requestid.Middleware)
	identityRouter.Use(middleware.Recovery(h.logger, h.metrics))
	identityRouter.Use(requesttime.Middleware)
	identityRouter.Use(metadata.ClientMetadata)
	identityRouter.Use(middleware.Logger(h.logger))
	identityRouter.Use(middleware.Timeout(h.timeout))
	identityRouter.Use(middleware.ContentTypeJSON)
	identityRouter.Use(middleware.LatencyMiddleware(h.metrics))
	identityRouter.With(h.rateLimit(ratelimit.ClassRead)).Post("/identify", h.handleIdentify)
	identityRouter.With(h.rateLimit(ratelimit.ClassWrite)).Post("/register", h.handleRegister)
	identityRouter.With(h.rateLimit(ratelimit.ClassRead)).Get("/records/{id}", h.handleGetRecord)

	r.Mount("/", identityRouter)
}

func (h *Handler) rateLimit(class ratelimit.EndpointClass) func(http.Handler) http.Handler {
	if h.limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return h.limiter.RateLimit(class)
}

func (h *Handler) handleIdentify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req IdentifyRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		h.writeFailure(ctx, w, "invalid identify request", err)
		return
	}

	outcome, err := h.identity.Identify(ctx, models.Vector(req.Embedding))
	if err != nil {
		h.writeFailure(ctx, w, "identify failed", err)
		return
	}

	resp := IdentifyResponse{Matched: outcome.Matched}
	if outcome.Matched {
		rec := toRecordResponse(outcome.Record)
		resp.Record = &rec
		resp.Score = outcome.Score
		resp.ScorePercent = percent(outcome.Score)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// handleRegister answers 201 for a new identity and 200 when the animal is
// already on file.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RegisterRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		h.writeFailure(ctx, w, "invalid register request", err)
		return
	}

	outcome, err := h.identity.Register(ctx, models.RegisterInput{
		Embedding: models.Vector(req.Embedding),
		Metadata:  req.Metadata,
		Image:     req.Image,
	})
	if err != nil {
		h.writeFailure(ctx, w, "register failed", err)
		return
	}

	resp := RegisterResponse{
		Status: outcome.Status,
		Record: toRecordResponse(outcome.Record),
	}
	status := http.StatusCreated
	if !outcome.Registered() {
		status = http.StatusOK
		resp.Score = outcome.Score
		resp.ScorePercent = percent(outcome.Score)
	}
	httputil.WriteJSON(w, status, resp)
}

func (h *Handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	recordID, err := id.ParseRecordID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeFailure(ctx, w, "invalid record id", err)
		return
	}

	record, err := h.identity.GetRecord(ctx, recordID)
	if err != nil {
		h.writeFailure(ctx, w, "get record failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordDetail(record))
}

// writeFailure logs client mistakes at warn and everything else at error.
func (h *Handler) writeFailure(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	level := slog.LevelError
	if httputil.StatusFor(err) < http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err.Error(),
	)
	httputil.WriteError(w, err)
}

// Health answers liveness probes. Mounted outside the identity middleware
// chain so probes stay out of request logs.
func Health(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
