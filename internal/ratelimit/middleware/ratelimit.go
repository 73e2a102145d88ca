package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"herdbook/internal/ratelimit"
	"herdbook/pkg/platform/httputil"
	"herdbook/pkg/requestcontext"
)

// Limiter is the bucket store seen by the middleware.
type Limiter interface {
	Allow(ctx context.Context, key string, limit ratelimit.Limit) (ratelimit.Result, error)
}

type Middleware struct {
	limiter Limiter
	limits  map[ratelimit.EndpointClass]ratelimit.Limit
	logger  *slog.Logger
}

type Option func(*Middleware)

// WithLimit sets the limit for an endpoint class. Classes without a limit pass
// through.
func WithLimit(class ratelimit.EndpointClass, limit ratelimit.Limit) Option {
	return func(m *Middleware) {
		m.limits[class] = limit
	}
}

func New(limiter Limiter, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		limiter: limiter,
		limits:  make(map[ratelimit.EndpointClass]ratelimit.Limit),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RateLimit throttles by client IP. Limiter failures fail open.
func (m *Middleware) RateLimit(class ratelimit.EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limit, ok := m.limits[class]
			if !ok || !limit.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)

			result, err := m.limiter.Allow(ctx, string(class)+":"+ip, limit)
			if err != nil {
				m.logger.ErrorContext(ctx, "failed to check rate limit",
					"class", class,
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			addRateLimitHeaders(w, result)
			if !result.Allowed {
				m.logger.WarnContext(ctx, "rate limit exceeded",
					"class", class,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeRateLimitExceeded(w, result)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result ratelimit.Result) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, ratelimit.ExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    "Too many requests from this IP address. Please try again later.",
		RetryAfter: result.RetryAfter,
	})
}
