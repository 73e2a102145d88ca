// Package ratelimit throttles identity traffic per client IP.
package ratelimit

import "time"

// EndpointClass groups endpoints that share a limit.
type EndpointClass string

const (
	// ClassRead covers /identify and record lookups.
	ClassRead EndpointClass = "read"
	// ClassWrite covers /register, which holds the registration lock.
	ClassWrite EndpointClass = "write"
)

// Limit is the number of requests allowed per window. Zero disables limiting.
type Limit struct {
	Requests int
	Window   time.Duration
}

func (l Limit) Enabled() bool {
	return l.Requests > 0 && l.Window > 0
}

// Result is the outcome of one rate-limit check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int
}

type ExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}
