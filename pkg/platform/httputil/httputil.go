// Package httputil holds JSON response helpers shared by handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	dErrors "herdbook/pkg/domain-errors"
)

// MaxBodyBytes bounds request bodies; an embedding plus an image fits well
// below it.
const MaxBodyBytes = 16 << 20

var statusByCode = map[dErrors.Code]int{
	dErrors.CodeBadRequest:        http.StatusBadRequest,
	dErrors.CodeInvalidInput:      http.StatusBadRequest,
	dErrors.CodeDimensionMismatch: http.StatusUnprocessableEntity,
	dErrors.CodeNotFound:          http.StatusNotFound,
	dErrors.CodeComparisonFailure: http.StatusBadGateway,
	dErrors.CodeStorageFailure:    http.StatusServiceUnavailable,
	dErrors.CodeTimeout:           http.StatusServiceUnavailable,
	dErrors.CodeCanceled:          http.StatusRequestTimeout,
	dErrors.CodeInternal:          http.StatusInternalServerError,
}

// StatusFor maps a domain error to an HTTP status.
func StatusFor(err error) int {
	if status, ok := statusByCode[dErrors.CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes {"error": code, "error_description": message}. Internal
// errors omit the description. Retryable errors carry Retry-After.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := map[string]string{"error": string(code)}

	var de *dErrors.Error
	if code != dErrors.CodeInternal && errors.As(err, &de) {
		body["error_description"] = de.Message
	}
	if dErrors.Retryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	WriteJSON(w, StatusFor(err), body)
}

// DecodeJSON decodes a bounded JSON body into dst, rejecting unknown fields.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return dErrors.Newf(dErrors.CodeBadRequest, "request body exceeds %d bytes", maxErr.Limit)
		case errors.Is(err, io.EOF):
			return dErrors.New(dErrors.CodeBadRequest, "request body is empty")
		default:
			return dErrors.Newf(dErrors.CodeBadRequest, "invalid JSON body: %v", err)
		}
	}
	return nil
}
