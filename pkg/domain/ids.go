// Package domain holds identifier primitives shared across modules.
package domain

import (
	"strconv"
	"strings"

	dErrors "herdbook/pkg/domain-errors"
)

// RecordID identifies a registered identity record. IDs are assigned by the
// record store in creation order and never reused.
// Invariant: a persisted RecordID is always positive.
type RecordID int64

// ParseRecordID constructs a RecordID from external input (path params, query strings).
//
// Errors: returns CodeInvalidInput when the value is empty, not a base-10
// integer, or not positive.
func ParseRecordID(s string) (RecordID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "record id cannot be empty")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "record id must be an integer")
	}
	if n <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "record id must be positive")
	}
	return RecordID(n), nil
}

// String returns the base-10 representation.
func (id RecordID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// IsNil returns true for the zero (unassigned) ID.
func (id RecordID) IsNil() bool {
	return id <= 0
}
