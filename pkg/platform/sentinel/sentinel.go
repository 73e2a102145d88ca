package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record does not exist in store
// - ErrUnavailable: backing service temporarily unavailable
// - ErrLockHeld: the exclusion lock is held by someone else
// - ErrLockLost: a held lock lease expired before release
//
// For validation errors (bad input, wrong dimensions), use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("unavailable")
	ErrLockHeld    = errors.New("lock held")
	ErrLockLost    = errors.New("lock lost")
)
