package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the requested claim id does not exist. Never retried.
	ErrNotFound = errors.New("claim not found")

	// ErrTaggingRequired means an evidence item has no domain tag and must go
	// through the domain tagger before identity resolution.
	ErrTaggingRequired = errors.New("evidence item has no domain tag")

	// ErrConcurrentUpdate means another writer holds the ledger lease.
	// Callers retry with backoff, a bounded number of times.
	ErrConcurrentUpdate = errors.New("ledger is held by another writer")

	// ErrInvariantViolation signals a logic defect. Always fatal to the
	// current claim update; never clamped away.
	ErrInvariantViolation = errors.New("ledger invariant violated")
)

// InvariantError describes which invariant a claim broke
type InvariantError struct {
	ClaimID string
	Detail  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrInvariantViolation, e.ClaimID, e.Detail)
}

func (e *InvariantError) Unwrap() error {
	return ErrInvariantViolation
}
