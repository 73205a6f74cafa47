package model

import (
	"errors"
	"fmt"
)

var (
	// ErrRunInProgress rejects a harvest invocation while another run holds
	// the lease. No partial work happens before this is returned.
	ErrRunInProgress = errors.New("harvest run already in progress")

	// ErrUnsupportedBrand means no parser is registered for a brand code.
	// Distinct from a parse that yields zero tiers, which is a ParseError.
	ErrUnsupportedBrand = errors.New("unsupported brand code")

	ErrNotFound = errors.New("not found")
)

// FetchError records a per-product fetch that failed after all retries.
type FetchError struct {
	Brand      string
	ExternalID string
	Attempts   int
	Err        error
}

func (e FetchError) Error() string {
	return fmt.Sprintf("fetch %s/%s failed after %d attempts: %v", e.Brand, e.ExternalID, e.Attempts, e.Err)
}

func (e FetchError) Unwrap() error { return e.Err }

// ParseError records a snapshot the brand parser could not turn into at
// least one valid tier. The product's prior live tiers stay untouched.
type ParseError struct {
	Brand string
	Err   error
}

func (e ParseError) Error() string {
	return fmt.Sprintf("parse %s snapshot: %v", e.Brand, e.Err)
}

func (e ParseError) Unwrap() error { return e.Err }

// InvalidCandidateError flags one malformed tier. The tier is dropped; the
// rest of its batch proceeds.
type InvalidCandidateError struct {
	Reason string
}

func (e InvalidCandidateError) Error() string {
	return "invalid tier candidate: " + e.Reason
}
