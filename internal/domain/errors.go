package domain

import "errors"

// -----------------------------------------------------------------------------
// Domain Errors
// These errors represent domain-level failures and are used by stores,
// clients and services to communicate error conditions. The taxonomy
// matters: rate limiting must stay distinguishable from not-found and
// from plain upstream failure so callers can rotate instead of abandon.
// -----------------------------------------------------------------------------

// Puzzle errors
var (
	ErrPuzzleNotFound   = errors.New("puzzle not found")
	ErrNoPuzzleProduced = errors.New("no puzzle could be generated")
)

// Selection errors
var (
	ErrNoCandidate  = errors.New("no candidate file available")
	ErrFileNotFound = errors.New("file not found")
)

// Upstream errors
var (
	ErrRateLimited         = errors.New("rate limited")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrMalformedOutput     = errors.New("malformed model output")
)

// Grading errors
var (
	// ErrGradingUnavailable means the grading infrastructure failed.
	// It must never be presented to the learner as a wrong answer.
	ErrGradingUnavailable = errors.New("grading unavailable")
)

// Validation errors
var (
	ErrInvalidSubmission = errors.New("invalid submission")
	ErrInvalidInput      = errors.New("invalid input")
)
