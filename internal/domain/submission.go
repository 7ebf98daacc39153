package domain

import (
	"fmt"
	"strings"
)

// MaxExplanationLen bounds the free-text explanation on a submission.
const MaxExplanationLen = 2000

// Submission is a learner's one-time attempt at a puzzle. It is consumed
// by the grading engine and never persisted.
type Submission struct {
	PuzzleID string `json:"puzzle_id"`

	// Ranges are the selected line spans in insertion order. Overlapping
	// ranges are the caller's problem to merge; the core accepts them.
	Ranges []LineRange `json:"ranges,omitempty"`

	Explanation string `json:"explanation,omitempty"`

	// InsufficientContext declares that the visible code cannot answer
	// the question. When set it takes priority over Ranges.
	InsufficientContext bool `json:"insufficient_context"`
}

// Validate enforces the boundary invariants: exactly one of
// {non-empty ranges, insufficient-context flag} must hold, every range
// must be positive and ordered, and the explanation is length-bounded.
// Violations never reach the grading core.
func (s *Submission) Validate() error {
	if s.PuzzleID == "" {
		return fmt.Errorf("%w: puzzle id is required", ErrInvalidSubmission)
	}
	if !s.InsufficientContext && len(s.Ranges) == 0 {
		return fmt.Errorf("%w: select at least one line range or declare insufficient context", ErrInvalidSubmission)
	}
	for i, r := range s.Ranges {
		if r.Start < 1 || r.End < 1 {
			return fmt.Errorf("%w: range %d has non-positive bounds", ErrInvalidSubmission, i+1)
		}
		if r.Start > r.End {
			return fmt.Errorf("%w: range %d starts after it ends", ErrInvalidSubmission, i+1)
		}
	}
	if len(s.Explanation) > MaxExplanationLen {
		return fmt.Errorf("%w: explanation exceeds %d characters", ErrInvalidSubmission, MaxExplanationLen)
	}
	return nil
}

// RenderRanges produces the human-readable form sent to the judgment
// prompt: each range as "line N" or "lines N-M", semicolon-joined.
func (s *Submission) RenderRanges() string {
	parts := make([]string, 0, len(s.Ranges))
	for _, r := range s.Ranges {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, "; ")
}

// GradeResult is the outcome of grading one submission. It is computed
// fresh per submission and returned to the caller, never stored.
type GradeResult struct {
	Correct        bool   `json:"correct"`
	InsufficientOK bool   `json:"insufficient_ok"`
	Explanation    string `json:"explanation"`

	// WhatYouMissed is set only on an incorrect verdict.
	WhatYouMissed string `json:"what_you_missed,omitempty"`

	// ExpectedRange is nil exactly when the verdict is correct; there is
	// nothing to reveal on a correct answer.
	ExpectedRange *LineRange `json:"expected_range,omitempty"`
}
