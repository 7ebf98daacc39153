package domain

import (
	"fmt"
	"strings"
	"time"
)

// IdentityDelimiter joins the components of a puzzle identity key.
// None of the components (GitHub owner, repo name, file path, commit SHA)
// may contain it; the selector rejects paths that do.
const IdentityDelimiter = "|"

// TaskType classifies the kind of reasoning a puzzle asks for.
// Using typed constants instead of raw strings prevents typos from
// bypassing validation downstream.
type TaskType string

const (
	// TaskTraceValue asks the learner to trace execution to a concrete value.
	TaskTraceValue TaskType = "trace_value"

	// TaskInvariant asks for an invariant that holds at a marked point.
	TaskInvariant TaskType = "invariant"

	// TaskRootCause asks for the root cause of a described failure.
	TaskRootCause TaskType = "root_cause"

	// TaskChangeImpact asks for the effect of a hypothetical change.
	TaskChangeImpact TaskType = "change_impact"

	// TaskBugInput asks for an input that exposes a bug.
	TaskBugInput TaskType = "bug_input"
)

// KnownTaskTypes lists every accepted task archetype.
var KnownTaskTypes = []TaskType{
	TaskTraceValue,
	TaskInvariant,
	TaskRootCause,
	TaskChangeImpact,
	TaskBugInput,
}

// IsKnown reports whether t is one of the accepted task archetypes.
func (t TaskType) IsKnown() bool {
	for _, k := range KnownTaskTypes {
		if t == k {
			return true
		}
	}
	return false
}

// LineRange is a one-based inclusive span of lines.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// String renders a range as "line N" or "lines N-M".
func (r LineRange) String() string {
	if r.Start == r.End {
		return fmt.Sprintf("line %d", r.Start)
	}
	return fmt.Sprintf("lines %d-%d", r.Start, r.End)
}

// Source identifies the repository a puzzle was cut from.
type Source struct {
	Owner         string `json:"owner"`
	Repo          string `json:"repo"`
	DefaultBranch string `json:"default_branch"`
	LicenseURL    string `json:"license_url,omitempty"`
}

// File is the snippet the puzzle is asked about. Content is sanitized
// before it is stored or shown.
type File struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Language string `json:"language"`
	Size     int    `json:"size"`
}

// AnswerKey is the gradeable ground truth embedded in a puzzle.
// Span is required; the task-specific payload is open-ended.
type AnswerKey struct {
	StartLine      int      `json:"start_line"`
	EndLine        int      `json:"end_line"`
	InsufficientOK bool     `json:"insufficient_ok"`
	TaskType       TaskType `json:"task_type,omitempty"`

	// Given holds concrete inputs used for deterministic evaluation
	// (e.g. the argument values a trace question assumes).
	Given map[string]any `json:"given,omitempty"`

	Choices        []string `json:"choices,omitempty"`
	Answer         string   `json:"answer,omitempty"`
	CommonMistakes []string `json:"common_mistakes,omitempty"`
}

// Span returns the expected line range of the key.
func (k AnswerKey) Span() LineRange {
	return LineRange{Start: k.StartLine, End: k.EndLine}
}

// AnswerInChoices reports whether the exact answer appears among the
// multiple-choice options. Vacuously true when either side is absent.
func (k AnswerKey) AnswerInChoices() bool {
	if k.Answer == "" || len(k.Choices) == 0 {
		return true
	}
	for _, c := range k.Choices {
		if c == k.Answer {
			return true
		}
	}
	return false
}

// Puzzle is the persisted unit of practice content.
type Puzzle struct {
	ID          string    `json:"id"`
	Source      Source    `json:"source"`
	File        File      `json:"file"`
	Commit      string    `json:"commit"`
	Question    string    `json:"question"`
	Answer      AnswerKey `json:"answer"`
	Explanation string    `json:"explanation,omitempty"`
	Rubric      string    `json:"rubric,omitempty"`
	Category    string    `json:"category"`
	Language    string    `json:"language"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IdentityKey derives the stable puzzle identity from the immutable
// source tuple. The same physical code version of the same file always
// maps to the same key.
func IdentityKey(owner, repo, path, commit string) string {
	return strings.Join([]string{owner, repo, path, commit}, IdentityDelimiter)
}

// TotalLines counts the lines of the puzzle's file content.
func (p *Puzzle) TotalLines() int {
	if p.File.Content == "" {
		return 0
	}
	return strings.Count(p.File.Content, "\n") + 1
}

// Report is a learner's complaint about a puzzle. It is stored
// independently of the puzzle record's lifecycle.
type Report struct {
	ID        string    `json:"id"`
	PuzzleID  string    `json:"puzzle_id"`
	Reason    string    `json:"reason"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
