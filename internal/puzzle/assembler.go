// Package puzzle assembles parsed model output into persisted puzzle
// artifacts and orchestrates the generation pipeline around it.
package puzzle

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/codeprobe/internal/domain"
	"github.com/felixgeelhaar/codeprobe/internal/extract"
)

// rubricTemplate builds the grading rubric when the model supplied an
// exact expected answer.
const rubricTemplate = "Correct answer: %s. Grade by exact match or rubric in explanation."

// SourceMeta carries the immutable facts about where a snippet came
// from. The assembler derives identity and classification from it, not
// from anything the model said.
type SourceMeta struct {
	Source   domain.Source
	Path     string
	Commit   string
	Language string
	Content  string // sanitized
	Size     int
}

// Assemble validates a parsed model object and normalizes it into a
// puzzle. Bad line numbers are clamped, never fatal; only a missing
// question or non-integer line fields reject the object, in which case
// the caller should call the model again.
func Assemble(obj map[string]any, totalLines int, meta SourceMeta, logger *slog.Logger) (*domain.Puzzle, error) {
	if logger == nil {
		logger = slog.Default()
	}

	question := extract.StringField(obj, "question")
	if question == "" {
		return nil, fmt.Errorf("missing question: %w", domain.ErrMalformedOutput)
	}

	start, ok := extract.IntField(obj, "start_line")
	if !ok || start <= 0 {
		return nil, fmt.Errorf("start_line is not a positive integer: %w", domain.ErrMalformedOutput)
	}
	end, ok := extract.IntField(obj, "end_line")
	if !ok || end <= 0 {
		return nil, fmt.Errorf("end_line is not a positive integer: %w", domain.ErrMalformedOutput)
	}

	start = clampLine(start, totalLines)
	end = clampLine(end, totalLines)
	if start > end {
		start, end = end, start
	}

	key := domain.AnswerKey{
		StartLine:      start,
		EndLine:        end,
		InsufficientOK: extract.BoolField(obj, "insufficient_context_ok"),
		TaskType:       domain.TaskType(extract.StringField(obj, "task_type")),
		Given:          extract.MapField(obj, "given"),
		Choices:        extract.StringSliceField(obj, "choices"),
		Answer:         extract.StringField(obj, "answer"),
		CommonMistakes: extract.StringSliceField(obj, "common_mistakes"),
	}

	if key.TaskType != "" && !key.TaskType.IsKnown() {
		logger.Warn("model emitted unknown task type", "task_type", key.TaskType)
	}
	if !key.AnswerInChoices() {
		logger.Warn("answer not among choices",
			"answer", key.Answer,
			"choices", len(key.Choices))
	}

	now := time.Now().UTC()
	p := &domain.Puzzle{
		ID:     domain.IdentityKey(meta.Source.Owner, meta.Source.Repo, meta.Path, meta.Commit),
		Source: meta.Source,
		File: domain.File{
			Path:     meta.Path,
			Content:  meta.Content,
			Language: meta.Language,
			Size:     meta.Size,
		},
		Commit:      meta.Commit,
		Question:    question,
		Answer:      key,
		Explanation: extract.StringField(obj, "explanation"),
		Rubric:      buildRubric(key.Answer, extract.StringField(obj, "rubric")),
		Category:    meta.Language,
		Language:    meta.Language,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return p, nil
}

func clampLine(n, totalLines int) int {
	if n < 1 {
		return 1
	}
	if totalLines > 0 && n > totalLines {
		return totalLines
	}
	return n
}

func buildRubric(answer, modelRubric string) string {
	if answer != "" {
		return fmt.Sprintf(rubricTemplate, answer)
	}
	return modelRubric
}
