// Package grade judges submissions against a puzzle's answer key with
// one model call, normalizing the judgment into a fixed result shape.
package grade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/codeprobe/internal/domain"
	"github.com/felixgeelhaar/codeprobe/internal/extract"
	"github.com/felixgeelhaar/codeprobe/internal/llm"
)

const (
	gradeMaxTokens   = 1024
	gradeTemperature = 0.0
)

// judgmentSystem is the system prompt for both grading modes. Both
// modes share one judgment shape so the result never depends on which
// prompt produced it.
const judgmentSystem = `You grade answers to code-comprehension puzzles.
You always return exactly one JSON object and nothing else: no prose, no markdown fences.
The object has this shape:
{"correct": true, "explanation": "....", "what_you_missed": "only when incorrect", "insufficient_context_ok": false}`

// Inference is the slice of the llm surface the grader needs.
type Inference interface {
	Generate(ctx context.Context, req *llm.Request) (*llm.Response, error)
}

// Grader asks a model to judge a submission against the recorded
// answer key and rubric.
type Grader struct {
	inference Inference
	logger    *slog.Logger
}

// New creates a grader.
func New(inference Inference, logger *slog.Logger) *Grader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Grader{inference: inference, logger: logger}
}

// Grade judges one submission. The insufficient-context flag selects
// the grading mode and takes priority over any selected ranges. A
// judgment that cannot be decoded yields ErrGradingUnavailable, never
// an incorrect verdict; rate limits propagate so the caller can rotate
// providers and retry the same submission.
func (g *Grader) Grade(ctx context.Context, p *domain.Puzzle, sub *domain.Submission) (*domain.GradeResult, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	var userPrompt string
	if sub.InsufficientContext {
		userPrompt = insufficientPrompt(p)
	} else {
		userPrompt = rangePrompt(p, sub)
	}

	resp, err := g.inference.Generate(ctx, &llm.Request{
		System:      judgmentSystem,
		Prompt:      userPrompt,
		MaxTokens:   gradeMaxTokens,
		Temperature: gradeTemperature,
		JSONMode:    true,
	})
	if err != nil {
		if errors.Is(err, domain.ErrRateLimited) {
			return nil, err
		}
		return nil, fmt.Errorf("judgment call failed: %w", domain.ErrGradingUnavailable)
	}

	j, ok := decodeJudgment(resp.Content)
	if !ok {
		g.logger.Warn("judgment did not decode", "puzzle", p.ID)
		return nil, fmt.Errorf("judgment did not decode: %w", domain.ErrGradingUnavailable)
	}

	return resultFromJudgment(p, j), nil
}

// judgment is the one decoded shape both grading modes share.
type judgment struct {
	correct        bool
	explanation    string
	whatYouMissed  string
	insufficientOK bool
}

// decodeJudgment extracts the judgment from free-form model output.
// A missing or non-boolean verdict field fails the decode; everything
// else is optional.
func decodeJudgment(raw string) (*judgment, bool) {
	obj := extract.Object(raw)
	if obj == nil {
		return nil, false
	}
	v, ok := extract.Field(obj, "correct")
	if !ok {
		return nil, false
	}
	correct, ok := v.(bool)
	if !ok {
		return nil, false
	}
	return &judgment{
		correct:        correct,
		explanation:    extract.StringField(obj, "explanation"),
		whatYouMissed:  extract.StringField(obj, "what_you_missed"),
		insufficientOK: extract.BoolField(obj, "insufficient_context_ok"),
	}, true
}

// resultFromJudgment normalizes a judgment into the result shape.
// The expected range is revealed exactly when the verdict is
// incorrect.
func resultFromJudgment(p *domain.Puzzle, j *judgment) *domain.GradeResult {
	res := &domain.GradeResult{
		Correct:        j.correct,
		InsufficientOK: p.Answer.InsufficientOK,
		Explanation:    j.explanation,
	}
	if !j.correct {
		res.WhatYouMissed = j.whatYouMissed
		span := p.Answer.Span()
		res.ExpectedRange = &span
	}
	return res
}

func insufficientPrompt(p *domain.Puzzle) string {
	return fmt.Sprintf(`A learner declined to answer this puzzle, declaring that the visible code gives insufficient context.

Question: %s
Rubric: %s
Declining is recorded as a valid response for this puzzle: %t

Judge whether declining was the right call. Set "insufficient_context_ok" to your own reading of whether the code really is insufficient.`,
		p.Question, p.Rubric, p.Answer.InsufficientOK)
}

func rangePrompt(p *domain.Puzzle, sub *domain.Submission) string {
	expected := p.Answer.Span()
	prompt := fmt.Sprintf(`A learner answered this puzzle by selecting lines of the code.

Question: %s
Expected span: %s
Rubric: %s
Selected: %s

Multiple disjoint selected ranges are acceptable if they jointly answer the question. Overlap with the expected span, not exact equality, is enough for credit at your discretion.`,
		p.Question, expected.String(), p.Rubric, sub.RenderRanges())
	if sub.Explanation != "" {
		prompt += fmt.Sprintf("\n\nThe learner also explained their answer:\n%s", sub.Explanation)
	}
	return prompt
}
