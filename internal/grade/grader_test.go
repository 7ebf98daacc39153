package grade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/felixgeelhaar/codeprobe/internal/domain"
	"github.com/felixgeelhaar/codeprobe/internal/llm"
)

type fakeInference struct {
	response string
	err      error
	calls    int
	lastReq  *llm.Request
}

func (f *fakeInference) Generate(_ context.Context, req *llm.Request) (*llm.Response, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: f.response}, nil
}

func testPuzzle() *domain.Puzzle {
	return &domain.Puzzle{
		ID:       "octocat|hello|pkg/a.go|abc123",
		Question: "What does fn return?",
		Answer: domain.AnswerKey{
			StartLine:      4,
			EndLine:        7,
			InsufficientOK: false,
			Answer:         "42",
		},
		Rubric:   "Correct answer: 42. Grade by exact match or rubric in explanation.",
		Language: "go",
		Category: "go",
	}
}

func rangeSubmission() *domain.Submission {
	return &domain.Submission{
		PuzzleID: "octocat|hello|pkg/a.go|abc123",
		Ranges:   []domain.LineRange{{Start: 4, End: 6}, {Start: 9, End: 9}},
	}
}

func TestGradeCorrectRange(t *testing.T) {
	inf := &fakeInference{response: `{"correct": true, "explanation": "spot on"}`}
	g := New(inf, nil)

	res, err := g.Grade(context.Background(), testPuzzle(), rangeSubmission())
	if err != nil {
		t.Fatalf("Grade() error = %v", err)
	}
	if !res.Correct {
		t.Error("Correct = false; want true")
	}
	if res.ExpectedRange != nil {
		t.Errorf("ExpectedRange = %v; want nil on a correct verdict", res.ExpectedRange)
	}
	if res.WhatYouMissed != "" {
		t.Errorf("WhatYouMissed = %q; want empty on a correct verdict", res.WhatYouMissed)
	}
	if res.Explanation != "spot on" {
		t.Errorf("Explanation = %q", res.Explanation)
	}
}

func TestGradeIncorrectRevealsExpectedRange(t *testing.T) {
	inf := &fakeInference{response: `{"correct": false, "explanation": "wrong lines", "what_you_missed": "the accumulator"}`}
	g := New(inf, nil)

	res, err := g.Grade(context.Background(), testPuzzle(), rangeSubmission())
	if err != nil {
		t.Fatalf("Grade() error = %v", err)
	}
	if res.Correct {
		t.Error("Correct = true; want false")
	}
	if res.ExpectedRange == nil {
		t.Fatal("ExpectedRange = nil; want the recorded span on an incorrect verdict")
	}
	if res.ExpectedRange.Start != 4 || res.ExpectedRange.End != 7 {
		t.Errorf("ExpectedRange = %v; want [4, 7]", res.ExpectedRange)
	}
	if res.WhatYouMissed != "the accumulator" {
		t.Errorf("WhatYouMissed = %q", res.WhatYouMissed)
	}
}

func TestGradeInsufficientContextMode(t *testing.T) {
	tests := []struct {
		name         string
		response     string
		wantCorrect  bool
		wantRangeNil bool
	}{
		{"right to decline", `{"correct": true, "explanation": "yes", "insufficient_context_ok": true}`, true, true},
		{"wrong to decline", `{"correct": false, "explanation": "the code answers it"}`, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inf := &fakeInference{response: tt.response}
			g := New(inf, nil)

			p := testPuzzle()
			p.Answer.InsufficientOK = true
			sub := &domain.Submission{PuzzleID: p.ID, InsufficientContext: true}

			res, err := g.Grade(context.Background(), p, sub)
			if err != nil {
				t.Fatalf("Grade() error = %v", err)
			}
			if res.Correct != tt.wantCorrect {
				t.Errorf("Correct = %t; want %t", res.Correct, tt.wantCorrect)
			}
			if (res.ExpectedRange == nil) != tt.wantRangeNil {
				t.Errorf("ExpectedRange = %v; want nil iff correct", res.ExpectedRange)
			}
			if !res.InsufficientOK {
				t.Error("InsufficientOK = false; want echo of the puzzle's flag")
			}
			if !strings.Contains(inf.lastReq.Prompt, "insufficient context") {
				t.Error("prompt does not mention insufficient context")
			}
		})
	}
}

func TestGradeFlagTakesPriorityOverRanges(t *testing.T) {
	inf := &fakeInference{response: `{"correct": true, "explanation": "ok"}`}
	g := New(inf, nil)

	sub := rangeSubmission()
	sub.InsufficientContext = true

	if _, err := g.Grade(context.Background(), testPuzzle(), sub); err != nil {
		t.Fatalf("Grade() error = %v", err)
	}
	if strings.Contains(inf.lastReq.Prompt, "Selected:") {
		t.Error("prompt is in range mode; want insufficient-context mode when the flag is set")
	}
}

func TestGradeUndecodableJudgment(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"no object", "I think the answer is probably right."},
		{"missing verdict", `{"explanation": "hmm"}`},
		{"non-boolean verdict", `{"correct": "yes"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inf := &fakeInference{response: tt.response}
			g := New(inf, nil)

			res, err := g.Grade(context.Background(), testPuzzle(), rangeSubmission())
			if !errors.Is(err, domain.ErrGradingUnavailable) {
				t.Errorf("Grade() error = %v; want ErrGradingUnavailable", err)
			}
			if res != nil {
				t.Errorf("result = %+v; want nil, never an incorrect verdict", res)
			}
		})
	}
}

func TestGradeRateLimitPropagates(t *testing.T) {
	inf := &fakeInference{err: fmt.Errorf("provider: %w", domain.ErrRateLimited)}
	g := New(inf, nil)

	res, err := g.Grade(context.Background(), testPuzzle(), rangeSubmission())
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Errorf("Grade() error = %v; want ErrRateLimited so the caller can rotate", err)
	}
	if errors.Is(err, domain.ErrGradingUnavailable) {
		t.Error("rate limit must stay distinguishable from grading unavailability")
	}
	if res != nil {
		t.Errorf("result = %+v; want nil", res)
	}
}

func TestGradeUpstreamFailure(t *testing.T) {
	inf := &fakeInference{err: errors.New("connection refused")}
	g := New(inf, nil)

	_, err := g.Grade(context.Background(), testPuzzle(), rangeSubmission())
	if !errors.Is(err, domain.ErrGradingUnavailable) {
		t.Errorf("Grade() error = %v; want ErrGradingUnavailable", err)
	}
}

func TestGradeInvalidSubmissionRejected(t *testing.T) {
	inf := &fakeInference{response: `{"correct": true}`}
	g := New(inf, nil)

	sub := &domain.Submission{PuzzleID: "id"}
	if _, err := g.Grade(context.Background(), testPuzzle(), sub); !errors.Is(err, domain.ErrInvalidSubmission) {
		t.Errorf("Grade() error = %v; want ErrInvalidSubmission", err)
	}
	if inf.calls != 0 {
		t.Errorf("inference calls = %d; want 0 (validation happens before the model)", inf.calls)
	}
}

func TestGradePromptIncludesSubmission(t *testing.T) {
	inf := &fakeInference{response: `{"correct": true}`}
	g := New(inf, nil)

	sub := rangeSubmission()
	sub.Explanation = "the loop accumulates into total"

	if _, err := g.Grade(context.Background(), testPuzzle(), sub); err != nil {
		t.Fatalf("Grade() error = %v", err)
	}
	prompt := inf.lastReq.Prompt
	for _, want := range []string{"lines 4-6; line 9", "lines 4-7", "the loop accumulates into total"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
