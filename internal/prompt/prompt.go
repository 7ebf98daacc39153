// Package prompt renders the fixed instruction templates for puzzle
// generation and repair. Pure functions: snippet in, model input out.
package prompt

import (
	"fmt"
	"strings"
)

// GenerationSystem is the system prompt for puzzle generation.
const GenerationSystem = `You are an expert code reader who writes code-comprehension puzzles.
You always return exactly one JSON object and nothing else: no prose, no markdown fences.`

// RepairSystem is the system prompt for the repair/review pass.
const RepairSystem = `You are a strict reviewer of code-comprehension puzzles.
You always return exactly one JSON object and nothing else: no prose, no markdown fences.`

// taskCatalog enumerates the closed set of task archetypes, in the
// order they are presented to the model.
const taskCatalog = `- "trace_value": trace execution to a concrete value, given concrete inputs
- "invariant": state an invariant that holds at a marked point
- "root_cause": find the root cause of a described failure
- "change_impact": predict the impact of a hypothetical change
- "bug_input": find an input that exposes a bug`

// Generation renders the puzzle-generation prompt for a numbered
// snippet. totalLines bounds the line-span fields the model may emit;
// the bound is advisory here and enforced mechanically by the
// assembler.
func Generation(snippet, language string, totalLines int) string {
	return fmt.Sprintf(`Write one code-comprehension puzzle about the %s code below.

Hard constraints:
1. The question must be answerable from the visible code alone. No outside knowledge of the project.
2. There must be exactly one deterministic correct answer.
3. Answering must require reasoning across at least two distinct lines or expressions.
4. Pick exactly one task type from this list:
%s
5. "start_line" and "end_line" are one-based, inclusive, and must lie within 1..%d. They mark the lines a reader must understand to answer.
6. Output exactly one JSON object with this shape and no other text:

{
  "question": "....",
  "task_type": "trace_value",
  "start_line": 1,
  "end_line": 2,
  "answer": "the exact expected answer",
  "choices": ["optional", "multiple", "choice", "options"],
  "given": {"optional concrete inputs": "used by the question"},
  "explanation": "why the answer is correct, referencing the lines",
  "rubric": "optional guidance for grading free-form answers",
  "common_mistakes": ["optional likely wrong answers"],
  "insufficient_context_ok": false
}

7. Set "insufficient_context_ok" true only when declining to answer would be a defensible response to the question.

Code (%d lines, numbered):
%s`, language, taskCatalog, totalLines, totalLines, snippet)
}

// Repair renders the review prompt for a previously generated puzzle.
// The model must either approve the artifact unchanged or emit a full
// corrected replacement object.
func Repair(puzzleJSON, snippet string, totalLines int) string {
	return fmt.Sprintf(`Review this code-comprehension puzzle against its code.

Checklist (the puzzle fails if any criterion fails):
1. Answerability: solvable from the visible code alone.
2. Determinism: exactly one defensible correct answer.
3. Completeness: every identifier the question references appears in the code.
4. Depth: the reasoning spans at least two distinct lines or expressions.
5. Clarity: the question is unambiguous and the explanation matches the answer.

If every criterion passes, return exactly: {"approved": true}
Otherwise return a full corrected puzzle object (same shape as the original, "start_line"/"end_line" within 1..%d) with "approved": false added.
Return exactly one JSON object and no other text.

Puzzle:
%s

Code (%d lines, numbered):
%s`, totalLines, puzzleJSON, totalLines, snippet)
}

// NumberLines prefixes each line of content with its one-based line
// number, the form every template expects.
func NumberLines(content string) string {
	lines := strings.Split(content, "\n")
	var b strings.Builder
	b.Grow(len(content) + len(lines)*6)
	for i, line := range lines {
		fmt.Fprintf(&b, "%4d | %s\n", i+1, line)
	}
	return b.String()
}
