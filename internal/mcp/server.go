// Package mcp exposes the puzzle pipeline as MCP tools so editor
// agents can generate and grade puzzles over stdio.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	mcp "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/server"
	"github.com/google/uuid"

	"github.com/felixgeelhaar/codeprobe/internal/domain"
	"github.com/felixgeelhaar/codeprobe/internal/puzzle"
	"github.com/felixgeelhaar/codeprobe/internal/storage"
)

// Generator produces fresh puzzles. Implemented by *puzzle.Generator.
type Generator interface {
	Generate(ctx context.Context, req puzzle.Request) (*domain.Puzzle, error)
}

// Grader judges submissions. Implemented by *grade.Grader.
type Grader interface {
	Grade(ctx context.Context, p *domain.Puzzle, sub *domain.Submission) (*domain.GradeResult, error)
}

// Server wraps the MCP server with codeprobe functionality.
type Server struct {
	mcpServer *server.Server
	generator Generator
	grader    Grader
	store     storage.Store
}

// Config contains configuration for the MCP server.
type Config struct {
	Generator Generator
	Grader    Grader
	Store     storage.Store
}

// NewServer creates a new MCP server for codeprobe.
func NewServer(cfg Config) *Server {
	s := &Server{
		generator: cfg.Generator,
		grader:    cfg.Grader,
		store:     cfg.Store,
	}

	s.mcpServer = server.New(server.Info{
		Name:    "codeprobe",
		Version: "0.1.0",
	}, server.WithInstructions(`
Codeprobe generates code-comprehension puzzles from real open-source
files and grades free-form answers against a stored answer key.

Available tools:
- codeprobe_generate: Generate a fresh puzzle (or sample a stored one)
- codeprobe_grade: Grade an answer attempt against a puzzle
- codeprobe_report: Report a broken or unfair puzzle
- codeprobe_status: Check store and pipeline status

Grading accepts either selected line ranges or an explicit
"the visible code cannot answer this" declaration, never both.
`))

	s.registerTools()

	return s
}

func (s *Server) registerTools() {
	s.mcpServer.Tool("codeprobe_generate").
		Description("Generate a fresh code-comprehension puzzle. Omit language for a random pick; pass a seed for a reproducible selection.").
		Handler(s.handleGenerate)

	s.mcpServer.Tool("codeprobe_grade").
		Description("Grade an answer attempt. Provide selected line ranges, or set insufficient_context when the visible code cannot answer the question.").
		Handler(s.handleGrade)

	s.mcpServer.Tool("codeprobe_report").
		Description("Report a broken, ambiguous, or unfair puzzle.").
		Handler(s.handleReport)

	s.mcpServer.Tool("codeprobe_status").
		Description("Get puzzle store and pipeline status.").
		Handler(s.handleStatus)
}

// Input/Output types for tools

type GenerateInput struct {
	Language string `json:"language,omitempty" jsonschema:"description=Target language (e.g. go, python); random when omitted"`
	Seed     string `json:"seed,omitempty" jsonschema:"description=Deterministic seed for reproducible selection"`
	Stored   bool   `json:"stored,omitempty" jsonschema:"description=Sample a stored puzzle instead of generating a fresh one"`
}

type GenerateOutput struct {
	PuzzleID   string `json:"puzzle_id"`
	Question   string `json:"question"`
	Code       string `json:"code"`
	Path       string `json:"path"`
	Repository string `json:"repository"`
	Language   string `json:"language"`
	TotalLines int    `json:"total_lines"`
}

type GradeInput struct {
	PuzzleID string `json:"puzzle_id" jsonschema:"description=Puzzle ID from codeprobe_generate"`
	Ranges   []struct {
		Start int `json:"start"`
		End   int `json:"end"`
	} `json:"ranges,omitempty" jsonschema:"description=Selected line ranges"`
	Explanation         string `json:"explanation,omitempty" jsonschema:"description=Optional reasoning for the selection"`
	InsufficientContext bool   `json:"insufficient_context,omitempty" jsonschema:"description=Declare that the visible code cannot answer the question"`
}

type GradeOutput struct {
	Correct        bool   `json:"correct"`
	InsufficientOK bool   `json:"insufficient_ok"`
	Explanation    string `json:"explanation"`
	WhatYouMissed  string `json:"what_you_missed,omitempty"`
	ExpectedRange  string `json:"expected_range,omitempty"`
}

type ReportInput struct {
	PuzzleID string `json:"puzzle_id" jsonschema:"description=Puzzle ID being reported"`
	Reason   string `json:"reason" jsonschema:"description=Reason code, e.g. wrong_answer, ambiguous, secret_leak"`
	Detail   string `json:"detail,omitempty" jsonschema:"description=Free-text detail"`
}

type ReportOutput struct {
	ReportID string `json:"report_id"`
	Message  string `json:"message"`
}

type StatusInput struct{}

type StatusOutput struct {
	PuzzlesStored     int  `json:"puzzles_stored"`
	GenerationEnabled bool `json:"generation_enabled"`
	GradingEnabled    bool `json:"grading_enabled"`
}

// Tool handlers

func (s *Server) handleGenerate(ctx context.Context, input GenerateInput) (GenerateOutput, error) {
	var (
		p   *domain.Puzzle
		err error
	)

	switch {
	case input.Stored:
		p, err = s.store.GetRandomPuzzle(ctx, input.Language, "")
		if err != nil {
			return GenerateOutput{}, fmt.Errorf("no stored puzzle matches: %w", err)
		}
	case s.generator == nil:
		return GenerateOutput{}, errors.New("no inference provider configured; only stored puzzles are available")
	default:
		p, err = s.generator.Generate(ctx, puzzle.Request{
			Language: input.Language,
			Seed:     input.Seed,
		})
		if err != nil {
			return GenerateOutput{}, fmt.Errorf("generation failed: %w", err)
		}
		if err := s.store.UpsertPuzzle(ctx, p); err != nil {
			return GenerateOutput{}, fmt.Errorf("failed to store puzzle: %w", err)
		}
	}

	return GenerateOutput{
		PuzzleID:   p.ID,
		Question:   p.Question,
		Code:       p.File.Content,
		Path:       p.File.Path,
		Repository: p.Source.Owner + "/" + p.Source.Repo,
		Language:   p.Language,
		TotalLines: p.TotalLines(),
	}, nil
}

func (s *Server) handleGrade(ctx context.Context, input GradeInput) (GradeOutput, error) {
	if s.grader == nil {
		return GradeOutput{}, errors.New("no inference provider configured")
	}

	sub := &domain.Submission{
		PuzzleID:            input.PuzzleID,
		Explanation:         input.Explanation,
		InsufficientContext: input.InsufficientContext,
	}
	for _, r := range input.Ranges {
		sub.Ranges = append(sub.Ranges, domain.LineRange{Start: r.Start, End: r.End})
	}

	if err := sub.Validate(); err != nil {
		return GradeOutput{}, err
	}

	p, err := s.store.GetPuzzle(ctx, sub.PuzzleID)
	if err != nil {
		return GradeOutput{}, fmt.Errorf("puzzle not found: %w", err)
	}

	result, err := s.grader.Grade(ctx, p, sub)
	if err != nil {
		return GradeOutput{}, fmt.Errorf("grading failed: %w", err)
	}

	out := GradeOutput{
		Correct:        result.Correct,
		InsufficientOK: result.InsufficientOK,
		Explanation:    result.Explanation,
		WhatYouMissed:  result.WhatYouMissed,
	}
	if result.ExpectedRange != nil {
		out.ExpectedRange = result.ExpectedRange.String()
	}
	return out, nil
}

func (s *Server) handleReport(ctx context.Context, input ReportInput) (ReportOutput, error) {
	if input.PuzzleID == "" || input.Reason == "" {
		return ReportOutput{}, errors.New("puzzle_id and reason are required")
	}

	report := &domain.Report{
		ID:        uuid.NewString(),
		PuzzleID:  input.PuzzleID,
		Reason:    input.Reason,
		Detail:    input.Detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.SaveReport(ctx, report); err != nil {
		return ReportOutput{}, fmt.Errorf("failed to save report: %w", err)
	}

	return ReportOutput{
		ReportID: report.ID,
		Message:  "Report recorded",
	}, nil
}

func (s *Server) handleStatus(ctx context.Context, input StatusInput) (StatusOutput, error) {
	count, err := s.store.CountPuzzles(ctx)
	if err != nil {
		return StatusOutput{}, fmt.Errorf("failed to count puzzles: %w", err)
	}

	return StatusOutput{
		PuzzlesStored:     count,
		GenerationEnabled: s.generator != nil,
		GradingEnabled:    s.grader != nil,
	}, nil
}

// ServeStdio starts the MCP server on stdio (for editor integration).
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcp.ServeStdio(ctx, s.mcpServer)
}

// GetMCPServer returns the underlying MCP server (for testing).
func (s *Server) GetMCPServer() *server.Server {
	return s.mcpServer
}
