package puzzle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/felixgeelhaar/codeprobe/internal/cache"
	"github.com/felixgeelhaar/codeprobe/internal/domain"
	"github.com/felixgeelhaar/codeprobe/internal/extract"
	"github.com/felixgeelhaar/codeprobe/internal/llm"
	"github.com/felixgeelhaar/codeprobe/internal/prompt"
	"github.com/felixgeelhaar/codeprobe/internal/sanitize"
	"github.com/felixgeelhaar/codeprobe/internal/selector"
)

const (
	genMaxTokens   = 4096
	genTemperature = 0.7

	// Repair reviews an existing artifact; it should not get creative.
	repairTemperature = 0.2
)

// Inference is the slice of the llm surface the generator needs. Both
// a single resilient provider and a rotation pool satisfy it.
type Inference interface {
	Generate(ctx context.Context, req *llm.Request) (*llm.Response, error)
}

// Host is the code-hosting surface the generator needs:
// the selector's walk plus commit resolution for identity keys.
type Host interface {
	selector.HostClient
	ResolveCommit(ctx context.Context, owner, repo, ref string) string
}

// Config bounds one generation run.
type Config struct {
	// MaxCandidates is how many distinct (repo, file) pairs to try
	// before giving up (default: 3).
	MaxCandidates int

	// MaxCallsPerCandidate is how many model calls one candidate gets
	// before the generator moves on (default: 2).
	MaxCallsPerCandidate int

	Selector selector.Config
}

// Generator runs the full pipeline: select a file, sanitize it, prompt
// the model, extract the object, assemble the puzzle.
type Generator struct {
	host         Host
	contentCache *cache.ContentCache
	inference    Inference
	cfg          Config
	logger       *slog.Logger
}

// NewGenerator creates a generator. The content cache is optional.
func NewGenerator(host Host, inference Inference, contentCache *cache.ContentCache, cfg Config, logger *slog.Logger) *Generator {
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 3
	}
	if cfg.MaxCallsPerCandidate <= 0 {
		cfg.MaxCallsPerCandidate = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		host:         host,
		contentCache: contentCache,
		inference:    inference,
		cfg:          cfg,
		logger:       logger,
	}
}

// Request asks for one fresh puzzle. An empty Language picks one at
// random; a non-empty Seed makes every random choice in the selection
// path reproducible.
type Request struct {
	Language string
	Seed     string
}

// Generate tries up to MaxCandidates files, each with up to
// MaxCallsPerCandidate model calls, and returns the first puzzle that
// assembles. Rate limits propagate so the caller can rotate or back
// off; every other upstream failure advances the walk. Exhausting the
// budget yields ErrNoPuzzleProduced.
func (g *Generator) Generate(ctx context.Context, req Request) (*domain.Puzzle, error) {
	rng := selector.NewTimeRand()
	if req.Seed != "" {
		rng = selector.NewRand(req.Seed)
	}

	language := strings.ToLower(req.Language)
	if language == "" {
		langs := selector.Languages()
		language = langs[rng.Intn(len(langs))]
	}

	sel := selector.New(g.host, g.contentCache, rng, g.cfg.Selector)
	exclude := make(map[string]bool)

	for attempt := 0; attempt < g.cfg.MaxCandidates; attempt++ {
		cand, err := sel.Pick(ctx, language, exclude)
		if err != nil {
			if errors.Is(err, domain.ErrRateLimited) {
				return nil, err
			}
			if errors.Is(err, domain.ErrNoCandidate) {
				break
			}
			return nil, fmt.Errorf("select candidate: %w", err)
		}
		exclude[cand.Key()] = true

		p, err := g.generateFromCandidate(ctx, cand, language)
		if err != nil {
			if errors.Is(err, domain.ErrRateLimited) {
				return nil, err
			}
			g.logger.Warn("candidate produced no puzzle",
				"repo", cand.Repo.FullName,
				"path", cand.Path,
				"error", err)
			continue
		}
		return p, nil
	}

	return nil, domain.ErrNoPuzzleProduced
}

func (g *Generator) generateFromCandidate(ctx context.Context, cand *selector.Candidate, language string) (*domain.Puzzle, error) {
	clean := sanitize.Clean(cand.Content)
	totalLines := countLines(clean)
	userPrompt := prompt.Generation(prompt.NumberLines(clean), language, totalLines)

	commit := g.host.ResolveCommit(ctx, cand.Repo.Owner, cand.Repo.Name, cand.Repo.DefaultBranch)
	meta := SourceMeta{
		Source: domain.Source{
			Owner:         cand.Repo.Owner,
			Repo:          cand.Repo.Name,
			DefaultBranch: cand.Repo.DefaultBranch,
			LicenseURL:    cand.Repo.LicenseURL,
		},
		Path:     cand.Path,
		Commit:   commit,
		Language: language,
		Content:  clean,
		Size:     len(clean),
	}

	var lastErr error
	for call := 0; call < g.cfg.MaxCallsPerCandidate; call++ {
		resp, err := g.inference.Generate(ctx, &llm.Request{
			System:      prompt.GenerationSystem,
			Prompt:      userPrompt,
			MaxTokens:   genMaxTokens,
			Temperature: genTemperature,
			JSONMode:    true,
		})
		if err != nil {
			if errors.Is(err, domain.ErrRateLimited) {
				return nil, err
			}
			return nil, fmt.Errorf("inference: %w", err)
		}

		obj := extract.Object(resp.Content)
		if obj == nil {
			lastErr = fmt.Errorf("call %d: %w", call+1, domain.ErrMalformedOutput)
			g.logger.Debug("model output did not parse", "call", call+1, "path", cand.Path)
			continue
		}

		p, err := Assemble(obj, totalLines, meta, g.logger)
		if err != nil {
			lastErr = fmt.Errorf("call %d: %w", call+1, err)
			g.logger.Debug("assembly rejected model output", "call", call+1, "error", err)
			continue
		}
		return p, nil
	}

	if lastErr == nil {
		lastErr = domain.ErrMalformedOutput
	}
	return nil, lastErr
}

// Repair runs the review pass over an existing puzzle. It returns the
// puzzle to keep and whether it was changed. An approval leaves the
// record untouched; a corrected object replaces question, answer key,
// explanation and rubric wholesale while identity and creation time
// survive.
func (g *Generator) Repair(ctx context.Context, p *domain.Puzzle) (*domain.Puzzle, bool, error) {
	totalLines := p.TotalLines()
	puzzleJSON, err := json.Marshal(repairView(p))
	if err != nil {
		return nil, false, fmt.Errorf("marshal puzzle: %w", err)
	}

	resp, err := g.inference.Generate(ctx, &llm.Request{
		System:      prompt.RepairSystem,
		Prompt:      prompt.Repair(string(puzzleJSON), prompt.NumberLines(p.File.Content), totalLines),
		MaxTokens:   genMaxTokens,
		Temperature: repairTemperature,
		JSONMode:    true,
	})
	if err != nil {
		if errors.Is(err, domain.ErrRateLimited) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("inference: %w", err)
	}

	obj := extract.Object(resp.Content)
	if obj == nil {
		return nil, false, fmt.Errorf("repair response: %w", domain.ErrMalformedOutput)
	}

	if extract.BoolField(obj, "approved") {
		return p, false, nil
	}

	meta := SourceMeta{
		Source:   p.Source,
		Path:     p.File.Path,
		Commit:   p.Commit,
		Language: p.Language,
		Content:  p.File.Content,
		Size:     p.File.Size,
	}
	repaired, err := Assemble(obj, totalLines, meta, g.logger)
	if err != nil {
		return nil, false, fmt.Errorf("assemble repaired puzzle: %w", err)
	}
	repaired.CreatedAt = p.CreatedAt
	return repaired, true, nil
}

// repairView renders a puzzle in the same shape the generation
// template asks for, so the reviewer sees what the generator emitted.
func repairView(p *domain.Puzzle) map[string]any {
	return map[string]any{
		"question":                p.Question,
		"task_type":               p.Answer.TaskType,
		"start_line":              p.Answer.StartLine,
		"end_line":                p.Answer.EndLine,
		"answer":                  p.Answer.Answer,
		"choices":                 p.Answer.Choices,
		"given":                   p.Answer.Given,
		"explanation":             p.Explanation,
		"rubric":                  p.Rubric,
		"common_mistakes":         p.Answer.CommonMistakes,
		"insufficient_context_ok": p.Answer.InsufficientOK,
	}
}

func countLines(content string) int {
	if content == "" {
		return 0
	}
	return strings.Count(content, "\n") + 1
}
