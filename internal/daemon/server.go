package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/felixgeelhaar/codeprobe/internal/cache"
	"github.com/felixgeelhaar/codeprobe/internal/config"
	"github.com/felixgeelhaar/codeprobe/internal/domain"
	"github.com/felixgeelhaar/codeprobe/internal/githost"
	"github.com/felixgeelhaar/codeprobe/internal/grade"
	"github.com/felixgeelhaar/codeprobe/internal/llm"
	"github.com/felixgeelhaar/codeprobe/internal/puzzle"
	"github.com/felixgeelhaar/codeprobe/internal/queue"
	"github.com/felixgeelhaar/codeprobe/internal/selector"
	"github.com/felixgeelhaar/codeprobe/internal/storage"
	"github.com/google/uuid"
)

const version = "0.1.0"

// generator produces fresh puzzles. Implemented by *puzzle.Generator.
type generator interface {
	Generate(ctx context.Context, req puzzle.Request) (*domain.Puzzle, error)
}

// grader judges submissions. Implemented by *grade.Grader.
type grader interface {
	Grade(ctx context.Context, p *domain.Puzzle, sub *domain.Submission) (*domain.GradeResult, error)
}

// Server is the codeprobe daemon HTTP server.
type Server struct {
	cfg    *config.LocalConfig
	server *http.Server
	router *http.ServeMux

	llmRegistry *llm.Registry
	store       storage.Store
	generator   generator
	grader      grader
	puzzles     *cache.PuzzleCache
	consumer    *queue.Consumer
}

// ServerConfig holds configuration for creating a new server.
type ServerConfig struct {
	Config *config.LocalConfig

	// Store is constructed by the caller; the daemon does not own the
	// sqlite-vs-postgres decision.
	Store storage.Store

	// Queue, when set, makes the daemon consume generation jobs
	// alongside serving HTTP.
	Queue        *queue.Connection
	QueueWorkers int

	// Cache tuning; zero values pick the defaults (512 puzzles,
	// 256 contents for 15 minutes).
	PuzzleCacheSize  int
	ContentCacheSize int
	ContentCacheTTL  time.Duration
}

// NewServer creates a new daemon server.
func NewServer(ctx context.Context, cfg ServerConfig) (*Server, error) {
	if cfg.PuzzleCacheSize <= 0 {
		cfg.PuzzleCacheSize = 512
	}
	if cfg.ContentCacheSize <= 0 {
		cfg.ContentCacheSize = 256
	}
	if cfg.ContentCacheTTL <= 0 {
		cfg.ContentCacheTTL = 15 * time.Minute
	}

	s := &Server{
		cfg:     cfg.Config,
		store:   cfg.Store,
		router:  http.NewServeMux(),
		puzzles: cache.NewPuzzleCache(cfg.PuzzleCacheSize),
	}

	registry := llm.NewRegistry()
	if err := s.setupLLMProviders(registry); err != nil {
		return nil, fmt.Errorf("setup llm providers: %w", err)
	}
	s.llmRegistry = registry

	// Generation and grading need an inference provider; without one the
	// daemon still serves stored puzzles.
	if provider, err := s.resolveProvider(registry); err != nil {
		slog.Warn("no inference provider available, generation and grading disabled", "error", err)
	} else {
		host := githost.NewClient(githost.Config{
			BaseURL: cfg.Config.GitHub.BaseURL,
			Token:   cfg.Config.GitHub.Token,
		})
		contentCache := cache.NewContentCache(cfg.ContentCacheTTL, cfg.ContentCacheSize)
		s.generator = puzzle.NewGenerator(host, provider, contentCache, puzzle.Config{
			MaxCandidates:        cfg.Config.Generation.MaxCandidates,
			MaxCallsPerCandidate: cfg.Config.Generation.MaxCallsPerCandidate,
			Selector:             selector.DefaultConfig(),
		}, slog.Default())
		s.grader = grade.New(provider, slog.Default())
	}

	if cfg.Queue != nil {
		if s.generator == nil {
			slog.Warn("queue connection provided but generation is disabled, not starting workers")
		} else {
			qcfg := queue.DefaultConsumerConfig()
			if cfg.QueueWorkers > 0 {
				qcfg.Workers = cfg.QueueWorkers
			}
			if cooldown := cfg.Config.Generation.CooldownSeconds; cooldown > 0 {
				qcfg.Cooldown = time.Duration(cooldown) * time.Second
			}
			s.consumer = queue.NewConsumer(cfg.Queue, s.handleGenerateJob, qcfg)
		}
	}

	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Config.Daemon.Bind, cfg.Config.Daemon.Port)
	handler := recoveryMiddleware(correlationIDMiddleware(loggingMiddleware(s.router)))
	s.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // model calls are slow
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// setupLLMProviders registers every configured provider, each wrapped
// with the resilience stack.
func (s *Server) setupLLMProviders(registry *llm.Registry) error {
	for name, providerCfg := range s.cfg.LLM.Providers {
		if !providerCfg.Enabled {
			continue
		}

		var provider llm.Provider
		switch name {
		case "claude":
			if providerCfg.APIKey == "" {
				slog.Debug("Claude provider enabled but no API key set")
				continue
			}
			provider = llm.NewClaudeProvider(llm.ClaudeConfig{
				APIKey: providerCfg.APIKey,
				Model:  providerCfg.Model,
			})

		case "openai":
			if providerCfg.APIKey == "" {
				slog.Debug("OpenAI provider enabled but no API key set")
				continue
			}
			provider = llm.NewOpenAIProvider(llm.OpenAIConfig{
				APIKey: providerCfg.APIKey,
				Model:  providerCfg.Model,
			})

		case "gemini":
			if providerCfg.APIKey == "" {
				slog.Debug("Gemini provider enabled but no API key set")
				continue
			}
			provider = llm.NewGeminiProvider(llm.GeminiConfig{
				APIKey: providerCfg.APIKey,
				Model:  providerCfg.Model,
			})

		case "ollama":
			provider = llm.NewOllamaProvider(llm.OllamaConfig{
				BaseURL: providerCfg.URL,
				Model:   providerCfg.Model,
			})

		default:
			slog.Warn("unknown LLM provider in config", "name", name)
			continue
		}

		cfg := llm.DefaultResilientConfig()
		cfg.Logger = slog.Default()
		registry.Register(name, llm.NewResilientProvider(provider, cfg))
		slog.Info("registered LLM provider", "name", name, "model", providerCfg.Model)
	}

	return nil
}

func (s *Server) resolveProvider(registry *llm.Registry) (llm.Provider, error) {
	name := s.cfg.LLM.DefaultProvider
	if name == "" || name == "auto" {
		return registry.Default()
	}
	return registry.Get(name)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// Health & status
	s.router.HandleFunc("GET /v1/health", s.handleHealth)
	s.router.HandleFunc("GET /v1/status", s.handleStatus)

	// Config
	s.router.HandleFunc("GET /v1/config", s.handleGetConfig)
	s.router.HandleFunc("GET /v1/config/providers", s.handleListProviders)

	// Puzzles. Identity keys contain "|" and "/", hence the {id...}
	// wildcard on the keyed routes.
	s.router.HandleFunc("POST /v1/puzzles", s.handleGeneratePuzzle)
	s.router.HandleFunc("GET /v1/puzzles", s.handleListPuzzles)
	s.router.HandleFunc("GET /v1/puzzles/random", s.handleRandomPuzzle)
	s.router.HandleFunc("GET /v1/puzzles/{id...}", s.handleGetPuzzle)
	s.router.HandleFunc("DELETE /v1/puzzles/{id...}", s.handleDeletePuzzle)

	// Grading & reports
	s.router.HandleFunc("POST /v1/grade", s.handleGrade)
	s.router.HandleFunc("POST /v1/reports", s.handleCreateReport)
}

// Start starts the HTTP server and, when wired, the queue workers.
func (s *Server) Start() error {
	if s.consumer != nil {
		if err := s.consumer.Start(context.Background()); err != nil {
			return fmt.Errorf("start queue consumer: %w", err)
		}
	}

	slog.Info("starting codeprobe daemon",
		"addr", s.server.Addr,
		"llm_providers", s.llmRegistry.List(),
	)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server. The store is owned and
// closed by the caller.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down daemon...")

	if s.consumer != nil {
		s.consumer.Stop()
	}

	return s.server.Shutdown(ctx)
}

// handleGenerateJob runs one queued generation job through the same
// pipeline the HTTP surface uses.
func (s *Server) handleGenerateJob(ctx context.Context, job *queue.GenerateJob) (*queue.GenerateResult, error) {
	p, err := s.generator.Generate(ctx, puzzle.Request{
		Language: job.Language,
		Seed:     job.Seed,
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.UpsertPuzzle(ctx, p); err != nil {
		return nil, fmt.Errorf("store puzzle: %w", err)
	}
	s.puzzles.Put(p)

	return &queue.GenerateResult{PuzzleID: p.ID}, nil
}

// Handler implementations

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.CountPuzzles(r.Context())
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, "failed to count puzzles", err)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":         "running",
		"version":        version,
		"llm_providers":  s.llmRegistry.List(),
		"puzzles_stored": count,
		"puzzles_cached": s.puzzles.Len(),
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	// Secrets never leave the process; providers are summarized by the
	// dedicated endpoint.
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"daemon":           s.cfg.Daemon,
		"generation":       s.cfg.Generation,
		"default_provider": s.cfg.LLM.DefaultProvider,
	})
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers := make([]map[string]any, 0)
	for name, cfg := range s.cfg.LLM.Providers {
		providers = append(providers, map[string]any{
			"name":       name,
			"enabled":    cfg.Enabled,
			"model":      cfg.Model,
			"configured": cfg.APIKey != "" || name == "ollama",
		})
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"default":   s.cfg.LLM.DefaultProvider,
		"providers": providers,
	})
}

func (s *Server) handleGeneratePuzzle(w http.ResponseWriter, r *http.Request) {
	if s.generator == nil {
		s.jsonError(w, http.StatusServiceUnavailable, "no inference provider configured", nil)
		return
	}

	var req struct {
		Language string `json:"language,omitempty"`
		Seed     string `json:"seed,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.jsonError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	p, err := s.generator.Generate(r.Context(), puzzle.Request{
		Language: req.Language,
		Seed:     req.Seed,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			s.jsonError(w, http.StatusBadRequest, "invalid generation request", err)
		case errors.Is(err, domain.ErrRateLimited):
			s.jsonError(w, http.StatusTooManyRequests, "upstream rate limited", err)
		case errors.Is(err, domain.ErrNoPuzzleProduced):
			s.jsonError(w, http.StatusBadGateway, "generation budget exhausted", err)
		default:
			s.jsonError(w, http.StatusInternalServerError, "generation failed", err)
		}
		return
	}

	if err := s.store.UpsertPuzzle(r.Context(), p); err != nil {
		s.jsonError(w, http.StatusInternalServerError, "failed to store puzzle", err)
		return
	}
	s.puzzles.Put(p)

	s.jsonResponse(w, http.StatusCreated, puzzleView(p))
}

func (s *Server) handleListPuzzles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := queryInt(q.Get("limit"), 20)
	offset := queryInt(q.Get("offset"), 0)

	puzzles, err := s.store.ListPuzzles(r.Context(), q.Get("language"), q.Get("category"), limit, offset)
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, "failed to list puzzles", err)
		return
	}

	result := make([]map[string]any, 0, len(puzzles))
	for _, p := range puzzles {
		result = append(result, map[string]any{
			"id":         p.ID,
			"question":   p.Question,
			"language":   p.Language,
			"category":   p.Category,
			"path":       p.File.Path,
			"created_at": p.CreatedAt,
		})
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"puzzles": result,
	})
}

func (s *Server) handleRandomPuzzle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, err := s.store.GetRandomPuzzle(r.Context(), q.Get("language"), q.Get("category"))
	if err != nil {
		if errors.Is(err, domain.ErrPuzzleNotFound) {
			s.jsonError(w, http.StatusNotFound, "no puzzle matches the filters", nil)
			return
		}
		s.jsonError(w, http.StatusInternalServerError, "failed to sample puzzle", err)
		return
	}

	s.puzzles.Put(p)
	s.jsonResponse(w, http.StatusOK, puzzleView(p))
}

func (s *Server) handleGetPuzzle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		s.jsonError(w, http.StatusBadRequest, "puzzle id is required", nil)
		return
	}

	p, err := s.lookupPuzzle(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrPuzzleNotFound) {
			s.jsonError(w, http.StatusNotFound, "puzzle not found", nil)
			return
		}
		s.jsonError(w, http.StatusInternalServerError, "failed to load puzzle", err)
		return
	}

	s.jsonResponse(w, http.StatusOK, puzzleView(p))
}

func (s *Server) handleDeletePuzzle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		s.jsonError(w, http.StatusBadRequest, "puzzle id is required", nil)
		return
	}

	if err := s.store.DeletePuzzle(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrPuzzleNotFound) {
			s.jsonError(w, http.StatusNotFound, "puzzle not found", nil)
			return
		}
		s.jsonError(w, http.StatusInternalServerError, "failed to delete puzzle", err)
		return
	}
	s.puzzles.Remove(id)

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"deleted": true,
		"id":      id,
	})
}

func (s *Server) handleGrade(w http.ResponseWriter, r *http.Request) {
	if s.grader == nil {
		s.jsonError(w, http.StatusServiceUnavailable, "no inference provider configured", nil)
		return
	}

	var sub domain.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	// Reject malformed submissions at the boundary, before any lookup
	// or model call.
	if err := sub.Validate(); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid submission", err)
		return
	}

	p, err := s.lookupPuzzle(r.Context(), sub.PuzzleID)
	if err != nil {
		if errors.Is(err, domain.ErrPuzzleNotFound) {
			s.jsonError(w, http.StatusNotFound, "puzzle not found", nil)
			return
		}
		s.jsonError(w, http.StatusInternalServerError, "failed to load puzzle", err)
		return
	}

	result, err := s.grader.Grade(r.Context(), p, &sub)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidSubmission):
			s.jsonError(w, http.StatusBadRequest, "invalid submission", err)
		case errors.Is(err, domain.ErrRateLimited):
			s.jsonError(w, http.StatusTooManyRequests, "upstream rate limited", err)
		case errors.Is(err, domain.ErrGradingUnavailable):
			s.jsonError(w, http.StatusServiceUnavailable, "grading unavailable, submission not judged", err)
		default:
			s.jsonError(w, http.StatusInternalServerError, "grading failed", err)
		}
		return
	}

	s.jsonResponse(w, http.StatusOK, result)
}

func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PuzzleID string `json:"puzzle_id"`
		Reason   string `json:"reason"`
		Detail   string `json:"detail,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.PuzzleID == "" || req.Reason == "" {
		s.jsonError(w, http.StatusBadRequest, "puzzle_id and reason are required", nil)
		return
	}

	// Reports outlive the puzzle record, so the puzzle id is not
	// checked against the store.
	report := &domain.Report{
		ID:        uuid.NewString(),
		PuzzleID:  req.PuzzleID,
		Reason:    req.Reason,
		Detail:    req.Detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.SaveReport(r.Context(), report); err != nil {
		s.jsonError(w, http.StatusInternalServerError, "failed to save report", err)
		return
	}

	s.jsonResponse(w, http.StatusCreated, map[string]any{
		"id":         report.ID,
		"created_at": report.CreatedAt,
	})
}

// lookupPuzzle checks the cache before the store and refills the cache
// on a store hit.
func (s *Server) lookupPuzzle(ctx context.Context, id string) (*domain.Puzzle, error) {
	if p, ok := s.puzzles.Get(id); ok {
		return p, nil
	}
	p, err := s.store.GetPuzzle(ctx, id)
	if err != nil {
		return nil, err
	}
	s.puzzles.Put(p)
	return p, nil
}

// puzzleView is the learner-facing rendering of a puzzle. The answer
// key, explanation, and rubric stay server-side.
func puzzleView(p *domain.Puzzle) map[string]any {
	return map[string]any{
		"id":          p.ID,
		"question":    p.Question,
		"source":      p.Source,
		"commit":      p.Commit,
		"file":        p.File,
		"total_lines": p.TotalLines(),
		"language":    p.Language,
		"category":    p.Category,
		"created_at":  p.CreatedAt,
	}
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (s *Server) jsonError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]any{
		"error":  message,
		"status": status,
	}
	if err != nil {
		// Server-side faults stay in the logs; the client only gets the
		// stable message.
		if status >= 500 {
			slog.Error(message, "status", status, "error", err)
		} else {
			response["details"] = err.Error()
		}
	}
	s.jsonResponse(w, status, response)
}
