package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/felixgeelhaar/codeprobe/internal/cache"
	"github.com/felixgeelhaar/codeprobe/internal/config"
	"github.com/felixgeelhaar/codeprobe/internal/githost"
	"github.com/felixgeelhaar/codeprobe/internal/llm"
	"github.com/felixgeelhaar/codeprobe/internal/puzzle"
	"github.com/felixgeelhaar/codeprobe/internal/selector"
	"github.com/felixgeelhaar/codeprobe/internal/storage"
	"github.com/felixgeelhaar/codeprobe/internal/storage/postgres"
	"github.com/felixgeelhaar/codeprobe/internal/storage/sqlite"
)

// batchEnv bundles everything a batch command needs.
type batchEnv struct {
	cfg       *config.LocalConfig
	envCfg    *config.Config
	store     storage.Store
	generator *puzzle.Generator
	cooldown  time.Duration
}

func (e *batchEnv) close() {
	if e.store != nil {
		e.store.Close()
	}
}

// setupBatch loads config, opens the store, and wires the generation
// pipeline behind a provider rotation pool.
func setupBatch(ctx context.Context) (*batchEnv, error) {
	dir, err := config.EnsureDir()
	if err != nil {
		return nil, fmt.Errorf("ensure codeprobe dir: %w", err)
	}

	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	envCfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}

	level := slog.LevelInfo
	if envCfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	store, err := openStore(ctx, envCfg, dir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	cooldown := 60 * time.Second
	if cfg.Generation.CooldownSeconds > 0 {
		cooldown = time.Duration(cfg.Generation.CooldownSeconds) * time.Second
	}

	pool, err := buildPool(cfg, envCfg, cooldown)
	if err != nil {
		store.Close()
		return nil, err
	}

	host := githost.NewClient(githost.Config{
		BaseURL: cfg.GitHub.BaseURL,
		Token:   firstNonEmpty(cfg.GitHub.Token, envCfg.GitHubToken),
	})
	contentCache := cache.NewContentCache(15*time.Minute, 256)
	gen := puzzle.NewGenerator(host, pool, contentCache, puzzle.Config{
		MaxCandidates:        cfg.Generation.MaxCandidates,
		MaxCallsPerCandidate: cfg.Generation.MaxCallsPerCandidate,
		Selector:             selector.DefaultConfig(),
	}, slog.Default())

	return &batchEnv{
		cfg:       cfg,
		envCfg:    envCfg,
		store:     store,
		generator: gen,
		cooldown:  cooldown,
	}, nil
}

// openStore picks the backend by DATABASE_URL scheme, same as the
// daemon: postgres URL or a sqlite path under ~/.codeprobe/db.
func openStore(ctx context.Context, envCfg *config.Config, dir string) (storage.Store, error) {
	if envCfg.UsesPostgres() {
		return postgres.Connect(ctx, envCfg.DatabaseURL)
	}

	path := envCfg.DatabaseURL
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, "db", path)
	}
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return sqlite.NewStore(db), nil
}

// buildPool assembles the rotation pool. Order of precedence: the yaml
// rotation list, then LLM_POOL, then the single default provider.
func buildPool(cfg *config.LocalConfig, envCfg *config.Config, cooldown time.Duration) (*llm.Pool, error) {
	providers := make(map[string]llm.Provider)
	for name, providerCfg := range cfg.LLM.Providers {
		if !providerCfg.Enabled {
			continue
		}
		p := buildProvider(name, providerCfg)
		if p == nil {
			continue
		}
		rcfg := llm.DefaultResilientConfig()
		rcfg.Logger = slog.Default()
		providers[name] = llm.NewResilientProvider(p, rcfg)
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no LLM provider configured; run codeprobed once or set secrets.yaml")
	}

	var entries []llm.Entry
	rotation := cfg.LLM.Rotation
	if len(rotation) == 0 {
		for _, pe := range envCfg.LLMPool {
			rotation = append(rotation, pe.Provider+"/"+pe.Model)
		}
	}
	for _, raw := range rotation {
		name, model, _ := strings.Cut(raw, "/")
		p, ok := providers[name]
		if !ok {
			slog.Warn("rotation entry references unconfigured provider, skipping", "provider", name)
			continue
		}
		entries = append(entries, llm.Entry{Provider: p, Model: model})
	}

	if len(entries) == 0 {
		// No rotation configured: single-provider pool.
		name := cfg.LLM.DefaultProvider
		p, ok := providers[name]
		if !ok {
			for n, fallback := range providers {
				name, p = n, fallback
				break
			}
		}
		slog.Debug("no rotation configured, using single provider", "provider", name)
		entries = append(entries, llm.Entry{Provider: p})
	}

	return llm.NewPool(llm.PoolConfig{
		Entries:  entries,
		Cooldown: cooldown,
		Logger:   slog.Default(),
	})
}

func buildProvider(name string, cfg *config.ProviderConfig) llm.Provider {
	switch name {
	case "claude":
		if cfg.APIKey == "" {
			return nil
		}
		return llm.NewClaudeProvider(llm.ClaudeConfig{APIKey: cfg.APIKey, Model: cfg.Model})
	case "openai":
		if cfg.APIKey == "" {
			return nil
		}
		return llm.NewOpenAIProvider(llm.OpenAIConfig{APIKey: cfg.APIKey, Model: cfg.Model})
	case "gemini":
		if cfg.APIKey == "" {
			return nil
		}
		return llm.NewGeminiProvider(llm.GeminiConfig{APIKey: cfg.APIKey, Model: cfg.Model})
	case "ollama":
		return llm.NewOllamaProvider(llm.OllamaConfig{BaseURL: cfg.URL, Model: cfg.Model})
	default:
		return nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
