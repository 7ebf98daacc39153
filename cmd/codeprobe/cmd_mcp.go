package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/felixgeelhaar/codeprobe/internal/cache"
	"github.com/felixgeelhaar/codeprobe/internal/config"
	"github.com/felixgeelhaar/codeprobe/internal/githost"
	"github.com/felixgeelhaar/codeprobe/internal/grade"
	mcpserver "github.com/felixgeelhaar/codeprobe/internal/mcp"
	"github.com/felixgeelhaar/codeprobe/internal/puzzle"
	"github.com/felixgeelhaar/codeprobe/internal/selector"
)

// cmdMCP starts the MCP server for editor integration. Logging goes to
// a file because stdout carries the protocol stream.
func cmdMCP() error {
	dir, err := config.EnsureDir()
	if err != nil {
		return fmt.Errorf("ensure codeprobe dir: %w", err)
	}

	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	envCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load env config: %w", err)
	}

	logFile, err := os.OpenFile(filepath.Join(dir, "logs", "mcp.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err == nil {
		defer logFile.Close()
		level := slog.LevelInfo
		if envCfg.Debug {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: level})))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, envCfg, dir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	mcpCfg := mcpserver.Config{Store: store}

	cooldown := 60 * time.Second
	if cfg.Generation.CooldownSeconds > 0 {
		cooldown = time.Duration(cfg.Generation.CooldownSeconds) * time.Second
	}
	pool, err := buildPool(cfg, envCfg, cooldown)
	if err != nil {
		// Stored puzzles still serve without a provider; generation and
		// grading tools report their absence per call.
		slog.Warn("no inference provider, serving stored puzzles only", "error", err)
	} else {
		host := githost.NewClient(githost.Config{
			BaseURL: cfg.GitHub.BaseURL,
			Token:   firstNonEmpty(cfg.GitHub.Token, envCfg.GitHubToken),
		})
		contentCache := cache.NewContentCache(15*time.Minute, 256)
		mcpCfg.Generator = puzzle.NewGenerator(host, pool, contentCache, puzzle.Config{
			MaxCandidates:        cfg.Generation.MaxCandidates,
			MaxCallsPerCandidate: cfg.Generation.MaxCallsPerCandidate,
			Selector:             selector.DefaultConfig(),
		}, slog.Default())
		mcpCfg.Grader = grade.New(pool, slog.Default())
	}

	mcpSrv := mcpserver.NewServer(mcpCfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return mcpSrv.ServeStdio(ctx)
}
