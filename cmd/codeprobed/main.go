package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/felixgeelhaar/codeprobe/internal/config"
	"github.com/felixgeelhaar/codeprobe/internal/daemon"
	"github.com/felixgeelhaar/codeprobe/internal/queue"
	"github.com/felixgeelhaar/codeprobe/internal/storage"
	"github.com/felixgeelhaar/codeprobe/internal/storage/postgres"
	"github.com/felixgeelhaar/codeprobe/internal/storage/sqlite"
)

const pidFileName = "codeprobed.pid"

func main() {
	if err := run(); err != nil {
		slog.Error("daemon error", "error", err)
		os.Exit(1)
	}
}

func run() error {
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

	logLevel := parseLogLevel(cfg.Daemon.LogLevel)
	if envCfg.Debug {
		logLevel = slog.LevelDebug
	}
	logFile, err := setupLogging(dir, logLevel)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	pidPath := filepath.Join(dir, pidFileName)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx := context.Background()

	store, err := openStore(ctx, envCfg, dir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	// Env config reaches the provider and host settings too, so the
	// daemon works in server mode without a ~/.codeprobe setup.
	applyEnvOverrides(cfg, envCfg)

	serverCfg := daemon.ServerConfig{
		Config:           cfg,
		Store:            store,
		PuzzleCacheSize:  envCfg.PuzzleCacheSize,
		ContentCacheSize: envCfg.ContentCacheSize,
		ContentCacheTTL:  time.Duration(envCfg.ContentCacheTTL) * time.Minute,
	}

	var queueConn *queue.Connection
	if envCfg.RabbitMQURL != "" {
		queueConn, err = queue.NewConnection(envCfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("connect queue: %w", err)
		}
		defer queueConn.Close()
		serverCfg.Queue = queueConn
		serverCfg.QueueWorkers = envCfg.QueueWorkers
	}

	server, err := daemon.NewServer(ctx, serverCfg)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	done := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		slog.Info("received signal, shutting down", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		close(done)
	}()

	if err := server.Start(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	slog.Info("daemon stopped")
	return nil
}

// openStore picks the backend by DATABASE_URL scheme: a postgres URL
// gets pgx, everything else is a sqlite path under ~/.codeprobe/db.
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

// applyEnvOverrides lets env vars fill gaps in the yaml config, so
// containerized deployments need no config file.
func applyEnvOverrides(cfg *config.LocalConfig, envCfg *config.Config) {
	if envCfg.GitHubToken != "" {
		cfg.GitHub.Token = envCfg.GitHubToken
	}
	if envCfg.GitHubBaseURL != "" && cfg.GitHub.BaseURL == "" {
		cfg.GitHub.BaseURL = envCfg.GitHubBaseURL
	}
	if envCfg.LLMAPIKey != "" {
		if provider, ok := cfg.LLM.Providers[envCfg.LLMProvider]; ok {
			provider.Enabled = true
			provider.APIKey = envCfg.LLMAPIKey
			if envCfg.LLMModel != "" {
				provider.Model = envCfg.LLMModel
			}
			cfg.LLM.DefaultProvider = envCfg.LLMProvider
		}
	}
	if envCfg.Port != 0 && envCfg.Port != 8080 {
		cfg.Daemon.Port = envCfg.Port
	}
	if envCfg.MaxCandidates > 0 {
		cfg.Generation.MaxCandidates = envCfg.MaxCandidates
	}
	if envCfg.MaxCallsPerCandidate > 0 {
		cfg.Generation.MaxCallsPerCandidate = envCfg.MaxCallsPerCandidate
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogging(dir string, level slog.Level) (*os.File, error) {
	logPath := filepath.Join(dir, "logs", "codeprobed.log")

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	// JSON to the file, text to stderr for foreground mode.
	multi := &multiHandler{
		handlers: []slog.Handler{
			slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: level}),
			slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
		},
	}

	slog.SetDefault(slog.New(multi))

	return logFile, nil
}

func writePIDFile(path string) error {
	pid := os.Getpid()
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", pid)), 0644)
}

// multiHandler logs to multiple handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}
