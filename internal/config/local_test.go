package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultLocalConfig(t *testing.T) {
	cfg := DefaultLocalConfig()

	if cfg.Daemon.Port != 7341 {
		t.Errorf("Daemon.Port = %d; want 7341", cfg.Daemon.Port)
	}
	if cfg.Daemon.Bind != "127.0.0.1" {
		t.Errorf("Daemon.Bind = %q; want loopback", cfg.Daemon.Bind)
	}
	if cfg.LLM.DefaultProvider != "auto" {
		t.Errorf("DefaultProvider = %q; want auto", cfg.LLM.DefaultProvider)
	}
	if _, ok := cfg.LLM.Providers["claude"]; !ok {
		t.Error("claude provider missing from defaults")
	}
	if cfg.Generation.MaxCandidates != 3 || cfg.Generation.MaxCallsPerCandidate != 2 {
		t.Errorf("generation budget = %d/%d; want 3/2",
			cfg.Generation.MaxCandidates, cfg.Generation.MaxCallsPerCandidate)
	}
}

func TestLoadLocalConfigMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadLocalConfig()
	if err != nil {
		t.Fatalf("LoadLocalConfig() error = %v", err)
	}
	if cfg.Daemon.Port != 7341 {
		t.Errorf("Daemon.Port = %d; want default 7341", cfg.Daemon.Port)
	}
}

func TestLoadLocalConfigOverrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".codeprobe")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	configYAML := `daemon:
  port: 9999
  log_level: debug
generation:
  languages: [rust]
  max_candidates: 4
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(configYAML), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadLocalConfig()
	if err != nil {
		t.Fatalf("LoadLocalConfig() error = %v", err)
	}
	if cfg.Daemon.Port != 9999 {
		t.Errorf("Daemon.Port = %d; want 9999", cfg.Daemon.Port)
	}
	if cfg.Daemon.LogLevel != "debug" {
		t.Errorf("LogLevel = %q; want debug", cfg.Daemon.LogLevel)
	}
	if len(cfg.Generation.Languages) != 1 || cfg.Generation.Languages[0] != "rust" {
		t.Errorf("Languages = %v; want [rust]", cfg.Generation.Languages)
	}
	if cfg.Generation.MaxCandidates != 4 {
		t.Errorf("MaxCandidates = %d; want 4", cfg.Generation.MaxCandidates)
	}
	// Untouched sections keep their defaults
	if cfg.Daemon.Bind != "127.0.0.1" {
		t.Errorf("Bind = %q; want default kept", cfg.Daemon.Bind)
	}
}

func TestSecretsApplied(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".codeprobe")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("daemon:\n  port: 7341\n"), 0644); err != nil {
		t.Fatal(err)
	}
	secretsYAML := `providers:
  claude:
    api_key: test-claude-key
github:
  token: test-github-token
`
	if err := os.WriteFile(filepath.Join(dir, "secrets.yaml"), []byte(secretsYAML), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadLocalConfig()
	if err != nil {
		t.Fatalf("LoadLocalConfig() error = %v", err)
	}
	if cfg.LLM.Providers["claude"].APIKey != "test-claude-key" {
		t.Errorf("claude APIKey = %q; want value from secrets", cfg.LLM.Providers["claude"].APIKey)
	}
	if cfg.GitHub.Token != "test-github-token" {
		t.Errorf("GitHub.Token = %q; want value from secrets", cfg.GitHub.Token)
	}
}

func TestSaveSecretsPermissions(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if err := SaveSecrets(map[string]string{"claude": "k"}, "gh-token"); err != nil {
		t.Fatalf("SaveSecrets() error = %v", err)
	}

	secretsPath := filepath.Join(home, ".codeprobe", "secrets.yaml")
	info, err := os.Stat(secretsPath)
	if err != nil {
		t.Fatalf("stat secrets: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("secrets perm = %o; want 0600", perm)
	}
}

func TestSaveAndReloadRoundTrip(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := DefaultLocalConfig()
	cfg.Daemon.Port = 8181
	cfg.LLM.Rotation = []string{"claude", "gemini/gemini-2.0-flash"}

	if err := SaveLocalConfig(cfg); err != nil {
		t.Fatalf("SaveLocalConfig() error = %v", err)
	}

	got, err := LoadLocalConfig()
	if err != nil {
		t.Fatalf("LoadLocalConfig() error = %v", err)
	}
	if got.Daemon.Port != 8181 {
		t.Errorf("Daemon.Port = %d; want 8181", got.Daemon.Port)
	}
	if len(got.LLM.Rotation) != 2 {
		t.Errorf("Rotation = %v; want 2 entries", got.LLM.Rotation)
	}
}
