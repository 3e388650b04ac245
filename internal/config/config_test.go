package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sandboxd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	// Run from an empty dir so no sandboxd.yaml is picked up.
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PORT", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("port = %d, want 3000", cfg.Server.Port)
	}
	if cfg.Limits.DefaultTimeout != 5*time.Second {
		t.Errorf("default_timeout = %s, want 5s", cfg.Limits.DefaultTimeout)
	}
	if cfg.Limits.MaxConcurrent != 4 {
		t.Errorf("max_concurrent = %d, want 4", cfg.Limits.MaxConcurrent)
	}
	if cfg.Interpreter.SourceName != "input.txt" {
		t.Errorf("source_name = %q, want input.txt", cfg.Interpreter.SourceName)
	}
	if cfg.Limits.CPUSeconds != 10 {
		t.Errorf("cpu_seconds = %d, want 10", cfg.Limits.CPUSeconds)
	}
	if cfg.Limits.Processes != 64 {
		t.Errorf("processes = %d, want 64", cfg.Limits.Processes)
	}
	if cfg.Isolation.Mode != "auto" {
		t.Errorf("isolation.mode = %q, want auto", cfg.Isolation.Mode)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
interpreter:
  path: /usr/local/bin/interp
  env: ["FOO=bar"]
limits:
  default_timeout: 1s
  max_timeout: 3s
  max_concurrent: 2
  queue_timeout: 0s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Interpreter.Path != "/usr/local/bin/interp" {
		t.Errorf("interpreter.path = %q", cfg.Interpreter.Path)
	}
	if len(cfg.Interpreter.Env) != 1 || cfg.Interpreter.Env[0] != "FOO=bar" {
		t.Errorf("interpreter.env = %v", cfg.Interpreter.Env)
	}
	if cfg.Limits.MaxTimeout != 3*time.Second {
		t.Errorf("max_timeout = %s, want 3s", cfg.Limits.MaxTimeout)
	}
	if cfg.Limits.QueueTimeout != 0 {
		t.Errorf("queue_timeout = %s, want 0", cfg.Limits.QueueTimeout)
	}
	// Unset keys keep their defaults.
	if cfg.Limits.MaxOutputBytes != 1024*1024 {
		t.Errorf("max_output_bytes = %d, want default", cfg.Limits.MaxOutputBytes)
	}
}

func TestLoadPortFromEnv(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")
	t.Setenv("PORT", "4321")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 4321 {
		t.Errorf("port = %d, want 4321", cfg.Server.Port)
	}
}

func TestLoadPrefixedEnv(t *testing.T) {
	path := writeConfig(t, "")
	t.Setenv("SANDBOXD_LIMITS_MAX_CONCURRENT", "9")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Limits.MaxConcurrent != 9 {
		t.Errorf("max_concurrent = %d, want 9", cfg.Limits.MaxConcurrent)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadRejectsInvalidLimits(t *testing.T) {
	path := writeConfig(t, `
limits:
  default_timeout: 10s
  max_timeout: 2s
  max_concurrent: 0
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "exceeds limits.max_timeout") {
		t.Errorf("missing timeout error in %q", msg)
	}
	if !strings.Contains(msg, "max_concurrent") {
		t.Errorf("missing max_concurrent error in %q", msg)
	}
}

func TestValidateSourceName(t *testing.T) {
	cfg := &Config{
		Server:      ServerConfig{Port: 3000},
		Interpreter: InterpreterConfig{Path: "/bin/sh", SourceName: "../escape.txt"},
		Workspace:   WorkspaceConfig{Root: t.TempDir()},
		Limits: LimitsConfig{
			MaxSourceBytes: 1,
			DefaultTimeout: time.Second,
			MaxTimeout:     time.Second,
			MaxConcurrent:  1,
			MaxOutputBytes: 1,
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for source name with a path component")
	}

	cfg.Interpreter.SourceName = "main.pas"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadIsolation(t *testing.T) {
	path := writeConfig(t, `
isolation:
  mode: required
  read_paths: [/opt/lsbasi]
limits:
  processes: 8
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Isolation.Mode != "required" {
		t.Errorf("mode = %q, want required", cfg.Isolation.Mode)
	}
	if len(cfg.Isolation.ReadPaths) != 1 || cfg.Isolation.ReadPaths[0] != "/opt/lsbasi" {
		t.Errorf("read_paths = %v", cfg.Isolation.ReadPaths)
	}
	if cfg.Limits.Processes != 8 {
		t.Errorf("processes = %d, want 8", cfg.Limits.Processes)
	}
}

func TestLoadRejectsBadIsolation(t *testing.T) {
	path := writeConfig(t, `
isolation:
  mode: chroot
  read_paths: [relative/dir]
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"isolation.mode", "must be absolute"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %q", want, err)
		}
	}
}
