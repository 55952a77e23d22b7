package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validConfig = `
tests:
  execution_mode: docker
  sandbox_image: "golang:1.22"
  timeout_seconds: 120
  parallel_max: 8
  log_dir: "/tmp/sologit/logs"
ci:
  auto_run: true
  command: "make smoke"
  webhook: "https://hooks.example.com/ci"
  webhook_timeout: 5
promote_on_green: true
rollback_on_ci_red: true
state_dir: "/var/lib/sologit"
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sologit.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Tests.ExecutionMode != ExecDocker {
		t.Errorf("ExecutionMode = %q, want %q", cfg.Tests.ExecutionMode, ExecDocker)
	}
	if cfg.Tests.SandboxImage != "golang:1.22" {
		t.Errorf("SandboxImage = %q", cfg.Tests.SandboxImage)
	}
	if cfg.Tests.TimeoutSeconds != 120 {
		t.Errorf("TimeoutSeconds = %d, want 120", cfg.Tests.TimeoutSeconds)
	}
	if cfg.Tests.ParallelMax != 8 {
		t.Errorf("ParallelMax = %d, want 8", cfg.Tests.ParallelMax)
	}
	if !cfg.CI.AutoRun {
		t.Error("CI.AutoRun should be true")
	}
	if cfg.CI.Webhook != "https://hooks.example.com/ci" {
		t.Errorf("CI.Webhook = %q", cfg.CI.Webhook)
	}
	if !cfg.PromoteOnGreen || !cfg.RollbackOnRed {
		t.Error("PromoteOnGreen and RollbackOnRed should both be true")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTestConfig(t, "tests:\n  sandbox_image: foo\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Tests.ExecutionMode != ExecAuto {
		t.Errorf("ExecutionMode = %q, want default %q", cfg.Tests.ExecutionMode, ExecAuto)
	}
	if cfg.Tests.TimeoutSeconds != 300 {
		t.Errorf("TimeoutSeconds = %d, want default 300", cfg.Tests.TimeoutSeconds)
	}
	if cfg.Tests.ParallelMax != 4 {
		t.Errorf("ParallelMax = %d, want default 4", cfg.Tests.ParallelMax)
	}
	if cfg.Tests.LogDir != ".sologit/logs" {
		t.Errorf("LogDir = %q, want default", cfg.Tests.LogDir)
	}
	if cfg.CI.WebhookTimeout != 10 {
		t.Errorf("CI.WebhookTimeout = %d, want default 10", cfg.CI.WebhookTimeout)
	}
	if cfg.StateDir != ".sologit/state" {
		t.Errorf("StateDir = %q, want default", cfg.StateDir)
	}
}

func TestLoadDoesNotOverrideExplicitValues(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Tests.TimeoutSeconds != 120 {
		t.Errorf("explicit TimeoutSeconds overridden: got %d", cfg.Tests.TimeoutSeconds)
	}
	if cfg.CI.WebhookTimeout != 5 {
		t.Errorf("explicit CI.WebhookTimeout overridden: got %d", cfg.CI.WebhookTimeout)
	}
}

func TestValidateValidConfig(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	errs := Validate(cfg)
	if len(errs) != 0 {
		t.Errorf("Validate() returned %d errors for valid config:", len(errs))
		for _, e := range errs {
			t.Errorf("  - %s", e)
		}
	}
}

func TestValidateUnrecognizedExecutionMode(t *testing.T) {
	path := writeTestConfig(t, "tests:\n  execution_mode: bogus\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	errs := Validate(cfg)
	found := false
	for _, e := range errs {
		if e.Field == "tests.execution_mode" {
			found = true
		}
	}
	if !found {
		t.Error("expected validation error for unrecognized execution_mode")
	}
}

func TestValidateDockerModeRequiresSandboxImage(t *testing.T) {
	path := writeTestConfig(t, "tests:\n  execution_mode: docker\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	errs := Validate(cfg)
	found := false
	for _, e := range errs {
		if e.Field == "tests.sandbox_image" {
			found = true
		}
	}
	if !found {
		t.Error("expected validation error for docker mode without sandbox_image")
	}
}

func TestValidateRollbackWithoutCIAutoRun(t *testing.T) {
	path := writeTestConfig(t, "rollback_on_ci_red: true\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	errs := Validate(cfg)
	found := false
	for _, e := range errs {
		if strings.Contains(e.Message, "ci.auto_run is false") {
			found = true
		}
	}
	if !found {
		t.Error("expected validation error for rollback_on_ci_red without ci.auto_run")
	}
}

func TestValidateNegativeTimeouts(t *testing.T) {
	path := writeTestConfig(t, "tests:\n  timeout_seconds: -5\n  parallel_max: -1\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	errs := Validate(cfg)
	if len(errs) != 2 {
		t.Fatalf("expected 2 validation errors, got %d: %v", len(errs), errs)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeTestConfig(t, "not: [valid: yaml: !!!")
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadDefaultNotFound(t *testing.T) {
	orig, _ := os.Getwd()
	dir := t.TempDir()
	os.Chdir(dir)
	defer os.Chdir(orig)

	_, err := LoadDefault()
	if err == nil {
		t.Error("expected error when no config file found")
	}
}

func TestLoadDefaultFromCurrentDir(t *testing.T) {
	orig, _ := os.Getwd()
	dir := t.TempDir()
	os.Chdir(dir)
	defer os.Chdir(orig)

	content := "tests:\n  sandbox_image: local\npromote_on_green: true\n"
	os.WriteFile(filepath.Join(dir, "sologit.yaml"), []byte(content), 0644)

	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() error: %v", err)
	}
	if cfg.Tests.SandboxImage != "local" {
		t.Errorf("SandboxImage = %q, want %q", cfg.Tests.SandboxImage, "local")
	}
	if !cfg.PromoteOnGreen {
		t.Error("PromoteOnGreen should be true")
	}
}
