package config

import "time"

// Config is the top-level configuration structure parsed from sologit.yaml.
type Config struct {
	Tests          TestsConfig `yaml:"tests"`
	CI             CIConfig    `yaml:"ci"`
	PromoteOnGreen bool        `yaml:"promote_on_green"`
	RollbackOnRed  bool        `yaml:"rollback_on_ci_red"`
	StateDir       string      `yaml:"state_dir"`
}

// ExecutionMode selects how test suites are run.
type ExecutionMode string

const (
	ExecAuto       ExecutionMode = "auto"
	ExecDocker     ExecutionMode = "docker"
	ExecSubprocess ExecutionMode = "subprocess"
)

// TestsConfig governs test execution defaults.
type TestsConfig struct {
	ExecutionMode  ExecutionMode `yaml:"execution_mode"`
	SandboxImage   string        `yaml:"sandbox_image"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	ParallelMax    int           `yaml:"parallel_max"`
	LogDir         string        `yaml:"log_dir"`
}

// Timeout returns TimeoutSeconds as a time.Duration, or 0 if unset.
func (t TestsConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// CIConfig governs post-promotion CI behavior.
type CIConfig struct {
	AutoRun        bool   `yaml:"auto_run"`
	Command        string `yaml:"command"`
	Webhook        string `yaml:"webhook"`
	WebhookTimeout int    `yaml:"webhook_timeout"`
}

// WebhookTimeoutDuration returns WebhookTimeout as a time.Duration, or 0 if unset.
func (c CIConfig) WebhookTimeoutDuration() time.Duration {
	return time.Duration(c.WebhookTimeout) * time.Second
}
