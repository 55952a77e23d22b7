package config

import "fmt"

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// recognizedExecutionModes is the set of valid tests.execution_mode values.
var recognizedExecutionModes = map[ExecutionMode]bool{
	ExecAuto:       true,
	ExecDocker:     true,
	ExecSubprocess: true,
}

// Validate checks a Config for structural and semantic errors. It returns a
// slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if cfg.Tests.ExecutionMode != "" && !recognizedExecutionModes[cfg.Tests.ExecutionMode] {
		errs = append(errs, ValidationError{
			Field:   "tests.execution_mode",
			Message: fmt.Sprintf("unrecognized mode %q (want auto, docker, or subprocess)", cfg.Tests.ExecutionMode),
		})
	}
	if cfg.Tests.ExecutionMode == ExecDocker && cfg.Tests.SandboxImage == "" {
		errs = append(errs, ValidationError{
			Field:   "tests.sandbox_image",
			Message: "required when execution_mode is docker",
		})
	}
	if cfg.Tests.TimeoutSeconds < 0 {
		errs = append(errs, ValidationError{Field: "tests.timeout_seconds", Message: "must not be negative"})
	}
	if cfg.Tests.ParallelMax < 0 {
		errs = append(errs, ValidationError{Field: "tests.parallel_max", Message: "must not be negative"})
	}
	if cfg.CI.Webhook == "" && cfg.CI.WebhookTimeout != 0 && cfg.CI.WebhookTimeout != 10 {
		errs = append(errs, ValidationError{
			Field:   "ci.webhook_timeout",
			Message: "set without ci.webhook; it will have no effect",
		})
	}
	if cfg.RollbackOnRed && !cfg.CI.AutoRun {
		errs = append(errs, ValidationError{
			Field:   "rollback_on_ci_red",
			Message: "enabled but ci.auto_run is false; rollback never dispatches without CI running",
		})
	}

	return errs
}
