package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// ValidationError represents a configuration issue.
type ValidationError struct {
	Field   string
	Message string
	Fatal   bool // true = can't proceed, false = warning only
}

// ValidateConfig checks configuration for values that cannot work.
// emulator is the resolved emulator path, empty when none was found.
func ValidateConfig(cfg *Config, emulator string) []ValidationError {
	var errors []ValidationError

	timeouts := []struct {
		field string
		value time.Duration
	}{
		{"start_timeout", cfg.StartTimeout},
		{"stop_timeout", cfg.StopTimeout},
		{"kill_timeout", cfg.KillTimeout},
		{"image_timeout", cfg.ImageTimeout},
		{"reconcile_interval", cfg.ReconcileInterval},
	}
	for _, t := range timeouts {
		if t.value <= 0 {
			errors = append(errors, ValidationError{
				Field:   t.field,
				Message: fmt.Sprintf("must be positive, got %s", t.value),
				Fatal:   true,
			})
		}
	}

	if cfg.MachinesDir == "" {
		errors = append(errors, ValidationError{
			Field:   "machines_dir",
			Message: "must not be empty",
			Fatal:   true,
		})
	}

	if hclog.LevelFromString(cfg.LogLevel) == hclog.NoLevel {
		errors = append(errors, ValidationError{
			Field:   "log_level",
			Message: fmt.Sprintf("unknown level %q, using info", cfg.LogLevel),
		})
	}

	if emulator == "" {
		errors = append(errors, ValidationError{
			Field:   "emulator",
			Message: fmt.Sprintf("no emulator found (tried %s); machines cannot be started", strings.Join(cfg.EmulatorCandidates, ", ")),
		})
	}

	return errors
}

// HasFatal reports whether any of errors prevents startup.
func HasFatal(errors []ValidationError) bool {
	for _, e := range errors {
		if e.Fatal {
			return true
		}
	}
	return false
}

// FormatValidationErrors returns human-readable error summary.
func FormatValidationErrors(errors []ValidationError) string {
	if len(errors) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Configuration warnings:\n")
	for _, e := range errors {
		prefix := "Warning"
		if e.Fatal {
			prefix = "Error"
		}
		fmt.Fprintf(&b, "  %s [%s]: %s\n", prefix, e.Field, e.Message)
	}
	return b.String()
}
