// Package logging builds the hclog loggers used across qvmctl.
package logging

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// Options configures New.
type Options struct {
	// Level is an hclog level name. Unknown or empty names mean info.
	Level string

	// JSON selects JSON output instead of the human-readable format.
	JSON bool

	// Output defaults to stderr.
	Output io.Writer

	// Color forces colored levels. Ignored for JSON output.
	Color bool
}

// New returns the root logger. Components derive their own with Named.
func New(opts Options) hclog.Logger {
	level := hclog.LevelFromString(opts.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	color := hclog.ColorOff
	if opts.Color && !opts.JSON {
		color = hclog.ForceColor
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "qvmctl",
		Level:      level,
		Output:     out,
		JSONFormat: opts.JSON,
		Color:      color,
	})
}
