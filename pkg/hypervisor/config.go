package hypervisor

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

// Default bounds for process operations.
const (
	DefaultStartTimeout = 5 * time.Second
	DefaultStopTimeout  = 10 * time.Second
	DefaultKillTimeout  = 3 * time.Second

	// DefaultOutputLimit caps the retained tail of stdout and stderr.
	DefaultOutputLimit = 64 * 1024
)

// Config holds supervisor parameters.
type Config struct {
	// Executable is the resolved emulator path. Empty means none was
	// found, and every Start fails with ErrExecutableUnavailable.
	Executable string

	// StartTimeout bounds the wait for the process to start.
	StartTimeout time.Duration

	// StopTimeout bounds the graceful-exit wait after SIGTERM.
	StopTimeout time.Duration

	// KillTimeout bounds the wait after a forced kill.
	KillTimeout time.Duration

	// OutputLimit is the number of trailing output bytes kept per stream.
	OutputLimit int

	// Logger receives supervisor logs. Nil discards them.
	Logger hclog.Logger
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	if c.StartTimeout <= 0 || c.StopTimeout <= 0 || c.KillTimeout <= 0 {
		return ErrInvalidTimeout
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.StartTimeout == 0 {
		c.StartTimeout = DefaultStartTimeout
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.KillTimeout == 0 {
		c.KillTimeout = DefaultKillTimeout
	}
	if c.OutputLimit <= 0 {
		c.OutputLimit = DefaultOutputLimit
	}
	if c.Logger == nil {
		c.Logger = hclog.NewNullLogger()
	}
}
