package hypervisor

import (
	"context"
	"runtime"
)

// New resolves the emulator when cfg.Executable is empty and returns a
// supervisor. A failed probe is not an error: the supervisor is still
// usable for queries and reports ErrExecutableUnavailable on Start.
func New(ctx context.Context, cfg Config, candidates []string) (*ProcessSupervisor, error) {
	if cfg.Executable == "" {
		exe, err := FindEmulator(ctx, candidates)
		if err == nil {
			cfg.Executable = exe
		} else if cfg.Logger != nil {
			cfg.Logger.Warn("no emulator found", "candidates", candidates)
		}
	}
	return NewProcessSupervisor(cfg)
}

func hostArch() string {
	return runtime.GOARCH
}
