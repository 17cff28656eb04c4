package vm

import (
	"errors"
	"fmt"

	"github.com/javanstorm/qvmctl/internal/definition"
	"github.com/javanstorm/qvmctl/pkg/hypervisor"
)

// Orchestrator errors
var (
	ErrNotFound         = errors.New("vm: machine not found")
	ErrAlreadyExists    = errors.New("vm: machine already exists")
	ErrConflict         = errors.New("vm: operation conflicts with machine state")
	ErrInvalid          = errors.New("vm: invalid machine definition")
	ErrStoreUnavailable = errors.New("vm: definition store unavailable")
	ErrClosed           = errors.New("vm: orchestrator is closed")
)

// Disk image errors
var (
	ErrToolUnavailable  = errors.New("vm: required tool not found")
	ErrImageTimeout     = errors.New("vm: disk image tool timed out")
	ErrNonZeroExit      = errors.New("vm: tool exited with failure")
	ErrInvalidImagePath = errors.New("vm: unsupported disk image path")
)

// translate maps lower-layer errors onto orchestrator errors while keeping
// the original in the chain.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, definition.ErrNotFound) && !errors.Is(err, ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, definition.ErrInvalid) && !errors.Is(err, ErrInvalid):
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	case errors.Is(err, hypervisor.ErrExecutableUnavailable) && !errors.Is(err, ErrToolUnavailable):
		return fmt.Errorf("%w: %w", ErrToolUnavailable, err)
	default:
		return err
	}
}
