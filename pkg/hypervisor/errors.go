package hypervisor

import "errors"

// Configuration errors
var (
	ErrInvalidTimeout = errors.New("hypervisor: timeouts must be positive")
)

// Runtime errors
var (
	ErrExecutableUnavailable = errors.New("hypervisor: no usable emulator executable")
	ErrAlreadyRunning        = errors.New("hypervisor: machine is already running")
	ErrNotRunning            = errors.New("hypervisor: machine is not running")
	ErrSpawnFailure          = errors.New("hypervisor: failed to spawn emulator")
	ErrSpawnTimeout          = errors.New("hypervisor: emulator did not start in time")
	ErrStopTimeout           = errors.New("hypervisor: emulator did not exit after kill")
)

// Capability errors
var (
	ErrUnsupported = errors.New("hypervisor: operation not supported")
)
