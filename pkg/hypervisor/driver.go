// Package hypervisor supervises external emulator processes, one per
// machine name, and probes the host for virtualization support.
package hypervisor

import (
	"context"
	"time"
)

// Supervisor is the process-level contract the orchestrator depends on.
// ProcessSupervisor satisfies it.
type Supervisor interface {
	Lifecycle

	// IsRunning reports whether a started, not yet exited process is
	// registered under name.
	IsRunning(name string) bool

	// Running returns the names of all running processes, sorted.
	Running() []string

	// SetEventHandler installs the callback that receives Started and
	// Exited events. Replacing it is safe at any time.
	SetEventHandler(fn func(Event))

	// StopAll stops every running process.
	StopAll(ctx context.Context)
}

// Lifecycle defines per-machine process operations.
type Lifecycle interface {
	// Start spawns the emulator with args and registers it under name.
	// It returns once the process has started or the start bound elapsed.
	Start(ctx context.Context, name string, args []string) error

	// Stop requests graceful termination, escalating to a kill.
	// It returns after the process has exited and been deregistered.
	Stop(ctx context.Context, name string) error

	// Pause and Resume are not supported by the process backend.
	Pause(ctx context.Context, name string) error
	Resume(ctx context.Context, name string) error
}

// Capabilities describes what the backend can do on this host.
type Capabilities struct {
	PauseResume bool // live pause/resume of a running process
	KVM         bool // hardware acceleration available
}

// Info contains backend metadata.
type Info struct {
	Name       string // always "qemu"
	Executable string // resolved emulator path, empty if none
	Version    string // emulator version, empty if unknown
	Arch       string // host architecture
}

// EventKind identifies a supervisor event.
type EventKind int

const (
	EventStarted EventKind = iota
	EventExited
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Event is emitted by the supervisor. For a given name, Started always
// precedes the single Exited of the same process.
type Event struct {
	Kind EventKind
	Name string
	PID  int
	Time time.Time

	// Set on EventExited only.
	ExitCode int
	Crashed  bool
	Stderr   string
}
