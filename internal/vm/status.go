package vm

import (
	"fmt"
	"time"
)

// Status is the runtime status of a machine. It is never persisted.
type Status int

const (
	StatusUnknown Status = iota
	StatusShutOff        // no process registered
	StatusStarting       // spawn in progress
	StatusRunning        // process running
	StatusPaused         // reserved; the process backend cannot pause
	StatusStopping       // shutdown in progress
)

func (s Status) String() string {
	switch s {
	case StatusShutOff:
		return "shutoff"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Transitional reports whether an operation is in flight.
func (s Status) Transitional() bool {
	return s == StatusStarting || s == StatusStopping
}

// MarshalText encodes the status name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for c := StatusUnknown; c <= StatusStopping; c++ {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

// RuntimeState is the in-memory view of one machine.
type RuntimeState struct {
	Status      Status    `json:"status" yaml:"status"`
	LastStarted time.Time `json:"last_started,omitzero" yaml:"last_started,omitempty"`
}

// MachineInfo summarizes a machine for listings.
type MachineInfo struct {
	Name        string    `json:"name" yaml:"name"`
	OSType      string    `json:"os_type" yaml:"os_type"`
	MemoryMB    int       `json:"memory_mb" yaml:"memory_mb"`
	CPUCount    int       `json:"cpu_count" yaml:"cpu_count"`
	Status      Status    `json:"status" yaml:"status"`
	LastStarted time.Time `json:"last_started,omitzero" yaml:"last_started,omitempty"`
}
