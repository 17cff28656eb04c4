package api

import (
	"context"

	"github.com/javanstorm/qvmctl/internal/definition"
	"github.com/javanstorm/qvmctl/internal/vm"
)

// Backend is the orchestrator surface the API serves. *vm.Orchestrator
// satisfies it.
type Backend interface {
	Machines() []vm.MachineInfo
	GetDefinition(name string) (*definition.Machine, bool)
	State(name string) (vm.RuntimeState, error)
	History(name string) (*vm.RunRecord, error)
	Command(name string) (string, []string, error)

	CreateMachine(ctx context.Context, req vm.CreateRequest) error
	SaveConfiguration(ctx context.Context, m *definition.Machine) error
	Delete(ctx context.Context, name string) error
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Pause(ctx context.Context, name string) error
	Resume(ctx context.Context, name string) error
	Reset(ctx context.Context, name string) error

	Subscribe() (<-chan vm.Event, func())
}

var _ Backend = (*vm.Orchestrator)(nil)

// MachineDetail is a definition with its runtime state and run history.
type MachineDetail struct {
	Definition *definition.Machine `json:"definition"`
	State      vm.RuntimeState     `json:"state"`
	History    *vm.RunRecord       `json:"history,omitempty"`
}

// CreateBody is the request body for creating a machine.
type CreateBody struct {
	Name       string `json:"name"`
	OSType     string `json:"os_type"`
	MemoryMB   int    `json:"memory_mb"`
	CPUCount   int    `json:"cpu_count"`
	DiskSizeGB int    `json:"disk_size_gb"`
}

// CommandLine is the emulator invocation for a machine.
type CommandLine struct {
	Executable string   `json:"executable"`
	Args       []string `json:"args"`
}

type errorBody struct {
	Error string `json:"error"`
}
