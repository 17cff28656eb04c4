// Package mcptools exposes machine lifecycle operations as MCP tools.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/javanstorm/qvmctl/internal/definition"
	"github.com/javanstorm/qvmctl/internal/version"
	"github.com/javanstorm/qvmctl/internal/vm"
	"github.com/javanstorm/qvmctl/pkg/hypervisor"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// DestructiveTools must be confirmed with a token before they run.
var DestructiveTools = []string{"vm_stop", "vm_reset", "vm_delete"}

// Backend is the orchestrator surface the tools use. *vm.Orchestrator
// satisfies it.
type Backend interface {
	Machines() []vm.MachineInfo
	GetDefinition(name string) (*definition.Machine, bool)
	State(name string) (vm.RuntimeState, error)
	History(name string) (*vm.RunRecord, error)
	Command(name string) (string, []string, error)

	CreateMachine(ctx context.Context, req vm.CreateRequest) error
	Delete(ctx context.Context, name string) error
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Reset(ctx context.Context, name string) error
}

var _ Backend = (*vm.Orchestrator)(nil)

// Registration pairs a tool definition with its handler.
type Registration struct {
	Tool    mcp.Tool
	Handler server.ToolHandlerFunc
}

// NewServer returns an MCP server with every tool registered.
func NewServer(b Backend, log hclog.Logger) *server.MCPServer {
	s := server.NewMCPServer(
		"qvmctl",
		version.Version,
		server.WithToolCapabilities(false),
	)
	for _, r := range Tools(b, NewConfirmationTracker(DestructiveTools), log) {
		s.AddTool(r.Tool, r.Handler)
	}
	return s
}

// Tools returns the tool registrations wired to b.
func Tools(b Backend, confirm *ConfirmationTracker, log hclog.Logger) []Registration {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	t := &toolset{b: b, confirm: confirm, log: log.Named("mcp")}
	return []Registration{
		t.list(),
		t.inspect(),
		t.cmdline(),
		t.create(),
		t.lifecycle("vm_start", "Start a stopped virtual machine.", b.Start, "started"),
		t.lifecycle("vm_stop", "Gracefully stop a running virtual machine, killing it if it does not exit in time. Requires confirmation.", b.Stop, "stopped"),
		t.lifecycle("vm_reset", "Stop and start a virtual machine. Requires confirmation.", b.Reset, "reset"),
		t.delete(),
	}
}

type toolset struct {
	b       Backend
	confirm *ConfirmationTracker
	log     hclog.Logger
}

func (t *toolset) list() Registration {
	tool := mcp.NewTool("vm_list",
		mcp.WithDescription("List all virtual machines with their status."),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(t.b.Machines()), nil
	}
	return Registration{Tool: tool, Handler: handler}
}

func (t *toolset) inspect() Registration {
	tool := mcp.NewTool("vm_inspect",
		mcp.WithDescription("Return the definition, runtime state and run history of a virtual machine."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Machine name"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := req.GetString("name", "")
		m, ok := t.b.GetDefinition(name)
		if !ok {
			return errorResult(fmt.Errorf("%w: %q", vm.ErrNotFound, name)), nil
		}
		st, err := t.b.State(name)
		if err != nil {
			return errorResult(err), nil
		}
		rec, err := t.b.History(name)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(map[string]any{
			"definition": m,
			"state":      st,
			"history":    rec,
		}), nil
	}
	return Registration{Tool: tool, Handler: handler}
}

func (t *toolset) cmdline() Registration {
	tool := mcp.NewTool("vm_cmdline",
		mcp.WithDescription("Show the emulator command line a machine would be started with."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Machine name"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		exe, args, err := t.b.Command(req.GetString("name", ""))
		if err != nil {
			return errorResult(err), nil
		}
		return mcp.NewToolResultText(strings.Join(append([]string{exe}, args...), " ")), nil
	}
	return Registration{Tool: tool, Handler: handler}
}

func (t *toolset) create() Registration {
	tool := mcp.NewTool("vm_create",
		mcp.WithDescription("Define a new virtual machine, optionally with a new qcow2 disk."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Machine name"),
		),
		mcp.WithString("os_type",
			mcp.Description("OS family or version, e.g. Linux or Windows 11"),
		),
		mcp.WithNumber("memory_mb",
			mcp.Description("Memory in MB"),
		),
		mcp.WithNumber("cpu_count",
			mcp.Description("Virtual CPU count; defaults to the OS recommendation"),
		),
		mcp.WithNumber("disk_size_gb",
			mcp.Description("Size of a new disk in GB; 0 creates no disk"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := req.GetString("name", "")
		err := t.b.CreateMachine(ctx, vm.CreateRequest{
			Name:       name,
			OSType:     req.GetString("os_type", ""),
			MemoryMB:   req.GetInt("memory_mb", definition.DefaultMemoryMB),
			CPUCount:   req.GetInt("cpu_count", 0),
			DiskSizeGB: req.GetInt("disk_size_gb", 0),
		})
		if err != nil {
			t.log.Debug("create failed", "machine", name, "error", err)
			return errorResult(err), nil
		}
		t.log.Info("machine created", "machine", name)
		return mcp.NewToolResultText(fmt.Sprintf("VM %q created", name)), nil
	}
	return Registration{Tool: tool, Handler: handler}
}

func (t *toolset) lifecycle(toolName, description string, op func(context.Context, string) error, done string) Registration {
	opts := []mcp.ToolOption{
		mcp.WithDescription(description),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Machine name"),
		),
	}
	if t.confirm.NeedsConfirmation(toolName) {
		opts = append(opts, mcp.WithString("confirmation_token",
			mcp.Description("Confirmation token returned by a prior call to this tool"),
		))
	}
	tool := mcp.NewTool(toolName, opts...)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := req.GetString("name", "")
		if prompt := t.requireConfirmation(toolName, name, req); prompt != nil {
			return prompt, nil
		}
		if err := op(ctx, name); err != nil {
			t.log.Debug("tool failed", "tool", toolName, "machine", name, "error", err)
			return errorResult(err), nil
		}
		t.log.Info("tool ran", "tool", toolName, "machine", name)
		return mcp.NewToolResultText(fmt.Sprintf("VM %q %s", name, done)), nil
	}
	return Registration{Tool: tool, Handler: handler}
}

func (t *toolset) delete() Registration {
	const toolName = "vm_delete"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Delete a virtual machine definition. Disk images are kept. Requires confirmation."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Machine name"),
		),
		mcp.WithBoolean("force",
			mcp.Description("Stop the machine first if it is running"),
		),
		mcp.WithString("confirmation_token",
			mcp.Description("Confirmation token returned by a prior call to this tool"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := req.GetString("name", "")
		if prompt := t.requireConfirmation(toolName, name, req); prompt != nil {
			return prompt, nil
		}
		if req.GetBool("force", false) {
			if err := t.b.Stop(ctx, name); err != nil && !errors.Is(err, hypervisor.ErrNotRunning) {
				return errorResult(err), nil
			}
		}
		if err := t.b.Delete(ctx, name); err != nil {
			return errorResult(err), nil
		}
		t.log.Info("machine deleted", "machine", name)
		return mcp.NewToolResultText(fmt.Sprintf("VM %q deleted", name)), nil
	}
	return Registration{Tool: tool, Handler: handler}
}

// requireConfirmation returns a prompt result when toolName is guarded and
// the request carries no valid token for name.
func (t *toolset) requireConfirmation(toolName, name string, req mcp.CallToolRequest) *mcp.CallToolResult {
	if !t.confirm.NeedsConfirmation(toolName) {
		return nil
	}
	if t.confirm.Confirm(req.GetString("confirmation_token", ""), toolName, name) {
		return nil
	}
	token := t.confirm.RequestConfirmation(toolName, name)
	return mcp.NewToolResultText(fmt.Sprintf(
		"Confirmation required for %s on %q.\n\nTo proceed, call %s again with confirmation_token=%q.",
		toolName, name, toolName, token,
	))
}

func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultText(fmt.Sprintf("error marshaling result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}

func errorResult(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("error: %v", err))
}
