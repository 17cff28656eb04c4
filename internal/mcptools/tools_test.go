package mcptools

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/javanstorm/qvmctl/internal/definition"
	"github.com/javanstorm/qvmctl/internal/vm"
	"github.com/javanstorm/qvmctl/pkg/hypervisor"
	"github.com/mark3labs/mcp-go/mcp"
)

type fakeBackend struct {
	machines map[string]*definition.Machine
	running  map[string]bool
	calls    []string
}

func newFakeBackend(names ...string) *fakeBackend {
	f := &fakeBackend{
		machines: make(map[string]*definition.Machine),
		running:  make(map[string]bool),
	}
	for _, n := range names {
		f.machines[n] = definition.New(n)
	}
	return f
}

func (f *fakeBackend) Machines() []vm.MachineInfo {
	var out []vm.MachineInfo
	for name, m := range f.machines {
		out = append(out, vm.MachineInfo{Name: name, OSType: m.OSType, MemoryMB: m.MemoryMB, CPUCount: m.CPUCount})
	}
	return out
}

func (f *fakeBackend) GetDefinition(name string) (*definition.Machine, bool) {
	m, ok := f.machines[name]
	return m, ok
}

func (f *fakeBackend) State(name string) (vm.RuntimeState, error) {
	if _, ok := f.machines[name]; !ok {
		return vm.RuntimeState{}, vm.ErrNotFound
	}
	if f.running[name] {
		return vm.RuntimeState{Status: vm.StatusRunning}, nil
	}
	return vm.RuntimeState{Status: vm.StatusShutOff}, nil
}

func (f *fakeBackend) History(name string) (*vm.RunRecord, error) {
	return &vm.RunRecord{BootCount: 3}, nil
}

func (f *fakeBackend) Command(name string) (string, []string, error) {
	if _, ok := f.machines[name]; !ok {
		return "", nil, fmt.Errorf("%w: %q", vm.ErrNotFound, name)
	}
	return "qemu-system-x86_64", []string{"-name", name}, nil
}

func (f *fakeBackend) CreateMachine(ctx context.Context, req vm.CreateRequest) error {
	f.calls = append(f.calls, "create "+req.Name)
	if _, ok := f.machines[req.Name]; ok {
		return vm.ErrAlreadyExists
	}
	m := definition.New(req.Name)
	m.MemoryMB = req.MemoryMB
	f.machines[req.Name] = m
	return nil
}

func (f *fakeBackend) Delete(ctx context.Context, name string) error {
	f.calls = append(f.calls, "delete "+name)
	if f.running[name] {
		return vm.ErrConflict
	}
	delete(f.machines, name)
	return nil
}

func (f *fakeBackend) Start(ctx context.Context, name string) error {
	f.calls = append(f.calls, "start "+name)
	f.running[name] = true
	return nil
}

func (f *fakeBackend) Stop(ctx context.Context, name string) error {
	f.calls = append(f.calls, "stop "+name)
	if !f.running[name] {
		return hypervisor.ErrNotRunning
	}
	f.running[name] = false
	return nil
}

func (f *fakeBackend) Reset(ctx context.Context, name string) error {
	f.calls = append(f.calls, "reset "+name)
	return nil
}

// newCallToolRequest builds an mcp.CallToolRequest with the given name and arguments map.
func newCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatal("empty result")
	}
	tc, ok := mcp.AsTextContent(result.Content[0])
	if !ok {
		t.Fatalf("content is %T, want text", result.Content[0])
	}
	return tc.Text
}

func findTool(t *testing.T, regs []Registration, name string) Registration {
	t.Helper()
	for _, r := range regs {
		if r.Tool.Name == name {
			return r
		}
	}
	t.Fatalf("tool %q not registered", name)
	return Registration{}
}

func call(t *testing.T, regs []Registration, name string, args map[string]any) string {
	t.Helper()
	r := findTool(t, regs, name)
	result, err := r.Handler(context.Background(), newCallToolRequest(name, args))
	if err != nil {
		t.Fatalf("%s handler error = %v", name, err)
	}
	return resultText(t, result)
}

func TestToolNames(t *testing.T) {
	regs := Tools(newFakeBackend(), NewConfirmationTracker(DestructiveTools), nil)
	want := []string{"vm_list", "vm_inspect", "vm_cmdline", "vm_create", "vm_start", "vm_stop", "vm_reset", "vm_delete"}
	if len(regs) != len(want) {
		t.Fatalf("got %d tools, want %d", len(regs), len(want))
	}
	for _, name := range want {
		findTool(t, regs, name)
	}
}

func TestListAndInspect(t *testing.T) {
	regs := Tools(newFakeBackend("web"), NewConfirmationTracker(DestructiveTools), nil)

	if text := call(t, regs, "vm_list", nil); !strings.Contains(text, `"name": "web"`) {
		t.Errorf("vm_list = %s", text)
	}

	text := call(t, regs, "vm_inspect", map[string]any{"name": "web"})
	if !strings.Contains(text, `"boot_count": 3`) || !strings.Contains(text, `"status": "shutoff"`) {
		t.Errorf("vm_inspect = %s", text)
	}

	if text := call(t, regs, "vm_inspect", map[string]any{"name": "ghost"}); !strings.Contains(text, "not found") {
		t.Errorf("vm_inspect unknown = %s", text)
	}
}

func TestCmdline(t *testing.T) {
	regs := Tools(newFakeBackend("web"), NewConfirmationTracker(DestructiveTools), nil)

	text := call(t, regs, "vm_cmdline", map[string]any{"name": "web"})
	if text != "qemu-system-x86_64 -name web" {
		t.Errorf("vm_cmdline = %q", text)
	}
}

func TestCreate(t *testing.T) {
	b := newFakeBackend()
	regs := Tools(b, NewConfirmationTracker(DestructiveTools), nil)

	text := call(t, regs, "vm_create", map[string]any{"name": "db", "memory_mb": float64(4096)})
	if !strings.Contains(text, "created") {
		t.Errorf("vm_create = %q", text)
	}
	if b.machines["db"].MemoryMB != 4096 {
		t.Errorf("MemoryMB = %d, want 4096", b.machines["db"].MemoryMB)
	}

	if text := call(t, regs, "vm_create", map[string]any{"name": "db"}); !strings.Contains(text, "already exists") {
		t.Errorf("duplicate vm_create = %q", text)
	}
}

func TestStartNeedsNoConfirmation(t *testing.T) {
	b := newFakeBackend("web")
	regs := Tools(b, NewConfirmationTracker(DestructiveTools), nil)

	if text := call(t, regs, "vm_start", map[string]any{"name": "web"}); !strings.Contains(text, "started") {
		t.Errorf("vm_start = %q", text)
	}
	if !b.running["web"] {
		t.Error("machine not started")
	}
}

func TestStopRequiresConfirmation(t *testing.T) {
	b := newFakeBackend("web")
	b.running["web"] = true
	regs := Tools(b, NewConfirmationTracker(DestructiveTools), nil)

	text := call(t, regs, "vm_stop", map[string]any{"name": "web"})
	if !strings.Contains(text, "Confirmation required") {
		t.Fatalf("vm_stop without token = %q", text)
	}
	if !b.running["web"] {
		t.Fatal("machine stopped without confirmation")
	}

	token := text[strings.Index(text, `confirmation_token="`)+len(`confirmation_token="`):]
	token = token[:strings.Index(token, `"`)]

	text = call(t, regs, "vm_stop", map[string]any{"name": "web", "confirmation_token": token})
	if !strings.Contains(text, "stopped") {
		t.Fatalf("vm_stop with token = %q", text)
	}
	if b.running["web"] {
		t.Error("machine still running after confirmed stop")
	}

	// Tokens are single-use.
	b.running["web"] = true
	text = call(t, regs, "vm_stop", map[string]any{"name": "web", "confirmation_token": token})
	if !strings.Contains(text, "Confirmation required") {
		t.Errorf("reused token = %q, want new prompt", text)
	}
}

func TestDeleteForce(t *testing.T) {
	b := newFakeBackend("web")
	b.running["web"] = true
	confirm := NewConfirmationTracker(DestructiveTools)
	regs := Tools(b, confirm, nil)

	token := confirm.RequestConfirmation("vm_delete", "web")
	text := call(t, regs, "vm_delete", map[string]any{"name": "web", "confirmation_token": token})
	if !strings.Contains(text, "conflicts") {
		t.Errorf("vm_delete running = %q, want conflict", text)
	}

	token = confirm.RequestConfirmation("vm_delete", "web")
	text = call(t, regs, "vm_delete", map[string]any{"name": "web", "force": true, "confirmation_token": token})
	if !strings.Contains(text, "deleted") {
		t.Fatalf("vm_delete force = %q", text)
	}
	if _, ok := b.machines["web"]; ok {
		t.Error("machine still defined")
	}
}

func TestConfirmationScopedToToolAndMachine(t *testing.T) {
	ct := NewConfirmationTracker(DestructiveTools)

	token := ct.RequestConfirmation("vm_delete", "web")
	if ct.Confirm(token, "vm_delete", "db") {
		t.Error("token confirmed for a different machine")
	}

	token = ct.RequestConfirmation("vm_delete", "web")
	if ct.Confirm(token, "vm_stop", "web") {
		t.Error("token confirmed for a different tool")
	}

	token = ct.RequestConfirmation("vm_delete", "web")
	if !ct.Confirm(token, "vm_delete", "web") {
		t.Error("valid token rejected")
	}
}

func TestConfirmationExpires(t *testing.T) {
	ct := NewConfirmationTracker(DestructiveTools)
	now := time.Now()
	ct.now = func() time.Time { return now }

	token := ct.RequestConfirmation("vm_stop", "web")
	now = now.Add(tokenTTL + time.Second)
	if ct.Confirm(token, "vm_stop", "web") {
		t.Error("expired token accepted")
	}
}

func TestNeedsConfirmation(t *testing.T) {
	ct := NewConfirmationTracker(DestructiveTools)
	for _, tool := range []string{"vm_stop", "vm_reset", "vm_delete"} {
		if !ct.NeedsConfirmation(tool) {
			t.Errorf("%s should need confirmation", tool)
		}
	}
	for _, tool := range []string{"vm_list", "vm_start", "vm_create"} {
		if ct.NeedsConfirmation(tool) {
			t.Errorf("%s should not need confirmation", tool)
		}
	}
}

func TestNewServer(t *testing.T) {
	if s := NewServer(newFakeBackend(), nil); s == nil {
		t.Fatal("NewServer returned nil")
	}
}
