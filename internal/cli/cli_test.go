package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/javanstorm/qvmctl/internal/vm"
	"github.com/javanstorm/qvmctl/pkg/hypervisor"
)

func TestShellJoin(t *testing.T) {
	tests := []struct {
		words []string
		want  string
	}{
		{[]string{"qemu-system-x86_64", "-m", "512"}, "qemu-system-x86_64 -m 512"},
		{[]string{"-name", "my vm"}, `-name "my vm"`},
		{[]string{"-drive", "file=/tmp/a$b.qcow2"}, `-drive "file=/tmp/a$b.qcow2"`},
		{[]string{""}, `""`},
	}
	for _, tt := range tests {
		if got := shellJoin(tt.words); got != tt.want {
			t.Errorf("shellJoin(%q) = %s, want %s", tt.words, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{20 << 30, "20.0 GiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.n); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestFormatTimeZero(t *testing.T) {
	if got := formatTime(time.Time{}); got != "-" {
		t.Errorf("formatTime(zero) = %q, want -", got)
	}
}

func TestWriteStructured(t *testing.T) {
	v := struct {
		Name string `json:"name" yaml:"name"`
	}{Name: "alpha"}

	var buf bytes.Buffer
	if err := writeStructured(&buf, "yaml", v); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if buf.String() != "name: alpha\n" {
		t.Errorf("yaml output = %q", buf.String())
	}

	buf.Reset()
	if err := writeStructured(&buf, "json", v); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !strings.Contains(buf.String(), `"name": "alpha"`) {
		t.Errorf("json output = %q", buf.String())
	}

	if err := writeStructured(&buf, "toml", v); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestFormatEvent(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local)

	got := formatEvent(vm.Event{Type: vm.EventStateChanged, Name: "alpha", Status: vm.StatusRunning, Time: ts})
	if !strings.HasPrefix(got, "03:04:05 state_changed") || !strings.HasSuffix(got, "alpha -> "+vm.StatusRunning.String()) {
		t.Errorf("state event = %q", got)
	}

	got = formatEvent(vm.Event{Type: vm.EventExited, Name: "alpha", ExitCode: 1, Crashed: true, Time: ts})
	if !strings.HasSuffix(got, "(exit code 1, crashed)") {
		t.Errorf("exit event = %q", got)
	}

	got = formatEvent(vm.Event{Type: vm.EventError, Name: "alpha", Message: "boom", Time: ts})
	if !strings.HasSuffix(got, ": boom") {
		t.Errorf("error event = %q", got)
	}

	got = formatEvent(vm.Event{Type: vm.EventListChanged, Time: ts})
	if strings.TrimSpace(got) != "03:04:05 list_changed" {
		t.Errorf("list event = %q", got)
	}
}

func TestMissingRequired(t *testing.T) {
	statuses := []vm.DependencyStatus{
		{Dependency: vm.Dependency{Name: "qemu-img"}, Installed: true},
		{Dependency: vm.Dependency{Name: "qemu-system-x86_64"}},
		{Dependency: vm.Dependency{Name: "virsh", Optional: true}},
	}
	if got := missingRequired(statuses); got != 1 {
		t.Errorf("missingRequired = %d, want 1", got)
	}

	var buf bytes.Buffer
	writeDependencies(&buf, statuses)
	out := buf.String()
	for _, want := range []string{"TOOL", "MISSING", "missing (optional)", "ok"} {
		if !strings.Contains(out, want) {
			t.Errorf("dependency table missing %q:\n%s", want, out)
		}
	}
}

func TestWriteBackend(t *testing.T) {
	tests := []struct {
		info hypervisor.Info
		caps hypervisor.Capabilities
		want []string
	}{
		{
			hypervisor.Info{Name: "qemu", Executable: "/usr/bin/qemu-system-x86_64", Version: "8.2.2", Arch: "amd64"},
			hypervisor.Capabilities{KVM: true},
			[]string{"/usr/bin/qemu-system-x86_64 (version 8.2.2, amd64)", "KVM:       yes", "Pause:     no"},
		},
		{
			hypervisor.Info{Name: "qemu", Executable: "/opt/qemu", Arch: "arm64"},
			hypervisor.Capabilities{},
			[]string{"/opt/qemu (version unknown, arm64)", "KVM:       no"},
		},
		{
			hypervisor.Info{Name: "qemu"},
			hypervisor.Capabilities{},
			[]string{"not found (qemu backend)"},
		},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		writeBackend(&buf, tt.info, tt.caps)
		for _, w := range tt.want {
			if !strings.Contains(buf.String(), w) {
				t.Errorf("writeBackend(%+v) = %q, missing %q", tt.info, buf.String(), w)
			}
		}
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{
		"version", "run", "serve", "mcp", "cmdline", "status", "events",
		"doctor", "config", "vm", "disk",
		"start", "stop", "pause", "resume", "reset",
	}
	have := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestVMSubcommands(t *testing.T) {
	have := make(map[string]bool)
	for _, c := range vmCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range []string{"create", "list", "show", "set", "delete", "ostypes"} {
		if !have[name] {
			t.Errorf("vm %s not registered", name)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	}()

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "qvmctl ") {
		t.Errorf("version output = %q", buf.String())
	}
}
