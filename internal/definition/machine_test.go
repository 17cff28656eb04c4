package definition

import (
	"errors"
	"testing"
)

func TestNewDefaults(t *testing.T) {
	m := New("demo")

	if m.Name != "demo" {
		t.Errorf("Name = %q, want demo", m.Name)
	}
	if m.OSType != DefaultOSType {
		t.Errorf("OSType = %q, want %q", m.OSType, DefaultOSType)
	}
	if m.MemoryMB != DefaultMemoryMB {
		t.Errorf("MemoryMB = %d, want %d", m.MemoryMB, DefaultMemoryMB)
	}
	if m.CPUCount != DefaultCPUCount {
		t.Errorf("CPUCount = %d, want %d", m.CPUCount, DefaultCPUCount)
	}
	if len(m.NetworkAdapters) != 1 || m.NetworkAdapters[0].Mode != "NAT" {
		t.Errorf("NetworkAdapters = %v, want one NAT adapter", m.NetworkAdapters)
	}
	want := []BootDevice{BootHardDisk, BootOpticalMedia, BootNetwork}
	if len(m.BootOrder) != len(want) {
		t.Fatalf("BootOrder = %v, want %v", m.BootOrder, want)
	}
	for i := range want {
		if m.BootOrder[i] != want[i] {
			t.Errorf("BootOrder[%d] = %q, want %q", i, m.BootOrder[i], want[i])
		}
	}
	if err := m.Validate(); err != nil {
		t.Errorf("Validate() on defaults = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *Machine)
		wantErr bool
	}{
		{"defaults", func(m *Machine) {}, false},
		{"empty name", func(m *Machine) { m.Name = "" }, true},
		{"dot name", func(m *Machine) { m.Name = ".." }, true},
		{"zero memory", func(m *Machine) { m.MemoryMB = 0 }, true},
		{"negative memory", func(m *Machine) { m.MemoryMB = -1 }, true},
		{"one MB memory", func(m *Machine) { m.MemoryMB = 1 }, false},
		{"zero cpus", func(m *Machine) { m.CPUCount = 0 }, true},
		{"empty disk path", func(m *Machine) { m.HardDisks = []string{"a.qcow2", ""} }, true},
		{"unknown boot tag", func(m *Machine) { m.BootOrder = []BootDevice{"Tape"} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New("vm")
			tt.mutate(m)
			err := m.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalid) {
					t.Errorf("Validate() = %v, want ErrInvalid", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestValidateNil(t *testing.T) {
	var m *Machine
	if err := m.Validate(); !errors.Is(err, ErrInvalid) {
		t.Errorf("Validate() on nil = %v, want ErrInvalid", err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	m := New("vm")
	m.HardDisks = []string{"/disks/a.qcow2"}
	m.SharedFolders = []SharedFolder{{Name: "home", Path: "/home/u"}}

	c := m.Clone()
	c.HardDisks[0] = "/other.qcow2"
	c.BootOrder[0] = BootNetwork
	c.NetworkAdapters[0].Mode = "Bridged Adapter"
	c.SharedFolders[0].Path = "/tmp"

	if m.HardDisks[0] != "/disks/a.qcow2" {
		t.Errorf("clone shares HardDisks")
	}
	if m.BootOrder[0] != BootHardDisk {
		t.Errorf("clone shares BootOrder")
	}
	if m.NetworkAdapters[0].Mode != "NAT" {
		t.Errorf("clone shares NetworkAdapters")
	}
	if m.SharedFolders[0].Path != "/home/u" {
		t.Errorf("clone shares SharedFolders")
	}

	var nilMachine *Machine
	if nilMachine.Clone() != nil {
		t.Errorf("Clone() of nil should be nil")
	}
}
