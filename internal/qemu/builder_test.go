package qemu

import (
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/javanstorm/qvmctl/internal/definition"
)

func staticExists(present ...string) func(string) bool {
	return func(p string) bool { return slices.Contains(present, p) }
}

func TestBuildBaseline(t *testing.T) {
	b := NewBuilder(Options{FileExists: staticExists()})
	m := definition.New("demo")
	m.UUID = "1234"

	got := b.Build(m)
	want := []string{
		"-machine", "pc,accel=kvm:tcg",
		"-cpu", "qemu64",
		"-smp", "1",
		"-m", "2048",
		"-vga", "std",
		"-display", "gtk,show-cursor=on",
		"-audiodev", "pa,id=audio0",
		"-device", "AC97,audiodev=audio0",
		"-drive", "if=ide,index=2,media=cdrom,readonly=on",
		"-boot", "order=cdn",
		"-netdev", "user,id=net0",
		"-device", "e1000,netdev=net0",
		"-monitor", "stdio",
		"-name", "demo",
		"-uuid", "1234",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Build() =\n%v\nwant\n%v", got, want)
	}
}

func TestBuildDeterministic(t *testing.T) {
	b := NewBuilder(Options{FileExists: staticExists("/iso/a.iso")})
	m := definition.New("demo")
	m.HardDisks = []string{"/d/a.qcow2", "/d/b.qcow2", "/d/c.qcow2"}
	m.OpticalMedia = "/iso/a.iso"

	first := b.Build(m)
	for i := 0; i < 10; i++ {
		if got := b.Build(m); !reflect.DeepEqual(got, first) {
			t.Fatalf("Build() run %d differs:\n%v\n%v", i, got, first)
		}
	}
}

func TestBuildOptions(t *testing.T) {
	b := NewBuilder(Options{
		Emulator:     "/opt/qemu/bin/qemu-system-x86_64",
		MachineType:  "q35",
		Accel:        "tcg",
		CPUModel:     "host",
		Display:      "none",
		AudioBackend: "alsa",
		AudioDevice:  "intel-hda",
		NICModel:     "virtio-net-pci",
		FileExists:   staticExists(),
	})
	exe, args := b.Command(definition.New("vm"))
	if exe != "/opt/qemu/bin/qemu-system-x86_64" {
		t.Errorf("exe = %q", exe)
	}
	joined := strings.Join(args, " ")
	for _, want := range []string{
		"-machine q35,accel=tcg",
		"-cpu host",
		"-display none",
		"-audiodev alsa,id=audio0",
		"-device intel-hda,audiodev=audio0",
		"-device virtio-net-pci,netdev=net0",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}
}

func TestBuildResources(t *testing.T) {
	b := NewBuilder(Options{FileExists: staticExists()})
	tests := []struct {
		cpus    int
		memory  int
		wantSMP string
		wantMem string
	}{
		{4, 8192, "4", "8192"},
		{0, 512, "1", "512"},
		{-3, 256, "1", "256"},
	}
	for _, tt := range tests {
		m := definition.New("vm")
		m.CPUCount = tt.cpus
		m.MemoryMB = tt.memory
		args := b.Build(m)
		if got := argAfter(args, "-smp"); got != tt.wantSMP {
			t.Errorf("cpus %d: -smp %q, want %q", tt.cpus, got, tt.wantSMP)
		}
		if got := argAfter(args, "-m"); got != tt.wantMem {
			t.Errorf("memory %d: -m %q, want %q", tt.memory, got, tt.wantMem)
		}
	}
}

func TestBuildDrives(t *testing.T) {
	tests := []struct {
		name    string
		disks   []string
		optical string
		present []string
		want    []string
	}{
		{
			name: "no disks no media",
			want: []string{"if=ide,index=2,media=cdrom,readonly=on"},
		},
		{
			name:    "media present",
			disks:   []string{"/d/root.qcow2"},
			optical: "/iso/boot.iso",
			present: []string{"/iso/boot.iso"},
			want: []string{
				"file=/d/root.qcow2,format=qcow2,if=ide,index=0,media=disk",
				"file=/iso/boot.iso,if=ide,index=2,media=cdrom,readonly=on",
			},
		},
		{
			name:    "media missing on host",
			optical: "/iso/gone.iso",
			want:    []string{"if=ide,index=2,media=cdrom,readonly=on"},
		},
		{
			name:  "three disks skip optical index",
			disks: []string{"/a", "/b", "/c"},
			want: []string{
				"file=/a,format=qcow2,if=ide,index=0,media=disk",
				"file=/b,format=qcow2,if=ide,index=1,media=disk",
				"file=/c,format=qcow2,if=ide,index=3,media=disk",
				"if=ide,index=2,media=cdrom,readonly=on",
			},
		},
		{
			name:    "commas escaped",
			disks:   []string{"/d/a,b.qcow2"},
			optical: "/iso/x,y.iso",
			present: []string{"/iso/x,y.iso"},
			want: []string{
				"file=/d/a,,b.qcow2,format=qcow2,if=ide,index=0,media=disk",
				"file=/iso/x,,y.iso,if=ide,index=2,media=cdrom,readonly=on",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder(Options{FileExists: staticExists(tt.present...)})
			m := definition.New("vm")
			m.HardDisks = tt.disks
			m.OpticalMedia = tt.optical
			got := allAfter(b.Build(m), "-drive")
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("drives = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBootOrderCode(t *testing.T) {
	tests := []struct {
		name  string
		order []definition.BootDevice
		want  string
	}{
		{"network then disk", []definition.BootDevice{"Network", "HardDisk"}, "nc"},
		{"default order", definition.DefaultBootOrder(), "cdn"},
		{"floppy", []definition.BootDevice{"Floppy", "OpticalMedia"}, "ad"},
		{"unknown dropped", []definition.BootDevice{"Tape", "HardDisk", "USB"}, "c"},
		{"all unknown", []definition.BootDevice{"Tape"}, "cd"},
		{"empty", nil, "cd"},
		{"legacy labels", []definition.BootDevice{"CD/DVD", "Hard Disk"}, "dc"},
		{"repeats dropped", []definition.BootDevice{"HardDisk", "HardDisk", "Network"}, "cn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BootOrderCode(tt.order); got != tt.want {
				t.Errorf("BootOrderCode(%v) = %q, want %q", tt.order, got, tt.want)
			}
		})
	}
}

func TestBuildAlwaysUserNetworking(t *testing.T) {
	b := NewBuilder(Options{FileExists: staticExists()})
	m := definition.New("vm")
	m.NetworkAdapters = []definition.NetworkAdapter{{Mode: "Bridged Adapter"}, {Mode: "not connected"}}

	args := b.Build(m)
	if got := allAfter(args, "-netdev"); !reflect.DeepEqual(got, []string{"user,id=net0"}) {
		t.Errorf("-netdev = %v, want one user backend", got)
	}
}

func TestBuildWithoutUUID(t *testing.T) {
	b := NewBuilder(Options{FileExists: staticExists()})
	args := b.Build(definition.New("vm"))
	if slices.Contains(args, "-uuid") {
		t.Errorf("-uuid emitted for empty UUID: %v", args)
	}
	if argAfter(args, "-name") != "vm" {
		t.Errorf("-name = %q, want vm", argAfter(args, "-name"))
	}
}

func TestDiskIndex(t *testing.T) {
	for pos, want := range []int{0, 1, 3, 4, 5} {
		if got := DiskIndex(pos); got != want {
			t.Errorf("DiskIndex(%d) = %d, want %d", pos, got, want)
		}
	}
}

func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func allAfter(args []string, flag string) []string {
	var out []string
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			out = append(out, args[i+1])
		}
	}
	return out
}
