// Package definition holds the persisted, declarative description of a
// virtual machine and the on-disk store that keeps one file per machine.
package definition

import (
	"fmt"
	"slices"
	"time"
)

// BootDevice tags a boot source. Unknown tags are kept as-is so they
// round-trip through the store; the command builder ignores them.
type BootDevice string

const (
	BootHardDisk     BootDevice = "HardDisk"
	BootOpticalMedia BootDevice = "OpticalMedia"
	BootNetwork      BootDevice = "Network"
	BootFloppy       BootDevice = "Floppy"
)

// Default values applied by New.
const (
	DefaultOSType        = "Linux"
	DefaultMemoryMB      = 2048
	DefaultCPUCount      = 1
	DefaultVideoMemoryMB = 128
	DefaultAudio         = "PulseAudio"
	DefaultUSBController = "USB 3.0 (xHCI)"
	DefaultNetworkMode   = "NAT"
)

// DefaultBootOrder returns the boot order given to new machines.
func DefaultBootOrder() []BootDevice {
	return []BootDevice{BootHardDisk, BootOpticalMedia, BootNetwork}
}

// NetworkAdapter describes one virtual NIC. Only the mode is recorded.
type NetworkAdapter struct {
	Mode string `json:"mode" yaml:"mode"`
}

// Display holds video settings.
type Display struct {
	VideoMemoryMB  int  `json:"video_memory_mb" yaml:"video_memory_mb"`
	MonitorCount   int  `json:"monitor_count" yaml:"monitor_count"`
	Acceleration3D bool `json:"acceleration_3d" yaml:"acceleration_3d"`
}

// Audio holds the audio controller selection.
type Audio struct {
	Controller string `json:"controller" yaml:"controller"`
}

// SharedFolder maps a guest-visible name to a host path.
type SharedFolder struct {
	Name string `json:"name" yaml:"name"`
	Path string `json:"path" yaml:"path"`
}

// Machine is the declarative definition of one virtual machine.
type Machine struct {
	// Name is the primary key and the source of the file-name stem.
	Name        string `json:"name" yaml:"name"`
	UUID        string `json:"uuid" yaml:"uuid"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	OSType      string `json:"os_type" yaml:"os_type"`

	MemoryMB int `json:"memory_mb" yaml:"memory_mb"`
	CPUCount int `json:"cpu_count" yaml:"cpu_count"`

	// HardDisks are attached in order; position decides the device index.
	HardDisks []string `json:"hard_disks,omitempty" yaml:"hard_disks,omitempty"`

	// OpticalMedia is the image in the optical drive. Empty means the
	// drive exists without media.
	OpticalMedia string `json:"optical_media,omitempty" yaml:"optical_media,omitempty"`

	NetworkAdapters []NetworkAdapter `json:"network_adapters,omitempty" yaml:"network_adapters,omitempty"`
	BootOrder       []BootDevice     `json:"boot_order,omitempty" yaml:"boot_order,omitempty"`

	Display       Display        `json:"display" yaml:"display"`
	Audio         Audio          `json:"audio" yaml:"audio"`
	USBController string         `json:"usb_controller,omitempty" yaml:"usb_controller,omitempty"`
	SharedFolders []SharedFolder `json:"shared_folders,omitempty" yaml:"shared_folders,omitempty"`

	// CreatedAt and ModifiedAt are maintained by Store.Save.
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
	ModifiedAt time.Time `json:"modified_at" yaml:"modified_at"`
}

// New returns a machine with default settings and the given name.
func New(name string) *Machine {
	return &Machine{
		Name:            name,
		OSType:          DefaultOSType,
		MemoryMB:        DefaultMemoryMB,
		CPUCount:        DefaultCPUCount,
		NetworkAdapters: []NetworkAdapter{{Mode: DefaultNetworkMode}},
		BootOrder:       DefaultBootOrder(),
		Display: Display{
			VideoMemoryMB: DefaultVideoMemoryMB,
			MonitorCount:  1,
		},
		Audio:         Audio{Controller: DefaultAudio},
		USBController: DefaultUSBController,
	}
}

// Validate checks the fields the lifecycle depends on. Secondary
// attributes (display, audio, boot tags) are not checked.
func (m *Machine) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil machine", ErrInvalid)
	}
	if m.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if Sanitize(m.Name) == "." || Sanitize(m.Name) == ".." {
		return fmt.Errorf("%w: name %q is reserved", ErrInvalid, m.Name)
	}
	if m.MemoryMB <= 0 {
		return fmt.Errorf("%w: memory must be at least 1 MB, got %d", ErrInvalid, m.MemoryMB)
	}
	if m.CPUCount <= 0 {
		return fmt.Errorf("%w: cpu count must be at least 1, got %d", ErrInvalid, m.CPUCount)
	}
	for i, d := range m.HardDisks {
		if d == "" {
			return fmt.Errorf("%w: hard disk %d has an empty path", ErrInvalid, i)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (m *Machine) Clone() *Machine {
	if m == nil {
		return nil
	}
	c := *m
	c.HardDisks = slices.Clone(m.HardDisks)
	c.NetworkAdapters = slices.Clone(m.NetworkAdapters)
	c.BootOrder = slices.Clone(m.BootOrder)
	c.SharedFolders = slices.Clone(m.SharedFolders)
	return &c
}
