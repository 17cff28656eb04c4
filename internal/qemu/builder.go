// Package qemu maps machine definitions to QEMU command lines.
package qemu

import (
	"os"
	"strconv"
	"strings"

	"github.com/javanstorm/qvmctl/internal/definition"
)

// Defaults for the fixed part of the command line.
const (
	DefaultEmulator     = "qemu-system-x86_64"
	DefaultMachineType  = "pc"
	DefaultAccel        = "kvm:tcg"
	DefaultCPUModel     = "qemu64"
	DefaultVGA          = "std"
	DefaultDisplay      = "gtk,show-cursor=on"
	DefaultAudioBackend = "pa"
	DefaultAudioDevice  = "AC97"
	DefaultNICModel     = "e1000"

	// OpticalIndex is the IDE index reserved for the optical drive.
	OpticalIndex = 2

	// DefaultBootOrder is used when no boot tag is recognized.
	DefaultBootOrder = "cd"
)

// Options selects the fixed baseline. Zero fields take the defaults above.
type Options struct {
	Emulator     string
	MachineType  string
	Accel        string
	CPUModel     string
	VGA          string
	Display      string
	AudioBackend string
	AudioDevice  string
	NICModel     string

	// FileExists checks whether optical media is present. Defaults to os.Stat.
	FileExists func(path string) bool
}

// Builder produces argument vectors. It holds no state beyond its options
// and is safe for concurrent use.
type Builder struct {
	opts Options
}

// NewBuilder returns a builder with defaults applied to opts.
func NewBuilder(opts Options) *Builder {
	if opts.Emulator == "" {
		opts.Emulator = DefaultEmulator
	}
	if opts.MachineType == "" {
		opts.MachineType = DefaultMachineType
	}
	if opts.Accel == "" {
		opts.Accel = DefaultAccel
	}
	if opts.CPUModel == "" {
		opts.CPUModel = DefaultCPUModel
	}
	if opts.VGA == "" {
		opts.VGA = DefaultVGA
	}
	if opts.Display == "" {
		opts.Display = DefaultDisplay
	}
	if opts.AudioBackend == "" {
		opts.AudioBackend = DefaultAudioBackend
	}
	if opts.AudioDevice == "" {
		opts.AudioDevice = DefaultAudioDevice
	}
	if opts.NICModel == "" {
		opts.NICModel = DefaultNICModel
	}
	if opts.FileExists == nil {
		opts.FileExists = fileExists
	}
	return &Builder{opts: opts}
}

// Emulator returns the configured emulator executable.
func (b *Builder) Emulator() string {
	return b.opts.Emulator
}

// Command returns the emulator and its arguments for m.
func (b *Builder) Command(m *definition.Machine) (string, []string) {
	return b.opts.Emulator, b.Build(m)
}

// Build returns the argument vector for m. It never fails; fields that
// cannot be used fall back to defaults.
func (b *Builder) Build(m *definition.Machine) []string {
	o := b.opts
	args := []string{
		"-machine", o.MachineType + ",accel=" + o.Accel,
		"-cpu", o.CPUModel,
		"-smp", strconv.Itoa(max(m.CPUCount, 1)),
		"-m", strconv.Itoa(m.MemoryMB),
		"-vga", o.VGA,
		"-display", o.Display,
		"-audiodev", o.AudioBackend + ",id=audio0",
		"-device", o.AudioDevice + ",audiodev=audio0",
	}

	for i, disk := range m.HardDisks {
		args = append(args, "-drive",
			"file="+escapeOpt(disk)+",format=qcow2,if=ide,index="+strconv.Itoa(DiskIndex(i))+",media=disk")
	}

	cdrom := "if=ide,index=" + strconv.Itoa(OpticalIndex) + ",media=cdrom,readonly=on"
	if m.OpticalMedia != "" && o.FileExists(m.OpticalMedia) {
		cdrom = "file=" + escapeOpt(m.OpticalMedia) + "," + cdrom
	}
	args = append(args, "-drive", cdrom)

	args = append(args,
		"-boot", "order="+BootOrderCode(m.BootOrder),
		"-netdev", "user,id=net0",
		"-device", o.NICModel+",netdev=net0",
		"-monitor", "stdio",
		"-name", m.Name,
	)
	if m.UUID != "" {
		args = append(args, "-uuid", m.UUID)
	}
	return args
}

// DiskIndex maps a hard-disk position to its IDE index, skipping the
// slot held by the optical drive.
func DiskIndex(pos int) int {
	if pos < OpticalIndex {
		return pos
	}
	return pos + 1
}

var bootCodes = map[definition.BootDevice]string{
	definition.BootHardDisk:     "c",
	definition.BootOpticalMedia: "d",
	definition.BootNetwork:      "n",
	definition.BootFloppy:       "a",
	"Hard Disk":                 "c",
	"CD/DVD":                    "d",
	"Optical":                   "d",
	"Floppy Disk":               "a",
}

// BootOrderCode concatenates the codes of recognized boot tags. Unknown
// tags and repeats are dropped, since QEMU refuses a device given twice.
// An empty result falls back to DefaultBootOrder.
func BootOrderCode(order []definition.BootDevice) string {
	var sb strings.Builder
	for _, dev := range order {
		code, ok := bootCodes[dev]
		if !ok || strings.Contains(sb.String(), code) {
			continue
		}
		sb.WriteString(code)
	}
	if sb.Len() == 0 {
		return DefaultBootOrder
	}
	return sb.String()
}

// escapeOpt doubles commas so a path survives QEMU option parsing.
func escapeOpt(s string) string {
	return strings.ReplaceAll(s, ",", ",,")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
