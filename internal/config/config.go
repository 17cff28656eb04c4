package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/javanstorm/qvmctl/internal/qemu"
	"github.com/javanstorm/qvmctl/internal/vm"
	"github.com/javanstorm/qvmctl/pkg/hypervisor"
)

// EnvPrefix prefixes environment overrides: QVMCTL_LOG_LEVEL, QVMCTL_API_ADDR, etc.
const EnvPrefix = "QVMCTL"

// Config holds all qvmctl configuration.
type Config struct {
	// MachinesDir is the root of the definition store.
	MachinesDir string `mapstructure:"machines_dir" yaml:"machines_dir"`

	// DisksDir is where new disk images are created.
	DisksDir string `mapstructure:"disks_dir" yaml:"disks_dir"`

	// HistoryDir holds per-machine run records.
	HistoryDir string `mapstructure:"history_dir" yaml:"history_dir"`

	// Emulator is the emulator executable. Empty means probe
	// EmulatorCandidates on PATH.
	Emulator           string   `mapstructure:"emulator" yaml:"emulator"`
	EmulatorCandidates []string `mapstructure:"emulator_candidates" yaml:"emulator_candidates"`

	// QemuImg is the disk image tool.
	QemuImg string `mapstructure:"qemu_img" yaml:"qemu_img"`

	// Baseline emulator settings shared by every machine.
	MachineType  string `mapstructure:"machine_type" yaml:"machine_type"`
	Accel        string `mapstructure:"accel" yaml:"accel"`
	CPUModel     string `mapstructure:"cpu_model" yaml:"cpu_model"`
	Display      string `mapstructure:"display" yaml:"display"`
	AudioBackend string `mapstructure:"audio_backend" yaml:"audio_backend"`
	AudioDevice  string `mapstructure:"audio_device" yaml:"audio_device"`
	NICModel     string `mapstructure:"nic_model" yaml:"nic_model"`

	StartTimeout      time.Duration `mapstructure:"start_timeout" yaml:"start_timeout"`
	StopTimeout       time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	KillTimeout       time.Duration `mapstructure:"kill_timeout" yaml:"kill_timeout"`
	ImageTimeout      time.Duration `mapstructure:"image_timeout" yaml:"image_timeout"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval" yaml:"reconcile_interval"`

	// LibvirtSocket is used by doctor to report the libvirt version.
	LibvirtSocket string `mapstructure:"libvirt_socket" yaml:"libvirt_socket"`

	// APIAddr is the listen address of serve and the target of the
	// lifecycle commands.
	APIAddr string `mapstructure:"api_addr" yaml:"api_addr"`

	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" yaml:"log_json"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	paths, err := GetPaths()
	if err != nil {
		// Fallback if we can't determine home directory
		paths = &Paths{
			DataDir: "/tmp/qvmctl",
		}
	}
	return defaultsFor(paths)
}

func defaultsFor(paths *Paths) *Config {
	return &Config{
		MachinesDir:        paths.MachinesDir(),
		DisksDir:           paths.DisksDir(),
		HistoryDir:         paths.HistoryDir(),
		Emulator:           "",
		EmulatorCandidates: append([]string(nil), hypervisor.DefaultEmulatorCandidates...),
		QemuImg:            vm.DefaultImageTool,
		MachineType:        qemu.DefaultMachineType,
		Accel:              qemu.DefaultAccel,
		CPUModel:           qemu.DefaultCPUModel,
		Display:            qemu.DefaultDisplay,
		AudioBackend:       qemu.DefaultAudioBackend,
		AudioDevice:        qemu.DefaultAudioDevice,
		NICModel:           qemu.DefaultNICModel,
		StartTimeout:       hypervisor.DefaultStartTimeout,
		StopTimeout:        hypervisor.DefaultStopTimeout,
		KillTimeout:        hypervisor.DefaultKillTimeout,
		ImageTimeout:       vm.DefaultImageTimeout,
		ReconcileInterval:  vm.DefaultReconcileInterval,
		LibvirtSocket:      hypervisor.DefaultLibvirtSocket,
		APIAddr:            "127.0.0.1:8470",
		LogLevel:           "info",
		LogJSON:            false,
	}
}

// Global holds the loaded configuration.
var Global *Config

// Load reads configuration from file, environment, and defaults into Global.
func Load() error {
	paths, err := GetPaths()
	if err != nil {
		return fmt.Errorf("failed to determine paths: %w", err)
	}

	cfg, err := LoadWith(viper.GetViper(), paths)
	if err != nil {
		return err
	}
	Global = cfg
	return nil
}

// LoadWith reads configuration through v, looking for config.yaml in the
// data directory and then the config directory.
func LoadWith(v *viper.Viper, paths *Paths) (*Config, error) {
	// Set defaults
	defaults := defaultsFor(paths)
	v.SetDefault("machines_dir", defaults.MachinesDir)
	v.SetDefault("disks_dir", defaults.DisksDir)
	v.SetDefault("history_dir", defaults.HistoryDir)
	v.SetDefault("emulator", defaults.Emulator)
	v.SetDefault("emulator_candidates", defaults.EmulatorCandidates)
	v.SetDefault("qemu_img", defaults.QemuImg)
	v.SetDefault("machine_type", defaults.MachineType)
	v.SetDefault("accel", defaults.Accel)
	v.SetDefault("cpu_model", defaults.CPUModel)
	v.SetDefault("display", defaults.Display)
	v.SetDefault("audio_backend", defaults.AudioBackend)
	v.SetDefault("audio_device", defaults.AudioDevice)
	v.SetDefault("nic_model", defaults.NICModel)
	v.SetDefault("start_timeout", defaults.StartTimeout)
	v.SetDefault("stop_timeout", defaults.StopTimeout)
	v.SetDefault("kill_timeout", defaults.KillTimeout)
	v.SetDefault("image_timeout", defaults.ImageTimeout)
	v.SetDefault("reconcile_interval", defaults.ReconcileInterval)
	v.SetDefault("libvirt_socket", defaults.LibvirtSocket)
	v.SetDefault("api_addr", defaults.APIAddr)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_json", defaults.LogJSON)

	// Config file settings
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(paths.DataDir)
	v.AddConfigPath(paths.ConfigDir)

	// Environment variable support: QVMCTL_API_ADDR, QVMCTL_LOG_LEVEL, etc.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional - not an error if missing)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// ConfigFileUsed returns the path of the config file being used, if any.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// BuilderOptions returns the command-line baseline for qemu.NewBuilder.
func (c *Config) BuilderOptions(emulator string) qemu.Options {
	return qemu.Options{
		Emulator:     emulator,
		MachineType:  c.MachineType,
		Accel:        c.Accel,
		CPUModel:     c.CPUModel,
		Display:      c.Display,
		AudioBackend: c.AudioBackend,
		AudioDevice:  c.AudioDevice,
		NICModel:     c.NICModel,
	}
}

// SupervisorConfig returns the process supervisor settings.
func (c *Config) SupervisorConfig() hypervisor.Config {
	return hypervisor.Config{
		Executable:   c.Emulator,
		StartTimeout: c.StartTimeout,
		StopTimeout:  c.StopTimeout,
		KillTimeout:  c.KillTimeout,
	}
}

// ImageConfig returns the disk image tool settings.
func (c *Config) ImageConfig() vm.ImageConfig {
	return vm.ImageConfig{
		Tool:    c.QemuImg,
		Timeout: c.ImageTimeout,
	}
}
