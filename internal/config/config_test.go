package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func testPaths(t *testing.T) *Paths {
	t.Helper()
	dir := t.TempDir()
	return &Paths{
		DataDir:    filepath.Join(dir, "data"),
		ConfigDir:  filepath.Join(dir, "config"),
		ConfigFile: filepath.Join(dir, "data", "config.yaml"),
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig should not return nil")
	}
	if cfg.MachineType != "pc" || cfg.Accel != "kvm:tcg" || cfg.CPUModel != "qemu64" {
		t.Errorf("baseline = %s/%s/%s", cfg.MachineType, cfg.Accel, cfg.CPUModel)
	}
	if cfg.StartTimeout != 5*time.Second || cfg.StopTimeout != 10*time.Second || cfg.KillTimeout != 3*time.Second {
		t.Errorf("timeouts = %s/%s/%s", cfg.StartTimeout, cfg.StopTimeout, cfg.KillTimeout)
	}
	if cfg.ImageTimeout != 30*time.Second {
		t.Errorf("ImageTimeout = %s, want 30s", cfg.ImageTimeout)
	}
	if cfg.ReconcileInterval != 5*time.Second {
		t.Errorf("ReconcileInterval = %s, want 5s", cfg.ReconcileInterval)
	}
	if cfg.APIAddr != "127.0.0.1:8470" {
		t.Errorf("APIAddr = %q", cfg.APIAddr)
	}
	if len(cfg.EmulatorCandidates) == 0 {
		t.Error("EmulatorCandidates should not be empty")
	}
	if !strings.HasSuffix(cfg.MachinesDir, "machines") {
		t.Errorf("MachinesDir = %q", cfg.MachinesDir)
	}
}

func TestLoadDefaults(t *testing.T) {
	paths := testPaths(t)
	cfg, err := LoadWith(viper.New(), paths)
	if err != nil {
		t.Fatalf("LoadWith failed: %v", err)
	}

	if cfg.MachinesDir != filepath.Join(paths.DataDir, "machines") {
		t.Errorf("MachinesDir = %q", cfg.MachinesDir)
	}
	if cfg.DisksDir != filepath.Join(paths.DataDir, "disks") {
		t.Errorf("DisksDir = %q", cfg.DisksDir)
	}
	if cfg.StopTimeout != 10*time.Second {
		t.Errorf("StopTimeout = %s, want 10s", cfg.StopTimeout)
	}
	if cfg.LogLevel != "info" || cfg.LogJSON {
		t.Errorf("logging = %q json=%v", cfg.LogLevel, cfg.LogJSON)
	}
}

func TestLoadFromFile(t *testing.T) {
	paths := testPaths(t)
	if err := os.MkdirAll(paths.DataDir, 0755); err != nil {
		t.Fatal(err)
	}
	content := `machines_dir: /srv/vms
stop_timeout: 2s
emulator_candidates:
  - qemu-kvm
log_json: true
`
	if err := os.WriteFile(paths.ConfigFile, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	v := viper.New()
	cfg, err := LoadWith(v, paths)
	if err != nil {
		t.Fatalf("LoadWith failed: %v", err)
	}
	if v.ConfigFileUsed() != paths.ConfigFile {
		t.Errorf("ConfigFileUsed = %q, want %q", v.ConfigFileUsed(), paths.ConfigFile)
	}
	if cfg.MachinesDir != "/srv/vms" {
		t.Errorf("MachinesDir = %q", cfg.MachinesDir)
	}
	if cfg.StopTimeout != 2*time.Second {
		t.Errorf("StopTimeout = %s, want 2s", cfg.StopTimeout)
	}
	if len(cfg.EmulatorCandidates) != 1 || cfg.EmulatorCandidates[0] != "qemu-kvm" {
		t.Errorf("EmulatorCandidates = %v", cfg.EmulatorCandidates)
	}
	if !cfg.LogJSON {
		t.Error("LogJSON should be true")
	}
	// Untouched keys keep defaults.
	if cfg.KillTimeout != 3*time.Second {
		t.Errorf("KillTimeout = %s, want 3s", cfg.KillTimeout)
	}
}

func TestLoadFromConfigDir(t *testing.T) {
	paths := testPaths(t)
	if err := os.MkdirAll(paths.ConfigDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(paths.ConfigDir, "config.yaml"), []byte("accel: tcg\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadWith(viper.New(), paths)
	if err != nil {
		t.Fatalf("LoadWith failed: %v", err)
	}
	if cfg.Accel != "tcg" {
		t.Errorf("Accel = %q, want tcg", cfg.Accel)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("QVMCTL_API_ADDR", "127.0.0.1:9999")
	t.Setenv("QVMCTL_START_TIMEOUT", "750ms")

	cfg, err := LoadWith(viper.New(), testPaths(t))
	if err != nil {
		t.Fatalf("LoadWith failed: %v", err)
	}
	if cfg.APIAddr != "127.0.0.1:9999" {
		t.Errorf("APIAddr = %q", cfg.APIAddr)
	}
	if cfg.StartTimeout != 750*time.Millisecond {
		t.Errorf("StartTimeout = %s, want 750ms", cfg.StartTimeout)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	paths := testPaths(t)
	if err := os.MkdirAll(paths.DataDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(paths.ConfigFile, []byte("machines_dir: [unterminated\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadWith(viper.New(), paths); err == nil {
		t.Error("LoadWith should fail on malformed YAML")
	}
}

func TestDerivedOptions(t *testing.T) {
	cfg := defaultsFor(testPaths(t))
	cfg.Emulator = "/usr/bin/qemu-system-x86_64"
	cfg.NICModel = "virtio-net-pci"

	b := cfg.BuilderOptions("/opt/qemu")
	if b.Emulator != "/opt/qemu" || b.NICModel != "virtio-net-pci" {
		t.Errorf("BuilderOptions = %+v", b)
	}
	s := cfg.SupervisorConfig()
	if s.Executable != cfg.Emulator || s.StopTimeout != cfg.StopTimeout {
		t.Errorf("SupervisorConfig = %+v", s)
	}
	i := cfg.ImageConfig()
	if i.Tool != "qemu-img" || i.Timeout != 30*time.Second {
		t.Errorf("ImageConfig = %+v", i)
	}
}

func TestGetPaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "xdg"))

	paths, err := GetPaths()
	if err != nil {
		t.Fatalf("GetPaths failed: %v", err)
	}

	if paths.DataDir != filepath.Join(home, ".qvmctl") {
		t.Errorf("DataDir = %q", paths.DataDir)
	}
	if paths.ConfigFile != filepath.Join(home, ".qvmctl", "config.yaml") {
		t.Errorf("ConfigFile = %q", paths.ConfigFile)
	}
	if paths.ConfigDir == "" {
		t.Error("ConfigDir should not be empty")
	}
	if paths.HistoryDir() != filepath.Join(home, ".qvmctl", "history") {
		t.Errorf("HistoryDir = %q", paths.HistoryDir())
	}

	if err := paths.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{paths.DataDir, paths.ConfigDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("%s not created: %v", dir, err)
		}
	}
}
