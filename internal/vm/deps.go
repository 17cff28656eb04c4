package vm

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Dependency represents a required external tool.
type Dependency struct {
	Name        string            // Tool name (e.g., "qemu-img")
	Command     string            // Command to check (e.g., "qemu-img")
	Packages    map[string]string // OS -> package name mapping
	Description string            // Human-readable description
	Optional    bool              // Missing optional tools only limit diagnostics
}

// DependencyStatus is the result of checking one dependency.
type DependencyStatus struct {
	Dependency
	Path      string // resolved path when installed
	Installed bool
}

// DependencyManager handles checking and installing dependencies.
type DependencyManager struct {
	hostOS string // "arch", "ubuntu", "debian", "fedora", "macos", etc.
	out    io.Writer
}

// NewDependencyManager creates a dependency manager for the current host.
// Installer output goes to out.
func NewDependencyManager(out io.Writer) *DependencyManager {
	if out == nil {
		out = io.Discard
	}
	return &DependencyManager{
		hostOS: detectHostOS(),
		out:    out,
	}
}

// HostOS returns the detected host distribution id.
func (m *DependencyManager) HostOS() string {
	return m.hostOS
}

func qemuPackages(debian, fedora, arch, suse, brew string) map[string]string {
	return map[string]string{
		"arch":        arch,
		"manjaro":     arch,
		"endeavouros": arch,
		"ubuntu":      debian,
		"debian":      debian,
		"linuxmint":   debian,
		"pop":         debian,
		"fedora":      fedora,
		"rhel":        fedora,
		"centos":      fedora,
		"rocky":       fedora,
		"almalinux":   fedora,
		"opensuse":    suse,
		"suse":        suse,
		"macos":       brew,
	}
}

// HostDependencies lists the external tools the lifecycle uses.
var HostDependencies = []Dependency{
	{
		Name:        "qemu-system-x86_64",
		Command:     "qemu-system-x86_64",
		Description: "Run virtual machines",
		Packages:    qemuPackages("qemu-system-x86", "qemu-system-x86", "qemu-full", "qemu-x86", "qemu"),
	},
	{
		Name:        "qemu-img",
		Command:     "qemu-img",
		Description: "Create, resize, convert and inspect disk images",
		Packages:    qemuPackages("qemu-utils", "qemu-img", "qemu-img", "qemu-tools", "qemu"),
	},
	{
		Name:        "lsmod",
		Command:     "lsmod",
		Description: "Detect the KVM kernel module",
		Packages:    qemuPackages("kmod", "kmod", "kmod", "kmod", ""),
		Optional:    true,
	},
	{
		Name:        "virsh",
		Command:     "virsh",
		Description: "Report the libvirt version",
		Packages:    qemuPackages("libvirt-clients", "libvirt-client", "libvirt", "libvirt-client", "libvirt"),
		Optional:    true,
	},
}

// detectHostOS returns the host OS family.
func detectHostOS() string {
	if runtime.GOOS == "darwin" {
		return "macos"
	}

	// Read /etc/os-release for Linux distros
	data, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return "linux"
	}
	return parseOSRelease(string(data))
}

func parseOSRelease(content string) string {
	lines := strings.Split(content, "\n")

	// Check ID field
	for _, line := range lines {
		if strings.HasPrefix(line, "ID=") {
			return strings.Trim(strings.TrimPrefix(line, "ID="), "\"")
		}
	}

	// Check ID_LIKE for derivatives
	for _, line := range lines {
		if strings.HasPrefix(line, "ID_LIKE=") {
			idLike := strings.Trim(strings.TrimPrefix(line, "ID_LIKE="), "\"")
			switch {
			case strings.Contains(idLike, "arch"):
				return "arch"
			case strings.Contains(idLike, "debian"), strings.Contains(idLike, "ubuntu"):
				return "debian"
			case strings.Contains(idLike, "fedora"), strings.Contains(idLike, "rhel"):
				return "fedora"
			}
		}
	}

	return "linux"
}

// CheckDependency checks if a dependency is installed.
func (m *DependencyManager) CheckDependency(dep Dependency) DependencyStatus {
	path, err := exec.LookPath(dep.Command)
	return DependencyStatus{Dependency: dep, Path: path, Installed: err == nil}
}

// Check returns the status of every dependency in deps.
func (m *DependencyManager) Check(deps []Dependency) []DependencyStatus {
	out := make([]DependencyStatus, 0, len(deps))
	for _, dep := range deps {
		out = append(out, m.CheckDependency(dep))
	}
	return out
}

// installCommand builds the package-manager invocation for pkg.
func (m *DependencyManager) installCommand(pkg string) (*exec.Cmd, error) {
	switch m.hostOS {
	case "arch", "manjaro", "endeavouros":
		return exec.Command("sudo", "pacman", "-S", "--noconfirm", pkg), nil
	case "ubuntu", "debian", "linuxmint", "pop":
		return exec.Command("sudo", "apt-get", "install", "-y", pkg), nil
	case "fedora":
		return exec.Command("sudo", "dnf", "install", "-y", pkg), nil
	case "rhel", "centos", "rocky", "almalinux":
		return exec.Command("sudo", "yum", "install", "-y", pkg), nil
	case "opensuse", "suse":
		return exec.Command("sudo", "zypper", "install", "-y", pkg), nil
	case "macos":
		return exec.Command("brew", "install", pkg), nil
	default:
		return nil, fmt.Errorf("unsupported host OS: %s (install %s manually)", m.hostOS, pkg)
	}
}

// InstallDependency installs a dependency using the appropriate package manager.
func (m *DependencyManager) InstallDependency(dep Dependency) error {
	pkg, ok := dep.Packages[m.hostOS]
	if !ok || pkg == "" {
		return fmt.Errorf("%s is not available on %s", dep.Name, m.hostOS)
	}

	cmd, err := m.installCommand(pkg)
	if err != nil {
		return err
	}
	cmd.Stdout = m.out
	cmd.Stderr = m.out

	fmt.Fprintf(m.out, "Installing %s (%s)...\n", dep.Name, pkg)
	return cmd.Run()
}

// EnsureDependencies installs the required dependencies that are missing.
// Optional ones are skipped.
func (m *DependencyManager) EnsureDependencies(deps []Dependency) error {
	var missing []Dependency
	for _, st := range m.Check(deps) {
		if !st.Installed && !st.Optional {
			missing = append(missing, st.Dependency)
		}
	}

	if len(missing) == 0 {
		return nil
	}

	fmt.Fprintf(m.out, "Installing missing dependencies for %s...\n", m.hostOS)

	for _, dep := range missing {
		if err := m.InstallDependency(dep); err != nil {
			return fmt.Errorf("install %s: %w", dep.Name, err)
		}
	}

	return nil
}
