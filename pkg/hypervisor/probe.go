package hypervisor

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/digitalocean/go-libvirt"
)

// DefaultEmulatorCandidates are probed in order by FindEmulator.
var DefaultEmulatorCandidates = []string{
	"qemu-system-x86_64",
	"qemu-kvm",
	"/usr/bin/qemu-system-x86_64",
	"/usr/bin/qemu-kvm",
	"/usr/local/bin/qemu-system-x86_64",
}

// DefaultLibvirtSocket is the system libvirtd socket.
const DefaultLibvirtSocket = "/var/run/libvirt/libvirt-sock"

const probeTimeout = 3 * time.Second

var versionRe = regexp.MustCompile(`version (\d+\.\d+(?:\.\d+)?)`)

// FindEmulator returns the first candidate that resolves on PATH and
// answers --version successfully.
func FindEmulator(ctx context.Context, candidates []string) (string, error) {
	if len(candidates) == 0 {
		candidates = DefaultEmulatorCandidates
	}
	for _, c := range candidates {
		path, err := exec.LookPath(c)
		if err != nil {
			continue
		}
		if _, err := runProbe(ctx, path, "--version"); err != nil {
			continue
		}
		return path, nil
	}
	return "", fmt.Errorf("%w: tried %s", ErrExecutableUnavailable, strings.Join(candidates, ", "))
}

// EmulatorVersion runs exe --version and extracts the version number.
func EmulatorVersion(ctx context.Context, exe string) (string, error) {
	out, err := runProbe(ctx, exe, "--version")
	if err != nil {
		return "", err
	}
	return parseVersion(out)
}

func parseVersion(out string) (string, error) {
	m := versionRe.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("no version in output %q", firstLine(out))
	}
	return m[1], nil
}

// KVMModuleLoaded checks lsmod for a kvm module, falling back to
// /proc/modules when lsmod is unavailable.
func KVMModuleLoaded(ctx context.Context) bool {
	if out, err := runProbe(ctx, "lsmod"); err == nil {
		return hasKVMModule(out)
	}
	data, err := os.ReadFile("/proc/modules")
	if err != nil {
		return false
	}
	return hasKVMModule(string(data))
}

func hasKVMModule(listing string) bool {
	for _, line := range strings.Split(listing, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && strings.HasPrefix(fields[0], "kvm") {
			return true
		}
	}
	return false
}

// KVMDeviceAvailable reports whether /dev/kvm exists.
func KVMDeviceAvailable() bool {
	_, err := os.Stat("/dev/kvm")
	return err == nil
}

// VirshAvailable reports whether the libvirt CLI is on PATH.
func VirshAvailable() bool {
	_, err := exec.LookPath("virsh")
	return err == nil
}

// LibvirtVersion connects to the libvirt daemon socket and returns its
// library version as major.minor.release.
func LibvirtVersion(ctx context.Context, socket string) (string, error) {
	if socket == "" {
		socket = DefaultLibvirtSocket
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socket)
	if err != nil {
		return "", fmt.Errorf("dial libvirt socket %s: %w", socket, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	l := libvirt.New(conn)
	if err := l.Connect(); err != nil {
		conn.Close()
		return "", fmt.Errorf("connect to libvirt: %w", err)
	}
	defer l.Disconnect()

	v, err := l.ConnectGetLibVersion()
	if err != nil {
		return "", fmt.Errorf("get libvirt version: %w", err)
	}
	return formatLibvirtVersion(v), nil
}

// formatLibvirtVersion decodes major*1000000 + minor*1000 + release.
func formatLibvirtVersion(v uint64) string {
	return fmt.Sprintf("%d.%d.%d", v/1000000, (v/1000)%1000, v%1000)
}

// runProbe runs a short host command with a fixed timeout.
func runProbe(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("%s: %w", name, err)
	}
	return out.String(), nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
