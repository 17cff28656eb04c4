// Package testutil provides common test helpers for qvmctl tests.
package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"
)

// EmulatorMode selects how a fake emulator behaves once started.
type EmulatorMode int

const (
	// EmulatorRuns loops until SIGTERM, then exits 0.
	EmulatorRuns EmulatorMode = iota
	// EmulatorIgnoresTerm loops and ignores SIGTERM; only a kill stops it.
	EmulatorIgnoresTerm
	// EmulatorFails writes to stderr and exits 3 immediately.
	EmulatorFails
	// EmulatorExitsClean exits 0 immediately.
	EmulatorExitsClean
)

const versionClause = `if [ "$1" = "--version" ]; then
  echo "QEMU emulator version 8.2.2 (fake)"
  exit 0
fi
`

// RequireShell skips the test on hosts without a POSIX shell.
func RequireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake executables need a POSIX shell")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
}

// FakeEmulator writes an executable shell script that stands in for the
// emulator and returns its path. Each invocation records its arguments,
// one per line, in ArgsFile(path). The looping modes append their PID to
// ReadyFile(path) once their TERM handling is in place.
func FakeEmulator(t *testing.T, mode EmulatorMode) string {
	t.Helper()
	RequireShell(t)

	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	ready := `echo $$ >> "` + filepath.Join(dir, "ready") + `"
`

	body := versionClause + `printf '%s\n' "$@" > "` + argsFile + `"
`
	switch mode {
	case EmulatorRuns:
		body += `trap 'exit 0' TERM
` + ready + `while :; do sleep 0.05; done
`
	case EmulatorIgnoresTerm:
		body += `trap '' TERM
` + ready + `while :; do sleep 0.05; done
`
	case EmulatorFails:
		body += `echo "qemu: could not open disk image" >&2
exit 3
`
	case EmulatorExitsClean:
		body += "exit 0\n"
	}

	return WriteScript(t, dir, "qemu-system-x86_64", body)
}

// ArgsFile returns where a fake emulator records its arguments.
func ArgsFile(exe string) string {
	return filepath.Join(filepath.Dir(exe), "args")
}

// ReadyFile returns where a looping fake emulator records its PID once
// it handles SIGTERM.
func ReadyFile(exe string) string {
	return filepath.Join(filepath.Dir(exe), "ready")
}

// WaitReady blocks until the fake emulator process pid has installed its
// signal handling. Signals sent earlier hit the shell's default action.
func WaitReady(t *testing.T, exe string, pid int) {
	t.Helper()
	want := strconv.Itoa(pid)
	Eventually(t, 5*time.Second, func() bool {
		data, err := os.ReadFile(ReadyFile(exe))
		if err != nil {
			return false
		}
		for _, line := range strings.Split(string(data), "\n") {
			if strings.TrimSpace(line) == want {
				return true
			}
		}
		return false
	}, "fake emulator never became ready")
}

// ImageToolMode selects the behavior of a fake disk-image tool.
type ImageToolMode int

const (
	// ImageToolWorks creates output files and answers info queries.
	ImageToolWorks ImageToolMode = iota
	// ImageToolFails exits 1 with a message on stderr.
	ImageToolFails
	// ImageToolHangs never returns on its own.
	ImageToolHangs
	// ImageToolPartial creates the output file, then fails.
	ImageToolPartial
)

// FakeImageTool writes a stand-in for qemu-img and returns its path.
func FakeImageTool(t *testing.T, mode ImageToolMode) string {
	t.Helper()
	RequireShell(t)

	var body string
	switch mode {
	case ImageToolWorks:
		body = `case "$1" in
create)
  eval "path=\${$(($# - 1))}"
  : > "$path"
  ;;
convert)
  eval "dst=\${$#}"
  : > "$dst"
  ;;
resize)
  ;;
info)
  eval "path=\${$#}"
  printf '{"filename":"%s","format":"qcow2","virtual-size":21474836480,"actual-size":196608}\n' "$path"
  ;;
*)
  echo "qemu-img: unknown command $1" >&2
  exit 1
  ;;
esac
`
	case ImageToolFails:
		body = `echo "qemu-img: Could not create image: Permission denied" >&2
exit 1
`
	case ImageToolHangs:
		body = "exec sleep 30\n"
	case ImageToolPartial:
		body = `eval "path=\${$(($# - 1))}"
: > "$path"
echo "qemu-img: disk full" >&2
exit 1
`
	}

	return WriteScript(t, t.TempDir(), "qemu-img", body)
}

// WriteScript writes an executable /bin/sh script named name into dir.
func WriteScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatalf("failed to write script %s: %v", path, err)
	}
	return path
}

// Eventually polls cond until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out after %s: %s", timeout, msg)
}

// CreateTestDisk creates a sparse disk file at the given path with the specified size.
// The file is created as a sparse file, so it doesn't actually allocate all the space.
func CreateTestDisk(t *testing.T, path string, sizeMB int64) {
	t.Helper()

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create directory %s: %v", dir, err)
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create test disk at %s: %v", path, err)
	}
	defer f.Close()

	// Create sparse file by truncating to desired size
	sizeBytes := sizeMB * 1024 * 1024
	if err := f.Truncate(sizeBytes); err != nil {
		t.Fatalf("failed to truncate test disk to %d bytes: %v", sizeBytes, err)
	}
}
