//go:build !windows

package hypervisor

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// configureCommand puts the emulator in its own process group so a
// terminal interrupt reaches only this program.
func configureCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminate(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}

// kill signals the whole process group, falling back to the process.
func kill(p *os.Process) error {
	if err := syscall.Kill(-p.Pid, syscall.SIGKILL); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return p.Kill()
		}
		return err
	}
	return nil
}

// exitInfo reports the exit code, using 128+signal for signaled exits.
func exitInfo(state *os.ProcessState) (code int, signaled bool) {
	if state == nil {
		return -1, false
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal()), true
	}
	return state.ExitCode(), false
}
