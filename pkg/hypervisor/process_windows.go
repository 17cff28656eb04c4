//go:build windows

package hypervisor

import (
	"os"
	"os/exec"
)

func configureCommand(cmd *exec.Cmd) {}

// terminate has no graceful equivalent on Windows.
func terminate(p *os.Process) error {
	return p.Kill()
}

func kill(p *os.Process) error {
	return p.Kill()
}

func exitInfo(state *os.ProcessState) (code int, signaled bool) {
	if state == nil {
		return -1, false
	}
	return state.ExitCode(), false
}
