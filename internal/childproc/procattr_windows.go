//go:build windows

package childproc

import (
	"os/exec"
	"syscall"
)

// setProcessGroup is a no-op on Windows: there is no POSIX process-group
// concept, so child processes are tracked and killed individually.
func setProcessGroup(cmd *exec.Cmd) {}

func signalProcessGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
