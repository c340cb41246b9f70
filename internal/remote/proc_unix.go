//go:build unix

package remote

import (
	"os/exec"
	"syscall"
)

// killProcessGroup makes cancellation kill the whole process tree, so
// children of the shell do not keep output pipes open after a timeout.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
