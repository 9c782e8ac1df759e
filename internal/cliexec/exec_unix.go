//go:build !windows

package cliexec

import (
	"errors"
	"os/exec"
	"syscall"
)

// setProcGroup puts the child in its own process group so a timeout kill
// reaps the whole tree, not just the direct child.
func setProcGroup(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcGroup force-kills the child's process group.
func killProcGroup(c *exec.Cmd) {
	if c.Process == nil {
		return
	}
	if pgid, err := syscall.Getpgid(c.Process.Pid); err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		return
	}
	_ = c.Process.Kill()
}

// exitStatus extracts the exit code and terminating signal name.
func exitStatus(c *exec.Cmd, runErr error) (int, string) {
	if c.ProcessState == nil {
		return -1, ""
	}
	ws, ok := c.ProcessState.Sys().(syscall.WaitStatus)
	if ok && ws.Signaled() {
		return -1, ws.Signal().String()
	}
	code := c.ProcessState.ExitCode()
	if code == 0 && runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			code = exitErr.ExitCode()
		}
	}
	return code, ""
}
