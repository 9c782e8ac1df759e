//go:build windows

package cliexec

import "os/exec"

func setProcGroup(c *exec.Cmd) {}

func killProcGroup(c *exec.Cmd) {
	if c.Process != nil {
		_ = c.Process.Kill()
	}
}

func exitStatus(c *exec.Cmd, runErr error) (int, string) {
	if c.ProcessState == nil {
		return -1, ""
	}
	return c.ProcessState.ExitCode(), ""
}
