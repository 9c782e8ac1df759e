package cliexec

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Command is the input to the process executor.
type Command struct {
	Argv     []string
	Dir      string
	Env      map[string]string // merged over the parent env unless ClearEnv
	ClearEnv bool
	Stdin    string
	Timeout  time.Duration
}

// ExecResult captures a finished (or killed) process.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Signal   string
	Killed   bool // true when the timeout fired
}

// Execute spawns the command in its own process group, streams stdout and
// stderr to buffers, and enforces the timeout. A timeout is fatal: the
// whole group is terminated and Killed is set.
func Execute(cmd Command) (*ExecResult, error) {
	if len(cmd.Argv) == 0 {
		return nil, errors.New("exec: empty argv")
	}

	c := exec.Command(cmd.Argv[0], cmd.Argv[1:]...)
	c.Dir = cmd.Dir
	c.Env = buildEnv(cmd)
	setProcGroup(c)

	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	if err := c.Start(); err != nil {
		return nil, err
	}

	res := &ExecResult{}
	waitErr := make(chan error, 1)
	go func() { waitErr <- c.Wait() }()

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var runErr error
	select {
	case runErr = <-waitErr:
	case <-timer.C:
		res.Killed = true
		killProcGroup(c)
		runErr = <-waitErr
	}

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.ExitCode, res.Signal = exitStatus(c, runErr)

	if runErr != nil && res.ExitCode == 0 && !res.Killed {
		// Start succeeded but Wait failed for a non-exit reason (rare: I/O).
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return res, runErr
		}
	}
	return res, nil
}

func buildEnv(cmd Command) []string {
	var env []string
	if !cmd.ClearEnv {
		env = os.Environ()
	}
	for k, v := range cmd.Env {
		env = append(env, k+"="+v)
	}
	return env
}

// logCLICall logs a finished CLI invocation when OPENCLAW_CLAUDE_CLI_LOG_OUTPUT
// is truthy.
func logCLICall(argv []string, res *ExecResult) {
	slog.Debug("cli call",
		"argv", strings.Join(argv, " "),
		"exit", res.ExitCode,
		"killed", res.Killed,
		"stdout", truncateForLog(res.Stdout, 4000),
		"stderr", truncateForLog(res.Stderr, 2000),
	)
}

func truncateForLog(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
