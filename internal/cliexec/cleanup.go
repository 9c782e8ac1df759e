package cliexec

import (
	"log/slog"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	"github.com/nextlevelbuilder/openclaw/internal/backend"
)

// stoppedThreshold is the number of suspended backend processes tolerated
// before a sweep force-kills them. Suspended CLIs pile up when a terminal
// sends SIGTSTP to a streaming child.
const stoppedThreshold = 10

// processLister returns raw `ps -ax`-style lines. Overridable in tests.
var processLister = listProcesses

// processKiller force-kills a pid. Overridable in tests.
var processKiller = forceKill

func listProcesses() []string {
	if runtime.GOOS == "windows" {
		return nil
	}
	out, err := exec.Command("ps", "-ax").Output()
	if err != nil {
		slog.Debug("process listing failed", "error", err)
		return nil
	}
	return strings.Split(string(out), "\n")
}

func forceKill(pid int) {
	if runtime.GOOS == "windows" {
		return
	}
	_ = exec.Command("kill", "-9", strconv.Itoa(pid)).Run()
}

// CleanupStaleProcesses sweeps leftover backend processes before a run:
//
//  1. Suspended processes (state contains "T") matching the backend command
//     are force-killed once their count exceeds the threshold.
//  2. On resume, any process whose command line matches the resume argv for
//     this session id is killed so the session file is not contended.
func CleanupStaleProcesses(spec *backend.Spec, cliSessionID string) {
	lines := processLister()
	if len(lines) == 0 {
		return
	}

	killStopped(lines, spec.Command)

	if cliSessionID != "" && resumeSupported(spec) {
		killResumeHolders(lines, spec, cliSessionID)
	}
}

func resumeSupported(spec *backend.Spec) bool {
	for _, a := range spec.ResumeArgs {
		if strings.Contains(a, "{sessionId}") {
			return true
		}
	}
	return false
}

// psEntry is one parsed `ps -ax` line: PID TTY STAT TIME COMMAND.
type psEntry struct {
	pid     int
	state   string
	command string
}

func parsePSLine(line string) (psEntry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return psEntry{}, false
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return psEntry{}, false
	}
	return psEntry{pid: pid, state: fields[2], command: strings.Join(fields[4:], " ")}, true
}

func killStopped(lines []string, command string) {
	var stopped []psEntry
	for _, line := range lines {
		e, ok := parsePSLine(line)
		if !ok {
			continue
		}
		if strings.Contains(e.state, "T") && strings.Contains(e.command, command) {
			stopped = append(stopped, e)
		}
	}
	if len(stopped) <= stoppedThreshold {
		return
	}
	slog.Warn("killing suspended backend processes", "command", command, "count", len(stopped))
	for _, e := range stopped {
		processKiller(e.pid)
	}
}

func killResumeHolders(lines []string, spec *backend.Spec, cliSessionID string) {
	resume := make([]string, len(spec.ResumeArgs))
	for i, a := range spec.ResumeArgs {
		resume[i] = strings.ReplaceAll(a, "{sessionId}", cliSessionID)
	}
	pattern := regexp.QuoteMeta(spec.Command) + ".*" + regexp.QuoteMeta(strings.Join(resume, " "))
	re, err := regexp.Compile(pattern)
	if err != nil {
		return
	}
	for _, line := range lines {
		e, ok := parsePSLine(line)
		if !ok {
			continue
		}
		if re.MatchString(e.command) {
			slog.Warn("killing stale resume process", "pid", e.pid, "session", cliSessionID)
			processKiller(e.pid)
		}
	}
}
