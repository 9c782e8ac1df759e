package cliexec

import (
	"sort"
	"strings"
)

// defaultSandboxPath is prepended so the backend binary resolves inside a
// minimal container image.
const defaultSandboxPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// shellQuote single-quotes one token for sh. Every embedded single quote is
// rewritten as '\''. Untrusted prompt contents must never be interpretable
// by the shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// shellJoin renders argv as a shell command line with every token quoted.
func shellJoin(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

// wrapSandbox rewrites argv to run inside the sandbox container:
//
//	docker exec -i [-w <workdir>] [-e K=V]... <container> sh -lc '<cmd>'
//
// Environment is the union of the default PATH, caller env, container env,
// and backend overrides (later entries win). Keys are emitted sorted so the
// command line is deterministic.
func wrapSandbox(argv []string, sb *SandboxContext, callerEnv, backendOverrides map[string]string) []string {
	env := map[string]string{"PATH": defaultSandboxPath}
	for k, v := range callerEnv {
		env[k] = v
	}
	for k, v := range sb.Env {
		env[k] = v
	}
	for k, v := range backendOverrides {
		env[k] = v
	}

	out := []string{"docker", "exec", "-i"}
	if sb.Workdir != "" {
		out = append(out, "-w", sb.Workdir)
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, "-e", k+"="+env[k])
	}
	out = append(out, sb.Container, "sh", "-lc", shellJoin(argv))
	return out
}
