package cliexec

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nextlevelbuilder/openclaw/internal/backend"
	"github.com/nextlevelbuilder/openclaw/internal/config"
)

// TranscriptAppender receives the tool events of a finished run. Appending
// is best-effort; implementations log and swallow their own errors.
type TranscriptAppender interface {
	AppendRun(sessionFile, sessionKey, workspaceDir, text string, usage Usage, toolUses []ToolUseEvent, toolResults []ToolResultEvent)
}

// Runner drives the full CLI pipeline: resolve backend, serialize on the
// run queue, sweep stale processes, execute, classify failures, parse
// output, and append tool events to the session transcript.
type Runner struct {
	resolver    *backend.Resolver
	queue       *RunQueue
	transcripts TranscriptAppender
}

// NewRunner wires a runner. transcripts may be nil.
func NewRunner(resolver *backend.Resolver, queue *RunQueue, transcripts TranscriptAppender) *Runner {
	return &Runner{resolver: resolver, queue: queue, transcripts: transcripts}
}

var tracer = otel.Tracer("github.com/nextlevelbuilder/openclaw/internal/cliexec")

// Run executes one CLI invocation and returns the parsed result.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	backendID, spec, err := r.resolver.Resolve(req.Provider)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "cli.run")
	span.SetAttributes(
		attribute.String("backend", backendID),
		attribute.String("model", req.Model),
		attribute.String("session_key", req.SessionKey),
		attribute.String("run_id", req.RunID),
	)
	defer span.End()

	var result *RunResult
	key := QueueKey(backendID, spec.Serialize, req.RunID)
	err = r.queue.Do(ctx, key, func() error {
		CleanupStaleProcesses(spec, req.CLISessionID)
		var runErr error
		result, runErr = r.runOnce(spec, req)
		return runErr
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return result, nil
}

func (r *Runner) runOnce(spec *backend.Spec, req RunRequest) (*RunResult, error) {
	argv, stdin := BuildArgv(spec, req)

	if req.Sandbox != nil && req.Sandbox.Enabled &&
		(spec.SandboxMode == backend.SandboxInherit || spec.SandboxMode == backend.SandboxAlways) {
		argv = wrapSandbox(argv, req.Sandbox, spec.Env, spec.SandboxOverrides)
	}

	res, err := Execute(Command{
		Argv:     argv,
		Dir:      req.WorkspaceDir,
		Env:      spec.Env,
		ClearEnv: spec.ClearEnv,
		Stdin:    stdin,
		Timeout:  req.Timeout(),
	})
	if err != nil {
		return nil, err
	}

	if config.CLILogOutput() {
		logCLICall(argv, res)
	}

	if res.Killed {
		return nil, &FailoverError{
			Reason:   ReasonTimeout,
			Provider: req.Provider,
			Model:    req.Model,
			Status:   res.ExitCode,
			Message:  "process killed after timeout",
		}
	}
	if res.ExitCode != 0 {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = strings.TrimSpace(res.Stdout)
		}
		return nil, &FailoverError{
			Reason:   ClassifyFailoverReason(msg),
			Provider: req.Provider,
			Model:    req.Model,
			Status:   res.ExitCode,
			Message:  truncateForLog(msg, 500),
		}
	}

	mode := spec.Output
	if req.CLISessionID != "" && spec.ResumeOutput != "" {
		mode = spec.ResumeOutput
	}

	parsed, parseErr := ParseOutput(mode, res.Stdout, spec.SessionFields())
	if parseErr != nil {
		// Unparseable output is not fatal: fall back to raw text.
		slog.Warn("cli output unparseable, using raw text",
			"provider", req.Provider, "mode", mode, "error", parseErr)
		parsed = &RunResult{Text: strings.TrimSpace(res.Stdout)}
	}
	parsed.Stderr = res.Stderr
	if parsed.CLISessionID == "" {
		parsed.CLISessionID = req.CLISessionID
	}

	if r.transcripts != nil && len(parsed.ToolUses)+len(parsed.ToolResults) > 0 {
		r.transcripts.AppendRun(req.SessionFile, req.SessionKey, req.WorkspaceDir,
			parsed.Text, parsed.Usage, parsed.ToolUses, parsed.ToolResults)
	}
	return parsed, nil
}

// BuildArgv assembles the command line and stdin payload for one request.
func BuildArgv(spec *backend.Spec, req RunRequest) (argv []string, stdin string) {
	resume := req.CLISessionID != "" && resumeSupported(spec)

	argv = append(argv, spec.Command)
	argv = append(argv, spec.Args...)
	if resume {
		for _, a := range spec.ResumeArgs {
			argv = append(argv, strings.ReplaceAll(a, "{sessionId}", req.CLISessionID))
		}
	}

	if spec.ModelArg != "" && req.Model != "" {
		argv = append(argv, spec.ModelArg, spec.NormalizeModel(req.Model))
	}

	if spec.SystemPromptArg != "" && req.SystemPrompt != "" {
		switch spec.SystemPromptWhen {
		case backend.SystemPromptAlways:
			argv = append(argv, spec.SystemPromptArg, req.SystemPrompt)
		case backend.SystemPromptFirst:
			if !resume {
				argv = append(argv, spec.SystemPromptArg, req.SystemPrompt)
			}
		}
	}

	if sid := sessionIDForArgs(spec, req, resume); sid != "" {
		if len(spec.SessionArgs) > 0 {
			for _, a := range spec.SessionArgs {
				argv = append(argv, strings.ReplaceAll(a, "{sessionId}", sid))
			}
		} else if spec.SessionArg != "" {
			argv = append(argv, spec.SessionArg, sid)
		}
	}

	if spec.ImageArg != "" && len(req.Images) > 0 {
		if spec.ImageMode == "list" {
			argv = append(argv, spec.ImageArg, strings.Join(req.Images, ","))
		} else {
			for _, img := range req.Images {
				argv = append(argv, spec.ImageArg, img)
			}
		}
	}

	// Interaction resumption: the answer travels as a tool_result line on
	// stdin instead of a prompt.
	if req.ToolResult != nil && resume {
		line, _ := json.Marshal(map[string]interface{}{
			"type":        "tool_result",
			"tool_use_id": req.ToolResult.ToolUseID,
			"content":     req.ToolResult.Content,
		})
		return argv, string(line) + "\n"
	}

	if spec.Input == backend.InputStdin {
		return argv, req.Prompt
	}
	if spec.MaxPromptArgChars > 0 && len(req.Prompt) > spec.MaxPromptArgChars {
		return argv, req.Prompt
	}
	argv = append(argv, req.Prompt)
	return argv, ""
}

func sessionIDForArgs(spec *backend.Spec, req RunRequest, resume bool) string {
	switch spec.SessionMode {
	case backend.SessionAlways:
		if req.CLISessionID != "" {
			return req.CLISessionID
		}
		return req.SessionID
	case backend.SessionExisting:
		if resume {
			// Resume args already carry the id when they reference it.
			return ""
		}
		if req.CLISessionID != "" {
			return req.CLISessionID
		}
	}
	return ""
}
