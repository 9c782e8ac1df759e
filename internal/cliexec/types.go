// Package cliexec runs external LLM CLIs: per-backend serialization,
// process execution with timeout and sandbox wrapping, and parsing of the
// four backend output modes into assistant text, tool events, and pending
// interaction requests.
package cliexec

import "time"

// Usage is rolling token usage accumulated across parsed events.
type Usage struct {
	InputTokens      int64 `json:"input_tokens,omitempty"`
	OutputTokens     int64 `json:"output_tokens,omitempty"`
	CacheReadTokens  int64 `json:"cache_read_input_tokens,omitempty"`
	CacheWriteTokens int64 `json:"cache_write_input_tokens,omitempty"`
	TotalTokens      int64 `json:"total_tokens,omitempty"`
}

// Merge accumulates counts from another usage block.
func (u *Usage) Merge(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheWriteTokens += other.CacheWriteTokens
	u.TotalTokens += other.TotalTokens
}

// IsZero reports whether no counts were recorded.
func (u Usage) IsZero() bool {
	return u == Usage{}
}

// ToolUseEvent is a tool invocation emitted by the CLI's assistant stream.
type ToolUseEvent struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input,omitempty"`
}

// ToolResultEvent is a tool result echoed back through the CLI stream.
type ToolResultEvent struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Interaction kinds detected in the stream.
const (
	InteractionAskUser      = "ask_user_question"
	InteractionPlanApproval = "plan_approval"
)

// InteractionOption is one selectable answer for an AskUserQuestion.
type InteractionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// DetectedInteraction is a pending question left open by the CLI run: the
// highest-indexed tool_use with no matching tool_result.
type DetectedInteraction struct {
	Type        string              `json:"type"` // InteractionAskUser / InteractionPlanApproval
	ToolCallID  string              `json:"tool_call_id"`
	Question    string              `json:"question"`
	Options     []InteractionOption `json:"options,omitempty"`
	MultiSelect bool                `json:"multi_select,omitempty"`
}

// SandboxContext describes the container a run may execute in.
type SandboxContext struct {
	Enabled   bool
	Container string
	Workdir   string
	Env       map[string]string
}

// ToolResultPayload resumes an interrupted run with the user's answer.
type ToolResultPayload struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
}

// RunRequest describes one CLI invocation.
type RunRequest struct {
	SessionID    string // gateway session id
	SessionKey   string
	SessionFile  string // transcript path
	WorkspaceDir string
	Prompt       string
	SystemPrompt string
	Provider     string
	Model        string
	TimeoutMS    int
	RunID        string
	Images       []string
	CLISessionID string // set for resume
	ToolResult   *ToolResultPayload
	Sandbox      *SandboxContext
}

// Timeout returns the request timeout as a duration, with a floor.
func (r *RunRequest) Timeout() time.Duration {
	if r.TimeoutMS <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(r.TimeoutMS) * time.Millisecond
}

// RunResult is the parsed outcome of a CLI invocation.
type RunResult struct {
	Text         string
	CLISessionID string
	Usage        Usage
	ToolUses     []ToolUseEvent
	ToolResults  []ToolResultEvent
	Interaction  *DetectedInteraction
	Stderr       string
}
