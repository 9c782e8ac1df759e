package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/openclaw/internal/gateway"
	"github.com/nextlevelbuilder/openclaw/internal/sessions"
	"github.com/nextlevelbuilder/openclaw/internal/store"
	"github.com/nextlevelbuilder/openclaw/internal/subagent"
)

// ============================================================
// sessions_spawn
// ============================================================

type SessionsSpawnTool struct {
	mgr      *subagent.Manager
	gw       *gateway.Client
	sessions *store.SessionStore
}

func NewSessionsSpawnTool(mgr *subagent.Manager, gw *gateway.Client, sessions *store.SessionStore) *SessionsSpawnTool {
	return &SessionsSpawnTool{mgr: mgr, gw: gw, sessions: sessions}
}

func (t *SessionsSpawnTool) Name() string { return "sessions_spawn" }
func (t *SessionsSpawnTool) Description() string {
	return "Spawn a subagent in a new child session to work on a task in the background. Returns the runId and child session key, or an error with removable runIds when capacity is exhausted."
}

func (t *SessionsSpawnTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task": map[string]interface{}{
				"type":        "string",
				"description": "Task for the subagent to perform",
			},
			"label": map[string]interface{}{
				"type":        "string",
				"description": "Short human-readable label for the child session",
			},
			"planMode": map[string]interface{}{
				"type":        "boolean",
				"description": "Have the subagent produce a plan and wait for approval before executing",
			},
			"cleanup": map[string]interface{}{
				"type":        "string",
				"description": "What to do with the child session after announcement: keep or delete (default keep)",
			},
			"model": map[string]interface{}{
				"type":        "string",
				"description": "Model override for the child run",
			},
		},
		"required": []string{"task"},
	}
}

func (t *SessionsSpawnTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	requesterKey := SessionKeyFromCtx(ctx)
	if requesterKey == "" {
		return ErrorResult("no session context")
	}

	task, _ := args["task"].(string)
	if strings.TrimSpace(task) == "" {
		return ErrorResult("task is required")
	}
	label, _ := args["label"].(string)
	planMode, _ := args["planMode"].(bool)
	cleanup, _ := args["cleanup"].(string)
	model, _ := args["model"].(string)
	if cleanup != subagent.CleanupDelete {
		cleanup = subagent.CleanupKeep
	}

	decision := t.mgr.ReserveSlot(requesterKey)
	if !decision.Allowed {
		out, _ := json.Marshal(map[string]interface{}{
			"error":       fmt.Sprintf("cannot spawn subagent: %s limit reached", decision.Reason),
			"suggestions": decision.Suggestions,
		})
		return ErrorResult(string(out))
	}

	runID := uuid.NewString()
	slug := sessions.Slug(firstNonEmpty(label, task), 32) + "-" + runID[:8]
	childKey := sessions.BuildSubagentSessionKey(sessions.AgentID(requesterKey), slug)

	message := task
	if planMode {
		message = "Produce a detailed plan for the following task. Do not execute anything yet; finish with a plan summary.\n\n" + task
	}

	if t.gw != nil {
		err := t.gw.Agent(ctx, gateway.AgentParams{
			SessionKey:     childKey,
			Message:        message,
			Deliver:        false,
			IdempotencyKey: "subagent-spawn:" + runID,
		})
		if err != nil {
			t.mgr.ReleaseReservation(decision.ReserveID)
			return ErrorResult("spawn failed: " + err.Error()).WithError(err)
		}
	}

	sctx := subagent.Context{
		RunID:               runID,
		ChildSessionKey:     childKey,
		RequesterSessionKey: requesterKey,
		Task:                task,
		Label:               label,
		Model:               model,
		PlanMode:            planMode,
		Cleanup:             cleanup,
		Origin:              OriginFromCtx(ctx),
	}
	if err := t.mgr.Register(sctx, decision.ReserveID); err != nil {
		return ErrorResult("spawn failed: " + err.Error()).WithError(err)
	}

	if t.sessions != nil {
		t.sessions.Update(childKey, func(s *store.SessionMeta) {
			s.SpawnedBy = requesterKey
			if label != "" {
				s.Label = label
			}
		})
	}

	out, _ := json.Marshal(map[string]string{
		"runId":           runID,
		"childSessionKey": childKey,
	})
	return SilentResult(string(out))
}

// ============================================================
// sessions_subagent_remove
// ============================================================

type SessionsSubagentRemoveTool struct {
	mgr *subagent.Manager
}

func NewSessionsSubagentRemoveTool(mgr *subagent.Manager) *SessionsSubagentRemoveTool {
	return &SessionsSubagentRemoveTool{mgr: mgr}
}

func (t *SessionsSubagentRemoveTool) Name() string { return "sessions_subagent_remove" }
func (t *SessionsSubagentRemoveTool) Description() string {
	return "Remove a completed subagent record to free a capacity slot. Running subagents cannot be removed."
}

func (t *SessionsSubagentRemoveTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"runId": map[string]interface{}{
				"type":        "string",
				"description": "Run id of the completed subagent to remove",
			},
		},
		"required": []string{"runId"},
	}
}

func (t *SessionsSubagentRemoveTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	runID, _ := args["runId"].(string)
	if runID == "" {
		return ErrorResult(`{"status":"error","error":"runId is required"}`)
	}
	requesterKey := SessionKeyFromCtx(ctx)

	err := t.mgr.Remove(runID, requesterKey)
	switch {
	case err == nil:
		return SilentResult(`{"status":"ok","message":"subagent removed"}`)
	case errors.Is(err, subagent.ErrStillRunning):
		return ErrorResult(`{"status":"error","error":"subagent is still running"}`)
	case errors.Is(err, subagent.ErrPermissionDenied):
		return ErrorResult(`{"status":"error","error":"permission denied"}`)
	case errors.Is(err, subagent.ErrNotFound):
		return ErrorResult(`{"status":"error","error":"subagent not found"}`)
	default:
		return ErrorResult(`{"status":"error","error":"` + err.Error() + `"}`).WithError(err)
	}
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}
