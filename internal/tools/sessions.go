package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nextlevelbuilder/openclaw/internal/gateway"
	"github.com/nextlevelbuilder/openclaw/internal/sessions"
	"github.com/nextlevelbuilder/openclaw/internal/store"
	"github.com/nextlevelbuilder/openclaw/internal/subagent"
)

// ============================================================
// sessions_list
// ============================================================

type SessionsListTool struct {
	sessions *store.SessionStore
	mgr      *subagent.Manager
}

func NewSessionsListTool(sessions *store.SessionStore, mgr *subagent.Manager) *SessionsListTool {
	return &SessionsListTool{sessions: sessions, mgr: mgr}
}

func (t *SessionsListTool) Name() string { return "sessions_list" }
func (t *SessionsListTool) Description() string {
	return "List sessions belonging to this agent, including spawned subagent sessions."
}

func (t *SessionsListTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

type sessionListing struct {
	Key       string `json:"key"`
	Label     string `json:"label,omitempty"`
	SpawnedBy string `json:"spawnedBy,omitempty"`
	Updated   string `json:"updated,omitempty"`
}

func (t *SessionsListTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.sessions == nil {
		return ErrorResult("session store not available")
	}
	agentID := sessions.AgentID(SessionKeyFromCtx(ctx))

	all := t.sessions.List()
	var out []sessionListing
	for _, s := range all {
		if agentID != "" && sessions.AgentID(s.Key) != agentID {
			continue
		}
		l := sessionListing{Key: s.Key, Label: s.Label, SpawnedBy: s.SpawnedBy}
		if !s.Updated.IsZero() {
			l.Updated = s.Updated.UTC().Format(time.RFC3339)
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })

	payload, _ := json.Marshal(out)
	text := string(payload)
	if t.mgr != nil {
		if status := t.mgr.StatusText(SessionKeyFromCtx(ctx)); status != "" {
			text += "\n\n" + status
		}
	}
	return SilentResult(text)
}

// ============================================================
// sessions_send
// ============================================================

type SessionsSendTool struct {
	sessions *store.SessionStore
	gw       *gateway.Client
}

func NewSessionsSendTool(sessions *store.SessionStore, gw *gateway.Client) *SessionsSendTool {
	return &SessionsSendTool{sessions: sessions, gw: gw}
}

func (t *SessionsSendTool) Name() string { return "sessions_send" }
func (t *SessionsSendTool) Description() string {
	return "Send a message into another session. Use sessionKey or label to identify the target."
}

func (t *SessionsSendTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"sessionKey": map[string]interface{}{
				"type":        "string",
				"description": "Target session key",
			},
			"label": map[string]interface{}{
				"type":        "string",
				"description": "Target session label (alternative to sessionKey)",
			},
			"message": map[string]interface{}{
				"type":        "string",
				"description": "Message to send",
			},
		},
		"required": []string{"message"},
	}
}

func (t *SessionsSendTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.gw == nil {
		return ErrorResult("gateway not available")
	}

	sessionKey, _ := args["sessionKey"].(string)
	label, _ := args["label"].(string)
	message, _ := args["message"].(string)

	if strings.TrimSpace(message) == "" {
		return ErrorResult("message is required")
	}
	if sessionKey == "" && label == "" {
		return ErrorResult("either sessionKey or label is required")
	}

	agentID := sessions.AgentID(SessionKeyFromCtx(ctx))

	if sessionKey == "" {
		if t.sessions == nil {
			return ErrorResult("session store not available")
		}
		for _, s := range t.sessions.List() {
			if s.Label == label {
				sessionKey = s.Key
				break
			}
		}
		if sessionKey == "" {
			return ErrorResult(fmt.Sprintf("no session found with label: %s", label))
		}
	}

	// Target must belong to the same agent.
	if agentID != "" && sessions.AgentID(sessionKey) != agentID {
		return ErrorResult("access denied: target session belongs to a different agent")
	}

	err := t.gw.Agent(ctx, gateway.AgentParams{
		SessionKey: sessionKey,
		Message:    message,
		Deliver:    false,
	})
	if err != nil {
		return ErrorResult("send failed: " + err.Error()).WithError(err)
	}
	return SilentResult(fmt.Sprintf(`{"status":"accepted","sessionKey":"%s"}`, sessionKey))
}
